// Package alloc implements the scoped arena allocator used while loading
// the kernel image. Scopes form an explicit stack of arena descriptors over
// a caller-provided memory region; allocation within a scope is linear and
// nothing is ever reclaimed early. Each descriptor counts outstanding
// allocations, and popping a scope with a nonzero count is a hard contract
// violation that panics.
package alloc

import (
	"fmt"
	"sync"
	"unsafe"
)

type scope struct {
	buf         []byte
	base        uintptr
	ptr         int
	outstanding int
}

// Arena is a stack of allocation scopes.
type Arena struct {
	mu     sync.Mutex
	scopes []*scope
}

// WithMemory pushes a scope over mem, runs f, and pops the scope. It panics
// if any allocation made inside the scope is still outstanding when f
// returns.
func (a *Arena) WithMemory(mem []byte, f func() error) error {
	a.mu.Lock()
	s := &scope{buf: mem, base: uintptr(unsafe.Pointer(unsafe.SliceData(mem)))}
	a.scopes = append(a.scopes, s)
	a.mu.Unlock()

	err := f()

	a.mu.Lock()
	a.scopes = a.scopes[:len(a.scopes)-1]
	leaked := s.outstanding
	a.mu.Unlock()

	if leaked != 0 {
		panic(fmt.Sprintf("alloc: %d allocations leaked from scope", leaked))
	}
	return err
}

// Scoped pushes a nested scope over the current scope's remaining space.
func (a *Arena) Scoped(f func() error) error {
	a.mu.Lock()
	if len(a.scopes) == 0 {
		a.mu.Unlock()
		panic("alloc: no allocation scope active")
	}
	cur := a.scopes[len(a.scopes)-1]
	rest := cur.buf[cur.ptr:]
	a.mu.Unlock()
	return a.WithMemory(rest, f)
}

// Alloc carves size bytes out of the current scope, aligned to align. It
// returns nil when the scope is exhausted.
func (a *Arena) Alloc(size, align int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.scopes) == 0 {
		panic("alloc: no allocation scope active")
	}
	s := a.scopes[len(a.scopes)-1]

	off := (int(s.base)+s.ptr+align-1)&^(align-1) - int(s.base)
	if off+size > len(s.buf) {
		return nil
	}
	s.ptr = off + size
	s.outstanding++
	return s.buf[off : off+size : off+size]
}

// Free returns an allocation to its owning scope. The memory itself is not
// reclaimed until the scope pops; this only maintains the leak count.
func (a *Arena) Free(p []byte) {
	if p == nil {
		return
	}
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(p)))

	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.scopes) - 1; i >= 0; i-- {
		s := a.scopes[i]
		if addr >= s.base && addr < s.base+uintptr(len(s.buf)) {
			s.outstanding--
			return
		}
	}
}

// Remaining reports the free space left in the current scope.
func (a *Arena) Remaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.scopes) == 0 {
		return 0
	}
	s := a.scopes[len(a.scopes)-1]
	return len(s.buf) - s.ptr
}
