package alloc

import (
	"testing"
	"unsafe"
)

func TestScopedAllocation(t *testing.T) {
	a := &Arena{}
	mem := make([]byte, 4096)

	err := a.WithMemory(mem, func() error {
		p := a.Alloc(100, 8)
		if p == nil {
			t.Fatal("allocation failed")
		}
		if len(p) != 100 {
			t.Fatalf("allocation size: got %d", len(p))
		}
		q := a.Alloc(100, 8)
		if &p[0] == &q[0] {
			t.Fatal("allocations alias")
		}
		a.Free(p)
		a.Free(q)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestScopedAlignment(t *testing.T) {
	a := &Arena{}
	mem := make([]byte, 4096)

	a.WithMemory(mem, func() error {
		odd := a.Alloc(3, 1)
		p := a.Alloc(8, 8)
		// The pointer must honor the requested alignment even after an
		// odd-sized allocation.
		if got := uintptr(unsafe.Pointer(unsafe.SliceData(p))) % 8; got != 0 {
			t.Errorf("misaligned allocation: %d mod 8", got)
		}
		a.Free(nil) // no-op
		a.Free(odd)
		a.Free(p)
		return nil
	})
}

func TestScopedExhaustion(t *testing.T) {
	a := &Arena{}
	mem := make([]byte, 128)

	a.WithMemory(mem, func() error {
		p := a.Alloc(100, 1)
		if p == nil {
			t.Fatal("first allocation failed")
		}
		if q := a.Alloc(100, 1); q != nil {
			t.Error("overcommitted allocation succeeded")
		}
		a.Free(p)
		return nil
	})
}

func TestNestedScopes(t *testing.T) {
	a := &Arena{}
	mem := make([]byte, 4096)

	a.WithMemory(mem, func() error {
		outer := a.Alloc(64, 8)
		err := a.Scoped(func() error {
			inner := a.Alloc(64, 8)
			if inner == nil {
				t.Fatal("nested allocation failed")
			}
			a.Free(inner)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		a.Free(outer)
		return nil
	})
}

func TestLeakPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("leaked allocation did not panic at scope end")
		}
	}()

	a := &Arena{}
	a.WithMemory(make([]byte, 256), func() error {
		a.Alloc(16, 1) // never freed
		return nil
	})
}

func TestAllocOutsideScopePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("allocation without a scope did not panic")
		}
	}()
	a := &Arena{}
	a.Alloc(1, 1)
}
