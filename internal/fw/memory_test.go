package fw

import (
	"testing"

	"github.com/nbdd0121/muntjac-soc/internal/hw"
)

// buildPageTable installs a single Sv39 page table in RAM mapping
// VA 0x1000 -> PA (testRAMBase + 0x2000) read/write and
// VA 0x3000 -> PA (testRAMBase + 0x4000) execute-only,
// and returns the satp value for it.
func buildPageTable(t *testing.T, m *testMachine) uint64 {
	t.Helper()

	root := uint64(testRAMBase + 0x100000)
	l1 := root + 0x1000
	l0 := root + 0x2000

	nonLeaf := func(next uint64) uint64 {
		return (next>>12)<<10 | hw.PteV
	}
	leaf := func(pa uint64, perms uint64) uint64 {
		return (pa>>12)<<10 | perms | hw.PteA | hw.PteD | hw.PteV
	}

	// VPN[2]=0, VPN[1]=0 for low addresses.
	m.bus.Write64(root+0*8, nonLeaf(l1))
	m.bus.Write64(l1+0*8, nonLeaf(l0))
	m.bus.Write64(l0+1*8, leaf(testRAMBase+0x2000, hw.PteR|hw.PteW))
	m.bus.Write64(l0+3*8, leaf(testRAMBase+0x4000, hw.PteX))

	return uint64(hw.SatpModeSv39)<<60 | root>>12
}

func TestSafeLoadStoreTranslated(t *testing.T) {
	m := newTestMachine(t, 1)
	h := m.harts[0]
	ctx := supervisorContext(0)
	h.Satp = buildPageTable(t, m)

	if trap := m.fw.storeU32(h, ctx, 0x1000, 0xdead_beef); trap != nil {
		t.Fatalf("store faulted: %v", trap)
	}
	// The store landed at the translated physical address.
	if got, _ := m.bus.Read32(testRAMBase + 0x2000); got != 0xdead_beef {
		t.Fatalf("store landed at wrong place: got %#x", got)
	}
	val, trap := m.fw.loadU32(h, ctx, 0x1000)
	if trap != nil {
		t.Fatalf("load faulted: %v", trap)
	}
	if val != 0xdead_beef {
		t.Fatalf("load: got %#x", val)
	}

	if trap := m.fw.storeU64(h, ctx, 0x1008, 0x0123_4567_89ab_cdef); trap != nil {
		t.Fatalf("store64 faulted: %v", trap)
	}
	v64, trap := m.fw.loadU64(h, ctx, 0x1008)
	if trap != nil || v64 != 0x0123_4567_89ab_cdef {
		t.Fatalf("load64: got %#x trap %v", v64, trap)
	}
}

func TestSafeLoadFaults(t *testing.T) {
	m := newTestMachine(t, 1)
	h := m.harts[0]
	ctx := supervisorContext(0)
	h.Satp = buildPageTable(t, m)

	// Unmapped address: load page fault with the address as tval.
	if _, trap := m.fw.loadU32(h, ctx, 0x5000); trap == nil {
		t.Fatal("load of unmapped address did not fault")
	} else if trap.Cause != hw.CauseLoadPageFault || trap.Tval != 0x5000 {
		t.Fatalf("load fault: got %v", trap)
	}

	// Store to a read-write page is fine, store to execute-only faults.
	if trap := m.fw.storeU32(h, ctx, 0x3000, 1); trap == nil {
		t.Fatal("store to execute-only page did not fault")
	} else if trap.Cause != hw.CauseStorePageFault {
		t.Fatalf("store fault: got %v", trap)
	}

	// A plain load from an execute-only page faults, but the
	// instruction-fetch probe succeeds (MXR semantics).
	if _, trap := m.fw.loadU32(h, ctx, 0x3000); trap == nil {
		t.Fatal("data load from execute-only page did not fault")
	}
	if _, trap := m.fw.loadU16Exec(h, ctx, 0x3000); trap != nil {
		t.Fatalf("instruction probe of execute-only page faulted: %v", trap)
	}
}

func TestSafeBufferCrossesPages(t *testing.T) {
	m := newTestMachine(t, 1)
	h := m.harts[0]
	ctx := supervisorContext(0)
	h.Satp = buildPageTable(t, m)

	// Fill the mapped page's tail, then read a buffer that runs off its
	// end: the fault reports the first failing byte.
	want := []byte{1, 2, 3, 4}
	if trap := m.fw.storeBytes(h, ctx, 0x1ffc, want); trap != nil {
		t.Fatalf("storeBytes faulted: %v", trap)
	}
	got := make([]byte, 4)
	if trap := m.fw.loadBytes(h, ctx, got, 0x1ffc); trap != nil {
		t.Fatalf("loadBytes faulted: %v", trap)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("buffer round-trip: got %v, want %v", got, want)
		}
	}

	buf := make([]byte, 8)
	trap := m.fw.loadBytes(h, ctx, buf, 0x1ffc)
	if trap == nil {
		t.Fatal("buffer read across unmapped page did not fault")
	}
	if trap.Cause != hw.CauseLoadPageFault || trap.Tval != 0x2000 {
		t.Fatalf("buffer fault: got %v, want cause 13 tval 0x2000", trap)
	}
}

func TestSafeAccessBare(t *testing.T) {
	m := newTestMachine(t, 1)
	h := m.harts[0]
	ctx := supervisorContext(0)

	// With satp off the address passes through untranslated.
	if trap := m.fw.storeU32(h, ctx, testRAMBase+0x10, 42); trap != nil {
		t.Fatalf("bare store faulted: %v", trap)
	}
	v, trap := m.fw.loadU32(h, ctx, testRAMBase+0x10)
	if trap != nil || v != 42 {
		t.Fatalf("bare load: got %d trap %v", v, trap)
	}

	// A bus hole is an access fault.
	if _, trap := m.fw.loadU32(h, ctx, 0x4000_0000); trap == nil {
		t.Fatal("load from bus hole did not fault")
	} else if trap.Cause != hw.CauseLoadAccessFault {
		t.Fatalf("bus hole fault: got %v", trap)
	}
}
