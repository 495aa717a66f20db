package fw

import "testing"

func TestHartMaskLaws(t *testing.T) {
	// A zero mask never selects anything.
	zero := HartMask{Mask: 0, Base: 0}
	for h := uint64(0); h < 128; h++ {
		if zero.IsSet(h) {
			t.Fatalf("zero mask selected hart %d", h)
		}
	}

	// Within the window, bit i selects hart base+i.
	m := HartMask{Mask: 0b1011, Base: 2}
	cases := map[uint64]bool{
		0: false, 1: false,
		2: true, 3: true, 4: false, 5: true,
		6: false, 66: false,
	}
	for h, want := range cases {
		if got := m.IsSet(h); got != want {
			t.Errorf("IsSet(%d): got %v, want %v", h, got, want)
		}
	}

	// Below base and at or beyond base+64 is never selected.
	all := HartMask{Mask: ^uint64(0), Base: 8}
	if all.IsSet(7) {
		t.Error("selected hart below base")
	}
	if !all.IsSet(8) || !all.IsSet(71) {
		t.Error("missed hart inside window")
	}
	if all.IsSet(72) {
		t.Error("selected hart beyond 64-bit window")
	}
}

func TestHartMaskNormalize(t *testing.T) {
	if got := AllHarts.Normalize(); got != (1<<MaxHarts)-1 {
		t.Errorf("all-harts normalize: got %#x", got)
	}
	m := HartMask{Mask: 0b101, Base: 1}
	// Selects harts 1 and 3.
	if got := m.Normalize(); got != 0b1010 {
		t.Errorf("normalize: got %#b, want 0b1010", got)
	}
}
