package fw

import (
	"testing"

	"github.com/nbdd0121/muntjac-soc/internal/hw"
)

// encodeStore builds an S-type store encoding with zero immediate.
func encodeStore(funct3, rs1, rs2 uint32) uint32 {
	return rs2<<20 | rs1<<15 | funct3<<12 | 0b0100011
}

// encodeLoad builds an I-type load encoding with zero immediate.
func encodeLoad(funct3, rs1, rd uint32) uint32 {
	return rs1<<15 | funct3<<12 | rd<<7 | 0b0000011
}

func TestMisalignedStoreWord(t *testing.T) {
	m := newTestMachine(t, 1)
	ctx := supervisorContext(testRAMBase + 0x1000)

	// sw x5, 0(x6) with x5=0xDEADBEEF and x6 pointing three bytes past
	// a word boundary.
	m.bus.Write32(testRAMBase+0x1000, encodeStore(0b010, 6, 5))
	ctx.Registers[5] = 0xdead_beef
	ctx.Registers[6] = testRAMBase + 0x2003
	m.harts[0].Mtval = testRAMBase + 0x2003

	m.fw.HandleTrap(0, hw.CauseStoreAddrMisaligned, ctx)

	want := []byte{0xef, 0xbe, 0xad, 0xde}
	for i, b := range want {
		got, _ := m.bus.Read8(testRAMBase + 0x2003 + uint64(i))
		if got != b {
			t.Errorf("byte %d: got %#x, want %#x", i, got, b)
		}
	}
	if ctx.PC != testRAMBase+0x1004 {
		t.Errorf("PC: got %#x, want %#x", ctx.PC, testRAMBase+0x1004)
	}
}

// TestMisalignRoundTrip stores then loads every supported width at a
// misaligned address and checks the register value survives.
func TestMisalignRoundTrip(t *testing.T) {
	cases := []struct {
		name         string
		storeF3      uint32
		loadF3       uint32
		value        uint64
		wantLoaded   uint64
	}{
		{"sh/lh", 0b001, 0b001, 0xffff_ffff_ffff_8001, 0xffff_ffff_ffff_8001},
		{"sh/lhu", 0b001, 0b101, 0x8001, 0x8001},
		{"sw/lw", 0b010, 0b010, 0xffff_ffff_8000_0001, 0xffff_ffff_8000_0001},
		{"sw/lwu", 0b010, 0b110, 0x8000_0001, 0x8000_0001},
		{"sd/ld", 0b011, 0b011, 0x0123_4567_89ab_cdef, 0x0123_4567_89ab_cdef},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMachine(t, 1)
			addr := uint64(testRAMBase + 0x2005)

			// Store
			ctx := supervisorContext(testRAMBase + 0x1000)
			m.bus.Write32(testRAMBase+0x1000, encodeStore(tc.storeF3, 6, 5))
			ctx.Registers[5] = tc.value
			ctx.Registers[6] = addr
			m.harts[0].Mtval = addr
			m.fw.HandleTrap(0, hw.CauseStoreAddrMisaligned, ctx)
			if ctx.PC != testRAMBase+0x1004 {
				t.Fatalf("store did not complete, PC=%#x", ctx.PC)
			}

			// Load back into a different register.
			ctx = supervisorContext(testRAMBase + 0x1100)
			m.bus.Write32(testRAMBase+0x1100, encodeLoad(tc.loadF3, 6, 7))
			ctx.Registers[6] = addr
			m.harts[0].Mtval = addr
			m.fw.HandleTrap(0, hw.CauseLoadAddrMisaligned, ctx)

			if got := ctx.Registers[7]; got != tc.wantLoaded {
				t.Errorf("loaded value: got %#x, want %#x", got, tc.wantLoaded)
			}
			if ctx.PC != testRAMBase+0x1104 {
				t.Errorf("PC: got %#x", ctx.PC)
			}
		})
	}
}

// TestMisalignCompressed checks a compressed store is emulated and PC
// advances by 2.
func TestMisalignCompressed(t *testing.T) {
	m := newTestMachine(t, 1)
	ctx := supervisorContext(testRAMBase + 0x1000)

	// c.sw x9, 0(x8): quadrant 0, funct3 110, rs1'=x8, rs2'=x9.
	cInsn := uint16(0b110<<13 | 0<<10 | 1<<2 | 0b00)
	m.bus.Write16(testRAMBase+0x1000, cInsn)

	addr := uint64(testRAMBase + 0x2001)
	ctx.Registers[9] = 0x1122_3344
	ctx.Registers[8] = addr
	m.harts[0].Mtval = addr

	m.fw.HandleTrap(0, hw.CauseStoreAddrMisaligned, ctx)

	got, _ := m.bus.Read8(testRAMBase + 0x2001)
	if got != 0x44 {
		t.Errorf("first byte: got %#x", got)
	}
	if ctx.PC != testRAMBase+0x1002 {
		t.Errorf("PC: got %#x, want +2", ctx.PC)
	}
}

// TestMisalignUnrecognized delegates the misalign when the faulting
// instruction is not a load/store the firmware understands.
func TestMisalignUnrecognized(t *testing.T) {
	m := newTestMachine(t, 1)
	ctx := supervisorContext(testRAMBase + 0x1000)
	m.harts[0].Stvec = testRAMBase + 0x3000

	// An ALU instruction cannot have caused a misalign; delegate.
	m.bus.Write32(testRAMBase+0x1000, 0x00b50633) // add a2, a0, a1
	addr := uint64(testRAMBase + 0x2001)
	m.harts[0].Mtval = addr

	m.fw.HandleTrap(0, hw.CauseLoadAddrMisaligned, ctx)

	if m.harts[0].Scause != hw.CauseLoadAddrMisaligned {
		t.Errorf("scause: got %d", m.harts[0].Scause)
	}
	if m.harts[0].Stval != addr {
		t.Errorf("stval: got %#x", m.harts[0].Stval)
	}
	if ctx.PC != testRAMBase+0x3000 {
		t.Errorf("PC: got %#x, want stvec", ctx.PC)
	}
}
