package fdt

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestBuilderHeader(t *testing.T) {
	b := NewBuilder()
	b.BeginNode("")
	b.PropString("compatible", "test")
	b.EndNode()
	blob := b.Build()

	if len(blob) < 40 {
		t.Fatal("blob shorter than header")
	}
	if magic := binary.BigEndian.Uint32(blob); magic != Magic {
		t.Errorf("magic: got %#x, want %#x", magic, uint32(Magic))
	}
	if total := binary.BigEndian.Uint32(blob[4:]); total != uint32(len(blob)) {
		t.Errorf("totalsize: got %d, want %d", total, len(blob))
	}
	if version := binary.BigEndian.Uint32(blob[20:]); version != 17 {
		t.Errorf("version: got %d", version)
	}

	// The structure block must be 4-byte aligned and end with FDT_END.
	structOff := binary.BigEndian.Uint32(blob[8:])
	structSize := binary.BigEndian.Uint32(blob[36:])
	if structOff%4 != 0 || structSize%4 != 0 {
		t.Error("structure block misaligned")
	}
	end := binary.BigEndian.Uint32(blob[structOff+structSize-4:])
	if end != 9 {
		t.Errorf("last token: got %d, want FDT_END", end)
	}
}

func TestPlatformTree(t *testing.T) {
	blob := BuildPlatform(PlatformSpec{
		Model:        "muntjac,test",
		HartCount:    2,
		ISA:          "rv64imafdc",
		MMU:          "riscv,sv39",
		TimebaseFreq: 1_000_000,
		MemoryBase:   0x8000_0000,
		MemorySize:   128 << 20,
		CLINTBase:    0x0200_0000,
		CLINTSize:    0xc0000,
		UARTBase:     0x1000_0000,
		UARTSize:     0x1000,
		UARTClock:    18_432_000,
		Bootargs:     "console=ttyS0",
	})

	if binary.BigEndian.Uint32(blob) != Magic {
		t.Fatal("bad magic")
	}

	// Spot-check that the key nodes and strings landed in the blob.
	for _, want := range []string{
		"chosen", "memory@80000000", "cpus", "cpu@0", "cpu@1",
		"clint@2000000", "serial@10000000", "riscv,isa", "ns16550a",
		"console=ttyS0", "interrupt-controller",
	} {
		if !bytes.Contains(blob, append([]byte(want), 0)) {
			t.Errorf("blob missing %q", want)
		}
	}

	// A single-hart tree is smaller than a two-hart tree.
	single := BuildPlatform(PlatformSpec{
		HartCount: 1, MemoryBase: 0x8000_0000, MemorySize: 1 << 20,
	})
	if len(single) >= len(blob) {
		t.Error("hart count does not affect tree size")
	}
}
