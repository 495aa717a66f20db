package insn

import "testing"

func TestDecodeLoadsStores(t *testing.T) {
	cases := []struct {
		name string
		bits uint32
		want Op
	}{
		// lh x7, 8(x6)
		{"lh", 8<<20 | 6<<15 | 0b001<<12 | 7<<7 | 0b0000011,
			Op{Kind: KindLh, Rd: 7, Rs1: 6, Imm: 8}},
		// lwu x3, -4(x2)
		{"lwu", 0xffc<<20 | 2<<15 | 0b110<<12 | 3<<7 | 0b0000011,
			Op{Kind: KindLwu, Rd: 3, Rs1: 2, Imm: -4}},
		// sd x5, 16(x10)
		{"sd", 0<<25 | 5<<20 | 10<<15 | 0b011<<12 | 16<<7 | 0b0100011,
			Op{Kind: KindSd, Rs1: 10, Rs2: 5, Imm: 16}},
		// sw x5, 0(x6)
		{"sw", 5<<20 | 6<<15 | 0b010<<12 | 0b0100011,
			Op{Kind: KindSw, Rs1: 6, Rs2: 5}},
		// flw f1, 0(x5)
		{"flw", 5<<15 | 0b010<<12 | 1<<7 | 0b0000111,
			Op{Kind: KindFlw, Rd: 1, Rs1: 5}},
		// fsd f2, 8(x5)
		{"fsd", 2<<20 | 5<<15 | 0b011<<12 | 8<<7 | 0b0100111,
			Op{Kind: KindFsd, Rs1: 5, Rs2: 2, Imm: 8}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Decode(tc.bits); got != tc.want {
				t.Errorf("Decode(%#x) = %+v, want %+v", tc.bits, got, tc.want)
			}
		})
	}
}

func TestDecodeNegativeStoreImm(t *testing.T) {
	// sh x1, -2(x2): imm = 0xffe -> imm[11:5]=0x7f, imm[4:0]=0x1e
	bits := uint32(0x7f)<<25 | 1<<20 | 2<<15 | 0b001<<12 | 0x1e<<7 | 0b0100011
	got := Decode(bits)
	if got.Kind != KindSh || got.Imm != -2 {
		t.Errorf("got %+v, want sh with imm -2", got)
	}
}

func TestDecodeCSR(t *testing.T) {
	// csrrw x5, 0x001, x6
	bits := uint32(0x001)<<20 | 6<<15 | 0b001<<12 | 5<<7 | 0b1110011
	got := Decode(bits)
	if got.Kind != KindCsrrw || got.Rd != 5 || got.Rs1 != 6 || got.CSR != 0x001 {
		t.Errorf("csrrw: got %+v", got)
	}

	// csrrci x0, 0x003, 0b10101 (immediate form carries the value in rs1)
	bits = uint32(0x003)<<20 | 0b10101<<15 | 0b111<<12 | 0b1110011
	got = Decode(bits)
	if got.Kind != KindCsrrci || got.Rs1 != 0b10101 || got.CSR != 0x003 {
		t.Errorf("csrrci: got %+v", got)
	}
}

func TestDecodeFP(t *testing.T) {
	cases := []struct {
		name string
		bits uint32
		kind Kind
	}{
		{"fadd.s", 0b0000000<<25 | 3<<20 | 2<<15 | 0b000<<12 | 1<<7 | 0b1010011, KindFaddS},
		{"fadd.d", 0b0000001<<25 | 3<<20 | 2<<15 | 0b000<<12 | 1<<7 | 0b1010011, KindFaddD},
		{"fsqrt.s", 0b0101100<<25 | 0<<20 | 2<<15 | 0b111<<12 | 1<<7 | 0b1010011, KindFsqrtS},
		{"fsgnjx.d", 0b0010001<<25 | 3<<20 | 2<<15 | 0b010<<12 | 1<<7 | 0b1010011, KindFsgnjxD},
		{"fcvt.s.d", 0b0100000<<25 | 1<<20 | 2<<15 | 0b111<<12 | 1<<7 | 0b1010011, KindFcvtSD},
		{"fcvt.d.s", 0b0100001<<25 | 0<<20 | 2<<15 | 0b000<<12 | 1<<7 | 0b1010011, KindFcvtDS},
		{"fcvt.lu.s", 0b1100000<<25 | 3<<20 | 2<<15 | 0b001<<12 | 1<<7 | 0b1010011, KindFcvtLuS},
		{"fmv.x.d", 0b1110001<<25 | 0<<20 | 2<<15 | 0b000<<12 | 1<<7 | 0b1010011, KindFmvXD},
		{"fclass.s", 0b1110000<<25 | 0<<20 | 2<<15 | 0b001<<12 | 1<<7 | 0b1010011, KindFclassS},
		{"feq.d", 0b1010001<<25 | 3<<20 | 2<<15 | 0b010<<12 | 1<<7 | 0b1010011, KindFeqD},
		{"fmadd.s", 4<<27 | 0b00<<25 | 3<<20 | 2<<15 | 0b000<<12 | 1<<7 | 0b1000011, KindFmaddS},
		{"fnmadd.d", 4<<27 | 0b01<<25 | 3<<20 | 2<<15 | 0b000<<12 | 1<<7 | 0b1001111, KindFnmaddD},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Decode(tc.bits)
			if got.Kind != tc.kind {
				t.Errorf("Decode(%#x).Kind = %v, want %v", tc.bits, got.Kind, tc.kind)
			}
		})
	}
}

func TestDecodeIllegal(t *testing.T) {
	for _, bits := range []uint32{
		0x00000000,
		0x0ff0000f, // fence with nonzero fields, not emulated
		0xffffffff,
		0x00000033, // add: ALU ops never reach the emulator
		0x00000073, // ecall: handled by the fast path, not the decoder
	} {
		if got := Decode(bits); got.Kind != KindIllegal {
			t.Errorf("Decode(%#x) = %+v, want illegal", bits, got)
		}
	}
}

func TestDecodeCompressed(t *testing.T) {
	// c.sw x9, 0(x8)
	got := DecodeCompressed(0b110<<13 | 1<<2)
	if got.Kind != KindSw || got.Rs1 != 8 || got.Rs2 != 9 || got.Imm != 0 {
		t.Errorf("c.sw: got %+v", got)
	}

	// c.ld x10, 16(x11): funct3=011, rs1'=x11 (3), rd'=x10 (2),
	// uimm[5:3]=2 in bits[12:10]
	bits := uint16(0b011<<13 | 2<<10 | 3<<7 | 2<<2)
	got = DecodeCompressed(bits)
	if got.Kind != KindLd || got.Rd != 10 || got.Rs1 != 11 || got.Imm != 16 {
		t.Errorf("c.ld: got %+v", got)
	}

	// c.sdsp x8, 8(sp): funct3=111, uimm[5:3]=1 at bits[12:10], rs2=8
	bits = uint16(0b111<<13 | 1<<10 | 8<<2 | 0b10)
	got = DecodeCompressed(bits)
	if got.Kind != KindSd || got.Rs1 != 2 || got.Rs2 != 8 || got.Imm != 8 {
		t.Errorf("c.sdsp: got %+v", got)
	}

	// c.addi and friends never reach the emulator.
	if got := DecodeCompressed(0x0001); got.Kind != KindIllegal {
		t.Errorf("c.nop: got %+v, want illegal", got)
	}
}
