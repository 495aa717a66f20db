package boot

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"testing"

	"github.com/nbdd0121/muntjac-soc/internal/alloc"
	"github.com/nbdd0121/muntjac-soc/internal/config"
	"github.com/nbdd0121/muntjac-soc/internal/fdt"
	"github.com/nbdd0121/muntjac-soc/internal/fw"
	"github.com/nbdd0121/muntjac-soc/internal/hw"
)

const (
	testRAMBase = 0x8000_0000
	testRAMSize = 16 << 20
	testCLINT   = 0x0200_0000
	testUART    = 0x1000_0000
)

// makeELF synthesizes a minimal ELF64 RISC-V executable with the given
// PT_LOAD segments.
type segment struct {
	vaddr uint64
	data  []byte
	memsz uint64 // 0 means len(data)
}

func makeELF(t *testing.T, entry uint64, segs []segment) []byte {
	t.Helper()

	const ehsize = 64
	const phentsize = 56
	phoff := uint64(ehsize)
	dataOff := phoff + uint64(len(segs))*phentsize

	var buf bytes.Buffer
	// ELF header
	ident := make([]byte, 16)
	copy(ident, "\x7fELF")
	ident[4] = 2 // ELFCLASS64
	ident[5] = 1 // little-endian
	ident[6] = 1 // EV_CURRENT
	buf.Write(ident)
	le := binary.LittleEndian
	w16 := func(v uint16) { binary.Write(&buf, le, v) }
	w32 := func(v uint32) { binary.Write(&buf, le, v) }
	w64 := func(v uint64) { binary.Write(&buf, le, v) }
	w16(2)   // ET_EXEC
	w16(243) // EM_RISCV
	w32(1)   // version
	w64(entry)
	w64(phoff)
	w64(0) // shoff
	w32(0) // flags
	w16(ehsize)
	w16(phentsize)
	w16(uint16(len(segs)))
	w16(0) // shentsize
	w16(0) // shnum
	w16(0) // shstrndx

	off := dataOff
	for _, s := range segs {
		memsz := s.memsz
		if memsz == 0 {
			memsz = uint64(len(s.data))
		}
		w32(1) // PT_LOAD
		w32(7) // RWX
		w64(off)
		w64(s.vaddr)
		w64(s.vaddr) // paddr
		w64(uint64(len(s.data)))
		w64(memsz)
		w64(0x1000)
		off += uint64(len(s.data))
	}
	for _, s := range segs {
		buf.Write(s.data)
	}
	return buf.Bytes()
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testFirmware(t *testing.T) (*fw.Firmware, *hw.Bus, *hw.CLINT) {
	t.Helper()
	bus := hw.NewBus(testRAMBase, testRAMSize)
	clint := hw.NewCLINT(2)
	uart := hw.NewUART8250(io.Discard)
	bus.AddDevice(testCLINT, clint)
	bus.AddDevice(testUART, uart)

	harts := []*hw.Hart{{ID: 0}, {ID: 1}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := fw.New(fw.Params{
		CLINTBase:  testCLINT,
		UARTBase:   testUART,
		MemoryBase: testRAMBase,
		MemorySize: testRAMSize,
	}, bus, clint, harts, log)
	t.Cleanup(f.Shutdown)
	return f, bus, clint
}

func TestLoadELF(t *testing.T) {
	_, bus, _ := testFirmware(t)

	text := []byte{0x13, 0x00, 0x00, 0x00} // nop
	data := []byte("hello world")
	image := makeELF(t, 0x8020_0000, []segment{
		{vaddr: 0x8020_0000, data: text},
		{vaddr: 0x8020_2000, data: data, memsz: uint64(len(data)) + 64},
	})

	size, entry, err := LoadELF(bus, image, testRAMBase)
	if err != nil {
		t.Fatal(err)
	}
	// The image spans 0x80200000..0x80202000+len+64, rounded to pages,
	// rebased to the load address.
	if entry != testRAMBase {
		t.Errorf("entry: got %#x, want %#x", entry, uint64(testRAMBase))
	}
	if size != 0x3000 {
		t.Errorf("size: got %#x, want 0x3000", size)
	}

	got, _ := bus.Read32(testRAMBase)
	if got != 0x13 {
		t.Errorf("text: got %#x", got)
	}
	buf := make([]byte, len(data))
	for i := range buf {
		buf[i], _ = bus.Read8(testRAMBase + 0x2000 + uint64(i))
	}
	if !bytes.Equal(buf, data) {
		t.Errorf("data segment: got %q", buf)
	}
	// BSS is zero-filled.
	z, _ := bus.Read8(testRAMBase + 0x2000 + uint64(len(data)))
	if z != 0 {
		t.Errorf("BSS not zeroed: %#x", z)
	}
}

func TestLoadELFRejects(t *testing.T) {
	_, bus, _ := testFirmware(t)

	image := makeELF(t, 0, []segment{{vaddr: 0, data: []byte{1}}})
	// Corrupt the machine field.
	image[18] = 0x3e // EM_X86_64
	if _, _, err := LoadELF(bus, image, testRAMBase); err == nil {
		t.Error("accepted a non-RISC-V binary")
	}

	if _, _, err := LoadELF(bus, []byte("not an elf"), testRAMBase); err == nil {
		t.Error("accepted garbage")
	}
}

func TestInflate(t *testing.T) {
	payload := bytes.Repeat([]byte("abc123"), 1000)
	gz := gzipped(t, payload)
	if !IsGzip(gz) {
		t.Fatal("gzip output not detected")
	}
	if IsGzip(payload) {
		t.Fatal("plain data detected as gzip")
	}

	arena := &alloc.Arena{}
	arena.WithMemory(make([]byte, 1<<20), func() error {
		got, err := Inflate(arena, gz)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, payload) {
			t.Error("inflate mismatch")
		}
		arena.Free(got)
		return nil
	})
}

// memLoader hands a fixed image to the boot flow through the arena.
type memLoader struct {
	image []byte
}

func (l *memLoader) Load(ctx context.Context, arena *alloc.Arena) ([]byte, error) {
	buf := arena.Alloc(len(l.image), 8)
	copy(buf, l.image)
	return buf, nil
}

// TestBootGzippedKernel is the end-to-end gzip scenario: a gzip-wrapped
// ELF is decompressed, its segments are copied, the DTB lands immediately
// after the image and the secondaries are woken.
func TestBootGzippedKernel(t *testing.T) {
	f, bus, clint := testFirmware(t)

	text := []byte{0x6f, 0x00, 0x00, 0x00} // j .
	image := makeELF(t, 0x8000_0000, []segment{{vaddr: 0x8000_0000, data: text}})
	loader := &memLoader{image: gzipped(t, image)}

	platform := config.Default()
	platform.Memory.Size = testRAMSize
	platform.Boot.Bootargs = "console=ttyS0"

	// Secondary hart waits for its wakeup IPI.
	secondaryUp := make(chan struct{})
	go func() {
		<-clint.Notify(1)
		SecondaryHartMain(f, 1)
		close(secondaryUp)
	}()

	res, err := BootHartMain(context.Background(), f, platform, loader)
	if err != nil {
		t.Fatal(err)
	}
	<-secondaryUp

	if res.Entry != testRAMBase {
		t.Errorf("entry: got %#x", res.Entry)
	}
	// One page of text: the DTB goes right after it.
	if res.DTBAddr != testRAMBase+0x1000 {
		t.Errorf("dtb address: got %#x", res.DTBAddr)
	}

	// The text segment landed.
	insn, _ := bus.Read32(testRAMBase)
	if insn != 0x6f {
		t.Errorf("kernel text: got %#x", insn)
	}

	// The DTB starts with the FDT magic, big-endian.
	hi, _ := bus.Read8(res.DTBAddr)
	lo, _ := bus.Read8(res.DTBAddr + 3)
	if hi != 0xd0 || lo != 0xed {
		t.Errorf("DTB magic bytes: %#x ... %#x", hi, lo)
	}
	var magic [4]byte
	for i := range magic {
		magic[i], _ = bus.Read8(res.DTBAddr + uint64(i))
	}
	if binary.BigEndian.Uint32(magic[:]) != fdt.Magic {
		t.Errorf("DTB magic: got %#x", binary.BigEndian.Uint32(magic[:]))
	}

	// The probe saw both harts.
	if f.HartCount() != 2 {
		t.Errorf("hart count: got %d", f.HartCount())
	}
}
