// Package boot sequences the boot hart's work: bring up the console, probe
// the machine, load the kernel image from the configured source, place the
// device tree, and release the secondary harts.
package boot

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/nbdd0121/muntjac-soc/internal/alloc"
	"github.com/nbdd0121/muntjac-soc/internal/block"
	"github.com/nbdd0121/muntjac-soc/internal/config"
	"github.com/nbdd0121/muntjac-soc/internal/fdt"
	"github.com/nbdd0121/muntjac-soc/internal/fs/fat"
	"github.com/nbdd0121/muntjac-soc/internal/fw"
	"github.com/nbdd0121/muntjac-soc/internal/netboot"
)

// KernelLoader produces the raw kernel image in an arena-allocated buffer.
type KernelLoader interface {
	Load(ctx context.Context, arena *alloc.Arena) ([]byte, error)
}

// NetLoader fetches the kernel over 9P (boot source "net").
type NetLoader struct {
	FW       *fw.Firmware
	Link     netboot.Link
	Cfg      config.NetConfig
	Kernel   string
	Progress io.Writer
}

// Load implements KernelLoader.
func (l *NetLoader) Load(ctx context.Context, arena *alloc.Arena) ([]byte, error) {
	mac, err := net.ParseMAC(l.Cfg.MAC)
	if err != nil {
		return nil, fmt.Errorf("boot: bad MAC: %w", err)
	}
	cfg := netboot.Config{
		MAC:       mac,
		IP:        net.ParseIP(l.Cfg.IP),
		PrefixLen: l.Cfg.PrefixLen,
		Gateway:   net.ParseIP(l.Cfg.Gateway),
		Server:    l.Cfg.Server,
		Port:      l.Cfg.Port,
		Path:      l.Kernel,
	}
	if l.Cfg.DNS != "" {
		cfg.DNS = net.ParseIP(l.Cfg.DNS)
	}
	return netboot.LoadKernel(ctx, l.FW.Logger(), l.Link, cfg, arena, l.Progress)
}

// BlockLoader reads the kernel from a FAT32 filesystem on the first
// partition of a block device (boot source "sd").
type BlockLoader struct {
	FW     *fw.Firmware
	Dev    block.Device
	Kernel string
}

// Load implements KernelLoader.
func (l *BlockLoader) Load(ctx context.Context, arena *alloc.Arena) ([]byte, error) {
	part, err := block.FirstPartition(l.Dev)
	if err != nil {
		return nil, err
	}
	fs, err := fat.New(part)
	if err != nil {
		return nil, err
	}

	entries, err := fs.Root()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || e.Name() != l.Kernel {
			continue
		}
		l.FW.Logger().Info("loading kernel from SD", "file", e.Name(), "size", e.Size())
		buf := arena.Alloc(int(e.Size()), 8)
		if buf == nil {
			return nil, fmt.Errorf("boot: kernel of %d bytes does not fit in the load arena", e.Size())
		}
		if _, err := io.ReadFull(e.Open(), buf); err != nil {
			arena.Free(buf)
			return nil, fmt.Errorf("boot: read kernel: %w", err)
		}
		return buf, nil
	}
	return nil, fmt.Errorf("boot: cannot locate kernel %q", l.Kernel)
}

// Result is what each hart needs to enter the kernel: a0 is its hart ID and
// a1 the physical address of the device tree.
type Result struct {
	DTBAddr uint64
	Entry   uint64
}

// BootHartMain runs the boot hart's sequence and returns the kernel entry
// state shared with the secondaries.
func BootHartMain(ctx context.Context, f *fw.Firmware, platform *config.Platform, loader KernelLoader) (*Result, error) {
	f.ConsoleInit()
	log := f.Logger()
	log.Info("booting")

	f.InitFP(0)
	f.ProbeHartCount()

	params := f.Params()
	kernelMemSize := f.KernelMemorySize()

	// The upper half of kernel memory is the load arena; the lower half
	// receives the ELF segments. Both are returned to the kernel once the
	// boot hart is done.
	arenaOff := params.MemoryBase - f.Bus().RAMBase + kernelMemSize/2
	arenaMem := f.Bus().RAM.Slice(arenaOff, kernelMemSize/2)
	if arenaMem == nil {
		return nil, fmt.Errorf("boot: kernel memory window out of range")
	}

	var kernelSize, entry uint64
	arena := &alloc.Arena{}
	err := arena.WithMemory(arenaMem, func() error {
		start := f.Time()
		image, err := loader.Load(ctx, arena)
		if err != nil {
			return err
		}
		log.Info("kernel image loaded", "elapsed", f.Time()-start)

		if IsGzip(image) {
			log.Info("kernel is compressed with gzip")
			start = f.Time()
			inflated, err := Inflate(arena, image)
			if err != nil {
				arena.Free(image)
				return err
			}
			arena.Free(image)
			image = inflated
			log.Info("kernel decompressed", "elapsed", f.Time()-start)
		}

		kernelSize, entry, err = LoadELF(f.Bus(), image, params.MemoryBase)
		arena.Free(image)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boot: kernel load failed: %w", err)
	}

	// Device tree goes immediately after the loaded kernel.
	dtb := fdt.BuildPlatform(fdt.PlatformSpec{
		Model:        platform.Model,
		HartCount:    f.HartCount(),
		ISA:          "rv64imafdc",
		MMU:          "riscv,sv39",
		TimebaseFreq: platform.TimebaseFreq,
		MemoryBase:   params.MemoryBase,
		MemorySize:   kernelMemSize,
		CLINTBase:    platform.CLINTBase,
		CLINTSize:    0xc0000,
		UARTBase:     platform.UART.Base,
		UARTSize:     0x1000,
		UARTClock:    platform.UART.Clock,
		Bootargs:     platform.Boot.Bootargs,
	})
	dtbAddr := params.MemoryBase + kernelSize
	if err := f.Bus().LoadBytes(dtbAddr, dtb); err != nil {
		return nil, fmt.Errorf("boot: place DTB: %w", err)
	}

	log.Info("control transfer to kernel", "entry", entry, "dtb", dtbAddr)

	// Wake the secondary harts.
	for i := 1; i < f.HartCount(); i++ {
		f.SetMSIP(i, true)
	}

	log.Info("core up", "hart", 0)
	return &Result{DTBAddr: dtbAddr, Entry: entry}, nil
}

// SecondaryHartMain runs a woken secondary hart's bring-up: detect FP mode
// and absorb the wakeup IPI.
func SecondaryHartMain(f *fw.Firmware, hartID int) {
	f.InitFP(hartID)
	f.ProcessIPI(hartID)
	f.Logger().Info("core up", "hart", hartID)
}
