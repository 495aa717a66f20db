// Command firmware runs the boot flow against a modeled machine on the
// host: it builds the platform from a YAML description, loads a kernel
// image from an SD card image or a plain file, and reports the entry state
// each hart would hand to the kernel. The console UART is wired to the
// terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/nbdd0121/muntjac-soc/internal/alloc"
	"github.com/nbdd0121/muntjac-soc/internal/block"
	"github.com/nbdd0121/muntjac-soc/internal/boot"
	"github.com/nbdd0121/muntjac-soc/internal/config"
	"github.com/nbdd0121/muntjac-soc/internal/fw"
	"github.com/nbdd0121/muntjac-soc/internal/hw"
)

// fileLoader reads a kernel image straight from a host file. It stands in
// for the 9P path when no boot server is reachable from the host run.
type fileLoader struct {
	path string
}

func (l *fileLoader) Load(ctx context.Context, arena *alloc.Arena) ([]byte, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	buf := arena.Alloc(len(data), 8)
	if buf == nil {
		return nil, fmt.Errorf("kernel of %d bytes does not fit in the load arena", len(data))
	}
	copy(buf, data)
	return buf, nil
}

func run() error {
	configPath := flag.String("config", "", "platform description YAML")
	sdImage := flag.String("sd-image", "", "disk image backing the SD card")
	kernelFile := flag.String("kernel-file", "", "load the kernel from a host file instead of the configured source")
	harts := flag.Int("harts", 2, "number of harts to model")
	flag.Parse()

	platform := config.Default()
	if *configPath != "" {
		var err error
		platform, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}

	// Put the terminal in raw mode while the guest console owns it.
	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		state, err := term.MakeRaw(stdinFd)
		if err == nil {
			defer term.Restore(stdinFd, state)
		}
	}

	// Assemble the machine.
	bus := hw.NewBus(platform.Memory.Base, platform.Memory.Size)
	clint := hw.NewCLINT(*harts)
	uart := hw.NewUART8250(os.Stdout)
	bus.AddDevice(platform.CLINTBase, clint)
	bus.AddDevice(platform.UART.Base, uart)

	hartState := make([]*hw.Hart, *harts)
	for i := range hartState {
		hartState[i] = &hw.Hart{ID: i}
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	f := fw.New(platform.FirmwareParams(), bus, clint, hartState, log)
	defer f.Shutdown()

	// Feed terminal input into the UART receive FIFO.
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				uart.PushInput(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	var loader boot.KernelLoader
	switch {
	case *kernelFile != "":
		loader = &fileLoader{path: *kernelFile}
	case platform.Boot.Source == "sd":
		var dev block.Device
		if *sdImage != "" {
			data, err := os.ReadFile(*sdImage)
			if err != nil {
				return err
			}
			dev = &block.MemDevice{Data: data}
		} else {
			sd, err := block.NewSD(bus, platform.SDBase)
			if err != nil {
				return err
			}
			dev = sd
		}
		loader = &boot.BlockLoader{FW: f, Dev: dev, Kernel: platform.Boot.Kernel}
	default:
		return fmt.Errorf("boot source %q needs a platform ethernet link; use -kernel-file or -sd-image on the host", platform.Boot.Source)
	}

	// Secondary harts wait for the wakeup IPI.
	done := make(chan int, *harts)
	for i := 1; i < *harts; i++ {
		go func(id int) {
			<-clint.Notify(id)
			boot.SecondaryHartMain(f, id)
			done <- id
		}(i)
	}

	result, err := boot.BootHartMain(context.Background(), f, platform, loader)
	if err != nil {
		return err
	}
	for i := 1; i < f.HartCount(); i++ {
		<-done
	}

	for i := 0; i < f.HartCount(); i++ {
		fmt.Fprintf(os.Stderr, "hart %d: enter kernel at %#x, a0=%d a1=%#x\n",
			i, result.Entry, i, result.DTBAddr)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "firmware:", err)
		os.Exit(1)
	}
}
