package fw

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/nbdd0121/muntjac-soc/internal/hw"
)

// Params is the build-time platform description the firmware core needs:
// device base addresses, the memory window handed to the kernel and the
// console line parameters.
type Params struct {
	CLINTBase  uint64
	UARTBase   uint64
	MemoryBase uint64
	MemorySize uint64

	// FirmwareReserve is carved off the top of memory for firmware code,
	// stacks and heap. At least 2 MiB.
	FirmwareReserve uint64

	UARTDivisor uint16
	UARTLCR     uint8
}

// hartLocal is the per-hart slot of the hart-local storage array. Each slot
// is only touched by its owning hart.
type hartLocal struct {
	fp         fpState
	panicCount uint32
}

// Firmware is the resident machine-mode firmware instance shared by all
// harts of the machine.
type Firmware struct {
	params Params
	bus    *hw.Bus
	clint  *hw.CLINT
	harts  []*hw.Hart
	log    *slog.Logger

	hartCount atomic.Int32

	ipi    [MaxHarts]ipiSlot
	acks   [MaxHarts]atomic.Uint32
	locals [MaxHarts]hartLocal

	consoleMu sync.Mutex

	fence FencePort

	// stopCh is closed on shutdown so parked harts can be reclaimed.
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a firmware instance for the given machine. A nil logger logs
// through the platform console.
func New(params Params, bus *hw.Bus, clint *hw.CLINT, harts []*hw.Hart, log *slog.Logger) *Firmware {
	if params.FirmwareReserve < 2<<20 {
		params.FirmwareReserve = 2 << 20
	}
	fw := &Firmware{
		params: params,
		bus:    bus,
		clint:  clint,
		harts:  harts,
		stopCh: make(chan struct{}),
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(&consoleWriter{fw: fw}, nil))
	}
	fw.log = log
	// Until the CLINT probe runs, only the boot hart is known to exist.
	fw.hartCount.Store(1)
	for i := range fw.ipi {
		fw.ipi[i].src = -1
	}
	return fw
}

// Params returns the platform description.
func (fw *Firmware) Params() Params { return fw.params }

// Bus returns the physical interconnect.
func (fw *Firmware) Bus() *hw.Bus { return fw.bus }

// Logger returns the firmware logger.
func (fw *Firmware) Logger() *slog.Logger { return fw.log }

// Hart returns the CSR state of a hart.
func (fw *Firmware) Hart(id int) *hw.Hart { return fw.harts[id] }

// KernelMemorySize is the part of main memory handed to the kernel: all of
// it except the firmware reserve at the top.
func (fw *Firmware) KernelMemorySize() uint64 {
	return fw.params.MemorySize - fw.params.FirmwareReserve
}

// Shutdown releases parked harts; the instance must not be used afterwards.
// Only tests and the host driver call this.
func (fw *Firmware) Shutdown() {
	fw.stopOnce.Do(func() { close(fw.stopCh) })
}

// park halts the calling hart with interrupts disabled. This is the
// terminal state entered after a panic or a system reset; the goroutine
// exits once the machine is shut down.
func (fw *Firmware) park(hartID int) {
	fw.harts[hartID].Mie = 0
	<-fw.stopCh
	runtime.Goexit()
}
