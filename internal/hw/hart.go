// Package hw models the hardware the firmware runs against: the physical
// interconnect, the core-local interruptor, the console UART and the per-hart
// CSR state. The firmware core only ever touches hardware through this
// package, which is what makes it drivable from tests.
package hw

import "errors"

// ErrNoFPU is reported by an FPUnit operation the hardware cannot perform.
var ErrNoFPU = errors.New("no floating-point hardware")

// FPUnit is the hardware floating-point port of a hart. A hart without an
// FPU returns ErrNoFPU from every method; a hart with FP registers but no FP
// ALU implements the register and CSR accessors only. Register accesses
// correspond to the fixed per-index load/store sequences the firmware would
// otherwise encode, so indices outside 0..31 are a caller bug.
type FPUnit interface {
	// ReadFPR reads FP register idx through an encoded FP store.
	ReadFPR(idx int) (uint64, error)
	// WriteFPR writes FP register idx through an encoded FP load.
	WriteFPR(idx int, v uint64) error
	// ReadFrm reads the hardware frm CSR.
	ReadFrm() (uint8, error)
	// WriteFrm writes the hardware frm CSR.
	WriteFrm(v uint8) error
	// ReadFflags reads the hardware fflags CSR.
	ReadFflags() (uint8, error)
	// WriteFflags writes the hardware fflags CSR.
	WriteFflags(v uint8) error
	// SetFflags ORs flags into the hardware fflags CSR.
	SetFflags(v uint8) error
	// ProbeALU attempts a hardware FP arithmetic op (fadd.s).
	ProbeALU() error
}

// Hart holds the CSR state of one hardware thread that the firmware reads
// and writes while servicing traps. Each slot is only ever touched by its
// own hart (or by the boot hart before secondaries are released), so no
// locking is required.
type Hart struct {
	ID int

	// Machine CSRs the firmware manipulates directly. The mstatus value
	// saved at trap entry lives in the trap context, not here.
	Mie   uint64
	Mip   uint64
	Mtval uint64

	// Supervisor CSRs used for trap delegation and translation.
	Stvec  uint64
	Sepc   uint64
	Scause uint64
	Stval  uint64
	Satp   uint64

	// FPU is the hardware floating-point port, or nil when the hart has
	// no FP hardware at all.
	FPU FPUnit
}

// SetMip sets bits in mip.
func (h *Hart) SetMip(bits uint64) { h.Mip |= bits }

// ClearMip clears bits in mip.
func (h *Hart) ClearMip(bits uint64) { h.Mip &^= bits }

// SetMie sets bits in mie.
func (h *Hart) SetMie(bits uint64) { h.Mie |= bits }

// ClearMie clears bits in mie.
func (h *Hart) ClearMie(bits uint64) { h.Mie &^= bits }
