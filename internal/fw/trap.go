package fw

import "github.com/nbdd0121/muntjac-soc/internal/hw"

// Delegate reflects a trap into supervisor mode, reproducing what hardware
// delegation would have done: scause/stval/sepc are loaded from the trap,
// SPIE captures SIE, SIE is cleared, SPP captures the interrupted privilege,
// and the resume PC becomes stvec with MPP set to S so mret lands there.
func (fw *Firmware) Delegate(hartID int, ctx *Context, trap TrapInfo) {
	h := fw.harts[hartID]
	mstatus := ctx.Mstatus

	// M-mode exceptions cannot be delegated to S-mode.
	mpp := mstatus >> hw.MstatusMPPShift & 3
	if mpp > 1 {
		fw.panicHalt(hartID, "attempted delegation of M-mode trap", "mepc", ctx.PC)
	}

	if mpp != 0 {
		mstatus |= hw.MstatusSPP
	} else {
		mstatus &^= hw.MstatusSPP
	}

	if mstatus&hw.MstatusSIE != 0 {
		mstatus |= hw.MstatusSPIE
	} else {
		mstatus &^= hw.MstatusSPIE
	}
	mstatus &^= hw.MstatusSIE

	// MRET must return to S-mode at stvec.
	mstatus = mstatus&^hw.MstatusMPP | uint64(hw.PrivSupervisor)<<hw.MstatusMPPShift

	h.Scause = trap.Cause
	h.Stval = trap.Tval
	h.Sepc = ctx.PC
	ctx.PC = h.Stvec

	ctx.Mstatus = mstatus
}

// handleIllegalInsn fetches and decodes the instruction at the trapped PC
// and either emulates it or reflects an illegal-instruction trap with the
// raw bits as tval.
func (fw *Firmware) handleIllegalInsn(hartID int, ctx *Context) {
	h := fw.harts[hartID]

	bits, op, size, trap := fw.loadInstruction(h, ctx)
	if trap != nil {
		// The fetch itself faulted; delegate as-is.
		fw.Delegate(hartID, ctx, *trap)
		return
	}

	if trap := fw.step(hartID, ctx, &op); trap != nil {
		if trap.Cause == hw.CauseIllegalInsn {
			trap.Tval = uint64(bits)
		}
		fw.Delegate(hartID, ctx, *trap)
		return
	}
	ctx.PC += size
}

// HandleTrapFast is the fast-path trap handler, entered with only the
// caller-saved registers captured. It returns false when the slow path must
// run instead.
func (fw *Firmware) HandleTrapFast(hartID int, cause uint64, ctx *Context) bool {
	switch cause {
	case hw.CauseMSoftwareInt:
		fw.ProcessIPI(hartID)
	case hw.CauseMTimerInt:
		h := fw.harts[hartID]
		// Mask the machine timer and propagate to S-mode.
		h.ClearMie(hw.MipMTIP)
		h.SetMip(hw.MipSTIP)
	case hw.CauseEcallFromS:
		fw.HandleSBI(hartID, ctx)
		// ECALL is always 4 bytes.
		ctx.PC += 4
	default:
		return false
	}
	return true
}

// HandleTrap is the slow-path trap handler, entered with the full register
// file captured. Any cause it does not recognize, or any trap taken from
// M-mode, is a firmware bug.
func (fw *Firmware) HandleTrap(hartID int, cause uint64, ctx *Context) {
	if mpp := ctx.Mstatus >> hw.MstatusMPPShift & 3; mpp > 1 {
		fw.panicHalt(hartID, "unexpected trap in machine mode",
			"cause", cause, "ctx", ctx.String())
	}

	switch cause {
	case hw.CauseIllegalInsn:
		fw.handleIllegalInsn(hartID, ctx)
	case hw.CauseLoadAddrMisaligned:
		if trap := fw.handleMisalignedRead(hartID, ctx); trap != nil {
			fw.log.Debug("misaligned read not emulated", "cause", trap.Cause, "tval", trap.Tval)
			fw.Delegate(hartID, ctx, *trap)
		}
	case hw.CauseStoreAddrMisaligned:
		if trap := fw.handleMisalignedWrite(hartID, ctx); trap != nil {
			fw.log.Debug("misaligned write not emulated", "cause", trap.Cause, "tval", trap.Tval)
			fw.Delegate(hartID, ctx, *trap)
		}
	case hw.CauseInsnPageFault, hw.CauseLoadPageFault, hw.CauseStorePageFault:
		// Page faults normally delegate in hardware; one that reaches the
		// firmware originates in the safe memory primitives, which only
		// probe supervisor memory on the boot hart. Reflect it with cause
		// and tval intact there; anywhere else it is a firmware bug.
		if hartID != bootHartID {
			fw.panicHalt(hartID, "page fault on secondary hart",
				"cause", cause, "ctx", ctx.String())
		}
		fw.Delegate(hartID, ctx, TrapInfo{Cause: cause, Tval: fw.harts[hartID].Mtval})
	default:
		fw.panicHalt(hartID, "unhandled exception",
			"cause", cause, "ctx", ctx.String())
	}
}
