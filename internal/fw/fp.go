package fw

import (
	"github.com/nbdd0121/muntjac-soc/internal/hw"
	"github.com/nbdd0121/muntjac-soc/internal/insn"
	"github.com/nbdd0121/muntjac-soc/internal/softfp"
)

// FPMode describes how much floating-point hardware a hart has.
type FPMode int

const (
	// FPNone: no FP hardware; registers and CSRs live in memory.
	FPNone FPMode = iota
	// FPMemOnly: FP registers exist but the FP ALU does not; register and
	// CSR accesses go through the hardware port, arithmetic is emulated.
	FPMemOnly
	// FPFull: complete FP hardware, nothing to emulate.
	FPFull
)

// fpState is the per-hart floating-point emulation state.
type fpState struct {
	mode FPMode

	// In-memory register file and CSRs (FPNone only).
	fpr    [32]uint64
	fflags uint8
	frm    uint8

	// Rounding mode in effect for the instruction being emulated.
	effectiveFrm uint8

	// touched is set when any FP state was modified by the current
	// instruction, so FS can be marked dirty.
	touched bool

	// Register accessors bound once at hart init; no per-op dispatch.
	readFPR  func(idx uint32) uint64
	writeFPR func(idx uint32, v uint64)
}

// DetectFPMode probes a hart's floating-point capability the way the boot
// path does on silicon: attempt an FP register access, then an FP ALU op,
// and record which of the two faults.
func DetectFPMode(h *hw.Hart) FPMode {
	if h.FPU == nil {
		return FPNone
	}
	if err := h.FPU.WriteFPR(0, 0); err != nil {
		return FPNone
	}
	if err := h.FPU.ProbeALU(); err != nil {
		return FPMemOnly
	}
	return FPFull
}

// InitFP detects the hart's FP mode and binds the register access path.
func (fw *Firmware) InitFP(hartID int) {
	h := fw.harts[hartID]
	state := &fw.locals[hartID].fp
	state.mode = DetectFPMode(h)

	switch state.mode {
	case FPNone:
		state.readFPR = func(idx uint32) uint64 {
			return state.fpr[idx&31]
		}
		state.writeFPR = func(idx uint32, v uint64) {
			state.fpr[idx&31] = v
			state.touched = true
		}
	case FPMemOnly:
		state.readFPR = func(idx uint32) uint64 {
			v, err := h.FPU.ReadFPR(int(idx & 31))
			if err != nil {
				fw.panicHalt(hartID, "FP register read failed after probe", "idx", idx)
			}
			return v
		}
		state.writeFPR = func(idx uint32, v uint64) {
			if err := h.FPU.WriteFPR(int(idx&31), v); err != nil {
				fw.panicHalt(hartID, "FP register write failed after probe", "idx", idx)
			}
			state.touched = true
		}
	}

	fw.log.Debug("FP mode detected", "hart", hartID, "mode", state.mode)
}

// FPModeOf returns the detected FP mode of a hart.
func (fw *Firmware) FPModeOf(hartID int) FPMode {
	return fw.locals[hartID].fp.mode
}

func fsOff(ctx *Context) bool {
	return ctx.Mstatus&hw.MstatusFS == 0
}

func setFSDirty(ctx *Context) {
	ctx.Mstatus |= hw.MstatusFS | hw.MstatusSD
}

func (s *fpState) getFrm(h *hw.Hart) uint8 {
	if s.mode == FPMemOnly {
		v, err := h.FPU.ReadFrm()
		if err == nil {
			return v
		}
	}
	return s.frm
}

// setRM resolves an instruction's rounding-mode field into the effective
// rounding mode. 0b111 selects the dynamic mode from frm; reserved values
// are an illegal instruction.
func (s *fpState) setRM(h *hw.Hart, rm uint8) *TrapInfo {
	if rm == 0b111 {
		rm = s.getFrm(h)
	}
	if rm > 4 {
		return &TrapInfo{Cause: hw.CauseIllegalInsn}
	}
	s.effectiveFrm = rm
	return nil
}

// accumFlags folds the exception flags of one operation into the persistent
// flag register.
func (s *fpState) accumFlags(h *hw.Hart, flags softfp.Flags) {
	if flags == 0 {
		return
	}
	s.touched = true
	if s.mode == FPMemOnly {
		h.FPU.SetFflags(uint8(flags))
		return
	}
	s.fflags |= uint8(flags)
}

// readFPCSR reads fflags/frm/fcsr. FS must be on.
func (fw *Firmware) readFPCSR(hartID int, ctx *Context, csr uint16) (uint64, *TrapInfo) {
	if fsOff(ctx) {
		return 0, &TrapInfo{Cause: hw.CauseIllegalInsn}
	}
	h := fw.harts[hartID]
	state := &fw.locals[hartID].fp

	var fflags, frm uint8
	if state.mode == FPMemOnly {
		fflags, _ = h.FPU.ReadFflags()
		frm, _ = h.FPU.ReadFrm()
	} else {
		fflags, frm = state.fflags, state.frm
	}

	switch csr {
	case hw.CSRFflags:
		return uint64(fflags), nil
	case hw.CSRFrm:
		return uint64(frm), nil
	default:
		return uint64(frm)<<5 | uint64(fflags), nil
	}
}

// writeFPCSR writes fflags/frm/fcsr with clamping: frm stores at most 4,
// fflags keeps its five defined bits.
func (fw *Firmware) writeFPCSR(hartID int, ctx *Context, csr uint16, value uint64) *TrapInfo {
	if fsOff(ctx) {
		return &TrapInfo{Cause: hw.CauseIllegalInsn}
	}
	setFSDirty(ctx)
	h := fw.harts[hartID]
	state := &fw.locals[hartID].fp

	clampFrm := func(v uint8) uint8 {
		v &= 0b111
		if v > 4 {
			v = 4
		}
		return v
	}

	var fflags, frm uint8
	var setFflags, setFrm bool
	switch csr {
	case hw.CSRFflags:
		fflags, setFflags = uint8(value)&0x1f, true
	case hw.CSRFrm:
		frm, setFrm = clampFrm(uint8(value)), true
	default:
		fflags, setFflags = uint8(value)&0x1f, true
		frm, setFrm = clampFrm(uint8(value>>5)), true
	}

	if state.mode == FPMemOnly {
		if setFflags {
			h.FPU.WriteFflags(fflags)
		}
		if setFrm {
			h.FPU.WriteFrm(frm)
		}
		return nil
	}
	if setFflags {
		state.fflags = fflags
	}
	if setFrm {
		state.frm = frm
	}
	return nil
}

// NaN boxing: a single-precision value lives in the low 32 bits of an FP
// register with the upper bits all ones; anything else reads as NaN.
func unbox32(v uint64) uint32 {
	if v>>32 != 0xffffffff {
		return softfp.QNaN32
	}
	return uint32(v)
}

func box32(v uint32) uint64 {
	return 0xffffffff00000000 | uint64(v)
}

// stepFP emulates one F/D-extension instruction against the hart's FP
// state. The caller has already verified the op is an FP op.
func (fw *Firmware) stepFP(hartID int, ctx *Context, op *insn.Op) *TrapInfo {
	if fsOff(ctx) {
		return &TrapInfo{Cause: hw.CauseIllegalInsn}
	}

	h := fw.harts[hartID]
	state := &fw.locals[hartID].fp
	state.touched = false

	readS := func(idx uint32) uint32 { return unbox32(state.readFPR(idx)) }
	readD := func(idx uint32) uint64 { return state.readFPR(idx) }
	writeS := func(idx uint32, v uint32) { state.writeFPR(idx, box32(v)) }
	writeD := func(idx uint32, v uint64) { state.writeFPR(idx, v) }
	write32 := func(idx uint32, v uint32) { ctx.WriteReg(idx, uint64(int64(int32(v)))) }

	env := softfp.Env{}
	needRM := func() *TrapInfo {
		if trap := state.setRM(h, op.RM); trap != nil {
			return trap
		}
		env.RM = softfp.RoundingMode(state.effectiveFrm)
		return nil
	}
	boolReg := func(idx uint32, b bool) {
		if b {
			ctx.WriteReg(idx, 1)
		} else {
			ctx.WriteReg(idx, 0)
		}
	}

	switch op.Kind {
	// Loads and stores reach here only in FPNone mode; with hardware FP
	// registers the hardware performs them itself.
	case insn.KindFlw:
		vaddr := ctx.ReadReg(op.Rs1) + uint64(op.Imm)
		if vaddr&3 != 0 {
			return &TrapInfo{Cause: hw.CauseLoadAddrMisaligned, Tval: vaddr}
		}
		val, trap := fw.loadU32(h, ctx, vaddr)
		if trap != nil {
			return trap
		}
		writeS(op.Rd, val)
	case insn.KindFsw:
		vaddr := ctx.ReadReg(op.Rs1) + uint64(op.Imm)
		if vaddr&3 != 0 {
			return &TrapInfo{Cause: hw.CauseStoreAddrMisaligned, Tval: vaddr}
		}
		if trap := fw.storeU32(h, ctx, vaddr, readS(op.Rs2)); trap != nil {
			return trap
		}
	case insn.KindFld:
		vaddr := ctx.ReadReg(op.Rs1) + uint64(op.Imm)
		if vaddr&7 != 0 {
			return &TrapInfo{Cause: hw.CauseLoadAddrMisaligned, Tval: vaddr}
		}
		val, trap := fw.loadU64(h, ctx, vaddr)
		if trap != nil {
			return trap
		}
		writeD(op.Rd, val)
	case insn.KindFsd:
		vaddr := ctx.ReadReg(op.Rs1) + uint64(op.Imm)
		if vaddr&7 != 0 {
			return &TrapInfo{Cause: hw.CauseStoreAddrMisaligned, Tval: vaddr}
		}
		if trap := fw.storeU64(h, ctx, vaddr, readD(op.Rs2)); trap != nil {
			return trap
		}

	/* F extension */
	case insn.KindFaddS:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeS(op.Rd, env.AddF32(readS(op.Rs1), readS(op.Rs2)))
	case insn.KindFsubS:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeS(op.Rd, env.SubF32(readS(op.Rs1), readS(op.Rs2)))
	case insn.KindFmulS:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeS(op.Rd, env.MulF32(readS(op.Rs1), readS(op.Rs2)))
	case insn.KindFdivS:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeS(op.Rd, env.DivF32(readS(op.Rs1), readS(op.Rs2)))
	case insn.KindFsqrtS:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeS(op.Rd, env.SqrtF32(readS(op.Rs1)))
	case insn.KindFsgnjS:
		writeS(op.Rd, softfp.SgnjF32(readS(op.Rs1), readS(op.Rs2)))
	case insn.KindFsgnjnS:
		writeS(op.Rd, softfp.SgnjnF32(readS(op.Rs1), readS(op.Rs2)))
	case insn.KindFsgnjxS:
		writeS(op.Rd, softfp.SgnjxF32(readS(op.Rs1), readS(op.Rs2)))
	case insn.KindFminS:
		writeS(op.Rd, env.MinF32(readS(op.Rs1), readS(op.Rs2)))
	case insn.KindFmaxS:
		writeS(op.Rd, env.MaxF32(readS(op.Rs1), readS(op.Rs2)))
	case insn.KindFcvtWS:
		if trap := needRM(); trap != nil {
			return trap
		}
		write32(op.Rd, uint32(env.CvtF32ToI32(readS(op.Rs1))))
	case insn.KindFcvtWuS:
		if trap := needRM(); trap != nil {
			return trap
		}
		write32(op.Rd, env.CvtF32ToU32(readS(op.Rs1)))
	case insn.KindFcvtLS:
		if trap := needRM(); trap != nil {
			return trap
		}
		ctx.WriteReg(op.Rd, uint64(env.CvtF32ToI64(readS(op.Rs1))))
	case insn.KindFcvtLuS:
		if trap := needRM(); trap != nil {
			return trap
		}
		ctx.WriteReg(op.Rd, env.CvtF32ToU64(readS(op.Rs1)))
	case insn.KindFmvXW:
		write32(op.Rd, uint32(state.readFPR(op.Rs1)))
	case insn.KindFclassS:
		ctx.WriteReg(op.Rd, softfp.ClassifyF32(readS(op.Rs1)))
	case insn.KindFeqS:
		boolReg(op.Rd, env.EqF32(readS(op.Rs1), readS(op.Rs2)))
	case insn.KindFltS:
		boolReg(op.Rd, env.LtF32(readS(op.Rs1), readS(op.Rs2)))
	case insn.KindFleS:
		boolReg(op.Rd, env.LeF32(readS(op.Rs1), readS(op.Rs2)))
	case insn.KindFcvtSW:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeS(op.Rd, env.CvtI32ToF32(int32(ctx.ReadReg(op.Rs1))))
	case insn.KindFcvtSWu:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeS(op.Rd, env.CvtU32ToF32(uint32(ctx.ReadReg(op.Rs1))))
	case insn.KindFcvtSL:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeS(op.Rd, env.CvtI64ToF32(int64(ctx.ReadReg(op.Rs1))))
	case insn.KindFcvtSLu:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeS(op.Rd, env.CvtU64ToF32(ctx.ReadReg(op.Rs1)))
	case insn.KindFmvWX:
		writeS(op.Rd, uint32(ctx.ReadReg(op.Rs1)))
	case insn.KindFmaddS:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeS(op.Rd, env.FmaF32(readS(op.Rs1), readS(op.Rs2), readS(op.Rs3)))
	case insn.KindFmsubS:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeS(op.Rd, env.FmaF32(readS(op.Rs1), readS(op.Rs2), negS(readS(op.Rs3))))
	case insn.KindFnmsubS:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeS(op.Rd, env.FmaF32(negS(readS(op.Rs1)), readS(op.Rs2), readS(op.Rs3)))
	case insn.KindFnmaddS:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeS(op.Rd, negS(env.FmaF32(readS(op.Rs1), readS(op.Rs2), readS(op.Rs3))))

	/* D extension */
	case insn.KindFaddD:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeD(op.Rd, env.AddF64(readD(op.Rs1), readD(op.Rs2)))
	case insn.KindFsubD:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeD(op.Rd, env.SubF64(readD(op.Rs1), readD(op.Rs2)))
	case insn.KindFmulD:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeD(op.Rd, env.MulF64(readD(op.Rs1), readD(op.Rs2)))
	case insn.KindFdivD:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeD(op.Rd, env.DivF64(readD(op.Rs1), readD(op.Rs2)))
	case insn.KindFsqrtD:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeD(op.Rd, env.SqrtF64(readD(op.Rs1)))
	case insn.KindFsgnjD:
		writeD(op.Rd, softfp.SgnjF64(readD(op.Rs1), readD(op.Rs2)))
	case insn.KindFsgnjnD:
		writeD(op.Rd, softfp.SgnjnF64(readD(op.Rs1), readD(op.Rs2)))
	case insn.KindFsgnjxD:
		writeD(op.Rd, softfp.SgnjxF64(readD(op.Rs1), readD(op.Rs2)))
	case insn.KindFminD:
		writeD(op.Rd, env.MinF64(readD(op.Rs1), readD(op.Rs2)))
	case insn.KindFmaxD:
		writeD(op.Rd, env.MaxF64(readD(op.Rs1), readD(op.Rs2)))
	case insn.KindFcvtSD:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeS(op.Rd, env.CvtF64ToF32(readD(op.Rs1)))
	case insn.KindFcvtDS:
		writeD(op.Rd, env.CvtF32ToF64(readS(op.Rs1)))
	case insn.KindFcvtWD:
		if trap := needRM(); trap != nil {
			return trap
		}
		write32(op.Rd, uint32(env.CvtF64ToI32(readD(op.Rs1))))
	case insn.KindFcvtWuD:
		if trap := needRM(); trap != nil {
			return trap
		}
		write32(op.Rd, env.CvtF64ToU32(readD(op.Rs1)))
	case insn.KindFcvtLD:
		if trap := needRM(); trap != nil {
			return trap
		}
		ctx.WriteReg(op.Rd, uint64(env.CvtF64ToI64(readD(op.Rs1))))
	case insn.KindFcvtLuD:
		if trap := needRM(); trap != nil {
			return trap
		}
		ctx.WriteReg(op.Rd, env.CvtF64ToU64(readD(op.Rs1)))
	case insn.KindFmvXD:
		ctx.WriteReg(op.Rd, state.readFPR(op.Rs1))
	case insn.KindFclassD:
		ctx.WriteReg(op.Rd, softfp.ClassifyF64(readD(op.Rs1)))
	case insn.KindFeqD:
		boolReg(op.Rd, env.EqF64(readD(op.Rs1), readD(op.Rs2)))
	case insn.KindFltD:
		boolReg(op.Rd, env.LtF64(readD(op.Rs1), readD(op.Rs2)))
	case insn.KindFleD:
		boolReg(op.Rd, env.LeF64(readD(op.Rs1), readD(op.Rs2)))
	case insn.KindFcvtDW:
		writeD(op.Rd, env.CvtI32ToF64(int32(ctx.ReadReg(op.Rs1))))
	case insn.KindFcvtDWu:
		writeD(op.Rd, env.CvtU32ToF64(uint32(ctx.ReadReg(op.Rs1))))
	case insn.KindFcvtDL:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeD(op.Rd, env.CvtI64ToF64(int64(ctx.ReadReg(op.Rs1))))
	case insn.KindFcvtDLu:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeD(op.Rd, env.CvtU64ToF64(ctx.ReadReg(op.Rs1)))
	case insn.KindFmvDX:
		writeD(op.Rd, ctx.ReadReg(op.Rs1))
	case insn.KindFmaddD:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeD(op.Rd, env.FmaF64(readD(op.Rs1), readD(op.Rs2), readD(op.Rs3)))
	case insn.KindFmsubD:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeD(op.Rd, env.FmaF64(readD(op.Rs1), readD(op.Rs2), negD(readD(op.Rs3))))
	case insn.KindFnmsubD:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeD(op.Rd, env.FmaF64(negD(readD(op.Rs1)), readD(op.Rs2), readD(op.Rs3)))
	case insn.KindFnmaddD:
		if trap := needRM(); trap != nil {
			return trap
		}
		writeD(op.Rd, negD(env.FmaF64(readD(op.Rs1), readD(op.Rs2), readD(op.Rs3))))

	default:
		return &TrapInfo{Cause: hw.CauseIllegalInsn}
	}

	state.accumFlags(h, env.Flags)
	if state.touched {
		setFSDirty(ctx)
	}
	return nil
}

func negS(v uint32) uint32 { return v ^ 1<<31 }
func negD(v uint64) uint64 { return v ^ 1<<63 }
