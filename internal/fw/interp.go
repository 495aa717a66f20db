package fw

import (
	"github.com/nbdd0121/muntjac-soc/internal/hw"
	"github.com/nbdd0121/muntjac-soc/internal/insn"
)

// readCSR performs an emulated CSR read.
func (fw *Firmware) readCSR(hartID int, ctx *Context, csr uint16) (uint64, *TrapInfo) {
	switch csr {
	case hw.CSRTime:
		return fw.TimeU64(), nil
	case hw.CSRFflags, hw.CSRFrm, hw.CSRFcsr:
		if fw.locals[hartID].fp.mode == FPFull {
			return 0, &TrapInfo{Cause: hw.CauseIllegalInsn}
		}
		return fw.readFPCSR(hartID, ctx, csr)
	}
	return 0, &TrapInfo{Cause: hw.CauseIllegalInsn}
}

// writeCSR performs an emulated CSR write.
func (fw *Firmware) writeCSR(hartID int, ctx *Context, csr uint16, value uint64) *TrapInfo {
	switch csr {
	case hw.CSRFflags, hw.CSRFrm, hw.CSRFcsr:
		if fw.locals[hartID].fp.mode == FPFull {
			return &TrapInfo{Cause: hw.CauseIllegalInsn}
		}
		return fw.writeFPCSR(hartID, ctx, csr, value)
	}
	return &TrapInfo{Cause: hw.CauseIllegalInsn}
}

// step emulates one decoded instruction against the trap context: a CSR
// access, or an FP op when the hardware cannot execute it. Anything else is
// an illegal instruction for the supervisor to handle.
func (fw *Firmware) step(hartID int, ctx *Context, op *insn.Op) *TrapInfo {
	switch op.Kind {
	case insn.KindCsrrw:
		var result uint64
		if op.Rd != 0 {
			v, trap := fw.readCSR(hartID, ctx, op.CSR)
			if trap != nil {
				return trap
			}
			result = v
		}
		if trap := fw.writeCSR(hartID, ctx, op.CSR, ctx.ReadReg(op.Rs1)); trap != nil {
			return trap
		}
		ctx.WriteReg(op.Rd, result)

	case insn.KindCsrrs:
		result, trap := fw.readCSR(hartID, ctx, op.CSR)
		if trap != nil {
			return trap
		}
		if op.Rs1 != 0 {
			if trap := fw.writeCSR(hartID, ctx, op.CSR, result|ctx.ReadReg(op.Rs1)); trap != nil {
				return trap
			}
		}
		ctx.WriteReg(op.Rd, result)

	case insn.KindCsrrc:
		result, trap := fw.readCSR(hartID, ctx, op.CSR)
		if trap != nil {
			return trap
		}
		if op.Rs1 != 0 {
			if trap := fw.writeCSR(hartID, ctx, op.CSR, result&^ctx.ReadReg(op.Rs1)); trap != nil {
				return trap
			}
		}
		ctx.WriteReg(op.Rd, result)

	case insn.KindCsrrwi:
		var result uint64
		if op.Rd != 0 {
			v, trap := fw.readCSR(hartID, ctx, op.CSR)
			if trap != nil {
				return trap
			}
			result = v
		}
		if trap := fw.writeCSR(hartID, ctx, op.CSR, uint64(op.Rs1)); trap != nil {
			return trap
		}
		ctx.WriteReg(op.Rd, result)

	case insn.KindCsrrsi:
		result, trap := fw.readCSR(hartID, ctx, op.CSR)
		if trap != nil {
			return trap
		}
		if op.Rs1 != 0 {
			if trap := fw.writeCSR(hartID, ctx, op.CSR, result|uint64(op.Rs1)); trap != nil {
				return trap
			}
		}
		ctx.WriteReg(op.Rd, result)

	case insn.KindCsrrci:
		result, trap := fw.readCSR(hartID, ctx, op.CSR)
		if trap != nil {
			return trap
		}
		if op.Rs1 != 0 {
			if trap := fw.writeCSR(hartID, ctx, op.CSR, result&^uint64(op.Rs1)); trap != nil {
				return trap
			}
		}
		ctx.WriteReg(op.Rd, result)

	default:
		if op.IsFP() && fw.locals[hartID].fp.mode != FPFull {
			return fw.stepFP(hartID, ctx, op)
		}
		return &TrapInfo{Cause: hw.CauseIllegalInsn}
	}

	return nil
}
