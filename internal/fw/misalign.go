package fw

import (
	"encoding/binary"

	"github.com/nbdd0121/muntjac-soc/internal/hw"
	"github.com/nbdd0121/muntjac-soc/internal/insn"
)

// loadInstruction reads and decodes the instruction at the trapped PC using
// the instruction-fetch memory probe. It returns the raw bits, the decoded
// op and the encoding length.
func (fw *Firmware) loadInstruction(h *hw.Hart, ctx *Context) (uint32, insn.Op, uint64, *TrapInfo) {
	lo, trap := fw.loadU16Exec(h, ctx, ctx.PC)
	if trap != nil {
		return 0, insn.Op{}, 0, trap
	}
	if lo&3 != 3 {
		return uint32(lo), insn.DecodeCompressed(lo), 2, nil
	}
	hi, trap := fw.loadU16Exec(h, ctx, ctx.PC+2)
	if trap != nil {
		return 0, insn.Op{}, 0, trap
	}
	bits := uint32(lo) | uint32(hi)<<16
	return bits, insn.Decode(bits), 4, nil
}

// handleMisalignedRead emulates a misaligned load. The faulting address is
// in mtval; the instruction is fetched from the trapped PC and the access is
// carried out byte by byte through the safe memory probes.
func (fw *Firmware) handleMisalignedRead(hartID int, ctx *Context) *TrapInfo {
	h := fw.harts[hartID]
	addr := h.Mtval

	_, op, size, trap := fw.loadInstruction(h, ctx)
	if trap != nil {
		return trap
	}

	var buf [8]byte
	load := func(n int) *TrapInfo {
		return fw.loadBytes(h, ctx, buf[:n], addr)
	}

	switch op.Kind {
	case insn.KindLh:
		if trap := load(2); trap != nil {
			return trap
		}
		ctx.WriteReg(op.Rd, uint64(int64(int16(binary.LittleEndian.Uint16(buf[:])))))
	case insn.KindLw:
		if trap := load(4); trap != nil {
			return trap
		}
		ctx.WriteReg(op.Rd, uint64(int64(int32(binary.LittleEndian.Uint32(buf[:])))))
	case insn.KindLd:
		if trap := load(8); trap != nil {
			return trap
		}
		ctx.WriteReg(op.Rd, binary.LittleEndian.Uint64(buf[:]))
	case insn.KindLhu:
		if trap := load(2); trap != nil {
			return trap
		}
		ctx.WriteReg(op.Rd, uint64(binary.LittleEndian.Uint16(buf[:])))
	case insn.KindLwu:
		if trap := load(4); trap != nil {
			return trap
		}
		ctx.WriteReg(op.Rd, uint64(binary.LittleEndian.Uint32(buf[:])))
	default:
		// Not a load we know how to widen; reflect the misalign.
		return &TrapInfo{Cause: hw.CauseLoadAddrMisaligned, Tval: addr}
	}

	ctx.PC += size
	return nil
}

// handleMisalignedWrite emulates a misaligned store.
func (fw *Firmware) handleMisalignedWrite(hartID int, ctx *Context) *TrapInfo {
	h := fw.harts[hartID]
	addr := h.Mtval

	_, op, size, trap := fw.loadInstruction(h, ctx)
	if trap != nil {
		return trap
	}

	var buf [8]byte
	switch op.Kind {
	case insn.KindSh:
		binary.LittleEndian.PutUint16(buf[:], uint16(ctx.ReadReg(op.Rs2)))
		if trap := fw.storeBytes(h, ctx, addr, buf[:2]); trap != nil {
			return trap
		}
	case insn.KindSw:
		binary.LittleEndian.PutUint32(buf[:], uint32(ctx.ReadReg(op.Rs2)))
		if trap := fw.storeBytes(h, ctx, addr, buf[:4]); trap != nil {
			return trap
		}
	case insn.KindSd:
		binary.LittleEndian.PutUint64(buf[:], ctx.ReadReg(op.Rs2))
		if trap := fw.storeBytes(h, ctx, addr, buf[:8]); trap != nil {
			return trap
		}
	default:
		return &TrapInfo{Cause: hw.CauseStoreAddrMisaligned, Tval: addr}
	}

	ctx.PC += size
	return nil
}
