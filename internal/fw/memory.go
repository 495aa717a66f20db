package fw

import "github.com/nbdd0121/muntjac-soc/internal/hw"

// Safe supervisor-memory probes. Every access translates through the
// supervisor's address space (the trapped context's privilege, SUM and MXR
// and the hart's satp) and reports faults as TrapInfo values instead of
// taking the machine down. Instruction reads force MXR so execute-only
// pages can be decoded.

func (fw *Firmware) translateEnv(h *hw.Hart, ctx *Context, fetch bool) hw.TranslateEnv {
	return hw.TranslateEnv{
		Satp: h.Satp,
		Priv: uint8((ctx.Mstatus >> hw.MstatusMPPShift) & 3),
		SUM:  ctx.Mstatus&hw.MstatusSUM != 0,
		MXR:  fetch || ctx.Mstatus&hw.MstatusMXR != 0,
	}
}

// loadU16Exec reads two bytes of instruction memory at a supervisor virtual
// address.
func (fw *Firmware) loadU16Exec(h *hw.Hart, ctx *Context, addr uint64) (uint16, *TrapInfo) {
	paddr, err := hw.Translate(fw.bus, fw.translateEnv(h, ctx, true), addr, hw.AccessRead)
	if err != nil {
		return 0, trapFromException(err)
	}
	val, err := fw.bus.Read16(paddr)
	if err != nil {
		return 0, &TrapInfo{Cause: hw.CauseLoadAccessFault, Tval: addr}
	}
	return val, nil
}

// loadU16 reads an aligned halfword.
func (fw *Firmware) loadU16(h *hw.Hart, ctx *Context, addr uint64) (uint16, *TrapInfo) {
	paddr, err := hw.Translate(fw.bus, fw.translateEnv(h, ctx, false), addr, hw.AccessRead)
	if err != nil {
		return 0, trapFromException(err)
	}
	val, err := fw.bus.Read16(paddr)
	if err != nil {
		return 0, &TrapInfo{Cause: hw.CauseLoadAccessFault, Tval: addr}
	}
	return val, nil
}

// loadU32 reads an aligned word.
func (fw *Firmware) loadU32(h *hw.Hart, ctx *Context, addr uint64) (uint32, *TrapInfo) {
	paddr, err := hw.Translate(fw.bus, fw.translateEnv(h, ctx, false), addr, hw.AccessRead)
	if err != nil {
		return 0, trapFromException(err)
	}
	val, err := fw.bus.Read32(paddr)
	if err != nil {
		return 0, &TrapInfo{Cause: hw.CauseLoadAccessFault, Tval: addr}
	}
	return val, nil
}

// loadU64 reads an aligned doubleword.
func (fw *Firmware) loadU64(h *hw.Hart, ctx *Context, addr uint64) (uint64, *TrapInfo) {
	paddr, err := hw.Translate(fw.bus, fw.translateEnv(h, ctx, false), addr, hw.AccessRead)
	if err != nil {
		return 0, trapFromException(err)
	}
	val, err := fw.bus.Read64(paddr)
	if err != nil {
		return 0, &TrapInfo{Cause: hw.CauseLoadAccessFault, Tval: addr}
	}
	return val, nil
}

// storeU32 writes an aligned word.
func (fw *Firmware) storeU32(h *hw.Hart, ctx *Context, addr uint64, value uint32) *TrapInfo {
	paddr, err := hw.Translate(fw.bus, fw.translateEnv(h, ctx, false), addr, hw.AccessWrite)
	if err != nil {
		return trapFromException(err)
	}
	if err := fw.bus.Write32(paddr, value); err != nil {
		return &TrapInfo{Cause: hw.CauseStoreAccessFault, Tval: addr}
	}
	return nil
}

// storeU64 writes an aligned doubleword.
func (fw *Firmware) storeU64(h *hw.Hart, ctx *Context, addr uint64, value uint64) *TrapInfo {
	paddr, err := hw.Translate(fw.bus, fw.translateEnv(h, ctx, false), addr, hw.AccessWrite)
	if err != nil {
		return trapFromException(err)
	}
	if err := fw.bus.Write64(paddr, value); err != nil {
		return &TrapInfo{Cause: hw.CauseStoreAccessFault, Tval: addr}
	}
	return nil
}

// loadBytes copies from a supervisor address into buf, one byte at a time so
// arbitrary alignment and page boundaries are handled. The trap value of a
// fault is the address of the failing byte.
func (fw *Firmware) loadBytes(h *hw.Hart, ctx *Context, buf []byte, addr uint64) *TrapInfo {
	env := fw.translateEnv(h, ctx, false)
	for i := range buf {
		paddr, err := hw.Translate(fw.bus, env, addr+uint64(i), hw.AccessRead)
		if err != nil {
			return trapFromException(err)
		}
		b, err := fw.bus.Read8(paddr)
		if err != nil {
			return &TrapInfo{Cause: hw.CauseLoadAccessFault, Tval: addr + uint64(i)}
		}
		buf[i] = b
	}
	return nil
}

// storeBytes copies buf to a supervisor address, one byte at a time.
func (fw *Firmware) storeBytes(h *hw.Hart, ctx *Context, addr uint64, buf []byte) *TrapInfo {
	env := fw.translateEnv(h, ctx, false)
	for i, b := range buf {
		paddr, err := hw.Translate(fw.bus, env, addr+uint64(i), hw.AccessWrite)
		if err != nil {
			return trapFromException(err)
		}
		if err := fw.bus.Write8(paddr, b); err != nil {
			return &TrapInfo{Cause: hw.CauseStoreAccessFault, Tval: addr + uint64(i)}
		}
	}
	return nil
}
