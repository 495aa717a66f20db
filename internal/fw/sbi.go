package fw

import "github.com/nbdd0121/muntjac-soc/internal/hw"

// SBI extension IDs
const (
	sbiExtBase   = 0x10
	sbiExtTimer  = 0x54494D45 // "TIME"
	sbiExtIPI    = 0x735049   // "sPI"
	sbiExtRFence = 0x52464E43 // "RFNC"
	sbiExtReset  = 0x53525354 // "SRST"
)

// SBI error codes
const (
	sbiSuccess           int64 = 0
	sbiErrFailed         int64 = -1
	sbiErrNotSupported   int64 = -2
	sbiErrInvalidParam   int64 = -3
	sbiErrDenied         int64 = -4
	sbiErrInvalidAddress int64 = -5
	sbiErrAlreadyAvail   int64 = -6
)

// FencePort is the per-hart fence backend: on silicon these execute the
// fence.i / sfence.vma instructions. The machine model records them so tests
// can observe remote fences landing on the right harts.
type FencePort interface {
	FenceI(hartID int)
	// SFenceVMA invalidates translations. page=true flushes only the page
	// at addr; page=false is a full flush. withASID limits either to asid.
	SFenceVMA(hartID int, addr uint64, asid uint64, page bool, withASID bool)
}

// SetFencePort installs the fence backend. A nil port makes fences no-ops.
func (fw *Firmware) SetFencePort(p FencePort) { fw.fence = p }

func (fw *Firmware) sbiSetTimer(hartID int, t uint64) int64 {
	h := fw.harts[hartID]
	// Unmask the machine timer interrupt and clear the pending supervisor
	// timer so the kernel sees exactly one event per programmed deadline.
	h.SetMie(hw.MipMTIP)
	h.ClearMip(hw.MipSTIP)
	fw.SetTimerU64(hartID, t)
	return sbiSuccess
}

func (fw *Firmware) sbiSendIPI(hartID int, mask HartMask) int64 {
	fw.RunOnHart(hartID, mask, func(target int) {
		// Runs on the target hart: raise its supervisor software
		// interrupt.
		fw.harts[target].SetMip(hw.MipSSIP)
	})
	return sbiSuccess
}

func (fw *Firmware) sbiRemoteFenceI(hartID int, mask HartMask) int64 {
	fw.RunOnHartWait(hartID, mask, func(target int) {
		if fw.fence != nil {
			fw.fence.FenceI(target)
		}
	})
	return sbiSuccess
}

func (fw *Firmware) sbiRemoteSFenceVMA(hartID int, mask HartMask, addr, size uint64) int64 {
	fw.RunOnHartWait(hartID, mask, func(target int) {
		if fw.fence == nil {
			return
		}
		if size == 4096 {
			fw.fence.SFenceVMA(target, addr, 0, true, false)
		} else {
			fw.fence.SFenceVMA(target, 0, 0, false, false)
		}
	})
	return sbiSuccess
}

func (fw *Firmware) sbiRemoteSFenceVMAASID(hartID int, mask HartMask, addr, size, asid uint64) int64 {
	fw.RunOnHartWait(hartID, mask, func(target int) {
		if fw.fence == nil {
			return
		}
		if size == 4096 {
			fw.fence.SFenceVMA(target, addr, asid, true, true)
		} else {
			fw.fence.SFenceVMA(target, 0, asid, false, true)
		}
	})
	return sbiSuccess
}

func (fw *Firmware) sbiSystemReset(hartID int, resetType, resetReason uint64) int64 {
	switch resetType {
	case 0:
		fw.panicHalt(hartID, "shutdown")
	case 1:
		fw.panicHalt(hartID, "cold reboot")
	case 2:
		fw.panicHalt(hartID, "warm reboot")
	}
	return sbiErrInvalidParam
}

func (fw *Firmware) sbiProbeExtension(ext int64) int64 {
	switch ext {
	case sbiExtTimer, sbiExtIPI, sbiExtRFence, sbiExtReset:
		return 1
	}
	return 0
}

// loadMask loads a legacy mask word from supervisor memory. A null pointer
// selects every hart.
func (fw *Firmware) loadMask(hartID int, ctx *Context, addr uint64) uint64 {
	if addr == 0 {
		return ^uint64(0)
	}
	v, trap := fw.loadU64(fw.harts[hartID], ctx, addr)
	if trap != nil {
		fw.panicHalt(hartID, "legacy SBI mask load faulted", "addr", addr)
	}
	return v
}

// handleSBINonlegacy dispatches a7/a6-selected extensions. It returns the
// error code and value for a0/a1.
func (fw *Firmware) handleSBINonlegacy(hartID int, ctx *Context) (int64, uint64) {
	ext := int64(ctx.Registers[17])
	fid := ctx.Registers[16]
	a := ctx.Registers[10:16]

	switch ext {
	case sbiExtBase:
		switch fid {
		case 0:
			// Spec version 0.2
			return sbiSuccess, 0<<24 | 2
		case 3:
			return sbiSuccess, uint64(fw.sbiProbeExtension(int64(a[0])))
		case 4, 5, 6:
			// mvendorid / marchid / mimpid
			return sbiSuccess, 0
		}
	case sbiExtTimer:
		if fid == 0 {
			return fw.sbiSetTimer(hartID, a[0]), 0
		}
	case sbiExtIPI:
		if fid == 0 {
			return fw.sbiSendIPI(hartID, HartMask{Mask: a[0], Base: a[1]}), 0
		}
	case sbiExtRFence:
		mask := HartMask{Mask: a[0], Base: a[1]}
		switch fid {
		case 0:
			return fw.sbiRemoteFenceI(hartID, mask), 0
		case 1:
			return fw.sbiRemoteSFenceVMA(hartID, mask, a[2], a[3]), 0
		case 2:
			return fw.sbiRemoteSFenceVMAASID(hartID, mask, a[2], a[3], a[4]), 0
		}
	case sbiExtReset:
		if fid == 0 {
			return fw.sbiSystemReset(hartID, a[0], a[1]), 0
		}
	}
	return sbiErrNotSupported, 0
}

// handleSBILegacy dispatches the v0.1 calls selected directly by a7. It
// returns the single a0 result.
func (fw *Firmware) handleSBILegacy(hartID int, ctx *Context) int64 {
	a0 := ctx.Registers[10]

	switch ctx.Registers[17] {
	case 0:
		return fw.sbiSetTimer(hartID, a0)
	case 1:
		fw.consoleMu.Lock()
		fw.ConsolePutchar(byte(a0))
		fw.consoleMu.Unlock()
		return sbiSuccess
	case 2:
		fw.consoleMu.Lock()
		v := fw.ConsoleGetchar()
		fw.consoleMu.Unlock()
		if v < 0 {
			return sbiErrFailed
		}
		return int64(v)
	case 3:
		// clear_ipi
		fw.harts[hartID].ClearMip(hw.MipSSIP)
		return sbiSuccess
	case 4:
		mask := fw.loadMask(hartID, ctx, a0)
		return fw.sbiSendIPI(hartID, HartMask{Mask: mask})
	case 5:
		mask := fw.loadMask(hartID, ctx, a0)
		return fw.sbiRemoteFenceI(hartID, HartMask{Mask: mask})
	case 6:
		mask := fw.loadMask(hartID, ctx, a0)
		return fw.sbiRemoteSFenceVMA(hartID, HartMask{Mask: mask},
			ctx.Registers[11], ctx.Registers[12])
	case 7:
		mask := fw.loadMask(hartID, ctx, a0)
		return fw.sbiRemoteSFenceVMAASID(hartID, HartMask{Mask: mask},
			ctx.Registers[11], ctx.Registers[12], ctx.Registers[13])
	case 8:
		return fw.sbiSystemReset(hartID, 0, 0)
	}
	return sbiErrNotSupported
}

// HandleSBI services an ecall from supervisor mode. Legacy extensions
// return a single value in a0; everything else returns (error, value) in
// (a0, a1).
func (fw *Firmware) HandleSBI(hartID int, ctx *Context) {
	if ctx.Registers[17] <= 0x0F {
		ctx.Registers[10] = uint64(fw.handleSBILegacy(hartID, ctx))
		return
	}
	err, val := fw.handleSBINonlegacy(hartID, ctx)
	ctx.Registers[10] = uint64(err)
	ctx.Registers[11] = val
}
