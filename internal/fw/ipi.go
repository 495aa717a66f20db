package fw

import (
	"runtime"
	"sync"

	"github.com/nbdd0121/muntjac-soc/internal/hw"
)

// The IPI core is a cross-hart function-call dispatcher built on the CLINT
// software-interrupt pins. Each hart owns a single-slot mailbox; any hart
// may post to it, only the owner takes from it. A sender that finds the slot
// occupied spins while absorbing IPIs aimed at itself, which is what keeps
// two harts posting to each other from deadlocking.

type ipiSlot struct {
	mu sync.Mutex
	// fn receives the ID of the hart it executes on.
	fn func(hartID int)
	// src is the sender hart expecting an ack, or -1 for fire-and-forget.
	src int
}

// HartCount returns the number of harts probed from the CLINT.
func (fw *Firmware) HartCount() int {
	return int(fw.hartCount.Load())
}

// probeHart checks whether a hart's timer-compare register round-trips two
// distinct sentinel values.
func (fw *Firmware) probeHart(hart int) bool {
	addr := fw.params.CLINTBase + hw.CLINTMtimecmp + uint64(hart)*8
	for _, sentinel := range []uint64{^uint64(0) - 1, ^uint64(0)} {
		if err := fw.bus.Write64(addr, sentinel); err != nil {
			return false
		}
		val, err := fw.bus.Read64(addr)
		if err != nil || val != sentinel {
			return false
		}
	}
	return true
}

// ProbeHartCount counts harts by probing CLINT timer-compare registers,
// clamped at MaxHarts. Hart 0 is the probing hart and always exists.
func (fw *Firmware) ProbeHartCount() {
	count := MaxHarts
	for i := 1; i < MaxHarts; i++ {
		if !fw.probeHart(i) {
			count = i
			break
		}
	}
	fw.log.Info("cores probed from CLINT", "count", count)
	fw.hartCount.Store(int32(count))
}

// SetMSIP raises or clears a hart's software-interrupt pin.
func (fw *Firmware) SetMSIP(hartID int, value bool) {
	if hartID >= fw.HartCount() {
		fw.panicHalt(hartID, "IPI to nonexistent hart", "target", hartID)
	}
	v := uint64(0)
	if value {
		v = 1
	}
	fw.bus.Write32(fw.params.CLINTBase+hw.CLINTMsip+uint64(hartID)*4, uint32(v))
}

// pollSelf absorbs an IPI aimed at the calling hart, if one is pending.
// Spin loops call this each iteration; it is the moral equivalent of
// briefly re-enabling interrupts.
func (fw *Firmware) pollSelf(hartID int) {
	if fw.clint.MsipPending(hartID) {
		fw.ProcessIPI(hartID)
	}
	runtime.Gosched()
}

// runOnHartCommon posts fn to every selected hart and returns the number of
// remote dispatches. If the mask selects the caller, fn runs locally after
// all remote posts so the local execution never blocks a peer.
func (fw *Firmware) runOnHartCommon(hartID int, mask HartMask, fn func(hartID int), wait bool) uint32 {
	var waitNum uint32
	runLocal := false

	for target := 0; target < fw.HartCount(); target++ {
		if !mask.IsSet(uint64(target)) {
			continue
		}
		if target == hartID {
			runLocal = true
			continue
		}

		waitNum++

		slot := &fw.ipi[target]
		for {
			slot.mu.Lock()
			if slot.fn == nil {
				slot.fn = fn
				if wait {
					slot.src = hartID
				} else {
					slot.src = -1
				}
				slot.mu.Unlock()
				break
			}
			// Someone already posted to this hart and it hasn't been
			// taken yet. Busy-wait, absorbing IPIs aimed at us.
			slot.mu.Unlock()
			fw.pollSelf(hartID)
		}

		fw.SetMSIP(target, true)
	}

	if runLocal {
		fn(hartID)
	}

	return waitNum
}

// RunOnHart schedules fn to run once on every hart selected by mask, with no
// completion synchronization. fn must not fail and must not block.
func (fw *Firmware) RunOnHart(hartID int, mask HartMask, fn func(hartID int)) {
	fw.runOnHartCommon(hartID, mask, fn, false)
}

// RunOnHartWait schedules fn like RunOnHart and blocks until every selected
// hart has finished executing it. Because the caller blocks, fn may safely
// capture the caller's stack data.
func (fw *Firmware) RunOnHartWait(hartID int, mask HartMask, fn func(hartID int)) {
	waitNum := fw.runOnHartCommon(hartID, mask, fn, true)

	for fw.acks[hartID].Load() != waitNum {
		fw.pollSelf(hartID)
	}
	fw.acks[hartID].Store(0)
}

// ProcessIPI is the software-interrupt receive path: clear the pin, take the
// local slot, run the function, and ack the sender if one is waiting.
func (fw *Firmware) ProcessIPI(hartID int) {
	fw.SetMSIP(hartID, false)

	slot := &fw.ipi[hartID]
	slot.mu.Lock()
	fn, src := slot.fn, slot.src
	slot.fn, slot.src = nil, -1
	slot.mu.Unlock()

	if fn != nil {
		fn(hartID)
		if src >= 0 {
			// The add publishes fn's memory effects to the waiting
			// sender.
			fw.acks[src].Add(1)
		}
	}
}
