package fw

import (
	"time"

	"github.com/nbdd0121/muntjac-soc/internal/hw"
)

// TimeU64 reads the 64-bit machine timer. The peripheral bus is 32 bits
// wide, so the high half is read twice to detect a carry between halves.
func (fw *Firmware) TimeU64() uint64 {
	base := fw.params.CLINTBase + hw.CLINTMtime
	for {
		hi, _ := fw.bus.Read32(base + 4)
		lo, _ := fw.bus.Read32(base)
		hi2, _ := fw.bus.Read32(base + 4)
		if hi == hi2 {
			return uint64(hi)<<32 | uint64(lo)
		}
	}
}

// SetTimerU64 writes a hart's timer-compare register.
func (fw *Firmware) SetTimerU64(hartID int, t uint64) {
	fw.bus.Write64(fw.params.CLINTBase+hw.CLINTMtimecmp+uint64(hartID)*8, t)
}

// Time returns the machine timer as a duration. The timer ticks at 1 MHz.
func (fw *Firmware) Time() time.Duration {
	return time.Duration(fw.TimeU64()) * time.Microsecond
}
