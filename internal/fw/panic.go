package fw

import "log/slog"

// panicHalt is the terminal failure path for firmware-internal invariant
// violations: log the failure, send every other hart to sleep, and park the
// calling hart with interrupts disabled so a debugger can inspect the
// machine. It never returns.
func (fw *Firmware) panicHalt(hartID int, msg string, args ...any) {
	local := &fw.locals[hartID]
	local.panicCount++
	if local.panicCount > 1 {
		// Panic while panicking; park without touching anything else.
		fw.park(hartID)
	}

	fw.log.Error("firmware panic", append([]any{slog.Int("hart", hartID), slog.String("reason", msg)}, args...)...)

	fw.RunOnHart(hartID, AllHarts, func(target int) {
		if target != hartID {
			fw.park(target)
		}
	})
	fw.park(hartID)
}
