// Package fw implements the machine-mode firmware core: trap dispatch and
// emulation, inter-hart IPIs, the supervisor-callable firmware ABI and the
// safe supervisor-memory probes everything else is built on. Hardware is
// reached exclusively through the hw package, so the whole core can be
// driven from tests with harts running as goroutines.
package fw

import (
	"fmt"
	"strings"

	"github.com/nbdd0121/muntjac-soc/internal/hw"
)

// MaxHarts is the maximum number of harts the platform can carry.
const MaxHarts = 4

// bootHartID is the hart that runs the boot sequence; the others stay
// parked until it wakes them.
const bootHartID = 0

// Context is the integer state saved by the trap entry glue: the 31
// general-purpose registers (index 0 is hardwired zero), the faulting PC and
// the machine-status snapshot taken at trap entry.
type Context struct {
	Registers [32]uint64
	PC        uint64
	Mstatus   uint64
}

// ReadReg reads a general-purpose register. x0 always reads zero.
func (c *Context) ReadReg(reg uint32) uint64 {
	if reg == 0 {
		return 0
	}
	return c.Registers[reg]
}

// WriteReg writes a general-purpose register. Writes to x0 are discarded.
func (c *Context) WriteReg(reg uint32, val uint64) {
	if reg != 0 {
		c.Registers[reg] = val
	}
}

var regNames = [32]string{
	"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7", "x8", "x9", "x10",
	"x11", "x12", "x13", "x14", "x15", "x16", "x17", "x18", "x19", "x20",
	"x21", "x22", "x23", "x24", "x25", "x26", "x27", "x28", "x29", "x30",
	"x31",
}

// String formats the register file for panic dumps.
func (c *Context) String() string {
	var sb strings.Builder
	for i := 1; i < 32; i++ {
		fmt.Fprintf(&sb, "%s=%#x ", regNames[i], c.Registers[i])
	}
	fmt.Fprintf(&sb, "pc=%#x mstatus=%#x", c.PC, c.Mstatus)
	return sb.String()
}

// TrapInfo is the outcome of an emulation step that must be reflected to the
// supervisor: a cause code and the associated trap value, with the meanings
// the privileged spec assigns to the corresponding cause.
type TrapInfo struct {
	Cause uint64
	Tval  uint64
}

func (t TrapInfo) String() string {
	return fmt.Sprintf("cause=%#x tval=%#x", t.Cause, t.Tval)
}

func trapFromException(err error) *TrapInfo {
	if exc, ok := err.(hw.Exception); ok {
		return &TrapInfo{Cause: exc.Cause, Tval: exc.Tval}
	}
	return &TrapInfo{Cause: hw.CauseLoadAccessFault}
}
