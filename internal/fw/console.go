package fw

import "github.com/nbdd0121/muntjac-soc/internal/hw"

// 16550 console driver. The SoC exposes the UART on the 32-bit peripheral
// bus with registers 4 bytes apart.

// ConsoleConfig is the line configuration of the console UART.
type ConsoleConfig struct {
	Divisor uint16
	LCR     uint8
}

func (fw *Firmware) uartReg(offset uint64) uint64 {
	return fw.params.UARTBase + offset
}

// ConsoleInit resets the UART FIFOs and programs the configured line mode.
func (fw *Firmware) ConsoleInit() {
	fw.bus.Write32(fw.uartReg(hw.UARTRegFCR), 0b111)
	fw.ConsoleSetMode(ConsoleConfig{
		Divisor: fw.params.UARTDivisor,
		LCR:     fw.params.UARTLCR,
	})
}

// ConsoleSetMode programs the divisor latch and line control register.
func (fw *Firmware) ConsoleSetMode(cfg ConsoleConfig) {
	fw.bus.Write32(fw.uartReg(hw.UARTRegLCR), uint32(cfg.LCR)|hw.UARTLCRDLAB)
	fw.bus.Write32(fw.uartReg(hw.UARTRegRBR), uint32(cfg.Divisor&0xff))
	fw.bus.Write32(fw.uartReg(hw.UARTRegDLM), uint32(cfg.Divisor>>8))
	fw.bus.Write32(fw.uartReg(hw.UARTRegLCR), uint32(cfg.LCR))
}

// ConsoleGetMode reads back the programmed line configuration.
func (fw *Firmware) ConsoleGetMode() ConsoleConfig {
	lcr, _ := fw.bus.Read32(fw.uartReg(hw.UARTRegLCR))
	lcr &^= hw.UARTLCRDLAB
	fw.bus.Write32(fw.uartReg(hw.UARTRegLCR), lcr|hw.UARTLCRDLAB)
	dll, _ := fw.bus.Read32(fw.uartReg(hw.UARTRegRBR))
	dlm, _ := fw.bus.Read32(fw.uartReg(hw.UARTRegDLM))
	fw.bus.Write32(fw.uartReg(hw.UARTRegLCR), lcr)
	return ConsoleConfig{
		Divisor: uint16(dlm)<<8 | uint16(dll),
		LCR:     uint8(lcr),
	}
}

// ConsolePutchar transmits one byte, waiting for transmitter space.
func (fw *Firmware) ConsolePutchar(b byte) {
	for {
		lsr, _ := fw.bus.Read32(fw.uartReg(hw.UARTRegLSR))
		if lsr&hw.UARTLSRTHRE != 0 {
			break
		}
	}
	fw.bus.Write32(fw.uartReg(hw.UARTRegRBR), uint32(b))
}

// ConsoleGetchar returns a buffered received byte, or -1 when none is
// pending.
func (fw *Firmware) ConsoleGetchar() int {
	lsr, _ := fw.bus.Read32(fw.uartReg(hw.UARTRegLSR))
	if lsr&hw.UARTLSRDataReady == 0 {
		return -1
	}
	data, _ := fw.bus.Read32(fw.uartReg(hw.UARTRegRBR))
	return int(data & 0xff)
}

// consoleWriter adapts the console to io.Writer for the firmware logger.
// The console lock is held for the duration of one formatted line.
type consoleWriter struct {
	fw *Firmware
}

func (w *consoleWriter) Write(p []byte) (int, error) {
	w.fw.consoleMu.Lock()
	defer w.fw.consoleMu.Unlock()
	for _, b := range p {
		if b == '\n' {
			w.fw.ConsolePutchar('\r')
		}
		w.fw.ConsolePutchar(b)
	}
	return len(p), nil
}
