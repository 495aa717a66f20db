package hw

import (
	"io"
	"sync"
)

// Register offsets of the SoC's 16550 UART. Registers are spaced 4 bytes
// apart on the 32-bit peripheral bus.
const (
	UARTRegRBR = 0x00 // receive buffer (read) / transmit holding (write) / DLL with DLAB
	UARTRegDLM = 0x04 // divisor latch high with DLAB / IER otherwise
	UARTRegFCR = 0x08 // FIFO control (write)
	UARTRegLCR = 0x0c // line control
	UARTRegMCR = 0x10 // modem control
	UARTRegLSR = 0x14 // line status

	UARTSize uint64 = 0x1000

	UARTLCRDLAB = 1 << 7

	UARTLSRDataReady = 1 << 0
	UARTLSRTHRE      = 1 << 5
	UARTLSRTEMT      = 1 << 6
)

// UART8250 is a 16550-compatible UART device model. Transmitted bytes go to
// out; received bytes are pushed with PushInput and drained through RBR.
type UART8250 struct {
	mu  sync.Mutex
	out io.Writer

	dll byte
	dlm byte
	ier byte
	fcr byte
	lcr byte
	mcr byte

	rx []byte
}

// NewUART8250 creates a UART writing transmitted bytes to out. A nil out
// discards them.
func NewUART8250(out io.Writer) *UART8250 {
	return &UART8250{out: out}
}

// PushInput queues received bytes for the guest to read.
func (u *UART8250) PushInput(data []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rx = append(u.rx, data...)
}

// Divisor returns the programmed baud divisor.
func (u *UART8250) Divisor() uint16 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return uint16(u.dlm)<<8 | uint16(u.dll)
}

// LCR returns the programmed line control value (without DLAB).
func (u *UART8250) LCR() byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lcr &^ UARTLCRDLAB
}

// Size implements Device.
func (u *UART8250) Size() uint64 {
	return UARTSize
}

// Read implements Device.
func (u *UART8250) Read(offset uint64, size int) (uint64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch offset {
	case UARTRegRBR:
		if u.lcr&UARTLCRDLAB != 0 {
			return uint64(u.dll), nil
		}
		if len(u.rx) == 0 {
			return 0, nil
		}
		b := u.rx[0]
		u.rx = u.rx[1:]
		return uint64(b), nil
	case UARTRegDLM:
		if u.lcr&UARTLCRDLAB != 0 {
			return uint64(u.dlm), nil
		}
		return uint64(u.ier), nil
	case UARTRegLCR:
		return uint64(u.lcr), nil
	case UARTRegMCR:
		return uint64(u.mcr), nil
	case UARTRegLSR:
		lsr := uint64(UARTLSRTHRE | UARTLSRTEMT)
		if len(u.rx) > 0 {
			lsr |= UARTLSRDataReady
		}
		return lsr, nil
	}
	return 0, nil
}

// Write implements Device.
func (u *UART8250) Write(offset uint64, size int, value uint64) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch offset {
	case UARTRegRBR:
		if u.lcr&UARTLCRDLAB != 0 {
			u.dll = byte(value)
			return nil
		}
		if u.out != nil {
			if _, err := u.out.Write([]byte{byte(value)}); err != nil {
				return err
			}
		}
	case UARTRegDLM:
		if u.lcr&UARTLCRDLAB != 0 {
			u.dlm = byte(value)
			return nil
		}
		u.ier = byte(value)
	case UARTRegFCR:
		u.fcr = byte(value)
		if u.fcr&0b10 != 0 {
			u.rx = nil
		}
	case UARTRegLCR:
		u.lcr = byte(value)
	case UARTRegMCR:
		u.mcr = byte(value)
	}
	return nil
}

var _ Device = (*UART8250)(nil)
