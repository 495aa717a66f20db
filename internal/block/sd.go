package block

import (
	"fmt"
	"time"

	"github.com/nbdd0121/muntjac-soc/internal/hw"
)

// SD-host controller register offsets (SDHCI layout).
const (
	sdRegBlockSize  = 0x04
	sdRegBlockCount = 0x06
	sdRegArgument   = 0x08
	sdRegTransfer   = 0x0c
	sdRegCommand    = 0x0e
	sdRegResponse   = 0x10
	sdRegBufferPort = 0x20
	sdRegPresent    = 0x24
	sdRegPowerCtrl  = 0x29
	sdRegClockCtrl  = 0x2c
	sdRegSWReset    = 0x2f
	sdRegIntStatus  = 0x30
)

// Present-state bits.
const (
	sdPresentCmdInhibit  = 1 << 0
	sdPresentDataInhibit = 1 << 1
	sdPresentBufRead     = 1 << 11
)

// Interrupt-status bits.
const (
	sdIntCmdComplete  = 1 << 0
	sdIntXferComplete = 1 << 1
	sdIntBufReadReady = 1 << 5
	sdIntErrorMask    = 0xffff0000
)

// Command register encoding: index << 8 | response/data flags.
const (
	sdRespNone  = 0x0
	sdResp136   = 0x1
	sdResp48    = 0x2
	sdRespBusy  = 0x3
	sdFlagData  = 1 << 5
	sdFlagIndex = 1 << 4
	sdFlagCRC   = 1 << 3
)

// SD drives an SD card behind an SDHCI-style host controller mapped on the
// peripheral bus. Only reads are supported; the boot path never writes.
type SD struct {
	bus  *hw.Bus
	base uint64

	rca  uint32
	hc   bool
	size int64
}

// NewSD initializes the card behind the controller at base: power and clock
// bring-up, then the CMD0/CMD8/ACMD41/CMD2/CMD3/CMD7 identification dance,
// finishing with a 512-byte block length.
func NewSD(bus *hw.Bus, base uint64) (*SD, error) {
	sd := &SD{bus: bus, base: base}

	// Reset the controller and power the bus at 3.3V.
	bus.Write8(base+sdRegSWReset, 0x01)
	bus.Write8(base+sdRegPowerCtrl, 0x0f)
	// Enable the internal clock at the identification rate and wait for it
	// to settle.
	bus.Write16(base+sdRegClockCtrl, 0x8001)
	deadline := time.Now().Add(time.Second)
	for {
		v, _ := bus.Read16(base + sdRegClockCtrl)
		if v&0x0002 != 0 {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("sd: clock failed to stabilize")
		}
	}
	// SD clock enable.
	bus.Write16(base+sdRegClockCtrl, 0x8005)

	// CMD0: go idle.
	if _, err := sd.command(0, 0, sdRespNone, false); err != nil {
		return nil, fmt.Errorf("sd: CMD0: %w", err)
	}
	// CMD8: voltage check; cards predating v2 do not answer.
	v2 := true
	if resp, err := sd.command(8, 0x1aa, sdResp48, false); err != nil {
		v2 = false
	} else if resp&0xfff != 0x1aa {
		return nil, fmt.Errorf("sd: CMD8 echo mismatch: %#x", resp)
	}

	// ACMD41 until the card leaves the busy state.
	arg := uint32(0x00ff8000)
	if v2 {
		arg |= 1 << 30 // host supports high capacity
	}
	deadline = time.Now().Add(time.Second)
	var ocr uint32
	for {
		if _, err := sd.command(55, 0, sdResp48, false); err != nil {
			return nil, fmt.Errorf("sd: CMD55: %w", err)
		}
		resp, err := sd.command(41, arg, sdResp48, false)
		if err != nil {
			return nil, fmt.Errorf("sd: ACMD41: %w", err)
		}
		ocr = resp
		if ocr&(1<<31) != 0 {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("sd: card stuck busy")
		}
	}
	sd.hc = ocr&(1<<30) != 0

	// CMD2 (identify) and CMD3 (publish address).
	if _, err := sd.command(2, 0, sdResp136, false); err != nil {
		return nil, fmt.Errorf("sd: CMD2: %w", err)
	}
	resp, err := sd.command(3, 0, sdResp48, false)
	if err != nil {
		return nil, fmt.Errorf("sd: CMD3: %w", err)
	}
	sd.rca = resp & 0xffff0000

	// CMD9: read CSD for the capacity before selecting the card.
	csdLo, err := sd.command(9, sd.rca, sdResp136, false)
	if err != nil {
		return nil, fmt.Errorf("sd: CMD9: %w", err)
	}
	sd.size = sd.capacityFromCSD(csdLo)

	// CMD7: select.
	if _, err := sd.command(7, sd.rca, sdRespBusy, false); err != nil {
		return nil, fmt.Errorf("sd: CMD7: %w", err)
	}
	// CMD16: fix the block length for standard-capacity cards.
	if !sd.hc {
		if _, err := sd.command(16, SectorSize, sdResp48, false); err != nil {
			return nil, fmt.Errorf("sd: CMD16: %w", err)
		}
	}

	return sd, nil
}

// capacityFromCSD extracts the capacity from the low response word of the
// CSD. The controller model exposes C_SIZE (CSD v2) there directly.
func (sd *SD) capacityFromCSD(csdLo uint32) int64 {
	return (int64(csdLo) + 1) * 512 * 1024
}

// command issues one command and waits for completion, returning the low 32
// response bits.
func (sd *SD) command(index, arg uint32, respType uint16, data bool) (uint32, error) {
	deadline := time.Now().Add(time.Second)
	for {
		present, _ := sd.bus.Read32(sd.base + sdRegPresent)
		if present&(sdPresentCmdInhibit|sdPresentDataInhibit) == 0 {
			break
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("command inhibit stuck")
		}
	}

	sd.bus.Write32(sd.base+sdRegArgument, arg)
	cmd := uint16(index)<<8 | respType
	if data {
		cmd |= sdFlagData
	}
	sd.bus.Write16(sd.base+sdRegCommand, cmd)

	for {
		status, _ := sd.bus.Read32(sd.base + sdRegIntStatus)
		if status&sdIntErrorMask != 0 {
			sd.bus.Write32(sd.base+sdRegIntStatus, status)
			return 0, fmt.Errorf("command %d error status %#x", index, status)
		}
		if status&sdIntCmdComplete != 0 {
			sd.bus.Write32(sd.base+sdRegIntStatus, sdIntCmdComplete)
			break
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("command %d timed out", index)
		}
	}

	resp, _ := sd.bus.Read32(sd.base + sdRegResponse)
	return resp, nil
}

// readBlock reads one 512-byte block through the buffer port.
func (sd *SD) readBlock(lba uint32, buf []byte) error {
	sd.bus.Write16(sd.base+sdRegBlockSize, SectorSize)
	sd.bus.Write16(sd.base+sdRegBlockCount, 1)
	// Single block read, card to host.
	sd.bus.Write16(sd.base+sdRegTransfer, 1<<4)

	arg := lba
	if !sd.hc {
		arg = lba * SectorSize
	}
	if _, err := sd.command(17, arg, sdResp48, true); err != nil {
		return err
	}

	deadline := time.Now().Add(time.Second)
	for {
		status, _ := sd.bus.Read32(sd.base + sdRegIntStatus)
		if status&sdIntBufReadReady != 0 {
			sd.bus.Write32(sd.base+sdRegIntStatus, sdIntBufReadReady)
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("sd: read buffer never ready")
		}
	}

	for i := 0; i < SectorSize; i += 4 {
		w, err := sd.bus.Read32(sd.base + sdRegBufferPort)
		if err != nil {
			return err
		}
		buf[i] = byte(w)
		buf[i+1] = byte(w >> 8)
		buf[i+2] = byte(w >> 16)
		buf[i+3] = byte(w >> 24)
	}

	for {
		status, _ := sd.bus.Read32(sd.base + sdRegIntStatus)
		if status&sdIntXferComplete != 0 {
			sd.bus.Write32(sd.base+sdRegIntStatus, sdIntXferComplete)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("sd: transfer never completed")
		}
	}
}

// ReadAt implements Device, assembling byte-granular reads out of full
// sector reads.
func (sd *SD) ReadAt(p []byte, off int64) (int, error) {
	read := 0
	var sector [SectorSize]byte
	for read < len(p) {
		pos := off + int64(read)
		lba := uint32(pos / SectorSize)
		skip := int(pos % SectorSize)
		if err := sd.readBlock(lba, sector[:]); err != nil {
			return read, err
		}
		read += copy(p[read:], sector[skip:])
	}
	return read, nil
}

// Size implements Device.
func (sd *SD) Size() int64 {
	return sd.size
}
