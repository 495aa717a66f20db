// Package block provides the block-device abstraction the boot path reads
// filesystems from: a sector-addressed device interface, an MBR partition
// view, and an SD-host controller driver.
package block

import "fmt"

// SectorSize is the block size every device in this layer uses.
const SectorSize = 512

// Device is a readable block device.
type Device interface {
	// ReadAt fills p from the byte offset off. Offsets and lengths are
	// sector-aligned at the driver level; this interface allows arbitrary
	// byte granularity for the filesystem readers on top.
	ReadAt(p []byte, off int64) (int, error)
	// Size returns the device capacity in bytes.
	Size() int64
}

// ReadExactAt reads len(p) bytes or fails.
func ReadExactAt(d Device, p []byte, off int64) error {
	n, err := d.ReadAt(p, off)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("block: short read at %#x: %d != %d", off, n, len(p))
	}
	return nil
}

// MemDevice is a byte-slice-backed device used by tests and the host
// driver's file-backed boot source.
type MemDevice struct {
	Data []byte
}

// ReadAt implements Device.
func (m *MemDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.Data)) {
		return 0, fmt.Errorf("block: read beyond device at %#x", off)
	}
	n := copy(p, m.Data[off:])
	if n < len(p) {
		return n, fmt.Errorf("block: short read at %#x", off)
	}
	return n, nil
}

// Size implements Device.
func (m *MemDevice) Size() int64 {
	return int64(len(m.Data))
}
