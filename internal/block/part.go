package block

import (
	"encoding/binary"
	"fmt"
)

// Partition is a contiguous window of a parent device.
type Partition struct {
	parent Device
	start  int64
	size   int64
}

// FirstPartition parses the MBR of dev and returns the first non-empty
// primary partition.
func FirstPartition(dev Device) (*Partition, error) {
	var mbr [SectorSize]byte
	if err := ReadExactAt(dev, mbr[:], 0); err != nil {
		return nil, err
	}
	if mbr[510] != 0x55 || mbr[511] != 0xaa {
		return nil, fmt.Errorf("block: missing MBR signature")
	}

	for i := 0; i < 4; i++ {
		entry := mbr[0x1be+i*16 : 0x1be+(i+1)*16]
		ptype := entry[4]
		if ptype == 0 {
			continue
		}
		startLBA := binary.LittleEndian.Uint32(entry[8:])
		sectors := binary.LittleEndian.Uint32(entry[12:])
		if sectors == 0 {
			continue
		}
		return &Partition{
			parent: dev,
			start:  int64(startLBA) * SectorSize,
			size:   int64(sectors) * SectorSize,
		}, nil
	}
	return nil, fmt.Errorf("block: no usable partition")
}

// ReadAt implements Device.
func (p *Partition) ReadAt(buf []byte, off int64) (int, error) {
	if off < 0 || off >= p.size {
		return 0, fmt.Errorf("block: read beyond partition at %#x", off)
	}
	if int64(len(buf)) > p.size-off {
		buf = buf[:p.size-off]
	}
	return p.parent.ReadAt(buf, p.start+off)
}

// Size implements Device.
func (p *Partition) Size() int64 {
	return p.size
}
