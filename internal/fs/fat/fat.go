// Package fat implements a read-only FAT32 filesystem, sufficient for
// locating and streaming a kernel image off the SD card.
package fat

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/nbdd0121/muntjac-soc/internal/block"
)

const sectorSize = block.SectorSize

// fatEntry classification.
const (
	entryFree = iota
	entryNext
	entryBad
	entryEnd
)

// FileSystem is a mounted FAT32 volume.
type FileSystem struct {
	dev block.Device

	sectorsPerCluster uint32
	fatStartSector    uint32
	firstDataSector   uint32
	rootCluster       uint32
}

// New mounts the FAT32 filesystem on dev.
func New(dev block.Device) (*FileSystem, error) {
	var bpb [sectorSize]byte
	if err := block.ReadExactAt(dev, bpb[:], 0); err != nil {
		return nil, err
	}
	if bpb[510] != 0x55 || bpb[511] != 0xaa {
		return nil, fmt.Errorf("fat: missing boot signature")
	}

	bytesPerSector := binary.LittleEndian.Uint16(bpb[11:])
	if bytesPerSector != sectorSize {
		return nil, fmt.Errorf("fat: unsupported sector size %d", bytesPerSector)
	}
	sectorsPerCluster := uint32(bpb[13])
	reserved := uint32(binary.LittleEndian.Uint16(bpb[14:]))
	numFATs := uint32(bpb[16])
	rootEntries := binary.LittleEndian.Uint16(bpb[17:])
	fatSize := binary.LittleEndian.Uint32(bpb[36:])
	rootCluster := binary.LittleEndian.Uint32(bpb[44:])

	if rootEntries != 0 || fatSize == 0 {
		return nil, fmt.Errorf("fat: not a FAT32 volume")
	}

	return &FileSystem{
		dev:               dev,
		sectorsPerCluster: sectorsPerCluster,
		fatStartSector:    reserved,
		firstDataSector:   reserved + numFATs*fatSize,
		rootCluster:       rootCluster,
	}, nil
}

// readFATEntry reads the FAT chain entry for a cluster.
func (fs *FileSystem) readFATEntry(cluster uint32) (int, uint32, error) {
	off := int64(fs.fatStartSector)*sectorSize + int64(cluster)*4
	var raw [4]byte
	if err := block.ReadExactAt(fs.dev, raw[:], off); err != nil {
		return 0, 0, err
	}
	val := binary.LittleEndian.Uint32(raw[:]) & 0x0fffffff
	switch {
	case val == 0:
		return entryFree, 0, nil
	case val == 0x0ffffff7:
		return entryBad, 0, nil
	case val >= 0x0ffffff8:
		return entryEnd, 0, nil
	default:
		return entryNext, val, nil
	}
}

func (fs *FileSystem) clusterSector(cluster uint32) uint32 {
	return fs.firstDataSector + (cluster-2)*fs.sectorsPerCluster
}

// DirEntry is one directory entry.
type DirEntry struct {
	fs      *FileSystem
	name    string
	dir     bool
	cluster uint32
	size    uint32
}

// Name returns the entry's long name when present, else the 8.3 name.
func (e *DirEntry) Name() string { return e.name }

// IsDir reports whether the entry is a directory.
func (e *DirEntry) IsDir() bool { return e.dir }

// Size returns the file size in bytes.
func (e *DirEntry) Size() int64 { return int64(e.size) }

// Open returns a reader over the entry's contents.
func (e *DirEntry) Open() *File {
	return &File{
		fs:      e.fs,
		cluster: e.cluster,
		size:    int(e.size),
	}
}

// Root lists the root directory.
func (fs *FileSystem) Root() ([]DirEntry, error) {
	return fs.readDir(fs.rootCluster)
}

// readDir walks a directory's cluster chain and parses its entries,
// folding long-name sequences into the entry that follows them.
func (fs *FileSystem) readDir(cluster uint32) ([]DirEntry, error) {
	var entries []DirEntry
	var longName string

	clusterBytes := int(fs.sectorsPerCluster) * sectorSize
	buf := make([]byte, clusterBytes)

	for {
		off := int64(fs.clusterSector(cluster)) * sectorSize
		if err := block.ReadExactAt(fs.dev, buf, off); err != nil {
			return nil, err
		}

		for i := 0; i+32 <= clusterBytes; i += 32 {
			raw := buf[i : i+32]
			switch raw[0] {
			case 0x00:
				return entries, nil
			case 0xe5:
				longName = ""
				continue
			}
			attr := raw[11]
			if attr&0x0f == 0x0f {
				// Long-name component; components are stored in
				// reverse order.
				longName = decodeLFN(raw) + longName
				continue
			}
			if attr&0x08 != 0 {
				// Volume label
				longName = ""
				continue
			}

			name := longName
			if name == "" {
				name = decode83(raw)
			}
			longName = ""

			first := uint32(binary.LittleEndian.Uint16(raw[20:]))<<16 |
				uint32(binary.LittleEndian.Uint16(raw[26:]))
			entries = append(entries, DirEntry{
				fs:      fs,
				name:    name,
				dir:     attr&0x10 != 0,
				cluster: first,
				size:    binary.LittleEndian.Uint32(raw[28:]),
			})
		}

		kind, next, err := fs.readFATEntry(cluster)
		if err != nil {
			return nil, err
		}
		switch kind {
		case entryNext:
			cluster = next
		case entryEnd:
			return entries, nil
		default:
			return nil, fmt.Errorf("fat: broken directory chain at cluster %d", cluster)
		}
	}
}

// decodeLFN extracts the 13 UCS-2 characters of a long-name component.
func decodeLFN(raw []byte) string {
	var sb strings.Builder
	for _, span := range [][2]int{{1, 11}, {14, 26}, {28, 32}} {
		for i := span[0]; i < span[1]; i += 2 {
			c := binary.LittleEndian.Uint16(raw[i:])
			if c == 0 || c == 0xffff {
				return sb.String()
			}
			sb.WriteRune(rune(c))
		}
	}
	return sb.String()
}

// decode83 renders a classic 8.3 name in lower case.
func decode83(raw []byte) string {
	base := strings.TrimRight(string(raw[0:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")
	name := base
	if ext != "" {
		name = base + "." + ext
	}
	return strings.ToLower(name)
}

// File streams a file's contents along its cluster chain.
type File struct {
	fs      *FileSystem
	cluster uint32
	size    int

	pos        int
	clusterPos int // bytes consumed within the current cluster
}

// Size returns the file size in bytes.
func (f *File) Size() int64 { return int64(f.size) }

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	if f.pos >= f.size || f.cluster == 0 {
		return 0, io.EOF
	}
	if len(p) > f.size-f.pos {
		p = p[:f.size-f.pos]
	}
	if len(p) == 0 {
		return 0, nil
	}

	clusterBytes := int(f.fs.sectorsPerCluster) * sectorSize
	avail := clusterBytes - f.clusterPos
	if len(p) > avail {
		p = p[:avail]
	}

	off := int64(f.fs.clusterSector(f.cluster))*sectorSize + int64(f.clusterPos)
	if err := block.ReadExactAt(f.fs.dev, p, off); err != nil {
		return 0, err
	}
	f.pos += len(p)
	f.clusterPos += len(p)

	if f.clusterPos == clusterBytes {
		kind, next, err := f.fs.readFATEntry(f.cluster)
		if err != nil {
			return len(p), err
		}
		switch kind {
		case entryNext:
			f.cluster = next
			f.clusterPos = 0
		case entryEnd:
			f.cluster = 0
		default:
			return len(p), fmt.Errorf("fat: broken file chain at cluster %d", f.cluster)
		}
	}
	return len(p), nil
}
