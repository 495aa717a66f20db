package boot

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nbdd0121/muntjac-soc/internal/alloc"
)

// IsGzip reports whether a buffer carries a gzip/deflate image.
func IsGzip(data []byte) bool {
	return len(data) > 18 && data[0] == 0x1f && data[1] == 0x8b && data[2] == 8
}

// Inflate decompresses a gzip image into an arena-allocated buffer sized
// from the ISIZE trailer. CRC and size are verified by the stream reader.
func Inflate(arena *alloc.Arena, data []byte) ([]byte, error) {
	if !IsGzip(data) {
		return nil, fmt.Errorf("boot: not a gzip image")
	}
	size := binary.LittleEndian.Uint32(data[len(data)-4:])

	buf := arena.Alloc(int(size), 8)
	if buf == nil {
		return nil, fmt.Errorf("boot: decompressed kernel of %d bytes does not fit in the load arena", size)
	}

	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		arena.Free(buf)
		return nil, fmt.Errorf("boot: gzip: %w", err)
	}
	defer r.Close()

	if _, err := io.ReadFull(r, buf); err != nil {
		arena.Free(buf)
		return nil, fmt.Errorf("boot: inflate: %w", err)
	}
	// Hitting EOF here also validates the trailer CRC.
	if _, err := r.Read(make([]byte, 1)); err != io.EOF {
		arena.Free(buf)
		return nil, fmt.Errorf("boot: trailing garbage after gzip stream")
	}
	return buf, nil
}
