// Package fdt builds the flattened device tree handed to the kernel at
// boot. The blob layout follows the devicetree specification v0.3.
package fdt

import "encoding/binary"

const (
	fdtMagic      = 0xd00dfeed
	fdtVersion    = 17
	fdtCompatible = 16

	fdtBeginNode = 0x00000001
	fdtEndNode   = 0x00000002
	fdtProp      = 0x00000003
	fdtEnd       = 0x00000009
)

// Magic is the big-endian FDT magic number.
const Magic = fdtMagic

// Builder constructs a flattened device tree blob.
type Builder struct {
	structure []byte
	strings   []byte
	stringOff map[string]uint32
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		stringOff: make(map[string]uint32),
	}
}

// BeginNode starts a new node with the given name.
func (b *Builder) BeginNode(name string) {
	b.appendU32(fdtBeginNode)
	b.appendString(name)
}

// EndNode ends the current node.
func (b *Builder) EndNode() {
	b.appendU32(fdtEndNode)
}

// PropEmpty adds an empty (flag) property.
func (b *Builder) PropEmpty(name string) {
	b.appendU32(fdtProp)
	b.appendU32(0)
	b.appendU32(b.addString(name))
}

// PropString adds a string property.
func (b *Builder) PropString(name, value string) {
	data := append([]byte(value), 0)
	b.appendU32(fdtProp)
	b.appendU32(uint32(len(data)))
	b.appendU32(b.addString(name))
	b.appendBytes(data)
}

// PropStringList adds a list-of-strings property.
func (b *Builder) PropStringList(name string, values []string) {
	var data []byte
	for _, v := range values {
		data = append(data, v...)
		data = append(data, 0)
	}
	b.appendU32(fdtProp)
	b.appendU32(uint32(len(data)))
	b.appendU32(b.addString(name))
	b.appendBytes(data)
}

// PropU32 adds a 32-bit cell property.
func (b *Builder) PropU32(name string, value uint32) {
	b.appendU32(fdtProp)
	b.appendU32(4)
	b.appendU32(b.addString(name))
	b.appendU32(value)
}

// PropU32Array adds an array of 32-bit cells.
func (b *Builder) PropU32Array(name string, values []uint32) {
	b.appendU32(fdtProp)
	b.appendU32(uint32(len(values) * 4))
	b.appendU32(b.addString(name))
	for _, v := range values {
		b.appendU32(v)
	}
}

// PropU64 adds a 64-bit property.
func (b *Builder) PropU64(name string, value uint64) {
	b.appendU32(fdtProp)
	b.appendU32(8)
	b.appendU32(b.addString(name))
	b.appendU64(value)
}

// PropReg adds an (address, size) reg property with two cells each.
func (b *Builder) PropReg(name string, addr, size uint64) {
	b.appendU32(fdtProp)
	b.appendU32(16)
	b.appendU32(b.addString(name))
	b.appendU64(addr)
	b.appendU64(size)
}

// PropBytes adds a raw byte property.
func (b *Builder) PropBytes(name string, data []byte) {
	b.appendU32(fdtProp)
	b.appendU32(uint32(len(data)))
	b.appendU32(b.addString(name))
	b.appendBytes(data)
}

// Build finalizes and serializes the blob.
func (b *Builder) Build() []byte {
	b.appendU32(fdtEnd)

	const headerSize = 40
	memRsvmapOff := uint32(headerSize)
	memRsvmapSize := uint32(16) // one empty reservation entry
	structOff := memRsvmapOff + memRsvmapSize
	structSize := uint32(len(b.structure))
	stringsOff := structOff + structSize
	stringsSize := uint32(len(b.strings))
	totalSize := stringsOff + stringsSize

	blob := make([]byte, totalSize)
	binary.BigEndian.PutUint32(blob[0:], fdtMagic)
	binary.BigEndian.PutUint32(blob[4:], totalSize)
	binary.BigEndian.PutUint32(blob[8:], structOff)
	binary.BigEndian.PutUint32(blob[12:], stringsOff)
	binary.BigEndian.PutUint32(blob[16:], memRsvmapOff)
	binary.BigEndian.PutUint32(blob[20:], fdtVersion)
	binary.BigEndian.PutUint32(blob[24:], fdtCompatible)
	binary.BigEndian.PutUint32(blob[28:], 0) // boot_cpuid_phys
	binary.BigEndian.PutUint32(blob[32:], stringsSize)
	binary.BigEndian.PutUint32(blob[36:], structSize)
	copy(blob[structOff:], b.structure)
	copy(blob[stringsOff:], b.strings)

	return blob
}

func (b *Builder) appendU32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.structure = append(b.structure, buf[:]...)
}

func (b *Builder) appendU64(v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	b.structure = append(b.structure, buf[:]...)
}

func (b *Builder) appendString(s string) {
	b.structure = append(b.structure, s...)
	b.structure = append(b.structure, 0)
	for len(b.structure)%4 != 0 {
		b.structure = append(b.structure, 0)
	}
}

func (b *Builder) appendBytes(data []byte) {
	b.structure = append(b.structure, data...)
	for len(b.structure)%4 != 0 {
		b.structure = append(b.structure, 0)
	}
}

func (b *Builder) addString(name string) uint32 {
	if off, ok := b.stringOff[name]; ok {
		return off
	}
	off := uint32(len(b.strings))
	b.stringOff[name] = off
	b.strings = append(b.strings, name...)
	b.strings = append(b.strings, 0)
	return off
}
