// Package dt reads the one piece of the flattened device tree the kernel
// cares about: the physical RAM extents published by the memory node. It
// understands just enough of the blob format (the structure block token
// stream plus the string block) to locate `#address-cells`, `#size-cells`
// and the memory node's `reg` property; everything else in the tree is
// skipped over.
package dt

import (
	"unsafe"

	"github.com/rv64boot/kernel/kernel/errors"
)

// Structure block tokens, big-endian on the wire.
const (
	tokenBeginNode = 0x01
	tokenEndNode   = 0x02
	tokenProp      = 0x03
	tokenNop       = 0x04
	tokenEnd       = 0x09
)

const headerMagic = 0xd00dfeed

// Cell-count defaults mandated by the devicetree specification for nodes
// whose parent declares nothing.
const (
	defaultAddressCells = 2
	defaultSizeCells    = 1
)

// FDT is a parsed view over a flattened device tree blob. It holds no
// copies; every accessor re-reads the underlying bytes.
type FDT struct {
	blob       []byte
	structOff  uint32
	stringsOff uint32
}

// Parse validates the blob header at the given physical address and
// returns a reader over it. The blob must be identity-accessible (boot) or
// already mapped (post-translation) at that address.
func Parse(addr uintptr) (*FDT, error) {
	if addr == 0 || addr%4 != 0 {
		return nil, errors.ErrMisalignedMemoryAddress
	}

	// Peek at the fixed header first to learn the total size, then widen
	// the window to the whole blob.
	hdr := unsafe.Slice((*byte)(unsafe.Pointer(addr)), 8)
	if be32(hdr, 0) != headerMagic {
		return nil, errors.ErrInvalidArgument
	}
	total := be32(hdr, 4)

	return ParseBytes(unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(total)))
}

// ParseBytes is Parse over an in-memory copy of a blob; tests use it to
// avoid fabricating physical addresses.
func ParseBytes(blob []byte) (*FDT, error) {
	if len(blob) < 40 {
		return nil, errors.ErrInvalidArgument
	}
	if be32(blob, 0) != headerMagic {
		return nil, errors.ErrInvalidArgument
	}

	f := &FDT{
		blob:       blob,
		structOff:  be32(blob, 8),
		stringsOff: be32(blob, 12),
	}
	if int(f.structOff) >= len(blob) || int(f.stringsOff) > len(blob) {
		return nil, errors.ErrInvalidArgument
	}
	return f, nil
}

// MemoryRegion returns the base and size of the first tuple of the memory
// node's reg property, decoded with the root node's #address-cells and
// #size-cells.
func (f *FDT) MemoryRegion() (base, size uint64, err error) {
	addrCells := uint32(defaultAddressCells)
	sizeCells := uint32(defaultSizeCells)

	var reg []byte
	depth := 0
	inMemory := false

	off := f.structOff
	for {
		token := be32(f.blob, int(off))
		off += 4

		switch token {
		case tokenBeginNode:
			name, next := f.nodeName(off)
			depth++
			// The memory node sits directly under the root and may carry
			// a unit address suffix.
			if depth == 2 && (name == "memory" || hasPrefix(name, "memory@")) {
				inMemory = true
			}
			off = next

		case tokenEndNode:
			if depth == 2 {
				inMemory = false
			}
			depth--
			if depth < 0 {
				return 0, 0, errors.ErrCorruptedDataStructure
			}

		case tokenProp:
			length := be32(f.blob, int(off))
			nameOff := be32(f.blob, int(off)+4)
			value := f.blob[off+8 : off+8+length]
			name := f.propName(nameOff)

			if depth == 1 {
				switch name {
				case "#address-cells":
					addrCells = be32(value, 0)
				case "#size-cells":
					sizeCells = be32(value, 0)
				}
			}
			if inMemory && name == "reg" && reg == nil {
				reg = value
			}

			off += 8 + ((length + 3) &^ 3)

		case tokenNop:

		case tokenEnd:
			if reg == nil {
				return 0, 0, errors.ErrNotFound
			}
			return decodeRegTuple(reg, addrCells, sizeCells)

		default:
			return 0, 0, errors.ErrCorruptedDataStructure
		}

		if int(off) >= len(f.blob) {
			return 0, 0, errors.ErrCorruptedDataStructure
		}
	}
}

// nodeName reads the NUL-terminated node name starting at off and returns
// it along with the offset of the next token (name padded to 4 bytes; the
// nameless root node still consumes one padding word).
func (f *FDT) nodeName(off uint32) (string, uint32) {
	start := int(off)
	end := start
	for end < len(f.blob) && f.blob[end] != 0 {
		end++
	}
	name := string(f.blob[start:end])
	return name, off + ((uint32(end-start) + 4) &^ 3)
}

func (f *FDT) propName(nameOff uint32) string {
	start := int(f.stringsOff + nameOff)
	end := start
	for end < len(f.blob) && f.blob[end] != 0 {
		end++
	}
	return string(f.blob[start:end])
}

func decodeRegTuple(reg []byte, addrCells, sizeCells uint32) (uint64, uint64, error) {
	if addrCells > 2 || sizeCells > 2 || addrCells == 0 || sizeCells == 0 {
		return 0, 0, errors.ErrInvalidArgument
	}
	if uint32(len(reg)) < (addrCells+sizeCells)*4 {
		return 0, 0, errors.ErrInvalidArgument
	}

	var base, size uint64
	off := 0
	for i := uint32(0); i < addrCells; i++ {
		base = base<<32 | uint64(be32(reg, off))
		off += 4
	}
	for i := uint32(0); i < sizeCells; i++ {
		size = size<<32 | uint64(be32(reg, off))
		off += 4
	}
	return base, size, nil
}

// be32 decodes the big-endian word at off; device-tree blobs are always
// big-endian regardless of the host.
func be32(b []byte, off int) uint32 {
	return uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3])
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
