// Package flate implements the DEFLATE compressed data format, described in
// RFC 1951.
//
// Both directions are available at two levels. The block level
// (ReadBlockHeader, ReadBlockData, ReadBlockEnd and their Write
// counterparts) exposes each block's header and lets the caller move data
// through it in pieces of any size. On top of it, Reader and Writer also
// implement io.Reader and io.WriteCloser.
package flate

import (
	"sort"

	"github.com/imgpipe/zpng/huffman"
)

// CompressionType is the BTYPE field of a block header.
type CompressionType uint8

const (
	Stored  CompressionType = 0
	Fixed   CompressionType = 1
	Dynamic CompressionType = 2
)

func (t CompressionType) String() string {
	switch t {
	case Stored:
		return "stored"
	case Fixed:
		return "fixed"
	case Dynamic:
		return "dynamic"
	}
	return "reserved"
}

const (
	// windowSize is the size of the sliding window, and the largest distance
	// a back-reference may have.
	windowSize = 1 << 15

	// The number of literal/length and distance code lengths in a header.
	numLitLenCodes = 288
	numDistCodes   = 32

	// The largest offset code.
	offsetCodeCount = 30

	// The special code used to mark the end of a block.
	endBlockMarker = 256

	// The first length code.
	lengthCodesStart = 257

	// The number of codegen codes.
	codegenCodeCount = 19
	badCode          = 255

	maxNumLit         = 286
	maxStoreBlockSize = 65535
	maxCodeLength     = 15
	maxMatchLength    = 258
	baseMatchLength   = 3 // The smallest match length per the RFC section 3.2.5
	baseMatchOffset   = 1 // The smallest match offset
)

// The number of extra bits needed by length code X - LENGTH_CODES_START.
var lengthExtraBits = []int8{
	/* 257 */ 0, 0, 0,
	/* 260 */ 0, 0, 0, 0, 0, 1, 1, 1, 1, 2,
	/* 270 */ 2, 2, 2, 3, 3, 3, 3, 4, 4, 4,
	/* 280 */ 4, 5, 5, 5, 5, 0,
}

// The length indicated by length code X - LENGTH_CODES_START, minus
// baseMatchLength.
var lengthBase = []int{
	0, 1, 2, 3, 4, 5, 6, 7, 8, 10,
	12, 14, 16, 20, 24, 28, 32, 40, 48, 56,
	64, 80, 96, 112, 128, 160, 192, 224, 255,
}

// offset code word extra bits.
var offsetExtraBits = []int8{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3,
	4, 4, 5, 5, 6, 6, 7, 7, 8, 8,
	9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
}

var offsetBase = []int{
	0x000000, 0x000001, 0x000002, 0x000003, 0x000004,
	0x000006, 0x000008, 0x00000c, 0x000010, 0x000018,
	0x000020, 0x000030, 0x000040, 0x000060, 0x000080,
	0x0000c0, 0x000100, 0x000180, 0x000200, 0x000300,
	0x000400, 0x000600, 0x000800, 0x000c00, 0x001000,
	0x001800, 0x002000, 0x003000, 0x004000, 0x006000,
}

// The odd order in which the codegen code sizes are written.
var codegenOrder = []uint32{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

// lengthCode returns the length code for a match of the given length, minus
// lengthCodesStart.
func lengthCode(length int) int {
	l := length - baseMatchLength
	return sort.Search(len(lengthBase), func(i int) bool { return lengthBase[i] > l }) - 1
}

// offsetCode returns the distance code for a match at the given distance.
func offsetCode(distance int) int {
	d := distance - baseMatchOffset
	return sort.Search(len(offsetBase), func(i int) bool { return offsetBase[i] > d }) - 1
}

// BlockHeader describes one DEFLATE block. The code lengths are only
// meaningful for Fixed and Dynamic blocks; for Fixed blocks they are the
// static tables of RFC 1951 section 3.2.6.
type BlockHeader struct {
	Final         bool
	Type          CompressionType
	LitLenLengths [numLitLenCodes]uint8
	DistLengths   [numDistCodes]uint8
}

// FixedHeader returns the header of a block using the static codes.
func FixedHeader(final bool) BlockHeader {
	h := BlockHeader{Final: final, Type: Fixed}
	h.LitLenLengths = fixedLitLenLengths
	h.DistLengths = fixedDistLengths
	return h
}

func (h *BlockHeader) hasLengths() bool {
	for _, l := range h.LitLenLengths {
		if l != 0 {
			return true
		}
	}
	return false
}

// Block is a decoded block: its header and the bytes it produced.
type Block struct {
	Header BlockHeader
	Data   []byte
}

// File is a whole DEFLATE stream, block by block.
type File struct {
	Blocks []Block
}

// Bytes returns the concatenated data of all blocks.
func (f *File) Bytes() []byte {
	var n int
	for _, b := range f.Blocks {
		n += len(b.Data)
	}
	out := make([]byte, 0, n)
	for _, b := range f.Blocks {
		out = append(out, b.Data...)
	}
	return out
}

var (
	fixedLitLenLengths [numLitLenCodes]uint8
	fixedDistLengths   [numDistCodes]uint8

	fixedLitLenTree *huffman.Tree
	fixedDistTree   *huffman.Tree
)

func init() {
	for i := range fixedLitLenLengths {
		switch {
		case i < 144:
			fixedLitLenLengths[i] = 8
		case i < 256:
			fixedLitLenLengths[i] = 9
		case i < 280:
			fixedLitLenLengths[i] = 7
		default:
			fixedLitLenLengths[i] = 8
		}
	}
	for i := range fixedDistLengths {
		fixedDistLengths[i] = 5
	}

	var err error
	if fixedLitLenTree, err = buildTree(fixedLitLenLengths[:]); err != nil {
		panic(err)
	}
	if fixedDistTree, err = buildTree(fixedDistLengths[:]); err != nil {
		panic(err)
	}
}

// buildTree builds the canonical code for lengths, indexed by symbol.
func buildTree(lengths []uint8) (*huffman.Tree, error) {
	symbols := make([]uint32, len(lengths))
	for i := range symbols {
		symbols[i] = uint32(i)
	}
	return huffman.FromCodeLengths(symbols, lengths)
}
