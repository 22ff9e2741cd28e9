// Package zlib implements the zlib container of RFC 1950: a two-byte header,
// an optional preset dictionary id, a DEFLATE stream and a big-endian
// Adler-32 of the uncompressed data.
package zlib

import (
	"fmt"

	"github.com/imgpipe/zpng"
)

// MethodDeflate is the only compression method zlib defines.
const MethodDeflate = 8

// Level is the two-bit compression level hint in the header. It does not
// affect decompression.
type Level uint8

const (
	Fastest Level = iota
	Fast
	Default
	Maximum
)

func (l Level) String() string {
	switch l {
	case Fastest:
		return "fastest"
	case Fast:
		return "fast"
	case Default:
		return "default"
	case Maximum:
		return "maximum"
	}
	return fmt.Sprintf("Level(%d)", uint8(l))
}

// Header is the zlib stream header.
type Header struct {
	CompressionMethod uint8
	// CompressionInfo is the base-2 logarithm of the window size minus 8.
	CompressionInfo  uint8
	CompressionLevel Level
	// DictID is the Adler-32 of the preset dictionary, if the stream uses
	// one.
	DictID *uint32
}

// DefaultHeader returns the header of a stream with a 32 KiB window and no
// preset dictionary.
func DefaultHeader() Header {
	return Header{
		CompressionMethod: MethodDeflate,
		CompressionInfo:   7,
		CompressionLevel:  Default,
	}
}

// File is a whole zlib stream held in memory.
type File struct {
	Header Header
	Data   []byte
}

// encode returns CMF and FLG, with FCHECK making their big-endian value a
// multiple of 31.
func (h Header) encode() ([2]byte, error) {
	const op = "zlib: WriteHeader"
	if h.CompressionMethod != MethodDeflate {
		return [2]byte{}, zpng.Errorf(zpng.ZlibInvalidCompressionMethod, op, "unknown compression method %d", h.CompressionMethod)
	}
	if h.CompressionInfo > 7 {
		return [2]byte{}, zpng.Errorf(zpng.ZlibInvalidCompressionMethod, op, "window size 2^%d is too large", h.CompressionInfo+8)
	}
	if h.CompressionLevel > Maximum {
		return [2]byte{}, zpng.Errorf(zpng.ExpectFailed, op, "invalid compression level %d", h.CompressionLevel)
	}
	cmf := h.CompressionInfo<<4 | h.CompressionMethod
	flg := uint8(h.CompressionLevel) << 6
	if h.DictID != nil {
		flg |= 0x20
	}
	if rem := (uint16(cmf)<<8 | uint16(flg)) % 31; rem != 0 {
		flg += uint8(31 - rem)
	}
	return [2]byte{cmf, flg}, nil
}

// decode parses CMF and FLG. The dictionary id, if any, is filled in by the
// caller.
func decode(b [2]byte) (h Header, fdict bool, err error) {
	const op = "zlib: ReadHeader"
	cmf, flg := b[0], b[1]
	if (uint16(cmf)<<8|uint16(flg))%31 != 0 {
		return h, false, zpng.Errorf(zpng.ZlibInvalidFlagCheck, op, "header %#02x%02x is not a multiple of 31", cmf, flg)
	}
	h.CompressionMethod = cmf & 0x0f
	h.CompressionInfo = cmf >> 4
	h.CompressionLevel = Level(flg >> 6)
	if h.CompressionMethod != MethodDeflate {
		return h, false, zpng.Errorf(zpng.ZlibInvalidCompressionMethod, op, "unknown compression method %d", h.CompressionMethod)
	}
	if h.CompressionInfo > 7 {
		return h, false, zpng.Errorf(zpng.ZlibInvalidCompressionMethod, op, "window size 2^%d is too large", h.CompressionInfo+8)
	}
	return h, flg&0x20 != 0, nil
}

type streamState int

const (
	stateHeader streamState = iota
	stateData
	stateEnd
	stateDone
)

var stateNames = [...]string{"the stream header", "stream data", "the stream trailer", "nothing, the stream is finished"}
