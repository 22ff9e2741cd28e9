// Package zpng holds what the codec packages share: the error kinds every
// stream reports, and the owned/borrowed byte sources and sinks streams are
// built on.
//
// The codecs themselves live in subpackages, leaf first:
//
//	bitstream    bit-level reader and writer with explicit bit order
//	checksum     CRC-32 and the Fletcher/Adler family
//	huffman      canonical prefix codes
//	matchfinder  LZ77 match finders for the DEFLATE writer
//	flate        DEFLATE (RFC 1951)
//	zlib         zlib container (RFC 1950)
//	png          PNG container
//
// Each layer owns the layers it builds on: a png.Reader owns a zlib.Reader,
// which owns a flate.Reader, which owns a bitstream.Reader. Errors are sticky
// per stream and carry a Kind that stays the same as the error travels up
// through the layers, each of which prefixes its operation name.
package zpng
