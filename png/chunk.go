package png

import (
	"encoding/binary"
	"hash"
	"io"

	"github.com/rs/zerolog"

	"github.com/imgpipe/zpng"
	"github.com/imgpipe/zpng/checksum"
)

// DefaultMaxChunkSize is the largest chunk payload a Reader accepts unless
// told otherwise.
const DefaultMaxChunkSize = 256 << 20

const (
	chunkIHDR = "IHDR"
	chunkPLTE = "PLTE"
	chunkIDAT = "IDAT"
	chunkIEND = "IEND"
	chunkCHRM = "cHRM"
	chunkGAMA = "gAMA"
	chunkICCP = "iCCP"
	chunkSBIT = "sBIT"
	chunkSRGB = "sRGB"
	chunkBKGD = "bKGD"
	chunkHIST = "hIST"
	chunkTRNS = "tRNS"
	chunkPHYS = "pHYs"
	chunkSPLT = "sPLT"
	chunkTIME = "tIME"
	chunkITXT = "iTXt"
	chunkTEXT = "tEXt"
	chunkZTXT = "zTXt"
)

type chunk struct {
	typ  string
	data []byte
}

// critical reports whether a decoder has to understand the chunk.
func (c *chunk) critical() bool {
	return c.typ[0]&0x20 == 0
}

func validChunkType(t []byte) bool {
	for _, b := range t {
		if !('a' <= b && b <= 'z' || 'A' <= b && b <= 'Z') {
			return false
		}
	}
	return true
}

// chunkReader reads CRC-checked chunks.
type chunkReader struct {
	r       io.Reader
	maxSize uint32
	crc     hash.Hash32
	log     *zerolog.Logger
	buf     []byte
}

func newChunkReader(r io.Reader, maxSize uint32, log *zerolog.Logger) *chunkReader {
	if maxSize == 0 {
		maxSize = DefaultMaxChunkSize
	}
	return &chunkReader{r: r, maxSize: maxSize, crc: checksum.NewCRC32(), log: log}
}

func (cr *chunkReader) readFull(p []byte, what string) error {
	if _, err := io.ReadFull(cr.r, p); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return zpng.Errorf(zpng.InvalidStream, "", "file ends inside %s", what)
		}
		return zpng.Errorf(zpng.InvalidStream, "", "reading %s: %v", what, err)
	}
	return nil
}

func (cr *chunkReader) readSignature() error {
	var sig [8]byte
	if err := cr.readFull(sig[:], "the signature"); err != nil {
		return err
	}
	if sig != signature {
		return zpng.Errorf(zpng.PngInvalidSignature, "", "not a PNG file: signature % x", sig[:])
	}
	return nil
}

// next reads the next chunk. The returned data is only valid until the
// following call.
func (cr *chunkReader) next() (chunk, error) {
	var head [8]byte
	if err := cr.readFull(head[:], "a chunk header"); err != nil {
		return chunk{}, err
	}
	length := binary.BigEndian.Uint32(head[:4])
	typ := head[4:]
	if !validChunkType(typ) {
		return chunk{}, zpng.Errorf(zpng.PngInvalidChunkLayout, "", "invalid chunk type % x", typ)
	}
	if length > 1<<31-1 || length > cr.maxSize {
		return chunk{}, zpng.Errorf(zpng.PngInvalidChunkSize, "", "%s chunk of %d bytes exceeds the limit of %d", typ, length, cr.maxSize)
	}

	if cap(cr.buf) < int(length) {
		cr.buf = make([]byte, length)
	}
	data := cr.buf[:length]
	if err := cr.readFull(data, string(typ)+" chunk"); err != nil {
		return chunk{}, err
	}
	var tail [4]byte
	if err := cr.readFull(tail[:], string(typ)+" chunk CRC"); err != nil {
		return chunk{}, err
	}

	cr.crc.Reset()
	cr.crc.Write(typ)
	cr.crc.Write(data)
	want, got := binary.BigEndian.Uint32(tail[:]), cr.crc.Sum32()
	cr.log.Trace().Str("chunk", string(typ)).Uint32("crc", got).Msg("png: chunk CRC")
	if want != got {
		return chunk{}, zpng.Errorf(zpng.PngInvalidChunkCRC, "", "%s chunk CRC %#08x does not match %#08x", typ, got, want)
	}
	cr.log.Debug().Str("chunk", string(typ)).Uint32("length", length).Msg("png: chunk")
	return chunk{typ: string(typ), data: data}, nil
}

// chunkWriter writes chunks with their CRC.
type chunkWriter struct {
	w   io.Writer
	crc hash.Hash32
	log *zerolog.Logger
}

func newChunkWriter(w io.Writer, log *zerolog.Logger) *chunkWriter {
	return &chunkWriter{w: w, crc: checksum.NewCRC32(), log: log}
}

func (cw *chunkWriter) writeSignature() error {
	_, err := cw.w.Write(signature[:])
	return err
}

func (cw *chunkWriter) write(typ string, data []byte) error {
	if len(data) > 1<<31-1 {
		return zpng.Errorf(zpng.PngInvalidChunkSize, "", "%s chunk of %d bytes is too large", typ, len(data))
	}
	var head [8]byte
	binary.BigEndian.PutUint32(head[:4], uint32(len(data)))
	copy(head[4:], typ)

	cw.crc.Reset()
	cw.crc.Write(head[4:])
	cw.crc.Write(data)
	var tail [4]byte
	binary.BigEndian.PutUint32(tail[:], cw.crc.Sum32())

	for _, p := range [][]byte{head[:], data, tail[:]} {
		if _, err := cw.w.Write(p); err != nil {
			return err
		}
	}
	cw.log.Debug().Str("chunk", typ).Int("length", len(data)).Msg("png: chunk")
	return nil
}
