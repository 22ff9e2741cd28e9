package zlib

import (
	"encoding/binary"
	"hash"
	"io"

	"github.com/rs/zerolog"

	"github.com/imgpipe/zpng"
	"github.com/imgpipe/zpng/bitstream"
	"github.com/imgpipe/zpng/checksum"
	"github.com/imgpipe/zpng/flate"
)

// ReaderOptions configures a Reader. The zero value is usable.
type ReaderOptions struct {
	// Dictionary is the preset dictionary offered to streams that ask for
	// one. Its Adler-32 must match the id in the header.
	Dictionary []byte

	// Logger receives header, trailer and block events. Nil disables
	// logging.
	Logger *zerolog.Logger
}

// Reader decompresses a zlib stream.
type Reader struct {
	br   *bitstream.Reader
	src  *zpng.Source // non-nil if the Reader owns its source
	fr   *flate.Reader
	opts ReaderOptions
	log  zerolog.Logger

	state  streamState
	header Header
	adler  hash.Hash32
	err    error
}

// NewReader returns a Reader decompressing the zlib stream in r. r is
// borrowed: Close does not close it.
func NewReader(r io.Reader, opts *ReaderOptions) *Reader {
	zr := &Reader{
		br:    bitstream.NewReader(r, bitstream.LSB),
		log:   zerolog.Nop(),
		adler: checksum.NewAdler32(),
	}
	if opts != nil {
		zr.opts = *opts
	}
	if zr.opts.Logger != nil {
		zr.log = *zr.opts.Logger
	}
	return zr
}

// Open opens the file at path and returns a Reader that owns it.
func Open(path string, opts *ReaderOptions) (*Reader, error) {
	src, err := zpng.OpenSource(path)
	if err != nil {
		return nil, zpng.Wrap(err, "zlib: Open")
	}
	r := NewReader(src, opts)
	r.src = src
	return r, nil
}

// fail makes err sticky. An empty op keeps err as it is.
func (r *Reader) fail(err error, op string) error {
	if op != "" {
		err = zpng.Wrap(err, op)
	}
	r.err = err
	return err
}

func (r *Reader) expectState(want streamState, op string) error {
	if r.err != nil {
		return r.err
	}
	if r.state != want {
		return zpng.Errorf(zpng.ExpectFailed, op, "expected %s", stateNames[r.state])
	}
	return nil
}

// ReadHeader reads the stream header and, if the stream was compressed
// against a preset dictionary, checks that ReaderOptions.Dictionary is that
// dictionary.
func (r *Reader) ReadHeader() (Header, error) {
	const op = "zlib: ReadHeader"
	if err := r.expectState(stateHeader, op); err != nil {
		return Header{}, err
	}

	var b [2]byte
	if err := r.br.ReadBytes(b[:]); err != nil {
		return Header{}, r.fail(err, op)
	}
	h, fdict, err := decode(b)
	if err != nil {
		return Header{}, r.fail(err, "")
	}

	var dict []byte
	if fdict {
		var id [4]byte
		if err := r.br.ReadBytes(id[:]); err != nil {
			return Header{}, r.fail(err, op)
		}
		dictID := binary.BigEndian.Uint32(id[:])
		h.DictID = &dictID
		if r.opts.Dictionary == nil {
			return Header{}, r.fail(zpng.Errorf(zpng.ExpectFailed, op, "stream needs preset dictionary %#08x", dictID), "")
		}
		if sum := checksum.Adler32(r.opts.Dictionary); sum != dictID {
			return Header{}, r.fail(zpng.Errorf(zpng.ZlibInvalidChecksum, op, "dictionary checksum %#08x does not match %#08x", sum, dictID), "")
		}
		dict = r.opts.Dictionary
	}

	r.fr = flate.NewBitReader(r.br, &flate.ReaderOptions{
		Dictionary: dict,
		Logger:     r.opts.Logger,
	})
	r.header = h
	r.state = stateData
	r.log.Debug().
		Uint8("method", h.CompressionMethod).
		Int("window", 1<<(h.CompressionInfo+8)).
		Stringer("level", h.CompressionLevel).
		Bool("dictionary", fdict).
		Msg("zlib: header")
	return h, nil
}

// ReadData decompresses up to len(p) bytes into p. It returns fewer than
// len(p) only at the end of the compressed data; ReadEnd must follow.
func (r *Reader) ReadData(p []byte) (int, error) {
	const op = "zlib: ReadData"
	if r.err != nil {
		return 0, r.err
	}
	if r.state == stateEnd {
		return 0, nil
	}
	if err := r.expectState(stateData, op); err != nil {
		return 0, err
	}

	n := 0
	for n < len(p) && !r.fr.Done() {
		k, err := r.fr.Read(p[n:])
		r.adler.Write(p[n : n+k])
		n += k
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, r.fail(err, op)
		}
	}
	if r.fr.Done() {
		r.state = stateEnd
	}
	return n, nil
}

// ReadEnd reads the trailer and checks it against the data read.
func (r *Reader) ReadEnd() error {
	const op = "zlib: ReadEnd"
	if err := r.expectState(stateEnd, op); err != nil {
		return err
	}
	var b [4]byte
	if err := r.br.ReadBytes(b[:]); err != nil {
		return r.fail(err, op)
	}
	want, got := binary.BigEndian.Uint32(b[:]), r.adler.Sum32()
	if want != got {
		return r.fail(zpng.Errorf(zpng.ZlibInvalidChecksum, op, "Adler-32 %#08x does not match trailer %#08x", got, want), "")
	}
	r.log.Debug().Uint32("adler32", got).Msg("zlib: trailer")
	r.state = stateDone
	return nil
}

// ReadFile reads a whole stream.
func (r *Reader) ReadFile() (File, error) {
	const op = "zlib: ReadFile"
	h, err := r.ReadHeader()
	if err != nil {
		return File{}, zpng.Wrap(err, op)
	}
	f := File{Header: h}
	buf := make([]byte, 32*1024)
	for {
		n, err := r.ReadData(buf)
		if err != nil {
			return File{}, zpng.Wrap(err, op)
		}
		f.Data = append(f.Data, buf[:n]...)
		if n < len(buf) {
			break
		}
	}
	if err := r.ReadEnd(); err != nil {
		return File{}, zpng.Wrap(err, op)
	}
	return f, nil
}

// Read implements io.Reader. It reads the header on first use, checks the
// trailer when the data runs out and then returns io.EOF.
func (r *Reader) Read(p []byte) (int, error) {
	const op = "zlib: Read"
	if r.err != nil {
		return 0, r.err
	}
	if r.state == stateHeader {
		if _, err := r.ReadHeader(); err != nil {
			return 0, zpng.Wrap(err, op)
		}
	}
	if r.state == stateDone {
		return 0, io.EOF
	}
	n, err := r.ReadData(p)
	if err != nil {
		return n, zpng.Wrap(err, op)
	}
	if r.state == stateEnd {
		if err := r.ReadEnd(); err != nil {
			return n, zpng.Wrap(err, op)
		}
		if n == 0 {
			return 0, io.EOF
		}
	}
	return n, nil
}

// Close releases the Reader and its DEFLATE reader. An owned source is
// closed as well. Later calls fail with NoStream.
func (r *Reader) Close() error {
	var closers []io.Closer
	if r.fr != nil {
		closers = append(closers, r.fr)
	}
	if r.src != nil {
		closers = append(closers, r.src)
	}
	err := zpng.CloseAll(closers...)
	r.fr, r.src = nil, nil
	r.err = zpng.Errorf(zpng.NoStream, "zlib", "Reader is closed")
	return zpng.Wrap(err, "zlib: Close")
}
