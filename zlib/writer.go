package zlib

import (
	"encoding/binary"
	"hash"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/imgpipe/zpng"
	"github.com/imgpipe/zpng/bitstream"
	"github.com/imgpipe/zpng/checksum"
	"github.com/imgpipe/zpng/flate"
	"github.com/imgpipe/zpng/matchfinder"
)

// WriterOptions configures a Writer. The zero value is usable; the DEFLATE
// settings are passed on to the flate.Writer underneath.
type WriterOptions struct {
	Mode      flate.Mode
	BlockSize int

	// Level is the flate.WriterOptions level, 1 to 9 or zero for
	// flate.DefaultLevel. It also sets the header's level hint.
	Level       int
	MatchFinder matchfinder.MatchFinder

	// Dictionary is a preset dictionary. The header written by Write names
	// it, and the decompressor has to supply the same bytes.
	Dictionary []byte

	Logger *zerolog.Logger
}

// Writer compresses data into a zlib stream.
type Writer struct {
	bw   *bitstream.Writer
	sink *zpng.Sink // non-nil if the Writer owns its destination
	fw   *flate.Writer
	opts WriterOptions
	log  zerolog.Logger

	state  streamState
	adler  hash.Hash32
	closed bool
	err    error
}

// NewWriter returns a Writer emitting a zlib stream to w. w is borrowed:
// Close flushes everything into it but does not close it.
func NewWriter(w io.Writer, opts *WriterOptions) *Writer {
	zw := &Writer{
		bw:    bitstream.NewWriter(w, bitstream.LSB),
		log:   zerolog.Nop(),
		adler: checksum.NewAdler32(),
	}
	if opts != nil {
		zw.opts = *opts
	}
	if zw.opts.Logger != nil {
		zw.log = *zw.opts.Logger
	}
	return zw
}

// Create creates the file at path and returns a Writer that owns it.
func Create(path string, opts *WriterOptions) (*Writer, error) {
	sink, err := zpng.CreateSink(path)
	if err != nil {
		return nil, zpng.Wrap(err, "zlib: Create")
	}
	w := NewWriter(sink, opts)
	w.sink = sink
	return w, nil
}

// fail makes err sticky. An empty op keeps err as it is.
func (w *Writer) fail(err error, op string) error {
	if op != "" {
		err = zpng.Wrap(err, op)
	}
	w.err = err
	return err
}

func (w *Writer) expectState(want streamState, op string) error {
	if w.err != nil {
		return w.err
	}
	if w.state != want {
		return zpng.Errorf(zpng.ExpectFailed, op, "expected %s", stateNames[w.state])
	}
	return nil
}

// levelHint maps a flate level onto the header's two-bit hint the way zlib
// does.
func levelHint(level int) Level {
	if level == 0 {
		level = flate.DefaultLevel
	}
	switch {
	case level < 2:
		return Fastest
	case level < 6:
		return Fast
	case level == 6:
		return Default
	}
	return Maximum
}

// header returns the header Write uses when WriteHeader was not called.
func (w *Writer) header() Header {
	h := DefaultHeader()
	h.CompressionLevel = levelHint(w.opts.Level)
	switch {
	case w.opts.Mode == flate.StoredMode:
		h.CompressionLevel = Fastest
	case w.opts.MatchFinder != nil:
		if _, ok := w.opts.MatchFinder.(matchfinder.NoMatchFinder); ok {
			h.CompressionLevel = Fastest
		}
	}
	if w.opts.Dictionary != nil {
		id := checksum.Adler32(w.opts.Dictionary)
		h.DictID = &id
	}
	return h
}

// WriteHeader writes the stream header. A header with a DictID needs
// WriterOptions.Dictionary, and the id must be its Adler-32. Matches never
// reach farther back than the window the header declares.
func (w *Writer) WriteHeader(h Header) error {
	const op = "zlib: WriteHeader"
	if err := w.expectState(stateHeader, op); err != nil {
		return err
	}
	var dict []byte
	if h.DictID != nil {
		if w.opts.Dictionary == nil {
			return zpng.Errorf(zpng.ExpectFailed, op, "header names dictionary %#08x but none was given", *h.DictID)
		}
		if sum := checksum.Adler32(w.opts.Dictionary); sum != *h.DictID {
			return zpng.Errorf(zpng.ZlibInvalidChecksum, op, "dictionary checksum %#08x does not match %#08x", sum, *h.DictID)
		}
		dict = w.opts.Dictionary
	}
	b, err := h.encode()
	if err != nil {
		return err
	}

	if err := w.bw.WriteBytes(b[:]); err != nil {
		return w.fail(err, op)
	}
	if h.DictID != nil {
		var id [4]byte
		binary.BigEndian.PutUint32(id[:], *h.DictID)
		if err := w.bw.WriteBytes(id[:]); err != nil {
			return w.fail(err, op)
		}
	}

	w.fw = flate.NewBitWriter(w.bw, &flate.WriterOptions{
		Mode:        w.opts.Mode,
		BlockSize:   w.opts.BlockSize,
		Level:       w.opts.Level,
		MatchFinder: w.opts.MatchFinder,
		WindowSize:  1 << (h.CompressionInfo + 8),
		Dictionary:  dict,
		Logger:      w.opts.Logger,
	})
	w.state = stateData
	w.log.Debug().
		Int("window", 1<<(h.CompressionInfo+8)).
		Stringer("level", h.CompressionLevel).
		Bool("dictionary", h.DictID != nil).
		Msg("zlib: header")
	return nil
}

// WriteData compresses p.
func (w *Writer) WriteData(p []byte) error {
	const op = "zlib: WriteData"
	if err := w.expectState(stateData, op); err != nil {
		return err
	}
	if _, err := w.fw.Write(p); err != nil {
		return w.fail(err, op)
	}
	w.adler.Write(p)
	return nil
}

// WriteBlock writes b as one DEFLATE block, with the header the caller
// chose. Data given to WriteData earlier goes out first.
func (w *Writer) WriteBlock(b flate.Block) error {
	const op = "zlib: WriteBlock"
	if err := w.expectState(stateData, op); err != nil {
		return err
	}
	if err := w.fw.WriteBlock(b); err != nil {
		return w.fail(err, op)
	}
	w.adler.Write(b.Data)
	return nil
}

// WriteEnd finishes the DEFLATE stream, writes the trailer and flushes.
func (w *Writer) WriteEnd() error {
	const op = "zlib: WriteEnd"
	if err := w.expectState(stateData, op); err != nil {
		return err
	}
	if err := w.fw.Close(); err != nil {
		return w.fail(err, op)
	}
	var b [4]byte
	sum := w.adler.Sum32()
	binary.BigEndian.PutUint32(b[:], sum)
	if err := w.bw.WriteBytes(b[:]); err != nil {
		return w.fail(err, op)
	}
	if err := w.bw.Flush(); err != nil {
		return w.fail(err, op)
	}
	w.log.Debug().Uint32("adler32", sum).Msg("zlib: trailer")
	w.state = stateDone
	return nil
}

// WriteFile writes a whole stream.
func (w *Writer) WriteFile(f File) error {
	const op = "zlib: WriteFile"
	if err := w.WriteHeader(f.Header); err != nil {
		return zpng.Wrap(err, op)
	}
	if err := w.WriteData(f.Data); err != nil {
		return zpng.Wrap(err, op)
	}
	return zpng.Wrap(w.WriteEnd(), op)
}

// Write implements io.Writer. The first call writes a default header.
func (w *Writer) Write(p []byte) (int, error) {
	const op = "zlib: Write"
	if w.err == nil && w.state == stateHeader {
		if err := w.WriteHeader(w.header()); err != nil {
			return 0, zpng.Wrap(err, op)
		}
	}
	if err := w.WriteData(p); err != nil {
		return 0, zpng.Wrap(err, op)
	}
	return len(p), nil
}

// Flush makes everything written so far decompressible and pushes it to
// the destination.
func (w *Writer) Flush() error {
	const op = "zlib: Flush"
	if err := w.expectState(stateData, op); err != nil {
		return err
	}
	if err := w.fw.Flush(); err != nil {
		return w.fail(err, op)
	}
	return nil
}

func (w *Writer) finish() error {
	if w.state == stateHeader {
		if err := w.WriteHeader(w.header()); err != nil {
			return err
		}
	}
	if w.state == stateData {
		return w.WriteEnd()
	}
	return nil
}

// Close finishes the stream if needed, then closes an owned destination.
// Later calls fail with NoStream.
func (w *Writer) Close() error {
	const op = "zlib: Close"
	if w.closed {
		return nil
	}
	w.closed = true

	var result *multierror.Error
	if w.err != nil {
		result = multierror.Append(result, w.err)
	} else if err := w.finish(); err != nil {
		result = multierror.Append(result, zpng.Wrap(err, op))
	}
	if w.sink != nil {
		if err := w.sink.Close(); err != nil {
			result = multierror.Append(result, zpng.Wrap(err, op))
		}
		w.sink = nil
	}
	if w.err == nil {
		w.err = zpng.Errorf(zpng.NoStream, "zlib", "Writer is closed")
	}
	return result.ErrorOrNil()
}
