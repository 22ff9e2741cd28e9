package png

import (
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/imgpipe/zpng"
	"github.com/imgpipe/zpng/flate"
	"github.com/imgpipe/zpng/matchfinder"
	"github.com/imgpipe/zpng/zlib"
)

// DefaultChunkSize is the IDAT payload size a Writer uses unless told
// otherwise.
const DefaultChunkSize = 1 << 16

// WriterOptions configures a Writer. The zero value is usable; the DEFLATE
// settings are passed on to the zlib.Writer underneath.
type WriterOptions struct {
	Filter FilterStrategy

	// ChunkSize is the largest IDAT payload written.
	ChunkSize int

	Mode        flate.Mode
	BlockSize   int
	Level       int
	MatchFinder matchfinder.MatchFinder

	Logger *zerolog.Logger
}

// idatWriter cuts the zlib stream into IDAT chunks.
type idatWriter struct {
	cw   *chunkWriter
	size int
	buf  []byte
}

func (iw *idatWriter) Write(p []byte) (int, error) {
	n := 0
	for len(p) > 0 {
		k := min(len(p), iw.size-len(iw.buf))
		iw.buf = append(iw.buf, p[:k]...)
		p = p[k:]
		n += k
		if len(iw.buf) == iw.size {
			if err := iw.flush(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

func (iw *idatWriter) flush() error {
	if len(iw.buf) == 0 {
		return nil
	}
	err := iw.cw.write(chunkIDAT, iw.buf)
	iw.buf = iw.buf[:0]
	return err
}

// Writer encodes a PNG file. Calls go WriteHeader, WritePixels until every
// pixel is written, then WriteEnding.
type Writer struct {
	sink *zpng.Sink // non-nil if the Writer owns its destination
	cw   *chunkWriter
	idat *idatWriter
	zw   *zlib.Writer
	opts WriterOptions
	log  zerolog.Logger

	state  readState
	header Header

	filter    *rowFilter
	prev, cur []byte // unfiltered scanlines
	line      []byte // filter byte and filtered scanline
	pix       []uint16
	row, col  int

	closed bool
	err    error
}

// NewWriter returns a Writer emitting a PNG file to w. w is borrowed: Close
// does not close it.
func NewWriter(w io.Writer, opts *WriterOptions) *Writer {
	pw := &Writer{log: zerolog.Nop()}
	if opts != nil {
		pw.opts = *opts
	}
	if pw.opts.Logger != nil {
		pw.log = *pw.opts.Logger
	}
	if pw.opts.ChunkSize <= 0 {
		pw.opts.ChunkSize = DefaultChunkSize
	}
	pw.cw = newChunkWriter(w, &pw.log)
	return pw
}

// Create creates the file at path and returns a Writer that owns it.
func Create(path string, opts *WriterOptions) (*Writer, error) {
	sink, err := zpng.CreateSink(path)
	if err != nil {
		return nil, zpng.Wrap(err, "png: Create")
	}
	w := NewWriter(sink, opts)
	w.sink = sink
	return w, nil
}

func (w *Writer) fail(err error, op string) error {
	if op != "" {
		err = zpng.Wrap(err, op)
	}
	w.err = err
	return err
}

func (w *Writer) expectState(want readState, op string) error {
	if w.err != nil {
		return w.err
	}
	if w.state != want {
		return zpng.Errorf(zpng.ExpectFailed, op, "expected %s", stateNames[w.state])
	}
	return nil
}

// headerChunks returns the chunks that go between IHDR and the image data,
// in the order they are written.
func headerChunks(h *Header) ([]chunk, error) {
	var cs []chunk
	add := func(typ string, data []byte) {
		cs = append(cs, chunk{typ: typ, data: data})
	}
	if h.Chromaticity != nil {
		add(chunkCHRM, encodeCHRM(h.Chromaticity))
	}
	if h.Gamma != nil {
		add(chunkGAMA, encodeGAMA(*h.Gamma))
	}
	if h.ICCProfile != nil {
		b, err := encodeICCP(h.ICCProfile)
		if err != nil {
			return nil, err
		}
		add(chunkICCP, b)
	}
	if h.SignificantBits != nil {
		add(chunkSBIT, encodeSBIT(h))
	}
	if h.SRGB != nil {
		add(chunkSRGB, []byte{uint8(*h.SRGB)})
	}
	if len(h.Palette) > 0 {
		add(chunkPLTE, encodePLTE(h))
	}
	if h.Background != nil {
		add(chunkBKGD, encodeBKGD(h))
	}
	if len(h.Histogram) > 0 {
		if len(h.Histogram) != len(h.Palette) {
			return nil, contentError(chunkHIST, "%d entries for a palette of %d", len(h.Histogram), len(h.Palette))
		}
		add(chunkHIST, encodeHIST(h.Histogram))
	}
	if b := encodeTRNS(h); b != nil {
		add(chunkTRNS, b)
	}
	if h.PixelDimensions != nil {
		add(chunkPHYS, encodePHYS(h.PixelDimensions))
	}
	for i := range h.SuggestedPalette {
		b, err := encodeSPLT(&h.SuggestedPalette[i])
		if err != nil {
			return nil, err
		}
		add(chunkSPLT, b)
	}
	if h.LastModification != nil {
		add(chunkTIME, encodeTIME(*h.LastModification))
	}
	for i := range h.Text {
		typ, b, err := encodeText(&h.Text[i])
		if err != nil {
			return nil, err
		}
		add(typ, b)
	}
	return cs, nil
}

// WriteHeader writes the signature, IHDR and the metadata chunks of h.
func (w *Writer) WriteHeader(h Header) error {
	const op = "png: WriteHeader"
	if err := w.expectState(stateHeader, op); err != nil {
		return err
	}
	if err := h.validate(op); err != nil {
		return err
	}
	switch {
	case h.ColorType == Indexed:
		return zpng.Errorf(zpng.NotImplemented, op, "writing indexed images is not supported")
	case h.Interlace == Adam7:
		return zpng.Errorf(zpng.NotImplemented, op, "writing interlaced images is not supported")
	}
	cs, err := headerChunks(&h)
	if err != nil {
		return w.fail(err, op)
	}

	if err := w.cw.writeSignature(); err != nil {
		return w.fail(err, op)
	}
	cs = append([]chunk{{typ: chunkIHDR, data: encodeIHDR(&h)}}, cs...)
	for _, c := range cs {
		if err := w.cw.write(c.typ, c.data); err != nil {
			return w.fail(err, op)
		}
	}

	w.header = h
	w.idat = &idatWriter{cw: w.cw, size: w.opts.ChunkSize}
	w.zw = zlib.NewWriter(w.idat, &zlib.WriterOptions{
		Mode:        w.opts.Mode,
		BlockSize:   w.opts.BlockSize,
		Level:       w.opts.Level,
		MatchFinder: w.opts.MatchFinder,
		Logger:      w.opts.Logger,
	})
	n := h.rowBytes()
	w.prev, w.cur, w.line = make([]byte, n), make([]byte, n), make([]byte, n+1)
	w.pix = make([]uint16, 4*int(h.Width))
	w.filter = newRowFilter(w.opts.Filter, n, h.filterUnit())
	w.state = statePixels
	w.log.Debug().
		Uint32("width", h.Width).
		Uint32("height", h.Height).
		Uint8("depth", h.BitDepth).
		Stringer("color", h.ColorType).
		Stringer("filter", w.opts.Filter).
		Msg("png: IHDR")
	return nil
}

// flushRow filters the completed row and compresses it.
func (w *Writer) flushRow() error {
	encodeRow(w.cur, w.pix, &w.header)
	ft, filtered := w.filter.apply(w.cur, w.prev)
	w.line[0] = ft
	copy(w.line[1:], filtered)
	if _, err := w.zw.Write(w.line); err != nil {
		return err
	}
	w.prev, w.cur = w.cur, w.prev
	w.row++
	w.col = 0
	if w.row == int(w.header.Height) {
		w.state = stateEnding
	}
	return nil
}

// WritePixels encodes the next len(src)/4 pixels, passing each through sw.
// Image channels that no caller channel maps to are written as zero, or
// opaque for alpha. Grayscale images take the red channel.
func WritePixels[S Sample](w *Writer, src []S, sw Swizzle) error {
	const op = "png: WritePixels"
	if err := w.expectState(statePixels, op); err != nil {
		return err
	}
	if len(src)%4 != 0 {
		return zpng.Errorf(zpng.ExpectFailed, op, "buffer of %d samples is not a whole number of pixels", len(src))
	}
	if err := sw.validate(op); err != nil {
		return err
	}
	width := int(w.header.Width)
	left := (int(w.header.Height)-w.row)*width - w.col
	if len(src)/4 > left {
		return zpng.Errorf(zpng.ExpectFailed, op, "%d pixels given, %d left in the image", len(src)/4, left)
	}

	conv := toWide[S]()
	var in, px [4]uint16
	for i := 0; i < len(src); i += 4 {
		for c := range in {
			in[c] = conv(src[i+c])
		}
		sw.fromCaller(&px, &in)
		copy(w.pix[4*w.col:], px[:])
		w.col++
		if w.col == width {
			if err := w.flushRow(); err != nil {
				return w.fail(err, op)
			}
		}
	}
	return nil
}

// WriteEnding finishes the image data and writes e followed by IEND.
func (w *Writer) WriteEnding(e Ending) error {
	const op = "png: WriteEnding"
	if err := w.expectState(stateEnding, op); err != nil {
		return err
	}
	if err := w.zw.Close(); err != nil {
		return w.fail(err, op)
	}
	if err := w.idat.flush(); err != nil {
		return w.fail(err, op)
	}
	if e.LastModification != nil {
		if err := w.cw.write(chunkTIME, encodeTIME(*e.LastModification)); err != nil {
			return w.fail(err, op)
		}
	}
	for i := range e.Text {
		typ, b, err := encodeText(&e.Text[i])
		if err != nil {
			return w.fail(err, op)
		}
		if err := w.cw.write(typ, b); err != nil {
			return w.fail(err, op)
		}
	}
	if err := w.cw.write(chunkIEND, nil); err != nil {
		return w.fail(err, op)
	}
	w.state = stateDone
	return nil
}

// Close writes an empty ending if every pixel has been written, then closes
// an owned destination. Closing in the middle of the pixels is an error.
// Later calls fail with NoStream.
func (w *Writer) Close() error {
	const op = "png: Close"
	if w.closed {
		return nil
	}
	w.closed = true

	var result *multierror.Error
	switch {
	case w.err != nil:
		result = multierror.Append(result, w.err)
	case w.state == statePixels:
		result = multierror.Append(result, zpng.Errorf(zpng.ExpectFailed, op, "closed after %d of %d rows", w.row, w.header.Height))
	case w.state == stateEnding:
		if err := w.WriteEnding(Ending{}); err != nil {
			result = multierror.Append(result, zpng.Wrap(err, op))
		}
	}
	if w.sink != nil {
		if err := w.sink.Close(); err != nil {
			result = multierror.Append(result, zpng.Wrap(err, op))
		}
		w.sink = nil
	}
	if w.err == nil {
		w.err = zpng.Errorf(zpng.NoStream, "png", "Writer is closed")
	}
	return result.ErrorOrNil()
}

// WriteImage writes a whole file to a Writer that has not been used yet.
func WriteImage[S Sample](w *Writer, f File[S], sw Swizzle) error {
	const op = "png: WriteImage"
	if err := w.WriteHeader(f.Header); err != nil {
		return zpng.Wrap(err, op)
	}
	if want := 4 * f.Header.pixelCount(); len(f.Pixels) != want {
		return zpng.Errorf(zpng.ExpectFailed, op, "%d samples given for %d", len(f.Pixels), want)
	}
	if err := WritePixels(w, f.Pixels, sw); err != nil {
		return zpng.Wrap(err, op)
	}
	return zpng.Wrap(w.WriteEnding(f.Ending), op)
}

// Encode writes f as a PNG file to w.
func Encode[S Sample](w io.Writer, f File[S], sw Swizzle, opts *WriterOptions) error {
	pw := NewWriter(w, opts)
	if err := WriteImage(pw, f, sw); err != nil {
		return err
	}
	return pw.Close()
}

// WriteFile writes f to the file at path.
func WriteFile[S Sample](path string, f File[S], sw Swizzle, opts *WriterOptions) error {
	pw, err := Create(path, opts)
	if err != nil {
		return err
	}
	err = WriteImage(pw, f, sw)
	if cerr := pw.Close(); err == nil {
		err = cerr
	}
	return err
}
