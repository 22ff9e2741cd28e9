package png

import (
	"io"
	"math"

	"github.com/rs/zerolog"

	"github.com/imgpipe/zpng"
	"github.com/imgpipe/zpng/zlib"
)

type readState int

const (
	stateHeader readState = iota
	statePixels
	stateEnding
	stateDone
)

var stateNames = [...]string{
	stateHeader: "header",
	statePixels: "pixels",
	stateEnding: "ending",
	stateDone:   "end of file",
}

// ReaderOptions configures a Reader. The zero value is usable.
type ReaderOptions struct {
	// MaxChunkSize is the largest chunk payload accepted. It defaults to
	// DefaultMaxChunkSize.
	MaxChunkSize uint32

	// Logger receives chunk, stream and block events. Nil disables logging.
	Logger *zerolog.Logger
}

// headerParsers decode the chunks that may appear between IHDR and the
// first IDAT.
var headerParsers = map[string]func(*Header, []byte) error{
	chunkPLTE: parsePLTE,
	chunkCHRM: parseCHRM,
	chunkGAMA: parseGAMA,
	chunkICCP: parseICCP,
	chunkSBIT: parseSBIT,
	chunkSRGB: parseSRGB,
	chunkBKGD: parseBKGD,
	chunkHIST: parseHIST,
	chunkTRNS: parseTRNS,
	chunkPHYS: parsePHYS,
	chunkSPLT: parseSPLT,
}

// parseText decodes a tEXt, zTXt or iTXt chunk. ok is false for any other
// chunk type.
func parseText(c chunk) (t TextualData, ok bool, err error) {
	switch c.typ {
	case chunkTEXT:
		t, err = parseTEXT(c.data)
	case chunkZTXT:
		t, err = parseZTXT(c.data)
	case chunkITXT:
		t, err = parseITXT(c.data)
	default:
		return TextualData{}, false, nil
	}
	return t, true, err
}

// idatReader presents the payloads of consecutive IDAT chunks as one byte
// stream. It stops at the first other chunk and keeps it in next.
type idatReader struct {
	cr   *chunkReader
	data []byte
	next chunk
	done bool
	err  error
}

func (ir *idatReader) advance() error {
	c, err := ir.cr.next()
	if err != nil {
		ir.err = err
		return err
	}
	if c.typ != chunkIDAT {
		ir.done = true
		ir.next = c
		return nil
	}
	ir.data = c.data
	return nil
}

func (ir *idatReader) Read(p []byte) (int, error) {
	for len(ir.data) == 0 {
		if ir.err != nil {
			return 0, ir.err
		}
		if ir.done {
			return 0, io.EOF
		}
		if err := ir.advance(); err != nil {
			return 0, err
		}
	}
	n := copy(p, ir.data)
	ir.data = ir.data[n:]
	return n, nil
}

// drain skips to the end of the IDAT run, failing if any image data is left.
func (ir *idatReader) drain() error {
	for {
		if ir.err != nil {
			return ir.err
		}
		if len(ir.data) > 0 {
			return contentError(chunkIDAT, "%d bytes after the end of the zlib stream", len(ir.data))
		}
		if ir.done {
			return nil
		}
		if err := ir.advance(); err != nil {
			return err
		}
	}
}

// Reader decodes a PNG file. Calls go ReadHeader, ReadPixels until every
// pixel is read, then ReadEnding.
type Reader struct {
	src  *zpng.Source // non-nil if the Reader owns its source
	cr   *chunkReader
	idat *idatReader
	zr   *zlib.Reader
	opts ReaderOptions
	log  zerolog.Logger

	state  readState
	header Header

	// prev and cur hold a filter byte followed by one scanline.
	prev, cur []byte
	pix       []uint16 // the current row as RGBA
	row, col  int

	err error
}

// NewReader returns a Reader decoding the PNG file in r. r is borrowed:
// Close does not close it.
func NewReader(r io.Reader, opts *ReaderOptions) *Reader {
	pr := &Reader{log: zerolog.Nop()}
	if opts != nil {
		pr.opts = *opts
	}
	if pr.opts.Logger != nil {
		pr.log = *pr.opts.Logger
	}
	pr.cr = newChunkReader(r, pr.opts.MaxChunkSize, &pr.log)
	return pr
}

// Open opens the file at path and returns a Reader that owns it.
func Open(path string, opts *ReaderOptions) (*Reader, error) {
	src, err := zpng.OpenSource(path)
	if err != nil {
		return nil, zpng.Wrap(err, "png: Open")
	}
	r := NewReader(src, opts)
	r.src = src
	return r, nil
}

func (r *Reader) fail(err error, op string) error {
	if op != "" {
		err = zpng.Wrap(err, op)
	}
	r.err = err
	return err
}

func (r *Reader) expectState(want readState, op string) error {
	if r.err != nil {
		return r.err
	}
	if r.state != want {
		return zpng.Errorf(zpng.ExpectFailed, op, "expected %s", stateNames[r.state])
	}
	return nil
}

// idatError prefers a chunk-level failure seen underneath the zlib stream
// over the stream error it caused.
func (r *Reader) idatError(err error) error {
	if r.idat.err != nil {
		return r.idat.err
	}
	return err
}

// Header returns the header read by ReadHeader.
func (r *Reader) Header() Header {
	return r.header
}

// ReadHeader reads the signature and every chunk up to the image data.
func (r *Reader) ReadHeader() (Header, error) {
	const op = "png: ReadHeader"
	if err := r.expectState(stateHeader, op); err != nil {
		return Header{}, err
	}
	if err := r.cr.readSignature(); err != nil {
		return Header{}, r.fail(err, op)
	}
	c, err := r.cr.next()
	if err != nil {
		return Header{}, r.fail(err, op)
	}
	if c.typ != chunkIHDR {
		return Header{}, r.fail(zpng.Errorf(zpng.PngInvalidChunkLayout, "", "first chunk is %s, not IHDR", c.typ), op)
	}
	h, err := parseIHDR(c.data)
	if err != nil {
		return Header{}, r.fail(err, op)
	}
	r.log.Debug().
		Uint32("width", h.Width).
		Uint32("height", h.Height).
		Uint8("depth", h.BitDepth).
		Stringer("color", h.ColorType).
		Stringer("interlace", h.Interlace).
		Msg("png: IHDR")

	seen := map[string]bool{}
	for {
		c, err = r.cr.next()
		if err != nil {
			return Header{}, r.fail(err, op)
		}
		if c.typ == chunkIDAT {
			break
		}
		if err := r.headerChunk(&h, c, seen); err != nil {
			return Header{}, r.fail(err, op)
		}
		seen[c.typ] = true
	}
	if h.ColorType == Indexed && h.Palette == nil {
		return Header{}, r.fail(zpng.Errorf(zpng.PngInvalidChunkLayout, "", "indexed image without PLTE"), op)
	}

	r.header = h
	r.idat = &idatReader{cr: r.cr, data: c.data}
	r.zr = zlib.NewReader(r.idat, &zlib.ReaderOptions{Logger: r.opts.Logger})
	if _, err := r.zr.ReadHeader(); err != nil {
		return Header{}, r.fail(r.idatError(err), op)
	}
	n := h.rowBytes() + 1
	r.prev, r.cur = make([]byte, n), make([]byte, n)
	r.pix = make([]uint16, 4*int(h.Width))
	r.col = int(h.Width)
	r.state = statePixels
	return h, nil
}

func (r *Reader) headerChunk(h *Header, c chunk, seen map[string]bool) error {
	switch c.typ {
	case chunkIHDR, chunkIEND:
		return zpng.Errorf(zpng.PngInvalidChunkLayout, "", "%s chunk before the image data", c.typ)
	case chunkPLTE:
		if seen[chunkPLTE] {
			return zpng.Errorf(zpng.PngInvalidChunkLayout, "", "duplicate PLTE chunk")
		}
		for _, t := range []string{chunkBKGD, chunkHIST, chunkTRNS} {
			if seen[t] {
				return zpng.Errorf(zpng.PngInvalidChunkLayout, "", "PLTE chunk after %s", t)
			}
		}
	case chunkTIME:
		t, err := parseTIME(c.data)
		h.LastModification = t
		return err
	}
	if parse, ok := headerParsers[c.typ]; ok {
		return parse(h, c.data)
	}
	if t, ok, err := parseText(c); ok {
		if err != nil {
			return err
		}
		h.Text = append(h.Text, t)
		return nil
	}
	if c.critical() {
		return zpng.Errorf(zpng.PngInvalidChunkLayout, "", "unknown critical chunk %s", c.typ)
	}
	r.log.Debug().Str("chunk", c.typ).Msg("png: skipping chunk")
	return nil
}

// nextRow decompresses and reconstructs the next scanline into r.pix.
func (r *Reader) nextRow() error {
	n, err := r.zr.ReadData(r.cur)
	if err != nil {
		return r.idatError(err)
	}
	if n < len(r.cur) {
		if r.idat.err != nil {
			return r.idat.err
		}
		return zpng.Errorf(zpng.InvalidStream, "", "image data ends in row %d of %d", r.row, r.header.Height)
	}
	if err := unfilter(r.cur[0], r.cur[1:], r.prev[1:], r.header.filterUnit()); err != nil {
		return err
	}
	if err := decodeRow(r.pix, r.cur[1:], &r.header); err != nil {
		return err
	}
	r.prev, r.cur = r.cur, r.prev
	r.row++
	r.col = 0
	return nil
}

// ReadPixels decodes the next len(dst)/4 pixels into dst, row by row,
// passing each through sw. It returns the number of samples written, which
// is less than len(dst) only when the image runs out. Once every pixel has
// been read the Reader moves on to ReadEnding.
func ReadPixels[S Sample](r *Reader, dst []S, sw Swizzle) (int, error) {
	const op = "png: ReadPixels"
	if r.err == nil && r.state == stateEnding {
		return 0, nil
	}
	if err := r.expectState(statePixels, op); err != nil {
		return 0, err
	}
	if len(dst)%4 != 0 {
		return 0, zpng.Errorf(zpng.ExpectFailed, op, "buffer of %d samples is not a whole number of pixels", len(dst))
	}
	if err := sw.validate(op); err != nil {
		return 0, err
	}
	if r.header.Interlace == Adam7 {
		return 0, r.fail(zpng.Errorf(zpng.NotImplemented, op, "interlaced images are not supported"), "")
	}

	conv := fromWide[S]()
	width, height := int(r.header.Width), int(r.header.Height)
	var px, out [4]uint16
	n := 0
	for n < len(dst) {
		if r.col == width {
			if r.row == height {
				break
			}
			if err := r.nextRow(); err != nil {
				return n, r.fail(err, op)
			}
		}
		copy(px[:], r.pix[4*r.col:])
		sw.toCaller(&out, &px)
		for c, v := range out {
			dst[n+c] = conv(v)
		}
		n += 4
		r.col++
	}
	if r.row == height && r.col == width {
		r.state = stateEnding
	}
	return n, nil
}

// ReadEnding checks that the image data is complete and reads every chunk
// up to and including IEND.
func (r *Reader) ReadEnding() (Ending, error) {
	const op = "png: ReadEnding"
	if err := r.expectState(stateEnding, op); err != nil {
		return Ending{}, err
	}
	var extra [1]byte
	n, err := r.zr.ReadData(extra[:])
	if err != nil {
		return Ending{}, r.fail(r.idatError(err), op)
	}
	if n > 0 {
		return Ending{}, r.fail(contentError(chunkIDAT, "more image data than %dx%d pixels", r.header.Width, r.header.Height), op)
	}
	if err := r.zr.ReadEnd(); err != nil {
		return Ending{}, r.fail(r.idatError(err), op)
	}
	if err := r.idat.drain(); err != nil {
		return Ending{}, r.fail(err, op)
	}

	var e Ending
	c := r.idat.next
	for c.typ != chunkIEND {
		switch c.typ {
		case chunkIHDR, chunkPLTE, chunkIDAT:
			return Ending{}, r.fail(zpng.Errorf(zpng.PngInvalidChunkLayout, "", "%s chunk after the image data", c.typ), op)
		case chunkTIME:
			if e.LastModification, err = parseTIME(c.data); err != nil {
				return Ending{}, r.fail(err, op)
			}
		default:
			t, ok, err := parseText(c)
			switch {
			case err != nil:
				return Ending{}, r.fail(err, op)
			case ok:
				e.Text = append(e.Text, t)
			case c.critical():
				return Ending{}, r.fail(zpng.Errorf(zpng.PngInvalidChunkLayout, "", "unknown critical chunk %s", c.typ), op)
			default:
				r.log.Debug().Str("chunk", c.typ).Msg("png: skipping chunk")
			}
		}
		if c, err = r.cr.next(); err != nil {
			return Ending{}, r.fail(err, op)
		}
	}
	if len(c.data) != 0 {
		return Ending{}, r.fail(sizeError(chunkIEND, len(c.data), "0"), op)
	}
	r.state = stateDone
	return e, nil
}

// Close releases the Reader and its zlib stream. An owned source is closed
// as well. Later calls fail with NoStream.
func (r *Reader) Close() error {
	var closers []io.Closer
	if r.zr != nil {
		closers = append(closers, r.zr)
	}
	if r.src != nil {
		closers = append(closers, r.src)
	}
	err := zpng.CloseAll(closers...)
	r.zr, r.src = nil, nil
	r.err = zpng.Errorf(zpng.NoStream, "png", "Reader is closed")
	return zpng.Wrap(err, "png: Close")
}

// ReadImage reads a whole file from a Reader that has not been used yet.
func ReadImage[S Sample](r *Reader, sw Swizzle) (File[S], error) {
	const op = "png: ReadImage"
	h, err := r.ReadHeader()
	if err != nil {
		return File[S]{}, zpng.Wrap(err, op)
	}
	if uint64(h.Width)*uint64(h.Height) > math.MaxInt32 {
		return File[S]{}, zpng.Errorf(zpng.ExpectFailed, op, "%dx%d image is too large to read at once", h.Width, h.Height)
	}
	f := File[S]{Header: h, Pixels: make([]S, 4*h.pixelCount())}
	if _, err := ReadPixels(r, f.Pixels, sw); err != nil {
		return File[S]{}, zpng.Wrap(err, op)
	}
	if f.Ending, err = r.ReadEnding(); err != nil {
		return File[S]{}, zpng.Wrap(err, op)
	}
	return f, nil
}

// Decode reads a whole PNG file from r.
func Decode[S Sample](r io.Reader, sw Swizzle, opts *ReaderOptions) (File[S], error) {
	pr := NewReader(r, opts)
	f, err := ReadImage[S](pr, sw)
	if err != nil {
		return File[S]{}, err
	}
	return f, pr.Close()
}

// ReadFile reads the PNG file at path.
func ReadFile[S Sample](path string, sw Swizzle, opts *ReaderOptions) (File[S], error) {
	pr, err := Open(path, opts)
	if err != nil {
		return File[S]{}, err
	}
	f, err := ReadImage[S](pr, sw)
	if cerr := pr.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return File[S]{}, err
	}
	return f, nil
}
