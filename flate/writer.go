package flate

import (
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/imgpipe/zpng"
	"github.com/imgpipe/zpng/bitstream"
	"github.com/imgpipe/zpng/matchfinder"
)

// Mode selects the kind of blocks a Writer produces when it is used as an
// io.Writer.
type Mode int

const (
	// DynamicMode codes every block with codes built from its own statistics.
	DynamicMode Mode = iota
	// FixedMode uses the static codes of RFC 1951.
	FixedMode
	// StoredMode copies data without compression.
	StoredMode
	// SmallestMode picks whichever of the three is smallest for each block.
	SmallestMode
)

// DefaultBlockSize is the amount of data a Writer collects per block.
const DefaultBlockSize = 1 << 16

// DefaultLevel is the level used when WriterOptions.Level is zero.
const DefaultLevel = 6

// WriterOptions configures a Writer. The zero value is usable.
type WriterOptions struct {
	Mode Mode

	// BlockSize is the amount of input per block. It defaults to
	// DefaultBlockSize; in StoredMode it is capped at 65535.
	BlockSize int

	// Level picks the match finder when MatchFinder is nil, from 1
	// (matchfinder.ZFast) to 9 (a HashChain following long chains). Zero
	// means DefaultLevel; other values are clamped.
	Level int

	// MatchFinder finds the back-references, overriding Level. Use
	// matchfinder.NoMatchFinder{} for Huffman coding only.
	MatchFinder matchfinder.MatchFinder

	// WindowSize is the farthest back a match may reach. It defaults to and
	// is capped at 32768. Matches beyond it are written as literals.
	WindowSize int

	// Dictionary is history the decompressor will be primed with. Only its
	// last 32 KiB matter.
	Dictionary []byte

	// Logger receives block-level debug events. Nil disables logging.
	Logger *zerolog.Logger
}

// Writer compresses data into a DEFLATE stream.
type Writer struct {
	bw     *bitstream.Writer
	ownsBW bool
	sink   *zpng.Sink // non-nil if the Writer owns its destination
	log    zerolog.Logger

	mode      Mode
	blockSize int
	window    int
	mf        matchfinder.MatchFinder
	enc       huffmanBitWriter

	state   blockState
	header  BlockHeader
	size    int // declared size of the current block
	written int // bytes written into the current block
	blocks  int

	buf     []byte
	matches []matchfinder.Match
	tokens  []matchfinder.Match

	closed bool
	err    error
}

// NewWriter returns a Writer emitting a DEFLATE stream to w. w is borrowed:
// Close flushes everything into it but does not close it.
func NewWriter(w io.Writer, opts *WriterOptions) *Writer {
	fw := NewBitWriter(bitstream.NewWriter(w, bitstream.LSB), opts)
	fw.ownsBW = true
	return fw
}

// NewBitWriter returns a Writer emitting a DEFLATE stream at the current
// position of bw, which must use LSB order. Close leaves the stream padded to
// a byte boundary but does not flush bw.
func NewBitWriter(bw *bitstream.Writer, opts *WriterOptions) *Writer {
	if opts == nil {
		opts = &WriterOptions{}
	}
	w := &Writer{
		bw:        bw,
		log:       zerolog.Nop(),
		mode:      opts.Mode,
		blockSize: opts.BlockSize,
		window:    opts.WindowSize,
		mf:        opts.MatchFinder,
	}
	w.enc.bw = bw
	if opts.Logger != nil {
		w.log = *opts.Logger
	}
	if w.blockSize <= 0 {
		w.blockSize = DefaultBlockSize
	}
	if w.mode == StoredMode && w.blockSize > maxStoreBlockSize {
		w.blockSize = maxStoreBlockSize
	}
	if w.window <= 0 || w.window > windowSize {
		w.window = windowSize
	}
	if w.mf == nil {
		w.mf = NewMatchFinder(opts.Level, w.window)
	}
	w.mf.Reset()
	if dict := opts.Dictionary; len(dict) > 0 {
		if len(dict) > w.window {
			dict = dict[len(dict)-w.window:]
		}
		w.matches = w.mf.FindMatches(w.matches[:0], dict)
	}
	return w
}

// NewMatchFinder returns the match finder for a compression level, with
// matches reaching back at most window bytes. Level 1 trades ratio for speed
// with a single hash probe per position; levels 2 to 9 follow hash chains
// that double in length with each level.
func NewMatchFinder(level, window int) matchfinder.MatchFinder {
	if level == 0 {
		level = DefaultLevel
	}
	level = min(max(level, 1), 9)
	if level == 1 {
		return &matchfinder.ZFast{MaxDistance: window}
	}
	return &matchfinder.HashChain{
		MaxDistance: window,
		ChainLength: 4 << (level - 2),
	}
}

// Create creates the file at path and returns a Writer that owns it.
func Create(path string, opts *WriterOptions) (*Writer, error) {
	sink, err := zpng.CreateSink(path)
	if err != nil {
		return nil, zpng.Wrap(err, "flate: Create")
	}
	w := NewWriter(sink, opts)
	w.sink = sink
	return w, nil
}

func (w *Writer) fail(err error, op string) error {
	w.err = zpng.Wrap(err, op)
	return w.err
}

func (w *Writer) expectState(want blockState, op string) error {
	if w.err != nil {
		return w.err
	}
	if w.state != want {
		names := [...]string{"a block header", "block data", "the end of a block", "nothing, the stream is finished"}
		return zpng.Errorf(zpng.ExpectFailed, op, "expected %s", names[w.state])
	}
	return nil
}

// findMatches runs the match finder over p and leaves DEFLATE tokens in
// w.tokens.
func (w *Writer) findMatches(p []byte) []matchfinder.Match {
	w.matches = w.mf.FindMatches(w.matches[:0], p)
	w.tokens = fitMatches(w.tokens[:0], w.matches, w.window)
	return w.tokens
}

// WriteBlockHeader starts a block of size bytes. Dynamic headers must carry
// their code lengths; Fixed headers always use the static codes.
func (w *Writer) WriteBlockHeader(h BlockHeader, size int) error {
	const op = "flate: WriteBlockHeader"
	if err := w.expectState(stateHeader, op); err != nil {
		return err
	}
	if err := w.flushBuffered(); err != nil {
		return zpng.Wrap(err, op)
	}
	return w.writeHeader(h, size, op)
}

// flushBuffered writes what Write has collected as a non-final block, so
// that block-level calls never reorder data.
func (w *Writer) flushBuffered() error {
	if len(w.buf) == 0 {
		return nil
	}
	err := w.writeChunk(w.buf, false)
	w.buf = w.buf[:0]
	return err
}

func (w *Writer) writeHeader(h BlockHeader, size int, op string) error {
	if size < 0 {
		return zpng.Errorf(zpng.ExpectFailed, op, "negative block size %d", size)
	}

	switch h.Type {
	case Stored:
		if size > maxStoreBlockSize {
			return zpng.Errorf(zpng.DeflateInvalidBlockLength, op, "stored block of %d bytes exceeds %d", size, maxStoreBlockSize)
		}
		w.enc.writeStoredHeader(size, h.Final)
	case Fixed:
		h = FixedHeader(h.Final)
		w.enc.literalCodes, w.enc.offsetCodes = fixedLiteralCodes, fixedOffsetCodes
		w.enc.writeFixedHeader(h.Final)
	case Dynamic:
		if !h.hasLengths() {
			return zpng.Errorf(zpng.ExpectFailed, op, "dynamic header without code lengths")
		}
		if h.LitLenLengths[endBlockMarker] == 0 {
			return zpng.Errorf(zpng.DeflateInvalidCodeLengths, op, "end-of-block code has no length")
		}
		litLen, err := buildTree(h.LitLenLengths[:])
		if err != nil {
			return zpng.Errorf(zpng.DeflateInvalidCodeLengths, op, "literal/length code: %v", err)
		}
		dist, err := buildTree(h.DistLengths[:])
		if err != nil {
			return zpng.Errorf(zpng.DeflateInvalidCodeLengths, op, "distance code: %v", err)
		}
		for _, l := range append(h.LitLenLengths[:], h.DistLengths[:]...) {
			if l > maxCodeLength {
				return zpng.Errorf(zpng.DeflateInvalidCodeLengths, op, "code length %d exceeds %d", l, maxCodeLength)
			}
		}
		w.enc.literalCodes = hcodes(litLen, numLitLenCodes)
		w.enc.offsetCodes = hcodes(dist, numDistCodes)
		w.enc.writeDynamicHeader(&h)
	default:
		return zpng.Errorf(zpng.DeflateInvalidCompressionType, op, "cannot write block type %d", h.Type)
	}
	if w.enc.err != nil {
		return w.fail(w.enc.err, op)
	}

	w.header = h
	w.size, w.written = size, 0
	w.state = stateData
	w.log.Debug().
		Int("block", w.blocks).
		Bool("final", h.Final).
		Stringer("type", h.Type).
		Int("size", size).
		Msg("flate: block header")
	return nil
}

// WriteBlockData writes the next part of the current block's data.
func (w *Writer) WriteBlockData(p []byte) error {
	const op = "flate: WriteBlockData"
	if err := w.expectState(stateData, op); err != nil {
		return err
	}
	if w.written+len(p) > w.size {
		return zpng.Errorf(zpng.ExpectFailed, op, "block declared %d bytes, got %d", w.size, w.written+len(p))
	}
	w.writeData(p, w.findMatches(p))
	if w.enc.err != nil {
		return w.fail(w.enc.err, op)
	}
	return nil
}

// writeData writes p, which the match finder has already seen and turned
// into tokens.
func (w *Writer) writeData(p []byte, tokens []matchfinder.Match) {
	if w.header.Type == Stored {
		w.enc.writeBytes(p)
	} else {
		w.enc.writeTokens(tokens, p)
	}
	w.written += len(p)
}

// WriteBlockEnd finishes the current block. After the final block the
// stream is padded to a byte boundary.
func (w *Writer) WriteBlockEnd() error {
	const op = "flate: WriteBlockEnd"
	if err := w.expectState(stateData, op); err != nil {
		return err
	}
	if w.written != w.size {
		return zpng.Errorf(zpng.ExpectFailed, op, "block declared %d bytes, got %d", w.size, w.written)
	}
	if w.header.Type != Stored {
		w.enc.writeCode(w.enc.literalCodes[endBlockMarker], endBlockMarker)
	}
	if w.header.Final && w.enc.err == nil {
		w.enc.err = w.bw.PadToByte()
	}
	if w.enc.err != nil {
		return w.fail(w.enc.err, op)
	}
	w.blocks++
	if w.header.Final {
		w.state = stateDone
	} else {
		w.state = stateHeader
	}
	return nil
}

// WriteBlock writes a whole block. A Dynamic header without code lengths
// gets lengths built from the block's own statistics.
func (w *Writer) WriteBlock(b Block) error {
	const op = "flate: WriteBlock"
	if err := w.expectState(stateHeader, op); err != nil {
		return err
	}
	if err := w.flushBuffered(); err != nil {
		return zpng.Wrap(err, op)
	}
	h := b.Header
	tokens := w.findMatches(b.Data)
	if h.Type == Dynamic && !h.hasLengths() {
		w.enc.makeStatistics(tokens, b.Data)
		h = w.enc.dynamicHeader(h.Final)
	}
	if err := w.writeHeader(h, len(b.Data), "flate: WriteBlockHeader"); err != nil {
		// The match finder has already seen the data.
		return w.fail(err, op)
	}
	w.writeData(b.Data, tokens)
	if w.enc.err != nil {
		return w.fail(w.enc.err, op)
	}
	return zpng.Wrap(w.WriteBlockEnd(), op)
}

// WriteFile writes every block of f. Only the last block may be final, and
// it must be.
func (w *Writer) WriteFile(f File) error {
	const op = "flate: WriteFile"
	if len(f.Blocks) == 0 {
		return zpng.Errorf(zpng.ExpectFailed, op, "no blocks")
	}
	for i, b := range f.Blocks {
		if b.Header.Final != (i == len(f.Blocks)-1) {
			return zpng.Errorf(zpng.ExpectFailed, op, "block %d of %d has final flag %v", i, len(f.Blocks), b.Header.Final)
		}
	}
	for _, b := range f.Blocks {
		if err := w.WriteBlock(b); err != nil {
			return zpng.Wrap(err, op)
		}
	}
	return nil
}

// writeChunk writes p as one block in the Writer's mode.
func (w *Writer) writeChunk(p []byte, final bool) error {
	tokens := w.findMatches(p)
	var h BlockHeader
	switch w.mode {
	case StoredMode:
		h = BlockHeader{Final: final, Type: Stored}
	case FixedMode:
		h = FixedHeader(final)
	case SmallestMode:
		w.enc.makeStatistics(tokens, p)
		extra := w.enc.extraBits()
		h = FixedHeader(final)
		size := w.enc.fixedSize(extra)
		if dh := w.enc.dynamicHeader(final); w.enc.dynamicSize(&dh, extra) < size {
			h = dh
			size = w.enc.dynamicSize(&dh, extra)
		}
		if stored, ok := w.enc.storedSize(p); ok && stored < size {
			h = BlockHeader{Final: final, Type: Stored}
		}
	default:
		w.enc.makeStatistics(tokens, p)
		h = w.enc.dynamicHeader(final)
	}
	if err := w.writeHeader(h, len(p), "flate: WriteBlockHeader"); err != nil {
		return err
	}
	w.writeData(p, tokens)
	if w.enc.err != nil {
		return w.fail(w.enc.err, "flate: WriteBlockData")
	}
	return w.WriteBlockEnd()
}

// Write implements io.Writer. Data is collected and written one block at a
// time.
func (w *Writer) Write(p []byte) (int, error) {
	const op = "flate: Write"
	if err := w.expectState(stateHeader, op); err != nil {
		return 0, err
	}
	w.buf = append(w.buf, p...)
	for len(w.buf) >= w.blockSize {
		if err := w.writeChunk(w.buf[:w.blockSize], false); err != nil {
			return 0, zpng.Wrap(err, op)
		}
		w.buf = w.buf[:copy(w.buf, w.buf[w.blockSize:])]
	}
	return len(p), nil
}

// Flush writes the collected data as a block, followed by an empty stored
// block so that everything written so far can be decompressed, and flushes
// the bit writer.
func (w *Writer) Flush() error {
	const op = "flate: Flush"
	if err := w.expectState(stateHeader, op); err != nil {
		return err
	}
	if len(w.buf) > 0 {
		if err := w.writeChunk(w.buf, false); err != nil {
			return zpng.Wrap(err, op)
		}
		w.buf = w.buf[:0]
	}
	if err := w.WriteBlockHeader(BlockHeader{Type: Stored}, 0); err != nil {
		return zpng.Wrap(err, op)
	}
	if err := w.WriteBlockEnd(); err != nil {
		return zpng.Wrap(err, op)
	}
	if err := w.bw.Flush(); err != nil {
		return w.fail(err, op)
	}
	return nil
}

// Close writes the collected data as the final block. A Writer made by
// NewWriter or Create also flushes its bit writer, and one made by Create
// closes its file.
func (w *Writer) Close() error {
	const op = "flate: Close"
	if w.closed {
		return nil
	}
	w.closed = true

	var result *multierror.Error
	switch {
	case w.err != nil:
		result = multierror.Append(result, w.err)
	case w.state == stateHeader:
		if err := w.writeChunk(w.buf, true); err != nil {
			result = multierror.Append(result, zpng.Wrap(err, op))
		}
		w.buf = w.buf[:0]
	case w.state != stateDone:
		result = multierror.Append(result, zpng.Errorf(zpng.ExpectFailed, op, "closed in the middle of a block"))
	}
	if w.ownsBW && result.ErrorOrNil() == nil {
		if err := w.bw.Flush(); err != nil {
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
		w.err = zpng.Errorf(zpng.NoStream, "flate", "Writer is closed")
	}
	return result.ErrorOrNil()
}
