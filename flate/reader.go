package flate

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/imgpipe/zpng"
	"github.com/imgpipe/zpng/bitstream"
	"github.com/imgpipe/zpng/huffman"
)

type blockState int

const (
	stateHeader blockState = iota // before a block header
	stateData                     // inside block data
	stateEnd                      // block data exhausted, end not yet consumed
	stateDone                     // final block consumed
)

// ReaderOptions configures a Reader. The zero value is usable.
type ReaderOptions struct {
	// Dictionary primes the window, as if it had been decompressed just
	// before the stream. Only its last 32 KiB matter.
	Dictionary []byte

	// Logger receives block-level debug events. Nil disables logging.
	Logger *zerolog.Logger
}

// Reader decompresses a DEFLATE stream.
type Reader struct {
	br  *bitstream.Reader
	src *zpng.Source // non-nil if the Reader owns its source
	log zerolog.Logger

	state  blockState
	header BlockHeader
	blocks int

	litLen *huffman.Tree
	dist   *huffman.Tree

	storedLeft int

	// Pending back-reference, when the caller's buffer filled up mid-copy.
	copyLen  int
	copyDist int

	win window
	err error
}

// NewReader returns a Reader decompressing the DEFLATE stream in r. The
// Reader never reads past the end of the stream, so r may carry more data
// after it. r is borrowed: Close does not close it.
func NewReader(r io.Reader, opts *ReaderOptions) *Reader {
	return NewBitReader(bitstream.NewReader(r, bitstream.LSB), opts)
}

// NewBitReader returns a Reader decompressing a DEFLATE stream that starts
// at the current position of br. Containers use it to hand their own bit
// reader to the decompressor; br must use LSB order.
func NewBitReader(br *bitstream.Reader, opts *ReaderOptions) *Reader {
	if opts == nil {
		opts = &ReaderOptions{}
	}
	r := &Reader{br: br, log: zerolog.Nop()}
	if opts.Logger != nil {
		r.log = *opts.Logger
	}
	if len(opts.Dictionary) > 0 {
		r.win.write(opts.Dictionary)
	}
	return r
}

// Open opens the file at path and returns a Reader that owns it.
func Open(path string, opts *ReaderOptions) (*Reader, error) {
	src, err := zpng.OpenSource(path)
	if err != nil {
		return nil, zpng.Wrap(err, "flate: Open")
	}
	r := NewReader(src, opts)
	r.src = src
	return r, nil
}

// Done reports whether the final block has been consumed.
func (r *Reader) Done() bool {
	return r.state == stateDone
}

func (r *Reader) fail(err error, op string) error {
	r.err = zpng.Wrap(err, op)
	return r.err
}

func (r *Reader) expectState(want blockState, op string) error {
	if r.err != nil {
		return r.err
	}
	if r.state != want {
		names := [...]string{"a block header", "block data", "the end of a block", "nothing, the stream is finished"}
		return zpng.Errorf(zpng.ExpectFailed, op, "expected %s", names[r.state])
	}
	return nil
}

// readSymbol decodes one symbol with t, walking its trie one bit at a time
// so that no bit past the end of the code is taken from the source.
func (r *Reader) readSymbol(t *huffman.Tree) (uint32, error) {
	n := t.Root()
	depth := 0
	for {
		switch v := n.(type) {
		case *huffman.Leaf:
			return v.Symbol, nil
		case *huffman.Internal:
			bit, err := r.br.ReadUint(1)
			if err != nil {
				return 0, err
			}
			if bit == 0 {
				n = v.Zero
			} else {
				n = v.One
			}
			depth++
		default:
			return 0, zpng.Errorf(zpng.DeflateInvalidCode, "", "no code matches the %d bits read", depth)
		}
	}
}

func (r *Reader) readUint(n uint) (int, error) {
	v, err := r.br.ReadUint(n)
	return int(v), err
}

// ReadBlockHeader reads the header of the next block. For Dynamic blocks it
// also reads the code length tables.
func (r *Reader) ReadBlockHeader() (BlockHeader, error) {
	const op = "flate: ReadBlockHeader"
	if err := r.expectState(stateHeader, op); err != nil {
		return BlockHeader{}, err
	}

	bits, err := r.readUint(3)
	if err != nil {
		return BlockHeader{}, r.fail(err, op)
	}
	h := BlockHeader{Final: bits&1 == 1, Type: CompressionType(bits >> 1)}

	switch h.Type {
	case Stored:
		if err := r.readStoredHeader(); err != nil {
			return BlockHeader{}, r.fail(err, op)
		}
	case Fixed:
		h.LitLenLengths = fixedLitLenLengths
		h.DistLengths = fixedDistLengths
		r.litLen, r.dist = fixedLitLenTree, fixedDistTree
	case Dynamic:
		if err := r.readDynamicHeader(&h); err != nil {
			return BlockHeader{}, r.fail(err, op)
		}
	default:
		return BlockHeader{}, r.fail(zpng.Errorf(zpng.DeflateInvalidCompressionType, "", "reserved block type 3"), op)
	}

	r.header = h
	r.state = stateData
	r.log.Debug().
		Int("block", r.blocks).
		Bool("final", h.Final).
		Stringer("type", h.Type).
		Msg("flate: block header")
	return h, nil
}

func (r *Reader) readStoredHeader() error {
	if err := r.br.DiscardTrailingBits(); err != nil {
		return err
	}
	length, err := r.readUint(16)
	if err != nil {
		return err
	}
	nlength, err := r.readUint(16)
	if err != nil {
		return err
	}
	if uint16(length) != ^uint16(nlength) {
		return zpng.Errorf(zpng.DeflateInvalidBlockLength, "", "stored block LEN %#04x does not match NLEN %#04x", length, nlength)
	}
	r.storedLeft = length
	return nil
}

func (r *Reader) readDynamicHeader(h *BlockHeader) error {
	hlit, err := r.readUint(5)
	if err != nil {
		return err
	}
	hdist, err := r.readUint(5)
	if err != nil {
		return err
	}
	hclen, err := r.readUint(4)
	if err != nil {
		return err
	}
	nlit, ndist, nclen := hlit+257, hdist+1, hclen+4
	if nlit > maxNumLit || ndist > offsetCodeCount {
		return zpng.Errorf(zpng.DeflateInvalidCodeLengths, "", "%d literal/length and %d distance codes", nlit, ndist)
	}

	var clens [codegenCodeCount]uint8
	for i := 0; i < nclen; i++ {
		v, err := r.readUint(3)
		if err != nil {
			return err
		}
		clens[codegenOrder[i]] = uint8(v)
	}
	cltree, err := buildTree(clens[:])
	if err != nil {
		return zpng.Errorf(zpng.DeflateInvalidCodeLengths, "", "code length code: %v", err)
	}

	lengths := make([]uint8, nlit+ndist)
	for i := 0; i < len(lengths); {
		sym, err := r.readSymbol(cltree)
		if err != nil {
			if zpng.IsKind(err, zpng.DeflateInvalidCode) {
				return zpng.Errorf(zpng.DeflateInvalidCodeLengths, "", "%v", err)
			}
			return err
		}
		if sym < 16 {
			lengths[i] = uint8(sym)
			i++
			continue
		}

		var rep int
		var val uint8
		switch sym {
		case 16:
			if i == 0 {
				return zpng.Errorf(zpng.DeflateInvalidCodeLengths, "", "repeat code with no previous length")
			}
			val = lengths[i-1]
			rep, err = r.readUint(2)
			rep += 3
		case 17:
			rep, err = r.readUint(3)
			rep += 3
		default:
			rep, err = r.readUint(7)
			rep += 11
		}
		if err != nil {
			return err
		}
		if i+rep > len(lengths) {
			return zpng.Errorf(zpng.DeflateInvalidCodeLengths, "", "repeat of %d overruns %d code lengths", rep, len(lengths))
		}
		for ; rep > 0; rep-- {
			lengths[i] = val
			i++
		}
	}
	if lengths[endBlockMarker] == 0 {
		return zpng.Errorf(zpng.DeflateInvalidCodeLengths, "", "end-of-block code has no length")
	}

	copy(h.LitLenLengths[:], lengths[:nlit])
	copy(h.DistLengths[:], lengths[nlit:])
	if r.litLen, err = buildTree(h.LitLenLengths[:]); err != nil {
		return zpng.Errorf(zpng.DeflateInvalidCodeLengths, "", "literal/length code: %v", err)
	}
	if r.dist, err = buildTree(h.DistLengths[:]); err != nil {
		return zpng.Errorf(zpng.DeflateInvalidCodeLengths, "", "distance code: %v", err)
	}
	return nil
}

// ReadBlockData decompresses up to len(p) bytes of the current block into p
// and returns how many it produced. It returns fewer than len(p) only when
// the block is exhausted; after that ReadBlockEnd must be called. A
// back-reference cut short by the end of p is resumed by the next call.
func (r *Reader) ReadBlockData(p []byte) (int, error) {
	const op = "flate: ReadBlockData"
	if r.err != nil {
		return 0, r.err
	}
	if r.state == stateEnd {
		return 0, nil
	}
	if err := r.expectState(stateData, op); err != nil {
		return 0, err
	}

	if r.header.Type == Stored {
		n := len(p)
		if n > r.storedLeft {
			n = r.storedLeft
		}
		if err := r.br.ReadBytes(p[:n]); err != nil {
			return 0, r.fail(err, op)
		}
		r.win.write(p[:n])
		r.storedLeft -= n
		if r.storedLeft == 0 {
			r.state = stateEnd
		}
		return n, nil
	}

	n := 0
	for n < len(p) {
		if r.copyLen > 0 {
			k := r.win.copyTo(p[n:], r.copyDist, r.copyLen)
			n += k
			r.copyLen -= k
			continue
		}

		sym, err := r.readSymbol(r.litLen)
		if err != nil {
			return n, r.fail(err, op)
		}
		switch {
		case sym < endBlockMarker:
			p[n] = byte(sym)
			r.win.put(byte(sym))
			n++
		case sym == endBlockMarker:
			r.state = stateEnd
			return n, nil
		case sym < maxNumLit:
			if err := r.readMatch(int(sym) - lengthCodesStart); err != nil {
				return n, r.fail(err, op)
			}
		default:
			return n, r.fail(zpng.Errorf(zpng.DeflateInvalidCode, "", "invalid literal/length symbol %d", sym), op)
		}
	}
	return n, nil
}

func (r *Reader) readMatch(code int) error {
	extra, err := r.readUint(uint(lengthExtraBits[code]))
	if err != nil {
		return err
	}
	length := baseMatchLength + lengthBase[code] + extra

	dsym, err := r.readSymbol(r.dist)
	if err != nil {
		return err
	}
	if dsym >= offsetCodeCount {
		return zpng.Errorf(zpng.DeflateInvalidCode, "", "invalid distance symbol %d", dsym)
	}
	extra, err = r.readUint(uint(offsetExtraBits[dsym]))
	if err != nil {
		return err
	}
	dist := baseMatchOffset + offsetBase[dsym] + extra
	if dist > r.win.available() {
		return zpng.Errorf(zpng.DeflateInvalidCode, "", "distance %d reaches beyond the %d bytes of history", dist, r.win.available())
	}
	r.copyLen, r.copyDist = length, dist
	return nil
}

// ReadBlockEnd finishes the current block. After the final block it skips
// the padding up to the next byte boundary, leaving the underlying bit
// reader at the first byte after the stream.
func (r *Reader) ReadBlockEnd() error {
	const op = "flate: ReadBlockEnd"
	if err := r.expectState(stateEnd, op); err != nil {
		return err
	}
	r.blocks++
	if !r.header.Final {
		r.state = stateHeader
		return nil
	}
	if err := r.br.DiscardTrailingBits(); err != nil {
		return r.fail(err, op)
	}
	r.state = stateDone
	return nil
}

// ReadBlock reads a whole block.
func (r *Reader) ReadBlock() (Block, error) {
	const op = "flate: ReadBlock"
	h, err := r.ReadBlockHeader()
	if err != nil {
		return Block{}, zpng.Wrap(err, op)
	}
	b := Block{Header: h}
	buf := make([]byte, 4096)
	for {
		n, err := r.ReadBlockData(buf)
		if err != nil {
			return Block{}, zpng.Wrap(err, op)
		}
		b.Data = append(b.Data, buf[:n]...)
		if n < len(buf) {
			break
		}
	}
	if err := r.ReadBlockEnd(); err != nil {
		return Block{}, zpng.Wrap(err, op)
	}
	return b, nil
}

// ReadFile reads blocks up to and including the final one.
func (r *Reader) ReadFile() (File, error) {
	var f File
	for !r.Done() {
		b, err := r.ReadBlock()
		if err != nil {
			return File{}, zpng.Wrap(err, "flate: ReadFile")
		}
		f.Blocks = append(f.Blocks, b)
	}
	return f, nil
}

// Read implements io.Reader, crossing block boundaries as needed. It returns
// io.EOF after the final block.
func (r *Reader) Read(p []byte) (int, error) {
	const op = "flate: Read"
	n := 0
	for n < len(p) {
		if r.err != nil {
			return n, r.err
		}
		switch r.state {
		case stateHeader:
			if _, err := r.ReadBlockHeader(); err != nil {
				return n, zpng.Wrap(err, op)
			}
		case stateData:
			k, err := r.ReadBlockData(p[n:])
			n += k
			if err != nil {
				return n, zpng.Wrap(err, op)
			}
		case stateEnd:
			if err := r.ReadBlockEnd(); err != nil {
				return n, zpng.Wrap(err, op)
			}
		case stateDone:
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		}
	}
	return n, nil
}

// Close releases the Reader. If the Reader owns its source, the source is
// closed too. Later calls fail with NoStream.
func (r *Reader) Close() error {
	var err error
	if r.src != nil {
		err = r.src.Close()
		r.src = nil
	}
	r.err = zpng.Errorf(zpng.NoStream, "", "Reader is closed")
	return err
}
