// Package bitstream turns byte-oriented readers and writers into bit
// sequences. The bit order inside each byte is an explicit setting of every
// Reader and Writer; it is never derived from the platform.
package bitstream

import (
	"io"

	"github.com/imgpipe/zpng"
)

// Order specifies the bit ordering inside each byte of a stream.
type Order int

const (
	// LSB means the first bit of the stream is the least significant bit of
	// the first byte (DEFLATE).
	LSB Order = iota
	// MSB means the first bit of the stream is the most significant bit of
	// the first byte.
	MSB
)

func (o Order) String() string {
	if o == MSB {
		return "MSB"
	}
	return "LSB"
}

// keepBytes is how many already-consumed bytes survive a compaction of the
// byte queue, so that at least keepBytes*8 bits can always be pushed back.
const keepBytes = 16

// compactThreshold is how many dead bytes may pile up at the front of the
// queue before they are dropped.
const compactThreshold = 4096

// Reader reads bits from an underlying io.Reader. Bytes are pulled from the
// source only when bits are requested, and never more than needed to satisfy
// the current request.
type Reader struct {
	src   io.Reader
	order Order

	// buf holds bytes pulled from src. Bits before pos have been consumed but
	// are kept so that UngetBits can rewind over them.
	buf []byte
	pos uint64

	total   uint64
	readErr error
}

// NewReader returns a Reader pulling bytes from src.
func NewReader(src io.Reader, order Order) *Reader {
	return &Reader{src: src, order: order}
}

// Reset discards all state and starts reading from src.
func (r *Reader) Reset(src io.Reader) {
	*r = Reader{src: src, order: r.order, buf: r.buf[:0]}
}

// SetOrder changes the bit order used for the following reads.
func (r *Reader) SetOrder(order Order) {
	r.order = order
}

// Order returns the bit order of the stream.
func (r *Reader) Order() Order {
	return r.order
}

// BitsRead returns the number of bits consumed so far.
func (r *Reader) BitsRead() uint64 {
	return r.total
}

// ByteAligned reports whether the cursor sits on a byte boundary.
func (r *Reader) ByteAligned() bool {
	return r.pos&7 == 0
}

func (r *Reader) available() uint64 {
	return uint64(len(r.buf))*8 - r.pos
}

func (r *Reader) compact() {
	drop := int(r.pos>>3) - keepBytes
	if drop < compactThreshold {
		return
	}
	n := copy(r.buf, r.buf[drop:])
	r.buf = r.buf[:n]
	r.pos -= uint64(drop) * 8
}

// fill tries to make at least n bits available.
func (r *Reader) fill(n uint64) {
	for r.available() < n && r.readErr == nil {
		r.compact()
		need := int((n - r.available() + 7) / 8)
		start := len(r.buf)
		if cap(r.buf)-start < need {
			grown := make([]byte, start, 2*cap(r.buf)+need)
			copy(grown, r.buf)
			r.buf = grown
		}
		m, err := io.ReadAtLeast(r.src, r.buf[start:start+need], need)
		r.buf = r.buf[:start+m]
		if err != nil {
			r.readErr = err
		}
	}
}

func (r *Reader) exhausted(op string, want uint64) error {
	if r.readErr != nil && r.readErr != io.EOF && r.readErr != io.ErrUnexpectedEOF {
		return zpng.Errorf(zpng.InvalidStream, op, "%v", r.readErr)
	}
	return zpng.Errorf(zpng.InvalidStream, op, "stream exhausted: wanted %d bits, %d available", want, r.available())
}

func (r *Reader) bitAt(i uint64) byte {
	b := r.buf[i>>3]
	if r.order == LSB {
		return (b >> (i & 7)) & 1
	}
	return (b >> (7 - i&7)) & 1
}

func (r *Reader) extract(dst []byte, n uint64) {
	if r.pos&7 == 0 && n&7 == 0 {
		start := r.pos >> 3
		copy(dst, r.buf[start:start+n>>3])
	} else {
		for i := range dst[:(n+7)/8] {
			dst[i] = 0
		}
		for k := uint64(0); k < n; k++ {
			bit := r.bitAt(r.pos + k)
			if r.order == LSB {
				dst[k>>3] |= bit << (k & 7)
			} else {
				dst[k>>3] |= bit << (7 - k&7)
			}
		}
	}
	r.pos += n
	r.total += n
}

// ReadBits fills dst with exactly bitCount bits. Bits are packed into dst in
// the stream's order: with LSB the k-th bit read lands in bit k%8 of
// dst[k/8], with MSB in bit 7-k%8.
func (r *Reader) ReadBits(dst []byte, bitCount uint64) error {
	const op = "bitstream: ReadBits"
	if uint64(len(dst))*8 < bitCount {
		return zpng.Errorf(zpng.ExpectFailed, op, "destination holds %d bits, %d requested", len(dst)*8, bitCount)
	}
	r.fill(bitCount)
	if r.available() < bitCount {
		return r.exhausted(op, bitCount)
	}
	r.extract(dst, bitCount)
	return nil
}

// ReadBitsUpTo reads at most bitCount bits and returns how many it read.
// Running out of input is not an error here; it only shows in the count.
func (r *Reader) ReadBitsUpTo(dst []byte, bitCount uint64) (uint64, error) {
	const op = "bitstream: ReadBitsUpTo"
	if uint64(len(dst))*8 < bitCount {
		return 0, zpng.Errorf(zpng.ExpectFailed, op, "destination holds %d bits, %d requested", len(dst)*8, bitCount)
	}
	r.fill(bitCount)
	n := bitCount
	if avail := r.available(); avail < n {
		n = avail
		if r.readErr != io.EOF && r.readErr != io.ErrUnexpectedEOF {
			return 0, r.exhausted(op, bitCount)
		}
	}
	r.extract(dst, n)
	return n, nil
}

// ReadUint reads n <= 64 bits as an unsigned integer. With LSB the first bit
// read is the least significant bit of the result, with MSB the most
// significant one.
func (r *Reader) ReadUint(n uint) (uint64, error) {
	const op = "bitstream: ReadUint"
	if n > 64 {
		return 0, zpng.Errorf(zpng.ExpectFailed, op, "cannot read %d bits into a uint64", n)
	}
	r.fill(uint64(n))
	if r.available() < uint64(n) {
		return 0, r.exhausted(op, uint64(n))
	}
	var v uint64
	for k := uint(0); k < n; k++ {
		bit := uint64(r.bitAt(r.pos + uint64(k)))
		if r.order == LSB {
			v |= bit << k
		} else {
			v = v<<1 | bit
		}
	}
	r.pos += uint64(n)
	r.total += uint64(n)
	return v, nil
}

// ReadBytes reads len(p) whole bytes. The cursor must be byte aligned.
func (r *Reader) ReadBytes(p []byte) error {
	const op = "bitstream: ReadBytes"
	if !r.ByteAligned() {
		return zpng.Errorf(zpng.ExpectFailed, op, "cursor is not byte aligned (bit offset %d)", r.pos&7)
	}
	return zpng.Wrap(r.ReadBits(p, uint64(len(p))*8), op)
}

// DiscardBits skips bitCount bits.
func (r *Reader) DiscardBits(bitCount uint64) error {
	const op = "bitstream: DiscardBits"
	r.fill(bitCount)
	if r.available() < bitCount {
		return r.exhausted(op, bitCount)
	}
	r.pos += bitCount
	r.total += bitCount
	return nil
}

// DiscardTrailingBits skips to the next byte boundary.
func (r *Reader) DiscardTrailingBits() error {
	if rem := r.pos & 7; rem != 0 {
		r.pos += 8 - rem
		r.total += 8 - rem
	}
	return nil
}

// UngetBits rewinds the cursor by bitCount bits. At least 128 bits of
// history are always available.
func (r *Reader) UngetBits(bitCount uint64) error {
	if bitCount > r.pos {
		return zpng.Errorf(zpng.ExpectFailed, "bitstream: UngetBits", "cannot push back %d bits, only %d retained", bitCount, r.pos)
	}
	r.pos -= bitCount
	r.total -= bitCount
	return nil
}
