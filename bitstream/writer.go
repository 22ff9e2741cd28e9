package bitstream

import (
	"io"

	"github.com/imgpipe/zpng"
)

// drainThreshold is how many completed bytes are buffered before they are
// handed to the destination writer.
const drainThreshold = 4096

// Writer accumulates bits into bytes and writes completed bytes to an
// underlying io.Writer. Nothing is guaranteed to reach the destination until
// Flush.
type Writer struct {
	dst   io.Writer
	order Order

	// Pending partial byte: the low (LSB) or high (MSB) nbits bits of cur.
	cur   byte
	nbits uint

	buf   []byte
	total uint64
	err   error
}

// NewWriter returns a Writer emitting bytes to dst.
func NewWriter(dst io.Writer, order Order) *Writer {
	return &Writer{dst: dst, order: order}
}

// Reset discards all state and starts writing to dst.
func (w *Writer) Reset(dst io.Writer) {
	*w = Writer{dst: dst, order: w.order, buf: w.buf[:0]}
}

// SetOrder changes the bit order used for the following writes.
func (w *Writer) SetOrder(order Order) {
	w.order = order
}

// Order returns the bit order of the stream.
func (w *Writer) Order() Order {
	return w.order
}

// BitsWritten returns the number of bits written so far, padding included.
func (w *Writer) BitsWritten() uint64 {
	return w.total
}

// ByteAligned reports whether no partial byte is pending.
func (w *Writer) ByteAligned() bool {
	return w.nbits == 0
}

func (w *Writer) putBit(bit byte) {
	if w.order == LSB {
		w.cur |= bit << w.nbits
	} else {
		w.cur |= bit << (7 - w.nbits)
	}
	w.nbits++
	if w.nbits == 8 {
		w.buf = append(w.buf, w.cur)
		w.cur, w.nbits = 0, 0
	}
}

func (w *Writer) drain(force bool) error {
	if len(w.buf) == 0 || (!force && len(w.buf) < drainThreshold) {
		return nil
	}
	_, err := w.dst.Write(w.buf)
	w.buf = w.buf[:0]
	if err != nil {
		w.err = zpng.Errorf(zpng.InvalidStream, "bitstream: Writer", "%v", err)
	}
	return w.err
}

// WriteBits writes the first bitCount bits of src, which are laid out the
// same way ReadBits lays them out.
func (w *Writer) WriteBits(src []byte, bitCount uint64) error {
	if w.err != nil {
		return w.err
	}
	if uint64(len(src))*8 < bitCount {
		return zpng.Errorf(zpng.ExpectFailed, "bitstream: WriteBits", "source holds %d bits, %d requested", len(src)*8, bitCount)
	}
	if w.nbits == 0 && bitCount&7 == 0 {
		w.buf = append(w.buf, src[:bitCount>>3]...)
	} else {
		for k := uint64(0); k < bitCount; k++ {
			b := src[k>>3]
			if w.order == LSB {
				w.putBit((b >> (k & 7)) & 1)
			} else {
				w.putBit((b >> (7 - k&7)) & 1)
			}
		}
	}
	w.total += bitCount
	return w.drain(false)
}

// WriteUint writes the low n <= 64 bits of v, in the order ReadUint reads
// them back.
func (w *Writer) WriteUint(v uint64, n uint) error {
	if w.err != nil {
		return w.err
	}
	if n > 64 {
		return zpng.Errorf(zpng.ExpectFailed, "bitstream: WriteUint", "cannot write %d bits from a uint64", n)
	}
	for k := uint(0); k < n; k++ {
		if w.order == LSB {
			w.putBit(byte(v>>k) & 1)
		} else {
			w.putBit(byte(v>>(n-1-k)) & 1)
		}
	}
	w.total += uint64(n)
	return w.drain(false)
}

// WriteBytes writes whole bytes. The cursor must be byte aligned.
func (w *Writer) WriteBytes(p []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.nbits != 0 {
		return zpng.Errorf(zpng.ExpectFailed, "bitstream: WriteBytes", "cursor is not byte aligned (%d pending bits)", w.nbits)
	}
	w.buf = append(w.buf, p...)
	w.total += uint64(len(p)) * 8
	return w.drain(false)
}

// PadToByte completes the pending partial byte with zero bits.
func (w *Writer) PadToByte() error {
	if w.err != nil {
		return w.err
	}
	if w.nbits != 0 {
		w.total += uint64(8 - w.nbits)
		w.buf = append(w.buf, w.cur)
		w.cur, w.nbits = 0, 0
	}
	return nil
}

// Flush pads the pending partial byte and writes everything buffered to the
// destination.
func (w *Writer) Flush() error {
	if err := w.PadToByte(); err != nil {
		return err
	}
	return w.drain(true)
}
