package bitstream

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imgpipe/zpng"
)

func TestReadUintOrder(t *testing.T) {
	src := []byte{0xb4, 0x01} // 1011 0100, 0000 0001

	r := NewReader(bytes.NewReader(src), LSB)
	v, err := r.ReadUint(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x4), v) // bits 0..2 of 0xb4: 0,0,1
	v, err = r.ReadUint(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x36), v) // bits 3..7 of 0xb4 (0,1,1,0,1) then bits 0..1 of 0x01 (1,0)
	assert.Equal(t, uint64(10), r.BitsRead())

	r = NewReader(bytes.NewReader(src), MSB)
	v, err = r.ReadUint(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x5), v) // 101
	v, err = r.ReadUint(5)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x14), v) // 10100
	v, err = r.ReadUint(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x01), v)
}

func TestReadBitsPacking(t *testing.T) {
	src := []byte{0xff, 0x0f}

	r := NewReader(bytes.NewReader(src), LSB)
	dst := make([]byte, 2)
	require.NoError(t, r.DiscardBits(4))
	require.NoError(t, r.ReadBits(dst, 12))
	assert.Equal(t, []byte{0xff, 0x00}, dst)

	r = NewReader(bytes.NewReader(src), MSB)
	require.NoError(t, r.DiscardBits(4))
	require.NoError(t, r.ReadBits(dst, 12))
	assert.Equal(t, []byte{0xf0, 0xf0}, dst)
}

func TestReadBitsExhausted(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0xaa}), LSB)
	_, err := r.ReadUint(9)
	require.Error(t, err)
	assert.Equal(t, zpng.InvalidStream, zpng.KindOf(err))

	r = NewReader(bytes.NewReader([]byte{0xaa}), LSB)
	dst := make([]byte, 2)
	n, err := r.ReadBitsUpTo(dst, 15)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), n)
	assert.Equal(t, byte(0xaa), dst[0])
}

func TestUngetBits(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x12, 0x34, 0x56}), LSB)
	v, err := r.ReadUint(13)
	require.NoError(t, err)
	require.NoError(t, r.UngetBits(13))
	assert.Equal(t, uint64(0), r.BitsRead())
	w, err := r.ReadUint(13)
	require.NoError(t, err)
	assert.Equal(t, v, w)

	err = r.UngetBits(200)
	assert.Equal(t, zpng.ExpectFailed, zpng.KindOf(err))
}

func TestUngetAcrossCompaction(t *testing.T) {
	data := make([]byte, 3*compactThreshold)
	rand.New(rand.NewSource(1)).Read(data)
	r := NewReader(bytes.NewReader(data), LSB)
	for i := 0; i < len(data)-4; i++ {
		b, err := r.ReadUint(8)
		require.NoError(t, err)
		require.Equal(t, uint64(data[i]), b)
		if i%97 == 0 {
			require.NoError(t, r.UngetBits(8*keepBytes))
			require.NoError(t, r.DiscardBits(8*keepBytes))
		}
	}
}

func TestDiscardTrailingBitsAndReadBytes(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x01, 'a', 'b', 'c'}), LSB)
	_, err := r.ReadUint(1)
	require.NoError(t, err)

	p := make([]byte, 3)
	err = r.ReadBytes(p)
	assert.Equal(t, zpng.ExpectFailed, zpng.KindOf(err))

	require.NoError(t, r.DiscardTrailingBits())
	require.NoError(t, r.ReadBytes(p))
	assert.Equal(t, "abc", string(p))
	assert.Equal(t, uint64(32), r.BitsRead())
}

func TestWriterFlushPads(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, LSB)
	require.NoError(t, w.WriteUint(0x5, 3))
	assert.Equal(t, 0, buf.Len())
	require.NoError(t, w.Flush())
	assert.Equal(t, []byte{0x05}, buf.Bytes())

	buf.Reset()
	w = NewWriter(&buf, MSB)
	require.NoError(t, w.WriteUint(0x5, 3))
	require.NoError(t, w.Flush())
	assert.Equal(t, []byte{0xa0}, buf.Bytes())
}

func TestWriteBytesAlignment(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, LSB)
	require.NoError(t, w.WriteUint(1, 1))
	err := w.WriteBytes([]byte("x"))
	assert.Equal(t, zpng.ExpectFailed, zpng.KindOf(err))
	require.NoError(t, w.PadToByte())
	require.NoError(t, w.WriteBytes([]byte("x")))
	require.NoError(t, w.Flush())
	assert.Equal(t, []byte{0x01, 'x'}, buf.Bytes())
}

func TestRoundTrip(t *testing.T) {
	for _, order := range []Order{LSB, MSB} {
		t.Run(order.String(), func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			type field struct {
				v uint64
				n uint
			}
			var fields []field
			var buf bytes.Buffer
			w := NewWriter(&buf, order)
			for i := 0; i < 5000; i++ {
				n := uint(rng.Intn(64) + 1)
				v := rng.Uint64()
				if n < 64 {
					v &= 1<<n - 1
				}
				fields = append(fields, field{v, n})
				require.NoError(t, w.WriteUint(v, n))
			}
			raw := []byte{0xde, 0xad, 0xbe}
			require.NoError(t, w.WriteBits(raw, 21))
			require.NoError(t, w.Flush())

			r := NewReader(&buf, order)
			for _, f := range fields {
				v, err := r.ReadUint(f.n)
				require.NoError(t, err)
				require.Equal(t, f.v, v)
			}
			got := make([]byte, 3)
			require.NoError(t, r.ReadBits(got, 21))
			if order == LSB {
				assert.Equal(t, []byte{0xde, 0xad, 0x1e}, got)
			} else {
				assert.Equal(t, []byte{0xde, 0xad, 0xb8}, got)
			}
		})
	}
}
