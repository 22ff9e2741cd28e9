package png

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imgpipe/zpng"
)

func TestPaeth(t *testing.T) {
	for _, tc := range []struct{ a, b, c, want uint8 }{
		{0, 0, 0, 0},
		{10, 20, 10, 20},
		{20, 10, 10, 20},
		{10, 10, 20, 10},
		{100, 50, 75, 75},
		{255, 0, 255, 0},
	} {
		assert.Equal(t, tc.want, paeth(tc.a, tc.b, tc.c), "paeth(%d, %d, %d)", tc.a, tc.b, tc.c)
	}
}

func TestFilterRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, bpp := range []int{1, 2, 3, 4, 6, 8} {
		n := bpp * 9
		prev := make([]byte, n)
		cur := make([]byte, n)
		rng.Read(prev)
		rng.Read(cur)
		for ft := uint8(0); ft < nFilter; ft++ {
			filtered := make([]byte, n)
			filter(filtered, ft, cur, prev, bpp)
			require.NoError(t, unfilter(ft, filtered, prev, bpp))
			assert.Equal(t, cur, filtered, "filter %d bpp %d", ft, bpp)
		}
	}
}

func TestUnfilterKnownRows(t *testing.T) {
	prev := []byte{10, 20, 30, 40}

	row := []byte{1, 1, 1, 1}
	require.NoError(t, unfilter(ftSub, row, prev, 1))
	assert.Equal(t, []byte{1, 2, 3, 4}, row)

	row = []byte{1, 1, 1, 1}
	require.NoError(t, unfilter(ftUp, row, prev, 1))
	assert.Equal(t, []byte{11, 21, 31, 41}, row)

	row = []byte{1, 1, 1, 1}
	require.NoError(t, unfilter(ftAverage, row, prev, 2))
	assert.Equal(t, []byte{6, 11, 19, 26}, row)

	err := unfilter(5, []byte{0}, []byte{0}, 1)
	assert.Equal(t, zpng.PngInvalidChunkContent, zpng.KindOf(err))
}

func TestRowFilterStrategies(t *testing.T) {
	prev := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	cur := []byte{2, 3, 4, 5, 6, 7, 8, 9}
	for s, want := range map[FilterStrategy]uint8{
		FilterNone:    ftNone,
		FilterSub:     ftSub,
		FilterUp:      ftUp,
		FilterAverage: ftAverage,
		FilterPaeth:   ftPaeth,
	} {
		ft, _ := newRowFilter(s, len(cur), 1).apply(cur, prev)
		assert.Equal(t, want, ft, s.String())
	}

	// Every byte is one more than the byte above: Up leaves all ones.
	ft, row := newRowFilter(FilterAdaptive, len(cur), 1).apply(cur, prev)
	assert.Equal(t, uint8(ftUp), ft)
	assert.Equal(t, []byte{1, 1, 1, 1, 1, 1, 1, 1}, row)
}

func TestSampleConversion(t *testing.T) {
	for v := 0; v < 256; v++ {
		assert.Equal(t, uint8(v), fromWide[uint8]()(toWide[uint8]()(uint8(v))))
	}
	assert.Equal(t, uint16(0xffff), toWide[uint8]()(0xff))
	assert.Equal(t, uint32(0xffffffff), fromWide[uint32]()(0xffff))
	assert.Equal(t, uint32(0x12341234), fromWide[uint32]()(0x1234))
	assert.Equal(t, uint64(0xffffffffffffffff), fromWide[uint64]()(0xffff))
	assert.Equal(t, uint16(0x1234), toWide[uint64]()(0x1234123412341234))
	assert.Equal(t, uint16(0xabcd), toWide[uint32]()(0xabcd0000))

	assert.Equal(t, float64(1), fromWide[float64]()(0xffff))
	assert.Equal(t, float32(0), fromWide[float32]()(0))
	assert.Equal(t, uint16(0x8000), toWide[float64]()(0.5))
	assert.Equal(t, uint16(0), toWide[float32]()(-1))
	assert.Equal(t, uint16(0xffff), toWide[float64]()(2))
}

func TestScale(t *testing.T) {
	assert.Equal(t, uint16(0xffff), scale(1, 1))
	assert.Equal(t, uint16(0xaaaa), scale(2, 2))
	assert.Equal(t, uint16(0x7777), scale(7, 4))
	assert.Equal(t, uint16(0x8080), scale(0x80, 8))
	assert.Equal(t, uint16(0x1234), scale(0x1234, 16))
}

func TestSwizzle(t *testing.T) {
	px := [4]uint16{1, 2, 3, 4}
	var out [4]uint16
	BGRA.toCaller(&out, &px)
	assert.Equal(t, [4]uint16{3, 2, 1, 4}, out)
	ARGB.toCaller(&out, &px)
	assert.Equal(t, [4]uint16{4, 1, 2, 3}, out)
	RGBX.toCaller(&out, &px)
	assert.Equal(t, [4]uint16{1, 2, 3, 0xffff}, out)
	Swizzle{ChannelZero, 1, 1, 1}.toCaller(&out, &px)
	assert.Equal(t, [4]uint16{0, 2, 2, 2}, out)

	var back [4]uint16
	BGRA.fromCaller(&back, &[4]uint16{3, 2, 1, 4})
	assert.Equal(t, px, back)
	Swizzle{0, ChannelZero, ChannelZero, ChannelZero}.fromCaller(&back, &[4]uint16{9, 8, 7, 6})
	assert.Equal(t, [4]uint16{9, 0, 0, 0xffff}, back)

	require.NoError(t, RGBA.validate("op"))
	assert.Equal(t, zpng.ExpectFailed, zpng.KindOf(Swizzle{0, 1, 2, 4}.validate("op")))
}
