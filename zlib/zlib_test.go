package zlib

import (
	"bytes"
	"compress/zlib"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xyproto/randomstring"

	"github.com/imgpipe/zpng"
	"github.com/imgpipe/zpng/checksum"
	"github.com/imgpipe/zpng/flate"
	"github.com/imgpipe/zpng/matchfinder"
)

func testData() []byte {
	var b strings.Builder
	for i := 0; i < 2000; i++ {
		b.WriteString("light is refracted ")
		b.WriteString(randomstring.HumanFriendlyString(i%7 + 1))
	}
	return []byte(b.String())
}

func compress(t *testing.T, data []byte, opts *WriterOptions) []byte {
	var buf bytes.Buffer
	w := NewWriter(&buf, opts)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestHeaderEncoding(t *testing.T) {
	b, err := DefaultHeader().encode()
	require.NoError(t, err)
	assert.Equal(t, [2]byte{0x78, 0x9c}, b)

	h := DefaultHeader()
	h.CompressionLevel = Fastest
	b, err = h.encode()
	require.NoError(t, err)
	assert.Equal(t, [2]byte{0x78, 0x01}, b)

	h.CompressionLevel = Maximum
	b, err = h.encode()
	require.NoError(t, err)
	assert.Equal(t, [2]byte{0x78, 0xda}, b)

	for info := uint8(0); info <= 7; info++ {
		for level := Fastest; level <= Maximum; level++ {
			id := uint32(1)
			h := Header{CompressionMethod: MethodDeflate, CompressionInfo: info, CompressionLevel: level, DictID: &id}
			b, err := h.encode()
			require.NoError(t, err)
			got, fdict, err := decode(b)
			require.NoError(t, err)
			assert.True(t, fdict)
			assert.Equal(t, info, got.CompressionInfo)
			assert.Equal(t, level, got.CompressionLevel)
		}
	}

	_, err = Header{CompressionMethod: 7}.encode()
	assert.Equal(t, zpng.ZlibInvalidCompressionMethod, zpng.KindOf(err))
	_, err = Header{CompressionMethod: 8, CompressionInfo: 8}.encode()
	assert.Equal(t, zpng.ZlibInvalidCompressionMethod, zpng.KindOf(err))
}

func TestRoundTrip(t *testing.T) {
	data := testData()
	for _, opts := range []*WriterOptions{
		nil,
		{Mode: flate.StoredMode},
		{Mode: flate.FixedMode, MatchFinder: &matchfinder.ZFast{}},
		{Mode: flate.SmallestMode, BlockSize: 5000},
		{MatchFinder: matchfinder.NoMatchFinder{}},
	} {
		compressed := compress(t, data, opts)

		zr, err := zlib.NewReader(bytes.NewReader(compressed))
		require.NoError(t, err)
		got, err := io.ReadAll(zr)
		require.NoError(t, err)
		require.Equal(t, data, got)

		got, err = io.ReadAll(NewReader(bytes.NewReader(compressed), nil))
		require.NoError(t, err)
		require.Equal(t, data, got)
	}
}

func TestLevels(t *testing.T) {
	data := testData()
	hints := map[int]Level{0: Default, 1: Fastest, 2: Fast, 5: Fast, 6: Default, 7: Maximum, 9: Maximum}
	for level, hint := range hints {
		compressed := compress(t, data, &WriterOptions{Level: level})
		h, _, err := decode([2]byte{compressed[0], compressed[1]})
		require.NoError(t, err)
		assert.Equal(t, hint, h.CompressionLevel, "level %d", level)

		zr, err := zlib.NewReader(bytes.NewReader(compressed))
		require.NoError(t, err)
		got, err := io.ReadAll(zr)
		require.NoError(t, err)
		require.Equal(t, data, got, "level %d", level)
	}
}

func TestSmallWindow(t *testing.T) {
	block := []byte(randomstring.String(1000))
	data := append(append([]byte(nil), block...), block...)

	encode := func(info uint8) []byte {
		h := DefaultHeader()
		h.CompressionInfo = info
		var buf bytes.Buffer
		w := NewWriter(&buf, &WriterOptions{MatchFinder: &matchfinder.HashChain{}})
		require.NoError(t, w.WriteHeader(h))
		_, err := w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return buf.Bytes()
	}
	small, full := encode(1), encode(7)

	// A 512-byte window cannot reach the copy 1000 bytes back.
	assert.Greater(t, len(small), len(full)+500)
	for _, compressed := range [][]byte{small, full} {
		f, err := NewReader(bytes.NewReader(compressed), nil).ReadFile()
		require.NoError(t, err)
		assert.Equal(t, data, f.Data)
	}
}

func TestReadStdlib(t *testing.T) {
	data := testData()
	for _, level := range []int{zlib.NoCompression, zlib.BestSpeed, zlib.DefaultCompression, zlib.BestCompression} {
		var buf bytes.Buffer
		w, err := zlib.NewWriterLevel(&buf, level)
		require.NoError(t, err)
		w.Write(data)
		require.NoError(t, w.Close())

		r := NewReader(&buf, nil)
		f, err := r.ReadFile()
		if err != nil {
			t.Fatalf("level %d: %v", level, err)
		}
		if !bytes.Equal(f.Data, data) {
			t.Fatalf("level %d: decompressed output doesn't match", level)
		}
		assert.Equal(t, uint8(MethodDeflate), f.Header.CompressionMethod)
		assert.Equal(t, uint8(7), f.Header.CompressionInfo)
		assert.Nil(t, f.Header.DictID)
	}
}

func TestFileRoundTrip(t *testing.T) {
	h := DefaultHeader()
	h.CompressionInfo = 5
	h.CompressionLevel = Fast
	in := File{Header: h, Data: []byte("short payload, short payload")}

	var buf bytes.Buffer
	w := NewWriter(&buf, nil)
	require.NoError(t, w.WriteFile(in))
	require.NoError(t, w.Close())

	out, err := NewReader(&buf, nil).ReadFile()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestWriteBlocks(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, nil)
	require.NoError(t, w.WriteHeader(DefaultHeader()))
	require.NoError(t, w.WriteData([]byte("abc ")))
	require.NoError(t, w.WriteBlock(flate.Block{Header: flate.BlockHeader{Type: flate.Stored}, Data: []byte("stored ")}))
	require.NoError(t, w.WriteBlock(flate.Block{Header: flate.FixedHeader(true), Data: []byte("fixed")}))
	require.NoError(t, w.WriteEnd())

	err := w.WriteData([]byte("late"))
	assert.Equal(t, zpng.ExpectFailed, zpng.KindOf(err))
	require.NoError(t, w.Close())

	zr, err := zlib.NewReader(&buf)
	require.NoError(t, err)
	got, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "abc stored fixed", string(got))
}

func TestDictionary(t *testing.T) {
	dict := []byte(strings.Repeat("refrangibility of the rays ", 30))
	data := []byte(strings.Repeat("the refrangibility of the rays of light ", 25))

	compressed := compress(t, data, &WriterOptions{Dictionary: dict})
	assert.Equal(t, byte(0x20), compressed[1]&0x20)

	zr, err := zlib.NewReaderDict(bytes.NewReader(compressed), dict)
	require.NoError(t, err)
	got, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Equal(t, data, got)

	r := NewReader(bytes.NewReader(compressed), &ReaderOptions{Dictionary: dict})
	f, err := r.ReadFile()
	require.NoError(t, err)
	require.Equal(t, data, f.Data)
	require.NotNil(t, f.Header.DictID)
	assert.Equal(t, checksum.Adler32(dict), *f.Header.DictID)

	_, err = NewReader(bytes.NewReader(compressed), nil).ReadHeader()
	assert.Equal(t, zpng.ExpectFailed, zpng.KindOf(err))

	_, err = NewReader(bytes.NewReader(compressed), &ReaderOptions{Dictionary: []byte("other")}).ReadHeader()
	assert.Equal(t, zpng.ZlibInvalidChecksum, zpng.KindOf(err))

	// Streams from compress/zlib with a dictionary.
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevelDict(&buf, zlib.BestCompression, dict)
	require.NoError(t, err)
	zw.Write(data)
	require.NoError(t, zw.Close())
	got, err = io.ReadAll(NewReader(&buf, &ReaderOptions{Dictionary: dict}))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestWriteHeaderDictionaryMismatch(t *testing.T) {
	id := uint32(1234)
	h := DefaultHeader()
	h.DictID = &id

	err := NewWriter(io.Discard, nil).WriteHeader(h)
	assert.Equal(t, zpng.ExpectFailed, zpng.KindOf(err))

	err = NewWriter(io.Discard, &WriterOptions{Dictionary: []byte("dict")}).WriteHeader(h)
	assert.Equal(t, zpng.ZlibInvalidChecksum, zpng.KindOf(err))
}

func TestInvalidStreams(t *testing.T) {
	valid := compress(t, testData(), nil)

	badSum := append([]byte(nil), valid...)
	badSum[len(badSum)-1] ^= 1

	badCheck := append([]byte(nil), valid...)
	badCheck[1]++

	tests := []struct {
		name string
		in   []byte
		kind zpng.Kind
	}{
		{"flag check", badCheck, zpng.ZlibInvalidFlagCheck},
		// 0x79 0x18: method 9, FCHECK valid.
		{"method", []byte{0x79, 0x18}, zpng.ZlibInvalidCompressionMethod},
		// 0x88 0x1c: window 2^16.
		{"window", []byte{0x88, 0x1c}, zpng.ZlibInvalidCompressionMethod},
		{"checksum", badSum, zpng.ZlibInvalidChecksum},
		{"truncated trailer", valid[:len(valid)-2], zpng.InvalidStream},
		{"truncated data", valid[:len(valid)/2], zpng.InvalidStream},
		{"stored length", []byte{0x78, 0x01, 0x01, 0x05, 0x00, 0x00, 0x00}, zpng.DeflateInvalidBlockLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(bytes.NewReader(tt.in), nil)
			_, err := io.ReadAll(r)
			require.Error(t, err)
			assert.Equal(t, tt.kind, zpng.KindOf(err), "%v", err)
			assert.True(t, strings.HasPrefix(err.Error(), "zlib: "), err.Error())

			_, again := r.Read(make([]byte, 1))
			assert.Equal(t, tt.kind, zpng.KindOf(again))
		})
	}
}

func TestBreadcrumbs(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x78, 0x01, 0x01, 0x05, 0x00, 0x00, 0x00}), nil)
	_, err := r.ReadHeader()
	require.NoError(t, err)
	_, err = r.ReadData(make([]byte, 10))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "zlib: ReadData: flate: Read: flate: ReadBlockHeader: "), err.Error())
}

func TestStateErrors(t *testing.T) {
	r := NewReader(bytes.NewReader(nil), nil)
	_, err := r.ReadData(make([]byte, 1))
	assert.Equal(t, zpng.ExpectFailed, zpng.KindOf(err))
	assert.Equal(t, zpng.ExpectFailed, zpng.KindOf(r.ReadEnd()))

	w := NewWriter(io.Discard, nil)
	assert.Equal(t, zpng.ExpectFailed, zpng.KindOf(w.WriteData([]byte("x"))))
	assert.Equal(t, zpng.ExpectFailed, zpng.KindOf(w.WriteEnd()))
}

func TestFlush(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, nil)
	w.Write([]byte("flushed"))
	require.NoError(t, w.Flush())

	zr, err := zlib.NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	part := make([]byte, 7)
	_, err = io.ReadFull(zr, part)
	require.NoError(t, err)
	assert.Equal(t, "flushed", string(part))
	require.NoError(t, w.Close())
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.zz")
	data := testData()

	w, err := Create(path, nil)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	got, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Equal(t, data, got)

	r, err := Open(path, nil)
	require.NoError(t, err)
	got, err = io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.NoError(t, r.Close())

	_, err = r.Read(make([]byte, 1))
	assert.Equal(t, zpng.NoStream, zpng.KindOf(err))

	_, err = Open(filepath.Join(dir, "missing"), nil)
	assert.Equal(t, zpng.FileNotFound, zpng.KindOf(err))
}
