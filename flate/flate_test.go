package flate

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xyproto/randomstring"

	"github.com/imgpipe/zpng"
	"github.com/imgpipe/zpng/bitstream"
	"github.com/imgpipe/zpng/matchfinder"
)

// corpus returns n bytes of compressible text mixed with random noise and
// long runs.
func corpus(n int) []byte {
	rng := rand.New(rand.NewSource(int64(n)))
	words := strings.Fields("a prism refracts the rays of light into colours which by reflection return to the eye")
	var b bytes.Buffer
	for b.Len() < n {
		switch rng.Intn(4) {
		case 0, 1:
			b.WriteString(words[rng.Intn(len(words))])
			b.WriteByte(' ')
		case 2:
			b.WriteString(randomstring.String(rng.Intn(12) + 1))
		default:
			b.Write(bytes.Repeat([]byte{'='}, rng.Intn(600)))
		}
	}
	return b.Bytes()[:n]
}

var inputs = map[string][]byte{
	"empty":  {},
	"byte":   {'x'},
	"short":  []byte("hello, hello, hello world"),
	"run":    bytes.Repeat([]byte{0}, 100000),
	"text":   corpus(200000),
	"random": []byte(randomstring.String(70000)),
}

func compress(t testing.TB, data []byte, opts *WriterOptions) []byte {
	var buf bytes.Buffer
	w := NewWriter(&buf, opts)
	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestWriterModes(t *testing.T) {
	modes := map[string]Mode{
		"dynamic":  DynamicMode,
		"fixed":    FixedMode,
		"stored":   StoredMode,
		"smallest": SmallestMode,
	}
	finders := map[string]func() matchfinder.MatchFinder{
		"none":      func() matchfinder.MatchFinder { return matchfinder.NoMatchFinder{} },
		"zfast":     func() matchfinder.MatchFinder { return &matchfinder.ZFast{} },
		"hashchain": func() matchfinder.MatchFinder { return &matchfinder.HashChain{} },
	}
	for modeName, mode := range modes {
		for finderName, newFinder := range finders {
			for inputName, data := range inputs {
				name := fmt.Sprintf("%s/%s/%s", modeName, finderName, inputName)
				t.Run(name, func(t *testing.T) {
					compressed := compress(t, data, &WriterOptions{
						Mode:        mode,
						MatchFinder: newFinder(),
						BlockSize:   1 << 15,
					})

					got, err := io.ReadAll(flate.NewReader(bytes.NewReader(compressed)))
					require.NoError(t, err, "compress/flate")
					require.True(t, bytes.Equal(data, got), "compress/flate output differs")

					got, err = io.ReadAll(NewReader(bytes.NewReader(compressed), nil))
					require.NoError(t, err)
					require.True(t, bytes.Equal(data, got), "output differs")
				})
			}
		}
	}
}

func TestWriterLevels(t *testing.T) {
	data := inputs["text"]
	for _, level := range []int{-3, 0, 1, 2, 5, 6, 9, 12} {
		compressed := compress(t, data, &WriterOptions{Level: level})
		got, err := io.ReadAll(flate.NewReader(bytes.NewReader(compressed)))
		require.NoError(t, err)
		require.Equal(t, data, got, "level %d", level)
	}

	assert.IsType(t, &matchfinder.ZFast{}, NewMatchFinder(1, windowSize))
	assert.Equal(t, &matchfinder.HashChain{MaxDistance: 1024, ChainLength: 4}, NewMatchFinder(2, 1024))
	assert.Equal(t, &matchfinder.HashChain{MaxDistance: windowSize, ChainLength: 64}, NewMatchFinder(0, windowSize))
	assert.Equal(t, &matchfinder.HashChain{MaxDistance: windowSize, ChainLength: 512}, NewMatchFinder(20, windowSize))
}

func TestReaderStdlibLevels(t *testing.T) {
	data := inputs["text"]
	for _, level := range []int{flate.HuffmanOnly, flate.NoCompression, flate.BestSpeed, flate.DefaultCompression, flate.BestCompression} {
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, level)
		require.NoError(t, err)
		w.Write(data[:100000])
		w.Flush()
		w.Write(data[100000:])
		require.NoError(t, w.Close())

		got, err := io.ReadAll(NewReader(bytes.NewReader(buf.Bytes()), nil))
		if err != nil {
			t.Fatalf("level %d: %v", level, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("level %d: decompressed output doesn't match", level)
		}
	}
}

func TestReadBlockDataSmallBuffers(t *testing.T) {
	data := inputs["text"][:50000]
	compressed := compress(t, data, nil)

	for _, size := range []int{1, 3, 257, 4096} {
		r := NewReader(bytes.NewReader(compressed), nil)
		var got []byte
		buf := make([]byte, size)
		for !r.Done() {
			_, err := r.ReadBlockHeader()
			require.NoError(t, err)
			for {
				n, err := r.ReadBlockData(buf)
				require.NoError(t, err)
				got = append(got, buf[:n]...)
				if n < len(buf) {
					break
				}
			}
			require.NoError(t, r.ReadBlockEnd())
		}
		require.Equal(t, data, got, "buffer size %d", size)
	}
}

func TestReaderStopsAtStreamEnd(t *testing.T) {
	compressed := compress(t, []byte("payload"), nil)
	br := bitstream.NewReader(bytes.NewReader(append(compressed, "TRAILER"...)), bitstream.LSB)
	r := NewBitReader(br, nil)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	assert.True(t, br.ByteAligned())

	rest := make([]byte, 7)
	require.NoError(t, br.ReadBytes(rest))
	assert.Equal(t, "TRAILER", string(rest))
}

func TestReaderLeavesTrailer(t *testing.T) {
	for _, mode := range []Mode{DynamicMode, FixedMode, StoredMode} {
		for _, data := range [][]byte{[]byte("payload"), inputs["text"][:5000], nil} {
			compressed := compress(t, data, &WriterOptions{Mode: mode})
			src := bytes.NewReader(append(compressed, "TRAILER"...))
			got, err := io.ReadAll(NewReader(src, nil))
			require.NoError(t, err)
			assert.Equal(t, len(data), len(got))
			assert.Equal(t, data, got[:len(data)])

			rest, err := io.ReadAll(src)
			require.NoError(t, err)
			assert.Equal(t, "TRAILER", string(rest), "mode %d, %d bytes", mode, len(data))
		}
	}
}

func TestUnusedCodeAtStreamEnd(t *testing.T) {
	// 'a' is 0, end-of-block is 10 and 11 is unused.
	h := BlockHeader{Final: true, Type: Dynamic}
	h.LitLenLengths['a'] = 1
	h.LitLenLengths[endBlockMarker] = 2
	h.DistLengths[0] = 1

	var buf bytes.Buffer
	bw := bitstream.NewWriter(&buf, bitstream.LSB)
	w := NewBitWriter(bw, nil)
	require.NoError(t, w.WriteBlockHeader(h, 1))
	require.NoError(t, bw.WriteUint(0, 1))
	require.NoError(t, bw.WriteUint(3, 2))
	require.NoError(t, bw.Flush())

	got, err := io.ReadAll(NewReader(bytes.NewReader(buf.Bytes()), nil))
	assert.Equal(t, "a", string(got))
	assert.Equal(t, zpng.DeflateInvalidCode, zpng.KindOf(err), "%v", err)
}

func TestBlockLevelFile(t *testing.T) {
	text := inputs["text"]
	f := File{Blocks: []Block{
		{Header: BlockHeader{Type: Stored}, Data: text[:1000]},
		{Header: FixedHeader(false), Data: text[1000:5000]},
		{Header: BlockHeader{Type: Dynamic}, Data: text[5000:20000]},
		{Header: BlockHeader{Type: Stored}, Data: nil},
		{Header: BlockHeader{Final: true, Type: Dynamic}, Data: text[20000:30000]},
	}}

	var buf bytes.Buffer
	w := NewWriter(&buf, nil)
	require.NoError(t, w.WriteFile(f))
	require.NoError(t, w.Close())

	got, err := io.ReadAll(flate.NewReader(bytes.NewReader(buf.Bytes())))
	require.NoError(t, err)
	require.Equal(t, text[:30000], got)

	rf, err := NewReader(bytes.NewReader(buf.Bytes()), nil).ReadFile()
	require.NoError(t, err)
	require.Len(t, rf.Blocks, len(f.Blocks))
	for i, b := range rf.Blocks {
		assert.Equal(t, f.Blocks[i].Header.Type, b.Header.Type, "block %d", i)
		assert.Equal(t, f.Blocks[i].Header.Final, b.Header.Final, "block %d", i)
		assert.Equal(t, len(f.Blocks[i].Data), len(b.Data), "block %d", i)
	}
	assert.Equal(t, FixedHeader(false).LitLenLengths, rf.Blocks[1].Header.LitLenLengths)
	assert.NotZero(t, rf.Blocks[2].Header.LitLenLengths[endBlockMarker])
	assert.Equal(t, text[:30000], rf.Bytes())
}

func TestWriteBlockPieces(t *testing.T) {
	data := inputs["text"][:40000]
	var buf bytes.Buffer
	w := NewWriter(&buf, nil)

	// Complete codes in which every symbol has a code fit any data.
	var lengths BlockHeader
	for i := range lengths.LitLenLengths[:286] {
		lengths.LitLenLengths[i] = 9
		if i < 226 {
			lengths.LitLenLengths[i] = 8
		}
	}
	for i := range lengths.DistLengths[:30] {
		lengths.DistLengths[i] = 5
		if i < 2 {
			lengths.DistLengths[i] = 4
		}
	}
	lengths.Type = Dynamic
	lengths.Final = true

	require.NoError(t, w.WriteBlockHeader(lengths, len(data)))
	for i := 0; i < len(data); i += 777 {
		require.NoError(t, w.WriteBlockData(data[i:min(i+777, len(data))]))
	}
	require.NoError(t, w.WriteBlockEnd())
	require.NoError(t, w.Close())

	got, err := io.ReadAll(flate.NewReader(bytes.NewReader(buf.Bytes())))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestWriterMisuse(t *testing.T) {
	w := NewWriter(io.Discard, nil)
	err := w.WriteBlockData([]byte("x"))
	assert.Equal(t, zpng.ExpectFailed, zpng.KindOf(err))

	err = w.WriteBlockHeader(BlockHeader{Type: Stored}, 70000)
	assert.Equal(t, zpng.DeflateInvalidBlockLength, zpng.KindOf(err))

	err = w.WriteBlockHeader(BlockHeader{Type: 3}, 1)
	assert.Equal(t, zpng.DeflateInvalidCompressionType, zpng.KindOf(err))

	err = w.WriteBlockHeader(BlockHeader{Type: Dynamic}, 1)
	assert.Equal(t, zpng.ExpectFailed, zpng.KindOf(err))

	require.NoError(t, w.WriteBlockHeader(BlockHeader{Type: Stored}, 2))
	require.NoError(t, w.WriteBlockData([]byte("a")))
	err = w.WriteBlockEnd()
	assert.Equal(t, zpng.ExpectFailed, zpng.KindOf(err))

	err = w.WriteFile(File{Blocks: []Block{{Header: BlockHeader{Final: false}}}})
	assert.Equal(t, zpng.ExpectFailed, zpng.KindOf(err))
}

func TestDictionary(t *testing.T) {
	dict := []byte(strings.Repeat("the colours of thin transparent plates ", 40))
	data := []byte(strings.Repeat("the colours of thin transparent plates and bubbles ", 20))

	compressed := compress(t, data, &WriterOptions{Dictionary: dict})
	plain := compress(t, data, nil)
	assert.Less(t, len(compressed), len(plain))

	got, err := io.ReadAll(flate.NewReaderDict(bytes.NewReader(compressed), dict))
	require.NoError(t, err)
	require.Equal(t, data, got)

	got, err = io.ReadAll(NewReader(bytes.NewReader(compressed), &ReaderOptions{Dictionary: dict}))
	require.NoError(t, err)
	require.Equal(t, data, got)

	_, err = io.ReadAll(NewReader(bytes.NewReader(compressed), nil))
	assert.Equal(t, zpng.DeflateInvalidCode, zpng.KindOf(err))
}

func TestFlush(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, nil)
	w.Write([]byte("first part "))
	require.NoError(t, w.Flush())

	// Everything written so far is decodable before Close.
	r := flate.NewReader(bytes.NewReader(buf.Bytes()))
	part := make([]byte, 11)
	_, err := io.ReadFull(r, part)
	require.NoError(t, err)
	assert.Equal(t, "first part ", string(part))

	w.Write([]byte("second part"))
	require.NoError(t, w.Close())
	got, err := io.ReadAll(NewReader(&buf, nil))
	require.NoError(t, err)
	assert.Equal(t, "first part second part", string(got))
}

func TestInvalidStreams(t *testing.T) {
	// A match at the very start of the stream has no history to copy from.
	var far bytes.Buffer
	bw := bitstream.NewWriter(&far, bitstream.LSB)
	bw.WriteUint(3, 3) // final, fixed
	c := fixedLiteralCodes[lengthCodesStart]
	bw.WriteUint(uint64(c.code), uint(c.len))
	c = fixedOffsetCodes[0]
	bw.WriteUint(uint64(c.code), uint(c.len))
	bw.Flush()

	// Distance symbol 30 does not exist.
	var badDist bytes.Buffer
	bw = bitstream.NewWriter(&badDist, bitstream.LSB)
	bw.WriteUint(3, 3)
	c = fixedLiteralCodes['a']
	bw.WriteUint(uint64(c.code), uint(c.len))
	c = fixedLiteralCodes[lengthCodesStart]
	bw.WriteUint(uint64(c.code), uint(c.len))
	c = fixedOffsetCodes[30]
	bw.WriteUint(uint64(c.code), uint(c.len))
	bw.Flush()

	valid := compress(t, inputs["text"][:10000], nil)

	tests := []struct {
		name string
		in   []byte
		kind zpng.Kind
	}{
		{"stored LEN/NLEN mismatch", []byte{0x01, 0x05, 0x00, 0x00, 0x00}, zpng.DeflateInvalidBlockLength},
		{"reserved block type", []byte{0x07}, zpng.DeflateInvalidCompressionType},
		{"distance beyond history", far.Bytes(), zpng.DeflateInvalidCode},
		{"invalid distance symbol", badDist.Bytes(), zpng.DeflateInvalidCode},
		// HLIT=31 (288 codes) is more than the alphabet has.
		{"too many literal codes", []byte{0xfd, 0xff, 0xff}, zpng.DeflateInvalidCodeLengths},
		{"empty", nil, zpng.InvalidStream},
		{"truncated", valid[:len(valid)/2], zpng.InvalidStream},
		{"stored data truncated", []byte{0x01, 0x05, 0x00, 0xfa, 0xff, 'a'}, zpng.InvalidStream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(bytes.NewReader(tt.in), nil)
			_, err := io.ReadAll(r)
			require.Error(t, err)
			assert.Equal(t, tt.kind, zpng.KindOf(err), "%v", err)
			assert.True(t, strings.HasPrefix(err.Error(), "flate: "), err.Error())

			// Errors are sticky.
			_, again := r.Read(make([]byte, 10))
			assert.Equal(t, tt.kind, zpng.KindOf(again))
		})
	}
}

func TestFitMatches(t *testing.T) {
	in := []matchfinder.Match{
		{Unmatched: 2, Length: 600, Distance: 1},
		{Unmatched: 1, Length: 2, Distance: 5},
		{Unmatched: 0, Length: 260, Distance: 40000},
		{Unmatched: 3, Length: 259, Distance: 7},
		{Unmatched: 4},
	}
	want := []matchfinder.Match{
		{Unmatched: 2, Length: 258, Distance: 1},
		{Length: 258, Distance: 1},
		{Length: 84, Distance: 1},
		{Unmatched: 266, Length: 256, Distance: 7},
		{Length: 3, Distance: 7},
		{Unmatched: 4},
	}
	assert.Equal(t, want, fitMatches(nil, in, windowSize))

	small := []matchfinder.Match{{Unmatched: 1, Length: 10, Distance: 600}, {Length: 5, Distance: 512}}
	assert.Equal(t, []matchfinder.Match{{Unmatched: 11, Length: 5, Distance: 512}}, fitMatches(nil, small, 512))
}

func TestCodeTables(t *testing.T) {
	assert.Equal(t, 0, lengthCode(3))
	assert.Equal(t, 8, lengthCode(11))
	assert.Equal(t, 27, lengthCode(257))
	assert.Equal(t, 28, lengthCode(258))
	assert.Equal(t, 0, offsetCode(1))
	assert.Equal(t, 4, offsetCode(5))
	assert.Equal(t, 29, offsetCode(32768))
}

func TestWriteThenWriteBlock(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, nil)
	w.Write([]byte("buffered "))
	require.NoError(t, w.WriteBlock(Block{Header: FixedHeader(false), Data: []byte("fixed ")}))
	w.Write([]byte("tail"))
	require.NoError(t, w.Close())

	got, err := io.ReadAll(NewReader(&buf, nil))
	require.NoError(t, err)
	assert.Equal(t, "buffered fixed tail", string(got))
}
