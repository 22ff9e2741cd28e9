package matchfinder

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xyproto/randomstring"
)

// replay appends the block described by matches to out.
func replay(t *testing.T, out []byte, block []byte, matches []Match, maxDistance int) []byte {
	start := len(out)
	for _, m := range matches {
		require.GreaterOrEqual(t, m.Unmatched, 0)
		n := len(out) - start
		out = append(out, block[n:n+m.Unmatched]...)
		if m.Length == 0 {
			continue
		}
		require.GreaterOrEqual(t, m.Length, MinLength)
		require.LessOrEqual(t, m.Length, MaxLength)
		require.Greater(t, m.Distance, 0)
		require.LessOrEqual(t, m.Distance, maxDistance)
		require.LessOrEqual(t, m.Distance, len(out))
		for i := 0; i < m.Length; i++ {
			out = append(out, out[len(out)-m.Distance])
		}
	}
	require.Equal(t, len(block), len(out)-start)
	return out
}

func corpus(n int) []byte {
	rng := rand.New(rand.NewSource(int64(n)))
	var b bytes.Buffer
	words := strings.Fields("the quick brown fox jumps over the lazy dog and keeps running")
	for b.Len() < n {
		switch rng.Intn(3) {
		case 0:
			b.WriteString(words[rng.Intn(len(words))])
			b.WriteByte(' ')
		case 1:
			b.WriteString(randomstring.HumanFriendlyString(rng.Intn(8) + 1))
		default:
			b.Write(bytes.Repeat([]byte{byte(rng.Intn(4))}, rng.Intn(300)))
		}
	}
	return b.Bytes()[:n]
}

func TestMatchFinders(t *testing.T) {
	finders := map[string]func() MatchFinder{
		"NoMatchFinder": func() MatchFinder { return NoMatchFinder{} },
		"ZFast":         func() MatchFinder { return &ZFast{} },
		"ZFastSmall":    func() MatchFinder { return &ZFast{MaxDistance: 1024} },
		"HashChain":     func() MatchFinder { return &HashChain{} },
		"HashChainSmall": func() MatchFinder {
			return &HashChain{MaxDistance: 1024, ChainLength: 4}
		},
		"HashChainHuge": func() MatchFinder { return &HashChain{MaxDistance: 1 << 20} },
	}
	data := corpus(600000)
	for name, newFinder := range finders {
		t.Run(name, func(t *testing.T) {
			mf := newFinder()
			maxDistance := 1 << 15
			switch f := mf.(type) {
			case *HashChain:
				if f.MaxDistance > 0 {
					maxDistance = min(f.MaxDistance, maxDistance)
				}
			case *ZFast:
				if f.MaxDistance > 0 {
					maxDistance = min(f.MaxDistance, maxDistance)
				}
			}
			for _, blockSize := range []int{1 << 16, 5000, 7} {
				mf.Reset()
				var got []byte
				var matches []Match
				for i := 0; i < len(data) && i < 200000; i += blockSize {
					end := min(i+blockSize, len(data))
					matches = mf.FindMatches(matches[:0], data[i:end])
					got = replay(t, got, data[i:end], matches, maxDistance)
				}
				require.Equal(t, data[:len(got)], got)
			}
		})
	}
}

func TestFindsRepeats(t *testing.T) {
	// ZFast finds the later matches by retrying the previous distance.
	src := []byte(strings.Repeat("abcdefgh", 100))
	want := []Match{
		{Unmatched: 8, Length: 258, Distance: 8},
		{Length: 258, Distance: 8},
		{Length: 258, Distance: 8},
		{Length: 18, Distance: 8},
	}
	for _, mf := range []MatchFinder{&HashChain{}, &ZFast{}} {
		require.Equal(t, want, mf.FindMatches(nil, src))
	}
}

func TestMaxDistance(t *testing.T) {
	block := []byte(randomstring.String(3000))
	src := append(append([]byte(nil), block...), block...)
	for _, mf := range []MatchFinder{&HashChain{MaxDistance: 2000}, &ZFast{MaxDistance: 2000}} {
		matches := mf.FindMatches(nil, src)
		for _, m := range matches {
			require.LessOrEqual(t, m.Distance, 2000)
		}
		require.Equal(t, src, replay(t, nil, src, matches, 2000))
	}
}

func TestExtendMatch(t *testing.T) {
	src := []byte("0123456789abcdef0123456789abcdeX")
	require.Equal(t, 31, extendMatch(src, 0, 16))
	require.Equal(t, 2, extendMatch([]byte("aa"), 0, 1))
}
