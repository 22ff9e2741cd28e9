// Package matchfinder provides LZ77 match finders for the DEFLATE encoder.
package matchfinder

import (
	"encoding/binary"
	"math/bits"
)

const (
	// MinLength and MaxLength bound the length of the matches ZFast and
	// HashChain report; they are DEFLATE's limits.
	MinLength = 3
	MaxLength = 258

	maxWindow = 1 << 15

	prime3Bytes = 506832829
)

// hash3 hashes the first three bytes of b into tableBits bits.
func hash3(b []byte, tableBits uint) uint32 {
	v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	return (v * prime3Bytes) >> (32 - tableBits)
}

// A Match is the basic unit of LZ77 compression.
type Match struct {
	Unmatched int // the number of unmatched bytes since the previous match
	Length    int // the number of bytes in the matched string; it may be 0 at the end of the input
	Distance  int // how far back in the stream to copy from
}

// A MatchFinder performs the LZ77 stage of compression, looking for matches.
type MatchFinder interface {
	// FindMatches looks for matches in src, appends them to dst, and returns dst.
	// Matches may reach back into the data passed to earlier calls, as far as
	// the finder's maximum distance.
	FindMatches(dst []Match, src []byte) []Match

	// Reset clears any internal state, preparing the MatchFinder to be used with
	// a new stream.
	Reset()
}

// NoMatchFinder implements MatchFinder, but doesn't find any matches.
// It can be used to implement the equivalent of the standard library flate package's
// HuffmanOnly setting.
type NoMatchFinder struct{}

func (n NoMatchFinder) Reset() {}

func (n NoMatchFinder) FindMatches(dst []Match, src []byte) []Match {
	return append(dst, Match{
		Unmatched: len(src),
	})
}

// extendMatch returns the largest k such that k <= len(src) and that
// src[i:i+k-j] and src[j:k] have the same contents.
//
// It assumes that:
//
//	0 <= i && i < j && j <= len(src)
func extendMatch(src []byte, i, j int) int {
	for j+8 <= len(src) {
		iBytes := binary.LittleEndian.Uint64(src[i:])
		jBytes := binary.LittleEndian.Uint64(src[j:])
		if iBytes != jBytes {
			return j + bits.TrailingZeros64(iBytes^jBytes)>>3
		}
		i, j = i+8, j+8
	}
	for j < len(src) && src[i] == src[j] {
		i++
		j++
	}
	return j
}
