package matchfinder

const zfastTableBits = 14

// ZFast is the quickest MatchFinder here. Like the fast path of zlib's
// deflate, it keeps a single table slot per 3-byte hash with no chains, so
// each position costs one probe. Before probing it retries the distance of
// the previous match, which catches runs and repeated records cheaply.
//
// Its matches are MinLength to MaxLength bytes long and reach back at most
// MaxDistance bytes.
type ZFast struct {
	// MaxDistance is the farthest back a match may reach. It defaults to
	// and is capped at 32768, the DEFLATE window size.
	MaxDistance int

	history []byte
	// table holds history positions plus one; zero means empty.
	table    [1 << zfastTableBits]int32
	lastDist int
}

func (z *ZFast) Reset() {
	z.history = z.history[:0]
	z.table = [1 << zfastTableBits]int32{}
	z.lastDist = 0
}

// makeRoom keeps the history within reach and able to take n more bytes.
func (z *ZFast) makeRoom(n int) {
	if len(z.history)+n <= cap(z.history) {
		return
	}
	if offset := len(z.history) - z.MaxDistance; offset > 0 {
		copy(z.history, z.history[offset:])
		z.history = z.history[:z.MaxDistance]
		for i, v := range z.table {
			if int(v) <= offset {
				z.table[i] = 0
			} else {
				z.table[i] = v - int32(offset)
			}
		}
	}
	if len(z.history)+n > cap(z.history) {
		grown := make([]byte, len(z.history), max(2*z.MaxDistance, 1<<16, len(z.history)+n))
		copy(grown, z.history)
		z.history = grown
	}
}

// matchAt returns the length of the match between the strings at i and s,
// capped at MaxLength.
func (z *ZFast) matchAt(i, s int) int {
	return min(extendMatch(z.history, i, s)-s, MaxLength)
}

func (z *ZFast) FindMatches(dst []Match, src []byte) []Match {
	if z.MaxDistance <= 0 || z.MaxDistance > maxWindow {
		z.MaxDistance = maxWindow
	}
	z.makeRoom(len(src))
	start := len(z.history)
	z.history = append(z.history, src...)

	s, nextEmit := start, start
	for s+MinLength <= len(z.history) {
		length, dist := 0, 0
		if d := z.lastDist; d > 0 && d <= s {
			if l := z.matchAt(s-d, s); l >= MinLength {
				length, dist = l, d
			}
		}

		k := hash3(z.history[s:], zfastTableBits)
		cand := int(z.table[k]) - 1
		z.table[k] = int32(s + 1)
		if length == 0 && cand >= 0 && s-cand <= z.MaxDistance {
			if l := z.matchAt(cand, s); l >= MinLength {
				length, dist = l, s-cand
			}
		}

		if length == 0 {
			// Skip ahead faster the longer nothing has matched.
			s += 1 + (s-nextEmit)>>5
			continue
		}
		dst = append(dst, Match{
			Unmatched: s - nextEmit,
			Length:    length,
			Distance:  dist,
		})
		s += length
		nextEmit = s
		z.lastDist = dist
		// Index the match's last position so the next one can chain off it.
		if p := s - 1; p+MinLength <= len(z.history) {
			z.table[hash3(z.history[p:], zfastTableBits)] = int32(p + 1)
		}
	}

	if nextEmit < len(z.history) {
		dst = append(dst, Match{
			Unmatched: len(z.history) - nextEmit,
		})
	}
	return dst
}
