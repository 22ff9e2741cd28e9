package matchfinder

const (
	hashChainBits = 15
	hashChainSize = 1 << hashChainBits
)

// HashChain is a greedy MatchFinder that keeps, for every position, a link
// to the previous position with the same 3-byte hash, and takes the longest
// match found within ChainLength links. Matches are at most MaxLength bytes
// long.
type HashChain struct {
	// MaxDistance is the farthest back a match may reach. It defaults to
	// and is capped at 32768, the DEFLATE window size.
	MaxDistance int

	// ChainLength is the number of candidates examined per position. It
	// defaults to 32.
	ChainLength int

	history []byte
	// inserted is the number of history positions already hashed.
	inserted int

	// head and chain hold positions plus one; zero means none.
	head  [hashChainSize]int32
	chain []int32
}

func (h *HashChain) Reset() {
	h.history = h.history[:0]
	h.inserted = 0
	h.head = [hashChainSize]int32{}
	h.chain = h.chain[:0]
}

func (h *HashChain) hash(p int) uint32 {
	return hash3(h.history[p:], hashChainBits)
}

// insertUpTo hashes every position before end that has enough lookahead.
func (h *HashChain) insertUpTo(end int) {
	if limit := len(h.history) - MinLength + 1; end > limit {
		end = limit
	}
	for ; h.inserted < end; h.inserted++ {
		k := h.hash(h.inserted)
		h.chain[h.inserted] = h.head[k]
		h.head[k] = int32(h.inserted + 1)
	}
}

// slide drops history that is out of reach, keeping the last MaxDistance
// bytes.
func (h *HashChain) slide() {
	offset := len(h.history) - h.MaxDistance
	if offset <= 0 {
		return
	}
	copy(h.history, h.history[offset:])
	h.history = h.history[:h.MaxDistance]
	rebase := func(v int32) int32 {
		if int(v) <= offset {
			return 0
		}
		return v - int32(offset)
	}
	for i, v := range h.head {
		h.head[i] = rebase(v)
	}
	for i := 0; i < h.MaxDistance; i++ {
		h.chain[i] = rebase(h.chain[i+offset])
	}
	h.inserted -= offset
	if h.inserted < 0 {
		h.inserted = 0
	}
}

func (h *HashChain) FindMatches(dst []Match, src []byte) []Match {
	if h.MaxDistance <= 0 || h.MaxDistance > maxWindow {
		h.MaxDistance = maxWindow
	}
	if h.ChainLength == 0 {
		h.ChainLength = 32
	}

	if len(h.history)+len(src) > cap(h.history) {
		if cap(h.history) == 0 {
			size := max(2*h.MaxDistance, 1<<18, len(src))
			h.history = make([]byte, 0, size)
		} else {
			h.slide()
			if len(h.history)+len(src) > cap(h.history) {
				grown := make([]byte, len(h.history), len(h.history)+len(src)+h.MaxDistance)
				copy(grown, h.history)
				h.history = grown
			}
		}
	}
	start := len(h.history)
	h.history = append(h.history, src...)
	if len(h.chain) < len(h.history) {
		h.chain = append(h.chain, make([]int32, cap(h.history)-len(h.chain))...)
	}

	s, nextEmit := start, start
	for s+MinLength <= len(h.history) {
		h.insertUpTo(s)

		bestLen, bestPos := 0, 0
		cand := int(h.head[h.hash(s)]) - 1
		for n := 0; n < h.ChainLength && cand >= 0 && s-cand <= h.MaxDistance && bestLen < MaxLength; n++ {
			if bestLen == 0 || (s+bestLen < len(h.history) && h.history[cand+bestLen] == h.history[s+bestLen]) {
				if l := min(extendMatch(h.history, cand, s)-s, MaxLength); l > bestLen {
					bestLen, bestPos = l, cand
				}
			}
			cand = int(h.chain[cand]) - 1
		}
		h.insertUpTo(s + 1)

		if bestLen < MinLength {
			s++
			continue
		}
		dst = append(dst, Match{
			Unmatched: s - nextEmit,
			Length:    bestLen,
			Distance:  s - bestPos,
		})
		s += bestLen
		nextEmit = s
	}
	h.insertUpTo(len(h.history))

	if nextEmit < len(h.history) {
		dst = append(dst, Match{
			Unmatched: len(h.history) - nextEmit,
		})
	}
	return dst
}
