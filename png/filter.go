package png

import (
	"fmt"

	"github.com/imgpipe/zpng"
)

// Scanline filter types.
const (
	ftNone    = 0
	ftSub     = 1
	ftUp      = 2
	ftAverage = 3
	ftPaeth   = 4
	nFilter   = 5
)

// FilterStrategy selects the scanline filters a Writer uses.
type FilterStrategy int

const (
	// FilterAdaptive tries every filter on each row and keeps the one with
	// the smallest sum of absolute differences.
	FilterAdaptive FilterStrategy = iota
	FilterNone
	FilterSub
	FilterUp
	FilterAverage
	FilterPaeth
)

func (s FilterStrategy) String() string {
	switch s {
	case FilterAdaptive:
		return "adaptive"
	case FilterNone:
		return "none"
	case FilterSub:
		return "sub"
	case FilterUp:
		return "up"
	case FilterAverage:
		return "average"
	case FilterPaeth:
		return "paeth"
	}
	return fmt.Sprintf("FilterStrategy(%d)", int(s))
}

// paeth returns whichever of a (left), b (above) and c (upper left) is
// closest to a + b - c.
func paeth(a, b, c uint8) uint8 {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// unfilter reverses filter ft on cur in place. prev is the previous
// reconstructed row, all zeros for the first row. bpp is the filter unit.
func unfilter(ft uint8, cur, prev []byte, bpp int) error {
	switch ft {
	case ftNone:
	case ftSub:
		for i := bpp; i < len(cur); i++ {
			cur[i] += cur[i-bpp]
		}
	case ftUp:
		for i, p := range prev {
			cur[i] += p
		}
	case ftAverage:
		for i := 0; i < bpp; i++ {
			cur[i] += prev[i] / 2
		}
		for i := bpp; i < len(cur); i++ {
			cur[i] += uint8((int(cur[i-bpp]) + int(prev[i])) / 2)
		}
	case ftPaeth:
		for i := 0; i < bpp; i++ {
			cur[i] += prev[i]
		}
		for i := bpp; i < len(cur); i++ {
			cur[i] += paeth(cur[i-bpp], prev[i], prev[i-bpp])
		}
	default:
		return zpng.Errorf(zpng.PngInvalidChunkContent, "", "unknown scanline filter %d", ft)
	}
	return nil
}

// filter writes cur filtered with ft into dst.
func filter(dst []byte, ft uint8, cur, prev []byte, bpp int) {
	switch ft {
	case ftNone:
		copy(dst, cur)
	case ftSub:
		copy(dst[:bpp], cur[:bpp])
		for i := bpp; i < len(cur); i++ {
			dst[i] = cur[i] - cur[i-bpp]
		}
	case ftUp:
		for i := range cur {
			dst[i] = cur[i] - prev[i]
		}
	case ftAverage:
		for i := 0; i < bpp; i++ {
			dst[i] = cur[i] - prev[i]/2
		}
		for i := bpp; i < len(cur); i++ {
			dst[i] = cur[i] - uint8((int(cur[i-bpp])+int(prev[i]))/2)
		}
	case ftPaeth:
		for i := 0; i < bpp; i++ {
			dst[i] = cur[i] - prev[i]
		}
		for i := bpp; i < len(cur); i++ {
			dst[i] = cur[i] - paeth(cur[i-bpp], prev[i], prev[i-bpp])
		}
	}
}

// cost is the adaptive heuristic: filtered bytes read as signed values,
// summed by magnitude.
func cost(row []byte) int {
	sum := 0
	for _, b := range row {
		sum += abs(int(int8(b)))
	}
	return sum
}

// rowFilter filters rows for a Writer, keeping one scratch buffer per
// filter type.
type rowFilter struct {
	strategy FilterStrategy
	bpp      int
	scratch  [nFilter][]byte
}

func newRowFilter(strategy FilterStrategy, rowBytes, bpp int) *rowFilter {
	f := &rowFilter{strategy: strategy, bpp: bpp}
	for i := range f.scratch {
		f.scratch[i] = make([]byte, rowBytes)
	}
	return f
}

// apply returns the filter type and the filtered row.
func (f *rowFilter) apply(cur, prev []byte) (uint8, []byte) {
	if f.strategy != FilterAdaptive {
		ft := uint8(f.strategy - FilterNone)
		filter(f.scratch[ft], ft, cur, prev, f.bpp)
		return ft, f.scratch[ft]
	}
	best, bestCost := uint8(0), -1
	for ft := uint8(0); ft < nFilter; ft++ {
		filter(f.scratch[ft], ft, cur, prev, f.bpp)
		if c := cost(f.scratch[ft]); bestCost < 0 || c < bestCost {
			best, bestCost = ft, c
		}
	}
	return best, f.scratch[best]
}
