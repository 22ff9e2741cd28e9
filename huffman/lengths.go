package huffman

import "sort"

type buildNode struct {
	freq        int
	left, right int
	sym         int
}

// CodeLengths returns Huffman code lengths for the given symbol frequencies,
// no longer than maxLength. Symbols with a zero frequency get length 0. When
// only one symbol is used it gets length 1, so every used symbol has a code.
func CodeLengths(freqs []int, maxLength int) []uint8 {
	lengths := make([]uint8, len(freqs))

	var leaves []buildNode
	for sym, f := range freqs {
		if f > 0 {
			leaves = append(leaves, buildNode{freq: f, left: -1, right: -1, sym: sym})
		}
	}
	switch len(leaves) {
	case 0:
		return lengths
	case 1:
		lengths[leaves[0].sym] = 1
		return lengths
	}
	sort.Slice(leaves, func(i, j int) bool {
		if leaves[i].freq != leaves[j].freq {
			return leaves[i].freq < leaves[j].freq
		}
		return leaves[i].sym < leaves[j].sym
	})

	// Two-queue construction: leaves in frequency order, internal nodes in
	// creation order (which is also frequency order).
	nodes := append([]buildNode(nil), leaves...)
	nl := len(leaves)
	li, ii := 0, nl
	pick := func() int {
		if li < nl && (ii >= len(nodes) || nodes[li].freq <= nodes[ii].freq) {
			li++
			return li - 1
		}
		ii++
		return ii - 1
	}
	for k := 0; k < nl-1; k++ {
		a := pick()
		b := pick()
		nodes = append(nodes, buildNode{freq: nodes[a].freq + nodes[b].freq, left: a, right: b, sym: -1})
	}

	var count [MaxCodeLength + 64]int
	depth := make([]int, len(nodes))
	maxDepth := 0
	for i := len(nodes) - 1; i >= nl; i-- {
		for _, c := range []int{nodes[i].left, nodes[i].right} {
			depth[c] = depth[i] + 1
		}
	}
	for i := 0; i < nl; i++ {
		d := depth[i]
		if d > maxDepth {
			maxDepth = d
		}
		if d >= len(count) {
			d = len(count) - 1
		}
		count[d]++
	}

	if maxDepth > maxLength {
		for d := maxLength + 1; d < len(count); d++ {
			count[maxLength] += count[d]
			count[d] = 0
		}
		total := 0
		for d := 1; d <= maxLength; d++ {
			total += count[d] << uint(maxLength-d)
		}
		for total != 1<<uint(maxLength) {
			count[maxLength]--
			for d := maxLength - 1; d > 0; d-- {
				if count[d] > 0 {
					count[d]--
					count[d+1] += 2
					break
				}
			}
			total--
		}
	}

	// Most frequent symbols get the shortest codes.
	byFreq := leaves
	sort.SliceStable(byFreq, func(i, j int) bool {
		if byFreq[i].freq != byFreq[j].freq {
			return byFreq[i].freq > byFreq[j].freq
		}
		return byFreq[i].sym < byFreq[j].sym
	})
	k := 0
	for d := 1; d < len(count); d++ {
		for n := 0; n < count[d]; n++ {
			lengths[byFreq[k].sym] = uint8(d)
			k++
		}
	}
	return lengths
}
