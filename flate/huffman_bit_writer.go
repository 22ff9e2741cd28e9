// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flate

import (
	"github.com/imgpipe/zpng"
	"github.com/imgpipe/zpng/bitstream"
	"github.com/imgpipe/zpng/huffman"
	"github.com/imgpipe/zpng/matchfinder"
)

// hcode is a code ready for output: the bits are reversed so that they can
// be written LSB first.
type hcode struct {
	code uint32
	len  uint8
}

// hcodes returns the output codes of t for symbols 0..n-1. Unused symbols
// get a zero-length code.
func hcodes(t *huffman.Tree, n int) []hcode {
	codes := make([]hcode, n)
	for _, sym := range t.Symbols() {
		if int(sym) >= n {
			continue
		}
		c, _ := t.Code(sym)
		codes[sym] = hcode{code: c.Reversed(), len: c.Len}
	}
	return codes
}

var (
	fixedLiteralCodes []hcode
	fixedOffsetCodes  []hcode
)

func init() {
	fixedLiteralCodes = hcodes(fixedLitLenTree, numLitLenCodes)
	fixedOffsetCodes = hcodes(fixedDistTree, numDistCodes)
}

// bitLength returns the number of bits needed to code freq with lengths.
func bitLength(freq []int, lengths []uint8) int {
	var total int
	for i, f := range freq {
		if f != 0 {
			total += f * int(lengths[i])
		}
	}
	return total
}

// huffmanBitWriter writes block headers and tokens to a bit stream. The
// first write error is kept in err; later writes are skipped.
type huffmanBitWriter struct {
	bw  *bitstream.Writer
	err error

	codegenFreq [codegenCodeCount]int
	literalFreq [maxNumLit]int
	offsetFreq  [offsetCodeCount]int
	codegen     [numLitLenCodes + numDistCodes + 1]uint8

	// Codes of the current block.
	literalCodes []hcode
	offsetCodes  []hcode
}

func (w *huffmanBitWriter) writeBits(b int, nb uint) {
	if w.err == nil && nb > 0 {
		w.err = w.bw.WriteUint(uint64(b), nb)
	}
}

func (w *huffmanBitWriter) writeCode(c hcode, sym int) {
	if w.err != nil {
		return
	}
	if c.len == 0 {
		w.err = zpng.Errorf(zpng.DeflateInvalidCode, "", "symbol %d has no code in this block", sym)
		return
	}
	w.err = w.bw.WriteUint(uint64(c.code), uint(c.len))
}

func (w *huffmanBitWriter) writeBytes(bytes []byte) {
	if w.err == nil {
		w.err = w.bw.WriteBytes(bytes)
	}
}

// RFC 1951 3.2.7 specifies a special run-length encoding for specifying
// the literal and offset lengths arrays (which are concatenated into a single
// array).  This method generates that run-length encoding.
//
// The result is written into the codegen array, and the frequencies
// of each code is written into the codegenFreq array.
// Codes 0-15 are single byte codes. Codes 16-18 are followed by additional
// information. Code badCode is an end marker
//
//	litLens, offLens   The literal and offset code lengths to encode
func (w *huffmanBitWriter) generateCodegen(litLens, offLens []uint8) {
	for i := range w.codegenFreq {
		w.codegenFreq[i] = 0
	}
	numLiterals, numOffsets := len(litLens), len(offLens)
	// Note that we are using codegen both as a temporary variable for holding
	// a copy of the frequencies, and as the place where we put the result.
	// This is fine because the output is always shorter than the input used
	// so far.
	codegen := w.codegen[:]
	copy(codegen, litLens)
	copy(codegen[numLiterals:], offLens)
	codegen[numLiterals+numOffsets] = badCode

	size := codegen[0]
	count := 1
	outIndex := 0
	for inIndex := 1; size != badCode; inIndex++ {
		// INVARIANT: We have seen "count" copies of size that have not yet
		// had output generated for them.
		nextSize := codegen[inIndex]
		if nextSize == size {
			count++
			continue
		}
		// We need to generate codegen indicating "count" of size.
		if size != 0 {
			codegen[outIndex] = size
			outIndex++
			w.codegenFreq[size]++
			count--
			for count >= 3 {
				n := min(6, count)
				codegen[outIndex] = 16
				outIndex++
				codegen[outIndex] = uint8(n - 3)
				outIndex++
				w.codegenFreq[16]++
				count -= n
			}
		} else {
			for count >= 11 {
				n := min(138, count)
				codegen[outIndex] = 18
				outIndex++
				codegen[outIndex] = uint8(n - 11)
				outIndex++
				w.codegenFreq[18]++
				count -= n
			}
			if count >= 3 {
				// count >= 3 && count <= 10
				codegen[outIndex] = 17
				outIndex++
				codegen[outIndex] = uint8(count - 3)
				outIndex++
				w.codegenFreq[17]++
				count = 0
			}
		}
		count--
		for ; count >= 0; count-- {
			codegen[outIndex] = size
			outIndex++
			w.codegenFreq[size]++
		}
		// Set up invariant for next time through the loop.
		size = nextSize
		count = 1
	}
	// Marker indicating the end of the codegen.
	codegen[outIndex] = badCode
}

// usedLengths trims a header's code lengths to the counts that go into a
// dynamic header: at least 257 literal/length codes and one distance code.
func usedLengths(h *BlockHeader) (litLens, offLens []uint8) {
	numLiterals := maxNumLit
	for numLiterals > lengthCodesStart && h.LitLenLengths[numLiterals-1] == 0 {
		numLiterals--
	}
	numOffsets := offsetCodeCount
	for numOffsets > 1 && h.DistLengths[numOffsets-1] == 0 {
		numOffsets--
	}
	return h.LitLenLengths[:numLiterals], h.DistLengths[:numOffsets]
}

// codegenHeader generates the codegen for h and returns the lengths of the
// code used to transmit it and how many of them are sent.
func (w *huffmanBitWriter) codegenHeader(h *BlockHeader) (cgLens []uint8, numCodegens int) {
	w.generateCodegen(usedLengths(h))
	cgLens = huffman.CodeLengths(w.codegenFreq[:], 7)
	numCodegens = len(w.codegenFreq)
	for numCodegens > 4 && cgLens[codegenOrder[numCodegens-1]] == 0 {
		numCodegens--
	}
	return cgLens, numCodegens
}

// dynamicSize returns the size of dynamically encoded data in bits.
func (w *huffmanBitWriter) dynamicSize(h *BlockHeader, extraBits int) int {
	cgLens, numCodegens := w.codegenHeader(h)
	header := 3 + 5 + 5 + 4 + (3 * numCodegens) +
		bitLength(w.codegenFreq[:], cgLens) +
		w.codegenFreq[16]*2 +
		w.codegenFreq[17]*3 +
		w.codegenFreq[18]*7
	return header +
		bitLength(w.literalFreq[:], h.LitLenLengths[:]) +
		bitLength(w.offsetFreq[:], h.DistLengths[:]) +
		extraBits
}

// fixedSize returns the size of data encoded with the static codes in bits.
func (w *huffmanBitWriter) fixedSize(extraBits int) int {
	return 3 +
		bitLength(w.literalFreq[:], fixedLitLenLengths[:]) +
		bitLength(w.offsetFreq[:], fixedDistLengths[:]) +
		extraBits
}

// storedSize calculates the stored size, including header.
// The function returns the size in bits and whether the block
// fits inside a single block.
func (w *huffmanBitWriter) storedSize(in []byte) (int, bool) {
	if len(in) <= maxStoreBlockSize {
		return (len(in) + 5) * 8, true
	}
	return 0, false
}

// extraBits returns the number of length and distance extra bits of the
// tokens counted by the last makeStatistics.
func (w *huffmanBitWriter) extraBits() int {
	var extra int
	for lengthCode := lengthCodesStart + 8; lengthCode < maxNumLit; lengthCode++ {
		// First eight length codes have extra size = 0.
		extra += w.literalFreq[lengthCode] * int(lengthExtraBits[lengthCode-lengthCodesStart])
	}
	for offsetCode := 4; offsetCode < offsetCodeCount; offsetCode++ {
		// First four offset codes have extra size = 0.
		extra += w.offsetFreq[offsetCode] * int(offsetExtraBits[offsetCode])
	}
	return extra
}

// Write the header of a dynamic Huffman block to the output stream.
func (w *huffmanBitWriter) writeDynamicHeader(h *BlockHeader) {
	firstBits := 4
	if h.Final {
		firstBits = 5
	}
	litLens, offLens := usedLengths(h)
	cgLens, numCodegens := w.codegenHeader(h)
	cgTree, err := buildTree(cgLens)
	if err != nil {
		if w.err == nil {
			w.err = err
		}
		return
	}
	cgCodes := hcodes(cgTree, codegenCodeCount)

	w.writeBits(firstBits, 3)
	w.writeBits(len(litLens)-257, 5)
	w.writeBits(len(offLens)-1, 5)
	w.writeBits(numCodegens-4, 4)

	for i := 0; i < numCodegens; i++ {
		w.writeBits(int(cgLens[codegenOrder[i]]), 3)
	}

	i := 0
	for {
		codeWord := int(w.codegen[i])
		i++
		if codeWord == badCode {
			break
		}
		w.writeCode(cgCodes[codeWord], codeWord)

		switch codeWord {
		case 16:
			w.writeBits(int(w.codegen[i]), 2)
			i++
		case 17:
			w.writeBits(int(w.codegen[i]), 3)
			i++
		case 18:
			w.writeBits(int(w.codegen[i]), 7)
			i++
		}
	}
}

func (w *huffmanBitWriter) writeStoredHeader(length int, isEof bool) {
	var flag int
	if isEof {
		flag = 1
	}
	w.writeBits(flag, 3)
	if w.err == nil {
		w.err = w.bw.PadToByte()
	}
	w.writeBits(length, 16)
	w.writeBits(int(^uint16(length)), 16)
}

func (w *huffmanBitWriter) writeFixedHeader(isEof bool) {
	// Indicate that we are a fixed Huffman block
	value := 2
	if isEof {
		value = 3
	}
	w.writeBits(value, 3)
}

// makeStatistics counts the literal/length and distance symbols of a block
// of tokens, including the end-of-block marker.
func (w *huffmanBitWriter) makeStatistics(matches []matchfinder.Match, input []byte) {
	for i := range w.literalFreq {
		w.literalFreq[i] = 0
	}
	for i := range w.offsetFreq {
		w.offsetFreq[i] = 0
	}

	pos := 0
	for _, m := range matches {
		for _, c := range input[pos : pos+m.Unmatched] {
			w.literalFreq[c]++
		}
		pos += m.Unmatched

		if m.Length == 0 {
			continue
		}
		w.literalFreq[lengthCodesStart+lengthCode(m.Length)]++
		w.offsetFreq[offsetCode(m.Distance)]++
		pos += m.Length
	}
	w.literalFreq[endBlockMarker]++
}

// dynamicHeader returns a header whose code lengths are built from the
// last makeStatistics.
func (w *huffmanBitWriter) dynamicHeader(final bool) BlockHeader {
	h := BlockHeader{Final: final, Type: Dynamic}
	copy(h.LitLenLengths[:], huffman.CodeLengths(w.literalFreq[:], maxCodeLength))

	offsetFreq := w.offsetFreq
	used := false
	for _, f := range offsetFreq {
		used = used || f != 0
	}
	if !used {
		// We haven't found a single match. The distance tree still has to be
		// transmitted, so give it one code.
		offsetFreq[0] = 1
	}
	copy(h.DistLengths[:], huffman.CodeLengths(offsetFreq[:], maxCodeLength))
	return h
}

// writeTokens writes a slice of tokens to the output.
// The codes of the current block must be set.
func (w *huffmanBitWriter) writeTokens(matches []matchfinder.Match, input []byte) {
	leCodes, oeCodes := w.literalCodes, w.offsetCodes
	pos := 0
	for _, m := range matches {
		for _, c := range input[pos : pos+m.Unmatched] {
			w.writeCode(leCodes[c], int(c))
		}
		pos += m.Unmatched

		// Write the length
		length := m.Length
		if length == 0 {
			continue
		}
		lengthCode := lengthCode(length)
		w.writeCode(leCodes[lengthCode+lengthCodesStart], lengthCode+lengthCodesStart)
		extraLengthBits := uint(lengthExtraBits[lengthCode])
		if extraLengthBits > 0 {
			extraLength := length - baseMatchLength - lengthBase[lengthCode]
			w.writeBits(extraLength, extraLengthBits)
		}

		// Write the offset
		offset := m.Distance
		offsetCode := offsetCode(offset)
		w.writeCode(oeCodes[offsetCode], offsetCode)
		extraOffsetBits := uint(offsetExtraBits[offsetCode])
		if extraOffsetBits > 0 {
			extraOffset := offset - baseMatchOffset - offsetBase[offsetCode]
			w.writeBits(extraOffset, extraOffsetBits)
		}
		pos += m.Length
	}
}

// fitMatches rewrites matches from a MatchFinder into tokens DEFLATE can
// express: lengths from 3 to 258 and distances up to window.
// Longer matches are split; matches that cannot be expressed become
// literals.
func fitMatches(dst, src []matchfinder.Match, window int) []matchfinder.Match {
	carry := 0
	for _, m := range src {
		if m.Length > 0 && (m.Length < baseMatchLength || m.Distance < baseMatchOffset || m.Distance > window) {
			carry += m.Unmatched + m.Length
			continue
		}
		unmatched := m.Unmatched + carry
		carry = 0
		if m.Length == 0 {
			dst = append(dst, matchfinder.Match{Unmatched: unmatched})
			continue
		}
		for length := m.Length; length > 0; {
			take := min(length, maxMatchLength)
			if rest := length - take; rest > 0 && rest < baseMatchLength {
				take = length - baseMatchLength
			}
			dst = append(dst, matchfinder.Match{Unmatched: unmatched, Length: take, Distance: m.Distance})
			unmatched = 0
			length -= take
		}
	}
	if carry > 0 {
		dst = append(dst, matchfinder.Match{Unmatched: carry})
	}
	return dst
}
