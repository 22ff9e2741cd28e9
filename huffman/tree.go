// Package huffman implements canonical prefix codes: building a code from a
// table of code lengths, and decoding or encoding symbols one bit at a time
// against a bit buffer.
//
// Buffers are addressed the way DEFLATE packs them: stream bit i is bit i%8
// of byte i/8, and each code is transmitted starting from its most
// significant bit.
package huffman

import (
	"math/bits"
	"sort"

	"github.com/imgpipe/zpng"
)

// MaxCodeLength is the longest code a Tree can hold.
const MaxCodeLength = 32

// Node is a node of a code trie. It is either a *Leaf or an *Internal.
type Node interface {
	node()
}

// Leaf terminates a code.
type Leaf struct {
	Symbol uint32
}

// Internal branches on the next code bit. A nil child means no code starts
// with that prefix.
type Internal struct {
	Zero, One Node
}

func (*Leaf) node()     {}
func (*Internal) node() {}

// Code is the codeword of a symbol. Bits holds the Len code bits with the
// first transmitted bit as the most significant one.
type Code struct {
	Bits uint32
	Len  uint8
}

// Reversed returns the code bits with the first transmitted bit as bit 0,
// ready to be written LSB first.
func (c Code) Reversed() uint32 {
	if c.Len == 0 {
		return 0
	}
	return bits.Reverse32(c.Bits) >> (32 - c.Len)
}

// Tree is a prefix code: its trie and a symbol-to-code index.
type Tree struct {
	root    Node
	codes   map[uint32]Code
	symbols []uint32
}

type symbolLength struct {
	sym uint32
	len uint8
}

// FromCodeLengths builds the canonical code in which symbols[i] has code
// length lengths[i]. Symbols with length zero are unused. Shorter codes
// precede longer ones and codes of equal length follow symbol order, so the
// order in which pairs are supplied does not matter.
//
// Incomplete codes are accepted; decoding into the unused part of the code
// space fails with HuffmanInvalidCode.
func FromCodeLengths(symbols []uint32, lengths []uint8) (*Tree, error) {
	const op = "huffman: FromCodeLengths"
	if len(symbols) != len(lengths) {
		return nil, zpng.Errorf(zpng.ExpectFailed, op, "%d symbols but %d lengths", len(symbols), len(lengths))
	}

	var count [MaxCodeLength + 1]int
	used := make([]symbolLength, 0, len(symbols))
	for i, l := range lengths {
		if l == 0 {
			continue
		}
		if l > MaxCodeLength {
			return nil, zpng.Errorf(zpng.HuffmanInvalidCodeLengths, op, "symbol %d has code length %d", symbols[i], l)
		}
		count[l]++
		used = append(used, symbolLength{symbols[i], l})
	}

	left := uint64(1)
	for l := 1; l <= MaxCodeLength; l++ {
		left <<= 1
		if uint64(count[l]) > left {
			return nil, zpng.Errorf(zpng.HuffmanInvalidCodeLengths, op, "code lengths are over-subscribed at length %d", l)
		}
		left -= uint64(count[l])
	}

	sort.Slice(used, func(i, j int) bool {
		if used[i].len != used[j].len {
			return used[i].len < used[j].len
		}
		return used[i].sym < used[j].sym
	})

	var next [MaxCodeLength + 2]uint64
	code := uint64(0)
	for l := 1; l <= MaxCodeLength; l++ {
		code = (code + uint64(count[l-1])) << 1
		next[l] = code
	}

	t := &Tree{codes: make(map[uint32]Code, len(used))}
	for _, u := range used {
		c := Code{Bits: uint32(next[u.len]), Len: u.len}
		next[u.len]++
		if _, dup := t.codes[u.sym]; dup {
			return nil, zpng.Errorf(zpng.HuffmanInvalidCodeLengths, op, "symbol %d appears twice", u.sym)
		}
		t.codes[u.sym] = c
		t.symbols = append(t.symbols, u.sym)
		t.insert(u.sym, c)
	}
	sort.Slice(t.symbols, func(i, j int) bool { return t.symbols[i] < t.symbols[j] })
	return t, nil
}

func (t *Tree) insert(sym uint32, c Code) {
	n := &t.root
	for i := int(c.Len) - 1; i >= 0; i-- {
		in, ok := (*n).(*Internal)
		if !ok {
			in = &Internal{}
			*n = in
		}
		if (c.Bits>>uint(i))&1 == 0 {
			n = &in.Zero
		} else {
			n = &in.One
		}
	}
	*n = &Leaf{Symbol: sym}
}

// FromNode adopts an explicit trie and indexes its codes.
func FromNode(root Node) (*Tree, error) {
	const op = "huffman: FromNode"
	t := &Tree{root: root, codes: make(map[uint32]Code)}
	if l, ok := root.(*Leaf); ok {
		return nil, zpng.Errorf(zpng.HuffmanInvalidCodeLengths, op, "symbol %d would have an empty code", l.Symbol)
	}

	var walk func(n Node, c Code) error
	walk = func(n Node, c Code) error {
		switch n := n.(type) {
		case nil:
			return nil
		case *Leaf:
			if _, dup := t.codes[n.Symbol]; dup {
				return zpng.Errorf(zpng.HuffmanInvalidCodeLengths, op, "symbol %d appears twice", n.Symbol)
			}
			t.codes[n.Symbol] = c
			t.symbols = append(t.symbols, n.Symbol)
			return nil
		case *Internal:
			if c.Len == MaxCodeLength {
				return zpng.Errorf(zpng.HuffmanInvalidCodeLengths, op, "trie deeper than %d levels", MaxCodeLength)
			}
			if err := walk(n.Zero, Code{c.Bits << 1, c.Len + 1}); err != nil {
				return err
			}
			return walk(n.One, Code{c.Bits<<1 | 1, c.Len + 1})
		}
		return zpng.Errorf(zpng.ExpectFailed, op, "unknown node type %T", n)
	}
	if err := walk(root, Code{}); err != nil {
		return nil, err
	}
	sort.Slice(t.symbols, func(i, j int) bool { return t.symbols[i] < t.symbols[j] })
	return t, nil
}

// Root returns the trie. It is nil when no symbol is used.
func (t *Tree) Root() Node {
	return t.root
}

// Symbols returns the used symbols in ascending order.
func (t *Tree) Symbols() []uint32 {
	return t.symbols
}

// CodeLength returns the code length of sym, or 0 if sym is unused.
func (t *Tree) CodeLength(sym uint32) uint8 {
	return t.codes[sym].Len
}

// Code returns the codeword of sym.
func (t *Tree) Code(sym uint32) (Code, bool) {
	c, ok := t.codes[sym]
	return c, ok
}

// ReadSymbol decodes one symbol from the bits of src in [bitOffset, bitEnd)
// and returns it together with the number of bits its code took.
func (t *Tree) ReadSymbol(src []byte, bitOffset, bitEnd uint64) (uint32, uint64, error) {
	const op = "huffman: ReadSymbol"
	if max := uint64(len(src)) * 8; bitEnd > max {
		bitEnd = max
	}
	n := t.root
	pos := bitOffset
	for {
		switch v := n.(type) {
		case *Leaf:
			return v.Symbol, pos - bitOffset, nil
		case *Internal:
			if pos >= bitEnd {
				return 0, 0, zpng.Errorf(zpng.HuffmanInvalidCode, op, "ran out of bits after %d", pos-bitOffset)
			}
			if (src[pos>>3]>>(pos&7))&1 == 0 {
				n = v.Zero
			} else {
				n = v.One
			}
			pos++
		default:
			return 0, 0, zpng.Errorf(zpng.HuffmanInvalidCode, op, "no code matches the %d bits at offset %d", pos-bitOffset, bitOffset)
		}
	}
}

// WriteSymbol encodes sym into dst starting at bitOffset and returns the
// number of bits written.
func (t *Tree) WriteSymbol(dst []byte, sym uint32, bitOffset uint64) (uint64, error) {
	const op = "huffman: WriteSymbol"
	c, ok := t.codes[sym]
	if !ok {
		return 0, zpng.Errorf(zpng.HuffmanInvalidCode, op, "symbol %d has no code", sym)
	}
	if bitOffset+uint64(c.Len) > uint64(len(dst))*8 {
		return 0, zpng.Errorf(zpng.ExpectFailed, op, "destination too small for %d bits at offset %d", c.Len, bitOffset)
	}
	for i := uint64(0); i < uint64(c.Len); i++ {
		pos := bitOffset + i
		mask := byte(1) << (pos & 7)
		if (c.Bits>>(uint64(c.Len)-1-i))&1 == 1 {
			dst[pos>>3] |= mask
		} else {
			dst[pos>>3] &^= mask
		}
	}
	return uint64(c.Len), nil
}
