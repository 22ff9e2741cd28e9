package checksum

import (
	"encoding/binary"
	"hash"
)

// Params describes a member of the Fletcher family. The checksum keeps two
// running sums modulo Modulus: a is the sum of the input words, b the sum of
// the successive values of a. The result is b<<(Width/2) | a.
type Params struct {
	// Width is the size of the result in bits: 16, 32 or 64.
	Width uint
	// WordSize is the size in bytes of the input words, read little endian.
	// A trailing partial word is padded with zeros.
	WordSize int
	Modulus  uint64
	// Init is the starting value of a.
	Init uint64
}

var (
	Fletcher16Params = Params{Width: 16, WordSize: 1, Modulus: 255}
	Fletcher32Params = Params{Width: 32, WordSize: 2, Modulus: 65535}
	Fletcher64Params = Params{Width: 64, WordSize: 4, Modulus: 1<<32 - 1}
	Adler32Params    = Params{Width: 32, WordSize: 1, Modulus: 65521, Init: 1}
)

// Fletcher is a streaming Fletcher-family checksum. It implements hash.Hash64;
// the sum is also appended big endian by Sum.
type Fletcher struct {
	p    Params
	a, b uint64

	pending  [4]byte
	npending int
}

// NewFletcher returns a checksum with the given parameters.
func NewFletcher(p Params) *Fletcher {
	f := &Fletcher{p: p}
	f.Reset()
	return f
}

func (f *Fletcher) Reset() {
	f.a, f.b = f.p.Init, 0
	f.npending = 0
}

func (f *Fletcher) Size() int      { return int(f.p.Width / 8) }
func (f *Fletcher) BlockSize() int { return f.p.WordSize }

func (f *Fletcher) add(w uint64) {
	f.a = (f.a + w) % f.p.Modulus
	f.b = (f.b + f.a) % f.p.Modulus
}

func (f *Fletcher) word(p []byte) uint64 {
	var w uint64
	for i := len(p) - 1; i >= 0; i-- {
		w = w<<8 | uint64(p[i])
	}
	return w
}

func (f *Fletcher) Write(p []byte) (int, error) {
	n := len(p)
	ws := f.p.WordSize
	if f.npending > 0 {
		k := copy(f.pending[f.npending:ws], p)
		f.npending += k
		p = p[k:]
		if f.npending < ws {
			return n, nil
		}
		f.add(f.word(f.pending[:ws]))
		f.npending = 0
	}
	if ws == 1 {
		for _, v := range p {
			f.add(uint64(v))
		}
		return n, nil
	}
	for len(p) >= ws {
		f.add(f.word(p[:ws]))
		p = p[ws:]
	}
	f.npending = copy(f.pending[:], p)
	return n, nil
}

// Sum64 returns the checksum of everything written so far. A pending partial
// word is included, zero padded, without being consumed.
func (f *Fletcher) Sum64() uint64 {
	a, b := f.a, f.b
	if f.npending > 0 {
		var tail [4]byte
		copy(tail[:], f.pending[:f.npending])
		w := f.word(tail[:f.p.WordSize])
		a = (a + w) % f.p.Modulus
		b = (b + a) % f.p.Modulus
	}
	return b<<(f.p.Width/2) | a
}

func (f *Fletcher) Sum(in []byte) []byte {
	s := f.Sum64()
	switch f.p.Width {
	case 16:
		return binary.BigEndian.AppendUint16(in, uint16(s))
	case 32:
		return binary.BigEndian.AppendUint32(in, uint32(s))
	}
	return binary.BigEndian.AppendUint64(in, s)
}

// Fletcher16 returns the Fletcher-16 checksum of p.
func Fletcher16(p []byte) uint16 {
	f := NewFletcher(Fletcher16Params)
	f.Write(p)
	return uint16(f.Sum64())
}

// Fletcher32 returns the Fletcher-32 checksum of p.
func Fletcher32(p []byte) uint32 {
	f := NewFletcher(Fletcher32Params)
	f.Write(p)
	return uint32(f.Sum64())
}

// Fletcher64 returns the Fletcher-64 checksum of p.
func Fletcher64(p []byte) uint64 {
	f := NewFletcher(Fletcher64Params)
	f.Write(p)
	return f.Sum64()
}

type adler struct {
	*Fletcher
}

func (d adler) Sum32() uint32 { return uint32(d.Sum64()) }

// NewAdler32 returns a hash.Hash32 computing the Adler-32 checksum.
func NewAdler32() hash.Hash32 {
	return adler{NewFletcher(Adler32Params)}
}

// Adler32 returns the Adler-32 checksum of p.
func Adler32(p []byte) uint32 {
	d := NewAdler32()
	d.Write(p)
	return d.Sum32()
}
