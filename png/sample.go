package png

import (
	"github.com/imgpipe/zpng"
)

// Swizzle maps the caller's four channels to the image's RGBA channels.
// Element i names the image channel (0 red, 1 green, 2 blue, 3 alpha) that
// caller channel i exchanges with, or one of ChannelZero and ChannelFill.
// On reading these produce the minimum and maximum sample value; on writing
// they mean the image channel is not fed by the caller and reads as zero or
// full.
type Swizzle [4]uint8

const (
	ChannelZero uint8 = 0xfe
	ChannelFill uint8 = 0xff
)

var (
	RGBA = Swizzle{0, 1, 2, 3}
	BGRA = Swizzle{2, 1, 0, 3}
	ARGB = Swizzle{3, 0, 1, 2}
	// RGBX reads images with their alpha channel replaced by full opacity.
	RGBX = Swizzle{0, 1, 2, ChannelFill}
)

func (s Swizzle) validate(op string) error {
	for _, c := range s {
		if c > 3 && c != ChannelZero && c != ChannelFill {
			return zpng.Errorf(zpng.ExpectFailed, op, "invalid swizzle channel %d", c)
		}
	}
	return nil
}

// toCaller applies s to one RGBA pixel of 16-bit samples.
func (s Swizzle) toCaller(dst *[4]uint16, px *[4]uint16) {
	for i, c := range s {
		switch c {
		case ChannelZero:
			dst[i] = 0
		case ChannelFill:
			dst[i] = 0xffff
		default:
			dst[i] = px[c]
		}
	}
}

// fromCaller is the inverse of toCaller. Image channels no caller channel
// maps to are zero, except alpha which is opaque.
func (s Swizzle) fromCaller(px *[4]uint16, src *[4]uint16) {
	*px = [4]uint16{0, 0, 0, 0xffff}
	for i, c := range s {
		if c <= 3 {
			px[c] = src[i]
		}
	}
}

// Samples travel between the image and the caller as 16-bit values, which
// hold every PNG sample exactly. fromWide and toWide convert them to and
// from the caller's type, replicating bits on the way up so that the
// maximum maps to the maximum.

func fromWide[S Sample]() func(uint16) S {
	var zero S
	switch any(zero).(type) {
	case uint8:
		return func(v uint16) S { return S(v >> 8) }
	case uint16:
		return func(v uint16) S { return S(v) }
	case uint32:
		return func(v uint16) S { return S(uint32(v)<<16 | uint32(v)) }
	case uint64:
		return func(v uint16) S { return S(uint64(v) * 0x0001000100010001) }
	}
	return func(v uint16) S { return S(float64(v) / 0xffff) }
}

func toWide[S Sample]() func(S) uint16 {
	var zero S
	switch any(zero).(type) {
	case uint8:
		return func(s S) uint16 { return uint16(s) * 0x101 }
	case uint16:
		return func(s S) uint16 { return uint16(s) }
	case uint32:
		return func(s S) uint16 { return uint16(uint32(s) >> 16) }
	case uint64:
		return func(s S) uint16 { return uint16(uint64(s) >> 48) }
	}
	return func(s S) uint16 {
		f := float64(s)
		switch {
		case f <= 0:
			return 0
		case f >= 1:
			return 0xffff
		}
		return uint16(f*0xffff + 0.5)
	}
}

// scale widens a sample of the given bit depth to 16 bits.
func scale(v uint16, depth uint8) uint16 {
	switch depth {
	case 1:
		return v * 0xffff
	case 2:
		return v * 0x5555
	case 4:
		return v * 0x1111
	case 8:
		return v * 0x101
	}
	return v
}

// decodeRow turns one reconstructed scanline into 16-bit RGBA pixels.
func decodeRow(dst []uint16, row []byte, h *Header) error {
	width := int(h.Width)
	depth := h.BitDepth
	trns := h.Transparency

	// sample returns the i-th sample of the row at its raw value.
	sample := func(i int) uint16 {
		switch depth {
		case 16:
			return be.Uint16(row[2*i:])
		case 8:
			return uint16(row[i])
		}
		bit := i * int(depth)
		shift := 8 - int(depth) - bit%8
		return uint16(row[bit/8]>>shift) & (1<<depth - 1)
	}

	for x := 0; x < width; x++ {
		px := dst[4*x : 4*x+4]
		switch h.ColorType {
		case Grayscale:
			raw := sample(x)
			g := scale(raw, depth)
			px[0], px[1], px[2], px[3] = g, g, g, 0xffff
			if trns != nil && raw == trns.Gray {
				px[3] = 0
			}
		case GrayscaleAlpha:
			g := scale(sample(2*x), depth)
			px[0], px[1], px[2], px[3] = g, g, g, scale(sample(2*x+1), depth)
		case Truecolor:
			r, g, b := sample(3*x), sample(3*x+1), sample(3*x+2)
			px[0], px[1], px[2], px[3] = scale(r, depth), scale(g, depth), scale(b, depth), 0xffff
			if trns != nil && r == trns.Red && g == trns.Green && b == trns.Blue {
				px[3] = 0
			}
		case TruecolorAlpha:
			for c := 0; c < 4; c++ {
				px[c] = scale(sample(4*x+c), depth)
			}
		case Indexed:
			i := int(sample(x))
			if i >= len(h.Palette) {
				return zpng.Errorf(zpng.PngInvalidChunkContent, "", "palette index %d out of range", i)
			}
			e := h.Palette[i]
			px[0], px[1], px[2], px[3] = scale(uint16(e.R), 8), scale(uint16(e.G), 8), scale(uint16(e.B), 8), scale(uint16(e.A), 8)
		}
	}
	return nil
}

// encodeRow packs 16-bit RGBA pixels into a scanline. Grayscale images take
// the red channel.
func encodeRow(row []byte, src []uint16, h *Header) {
	depth := h.BitDepth
	for i := range row {
		row[i] = 0
	}
	put := func(i int, v uint16) {
		switch depth {
		case 16:
			be.PutUint16(row[2*i:], v)
		case 8:
			row[i] = uint8(v >> 8)
		default:
			bit := i * int(depth)
			shift := 8 - int(depth) - bit%8
			row[bit/8] |= uint8(v>>(16-depth)) << shift
		}
	}
	for x := 0; x < int(h.Width); x++ {
		px := src[4*x : 4*x+4]
		switch h.ColorType {
		case Grayscale:
			put(x, px[0])
		case GrayscaleAlpha:
			put(2*x, px[0])
			put(2*x+1, px[3])
		case Truecolor:
			for c := 0; c < 3; c++ {
				put(3*x+c, px[c])
			}
		case TruecolorAlpha:
			for c := 0; c < 4; c++ {
				put(4*x+c, px[c])
			}
		}
	}
}
