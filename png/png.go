// Package png reads and writes PNG images.
//
// Pixels are exchanged as flat slices holding four samples per pixel, in a
// sample type of the caller's choosing, and pass through a Swizzle that
// maps the image's RGBA channels to the caller's layout. Grayscale images
// fill the three color channels with the gray value and images without
// alpha get an opaque alpha channel.
//
// Interlaced (Adam7) images and indexed-color output are not supported and
// fail with zpng.NotImplemented.
package png

import (
	"fmt"
	"time"

	"github.com/imgpipe/zpng"
)

// signature starts every PNG file.
var signature = [8]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// ColorType is the IHDR color type.
type ColorType uint8

const (
	Grayscale      ColorType = 0
	Truecolor      ColorType = 2
	Indexed        ColorType = 3
	GrayscaleAlpha ColorType = 4
	TruecolorAlpha ColorType = 6
)

func (c ColorType) String() string {
	switch c {
	case Grayscale:
		return "grayscale"
	case Truecolor:
		return "truecolor"
	case Indexed:
		return "indexed"
	case GrayscaleAlpha:
		return "grayscale+alpha"
	case TruecolorAlpha:
		return "truecolor+alpha"
	}
	return fmt.Sprintf("ColorType(%d)", uint8(c))
}

// channels returns the number of samples per pixel in the image data.
func (c ColorType) channels() int {
	switch c {
	case Truecolor:
		return 3
	case GrayscaleAlpha:
		return 2
	case TruecolorAlpha:
		return 4
	}
	return 1
}

// InterlaceMethod is the IHDR interlace method.
type InterlaceMethod uint8

const (
	NoInterlace InterlaceMethod = 0
	Adam7       InterlaceMethod = 1
)

func (m InterlaceMethod) String() string {
	switch m {
	case NoInterlace:
		return "none"
	case Adam7:
		return "adam7"
	}
	return fmt.Sprintf("InterlaceMethod(%d)", uint8(m))
}

// PaletteEntry is one PLTE color, with its alpha from tRNS.
type PaletteEntry struct {
	R, G, B, A uint8
}

// Chromaticity holds the cHRM chunk: CIE x,y coordinates of the white point
// and primaries.
type Chromaticity struct {
	WhiteX, WhiteY float64
	RedX, RedY     float64
	GreenX, GreenY float64
	BlueX, BlueY   float64
}

// ICCProfile holds an embedded ICC profile (iCCP). Profile is uncompressed.
type ICCProfile struct {
	Name    string
	Profile []byte
}

// SignificantBits holds the sBIT chunk. Only the fields that apply to the
// color type are stored.
type SignificantBits struct {
	Gray, Red, Green, Blue, Alpha uint8
}

// RenderingIntent is the sRGB chunk value.
type RenderingIntent uint8

const (
	Perceptual RenderingIntent = iota
	RelativeColorimetric
	Saturation
	AbsoluteColorimetric
)

// Background holds the bKGD chunk: Index for indexed images, Gray for
// grayscale ones, Red/Green/Blue otherwise.
type Background struct {
	Gray, Red, Green, Blue uint16
	Index                  uint8
}

// Transparency holds the tRNS chunk of grayscale and truecolor images: the
// single color that is fully transparent. Indexed images carry their tRNS
// alpha in the palette instead.
type Transparency struct {
	Gray, Red, Green, Blue uint16
}

// Unit is the pHYs unit specifier.
type Unit uint8

const (
	UnitUnknown Unit = iota
	UnitMeter
)

// PixelDimensions holds the pHYs chunk.
type PixelDimensions struct {
	X, Y uint32
	Unit Unit
}

// SuggestedPalette holds one sPLT chunk.
type SuggestedPalette struct {
	Name string
	// SampleDepth is 8 or 16.
	SampleDepth uint8
	Entries     []SuggestedEntry
}

type SuggestedEntry struct {
	R, G, B, A uint16
	Frequency  uint16
}

// TextualData holds a tEXt, zTXt or iTXt chunk. International selects
// iTXt; Compressed selects zTXt, or a compressed iTXt.
type TextualData struct {
	Keyword           string
	LanguageTag       string
	TranslatedKeyword string
	Text              string
	Compressed        bool
	International     bool
}

// Header is everything in a PNG file before the image data.
type Header struct {
	Width             uint32
	Height            uint32
	BitDepth          uint8
	ColorType         ColorType
	CompressionMethod uint8
	FilterMethod      uint8
	Interlace         InterlaceMethod

	// Palette is PLTE, required for Indexed images and optional for
	// truecolor ones.
	Palette []PaletteEntry

	Chromaticity     *Chromaticity
	Gamma            *float64
	ICCProfile       *ICCProfile
	SignificantBits  *SignificantBits
	SRGB             *RenderingIntent
	Background       *Background
	Histogram        []uint16
	Transparency     *Transparency
	PixelDimensions  *PixelDimensions
	SuggestedPalette []SuggestedPalette
	LastModification *time.Time
	Text             []TextualData
}

// Ending is everything in a PNG file after the image data.
type Ending struct {
	LastModification *time.Time
	Text             []TextualData
}

// Sample is the type of the samples a caller exchanges with this package.
// Integer samples use their full range; float samples go from 0 to 1.
type Sample interface {
	uint8 | uint16 | uint32 | uint64 | float32 | float64
}

// File is a whole PNG image. Pixels holds four samples per pixel, row by
// row.
type File[S Sample] struct {
	Header Header
	Pixels []S
	Ending Ending
}

// legalDepth reports whether the bit depth is allowed for the color type.
func legalDepth(c ColorType, depth uint8) bool {
	switch c {
	case Grayscale:
		return depth == 1 || depth == 2 || depth == 4 || depth == 8 || depth == 16
	case Indexed:
		return depth == 1 || depth == 2 || depth == 4 || depth == 8
	case Truecolor, GrayscaleAlpha, TruecolorAlpha:
		return depth == 8 || depth == 16
	}
	return false
}

// validate checks the image structure fields of IHDR.
func (h *Header) validate(op string) error {
	if h.Width == 0 || h.Height == 0 || h.Width > 1<<31-1 || h.Height > 1<<31-1 {
		return zpng.Errorf(zpng.PngInvalidChunkContent, op, "invalid image size %dx%d", h.Width, h.Height)
	}
	if !legalDepth(h.ColorType, h.BitDepth) {
		return zpng.Errorf(zpng.PngInvalidChunkContent, op, "bit depth %d is not allowed for color type %d", h.BitDepth, h.ColorType)
	}
	if h.CompressionMethod != 0 {
		return zpng.Errorf(zpng.PngInvalidChunkContent, op, "unknown compression method %d", h.CompressionMethod)
	}
	if h.FilterMethod != 0 {
		return zpng.Errorf(zpng.PngInvalidChunkContent, op, "unknown filter method %d", h.FilterMethod)
	}
	if h.Interlace > Adam7 {
		return zpng.Errorf(zpng.PngInvalidChunkContent, op, "unknown interlace method %d", h.Interlace)
	}
	return nil
}

func (h *Header) bitsPerPixel() int {
	return h.ColorType.channels() * int(h.BitDepth)
}

// rowBytes is the size of one scanline without its filter byte.
func (h *Header) rowBytes() int {
	return (int(h.Width)*h.bitsPerPixel() + 7) / 8
}

// filterUnit is the distance between a byte and its left neighbour for
// filtering.
func (h *Header) filterUnit() int {
	if n := h.bitsPerPixel() / 8; n > 1 {
		return n
	}
	return 1
}

// pixelCount returns the number of pixels in the image.
func (h *Header) pixelCount() int {
	return int(h.Width) * int(h.Height)
}
