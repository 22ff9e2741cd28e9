package png

import (
	"bytes"
	"encoding/binary"
	"math"
	"strconv"
	"time"

	"github.com/imgpipe/zpng"
	"github.com/imgpipe/zpng/zlib"
)

var be = binary.BigEndian

func sizeError(typ string, got int, want string) error {
	return zpng.Errorf(zpng.PngInvalidChunkSize, "", "%s chunk has %d bytes, want %s", typ, got, want)
}

func contentError(typ, format string, args ...interface{}) error {
	return zpng.Errorf(zpng.PngInvalidChunkContent, "", typ+" chunk: "+format, args...)
}

func parseIHDR(data []byte) (Header, error) {
	if len(data) != 13 {
		return Header{}, sizeError(chunkIHDR, len(data), "13")
	}
	h := Header{
		Width:             be.Uint32(data[0:]),
		Height:            be.Uint32(data[4:]),
		BitDepth:          data[8],
		ColorType:         ColorType(data[9]),
		CompressionMethod: data[10],
		FilterMethod:      data[11],
		Interlace:         InterlaceMethod(data[12]),
	}
	return h, h.validate("")
}

func encodeIHDR(h *Header) []byte {
	b := make([]byte, 13)
	be.PutUint32(b[0:], h.Width)
	be.PutUint32(b[4:], h.Height)
	b[8] = h.BitDepth
	b[9] = uint8(h.ColorType)
	b[10] = h.CompressionMethod
	b[11] = h.FilterMethod
	b[12] = uint8(h.Interlace)
	return b
}

func parsePLTE(h *Header, data []byte) error {
	if len(data) == 0 || len(data)%3 != 0 || len(data)/3 > 256 {
		return sizeError(chunkPLTE, len(data), "a multiple of 3 up to 768")
	}
	if h.ColorType == Grayscale || h.ColorType == GrayscaleAlpha {
		return zpng.Errorf(zpng.PngInvalidChunkLayout, "", "PLTE chunk in a %s image", h.ColorType)
	}
	if h.ColorType == Indexed && len(data)/3 > 1<<h.BitDepth {
		return contentError(chunkPLTE, "%d entries for bit depth %d", len(data)/3, h.BitDepth)
	}
	h.Palette = make([]PaletteEntry, len(data)/3)
	for i := range h.Palette {
		h.Palette[i] = PaletteEntry{R: data[3*i], G: data[3*i+1], B: data[3*i+2], A: 0xff}
	}
	return nil
}

func encodePLTE(h *Header) []byte {
	b := make([]byte, 0, 3*len(h.Palette))
	for _, e := range h.Palette {
		b = append(b, e.R, e.G, e.B)
	}
	return b
}

func parseCHRM(h *Header, data []byte) error {
	if len(data) != 32 {
		return sizeError(chunkCHRM, len(data), "32")
	}
	v := func(i int) float64 { return float64(be.Uint32(data[4*i:])) / 100000 }
	h.Chromaticity = &Chromaticity{
		WhiteX: v(0), WhiteY: v(1),
		RedX: v(2), RedY: v(3),
		GreenX: v(4), GreenY: v(5),
		BlueX: v(6), BlueY: v(7),
	}
	return nil
}

func fixedPoint(f float64) uint32 {
	return uint32(math.Round(f * 100000))
}

func encodeCHRM(c *Chromaticity) []byte {
	b := make([]byte, 32)
	for i, f := range [...]float64{c.WhiteX, c.WhiteY, c.RedX, c.RedY, c.GreenX, c.GreenY, c.BlueX, c.BlueY} {
		be.PutUint32(b[4*i:], fixedPoint(f))
	}
	return b
}

func parseGAMA(h *Header, data []byte) error {
	if len(data) != 4 {
		return sizeError(chunkGAMA, len(data), "4")
	}
	g := float64(be.Uint32(data)) / 100000
	h.Gamma = &g
	return nil
}

func encodeGAMA(g float64) []byte {
	b := make([]byte, 4)
	be.PutUint32(b, fixedPoint(g))
	return b
}

// splitKeyword splits a null-terminated keyword of 1 to 79 bytes off data.
func splitKeyword(typ string, data []byte) (string, []byte, error) {
	i := bytes.IndexByte(data, 0)
	if i < 0 {
		return "", nil, contentError(typ, "keyword is not terminated")
	}
	if i == 0 || i > 79 {
		return "", nil, contentError(typ, "keyword of %d bytes", i)
	}
	return string(data[:i]), data[i+1:], nil
}

func checkKeyword(typ, k string) error {
	if len(k) == 0 || len(k) > 79 || bytes.IndexByte([]byte(k), 0) >= 0 {
		return contentError(typ, "invalid keyword %q", k)
	}
	return nil
}

func inflate(typ string, data []byte) ([]byte, error) {
	f, err := zlib.NewReader(bytes.NewReader(data), nil).ReadFile()
	if err != nil {
		return nil, zpng.Wrap(err, typ)
	}
	return f.Data, nil
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf, nil)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parseICCP(h *Header, data []byte) error {
	name, rest, err := splitKeyword(chunkICCP, data)
	if err != nil {
		return err
	}
	if len(rest) < 1 {
		return sizeError(chunkICCP, len(data), "a compression method")
	}
	if rest[0] != 0 {
		return contentError(chunkICCP, "unknown compression method %d", rest[0])
	}
	profile, err := inflate(chunkICCP, rest[1:])
	if err != nil {
		return err
	}
	h.ICCProfile = &ICCProfile{Name: name, Profile: profile}
	return nil
}

func encodeICCP(p *ICCProfile) ([]byte, error) {
	if err := checkKeyword(chunkICCP, p.Name); err != nil {
		return nil, err
	}
	z, err := deflate(p.Profile)
	if err != nil {
		return nil, err
	}
	b := append([]byte(p.Name), 0, 0)
	return append(b, z...), nil
}

func parseSBIT(h *Header, data []byte) error {
	s := &SignificantBits{}
	var fields []*uint8
	switch h.ColorType {
	case Grayscale:
		fields = []*uint8{&s.Gray}
	case GrayscaleAlpha:
		fields = []*uint8{&s.Gray, &s.Alpha}
	case Truecolor, Indexed:
		fields = []*uint8{&s.Red, &s.Green, &s.Blue}
	case TruecolorAlpha:
		fields = []*uint8{&s.Red, &s.Green, &s.Blue, &s.Alpha}
	}
	if len(data) != len(fields) {
		return sizeError(chunkSBIT, len(data), strconv.Itoa(len(fields)))
	}
	depth := h.BitDepth
	if h.ColorType == Indexed {
		depth = 8
	}
	for i, f := range fields {
		if data[i] == 0 || data[i] > depth {
			return contentError(chunkSBIT, "%d significant bits at depth %d", data[i], depth)
		}
		*f = data[i]
	}
	h.SignificantBits = s
	return nil
}

func encodeSBIT(h *Header) []byte {
	s := h.SignificantBits
	switch h.ColorType {
	case Grayscale:
		return []byte{s.Gray}
	case GrayscaleAlpha:
		return []byte{s.Gray, s.Alpha}
	case TruecolorAlpha:
		return []byte{s.Red, s.Green, s.Blue, s.Alpha}
	}
	return []byte{s.Red, s.Green, s.Blue}
}

func parseSRGB(h *Header, data []byte) error {
	if len(data) != 1 {
		return sizeError(chunkSRGB, len(data), "1")
	}
	if data[0] > uint8(AbsoluteColorimetric) {
		return contentError(chunkSRGB, "unknown rendering intent %d", data[0])
	}
	intent := RenderingIntent(data[0])
	h.SRGB = &intent
	return nil
}

func parseBKGD(h *Header, data []byte) error {
	bg := &Background{}
	switch h.ColorType {
	case Indexed:
		if len(data) != 1 {
			return sizeError(chunkBKGD, len(data), "1")
		}
		if int(data[0]) >= len(h.Palette) {
			return contentError(chunkBKGD, "palette index %d out of range", data[0])
		}
		bg.Index = data[0]
	case Grayscale, GrayscaleAlpha:
		if len(data) != 2 {
			return sizeError(chunkBKGD, len(data), "2")
		}
		bg.Gray = be.Uint16(data)
	default:
		if len(data) != 6 {
			return sizeError(chunkBKGD, len(data), "6")
		}
		bg.Red, bg.Green, bg.Blue = be.Uint16(data), be.Uint16(data[2:]), be.Uint16(data[4:])
	}
	h.Background = bg
	return nil
}

func encodeBKGD(h *Header) []byte {
	bg := h.Background
	switch h.ColorType {
	case Indexed:
		return []byte{bg.Index}
	case Grayscale, GrayscaleAlpha:
		return be.AppendUint16(nil, bg.Gray)
	}
	b := be.AppendUint16(nil, bg.Red)
	b = be.AppendUint16(b, bg.Green)
	return be.AppendUint16(b, bg.Blue)
}

func parseHIST(h *Header, data []byte) error {
	if h.Palette == nil {
		return zpng.Errorf(zpng.PngInvalidChunkLayout, "", "hIST chunk without a palette")
	}
	if len(data) != 2*len(h.Palette) {
		return sizeError(chunkHIST, len(data), "2 per palette entry")
	}
	h.Histogram = make([]uint16, len(h.Palette))
	for i := range h.Histogram {
		h.Histogram[i] = be.Uint16(data[2*i:])
	}
	return nil
}

func encodeHIST(hist []uint16) []byte {
	b := make([]byte, 0, 2*len(hist))
	for _, v := range hist {
		b = be.AppendUint16(b, v)
	}
	return b
}

func parseTRNS(h *Header, data []byte) error {
	switch h.ColorType {
	case Indexed:
		if h.Palette == nil {
			return zpng.Errorf(zpng.PngInvalidChunkLayout, "", "tRNS chunk before PLTE")
		}
		if len(data) > len(h.Palette) {
			return sizeError(chunkTRNS, len(data), "at most one per palette entry")
		}
		for i, a := range data {
			h.Palette[i].A = a
		}
	case Grayscale:
		if len(data) != 2 {
			return sizeError(chunkTRNS, len(data), "2")
		}
		h.Transparency = &Transparency{Gray: be.Uint16(data)}
	case Truecolor:
		if len(data) != 6 {
			return sizeError(chunkTRNS, len(data), "6")
		}
		h.Transparency = &Transparency{Red: be.Uint16(data), Green: be.Uint16(data[2:]), Blue: be.Uint16(data[4:])}
	default:
		return zpng.Errorf(zpng.PngInvalidChunkLayout, "", "tRNS chunk in a %s image", h.ColorType)
	}
	return nil
}

// encodeTRNS returns the tRNS payload, or nil if the image needs none.
func encodeTRNS(h *Header) []byte {
	if h.ColorType == Indexed {
		n := 0
		for i, e := range h.Palette {
			if e.A != 0xff {
				n = i + 1
			}
		}
		if n == 0 {
			return nil
		}
		b := make([]byte, n)
		for i := range b {
			b[i] = h.Palette[i].A
		}
		return b
	}
	t := h.Transparency
	if t == nil {
		return nil
	}
	if h.ColorType == Grayscale {
		return be.AppendUint16(nil, t.Gray)
	}
	b := be.AppendUint16(nil, t.Red)
	b = be.AppendUint16(b, t.Green)
	return be.AppendUint16(b, t.Blue)
}

func parsePHYS(h *Header, data []byte) error {
	if len(data) != 9 {
		return sizeError(chunkPHYS, len(data), "9")
	}
	if data[8] > uint8(UnitMeter) {
		return contentError(chunkPHYS, "unknown unit %d", data[8])
	}
	h.PixelDimensions = &PixelDimensions{X: be.Uint32(data), Y: be.Uint32(data[4:]), Unit: Unit(data[8])}
	return nil
}

func encodePHYS(p *PixelDimensions) []byte {
	b := be.AppendUint32(nil, p.X)
	b = be.AppendUint32(b, p.Y)
	return append(b, uint8(p.Unit))
}

func parseSPLT(h *Header, data []byte) error {
	name, rest, err := splitKeyword(chunkSPLT, data)
	if err != nil {
		return err
	}
	if len(rest) < 1 {
		return sizeError(chunkSPLT, len(data), "a sample depth")
	}
	p := SuggestedPalette{Name: name, SampleDepth: rest[0]}
	rest = rest[1:]
	var size int
	switch p.SampleDepth {
	case 8:
		size = 6
	case 16:
		size = 10
	default:
		return contentError(chunkSPLT, "sample depth %d", p.SampleDepth)
	}
	if len(rest)%size != 0 {
		return sizeError(chunkSPLT, len(data), "whole palette entries")
	}
	for ; len(rest) > 0; rest = rest[size:] {
		var e SuggestedEntry
		if size == 6 {
			e = SuggestedEntry{R: uint16(rest[0]), G: uint16(rest[1]), B: uint16(rest[2]), A: uint16(rest[3]), Frequency: be.Uint16(rest[4:])}
		} else {
			e = SuggestedEntry{R: be.Uint16(rest), G: be.Uint16(rest[2:]), B: be.Uint16(rest[4:]), A: be.Uint16(rest[6:]), Frequency: be.Uint16(rest[8:])}
		}
		p.Entries = append(p.Entries, e)
	}
	h.SuggestedPalette = append(h.SuggestedPalette, p)
	return nil
}

func encodeSPLT(p *SuggestedPalette) ([]byte, error) {
	if err := checkKeyword(chunkSPLT, p.Name); err != nil {
		return nil, err
	}
	if p.SampleDepth != 8 && p.SampleDepth != 16 {
		return nil, contentError(chunkSPLT, "sample depth %d", p.SampleDepth)
	}
	b := append([]byte(p.Name), 0, p.SampleDepth)
	for _, e := range p.Entries {
		if p.SampleDepth == 8 {
			b = append(b, uint8(e.R), uint8(e.G), uint8(e.B), uint8(e.A))
		} else {
			b = be.AppendUint16(b, e.R)
			b = be.AppendUint16(b, e.G)
			b = be.AppendUint16(b, e.B)
			b = be.AppendUint16(b, e.A)
		}
		b = be.AppendUint16(b, e.Frequency)
	}
	return b, nil
}

func parseTIME(data []byte) (*time.Time, error) {
	if len(data) != 7 {
		return nil, sizeError(chunkTIME, len(data), "7")
	}
	year, month, day := int(be.Uint16(data)), data[2], data[3]
	hour, minute, sec := data[4], data[5], data[6]
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || sec > 60 {
		return nil, contentError(chunkTIME, "invalid date %d-%d-%d %d:%d:%d", year, month, day, hour, minute, sec)
	}
	t := time.Date(year, time.Month(month), int(day), int(hour), int(minute), int(sec), 0, time.UTC)
	return &t, nil
}

func encodeTIME(t time.Time) []byte {
	t = t.UTC()
	b := be.AppendUint16(nil, uint16(t.Year()))
	return append(b, uint8(t.Month()), uint8(t.Day()), uint8(t.Hour()), uint8(t.Minute()), uint8(t.Second()))
}

func parseTEXT(data []byte) (TextualData, error) {
	k, rest, err := splitKeyword(chunkTEXT, data)
	if err != nil {
		return TextualData{}, err
	}
	return TextualData{Keyword: k, Text: string(rest)}, nil
}

func parseZTXT(data []byte) (TextualData, error) {
	k, rest, err := splitKeyword(chunkZTXT, data)
	if err != nil {
		return TextualData{}, err
	}
	if len(rest) < 1 {
		return TextualData{}, sizeError(chunkZTXT, len(data), "a compression method")
	}
	if rest[0] != 0 {
		return TextualData{}, contentError(chunkZTXT, "unknown compression method %d", rest[0])
	}
	text, err := inflate(chunkZTXT, rest[1:])
	if err != nil {
		return TextualData{}, err
	}
	return TextualData{Keyword: k, Text: string(text), Compressed: true}, nil
}

func parseITXT(data []byte) (TextualData, error) {
	k, rest, err := splitKeyword(chunkITXT, data)
	if err != nil {
		return TextualData{}, err
	}
	if len(rest) < 2 {
		return TextualData{}, sizeError(chunkITXT, len(data), "compression fields")
	}
	t := TextualData{Keyword: k, International: true, Compressed: rest[0] == 1}
	if rest[0] > 1 || rest[1] != 0 {
		return TextualData{}, contentError(chunkITXT, "unknown compression flag %d method %d", rest[0], rest[1])
	}
	rest = rest[2:]
	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		return TextualData{}, contentError(chunkITXT, "language tag is not terminated")
	}
	t.LanguageTag, rest = string(rest[:i]), rest[i+1:]
	i = bytes.IndexByte(rest, 0)
	if i < 0 {
		return TextualData{}, contentError(chunkITXT, "translated keyword is not terminated")
	}
	t.TranslatedKeyword, rest = string(rest[:i]), rest[i+1:]
	if t.Compressed {
		text, err := inflate(chunkITXT, rest)
		if err != nil {
			return TextualData{}, err
		}
		rest = text
	}
	t.Text = string(rest)
	return t, nil
}

// encodeText returns the chunk type and payload for t.
func encodeText(t *TextualData) (string, []byte, error) {
	typ := chunkTEXT
	switch {
	case t.International:
		typ = chunkITXT
	case t.Compressed:
		typ = chunkZTXT
	}
	if err := checkKeyword(typ, t.Keyword); err != nil {
		return "", nil, err
	}
	b := append([]byte(t.Keyword), 0)
	text := []byte(t.Text)
	if t.Compressed {
		z, err := deflate(text)
		if err != nil {
			return "", nil, err
		}
		text = z
	}
	switch typ {
	case chunkZTXT:
		b = append(b, 0)
	case chunkITXT:
		flag := uint8(0)
		if t.Compressed {
			flag = 1
		}
		b = append(b, flag, 0)
		b = append(b, t.LanguageTag...)
		b = append(b, 0)
		b = append(b, t.TranslatedKeyword...)
		b = append(b, 0)
	}
	return typ, append(b, text...), nil
}
