package main

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/imgpipe/zpng"
	"github.com/imgpipe/zpng/png"
)

func newPNGCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "png",
		Short: "PNG images",
	}
	cmd.AddCommand(newPNGInfoCommand(), newPNGRecodeCommand())
	return cmd
}

func newPNGInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info [file]",
		Short: "Print the chunks of a PNG file and check its image data",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := input(cmd, arg(args, 0))
			if err != nil {
				return err
			}
			r := png.NewReader(src, &png.ReaderOptions{Logger: &logger})
			err = printInfo(cmd.OutOrStdout(), r)
			if cerr := zpng.CloseAll(r, src); err == nil {
				err = cerr
			}
			return err
		},
	}
}

func printInfo(out io.Writer, r *png.Reader) error {
	h, err := r.ReadHeader()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "size:       %dx%d\n", h.Width, h.Height)
	fmt.Fprintf(out, "color:      %s, %d bits\n", h.ColorType, h.BitDepth)
	fmt.Fprintf(out, "interlace:  %s\n", h.Interlace)
	if len(h.Palette) > 0 {
		fmt.Fprintf(out, "palette:    %d entries\n", len(h.Palette))
	}
	if h.Gamma != nil {
		fmt.Fprintf(out, "gamma:      %g\n", *h.Gamma)
	}
	if h.SRGB != nil {
		fmt.Fprintf(out, "sRGB:       intent %d\n", *h.SRGB)
	}
	if h.ICCProfile != nil {
		fmt.Fprintf(out, "ICC:        %q, %d bytes\n", h.ICCProfile.Name, len(h.ICCProfile.Profile))
	}
	if p := h.PixelDimensions; p != nil {
		fmt.Fprintf(out, "pixels:     %dx%d per unit %d\n", p.X, p.Y, p.Unit)
	}
	if h.LastModification != nil {
		fmt.Fprintf(out, "modified:   %s\n", h.LastModification)
	}
	for _, t := range h.Text {
		fmt.Fprintf(out, "text:       %s = %q\n", t.Keyword, t.Text)
	}

	if h.Interlace == png.Adam7 {
		fmt.Fprintln(out, "image data: not checked, interlaced")
		return nil
	}
	buf := make([]uint8, 4*int(h.Width))
	for {
		n, err := png.ReadPixels(r, buf, png.RGBA)
		if err != nil {
			return err
		}
		if n < len(buf) {
			break
		}
	}
	e, err := r.ReadEnding()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "image data: ok")
	if e.LastModification != nil {
		fmt.Fprintf(out, "modified:   %s\n", e.LastModification)
	}
	for _, t := range e.Text {
		fmt.Fprintf(out, "text:       %s = %q\n", t.Keyword, t.Text)
	}
	return nil
}

func newPNGRecodeCommand() *cobra.Command {
	var codec codecFlags
	var filter string
	cmd := &cobra.Command{
		Use:   "recode [in] [out]",
		Short: "Decode a PNG file and encode it again",
		Long: "Decode a PNG file and encode it again with the given filter and DEFLATE settings. " +
			"Indexed images come out as truecolor.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, mf, err := codec.options()
			if err != nil {
				return err
			}
			strategy, err := parseFilter(filter)
			if err != nil {
				return err
			}
			return pipe(cmd, args, func(r io.Reader, w io.Writer) error {
				f, err := png.Decode[uint16](r, png.RGBA, &png.ReaderOptions{Logger: &logger})
				if err != nil {
					return err
				}
				f.Header = truecolor(f.Header)
				err = png.Encode(w, f, png.RGBA, &png.WriterOptions{
					Filter:      strategy,
					Mode:        mode,
					BlockSize:   codec.blockSize,
					Level:       codec.level,
					MatchFinder: mf,
					Logger:      &logger,
				})
				if err != nil {
					return err
				}
				logger.Info().
					Uint32("width", f.Header.Width).
					Uint32("height", f.Header.Height).
					Stringer("color", f.Header.ColorType).
					Msg("png recode: done")
				return nil
			})
		},
	}
	codec.register(cmd)
	cmd.Flags().StringVar(&filter, "filter", "adaptive", "scanline filter: adaptive, none, sub, up, average or paeth")
	return cmd
}

func parseFilter(s string) (png.FilterStrategy, error) {
	for _, f := range []png.FilterStrategy{png.FilterAdaptive, png.FilterNone, png.FilterSub, png.FilterUp, png.FilterAverage, png.FilterPaeth} {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, errors.Errorf("unknown --filter %q", s)
}

// truecolor turns the header of an indexed image into that of an 8-bit
// truecolor one carrying the same colors. PLTE and hIST are dropped. Other
// headers are returned as they are.
func truecolor(h png.Header) png.Header {
	if h.ColorType != png.Indexed {
		return h
	}
	h.ColorType = png.Truecolor
	for _, e := range h.Palette {
		if e.A != 0xff {
			h.ColorType = png.TruecolorAlpha
		}
	}
	h.BitDepth = 8
	if bg := h.Background; bg != nil && int(bg.Index) < len(h.Palette) {
		e := h.Palette[bg.Index]
		h.Background = &png.Background{Red: uint16(e.R), Green: uint16(e.G), Blue: uint16(e.B)}
	}
	if s := h.SignificantBits; s != nil && h.ColorType == png.TruecolorAlpha {
		sb := *s
		sb.Alpha = 8
		h.SignificantBits = &sb
	}
	h.Palette = nil
	h.Histogram = nil
	return h
}
