package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/imgpipe/zpng/flate"
	"github.com/imgpipe/zpng/zlib"
)

func newDeflateCommand() *cobra.Command {
	var codec codecFlags
	var dict string
	cmd := &cobra.Command{
		Use:   "deflate [in] [out]",
		Short: "Compress into a raw DEFLATE stream",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, mf, err := codec.options()
			if err != nil {
				return err
			}
			d, err := readDictionary(dict)
			if err != nil {
				return err
			}
			return pipe(cmd, args, func(r io.Reader, w io.Writer) error {
				fw := flate.NewWriter(w, &flate.WriterOptions{
					Mode:        mode,
					BlockSize:   codec.blockSize,
					Level:       codec.level,
					MatchFinder: mf,
					Dictionary:  d,
					Logger:      &logger,
				})
				n, err := io.Copy(fw, r)
				if err != nil {
					fw.Close()
					return err
				}
				if err := fw.Close(); err != nil {
					return err
				}
				logger.Info().Int64("bytes", n).Str("mode", codec.mode).Msg("deflate: done")
				return nil
			})
		},
	}
	codec.register(cmd)
	cmd.Flags().StringVar(&dict, "dict", "", "file holding a preset dictionary")
	return cmd
}

func newInflateCommand() *cobra.Command {
	var dict string
	cmd := &cobra.Command{
		Use:   "inflate [in] [out]",
		Short: "Decompress a raw DEFLATE stream",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := readDictionary(dict)
			if err != nil {
				return err
			}
			return pipe(cmd, args, func(r io.Reader, w io.Writer) error {
				fr := flate.NewReader(r, &flate.ReaderOptions{Dictionary: d, Logger: &logger})
				n, err := io.Copy(w, fr)
				if err != nil {
					return err
				}
				logger.Info().Int64("bytes", n).Msg("inflate: done")
				return fr.Close()
			})
		},
	}
	cmd.Flags().StringVar(&dict, "dict", "", "file holding the preset dictionary")
	return cmd
}

func newZlibCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zlib",
		Short: "zlib streams",
	}

	var codec codecFlags
	var dict string
	compress := &cobra.Command{
		Use:   "compress [in] [out]",
		Short: "Compress into a zlib stream",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, mf, err := codec.options()
			if err != nil {
				return err
			}
			d, err := readDictionary(dict)
			if err != nil {
				return err
			}
			return pipe(cmd, args, func(r io.Reader, w io.Writer) error {
				zw := zlib.NewWriter(w, &zlib.WriterOptions{
					Mode:        mode,
					BlockSize:   codec.blockSize,
					Level:       codec.level,
					MatchFinder: mf,
					Dictionary:  d,
					Logger:      &logger,
				})
				n, err := io.Copy(zw, r)
				if err != nil {
					zw.Close()
					return err
				}
				if err := zw.Close(); err != nil {
					return err
				}
				logger.Info().Int64("bytes", n).Str("mode", codec.mode).Msg("zlib compress: done")
				return nil
			})
		},
	}
	codec.register(compress)
	compress.Flags().StringVar(&dict, "dict", "", "file holding a preset dictionary")

	var inDict string
	decompress := &cobra.Command{
		Use:   "decompress [in] [out]",
		Short: "Decompress a zlib stream and check its Adler-32",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := readDictionary(inDict)
			if err != nil {
				return err
			}
			return pipe(cmd, args, func(r io.Reader, w io.Writer) error {
				zr := zlib.NewReader(r, &zlib.ReaderOptions{Dictionary: d, Logger: &logger})
				n, err := io.Copy(w, zr)
				if err != nil {
					return err
				}
				logger.Info().Int64("bytes", n).Msg("zlib decompress: done")
				return zr.Close()
			})
		},
	}
	decompress.Flags().StringVar(&inDict, "dict", "", "file holding the preset dictionary")

	cmd.AddCommand(compress, decompress)
	return cmd
}
