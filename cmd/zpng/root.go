package main

import (
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/imgpipe/zpng"
	"github.com/imgpipe/zpng/flate"
	"github.com/imgpipe/zpng/matchfinder"
)

var logger = zerolog.Nop()

func newRootCommand() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "zpng",
		Short:         "DEFLATE, zlib and PNG codec tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				return errors.Wrapf(err, "invalid --log-level %q", logLevel)
			}
			logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
				Level(level).
				With().
				Timestamp().
				Logger()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "one of trace, debug, info, warn, error")

	root.AddCommand(newDeflateCommand(), newInflateCommand(), newZlibCommand(), newPNGCommand())
	return root
}

// execute runs root and logs any error.
func execute(root *cobra.Command) error {
	cmd, err := root.ExecuteC()
	if err != nil {
		logger.Error().
			Err(err).
			Stringer("kind", zpng.KindOf(err)).
			Str("command", cmd.CommandPath()).
			Msg("zpng: failed")
	}
	return err
}

// input opens path, or borrows stdin for "" and "-".
func input(cmd *cobra.Command, path string) (*zpng.Source, error) {
	if path == "" || path == "-" {
		return zpng.BorrowSource(cmd.InOrStdin()), nil
	}
	return zpng.OpenSource(path)
}

// output creates path, or borrows stdout for "" and "-".
func output(cmd *cobra.Command, path string) (*zpng.Sink, error) {
	if path == "" || path == "-" {
		return zpng.BorrowSink(cmd.OutOrStdout()), nil
	}
	return zpng.CreateSink(path)
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

// pipe opens the input and output named by args and hands them to fn,
// closing both afterwards.
func pipe(cmd *cobra.Command, args []string, fn func(r io.Reader, w io.Writer) error) error {
	src, err := input(cmd, arg(args, 0))
	if err != nil {
		return err
	}
	sink, err := output(cmd, arg(args, 1))
	if err != nil {
		return multierror.Append(err, src.Close())
	}
	var result *multierror.Error
	if err := fn(src, sink); err != nil {
		result = multierror.Append(result, err)
	}
	if err := zpng.CloseAll(src, sink); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// codecFlags are the DEFLATE writer settings shared by the compressing
// commands.
type codecFlags struct {
	mode      string
	level     int
	matcher   string
	blockSize int
}

func (f *codecFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mode, "mode", "dynamic", "block type: dynamic, fixed, stored or smallest")
	cmd.Flags().IntVar(&f.level, "level", flate.DefaultLevel, "compression level from 1 to 9, picking the match finder")
	cmd.Flags().StringVar(&f.matcher, "matcher", "", "match finder overriding --level: hashchain, zfast or none")
	cmd.Flags().IntVar(&f.blockSize, "block-size", flate.DefaultBlockSize, "input bytes per block")
}

func (f *codecFlags) options() (flate.Mode, matchfinder.MatchFinder, error) {
	modes := map[string]flate.Mode{
		"dynamic":  flate.DynamicMode,
		"fixed":    flate.FixedMode,
		"stored":   flate.StoredMode,
		"smallest": flate.SmallestMode,
	}
	mode, ok := modes[f.mode]
	if !ok {
		return 0, nil, errors.Errorf("unknown --mode %q", f.mode)
	}
	var mf matchfinder.MatchFinder
	if f.level < 1 || f.level > 9 {
		return 0, nil, errors.Errorf("--level %d is not between 1 and 9", f.level)
	}
	switch f.matcher {
	case "":
	case "hashchain":
		mf = &matchfinder.HashChain{}
	case "zfast":
		mf = &matchfinder.ZFast{}
	case "none":
		mf = matchfinder.NoMatchFinder{}
	default:
		return 0, nil, errors.Errorf("unknown --matcher %q", f.matcher)
	}
	return mode, mf, nil
}

func readDictionary(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	return b, errors.Wrap(err, "reading dictionary")
}
