package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/segkv/internal/config"
	"github.com/calvinalkan/segkv/pkg/fs"
	"github.com/calvinalkan/segkv/pkg/segment"
)

var errValueSource = errors.New("exactly one of <value>, --file or --stdin is required")

// PutCmd returns the put command.
func PutCmd(cfg *config.Config) *Command {
	flags := flag.NewFlagSet("put", flag.ContinueOnError)
	file := flags.StringP("file", "f", "", "Read the value from `path`")
	fromStdin := flags.Bool("stdin", false, "Read the value from standard input")

	return &Command{
		Flags: flags,
		Usage: "put <key> [<value>] [flags]",
		Short: "Store a value under key",
		Long: `Append key and value to the segment, followed by a new index snapshot.
An existing key keeps its position in the index and points at the new value.

The value is taken from the second argument, from --file, or from --stdin.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execPut(o, cfg, args, *file, *fromStdin)
		},
	}
}

func execPut(o *IO, cfg *config.Config, args []string, file string, fromStdin bool) error {
	if len(args) == 0 {
		return errKeyRequired
	}

	if len(args) > 2 {
		return fmt.Errorf("%w: put takes a key and at most one value", errTooManyArgs)
	}

	key := args[0]

	err := segment.ValidateKey(key)
	if err != nil {
		return err
	}

	value, err := readValue(o, cfg, args[1:], file, fromStdin)
	if err != nil {
		return err
	}

	s, err := openWriter(cfg)
	if err != nil {
		return err
	}

	err = warnIfNeedsRepair(o, s.Put(key, value))
	if err != nil {
		return closeSegment(s, err)
	}

	o.Printf("stored %s (%d bytes)\n", key, len(value))

	return s.Close()
}

func readValue(o *IO, cfg *config.Config, rest []string, file string, fromStdin bool) ([]byte, error) {
	sources := len(rest)
	if file != "" {
		sources++
	}

	if fromStdin {
		sources++
	}

	if sources != 1 {
		return nil, errValueSource
	}

	switch {
	case file != "":
		if !filepath.IsAbs(file) {
			file = filepath.Join(cfg.EffectiveCwd, file)
		}

		data, err := fs.NewReal().ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read value file: %w", err)
		}

		return data, nil
	case fromStdin:
		data, err := io.ReadAll(o.Stdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}

		return data, nil
	default:
		return []byte(rest[0]), nil
	}
}
