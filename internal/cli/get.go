package cli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/segkv/internal/config"
)

// GetCmd returns the get command.
func GetCmd(cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("get", flag.ContinueOnError),
		Usage: "get <key>",
		Short: "Print the value stored under key",
		Long:  "Write the current value for key to stdout exactly as stored, without a trailing newline.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execGet(o, cfg, args)
		},
	}
}

func execGet(o *IO, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return errKeyRequired
	}

	if len(args) > 1 {
		return fmt.Errorf("%w: get takes one key", errTooManyArgs)
	}

	s, err := openReader(cfg)
	if err != nil {
		return err
	}

	value, err := s.Get(args[0])
	if err != nil {
		return closeSegment(s, warnIfNeedsRepair(o, err))
	}

	_, err = o.Write(value)

	return closeSegment(s, err)
}
