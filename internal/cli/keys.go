package cli

import (
	"context"
	"errors"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/segkv/internal/config"
	"github.com/calvinalkan/segkv/pkg/segment"
)

// KeysCmd returns the keys command.
func KeysCmd(cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("keys", flag.ContinueOnError),
		Usage: "keys",
		Short: "List keys in index order",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execKeys(o, cfg)
		},
	}
}

func execKeys(o *IO, cfg *config.Config) error {
	s, err := openReader(cfg)
	if err != nil {
		return err
	}

	keys, err := s.Keys()
	if errors.Is(err, segment.ErrEmptySegment) {
		return s.Close()
	}

	if err != nil {
		return closeSegment(s, warnIfNeedsRepair(o, err))
	}

	for _, k := range keys {
		o.Println(k)
	}

	return s.Close()
}
