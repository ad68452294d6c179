package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/segkv/internal/config"
	"github.com/calvinalkan/segkv/pkg/segment"
)

// RepairCmd returns the repair command.
func RepairCmd(cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("repair", flag.ContinueOnError),
		Usage: "repair",
		Short: "Drop bytes after the last valid footer",
		Long: `Truncate the segment to the end of the last footer whose index snapshot
decodes, removing whatever an interrupted put left behind. When no valid
footer exists the segment is emptied.

Takes the writer lock.`,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execRepair(o, cfg)
		},
	}
}

func execRepair(o *IO, cfg *config.Config) error {
	_, err := os.Stat(cfg.SegmentAbs)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", errSegmentMissing, cfg.SegmentAbs)
	}

	res, err := segment.Repair(cfg.SegmentOptions(false))
	if err != nil {
		return err
	}

	if !res.Truncated() {
		o.Printf("ok: no repair needed (%d entries)\n", res.Entries)

		return nil
	}

	o.Printf("repaired: truncated %d -> %d bytes (%d entries)\n", res.OldSize, res.NewSize, res.Entries)

	if res.NewSize == 0 {
		o.Warn("no valid footer found", "the segment is now empty; restore it from a backup if values were expected")
	}

	return nil
}
