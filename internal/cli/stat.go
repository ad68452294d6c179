package cli

import (
	"context"
	"strconv"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/segkv/internal/config"
)

// StatCmd returns the stat command.
func StatCmd(cfg *config.Config) *Command {
	flags := flag.NewFlagSet("stat", flag.ContinueOnError)
	human := flags.BoolP("human", "H", false, "Print sizes in human-readable units")

	return &Command{
		Flags: flags,
		Usage: "stat [--human]",
		Short: "Show space usage",
		Long: `Show the file size, the location of the current index snapshot, and how
many bytes are still reachable from it. dead_bytes counts superseded records,
snapshots and footers.`,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execStat(o, cfg, *human)
		},
	}
}

func execStat(o *IO, cfg *config.Config, human bool) error {
	s, err := openReader(cfg)
	if err != nil {
		return err
	}

	st, err := s.Stat()
	if err != nil {
		return closeSegment(s, warnIfNeedsRepair(o, err))
	}

	size := func(n uint64) string {
		if human {
			return humanize.IBytes(n)
		}

		return strconv.FormatUint(n, 10)
	}

	o.Println("path=" + s.Path())
	o.Println("file_size=" + size(st.FileSize))
	o.Println("snapshot_offset=" + strconv.FormatUint(st.SnapshotOffset, 10))
	o.Println("snapshot_size=" + size(st.SnapshotSize))
	o.Println("entries=" + strconv.Itoa(st.Entries))
	o.Println("live_value_bytes=" + size(st.LiveValueBytes))
	o.Println("dead_bytes=" + size(st.DeadBytes))

	return s.Close()
}
