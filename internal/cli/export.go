package cli

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"unicode/utf8"

	flag "github.com/spf13/pflag"
	"github.com/tidwall/pretty"

	"github.com/calvinalkan/segkv/internal/config"
	"github.com/calvinalkan/segkv/pkg/fs"
	"github.com/calvinalkan/segkv/pkg/segment"
)

// ExportCmd returns the export command.
func ExportCmd(cfg *config.Config) *Command {
	flags := flag.NewFlagSet("export", flag.ContinueOnError)
	out := flags.StringP("out", "o", "", "Write to `path` atomically instead of stdout")
	indent := flags.Bool("pretty", false, "Indent the JSON output")

	return &Command{
		Flags: flags,
		Usage: "export [--out <path>] [--pretty]",
		Short: "Dump the index and values as JSON",
		Long: `Write every live key with its value, offset and length as JSON, in index
order. Values that are not valid UTF-8 are base64 encoded and marked with
"encoding": "base64".`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execExport(ctx, o, cfg, *out, *indent)
		},
	}
}

type exportDoc struct {
	Segment        string        `json:"segment"`
	SnapshotOffset uint64        `json:"snapshot_offset"`
	Entries        []exportEntry `json:"entries"`
}

type exportEntry struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Encoding string `json:"encoding,omitempty"`
	Offset   uint64 `json:"offset"`
	Length   uint64 `json:"length"`
}

func execExport(ctx context.Context, o *IO, cfg *config.Config, out string, indent bool) error {
	s, err := openReader(cfg)
	if err != nil {
		return err
	}

	doc, err := buildExport(ctx, s)
	if err != nil {
		return closeSegment(s, warnIfNeedsRepair(o, err))
	}

	err = s.Close()
	if err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}

	if indent {
		data = pretty.Pretty(data)
	} else {
		data = append(data, '\n')
	}

	if out == "" {
		_, err = o.Write(data)

		return err
	}

	if !filepath.IsAbs(out) {
		out = filepath.Join(cfg.EffectiveCwd, out)
	}

	fsys := fs.NewReal()

	err = fsys.MkdirAll(filepath.Dir(out), 0o750)
	if err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	err = fsys.WriteFileAtomic(out, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("write export: %w", err)
	}

	o.Printf("exported %d entries to %s\n", len(doc.Entries), out)

	return nil
}

func buildExport(ctx context.Context, s *segment.Segment) (exportDoc, error) {
	doc := exportDoc{Segment: s.Path(), Entries: []exportEntry{}}

	entries, err := s.Entries()
	if errors.Is(err, segment.ErrEmptySegment) {
		return doc, nil
	}

	if err != nil {
		return exportDoc{}, err
	}

	st, err := s.Stat()
	if err != nil {
		return exportDoc{}, err
	}

	doc.SnapshotOffset = st.SnapshotOffset

	for _, e := range entries {
		if ctx.Err() != nil {
			return exportDoc{}, ctx.Err()
		}

		value, getErr := s.Get(e.Key)
		if getErr != nil {
			return exportDoc{}, getErr
		}

		ee := exportEntry{Key: e.Key, Offset: e.ValueOffset, Length: e.ValueLength}

		if utf8.Valid(value) {
			ee.Value = string(value)
		} else {
			ee.Value = base64.StdEncoding.EncodeToString(value)
			ee.Encoding = "base64"
		}

		doc.Entries = append(doc.Entries, ee)
	}

	return doc, nil
}
