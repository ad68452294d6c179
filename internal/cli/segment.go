package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/calvinalkan/segkv/internal/config"
	"github.com/calvinalkan/segkv/pkg/segment"
)

var (
	errSegmentMissing = errors.New("segment file does not exist")
	errKeyRequired    = errors.New("key is required")
	errTooManyArgs    = errors.New("too many arguments")
)

// openReader opens the configured segment read-only. Readers never take the
// writer lock, so they work while another process is writing.
func openReader(cfg *config.Config) (*segment.Segment, error) {
	_, err := os.Stat(cfg.SegmentAbs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", errSegmentMissing, cfg.SegmentAbs)
	}

	return segment.Open(cfg.SegmentOptions(true))
}

// openWriter opens the configured segment for writing, creating it if needed.
func openWriter(cfg *config.Config) (*segment.Segment, error) {
	s, err := segment.Open(cfg.SegmentOptions(false))
	if errors.Is(err, segment.ErrBusy) {
		return nil, fmt.Errorf("%s is being written by another process: %w", cfg.SegmentAbs, err)
	}

	return s, err
}

// warnIfNeedsRepair adds the repair hint when err reports a damaged trailer.
// Returns err unchanged.
func warnIfNeedsRepair(o *IO, err error) error {
	if segment.NeedsRepair(err) {
		o.Warn("segment needs repair", "run 'segkv repair'")
	}

	return err
}

func closeSegment(s *segment.Segment, err error) error {
	return errors.Join(err, s.Close())
}
