package segment

import (
	"bytes"
	"errors"
	"fmt"
)

// RepairResult describes what [Segment.Repair] changed.
type RepairResult struct {
	OldSize uint64
	NewSize uint64

	// Entries is the number of live keys after repair.
	Entries int
}

// Truncated reports whether repair removed any bytes.
func (r RepairResult) Truncated() bool {
	return r.NewSize != r.OldSize
}

// Repair opens the segment at opts.Path, repairs it and closes it.
//
// Possible errors: see [Open] and [Segment.Repair].
func Repair(opts Options) (RepairResult, error) {
	if opts.ReadOnly {
		return RepairResult{}, fmt.Errorf("repair needs a writable segment: %w", ErrReadOnly)
	}

	s, err := Open(opts)
	if err != nil {
		return RepairResult{}, err
	}

	res, repairErr := s.Repair()
	closeErr := s.Close()

	return res, errors.Join(repairErr, closeErr)
}

// Repair truncates the file to the end of the last footer that points at a
// well-formed snapshot, dropping whatever a failed Put left behind. When no
// such footer exists the file is truncated to zero bytes.
//
// A segment whose current trailer is valid is left unchanged.
//
// Possible errors: [ErrClosed], [ErrReadOnly], syscall errors (ftruncate,
// mmap, fsync).
func (s *Segment) Repair() (RepairResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return RepairResult{}, ErrClosed
	}

	if s.readOnly {
		return RepairResult{}, ErrReadOnly
	}

	oldSize := s.region.Len()
	newSize, entries := s.findLastValidEnd(oldSize)

	res := RepairResult{OldSize: oldSize, NewSize: newSize, Entries: entries}
	if newSize == oldSize {
		return res, nil
	}

	err := s.region.Truncate(newSize)
	if err != nil {
		return RepairResult{}, fmt.Errorf("truncate to %d: %w", newSize, err)
	}

	err = s.region.Sync()
	if err != nil {
		return RepairResult{}, err
	}

	return res, nil
}

// findLastValidEnd scans backward for the largest end <= size such that the
// 8 bytes before end form a footer whose snapshot decodes and validates.
// Returns 0 when there is none.
func (s *Segment) findLastValidEnd(size uint64) (uint64, int) {
	minTrailer := uint64(snapshotHeaderSize + snapshotTrailerSize + FooterSize)

	for end := size; end >= minTrailer; end-- {
		footerBytes, err := s.region.slice(end-FooterSize, end)
		if err != nil {
			return 0, 0
		}

		offset, _ := DecodeFooter(footerBytes)

		// Cheap rejection before a full decode and checksum.
		if offset+snapshotHeaderSize+snapshotTrailerSize > end-FooterSize || !s.hasSnapshotMagic(offset) {
			continue
		}

		t, err := s.decodeTrailerAt(end, offset)
		if err != nil {
			continue
		}

		return end, len(t.entries)
	}

	return 0, 0
}

func (s *Segment) hasSnapshotMagic(offset uint64) bool {
	magic, err := s.region.slice(offset, offset+uint64(len(snapshotMagic)))
	if err != nil {
		return false
	}

	return bytes.Equal(magic, snapshotMagic)
}
