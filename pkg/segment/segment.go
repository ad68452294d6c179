package segment

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/calvinalkan/segkv/pkg/fs"
)

// Segment is a handle to an open segment file.
//
// Read methods are safe for concurrent use by multiple goroutines. [Segment.Put]
// excludes readers of the same handle for the whole record, snapshot, footer
// and sync sequence, so a reader never observes a half-written trailer or a
// mapping that is being replaced.
//
// A Segment must be obtained via [Open]; the zero value is not usable.
type Segment struct {
	_ [0]func() // prevent external construction

	// mu guards region and closed. Readers take RLock, Put and Close take Lock.
	mu sync.RWMutex

	region    *Region
	lock      *fs.Lock
	path      string
	readOnly  bool
	writeback WritebackMode
	closed    bool
}

// trailer is the decoded index of a segment at one fixed file length.
type trailer struct {
	snapshotOffset uint64
	entries        []IndexEntry
}

func (t trailer) find(key string) (IndexEntry, bool) {
	for _, e := range t.entries {
		if e.Key == key {
			return e, true
		}
	}

	return IndexEntry{}, false
}

// Path returns the path the segment was opened with.
func (s *Segment) Path() string {
	return s.path
}

// Len returns the current file length in bytes.
func (s *Segment) Len() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}

	return s.region.Len()
}

// Put appends key and value, then a full index snapshot carrying every live
// key, then a footer pointing at that snapshot. An existing key keeps its
// position in the snapshot and points at the new value.
//
// Nothing is rolled back on failure: a Put that fails after growing the file
// leaves bytes past the last valid footer, which [Repair] removes.
//
// Possible errors:
//   - [ErrClosed], [ErrReadOnly], [ErrInvalidKey]
//   - [ErrCorruptIndex], [ErrTruncatedFooter]: the current trailer is damaged
//   - [ErrInvalidInput]: too many keys
//   - [ErrGrowFailed]: the file could not be extended
//   - syscall errors: msync, fsync
func (s *Segment) Put(key string, value []byte) error {
	record, err := EncodeRecord(key, value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if s.readOnly {
		return ErrReadOnly
	}

	recordStart := s.region.Len()

	var prior []IndexEntry

	// A file shorter than a footer holds no complete write yet.
	if recordStart >= FooterSize {
		current, readErr := s.readTrailer(recordStart)
		if readErr != nil {
			return fmt.Errorf("read current index: %w", readErr)
		}

		prior = current.entries
	}

	entries := upsertEntry(prior, IndexEntry{
		Key:         key,
		ValueOffset: recordStart + uint64(len(key)) + 1,
		ValueLength: uint64(len(value)),
	})

	if len(entries) > maxSnapshotEntries {
		return fmt.Errorf("segment holds %d keys, max %d: %w", len(prior), maxSnapshotEntries, ErrInvalidInput)
	}

	snapshot := EncodeSnapshot(entries)
	snapshotOffset := recordStart + uint64(len(record))
	footerOffset := snapshotOffset + uint64(len(snapshot))
	footer := EncodeFooter(snapshotOffset)

	err = s.region.GrowBy(uint64(len(record)) + uint64(len(snapshot)) + FooterSize)
	if err != nil {
		return err
	}

	err = s.region.Write(recordStart, record)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	err = s.region.Write(snapshotOffset, snapshot)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	err = s.region.Write(footerOffset, footer[:])
	if err != nil {
		return fmt.Errorf("write footer: %w", err)
	}

	if s.writeback == WritebackSync {
		err = s.region.Sync()
		if err != nil {
			return err
		}
	}

	return nil
}

// Get returns a copy of the current value for key.
//
// Possible errors:
//   - [ErrClosed]
//   - [ErrEmptySegment]: nothing has been written yet
//   - [ErrKeyNotFound]
//   - [ErrCorruptIndex], [ErrTruncatedFooter]: run [Repair]
func (s *Segment) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	// The length is read once; everything below works off this value.
	t, err := s.readTrailer(s.region.Len())
	if err != nil {
		return nil, err
	}

	e, ok := t.find(key)
	if !ok {
		return nil, fmt.Errorf("%q: %w", key, ErrKeyNotFound)
	}

	return s.region.Read(e.ValueOffset, e.End())
}

// Entries returns the current index snapshot in order.
//
// Possible errors: [ErrClosed], [ErrEmptySegment], [ErrCorruptIndex],
// [ErrTruncatedFooter].
func (s *Segment) Entries() ([]IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	t, err := s.readTrailer(s.region.Len())
	if err != nil {
		return nil, err
	}

	return t.entries, nil
}

// Keys returns the live keys in snapshot order.
//
// Possible errors: same as [Segment.Entries].
func (s *Segment) Keys() ([]string, error) {
	entries, err := s.Entries()
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}

	return keys, nil
}

// Stats describes the space usage of a segment.
type Stats struct {
	FileSize       uint64
	SnapshotOffset uint64
	SnapshotSize   uint64
	Entries        int

	// LiveValueBytes is the total length of all values reachable from the
	// current snapshot.
	LiveValueBytes uint64

	// DeadBytes counts every byte not reachable from the current trailer:
	// superseded records, snapshots and footers.
	DeadBytes uint64
}

// Stat reports space usage. A segment shorter than a footer reports all of
// its bytes as dead.
//
// Possible errors: [ErrClosed], [ErrCorruptIndex], [ErrTruncatedFooter].
func (s *Segment) Stat() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Stats{}, ErrClosed
	}

	size := s.region.Len()
	if size < FooterSize {
		return Stats{FileSize: size, DeadBytes: size}, nil
	}

	t, err := s.readTrailer(size)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		FileSize:       size,
		SnapshotOffset: t.snapshotOffset,
		SnapshotSize:   size - FooterSize - t.snapshotOffset,
		Entries:        len(t.entries),
	}

	var liveRecordBytes uint64

	for _, e := range t.entries {
		st.LiveValueBytes += e.ValueLength
		liveRecordBytes += uint64(len(e.Key)) + 1 + e.ValueLength
	}

	if liveRecordBytes <= t.snapshotOffset {
		st.DeadBytes = t.snapshotOffset - liveRecordBytes
	}

	return st, nil
}

// Verify reads the trailer and checks that each entry points just past its
// own "key:" prefix.
//
// Possible errors: [ErrClosed], [ErrEmptySegment], [ErrCorruptIndex],
// [ErrTruncatedFooter].
func (s *Segment) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	t, err := s.readTrailer(s.region.Len())
	if err != nil {
		return err
	}

	return s.verifyRecords(t)
}

// Close releases the mapping, the file and the writer lock.
// Close is idempotent; after Close all other methods return [ErrClosed].
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	err := s.region.Close()

	releaseWriterLock(s.lock)
	s.lock = nil

	return err
}

// readTrailer decodes the footer and snapshot of a file of the given length.
// Callers hold s.mu.
func (s *Segment) readTrailer(size uint64) (trailer, error) {
	if size < FooterSize {
		return trailer{}, fmt.Errorf("length %d is less than footer size: %w", size, ErrEmptySegment)
	}

	footerBytes, err := s.region.slice(size-FooterSize, size)
	if err != nil {
		return trailer{}, err
	}

	snapshotOffset, err := DecodeFooter(footerBytes)
	if err != nil {
		return trailer{}, err
	}

	return s.decodeTrailerAt(size, snapshotOffset)
}

// decodeTrailerAt decodes and validates the snapshot at snapshotOffset for a
// footer ending at size.
func (s *Segment) decodeTrailerAt(size, snapshotOffset uint64) (trailer, error) {
	snapshotEnd := size - FooterSize
	if snapshotOffset > snapshotEnd {
		return trailer{}, fmt.Errorf("footer offset %d beyond snapshot end %d: %w", snapshotOffset, snapshotEnd, ErrCorruptIndex)
	}

	snapshotBytes, err := s.region.slice(snapshotOffset, snapshotEnd)
	if err != nil {
		return trailer{}, err
	}

	entries, err := DecodeSnapshot(snapshotBytes)
	if err != nil {
		return trailer{}, err
	}

	for _, e := range entries {
		// Values precede the snapshot, each behind its own "key:" prefix.
		if e.ValueOffset < uint64(len(e.Key))+1 || e.End() > snapshotOffset {
			return trailer{}, fmt.Errorf("entry %q at [%d, %d) outside data region [0, %d): %w",
				e.Key, e.ValueOffset, e.End(), snapshotOffset, ErrCorruptIndex)
		}
	}

	return trailer{snapshotOffset: snapshotOffset, entries: entries}, nil
}

func (s *Segment) verifyRecords(t trailer) error {
	var errs []error

	for _, e := range t.entries {
		prefixStart := e.ValueOffset - uint64(len(e.Key)) - 1

		prefix, err := s.region.slice(prefixStart, e.ValueOffset)
		if err != nil {
			return err
		}

		if !bytes.Equal(prefix[:len(prefix)-1], []byte(e.Key)) || prefix[len(prefix)-1] != Delimiter {
			errs = append(errs, fmt.Errorf("entry %q: record prefix at %d is %q: %w", e.Key, prefixStart, prefix, ErrCorruptIndex))
		}
	}

	return errors.Join(errs...)
}
