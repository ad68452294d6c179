package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/calvinalkan/segkv/pkg/fs"
)

// WritebackMode controls durability guarantees for [Segment.Put].
type WritebackMode int

const (
	// WritebackSync flushes the mapping and the file length once per Put,
	// after the footer is written. When Put returns nil the write is durable.
	//
	// This is the default.
	WritebackSync WritebackMode = iota

	// WritebackNone never flushes. Writes are visible to other processes
	// immediately but may be lost on power failure.
	WritebackNone
)

// String returns the config spelling of the mode.
func (m WritebackMode) String() string {
	switch m {
	case WritebackSync:
		return "sync"
	case WritebackNone:
		return "none"
	default:
		return fmt.Sprintf("WritebackMode(%d)", int(m))
	}
}

// ParseWritebackMode parses "sync" or "none". The empty string means sync.
func ParseWritebackMode(s string) (WritebackMode, error) {
	switch s {
	case "", "sync":
		return WritebackSync, nil
	case "none":
		return WritebackNone, nil
	default:
		return 0, fmt.Errorf("unknown writeback mode %q: %w", s, ErrInvalidInput)
	}
}

// Options configures opening a segment file.
type Options struct {
	// Path is the filesystem path to the segment file.
	//
	// Required. Unless ReadOnly or DisableLocking is set, a lock file is
	// also created at Path+".lock".
	Path string

	// ReadOnly opens an existing segment without the writer lock.
	//
	// The handle sees the file length as of Open; writes made later by other
	// processes become visible after reopening. [Segment.Put] returns
	// [ErrReadOnly].
	ReadOnly bool

	// Writeback controls durability of [Segment.Put].
	//
	// Default is [WritebackSync].
	Writeback WritebackMode

	// DisableLocking disables the interprocess writer lock.
	//
	// The caller MUST provide equivalent external synchronization; the
	// segment format tolerates exactly one writer.
	DisableLocking bool

	// LockTimeout is how long Open waits for the writer lock held by another
	// process. Zero means try once and fail with [ErrBusy].
	LockTimeout time.Duration
}

// writerLocker coordinates writers across processes.
var writerLocker = fs.NewLocker(fs.NewReal())

// Open opens or creates the segment file at opts.Path.
//
// A missing or empty file yields an empty segment. Open does not validate
// the trailer; damage is reported by the first operation that reads it.
//
// The returned Segment must be closed with [Segment.Close].
//
// Possible errors:
//   - [ErrInvalidInput]: empty path, unknown writeback mode, negative lock
//     timeout, oversized file
//   - [ErrBusy]: another process holds the writer lock
//   - syscall errors: mkdir, open, stat, mmap
func Open(opts Options) (*Segment, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("path is required: %w", ErrInvalidInput)
	}

	if opts.LockTimeout < 0 {
		return nil, fmt.Errorf("lock_timeout must be >= 0, got %s: %w", opts.LockTimeout, ErrInvalidInput)
	}

	switch opts.Writeback {
	case WritebackSync, WritebackNone:
		// ok
	default:
		return nil, fmt.Errorf("unknown writeback mode %d: %w", opts.Writeback, ErrInvalidInput)
	}

	if !opts.ReadOnly {
		dir := filepath.Dir(opts.Path)

		mkdirErr := os.MkdirAll(dir, 0o750)
		if mkdirErr != nil {
			return nil, fmt.Errorf("create directory: %w", mkdirErr)
		}
	}

	var lock *fs.Lock

	if !opts.ReadOnly && !opts.DisableLocking {
		var err error

		lock, err = acquireWriterLock(opts.Path, opts.LockTimeout)
		if err != nil {
			return nil, err
		}
	}

	region, err := OpenRegion(opts.Path, RegionOptions{ReadOnly: opts.ReadOnly})
	if err != nil {
		releaseWriterLock(lock)

		return nil, err
	}

	return &Segment{
		region:    region,
		lock:      lock,
		path:      opts.Path,
		readOnly:  opts.ReadOnly,
		writeback: opts.Writeback,
	}, nil
}

// acquireWriterLock takes the exclusive lock at path+".lock", waiting up to
// timeout. Lock contention maps to ErrBusy.
func acquireWriterLock(path string, timeout time.Duration) (*fs.Lock, error) {
	var (
		lock *fs.Lock
		err  error
	)

	if timeout > 0 {
		lock, err = writerLocker.LockWithTimeout(path+".lock", timeout)
	} else {
		lock, err = writerLocker.TryLock(path + ".lock")
	}

	if err != nil {
		if errors.Is(err, fs.ErrWouldBlock) {
			return nil, fmt.Errorf("writer lock held: %w", ErrBusy)
		}

		return nil, fmt.Errorf("acquire writer lock: %w", err)
	}

	return lock, nil
}

// releaseWriterLock releases the lock. Safe to call with nil.
// The lock file itself is left in place.
func releaseWriterLock(lock *fs.Lock) {
	if lock == nil {
		return
	}

	_ = lock.Close()
}
