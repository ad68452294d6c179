package fs

import (
	"errors"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
//
// The zero value disables all fault injection.
type ChaosConfig struct {
	// OpenFailRate controls how often FS.Open and FS.OpenFile fail.
	// Read-only opens return EACCES, EIO, EMFILE or ENFILE; write opens add
	// ENOSPC and EROFS.
	OpenFailRate float64

	// ReadFailRate controls how often FS.ReadFile and File.Read fail entirely
	// with EIO.
	ReadFailRate float64

	// PartialReadRate controls how often FS.ReadFile returns a truncated
	// prefix of the file together with EIO.
	PartialReadRate float64

	// WriteFailRate controls how often File.Write and FS.WriteFileAtomic fail.
	// A failed WriteFileAtomic leaves the destination untouched.
	WriteFailRate float64

	// StatFailRate controls how often FS.Stat and FS.Exists fail with EACCES
	// or EIO.
	StatFailRate float64

	// MkdirAllFailRate controls how often FS.MkdirAll fails.
	MkdirAllFailRate float64
}

// ChaosMode controls how [Chaos] behaves.
type ChaosMode uint8

const (
	// ChaosModeActive enables fault-rate injection.
	// This is the default mode for a new [Chaos].
	ChaosModeActive ChaosMode = iota

	// ChaosModeNoOp passes every operation directly to the underlying FS.
	ChaosModeNoOp
)

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	OpenFails     int64
	ReadFails     int64
	PartialReads  int64
	WriteFails    int64
	StatFails     int64
	MkdirAllFails int64
}

// Total returns the sum of all counts.
func (s ChaosStats) Total() int64 {
	return s.OpenFails + s.ReadFails + s.PartialReads + s.WriteFails + s.StatFails + s.MkdirAllFails
}

// chaosError marks an error as intentionally injected by [Chaos].
// It wraps the underlying error so errors.Is/As continue to work.
type chaosError struct {
	Err error
}

func (e *chaosError) Error() string {
	return "chaos: " + e.Err.Error()
}

func (e *chaosError) Unwrap() error {
	return e.Err
}

// IsChaosErr reports whether err (or any wrapped error) was injected by [Chaos].
func IsChaosErr(err error) bool {
	var injected *chaosError

	return errors.As(err, &injected)
}

// Chaos wraps an [FS] and injects random failures for testing.
//
// Injected errors are [*fs.PathError] values carrying a real [syscall.Errno],
// so [errors.Is] and helpers like [os.IsPermission] behave as for real OS
// errors. Chaos never injects ENOENT or EINTR. Each call decides
// independently whether to inject; there is no sticky per-path state.
type Chaos struct {
	fs     FS
	rng    *rand.Rand
	rngMu  sync.Mutex
	config ChaosConfig
	mode   atomic.Uint32

	openFails     atomic.Int64
	readFails     atomic.Int64
	partialReads  atomic.Int64
	writeFails    atomic.Int64
	statFails     atomic.Int64
	mkdirAllFails atomic.Int64
}

// NewChaos creates a new [Chaos] filesystem wrapping the given [FS].
// The seed controls random fault injection for reproducibility.
// Panics if underlying is nil.
func NewChaos(underlying FS, seed int64, config ChaosConfig) *Chaos {
	if underlying == nil {
		panic("underlying fs is nil")
	}

	return &Chaos{
		fs:     underlying,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
		config: config,
	}
}

// SetMode updates [Chaos] behavior. Safe to call concurrently with
// filesystem operations.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:     c.openFails.Load(),
		ReadFails:     c.readFails.Load(),
		PartialReads:  c.partialReads.Load(),
		WriteFails:    c.writeFails.Load(),
		StatFails:     c.statFails.Load(),
		MkdirAllFails: c.mkdirAllFails.Load(),
	}
}

// Open opens a file for reading with fault injection.
func (c *Chaos) Open(path string) (File, error) {
	if c.should(c.config.OpenFailRate) {
		c.openFails.Add(1)

		return nil, pathError("open", path, c.pickRandom(readOpenErrnos))
	}

	f, err := c.fs.Open(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, chaos: c, path: path}, nil
}

// OpenFile opens a file with the specified flags and permissions with fault injection.
func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if c.should(c.config.OpenFailRate) {
		c.openFails.Add(1)

		errnos := readOpenErrnos
		if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
			errnos = writeOpenErrnos
		}

		return nil, pathError("open", path, c.pickRandom(errnos))
	}

	f, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, chaos: c, path: path}, nil
}

// ReadFile reads a file's contents with fault injection.
func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if c.should(c.config.ReadFailRate) {
		c.readFails.Add(1)

		return nil, pathError("read", path, syscall.EIO)
	}

	data, err := c.fs.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Like os.ReadFile returning the bytes read before a later read failed.
	if len(data) > 1 && c.should(c.config.PartialReadRate) {
		c.partialReads.Add(1)

		return data[:c.randIntn(len(data)-1)+1], pathError("read", path, syscall.EIO)
	}

	return data, nil
}

// WriteFileAtomic replaces path with fault injection. An injected failure
// happens before the underlying FS is touched.
func (c *Chaos) WriteFileAtomic(path string, r io.Reader) error {
	if c.should(c.config.WriteFailRate) {
		c.writeFails.Add(1)

		return pathError("write", path, c.pickRandom(writeErrnos))
	}

	return c.fs.WriteFileAtomic(path, r)
}

// MkdirAll creates a directory and all parents with fault injection.
func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	if c.should(c.config.MkdirAllFailRate) {
		c.mkdirAllFails.Add(1)

		return pathError("mkdir", path, c.pickRandom(writeOpenErrnos))
	}

	return c.fs.MkdirAll(path, perm)
}

// Stat returns file info with fault injection.
func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if c.should(c.config.StatFailRate) {
		c.statFails.Add(1)

		return nil, pathError("stat", path, c.pickRandom(statErrnos))
	}

	return c.fs.Stat(path)
}

// Exists reports whether path exists, with fault injection.
func (c *Chaos) Exists(path string) (bool, error) {
	if c.should(c.config.StatFailRate) {
		c.statFails.Add(1)

		return false, pathError("stat", path, c.pickRandom(statErrnos))
	}

	return c.fs.Exists(path)
}

type chaosFile struct {
	File

	chaos *Chaos
	path  string
}

func (f *chaosFile) Read(p []byte) (int, error) {
	if f.chaos.should(f.chaos.config.ReadFailRate) {
		f.chaos.readFails.Add(1)

		return 0, pathError("read", f.path, syscall.EIO)
	}

	return f.File.Read(p)
}

func (f *chaosFile) Write(p []byte) (int, error) {
	if f.chaos.should(f.chaos.config.WriteFailRate) {
		f.chaos.writeFails.Add(1)

		return 0, pathError("write", f.path, f.chaos.pickRandom(writeErrnos))
	}

	return f.File.Write(p)
}

var (
	readOpenErrnos  = []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.EMFILE, syscall.ENFILE}
	writeOpenErrnos = []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.ENOSPC, syscall.EROFS}
	writeErrnos     = []syscall.Errno{syscall.EIO, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS}
	statErrnos      = []syscall.Errno{syscall.EACCES, syscall.EIO}
)

func (c *Chaos) should(rate float64) bool {
	if ChaosMode(c.mode.Load()) != ChaosModeActive || rate <= 0 {
		return false
	}

	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return c.rng.Float64() < rate
}

func (c *Chaos) randIntn(n int) int {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return c.rng.IntN(n)
}

func (c *Chaos) pickRandom(errs []syscall.Errno) syscall.Errno {
	return errs[c.randIntn(len(errs))]
}

// pathError creates an injected [*fs.PathError] wrapped so [IsChaosErr] can
// identify it.
func pathError(op, path string, errno syscall.Errno) error {
	return &chaosError{Err: &fs.PathError{Op: op, Path: path, Err: errno}}
}
