// Package fs provides the small filesystem surface segkv needs outside the
// mapped segment itself: lock files, config files and atomic exports.
//
// The main types are:
//   - [FS]: interface for filesystem operations
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using [os]
//   - [Locker]: flock-based exclusive locks on lock files
package fs

import (
	"io"
	"os"
)

// File represents an OS-backed open file descriptor.
//
// Implementations must behave like [os.File]; in particular [File.Fd] must
// return a real descriptor usable with flock until the file is closed.
type File interface {
	io.ReadWriteCloser

	// Fd returns the file descriptor. See [os.File.Fd].
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)
}

// FS defines the filesystem operations used by segkv.
//
// Paths use OS semantics, like the os package.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// OpenFile opens a file with flags and permissions. See [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadFile reads an entire file. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic replaces path with the contents of r, so readers see
	// either the old or the new file, never a partial one.
	WriteFileAtomic(path string, r io.Reader) error

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether path exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)
}

// Compile-time interface checks.
var (
	_ File = (*os.File)(nil)
	_ FS   = (*Real)(nil)
	_ FS   = (*Chaos)(nil)
)
