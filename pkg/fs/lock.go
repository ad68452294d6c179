package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock is returned when a lock is held elsewhere and could not be
	// acquired within the allowed wait.
	ErrWouldBlock = errors.New("lock would block")

	// ErrInvalidTimeout is returned by [Locker.LockWithTimeout] for timeouts <= 0.
	ErrInvalidTimeout = errors.New("invalid lock timeout")

	// errInodeMismatch means the lock file was replaced between open and
	// flock. Callers retry with a fresh descriptor.
	errInodeMismatch = errors.New("inode mismatch")
)

// Locker takes exclusive advisory locks (flock(2)) on dedicated lock files.
//
// flock applies to an inode, not a pathname. After locking, Locker checks
// that the locked descriptor still refers to the file at path and retries if
// the file was replaced in between. Lock files must not be replaced or
// unlinked while held.
//
// This implementation is Unix-only. Locker is safe for concurrent use.
type Locker struct {
	fs    FS
	flock func(fd int, how int) error
}

// NewLocker creates a Locker that opens lock files through fs.
func NewLocker(fs FS) *Locker {
	return &Locker{
		fs:    fs,
		flock: unix.Flock,
	}
}

// Lock is a held exclusive lock. Call [Lock.Close] to release it.
type Lock struct {
	mu    sync.Mutex
	file  File
	flock func(fd int, how int) error
}

// Close unlocks and closes the lock file descriptor. It is idempotent.
//
// If both unlocking and closing fail, the returned error wraps both.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	fd := int(lk.file.Fd())

	unlockErr := flockRetryEINTR(lk.flock, fd, unix.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlocking lock: %w", unlockErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("closing lock fd: %w", closeErr)
	}

	return errors.Join(unlockErr, closeErr)
}

// TryLock acquires the lock at path without waiting. The file and its parent
// directories are created if missing.
//
// Returns [ErrWouldBlock] if another descriptor holds the lock.
func (l *Locker) TryLock(path string) (*Lock, error) {
	return l.lockPolling(path, 0)
}

// LockWithTimeout polls for the lock at path with backoff until timeout.
//
// Returns [ErrWouldBlock] when the timeout expires and [ErrInvalidTimeout]
// for timeout <= 0.
func (l *Locker) LockWithTimeout(path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimeout, timeout)
	}

	return l.lockPolling(path, timeout)
}

const maxPollBackoff = 25 * time.Millisecond

// lockPolling tries once when timeout is 0, otherwise retries until timeout.
func (l *Locker) lockPolling(path string, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	backoff := time.Millisecond

	for {
		file, err := l.openLockFile(path)
		if err != nil {
			return nil, fmt.Errorf("opening lockfile: %w", err)
		}

		err = l.acquire(file, path)
		if err == nil {
			return &Lock{file: file, flock: l.flock}, nil
		}

		_ = file.Close()

		if !errors.Is(err, ErrWouldBlock) && !errors.Is(err, errInodeMismatch) {
			return nil, err
		}

		remaining := time.Until(deadline)
		if timeout == 0 || remaining <= 0 {
			if timeout > 0 {
				return nil, fmt.Errorf("%w: timed out after %s", ErrWouldBlock, timeout)
			}

			return nil, ErrWouldBlock
		}

		time.Sleep(min(backoff, remaining))

		backoff = min(backoff*2, maxPollBackoff)
	}
}

// acquire flocks file non-blocking and verifies it is still the file at path.
// On failure the file is unlocked but not closed.
func (l *Locker) acquire(file File, path string) error {
	fd := int(file.Fd())

	err := flockRetryEINTR(l.flock, fd, unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return ErrWouldBlock
		}

		return fmt.Errorf("flock: %w", err)
	}

	match, err := l.inodeMatchesPath(path, file)
	if err != nil || !match {
		_ = flockRetryEINTR(l.flock, fd, unix.LOCK_UN)

		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("verifying inode match: %w", err)
		}

		return errInodeMismatch
	}

	return nil
}

const (
	lockFilePerm = 0o600
	lockDirPerm  = 0o755
)

func (l *Locker) openLockFile(path string) (File, error) {
	f, err := l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	err = l.fs.MkdirAll(filepath.Dir(path), lockDirPerm)
	if err != nil {
		return nil, err
	}

	return l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
}

// inodeMatchesPath compares (dev, ino) of the open descriptor with the file
// currently at path.
func (l *Locker) inodeMatchesPath(path string, f File) (bool, error) {
	openInfo, err := f.Stat()
	if err != nil {
		return false, err
	}

	openSys, ok := openInfo.Sys().(*syscall.Stat_t)
	if !ok || openSys == nil {
		return false, fmt.Errorf("file.Stat Sys=%T, want *syscall.Stat_t", openInfo.Sys())
	}

	pathInfo, err := l.fs.Stat(path)
	if err != nil {
		return false, err
	}

	pathSys, ok := pathInfo.Sys().(*syscall.Stat_t)
	if !ok || pathSys == nil {
		return false, fmt.Errorf("fs.Stat Sys=%T, want *syscall.Stat_t", pathInfo.Sys())
	}

	return openSys.Dev == pathSys.Dev && openSys.Ino == pathSys.Ino, nil
}

// flockRetryEINTR retries flock when a signal interrupts it, up to a cap.
func flockRetryEINTR(flock func(fd int, how int) error, fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error
	for range maxEINTRRetries {
		err = flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
