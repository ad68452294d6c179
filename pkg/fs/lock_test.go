package fs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func Test_Locker_TryLock_Returns_ErrWouldBlock_When_Path_Is_Locked(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "seg.lock")

	lock1, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock(%q): %v", path, err)
	}
	t.Cleanup(func() { _ = lock1.Close() })

	lock2, err := locker.TryLock(path)
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("TryLock(%q) while locked: err=%v, want %v", path, err, ErrWouldBlock)
	}
	if lock2 != nil {
		_ = lock2.Close()
		t.Fatalf("TryLock(%q) while locked: want lock=nil, got non-nil", path)
	}

	if err := lock1.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}

	lock3, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock(%q) after release: %v", path, err)
	}
	if err := lock3.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}
}

func Test_Locker_TryLock_Creates_Parent_Directories_When_Missing(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "a", "b", "seg.lock")

	lock, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock(%q): %v", path, err)
	}
	defer lock.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file not created: %v", err)
	}
}

func Test_Locker_LockWithTimeout_Returns_ErrWouldBlock_When_Path_Is_Locked(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "seg.lock")

	lock1, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock(%q): %v", path, err)
	}
	defer lock1.Close()

	_, err = locker.LockWithTimeout(path, 50*time.Millisecond)
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("LockWithTimeout(%q): err=%v, want %v", path, err, ErrWouldBlock)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("LockWithTimeout(%q): err=%q, want substring %q", path, err.Error(), "timed out")
	}
}

func Test_Locker_LockWithTimeout_Succeeds_When_Lock_Is_Released_While_Waiting(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "seg.lock")

	lock1, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock(%q): %v", path, err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = lock1.Close()
	}()

	lock2, err := locker.LockWithTimeout(path, 5*time.Second)
	if err != nil {
		t.Fatalf("LockWithTimeout(%q): %v", path, err)
	}
	_ = lock2.Close()
}

func Test_Locker_LockWithTimeout_Returns_Error_When_Timeout_Is_Non_Positive(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "seg.lock")

	_, err := locker.LockWithTimeout(path, 0)
	if !errors.Is(err, ErrInvalidTimeout) {
		t.Fatalf("LockWithTimeout(%q, 0): err=%v, want %v", path, err, ErrInvalidTimeout)
	}
}

func Test_Lock_Close_Is_Idempotent(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "seg.lock")

	lock, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock(%q): %v", path, err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("Close() #1: %v", err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("Close() #2: %v", err)
	}
}

func Test_Locker_TryLock_Returns_ErrWouldBlock_When_Flock_WouldBlock(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	locker.flock = func(_ int, how int) error {
		if how&syscall.LOCK_NB != 0 {
			return syscall.EWOULDBLOCK
		}

		return nil
	}

	path := filepath.Join(t.TempDir(), "seg.lock")

	_, err := locker.TryLock(path)
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("TryLock(%q): err=%v, want %v", path, err, ErrWouldBlock)
	}
}

func Test_Locker_TryLock_Retries_Flock_When_Interrupted(t *testing.T) {
	t.Parallel()

	calls := 0

	locker := NewLocker(NewReal())
	locker.flock = func(_ int, how int) error {
		if how&syscall.LOCK_EX != 0 {
			calls++
			if calls < 3 {
				return syscall.EINTR
			}
		}

		return nil
	}

	path := filepath.Join(t.TempDir(), "seg.lock")

	lock, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock(%q): %v", path, err)
	}
	defer lock.Close()

	if calls != 3 {
		t.Fatalf("flock calls=%d, want 3", calls)
	}
}
