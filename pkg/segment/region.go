package segment

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// RegionOptions configures [OpenRegion].
type RegionOptions struct {
	// ReadOnly opens the file O_RDONLY and maps it PROT_READ.
	// The file must already exist. Write, GrowBy and Sync return [ErrReadOnly].
	ReadOnly bool
}

// Region is one growable shared memory mapping of one file.
//
// The mapped length always equals the file length. [Region.GrowBy] is the
// only way the region becomes larger; it replaces the mapping, so byte slices
// obtained before a grow must not be used after it. [Region.Read] returns
// copies for that reason.
//
// Region is not safe for concurrent use. [Segment] serializes access.
type Region struct {
	fd       int
	data     []byte // nil while the file is empty
	size     uint64
	readOnly bool
	closed   bool
}

// OpenRegion opens (creating if absent, unless read-only) the file at path and
// maps its current length. A zero-length file yields an empty, unmapped
// region; the first [Region.GrowBy] creates the mapping.
//
// Possible errors:
//   - [ErrInvalidInput]: empty path, file larger than supported
//   - syscall errors: open, fstat, mmap
func OpenRegion(path string, opts RegionOptions) (*Region, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required: %w", ErrInvalidInput)
	}

	flags := unix.O_RDWR | unix.O_CREAT | unix.O_CLOEXEC
	if opts.ReadOnly {
		flags = unix.O_RDONLY | unix.O_CLOEXEC
	}

	fd, err := unix.Open(path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	var stat unix.Stat_t

	err = unix.Fstat(fd, &stat)
	if err != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("stat file: %w", err)
	}

	if stat.Size < 0 || uint64(stat.Size) > maxSegmentFileSizeBytes {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("file size %d exceeds max segment size %d: %w", stat.Size, maxSegmentFileSizeBytes, ErrInvalidInput)
	}

	r := &Region{
		fd:       fd,
		size:     uint64(stat.Size),
		readOnly: opts.ReadOnly,
	}

	if r.size > 0 {
		r.data, err = r.mmap(r.size)
		if err != nil {
			_ = unix.Close(fd)

			return nil, err
		}
	}

	return r, nil
}

// Len returns the current mapped length, which equals the file length.
func (r *Region) Len() uint64 {
	return r.size
}

// Read returns a copy of the bytes in [start, end).
//
// Possible errors: [ErrClosed], [ErrOutOfBounds].
func (r *Region) Read(start, end uint64) ([]byte, error) {
	view, err := r.slice(start, end)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(view))
	copy(out, view)

	return out, nil
}

// Write copies b into the region at start. The range must already lie inside
// [Region.Len]; Write never grows the region.
//
// Possible errors: [ErrClosed], [ErrReadOnly], [ErrOutOfBounds].
func (r *Region) Write(start uint64, b []byte) error {
	if r.readOnly {
		return ErrReadOnly
	}

	end := start + uint64(len(b))
	if end < start {
		return fmt.Errorf("write at %d of %d bytes overflows: %w", start, len(b), ErrOutOfBounds)
	}

	view, err := r.slice(start, end)
	if err != nil {
		return err
	}

	copy(view, b)

	return nil
}

// GrowBy extends the file by additional bytes and replaces the mapping with
// one covering the new length. Existing bytes are preserved; new bytes read
// as zero. The mapping may move.
//
// If remapping fails the file is shrunk back to its previous length so the
// mapped length keeps matching the file length.
//
// Possible errors: [ErrClosed], [ErrReadOnly], [ErrGrowFailed].
func (r *Region) GrowBy(additional uint64) error {
	if r.closed {
		return ErrClosed
	}

	if r.readOnly {
		return ErrReadOnly
	}

	if additional == 0 {
		return nil
	}

	newSize := r.size + additional
	if newSize < r.size || newSize > maxSegmentFileSizeBytes {
		return fmt.Errorf("grow by %d from %d exceeds max segment size %d: %w", additional, r.size, maxSegmentFileSizeBytes, ErrGrowFailed)
	}

	err := unix.Ftruncate(r.fd, int64(newSize))
	if err != nil {
		return fmt.Errorf("ftruncate to %d: %w: %w", newSize, err, ErrGrowFailed)
	}

	// Map the new length before dropping the old mapping so a failure leaves
	// the region usable at its previous size.
	data, err := r.mmap(newSize)
	if err != nil {
		truncErr := unix.Ftruncate(r.fd, int64(r.size))
		if truncErr != nil {
			truncErr = fmt.Errorf("restore size %d: %w", r.size, truncErr)
		}

		return errors.Join(fmt.Errorf("remap to %d: %w: %w", newSize, err, ErrGrowFailed), truncErr)
	}

	if r.data != nil {
		_ = unix.Munmap(r.data)
	}

	r.data = data
	r.size = newSize

	return nil
}

// Sync flushes dirty mapped pages and the file length to stable storage.
// Every byte written before a successful Sync is durable.
//
// Possible errors: [ErrClosed], [ErrReadOnly], syscall errors (msync, fsync).
func (r *Region) Sync() error {
	if r.closed {
		return ErrClosed
	}

	if r.readOnly {
		return ErrReadOnly
	}

	if r.data != nil {
		err := unix.Msync(r.data, unix.MS_SYNC)
		if err != nil {
			return fmt.Errorf("msync: %w", err)
		}
	}

	// msync does not cover the inode; the size changed in GrowBy must be
	// flushed too.
	err := unix.Fsync(r.fd)
	if err != nil {
		return fmt.Errorf("fsync: %w", err)
	}

	return nil
}

// Truncate shrinks the file and the mapping to size. Used by [Repair] only;
// the append path never shrinks.
//
// Possible errors: [ErrClosed], [ErrReadOnly], [ErrOutOfBounds], syscall errors.
func (r *Region) Truncate(size uint64) error {
	if r.closed {
		return ErrClosed
	}

	if r.readOnly {
		return ErrReadOnly
	}

	if size > r.size {
		return fmt.Errorf("truncate to %d beyond length %d: %w", size, r.size, ErrOutOfBounds)
	}

	if size == r.size {
		return nil
	}

	if r.data != nil {
		_ = unix.Munmap(r.data)
		r.data = nil
	}

	err := unix.Ftruncate(r.fd, int64(size))
	if err != nil {
		// The file kept its old length; map it again so Len stays truthful.
		data, mapErr := r.mmap(r.size)
		if mapErr == nil {
			r.data = data
		}

		return errors.Join(fmt.Errorf("ftruncate to %d: %w", size, err), mapErr)
	}

	r.size = size

	if size > 0 {
		r.data, err = r.mmap(size)
		if err != nil {
			return err
		}
	}

	return nil
}

// Close unmaps the region and closes the file. Close is idempotent.
func (r *Region) Close() error {
	if r.closed {
		return nil
	}

	r.closed = true

	var unmapErr error
	if r.data != nil {
		unmapErr = unix.Munmap(r.data)
		r.data = nil
	}

	closeErr := unix.Close(r.fd)
	r.fd = -1

	if unmapErr != nil {
		unmapErr = fmt.Errorf("munmap: %w", unmapErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("close: %w", closeErr)
	}

	return errors.Join(unmapErr, closeErr)
}

// slice returns the live mapping for [start, end). The result aliases the
// mapping and is invalid after the next GrowBy, Truncate or Close.
func (r *Region) slice(start, end uint64) ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}

	if start > end || end > r.size {
		return nil, fmt.Errorf("range [%d, %d) outside length %d: %w", start, end, r.size, ErrOutOfBounds)
	}

	if start == end {
		return []byte{}, nil
	}

	return r.data[start:end], nil
}

func (r *Region) mmap(size uint64) ([]byte, error) {
	if size > uint64(maxInt) {
		return nil, fmt.Errorf("mapping size %d exceeds max int: %w", size, ErrInvalidInput)
	}

	prot := unix.PROT_READ | unix.PROT_WRITE
	if r.readOnly {
		prot = unix.PROT_READ
	}

	data, err := unix.Mmap(r.fd, 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}

	return data, nil
}
