package segment

import "errors"

// Sentinel errors returned by segment operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, segment.ErrCorruptIndex) {
//	    res, _ := segment.Repair(opts)
//	    // ...
//	}
var (
	// ErrInvalidKey indicates a key is empty or contains the ':' delimiter.
	//
	// This is a programming error.
	ErrInvalidKey = errors.New("segment: invalid key")

	// ErrOutOfBounds indicates a byte range extends past the mapped length.
	ErrOutOfBounds = errors.New("segment: out of bounds")

	// ErrGrowFailed indicates the OS refused to extend the file or remap it.
	//
	// The file may already be longer than its last valid footer. Readers keep
	// working off the previous footer only after [Repair].
	ErrGrowFailed = errors.New("segment: grow failed")

	// ErrTruncatedFooter indicates fewer than 8 footer bytes were available.
	//
	// Recovery: run [Repair].
	ErrTruncatedFooter = errors.New("segment: truncated footer")

	// ErrCorruptIndex indicates the footer or the index snapshot it points at
	// cannot be trusted: bad offsets, malformed bytes, or checksum mismatch.
	//
	// Recovery: run [Repair].
	ErrCorruptIndex = errors.New("segment: corrupt index")

	// ErrEmptySegment indicates the segment has never been written.
	ErrEmptySegment = errors.New("segment: empty")

	// ErrKeyNotFound indicates the key is not present in the current snapshot.
	ErrKeyNotFound = errors.New("segment: key not found")

	// ErrClosed indicates the [Segment] or [Region] has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("segment: closed")

	// ErrBusy indicates another process holds the writer lock.
	//
	// Recovery: retry later, or open with [Options.ReadOnly].
	ErrBusy = errors.New("segment: busy")

	// ErrReadOnly indicates a write was attempted on a read-only handle.
	ErrReadOnly = errors.New("segment: read only")

	// ErrInvalidInput indicates invalid options or arguments.
	//
	// This is a programming error.
	ErrInvalidInput = errors.New("segment: invalid input")
)

// NeedsRepair reports whether err means the trailer of the segment is damaged
// and [Repair] should be run before the segment is used again.
func NeedsRepair(err error) bool {
	return errors.Is(err, ErrCorruptIndex) || errors.Is(err, ErrTruncatedFooter)
}
