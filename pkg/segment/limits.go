package segment

import "math"

// maxInt is the largest mapping length representable as a Go slice length.
const maxInt = int(^uint(0) >> 1)

// Hardcoded implementation limits.
//
// They keep offset arithmetic away from overflow and bound the allocations a
// corrupt snapshot header can request. Violations from callers return
// ErrInvalidInput; violations read from disk return ErrCorruptIndex.
const (
	// Maximum key length in bytes.
	maxKeySizeBytes = 64 << 10

	// Maximum number of entries in one snapshot.
	maxSnapshotEntries = 1 << 24

	// Maximum segment file size in bytes.
	maxSegmentFileSizeBytes = uint64(1) << 40 // 1 TiB

	// Largest value a stored offset or length may take before it is
	// considered negative-looking garbage.
	maxStoredInt = uint64(math.MaxInt64)
)
