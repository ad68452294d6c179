package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"
	"unicode/utf8"
)

// Delimiter separates the key from the value inside a record.
const Delimiter = ':'

// FooterSize is the size of the trailing footer in bytes.
const FooterSize = 8

// Snapshot format constants.
//
// Layout (all integers little-endian):
//
//	magic   [4]byte "SGX1"
//	count   uint32
//	entries count * { key_len uint32, key [key_len]byte, offset uint64, length uint64 }
//	crc     uint32  CRC32-C over magic..last entry
const (
	snapshotHeaderSize  = 8
	snapshotTrailerSize = 4
	entryFixedSize      = 4 + 8 + 8
)

var snapshotMagic = []byte("SGX1")

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// IndexEntry locates the value of one key inside the segment file.
type IndexEntry struct {
	Key string

	// ValueOffset is the absolute file offset of the first value byte.
	ValueOffset uint64

	// ValueLength is the value size in bytes.
	ValueLength uint64
}

// End returns the offset one past the last value byte.
func (e IndexEntry) End() uint64 {
	return e.ValueOffset + e.ValueLength
}

// ValidateKey checks that key can be stored as a record key.
//
// Possible errors: [ErrInvalidKey].
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key is empty: %w", ErrInvalidKey)
	}

	if strings.IndexByte(key, Delimiter) >= 0 {
		return fmt.Errorf("key %q contains delimiter %q: %w", key, Delimiter, ErrInvalidKey)
	}

	if len(key) > maxKeySizeBytes {
		return fmt.Errorf("key length %d exceeds max %d: %w", len(key), maxKeySizeBytes, ErrInvalidKey)
	}

	if !utf8.ValidString(key) {
		return fmt.Errorf("key %q is not valid UTF-8: %w", key, ErrInvalidKey)
	}

	return nil
}

// EncodeRecord returns key || ':' || value.
//
// Possible errors: [ErrInvalidKey].
func EncodeRecord(key string, value []byte) ([]byte, error) {
	err := ValidateKey(key)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(key)+1+len(value))
	buf = append(buf, key...)
	buf = append(buf, Delimiter)
	buf = append(buf, value...)

	return buf, nil
}

// EncodeSnapshot serializes entries in order.
//
// Entries are expected to hold valid, unique keys. [DecodeSnapshot] rejects
// anything else, so encoding invalid entries produces an unreadable segment.
func EncodeSnapshot(entries []IndexEntry) []byte {
	size := snapshotHeaderSize + snapshotTrailerSize
	for _, e := range entries {
		size += entryFixedSize + len(e.Key)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, snapshotMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(entries)))

	for _, e := range entries {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Key)))
		buf = append(buf, e.Key...)
		buf = binary.LittleEndian.AppendUint64(buf, e.ValueOffset)
		buf = binary.LittleEndian.AppendUint64(buf, e.ValueLength)
	}

	return binary.LittleEndian.AppendUint32(buf, crc32.Checksum(buf, crcTable))
}

// DecodeSnapshot parses bytes produced by [EncodeSnapshot].
//
// The whole input must be consumed; trailing bytes are corruption.
//
// Possible errors: [ErrCorruptIndex].
func DecodeSnapshot(b []byte) ([]IndexEntry, error) {
	if len(b) < snapshotHeaderSize+snapshotTrailerSize {
		return nil, fmt.Errorf("snapshot size %d is less than minimum %d: %w", len(b), snapshotHeaderSize+snapshotTrailerSize, ErrCorruptIndex)
	}

	if !bytes.Equal(b[:4], snapshotMagic) {
		return nil, fmt.Errorf("invalid snapshot magic %q: %w", b[:4], ErrCorruptIndex)
	}

	body := b[:len(b)-snapshotTrailerSize]

	storedCRC := binary.LittleEndian.Uint32(b[len(b)-snapshotTrailerSize:])
	if crc32.Checksum(body, crcTable) != storedCRC {
		return nil, fmt.Errorf("snapshot checksum mismatch: %w", ErrCorruptIndex)
	}

	count := binary.LittleEndian.Uint32(body[4:])
	if count > maxSnapshotEntries {
		return nil, fmt.Errorf("snapshot entry count %d exceeds max %d: %w", count, maxSnapshotEntries, ErrCorruptIndex)
	}

	rest := body[snapshotHeaderSize:]

	// Every entry needs at least entryFixedSize+1 bytes.
	if uint64(count)*(entryFixedSize+1) > uint64(len(rest)) {
		return nil, fmt.Errorf("snapshot entry count %d does not fit in %d bytes: %w", count, len(rest), ErrCorruptIndex)
	}

	entries := make([]IndexEntry, 0, count)
	seen := make(map[string]struct{}, count)

	for i := range count {
		if len(rest) < 4 {
			return nil, fmt.Errorf("entry %d: truncated key length: %w", i, ErrCorruptIndex)
		}

		keyLen := uint64(binary.LittleEndian.Uint32(rest))
		rest = rest[4:]

		if keyLen+16 > uint64(len(rest)) {
			return nil, fmt.Errorf("entry %d: key length %d exceeds remaining %d bytes: %w", i, keyLen, len(rest), ErrCorruptIndex)
		}

		key := string(rest[:keyLen])
		rest = rest[keyLen:]

		keyErr := ValidateKey(key)
		if keyErr != nil {
			return nil, fmt.Errorf("entry %d: %w: %w", i, keyErr, ErrCorruptIndex)
		}

		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("entry %d: duplicate key %q: %w", i, key, ErrCorruptIndex)
		}

		seen[key] = struct{}{}

		offset := binary.LittleEndian.Uint64(rest)
		length := binary.LittleEndian.Uint64(rest[8:])
		rest = rest[16:]

		if offset > maxStoredInt || length > maxStoredInt || offset+length > maxStoredInt {
			return nil, fmt.Errorf("entry %d: offset %d length %d out of range: %w", i, offset, length, ErrCorruptIndex)
		}

		entries = append(entries, IndexEntry{Key: key, ValueOffset: offset, ValueLength: length})
	}

	if len(rest) != 0 {
		return nil, fmt.Errorf("snapshot has %d trailing bytes: %w", len(rest), ErrCorruptIndex)
	}

	return entries, nil
}

// EncodeFooter returns the little-endian encoding of the snapshot offset.
func EncodeFooter(offset uint64) [FooterSize]byte {
	var buf [FooterSize]byte

	binary.LittleEndian.PutUint64(buf[:], offset)

	return buf
}

// DecodeFooter reads the snapshot offset from the first 8 bytes of b.
//
// Possible errors: [ErrTruncatedFooter].
func DecodeFooter(b []byte) (uint64, error) {
	if len(b) < FooterSize {
		return 0, fmt.Errorf("footer has %d bytes, need %d: %w", len(b), FooterSize, ErrTruncatedFooter)
	}

	return binary.LittleEndian.Uint64(b), nil
}

// upsertEntry returns entries with e replacing the entry for the same key in
// place, or appended when the key is new. The input slice is not modified.
func upsertEntry(entries []IndexEntry, e IndexEntry) []IndexEntry {
	out := make([]IndexEntry, len(entries), len(entries)+1)
	copy(out, entries)

	for i := range out {
		if out[i].Key == e.Key {
			out[i] = e

			return out
		}
	}

	return append(out, e)
}
