package segment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_EncodeRecord_Returns_Key_Delimiter_Value_When_Key_Is_Valid(t *testing.T) {
	t.Parallel()

	got, err := EncodeRecord("key1", []byte("value1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("key1:value1"), got)

	// Values may contain the delimiter; only keys may not.
	got, err = EncodeRecord("k", []byte("a:b:"))
	require.NoError(t, err)
	assert.Equal(t, []byte("k:a:b:"), got)

	got, err = EncodeRecord("k", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("k:"), got)
}

func Test_EncodeRecord_Returns_ErrInvalidKey_When_Key_Is_Not_Storable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
	}{
		{name: "empty", key: ""},
		{name: "delimiter only", key: ":"},
		{name: "delimiter inside", key: "a:b"},
		{name: "invalid utf8", key: "\xff\xfe"},
		{name: "too long", key: string(bytes.Repeat([]byte("k"), maxKeySizeBytes+1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := EncodeRecord(tt.key, []byte("v"))
			if !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("EncodeRecord(%q): err=%v, want %v", tt.key, err, ErrInvalidKey)
			}
		})
	}
}

func Test_EncodeSnapshot_Roundtrips_Exactly_When_Given_Various_Entries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []IndexEntry
	}{
		{name: "empty", entries: []IndexEntry{}},
		{name: "single", entries: []IndexEntry{{Key: "key1", ValueOffset: 5, ValueLength: 6}}},
		{
			name: "order preserved",
			entries: []IndexEntry{
				{Key: "zeta", ValueOffset: 100, ValueLength: 1},
				{Key: "alpha", ValueOffset: 6, ValueLength: 0},
				{Key: "ключ", ValueOffset: 300, ValueLength: 42},
			},
		},
		{
			name:    "max stored integers",
			entries: []IndexEntry{{Key: "big", ValueOffset: maxStoredInt - 10, ValueLength: 10}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := DecodeSnapshot(EncodeSnapshot(tt.entries))
			require.NoError(t, err)

			if diff := cmp.Diff(tt.entries, got); diff != "" {
				t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func Test_DecodeSnapshot_Returns_ErrCorruptIndex_When_Bytes_Are_Malformed(t *testing.T) {
	t.Parallel()

	valid := EncodeSnapshot([]IndexEntry{
		{Key: "key1", ValueOffset: 5, ValueLength: 6},
		{Key: "key2", ValueOffset: 40, ValueLength: 6},
	})

	// withCRC rewrites the trailing checksum so the structural checks are
	// what rejects the input.
	withCRC := func(body []byte) []byte {
		out := append([]byte{}, body...)

		return binary.LittleEndian.AppendUint32(out, crc32.Checksum(out, crcTable))
	}

	body := valid[:len(valid)-snapshotTrailerSize]

	dupBody := append([]byte{}, body...)
	copy(dupBody[bytes.Index(dupBody, []byte("key2")):], "key1")

	hugeCount := append([]byte{}, body...)
	binary.LittleEndian.PutUint32(hugeCount[4:], 1_000_000)

	negativeLen := append([]byte{}, snapshotMagic...)
	negativeLen = binary.LittleEndian.AppendUint32(negativeLen, 1)
	negativeLen = binary.LittleEndian.AppendUint32(negativeLen, 1)
	negativeLen = append(negativeLen, 'k')
	negativeLen = binary.LittleEndian.AppendUint64(negativeLen, 2)
	negativeLen = binary.LittleEndian.AppendUint64(negativeLen, 1<<63)
	negativeLen = withCRC(negativeLen)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "nil", data: nil},
		{name: "too short", data: valid[:snapshotHeaderSize]},
		{name: "truncated", data: valid[:len(valid)-1]},
		{name: "missing last byte of entry", data: withCRC(body[:len(body)-1])},
		{name: "bad magic", data: withCRC(append([]byte("XXXX"), body[4:]...))},
		{name: "flipped bit", data: flipBit(valid, 10)},
		{name: "trailing bytes", data: withCRC(append(append([]byte{}, body...), 0))},
		{name: "duplicate key", data: withCRC(dupBody)},
		{name: "count exceeds data", data: withCRC(hugeCount)},
		{name: "negative looking length", data: negativeLen},
		{name: "invalid key", data: withCRC(bytes.Replace(append([]byte{}, body...), []byte("key1"), []byte("ke:1"), 1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := DecodeSnapshot(tt.data)
			if !errors.Is(err, ErrCorruptIndex) {
				t.Fatalf("DecodeSnapshot: err=%v, want %v", err, ErrCorruptIndex)
			}
		})
	}
}

func Test_EncodeFooter_Roundtrips_When_Given_Offsets(t *testing.T) {
	t.Parallel()

	for _, off := range []uint64{0, 1, 255, 1 << 32, maxStoredInt} {
		footer := EncodeFooter(off)

		got, err := DecodeFooter(footer[:])
		require.NoError(t, err)
		assert.Equal(t, off, got)
	}

	footer := EncodeFooter(0x0102030405060708)
	assert.Equal(t, [FooterSize]byte{8, 7, 6, 5, 4, 3, 2, 1}, footer, "footer must be little-endian")
}

func Test_DecodeFooter_Returns_ErrTruncatedFooter_When_Fewer_Than_8_Bytes(t *testing.T) {
	t.Parallel()

	for n := range FooterSize {
		_, err := DecodeFooter(make([]byte, n))
		if !errors.Is(err, ErrTruncatedFooter) {
			t.Fatalf("DecodeFooter(%d bytes): err=%v, want %v", n, err, ErrTruncatedFooter)
		}
	}
}

func Test_UpsertEntry_Keeps_Position_When_Key_Exists(t *testing.T) {
	t.Parallel()

	entries := []IndexEntry{
		{Key: "a", ValueOffset: 2, ValueLength: 1},
		{Key: "b", ValueOffset: 10, ValueLength: 1},
	}

	got := upsertEntry(entries, IndexEntry{Key: "a", ValueOffset: 30, ValueLength: 5})
	want := []IndexEntry{
		{Key: "a", ValueOffset: 30, ValueLength: 5},
		{Key: "b", ValueOffset: 10, ValueLength: 1},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("upsert mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, uint64(2), entries[0].ValueOffset, "input must not be modified")

	got = upsertEntry(entries, IndexEntry{Key: "c", ValueOffset: 40, ValueLength: 2})
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[2].Key)
}

func FuzzDecodeSnapshot(f *testing.F) {
	f.Add(EncodeSnapshot(nil))
	f.Add(EncodeSnapshot([]IndexEntry{{Key: "key1", ValueOffset: 5, ValueLength: 6}}))
	f.Add([]byte("SGX1\xff\xff\xff\xff"))

	f.Fuzz(func(t *testing.T, data []byte) {
		entries, err := DecodeSnapshot(data)
		if err != nil {
			if !errors.Is(err, ErrCorruptIndex) {
				t.Fatalf("DecodeSnapshot: err=%v, want %v", err, ErrCorruptIndex)
			}

			return
		}

		// Anything accepted must re-encode to the same bytes.
		if !bytes.Equal(EncodeSnapshot(entries), data) {
			t.Fatalf("re-encode mismatch for %d entries", len(entries))
		}
	})
}

func flipBit(b []byte, at int) []byte {
	out := append([]byte{}, b...)
	out[at] ^= 0x01

	return out
}
