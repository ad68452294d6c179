package segment

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRegion(t *testing.T) (*Region, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "region.seg")

	r, err := OpenRegion(path, RegionOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	return r, path
}

func Test_OpenRegion_Returns_Empty_Region_When_File_Is_New(t *testing.T) {
	t.Parallel()

	r, path := openTestRegion(t)

	assert.Equal(t, uint64(0), r.Len())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())

	got, err := r.Read(0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func Test_Region_GrowBy_Preserves_Bytes_And_Matches_File_Length(t *testing.T) {
	t.Parallel()

	r, path := openTestRegion(t)

	require.NoError(t, r.GrowBy(5))
	require.NoError(t, r.Write(0, []byte("hello")))

	require.NoError(t, r.GrowBy(6))
	require.NoError(t, r.Write(5, []byte(" world")))

	assert.Equal(t, uint64(11), r.Len())

	got, err := r.Read(0, r.Len())
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	require.NoError(t, r.Sync())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(r.Len()), info.Size())

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(onDisk))
}

func Test_Region_Read_Returns_Copy_That_Survives_Grow(t *testing.T) {
	t.Parallel()

	r, _ := openTestRegion(t)

	require.NoError(t, r.GrowBy(3))
	require.NoError(t, r.Write(0, []byte("abc")))

	got, err := r.Read(0, 3)
	require.NoError(t, err)

	require.NoError(t, r.GrowBy(4096))
	require.NoError(t, r.Write(0, []byte("xyz")))

	assert.Equal(t, "abc", string(got))
}

func Test_Region_Read_And_Write_Return_ErrOutOfBounds_When_Range_Exceeds_Length(t *testing.T) {
	t.Parallel()

	r, _ := openTestRegion(t)
	require.NoError(t, r.GrowBy(4))

	_, err := r.Read(0, 5)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	_, err = r.Read(3, 2)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	err = r.Write(2, []byte("abc"))
	assert.ErrorIs(t, err, ErrOutOfBounds)

	err = r.Write(^uint64(0), []byte("a"))
	assert.ErrorIs(t, err, ErrOutOfBounds)

	// Write never grows.
	assert.Equal(t, uint64(4), r.Len())
}

func Test_Region_GrowBy_Returns_ErrGrowFailed_When_Size_Exceeds_Limit(t *testing.T) {
	t.Parallel()

	r, _ := openTestRegion(t)
	require.NoError(t, r.GrowBy(1))

	err := r.GrowBy(maxSegmentFileSizeBytes)
	assert.ErrorIs(t, err, ErrGrowFailed)
	assert.Equal(t, uint64(1), r.Len())

	err = r.GrowBy(^uint64(0))
	assert.ErrorIs(t, err, ErrGrowFailed)
}

func Test_Region_Truncate_Shrinks_File_And_Mapping(t *testing.T) {
	t.Parallel()

	r, path := openTestRegion(t)

	require.NoError(t, r.GrowBy(10))
	require.NoError(t, r.Write(0, []byte("0123456789")))
	require.NoError(t, r.Truncate(4))

	assert.Equal(t, uint64(4), r.Len())

	got, err := r.Read(0, 4)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(got))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size())

	require.NoError(t, r.Truncate(0))
	assert.Equal(t, uint64(0), r.Len())

	assert.ErrorIs(t, r.Truncate(1), ErrOutOfBounds)
}

func Test_Region_Reopen_Maps_Existing_Content(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "existing.seg")
	require.NoError(t, os.WriteFile(path, []byte("persisted"), 0o600))

	r, err := OpenRegion(path, RegionOptions{ReadOnly: true})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, uint64(9), r.Len())

	got, err := r.Read(0, 9)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(got))

	assert.ErrorIs(t, r.Write(0, []byte("x")), ErrReadOnly)
	assert.ErrorIs(t, r.GrowBy(1), ErrReadOnly)
	assert.ErrorIs(t, r.Sync(), ErrReadOnly)
}

func Test_OpenRegion_Returns_NotExist_When_ReadOnly_And_File_Is_Missing(t *testing.T) {
	t.Parallel()

	_, err := OpenRegion(filepath.Join(t.TempDir(), "missing.seg"), RegionOptions{ReadOnly: true})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("OpenRegion: err=%v, want %v", err, os.ErrNotExist)
	}
}

func Test_Region_Methods_Return_ErrClosed_When_Closed(t *testing.T) {
	t.Parallel()

	r, _ := openTestRegion(t)
	require.NoError(t, r.GrowBy(8))

	require.NoError(t, r.Close())
	require.NoError(t, r.Close(), "Close must be idempotent")

	_, err := r.Read(0, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, r.Write(0, []byte("a")), ErrClosed)
	assert.ErrorIs(t, r.GrowBy(1), ErrClosed)
	assert.ErrorIs(t, r.Sync(), ErrClosed)
}
