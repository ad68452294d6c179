package cli_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/segkv/internal/cli"
)

type exportedEntry struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Encoding string `json:"encoding"`
	Offset   uint64 `json:"offset"`
	Length   uint64 `json:"length"`
}

type exportedDoc struct {
	Segment        string          `json:"segment"`
	SnapshotOffset uint64          `json:"snapshot_offset"`
	Entries        []exportedEntry `json:"entries"`
}

func decodeExport(t *testing.T, data string) exportedDoc {
	t.Helper()

	var doc exportedDoc

	err := json.Unmarshal([]byte(data), &doc)
	if err != nil {
		t.Fatalf("export is not valid JSON: %v\n%s", err, data)
	}

	return doc
}

func Test_Export_Writes_Entries_In_Index_Order_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("put", "b", "two")
	c.MustRun("put", "a", "one")
	c.RunWithInput("\xff\xfe", "put", "bin", "--stdin")

	doc := decodeExport(t, c.MustRun("export"))

	want := []exportedEntry{
		{Key: "b", Value: "two", Offset: 2, Length: 3},
		{Key: "a", Value: "one", Length: 3},
		{Key: "bin", Value: "//4=", Encoding: "base64", Length: 2},
	}

	// Offsets past the first record depend on snapshot sizes; compare those
	// separately.
	got := make([]exportedEntry, len(doc.Entries))
	copy(got, doc.Entries)

	for i := 1; i < len(got); i++ {
		if got[i].Offset <= got[i-1].Offset {
			t.Errorf("entry %d offset %d not after previous %d", i, got[i].Offset, got[i-1].Offset)
		}

		got[i].Offset = 0
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("export entries mismatch (-want +got):\n%s", diff)
	}

	if got, want := doc.Segment, c.SegmentPath(); got != want {
		t.Errorf("segment=%q, want=%q", got, want)
	}
}

func Test_Export_Writes_Empty_List_When_Segment_Is_Empty(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile("segment.db", "")

	doc := decodeExport(t, c.MustRun("export"))

	if doc.Entries == nil || len(doc.Entries) != 0 {
		t.Errorf("entries=%v, want empty list", doc.Entries)
	}
}

func Test_Export_Writes_File_When_Out_Flag_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("put", "k", "v")

	stdout := c.MustRun("export", "--out", "dump/export.json", "--pretty")

	outPath := filepath.Join(c.Dir, "dump", "export.json")
	cli.AssertContains(t, stdout, "exported 1 entries to "+outPath)

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("export file missing: %v", err)
	}

	if !strings.Contains(string(data), "\n  \"entries\"") {
		t.Errorf("pretty export should be indented:\n%s", data)
	}

	doc := decodeExport(t, string(data))
	if got, want := len(doc.Entries), 1; got != want {
		t.Errorf("entries=%d, want=%d", got, want)
	}
}
