package catalog

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return p
}

func writeMatrix(t *testing.T, dir string, rows [][]float32) string {
	t.Helper()
	var buf bytes.Buffer
	if err := WriteSimilarity(&buf, rows); err != nil {
		t.Fatalf("WriteSimilarity: %v", err)
	}
	return writeFile(t, dir, "similarity.bin", buf.Bytes())
}

func TestLoadCatalog_ArrayShape(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "movies.json", []byte(`[{"title":"Avatar"},{"title":"Up"},{"title":"Heat"}]`))

	c, err := LoadCatalog(p)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3", c.Len())
	}
	if got := c.Item(1); got.Index != 1 || got.Title != "Up" {
		t.Errorf("Item(1) = %+v, want {1 Up}", got)
	}
}

func TestLoadCatalog_ColumnShape(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "movies.json", []byte(`{"movie_id":{"0":19995,"1":285},"title":{"1":"Pirates","0":"Avatar"}}`))

	c, err := LoadCatalog(p)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	titles := c.Titles()
	if len(titles) != 2 || titles[0] != "Avatar" || titles[1] != "Pirates" {
		t.Errorf("Titles = %v, want [Avatar Pirates]", titles)
	}
}

func TestLoadCatalog_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"not json", "title,Avatar"},
		{"missing title field", `[{"name":"Avatar"}]`},
		{"empty title", `[{"title":"  "}]`},
		{"missing title column", `{"name":{"0":"Avatar"}}`},
		{"gap in positions", `{"title":{"0":"A","2":"C"}}`},
		{"non-integer position", `{"title":{"a":"A"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, t.TempDir(), "movies.json", []byte(tt.body))
			_, err := LoadCatalog(p)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestLoadCatalog_Missing(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestLookup_FirstDuplicateWins(t *testing.T) {
	c, err := New([]string{"Heat", "Up", "Heat"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	it, ok := c.Lookup("Heat")
	if !ok || it.Index != 0 {
		t.Errorf("Lookup(Heat) = %+v, %v; want index 0", it, ok)
	}
	if _, ok := c.Lookup("Alien"); ok {
		t.Error("Lookup(Alien) should miss")
	}
}

func TestSearch(t *testing.T) {
	c, _ := New([]string{"The Dark Knight", "Up", "Dark City", "Heat"})

	got := c.Search("dark", 0)
	if len(got) != 2 || got[0].Title != "The Dark Knight" || got[1].Title != "Dark City" {
		t.Errorf("Search(dark) = %v", got)
	}
	if got := c.Search("", 2); len(got) != 2 {
		t.Errorf("Search('', 2) returned %d items, want 2", len(got))
	}
}

func TestSimilarity_RoundTrip(t *testing.T) {
	rows := [][]float32{
		{1, 0.5, 0.25},
		{0.5, 1, 0},
		{0.25, 0, 1},
	}
	var buf bytes.Buffer
	if err := WriteSimilarity(&buf, rows); err != nil {
		t.Fatalf("WriteSimilarity: %v", err)
	}
	idx, err := ReadSimilarity(&buf)
	if err != nil {
		t.Fatalf("ReadSimilarity: %v", err)
	}
	if idx.Dim() != 3 {
		t.Fatalf("Dim = %d, want 3", idx.Dim())
	}
	row := idx.Row(0)
	if len(row) != 3 || row[2].Index != 2 || row[2].Score != 0.25 {
		t.Errorf("Row(0) = %v", row)
	}
	if idx.Row(5) != nil {
		t.Error("Row out of range should be nil")
	}
}

func TestReadSimilarity_Malformed(t *testing.T) {
	var good bytes.Buffer
	WriteSimilarity(&good, [][]float32{{1, 0}, {0, 1}})
	valid := good.Bytes()

	tests := []struct {
		name string
		data []byte
	}{
		{"short header", valid[:5]},
		{"bad magic", append([]byte("XXXX"), valid[4:]...)},
		{"truncated body", valid[:len(valid)-2]},
		{"trailing data", append(append([]byte{}, valid...), 0, 0, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSimilarity(bytes.NewReader(tt.data))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestNewIndex_NotSquare(t *testing.T) {
	_, err := NewIndex([][]float32{{1, 0}, {0}})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestLoad_Aligned(t *testing.T) {
	dir := t.TempDir()
	cp := writeFile(t, dir, "movies.json", []byte(`[{"title":"A"},{"title":"B"}]`))
	sp := writeMatrix(t, dir, [][]float32{{1, 0.3}, {0.3, 1}})

	cat, idx, err := Load(context.Background(), cp, sp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Len() != 2 || idx.Dim() != 2 {
		t.Errorf("Len=%d Dim=%d, want 2/2", cat.Len(), idx.Dim())
	}
}

func TestLoad_Misaligned(t *testing.T) {
	dir := t.TempDir()
	cp := writeFile(t, dir, "movies.json", []byte(`[{"title":"A"},{"title":"B"},{"title":"C"}]`))
	sp := writeMatrix(t, dir, [][]float32{{1, 0.3}, {0.3, 1}})

	_, _, err := Load(context.Background(), cp, sp)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestLoad_MissingArtifact(t *testing.T) {
	dir := t.TempDir()
	cp := writeFile(t, dir, "movies.json", []byte(`[{"title":"A"}]`))

	_, _, err := Load(context.Background(), cp, filepath.Join(dir, "missing.bin"))
	if err == nil {
		t.Fatal("expected error for missing similarity artifact")
	}
}

func TestLoadSimilarity_HeaderExceedsFile(t *testing.T) {
	hdr := append([]byte("RSIM"), 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(hdr[4:], 30000)
	p := writeFile(t, t.TempDir(), "similarity.bin", append(hdr, 0, 0, 0, 0))

	_, err := LoadSimilarity(p, -1)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
	if !strings.Contains(err.Error(), "12 bytes") {
		t.Errorf("err = %v, want the size mismatch reported", err)
	}

	// Streams have no size; the short body still fails.
	if _, err := ReadSimilarity(bytes.NewReader(append(hdr, 0, 0, 0, 0))); !errors.Is(err, ErrMalformed) {
		t.Errorf("ReadSimilarity err = %v, want ErrMalformed", err)
	}
}
