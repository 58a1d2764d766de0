package catalog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// simMagic prefixes every similarity artifact.
var simMagic = [4]byte{'R', 'S', 'I', 'M'}

// maxDim caps the header dimension at a 4 GiB body. Memory is still only
// committed as score rows actually arrive.
const maxDim = 1 << 15

// Neighbor is one (peer, score) pair of a similarity row.
type Neighbor struct {
	Index int
	Score float32
}

// Index is a dense, row-major N×N similarity matrix aligned with a Catalog.
type Index struct {
	n      int
	scores []float32
}

// NewIndex builds an Index from square rows.
func NewIndex(rows [][]float32) (*Index, error) {
	n := len(rows)
	idx := &Index{n: n, scores: make([]float32, 0, n*n)}
	for i, r := range rows {
		if len(r) != n {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrMalformed, i, len(r), n)
		}
		for j, s := range r {
			if math.IsNaN(float64(s)) {
				return nil, fmt.Errorf("%w: NaN score at (%d,%d)", ErrMalformed, i, j)
			}
		}
		idx.scores = append(idx.scores, r...)
	}
	return idx, nil
}

// Dim returns N.
func (x *Index) Dim() int { return x.n }

// Row returns the similarity row for item i as (peer, score) pairs in peer order.
func (x *Index) Row(i int) []Neighbor {
	if i < 0 || i >= x.n {
		return nil
	}
	base := i * x.n
	row := make([]Neighbor, x.n)
	for j := range row {
		row[j] = Neighbor{Index: j, Score: x.scores[base+j]}
	}
	return row
}

// Score returns the similarity between items i and j.
func (x *Index) Score(i, j int) float32 {
	return x.scores[i*x.n+j]
}

// LoadSimilarity reads the binary similarity artifact at path and checks that
// its dimension equals want. Pass want < 0 to skip the check.
//
// Layout: magic "RSIM", uint32 LE dimension N, then N*N float32 LE row-major.
func LoadSimilarity(path string, want int) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening similarity %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("opening similarity %s: %w", path, err)
	}
	idx, err := readSimilarity(bufio.NewReader(f), info.Size())
	if err != nil {
		return nil, fmt.Errorf("decoding similarity %s: %w", path, err)
	}
	if want >= 0 && idx.n != want {
		return nil, fmt.Errorf("%w: similarity dimension %d does not match catalog size %d", ErrMalformed, idx.n, want)
	}
	return idx, nil
}

// ReadSimilarity decodes a similarity matrix from r.
func ReadSimilarity(r io.Reader) (*Index, error) {
	return readSimilarity(r, -1)
}

// readSimilarity decodes from r. A non-negative size is the total input
// length and must match the header before any score is read.
func readSimilarity(r io.Reader, size int64) (*Index, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrMalformed, err)
	}
	if [4]byte(hdr[:4]) != simMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrMalformed, hdr[:4])
	}
	n := int(binary.LittleEndian.Uint32(hdr[4:]))
	if n > maxDim {
		return nil, fmt.Errorf("%w: dimension %d exceeds limit %d", ErrMalformed, n, maxDim)
	}
	if want := int64(len(hdr)) + int64(n)*int64(n)*4; size >= 0 && size != want {
		return nil, fmt.Errorf("%w: %d bytes for a %d×%d matrix, want %d", ErrMalformed, size, n, n, want)
	}

	// Row at a time, so a short stream fails before the full matrix is allocated.
	row := make([]byte, n*4)
	var scores []float32
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, row); err != nil {
			return nil, fmt.Errorf("%w: reading %d×%d scores: row %d: %v", ErrMalformed, n, n, i, err)
		}
		vals, err := decodeFloat32s(row)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		for j, v := range vals {
			if math.IsNaN(float64(v)) {
				return nil, fmt.Errorf("%w: NaN score at (%d,%d)", ErrMalformed, i, j)
			}
		}
		scores = append(scores, vals...)
	}
	// Trailing bytes mean the header lied about the dimension.
	if extra, _ := r.Read(make([]byte, 1)); extra > 0 {
		return nil, fmt.Errorf("%w: trailing data after %d×%d matrix", ErrMalformed, n, n)
	}
	return &Index{n: n, scores: scores}, nil
}

// WriteSimilarity encodes a square matrix in the artifact layout.
func WriteSimilarity(w io.Writer, rows [][]float32) error {
	idx, err := NewIndex(rows)
	if err != nil {
		return err
	}
	var hdr [8]byte
	copy(hdr[:4], simMagic[:])
	binary.LittleEndian.PutUint32(hdr[4:], uint32(idx.n))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(encodeFloat32s(idx.scores))
	return err
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
