// Package recommend ranks catalog items by precomputed similarity.
//
// The Engine is a pure query layer over the immutable Catalog and Index:
// it holds no locks, performs no writes, and leaves history bookkeeping
// to its callers.
package recommend

import (
	"container/heap"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/kalambet/reelrec/internal/catalog"
)

// DefaultK is the number of recommendations returned when k <= 0.
const DefaultK = 5

var (
	// ErrNotFound is returned when the requested title is not in the catalog.
	ErrNotFound = errors.New("title not found")
	// ErrEmptyCatalog is returned by Surprise when there is nothing to pick.
	ErrEmptyCatalog = errors.New("catalog is empty")
)

// Result is an ordered top-K list. Partial is set when the catalog was too
// small to fill k slots; it is still a valid answer.
type Result struct {
	Titles  []string `json:"titles"`
	Partial bool     `json:"partial,omitempty"`
}

// Engine answers similarity queries.
type Engine struct {
	catalog *catalog.Catalog
	index   *catalog.Index
	intn    func(n int) int
}

// NewEngine creates an Engine over an aligned catalog and index.
func NewEngine(c *catalog.Catalog, x *catalog.Index) *Engine {
	return &Engine{catalog: c, index: x, intn: rand.IntN}
}

// NewEngineWithRand creates an Engine with a custom random source (for testing).
func NewEngineWithRand(c *catalog.Catalog, x *catalog.Index, intn func(n int) int) *Engine {
	return &Engine{catalog: c, index: x, intn: intn}
}

// Catalog returns the catalog the engine serves.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Recommend returns the k titles most similar to title.
//
// The row is ordered by score descending with ties broken by ascending peer
// index, the first entry (the self-match) is dropped, and the next k are kept.
// When several items share a title the first one in catalog order is used.
func (e *Engine) Recommend(title string, k int) (Result, error) {
	if k <= 0 {
		k = DefaultK
	}
	item, ok := e.catalog.Lookup(title)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrNotFound, title)
	}

	ranked := topN(e.index.Row(item.Index), k+1)
	if len(ranked) > 0 {
		ranked = ranked[1:]
	}

	titles := make([]string, len(ranked))
	for i, nb := range ranked {
		titles[i] = e.catalog.Item(nb.Index).Title
	}
	return Result{Titles: titles, Partial: len(titles) < k}, nil
}

// Surprise returns one title chosen uniformly at random.
func (e *Engine) Surprise() (string, error) {
	n := e.catalog.Len()
	if n == 0 {
		return "", ErrEmptyCatalog
	}
	return e.catalog.Item(e.intn(n)).Title, nil
}

// ranksBefore reports whether a sorts ahead of b: higher score first, then
// lower peer index.
func ranksBefore(a, b catalog.Neighbor) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Index < b.Index
}

// topN selects the n best neighbors of row in rank order. A bounded heap keeps
// the worst retained candidate at the root so the scan stays O(N log n).
func topN(row []catalog.Neighbor, n int) []catalog.Neighbor {
	if n <= 0 || len(row) == 0 {
		return nil
	}
	h := &neighborHeap{}
	for _, nb := range row {
		if h.Len() < n {
			heap.Push(h, nb)
		} else if ranksBefore(nb, (*h)[0]) {
			(*h)[0] = nb
			heap.Fix(h, 0)
		}
	}

	out := make([]catalog.Neighbor, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(catalog.Neighbor)
	}
	return out
}

// neighborHeap is a heap whose root is the lowest-ranked neighbor.
type neighborHeap []catalog.Neighbor

func (h neighborHeap) Len() int           { return len(h) }
func (h neighborHeap) Less(i, j int) bool { return ranksBefore(h[j], h[i]) }
func (h neighborHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *neighborHeap) Push(x any)        { *h = append(*h, x.(catalog.Neighbor)) }
func (h *neighborHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
