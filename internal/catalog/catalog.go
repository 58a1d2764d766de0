// Package catalog loads the immutable movie catalog and its precomputed
// similarity matrix. Both are read once at startup and never mutated.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// ErrMalformed is returned when an artifact cannot be decoded or fails validation.
var ErrMalformed = errors.New("malformed artifact")

// Item is a single recommendable entry. Index is its row/column in the Index.
type Item struct {
	Index int    `json:"index"`
	Title string `json:"title"`
}

// Catalog is an ordered, read-only list of items.
type Catalog struct {
	items   []Item
	byTitle map[string]int // title -> first index in catalog order
}

// New builds a Catalog from titles in positional order.
func New(titles []string) (*Catalog, error) {
	c := &Catalog{
		items:   make([]Item, len(titles)),
		byTitle: make(map[string]int, len(titles)),
	}
	for i, t := range titles {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: empty title at index %d", ErrMalformed, i)
		}
		c.items[i] = Item{Index: i, Title: t}
		if _, dup := c.byTitle[t]; !dup {
			c.byTitle[t] = i
		}
	}
	return c, nil
}

// LoadCatalog reads the catalog artifact at path.
//
// Two JSON shapes are accepted: an array of {"title": ...} objects, or a
// column-oriented object {"title": {"0": ..., "1": ...}} whose keys are
// positional indices 0..N-1.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	titles, err := decodeTitles(data)
	if err != nil {
		return nil, fmt.Errorf("decoding catalog %s: %w", path, err)
	}
	return New(titles)
}

func decodeTitles(data []byte) ([]string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformed)
	}

	switch data[0] {
	case '[':
		var rows []struct {
			Title *string `json:"title"`
		}
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		titles := make([]string, len(rows))
		for i, r := range rows {
			if r.Title == nil {
				return nil, fmt.Errorf("%w: row %d has no title", ErrMalformed, i)
			}
			titles[i] = *r.Title
		}
		return titles, nil

	case '{':
		var cols map[string]json.RawMessage
		if err := json.Unmarshal(data, &cols); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		raw, ok := cols["title"]
		if !ok {
			return nil, fmt.Errorf("%w: missing title column", ErrMalformed)
		}
		var byPos map[string]string
		if err := json.Unmarshal(raw, &byPos); err != nil {
			return nil, fmt.Errorf("%w: title column: %v", ErrMalformed, err)
		}
		return positionalTitles(byPos)
	}

	return nil, fmt.Errorf("%w: expected JSON array or object", ErrMalformed)
}

// positionalTitles orders a {"<pos>": title} map and checks positions are dense.
func positionalTitles(byPos map[string]string) ([]string, error) {
	positions := make([]int, 0, len(byPos))
	for k := range byPos {
		p, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("%w: non-integer position %q", ErrMalformed, k)
		}
		positions = append(positions, p)
	}
	sort.Ints(positions)

	titles := make([]string, len(positions))
	for i, p := range positions {
		if p != i {
			return nil, fmt.Errorf("%w: positions are not contiguous at %d", ErrMalformed, i)
		}
		titles[i] = byPos[strconv.Itoa(p)]
	}
	return titles, nil
}

// Len returns the number of items.
func (c *Catalog) Len() int { return len(c.items) }

// Item returns the item at index i. It panics if i is out of range.
func (c *Catalog) Item(i int) Item { return c.items[i] }

// Lookup resolves a title to its item. When titles repeat, the first item
// in catalog order wins.
func (c *Catalog) Lookup(title string) (Item, bool) {
	i, ok := c.byTitle[title]
	if !ok {
		return Item{}, false
	}
	return c.items[i], true
}

// Titles returns all titles in catalog order.
func (c *Catalog) Titles() []string {
	out := make([]string, len(c.items))
	for i, it := range c.items {
		out[i] = it.Title
	}
	return out
}

// Search returns up to limit items whose title contains query
// (case-insensitive), in catalog order. An empty query matches everything.
func (c *Catalog) Search(query string, limit int) []Item {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Item
	for _, it := range c.items {
		if limit > 0 && len(out) >= limit {
			break
		}
		if q == "" || strings.Contains(strings.ToLower(it.Title), q) {
			out = append(out, it)
		}
	}
	return out
}
