package catalog

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Load reads the catalog and similarity artifacts concurrently and verifies
// they are aligned. Any failure is fatal for the caller: there is no
// degraded mode.
func Load(ctx context.Context, catalogPath, similarityPath string) (*Catalog, *Index, error) {
	var (
		cat *Catalog
		idx *Index
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := LoadCatalog(catalogPath)
		if err != nil {
			return err
		}
		cat = c
		return gCtx.Err()
	})
	g.Go(func() error {
		x, err := LoadSimilarity(similarityPath, -1)
		if err != nil {
			return err
		}
		idx = x
		return gCtx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if idx.Dim() != cat.Len() {
		return nil, nil, fmt.Errorf("%w: similarity dimension %d does not match catalog size %d", ErrMalformed, idx.Dim(), cat.Len())
	}
	return cat, idx, nil
}
