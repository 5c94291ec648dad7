package store

import (
	"context"

	"github.com/elysia-go/elysiatree/internal/config"
	"github.com/elysia-go/elysiatree/internal/persistence/databases"
)

// QdrantFactory returns a Factory that builds a Client backed by Qdrant,
// one collection per (name, dimensions, metric) triple. The full-text arm
// is used only if the Qdrant vector store implements FullTextSearch; the
// current qdrantVector does not, so Search is an in-process
// databases.NewMemoryFullTextSearch() index, not backed by Qdrant.
func QdrantFactory(cfg config.StoreConfig, collection string, dimensions int, metric string) Factory {
	return func(ctx context.Context) (Client, error) {
		v, err := databases.NewQdrantVector(cfg.WCDURL, collection, dimensions, metric)
		if err != nil {
			return Client{}, err
		}
		fts, ok := v.(databases.FullTextSearch)
		if !ok {
			fts = databases.NewMemoryFullTextSearch()
		}
		return Client{Vector: v, Search: fts}, nil
	}
}
