package embedding

import (
	"context"

	"github.com/poiesic/attrcat/core"
	"github.com/poiesic/attrcat/storage"
)

// Cache supplies previously computed vectors.
type Cache interface {
	// Lookup returns the vector stored for key when it was computed from text
	// with the given hash.
	Lookup(ctx context.Context, key string, textHash core.ID) ([]float32, bool)
}

// StoreCache looks vectors up in a document store.
type StoreCache struct {
	store storage.DocumentStore
}

var _ Cache = (*StoreCache)(nil)

// NewStoreCache creates a cache backed by store.
func NewStoreCache(store storage.DocumentStore) *StoreCache {
	return &StoreCache{store: store}
}

// Lookup returns the stored embedding when the stored text hash matches.
func (c *StoreCache) Lookup(ctx context.Context, key string, textHash core.ID) ([]float32, bool) {
	doc, err := c.store.Get(ctx, key)
	if err != nil || doc.TextHash != textHash || len(doc.Embedding) == 0 {
		return nil, false
	}
	return doc.Embedding, true
}
