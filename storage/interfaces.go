package storage

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/poiesic/attrcat/core"
)

// Document is the stored form of a canonical entity.
type Document struct {
	Key         string            `json:"key"`
	DisplayName string            `json:"display_name"`
	Metadata    map[string]string `json:"metadata"`
	Rules       []string          `json:"rules,omitempty"`
	Provenance  []string          `json:"provenance,omitempty"`
	Embedding   []float32         `json:"embedding,omitempty"`
	TextHash    core.ID           `json:"text_hash,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NewDocument derives a document from entity. The metadata subdocument is
// rebuilt from the entity's fields and tags.
func NewDocument(entity *core.CanonicalEntity, updatedAt time.Time) *Document {
	return &Document{
		Key:         entity.Key,
		DisplayName: entity.DisplayName,
		Metadata:    entity.Metadata(),
		Rules:       slices.Clone(entity.Rules),
		Provenance:  slices.Clone(entity.Provenance),
		Embedding:   slices.Clone(entity.Embedding),
		TextHash:    entity.TextHash,
		UpdatedAt:   updatedAt,
	}
}

// Fields returns a copy of the document's projected fields.
func (d *Document) Fields() map[string]string {
	out := maps.Clone(d.Metadata)
	if out == nil {
		out = make(map[string]string, 1)
	}
	if d.DisplayName != "" {
		out[core.MetadataDisplayName] = d.DisplayName
	}
	return out
}

// SearchRequest describes one filtered nearest-neighbor query.
type SearchRequest struct {
	// Index names the ANN index to query.
	Index string

	// Vector is the query vector. Its width must equal the index dimension.
	Vector []float32

	// Limit caps the number of hits returned.
	Limit int

	// NumCandidates is the number of nearest neighbors the ANN backend
	// examines before filtering. Values below Limit are raised to Limit.
	NumCandidates int

	// Filter is applied to candidates as a hard filter. Nil matches everything.
	Filter *Filter
}

// SearchHit is one scored document.
type SearchHit struct {
	Document *Document
	Score    float32
}

// SearchResult holds the hits of a query, best first, plus how much of the
// index was examined to produce them.
type SearchResult struct {
	Hits []SearchHit

	// Candidates is the number of neighbors examined before filtering.
	Candidates int

	// IndexSize is the number of live vectors in the index.
	IndexSize int
}

// Exhaustive reports whether the query examined the whole index.
func (r *SearchResult) Exhaustive() bool {
	return r.Candidates >= r.IndexSize
}

// DocumentStore persists catalog documents and serves ANN queries over them.
// Implementations must be thread-safe and must make each Upsert atomic: a
// concurrent reader sees either the old or the new document for a key.
type DocumentStore interface {
	// CreateIndex creates a named ANN index. Returns *IndexExistsError
	// (matching ErrIndexExists) when the name is already taken.
	CreateIndex(ctx context.Context, descriptor core.IndexDescriptor) error

	// DescribeIndex returns the descriptor of the named index.
	// Returns ErrIndexNotFound if it doesn't exist.
	DescribeIndex(ctx context.Context, name string) (*core.IndexDescriptor, error)

	// ListIndexes returns the descriptors of all indexes, sorted by name.
	ListIndexes(ctx context.Context) ([]core.IndexDescriptor, error)

	// Upsert replaces the document stored under doc.Key, or inserts it.
	// Reports whether the document was newly created.
	Upsert(ctx context.Context, doc *Document) (created bool, err error)

	// Get retrieves the document stored under key.
	// Returns ErrNotFound if the document doesn't exist.
	Get(ctx context.Context, key string) (*Document, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Search runs a filtered nearest-neighbor query. Returns ErrIndexNotFound
	// if the index doesn't exist and ErrInvalidQuery for malformed requests.
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)

	// Close closes the storage backend and releases resources.
	Close() error
}
