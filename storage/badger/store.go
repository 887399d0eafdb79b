package badger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/attrcat/core"
	"github.com/poiesic/attrcat/storage"
)

const lockStripes = 64

// Store implements storage.DocumentStore on BadgerDB. Documents and index
// descriptors are persisted; the HNSW graphs live in memory and are rebuilt
// from the stored documents on open.
type Store struct {
	backend *Backend
	logger  *slog.Logger

	// mu guards the index set. Upserts and searches hold it for reading,
	// CreateIndex holds it for writing while it populates a new graph.
	mu      sync.RWMutex
	indexes map[string]*vectorIndex

	stripes [lockStripes]sync.Mutex
}

var _ storage.DocumentStore = (*Store)(nil)

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	inMemory bool
	logger   *slog.Logger
}

// WithInMemory keeps the database in memory. The path is ignored.
func WithInMemory() Option {
	return func(o *storeOptions) {
		o.inMemory = true
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *storeOptions) {
		o.logger = logger
	}
}

// NewStore opens (or creates) a document store at path.
//
// Returns storage.DocumentStore interface (not *Store) to enforce abstraction.
func NewStore(path string, opts ...Option) (storage.DocumentStore, error) {
	return newStore(path, opts...)
}

func newStore(path string, opts ...Option) (*Store, error) {
	o := &storeOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	backend, err := OpenBackend(path, o.inMemory, o.logger)
	if err != nil {
		return nil, err
	}

	s := &Store{
		backend: backend,
		logger:  o.logger.With("component", "badger-store"),
		indexes: make(map[string]*vectorIndex),
	}
	if err := s.load(); err != nil {
		backend.Close()
		return nil, err
	}
	return s, nil
}

// load restores index descriptors and rebuilds their graphs.
func (s *Store) load() error {
	var descriptors []core.IndexDescriptor
	err := s.backend.View(func(tx *badger.Txn) error {
		return ForEachPrefix(tx, []byte(indexPrefix), func(val []byte) error {
			d, err := storage.UnmarshalIndexDescriptor(val)
			if err != nil {
				return err
			}
			descriptors = append(descriptors, d)
			return nil
		})
	})
	if err != nil {
		return err
	}

	for _, d := range descriptors {
		vi, err := newVectorIndex(d)
		if err != nil {
			return fmt.Errorf("restoring index %q: %w", d.Name, err)
		}
		if err := s.populate(vi); err != nil {
			return fmt.Errorf("restoring index %q: %w", d.Name, err)
		}
		s.indexes[d.Name] = vi
		s.logger.Info("index restored", "index", d.Name, "vectors", vi.size())
	}
	return nil
}

// populate inserts every stored document's vector into vi.
func (s *Store) populate(vi *vectorIndex) error {
	return s.backend.View(func(tx *badger.Txn) error {
		return ForEachPrefix(tx, []byte(documentPrefix), func(val []byte) error {
			doc, err := storage.UnmarshalDocument(val)
			if err != nil {
				return err
			}
			if !vi.accepts(doc.Embedding) {
				return nil
			}
			return vi.put(doc.Key, doc.Embedding)
		})
	})
}

func (s *Store) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return nil
}

// CreateIndex creates a named index and indexes the existing documents.
func (s *Store) CreateIndex(ctx context.Context, descriptor core.IndexDescriptor) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	descriptor = descriptor.WithDefaults()
	if err := core.ValidateIndexDescriptor(descriptor); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.indexes[descriptor.Name]; ok {
		return &storage.IndexExistsError{Existing: existing.descriptor}
	}

	vi, err := newVectorIndex(descriptor)
	if err != nil {
		return err
	}
	data, err := storage.MarshalIndexDescriptor(descriptor)
	if err != nil {
		return err
	}
	if err := s.populate(vi); err != nil {
		return err
	}
	err = s.backend.Update(ctx, func(tx *badger.Txn) error {
		return tx.Set(makeIndexKey(descriptor.Name), data)
	})
	if err != nil {
		return err
	}

	s.indexes[descriptor.Name] = vi
	s.logger.Info("index created", "index", descriptor.Name, "dimension", descriptor.Dimension,
		"metric", descriptor.Metric, "vectors", vi.size())
	return nil
}

// DescribeIndex returns the descriptor of the named index.
func (s *Store) DescribeIndex(ctx context.Context, name string) (*core.IndexDescriptor, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	vi, ok := s.indexes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", storage.ErrIndexNotFound, name)
	}
	d := vi.descriptor
	return &d, nil
}

// ListIndexes returns all index descriptors sorted by name.
func (s *Store) ListIndexes(ctx context.Context) ([]core.IndexDescriptor, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.IndexDescriptor, 0, len(s.indexes))
	for _, vi := range s.indexes {
		out = append(out, vi.descriptor)
	}
	slices.SortFunc(out, func(a, b core.IndexDescriptor) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}

// Upsert replaces or inserts doc. The document write is a single transaction;
// the key's stripe lock keeps the graphs in step with it.
func (s *Store) Upsert(ctx context.Context, doc *storage.Document) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	if doc == nil || doc.Key == "" {
		return false, fmt.Errorf("%w: %w", storage.ErrInvalidDocument, core.ErrMissingIdentifier)
	}
	if len(doc.Embedding) > 0 {
		if err := core.ValidateVector(doc.Embedding, 0); err != nil {
			return false, fmt.Errorf("%w: %w", storage.ErrInvalidDocument, err)
		}
	}

	data, err := storage.MarshalDocument(doc)
	if err != nil {
		return false, err
	}

	lock := &s.stripes[core.IDFromContent(doc.Key)%lockStripes]
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var created bool
	key := makeDocumentKey(doc.Key)
	err = s.backend.Update(ctx, func(tx *badger.Txn) error {
		_, err := tx.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			created = true
		case err != nil:
			return err
		default:
			created = false
		}
		return tx.Set(key, data)
	})
	if err != nil {
		return false, err
	}

	for name, vi := range s.indexes {
		if err := vi.put(doc.Key, doc.Embedding); err != nil {
			s.logger.Error("failed to index document", "index", name, "key", doc.Key, "err", err)
			return created, fmt.Errorf("indexing %q in %q: %w", doc.Key, name, err)
		}
	}
	return created, nil
}

// Get retrieves the document stored under key.
func (s *Store) Get(ctx context.Context, key string) (*storage.Document, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	var doc *storage.Document
	err := s.backend.View(func(tx *badger.Txn) error {
		var err error
		doc, err = readDocument(tx, key)
		if err != nil {
			return err
		}
		if doc == nil {
			return storage.ErrNotFound
		}
		return nil
	})
	return doc, err
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}

	var n int
	err := s.backend.View(func(tx *badger.Txn) error {
		n = CountPrefix(tx, []byte(documentPrefix))
		return nil
	})
	return n, err
}

// Search runs a filtered nearest-neighbor query. Candidates come from the
// graph; scores and metadata are read from the documents in one read
// transaction so every hit reflects a single committed version.
func (s *Store) Search(ctx context.Context, req storage.SearchRequest) (*storage.SearchResult, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	if len(req.Vector) == 0 {
		return nil, fmt.Errorf("%w: %w", storage.ErrInvalidQuery, core.ErrEmptyVector)
	}
	if req.Limit < 1 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}
	if err := req.Filter.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrInvalidQuery, err)
	}

	s.mu.RLock()
	vi, ok := s.indexes[req.Index]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", storage.ErrIndexNotFound, req.Index)
	}

	numCandidates := max(req.NumCandidates, req.Limit)
	candidates, size, err := vi.search(req.Vector, numCandidates)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrInvalidQuery, err)
	}

	result := &storage.SearchResult{
		Candidates: len(candidates),
		IndexSize:  size,
	}

	seen := make(map[string]bool, len(candidates))
	err = s.backend.View(func(tx *badger.Txn) error {
		for _, key := range candidates {
			if seen[key] {
				continue
			}
			seen[key] = true

			doc, err := readDocument(tx, key)
			if err != nil {
				return err
			}
			if doc == nil || !vi.accepts(doc.Embedding) {
				continue
			}
			if !req.Filter.Match(doc.Metadata) {
				continue
			}
			result.Hits = append(result.Hits, storage.SearchHit{
				Document: doc,
				Score:    vi.score(req.Vector, doc.Embedding),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(result.Hits, func(a, b storage.SearchHit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Document.Key, b.Document.Key)
	})
	if len(result.Hits) > req.Limit {
		result.Hits = result.Hits[:req.Limit]
	}
	return result, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.backend.IsClosed() {
		return nil
	}
	return s.backend.Close()
}

// readDocument reads a document, returning nil when the key is absent.
func readDocument(tx *badger.Txn, key string) (*storage.Document, error) {
	item, err := tx.Get(makeDocumentKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc *storage.Document
	err = item.Value(func(val []byte) error {
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}
