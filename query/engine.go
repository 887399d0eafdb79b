package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/attrcat/ai"
	"github.com/poiesic/attrcat/core"
	"github.com/poiesic/attrcat/metrics"
	"github.com/poiesic/attrcat/storage"
)

// Default candidate oversampling factors.
const (
	DefaultOversample       = 15
	DefaultFilterOversample = 4
)

// Hit is one query result.
type Hit struct {
	Key    string
	Score  float32
	Fields map[string]string
}

// Engine answers filtered nearest-neighbor queries against one index.
type Engine struct {
	store            storage.DocumentStore
	index            string
	embedder         ai.Embedder
	oversample       int
	filterOversample int
	metrics          *metrics.Recorder
	logger           *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithEmbedder sets the embedder SearchText uses to embed query text.
func WithEmbedder(embedder ai.Embedder) Option {
	return func(e *Engine) error {
		e.embedder = embedder
		return nil
	}
}

// WithOversample sets how many candidates are examined per requested hit.
// Default is DefaultOversample.
func WithOversample(factor int) Option {
	return func(e *Engine) error {
		if factor < 1 {
			return ErrInvalidOversample
		}
		e.oversample = factor
		return nil
	}
}

// WithFilterOversample sets the extra candidate factor applied when a filter
// is present. Default is DefaultFilterOversample.
func WithFilterOversample(factor int) Option {
	return func(e *Engine) error {
		if factor < 1 {
			return ErrInvalidOversample
		}
		e.filterOversample = factor
		return nil
	}
}

// WithMetrics records query durations.
func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Engine) error {
		e.metrics = r
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// NewEngine creates a query engine over the named index.
func NewEngine(store storage.DocumentStore, index string, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if index == "" {
		return nil, ErrIndexNameRequired
	}

	e := &Engine{
		store:            store,
		index:            index,
		oversample:       DefaultOversample,
		filterOversample: DefaultFilterOversample,
		logger:           slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "query", "index", index)

	return e, nil
}

// Search returns up to k documents nearest to vector that satisfy filter,
// best first. A nil filter matches every document.
func (e *Engine) Search(ctx context.Context, vector []float32, k int, filter *storage.Filter) ([]Hit, error) {
	return e.SearchWithMonitor(ctx, vector, k, filter, nil)
}

// SearchText embeds text and searches with the resulting vector.
func (e *Engine) SearchText(ctx context.Context, text string, k int, filter *storage.Filter) ([]Hit, error) {
	if e.embedder == nil {
		return nil, ErrEmbedderRequired
	}
	vector, err := e.embedder.EmbedText(ctx, text)
	if err != nil {
		e.logger.Error("error generating embedding for query", "err", err)
		return nil, fmt.Errorf("embedding query text: %w", err)
	}
	return e.Search(ctx, vector, k, filter)
}

// SearchWithMonitor is Search with callbacks at each stage.
// Precondition failures are *core.QueryPreconditionError.
func (e *Engine) SearchWithMonitor(ctx context.Context, vector []float32, k int, filter *storage.Filter, monitor SearchMonitor) ([]Hit, error) {
	defer e.metrics.ObserveStage(metrics.StageQuery, time.Now())

	// Use noop monitor if none provided
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	if len(vector) == 0 {
		return nil, &core.QueryPreconditionError{Reason: "query vector is empty", Err: core.ErrEmptyVector}
	}
	if k < 1 {
		return nil, &core.QueryPreconditionError{Reason: fmt.Sprintf("k must be at least 1, got %d", k)}
	}
	if err := filter.Validate(); err != nil {
		return nil, &core.QueryPreconditionError{Reason: "invalid filter", Err: err}
	}

	descriptor, err := e.store.DescribeIndex(ctx, e.index)
	switch {
	case errors.Is(err, storage.ErrIndexNotFound):
		return nil, &core.QueryPreconditionError{Reason: fmt.Sprintf("index %q not found", e.index), Err: err}
	case err != nil:
		return nil, fmt.Errorf("describe index %q: %w", e.index, err)
	}
	if len(vector) != descriptor.Dimension {
		return nil, &core.QueryPreconditionError{
			Reason: fmt.Sprintf("query vector dimension %d does not match index dimension %d", len(vector), descriptor.Dimension),
			Err:    core.ErrDimensionMismatch,
		}
	}

	monitor.Start(k, filter)

	numCandidates := max(k*e.oversample, k)
	if !filter.Empty() {
		numCandidates *= e.filterOversample
	}

	var result *storage.SearchResult
	for {
		result, err = e.store.Search(ctx, storage.SearchRequest{
			Index:         e.index,
			Vector:        vector,
			Limit:         k,
			NumCandidates: numCandidates,
			Filter:        filter,
		})
		if err != nil {
			return nil, e.classify(err)
		}
		monitor.AfterCandidateSearch(numCandidates, result)

		if len(result.Hits) >= k || result.Exhaustive() || numCandidates >= result.IndexSize {
			break
		}
		numCandidates *= 2
		e.logger.Debug("filtered result short, widening candidate pool",
			"hits", len(result.Hits), "k", k, "numCandidates", numCandidates, "indexSize", result.IndexSize)
		monitor.Widen(numCandidates)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		if !filter.Match(h.Document.Metadata) {
			continue
		}
		hits = append(hits, Hit{
			Key:    h.Document.Key,
			Score:  h.Score,
			Fields: h.Document.Fields(),
		})
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	monitor.Finish(hits)

	return hits, nil
}

func (e *Engine) classify(err error) error {
	switch {
	case errors.Is(err, storage.ErrIndexNotFound):
		return &core.QueryPreconditionError{Reason: fmt.Sprintf("index %q not found", e.index), Err: err}
	case errors.Is(err, core.ErrDimensionMismatch):
		return &core.QueryPreconditionError{Reason: "query vector dimension does not match index", Err: err}
	case errors.Is(err, storage.ErrInvalidQuery):
		return &core.QueryPreconditionError{Reason: "query rejected by store", Err: err}
	}
	e.logger.Error("error querying for similar documents", "err", err)
	return err
}
