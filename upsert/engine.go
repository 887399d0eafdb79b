package upsert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/attrcat/core"
	"github.com/poiesic/attrcat/metrics"
	"github.com/poiesic/attrcat/storage"
)

// Counts tallies the outcome of one Upsert call.
// Inserted + Updated + Skipped + Failed equals the number of entities.
type Counts struct {
	Inserted    int
	Updated     int
	Skipped     int
	Failed      int
	SkippedKeys []string
	FailedKeys  []string

	// Errors holds one *core.StoreWriteError per failed key, in input order.
	Errors []error
}

// Err joins the per-key errors, or returns nil when no key failed.
func (c Counts) Err() error {
	return errors.Join(c.Errors...)
}

// Written returns the number of documents inserted or updated.
func (c Counts) Written() int {
	return c.Inserted + c.Updated
}

type outcome int

const (
	pending outcome = iota
	inserted
	updated
	skipped
	failed
)

type keyResult struct {
	outcome outcome
	err     error
}

// Engine upserts canonical entities into a storage.DocumentStore.
type Engine struct {
	store    storage.DocumentStore
	pool     *ants.Pool
	poolSize int
	now      func() time.Time
	metrics  *metrics.Recorder
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithPoolSize sets the number of concurrent store writes.
// Default is runtime.NumCPU(), with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(e *Engine) error {
		e.poolSize = max(size, 1)
		return nil
	}
}

// WithClock sets the function used to stamp UpdatedAt.
// Default is time.Now in UTC.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		if now != nil {
			e.now = now
		}
		return nil
	}
}

// WithMetrics records per-key outcomes.
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

// NewEngine creates an upsert engine. Call Release when done.
func NewEngine(store storage.DocumentStore, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}

	e := &Engine{
		store:    store,
		poolSize: max(runtime.NumCPU(), 1),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "upsert")

	pool, err := ants.NewPool(e.poolSize)
	if err != nil {
		return nil, err
	}
	e.pool = pool
	return e, nil
}

// Release releases the worker pool.
// The engine should not be used after calling Release.
func (e *Engine) Release() {
	if e.pool != nil {
		e.pool.Release()
	}
}

// Upsert writes every entity that carries an embedding. Entities without one
// are skipped. A failing key is recorded in Counts and the batch continues.
// Once ctx is done no further writes are dispatched and the remaining keys
// are counted as failed. The returned error is non-nil only for a nil entity.
func (e *Engine) Upsert(ctx context.Context, entities []*core.CanonicalEntity) (Counts, error) {
	start := time.Now()
	defer e.metrics.ObserveStage(metrics.StageUpsert, start)

	for i, entity := range entities {
		if entity == nil {
			return Counts{}, fmt.Errorf("%w at position %d", ErrNilEntity, i)
		}
	}

	results := make([]keyResult, len(entities))
	seen := make(map[string]bool, len(entities))
	var work []int
	for i, entity := range entities {
		// Only the first embedded copy of a key is written.
		switch {
		case !entity.HasEmbedding():
			results[i] = keyResult{outcome: skipped}
		case seen[entity.Key]:
			results[i] = keyResult{outcome: failed, err: &core.StoreWriteError{Key: entity.Key, Err: ErrDuplicateKey}}
		default:
			seen[entity.Key] = true
			work = append(work, i)
		}
	}

	var wg sync.WaitGroup
	for n, i := range work {
		if err := ctx.Err(); err != nil {
			e.failUndispatched(entities, results, work[n:], err)
			break
		}

		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			results[i] = e.write(ctx, entities[i])
		})
		if err != nil {
			wg.Done()
			e.failUndispatched(entities, results, work[n:], err)
			break
		}
	}
	wg.Wait()

	counts := tally(entities, results)
	e.metrics.Entities(metrics.StageUpsert, metrics.OutcomeInserted, counts.Inserted)
	e.metrics.Entities(metrics.StageUpsert, metrics.OutcomeUpdated, counts.Updated)
	e.metrics.Entities(metrics.StageUpsert, metrics.OutcomeSkipped, counts.Skipped)
	e.metrics.Entities(metrics.StageUpsert, metrics.OutcomeFailed, counts.Failed)
	e.logger.Info("upsert complete",
		"written", counts.Written(),
		"inserted", counts.Inserted,
		"updated", counts.Updated,
		"skipped", counts.Skipped,
		"failed", counts.Failed,
		"elapsed", time.Since(start).Round(time.Millisecond))

	return counts, nil
}

func (e *Engine) write(ctx context.Context, entity *core.CanonicalEntity) keyResult {
	doc := storage.NewDocument(entity, e.now())
	created, err := e.store.Upsert(ctx, doc)
	if err != nil {
		e.logger.Debug("upsert failed", "key", entity.Key, "err", err)
		return keyResult{outcome: failed, err: &core.StoreWriteError{Key: entity.Key, Err: err}}
	}
	entity.UpdatedAt = doc.UpdatedAt
	if created {
		return keyResult{outcome: inserted}
	}
	return keyResult{outcome: updated}
}

func (e *Engine) failUndispatched(entities []*core.CanonicalEntity, results []keyResult, indices []int, cause error) {
	for _, i := range indices {
		results[i] = keyResult{
			outcome: failed,
			err:     &core.StoreWriteError{Key: entities[i].Key, Err: fmt.Errorf("not dispatched: %w", cause)},
		}
	}
	e.logger.Warn("upsert stopped before dispatching all keys", "undispatched", len(indices), "err", cause)
}

func tally(entities []*core.CanonicalEntity, results []keyResult) Counts {
	var c Counts
	for i, r := range results {
		switch r.outcome {
		case inserted:
			c.Inserted++
		case updated:
			c.Updated++
		case skipped:
			c.Skipped++
			c.SkippedKeys = append(c.SkippedKeys, entities[i].Key)
		default:
			c.Failed++
			c.FailedKeys = append(c.FailedKeys, entities[i].Key)
			c.Errors = append(c.Errors, r.err)
		}
	}
	return c
}
