// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package attrcat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/attrcat/ai"
	"github.com/poiesic/attrcat/ai/openai"
	"github.com/poiesic/attrcat/config"
	"github.com/poiesic/attrcat/consolidate"
	"github.com/poiesic/attrcat/core"
	"github.com/poiesic/attrcat/embedding"
	"github.com/poiesic/attrcat/feed"
	"github.com/poiesic/attrcat/index"
	"github.com/poiesic/attrcat/metrics"
	"github.com/poiesic/attrcat/project"
	"github.com/poiesic/attrcat/query"
	"github.com/poiesic/attrcat/storage"
	"github.com/poiesic/attrcat/storage/badger"
	"github.com/poiesic/attrcat/upsert"
)

// Catalog runs the attribute catalog pipeline against one store and one
// embedding provider.
type Catalog struct {
	config   *config.Config
	store    storage.DocumentStore
	provider ai.AIProvider
	metrics  *metrics.Recorder
	progress io.Writer
	logger   *slog.Logger
}

// CatalogOption configures a Catalog.
type CatalogOption func(*catalogOptions)

type catalogOptions struct {
	store    storage.DocumentStore
	provider ai.AIProvider
	metrics  *metrics.Recorder
	progress io.Writer
	logger   *slog.Logger
}

// WithStore uses store instead of opening the configured badger store.
// The catalog takes ownership and closes it.
func WithStore(store storage.DocumentStore) CatalogOption {
	return func(o *catalogOptions) {
		o.store = store
	}
}

// WithProvider uses provider instead of the configured OpenAI-compatible one.
// The catalog takes ownership and closes it.
func WithProvider(provider ai.AIProvider) CatalogOption {
	return func(o *catalogOptions) {
		o.provider = provider
	}
}

// WithMetrics records stage metrics.
func WithMetrics(r *metrics.Recorder) CatalogOption {
	return func(o *catalogOptions) {
		o.metrics = r
	}
}

// WithProgress reports embedding progress to w.
func WithProgress(w io.Writer) CatalogOption {
	return func(o *catalogOptions) {
		o.progress = w
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) CatalogOption {
	return func(o *catalogOptions) {
		o.logger = logger
	}
}

// NewCatalog opens the store and the embedding provider described by cfg.
func NewCatalog(cfg *config.Config, opts ...CatalogOption) (*Catalog, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Apply options
	options := &catalogOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	store := options.store
	if store == nil {
		storeOpts := []badger.Option{badger.WithLogger(options.logger)}
		if cfg.Store.InMemory {
			storeOpts = append(storeOpts, badger.WithInMemory())
		}
		var err error
		store, err = badger.NewStore(cfg.Store.Path, storeOpts...)
		if err != nil {
			return nil, core.NewConfigurationError("open store", err)
		}
	}

	provider := options.provider
	if provider == nil {
		var err error
		provider, err = openai.NewProvider(cfg.AIConfig())
		if err != nil {
			store.Close()
			return nil, core.NewConfigurationError("open embedding provider", err)
		}
	}

	return &Catalog{
		config:   cfg,
		store:    store,
		provider: provider,
		metrics:  options.metrics,
		progress: options.progress,
		logger:   options.logger,
	}, nil
}

// Close releases the provider and the store.
func (c *Catalog) Close() error {
	// Close AI provider first
	if err := c.provider.Close(); err != nil {
		c.logger.Error("error closing AI provider", "err", err)
	}

	if err := c.store.Close(); err != nil {
		c.logger.Error("error closing document store", "err", err)
		return err
	}
	return nil
}

// Store returns the document store.
func (c *Catalog) Store() storage.DocumentStore {
	return c.store
}

// Config returns the run configuration.
func (c *Catalog) Config() *config.Config {
	return c.config
}

// NewIndexManager creates an index manager over the catalog's store.
func (c *Catalog) NewIndexManager(opts ...index.Option) (*index.Manager, error) {
	opts = append([]index.Option{index.WithLogger(c.logger), index.WithMetrics(c.metrics)}, opts...)
	return index.NewManager(c.store, c.provider.Embedder(), opts...)
}

// EnsureIndex ensures the configured index exists.
func (c *Catalog) EnsureIndex(ctx context.Context) (index.Outcome, *core.IndexDescriptor, error) {
	m, err := c.NewIndexManager()
	if err != nil {
		return 0, nil, err
	}
	return m.EnsureIndex(ctx, c.config.IndexDescriptor())
}

// NewQueryEngine creates a query engine over the configured index.
func (c *Catalog) NewQueryEngine(opts ...query.Option) (*query.Engine, error) {
	base := []query.Option{
		query.WithEmbedder(c.provider.Embedder()),
		query.WithLogger(c.logger),
		query.WithMetrics(c.metrics),
	}
	if n := c.config.Query.Oversample; n > 0 {
		base = append(base, query.WithOversample(n))
	}
	if n := c.config.Query.FilterOversample; n > 0 {
		base = append(base, query.WithFilterOversample(n))
	}
	return query.NewEngine(c.store, c.config.IndexDescriptor().Name, append(base, opts...)...)
}

// NewAssistant creates an assistant that answers questions from the
// configured index. It fails when no chat model is configured.
func (c *Catalog) NewAssistant(opts ...query.Option) (*query.Assistant, error) {
	answerer := c.provider.Answerer()
	if answerer == nil {
		return nil, core.NewConfigurationError("open assistant", errors.New("chat.model is not set"))
	}
	engine, err := c.NewQueryEngine(opts...)
	if err != nil {
		return nil, err
	}
	return query.NewAssistant(engine, answerer, c.logger)
}

// Ingest loads the configured feeds and runs them through the pipeline.
func (c *Catalog) Ingest(ctx context.Context) (*RunReport, error) {
	report := newRunReport()

	loaded, err := feed.LoadAll(ctx, c.config.Sources(), c.logger)
	if err != nil {
		return report.finish(c.logger, err)
	}
	return c.ingest(ctx, report, loaded.Feeds, loaded.Rejected)
}

// IngestFeeds runs already parsed feeds, in precedence order, through the pipeline.
func (c *Catalog) IngestFeeds(ctx context.Context, feeds []consolidate.Feed) (*RunReport, error) {
	return c.ingest(ctx, newRunReport(), feeds, nil)
}

func (c *Catalog) ingest(ctx context.Context, report *RunReport, feeds []consolidate.Feed, unreadable []*core.RecordError) (*RunReport, error) {
	logger := c.logger.With("runID", report.RunID)

	// 1. Consolidate
	start := time.Now()
	consolidator, err := consolidate.New(
		consolidate.WithDefaultTags(c.config.Consolidation.DefaultTags),
		consolidate.WithLogger(logger))
	if err != nil {
		return report.finish(logger, err)
	}
	result, err := consolidator.Consolidate(feeds)
	if err != nil {
		return report.finish(logger, err)
	}
	c.metrics.ObserveStage(metrics.StageConsolidate, start)
	report.recordConsolidation(feeds, unreadable, result)
	c.recordFeedMetrics(feeds, result.Rejected, unreadable)

	// 2. Ensure index before any provider call
	outcome, descriptor, err := c.EnsureIndex(ctx)
	if err != nil {
		return report.finish(logger, err)
	}
	report.Index = IndexReport{Outcome: outcome, Descriptor: *descriptor}

	// 3. Project and embed
	projector := project.New(c.config.Layout())
	items := make([]embedding.Item, len(result.Entities))
	for i, entity := range result.Entities {
		items[i] = embedding.Item{Key: entity.Key, Text: projector.Project(entity)}
	}

	pipeline, err := embedding.New(c.provider.Embedder(), c.embeddingOptions(logger)...)
	if err != nil {
		return report.finish(logger, core.NewConfigurationError("embedding pipeline", err))
	}
	defer pipeline.Release()

	results := pipeline.Embed(ctx, items)
	report.recordEmbedding(results)
	for i, r := range results {
		entity := result.Entities[i]
		entity.TextHash = r.TextHash
		if r.OK() {
			entity.Embedding = r.Vector
		}
	}

	// 4. Upsert
	upsertOpts := []upsert.Option{upsert.WithMetrics(c.metrics), upsert.WithLogger(logger)}
	if n := c.config.Upsert.PoolSize; n > 0 {
		upsertOpts = append(upsertOpts, upsert.WithPoolSize(n))
	}
	engine, err := upsert.NewEngine(c.store, upsertOpts...)
	if err != nil {
		return report.finish(logger, err)
	}
	defer engine.Release()

	counts, err := engine.Upsert(ctx, result.Entities)
	if err != nil {
		return report.finish(logger, err)
	}
	report.Upsert = counts

	if err := ctx.Err(); err != nil {
		return report.finish(logger, fmt.Errorf("ingest interrupted: %w", err))
	}
	return report.finish(logger, nil)
}

func (c *Catalog) embeddingOptions(logger *slog.Logger) []embedding.Option {
	e := c.config.Embedding
	opts := []embedding.Option{
		embedding.WithModel(e.Model),
		embedding.WithBackoff(c.config.Backoff()),
		embedding.WithCallTimeout(e.CallTimeout),
		embedding.WithRateLimit(e.RateLimit, e.RateBurst),
		embedding.WithMaxInputRunes(e.MaxInputRunes),
		embedding.WithMetrics(c.metrics),
		embedding.WithLogger(logger),
	}
	if e.PoolSize > 0 {
		opts = append(opts, embedding.WithPoolSize(e.PoolSize))
	}
	if e.BatchSize > 0 {
		opts = append(opts, embedding.WithBatchSize(e.BatchSize))
	}
	if c.config.ReuseEmbeddings() {
		opts = append(opts, embedding.WithCache(embedding.NewStoreCache(c.store)))
	}
	if c.progress != nil {
		opts = append(opts, embedding.WithProgress(c.progress, 100))
	}
	return opts
}

func (c *Catalog) recordFeedMetrics(feeds []consolidate.Feed, rejected, unreadable []*core.RecordError) {
	if c.metrics == nil {
		return
	}
	noKey := make(map[string]int)
	for _, r := range rejected {
		noKey[r.Feed]++
	}
	bad := make(map[string]int)
	for _, r := range unreadable {
		bad[r.Feed]++
	}
	for _, f := range feeds {
		id := f.Spec.ID
		c.metrics.Records(id, metrics.OutcomeRejected, noKey[id]+bad[id])
		c.metrics.Records(id, metrics.OutcomeAccepted, len(f.Records)-noKey[id])
	}
}

// errStage names the kind of error that stopped a run.
func errStage(err error) string {
	switch {
	case errors.Is(err, core.ErrConfiguration):
		return "configuration"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "interrupted"
	default:
		return "fatal"
	}
}

func newRunID() string {
	return uuid.NewString()
}
