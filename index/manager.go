package index

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

// Outcome reports what EnsureIndex found or did.
type Outcome int

const (
	// OutcomeCreated means the index did not exist and was created.
	OutcomeCreated Outcome = iota + 1

	// OutcomeExisting means an index with the same parameters already existed.
	OutcomeExisting

	// OutcomeConflict means an index with the same name but different
	// parameters already existed. The existing index is kept.
	OutcomeConflict
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeExisting:
		return "existing"
	case OutcomeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Manager creates and describes ANN indexes.
type Manager struct {
	store    storage.DocumentStore
	embedder ai.Embedder
	metrics  *metrics.Recorder
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger
		return nil
	}
}

// WithMetrics records the stage duration.
func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Manager) error {
		m.metrics = r
		return nil
	}
}

// NewManager creates an index manager. The embedder's dimension is checked
// against every descriptor passed to EnsureIndex.
func NewManager(store storage.DocumentStore, embedder ai.Embedder, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	m := &Manager{
		store:    store,
		embedder: embedder,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.logger = m.logger.With("component", "index")
	return m, nil
}

// EnsureIndex makes sure the index described by descriptor exists and
// returns the descriptor now in effect. A conflicting existing index is not
// an error: it is reported as OutcomeConflict and its descriptor returned.
// Invalid descriptors and dimension mismatches are *core.ConfigurationError.
func (m *Manager) EnsureIndex(ctx context.Context, descriptor core.IndexDescriptor) (Outcome, *core.IndexDescriptor, error) {
	defer m.metrics.ObserveStage(metrics.StageIndex, time.Now())

	if err := core.ValidateIndexDescriptor(descriptor); err != nil {
		return 0, nil, core.NewConfigurationError("ensure index", err)
	}
	descriptor = descriptor.WithDefaults()
	if dim := m.embedder.Dimensions(); dim != descriptor.Dimension {
		return 0, nil, core.NewConfigurationError("ensure index",
			fmt.Errorf("%w: index %q has dimension %d, embedder produces %d",
				core.ErrDimensionMismatch, descriptor.Name, descriptor.Dimension, dim))
	}

	existing, err := m.store.DescribeIndex(ctx, descriptor.Name)
	switch {
	case err == nil:
		return m.compare(descriptor, existing)
	case !errors.Is(err, storage.ErrIndexNotFound):
		return 0, nil, fmt.Errorf("describe index %q: %w", descriptor.Name, err)
	}

	err = m.store.CreateIndex(ctx, descriptor)
	if err == nil {
		m.logger.Info("created index",
			"name", descriptor.Name,
			"dimension", descriptor.Dimension,
			"metric", descriptor.Metric,
			"m", descriptor.M,
			"efConstruction", descriptor.EFConstruction)
		return OutcomeCreated, &descriptor, nil
	}

	var exists *storage.IndexExistsError
	if errors.As(err, &exists) {
		// Another creator won the race.
		return m.compare(descriptor, &exists.Existing)
	}
	if errors.Is(err, storage.ErrIndexExists) {
		existing, derr := m.store.DescribeIndex(ctx, descriptor.Name)
		if derr != nil {
			return 0, nil, fmt.Errorf("describe index %q: %w", descriptor.Name, derr)
		}
		return m.compare(descriptor, existing)
	}
	return 0, nil, fmt.Errorf("create index %q: %w", descriptor.Name, err)
}

func (m *Manager) compare(requested core.IndexDescriptor, existing *core.IndexDescriptor) (Outcome, *core.IndexDescriptor, error) {
	effective := existing.WithDefaults()
	if requested.SameParameters(effective) {
		m.logger.Debug("index exists", "name", effective.Name)
		return OutcomeExisting, &effective, nil
	}

	m.logger.Warn("index exists with different parameters, keeping existing index",
		"name", effective.Name,
		"existing", describe(effective),
		"requested", describe(requested))
	if effective.Dimension != m.embedder.Dimensions() {
		return 0, nil, core.NewConfigurationError("ensure index",
			fmt.Errorf("%w: existing index %q has dimension %d, embedder produces %d",
				core.ErrDimensionMismatch, effective.Name, effective.Dimension, m.embedder.Dimensions()))
	}
	return OutcomeConflict, &effective, nil
}

// Describe returns the descriptor of the named index.
func (m *Manager) Describe(ctx context.Context, name string) (*core.IndexDescriptor, error) {
	return m.store.DescribeIndex(ctx, name)
}

// List returns all index descriptors, sorted by name.
func (m *Manager) List(ctx context.Context) ([]core.IndexDescriptor, error) {
	return m.store.ListIndexes(ctx)
}

func describe(d core.IndexDescriptor) string {
	return fmt.Sprintf("dimension=%d metric=%s m=%d efConstruction=%d", d.Dimension, d.Metric, d.M, d.EFConstruction)
}
