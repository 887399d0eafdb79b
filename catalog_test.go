package attrcat

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/attrcat/ai"
	"github.com/poiesic/attrcat/ai/mock"
	"github.com/poiesic/attrcat/config"
	"github.com/poiesic/attrcat/consolidate"
	"github.com/poiesic/attrcat/core"
	"github.com/poiesic/attrcat/index"
	"github.com/poiesic/attrcat/metrics"
	"github.com/poiesic/attrcat/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dim = 8

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.InMemory = true
	cfg.Embedding.Dimensions = dim
	cfg.Embedding.BaseDelay = time.Millisecond
	cfg.Embedding.MaxDelay = 5 * time.Millisecond
	return cfg
}

func newTestCatalog(t *testing.T, cfg *config.Config, embedder *mock.MockEmbedder, opts ...CatalogOption) *Catalog {
	t.Helper()
	opts = append([]CatalogOption{WithProvider(mock.NewMockProviderWithEmbedder(embedder))}, opts...)
	c, err := NewCatalog(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func scenarioFeeds() []consolidate.Feed {
	return []consolidate.Feed{
		{
			Spec: consolidate.FeedSpec{
				ID:               "A",
				IdentifierFields: []string{"attributename"},
				Tags:             map[string]string{"domain": "domain"},
			},
			Records: []core.SourceRecord{
				{Feed: "A", Line: 1, Fields: map[string]string{"attributename": "Customer", "domain": "Retail"}},
				{Feed: "A", Line: 2, Fields: map[string]string{"attributename": "Order Total", "domain": "Finance"}},
			},
		},
		{
			Spec: consolidate.FeedSpec{
				ID:               "B",
				IdentifierFields: []string{"attribute_name"},
				Rules:            []string{"data_quality_rule"},
			},
			Records: []core.SourceRecord{
				{Feed: "B", Line: 1, Fields: map[string]string{"attribute_name": "customer", "data_quality_rule": "must have account_number"}},
				{Feed: "B", Line: 2, Fields: map[string]string{"attribute_name": "Email", "data_quality_rule": "must be valid"}},
				{Feed: "B", Line: 3, Fields: map[string]string{"data_quality_rule": "orphan rule"}},
			},
		},
	}
}

func TestNewCatalog(t *testing.T) {
	t.Run("on-disk store", func(t *testing.T) {
		cfg := testConfig()
		cfg.Store.InMemory = false
		cfg.Store.Path = filepath.Join(t.TempDir(), "catalog")

		c, err := NewCatalog(cfg, WithProvider(mock.NewMockProvider(dim)), WithLogger(nil))
		require.NoError(t, err)
		assert.NotNil(t, c.Store())
		assert.Equal(t, cfg, c.Config())
		assert.NoError(t, c.Close())
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig()
		cfg.Embedding.Dimensions = 0
		_, err := NewCatalog(cfg, WithProvider(mock.NewMockProvider(dim)))
		assert.ErrorIs(t, err, core.ErrConfiguration)
	})

	t.Run("store path is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(file, []byte("test"), 0o644))

		cfg := testConfig()
		cfg.Store.InMemory = false
		cfg.Store.Path = file
		_, err := NewCatalog(cfg, WithProvider(mock.NewMockProvider(dim)))
		assert.ErrorIs(t, err, core.ErrConfiguration)
	})
}

func TestIngest_EndToEnd(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t, testConfig(), mock.NewMockEmbedder(dim))

	report, err := c.IngestFeeds(ctx, scenarioFeeds())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.NotEmpty(t, report.RunID)

	assert.Equal(t, 5, report.Consolidation.Records)
	assert.Equal(t, 3, report.Consolidation.Entities)
	require.Len(t, report.Consolidation.Rejected, 1)
	assert.ErrorIs(t, report.Consolidation.Rejected[0], core.ErrMissingIdentifier)
	assert.Equal(t, index.OutcomeCreated, report.Index.Outcome)
	assert.Equal(t, 3, report.Embedding.Succeeded)
	assert.Equal(t, 3, report.Upsert.Inserted)

	doc, err := c.Store().Get(ctx, "customer")
	require.NoError(t, err)
	assert.Equal(t, "Customer", doc.DisplayName)
	assert.Equal(t, "Retail", doc.Metadata["domain"])
	assert.Equal(t, core.DefaultCriticality, doc.Metadata["criticality"])
	assert.Equal(t, []string{"must have account_number"}, doc.Rules)
	assert.Equal(t, []string{"A", "B"}, doc.Provenance)
	assert.Len(t, doc.Embedding, dim)
	assert.NotZero(t, doc.TextHash)

	engine, err := c.NewQueryEngine()
	require.NoError(t, err)
	hits, err := engine.Search(ctx, doc.Embedding, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "customer", hits[0].Key)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-4)

	hits, err = engine.Search(ctx, doc.Embedding, 5, storage.NewFilter(storage.Eq("domain", "Finance")))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "order total", hits[0].Key)
}

func TestIngest_RerunReusesEmbeddings(t *testing.T) {
	ctx := context.Background()
	embedder := mock.NewMockEmbedder(dim)
	c := newTestCatalog(t, testConfig(), embedder)

	_, err := c.IngestFeeds(ctx, scenarioFeeds())
	require.NoError(t, err)
	calls := embedder.CallCount()

	report, err := c.IngestFeeds(ctx, scenarioFeeds())
	require.NoError(t, err)
	assert.Equal(t, index.OutcomeExisting, report.Index.Outcome)
	assert.Equal(t, 3, report.Embedding.Reused)
	assert.Equal(t, 3, report.Upsert.Updated)
	assert.Equal(t, calls, embedder.CallCount(), "unchanged texts are not re-embedded")

	feeds := scenarioFeeds()
	feeds[0].Records[0].Fields["domain"] = "Sales"
	report, err = c.IngestFeeds(ctx, feeds)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Embedding.Reused)
	assert.Equal(t, 1, report.Embedding.Succeeded)

	n, err := c.Store().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestIngest_ModelChangeReembeds(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Store.InMemory = false
	cfg.Store.Path = filepath.Join(t.TempDir(), "catalog")

	cfg.Embedding.Model = "model-a"
	first := newTestCatalog(t, cfg, mock.NewMockEmbedder(dim))
	_, err := first.IngestFeeds(ctx, scenarioFeeds())
	require.NoError(t, err)
	before, err := first.Store().Get(ctx, "customer")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	cfg.Embedding.Model = "model-b"
	embedder := mock.NewMockEmbedder(dim)
	embedder.EmbedTextFunc = func(_ context.Context, text string) ([]float32, error) {
		return mock.Vector("model-b "+text, dim), nil
	}
	second := newTestCatalog(t, cfg, embedder)

	report, err := second.IngestFeeds(ctx, scenarioFeeds())
	require.NoError(t, err)
	assert.Zero(t, report.Embedding.Reused)
	assert.Equal(t, 3, report.Embedding.Succeeded)
	assert.Equal(t, 3, embedder.CallCount())

	after, err := second.Store().Get(ctx, "customer")
	require.NoError(t, err)
	assert.NotEqual(t, before.Embedding, after.Embedding)
	assert.NotEqual(t, before.TextHash, after.TextHash)

	report, err = second.IngestFeeds(ctx, scenarioFeeds())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Embedding.Reused, "same model reuses its own vectors")
	assert.Equal(t, 3, embedder.CallCount())
}

func TestIngest_FailedEmbeddingIsSkipped(t *testing.T) {
	ctx := context.Background()
	embedder := mock.NewMockEmbedder(dim)
	embedder.EmbedTextFunc = func(_ context.Context, text string) ([]float32, error) {
		if strings.Contains(text, "Email") {
			return nil, ai.NewPermanentError(errors.New("content filtered"))
		}
		return mock.Vector(text, dim), nil
	}
	c := newTestCatalog(t, testConfig(), embedder)

	report, err := c.IngestFeeds(ctx, scenarioFeeds())
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, 1, report.Embedding.Failed)
	assert.Equal(t, []string{"email"}, report.Embedding.FailedKeys)
	assert.Equal(t, 1, report.Upsert.Skipped)
	assert.Equal(t, []string{"email"}, report.Upsert.SkippedKeys)
	assert.Equal(t, 2, report.Upsert.Inserted)

	_, err = c.Store().Get(ctx, "email")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	var out bytes.Buffer
	require.NoError(t, report.Print(&out))
	assert.Contains(t, out.String(), "not embedded: email")
	assert.Contains(t, out.String(), "skipped without embedding: email")
	assert.Contains(t, out.String(), "2 inserted")
}

func TestIngest_DimensionMismatchIsFatal(t *testing.T) {
	c := newTestCatalog(t, testConfig(), mock.NewMockEmbedder(4))

	report, err := c.IngestFeeds(context.Background(), scenarioFeeds())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConfiguration)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	assert.Equal(t, err, report.Err)
	assert.Zero(t, report.Embedding.Requested, "no provider calls after a fatal stage")

	n, err := c.Store().Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIngest_FromConfiguredFeeds(t *testing.T) {
	dir := t.TempDir()
	crm := filepath.Join(dir, "crm.csv")
	require.NoError(t, os.WriteFile(crm, []byte("name,domain,description\nCustomer,Retail,A buyer\nbroken\n"), 0o644))
	glossary := filepath.Join(dir, "glossary.jsonl")
	require.NoError(t, os.WriteFile(glossary, []byte(`{"term":"customer","rule":"must have account_number"}`+"\n"+`{"term":"Invoice"}`+"\n"), 0o644))

	cfg := testConfig()
	cfg.Feeds = []config.Feed{
		{ID: "crm", Path: crm, IdentifierFields: []string{"name"}, Fields: map[string]string{"description": "description"}, Tags: map[string]string{"domain": "domain"}},
		{ID: "glossary", Path: glossary, IdentifierFields: []string{"term"}, Rules: []string{"rule"}},
	}

	reg := prometheus.NewRegistry()
	recorder, err := metrics.NewRecorder(reg)
	require.NoError(t, err)
	var progress bytes.Buffer
	c := newTestCatalog(t, cfg, mock.NewMockEmbedder(dim), WithMetrics(recorder), WithProgress(&progress))

	report, err := c.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Consolidation.Feeds)
	assert.Equal(t, 4, report.Consolidation.Records)
	assert.Len(t, report.Consolidation.Rejected, 1)
	assert.Len(t, report.Consolidation.Diagnostics, 1, "invoice only appears in a lower-precedence feed")
	assert.Equal(t, 2, report.Upsert.Inserted)
	assert.Contains(t, progress.String(), "2/2")

	count, err := testutil.GatherAndCount(reg, "attrcat_records_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "crm accepted, crm rejected, glossary accepted")
}

func TestIngest_UnreadableFeedIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Feeds = []config.Feed{{ID: "crm", Path: filepath.Join(t.TempDir(), "missing.csv"), IdentifierFields: []string{"name"}}}
	c := newTestCatalog(t, cfg, mock.NewMockEmbedder(dim))

	report, err := c.Ingest(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConfiguration)
	assert.Equal(t, "configuration", errStage(report.Err))
}

func TestNewAssistant(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a chat model", func(t *testing.T) {
		c := newTestCatalog(t, testConfig(), mock.NewMockEmbedder(dim))
		_, err := c.NewAssistant()
		assert.ErrorIs(t, err, core.ErrConfiguration)
	})

	t.Run("answers from ingested attributes", func(t *testing.T) {
		embedder := mock.NewMockEmbedder(dim)
		answerer := mock.NewMockAnswerer()
		c := newTestCatalog(t, testConfig(), embedder,
			WithProvider(mock.NewMockProviderWithAnswerer(embedder, answerer)))

		_, err := c.IngestFeeds(ctx, scenarioFeeds())
		require.NoError(t, err)
		doc, err := c.Store().Get(ctx, "order total")
		require.NoError(t, err)
		embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
			return doc.Embedding, nil
		}

		a, err := c.NewAssistant()
		require.NoError(t, err)
		answer, err := a.Ask(ctx, "What is the order total?", 2, nil)
		require.NoError(t, err)
		require.NotEmpty(t, answer.Hits)
		assert.Equal(t, "order total", answer.Hits[0].Key)
		assert.Equal(t, "What is the order total? => name: Order Total", strings.SplitN(answer.Text, ";", 2)[0])
		assert.Contains(t, answerer.LastPassages()[0], "domain: Finance")
	})
}
