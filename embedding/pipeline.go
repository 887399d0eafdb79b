package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/attrcat/ai"
	"github.com/poiesic/attrcat/core"
	"github.com/poiesic/attrcat/metrics"
	"golang.org/x/time/rate"
)

// Item is one text to embed, identified by its canonical key.
type Item struct {
	Key  string
	Text string
}

// Result is the outcome for one input item.
type Result struct {
	Key string

	// Vector is set on success and has the embedder's width.
	Vector []float32

	// TextHash fingerprints the untruncated input text together with the
	// model that embeds it.
	TextHash core.ID

	// Err explains a failure. Provider failures are *ai.ProviderError.
	Err error

	// Attempts counts the provider calls that included this item.
	Attempts int

	// Reused is set when the vector came from the Cache.
	Reused bool
}

// OK reports whether the item produced a vector.
func (r Result) OK() bool {
	return r.Err == nil
}

// Results holds one Result per input item, in input order.
type Results []Result

// ByKey maps each key to its result. A repeated key maps to its first occurrence.
func (rs Results) ByKey() map[string]Result {
	out := make(map[string]Result, len(rs))
	for _, r := range rs {
		if _, ok := out[r.Key]; !ok {
			out[r.Key] = r
		}
	}
	return out
}

// Summary counts results by outcome.
type Summary struct {
	Requested  int
	Succeeded  int
	Reused     int
	Failed     int
	FailedKeys []string
}

// Summary counts the results.
func (rs Results) Summary() Summary {
	s := Summary{Requested: len(rs)}
	for _, r := range rs {
		switch {
		case r.Err != nil:
			s.Failed++
			s.FailedKeys = append(s.FailedKeys, r.Key)
		case r.Reused:
			s.Reused++
		default:
			s.Succeeded++
		}
	}
	return s
}

// Pipeline embeds items through an ai.Embedder.
type Pipeline struct {
	embedder       ai.Embedder
	model          string
	pool           *ants.Pool
	poolSize       int
	batchSize      int
	backoff        Backoff
	callTimeout    time.Duration
	limiter        *rate.Limiter
	maxInputRunes  int
	cache          Cache
	progress       io.Writer
	reportInterval int
	metrics        *metrics.Recorder
	logger         *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the number of concurrent provider calls.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		p.poolSize = max(size, 1)
		return nil
	}
}

// WithBatchSize sends up to size texts per provider call. Default is 1.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		p.batchSize = max(size, 1)
		return nil
	}
}

// WithBackoff sets the retry schedule for transient failures.
func WithBackoff(b Backoff) Option {
	return func(p *Pipeline) error {
		if b.MaxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		p.backoff = b
		return nil
	}
}

// WithCallTimeout bounds each provider call. A call that times out is a
// transient failure. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		p.callTimeout = d
		return nil
	}
}

// WithRateLimit caps provider calls at perSecond with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(p *Pipeline) error {
		if perSecond <= 0 {
			p.limiter = nil
			return nil
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		return nil
	}
}

// WithMaxInputRunes truncates texts longer than n runes before sending them.
// Zero disables truncation.
func WithMaxInputRunes(n int) Option {
	return func(p *Pipeline) error {
		p.maxInputRunes = max(n, 0)
		return nil
	}
}

// WithModel names the embedding model. The name is part of every text
// fingerprint, so vectors cached under another model are never reused.
func WithModel(name string) Option {
	return func(p *Pipeline) error {
		p.model = name
		return nil
	}
}

// WithCache enables vector reuse for unchanged texts.
func WithCache(c Cache) Option {
	return func(p *Pipeline) error {
		p.cache = c
		return nil
	}
}

// WithProgress reports progress to w every interval items.
func WithProgress(w io.Writer, interval int) Option {
	return func(p *Pipeline) error {
		p.progress = w
		p.reportInterval = interval
		return nil
	}
}

// WithMetrics records provider calls and outcomes.
func WithMetrics(r *metrics.Recorder) Option {
	return func(p *Pipeline) error {
		p.metrics = r
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// New creates an embedding pipeline. Call Release when done.
func New(embedder ai.Embedder, opts ...Option) (*Pipeline, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	p := &Pipeline{
		embedder:       embedder,
		poolSize:       max(runtime.NumCPU()/2, 1),
		batchSize:      1,
		backoff:        DefaultBackoff(),
		reportInterval: 100,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "embedding")

	pool, err := ants.NewPool(p.poolSize)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// Embed embeds every item and returns exactly one Result per item, in input
// order. Once ctx is done no further provider calls are dispatched; items
// that were never dispatched fail with the context's error.
func (p *Pipeline) Embed(ctx context.Context, items []Item) Results {
	start := time.Now()
	defer p.metrics.ObserveStage(metrics.StageEmbed, start)

	results := make(Results, len(items))
	seen := make(map[string]bool, len(items))
	var work []int

	for i, item := range items {
		results[i] = Result{Key: item.Key, TextHash: fingerprint(p.model, item.Text)}
		switch {
		case seen[item.Key]:
			results[i].Err = fmt.Errorf("%w: %q", ErrDuplicateKey, item.Key)
			continue
		case strings.TrimSpace(item.Text) == "":
			results[i].Err = ai.NewPermanentError(fmt.Errorf("%w for %q", ErrEmptyText, item.Key))
			seen[item.Key] = true
			continue
		}
		seen[item.Key] = true

		if vec, ok := p.lookup(ctx, item.Key, results[i].TextHash); ok {
			results[i].Vector = vec
			results[i].Reused = true
			continue
		}
		work = append(work, i)
	}

	var tracker *ProgressTracker
	if p.progress != nil {
		tracker = NewProgressTracker(p.progress, len(work), p.reportInterval)
		tracker.Start()
	}

	units := chunk(work, p.batchSize)
	var wg sync.WaitGroup
	for u, unit := range units {
		if err := ctx.Err(); err != nil {
			p.failUndispatched(results, units[u:], err)
			break
		}

		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			p.process(ctx, items, results, unit)
			if tracker != nil {
				tracker.Add(len(unit), countFailed(results, unit))
			}
		})
		if err != nil {
			wg.Done()
			p.failUndispatched(results, units[u:], err)
			break
		}
	}
	wg.Wait()

	if tracker != nil {
		tracker.Finish()
	}

	summary := results.Summary()
	p.metrics.Entities(metrics.StageEmbed, metrics.OutcomeSucceeded, summary.Succeeded)
	p.metrics.Entities(metrics.StageEmbed, metrics.OutcomeReused, summary.Reused)
	p.metrics.Entities(metrics.StageEmbed, metrics.OutcomeFailed, summary.Failed)
	p.logger.Info("embedding complete",
		"requested", summary.Requested,
		"succeeded", summary.Succeeded,
		"reused", summary.Reused,
		"failed", summary.Failed,
		"elapsed", time.Since(start).Round(time.Millisecond))

	return results
}

// fingerprint hashes text as embedded by model. An empty model hashes the
// text alone.
func fingerprint(model, text string) core.ID {
	if model == "" {
		return core.IDFromContent(text)
	}
	return core.IDFromContent(model + "\x00" + text)
}

func (p *Pipeline) lookup(ctx context.Context, key string, hash core.ID) ([]float32, bool) {
	if p.cache == nil {
		return nil, false
	}
	vec, ok := p.cache.Lookup(ctx, key, hash)
	if !ok || core.ValidateVector(vec, p.embedder.Dimensions()) != nil {
		return nil, false
	}
	return vec, true
}

func (p *Pipeline) failUndispatched(results Results, units [][]int, cause error) {
	n := 0
	for _, unit := range units {
		for _, i := range unit {
			results[i].Err = fmt.Errorf("embedding %q not dispatched: %w", results[i].Key, cause)
			n++
		}
	}
	p.logger.Warn("embedding stopped before dispatching all items", "undispatched", n, "err", cause)
}

// process embeds one unit of work. A unit of one item is a single call;
// larger units go through EmbedTexts with per-item fallback.
func (p *Pipeline) process(ctx context.Context, items []Item, results Results, unit []int) {
	if len(unit) == 1 {
		p.embedOne(ctx, items, results, unit[0])
		return
	}

	texts := make([]string, len(unit))
	for j, i := range unit {
		texts[j] = p.truncate(items[i])
	}

	var vectors [][]float32
	attempts, err := RetryWithBackoff(ctx, func(ctx context.Context) error {
		return p.call(ctx, func(ctx context.Context) error {
			v, err := p.embedder.EmbedTexts(ctx, texts)
			if err != nil {
				return err
			}
			if len(v) != len(texts) {
				return ai.NewPermanentError(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(v)))
			}
			vectors = v
			return nil
		})
	}, p.backoff)

	if err == nil {
		for j, i := range unit {
			results[i].Attempts = attempts
			if verr := p.checkVector(vectors[j]); verr != nil {
				results[i].Err = verr
				continue
			}
			results[i].Vector = vectors[j]
		}
		return
	}

	if ctx.Err() != nil {
		for _, i := range unit {
			results[i].Attempts = attempts
			results[i].Err = err
		}
		return
	}

	p.logger.Debug("batch failed, falling back to single calls", "items", len(unit), "attempts", attempts, "err", err)
	for _, i := range unit {
		p.embedOne(ctx, items, results, i)
		results[i].Attempts += attempts
	}
}

func (p *Pipeline) embedOne(ctx context.Context, items []Item, results Results, i int) {
	text := p.truncate(items[i])

	var vector []float32
	attempts, err := RetryWithBackoff(ctx, func(ctx context.Context) error {
		return p.call(ctx, func(ctx context.Context) error {
			v, err := p.embedder.EmbedText(ctx, text)
			if err != nil {
				return err
			}
			if err := p.checkVector(v); err != nil {
				return err
			}
			vector = v
			return nil
		})
	}, p.backoff)

	results[i].Attempts = attempts
	if err != nil {
		p.logger.Debug("embedding failed", "key", items[i].Key, "attempts", attempts, "err", err)
		results[i].Err = err
		return
	}
	results[i].Vector = vector
}

// call makes one provider call under the rate limit and call timeout and
// classifies its error.
func (p *Pipeline) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ai.NewPermanentError(ctxErr)
			}
			return ai.NewTransientError(err)
		}
	}

	callCtx := ctx
	if p.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
	}

	err := fn(callCtx)
	switch {
	case err == nil:
		p.metrics.ProviderCall(metrics.OutcomeSucceeded)
		return nil
	case ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded):
		err = ai.NewTransientError(fmt.Errorf("provider call exceeded %s: %w", p.callTimeout, err))
	default:
		err = ai.Classify(err)
	}

	if ai.IsTransient(err) {
		p.metrics.ProviderCall(metrics.OutcomeTransient)
	} else {
		p.metrics.ProviderCall(metrics.OutcomeFailed)
	}
	return err
}

func (p *Pipeline) checkVector(v []float32) error {
	if err := core.ValidateVector(v, p.embedder.Dimensions()); err != nil {
		return ai.NewPermanentError(err)
	}
	return nil
}

func (p *Pipeline) truncate(item Item) string {
	if p.maxInputRunes <= 0 || utf8.RuneCountInString(item.Text) <= p.maxInputRunes {
		return item.Text
	}
	p.logger.Debug("truncating input", "key", item.Key, "maxRunes", p.maxInputRunes)
	return string([]rune(item.Text)[:p.maxInputRunes])
}

func chunk(indices []int, size int) [][]int {
	var out [][]int
	for start := 0; start < len(indices); start += size {
		end := min(start+size, len(indices))
		out = append(out, indices[start:end])
	}
	return out
}

func countFailed(results Results, unit []int) int {
	n := 0
	for _, i := range unit {
		if results[i].Err != nil {
			n++
		}
	}
	return n
}
