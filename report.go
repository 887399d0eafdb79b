package attrcat

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/attrcat/consolidate"
	"github.com/poiesic/attrcat/core"
	"github.com/poiesic/attrcat/embedding"
	"github.com/poiesic/attrcat/index"
	"github.com/poiesic/attrcat/upsert"
)

// RunReport summarizes one ingest run. Every input record and entity is
// accounted for in exactly one count.
type RunReport struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration

	Consolidation ConsolidationReport
	Embedding     embedding.Summary
	Index         IndexReport
	Upsert        upsert.Counts

	// Err is the error that stopped the run, if any.
	Err error
}

// ConsolidationReport counts consolidation inputs and outputs.
type ConsolidationReport struct {
	Feeds       int
	Records     int
	Entities    int
	Rejected    []*core.RecordError
	Diagnostics []consolidate.Diagnostic
}

// IndexReport records what EnsureIndex did.
type IndexReport struct {
	Outcome    index.Outcome
	Descriptor core.IndexDescriptor
}

func newRunReport() *RunReport {
	return &RunReport{RunID: newRunID(), StartedAt: time.Now().UTC()}
}

func (r *RunReport) recordConsolidation(feeds []consolidate.Feed, unreadable []*core.RecordError, result *consolidate.Result) {
	r.Consolidation = ConsolidationReport{
		Feeds:       len(feeds),
		Records:     result.Records + len(unreadable),
		Entities:    len(result.Entities),
		Rejected:    append(append([]*core.RecordError(nil), unreadable...), result.Rejected...),
		Diagnostics: result.Diagnostics,
	}
}

func (r *RunReport) recordEmbedding(results embedding.Results) {
	r.Embedding = results.Summary()
}

// finish stamps the duration, logs the per-stage summary and returns the
// report with err.
func (r *RunReport) finish(logger *slog.Logger, err error) (*RunReport, error) {
	r.Duration = time.Since(r.StartedAt)
	r.Err = err
	r.Log(logger)
	return r, err
}

// OK reports whether the run completed and every entity was written.
func (r *RunReport) OK() bool {
	return r.Err == nil && r.Embedding.Failed == 0 && r.Upsert.Failed == 0
}

// Log writes one summary line per stage.
func (r *RunReport) Log(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("runID", r.RunID)

	c := r.Consolidation
	logger.Info("run summary: consolidation",
		"feeds", c.Feeds,
		"records", c.Records,
		"rejected", len(c.Rejected),
		"entities", c.Entities,
		"diagnostics", len(c.Diagnostics))
	if r.Index.Outcome != 0 {
		logger.Info("run summary: index",
			"name", r.Index.Descriptor.Name,
			"outcome", r.Index.Outcome.String(),
			"dimension", r.Index.Descriptor.Dimension,
			"metric", r.Index.Descriptor.Metric)
	}
	e := r.Embedding
	logger.Info("run summary: embedding",
		"requested", e.Requested,
		"succeeded", e.Succeeded,
		"reused", e.Reused,
		"failed", e.Failed)
	u := r.Upsert
	logger.Info("run summary: upsert",
		"written", u.Written(),
		"inserted", u.Inserted,
		"updated", u.Updated,
		"skipped", u.Skipped,
		"failed", u.Failed)

	if r.Err != nil {
		logger.Error("run stopped", "stage", errStage(r.Err), "duration", r.Duration.Round(time.Millisecond), "err", r.Err)
		return
	}
	logger.Info("run complete", "duration", r.Duration.Round(time.Millisecond))
}

// Print writes a human-readable report to w.
func (r *RunReport) Print(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s)\n", r.RunID, r.Duration.Round(time.Millisecond))

	c := r.Consolidation
	fmt.Fprintf(&b, "  consolidation: %d records from %d feeds -> %d entities, %d rejected, %d diagnostics\n",
		c.Records, c.Feeds, c.Entities, len(c.Rejected), len(c.Diagnostics))
	for _, rerr := range c.Rejected {
		fmt.Fprintf(&b, "    rejected: %v\n", rerr)
	}
	for _, d := range c.Diagnostics {
		fmt.Fprintf(&b, "    note: %s (feed %s line %d): %s\n", d.Key, d.Feed, d.Line, d.Message)
	}

	if r.Index.Outcome != 0 {
		fmt.Fprintf(&b, "  index: %s %s (dimension=%d metric=%s)\n",
			r.Index.Descriptor.Name, r.Index.Outcome, r.Index.Descriptor.Dimension, r.Index.Descriptor.Metric)
	}

	e := r.Embedding
	fmt.Fprintf(&b, "  embedding: %d requested, %d embedded, %d reused, %d failed\n",
		e.Requested, e.Succeeded, e.Reused, e.Failed)
	if len(e.FailedKeys) > 0 {
		fmt.Fprintf(&b, "    not embedded: %s\n", strings.Join(e.FailedKeys, ", "))
	}

	u := r.Upsert
	fmt.Fprintf(&b, "  upsert: %d inserted, %d updated, %d skipped, %d failed\n",
		u.Inserted, u.Updated, u.Skipped, u.Failed)
	if len(u.SkippedKeys) > 0 {
		fmt.Fprintf(&b, "    skipped without embedding: %s\n", strings.Join(u.SkippedKeys, ", "))
	}
	for _, err := range u.Errors {
		fmt.Fprintf(&b, "    %v\n", err)
	}

	if r.Err != nil {
		fmt.Fprintf(&b, "  stopped (%s): %v\n", errStage(r.Err), r.Err)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
