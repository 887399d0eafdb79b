package query

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/attrcat/ai"
	"github.com/poiesic/attrcat/core"
	"github.com/poiesic/attrcat/storage"
)

// Answer is a generated answer and the hits it was written from.
type Answer struct {
	Question string
	Text     string
	Hits     []Hit
}

// Assistant answers questions about the catalog: it retrieves the nearest
// attributes for the question and has an ai.Answerer write an answer from
// them alone.
type Assistant struct {
	engine   *Engine
	answerer ai.Answerer
	logger   *slog.Logger
}

// NewAssistant creates an assistant over engine. The engine must have an
// embedder.
func NewAssistant(engine *Engine, answerer ai.Answerer, logger *slog.Logger) (*Assistant, error) {
	if engine == nil {
		return nil, ErrStoreRequired
	}
	if engine.embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if answerer == nil {
		return nil, ErrAnswererRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		engine:   engine,
		answerer: answerer,
		logger:   logger.With("component", "assistant"),
	}, nil
}

// Ask retrieves up to k attributes matching filter and answers question from
// them. When nothing matches, the answerer is still asked and is told that
// no context was found.
func (a *Assistant) Ask(ctx context.Context, question string, k int, filter *storage.Filter) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, &core.QueryPreconditionError{Reason: "question is empty"}
	}

	start := time.Now()
	hits, err := a.engine.SearchText(ctx, question, k, filter)
	if err != nil {
		return nil, err
	}

	passages := make([]string, len(hits))
	for i, hit := range hits {
		passages[i] = Passage(hit)
	}

	text, err := a.answerer.Answer(ctx, question, passages)
	if err != nil {
		a.logger.Error("failed to generate answer", "hits", len(hits), "err", err)
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	a.logger.Debug("answered question",
		"hits", len(hits),
		"duration", time.Since(start))
	return &Answer{Question: question, Text: text, Hits: hits}, nil
}

// Passage renders a hit as a context passage: its name first, then its
// fields sorted by name.
func Passage(hit Hit) string {
	var b strings.Builder
	name := hit.Fields[core.MetadataDisplayName]
	if name == "" {
		name = hit.Key
	}
	fmt.Fprintf(&b, "name: %s", name)

	fields := make([]string, 0, len(hit.Fields))
	for f, v := range hit.Fields {
		if f != core.MetadataDisplayName && strings.TrimSpace(v) != "" {
			fields = append(fields, f)
		}
	}
	slices.Sort(fields)
	for _, f := range fields {
		fmt.Fprintf(&b, "\n%s: %s", f, hit.Fields[f])
	}
	return b.String()
}
