package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/attrcat/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
type Embedder struct {
	embedder   embeddings.Embedder
	dimensions int
	logger     *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

// newEmbedder is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.APIKey),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}

	// Wrap in langchaingo embedder
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	return &Embedder{
		embedder:   embedder,
		dimensions: config.Dimensions,
		logger:     slog.Default().With("component", "openai-embedder"),
	}, nil
}

// NewEmbedder creates a new embedder using the provided configuration.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// Dimensions returns the configured vector width.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	e.logger.Debug("generating embedding for single text", "length", len(text))

	vectors, err := e.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		perr := classify(ctx, err)
		e.logger.Debug("failed to generate embedding", "err", perr)
		return nil, perr
	}

	if len(vectors) != 1 {
		return nil, ai.NewPermanentError(fmt.Errorf("expected 1 embedding, got %d", len(vectors)))
	}

	return vectors[0], nil
}

// EmbedTexts generates vector embeddings for multiple text strings in a batch.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		perr := classify(ctx, err)
		e.logger.Debug("failed to generate embeddings", "count", len(texts), "err", perr)
		return nil, perr
	}

	if len(vectors) != len(texts) {
		return nil, ai.NewPermanentError(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors)))
	}

	return vectors, nil
}

// classify maps a client error onto the provider error taxonomy using
// langchaingo's standardized error codes. The client replaces context errors
// with plain strings, so the caller's context is consulted first.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %v", ctxErr, err)
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ai.NewPermanentError(err)
	case errors.Is(err, context.DeadlineExceeded):
		return ai.NewTransientError(err)
	case errors.Is(err, openai.ErrUnexpectedResponseLength):
		return ai.NewPermanentError(err)
	case errors.Is(err, openai.ErrEmptyResponse):
		return ai.NewTransientError(err)
	}

	mapped := openai.MapError(err)
	var lerr *llms.Error
	if !errors.As(mapped, &lerr) {
		return ai.NewTransientError(err)
	}

	switch lerr.Code {
	case llms.ErrCodeRateLimit, llms.ErrCodeTimeout, llms.ErrCodeProviderUnavailable, llms.ErrCodeUnknown:
		return ai.NewTransientError(mapped)
	default:
		return ai.NewPermanentError(mapped)
	}
}
