package ai

import "context"

// Embedder generates vector embeddings from text.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// Failures are returned as *ProviderError.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the width of every vector this embedder returns.
	Dimensions() int
}

// Answerer generates a natural-language answer to a question from retrieved
// context passages. Implementations must be thread-safe for concurrent use.
type Answerer interface {
	// Answer responds to question using only the given passages, most relevant
	// first. An empty passage list still produces an answer that says nothing
	// relevant was found. Failures are returned as *ProviderError.
	Answer(ctx context.Context, question string, passages []string) (string, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// Answerer returns the answer generation service, or nil when no chat
	// model is configured.
	Answerer() Answerer

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
