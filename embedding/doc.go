// Package embedding turns projected entity texts into vectors.
//
// Pipeline calls an ai.Embedder with bounded concurrency, optional rate
// limiting and a per-call timeout. Each input item yields exactly one Result:
// a vector of the embedder's width or an explicit error. Transient provider
// errors are retried with capped exponential backoff and jitter; permanent
// errors fail the item at once. A failure never aborts the batch.
//
// # Batching
//
// With WithBatchSize(n > 1) items are sent n at a time through EmbedTexts.
// When a batch call fails or returns the wrong number of vectors, each item of
// the batch is retried on its own so failures stay per item.
//
// # Reuse
//
// A Cache lets the pipeline skip the provider for items whose text hash
// matches what is already stored for the key. Such results have Reused set.
//
// # Usage
//
//	p, err := embedding.New(provider.Embedder(),
//	    embedding.WithPoolSize(4),
//	    embedding.WithRateLimit(10, 10),
//	)
//	if err != nil {
//	    return err
//	}
//	defer p.Release()
//
//	results := p.Embed(ctx, items)
//	for key, res := range results.ByKey() {
//	    ...
//	}
package embedding
