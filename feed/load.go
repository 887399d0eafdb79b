package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/poiesic/attrcat/consolidate"
	"github.com/poiesic/attrcat/core"
	"golang.org/x/sync/errgroup"
)

// Source is a feed file together with its consolidation spec.
type Source struct {
	Path string
	Spec consolidate.FeedSpec
}

// ReadAll reads every record of the feed at path. Malformed rows are
// returned separately and do not stop the read.
func ReadAll(ctx context.Context, feedID, path string) ([]core.SourceRecord, []*core.RecordError, error) {
	r, err := Open(feedID, path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	var (
		records  []core.SourceRecord
		rejected []*core.RecordError
	)
	for n := 0; ; n++ {
		if n%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}

		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var rerr *core.RecordError
		if errors.As(err, &rerr) {
			rejected = append(rejected, rerr)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading feed %s: %w", path, err)
		}
		records = append(records, rec)
	}
	return records, rejected, nil
}

// Loaded is the result of LoadAll.
type Loaded struct {
	// Feeds in the same order as the sources, ready for consolidation.
	Feeds []consolidate.Feed

	// Rejected rows of every feed, grouped by feed in source order.
	Rejected []*core.RecordError
}

// LoadAll reads all sources in parallel. Feeds are returned in source order,
// which is their consolidation precedence. Any unreadable file fails the load.
func LoadAll(ctx context.Context, sources []Source, logger *slog.Logger) (*Loaded, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "feed")

	feeds := make([]consolidate.Feed, len(sources))
	rejected := make([][]*core.RecordError, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			records, bad, err := ReadAll(gctx, src.Spec.ID, src.Path)
			if err != nil {
				return core.NewConfigurationError("load feed "+src.Spec.ID, err)
			}
			feeds[i] = consolidate.Feed{Spec: src.Spec, Records: records}
			rejected[i] = bad
			logger.Debug("loaded feed", "feed", src.Spec.ID, "path", src.Path, "records", len(records), "rejected", len(bad))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Loaded{Feeds: feeds}
	for _, bad := range rejected {
		out.Rejected = append(out.Rejected, bad...)
	}
	return out, nil
}
