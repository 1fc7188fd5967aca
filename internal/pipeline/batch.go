package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/docgraph/internal/model"
)

// DefaultBatchConcurrency bounds concurrent documents in a batch.
const DefaultBatchConcurrency = 4

// ProcessBatch runs every request with bounded concurrency. Results are in
// request order; one document failing does not stop the others.
func (p *Pipeline) ProcessBatch(ctx context.Context, reqs []Request, concurrency int) []*model.ProcessingResult {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	start := time.Now()
	results := make([]*model.ProcessingResult, len(reqs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = p.Process(gCtx, req)
			return nil
		})
	}
	_ = g.Wait()

	var ok, cached, failed int
	for _, res := range results {
		switch {
		case !res.Success:
			failed++
		case res.Cached:
			cached++
			ok++
		default:
			ok++
		}
	}
	zap.L().Info("pipeline: batch complete",
		zap.Int("documents", len(reqs)),
		zap.Int("succeeded", ok),
		zap.Int("cached", cached),
		zap.Int("failed", failed),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return results
}
