package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/book-expert/speech-service/internal/core"
)

// SynthesizeBatch runs reqs with at most workers calls in flight. Work around
// the engine overlaps; inference itself stays serialized. Results are indexed
// like reqs; the first error is returned and cancels calls still queued.
func (p *Pipeline) SynthesizeBatch(ctx context.Context, reqs []core.SynthesisRequest, workers int) ([]*Result, error) {
	if workers < 1 {
		workers = 1
	}

	results := make([]*Result, len(reqs))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for i, req := range reqs {
		group.Go(func() error {
			result, err := p.Synthesize(groupCtx, req)
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}

			results[i] = result

			return nil
		})
	}

	err := group.Wait()

	return results, err
}
