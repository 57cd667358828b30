package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/extract-trainer/internal/review"
)

// ReviewResult summarizes one review session.
type ReviewResult struct {
	Pending  int
	Reviewed int
	Accepted int
	Edited   int
	Skipped  int
	// Quit is set when the reviewer ended the session early.
	Quit bool
}

// Review presents unvalidated examples to reviewer one at a time, oldest
// first, and attaches ground truth for accepted or edited ones. limit <= 0
// reviews every pending example. Each decision is persisted before the next
// example is shown, so quitting keeps earlier work.
func (p *Pipeline) Review(ctx context.Context, reviewer review.Reviewer, limit int) (*ReviewResult, error) {
	pending, err := p.store.ListUnvalidated(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list unvalidated")
	}

	result := &ReviewResult{Pending: len(pending)}
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	for _, ex := range pending {
		decision, err := reviewer.Review(ctx, ex)
		if errors.Is(err, review.ErrQuit) {
			result.Quit = true
			break
		}
		if err != nil {
			return result, eris.Wrapf(err, "pipeline: review example %s", ex.ID)
		}
		result.Reviewed++

		truth, ok := decision.GroundTruth(ex)
		if !ok {
			result.Skipped++
			continue
		}
		if _, err := p.store.AttachValidation(ctx, ex.ID, truth); err != nil {
			return result, eris.Wrap(err, "pipeline: attach validation")
		}
		if decision.Action == review.ActionEdit {
			result.Edited++
		} else {
			result.Accepted++
		}
		zap.L().Debug("pipeline: example validated",
			zap.String("example", ex.ID),
			zap.String("action", decision.Action.String()),
		)
	}

	zap.L().Info("pipeline: review complete",
		zap.Int("pending", result.Pending),
		zap.Int("reviewed", result.Reviewed),
		zap.Int("accepted", result.Accepted),
		zap.Int("edited", result.Edited),
		zap.Int("skipped", result.Skipped),
		zap.Bool("quit", result.Quit),
	)
	return result, nil
}
