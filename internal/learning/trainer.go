package learning

import (
	"context"

	"go.uber.org/zap"
)

// StopReason explains why training ended.
type StopReason string

const (
	StopTargetReached       StopReason = "target_reached"
	StopNoImprovementNeeded StopReason = "no_improvement_needed"
	StopMaxIterations       StopReason = "max_iterations"
)

// TrainResult summarizes a training run.
type TrainResult struct {
	SessionID       string
	InitialAccuracy float64
	FinalAccuracy   float64
	Rounds          []*RoundResult
	Reason          StopReason
}

// Trainer invokes controller rounds until the target accuracy is reached,
// a round needs no improvement or the iteration budget is spent.
type Trainer struct {
	ctrl          *Controller
	target        float64
	maxIterations int
}

// NewTrainer creates a Trainer.
func NewTrainer(ctrl *Controller, target float64, maxIterations int) *Trainer {
	return &Trainer{ctrl: ctrl, target: target, maxIterations: maxIterations}
}

// Train runs rounds against sessionID.
func (t *Trainer) Train(ctx context.Context, sessionID string) (*TrainResult, error) {
	log := zap.L().With(zap.String("session", sessionID))

	acc, err := t.ctrl.Accuracy(ctx)
	if err != nil {
		return nil, err
	}
	res := &TrainResult{SessionID: sessionID, InitialAccuracy: acc, FinalAccuracy: acc}

	for {
		if res.FinalAccuracy >= t.target {
			res.Reason = StopTargetReached
			break
		}
		if len(res.Rounds) >= t.maxIterations {
			res.Reason = StopMaxIterations
			break
		}

		round, err := t.ctrl.RunRound(ctx, sessionID)
		if err != nil {
			return res, err
		}
		res.Rounds = append(res.Rounds, round)
		res.FinalAccuracy = round.AccuracyAfter

		if round.NoImprovementNeeded {
			res.Reason = StopNoImprovementNeeded
			break
		}
	}

	log.Info("learning: training finished",
		zap.String("reason", string(res.Reason)),
		zap.Int("rounds", len(res.Rounds)),
		zap.Float64("initial_accuracy", res.InitialAccuracy),
		zap.Float64("final_accuracy", res.FinalAccuracy),
	)
	return res, nil
}
