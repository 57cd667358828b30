// Package monitoring rolls extraction activity into metrics snapshots and
// raises alerts when a snapshot breaches configured thresholds.
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/extract-trainer/internal/analyzer"
	"github.com/sells-group/extract-trainer/internal/model"
	"github.com/sells-group/extract-trainer/internal/store"
)

// Tally counts extraction outcomes during one run. It is safe for
// concurrent use.
type Tally struct {
	mu            sync.Mutex
	found         int
	succeeded     int
	failed        int
	confidenceSum float64
}

// Found adds n candidate records returned by the extraction service.
func (t *Tally) Found(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.found += n
}

// Succeed records a stored record without field errors.
func (t *Tally) Succeed(confidence float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.succeeded++
	t.confidenceSum += confidence
}

// Fail records a record with field errors or a document that produced
// nothing.
func (t *Tally) Fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed++
}

// Counts returns found, succeeded and failed.
func (t *Tally) Counts() (found, succeeded, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.found, t.succeeded, t.failed
}

// AverageConfidence is the mean overall confidence of succeeded records.
func (t *Tally) AverageConfidence() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.succeeded == 0 {
		return 0
	}
	return t.confidenceSum / float64(t.succeeded)
}

// CostSource reports accumulated API spend.
type CostSource interface {
	Total() float64
}

// Collector builds metrics snapshots from a run tally and store state.
type Collector struct {
	store store.Store
	cost  CostSource
}

// NewCollector creates a new metrics collector. cost may be nil.
func NewCollector(st store.Store, cost CostSource) *Collector {
	return &Collector{store: st, cost: cost}
}

// Collect builds a snapshot without persisting it.
func (c *Collector) Collect(ctx context.Context, tally *Tally) (*model.MetricsSnapshot, error) {
	validated, err := c.store.ListValidated(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list validated")
	}

	found, succeeded, failed := tally.Counts()
	snap := &model.MetricsSnapshot{
		Found:             found,
		Succeeded:         succeeded,
		Failed:            failed,
		AverageConfidence: tally.AverageConfidence(),
		Accuracy:          analyzer.ComputeAccuracy(analyzer.Current(validated)),
		RecordedAt:        time.Now().UTC(),
	}
	if c.cost != nil {
		snap.CostUSD = c.cost.Total()
	}
	return snap, nil
}

// Record collects a snapshot and appends it to the bounded history.
func (c *Collector) Record(ctx context.Context, tally *Tally) (*model.MetricsSnapshot, error) {
	snap, err := c.Collect(ctx, tally)
	if err != nil {
		return nil, err
	}
	if err := c.store.RecordMetrics(ctx, *snap); err != nil {
		return nil, eris.Wrap(err, "monitoring: record metrics")
	}

	zap.L().Info("monitoring: metrics recorded",
		zap.Int("found", snap.Found),
		zap.Int("succeeded", snap.Succeeded),
		zap.Int("failed", snap.Failed),
		zap.Float64("avg_confidence", snap.AverageConfidence),
		zap.Float64("accuracy", snap.Accuracy),
		zap.Float64("cost_usd", snap.CostUSD),
	)
	return snap, nil
}
