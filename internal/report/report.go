// Package report builds the accuracy snapshot published after analysis.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/extract-trainer/internal/analyzer"
	"github.com/sells-group/extract-trainer/internal/model"
	"github.com/sells-group/extract-trainer/internal/store"
)

// Snapshot is the published state of the training loop.
type Snapshot struct {
	GeneratedAt       time.Time                 `json:"generated_at" yaml:"generated_at"`
	TotalExamples     int                       `json:"total_examples" yaml:"total_examples"`
	Validated         int                       `json:"validated" yaml:"validated"`
	Unvalidated       int                       `json:"unvalidated" yaml:"unvalidated"`
	Accuracy          float64                   `json:"accuracy" yaml:"accuracy"`
	TargetAccuracy    float64                   `json:"target_accuracy" yaml:"target_accuracy"`
	Perfect           int                       `json:"perfect" yaml:"perfect"`
	PerfectRate       float64                   `json:"perfect_rate" yaml:"perfect_rate"`
	AverageConfidence float64                   `json:"average_confidence" yaml:"average_confidence"`
	FieldErrors       analyzer.FieldErrorReport `json:"field_errors" yaml:"field_errors"`
	Patterns          []analyzer.PatternTag     `json:"patterns" yaml:"patterns"`
	Recommendation    string                    `json:"recommendation" yaml:"recommendation"`
	Sessions          int                       `json:"sessions" yaml:"sessions"`
	LatestSession     *model.Session            `json:"latest_session,omitempty" yaml:"latest_session,omitempty"`
	LatestMetrics     *model.MetricsSnapshot    `json:"latest_metrics,omitempty" yaml:"latest_metrics,omitempty"`
}

// Builder assembles snapshots from the store.
type Builder struct {
	store      store.Store
	target     float64
	maxSamples int
}

// NewBuilder creates a Builder judging accuracy against target.
func NewBuilder(st store.Store, target float64, maxSamples int) *Builder {
	return &Builder{store: st, target: target, maxSamples: maxSamples}
}

// Build reads the store concurrently and computes a snapshot over the latest
// validated example per source.
func (b *Builder) Build(ctx context.Context) (*Snapshot, error) {
	var (
		validated   []model.Example
		unvalidated []model.Example
		sessions    []model.Session
		metrics     *model.MetricsSnapshot
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		validated, err = b.store.ListValidated(gctx, nil)
		return eris.Wrap(err, "report: list validated")
	})
	g.Go(func() error {
		var err error
		unvalidated, err = b.store.ListUnvalidated(gctx)
		return eris.Wrap(err, "report: list unvalidated")
	})
	g.Go(func() error {
		var err error
		sessions, err = b.store.ListSessions(gctx)
		return eris.Wrap(err, "report: list sessions")
	})
	g.Go(func() error {
		var err error
		metrics, err = b.store.LatestMetrics(gctx)
		return eris.Wrap(err, "report: latest metrics")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	current := analyzer.Current(validated)
	fieldErrors := analyzer.AnalyzeFieldErrors(current, b.maxSamples)
	patterns := analyzer.ClassifyFailurePatterns(current)
	accuracy := analyzer.ComputeAccuracy(current)

	snap := &Snapshot{
		GeneratedAt:       time.Now().UTC(),
		TotalExamples:     len(validated) + len(unvalidated),
		Validated:         len(current),
		Unvalidated:       len(unvalidated),
		Accuracy:          accuracy,
		TargetAccuracy:    b.target,
		Perfect:           fieldErrors.Perfect,
		PerfectRate:       fieldErrors.PerfectRate(),
		AverageConfidence: averageConfidence(current),
		FieldErrors:       fieldErrors,
		Patterns:          patterns,
		Recommendation:    analyzer.Recommend(accuracy, b.target, patterns),
		Sessions:          len(sessions),
		LatestMetrics:     metrics,
	}
	if len(sessions) > 0 {
		latest := sessions[len(sessions)-1]
		snap.LatestSession = &latest
	}
	return snap, nil
}

// Publish saves snap to the store as JSON and, when path is set, writes it
// as YAML.
func (b *Builder) Publish(ctx context.Context, snap *Snapshot, path string) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "report: marshal snapshot")
	}
	if err := b.store.SaveReport(ctx, data); err != nil {
		return eris.Wrap(err, "report: save snapshot")
	}
	if path == "" {
		return nil
	}
	if err := WriteYAML(path, snap); err != nil {
		return err
	}
	zap.L().Info("report: snapshot published", zap.String("path", path))
	return nil
}

// Latest decodes the last published snapshot, or returns nil if none exists.
func Latest(ctx context.Context, st store.Store) (*Snapshot, error) {
	data, err := st.LatestReport(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "report: load snapshot")
	}
	if data == nil {
		return nil, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &model.StorageError{Op: "decode report", Err: err}
	}
	return &snap, nil
}

// WriteYAML writes snap to path, creating parent directories.
func WriteYAML(path string, snap *Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "report: marshal yaml")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "report: create %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "report: write %s", path)
	}
	return nil
}

// Format renders snap for the terminal.
func Format(snap *Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Extraction Accuracy Report\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", snap.GeneratedAt.Format(time.RFC3339))

	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Examples: %d total, %d validated, %d awaiting review\n",
		snap.TotalExamples, snap.Validated, snap.Unvalidated)
	fmt.Fprintf(&b, "- Accuracy: %.2f%% (target %.2f%%)\n", snap.Accuracy, snap.TargetAccuracy)
	fmt.Fprintf(&b, "- Perfect extractions: %d (%.2f%%)\n", snap.Perfect, snap.PerfectRate)
	fmt.Fprintf(&b, "- Average confidence: %.3f\n\n", snap.AverageConfidence)

	b.WriteString("## Field Errors\n")
	if snap.FieldErrors.Total == 0 {
		b.WriteString("No validated examples.\n")
	}
	for _, stat := range snap.FieldErrors.Fields {
		fmt.Fprintf(&b, "- %s\n", stat)
		for _, m := range stat.Samples {
			fmt.Fprintf(&b, "  %s: got %q, want %q\n", m.ExampleID, m.Extracted, m.Expected)
		}
	}
	b.WriteString("\n")

	b.WriteString("## Failure Patterns\n")
	if len(snap.Patterns) == 0 {
		b.WriteString("None.\n")
	} else {
		fmt.Fprintf(&b, "%s\n", analyzer.JoinTags(snap.Patterns))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Sessions (%d)\n", snap.Sessions)
	if s := snap.LatestSession; s != nil {
		fmt.Fprintf(&b, "Latest: %s started %s\n", s.ID, s.StartedAt.Format(time.RFC3339))
		for _, it := range s.Iterations {
			fmt.Fprintf(&b, "- Iteration %d: %.2f%% -> %.2f%% (%+.2f), %d re-extracted\n",
				it.Number, it.AccuracyBefore, it.AccuracyAfter, it.Delta(), it.ExamplesProcessed)
			for _, imp := range it.Improvements {
				fmt.Fprintf(&b, "  %s\n", imp)
			}
		}
	}
	b.WriteString("\n")

	if m := snap.LatestMetrics; m != nil {
		b.WriteString("## Latest Capture\n")
		fmt.Fprintf(&b, "- Found %d, succeeded %d, failed %d\n", m.Found, m.Succeeded, m.Failed)
		fmt.Fprintf(&b, "- Average confidence %.3f, cost $%.4f\n\n", m.AverageConfidence, m.CostUSD)
	}

	fmt.Fprintf(&b, "Recommendation: %s\n", snap.Recommendation)
	return b.String()
}

func averageConfidence(examples []model.Example) float64 {
	if len(examples) == 0 {
		return 0
	}
	var sum float64
	for _, ex := range examples {
		sum += ex.OverallConfidence()
	}
	return sum / float64(len(examples))
}
