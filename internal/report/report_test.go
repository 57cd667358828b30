package report

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/extract-trainer/internal/analyzer"
	"github.com/sells-group/extract-trainer/internal/model"
	"github.com/sells-group/extract-trainer/internal/scorer"
	"github.com/sells-group/extract-trainer/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "report.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func rawRecord(seq int, code string) map[string]any {
	return map[string]any{
		"seq":         float64(seq),
		"date":        "03/07/2024",
		"ref":         "REF-001",
		"category":    "PENERBITAN DAN PENYIARAN",
		"description": "A full description over ten chars",
		"code":        code,
		"status":      "Aktif",
	}
}

func seed(t *testing.T, st store.Store, doc string, code string, validate bool) {
	t.Helper()
	ctx := context.Background()
	ex, err := st.CreateExample(ctx, model.Source{DocumentPath: doc}, scorer.Score(rawRecord(1, code)), "", 0)
	require.NoError(t, err)
	if validate {
		_, err = st.AttachValidation(ctx, ex.ID, scorer.Score(rawRecord(1, "010302")).Record)
		require.NoError(t, err)
	}
}

func TestBuilder_Build(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seed(t, st, "a.md", "010302", true)
	seed(t, st, "b.md", "010302", true)
	seed(t, st, "c.md", "010302", true)
	seed(t, st, "d.md", "010303", true)
	seed(t, st, "e.md", "010302", false)

	session, err := st.StartSession(ctx)
	require.NoError(t, err)
	_, err = st.AppendIteration(ctx, session.ID, model.Iteration{
		Number:         1,
		AccuracyBefore: 50,
		AccuracyAfter:  75,
		Improvements:   []string{"Re-extracted 1 of 2 failing examples; 1 improved confidence"},
	})
	require.NoError(t, err)
	require.NoError(t, st.RecordMetrics(ctx, model.MetricsSnapshot{Found: 5, Succeeded: 4, Failed: 1, RecordedAt: time.Now()}))

	snap, err := NewBuilder(st, 95, 3).Build(ctx)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.TotalExamples)
	assert.Equal(t, 4, snap.Validated)
	assert.Equal(t, 1, snap.Unvalidated)
	assert.Equal(t, 75.0, snap.Accuracy)
	assert.Equal(t, 3, snap.Perfect)
	assert.Equal(t, 75.0, snap.PerfectRate)
	assert.Equal(t, []analyzer.PatternTag{analyzer.PatternCode}, snap.Patterns)
	assert.Equal(t, "code: 25.00% (1/4)", snap.FieldErrors.Field(model.FieldCode).String())
	assert.Contains(t, snap.Recommendation, "focused on: code-format")
	assert.Equal(t, 1, snap.Sessions)
	require.NotNil(t, snap.LatestSession)
	assert.Equal(t, session.ID, snap.LatestSession.ID)
	require.Len(t, snap.LatestSession.Iterations, 1)
	require.NotNil(t, snap.LatestMetrics)
	assert.Equal(t, 5, snap.LatestMetrics.Found)
	assert.Greater(t, snap.AverageConfidence, 0.9)

	out := Format(snap)
	assert.Contains(t, out, "Accuracy: 75.00% (target 95.00%)")
	assert.Contains(t, out, "Perfect extractions: 3 (75.00%)")
	assert.Contains(t, out, "- code: 25.00% (1/4)")
	assert.Contains(t, out, `got "010303", want "010302"`)
	assert.Contains(t, out, "Iteration 1: 50.00% -> 75.00% (+25.00)")
	assert.Contains(t, out, "Found 5, succeeded 4, failed 1")
}

func TestBuilder_Build_Empty(t *testing.T) {
	snap, err := NewBuilder(newTestStore(t), 95, 3).Build(context.Background())
	require.NoError(t, err)

	assert.Zero(t, snap.TotalExamples)
	assert.Equal(t, 0.0, snap.Accuracy)
	assert.Empty(t, snap.Patterns)
	assert.Nil(t, snap.LatestSession)
	assert.Nil(t, snap.LatestMetrics)
	assert.Contains(t, snap.Recommendation, "Validate more examples")

	out := Format(snap)
	assert.Contains(t, out, "No validated examples.")
	assert.NotContains(t, out, "Latest Capture")
}

func TestBuilder_Publish(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seed(t, st, "a.md", "010303", true)

	b := NewBuilder(st, 95, 3)
	snap, err := b.Build(ctx)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "reports", "latest.yaml")
	require.NoError(t, b.Publish(ctx, snap, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, 1, decoded["validated"])
	assert.Equal(t, []any{"code-format"}, decoded["patterns"])

	latest, err := Latest(ctx, st)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, snap.Accuracy, latest.Accuracy)
	assert.Equal(t, snap.Patterns, latest.Patterns)

	// Publishing again overwrites the stored snapshot.
	seed(t, st, "b.md", "010302", true)
	snap, err = b.Build(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, snap, ""))

	latest, err = Latest(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 50.0, latest.Accuracy)
}

func TestLatest_None(t *testing.T) {
	snap, err := Latest(context.Background(), newTestStore(t))
	require.NoError(t, err)
	assert.Nil(t, snap)
}
