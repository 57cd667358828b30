package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/extract-trainer/internal/config"
	"github.com/sells-group/extract-trainer/internal/model"
	"github.com/sells-group/extract-trainer/internal/monitoring"
	"github.com/sells-group/extract-trainer/internal/ocr"
	"github.com/sells-group/extract-trainer/internal/scorer"
	"github.com/sells-group/extract-trainer/internal/store"
)

var errDisk = errors.New("disk full")

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// newClosedStore returns a migrated SQLite store that has been closed.
func newClosedStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Close())
	return st
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Site: config.SiteConfig{
			EntryURL:  "https://registry.example.test/list?page={page}",
			FirstPage: 1,
		},
		Storage: config.StorageConfig{DocumentsDir: t.TempDir()},
		Learning: config.LearningConfig{
			ConfidenceThreshold: 0.8,
			BatchSize:           10,
			TargetAccuracy:      95,
		},
		Monitoring: config.MonitoringConfig{FailureRateThreshold: 0.2},
	}
}

func newTestPipeline(cfg *config.Config, st store.Store, capturer *mockCapturer, extractor *mockExtractor) *Pipeline {
	return New(cfg, st, capturer, extractor,
		monitoring.NewCollector(st, nil),
		monitoring.NewAlerter(cfg.Monitoring, cfg.Learning.TargetAccuracy),
	)
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

func candidates(raws ...map[string]any) []ocr.Candidate {
	out := make([]ocr.Candidate, len(raws))
	for i, raw := range raws {
		out[i] = ocr.Candidate{Raw: raw, Response: `[{"seq":1}]`}
	}
	return out
}

// storeUnvalidated stores an extraction of raw without ground truth.
func storeUnvalidated(t *testing.T, st store.Store, doc string, raw map[string]any) *model.Example {
	t.Helper()
	ex, err := st.CreateExample(context.Background(), model.Source{DocumentPath: doc}, scorer.Score(raw), "", 0)
	require.NoError(t, err)
	return ex
}
