package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/extract-trainer/internal/analyzer"
	"github.com/sells-group/extract-trainer/internal/config"
	"github.com/sells-group/extract-trainer/internal/learning"
	"github.com/sells-group/extract-trainer/internal/model"
	"github.com/sells-group/extract-trainer/internal/pipeline"
	"github.com/sells-group/extract-trainer/internal/refiner"
	"github.com/sells-group/extract-trainer/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(dir, "db", "trainer.db"),
		},
		OCR:     config.OCRConfig{Provider: "replay"},
		Jina:    config.JinaConfig{BaseURL: "https://r.jina.ai", TimeoutSecs: 5},
		Storage: config.StorageConfig{DocumentsDir: filepath.Join(dir, "docs")},
		Learning: config.LearningConfig{
			ConfidenceThreshold: 0.8,
			BatchSize:           10,
			TargetAccuracy:      95,
			ReextractCap:        10,
			MaxIterations:       5,
			MaxSamples:          3,
		},
	}
}

func TestPipelineEnv_Close_Nil(t *testing.T) {
	pe := &pipelineEnv{}
	assert.NotPanics(t, func() {
		pe.Close()
	})
}

func TestInitPipeline_CaptureMode(t *testing.T) {
	cfg = testConfig(t)

	env, err := initPipeline(context.Background(), config.ModeCapture)
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Store)
	assert.NotNil(t, env.Tracker)
	assert.NotNil(t, env.Extractor)
	assert.NotNil(t, env.Pipeline)
	assert.Equal(t, refiner.Base(), env.Instructions)
}

func TestInitPipeline_ReviewModeSkipsExtractor(t *testing.T) {
	cfg = testConfig(t)

	env, err := initPipeline(context.Background(), config.ModeReview)
	require.NoError(t, err)
	defer env.Close()

	assert.Nil(t, env.Extractor)
}

func TestInitPipeline_FailsValidation(t *testing.T) {
	cfg = testConfig(t)
	cfg.Store.Driver = "mysql"

	env, err := initPipeline(context.Background(), config.ModeReview)
	assert.Nil(t, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestInitPipeline_RestoresInstructions(t *testing.T) {
	cfg = testConfig(t)
	ctx := context.Background()

	st, err := store.Open(ctx, cfg.Store)
	require.NoError(t, err)
	refined := refiner.Refine([]analyzer.PatternTag{analyzer.PatternCode})
	require.NoError(t, st.SaveInstructions(ctx, store.Instructions{Tags: refined.TagStrings(), Document: refined.Document}))
	require.NoError(t, st.Close())

	env, err := initPipeline(ctx, config.ModeAnalyze)
	require.NoError(t, err)
	defer env.Close()

	assert.Equal(t, refined, env.Instructions)
}

func TestPrintRound(t *testing.T) {
	var buf bytes.Buffer
	printRound(&buf, &learning.RoundResult{
		Iteration:      &model.Iteration{Number: 2},
		AccuracyBefore: 50,
		AccuracyAfter:  75,
		Failing:        2,
		Attempted:      2,
		Reextracted:    2,
		Improved:       1,
		Patterns:       []analyzer.PatternTag{analyzer.PatternCode},
		Recommendation: "Run another training round.",
	})
	out := buf.String()
	assert.Contains(t, out, "Iteration 2: 50.00% -> 75.00% (+25.00)")
	assert.Contains(t, out, "re-extracted 2 of 2, improved 1, skipped 0")
	assert.Contains(t, out, "remaining patterns: code-format")

	buf.Reset()
	printRound(&buf, &learning.RoundResult{NoImprovementNeeded: true, AccuracyAfter: 100})
	assert.Contains(t, buf.String(), "No failing examples; accuracy 100.00%")
}

func TestPrintTrain(t *testing.T) {
	var buf bytes.Buffer
	printTrain(&buf, &learning.TrainResult{
		SessionID:       "s-1",
		InitialAccuracy: 50,
		FinalAccuracy:   100,
		Reason:          learning.StopTargetReached,
	})
	assert.Contains(t, buf.String(), "Stopped (target_reached) after 0 rounds: 50.00% -> 100.00%")
}

func TestPrintCaptureAndReview(t *testing.T) {
	var buf bytes.Buffer
	printCapture(&buf, &pipeline.CaptureResult{Documents: 3, Failed: 1, Candidates: 4, Stored: 4, NeedsReview: 2})
	assert.Contains(t, buf.String(), "Captured 3 documents (1 failed) at iteration 0")
	assert.Contains(t, buf.String(), "Stored 4 of 4 candidate records, 2 need review")

	buf.Reset()
	printReview(&buf, &pipeline.ReviewResult{Pending: 5, Reviewed: 2, Accepted: 1, Skipped: 1, Quit: true})
	assert.Contains(t, buf.String(), "Reviewed 2 of 5 pending: 1 accepted, 0 edited, 1 skipped")
	assert.Contains(t, buf.String(), "Review ended early")
}
