package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/extract-trainer/internal/capture"
	"github.com/sells-group/extract-trainer/internal/config"
	"github.com/sells-group/extract-trainer/internal/cost"
	"github.com/sells-group/extract-trainer/internal/monitoring"
	"github.com/sells-group/extract-trainer/internal/ocr"
	"github.com/sells-group/extract-trainer/internal/pipeline"
	"github.com/sells-group/extract-trainer/internal/refiner"
	"github.com/sells-group/extract-trainer/internal/resilience"
	"github.com/sells-group/extract-trainer/internal/store"
	anthropicpkg "github.com/sells-group/extract-trainer/pkg/anthropic"
	"github.com/sells-group/extract-trainer/pkg/jina"
)

// pipelineEnv holds the store, clients and pipeline shared by the commands.
type pipelineEnv struct {
	Store        store.Store
	Tracker      *cost.Tracker
	Instructions refiner.Instructions
	Extractor    ocr.Extractor // nil unless the mode extracts
	Pipeline     *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// extracts reports whether mode calls the extraction service.
func extracts(mode string) bool {
	return mode == config.ModeCapture || mode == config.ModeTrain
}

// initPipeline validates the config for mode, opens the store, restores the
// installed instructions and builds the clients mode needs. Callers should
// defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	ins, err := loadInstructions(ctx, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	env := &pipelineEnv{
		Store:        st,
		Tracker:      cost.NewTracker(cost.NewCalculator(cost.FromConfig(cfg.Pricing))),
		Instructions: ins,
	}

	var capturer capture.Capturer
	if extracts(mode) {
		var client anthropicpkg.Client
		if cfg.OCR.Provider != "replay" {
			client = anthropicpkg.NewClient(cfg.Anthropic.Key)
		}
		env.Extractor, err = ocr.NewExtractor(cfg, client, env.Tracker, ins.Document)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "init extractor")
		}

		jinaOpts := []jina.Option{jina.WithBaseURL(cfg.Jina.BaseURL)}
		if cfg.Jina.TimeoutSecs > 0 {
			jinaOpts = append(jinaOpts, jina.WithTimeout(time.Duration(cfg.Jina.TimeoutSecs)*time.Second))
		}
		capturer = capture.NewWebCapturer(jina.NewClient(cfg.Jina.Key, jinaOpts...), cfg.Storage.DocumentsDir, env.Tracker).
			WithBreaker(resilience.NewCircuitBreaker("jina", resilience.FromCircuitConfig(cfg.Circuit)))
	}

	env.Pipeline = pipeline.New(cfg, st, capturer, env.Extractor,
		monitoring.NewCollector(st, env.Tracker),
		monitoring.NewAlerter(cfg.Monitoring, cfg.Learning.TargetAccuracy),
	)

	zap.L().Debug("pipeline initialized",
		zap.String("mode", mode),
		zap.String("store", cfg.Store.Driver),
		zap.Strings("instruction_tags", ins.TagStrings()),
	)
	return env, nil
}

// loadInstructions restores the most recently installed instructions, or the
// base document when none were saved.
func loadInstructions(ctx context.Context, st store.Store) (refiner.Instructions, error) {
	saved, err := st.LatestInstructions(ctx)
	if err != nil {
		return refiner.Instructions{}, eris.Wrap(err, "load instructions")
	}
	if saved == nil {
		return refiner.Base(), nil
	}
	ins := refiner.FromTags(saved.Tags)
	if saved.Document != "" {
		ins.Document = saved.Document
	}
	return ins, nil
}
