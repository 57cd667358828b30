// Package pipeline runs the capture and review stages of the training loop:
// documents are captured, extracted, scored and stored unvalidated, then
// presented one at a time for human validation.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/extract-trainer/internal/capture"
	"github.com/sells-group/extract-trainer/internal/config"
	"github.com/sells-group/extract-trainer/internal/learning"
	"github.com/sells-group/extract-trainer/internal/model"
	"github.com/sells-group/extract-trainer/internal/monitoring"
	"github.com/sells-group/extract-trainer/internal/ocr"
	"github.com/sells-group/extract-trainer/internal/resilience"
	"github.com/sells-group/extract-trainer/internal/scorer"
	"github.com/sells-group/extract-trainer/internal/store"
)

// Pipeline wires the capture, extraction and storage collaborators.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	capturer  capture.Capturer
	extractor ocr.Extractor
	collector *monitoring.Collector
	alerter   *monitoring.Alerter
}

// New creates a new Pipeline with all dependencies.
func New(
	cfg *config.Config,
	st store.Store,
	capturer capture.Capturer,
	extractor ocr.Extractor,
	collector *monitoring.Collector,
	alerter *monitoring.Alerter,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		capturer:  capturer,
		extractor: extractor,
		collector: collector,
		alerter:   alerter,
	}
}

// CaptureResult summarizes one capture run.
type CaptureResult struct {
	Iteration   int
	Documents   int
	Failed      int
	Candidates  int
	Stored      int
	NeedsReview int
	Metrics     *model.MetricsSnapshot
	Alerts      []monitoring.Alert
	Duration    time.Duration
}

// DefaultSources expands the configured entry URL over one batch of pages.
func (p *Pipeline) DefaultSources() []string {
	return capture.ExpandEntry(p.cfg.Site.EntryURL, p.cfg.Site.FirstPage, p.cfg.Learning.BatchSize)
}

// Capture turns sources (page URLs or local files) into stored, unvalidated
// examples. At most learning.batch_size documents are extracted. A document
// that fails to capture or extract is logged and skipped; a store failure
// aborts the run.
func (p *Pipeline) Capture(ctx context.Context, sources []string) (*CaptureResult, error) {
	start := time.Now()
	if len(sources) == 0 {
		sources = p.DefaultSources()
	}
	if len(sources) == 0 {
		return nil, eris.New("pipeline: no sources to capture")
	}

	iteration, err := learning.CurrentIteration(ctx, p.store)
	if err != nil {
		return nil, err
	}

	result := &CaptureResult{Iteration: iteration}
	tally := &monitoring.Tally{}

	pages := p.collect(ctx, sources, result, tally)
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "pipeline: capture canceled")
		}
		candidates, err := p.extractor.Extract(ctx, page.DocumentPath)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(err, "pipeline: capture canceled")
			}
			result.Failed++
			tally.Fail()
			zap.L().Warn("pipeline: extraction skipped",
				zap.String("document", page.DocumentPath),
				zap.String("kind", string(resilience.Classify(err))),
				zap.Error(err),
			)
			continue
		}
		// Store failures abort the run whatever their type.
		if err := p.persist(ctx, page, candidates, iteration, result, tally); err != nil {
			return nil, err
		}
	}

	snap, err := p.collector.Record(ctx, tally)
	if err != nil {
		return nil, err
	}
	result.Metrics = snap
	result.Alerts = p.alerter.Evaluate(snap)
	p.alerter.Notify(ctx, result.Alerts)
	result.Duration = time.Since(start)

	zap.L().Info("pipeline: capture complete",
		zap.Int("iteration", iteration),
		zap.Int("documents", result.Documents),
		zap.Int("failed", result.Failed),
		zap.Int("candidates", result.Candidates),
		zap.Int("stored", result.Stored),
		zap.Int("needs_review", result.NeedsReview),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// collect resolves sources into page documents, capped at the batch size.
// Sources that cannot be captured are counted as failed documents.
func (p *Pipeline) collect(ctx context.Context, sources []string, result *CaptureResult, tally *monitoring.Tally) []capture.Page {
	limit := p.cfg.Learning.BatchSize
	var pages []capture.Page
	for i, src := range sources {
		if limit > 0 && len(pages) >= limit {
			zap.L().Info("pipeline: batch size reached", zap.Int("batch_size", limit), zap.Int("remaining", len(sources)-i))
			break
		}
		if ctx.Err() != nil {
			break
		}

		var got []capture.Page
		if capture.IsURL(src) {
			page, err := p.capturer.Capture(ctx, src, p.cfg.Site.FirstPage+i)
			if err != nil {
				result.Failed++
				tally.Fail()
				zap.L().Warn("pipeline: capture skipped", zap.String("source", src), zap.Error(err))
				continue
			}
			got = []capture.Page{*page}
		} else {
			local, err := capture.Local(ctx, src, p.cfg.Storage.DocumentsDir)
			if err != nil {
				result.Failed++
				tally.Fail()
				zap.L().Warn("pipeline: local document skipped", zap.String("source", src), zap.Error(err))
				continue
			}
			got = local
		}

		for _, page := range got {
			if limit > 0 && len(pages) >= limit {
				break
			}
			pages = append(pages, page)
		}
	}
	result.Documents = len(pages)
	return pages
}

// persist scores every candidate of one document and stores it as an
// unvalidated example.
func (p *Pipeline) persist(ctx context.Context, page capture.Page, candidates []ocr.Candidate, iteration int, result *CaptureResult, tally *monitoring.Tally) error {
	log := zap.L().With(zap.String("document", page.DocumentPath))

	result.Candidates += len(candidates)
	tally.Found(len(candidates))
	if len(candidates) == 0 {
		log.Warn("pipeline: no records extracted")
		tally.Fail()
		return nil
	}

	for i, cand := range candidates {
		scored := scorer.Score(cand.Raw)
		src := model.Source{
			SourceURL:    page.SourceURL,
			DocumentPath: page.DocumentPath,
			PageIndex:    page.PageIndex,
			RecordIndex:  i,
		}
		ex, err := p.store.CreateExample(ctx, src, scored, cand.Response, iteration)
		if err != nil {
			return eris.Wrap(err, "pipeline: create example")
		}
		result.Stored++

		if len(scored.Errors) > 0 {
			tally.Fail()
		} else {
			tally.Succeed(scored.Confidence.Overall())
		}
		if ex.NeedsReview(p.cfg.Learning.ConfidenceThreshold) {
			result.NeedsReview++
			log.Debug("pipeline: example flagged for review",
				zap.String("example", ex.ID),
				zap.Float64("confidence", ex.OverallConfidence()),
				zap.Int("errors", len(ex.Errors)),
			)
		}
	}

	log.Info("pipeline: document extracted", zap.Int("records", len(candidates)))
	return nil
}
