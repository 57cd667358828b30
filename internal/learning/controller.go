// Package learning drives the feedback loop: analyze failures, refine the
// extraction instructions, re-extract the failing inputs and record the
// accuracy change.
package learning

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/extract-trainer/internal/analyzer"
	"github.com/sells-group/extract-trainer/internal/model"
	"github.com/sells-group/extract-trainer/internal/ocr"
	"github.com/sells-group/extract-trainer/internal/refiner"
	"github.com/sells-group/extract-trainer/internal/resilience"
	"github.com/sells-group/extract-trainer/internal/scorer"
	"github.com/sells-group/extract-trainer/internal/store"
)

// State is a phase of one training round.
type State int

const (
	StateIdle State = iota
	StateAnalyzingFailures
	StateRefining
	StateReExtracting
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAnalyzingFailures:
		return "analyzing_failures"
	case StateRefining:
		return "refining"
	case StateReExtracting:
		return "re_extracting"
	case StateRecording:
		return "recording"
	}
	return "unknown"
}

// Options tunes a Controller.
type Options struct {
	// ReextractCap bounds the failing examples re-extracted per round.
	ReextractCap int
	// MaxSamples bounds the mismatch samples kept per field in reports.
	MaxSamples int
	// TargetAccuracy is the percentage the recommendation is judged against.
	TargetAccuracy float64
}

// RoundResult is the structured report of one round.
type RoundResult struct {
	SessionID           string
	NoImprovementNeeded bool
	// Iteration is the appended record, nil when no improvement was needed.
	Iteration      *model.Iteration
	AccuracyBefore float64
	AccuracyAfter  float64
	Failing        int
	Attempted      int
	Reextracted    int
	Improved       int
	Skipped        int
	Patterns       []analyzer.PatternTag
	FieldErrors    analyzer.FieldErrorReport
	Recommendation string
}

// Controller performs one training round per RunRound call. Rounds are
// serialized.
type Controller struct {
	store     store.Store
	extractor ocr.Extractor
	opts      Options

	run sync.Mutex

	mu           sync.RWMutex
	state        State
	instructions refiner.Instructions
}

// NewController creates a Controller whose refinements build on current.
func NewController(st store.Store, extractor ocr.Extractor, opts Options, current refiner.Instructions) *Controller {
	if opts.ReextractCap <= 0 {
		opts.ReextractCap = 10
	}
	return &Controller{
		store:        st,
		extractor:    extractor,
		opts:         opts,
		instructions: current,
	}
}

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Instructions returns the installed instruction set.
func (c *Controller) Instructions() refiner.Instructions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instructions
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	from := c.state
	c.state = s
	c.mu.Unlock()
	zap.L().Debug("learning: state transition",
		zap.String("from", from.String()),
		zap.String("to", s.String()),
	)
}

// Accuracy measures the current comparison state of the store.
func (c *Controller) Accuracy(ctx context.Context) (float64, error) {
	validated, err := c.store.ListValidated(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "learning: list validated")
	}
	return analyzer.ComputeAccuracy(analyzer.Current(validated)), nil
}

// RunRound runs AnalyzingFailures, Refining, ReExtracting and Recording
// against sessionID and returns to Idle. A round with no failing examples
// records nothing and makes no extraction call. Per-item extraction failures
// are skipped; store failures abort the round.
func (c *Controller) RunRound(ctx context.Context, sessionID string) (*RoundResult, error) {
	c.run.Lock()
	defer c.run.Unlock()
	defer c.setState(StateIdle)

	log := zap.L().With(zap.String("session", sessionID))

	// AnalyzingFailures
	c.setState(StateAnalyzingFailures)
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	validated, err := c.store.ListValidated(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "learning: list validated")
	}
	current := analyzer.Current(validated)
	before := analyzer.ComputeAccuracy(current)
	failing := analyzer.Failing(current)

	result := &RoundResult{
		SessionID:      sessionID,
		AccuracyBefore: before,
		Failing:        len(failing),
	}

	if len(failing) == 0 {
		result.NoImprovementNeeded = true
		result.AccuracyAfter = before
		c.summarize(result, current)
		log.Info("learning: no improvement needed",
			zap.Float64("accuracy", before),
			zap.Int("validated", len(current)),
		)
		return result, nil
	}

	// Refining
	c.setState(StateRefining)
	tags := analyzer.ClassifyFailurePatterns(failing)
	refined := refiner.Extend(c.Instructions(), tags)
	c.extractor.SetInstructions(refined.Document)
	c.mu.Lock()
	c.instructions = refined
	c.mu.Unlock()
	if err := c.store.SaveInstructions(ctx, store.Instructions{Tags: refined.TagStrings(), Document: refined.Document}); err != nil {
		return nil, eris.Wrap(err, "learning: save instructions")
	}
	log.Info("learning: instructions refined",
		zap.String("patterns", analyzer.JoinTags(tags)),
		zap.Int("failing", len(failing)),
	)

	// ReExtracting
	c.setState(StateReExtracting)
	number := NextIteration(validated, session)
	targets := lowestConfidence(failing, c.opts.ReextractCap)
	result.Attempted = len(targets)
	for _, ex := range targets {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "learning: round canceled")
		}
		cand, scored, err := c.reextract(ctx, ex)
		if err != nil {
			if !resilience.Skippable(err) || ctx.Err() != nil {
				return nil, err
			}
			result.Skipped++
			log.Warn("learning: re-extraction skipped",
				zap.String("example", ex.ID),
				zap.String("document", ex.Source.DocumentPath),
				zap.String("kind", string(resilience.Classify(err))),
				zap.Error(err),
			)
			continue
		}
		// Store failures abort the round whatever their type.
		if _, err := c.store.CreateValidatedExample(ctx, ex.Source, scored, cand.Response, number, *ex.GroundTruth); err != nil {
			return nil, eris.Wrap(err, "learning: store re-extracted example")
		}
		result.Reextracted++
		if scored.Confidence.Overall() > ex.OverallConfidence() {
			result.Improved++
		}
	}

	// Recording
	c.setState(StateRecording)
	validated, err = c.store.ListValidated(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "learning: list validated")
	}
	current = analyzer.Current(validated)
	result.AccuracyAfter = analyzer.ComputeAccuracy(current)

	improvements := refiner.Improvements(tags)
	improvements = append(improvements, fmt.Sprintf("Re-extracted %d of %d failing examples; %d improved confidence",
		result.Reextracted, len(failing), result.Improved))
	it := model.Iteration{
		Number:            number,
		ExamplesProcessed: result.Reextracted,
		AccuracyBefore:    before,
		AccuracyAfter:     result.AccuracyAfter,
		Improvements:      improvements,
		Patterns:          tagNames(tags),
		CreatedAt:         time.Now().UTC(),
	}
	if _, err := c.store.AppendIteration(ctx, sessionID, it); err != nil {
		return nil, eris.Wrap(err, "learning: append iteration")
	}
	result.Iteration = &it
	c.summarize(result, current)

	log.Info("learning: round complete",
		zap.Int("iteration", number),
		zap.Float64("accuracy_before", before),
		zap.Float64("accuracy_after", result.AccuracyAfter),
		zap.Int("reextracted", result.Reextracted),
		zap.Int("improved", result.Improved),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (c *Controller) summarize(result *RoundResult, current []model.Example) {
	result.FieldErrors = analyzer.AnalyzeFieldErrors(current, c.opts.MaxSamples)
	result.Patterns = analyzer.ClassifyFailurePatterns(current)
	result.Recommendation = analyzer.Recommend(result.AccuracyAfter, c.opts.TargetAccuracy, result.Patterns)
}

// reextract runs extraction on ex's source again and returns the candidate
// matching ex. The caller stores it as a new example carrying the known
// ground truth forward.
func (c *Controller) reextract(ctx context.Context, ex model.Example) (ocr.Candidate, model.ScoredRecord, error) {
	candidates, err := c.extractor.Extract(ctx, ex.Source.DocumentPath)
	if err != nil {
		return ocr.Candidate{}, model.ScoredRecord{}, err
	}

	cand, scored, ok := match(candidates, ex)
	if !ok {
		return ocr.Candidate{}, model.ScoredRecord{}, eris.Errorf("learning: no candidate matches example %s in %d candidates", ex.ID, len(candidates))
	}
	return cand, scored, nil
}

// match picks the candidate for ex: the first whose sequence number equals
// the known one, else the candidate at the example's record index.
func match(candidates []ocr.Candidate, ex model.Example) (ocr.Candidate, model.ScoredRecord, bool) {
	scored := make([]model.ScoredRecord, len(candidates))
	for i, cand := range candidates {
		scored[i] = scorer.Score(cand.Raw)
	}

	want := ex.GroundTruth.Seq
	if want == nil {
		want = ex.Record.Seq
	}
	if want != nil {
		for i, s := range scored {
			if s.Record.Seq != nil && *s.Record.Seq == *want {
				return candidates[i], s, true
			}
		}
	}

	if i := ex.Source.RecordIndex; i >= 0 && i < len(candidates) {
		return candidates[i], scored[i], true
	}
	return ocr.Candidate{}, model.ScoredRecord{}, false
}

func tagNames(tags []analyzer.PatternTag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t)
	}
	return out
}

// lowestConfidence returns up to limit examples, lowest overall confidence
// first. Ties keep their original order.
func lowestConfidence(examples []model.Example, limit int) []model.Example {
	out := append([]model.Example(nil), examples...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OverallConfidence() < out[j].OverallConfidence()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
