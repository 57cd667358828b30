// Package ocr runs the vision extraction service over captured documents and
// turns its replies into raw record candidates.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/extract-trainer/internal/config"
	"github.com/sells-group/extract-trainer/internal/cost"
	"github.com/sells-group/extract-trainer/internal/resilience"
	"github.com/sells-group/extract-trainer/pkg/anthropic"
)

// Candidate is one raw record proposed by the extraction service, together
// with the full response text it was parsed from.
type Candidate struct {
	Raw      map[string]any
	Response string
}

// Extractor extracts record candidates from a captured document. A malformed
// response yields no candidates rather than an error.
type Extractor interface {
	Extract(ctx context.Context, documentPath string) ([]Candidate, error)
	// SetInstructions installs the instruction document used by later calls.
	SetInstructions(doc string)
}

// NewExtractor creates an Extractor based on config. client may be nil for
// the replay provider.
func NewExtractor(cfg *config.Config, client anthropic.Client, tracker *cost.Tracker, instructions string) (Extractor, error) {
	switch cfg.OCR.Provider {
	case "anthropic", "":
		if client == nil {
			return nil, eris.New("ocr: anthropic provider requires a client")
		}
		return NewClaude(client, ClaudeOptions{
			Model:        cfg.Anthropic.Model,
			MaxTokens:    cfg.Anthropic.MaxTokens,
			RequestDelay: cfg.Learning.RequestDelay,
			Tracker:      tracker,
			Breaker:      resilience.NewCircuitBreaker("anthropic", resilience.FromCircuitConfig(cfg.Circuit)),
		}, instructions), nil
	case "replay":
		return NewReplay(instructions), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.OCR.Provider)
	}
}
