package ocr

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/extract-trainer/internal/cost"
	"github.com/sells-group/extract-trainer/internal/resilience"
	"github.com/sells-group/extract-trainer/pkg/anthropic"
)

const extractPrompt = "Extract every record from the attached document. Reply with the JSON array only."

// ClaudeOptions tunes a Claude extractor.
type ClaudeOptions struct {
	Model        string
	MaxTokens    int64
	RequestDelay time.Duration
	Tracker      *cost.Tracker
	// Breaker, when set, rejects calls while the service keeps failing.
	Breaker *resilience.CircuitBreaker
}

// Claude extracts records with a Claude vision model. Calls are serialized
// and spaced by at least RequestDelay.
type Claude struct {
	client  anthropic.Client
	opts    ClaudeOptions
	limiter *rate.Limiter

	callMu sync.Mutex

	mu           sync.RWMutex
	instructions string
}

// NewClaude creates a Claude extractor using instructions as the system
// prompt.
func NewClaude(client anthropic.Client, opts ClaudeOptions, instructions string) *Claude {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	limit := rate.Inf
	if opts.RequestDelay > 0 {
		limit = rate.Every(opts.RequestDelay)
	}
	return &Claude{
		client:       client,
		opts:         opts,
		limiter:      rate.NewLimiter(limit, 1),
		instructions: instructions,
	}
}

// SetInstructions installs the instruction document used by later calls.
func (c *Claude) SetInstructions(doc string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instructions = doc
}

// Instructions returns the installed instruction document.
func (c *Claude) Instructions() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instructions
}

// Extract sends the document to the model and parses the reply. API failures
// are returned as *resilience.TransientError.
func (c *Claude) Extract(ctx context.Context, documentPath string) ([]Candidate, error) {
	data, err := os.ReadFile(documentPath)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: read document %s", documentPath)
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()

	log := zap.L().With(zap.String("document", documentPath), zap.String("model", c.opts.Model))
	start := time.Now()

	resp, err := resilience.Call(ctx, c.opts.Breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "ocr: wait for rate limiter")
		}
		resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       c.opts.Model,
			MaxTokens:   c.opts.MaxTokens,
			System:      anthropic.CachedSystem(c.Instructions()),
			Temperature: new(float64),
			Messages: []anthropic.Message{{
				Role:        "user",
				Content:     extractPrompt,
				Attachments: []anthropic.Attachment{{MediaType: MediaTypeFor(documentPath), Data: data}},
			}},
		})
		if err != nil {
			status := anthropic.StatusCode(err)
			log.Warn("ocr: extraction call failed", zap.Int("status", status), zap.Error(err))
			return nil, resilience.NewTransientError("anthropic", err, status)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	resp.Usage.LogUsage(c.opts.Model, "extract")
	if c.opts.Tracker != nil {
		c.opts.Tracker.AddClaude(c.opts.Model,
			resp.Usage.InputTokens, resp.Usage.OutputTokens,
			resp.Usage.CacheCreationInputTokens, resp.Usage.CacheReadInputTokens)
	}

	text := resp.Text()
	raws := ParseCandidates(text)
	log.Info("ocr: extraction complete",
		zap.Int("candidates", len(raws)),
		zap.Duration("elapsed", time.Since(start)),
	)

	out := make([]Candidate, len(raws))
	for i, raw := range raws {
		out[i] = Candidate{Raw: raw, Response: text}
	}
	return out, nil
}

// MediaTypeFor picks the attachment media type from a document's extension.
func MediaTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return anthropic.MediaPDF
	case ".png":
		return anthropic.MediaPNG
	case ".jpg", ".jpeg":
		return anthropic.MediaJPEG
	default:
		return anthropic.MediaText
	}
}
