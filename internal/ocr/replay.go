package ocr

import (
	"context"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ReplaySuffix names the recorded response file next to a document.
const ReplaySuffix = ".response.json"

// Replay serves recorded model responses instead of calling the service. It
// reads <document>.response.json and parses it like a live reply.
type Replay struct {
	mu           sync.RWMutex
	instructions string
}

// NewReplay creates a Replay extractor.
func NewReplay(instructions string) *Replay {
	return &Replay{instructions: instructions}
}

// SetInstructions records the installed instruction document. Recorded
// responses do not change with it.
func (r *Replay) SetInstructions(doc string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instructions = doc
}

// Instructions returns the installed instruction document.
func (r *Replay) Instructions() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instructions
}

// Extract parses the recorded response for documentPath.
func (r *Replay) Extract(ctx context.Context, documentPath string) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "ocr: replay")
	}

	data, err := os.ReadFile(documentPath + ReplaySuffix)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: read recorded response for %s", documentPath)
	}

	text := string(data)
	raws := ParseCandidates(text)
	zap.L().Debug("ocr: replayed response",
		zap.String("document", documentPath),
		zap.Int("candidates", len(raws)),
	)

	out := make([]Candidate, len(raws))
	for i, raw := range raws {
		out[i] = Candidate{Raw: raw, Response: text}
	}
	return out, nil
}
