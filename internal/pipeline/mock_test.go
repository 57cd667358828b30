package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/extract-trainer/internal/capture"
	"github.com/sells-group/extract-trainer/internal/model"
	"github.com/sells-group/extract-trainer/internal/ocr"
	"github.com/sells-group/extract-trainer/internal/review"
	"github.com/sells-group/extract-trainer/internal/store"
)

// --- Capturer Mock ---

type mockCapturer struct {
	mock.Mock
}

func (m *mockCapturer) Capture(ctx context.Context, sourceURL string, pageIndex int) (*capture.Page, error) {
	args := m.Called(ctx, sourceURL, pageIndex)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*capture.Page), args.Error(1)
}

// --- Extractor Mock ---

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, documentPath string) ([]ocr.Candidate, error) {
	args := m.Called(ctx, documentPath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ocr.Candidate), args.Error(1)
}

func (m *mockExtractor) SetInstructions(doc string) {
	m.Called(doc)
}

// --- Reviewer Stub ---

// scriptedReviewer answers with a fixed sequence of decisions and quits
// once they run out.
type scriptedReviewer struct {
	decisions []review.Decision
	seen      []string
}

func (s *scriptedReviewer) Review(_ context.Context, ex model.Example) (review.Decision, error) {
	if len(s.decisions) == 0 {
		return review.Decision{}, review.ErrQuit
	}
	s.seen = append(s.seen, ex.ID)
	d := s.decisions[0]
	s.decisions = s.decisions[1:]
	return d, nil
}

// --- Store Stubs ---

// closedWriteStore reads from a live store but sends example writes to a
// closed one, so they fail the way a broken database does.
type closedWriteStore struct {
	store.Store
	closed store.Store
}

func (s closedWriteStore) CreateExample(ctx context.Context, src model.Source, scored model.ScoredRecord, raw string, iteration int) (*model.Example, error) {
	return s.closed.CreateExample(ctx, src, scored, raw, iteration)
}

func (s closedWriteStore) AttachValidation(ctx context.Context, id string, truth model.Record) (*model.Example, error) {
	return s.closed.AttachValidation(ctx, id, truth)
}
