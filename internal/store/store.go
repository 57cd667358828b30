package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/extract-trainer/internal/model"
)

// MetricsHistoryCap bounds the metrics history; older snapshots are evicted.
const MetricsHistoryCap = 100

// Instructions is a persisted extraction instruction document together with
// the failure-pattern tags that produced it.
type Instructions struct {
	Tags     []string `json:"tags"`
	Document string   `json:"document"`
}

// Store owns all examples, sessions and metrics. Every backend failure is
// returned to the caller as a *model.StorageError; nothing is retried
// internally.
type Store interface {
	// Examples
	CreateExample(ctx context.Context, src model.Source, scored model.ScoredRecord, rawResponse string, iteration int) (*model.Example, error)
	GetExample(ctx context.Context, id string) (*model.Example, error)
	AttachValidation(ctx context.Context, id string, groundTruth model.Record) (*model.Example, error)
	// CreateValidatedExample stores an example with its ground truth
	// atomically; either both rows exist afterwards or neither does.
	CreateValidatedExample(ctx context.Context, src model.Source, scored model.ScoredRecord, rawResponse string, iteration int, groundTruth model.Record) (*model.Example, error)
	ListUnvalidated(ctx context.Context) ([]model.Example, error)
	ListValidated(ctx context.Context, iteration *int) ([]model.Example, error)

	// Sessions
	StartSession(ctx context.Context) (*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context) ([]model.Session, error)
	AppendIteration(ctx context.Context, sessionID string, it model.Iteration) (*model.Session, error)

	// Metrics
	RecordMetrics(ctx context.Context, snap model.MetricsSnapshot) error
	LatestMetrics(ctx context.Context) (*model.MetricsSnapshot, error)
	MetricsHistory(ctx context.Context, limit int) ([]model.MetricsSnapshot, error)

	// Instructions and report
	SaveInstructions(ctx context.Context, ins Instructions) error
	LatestInstructions(ctx context.Context) (*Instructions, error)
	SaveReport(ctx context.Context, report []byte) error
	LatestReport(ctx context.Context) ([]byte, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// exampleColumns is shared by both backends; validation columns come from a
// LEFT JOIN so "validated" can only mean "ground truth attached".
const exampleColumns = `e.id, e.source_url, e.document_path, e.page_index, e.record_index,
	e.record, e.confidences, e.errors, e.warnings, e.raw_response, e.iteration, e.created_at,
	v.ground_truth, v.validated_at`

// storageErr marks a backend failure as fatal for the run. nil stays nil.
func storageErr(err error, op string) error {
	if err == nil {
		return nil
	}
	return &model.StorageError{Op: op, Err: err}
}

func storageErrf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return storageErr(err, fmt.Sprintf(format, args...))
}

// newExample builds an unvalidated example with a fresh id.
func newExample(src model.Source, scored model.ScoredRecord, rawResponse string, iteration int) *model.Example {
	return &model.Example{
		ID:          uuid.New().String(),
		Source:      src,
		Record:      scored.Record,
		Confidence:  scored.Confidence,
		Errors:      scored.Errors,
		Warnings:    scored.Warnings,
		RawResponse: rawResponse,
		Iteration:   iteration,
		CreatedAt:   time.Now().UTC(),
	}
}

func marshalExample(scored model.ScoredRecord) (record, conf, errs, warns []byte, err error) {
	if record, err = json.Marshal(scored.Record); err != nil {
		return
	}
	confidence := scored.Confidence
	if confidence == nil {
		confidence = model.FieldConfidence{}
	}
	if conf, err = json.Marshal(confidence); err != nil {
		return
	}
	if errs, err = json.Marshal(nonNil(scored.Errors)); err != nil {
		return
	}
	warns, err = json.Marshal(nonNil(scored.Warnings))
	return
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// decodeExample fills the JSON-encoded columns of ex. Undecodable persisted
// state is a StorageError.
func decodeExample(ex *model.Example, record, conf, errs, warns, groundTruth []byte) error {
	if err := json.Unmarshal(record, &ex.Record); err != nil {
		return &model.StorageError{Op: "decode record of example " + ex.ID, Err: err}
	}
	if err := json.Unmarshal(conf, &ex.Confidence); err != nil {
		return &model.StorageError{Op: "decode confidences of example " + ex.ID, Err: err}
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &ex.Errors); err != nil {
			return &model.StorageError{Op: "decode errors of example " + ex.ID, Err: err}
		}
	}
	if len(warns) > 0 {
		if err := json.Unmarshal(warns, &ex.Warnings); err != nil {
			return &model.StorageError{Op: "decode warnings of example " + ex.ID, Err: err}
		}
	}
	if len(ex.Errors) == 0 {
		ex.Errors = nil
	}
	if len(ex.Warnings) == 0 {
		ex.Warnings = nil
	}
	if groundTruth != nil {
		var gt model.Record
		if err := json.Unmarshal(groundTruth, &gt); err != nil {
			return &model.StorageError{Op: "decode ground truth of example " + ex.ID, Err: err}
		}
		ex.GroundTruth = &gt
	}
	return nil
}
