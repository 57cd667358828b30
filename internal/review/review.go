// Package review presents extracted examples for human validation.
package review

import (
	"context"
	"errors"

	"github.com/sells-group/extract-trainer/internal/model"
)

// ErrQuit is returned by a reviewer when the reviewer ends the session.
var ErrQuit = errors.New("review: quit")

// Action is the outcome of reviewing one example.
type Action int

const (
	// ActionAccept confirms the extracted record as ground truth.
	ActionAccept Action = iota
	// ActionSkip leaves the example unvalidated.
	ActionSkip
	// ActionEdit supplies a corrected record as ground truth.
	ActionEdit
)

func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionSkip:
		return "skip"
	case ActionEdit:
		return "edit"
	}
	return "unknown"
}

// Decision is a reviewer's answer for one example.
type Decision struct {
	Action Action
	// Record is the corrected record for ActionEdit.
	Record *model.Record
}

// Accept confirms the extraction.
func Accept() Decision { return Decision{Action: ActionAccept} }

// Skip defers the example.
func Skip() Decision { return Decision{Action: ActionSkip} }

// Edit replaces the extraction with a corrected record.
func Edit(r model.Record) Decision { return Decision{Action: ActionEdit, Record: &r} }

// GroundTruth returns the record to attach for ex, or false when the
// decision validates nothing.
func (d Decision) GroundTruth(ex model.Example) (model.Record, bool) {
	switch d.Action {
	case ActionAccept:
		return ex.Record, true
	case ActionEdit:
		if d.Record != nil {
			return *d.Record, true
		}
	}
	return model.Record{}, false
}

// Reviewer decides on one example at a time. Calls block until answered.
type Reviewer interface {
	Review(ctx context.Context, ex model.Example) (Decision, error)
}

// AutoReviewer accepts confident, error-free extractions and skips the rest.
// Accepting unreviewed output as ground truth hides real errors, so it is
// meant for dry runs and tests.
type AutoReviewer struct {
	Threshold float64
}

// Review implements Reviewer.
func (a AutoReviewer) Review(ctx context.Context, ex model.Example) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	if ex.NeedsReview(a.Threshold) {
		return Skip(), nil
	}
	return Accept(), nil
}
