package model

import (
	"strconv"
	"time"
)

// FieldConfidence maps each scored field to a confidence in [0,1].
type FieldConfidence map[Field]float64

// Overall is the arithmetic mean of the per-field confidences, or 0 when no
// field was scored.
func (c FieldConfidence) Overall() float64 {
	if len(c) == 0 {
		return 0
	}
	var sum float64
	for _, v := range c {
		sum += v
	}
	return sum / float64(len(c))
}

// ScoredRecord is a record after field validation.
type ScoredRecord struct {
	Record     Record          `json:"record"`
	Confidence FieldConfidence `json:"confidence"`
	Errors     []FieldError    `json:"errors,omitempty"`
	Warnings   []string        `json:"warnings,omitempty"`
}

// Source locates the input an example was extracted from.
type Source struct {
	SourceURL    string `json:"source_url"`
	DocumentPath string `json:"document_path"`
	PageIndex    int    `json:"page_index"`
	RecordIndex  int    `json:"record_index"`
}

// Key identifies the same logical input across extraction attempts.
func (s Source) Key() string {
	return s.DocumentPath + "#" + strconv.Itoa(s.RecordIndex)
}

// Example is one extraction attempt plus, once reviewed, its ground truth.
// Examples are append-only: a re-extraction produces a new Example.
type Example struct {
	ID          string          `json:"id"`
	Source      Source          `json:"source"`
	Record      Record          `json:"record"`
	Confidence  FieldConfidence `json:"confidence"`
	Errors      []FieldError    `json:"errors,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
	RawResponse string          `json:"raw_response,omitempty"`
	Iteration   int             `json:"iteration"`
	GroundTruth *Record         `json:"ground_truth,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ValidatedAt *time.Time      `json:"validated_at,omitempty"`
}

// Validated reports whether a ground-truth record is attached.
func (e Example) Validated() bool {
	return e.GroundTruth != nil
}

// OverallConfidence is the mean of the per-field confidences.
func (e Example) OverallConfidence() float64 {
	return e.Confidence.Overall()
}

// NeedsReview reports whether the example must be reviewed by a human:
// its overall confidence is below threshold or a field failed validation.
func (e Example) NeedsReview(threshold float64) bool {
	return len(e.Errors) > 0 || e.OverallConfidence() < threshold
}
