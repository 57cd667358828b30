package model

import "time"

// Session is one continuous learning run.
type Session struct {
	ID         string      `json:"id" yaml:"id"`
	StartedAt  time.Time   `json:"started_at" yaml:"started_at"`
	Iterations []Iteration `json:"iterations" yaml:"iterations"`
}

// LastIteration returns the number of the most recent iteration, or 0.
func (s Session) LastIteration() int {
	if len(s.Iterations) == 0 {
		return 0
	}
	return s.Iterations[len(s.Iterations)-1].Number
}

// Iteration records one training step. It is never modified once appended.
type Iteration struct {
	Number            int       `json:"number" yaml:"number"`
	ExamplesProcessed int       `json:"examples_processed" yaml:"examples_processed"`
	AccuracyBefore    float64   `json:"accuracy_before" yaml:"accuracy_before"`
	AccuracyAfter     float64   `json:"accuracy_after" yaml:"accuracy_after"`
	Improvements      []string  `json:"improvements" yaml:"improvements"`
	Patterns          []string  `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	CreatedAt         time.Time `json:"created_at" yaml:"created_at"`
}

// Delta is the accuracy change produced by the iteration.
func (it Iteration) Delta() float64 {
	return it.AccuracyAfter - it.AccuracyBefore
}

// MetricsSnapshot is a point-in-time rollup of extraction activity.
type MetricsSnapshot struct {
	Found             int       `json:"found" yaml:"found"`
	Succeeded         int       `json:"succeeded" yaml:"succeeded"`
	Failed            int       `json:"failed" yaml:"failed"`
	AverageConfidence float64   `json:"average_confidence" yaml:"average_confidence"`
	Accuracy          float64   `json:"accuracy" yaml:"accuracy"`
	CostUSD           float64   `json:"cost_usd" yaml:"cost_usd"`
	RecordedAt        time.Time `json:"recorded_at" yaml:"recorded_at"`
}
