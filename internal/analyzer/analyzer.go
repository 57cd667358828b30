// Package analyzer measures extraction quality over validated examples:
// critical-field accuracy, all-field perfection, per-field error rates and the
// failure pattern tags that drive instruction refinement.
package analyzer

import (
	"fmt"
	"strings"

	"github.com/sells-group/extract-trainer/internal/model"
)

// PatternTag is a canonical failure category.
type PatternTag string

const (
	PatternSequence  PatternTag = "sequence-format"
	PatternDate      PatternTag = "date-format"
	PatternReference PatternTag = "reference-format"
	PatternText      PatternTag = "text-content"
	PatternCode      PatternTag = "code-format"
	PatternStatus    PatternTag = "status-format"
)

// Vocabulary returns every pattern tag in canonical order.
func Vocabulary() []PatternTag {
	return []PatternTag{
		PatternCode,
		PatternStatus,
		PatternText,
		PatternDate,
		PatternSequence,
		PatternReference,
	}
}

// ParsePatternTag resolves a tag name.
func ParsePatternTag(s string) (PatternTag, bool) {
	for _, t := range Vocabulary() {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Fields returns the record fields a tag covers.
func (t PatternTag) Fields() []model.Field {
	switch t {
	case PatternCode:
		return []model.Field{model.FieldCode}
	case PatternStatus:
		return []model.Field{model.FieldStatus}
	case PatternText:
		return []model.Field{model.FieldCategory, model.FieldDescription}
	case PatternDate:
		return []model.Field{model.FieldDate}
	case PatternSequence:
		return []model.Field{model.FieldSeq}
	case PatternReference:
		return []model.Field{model.FieldRef}
	}
	return nil
}

// TagFor returns the pattern tag covering field f.
func TagFor(f model.Field) PatternTag {
	for _, t := range Vocabulary() {
		for _, tf := range t.Fields() {
			if tf == f {
				return t
			}
		}
	}
	return ""
}

// IsCorrect reports whether every critical field of a validated example
// exactly equals its ground truth. Unvalidated examples are never correct.
func IsCorrect(ex model.Example) bool {
	if !ex.Validated() {
		return false
	}
	for _, f := range model.CriticalFields() {
		if !model.FieldEqual(ex.Record, *ex.GroundTruth, f) {
			return false
		}
	}
	return true
}

// IsPerfect reports whether every field of a validated example exactly
// equals its ground truth.
func IsPerfect(ex model.Example) bool {
	if !ex.Validated() {
		return false
	}
	for _, f := range model.AllFields() {
		if !model.FieldEqual(ex.Record, *ex.GroundTruth, f) {
			return false
		}
	}
	return true
}

// ComputeAccuracy returns the percentage of validated examples whose critical
// fields are all correct. Unvalidated examples are ignored; no validated
// examples yields 0.
func ComputeAccuracy(examples []model.Example) float64 {
	var validated, correct int
	for _, ex := range examples {
		if !ex.Validated() {
			continue
		}
		validated++
		if IsCorrect(ex) {
			correct++
		}
	}
	return percent(correct, validated)
}

// Failing returns the validated examples that fail critical-field match.
func Failing(examples []model.Example) []model.Example {
	var out []model.Example
	for _, ex := range examples {
		if ex.Validated() && !IsCorrect(ex) {
			out = append(out, ex)
		}
	}
	return out
}

// Current reduces an append-only example history to the latest validated
// example per source, preserving first-seen order. A re-extraction carrying
// ground truth forward therefore replaces its predecessor in the comparison.
func Current(examples []model.Example) []model.Example {
	index := make(map[string]int)
	var out []model.Example
	for _, ex := range examples {
		if !ex.Validated() {
			continue
		}
		key := ex.Source.Key()
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, ex)
			continue
		}
		prev := out[i]
		if ex.Iteration > prev.Iteration || (ex.Iteration == prev.Iteration && !ex.CreatedAt.Before(prev.CreatedAt)) {
			out[i] = ex
		}
	}
	return out
}

// Mismatch is one sampled disagreement between extraction and ground truth.
type Mismatch struct {
	ExampleID string `json:"example_id" yaml:"example_id"`
	Extracted string `json:"extracted" yaml:"extracted"`
	Expected  string `json:"expected" yaml:"expected"`
}

// FieldErrorStat is the error count and rate of one field.
type FieldErrorStat struct {
	Field   model.Field `json:"field" yaml:"field"`
	Errors  int         `json:"errors" yaml:"errors"`
	Total   int         `json:"total" yaml:"total"`
	Rate    float64     `json:"rate" yaml:"rate"`
	Samples []Mismatch  `json:"samples,omitempty" yaml:"samples,omitempty"`
}

func (s FieldErrorStat) String() string {
	return fmt.Sprintf("%s: %.2f%% (%d/%d)", s.Field, s.Rate, s.Errors, s.Total)
}

// FieldErrorReport compares every field of every validated example.
type FieldErrorReport struct {
	Total   int              `json:"total" yaml:"total"`
	Perfect int              `json:"perfect" yaml:"perfect"`
	Fields  []FieldErrorStat `json:"fields" yaml:"fields"`
}

// Field returns the stat for f.
func (r FieldErrorReport) Field(f model.Field) FieldErrorStat {
	for _, s := range r.Fields {
		if s.Field == f {
			return s
		}
	}
	return FieldErrorStat{Field: f, Total: r.Total}
}

// PerfectRate is the percentage of examples with every field correct.
func (r FieldErrorReport) PerfectRate() float64 {
	return percent(r.Perfect, r.Total)
}

// AnalyzeFieldErrors counts exact mismatches per field across validated
// examples, keeping up to maxSamples mismatches per field.
func AnalyzeFieldErrors(examples []model.Example, maxSamples int) FieldErrorReport {
	fields := model.AllFields()
	stats := make([]FieldErrorStat, len(fields))
	for i, f := range fields {
		stats[i].Field = f
	}

	var report FieldErrorReport
	for _, ex := range examples {
		if !ex.Validated() {
			continue
		}
		report.Total++
		perfect := true
		for i, f := range fields {
			if model.FieldEqual(ex.Record, *ex.GroundTruth, f) {
				continue
			}
			perfect = false
			stats[i].Errors++
			if len(stats[i].Samples) < maxSamples {
				stats[i].Samples = append(stats[i].Samples, Mismatch{
					ExampleID: ex.ID,
					Extracted: display(ex.Record, f),
					Expected:  display(*ex.GroundTruth, f),
				})
			}
		}
		if perfect {
			report.Perfect++
		}
	}

	for i := range stats {
		stats[i].Total = report.Total
		stats[i].Rate = percent(stats[i].Errors, report.Total)
	}
	report.Fields = stats
	return report
}

// ClassifyFailurePatterns returns, in vocabulary order, the tags whose fields
// mismatch in at least one validated example. The result is empty iff no
// field mismatches exist.
func ClassifyFailurePatterns(examples []model.Example) []PatternTag {
	seen := make(map[PatternTag]bool)
	for _, ex := range examples {
		if !ex.Validated() {
			continue
		}
		for _, f := range model.AllFields() {
			if !model.FieldEqual(ex.Record, *ex.GroundTruth, f) {
				seen[TagFor(f)] = true
			}
		}
	}

	var tags []PatternTag
	for _, t := range Vocabulary() {
		if seen[t] {
			tags = append(tags, t)
		}
	}
	return tags
}

// JoinTags renders tags as a comma separated list.
func JoinTags(tags []PatternTag) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

// Recommend returns the next step for a measured accuracy.
func Recommend(accuracy, target float64, patterns []PatternTag) string {
	switch {
	case accuracy >= target:
		return fmt.Sprintf("Accuracy %.2f%% meets the %.2f%% target. Keep spot-checking new captures.", accuracy, target)
	case len(patterns) == 0:
		return fmt.Sprintf("Accuracy %.2f%% is below the %.2f%% target. Validate more examples to expose failure patterns.", accuracy, target)
	default:
		return fmt.Sprintf("Accuracy %.2f%% is below the %.2f%% target. Run another training round focused on: %s.",
			accuracy, target, JoinTags(patterns))
	}
}

func display(r model.Record, f model.Field) string {
	v, ok := r.Value(f)
	if !ok {
		return "<absent>"
	}
	return v
}

func percent(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return 100 * float64(n) / float64(d)
}
