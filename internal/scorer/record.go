// Package scorer validates extracted records field by field and assigns each
// field a confidence in [0,1].
package scorer

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/sells-group/extract-trainer/internal/model"
)

// Per-field confidence for accepted values. Reference codes always carry the
// OCR discount; label and description text carry it only when noise is seen.
const (
	ConfidenceExact      = 1.0
	ConfidenceRef        = 0.9
	ConfidenceNoisyShort = 0.9
	ConfidenceNoisyLong  = 0.95
)

// Minimum lengths for free-text fields, in runes.
const (
	MinCategoryLength    = 5
	MinDescriptionLength = 10
)

const (
	errInvalidSeq       = "invalid sequence number"
	errInvalidDate      = "invalid date"
	errMissingRef       = "missing reference code"
	errShortCategory    = "category too short"
	errShortDescription = "description too short"
	errInvalidCode      = "invalid fixed-length code"
	errInvalidStatus    = "invalid status"
)

var codePattern = regexp.MustCompile(fmt.Sprintf(`^\d{%d}$`, model.CodeLength))

// Score validates every recognized field of a raw candidate. Fields missing
// from the candidate are left absent and unscored; fields that fail their
// rule are left absent with confidence 0 and an error.
func Score(raw map[string]any) model.ScoredRecord {
	out := model.ScoredRecord{Confidence: model.FieldConfidence{}}

	for _, f := range model.AllFields() {
		v, ok := raw[string(f)]
		if !ok || v == nil {
			out.Warnings = append(out.Warnings, "missing field "+string(f))
			continue
		}
		conf, msg := scoreField(&out.Record, f, v)
		out.Confidence[f] = conf
		if msg != "" {
			out.Errors = append(out.Errors, model.FieldError{Field: f, Message: msg})
		}
	}

	var unknown []string
	for k := range raw {
		if _, ok := model.ParseField(k); !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		out.Warnings = append(out.Warnings, "unrecognized field "+k)
	}

	return out
}

// ScoreRecord re-scores an already typed record, e.g. a human-edited one.
func ScoreRecord(r model.Record) model.ScoredRecord {
	raw := make(map[string]any)
	for _, f := range model.AllFields() {
		if v, ok := r.Value(f); ok {
			raw[string(f)] = v
		}
	}
	return Score(raw)
}

func scoreField(r *model.Record, f model.Field, v any) (float64, string) {
	switch f {
	case model.FieldSeq:
		n, ok := parsePositiveInt(v)
		if !ok {
			return 0, errInvalidSeq
		}
		r.Seq = &n
		return ConfidenceExact, ""

	case model.FieldDate:
		d, err := NormalizeDate(toText(v))
		if err != nil {
			return 0, errInvalidDate
		}
		r.Date = &d
		return ConfidenceExact, ""

	case model.FieldRef:
		s := NormalizeText(toText(v))
		if s == "" {
			return 0, errMissingRef
		}
		r.Ref = &s
		return ConfidenceRef, ""

	case model.FieldCategory:
		s := NormalizeText(toText(v))
		if len([]rune(s)) < MinCategoryLength {
			return 0, errShortCategory
		}
		r.Category = &s
		if hasNoise(s, true) {
			return ConfidenceNoisyShort, ""
		}
		return ConfidenceExact, ""

	case model.FieldDescription:
		s := NormalizeText(toText(v))
		if len([]rune(s)) < MinDescriptionLength {
			return 0, errShortDescription
		}
		r.Description = &s
		if hasNoise(s, false) {
			return ConfidenceNoisyLong, ""
		}
		return ConfidenceExact, ""

	case model.FieldCode:
		s := NormalizeText(toText(v))
		if !codePattern.MatchString(s) {
			return 0, errInvalidCode
		}
		r.Code = &s
		return ConfidenceExact, ""

	case model.FieldStatus:
		s := NormalizeText(toText(v))
		if s != model.StatusActive && s != model.StatusInactive {
			return 0, errInvalidStatus
		}
		r.Status = &s
		return ConfidenceExact, ""
	}
	return 0, ""
}

func parsePositiveInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, n > 0
	case int64:
		return int(n), n > 0
	case float64:
		if n != math.Trunc(n) || n <= 0 || n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil || i <= 0 {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil || i <= 0 {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

func toText(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// hasNoise reports OCR artifacts: replacement or control characters, stray
// symbols, and (for short labels) digits glued into words such as "PENERB1TAN".
func hasNoise(s string, labelText bool) bool {
	for _, r := range s {
		switch {
		case r == unicode.ReplacementChar:
			return true
		case unicode.IsControl(r):
			return true
		case strings.ContainsRune("|~^`{}<>\\", r):
			return true
		}
	}
	if !labelText {
		return false
	}
	for _, word := range strings.Fields(s) {
		var letters, digits bool
		for _, r := range word {
			if unicode.IsLetter(r) {
				letters = true
			}
			if unicode.IsDigit(r) {
				digits = true
			}
		}
		if letters && digits {
			return true
		}
	}
	return false
}
