package scorer

import (
	"strings"
	"time"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/extract-trainer/internal/model"
)

// NormalizeText folds compatibility characters (full-width digits, ligatures),
// strips line breaks, collapses internal whitespace and trims.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Accepted input layouts. Numeric day/month forms are day first.
var dateLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	"2/1/2006",
	"2-1-2006",
	"2.1.2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

var indonesianMonths = strings.NewReplacer(
	"Januari", "January",
	"Februari", "February",
	"Maret", "March",
	"Mei", "May",
	"Juni", "June",
	"Juli", "July",
	"Agustus", "August",
	"Oktober", "October",
	"Desember", "December",
	"Agu", "Aug",
	"Agt", "Aug",
	"Okt", "Oct",
	"Des", "Dec",
)

// NormalizeDate converts a date in any accepted input form to YYYY-MM-DD.
// Slash, dash and dot forms are read day first.
func NormalizeDate(s string) (string, error) {
	s = NormalizeText(s)
	if s == "" {
		return "", eris.New("scorer: empty date")
	}
	s = indonesianMonths.Replace(titleWords(s))
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(model.DateLayout), nil
		}
	}
	return "", eris.Errorf("scorer: unrecognized date %q", s)
}

// titleWords capitalizes alphabetic words so month names match the replacer
// regardless of OCR casing ("JULI", "juli").
func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		lower := strings.ToLower(w)
		if lower == "" || lower[0] < 'a' || lower[0] > 'z' {
			continue
		}
		words[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(words, " ")
}

// Similarity scores an extracted value against ground truth: 1.0 for an exact
// match after normalization, 0 when either side is absent, and a normalized
// edit-distance similarity otherwise.
func Similarity(extracted, truth *string) float64 {
	if extracted == nil || truth == nil {
		return 0
	}
	a, b := NormalizeText(*extracted), NormalizeText(*truth)
	if a == b {
		return 1
	}
	return levenshtein.Similarity(a, b, nil)
}

// FieldSimilarity compares one field of two records. Free-text fields use
// edit-distance similarity; structured fields are exact or nothing.
func FieldSimilarity(extracted, truth model.Record, f model.Field) float64 {
	ev, eok := extracted.Value(f)
	tv, tok := truth.Value(f)
	if !eok || !tok {
		return 0
	}
	switch f {
	case model.FieldRef, model.FieldCategory, model.FieldDescription:
		return Similarity(&ev, &tv)
	}
	if ev == tv {
		return 1
	}
	return 0
}
