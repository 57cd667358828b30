// Package refiner turns failure pattern tags into a revised extraction
// instruction document.
package refiner

import (
	"slices"
	"strings"

	"github.com/sells-group/extract-trainer/internal/analyzer"
)

// Instructions is a self-contained extraction instruction document and the
// pattern tags whose corrective clauses it carries.
type Instructions struct {
	Tags     []analyzer.PatternTag `json:"tags" yaml:"tags"`
	Document string                `json:"document" yaml:"document"`
}

// TagStrings returns the tags as plain strings, in order.
func (ins Instructions) TagStrings() []string {
	out := make([]string, len(ins.Tags))
	for i, t := range ins.Tags {
		out[i] = string(t)
	}
	return out
}

const baseDocument = `You are extracting tabular registry records from a scanned document.

Each record has these fields:
- seq: the row sequence number, a positive integer
- date: the registration date
- ref: the reference code printed for the row
- category: the category name (at least 5 characters)
- description: the full activity description (at least 10 characters)
- code: the classification code, exactly 6 digits
- status: either "Aktif" or "Tidak Aktif"

Rules:
- Copy values exactly as printed. Do not translate, summarize or guess.
- Omit a field you cannot read rather than inventing a value.
- Use null for empty cells.

Output:
Respond with a JSON array of objects, one per record, in document order, using
exactly the field names above. Respond with the JSON array only.`

var clauses = map[analyzer.PatternTag]string{
	analyzer.PatternCode: "code: count the digits twice before answering. The code must be exactly " +
		"6 digits with no spaces, dots or dashes, and leading zeros must be kept.",
	analyzer.PatternStatus: `status: must equal exactly "Aktif" or "Tidak Aktif", case-sensitive. ` +
		"Do not abbreviate or translate it.",
	analyzer.PatternText: "category and description: preserve the full original text verbatim, " +
		"including every word on wrapped lines. Join wrapped lines with a single space.",
	analyzer.PatternDate: "date: normalize to YYYY-MM-DD. Printed dates are day first " +
		"(03/07/2024 is 3 July 2024) and month names may be Indonesian.",
	analyzer.PatternSequence: "seq: read the number from the first column of the same row. " +
		"Never renumber rows or continue numbering from a previous page.",
	analyzer.PatternReference: "ref: copy the reference code character by character, " +
		"keeping letters, digits and separators as printed.",
}

// Base returns the canonical instruction document.
func Base() Instructions {
	return Instructions{Document: baseDocument}
}

// Refine builds the base document plus one corrective clause per known tag,
// in vocabulary order. Repeated or unknown tags add nothing, so the result
// depends only on the set of tags.
func Refine(tags []analyzer.PatternTag) Instructions {
	var present []analyzer.PatternTag
	for _, t := range analyzer.Vocabulary() {
		if slices.Contains(tags, t) {
			present = append(present, t)
		}
	}
	if len(present) == 0 {
		return Base()
	}

	var b strings.Builder
	b.WriteString(baseDocument)
	b.WriteString("\n\nCorrections from reviewed extractions:")
	for _, t := range present {
		b.WriteString("\n- ")
		b.WriteString(clauses[t])
	}
	return Instructions{Tags: present, Document: b.String()}
}

// Extend refines over the union of prev's tags and tags, so corrections from
// earlier rounds are kept.
func Extend(prev Instructions, tags []analyzer.PatternTag) Instructions {
	return Refine(append(slices.Clone(prev.Tags), tags...))
}

// FromTags rebuilds instructions from persisted tag names. Unknown names are
// ignored.
func FromTags(names []string) Instructions {
	var tags []analyzer.PatternTag
	for _, n := range names {
		if t, ok := analyzer.ParsePatternTag(n); ok {
			tags = append(tags, t)
		}
	}
	return Refine(tags)
}

// Improvements describes the corrective focus for each tag, one line per tag,
// for iteration records.
func Improvements(tags []analyzer.PatternTag) []string {
	var out []string
	for _, t := range Refine(tags).Tags {
		var names []string
		for _, f := range t.Fields() {
			names = append(names, string(f))
		}
		out = append(out, "Refined "+string(t)+" instructions ("+strings.Join(names, ", ")+")")
	}
	return out
}

