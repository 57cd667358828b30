package model

import "strconv"

// Field names a recognized field of an extracted record.
type Field string

const (
	FieldSeq         Field = "seq"
	FieldDate        Field = "date"
	FieldRef         Field = "ref"
	FieldCategory    Field = "category"
	FieldDescription Field = "description"
	FieldCode        Field = "code"
	FieldStatus      Field = "status"
)

// Canonical status values. Matching is exact and case-sensitive.
const (
	StatusActive   = "Aktif"
	StatusInactive = "Tidak Aktif"
)

// CodeLength is the exact digit count of a fixed-length code.
const CodeLength = 6

// DateLayout is the canonical calendar form of a date field.
const DateLayout = "2006-01-02"

// AllFields returns every recognized field in display order.
func AllFields() []Field {
	return []Field{
		FieldSeq,
		FieldDate,
		FieldRef,
		FieldCategory,
		FieldDescription,
		FieldCode,
		FieldStatus,
	}
}

// CriticalFields returns the fields whose exact match decides whether an
// example counts as correct for accuracy.
func CriticalFields() []Field {
	return []Field{FieldSeq, FieldCode, FieldStatus}
}

// IsCritical reports whether f is a critical field.
func IsCritical(f Field) bool {
	switch f {
	case FieldSeq, FieldCode, FieldStatus:
		return true
	}
	return false
}

// ParseField maps a raw key to a recognized field.
func ParseField(key string) (Field, bool) {
	for _, f := range AllFields() {
		if string(f) == key {
			return f, true
		}
	}
	return "", false
}

// Record is one structured record extracted from a document. A nil field is
// absent: either the extractor did not produce it or it failed validation.
type Record struct {
	Seq         *int    `json:"seq,omitempty" yaml:"seq,omitempty"`
	Date        *string `json:"date,omitempty" yaml:"date,omitempty"`
	Ref         *string `json:"ref,omitempty" yaml:"ref,omitempty"`
	Category    *string `json:"category,omitempty" yaml:"category,omitempty"`
	Description *string `json:"description,omitempty" yaml:"description,omitempty"`
	Code        *string `json:"code,omitempty" yaml:"code,omitempty"`
	Status      *string `json:"status,omitempty" yaml:"status,omitempty"`
}

// Value returns the comparable text of a field and whether it is present.
func (r Record) Value(f Field) (string, bool) {
	switch f {
	case FieldSeq:
		if r.Seq == nil {
			return "", false
		}
		return strconv.Itoa(*r.Seq), true
	case FieldDate:
		return deref(r.Date)
	case FieldRef:
		return deref(r.Ref)
	case FieldCategory:
		return deref(r.Category)
	case FieldDescription:
		return deref(r.Description)
	case FieldCode:
		return deref(r.Code)
	case FieldStatus:
		return deref(r.Status)
	}
	return "", false
}

// Set assigns a field from its text form. An empty value clears the field.
// Seq must parse as an integer.
func (r *Record) Set(f Field, value string) error {
	var p *string
	if value != "" {
		v := value
		p = &v
	}
	switch f {
	case FieldSeq:
		if value == "" {
			r.Seq = nil
			return nil
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return &FieldError{Field: FieldSeq, Message: "invalid sequence number"}
		}
		r.Seq = &n
	case FieldDate:
		r.Date = p
	case FieldRef:
		r.Ref = p
	case FieldCategory:
		r.Category = p
	case FieldDescription:
		r.Description = p
	case FieldCode:
		r.Code = p
	case FieldStatus:
		r.Status = p
	default:
		return &FieldError{Field: f, Message: "unrecognized field"}
	}
	return nil
}

// FieldEqual reports whether two records hold exactly the same value for f.
// Two absent values are equal.
func FieldEqual(a, b Record, f Field) bool {
	av, aok := a.Value(f)
	bv, bok := b.Value(f)
	if aok != bok {
		return false
	}
	return av == bv
}

// Present returns the fields that carry a value.
func (r Record) Present() []Field {
	var out []Field
	for _, f := range AllFields() {
		if _, ok := r.Value(f); ok {
			out = append(out, f)
		}
	}
	return out
}

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// String returns a pointer to s.
func String(s string) *string { return &s }

func deref(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	return *p, true
}
