package core

// validation.go enforces required-field rules on the mapped rows.
//
// Only static column rules take part; dynamic and computed columns are never
// required. A row with any missing required value is excluded from the
// records, and every missing field gets its own RowError carrying the source
// line number (not the post-filter index).

import (
	"github.com/JonMunkholm/tidyimport/internal/spec"
)

// RowValidator checks rows against the required static column rules.
type RowValidator struct {
	required []string
}

// NewRowValidator creates a validator for the spec's static column rules.
func NewRowValidator(rules []spec.ColumnRule) *RowValidator {
	v := &RowValidator{}
	for _, rule := range rules {
		if rule.Required {
			v.required = append(v.required, rule.Target)
		}
	}
	return v
}

// ValidateRow returns one RowError per required target that is absent, nil or
// the empty string.
func (v *RowValidator) ValidateRow(line int, get func(string) (any, bool)) []RowError {
	var errs []RowError
	for _, target := range v.required {
		val, ok := get(target)
		if !ok || isEmptyValue(val) {
			errs = append(errs, RowError{Row: line, Column: target, Error: MsgMissingRequired})
		}
	}
	return errs
}

// partition splits the frame's rows into kept row indices and row errors.
func (v *RowValidator) partition(f *frame) (kept []int, errs []RowError) {
	for i := 0; i < f.len(); i++ {
		rowErrs := v.ValidateRow(f.lines[i], func(col string) (any, bool) {
			return f.value(i, col)
		})
		if len(rowErrs) > 0 {
			errs = append(errs, rowErrs...)
			continue
		}
		kept = append(kept, i)
	}
	return kept, errs
}

func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case float64:
		return x != x
	}
	return false
}
