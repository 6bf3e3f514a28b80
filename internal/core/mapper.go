package core

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JonMunkholm/tidyimport/internal/spec"
)

// Transform names accepted in a column rule's transform list.
const (
	TransformTrim      = "trim"
	TransformLowercase = "lowercase"
	TransformUppercase = "uppercase"
	TransformTitlecase = "titlecase"
)

// mapColumns applies the static column rules in spec order. A rule whose
// source column is missing from the table is skipped without an output column.
func mapColumns(t *Table, rules []spec.ColumnRule, f *frame) {
	for _, rule := range rules {
		if !t.HasColumn(rule.Source) {
			continue
		}

		values := make([]any, len(t.Rows))
		for i, row := range t.Rows {
			values[i] = mapValue(row.Values[rule.Source], rule)
		}
		f.set(rule.Target, values)
	}
}

// mapValue runs the string transform stage and then the type cast stage.
func mapValue(v any, rule spec.ColumnRule) any {
	s, ok := toText(v)
	if !ok {
		return nil
	}

	s = strings.TrimSpace(s)
	if rule.Type == spec.TypeDate {
		s = fixYear(s)
	}
	s = applyTransforms(s, rule.Transform)

	switch rule.Type {
	case spec.TypeInteger:
		return castNumber(s, true)
	case spec.TypeFloat:
		return castNumber(s, false)
	case spec.TypeDate:
		patterns := rule.Formats
		if len(patterns) == 0 && rule.Format != "" {
			patterns = []string{rule.Format}
		}
		return castDate(s, patterns)
	}
	return s
}

// applyTransforms applies the named case transforms in order. Unknown names
// are ignored. Casers hold state, so a fresh one is built per call.
func applyTransforms(s string, names []string) string {
	for _, name := range names {
		switch strings.ToLower(name) {
		case TransformTrim:
			s = strings.TrimSpace(s)
		case TransformLowercase:
			s = cases.Lower(language.Und).String(s)
		case TransformUppercase:
			s = cases.Upper(language.Und).String(s)
		case TransformTitlecase:
			s = cases.Title(language.Und).String(s)
		}
	}
	return s
}
