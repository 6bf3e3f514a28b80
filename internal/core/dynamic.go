package core

// dynamic.go expands dynamic column rules. Source columns are discovered by a
// left-anchored name pattern and reshaped into one of three output shapes:
//
//	map            one output column per match, named prefix + sanitized name
//	pivot          one column holding []PivotEntry per row (blank cells omitted)
//	year_month_map one column holding map["YYYY-MM"]value per row
//
// The mode is resolved once per rule; rows never change the dispatch.

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/JonMunkholm/tidyimport/internal/spec"
)

// dynamicRule is a DynamicRule with its pattern compiled.
type dynamicRule struct {
	spec.DynamicRule
	re *regexp.Regexp
}

// matches returns the table columns matched by the rule, in table order.
func (r dynamicRule) matches(t *Table) []string {
	var out []string
	for _, col := range t.Columns {
		if r.re.MatchString(col) {
			out = append(out, col)
		}
	}
	return out
}

// expandDynamic applies one dynamic rule to the frame.
func expandDynamic(t *Table, r dynamicRule, f *frame) {
	matched := r.matches(t)

	switch r.Mode {
	case spec.ModePivot:
		f.set(r.Target, pivotColumn(t, matched, r.NumericClean))
	case spec.ModeYearMonthMap:
		f.set(r.Target, yearMonthColumn(t, matched, r.NumericClean))
	default:
		for _, col := range matched {
			values := make([]any, len(t.Rows))
			for i, row := range t.Rows {
				values[i] = dynamicValue(row.Values[col], r.NumericClean)
			}
			f.set(r.TargetPrefix+SanitizeColumn(col), values)
		}
	}
}

func pivotColumn(t *Table, matched []string, numeric bool) []any {
	values := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		entries := make([]PivotEntry, 0, len(matched))
		for _, col := range matched {
			v := row.Values[col]
			if isBlank(v) {
				continue
			}
			entries = append(entries, PivotEntry{Column: col, Value: dynamicValue(v, numeric)})
		}
		values[i] = entries
	}
	return values
}

func yearMonthColumn(t *Table, matched []string, numeric bool) []any {
	keys := make(map[string]string, len(matched))
	for _, col := range matched {
		if ym, ok := ParseYearMonth(col); ok {
			keys[col] = ym
		}
	}

	values := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		months := make(map[string]any, len(keys))
		for _, col := range matched {
			ym, ok := keys[col]
			if !ok {
				continue
			}
			v := row.Values[col]
			if isBlank(v) {
				months[ym] = nil
				continue
			}
			months[ym] = dynamicValue(v, numeric)
		}
		values[i] = months
	}
	return values
}

func dynamicValue(v any, numeric bool) any {
	if numeric {
		return CleanNumeric(v)
	}
	return v
}

// isBlank reports whether a cell is missing or the empty string.
func isBlank(v any) bool {
	s, ok := toText(v)
	return !ok || s == ""
}

// SanitizeColumn turns a source column name into an output key: lowercased,
// spaces become underscores, apostrophes and periods are removed.
//
//	SanitizeColumn("Jan'24")     // "jan24"
//	SanitizeColumn("Net Amt.")   // "net_amt"
func SanitizeColumn(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "'", "")
	return strings.ReplaceAll(name, ".", "")
}

// germanMonths maps German month names and their common abbreviations to
// month numbers. Keys are lowercase with ä written as ae.
var germanMonths = map[string]int{
	"januar": 1, "jan": 1,
	"februar": 2, "feb": 2,
	"maerz": 3, "maer": 3, "mrz": 3,
	"april": 4, "apr": 4,
	"mai": 5,
	"juni": 6, "jun": 6,
	"juli": 7, "jul": 7,
	"august": 8, "aug": 8,
	"september": 9, "sep": 9, "sept": 9,
	"oktober": 10, "okt": 10,
	"november": 11, "nov": 11,
	"dezember": 12, "dez": 12,
}

var yearMonthPattern = regexp.MustCompile(`^([a-zäöü]+)\s*'?(\d{2})`)

// ParseYearMonth derives a "YYYY-MM" key from a column name such as "Jan'24"
// or "März 25". Years are read as 20YY.
func ParseYearMonth(column string) (string, bool) {
	name := strings.ToLower(strings.TrimSpace(column))

	m := yearMonthPattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}

	month, ok := germanMonths[strings.ReplaceAll(m[1], "ä", "ae")]
	if !ok {
		return "", false
	}

	yy, err := strconv.Atoi(m[2])
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d", 2000+yy, month), true
}
