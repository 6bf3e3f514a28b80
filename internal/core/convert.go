package core

// convert.go provides the value conversions used by the mapping stages.
//
// These functions handle the messy reality of spreadsheet exports:
//   - European number formats ("1.234,56") with currency symbols
//   - Dates in several layouts, including strftime-style patterns from specs
//   - A known data-entry defect that produces five-digit years ("01.02.20023")
//
// None of these functions return errors: a value that cannot be converted
// becomes nil (or, for numeric cleaning, stays as text) so that one bad cell
// never aborts an import.

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Date layouts tried by the generic recognizer, in order. Month-first layouts
// come before their day-first counterparts so ambiguous dates read as M/D.
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"2006/01/02", "2006.01.02", "20060102",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"1/2/2006 15:04:05", "1.2.2006 15:04:05", "1.2.2006 15:04",
		"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "2 January 2006",
	}
	dayFirstLayouts = []string{
		"2/1/2006", "2.1.2006", "2-1-2006", "2.1.2006 15:04:05", "2.1.2006 15:04",
	}
)

// toText renders a cell as text. nil stays nil.
func toText(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case float64:
		if math.IsNaN(x) {
			return "", false
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case time.Time:
		return isoTime(x), true
	}
	return fmt.Sprint(v), true
}

// fixYear repairs a dotted date whose year has five digits starting with
// "20" by keeping the first four digits: "01.02.20023" → "01.02.2002".
func fixYear(s string) string {
	parts := strings.Split(s, ".")
	if len(parts) == 3 && len(parts[2]) == 5 && strings.HasPrefix(parts[2], "20") {
		return parts[0] + "." + parts[1] + "." + parts[2][:4]
	}
	return s
}

// castNumber parses s as a number. Integer columns keep whole values as int64;
// everything else is float64. Unparsable or non-finite input ("inf", "nan")
// yields nil.
func castNumber(s string, integer bool) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		if integer {
			return i
		}
		return float64(i)
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !isFinite(f) {
		return nil
	}
	if integer && f == math.Trunc(f) && math.Abs(f) < 1<<63 {
		return int64(f)
	}
	return f
}

// CleanNumeric converts a loosely formatted number to float64.
//
// Empty or missing values become nil. Otherwise the euro sign is removed,
// periods are treated as thousands separators and dropped, and commas become
// the decimal point. If the result still does not parse, or parses to a
// non-finite value such as "inf" or "nan", the trimmed original text is
// returned unchanged.
//
//	CleanNumeric("1.234,56") // 1234.56
//	CleanNumeric("€ 5,00")   // 5.0
//	CleanNumeric("n/a")      // "n/a"
func CleanNumeric(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		if !isFinite(x) {
			return nil
		}
		return x
	case int64:
		return float64(x)
	case int:
		return float64(x)
	}

	raw, _ := toText(v)
	if raw == "" {
		return nil
	}
	s := strings.TrimSpace(raw)

	cleaned := strings.ReplaceAll(s, "€", "")
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	cleaned = strings.TrimSpace(cleaned)

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || !isFinite(f) {
		return s
	}
	return f
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// castDate parses s with the first matching pattern. With no patterns the
// generic recognizer is used. Returns nil when nothing matches.
func castDate(s string, patterns []string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if len(patterns) == 0 {
		if t, ok := parseDateGeneric(s); ok {
			return t
		}
		return nil
	}

	for _, p := range patterns {
		if t, err := time.Parse(Layout(p), s); err == nil {
			return t
		}
	}
	return nil
}

// parseDateGeneric tries the known layouts, handling 2-digit years with the
// pivot and falling back to day-first readings for dates like 25.12.2024.
func parseDateGeneric(s string) (time.Time, bool) {
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}

	for _, layout := range dayFirstLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// strftime directive → Go reference layout.
var strftimeLayouts = map[byte]string{
	'd': "2",
	'm': "1",
	'Y': "2006",
	'y': "06",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'f': "000000",
	'p': "PM",
	'b': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'z': "-0700",
	'Z': "MST",
	'%': "%",
}

// Layout converts a strftime-style pattern ("%d.%m.%Y") into a Go time
// layout. Patterns without a '%' are assumed to be Go layouts already.
// Unknown directives are kept literally.
func Layout(pattern string) string {
	if !strings.Contains(pattern, "%") {
		return pattern
	}

	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' || i+1 >= len(pattern) {
			b.WriteByte(c)
			continue
		}
		i++
		if layout, ok := strftimeLayouts[pattern[i]]; ok {
			b.WriteString(layout)
		} else {
			b.WriteByte('%')
			b.WriteByte(pattern[i])
		}
	}
	return b.String()
}

// isoTime renders t as ISO-8601 without a zone for naive (UTC) timestamps.
func isoTime(t time.Time) string {
	layout := "2006-01-02T15:04:05"
	if t.Nanosecond() != 0 {
		layout += ".000000"
	}
	if t.Location() != time.UTC {
		layout += "Z07:00"
	}
	return t.Format(layout)
}
