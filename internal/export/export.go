// Package export writes import records to CSV files, JSON files and SQL
// databases. Every writer keeps the record field order.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/tidyimport/internal/core"
)

// ErrUnknownFormat is returned by ParseFormat for unsupported names.
var ErrUnknownFormat = errors.New("unknown output format")

// Format is an output format name.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatDB   Format = "db"
)

// Formats lists the supported output formats.
var Formats = []Format{FormatCSV, FormatJSON, FormatDB}

// ParseFormat validates an output format name (case-insensitive).
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Columns returns the union of record keys in first-seen order.
func Columns(records []core.Record) []string {
	var cols []string
	seen := make(map[string]bool)
	for _, rec := range records {
		for _, key := range rec.Keys() {
			if !seen[key] {
				seen[key] = true
				cols = append(cols, key)
			}
		}
	}
	return cols
}

// scalar converts a record value for a flat sink: nested values (pivot lists,
// year-month maps) become JSON text, timestamps ISO-8601 text.
func scalar(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, int64, int, float64:
		return v, nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return string(b), nil
}

// text renders a value as a CSV cell. nil is the empty string.
func text(v any) (string, error) {
	s, err := scalar(v)
	if err != nil {
		return "", err
	}
	switch x := s.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	}
	return fmt.Sprint(s), nil
}
