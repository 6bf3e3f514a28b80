package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/tidyimport/internal/spec"
)

// NormalizeValue turns NaN and infinities into nil and timestamps into ISO-8601 text. All
// other values pass through unchanged.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case float64:
		if !isFinite(x) {
			return nil
		}
	case time.Time:
		return isoTime(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return isoTime(*x)
	}
	return v
}

// MarkerReducer is the order-dependent pass over validated records. A record
// whose marker field equals the marker value switches every later record into
// former mode and is itself dropped. Records with an empty marker field are
// dropped. Every other record gets the flag field set to the current mode.
//
// The reducer carries state across calls and must see records in source order.
type MarkerReducer struct {
	opts   spec.MarkerOptions
	former bool
}

// NewMarkerReducer creates a reducer in current (non-former) mode.
func NewMarkerReducer(opts spec.MarkerOptions) *MarkerReducer {
	return &MarkerReducer{opts: opts}
}

// Former reports whether the marker row has been seen.
func (m *MarkerReducer) Former() bool { return m.former }

// Next consumes one record and reports whether it should be emitted.
func (m *MarkerReducer) Next(rec *Record) bool {
	v, _ := rec.Get(m.opts.Field)
	name := strings.TrimSpace(markerText(v))

	if strings.EqualFold(name, m.opts.Value) {
		m.former = true
		return false
	}
	if name == "" {
		return false
	}

	rec.Set(m.opts.Flag, m.former)
	return true
}

func markerText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	}
	return fmt.Sprint(v)
}

// normalizeRecords builds the final records from the kept frame rows.
func normalizeRecords(f *frame, kept []int, opts spec.MarkerOptions) []Record {
	reducer := NewMarkerReducer(opts)
	records := make([]Record, 0, len(kept))

	for _, i := range kept {
		rec := f.record(i)
		for j := range rec.fields {
			rec.fields[j].Value = NormalizeValue(rec.fields[j].Value)
		}
		if reducer.Next(&rec) {
			records = append(records, rec)
		}
	}
	return records
}
