package core

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/zeebo/xxh3"
)

// Table is a fully materialized input: an ordered column list and rows keyed
// by column name. Tables are built by a loader and consumed by one engine run.
type Table struct {
	Columns []string
	Rows    []Row
}

// Row is one data row of a Table.
type Row struct {
	// Line is the 1-based line number in the source file. It is assigned once
	// by the loader and only used to attribute row errors.
	Line   int
	Values map[string]any
}

// HasColumn reports whether name is one of the table's columns.
func (t *Table) HasColumn(name string) bool {
	return slices.Contains(t.Columns, name)
}

// RowError describes a row rejected by the row validator.
type RowError struct {
	Row    int    `json:"row"`    // Original source line number
	Column string `json:"column"` // Target column name
	Error  string `json:"error"`  // Human-readable message
}

// String formats the error the way the CLI prints it.
func (e RowError) String() string {
	return fmt.Sprintf("Row %d - %s: %s", e.Row, e.Column, e.Error)
}

// MsgMissingRequired is the RowError message for an empty required field.
const MsgMissingRequired = "Missing required value"

// PivotEntry is one element of a pivot-mode column.
type PivotEntry struct {
	Column string `json:"column"`
	Value  any    `json:"value"`
}

// ImportResult is the engine's sole output. It is immutable once built; the
// accessors return copies of the underlying slices.
type ImportResult struct {
	records []Record
	errors  []RowError
}

// NewImportResult builds a result from records and row errors.
func NewImportResult(records []Record, errs []RowError) *ImportResult {
	return &ImportResult{
		records: slices.Clone(records),
		errors:  slices.Clone(errs),
	}
}

// Records returns the valid, normalized records in output order.
func (r *ImportResult) Records() []Record { return slices.Clone(r.records) }

// Errors returns the row errors in the order they were found.
func (r *ImportResult) Errors() []RowError { return slices.Clone(r.errors) }

// RecordCount returns the number of records.
func (r *ImportResult) RecordCount() int { return len(r.records) }

// ErrorCount returns the number of row errors.
func (r *ImportResult) ErrorCount() int { return len(r.errors) }

// MarshalJSON renders the result as {"records": [...], "errors": [...]}.
func (r *ImportResult) MarshalJSON() ([]byte, error) {
	records := r.records
	if records == nil {
		records = []Record{}
	}
	errs := r.errors
	if errs == nil {
		errs = []RowError{}
	}
	return json.Marshal(struct {
		Records []Record   `json:"records"`
		Errors  []RowError `json:"errors"`
	}{records, errs})
}

// Fingerprint returns a stable hash of the records and errors. Two runs over
// the same table and spec produce the same fingerprint.
func (r *ImportResult) Fingerprint() (string, error) {
	h := xxh3.New()
	if err := json.NewEncoder(h).Encode(r); err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
