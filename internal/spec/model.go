// Package spec defines the declarative transformation rules that drive an
// import: static column mappings, dynamic (pattern-discovered) columns,
// computed columns and input options.
//
// A Spec is loaded once per run and never mutated. Use [Parse] or [LoadFile]
// to obtain one; both validate the document structurally before decoding it.
package spec

import (
	"fmt"
	"regexp"
)

// ColumnType is the cast applied to a static column after its string transforms.
type ColumnType string

const (
	TypeNone    ColumnType = ""
	TypeInteger ColumnType = "integer"
	TypeFloat   ColumnType = "float"
	TypeDate    ColumnType = "date"
)

// DynamicMode selects the output shape of a dynamic column rule.
type DynamicMode string

const (
	// ModeMap produces one output column per matching source column.
	ModeMap DynamicMode = "map"
	// ModePivot produces a single list-valued column of {column, value} entries.
	ModePivot DynamicMode = "pivot"
	// ModeYearMonthMap produces a single column keyed by "YYYY-MM".
	ModeYearMonthMap DynamicMode = "year_month_map"
)

// DynamicModes lists the recognized modes in declaration order.
var DynamicModes = []DynamicMode{ModeMap, ModePivot, ModeYearMonthMap}

// Valid reports whether m is one of the recognized modes.
func (m DynamicMode) Valid() bool {
	for _, known := range DynamicModes {
		if m == known {
			return true
		}
	}
	return false
}

// Spec is the in-memory form of a transformation document.
//
// Declaration order of Columns, DynamicColumns and ComputedColumns is the
// output column order and the evaluation order.
type Spec struct {
	Columns         []ColumnRule   `yaml:"columns" json:"columns"`
	ComputedColumns []ComputedRule `yaml:"computed_columns,omitempty" json:"computed_columns,omitempty"`
	DynamicColumns  []DynamicRule  `yaml:"dynamic_columns,omitempty" json:"dynamic_columns,omitempty"`
	Input           InputOptions   `yaml:"input,omitempty" json:"input,omitempty"`
	Marker          MarkerOptions  `yaml:"marker,omitempty" json:"marker,omitempty"`
}

// ColumnRule maps one source column onto one target column.
type ColumnRule struct {
	Source    string     `yaml:"source" json:"source"`
	Target    string     `yaml:"target" json:"target"`
	Transform []string   `yaml:"transform,omitempty" json:"transform,omitempty"`
	Type      ColumnType `yaml:"type,omitempty" json:"type,omitempty"`
	Format    string     `yaml:"format,omitempty" json:"format,omitempty"`
	Formats   []string   `yaml:"formats,omitempty" json:"formats,omitempty"`
	Required  bool       `yaml:"required,omitempty" json:"required,omitempty"`
}

// DynamicRule discovers source columns by name pattern and reshapes them.
type DynamicRule struct {
	// Pattern is matched against column names from position 0; it does not
	// have to consume the whole name.
	Pattern      string      `yaml:"pattern" json:"pattern"`
	Mode         DynamicMode `yaml:"mode,omitempty" json:"mode,omitempty"`
	Target       string      `yaml:"target,omitempty" json:"target,omitempty"`
	TargetPrefix string      `yaml:"target_prefix,omitempty" json:"target_prefix,omitempty"`
	NumericClean bool        `yaml:"numeric_clean,omitempty" json:"numeric_clean,omitempty"`
}

// Compile returns the rule's pattern anchored at the start of the name.
func (r DynamicRule) Compile() (*regexp.Regexp, error) {
	re, err := regexp.Compile(`^(?:` + r.Pattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", r.Pattern, err)
	}
	return re, nil
}

// HasTargetConflict reports whether both target and target_prefix are set.
// Map mode uses the prefix, pivot and year_month_map use the target.
func (r DynamicRule) HasTargetConflict() bool {
	return r.Target != "" && r.TargetPrefix != ""
}

// ComputedRule derives a column from an expression over earlier output columns.
type ComputedRule struct {
	Target      string `yaml:"target" json:"target"`
	Expression  string `yaml:"expression" json:"expression"`
	DropSources bool   `yaml:"drop_sources,omitempty" json:"drop_sources,omitempty"`
}

// InputOptions tells the loader how to find the header and data rows.
type InputOptions struct {
	Delimiter string `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
	HeaderRow int    `yaml:"header_row,omitempty" json:"header_row,omitempty"`
	SkipRows  int    `yaml:"skip_rows,omitempty" json:"skip_rows,omitempty"`
	// Sheet selects the worksheet of an .xlsx input. Empty means the first sheet.
	Sheet string `yaml:"sheet,omitempty" json:"sheet,omitempty"`
}

// Comma returns the delimiter as a rune.
func (o InputOptions) Comma() rune {
	for _, r := range o.Delimiter {
		return r
	}
	return ','
}

// MarkerOptions configures the marker-row pass of the record normalizer.
// Rows whose Field equals Value switch every following record to former mode.
type MarkerOptions struct {
	Field string `yaml:"field,omitempty" json:"field,omitempty"`
	Value string `yaml:"value,omitempty" json:"value,omitempty"`
	Flag  string `yaml:"flag,omitempty" json:"flag,omitempty"`
}

// WithDefaults returns o with empty fields set to the defaults.
func (o MarkerOptions) WithDefaults() MarkerOptions {
	if o.Field == "" {
		o.Field = DefaultMarkerField
	}
	if o.Value == "" {
		o.Value = DefaultMarkerValue
	}
	if o.Flag == "" {
		o.Flag = DefaultMarkerFlag
	}
	return o
}

// Defaults applied by applyDefaults.
const (
	DefaultDelimiter   = ","
	DefaultHeaderRow   = 1
	DefaultMarkerField = "name"
	DefaultMarkerValue = "ehemalige"
	DefaultMarkerFlag  = "is_former"
)

// applyDefaults fills in default values for optional fields.
func applyDefaults(s *Spec) {
	if s.Input.Delimiter == "" {
		s.Input.Delimiter = DefaultDelimiter
	}
	if s.Input.HeaderRow == 0 {
		s.Input.HeaderRow = DefaultHeaderRow
	}
	s.Marker = s.Marker.WithDefaults()
	for i := range s.DynamicColumns {
		if s.DynamicColumns[i].Mode == "" {
			s.DynamicColumns[i].Mode = ModeMap
		}
	}
}
