package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/tidyimport/internal/expr"
	"github.com/JonMunkholm/tidyimport/internal/logging"
	"github.com/JonMunkholm/tidyimport/internal/spec"
)

// ErrNilTable is returned by Run when no table is given.
var ErrNilTable = errors.New("nil table")

// Engine runs one spec against loaded tables. It is read-only after
// construction, so a single Engine may serve concurrent Run calls as long as
// each call has its own Table.
type Engine struct {
	spec      *spec.Spec
	marker    spec.MarkerOptions
	dynamic   []dynamicRule
	computed  []computedRule
	validator *RowValidator
}

// NewEngine compiles the spec's patterns and expressions. A pattern that does
// not compile is a spec error. An expression that does not compile is logged
// and evaluates to nil for every row.
func NewEngine(s *spec.Spec) (*Engine, error) {
	if s == nil {
		return nil, &spec.Error{Message: "spec is nil"}
	}

	e := &Engine{
		spec:      s,
		marker:    s.Marker.WithDefaults(),
		validator: NewRowValidator(s.Columns),
	}

	for i, rule := range s.DynamicColumns {
		re, err := rule.Compile()
		if err != nil {
			return nil, &spec.Error{Path: fmt.Sprintf("dynamic_columns[%d].pattern", i), Message: err.Error()}
		}
		if rule.Mode == "" {
			rule.Mode = spec.ModeMap
		}
		if rule.HasTargetConflict() {
			used := rule.Target
			if rule.Mode == spec.ModeMap {
				used = rule.TargetPrefix
			}
			slog.Warn("dynamic column has both target and target_prefix",
				"pattern", rule.Pattern,
				"mode", rule.Mode,
				"using", used,
			)
		}
		e.dynamic = append(e.dynamic, dynamicRule{DynamicRule: rule, re: re})
	}

	for _, rule := range s.ComputedColumns {
		prog, err := expr.Compile(rule.Expression)
		if err != nil {
			slog.Warn("computed column expression does not compile, values will be null",
				"target", rule.Target,
				"expression", rule.Expression,
				"error", err,
			)
		}
		e.computed = append(e.computed, computedRule{ComputedRule: rule, prog: prog})
	}

	return e, nil
}

// Spec returns the spec the engine was built from.
func (e *Engine) Spec() *spec.Spec { return e.spec }

// Run transforms t into records and row errors. Stages run in order: static
// columns, dynamic columns, computed columns, required-field validation and
// record normalization. The only errors are a nil table and a cancelled ctx;
// data problems become nil cells or row errors.
func (e *Engine) Run(ctx context.Context, t *Table) (*ImportResult, error) {
	if t == nil {
		return nil, ErrNilTable
	}

	logger := logging.FromContext(ctx)
	start := time.Now()
	f := newFrame(t)

	mapColumns(t, e.spec.Columns, f)
	logger.Debug("static columns mapped", "columns", len(f.columns))

	for _, rule := range e.dynamic {
		expandDynamic(t, rule, f)
	}
	logger.Debug("dynamic columns expanded", "columns", len(f.columns))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, rule := range e.computed {
		evalComputed(rule, f)
	}
	logger.Debug("computed columns evaluated", "columns", len(f.columns))

	kept, rowErrs := e.validator.partition(f)
	records := normalizeRecords(f, kept, e.marker)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Debug("import run completed",
		"rows", len(t.Rows),
		"records", len(records),
		"row_errors", len(rowErrs),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return NewImportResult(records, rowErrs), nil
}

// Run is a convenience wrapper that builds an Engine and runs it once.
func Run(ctx context.Context, s *spec.Spec, t *Table) (*ImportResult, error) {
	e, err := NewEngine(s)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, t)
}
