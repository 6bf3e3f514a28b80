package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tidyimport/internal/spec"
)

// newTable builds a table as the loader would for header_row 1, skip_rows 0:
// the first data row is line 2.
func newTable(columns []string, rows ...[]any) *Table {
	t := &Table{Columns: columns}
	for i, r := range rows {
		values := make(map[string]any, len(columns))
		for j, col := range columns {
			if j < len(r) {
				values[col] = r[j]
			}
		}
		t.Rows = append(t.Rows, Row{Line: i + 2, Values: values})
	}
	return t
}

func run(t *testing.T, s *spec.Spec, table *Table) *ImportResult {
	t.Helper()
	result, err := Run(context.Background(), s, table)
	require.NoError(t, err)
	return result
}

func nameRule() spec.ColumnRule {
	return spec.ColumnRule{Source: "Name", Target: "name"}
}

// ----------------------------------------------------------------------------
// Column order and hidden line
// ----------------------------------------------------------------------------

func TestRun_ColumnOrder(t *testing.T) {
	s, err := spec.Parse([]byte(`
columns:
  - source: Name
    target: name
  - source: Amount
    target: amount
    type: float
computed_columns:
  - target: label
    expression: "name + '!'"
dynamic_columns:
  - pattern: "Q[0-9]"
    target_prefix: "q_"
`))
	require.NoError(t, err)

	table := newTable(
		[]string{"Q1", "Name", "Q2", "Amount"},
		[]any{"1", "Ada", "2", "3.5"},
	)

	result := run(t, s, table)
	require.Equal(t, 1, result.RecordCount())

	rec := result.Records()[0]
	assert.Equal(t, []string{"name", "amount", "q_q1", "q_q2", "label", "is_former"}, rec.Keys())
	assert.Equal(t, "Ada!", rec.Map()["label"])
	assert.Equal(t, 3.5, rec.Map()["amount"])

	for _, key := range rec.Keys() {
		assert.NotContains(t, key, "original")
	}
}

func TestRun_MissingSourceIsSkipped(t *testing.T) {
	s := &spec.Spec{Columns: []spec.ColumnRule{
		nameRule(),
		{Source: "Absent", Target: "absent"},
		{Source: "Age", Target: "age", Type: spec.TypeInteger},
	}}
	table := newTable([]string{"Name", "Age"}, []any{"Ada", "n/a"})

	result := run(t, s, table)
	require.Equal(t, 1, result.RecordCount())

	rec := result.Records()[0]
	_, hasAbsent := rec.Get("absent")
	assert.False(t, hasAbsent, "missing source column must not produce an output column")

	age, hasAge := rec.Get("age")
	assert.True(t, hasAge, "unparsable value keeps its column")
	assert.Nil(t, age)
}

func TestRun_RequiredOnMissingSourceReportsError(t *testing.T) {
	// The rule is skipped at mapping time, so its target is absent from every
	// row and the row validator reports it.
	s := &spec.Spec{Columns: []spec.ColumnRule{
		nameRule(),
		{Source: "Absent", Target: "absent", Required: true},
	}}
	table := newTable([]string{"Name"}, []any{"Ada"})

	result := run(t, s, table)
	assert.Equal(t, 0, result.RecordCount())
	assert.Equal(t, []RowError{{Row: 2, Column: "absent", Error: MsgMissingRequired}}, result.Errors())
}

// ----------------------------------------------------------------------------
// Static column mapping
// ----------------------------------------------------------------------------

func TestRun_StaticCasts(t *testing.T) {
	s := &spec.Spec{Columns: []spec.ColumnRule{
		{Source: "Name", Target: "name", Transform: []string{"titlecase"}},
		{Source: "Id", Target: "id", Type: spec.TypeInteger},
		{Source: "Joined", Target: "joined", Type: spec.TypeDate, Format: "%d.%m.%Y"},
		{Source: "Left", Target: "left", Type: spec.TypeDate, Formats: []string{"%Y-%m-%d", "%d/%m/%Y"}},
	}}
	table := newTable(
		[]string{"Name", "Id", "Joined", "Left"},
		[]any{"  ada lovelace ", " 7 ", "01.02.20023", "31/12/2023"},
		[]any{"bob", "x", "garbage", nil},
	)

	result := run(t, s, table)
	require.Equal(t, 2, result.RecordCount())

	first := result.Records()[0].Map()
	assert.Equal(t, "Ada Lovelace", first["name"])
	assert.Equal(t, int64(7), first["id"])
	assert.Equal(t, "2002-02-01T00:00:00", first["joined"])
	assert.Equal(t, "2023-12-31T00:00:00", first["left"])

	second := result.Records()[1].Map()
	assert.Nil(t, second["id"])
	assert.Nil(t, second["joined"])
	assert.Nil(t, second["left"])
}

// ----------------------------------------------------------------------------
// Dynamic columns
// ----------------------------------------------------------------------------

func TestRun_DynamicMap(t *testing.T) {
	s := &spec.Spec{
		Columns: []spec.ColumnRule{nameRule()},
		DynamicColumns: []spec.DynamicRule{
			{Pattern: `[A-Za-z]+'\d{2}$`, Mode: spec.ModeMap},
		},
	}
	table := newTable([]string{"Name", "Jan'24", "Feb'24"}, []any{"Ada", "1", "2"})

	rec := run(t, s, table).Records()[0]
	assert.Equal(t, []string{"name", "jan24", "feb24", "is_former"}, rec.Keys())
	assert.Equal(t, "1", rec.Map()["jan24"])
}

func TestRun_DynamicMapNumericCleanAndPrefix(t *testing.T) {
	s := &spec.Spec{
		Columns: []spec.ColumnRule{nameRule()},
		DynamicColumns: []spec.DynamicRule{
			{Pattern: `Net`, TargetPrefix: "amt_", NumericClean: true},
		},
	}
	table := newTable([]string{"Name", "Net Amt.", "Net Q1"}, []any{"Ada", "1.234,56", "n/a"})

	rec := run(t, s, table).Records()[0].Map()
	assert.Equal(t, 1234.56, rec["amt_net_amt"])
	assert.Equal(t, "n/a", rec["amt_net_q1"])
}

func TestRun_DynamicPatternIsLeftAnchored(t *testing.T) {
	s := &spec.Spec{
		Columns: []spec.ColumnRule{nameRule()},
		DynamicColumns: []spec.DynamicRule{
			{Pattern: `Amt`, Mode: spec.ModeMap},
		},
	}
	table := newTable([]string{"Name", "Amt 1", "Net Amt"}, []any{"Ada", "1", "2"})

	rec := run(t, s, table).Records()[0]
	assert.Equal(t, []string{"name", "amt_1", "is_former"}, rec.Keys())
}

func TestRun_DynamicPivot(t *testing.T) {
	s := &spec.Spec{
		Columns: []spec.ColumnRule{nameRule()},
		DynamicColumns: []spec.DynamicRule{
			{Pattern: `A\d`, Mode: spec.ModePivot, Target: "items", NumericClean: true},
		},
	}
	table := newTable(
		[]string{"Name", "A1", "A2", "A3"},
		[]any{"Ada", "1,5", "", nil},
		[]any{"Bob", nil, nil, nil},
	)

	records := run(t, s, table).Records()
	require.Len(t, records, 2)

	items, _ := records[0].Get("items")
	assert.Equal(t, []PivotEntry{{Column: "A1", Value: 1.5}}, items)

	items, _ = records[1].Get("items")
	assert.Equal(t, []PivotEntry{}, items)
}

func TestRun_DynamicYearMonthMap(t *testing.T) {
	s := &spec.Spec{
		Columns: []spec.ColumnRule{nameRule()},
		DynamicColumns: []spec.DynamicRule{
			{Pattern: `[A-Z]`, Mode: spec.ModeYearMonthMap, Target: "cashflow", NumericClean: true},
		},
	}
	table := newTable(
		[]string{"Name", "Jan'24", "Feb'24", "März 24", "Total"},
		[]any{"Ada", "1.000,50", "", "3", "99"},
	)

	rec := run(t, s, table).Records()[0]
	cashflow, _ := rec.Get("cashflow")
	assert.Equal(t, map[string]any{
		"2024-01": 1000.5,
		"2024-02": nil,
		"2024-03": 3.0,
	}, cashflow)
}

func TestRun_TargetAndPrefixBothSet(t *testing.T) {
	s := &spec.Spec{
		Columns: []spec.ColumnRule{nameRule()},
		DynamicColumns: []spec.DynamicRule{
			{Pattern: `X`, Mode: spec.ModeMap, Target: "ignored", TargetPrefix: "p_"},
			{Pattern: `X`, Mode: spec.ModePivot, Target: "xs", TargetPrefix: "ignored_"},
		},
	}
	table := newTable([]string{"Name", "X1"}, []any{"Ada", "v"})

	rec := run(t, s, table).Records()[0]
	assert.Equal(t, []string{"name", "p_x1", "xs", "is_former"}, rec.Keys())
}

func TestParseYearMonth(t *testing.T) {
	tests := []struct {
		column string
		want   string
		ok     bool
	}{
		{"Jan'24", "2024-01", true},
		{"januar 24", "2024-01", true},
		{"März'25", "2025-03", true},
		{"Maerz25", "2025-03", true},
		{"  Dezember '23 ", "2023-12", true},
		{"Okt'09", "2009-10", true},
		{"January'24", "", false},
		{"Jan", "", false},
		{"Total", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			got, ok := ParseYearMonth(tt.column)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeColumn(t *testing.T) {
	assert.Equal(t, "jan24", SanitizeColumn("Jan'24"))
	assert.Equal(t, "net_amt", SanitizeColumn("Net Amt."))
	assert.Equal(t, "a_b_c", SanitizeColumn("A B C"))
}

// ----------------------------------------------------------------------------
// Computed columns
// ----------------------------------------------------------------------------

func TestRun_ComputedDropSources(t *testing.T) {
	s := &spec.Spec{
		Columns: []spec.ColumnRule{
			nameRule(),
			{Source: "A", Target: "a", Type: spec.TypeInteger},
			{Source: "B", Target: "b", Type: spec.TypeInteger},
		},
		ComputedColumns: []spec.ComputedRule{
			{Target: "total", Expression: "a + b", DropSources: true},
		},
	}
	table := newTable(
		[]string{"Name", "A", "B"},
		[]any{"Ada", "1", "2"},
		[]any{"Bob", "x", "2"},
	)

	records := run(t, s, table).Records()
	require.Len(t, records, 2)

	for _, rec := range records {
		assert.Equal(t, []string{"name", "total", "is_former"}, rec.Keys())
	}
	assert.Equal(t, int64(3), records[0].Map()["total"])
	assert.Nil(t, records[1].Map()["total"], "failed evaluation becomes nil")
}

func TestRun_ComputedDropSourcesNonASCII(t *testing.T) {
	s := &spec.Spec{
		Columns: []spec.ColumnRule{
			nameRule(),
			{Source: "März", Target: "märz24", Type: spec.TypeInteger},
		},
		ComputedColumns: []spec.ComputedRule{
			{Target: "total", Expression: "märz24 + 1", DropSources: true},
		},
	}
	table := newTable([]string{"Name", "März"}, []any{"Ada", "4"})

	records := run(t, s, table).Records()
	require.Len(t, records, 1)
	assert.Equal(t, []string{"name", "total", "is_former"}, records[0].Keys())
	assert.Equal(t, int64(5), records[0].Map()["total"])
}

func TestExpressionVariables(t *testing.T) {
	assert.Equal(t, []string{"märz24", "b"}, ExpressionVariables("märz24 + b * märz24"))
	assert.Equal(t, []string{"größe", "x"}, ExpressionVariables("'größe + x"), "untokenizable falls back to identifier runs")
}

func TestRun_ComputedStringRepeatOutOfRange(t *testing.T) {
	s := &spec.Spec{
		Columns: []spec.ColumnRule{
			nameRule(),
			{Source: "Qty", Target: "qty", Type: spec.TypeInteger},
		},
		ComputedColumns: []spec.ComputedRule{
			{Target: "rep", Expression: "name * qty"},
		},
	}
	table := newTable(
		[]string{"Name", "Qty"},
		[]any{"Ada", "4611686018427387904"},
		[]any{"Bob", "2"},
	)

	var result *ImportResult
	require.NotPanics(t, func() { result = run(t, s, table) })
	records := result.Records()
	require.Len(t, records, 2)
	assert.Nil(t, records[0].Map()["rep"])
	assert.Equal(t, "BobBob", records[1].Map()["rep"])
}

func TestRun_NonFiniteNumbersBecomeNull(t *testing.T) {
	s := &spec.Spec{
		Columns: []spec.ColumnRule{
			nameRule(),
			{Source: "Amount", Target: "amount", Type: spec.TypeFloat},
		},
		DynamicColumns: []spec.DynamicRule{
			{Pattern: `Q\d`, Mode: spec.ModePivot, Target: "quarters", NumericClean: true},
		},
	}
	table := newTable(
		[]string{"Name", "Amount", "Q1", "Q2"},
		[]any{"Ada", "inf", "nan", "1,5"},
		[]any{"Bob", "-Infinity", "Infinity", "2"},
	)

	result := run(t, s, table)
	for _, rec := range result.Records() {
		assert.Nil(t, rec.Map()["amount"])
	}

	_, err := json.Marshal(result)
	require.NoError(t, err)
	fp, err := result.Fingerprint()
	require.NoError(t, err)
	assert.Len(t, fp, 16)
}

func TestRun_ComputedSeesEarlierComputed(t *testing.T) {
	s := &spec.Spec{
		Columns: []spec.ColumnRule{
			nameRule(),
			{Source: "Price", Target: "price", Type: spec.TypeFloat},
		},
		ComputedColumns: []spec.ComputedRule{
			{Target: "net", Expression: "price / 1.25"},
			{Target: "band", Expression: "'high' if net > 50 else 'low'"},
			{Target: "name", Expression: "name + ' (' + band + ')'"},
		},
	}
	table := newTable([]string{"Name", "Price"}, []any{"Ada", "100"})

	rec := run(t, s, table).Records()[0]
	assert.Equal(t, []string{"name", "price", "net", "band", "is_former"}, rec.Keys())
	assert.Equal(t, 80.0, rec.Map()["net"])
	assert.Equal(t, "Ada (high)", rec.Map()["name"])
}

func TestRun_ComputedNilBecomesEmptyString(t *testing.T) {
	s := &spec.Spec{
		Columns: []spec.ColumnRule{
			nameRule(),
			{Source: "Note", Target: "note"},
		},
		ComputedColumns: []spec.ComputedRule{
			{Target: "text", Expression: "name + ':' + note"},
		},
	}
	table := newTable([]string{"Name", "Note"}, []any{"Ada", nil})

	rec := run(t, s, table).Records()[0]
	assert.Equal(t, "Ada:", rec.Map()["text"])
	assert.Nil(t, rec.Map()["note"], "substitution applies to evaluation only")
}

func TestRun_ComputedInvalidExpression(t *testing.T) {
	s := &spec.Spec{
		Columns: []spec.ColumnRule{nameRule()},
		ComputedColumns: []spec.ComputedRule{
			{Target: "bad", Expression: "__import__('os').system('true')"},
		},
	}
	table := newTable([]string{"Name"}, []any{"Ada"})

	rec := run(t, s, table).Records()[0]
	v, ok := rec.Get("bad")
	assert.True(t, ok)
	assert.Nil(t, v)
}

// ----------------------------------------------------------------------------
// Required fields
// ----------------------------------------------------------------------------

func TestRun_RequiredFields(t *testing.T) {
	s := &spec.Spec{
		Input: spec.InputOptions{SkipRows: 2},
		Columns: []spec.ColumnRule{
			{Source: "Name", Target: "name", Required: true},
			{Source: "Id", Target: "id", Type: spec.TypeInteger, Required: true},
			{Source: "Note", Target: "note"},
		},
	}
	table := newTable(
		[]string{"Name", "Id", "Note"},
		[]any{"Ada", "1", ""},
		[]any{"", "x", "n"},
		[]any{"Cy", "", nil},
		[]any{"Dee", "4", nil},
	)
	for i := range table.Rows {
		table.Rows[i].Line += 2
	}

	result := run(t, s, table)

	assert.Equal(t, []RowError{
		{Row: 5, Column: "name", Error: MsgMissingRequired},
		{Row: 5, Column: "id", Error: MsgMissingRequired},
		{Row: 6, Column: "id", Error: MsgMissingRequired},
	}, result.Errors())

	require.Equal(t, 2, result.RecordCount())
	assert.Equal(t, "Ada", result.Records()[0].Map()["name"])
	assert.Equal(t, "Dee", result.Records()[1].Map()["name"])
}

func TestRowError_String(t *testing.T) {
	e := RowError{Row: 12, Column: "id", Error: MsgMissingRequired}
	assert.Equal(t, "Row 12 - id: Missing required value", e.String())
}

// ----------------------------------------------------------------------------
// Normalization and marker rows
// ----------------------------------------------------------------------------

func TestRun_MarkerRows(t *testing.T) {
	s := &spec.Spec{Columns: []spec.ColumnRule{nameRule()}}
	table := newTable([]string{"Name"},
		[]any{"Alice"},
		[]any{" EHEMALIGE "},
		[]any{""},
		[]any{"Bob"},
	)

	records := run(t, s, table).Records()
	require.Len(t, records, 2)

	assert.Equal(t, "Alice", records[0].Map()["name"])
	assert.Equal(t, false, records[0].Map()["is_former"])
	assert.Equal(t, "Bob", records[1].Map()["name"])
	assert.Equal(t, true, records[1].Map()["is_former"])
}

func TestRun_CustomMarker(t *testing.T) {
	s := &spec.Spec{
		Columns: []spec.ColumnRule{{Source: "Kunde", Target: "kunde"}},
		Marker:  spec.MarkerOptions{Field: "kunde", Value: "archiv", Flag: "archived"},
	}
	table := newTable([]string{"Kunde"}, []any{"A"}, []any{"Archiv"}, []any{"B"})

	records := run(t, s, table).Records()
	require.Len(t, records, 2)
	assert.Equal(t, false, records[0].Map()["archived"])
	assert.Equal(t, true, records[1].Map()["archived"])
}

func TestMarkerReducer(t *testing.T) {
	m := NewMarkerReducer(spec.MarkerOptions{}.WithDefaults())

	var emitted []string
	for _, name := range []any{"Alice", nil, "ehemalige", "Bob", int64(7)} {
		rec := NewRecord(Field{Key: "name", Value: name})
		if m.Next(&rec) {
			v, _ := rec.Get("name")
			flag, _ := rec.Get("is_former")
			emitted = append(emitted, fmtEntry(v, flag))
		}
	}

	assert.Equal(t, []string{"Alice=false", "Bob=true", "7=true"}, emitted)
	assert.True(t, m.Former())
}

func fmtEntry(v, flag any) string {
	b, _ := json.Marshal(flag)
	s, _ := toText(v)
	return s + "=" + string(b)
}

func TestNormalizeValue(t *testing.T) {
	assert.Nil(t, NormalizeValue(nil))
	assert.Equal(t, "2024-05-01T00:00:00", NormalizeValue(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "x", NormalizeValue("x"))
	assert.Equal(t, int64(1), NormalizeValue(int64(1)))

	var nilTime *time.Time
	assert.Nil(t, NormalizeValue(nilTime))
}

// ----------------------------------------------------------------------------
// Result and idempotence
// ----------------------------------------------------------------------------

func TestRun_Idempotent(t *testing.T) {
	s := &spec.Spec{
		Columns: []spec.ColumnRule{
			nameRule(),
			{Source: "Id", Target: "id", Type: spec.TypeInteger, Required: true},
		},
		DynamicColumns: []spec.DynamicRule{
			{Pattern: `[A-Z][a-z]{2}'\d{2}`, Mode: spec.ModeYearMonthMap, Target: "months", NumericClean: true},
			{Pattern: `[A-Z][a-z]{2}'\d{2}`, Mode: spec.ModePivot, Target: "pivot"},
		},
	}
	table := newTable(
		[]string{"Name", "Id", "Jan'24", "Feb'24", "Mär'24", "Apr'24"},
		[]any{"Ada", "1", "1", "2", "3", "4"},
		[]any{"Bob", "", "1", "2", "3", "4"},
		[]any{"Cy", "3", "", "2,5", nil, "x"},
	)

	first := run(t, s, table)
	second := run(t, s, table)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)

	assert.Equal(t, string(a), string(b))
	fa, err := first.Fingerprint()
	require.NoError(t, err)
	fb, err := second.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
	assert.Len(t, fa, 16)
}

func TestImportResult_JSON(t *testing.T) {
	s := &spec.Spec{Columns: []spec.ColumnRule{nameRule()}}
	result := run(t, s, newTable([]string{"Name"}, []any{"Ada"}))

	b, err := json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"records":[{"name":"Ada","is_former":false}],"errors":[]}`, string(b))

	empty, err := json.Marshal(NewImportResult(nil, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"records":[],"errors":[]}`, string(empty))
}

func TestImportResult_AccessorsReturnCopies(t *testing.T) {
	result := NewImportResult(
		[]Record{NewRecord(Field{Key: "name", Value: "Ada"})},
		[]RowError{{Row: 2, Column: "id", Error: MsgMissingRequired}},
	)

	errs := result.Errors()
	errs[0].Row = 99
	records := result.Records()
	records[0] = NewRecord()

	assert.Equal(t, 2, result.Errors()[0].Row)
	assert.Equal(t, 1, result.Records()[0].Len())
}

// ----------------------------------------------------------------------------
// Engine errors
// ----------------------------------------------------------------------------

func TestNewEngine_InvalidPattern(t *testing.T) {
	_, err := NewEngine(&spec.Spec{DynamicColumns: []spec.DynamicRule{{Pattern: "(", Target: "x"}}})
	require.Error(t, err)
	assert.True(t, spec.IsSpecError(err))
	assert.Contains(t, err.Error(), "dynamic_columns[0].pattern")
}

func TestEngine_RunErrors(t *testing.T) {
	e, err := NewEngine(&spec.Spec{Columns: []spec.ColumnRule{nameRule()}})
	require.NoError(t, err)

	_, err = e.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilTable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Run(ctx, newTable([]string{"Name"}, []any{"Ada"}))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewEngine(nil)
	assert.True(t, spec.IsSpecError(err))
}
