package core

import "slices"

// frame is the column-oriented working set the stages build up. Column order
// is insertion order; replacing an existing column keeps its position.
type frame struct {
	columns []string
	cells   map[string][]any
	lines   []int
}

func newFrame(t *Table) *frame {
	lines := make([]int, len(t.Rows))
	for i, row := range t.Rows {
		lines[i] = row.Line
	}
	return &frame{cells: make(map[string][]any), lines: lines}
}

func (f *frame) len() int { return len(f.lines) }

func (f *frame) has(col string) bool {
	_, ok := f.cells[col]
	return ok
}

// set writes a whole column. values must have one entry per row.
func (f *frame) set(col string, values []any) {
	if !f.has(col) {
		f.columns = append(f.columns, col)
	}
	f.cells[col] = values
}

func (f *frame) drop(col string) {
	if !f.has(col) {
		return
	}
	delete(f.cells, col)
	f.columns = slices.DeleteFunc(f.columns, func(c string) bool { return c == col })
}

func (f *frame) value(row int, col string) (any, bool) {
	values, ok := f.cells[col]
	if !ok {
		return nil, false
	}
	return values[row], true
}

// vars returns one row as a name → value map.
func (f *frame) vars(row int) map[string]any {
	m := make(map[string]any, len(f.columns))
	for _, col := range f.columns {
		m[col] = f.cells[col][row]
	}
	return m
}

// record converts one row into a Record in column order.
func (f *frame) record(row int) Record {
	fields := make([]Field, len(f.columns))
	for i, col := range f.columns {
		fields[i] = Field{Key: col, Value: f.cells[col][row]}
	}
	return Record{fields: fields}
}
