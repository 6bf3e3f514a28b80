// Package loader reads CSV and XLSX files into a core.Table.
//
// The header row is located with the spec's input options (skip_rows,
// header_row), header names are trimmed, and every data row is stamped with
// its source line number:
//
//	line = skip_rows + header_row + index + 1
//
// Empty cells load as nil so the engine can tell them apart from text.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JonMunkholm/tidyimport/internal/core"
	"github.com/JonMunkholm/tidyimport/internal/spec"
)

var (
	// ErrUnsupportedFormat is returned for file extensions other than .csv,
	// .txt, .tsv and .xlsx.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrHeaderNotFound is returned when the file ends before the header row.
	ErrHeaderNotFound = errors.New("header row not found")

	// ErrSheetNotFound is returned when input.sheet names a missing worksheet.
	ErrSheetNotFound = errors.New("sheet not found")
)

// Format identifies an input file type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatOf returns the input format for a file name.
func FormatOf(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt", ".tsv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
}

// ctxCheckInterval is how many rows are built between context checks.
const ctxCheckInterval = 1000

// Loader reads input files. The zero value has no size limit.
type Loader struct {
	// MaxBytes caps the raw input size. 0 means unlimited.
	MaxBytes int64
}

// Load reads the file at path with the default Loader.
func Load(ctx context.Context, path string, in spec.InputOptions) (*core.Table, error) {
	return Loader{}.Load(ctx, path, in)
}

// Load opens path and reads it according to its extension.
func (l Loader) Load(ctx context.Context, path string, in spec.InputOptions) (*core.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	return l.LoadReader(ctx, f, filepath.Base(path), in)
}

// LoadReader reads r; name selects the format by its extension.
func (l Loader) LoadReader(ctx context.Context, r io.Reader, name string, in spec.InputOptions) (*core.Table, error) {
	format, err := FormatOf(name)
	if err != nil {
		return nil, err
	}

	var table *core.Table
	switch format {
	case FormatXLSX:
		table, err = l.ReadXLSX(ctx, r, in)
	default:
		table, err = l.ReadCSV(ctx, r, in)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}

	slog.Debug("input loaded",
		"file", name,
		"format", format,
		"columns", len(table.Columns),
		"rows", len(table.Rows),
	)
	return table, nil
}

// buildTable turns raw string records into a Table. records starts at the
// first physical row of the input.
func buildTable(ctx context.Context, records [][]string, in spec.InputOptions) (*core.Table, error) {
	skip := max(in.SkipRows, 0)
	headerRow := in.HeaderRow
	if headerRow < 1 {
		headerRow = spec.DefaultHeaderRow
	}

	headerIdx := skip + headerRow - 1
	if headerIdx >= len(records) {
		return nil, fmt.Errorf("%w: row %d of %d", ErrHeaderNotFound, headerIdx+1, len(records))
	}

	columns := headerNames(records[headerIdx])
	data := records[headerIdx+1:]

	table := &core.Table{
		Columns: columns,
		Rows:    make([]core.Row, 0, len(data)),
	}

	for i, rec := range data {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		values := make(map[string]any, len(columns))
		for j, col := range columns {
			if j < len(rec) && rec[j] != "" {
				values[col] = rec[j]
			} else {
				values[col] = nil
			}
		}

		table.Rows = append(table.Rows, core.Row{
			Line:   skip + headerRow + i + 1,
			Values: values,
		})
	}

	return table, nil
}

// headerNames trims the header cells, names empty ones "Unnamed: <i>" and
// de-duplicates repeats as name.1, name.2, ...
func headerNames(raw []string) []string {
	names := make([]string, len(raw))
	seen := make(map[string]int, len(raw))
	taken := make(map[string]bool, len(raw))

	for i, h := range raw {
		name := strings.TrimSpace(h)
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}

		base := name
		for taken[name] {
			seen[base]++
			name = base + "." + strconv.Itoa(seen[base])
		}

		taken[name] = true
		names[i] = name
	}
	return names
}
