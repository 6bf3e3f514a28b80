package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/JonMunkholm/tidyimport/internal/core"
)

// CSV writes records to path with a header row built from Columns.
// Missing and nil fields are written as empty cells.
func CSV(records []core.Record, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	w := bufio.NewWriter(f)
	if err := WriteCSV(w, records); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// WriteCSV writes records as CSV to w.
func WriteCSV(w io.Writer, records []core.Record) error {
	cols := Columns(records)
	cw := csv.NewWriter(w)

	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	row := make([]string, len(cols))
	for i, rec := range records {
		values := rec.Map()
		for j, col := range cols {
			cell, err := text(values[col])
			if err != nil {
				return fmt.Errorf("record %d, column %s: %w", i, col, err)
			}
			row[j] = cell
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
