package loader

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/tidyimport/internal/core"
	"github.com/JonMunkholm/tidyimport/internal/spec"
)

// ReadXLSX reads one worksheet: input.sheet, or the first sheet when empty.
// Cells are read as their formatted text.
func (l Loader) ReadXLSX(ctx context.Context, r io.Reader, in spec.InputOptions) (*core.Table, error) {
	counter := &countingReader{reader: r, max: l.MaxBytes}

	f, err := excelize.OpenReader(counter)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet := in.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%w: workbook has no sheets", ErrSheetNotFound)
		}
		sheet = sheets[0]
	} else if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	return buildTable(ctx, rows, in)
}
