package loader

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/JonMunkholm/tidyimport/internal/core"
	"github.com/JonMunkholm/tidyimport/internal/spec"
)

// ReadCSV parses delimited text. Rows may have fewer fields than the header;
// missing cells load as nil and surplus cells are ignored.
func (l Loader) ReadCSV(ctx context.Context, r io.Reader, in spec.InputOptions) (*core.Table, error) {
	input, counter := wrapInput(r, l.MaxBytes)

	cr := csv.NewReader(input)
	cr.Comma = in.Comma()
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv after %d bytes: %w", counter.BytesRead(), err)
	}

	return buildTable(ctx, records, in)
}
