package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/JonMunkholm/tidyimport/internal/core"
)

// JSON writes records to path as an indented JSON array.
func JSON(records []core.Record, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteJSON(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteJSON writes records to w as an indented JSON array. Keys keep the
// record field order; an empty result is written as [].
func WriteJSON(w io.Writer, records []core.Record) error {
	if records == nil {
		records = []core.Record{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	return nil
}
