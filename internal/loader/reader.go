package loader

// reader.go wraps raw input before it reaches the CSV parser:
//
//   - a UTF-8 BOM is removed, and UTF-16 input with a BOM is decoded to UTF-8
//   - invalid UTF-8 sequences are replaced with U+FFFD
//   - bytes are counted, and reading fails with ErrFileTooLarge past a limit
//
// Use wrapInput to apply all of them in the right order.

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrFileTooLarge is returned once more than the configured number of bytes
// has been read.
var ErrFileTooLarge = errors.New("file too large")

// countingReader tracks bytes read and enforces an optional limit.
type countingReader struct {
	reader    io.Reader
	bytesRead int64
	max       int64 // 0 means unlimited
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.bytesRead += int64(n)
	if r.max > 0 && r.bytesRead > r.max {
		return n, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, r.max)
	}
	return n, err
}

// BytesRead returns the number of raw bytes consumed so far.
func (r *countingReader) BytesRead() int64 { return r.bytesRead }

// newDecodingReader strips a BOM and sanitizes the text to valid UTF-8.
func newDecodingReader(r io.Reader) io.Reader {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	return transform.NewReader(r, decoder)
}

// wrapInput counts (and limits) the raw bytes, then decodes them.
// The counter wraps the raw input so the limit applies to the file size.
func wrapInput(r io.Reader, maxBytes int64) (io.Reader, *countingReader) {
	counter := &countingReader{reader: r, max: maxBytes}
	return newDecodingReader(counter), counter
}
