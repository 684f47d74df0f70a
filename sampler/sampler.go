// Package sampler produces an instant client-side preview of a CSV before the
// backend has confirmed the upload. It is UI feedback only; the backend's
// parse is authoritative.
package sampler

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// Preview is the first look at an uploaded CSV: header columns, up to
// MaxRows data rows, and the total data row count.
type Preview struct {
	Columns   []string
	Rows      [][]string
	TotalRows int
}

var ErrEmptyFile = errors.New("csv file is empty")

// Parse reads raw CSV bytes in a single pass and returns a preview with at
// most maxRows data rows. Column names are normalized the same way the
// backend does (trimmed, lowercased, spaces to underscores) so the preview
// matches the schema the server will report.
func Parse(contents []byte, maxRows int) (*Preview, error) {
	reader := csv.NewReader(bytes.NewReader(contents))
	reader.FieldsPerRecord = -1 // tolerate ragged rows in the preview
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, ErrEmptyFile
		}
		return nil, err
	}

	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = normalizeColumn(name)
	}

	preview := &Preview{Columns: columns}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A malformed tail row should not sink the whole preview
			continue
		}
		preview.TotalRows++
		if maxRows <= 0 || len(preview.Rows) < maxRows {
			preview.Rows = append(preview.Rows, record)
		}
	}

	return preview, nil
}

func normalizeColumn(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, " ", "_")
	return strings.ToLower(name)
}
