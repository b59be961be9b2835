package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// extractCSV parses delimited tabular text into one section per record.
// The first row is treated as a header; each data row becomes a section of
// "header: value" lines, so field names stay attached to their values when
// the record is later chunked and embedded.
func extractCSV(content []byte) ([]string, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}
	if len(records) < 2 {
		// header only, or empty
		return nil, nil
	}
	header := records[0]
	sections := make([]string, 0, len(records)-1)
	for _, record := range records[1:] {
		var b strings.Builder
		for i, field := range record {
			if i > 0 {
				b.WriteByte('\n')
			}
			if i < len(header) {
				b.WriteString(header[i])
				b.WriteString(": ")
			}
			b.WriteString(field)
		}
		sections = append(sections, b.String())
	}
	return nonEmpty(sections), nil
}
