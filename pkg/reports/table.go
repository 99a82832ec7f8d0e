package reports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
)

// table is a report body: a header row and string cells.
type table struct {
	columns []string
	rows    [][]string
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

// render encodes t as CSV with a header row, or as a JSON array of objects
// keyed by column name.
func (t *table) render(format ReportFormat) (io.Reader, error) {
	buf := &bytes.Buffer{}

	switch format {
	case ReportFormatCSV, "":
		writer := csv.NewWriter(buf)
		if err := writer.Write(t.columns); err != nil {
			return nil, fmt.Errorf("failed to write headers: %w", err)
		}
		if err := writer.WriteAll(t.rows); err != nil {
			return nil, fmt.Errorf("failed to write rows: %w", err)
		}

	case ReportFormatJSON:
		objects := make([]map[string]string, 0, len(t.rows))
		for _, row := range t.rows {
			obj := make(map[string]string, len(t.columns))
			for i, col := range t.columns {
				obj[col] = row[i]
			}
			objects = append(objects, obj)
		}
		if err := json.NewEncoder(buf).Encode(objects); err != nil {
			return nil, fmt.Errorf("failed to encode rows: %w", err)
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
	return buf, nil
}
