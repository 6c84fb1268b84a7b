package frame

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
	"unicode/utf8"
)

const timestampLayout = "2006-01-02 15:04:05.999999"

// EncodeCSV writes the frame as delimited text. The delimiter must be a
// single character.
func EncodeCSV(w io.Writer, f Frame, delimiter string, header bool) error {
	f, err := f.Normalize()
	if err != nil {
		return err
	}
	comma, size := utf8.DecodeRuneInString(delimiter)
	if size == 0 || size != len(delimiter) {
		return fmt.Errorf("csv delimiter must be a single character, got %q", delimiter)
	}

	writer := csv.NewWriter(w)
	writer.Comma = comma
	if header {
		names := make([]string, len(f.Columns))
		for i, col := range f.Columns {
			names[i] = col.Name
		}
		if err := writer.Write(names); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	record := make([]string, len(f.Columns))
	for i, row := range f.Rows {
		for j, value := range row {
			record[j] = formatCell(value)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func formatCell(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(timestampLayout)
	default:
		return fmt.Sprint(v)
	}
}
