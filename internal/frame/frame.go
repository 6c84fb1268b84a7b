// Package frame holds tabular data in memory and encodes it into the files a
// COPY statement can load.
package frame

import (
	"fmt"
	"math"
	"time"
)

type Kind string

const (
	KindString  Kind = "string"
	KindInt64   Kind = "int64"
	KindFloat64 Kind = "float64"
	KindBool    Kind = "bool"
	KindTime    Kind = "time"
)

type Column struct {
	Name string
	Kind Kind
}

// Frame is a column-typed table. A nil cell is NULL.
type Frame struct {
	Columns []Column
	Rows    [][]any
}

func (f Frame) NumRows() int {
	return len(f.Rows)
}

// Validate checks the shape of the frame and that every cell fits its column
// kind. The frame is not modified.
func (f Frame) Validate() error {
	_, err := f.Normalize()
	return err
}

// Normalize returns a copy of the frame with every cell converted to the Go
// type of its column kind. The receiver's rows are left untouched.
func (f Frame) Normalize() (Frame, error) {
	if len(f.Columns) == 0 {
		return Frame{}, fmt.Errorf("frame has no columns")
	}
	seen := make(map[string]struct{}, len(f.Columns))
	for _, col := range f.Columns {
		if col.Name == "" {
			return Frame{}, fmt.Errorf("frame column name is required")
		}
		if _, dup := seen[col.Name]; dup {
			return Frame{}, fmt.Errorf("duplicate frame column %q", col.Name)
		}
		seen[col.Name] = struct{}{}
		switch col.Kind {
		case KindString, KindInt64, KindFloat64, KindBool, KindTime:
		default:
			return Frame{}, fmt.Errorf("column %q: unsupported kind %q", col.Name, col.Kind)
		}
	}
	out := Frame{
		Columns: append([]Column(nil), f.Columns...),
		Rows:    make([][]any, len(f.Rows)),
	}
	for i, row := range f.Rows {
		if len(row) != len(f.Columns) {
			return Frame{}, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(f.Columns))
		}
		normalized := make([]any, len(row))
		for j, value := range row {
			cell, err := normalize(f.Columns[j].Kind, value)
			if err != nil {
				return Frame{}, fmt.Errorf("row %d column %q: %w", i, f.Columns[j].Name, err)
			}
			normalized[j] = cell
		}
		out.Rows[i] = normalized
	}
	return out, nil
}

func normalize(kind Kind, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch kind {
	case KindString:
		switch v := value.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
	case KindInt64:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int8:
			return int64(v), nil
		case int16:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case uint8:
			return int64(v), nil
		case uint16:
			return int64(v), nil
		case uint32:
			return int64(v), nil
		case uint64:
			if v > math.MaxInt64 {
				return nil, fmt.Errorf("value %d overflows int64", v)
			}
			return int64(v), nil
		}
	case KindFloat64:
		switch v := value.(type) {
		case float32:
			return float64(v), nil
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
	case KindBool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case KindTime:
		if v, ok := value.(time.Time); ok {
			return v.UTC(), nil
		}
	}
	return nil, fmt.Errorf("value %v (%T) is not a %s", value, value, kind)
}
