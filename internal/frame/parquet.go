package frame

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"
)

// EncodeParquet writes the frame as a single parquet file with one optional
// column per frame column.
func EncodeParquet(f Frame) ([]byte, error) {
	f, err := f.Normalize()
	if err != nil {
		return nil, err
	}

	group := parquet.Group{}
	for _, col := range f.Columns {
		group[col.Name] = parquet.Optional(leafFor(col.Kind))
	}
	schema := parquet.NewSchema("frame", group)

	// Group fields are ordered by name, which fixes each leaf's column index.
	columnIndex := make(map[string]int, len(f.Columns))
	for i, field := range schema.Fields() {
		columnIndex[field.Name()] = i
	}

	rows := make([]parquet.Row, 0, len(f.Rows))
	for _, values := range f.Rows {
		row := make(parquet.Row, len(f.Columns))
		for j, value := range values {
			index := columnIndex[f.Columns[j].Name]
			row[index] = parquetValue(value, index)
		}
		rows = append(rows, row)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, schema)
	if _, err := writer.WriteRows(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func leafFor(kind Kind) parquet.Node {
	switch kind {
	case KindInt64:
		return parquet.Int(64)
	case KindFloat64:
		return parquet.Leaf(parquet.DoubleType)
	case KindBool:
		return parquet.Leaf(parquet.BooleanType)
	case KindTime:
		return parquet.Timestamp(parquet.Microsecond)
	default:
		return parquet.String()
	}
}

func parquetValue(value any, columnIndex int) parquet.Value {
	var v parquet.Value
	switch typed := value.(type) {
	case nil:
		return parquet.NullValue().Level(0, 0, columnIndex)
	case string:
		v = parquet.ByteArrayValue([]byte(typed))
	case int64:
		v = parquet.Int64Value(typed)
	case float64:
		v = parquet.DoubleValue(typed)
	case bool:
		v = parquet.BooleanValue(typed)
	case time.Time:
		v = parquet.Int64Value(typed.UnixMicro())
	}
	return v.Level(0, 1, columnIndex)
}
