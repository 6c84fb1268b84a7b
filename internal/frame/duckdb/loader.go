// Package duckdb reads local csv, json and parquet files into frames using an
// in-process DuckDB.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	goduckdb "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckmesh/rsbulk/internal/frame"
)

type Options struct {
	// Format is csv, json or parquet. Empty means infer from the extension.
	Format   string
	RowLimit int
}

func LoadFile(ctx context.Context, path string, opts Options) (frame.Frame, error) {
	if strings.TrimSpace(path) == "" {
		return frame.Frame{}, fmt.Errorf("file path is required")
	}
	if _, err := os.Stat(path); err != nil {
		return frame.Frame{}, fmt.Errorf("stat %q: %w", path, err)
	}
	reader, err := readerFunction(path, opts.Format)
	if err != nil {
		return frame.Frame{}, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return frame.Frame{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	sqlText := fmt.Sprintf("SELECT * FROM %s(%s)", reader, quoteString(path))
	if opts.RowLimit > 0 {
		sqlText = fmt.Sprintf("%s LIMIT %d", sqlText, opts.RowLimit)
	}

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("read %q: %w", path, err)
	}
	defer func() { _ = rows.Close() }()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return frame.Frame{}, fmt.Errorf("query columns: %w", err)
	}
	result := frame.Frame{Columns: make([]frame.Column, len(columnTypes))}
	for i, ct := range columnTypes {
		result.Columns[i] = frame.Column{Name: ct.Name(), Kind: kindFor(ct.DatabaseTypeName())}
	}

	for rows.Next() {
		values := make([]any, len(columnTypes))
		scanTargets := make([]any, len(columnTypes))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return frame.Frame{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, normalizeValues(result.Columns, values))
	}
	if err := rows.Err(); err != nil {
		return frame.Frame{}, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

func readerFunction(path, format string) (string, error) {
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	switch strings.ToLower(format) {
	case "csv", "tsv", "txt":
		return "read_csv_auto", nil
	case "json", "ndjson", "jsonl":
		return "read_json_auto", nil
	case "parquet":
		return "read_parquet", nil
	default:
		return "", fmt.Errorf("cannot read %q: unsupported format %q", path, format)
	}
}

func kindFor(databaseType string) frame.Kind {
	upper := strings.ToUpper(databaseType)
	switch {
	case upper == "BOOLEAN":
		return frame.KindBool
	case upper == "TINYINT", upper == "SMALLINT", upper == "INTEGER", upper == "BIGINT",
		upper == "UTINYINT", upper == "USMALLINT", upper == "UINTEGER":
		return frame.KindInt64
	case upper == "FLOAT", upper == "DOUBLE", strings.HasPrefix(upper, "DECIMAL"):
		return frame.KindFloat64
	case upper == "DATE", strings.HasPrefix(upper, "TIMESTAMP"):
		return frame.KindTime
	default:
		return frame.KindString
	}
}

type float64er interface {
	Float64() float64
}

func normalizeValues(columns []frame.Column, values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		if value == nil {
			continue
		}
		switch columns[i].Kind {
		case frame.KindFloat64:
			if dec, ok := value.(goduckdb.Decimal); ok {
				normalized[i] = dec.Float64()
				continue
			}
			if dec, ok := value.(float64er); ok {
				normalized[i] = dec.Float64()
				continue
			}
		case frame.KindTime:
			if ts, ok := value.(time.Time); ok {
				normalized[i] = ts.UTC()
				continue
			}
		case frame.KindString:
			switch typed := value.(type) {
			case string:
				normalized[i] = typed
			case []byte:
				normalized[i] = string(typed)
			default:
				normalized[i] = fmt.Sprint(typed)
			}
			continue
		}
		normalized[i] = value
	}
	return normalized
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
