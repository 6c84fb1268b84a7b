package sqlgen

import (
	"errors"
	"strings"
	"testing"
)

const testRole = "arn:aws:iam::210987654321:role/unload"

func TestBuildUnloadSQLCSVDefaults(t *testing.T) {
	sql, err := BuildUnloadSQL("SELECT * FROM sales", "s3://bucket/exports/sales_", testRole, DefaultExportOptions())
	if err != nil {
		t.Fatalf("BuildUnloadSQL() error = %v", err)
	}
	want := "UNLOAD ('SELECT * FROM sales') TO 's3://bucket/exports/sales_' IAM_ROLE '" + testRole +
		"' FORMAT AS CSV HEADER DELIMITER ',' ALLOWOVERWRITE EXTENSION 'csv'"
	if sql != want {
		t.Fatalf("sql = %q\nwant %q", sql, want)
	}
}

func TestBuildUnloadSQLAllClausesInOrder(t *testing.T) {
	opts := ExportOptions{
		Format:          FormatCSV,
		Header:          true,
		Delimiter:       "|",
		AllowOverwrite:  true,
		Parallel:        false,
		PartitionColumn: "sale_date",
		GZIP:            true,
	}
	sql, err := BuildUnloadSQL("SELECT 1", "s3://bucket/p/", testRole, opts)
	if err != nil {
		t.Fatalf("BuildUnloadSQL() error = %v", err)
	}
	order := []string{"FORMAT AS CSV", "HEADER", "DELIMITER '|'", "ALLOWOVERWRITE", "PARALLEL FALSE", "PARTITION BY 'sale_date'", "GZIP", "EXTENSION 'csv'"}
	last := -1
	for _, clause := range order {
		idx := strings.Index(sql, clause)
		if idx < 0 {
			t.Fatalf("clause %q missing from %q", clause, sql)
		}
		if idx <= last {
			t.Fatalf("clause %q out of order in %q", clause, sql)
		}
		last = idx
	}
}

func TestBuildUnloadSQLParquetSuppressesTextClauses(t *testing.T) {
	for _, header := range []bool{true, false} {
		for _, delimiter := range []string{"", ",", "|", "\t"} {
			opts := DefaultExportOptions()
			opts.Format = FormatParquet
			opts.Header = header
			opts.Delimiter = delimiter
			sql, err := BuildUnloadSQL("SELECT 1", "s3://bucket/p/", testRole, opts)
			if err != nil {
				t.Fatalf("BuildUnloadSQL() error = %v", err)
			}
			for _, banned := range []string{"HEADER", "DELIMITER", "EXTENSION"} {
				if strings.Contains(sql, banned) {
					t.Fatalf("parquet sql contains %s: %q", banned, sql)
				}
			}
			if !strings.Contains(sql, "FORMAT AS PARQUET") {
				t.Fatalf("sql = %q", sql)
			}
		}
	}
}

func TestBuildUnloadSQLTextFormatsCarryExtension(t *testing.T) {
	for _, format := range []Format{FormatCSV, FormatJSON} {
		opts := DefaultExportOptions()
		opts.Format = format
		sql, err := BuildUnloadSQL("SELECT 1", "s3://bucket/p/", testRole, opts)
		if err != nil {
			t.Fatalf("BuildUnloadSQL(%s) error = %v", format, err)
		}
		if !strings.Contains(sql, "EXTENSION '"+string(format)+"'") {
			t.Fatalf("sql = %q, want extension %s", sql, format)
		}
		if !strings.Contains(sql, " HEADER ") {
			t.Fatalf("sql = %q, want HEADER", sql)
		}
	}
}

func TestBuildUnloadSQLAcceptsUpperCaseFormat(t *testing.T) {
	opts := DefaultExportOptions()
	opts.Format = Format("JSON")
	sql, err := BuildUnloadSQL("SELECT 1", "s3://bucket/p/", testRole, opts)
	if err != nil {
		t.Fatalf("BuildUnloadSQL() error = %v", err)
	}
	if !strings.Contains(sql, "FORMAT AS JSON") || !strings.Contains(sql, "EXTENSION 'json'") {
		t.Fatalf("sql = %q", sql)
	}
}

func TestBuildUnloadSQLParallelDefaultEmitsNoClause(t *testing.T) {
	sql, err := BuildUnloadSQL("SELECT 1", "s3://bucket/p/", testRole, DefaultExportOptions())
	if err != nil {
		t.Fatalf("BuildUnloadSQL() error = %v", err)
	}
	if strings.Contains(sql, "PARALLEL") {
		t.Fatalf("sql = %q", sql)
	}
}

func TestBuildUnloadSQLRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		query string
		dest  string
		role  string
		opts  func(*ExportOptions)
		field string
	}{
		{name: "format", query: "SELECT 1", dest: "s3://b/p", role: testRole, opts: func(o *ExportOptions) { o.Format = "avro" }, field: "format"},
		{name: "empty query", query: " ", dest: "s3://b/p", role: testRole, field: "query"},
		{name: "unescaped quote", query: "SELECT * FROM t WHERE a = 'x'", dest: "s3://b/p", role: testRole, field: "query"},
		{name: "not s3", query: "SELECT 1", dest: "/tmp/out", role: testRole, field: "destination"},
		{name: "no bucket", query: "SELECT 1", dest: "s3:///p", role: testRole, field: "destination"},
		{name: "missing role", query: "SELECT 1", dest: "s3://b/p", role: "", field: "iam role"},
		{name: "quoted delimiter", query: "SELECT 1", dest: "s3://b/p", role: testRole, opts: func(o *ExportOptions) { o.Delimiter = "'" }, field: "delimiter"},
		{name: "partition", query: "SELECT 1", dest: "s3://b/p", role: testRole, opts: func(o *ExportOptions) { o.PartitionColumn = "a'b" }, field: "partition column"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultExportOptions()
			if tt.opts != nil {
				tt.opts(&opts)
			}
			sql, err := BuildUnloadSQL(tt.query, tt.dest, tt.role, opts)
			if err == nil {
				t.Fatalf("expected error, got sql %q", sql)
			}
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("error type = %T", err)
			}
			if validation.Field != tt.field {
				t.Fatalf("Field = %q, want %q", validation.Field, tt.field)
			}
			if sql != "" {
				t.Fatalf("sql should be empty on error, got %q", sql)
			}
		})
	}
}

func TestBuildUnloadSQLKeepsDoubledQuotes(t *testing.T) {
	query := "SELECT * FROM t WHERE region = ''eu''"
	sql, err := BuildUnloadSQL(query, "s3://b/p", testRole, DefaultExportOptions())
	if err != nil {
		t.Fatalf("BuildUnloadSQL() error = %v", err)
	}
	if !strings.HasPrefix(sql, "UNLOAD ('"+query+"')") {
		t.Fatalf("sql = %q", sql)
	}
}

func TestBuildCopySQLCSV(t *testing.T) {
	sql, err := BuildCopySQL("analytics", "events", "s3://bucket/data/file.csv", testRole, DefaultImportOptions())
	if err != nil {
		t.Fatalf("BuildCopySQL() error = %v", err)
	}
	want := "COPY analytics.events FROM 's3://bucket/data/file.csv' IAM_ROLE '" + testRole + "' FORMAT AS CSV DELIMITER ',' IGNOREHEADER 1"
	if sql != want {
		t.Fatalf("sql = %q\nwant %q", sql, want)
	}
}

func TestBuildCopySQLParquetSuppressesTextClauses(t *testing.T) {
	opts := ImportOptions{Format: FormatParquet, Delimiter: ",", HasHeaderRow: true}
	sql, err := BuildCopySQL("analytics", "events", "s3://bucket/data/", testRole, opts)
	if err != nil {
		t.Fatalf("BuildCopySQL() error = %v", err)
	}
	if strings.Contains(sql, "DELIMITER") || strings.Contains(sql, "IGNOREHEADER") {
		t.Fatalf("sql = %q", sql)
	}
	if !strings.HasSuffix(sql, "FORMAT AS PARQUET") {
		t.Fatalf("sql = %q", sql)
	}
}

func TestBuildCopySQLWithoutHeaderRow(t *testing.T) {
	opts := DefaultImportOptions()
	opts.HasHeaderRow = false
	sql, err := BuildCopySQL("s", "t", "s3://bucket/k", testRole, opts)
	if err != nil {
		t.Fatalf("BuildCopySQL() error = %v", err)
	}
	if strings.Contains(sql, "IGNOREHEADER") {
		t.Fatalf("sql = %q", sql)
	}
}

func TestBuildCopySQLRejectsBadIdentifiers(t *testing.T) {
	if _, err := BuildCopySQL("s;drop", "t", "s3://bucket/k", testRole, DefaultImportOptions()); err == nil {
		t.Fatal("expected schema validation error")
	}
	if _, err := BuildCopySQL("s", "", "s3://bucket/k", testRole, DefaultImportOptions()); err == nil {
		t.Fatal("expected table validation error")
	}
	if _, err := BuildCopySQL("s", "t", "s3://bucket/k", testRole, ImportOptions{Format: "xml"}); err == nil {
		t.Fatal("expected format validation error")
	}
}

func TestBuildTruncateSQL(t *testing.T) {
	sql, err := BuildTruncateSQL("analytics", "events")
	if err != nil {
		t.Fatalf("BuildTruncateSQL() error = %v", err)
	}
	if sql != "TRUNCATE TABLE analytics.events" {
		t.Fatalf("sql = %q", sql)
	}
}

func TestParseFormat(t *testing.T) {
	for raw, want := range map[string]Format{"csv": FormatCSV, " CSV ": FormatCSV, "Json": FormatJSON, "PARQUET": FormatParquet} {
		got, err := ParseFormat(raw)
		if err != nil {
			t.Fatalf("ParseFormat(%q) error = %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseFormat(%q) = %q, want %q", raw, got, want)
		}
	}
	if _, err := ParseFormat("orc"); err == nil {
		t.Fatal("expected error for orc")
	}
}
