package sqlgen

import (
	"fmt"
	"regexp"
	"strings"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]{0,126}$`)

// ValidationError reports an option value that cannot be rendered into a
// statement. It is always returned before any SQL text is produced.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func invalid(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// ParseFormat accepts csv, json and parquet in any letter case.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", invalid("format", raw, "must be one of csv, json, parquet")
	}
}

// Extension is the file extension the warehouse appends to unloaded objects.
// Parquet output carries no extension clause.
func (f Format) Extension() string {
	switch f {
	case FormatCSV, FormatJSON:
		return string(f)
	default:
		return ""
	}
}

type ExportOptions struct {
	Format          Format
	Header          bool
	Delimiter       string
	AllowOverwrite  bool
	Parallel        bool
	PartitionColumn string
	GZIP            bool
}

func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		Format:         FormatCSV,
		Header:         true,
		Delimiter:      ",",
		AllowOverwrite: true,
		Parallel:       true,
	}
}

type ImportOptions struct {
	Format       Format
	Delimiter    string
	HasHeaderRow bool
}

func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		Format:       FormatCSV,
		Delimiter:    ",",
		HasHeaderRow: true,
	}
}

// BuildUnloadSQL renders an UNLOAD statement. The query is embedded verbatim,
// so single quotes inside it must already be doubled by the caller.
func BuildUnloadSQL(query, destinationURI, role string, opts ExportOptions) (string, error) {
	format, err := ParseFormat(string(opts.Format))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(query) == "" {
		return "", invalid("query", "", "is required")
	}
	if !quotesDoubled(query) {
		return "", invalid("query", query, "single quotes must be doubled")
	}
	if err := validateObjectURI("destination", destinationURI); err != nil {
		return "", err
	}
	if err := validateRole(role); err != nil {
		return "", err
	}
	if format != FormatParquet {
		if err := validateDelimiter(opts.Delimiter); err != nil {
			return "", err
		}
	}
	if opts.PartitionColumn != "" && !identifierPattern.MatchString(opts.PartitionColumn) {
		return "", invalid("partition column", opts.PartitionColumn, "must be a plain column identifier")
	}

	clauses := []string{
		fmt.Sprintf("UNLOAD ('%s')", query),
		fmt.Sprintf("TO '%s'", destinationURI),
		fmt.Sprintf("IAM_ROLE '%s'", role),
		"FORMAT AS " + strings.ToUpper(string(format)),
	}
	if format != FormatParquet {
		if opts.Header {
			clauses = append(clauses, "HEADER")
		}
		if opts.Delimiter != "" {
			clauses = append(clauses, fmt.Sprintf("DELIMITER '%s'", opts.Delimiter))
		}
	}
	if opts.AllowOverwrite {
		clauses = append(clauses, "ALLOWOVERWRITE")
	}
	if !opts.Parallel {
		clauses = append(clauses, "PARALLEL FALSE")
	}
	if opts.PartitionColumn != "" {
		clauses = append(clauses, fmt.Sprintf("PARTITION BY '%s'", opts.PartitionColumn))
	}
	if opts.GZIP {
		clauses = append(clauses, "GZIP")
	}
	if ext := format.Extension(); ext != "" {
		clauses = append(clauses, fmt.Sprintf("EXTENSION '%s'", ext))
	}
	return strings.Join(clauses, " "), nil
}

// BuildCopySQL renders a COPY statement loading sourceURI (an object key or
// key prefix) into schema.table.
func BuildCopySQL(schema, table, sourceURI, role string, opts ImportOptions) (string, error) {
	format, err := ParseFormat(string(opts.Format))
	if err != nil {
		return "", err
	}
	target, err := qualifiedTable(schema, table)
	if err != nil {
		return "", err
	}
	if err := validateObjectURI("source", sourceURI); err != nil {
		return "", err
	}
	if err := validateRole(role); err != nil {
		return "", err
	}
	if format != FormatParquet {
		if err := validateDelimiter(opts.Delimiter); err != nil {
			return "", err
		}
	}

	clauses := []string{
		"COPY " + target,
		fmt.Sprintf("FROM '%s'", sourceURI),
		fmt.Sprintf("IAM_ROLE '%s'", role),
		"FORMAT AS " + strings.ToUpper(string(format)),
	}
	if format != FormatParquet {
		if opts.Delimiter != "" {
			clauses = append(clauses, fmt.Sprintf("DELIMITER '%s'", opts.Delimiter))
		}
		if opts.HasHeaderRow {
			clauses = append(clauses, "IGNOREHEADER 1")
		}
	}
	return strings.Join(clauses, " "), nil
}

func BuildTruncateSQL(schema, table string) (string, error) {
	target, err := qualifiedTable(schema, table)
	if err != nil {
		return "", err
	}
	return "TRUNCATE TABLE " + target, nil
}

func qualifiedTable(schema, table string) (string, error) {
	if !identifierPattern.MatchString(schema) {
		return "", invalid("schema", schema, "must be a plain identifier")
	}
	if !identifierPattern.MatchString(table) {
		return "", invalid("table", table, "must be a plain identifier")
	}
	return schema + "." + table, nil
}

func validateObjectURI(field, uri string) error {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return invalid(field, uri, "must be an s3:// uri")
	}
	bucket, _, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return invalid(field, uri, "bucket is required")
	}
	if strings.ContainsAny(uri, "'\n\r") {
		return invalid(field, uri, "must not contain quotes or line breaks")
	}
	return nil
}

func validateRole(role string) error {
	if strings.TrimSpace(role) == "" {
		return invalid("iam role", "", "is required")
	}
	if strings.ContainsAny(role, "'\n\r ") {
		return invalid("iam role", role, "must not contain quotes or whitespace")
	}
	return nil
}

func validateDelimiter(delimiter string) error {
	if strings.ContainsAny(delimiter, "'\n\r") {
		return invalid("delimiter", delimiter, "must not contain quotes or line breaks")
	}
	return nil
}

// quotesDoubled reports whether every run of single quotes has even length,
// which is what embedding the text inside a quoted literal requires.
func quotesDoubled(text string) bool {
	run := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\'' {
			run++
			continue
		}
		if run%2 != 0 {
			return false
		}
		run = 0
	}
	return run%2 == 0
}
