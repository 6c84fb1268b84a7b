package rsbulk

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/duckmesh/rsbulk/internal/execution"
	"github.com/duckmesh/rsbulk/internal/frame"
	"github.com/duckmesh/rsbulk/internal/frame/duckdb"
	"github.com/duckmesh/rsbulk/internal/sqlgen"
	"github.com/duckmesh/rsbulk/internal/transfer"
	"github.com/duckmesh/rsbulk/internal/waiter"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// Transfers is the orchestrator surface the commands drive.
type Transfers interface {
	Unload(ctx context.Context, req transfer.UnloadRequest) (transfer.UnloadResult, error)
	CopyFromObject(ctx context.Context, req transfer.CopyRequest) (transfer.CopyResult, error)
	CopyFromFrame(ctx context.Context, req transfer.FrameCopyRequest) (transfer.FrameCopyResult, error)
	Resume(ctx context.Context, handle execution.Handle) (transfer.StatementResult, error)
	Describe(ctx context.Context, handle execution.Handle) (execution.Description, error)
}

// Settings carries global flags that change how the orchestrator is built.
type Settings struct {
	MaxWait time.Duration
}

type Options struct {
	// Connect builds the orchestrator. It is not called for -dry-run.
	Connect func(ctx context.Context, settings Settings) (Transfers, error)
	// RoleARN is rendered into dry-run statements.
	RoleARN string
	// Resumable is set when statement handles outlive this process, so a
	// timed out statement can be picked up later with "rsbulk wait".
	Resumable bool
	LoadFile  func(ctx context.Context, path string, opts duckdb.Options) (frame.Frame, error)
	Stdout    io.Writer
	Stderr    io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	loadFile := defaults.LoadFile
	if loadFile == nil {
		loadFile = duckdb.LoadFile
	}

	fs := flag.NewFlagSet("rsbulk", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dryRun := fs.Bool("dry-run", false, "print the SQL that would be submitted and exit")
	maxWait := fs.Duration("max-wait", 0, "maximum time to wait for each statement (e.g. 15m)")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return exitUsage
	}
	if *maxWait < 0 {
		_, _ = fmt.Fprintln(stderr, "-max-wait must be >= 0")
		return exitUsage
	}

	r := &runner{
		stdout:   stdout,
		stderr:   stderr,
		options:  defaults,
		loadFile: loadFile,
		dryRun:   *dryRun,
		settings: Settings{MaxWait: *maxWait},
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	switch command {
	case "unload":
		return r.unload(ctx, rest)
	case "copy-object":
		return r.copyObject(ctx, rest)
	case "copy-file":
		return r.copyFile(ctx, rest)
	case "status":
		return r.status(ctx, rest)
	case "wait":
		return r.wait(ctx, rest)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return exitUsage
	}
}

type runner struct {
	stdout   io.Writer
	stderr   io.Writer
	options  Options
	loadFile func(ctx context.Context, path string, opts duckdb.Options) (frame.Frame, error)
	dryRun   bool
	settings Settings
}

func (r *runner) unload(ctx context.Context, args []string) int {
	fs := r.flagSet("unload")
	query := fs.String("query", "", "SELECT statement to export")
	to := fs.String("to", "", "destination prefix, s3://bucket/prefix/")
	format := fs.String("format", "csv", "csv, json or parquet")
	header := fs.Bool("header", true, "write a header row (csv)")
	delimiter := fs.String("delimiter", ",", "field delimiter (csv)")
	overwrite := fs.Bool("overwrite", true, "replace existing objects at the destination")
	parallel := fs.Bool("parallel", true, "write one file per slice")
	partitionBy := fs.String("partition-by", "", "partition output by this column")
	gzip := fs.Bool("gzip", false, "compress output files")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if strings.TrimSpace(*query) == "" || strings.TrimSpace(*to) == "" {
		_, _ = fmt.Fprintln(r.stderr, "unload requires -query and -to")
		return exitUsage
	}
	parsedFormat, err := sqlgen.ParseFormat(*format)
	if err != nil {
		return r.fail(err)
	}

	req := transfer.UnloadRequest{
		Query:       escapeLiteral(*query),
		Destination: strings.TrimSpace(*to),
		Options: sqlgen.ExportOptions{
			Format:          parsedFormat,
			Header:          *header,
			Delimiter:       *delimiter,
			AllowOverwrite:  *overwrite,
			Parallel:        *parallel,
			PartitionColumn: strings.TrimSpace(*partitionBy),
			GZIP:            *gzip,
		},
	}

	if r.dryRun {
		sql, err := sqlgen.BuildUnloadSQL(req.Query, req.Destination, r.options.RoleARN, req.Options)
		if err != nil {
			return r.fail(err)
		}
		stmt, err := sqlgen.ParseUnload(sql)
		if err != nil {
			return r.fail(fmt.Errorf("read back rendered statement: %w", err))
		}
		return r.print(map[string]any{
			"sql":     sql,
			"options": exportOptionsView(stmt.Options),
		})
	}

	transfers, code := r.connect(ctx)
	if transfers == nil {
		return code
	}
	result, err := transfers.Unload(ctx, req)
	if err != nil {
		return r.fail(err)
	}
	if result.Warning != nil {
		_, _ = fmt.Fprintf(r.stderr, "warning: %v\n", result.Warning)
	}
	view := map[string]any{
		"operation_id": result.OperationID,
		"statement_id": string(result.StatementID),
		"duration":     result.Duration.String(),
		"attempts":     result.Attempts,
	}
	if result.Verification != nil {
		view["verified"] = result.Verification.Found
		view["object_count"] = result.Verification.ObjectCount
		view["sample_keys"] = result.Verification.SampleKeys
	}
	return r.print(view)
}

func (r *runner) copyObject(ctx context.Context, args []string) int {
	fs := r.flagSet("copy-object")
	table := fs.String("table", "", "target table, [schema.]table")
	from := fs.String("from", "", "source object or prefix, s3://bucket/key")
	format := fs.String("format", "csv", "csv, json or parquet")
	delimiter := fs.String("delimiter", ",", "field delimiter (csv)")
	header := fs.Bool("header", true, "source files start with a header row (csv)")
	ifExists := fs.String("if-exists", "append", "append or truncate")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if strings.TrimSpace(*table) == "" || strings.TrimSpace(*from) == "" {
		_, _ = fmt.Fprintln(r.stderr, "copy-object requires -table and -from")
		return exitUsage
	}
	schema, name := splitTable(*table)
	parsedFormat, err := sqlgen.ParseFormat(*format)
	if err != nil {
		return r.fail(err)
	}
	mode, err := transfer.ParseIfExists(*ifExists)
	if err != nil {
		return r.fail(err)
	}

	req := transfer.CopyRequest{
		Schema:   schema,
		Table:    name,
		Source:   strings.TrimSpace(*from),
		Options:  sqlgen.ImportOptions{Format: parsedFormat, Delimiter: *delimiter, HasHeaderRow: *header},
		IfExists: mode,
	}

	if r.dryRun {
		statements := []string{}
		if mode == transfer.IfExistsTruncate {
			truncateSQL, err := sqlgen.BuildTruncateSQL(schema, name)
			if err != nil {
				return r.fail(err)
			}
			statements = append(statements, truncateSQL)
		}
		copySQL, err := sqlgen.BuildCopySQL(schema, name, req.Source, r.options.RoleARN, req.Options)
		if err != nil {
			return r.fail(err)
		}
		statements = append(statements, copySQL)
		return r.print(map[string]any{"statements": statements})
	}

	transfers, code := r.connect(ctx)
	if transfers == nil {
		return code
	}
	result, err := transfers.CopyFromObject(ctx, req)
	if err != nil {
		return r.fail(err)
	}
	return r.print(copyView(result))
}

func (r *runner) copyFile(ctx context.Context, args []string) int {
	fs := r.flagSet("copy-file")
	table := fs.String("table", "", "target table, [schema.]table")
	file := fs.String("file", "", "local csv, json or parquet file")
	sourceFormat := fs.String("source-format", "", "format of -file; inferred from the extension when empty")
	stageFormat := fs.String("stage-format", "csv", "staging file format, csv or parquet")
	delimiter := fs.String("delimiter", ",", "staging delimiter (csv)")
	ifExists := fs.String("if-exists", "append", "append or truncate")
	rowLimit := fs.Int("row-limit", 0, "read at most this many rows (0 = all)")
	keepStaged := fs.Bool("keep-staged", false, "leave the staged object in place")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if strings.TrimSpace(*table) == "" || strings.TrimSpace(*file) == "" {
		_, _ = fmt.Fprintln(r.stderr, "copy-file requires -table and -file")
		return exitUsage
	}
	if r.dryRun {
		_, _ = fmt.Fprintln(r.stderr, "-dry-run is not supported for copy-file")
		return exitUsage
	}
	schema, name := splitTable(*table)
	parsedStage, err := sqlgen.ParseFormat(*stageFormat)
	if err != nil {
		return r.fail(err)
	}
	mode, err := transfer.ParseIfExists(*ifExists)
	if err != nil {
		return r.fail(err)
	}

	f, err := r.loadFile(ctx, strings.TrimSpace(*file), duckdb.Options{Format: *sourceFormat, RowLimit: *rowLimit})
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "load %s: %v\n", *file, err)
		return exitUsage
	}

	transfers, code := r.connect(ctx)
	if transfers == nil {
		return code
	}
	result, err := transfers.CopyFromFrame(ctx, transfer.FrameCopyRequest{
		Schema:     schema,
		Table:      name,
		Frame:      f,
		Format:     parsedStage,
		Delimiter:  *delimiter,
		IfExists:   mode,
		KeepStaged: *keepStaged,
	})
	if result.CleanupErr != nil {
		_, _ = fmt.Fprintf(r.stderr, "warning: staged object %s was not removed: %v\n", result.StagedURI, result.CleanupErr)
	}
	if err != nil {
		return r.fail(err)
	}
	view := copyView(result.CopyResult)
	view["staged_uri"] = result.StagedURI
	view["staged_bytes"] = result.StagedBytes
	view["rows_read"] = f.NumRows()
	return r.print(view)
}

func (r *runner) status(ctx context.Context, args []string) int {
	handle, code := r.handleArg("status", args)
	if handle == "" {
		return code
	}
	transfers, code := r.connect(ctx)
	if transfers == nil {
		return code
	}
	desc, err := transfers.Describe(ctx, handle)
	if err != nil {
		return r.fail(err)
	}
	view := map[string]any{
		"statement_id": string(desc.Handle),
		"status":       string(desc.Status),
		"duration":     desc.Duration.String(),
		"result_rows":  desc.ResultRows,
	}
	if desc.Error != "" {
		view["error"] = desc.Error
	}
	if !desc.UpdatedAt.IsZero() {
		view["updated_at"] = desc.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return r.print(view)
}

func (r *runner) wait(ctx context.Context, args []string) int {
	handle, code := r.handleArg("wait", args)
	if handle == "" {
		return code
	}
	transfers, code := r.connect(ctx)
	if transfers == nil {
		return code
	}
	result, err := transfers.Resume(ctx, handle)
	if err != nil {
		return r.fail(err)
	}
	return r.print(map[string]any{
		"operation_id": result.OperationID,
		"statement_id": string(result.StatementID),
		"status":       string(result.Status),
		"duration":     result.Duration.String(),
		"attempts":     result.Attempts,
		"result_rows":  result.ResultRows,
	})
}

func (r *runner) handleArg(command string, args []string) (execution.Handle, int) {
	fs := r.flagSet(command)
	if err := fs.Parse(args); err != nil {
		return "", exitUsage
	}
	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		_, _ = fmt.Fprintf(r.stderr, "usage: rsbulk %s <statement-id>\n", command)
		return "", exitUsage
	}
	if r.dryRun {
		_, _ = fmt.Fprintf(r.stderr, "-dry-run is not supported for %s\n", command)
		return "", exitUsage
	}
	return execution.Handle(strings.TrimSpace(fs.Arg(0))), exitOK
}

func (r *runner) connect(ctx context.Context) (Transfers, int) {
	if r.options.Connect == nil {
		_, _ = fmt.Fprintln(r.stderr, "no statement backend configured")
		return nil, exitUsage
	}
	transfers, err := r.options.Connect(ctx, r.settings)
	if err != nil {
		return nil, r.fail(fmt.Errorf("connect: %w", err))
	}
	return transfers, exitOK
}

func (r *runner) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("rsbulk "+name, flag.ContinueOnError)
	fs.SetOutput(r.stderr)
	return fs
}

func (r *runner) fail(err error) int {
	kind := transfer.Classify(err)
	_, _ = fmt.Fprintf(r.stderr, "%s error: %v\n", kind, err)
	var opErr *transfer.OperationError
	if errors.As(err, &opErr) && opErr.StatementID != "" {
		_, _ = fmt.Fprintf(r.stderr, "statement id: %s\n", opErr.StatementID)
		if opErr.Verdict == waiter.VerdictTimedOut {
			if r.options.Resumable {
				_, _ = fmt.Fprintf(r.stderr, "resume with: rsbulk wait %s\n", opErr.StatementID)
			} else {
				_, _ = fmt.Fprintf(r.stderr, "statement %s is bound to this connection and cannot be resumed\n", opErr.StatementID)
			}
		}
	}
	return ExitCode(err)
}

func (r *runner) print(value any) int {
	formatted, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "encode output: %v\n", err)
		return exitError
	}
	_, _ = fmt.Fprintln(r.stdout, string(formatted))
	return exitOK
}

// ExitCode maps an operation error onto the process exit status.
func ExitCode(err error) int {
	switch transfer.Classify(err) {
	case transfer.KindNone:
		return exitOK
	case transfer.KindConfiguration, transfer.KindValidation:
		return exitUsage
	default:
		return exitError
	}
}

func copyView(result transfer.CopyResult) map[string]any {
	view := map[string]any{
		"operation_id": result.OperationID,
		"statement_id": string(result.StatementID),
		"duration":     result.Duration.String(),
		"attempts":     result.Attempts,
		"result_rows":  result.ResultRows,
	}
	if result.TruncateStatementID != "" {
		view["truncate_statement_id"] = string(result.TruncateStatementID)
	}
	return view
}

func exportOptionsView(opts sqlgen.ExportOptions) map[string]any {
	return map[string]any{
		"format":          string(opts.Format),
		"header":          opts.Header,
		"delimiter":       opts.Delimiter,
		"allow_overwrite": opts.AllowOverwrite,
		"parallel":        opts.Parallel,
		"partition_by":    opts.PartitionColumn,
		"gzip":            opts.GZIP,
	}
}

func splitTable(raw string) (schema, table string) {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "."); i >= 0 {
		return raw[:i], raw[i+1:]
	}
	return "public", raw
}

// escapeLiteral doubles single quotes so the query can sit inside UNLOAD ('...').
func escapeLiteral(query string) string {
	return strings.ReplaceAll(strings.TrimSpace(query), "'", "''")
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: rsbulk [-dry-run] [-max-wait d] <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  unload        export a query to s3 with UNLOAD")
	_, _ = fmt.Fprintln(w, "  copy-object   load s3 objects into a table with COPY")
	_, _ = fmt.Fprintln(w, "  copy-file     load a local file into a table via a staged object")
	_, _ = fmt.Fprintln(w, "  status        describe a submitted statement")
	_, _ = fmt.Fprintln(w, "  wait          wait for a submitted statement to finish")
}
