package rsbulk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/duckmesh/rsbulk/internal/execution"
	"github.com/duckmesh/rsbulk/internal/frame"
	"github.com/duckmesh/rsbulk/internal/frame/duckdb"
	"github.com/duckmesh/rsbulk/internal/sqlgen"
	"github.com/duckmesh/rsbulk/internal/transfer"
	"github.com/duckmesh/rsbulk/internal/verify"
	"github.com/duckmesh/rsbulk/internal/waiter"
)

const testRole = "arn:aws:iam::210987654321:role/test-loader"

func TestRunUnloadCommand(t *testing.T) {
	fake := &fakeTransfers{unloadResult: transfer.UnloadResult{
		OperationID:  "op-1",
		StatementID:  "stmt-1",
		Duration:     3 * time.Second,
		Verification: &verify.Result{Found: true, ObjectCount: 2},
	}}
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"unload",
		"-query", "select * from events where kind = 'click'",
		"-to", "s3://exports/events/",
		"-format", "PARQUET",
	}, Options{Connect: fake.connect, Stdout: &stdout, Stderr: &stderr})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if fake.unloadReq.Query != "select * from events where kind = ''click''" {
		t.Fatalf("Query = %q", fake.unloadReq.Query)
	}
	if fake.unloadReq.Options.Format != sqlgen.FormatParquet {
		t.Fatalf("Format = %q", fake.unloadReq.Options.Format)
	}
	out := decode(t, stdout.Bytes())
	if out["statement_id"] != "stmt-1" || out["verified"] != true {
		t.Fatalf("output = %v", out)
	}
}

func TestRunUnloadDryRunDoesNotConnect(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-dry-run",
		"unload",
		"-query", "select 1",
		"-to", "s3://exports/events/",
		"-parallel=false",
	}, Options{
		RoleARN: testRole,
		Connect: func(context.Context, Settings) (Transfers, error) {
			t.Fatal("Connect called during dry run")
			return nil, nil
		},
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	out := decode(t, stdout.Bytes())
	sql, _ := out["sql"].(string)
	want := "UNLOAD ('select 1') TO 's3://exports/events/' IAM_ROLE '" + testRole + "' FORMAT AS CSV HEADER DELIMITER ',' ALLOWOVERWRITE PARALLEL FALSE EXTENSION 'csv'"
	if sql != want {
		t.Fatalf("sql = %q, want %q", sql, want)
	}
	opts, _ := out["options"].(map[string]any)
	if opts["parallel"] != false || opts["format"] != "csv" {
		t.Fatalf("options = %v", opts)
	}
}

func TestRunCopyObjectDryRunListsTruncateFirst(t *testing.T) {
	var stdout bytes.Buffer
	code := Run(context.Background(), []string{
		"-dry-run",
		"copy-object",
		"-table", "analytics.events",
		"-from", "s3://in/events/",
		"-if-exists", "truncate",
	}, Options{RoleARN: testRole, Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	var out struct {
		Statements []string `json:"statements"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if len(out.Statements) != 2 || out.Statements[0] != "TRUNCATE TABLE analytics.events" {
		t.Fatalf("statements = %v", out.Statements)
	}
	if !strings.HasPrefix(out.Statements[1], "COPY analytics.events FROM 's3://in/events/'") {
		t.Fatalf("copy statement = %q", out.Statements[1])
	}
}

func TestRunCopyObjectCommand(t *testing.T) {
	fake := &fakeTransfers{copyResult: transfer.CopyResult{StatementID: "stmt-2", TruncateStatementID: "stmt-1", ResultRows: 9}}
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"copy-object", "-table", "events", "-from", "s3://in/events.csv", "-if-exists", "truncate", "-header=false",
	}, Options{Connect: fake.connect, Stdout: &stdout, Stderr: &stderr})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if fake.copyReq.Schema != "public" || fake.copyReq.Table != "events" {
		t.Fatalf("target = %s.%s", fake.copyReq.Schema, fake.copyReq.Table)
	}
	if fake.copyReq.IfExists != transfer.IfExistsTruncate || fake.copyReq.Options.HasHeaderRow {
		t.Fatalf("request = %+v", fake.copyReq)
	}
	out := decode(t, stdout.Bytes())
	if out["truncate_statement_id"] != "stmt-1" {
		t.Fatalf("output = %v", out)
	}
}

func TestRunCopyFileCommand(t *testing.T) {
	fake := &fakeTransfers{frameResult: transfer.FrameCopyResult{
		CopyResult: transfer.CopyResult{StatementID: "stmt-1"},
		StagedURI:  "s3://staging/temp_loads/events_x.parquet",
	}}
	var gotOpts duckdb.Options
	loader := func(_ context.Context, path string, opts duckdb.Options) (frame.Frame, error) {
		if path != "/tmp/events.json" {
			t.Fatalf("path = %q", path)
		}
		gotOpts = opts
		return frame.Frame{Columns: []frame.Column{{Name: "id", Kind: frame.KindInt64}}, Rows: [][]any{{int64(1)}}}, nil
	}
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"copy-file", "-table", "public.events", "-file", "/tmp/events.json", "-stage-format", "parquet", "-row-limit", "100",
	}, Options{Connect: fake.connect, LoadFile: loader, Stdout: &stdout, Stderr: &stderr})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotOpts.RowLimit != 100 {
		t.Fatalf("RowLimit = %d", gotOpts.RowLimit)
	}
	if fake.frameReq.Format != sqlgen.FormatParquet || fake.frameReq.Frame.NumRows() != 1 {
		t.Fatalf("request = %+v", fake.frameReq)
	}
	out := decode(t, stdout.Bytes())
	if out["staged_uri"] != "s3://staging/temp_loads/events_x.parquet" {
		t.Fatalf("output = %v", out)
	}
}

func TestRunStatusAndWaitCommands(t *testing.T) {
	fake := &fakeTransfers{
		description:  execution.Description{Handle: "stmt-9", Status: execution.StatusStarted},
		resumeResult: transfer.StatementResult{StatementID: "stmt-9", Status: execution.StatusFinished, Attempts: 4},
	}
	var stdout bytes.Buffer
	if code := Run(context.Background(), []string{"status", "stmt-9"}, Options{Connect: fake.connect, Stdout: &stdout}); code != 0 {
		t.Fatalf("status exit code = %d", code)
	}
	if out := decode(t, stdout.Bytes()); out["status"] != "STARTED" {
		t.Fatalf("status output = %v", out)
	}

	stdout.Reset()
	if code := Run(context.Background(), []string{"-max-wait", "20m", "wait", "stmt-9"}, Options{Connect: fake.connect, Stdout: &stdout}); code != 0 {
		t.Fatalf("wait exit code = %d", code)
	}
	if fake.settings.MaxWait != 20*time.Minute {
		t.Fatalf("MaxWait = %s", fake.settings.MaxWait)
	}
	if fake.resumed != "stmt-9" {
		t.Fatalf("resumed = %q", fake.resumed)
	}
	if out := decode(t, stdout.Bytes()); out["status"] != "FINISHED" {
		t.Fatalf("wait output = %v", out)
	}
}

func TestRunExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "configuration", err: &execution.ConfigurationError{Missing: []string{"database"}}, want: 2},
		{name: "failed", err: &transfer.OperationError{Op: "unload", StatementID: "stmt-1", Verdict: waiter.VerdictFailed}, want: 1},
		{name: "timed out", err: &transfer.OperationError{Op: "unload", StatementID: "stmt-1", Verdict: waiter.VerdictTimedOut}, want: 1},
		{name: "submission", err: &execution.SubmissionError{Err: errors.New("denied")}, want: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeTransfers{err: tc.err}
			var stderr bytes.Buffer
			code := Run(context.Background(), []string{"unload", "-query", "select 1", "-to", "s3://exports/x/"}, Options{Connect: fake.connect, Stderr: &stderr})
			if code != tc.want {
				t.Fatalf("exit code = %d, want %d (stderr=%s)", code, tc.want, stderr.String())
			}
		})
	}
}

func TestRunTimedOutSuggestsWait(t *testing.T) {
	fake := &fakeTransfers{err: &transfer.OperationError{Op: "copy", StatementID: "stmt-7", Verdict: waiter.VerdictTimedOut}}
	var stderr bytes.Buffer
	Run(context.Background(), []string{"copy-object", "-table", "events", "-from", "s3://in/x.csv"}, Options{Connect: fake.connect, Resumable: true, Stderr: &stderr})
	if !strings.Contains(stderr.String(), "rsbulk wait stmt-7") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunTimedOutWithoutResumableHandles(t *testing.T) {
	fake := &fakeTransfers{err: &transfer.OperationError{Op: "copy", StatementID: "0f6c2a1e-pg", Verdict: waiter.VerdictTimedOut}}
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"copy-object", "-table", "events", "-from", "s3://in/x.csv"}, Options{Connect: fake.connect, Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	out := stderr.String()
	if strings.Contains(out, "rsbulk wait") {
		t.Fatalf("stderr suggests wait for a process-local handle: %q", out)
	}
	if !strings.Contains(out, "statement id: 0f6c2a1e-pg") || !strings.Contains(out, "cannot be resumed") {
		t.Fatalf("stderr = %q", out)
	}
}

func TestRunUsageErrors(t *testing.T) {
	cases := [][]string{
		{},
		{"unknown"},
		{"unload", "-to", "s3://exports/x/"},
		{"unload", "-query", "select 1", "-to", "s3://exports/x/", "-format", "avro"},
		{"copy-object", "-table", "events"},
		{"copy-object", "-table", "events", "-from", "s3://in/x", "-if-exists", "replace"},
		{"status"},
		{"-dry-run", "wait", "stmt-1"},
		{"-max-wait", "-1s", "status", "stmt-1"},
	}
	for _, args := range cases {
		if code := Run(context.Background(), args, Options{}); code != 2 {
			t.Fatalf("Run(%v) exit code = %d, want 2", args, code)
		}
	}
}

func decode(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("json.Unmarshal(%q) error = %v", string(raw), err)
	}
	return out
}

type fakeTransfers struct {
	err      error
	settings Settings

	unloadReq    transfer.UnloadRequest
	unloadResult transfer.UnloadResult
	copyReq      transfer.CopyRequest
	copyResult   transfer.CopyResult
	frameReq     transfer.FrameCopyRequest
	frameResult  transfer.FrameCopyResult
	resumed      execution.Handle
	resumeResult transfer.StatementResult
	description  execution.Description
}

func (f *fakeTransfers) connect(_ context.Context, settings Settings) (Transfers, error) {
	f.settings = settings
	return f, nil
}

func (f *fakeTransfers) Unload(_ context.Context, req transfer.UnloadRequest) (transfer.UnloadResult, error) {
	f.unloadReq = req
	return f.unloadResult, f.err
}

func (f *fakeTransfers) CopyFromObject(_ context.Context, req transfer.CopyRequest) (transfer.CopyResult, error) {
	f.copyReq = req
	return f.copyResult, f.err
}

func (f *fakeTransfers) CopyFromFrame(_ context.Context, req transfer.FrameCopyRequest) (transfer.FrameCopyResult, error) {
	f.frameReq = req
	return f.frameResult, f.err
}

func (f *fakeTransfers) Resume(_ context.Context, handle execution.Handle) (transfer.StatementResult, error) {
	f.resumed = handle
	return f.resumeResult, f.err
}

func (f *fakeTransfers) Describe(_ context.Context, _ execution.Handle) (execution.Description, error) {
	return f.description, f.err
}
