package pgwire

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/duckmesh/rsbulk/internal/execution"
)

func TestSubmitRunsStatementToFinished(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectExec(regexp.QuoteMeta("TRUNCATE TABLE analytics.events")).
		WillReturnResult(sqlmock.NewResult(0, 7))

	exec := newExecutor(t, db)
	handle, err := exec.Submit(context.Background(), "TRUNCATE TABLE analytics.events", execution.Credentials{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if handle == "" {
		t.Fatal("expected non-empty handle")
	}

	desc := waitTerminal(t, exec, handle)
	if desc.Status != execution.StatusFinished {
		t.Fatalf("Status = %q, error = %q", desc.Status, desc.Error)
	}
	if desc.ResultRows != 7 {
		t.Fatalf("ResultRows = %d", desc.ResultRows)
	}
	assertSQLMock(t, mock)
}

func TestSubmitReportsFailedStatement(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectExec(regexp.QuoteMeta("COPY s.t FROM")).
		WillReturnError(errors.New("S3ServiceException: Access Denied"))

	exec := newExecutor(t, db)
	handle, err := exec.Submit(context.Background(), "COPY s.t FROM 's3://b/k' IAM_ROLE 'r' FORMAT AS CSV", execution.Credentials{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	desc := waitTerminal(t, exec, handle)
	if desc.Status != execution.StatusFailed {
		t.Fatalf("Status = %q", desc.Status)
	}
	if desc.Error != "S3ServiceException: Access Denied" {
		t.Fatalf("Error = %q", desc.Error)
	}
	assertSQLMock(t, mock)
}

func TestDescribeUnknownHandle(t *testing.T) {
	db, _ := newSQLMock(t)
	exec := newExecutor(t, db)

	_, err := exec.Describe(context.Background(), "missing")
	var descErr *execution.DescribeError
	if !errors.As(err, &descErr) || !descErr.NotFound {
		t.Fatalf("error = %v, want DescribeError with NotFound", err)
	}
}

func TestCloseWaitsForRunningStatement(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectExec("COPY").WillDelayFor(50 * time.Millisecond).WillReturnResult(sqlmock.NewResult(0, 3))

	exec, err := NewExecutor(db)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	handle, err := exec.Submit(context.Background(), "COPY s.t FROM 's3://b/k' IAM_ROLE 'r' FORMAT AS CSV", execution.Credentials{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := exec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	desc, err := exec.Describe(context.Background(), handle)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if desc.Status != execution.StatusFinished || desc.ResultRows != 3 {
		t.Fatalf("Status = %q rows = %d, error = %q", desc.Status, desc.ResultRows, desc.Error)
	}
	if running := exec.Running(); running != 0 {
		t.Fatalf("Running() = %d after Close", running)
	}

	_, err = exec.Submit(context.Background(), "SELECT 1", execution.Credentials{})
	var subErr *execution.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("error after close = %v, want SubmissionError", err)
	}
	assertSQLMock(t, mock)
}

func TestAbortCancelsRunningStatement(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectExec("UNLOAD").WillDelayFor(5 * time.Second).WillReturnResult(sqlmock.NewResult(0, 0))

	exec, err := NewExecutor(db)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	handle, err := exec.Submit(context.Background(), "UNLOAD ('SELECT 1') TO 's3://b/p' IAM_ROLE 'r' FORMAT AS CSV", execution.Credentials{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := exec.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}

	desc, err := exec.Describe(context.Background(), handle)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if desc.Status != execution.StatusAborted {
		t.Fatalf("Status = %q", desc.Status)
	}

	_, err = exec.Submit(context.Background(), "SELECT 1", execution.Credentials{})
	var subErr *execution.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("error after abort = %v, want SubmissionError", err)
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), DBConfig{}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func newExecutor(t *testing.T, db *sql.DB) *Executor {
	t.Helper()
	exec, err := NewExecutor(db)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	t.Cleanup(func() { _ = exec.Close() })
	return exec
}

func waitTerminal(t *testing.T, exec *Executor, handle execution.Handle) execution.Description {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		desc, err := exec.Describe(context.Background(), handle)
		if err != nil {
			t.Fatalf("Describe() error = %v", err)
		}
		if desc.Status.Terminal() {
			return desc
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("statement %s did not reach a terminal status", handle)
	return execution.Description{}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
