// Package transfer runs bulk exports and imports as asynchronous warehouse
// statements: build the SQL, submit it, poll it to a verdict, then verify or
// report.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duckmesh/rsbulk/internal/execution"
	"github.com/duckmesh/rsbulk/internal/observability"
	"github.com/duckmesh/rsbulk/internal/sqlgen"
	"github.com/duckmesh/rsbulk/internal/storage"
	"github.com/duckmesh/rsbulk/internal/verify"
	"github.com/duckmesh/rsbulk/internal/waiter"
)

const (
	opUnload   = "unload"
	opCopy     = "copy"
	opTruncate = "truncate"
	opResume   = "resume"
)

type IfExists string

const (
	IfExistsAppend   IfExists = "append"
	IfExistsTruncate IfExists = "truncate"
)

// ParseIfExists treats an empty value as append.
func ParseIfExists(raw string) (IfExists, error) {
	switch IfExists(strings.ToLower(strings.TrimSpace(raw))) {
	case "", IfExistsAppend:
		return IfExistsAppend, nil
	case IfExistsTruncate:
		return IfExistsTruncate, nil
	default:
		return "", &sqlgen.ValidationError{Field: "if exists", Value: raw, Reason: "must be append or truncate"}
	}
}

type Orchestrator struct {
	Client      execution.Client
	Credentials execution.Credentials
	// Staging holds dataframes uploaded ahead of COPY. Only CopyFromFrame
	// needs it.
	Staging storage.ObjectStore
	// Verifier checks export destinations. Nil disables verification.
	Verifier *verify.Verifier
	Policy   waiter.Policy
	Logger   *slog.Logger
	Clock    func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
	NewID    func() string

	defaults sync.Once
}

type UnloadRequest struct {
	Query       string
	Destination string
	Options     sqlgen.ExportOptions
}

type UnloadResult struct {
	OperationID  string
	StatementID  execution.Handle
	SQL          string
	Duration     time.Duration
	Attempts     int
	Verification *verify.Result
	// Warning mirrors Verification.Warning so callers can check it directly.
	Warning *verify.Warning
}

type CopyRequest struct {
	Schema   string
	Table    string
	Source   string
	Options  sqlgen.ImportOptions
	IfExists IfExists
}

type CopyResult struct {
	OperationID         string
	StatementID         execution.Handle
	TruncateStatementID execution.Handle
	SQL                 string
	TruncateSQL         string
	Duration            time.Duration
	Attempts            int
	ResultRows          int64
}

// StatementResult is the outcome of waiting on a statement submitted earlier.
type StatementResult struct {
	OperationID string
	StatementID execution.Handle
	Status      execution.Status
	Duration    time.Duration
	Attempts    int
	ResultRows  int64
}

// Unload exports the rows of Query to Destination.
func (o *Orchestrator) Unload(ctx context.Context, req UnloadRequest) (UnloadResult, error) {
	o.ensureDefaults()
	ctx, logger := o.begin(ctx, opUnload)
	result := UnloadResult{OperationID: observability.OperationIDFromContext(ctx)}

	if err := o.Credentials.Validate(); err != nil {
		return result, err
	}
	sql, err := sqlgen.BuildUnloadSQL(req.Query, req.Destination, o.Credentials.IAMRoleARN, req.Options)
	if err != nil {
		return result, err
	}
	result.SQL = sql

	run, err := o.execute(ctx, logger, opUnload, sql)
	result.StatementID = run.handle
	result.Attempts = run.outcome.Attempts
	if err != nil {
		return result, err
	}
	result.Duration = run.duration

	if o.Verifier != nil {
		verification := o.Verifier.Verify(ctx, req.Destination)
		result.Verification = &verification
		if verification.Warning != nil {
			result.Warning = verification.Warning
			observability.IncrementVerificationWarning()
			logger.WarnContext(ctx, "export verification warning",
				slog.String("statement_id", string(run.handle)),
				slog.String("destination", req.Destination),
				slog.String("reason", verification.Warning.Reason),
			)
		}
	}

	logger.InfoContext(ctx, "unload finished",
		slog.String("statement_id", string(run.handle)),
		slog.String("destination", req.Destination),
		slog.String("duration", result.Duration.String()),
	)
	return result, nil
}

// CopyFromObject loads Source into Schema.Table. With IfExistsTruncate the
// table is truncated first and the load is only submitted once the truncate
// has finished.
func (o *Orchestrator) CopyFromObject(ctx context.Context, req CopyRequest) (CopyResult, error) {
	o.ensureDefaults()
	ctx, logger := o.begin(ctx, opCopy)
	result := CopyResult{OperationID: observability.OperationIDFromContext(ctx)}

	if err := o.Credentials.Validate(); err != nil {
		return result, err
	}
	plan, err := o.planCopy(req)
	if err != nil {
		return result, err
	}
	err = o.runCopy(ctx, logger, plan, &result)
	return result, err
}

// Resume waits on a statement submitted by an earlier call, typically one
// that timed out.
func (o *Orchestrator) Resume(ctx context.Context, handle execution.Handle) (StatementResult, error) {
	o.ensureDefaults()
	ctx, logger := o.begin(ctx, opResume)
	result := StatementResult{OperationID: observability.OperationIDFromContext(ctx), StatementID: handle}
	if strings.TrimSpace(string(handle)) == "" {
		return result, &sqlgen.ValidationError{Field: "statement id", Reason: "must not be empty"}
	}

	run, err := o.await(ctx, logger, opResume, handle, o.Clock())
	result.Attempts = run.outcome.Attempts
	result.Status = run.outcome.Description.Status
	if err != nil {
		return result, err
	}
	result.Duration = run.duration
	result.ResultRows = run.outcome.Description.ResultRows
	return result, nil
}

// Describe reports the current state of a statement without waiting.
func (o *Orchestrator) Describe(ctx context.Context, handle execution.Handle) (execution.Description, error) {
	o.ensureDefaults()
	if strings.TrimSpace(string(handle)) == "" {
		return execution.Description{}, &sqlgen.ValidationError{Field: "statement id", Reason: "must not be empty"}
	}
	return o.Client.Describe(ctx, handle)
}

type copyPlan struct {
	target      string
	copySQL     string
	truncateSQL string
}

// planCopy renders every statement a copy needs before anything is submitted,
// so invalid options never leave a truncated table behind.
func (o *Orchestrator) planCopy(req CopyRequest) (copyPlan, error) {
	ifExists := req.IfExists
	if ifExists == "" {
		ifExists = IfExistsAppend
	}
	if _, err := ParseIfExists(string(ifExists)); err != nil {
		return copyPlan{}, err
	}
	copySQL, err := sqlgen.BuildCopySQL(req.Schema, req.Table, req.Source, o.Credentials.IAMRoleARN, req.Options)
	if err != nil {
		return copyPlan{}, err
	}
	plan := copyPlan{target: req.Schema + "." + req.Table, copySQL: copySQL}
	if ifExists == IfExistsTruncate {
		plan.truncateSQL, err = sqlgen.BuildTruncateSQL(req.Schema, req.Table)
		if err != nil {
			return copyPlan{}, err
		}
	}
	return plan, nil
}

func (o *Orchestrator) runCopy(ctx context.Context, logger *slog.Logger, plan copyPlan, result *CopyResult) error {
	result.SQL = plan.copySQL
	result.TruncateSQL = plan.truncateSQL

	if plan.truncateSQL != "" {
		run, err := o.execute(ctx, logger, opTruncate, plan.truncateSQL)
		result.TruncateStatementID = run.handle
		if err != nil {
			return fmt.Errorf("truncate %s before load: %w", plan.target, err)
		}
	}

	run, err := o.execute(ctx, logger, opCopy, plan.copySQL)
	result.StatementID = run.handle
	result.Attempts = run.outcome.Attempts
	if err != nil {
		return err
	}
	result.Duration = run.duration
	result.ResultRows = run.outcome.Description.ResultRows

	logger.InfoContext(ctx, "copy finished",
		slog.String("statement_id", string(run.handle)),
		slog.String("table", plan.target),
		slog.Int64("rows", result.ResultRows),
		slog.String("duration", result.Duration.String()),
	)
	return nil
}

type statementRun struct {
	handle   execution.Handle
	outcome  waiter.Outcome
	duration time.Duration
}

func (o *Orchestrator) execute(ctx context.Context, logger *slog.Logger, kind, sql string) (statementRun, error) {
	started := o.Clock()
	handle, err := o.Client.Submit(ctx, sql, o.Credentials)
	if err != nil {
		return statementRun{}, err
	}
	observability.ObserveStatementSubmitted(kind)
	logger.InfoContext(ctx, "statement submitted",
		slog.String("kind", kind),
		slog.String("statement_id", string(handle)),
	)
	return o.await(ctx, logger, kind, handle, started)
}

func (o *Orchestrator) await(ctx context.Context, logger *slog.Logger, kind string, handle execution.Handle, started time.Time) (statementRun, error) {
	run := statementRun{handle: handle}
	poller := &waiter.Poller{Client: o.Client, Policy: o.Policy, Logger: logger, Sleep: o.Sleep}
	outcome, err := poller.Wait(ctx, handle)
	run.outcome = outcome
	elapsed := o.Clock().Sub(started)
	if err != nil {
		observability.ObserveStatementOutcome(kind, string(Classify(err)), elapsed)
		return run, err
	}
	observability.ObserveStatementOutcome(kind, string(outcome.Verdict), elapsed)

	switch outcome.Verdict {
	case waiter.VerdictSuccess:
		run.duration = outcome.Description.Duration
		if run.duration <= 0 {
			run.duration = elapsed
		}
		return run, nil
	case waiter.VerdictFailed:
		logger.ErrorContext(ctx, "statement failed",
			slog.String("kind", kind),
			slog.String("statement_id", string(handle)),
			slog.String("status", string(outcome.Description.Status)),
			slog.String("error", outcome.Description.Error),
		)
		return run, &OperationError{
			Op:          kind,
			StatementID: handle,
			Verdict:     outcome.Verdict,
			Attempts:    outcome.Attempts,
			Last:        outcome.Description,
		}
	default:
		opErr := &OperationError{
			Op:          kind,
			StatementID: handle,
			Verdict:     outcome.Verdict,
			Attempts:    outcome.Attempts,
			Last:        outcome.Description,
		}
		if diag, derr := o.Client.Describe(ctx, handle); derr == nil {
			opErr.Diagnostic = &diag
		} else {
			logger.WarnContext(ctx, "diagnostic describe failed",
				slog.String("statement_id", string(handle)),
				slog.Any("error", derr),
			)
		}
		logger.ErrorContext(ctx, "statement timed out",
			slog.String("kind", kind),
			slog.String("statement_id", string(handle)),
			slog.Int("attempts", outcome.Attempts),
			slog.String("max_wait", o.Policy.MaxWait().String()),
		)
		return run, opErr
	}
}

func (o *Orchestrator) begin(ctx context.Context, op string) (context.Context, *slog.Logger) {
	if observability.OperationIDFromContext(ctx) == "" {
		ctx = observability.ContextWithOperationID(ctx, o.NewID())
	}
	logger := observability.LoggerFromContext(ctx, o.Logger).With(slog.String("op", op))
	return ctx, logger
}

func (o *Orchestrator) ensureDefaults() {
	o.defaults.Do(o.applyDefaults)
}

func (o *Orchestrator) applyDefaults() {
	if o.Client == nil {
		o.Client = unconfiguredClient{}
	}
	if o.Policy.MaxAttempts == 0 && o.Policy.PollInterval == 0 && len(o.Policy.Acceptors) == 0 {
		o.Policy = waiter.DefaultPolicy()
	}
	if len(o.Policy.Acceptors) == 0 {
		o.Policy.Acceptors = waiter.DefaultAcceptors()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.NewString() }
	}
}

var errNoClient = errors.New("execution client is not configured")

type unconfiguredClient struct{}

func (unconfiguredClient) Submit(context.Context, string, execution.Credentials) (execution.Handle, error) {
	return "", &execution.SubmissionError{Err: errNoClient}
}

func (unconfiguredClient) Describe(_ context.Context, handle execution.Handle) (execution.Description, error) {
	return execution.Description{}, &execution.DescribeError{Handle: handle, Err: errNoClient}
}
