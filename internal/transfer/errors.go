package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/duckmesh/rsbulk/internal/execution"
	"github.com/duckmesh/rsbulk/internal/sqlgen"
	"github.com/duckmesh/rsbulk/internal/waiter"
)

// ErrStagingNotConfigured is returned by CopyFromFrame when the orchestrator
// has no object store to stage files in.
var ErrStagingNotConfigured = errors.New("staging object store is not configured")

// OperationError reports a statement that was accepted by the service but did
// not finish: it either failed remotely or ran out of attempts while still in
// a retry state.
type OperationError struct {
	Op          string
	StatementID execution.Handle
	Verdict     waiter.Verdict
	Attempts    int
	// Last is the final description observed by the poller.
	Last execution.Description
	// Diagnostic is a fresh description fetched after a timeout. It is nil
	// when the verdict is Failed or the follow-up call itself failed.
	Diagnostic *execution.Description
}

func (e *OperationError) Error() string {
	switch e.Verdict {
	case waiter.VerdictTimedOut:
		status := e.Last.Status
		if e.Diagnostic != nil {
			status = e.Diagnostic.Status
		}
		return fmt.Sprintf("%s statement %s timed out after %d attempts (last status %s)", e.Op, e.StatementID, e.Attempts, status)
	default:
		if e.Last.Error == "" {
			return fmt.Sprintf("%s statement %s ended with status %s", e.Op, e.StatementID, e.Last.Status)
		}
		return fmt.Sprintf("%s statement %s ended with status %s: %s", e.Op, e.StatementID, e.Last.Status, e.Last.Error)
	}
}

// StagingError wraps a failure to upload a staged file.
type StagingError struct {
	Key string
	Err error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Key, e.Err)
}

func (e *StagingError) Unwrap() error {
	return e.Err
}

type ErrorKind string

const (
	KindNone          ErrorKind = "none"
	KindConfiguration ErrorKind = "configuration"
	KindValidation    ErrorKind = "validation"
	KindSubmission    ErrorKind = "submission"
	KindDescribe      ErrorKind = "describe"
	KindStaging       ErrorKind = "staging"
	KindFailed        ErrorKind = "failed"
	KindTimedOut      ErrorKind = "timed_out"
	KindCanceled      ErrorKind = "canceled"
	KindInternal      ErrorKind = "internal"
)

// Classify maps err onto the kinds callers branch on.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		configErr    *execution.ConfigurationError
		validErr     *sqlgen.ValidationError
		submitErr    *execution.SubmissionError
		describeErr  *execution.DescribeError
		stagingErr   *StagingError
		operationErr *OperationError
	)
	switch {
	case errors.As(err, &operationErr):
		if operationErr.Verdict == waiter.VerdictTimedOut {
			return KindTimedOut
		}
		return KindFailed
	case errors.As(err, &configErr), errors.Is(err, ErrStagingNotConfigured):
		return KindConfiguration
	case errors.As(err, &validErr):
		return KindValidation
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.As(err, &submitErr):
		return KindSubmission
	case errors.As(err, &describeErr):
		return KindDescribe
	case errors.As(err, &stagingErr):
		return KindStaging
	default:
		return KindInternal
	}
}
