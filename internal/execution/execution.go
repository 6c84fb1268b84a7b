package execution

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Handle identifies one asynchronous statement on the remote service.
type Handle string

type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusPicked    Status = "PICKED"
	StatusStarted   Status = "STARTED"
	StatusFinished  Status = "FINISHED"
	StatusFailed    Status = "FAILED"
	StatusAborted   Status = "ABORTED"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

// Description is one observation of a statement. Duration is only meaningful
// once Status is terminal.
type Description struct {
	Handle     Handle
	Status     Status
	Duration   time.Duration
	Error      string
	ResultRows int64
	UpdatedAt  time.Time
}

type Credentials struct {
	Database   string
	ClusterID  string
	DBUser     string
	IAMRoleARN string
}

// Validate requires every field of the bundle. It never touches the network.
func (c Credentials) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Database) == "" {
		missing = append(missing, "database")
	}
	if strings.TrimSpace(c.ClusterID) == "" {
		missing = append(missing, "cluster id")
	}
	if strings.TrimSpace(c.DBUser) == "" {
		missing = append(missing, "db user")
	}
	if strings.TrimSpace(c.IAMRoleARN) == "" {
		missing = append(missing, "iam role arn")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// Client submits statements and reports on them. Implementations make a single
// remote call per method and never retry.
type Client interface {
	Submit(ctx context.Context, sql string, creds Credentials) (Handle, error)
	Describe(ctx context.Context, handle Handle) (Description, error)
}

type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("all credential parameters are required: missing %s", strings.Join(e.Missing, ", "))
}

type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit statement: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

type DescribeError struct {
	Handle   Handle
	NotFound bool
	Err      error
}

func (e *DescribeError) Error() string {
	if e.NotFound {
		return fmt.Sprintf("describe statement %s: unknown statement: %v", e.Handle, e.Err)
	}
	return fmt.Sprintf("describe statement %s: %v", e.Handle, e.Err)
}

func (e *DescribeError) Unwrap() error {
	return e.Err
}
