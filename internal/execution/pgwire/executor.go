// Package pgwire runs statements over a direct PostgreSQL wire-protocol
// connection to the cluster and exposes them through the same asynchronous
// submit/describe contract as the Data API.
package pgwire

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/duckmesh/rsbulk/internal/execution"
)

var errExecutorClosed = errors.New("executor is closed")

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pgwire dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open pgwire db: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping pgwire db: %w", err)
	}
	return db, nil
}

type statement struct {
	status     execution.Status
	submitted  time.Time
	started    time.Time
	finished   time.Time
	errMessage string
	rows       int64
}

type Executor struct {
	db    *sql.DB
	clock func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	statements map[execution.Handle]*statement
}

func NewExecutor(db *sql.DB) (*Executor, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		db:         db,
		clock:      time.Now,
		ctx:        ctx,
		cancel:     cancel,
		statements: map[execution.Handle]*statement{},
	}, nil
}

// Submit starts sql in the background. The connection already carries the
// database and user, so creds are not consulted.
func (e *Executor) Submit(ctx context.Context, sql string, _ execution.Credentials) (execution.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", &execution.SubmissionError{Err: err}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", &execution.SubmissionError{Err: errExecutorClosed}
	}
	handle := execution.Handle(uuid.NewString())
	e.statements[handle] = &statement{status: execution.StatusSubmitted, submitted: e.clock()}
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(handle, sql)
	return handle, nil
}

func (e *Executor) run(handle execution.Handle, sql string) {
	defer e.wg.Done()
	e.update(handle, func(s *statement) {
		s.status = execution.StatusStarted
		s.started = e.clock()
	})

	result, err := e.db.ExecContext(e.ctx, sql)
	var rows int64
	if err == nil {
		// Not every statement reports affected rows; zero is fine then.
		rows, _ = result.RowsAffected()
	}

	e.update(handle, func(s *statement) {
		s.finished = e.clock()
		switch {
		case err == nil:
			s.status = execution.StatusFinished
			s.rows = rows
		case e.ctx.Err() != nil:
			s.status = execution.StatusAborted
			s.errMessage = err.Error()
		default:
			s.status = execution.StatusFailed
			s.errMessage = err.Error()
		}
	})
}

func (e *Executor) update(handle execution.Handle, fn func(*statement)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.statements[handle]; ok {
		fn(s)
	}
}

func (e *Executor) Describe(ctx context.Context, handle execution.Handle) (execution.Description, error) {
	if err := ctx.Err(); err != nil {
		return execution.Description{}, &execution.DescribeError{Handle: handle, Err: err}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.statements[handle]
	if !ok {
		return execution.Description{}, &execution.DescribeError{Handle: handle, NotFound: true, Err: fmt.Errorf("statement %s not found", handle)}
	}
	desc := execution.Description{
		Handle:     handle,
		Status:     s.status,
		Error:      s.errMessage,
		ResultRows: s.rows,
		UpdatedAt:  s.submitted,
	}
	if !s.started.IsZero() {
		desc.UpdatedAt = s.started
	}
	if !s.finished.IsZero() {
		desc.UpdatedAt = s.finished
		desc.Duration = s.finished.Sub(s.started)
	}
	return desc, nil
}

// Running reports how many submitted statements have not reached a terminal
// status yet.
func (e *Executor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	running := 0
	for _, s := range e.statements {
		if !s.status.Terminal() {
			running++
		}
	}
	return running
}

// Close stops accepting statements and waits for the running ones to finish.
// Handles are process-local, so nothing can resume them once the executor
// is gone.
func (e *Executor) Close() error {
	e.stop()
	e.wg.Wait()
	e.cancel()
	return nil
}

// Abort cancels statements still running and waits for them to settle as
// ABORTED.
func (e *Executor) Abort() error {
	e.stop()
	e.cancel()
	e.wg.Wait()
	return nil
}

func (e *Executor) stop() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}
