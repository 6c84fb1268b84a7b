// Package waiter polls an asynchronous statement until an acceptor rule
// resolves it to success or failure, or until the attempt budget runs out.
package waiter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/duckmesh/rsbulk/internal/execution"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxAttempts  = 10
)

type MatchKind string

const (
	MatchExact MatchKind = "exact"
	MatchAnyOf MatchKind = "anyOf"
)

type AcceptorState string

const (
	StateSuccess AcceptorState = "success"
	StateRetry   AcceptorState = "retry"
	StateFailure AcceptorState = "failure"
)

type AcceptorRule struct {
	Match    MatchKind
	Expected []execution.Status
	State    AcceptorState
}

func (r AcceptorRule) matches(status execution.Status) bool {
	switch r.Match {
	case MatchExact:
		return len(r.Expected) == 1 && r.Expected[0] == status
	case MatchAnyOf:
		return slices.Contains(r.Expected, status)
	default:
		return false
	}
}

// DefaultAcceptors covers every status the statement service reports.
func DefaultAcceptors() []AcceptorRule {
	return []AcceptorRule{
		{Match: MatchExact, Expected: []execution.Status{execution.StatusFinished}, State: StateSuccess},
		{Match: MatchAnyOf, Expected: []execution.Status{execution.StatusPicked, execution.StatusStarted, execution.StatusSubmitted}, State: StateRetry},
		{Match: MatchAnyOf, Expected: []execution.Status{execution.StatusFailed, execution.StatusAborted}, State: StateFailure},
	}
}

type Policy struct {
	PollInterval time.Duration
	MaxAttempts  int
	Acceptors    []AcceptorRule
}

func DefaultPolicy() Policy {
	return Policy{
		PollInterval: DefaultPollInterval,
		MaxAttempts:  DefaultMaxAttempts,
		Acceptors:    DefaultAcceptors(),
	}
}

// PolicyForMaxWait spreads maxWait over attempts of pollInterval each, so the
// total wait never falls short of maxWait.
func PolicyForMaxWait(maxWait, pollInterval time.Duration) (Policy, error) {
	if pollInterval <= 0 {
		return Policy{}, fmt.Errorf("poll interval must be > 0")
	}
	if maxWait <= 0 {
		return Policy{}, fmt.Errorf("max wait must be > 0")
	}
	attempts := int(math.Ceil(float64(maxWait) / float64(pollInterval)))
	if attempts < 1 {
		attempts = 1
	}
	return Policy{PollInterval: pollInterval, MaxAttempts: attempts, Acceptors: DefaultAcceptors()}, nil
}

// PolicyForMinutes is PolicyForMaxWait with the wait expressed in minutes.
func PolicyForMinutes(minutes float64, pollInterval time.Duration) (Policy, error) {
	return PolicyForMaxWait(time.Duration(minutes*float64(time.Minute)), pollInterval)
}

func (p Policy) Validate() error {
	if p.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be > 0")
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1")
	}
	if len(p.Acceptors) == 0 {
		return fmt.Errorf("at least one acceptor rule is required")
	}
	for i, rule := range p.Acceptors {
		if rule.Match != MatchExact && rule.Match != MatchAnyOf {
			return fmt.Errorf("acceptor %d: unknown match kind %q", i, rule.Match)
		}
		if rule.Match == MatchExact && len(rule.Expected) != 1 {
			return fmt.Errorf("acceptor %d: exact match needs one expected status", i)
		}
		if len(rule.Expected) == 0 {
			return fmt.Errorf("acceptor %d: expected statuses are required", i)
		}
		switch rule.State {
		case StateSuccess, StateRetry, StateFailure:
		default:
			return fmt.Errorf("acceptor %d: unknown state %q", i, rule.State)
		}
	}
	return nil
}

// MaxWait is the wall-clock bound the policy puts on one Wait call.
func (p Policy) MaxWait() time.Duration {
	return time.Duration(p.MaxAttempts) * p.PollInterval
}

type Verdict string

const (
	VerdictSuccess  Verdict = "success"
	VerdictFailed   Verdict = "failed"
	VerdictTimedOut Verdict = "timed_out"
)

type Outcome struct {
	Verdict     Verdict
	Description execution.Description
	Attempts    int
}

type UnrecognizedStatusError struct {
	Handle execution.Handle
	Status execution.Status
}

func (e *UnrecognizedStatusError) Error() string {
	return fmt.Sprintf("statement %s reported unrecognized status %q", e.Handle, e.Status)
}

type Describer interface {
	Describe(ctx context.Context, handle execution.Handle) (execution.Description, error)
}

type Poller struct {
	Client Describer
	Policy Policy
	Logger *slog.Logger
	// Sleep waits between describe calls. It must return early with the
	// context error when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Wait polls handle until the acceptor table resolves it or the policy's
// attempt budget is spent. Describe failures and context cancellation are
// returned as errors; TimedOut is an outcome, not an error. Wait makes
// at most MaxAttempts describe calls and no follow-up call after a timeout.
// Callers that want a fresher description for diagnostics describe the handle
// themselves, as transfer does.
func (p *Poller) Wait(ctx context.Context, handle execution.Handle) (Outcome, error) {
	if p.Client == nil {
		return Outcome{}, fmt.Errorf("describe client is required")
	}
	if err := p.Policy.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("invalid waiter policy: %w", err)
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 1; ; attempt++ {
		desc, err := p.Client.Describe(ctx, handle)
		describeCallsTotal.Inc()
		if err != nil {
			return Outcome{}, err
		}
		state, ok := p.evaluate(desc.Status)
		if !ok {
			return Outcome{}, &UnrecognizedStatusError{Handle: handle, Status: desc.Status}
		}
		p.debug(ctx, handle, attempt, desc.Status, state)

		switch state {
		case StateSuccess:
			return Outcome{Verdict: VerdictSuccess, Description: desc, Attempts: attempt}, nil
		case StateFailure:
			return Outcome{Verdict: VerdictFailed, Description: desc, Attempts: attempt}, nil
		}

		if attempt >= p.Policy.MaxAttempts {
			return Outcome{Verdict: VerdictTimedOut, Description: desc, Attempts: attempt}, nil
		}
		if err := sleep(ctx, p.Policy.PollInterval); err != nil {
			return Outcome{}, err
		}
	}
}

func (p *Poller) evaluate(status execution.Status) (AcceptorState, bool) {
	for _, rule := range p.Policy.Acceptors {
		if rule.matches(status) {
			return rule.State, true
		}
	}
	return "", false
}

func (p *Poller) debug(ctx context.Context, handle execution.Handle, attempt int, status execution.Status, state AcceptorState) {
	if p.Logger == nil {
		return
	}
	p.Logger.DebugContext(ctx, "statement polled",
		slog.String("statement_id", string(handle)),
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", p.Policy.MaxAttempts),
		slog.String("status", string(status)),
		slog.String("acceptor_state", string(state)),
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
