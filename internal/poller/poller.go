package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/roomscan-mcp/pkg/types"
)

// Defaults for the detection job poll loop.
const (
	DefaultInterval    = time.Second
	DefaultMaxAttempts = 30
)

// Remote job statuses reported by the prediction API.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// State is the poller's view of a job.
type State int

const (
	StateStarted State = iota
	StateSucceeded
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further polling happens from s.
func (s State) Terminal() bool {
	return s != StateStarted
}

// JobStatus is one status response for a job.
type JobStatus struct {
	Status string
	Output string
	Error  string
}

// StatusFetcher reads the current status of a job by its ID.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, jobID string) (*JobStatus, error)
}

// Clock sleeps between attempts. Tests inject a clock that returns at once.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RealClock sleeps on the wall clock and wakes early on context cancellation.
var RealClock Clock = realClock{}

// Config controls the poll cadence.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
	Clock       Clock
	Logger      *slog.Logger
}

// Result is the terminal outcome of a poll.
type Result struct {
	State    State
	Output   string
	Attempts int
	Err      error // wraps types.ErrJobFailed or types.ErrJobTimeout when not succeeded
}

// Poller drives a detection job from Started to a terminal state with a
// fixed interval and a hard attempt ceiling. Each Poll call owns its loop;
// one Poller may serve many concurrent jobs.
type Poller struct {
	fetcher     StatusFetcher
	clock       Clock
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// New creates a Poller. Zero values in cfg select the defaults.
func New(fetcher StatusFetcher, cfg Config) *Poller {
	p := &Poller{
		fetcher:     fetcher,
		clock:       cfg.Clock,
		interval:    cfg.Interval,
		maxAttempts: cfg.MaxAttempts,
		logger:      cfg.Logger,
	}
	if p.clock == nil {
		p.clock = RealClock
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = DefaultMaxAttempts
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// job is the mutable state of a single Poll call.
type job struct {
	id       string
	state    State
	attempts int
	output   string
	err      error
}

// Poll waits for the job with the given ID to finish. It never returns an error
// directly: failure, timeout and cancellation are reported through Result so
// callers can degrade instead of aborting.
func (p *Poller) Poll(ctx context.Context, jobID string) Result {
	j := &job{id: jobID, state: StateStarted}
	if jobID == "" {
		j.state = StateFailed
		j.err = fmt.Errorf("%w: job has no id", types.ErrJobFailed)
	}

	for !j.state.Terminal() {
		p.step(ctx, j)
	}

	p.logOutcome(j)
	return Result{State: j.state, Output: j.output, Attempts: j.attempts, Err: j.err}
}

// step performs one attempt: wait one interval, fetch the status, transition.
func (p *Poller) step(ctx context.Context, j *job) {
	if j.attempts >= p.maxAttempts {
		j.state = StateTimedOut
		j.err = fmt.Errorf("%w: no terminal status after %d attempts", types.ErrJobTimeout, j.attempts)
		return
	}

	if err := p.clock.Sleep(ctx, p.interval); err != nil {
		j.state = StateFailed
		j.err = fmt.Errorf("%w: %v", types.ErrJobFailed, err)
		return
	}
	j.attempts++

	status, err := p.fetcher.FetchStatus(ctx, j.id)
	if err != nil {
		if ctx.Err() != nil {
			j.state = StateFailed
			j.err = fmt.Errorf("%w: %v", types.ErrJobFailed, ctx.Err())
			return
		}
		// A failed status read spends the attempt but does not end the job.
		p.logger.Debug("detection job status read failed", "attempt", j.attempts, "error", err)
		return
	}

	switch status.Status {
	case StatusSucceeded:
		j.state = StateSucceeded
		j.output = status.Output
	case StatusFailed, StatusCanceled:
		j.state = StateFailed
		msg := status.Error
		if msg == "" {
			msg = status.Status
		}
		j.err = fmt.Errorf("%w: %s", types.ErrJobFailed, msg)
	}
}

func (p *Poller) logOutcome(j *job) {
	switch j.state {
	case StateSucceeded:
		p.logger.Debug("detection job succeeded", "job_state", j.state.String(), "attempts", j.attempts)
	case StateFailed:
		p.logger.Warn("detection job failed", "job_state", j.state.String(), "attempts", j.attempts, "error", j.err)
	case StateTimedOut:
		p.logger.Warn("detection job timed out", "job_state", j.state.String(), "attempts", j.attempts, "max_attempts", p.maxAttempts)
	}
}
