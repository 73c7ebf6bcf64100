package poller

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/roomscan-mcp/pkg/types"
)

// fakeClock records requested sleeps without waiting.
type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	return nil
}

// scriptedFetcher returns responses in order and repeats the last one.
type scriptedFetcher struct {
	responses []fetchResponse
	calls     int
	ids       []string
}

type fetchResponse struct {
	status *JobStatus
	err    error
}

func (f *scriptedFetcher) FetchStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	f.ids = append(f.ids, jobID)
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return f.responses[i].status, f.responses[i].err
}

func status(s string) fetchResponse {
	return fetchResponse{status: &JobStatus{Status: s}}
}

func newTestPoller(f StatusFetcher, clock Clock, attempts int, logBuf *bytes.Buffer) *Poller {
	var logger *slog.Logger
	if logBuf != nil {
		logger = slog.New(slog.NewJSONHandler(logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return New(f, Config{Interval: time.Second, MaxAttempts: attempts, Clock: clock, Logger: logger})
}

func TestPollSucceeded(t *testing.T) {
	clock := &fakeClock{}
	fetcher := &scriptedFetcher{responses: []fetchResponse{
		status(StatusStarting),
		status(StatusProcessing),
		{status: &JobStatus{Status: StatusSucceeded, Output: "cup, keys"}},
	}}

	res := newTestPoller(fetcher, clock, 30, nil).Poll(context.Background(), "job-1")

	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, "cup, keys", res.Output)
	assert.Equal(t, 3, res.Attempts)
	assert.NoError(t, res.Err)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, clock.sleeps)
	assert.Equal(t, "job-1", fetcher.ids[0])
}

func TestPollFailed(t *testing.T) {
	tests := []struct {
		name   string
		status *JobStatus
	}{
		{"failed", &JobStatus{Status: StatusFailed, Error: "model crashed"}},
		{"canceled", &JobStatus{Status: StatusCanceled}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &scriptedFetcher{responses: []fetchResponse{status(StatusProcessing), {status: tt.status}}}
			var logs bytes.Buffer

			res := newTestPoller(fetcher, &fakeClock{}, 30, &logs).Poll(context.Background(), "job-1")

			assert.Equal(t, StateFailed, res.State)
			assert.Equal(t, 2, res.Attempts)
			assert.ErrorIs(t, res.Err, types.ErrJobFailed)
			assert.Empty(t, res.Output)
			assert.Contains(t, logs.String(), `"job_state":"failed"`)
		})
	}
}

func TestPollTimedOut(t *testing.T) {
	clock := &fakeClock{}
	fetcher := &scriptedFetcher{responses: []fetchResponse{status(StatusProcessing)}}
	var logs bytes.Buffer

	res := newTestPoller(fetcher, clock, 30, &logs).Poll(context.Background(), "job-1")

	assert.Equal(t, StateTimedOut, res.State)
	assert.Equal(t, 30, res.Attempts)
	assert.Equal(t, 30, fetcher.calls)
	assert.Len(t, clock.sleeps, 30)
	assert.ErrorIs(t, res.Err, types.ErrJobTimeout)
	assert.False(t, errors.Is(res.Err, types.ErrJobFailed), "timeout is distinct from failure")
	assert.Contains(t, logs.String(), `"job_state":"timed_out"`)
	assert.NotContains(t, logs.String(), `"job_state":"failed"`)
}

func TestPollFetchErrorsSpendAttempts(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
		{status: &JobStatus{Status: StatusSucceeded, Output: "lamp"}},
	}}

	res := newTestPoller(fetcher, &fakeClock{}, 5, nil).Poll(context.Background(), "job-1")
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, 3, res.Attempts)

	always := &scriptedFetcher{responses: []fetchResponse{{err: errors.New("down")}}}
	res = newTestPoller(always, &fakeClock{}, 4, nil).Poll(context.Background(), "job-1")
	assert.Equal(t, StateTimedOut, res.State)
	assert.Equal(t, 4, res.Attempts)
}

func TestPollWithoutJobID(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []fetchResponse{status(StatusSucceeded)}}
	res := newTestPoller(fetcher, &fakeClock{}, 30, nil).Poll(context.Background(), "")

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, 0, fetcher.calls)
	assert.ErrorIs(t, res.Err, types.ErrJobFailed)
}

func TestPollCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &scriptedFetcher{responses: []fetchResponse{status(StatusProcessing)}}
	res := newTestPoller(fetcher, &fakeClock{}, 30, nil).Poll(ctx, "job-1")

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 0, fetcher.calls)
	assert.ErrorIs(t, res.Err, types.ErrJobFailed)
}

func TestNewDefaults(t *testing.T) {
	p := New(&scriptedFetcher{}, Config{})
	assert.Equal(t, DefaultInterval, p.interval)
	assert.Equal(t, DefaultMaxAttempts, p.maxAttempts)
	assert.Equal(t, RealClock, p.clock)
}

func TestRealClockSleep(t *testing.T) {
	start := time.Now()
	require.NoError(t, RealClock.Sleep(context.Background(), 5*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, RealClock.Sleep(ctx, time.Hour), context.Canceled)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "started", StateStarted.String())
	assert.Equal(t, "succeeded", StateSucceeded.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "timed_out", StateTimedOut.String())
	assert.False(t, StateStarted.Terminal())
	assert.True(t, StateTimedOut.Terminal())
}
