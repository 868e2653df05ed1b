package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"haper/internal/model"
)

type handlerCalls struct {
	finalized int
	timeout   int
	errored   int
}

func (c *handlerCalls) handlers() ReportHandlers {
	return ReportHandlers{
		OnFinalized: func(*model.Report) { c.finalized++ },
		OnTimeout:   func() { c.timeout++ },
		OnError:     func(error) { c.errored++ },
	}
}

func (c *handlerCalls) total() int { return c.finalized + c.timeout + c.errored }

var fastPoll = IntervalOptions{Interval: time.Millisecond, MaxAttempts: 5}

func TestPollReport_Finalized(t *testing.T) {
	calls := 0
	get := func(context.Context) (*model.Report, error) {
		calls++
		status := model.ReportAppending
		if calls == 3 {
			status = model.ReportFinalized
		}
		return &model.Report{ID: "r-1", Status: status}, nil
	}

	var hc handlerCalls
	r, err := PollReport(context.Background(), get, fastPoll, hc.handlers())
	require.NoError(t, err)
	assert.True(t, r.Finalized())
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, hc.finalized)
	assert.Equal(t, 1, hc.total())
}

func TestPollReport_Timeout(t *testing.T) {
	calls := 0
	get := func(context.Context) (*model.Report, error) {
		calls++
		return &model.Report{Status: model.ReportAppending}, nil
	}

	var hc handlerCalls
	_, err := PollReport(context.Background(), get, fastPoll, hc.handlers())
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, 5, calls)
	assert.Equal(t, 1, hc.timeout)
	assert.Equal(t, 1, hc.total())
}

func TestPollReport_Error(t *testing.T) {
	boom := errors.New("backend down")
	get := func(context.Context) (*model.Report, error) { return nil, boom }

	var hc handlerCalls
	_, err := PollReport(context.Background(), get, fastPoll, hc.handlers())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, hc.errored)
	assert.Equal(t, 1, hc.total())
}

func TestPollReport_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	get := func(context.Context) (*model.Report, error) {
		cancel()
		return &model.Report{Status: model.ReportAppending}, nil
	}

	var hc handlerCalls
	_, err := PollReport(ctx, get, IntervalOptions{Interval: time.Hour, MaxAttempts: 3}, hc.handlers())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, hc.errored)
	assert.Equal(t, 1, hc.total())
}

func TestPoll_IntervalCountsFromEndOfCall(t *testing.T) {
	const interval = 30 * time.Millisecond
	var starts, ends []time.Time
	get := func(context.Context) (int, error) {
		starts = append(starts, time.Now())
		time.Sleep(2 * interval)
		ends = append(ends, time.Now())
		return len(starts), nil
	}

	v, err := Poll(context.Background(), "slow", get, func(n int) bool { return n == 3 },
		IntervalOptions{Interval: interval, MaxAttempts: 5}, Handlers[int]{})
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(ends[i-1]), interval, "call %d started too soon", i+1)
	}
}
