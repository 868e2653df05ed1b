package poller

import (
	"context"
	"errors"
	"time"

	"haper/internal/model"
	"haper/pkg/metrics"
)

var ErrPollTimeout = errors.New("poll attempts exhausted")

type IntervalOptions struct {
	Interval    time.Duration
	MaxAttempts int
}

func (o IntervalOptions) withDefaults() IntervalOptions {
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 60
	}
	return o
}

// Handlers are the terminal callbacks of an interval poll. Exactly one of them runs.
type Handlers[T any] struct {
	OnDone    func(T)
	OnTimeout func()
	OnError   func(error)
}

// Poll calls get until done reports true, attempts run out, or a call fails.
// The first call is made immediately; each later call starts Interval after the
// previous one returned.
func Poll[T any](ctx context.Context, name string, get func(context.Context) (T, error), done func(T) bool, opts IntervalOptions, h Handlers[T]) (T, error) {
	opts = opts.withDefaults()
	var zero T

	fail := func(err error) (T, error) {
		metrics.IncrementPollOutcome(name, "error")
		if h.OnError != nil {
			h.OnError(err)
		}
		return zero, err
	}

	timer := time.NewTimer(opts.Interval)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		v, err := get(ctx)
		if err != nil {
			return fail(err)
		}
		if done(v) {
			metrics.IncrementPollOutcome(name, "done")
			if h.OnDone != nil {
				h.OnDone(v)
			}
			return v, nil
		}
		if attempt >= opts.MaxAttempts {
			break
		}

		timer.Reset(opts.Interval)
		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		case <-timer.C:
		}
	}

	metrics.IncrementPollOutcome(name, "timeout")
	if h.OnTimeout != nil {
		h.OnTimeout()
	}
	return zero, ErrPollTimeout
}

// ReportHandlers are the terminal callbacks of PollReport.
type ReportHandlers struct {
	OnFinalized func(*model.Report)
	OnTimeout   func()
	OnError     func(error)
}

// PollReport polls a report until it is finalized.
func PollReport(ctx context.Context, get func(context.Context) (*model.Report, error), opts IntervalOptions, h ReportHandlers) (*model.Report, error) {
	return Poll(ctx, "report", get, (*model.Report).Finalized, opts, Handlers[*model.Report]{
		OnDone:    h.OnFinalized,
		OnTimeout: h.OnTimeout,
		OnError:   h.OnError,
	})
}
