// Package poller turns backend job streams and status endpoints into finite sequences of snapshots.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"haper/pkg/logger"
	"haper/pkg/metrics"
	"haper/pkg/util"
)

// OpenFunc starts one streaming request and returns its body.
type OpenFunc func(ctx context.Context) (io.ReadCloser, error)

type StreamOptions struct {
	// Name labels metrics and logs, e.g. "batch_action".
	Name string
	// MaxRetries bounds reconnects after a failure. Zero means 3, negative disables retries.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          *zap.Logger
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.Name == "" {
		o.Name = "stream"
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 500 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

func (o StreamOptions) backOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.InitialInterval
	bo.MaxInterval = o.MaxInterval
	bo.Multiplier = 2
	return bo
}

// DecodeError means the stream carried something that is not a snapshot. It is never retried.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode stream snapshot: %v", e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// Stream yields every JSON snapshot the backend writes, in order, until the body ends cleanly.
// Each value is a full snapshot. Values may be split across chunks.
// Retryable open or read failures reopen the stream with exponential backoff; once retries run
// out the error is yielded and the sequence ends. Stopping the loop closes the body.
func Stream[T any](ctx context.Context, open OpenFunc, opts StreamOptions) iter.Seq2[T, error] {
	opts = opts.withDefaults()

	return func(yield func(T, error) bool) {
		var zero T
		log := logger.WithTrace(ctx, opts.Logger).With(zap.String("stream", opts.Name))
		bo := opts.backOff()
		attempt := 0

		for {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}

			body, err := open(ctx)
			if err == nil {
				var got int
				var done bool
				got, done, err = drain(ctx, body, opts.Name, yield)
				if done {
					return
				}
				if got > 0 {
					attempt = 0
					bo.Reset()
				}
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				yield(zero, ctxErr)
				return
			}

			retryable, kind := util.IsRetryableError(err)
			var decErr *DecodeError
			if errors.As(err, &decErr) {
				retryable, kind = false, "decode_error"
			}
			if !util.ShouldRetry(attempt+1, opts.MaxRetries, retryable) {
				log.Warn("Stream failed",
					zap.String("error_type", kind),
					zap.Int("attempts", attempt+1),
					zap.Error(err),
				)
				yield(zero, err)
				return
			}

			attempt++
			delay := bo.NextBackOff()
			metrics.IncrementStreamReconnect(opts.Name, kind)
			log.Info("Reconnecting stream",
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", delay),
				zap.Error(err),
			)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				yield(zero, ctx.Err())
				return
			case <-timer.C:
			}
		}
	}
}

// drain decodes snapshots from body until it ends. done is true when the sequence must stop:
// the body ended cleanly or the consumer stopped pulling.
func drain[T any](ctx context.Context, body io.ReadCloser, name string, yield func(T, error) bool) (got int, done bool, err error) {
	rc := &onceCloser{ReadCloser: body}
	defer rc.Close()
	// unblock a pending read when ctx is cancelled
	stop := context.AfterFunc(ctx, func() { _ = rc.Close() })
	defer stop()

	dec := json.NewDecoder(rc)
	for {
		var v T
		if err := dec.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				return got, true, nil
			}
			if isDecodeError(err) {
				return got, false, &DecodeError{Err: err}
			}
			return got, false, err
		}
		got++
		metrics.IncrementStreamChunk(name)
		if !yield(v, nil) {
			return got, true, nil
		}
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

type onceCloser struct {
	io.ReadCloser
	once sync.Once
	err  error
}

func (c *onceCloser) Close() error {
	c.once.Do(func() { c.err = c.ReadCloser.Close() })
	return c.err
}

// Last drains seq and returns its final snapshot. ok is false when nothing was yielded.
func Last[T any](seq iter.Seq2[T, error]) (last T, ok bool, err error) {
	for v, err := range seq {
		if err != nil {
			return last, ok, err
		}
		last, ok = v, true
	}
	return last, ok, nil
}
