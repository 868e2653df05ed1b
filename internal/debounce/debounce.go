// Package debounce coalesces rapid edits per key into a single delayed write.
package debounce

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"haper/pkg/metrics"
)

// FlushFunc writes the latest value of key.
type FlushFunc[V any] func(ctx context.Context, key string, v V) error

type pending[V any] struct {
	value V
	timer *time.Timer
	// gen guards against a timer that fired after being replaced.
	gen uint64
}

// Debouncer keeps one timer per key. Setting a key restarts only that key's timer,
// so edits to different keys never cancel each other.
type Debouncer[V any] struct {
	window time.Duration
	flush  FlushFunc[V]
	logger *zap.Logger
	// ctx is used for timer-driven flushes.
	ctx context.Context

	mu      sync.Mutex
	pending map[string]*pending[V]
	gen     uint64
	wg      sync.WaitGroup
}

func New[V any](ctx context.Context, window time.Duration, flush FlushFunc[V], logger *zap.Logger) *Debouncer[V] {
	if window <= 0 {
		window = time.Second
	}
	return &Debouncer[V]{
		window:  window,
		flush:   flush,
		logger:  logger,
		ctx:     ctx,
		pending: make(map[string]*pending[V]),
	}
}

// Set records v as the latest value for key and restarts key's timer.
func (d *Debouncer[V]) Set(key string, v V) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	gen := d.gen
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		p.value = v
		p.gen = gen
		p.timer = time.AfterFunc(d.window, func() { d.fire(key, gen) })
		return
	}
	d.pending[key] = &pending[V]{
		value: v,
		gen:   gen,
		timer: time.AfterFunc(d.window, func() { d.fire(key, gen) }),
	}
}

func (d *Debouncer[V]) fire(key string, gen uint64) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if !ok || p.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	d.write(d.ctx, key, p.value)
}

// Flush writes every pending value now and waits for in-flight timer writes.
func (d *Debouncer[V]) Flush(ctx context.Context) {
	d.mu.Lock()
	batch := d.pending
	d.pending = make(map[string]*pending[V])
	for _, p := range batch {
		p.timer.Stop()
	}
	d.mu.Unlock()

	for key, p := range batch {
		d.write(ctx, key, p.value)
	}
	d.wg.Wait()
}

// Pending returns how many keys are waiting for their window to elapse.
func (d *Debouncer[V]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Debouncer[V]) write(ctx context.Context, key string, v V) {
	if err := d.flush(ctx, key, v); err != nil {
		metrics.IncrementDebounceFlush("error")
		d.logger.Warn("Debounced write failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return
	}
	metrics.IncrementDebounceFlush("ok")
}
