package debounce

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	writes map[string][]string
	err    error
}

func (r *recorder) flush(_ context.Context, key, v string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writes == nil {
		r.writes = map[string][]string{}
	}
	r.writes[key] = append(r.writes[key], v)
	return r.err
}

func (r *recorder) get(key string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes[key]...)
}

func TestDebouncer_CoalescesEdits(t *testing.T) {
	var rec recorder
	d := New(context.Background(), 30*time.Millisecond, rec.flush, zap.NewNop())

	for _, v := range []string{"H", "He", "Hel", "Hello"} {
		d.Set("m-1", v)
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return len(rec.get("m-1")) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []string{"Hello"}, rec.get("m-1"))
	assert.Equal(t, 0, d.Pending())
}

func TestDebouncer_KeysAreIndependent(t *testing.T) {
	var rec recorder
	d := New(context.Background(), 30*time.Millisecond, rec.flush, zap.NewNop())

	d.Set("m-1", "first draft")
	d.Set("m-2", "other email")
	assert.Equal(t, 2, d.Pending())

	require.Eventually(t, func() bool {
		return len(rec.get("m-1")) == 1 && len(rec.get("m-2")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"first draft"}, rec.get("m-1"))
	assert.Equal(t, []string{"other email"}, rec.get("m-2"))
}

func TestDebouncer_FlushWritesPendingNow(t *testing.T) {
	var rec recorder
	d := New(context.Background(), time.Hour, rec.flush, zap.NewNop())

	d.Set("m-1", "a")
	d.Set("m-1", "ab")
	d.Set("m-3", "c")
	d.Flush(context.Background())

	assert.Equal(t, []string{"ab"}, rec.get("m-1"))
	assert.Equal(t, []string{"c"}, rec.get("m-3"))
	assert.Equal(t, 0, d.Pending())
}

func TestDebouncer_FlushErrorIsLogged(t *testing.T) {
	rec := recorder{err: errors.New("backend down")}
	d := New(context.Background(), time.Hour, rec.flush, zap.NewNop())

	d.Set("m-1", "x")
	d.Flush(context.Background())
	assert.Equal(t, []string{"x"}, rec.get("m-1"))
}
