package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"haper/internal/backend"
	"haper/internal/poller"
	"haper/internal/report"
	"haper/internal/session"
	"haper/pkg/circuitbreaker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]*session.Session{}}
}

func (m *memStore) Create(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memStore) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, nil }

func (m *memStore) tokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sessions {
		out = append(out, s.BackendToken)
	}
	return out
}

// withSession installs session s-1, or the session named by X-Test-Session.
func withSession(c *gin.Context) {
	id, tok := "s-1", "tok"
	if v := c.GetHeader("X-Test-Session"); v != "" {
		id, tok = v, "tok-"+v
	}
	session.Set(c, &session.Session{ID: id, BackendToken: tok, Email: "a@b.com", Provider: "google"})
	c.Next()
}

// fakeBackendServer answers /api/v1 routes from a map of path to handler.
func fakeBackendServer(t *testing.T, routes map[string]http.HandlerFunc) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := routes[r.Method+" "+strings.TrimPrefix(r.URL.Path, "/api/v1")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return backend.NewClient(backend.Options{BaseURL: srv.URL, Timeout: 2 * time.Second}, zap.NewNop())
}

func envelope(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"data": v}})
}

func TestNoticeFor(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		level      string
		persistent bool
		authFail   bool
	}{
		{"severe", &backend.APIError{HTTPStatus: 500, Status: 9999, Message: "db down"}, http.StatusBadGateway, LevelError, true, false},
		{"auth fail", &backend.APIError{HTTPStatus: 403, Status: 1101, Message: "expired"}, http.StatusUnauthorized, LevelWarning, false, true},
		{"client error", &backend.APIError{HTTPStatus: 422, Status: 4000, Message: "bad"}, 422, LevelWarning, false, false},
		{"no new messages", errors.Join(backend.ErrNoNewMessages, &backend.APIError{HTTPStatus: 404}), http.StatusNotFound, LevelWarning, false, false},
		{"breaker open", circuitbreaker.ErrCircuitBreakerOpen, http.StatusServiceUnavailable, LevelWarning, false, false},
		{"immutable", report.ErrItemImmutable, http.StatusConflict, LevelWarning, false, false},
		{"poll timeout", poller.ErrPollTimeout, http.StatusGatewayTimeout, LevelWarning, false, false},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, LevelError, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, n := NoticeFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.level, n.Level)
			assert.Equal(t, tt.persistent, n.Persistent)
			assert.Equal(t, tt.authFail, n.AuthFail)
		})
	}

	_, n := NoticeFor(backend.ErrNoNewMessages)
	assert.Equal(t, "You do not receive any messages since last updates, please check later!", n.Message)
}
