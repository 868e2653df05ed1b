package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"haper/pkg/logger"
)

const contextKey = "session"

// Store is the persistence Manager needs; *Repository satisfies it.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Options struct {
	CookieName string
	Secret     string
	TTL        time.Duration
	Secure     bool
}

type claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Manager issues and resolves the signed session cookie.
type Manager struct {
	store  Store
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

func NewManager(store Store, opts Options, log *zap.Logger) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = "haper_session"
	}
	if opts.TTL <= 0 {
		opts.TTL = 7 * 24 * time.Hour
	}
	return &Manager{store: store, opts: opts, logger: log, now: time.Now}
}

// Start persists a new session and sets its cookie on the response.
func (m *Manager) Start(c *gin.Context, backendToken, email, provider string) (*Session, error) {
	now := m.now()
	s := &Session{
		ID:           uuid.NewString(),
		BackendToken: backendToken,
		Email:        email,
		Provider:     provider,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.opts.TTL),
	}
	if err := m.store.Create(c.Request.Context(), s); err != nil {
		return nil, err
	}

	signed, err := m.sign(s)
	if err != nil {
		return nil, err
	}
	m.setCookie(c, signed, int(m.opts.TTL.Seconds()))
	return s, nil
}

// Resolve returns the session referenced by the request cookie.
func (m *Manager) Resolve(c *gin.Context) (*Session, error) {
	raw, err := c.Cookie(m.opts.CookieName)
	if err != nil || raw == "" {
		return nil, ErrNoCookie
	}
	sid, err := m.parse(raw)
	if err != nil {
		return nil, err
	}

	s, err := m.store.Get(c.Request.Context(), sid)
	if err != nil {
		return nil, err
	}
	if s.Expired(m.now()) {
		return nil, ErrExpired
	}
	return s, nil
}

// End deletes the current session, if any, and clears the cookie.
func (m *Manager) End(c *gin.Context) error {
	defer m.Clear(c)

	raw, err := c.Cookie(m.opts.CookieName)
	if err != nil || raw == "" {
		return nil
	}
	sid, err := m.parse(raw)
	if err != nil {
		return nil
	}
	return m.store.Delete(c.Request.Context(), sid)
}

// Clear expires the cookie without touching the store.
func (m *Manager) Clear(c *gin.Context) {
	m.setCookie(c, "", -1)
}

// RunJanitor deletes expired sessions every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.store.DeleteExpired(ctx, m.now())
			if err != nil {
				logger.WithTrace(ctx, m.logger).Warn("Failed to delete expired sessions", zap.Error(err))
				continue
			}
			if n > 0 {
				m.logger.Info("Deleted expired sessions", zap.Int64("count", n))
			}
		}
	}
}

func (m *Manager) sign(s *Session) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		SessionID: s.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(s.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	})
	signed, err := token.SignedString([]byte(m.opts.Secret))
	if err != nil {
		return "", fmt.Errorf("sign session cookie: %w", err)
	}
	return signed, nil
}

func (m *Manager) parse(raw string) (string, error) {
	var cl claims
	_, err := jwt.ParseWithClaims(raw, &cl, func(t *jwt.Token) (any, error) {
		return []byte(m.opts.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "", ErrExpired
	}
	if err != nil {
		return "", fmt.Errorf("parse session cookie: %w", err)
	}
	if cl.SessionID == "" {
		return "", jwt.ErrTokenMalformed
	}
	return cl.SessionID, nil
}

// SecureCookies reports whether cookies are marked Secure.
func (m *Manager) SecureCookies() bool { return m.opts.Secure }

func (m *Manager) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.opts.CookieName, value, maxAge, "/", "", m.opts.Secure, true)
}

// Set stores s in the gin context for downstream handlers.
func Set(c *gin.Context, s *Session) {
	c.Set(contextKey, s)
}

// FromContext returns the session set by the auth middleware.
func FromContext(c *gin.Context) (*Session, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*Session)
	return s, ok
}
