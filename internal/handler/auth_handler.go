package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"haper/internal/backend"
	"haper/internal/model"
	"haper/internal/oauth"
	"haper/internal/session"
	"haper/pkg/logger"
	"haper/pkg/metrics"
)

const (
	// stateCookie ties a flow to the browser that started it.
	stateCookie     = "haper_oauth_state"
	stateCookiePath = "/api/auth"

	defaultRedirect   = "/dashboard"
	errorPage         = "/error"
	msgMissingScopes  = "Please grant all requested permissions"
	msgInvalidState   = "Your sign-in link has expired, please try again"
	msgSignInRequired = "Please sign in before connecting a mailbox"
	msgSignInFailed   = "Sign in failed, please try again"
)

// AuthBackend is what the OAuth callback needs from the backend.
type AuthBackend interface {
	Login(ctx context.Context, req backend.LoginRequest) (*model.AuthResult, error)
	Signup(ctx context.Context, req backend.LoginRequest) (*model.AuthResult, error)
	StartTracking(ctx context.Context, token string, req backend.TrackingRequest) (*model.TrackingStatus, error)
}

// AccountEvents is notified when a mailbox gets connected.
type AccountEvents interface {
	AccountConnected(ctx context.Context, userEmail, provider, accountID, email string)
}

type AuthHandler struct {
	providers *oauth.Registry
	states    *oauth.StateStore
	sessions  *session.Manager
	backend   AuthBackend
	events    AccountEvents
	logger    *zap.Logger
}

func NewAuthHandler(providers *oauth.Registry, states *oauth.StateStore, sessions *session.Manager, b AuthBackend, events AccountEvents, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		providers: providers,
		states:    states,
		sessions:  sessions,
		backend:   b,
		events:    events,
		logger:    logger,
	}
}

// Begin handles GET /api/auth/:provider/:action by redirecting to the provider's consent page.
func (h *AuthHandler) Begin(c *gin.Context) {
	p, action, err := h.resolve(c)
	if err != nil {
		h.fail(c, "", "", err.Error(), err)
		return
	}

	flow := &oauth.Flow{
		Provider: p.Name(),
		Action:   action,
		Redirect: safeRedirect(c.Query("redirect")),
	}
	if action == oauth.ActionAuthorize {
		sess, err := h.sessions.Resolve(c)
		if err != nil {
			h.fail(c, p.Name(), string(action), msgSignInRequired, err)
			return
		}
		flow.SessionID = sess.ID
	}

	state, err := h.states.Begin(c.Request.Context(), flow)
	if err != nil {
		h.fail(c, p.Name(), string(action), msgSignInFailed, err)
		return
	}
	h.setStateCookie(c, state, int(h.states.TTL().Seconds()))
	c.Redirect(http.StatusFound, p.AuthCodeURL(action, state, flow.Verifier))
}

// Callback handles GET /api/auth/callback/:provider/:action.
func (h *AuthHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()

	p, action, err := h.resolve(c)
	if err != nil {
		h.fail(c, "", "", err.Error(), err)
		return
	}
	name := p.Name()

	browserState, _ := c.Cookie(stateCookie)
	h.setStateCookie(c, "", -1)

	if providerErr := c.Query("error"); providerErr != "" {
		msg := c.Query("error_description")
		if msg == "" {
			msg = providerErr
		}
		h.fail(c, name, string(action), msg, errors.New(providerErr))
		return
	}

	state := c.Query("state")
	if browserState == "" || subtle.ConstantTimeCompare([]byte(browserState), []byte(state)) != 1 {
		h.fail(c, name, string(action), msgInvalidState, errors.New("state does not match this browser"))
		return
	}
	flow, err := h.states.Consume(ctx, state)
	if err != nil {
		h.fail(c, name, string(action), msgInvalidState, err)
		return
	}
	if flow.Provider != name || flow.Action != action {
		h.fail(c, name, string(action), msgInvalidState, errors.New("state belongs to another flow"))
		return
	}

	tok, err := p.Exchange(ctx, action, c.Query("code"), flow.Verifier)
	if err != nil {
		h.fail(c, name, string(action), err.Error(), err)
		return
	}

	if action == oauth.ActionAuthorize {
		granted := oauth.GrantedScopes(tok)
		if len(granted) == 0 {
			granted = strings.Fields(c.Query("scope"))
		}
		if !p.VerifyScopes(granted) {
			h.fail(c, name, string(action), msgMissingScopes, errors.New("missing scopes"))
			return
		}
	}

	profile, err := p.Profile(ctx, tok.AccessToken)
	if err != nil {
		h.fail(c, name, string(action), err.Error(), err)
		return
	}

	switch action {
	case oauth.ActionLogin, oauth.ActionSignup:
		req := backend.LoginRequest{
			Provider:     name,
			AccountID:    profile.AccountID,
			Email:        profile.Email,
			Name:         profile.Name,
			Picture:      profile.Picture,
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			Expiry:       tok.Expiry,
		}
		login := h.backend.Login
		if action == oauth.ActionSignup {
			login = h.backend.Signup
		}
		res, err := login(ctx, req)
		if err != nil {
			h.fail(c, name, string(action), backendMessage(err), err)
			return
		}
		if _, err := h.sessions.Start(c, res.Token, profile.Email, name); err != nil {
			h.fail(c, name, string(action), msgSignInFailed, err)
			return
		}

	case oauth.ActionAuthorize:
		sess, err := h.sessions.Resolve(c)
		if err != nil {
			h.fail(c, name, string(action), msgSignInRequired, err)
			return
		}
		if sess.ID != flow.SessionID {
			h.fail(c, name, string(action), msgInvalidState, errors.New("authorize flow started by another session"))
			return
		}
		_, err = h.backend.StartTracking(ctx, sess.BackendToken, backend.TrackingRequest{
			Provider:     name,
			Email:        profile.Email,
			AccountID:    profile.AccountID,
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			Expiry:       tok.Expiry,
		})
		if err != nil {
			h.fail(c, name, string(action), backendMessage(err), err)
			return
		}
		h.events.AccountConnected(ctx, sess.Email, name, profile.AccountID, profile.Email)
	}

	metrics.IncrementOAuthCallback(name, string(action), "success")
	logger.WithTrace(ctx, h.logger).Info("OAuth flow completed",
		zap.String("provider", name),
		zap.String("action", string(action)),
		zap.String("email", profile.Email),
	)

	redirect := flow.Redirect
	if redirect == "" {
		redirect = defaultRedirect
	}
	c.Redirect(http.StatusFound, redirect)
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.sessions.End(c); err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Warn("Failed to delete session", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *AuthHandler) resolve(c *gin.Context) (oauth.Provider, oauth.Action, error) {
	p, err := h.providers.Get(c.Param("provider"))
	if err != nil {
		return nil, "", err
	}
	action, err := oauth.ParseAction(c.Param("action"))
	if err != nil {
		return nil, "", err
	}
	return p, action, nil
}

func (h *AuthHandler) setStateCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, value, maxAge, stateCookiePath, "", h.sessions.SecureCookies(), true)
}

// fail sends the browser to the error page with a readable message.
func (h *AuthHandler) fail(c *gin.Context, provider, action, message string, err error) {
	metrics.IncrementOAuthCallback(provider, action, "error")
	logger.WithTrace(c.Request.Context(), h.logger).Warn("OAuth flow failed",
		zap.String("provider", provider),
		zap.String("action", action),
		zap.Error(err),
	)
	c.Redirect(http.StatusFound, errorPage+"?error_msg="+url.QueryEscape(message))
}

func backendMessage(err error) string {
	if apiErr, ok := backend.AsAPIError(err); ok && apiErr.Message != "" {
		return apiErr.Message
	}
	return msgSignInFailed
}

// safeRedirect only allows same-site absolute paths.
func safeRedirect(p string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return ""
	}
	return p
}
