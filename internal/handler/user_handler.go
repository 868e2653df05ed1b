package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"haper/internal/backend"
	"haper/internal/model"
)

// AccountBackend covers the user, tracking and checkout routes.
type AccountBackend interface {
	UserInfo(ctx context.Context, token string) (*model.UserInfo, error)
	GetSettings(ctx context.Context, token string) (*model.UserSettings, error)
	CreateSettings(ctx context.Context, token string, s model.UserSettings) (*model.UserSettings, error)
	UpdateSettings(ctx context.Context, token string, s model.UserSettings) (*model.UserSettings, error)
	TrackingStatus(ctx context.Context, token string) ([]model.TrackingStatus, error)
	StartTracking(ctx context.Context, token string, req backend.TrackingRequest) (*model.TrackingStatus, error)
	StopTracking(ctx context.Context, token string, req backend.TrackingRequest) (*model.TrackingStatus, error)
	CreateCheckoutSession(ctx context.Context, token string, req backend.CheckoutRequest) (*model.CheckoutSession, error)
	CheckoutSessionStatus(ctx context.Context, token, sessionID string) (*model.CheckoutStatus, error)
}

type UserHandler struct {
	backend  AccountBackend
	sessions SessionClearer
	logger   *zap.Logger
}

func NewUserHandler(b AccountBackend, sessions SessionClearer, logger *zap.Logger) *UserHandler {
	return &UserHandler{backend: b, sessions: sessions, logger: logger}
}

func (h *UserHandler) fail(c *gin.Context, err error) {
	abortWithError(c, h.sessions, h.logger, err)
}

func (h *UserHandler) Info(c *gin.Context) {
	sess := mustSession(c)
	u, err := h.backend.UserInfo(c.Request.Context(), sess.BackendToken)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *UserHandler) GetSettings(c *gin.Context) {
	sess := mustSession(c)
	s, err := h.backend.GetSettings(c.Request.Context(), sess.BackendToken)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// CreateSettings handles POST /api/v1/user/setting (first save of key message tags).
func (h *UserHandler) CreateSettings(c *gin.Context) {
	h.saveSettings(c, h.backend.CreateSettings)
}

// UpdateSettings handles PUT /api/v1/user/setting.
func (h *UserHandler) UpdateSettings(c *gin.Context) {
	h.saveSettings(c, h.backend.UpdateSettings)
}

func (h *UserHandler) saveSettings(c *gin.Context, save func(context.Context, string, model.UserSettings) (*model.UserSettings, error)) {
	var req model.UserSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithNotice(c, http.StatusBadRequest, "Invalid settings")
		return
	}
	if req.KeyMessageTags == nil {
		req.KeyMessageTags = []string{}
	}

	sess := mustSession(c)
	s, err := save(c.Request.Context(), sess.BackendToken, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *UserHandler) TrackingStatus(c *gin.Context) {
	sess := mustSession(c)
	t, err := h.backend.TrackingStatus(c.Request.Context(), sess.BackendToken)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": t})
}

type trackingRequest struct {
	Provider string `json:"provider" binding:"required,oneof=google microsoft"`
	Email    string `json:"email" binding:"required,email"`
}

func (h *UserHandler) StartTracking(c *gin.Context) {
	h.toggleTracking(c, h.backend.StartTracking)
}

func (h *UserHandler) StopTracking(c *gin.Context) {
	h.toggleTracking(c, h.backend.StopTracking)
}

func (h *UserHandler) toggleTracking(c *gin.Context, call func(context.Context, string, backend.TrackingRequest) (*model.TrackingStatus, error)) {
	var req trackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithNotice(c, http.StatusBadRequest, "provider and email are required")
		return
	}

	sess := mustSession(c)
	t, err := call(c.Request.Context(), sess.BackendToken, backend.TrackingRequest{Provider: req.Provider, Email: req.Email})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *UserHandler) CreateCheckoutSession(c *gin.Context) {
	var req backend.CheckoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithNotice(c, http.StatusBadRequest, "Invalid checkout request")
			return
		}
	}

	sess := mustSession(c)
	s, err := h.backend.CreateCheckoutSession(c.Request.Context(), sess.BackendToken, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *UserHandler) CheckoutSessionStatus(c *gin.Context) {
	id := c.Query("session_id")
	if id == "" {
		abortWithNotice(c, http.StatusBadRequest, "session_id is required")
		return
	}

	sess := mustSession(c)
	s, err := h.backend.CheckoutSessionStatus(c.Request.Context(), sess.BackendToken, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// PublicConfig is what the browser may know about the deployment.
type PublicConfig struct {
	SiteHostURL          string   `json:"site_host_url"`
	StripePublishableKey string   `json:"stripe_publishable_key"`
	Providers            []string `json:"providers"`
}

// PublicConfigHandler serves GET /api/v1/config/public.
func PublicConfigHandler(cfg PublicConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, cfg)
	}
}
