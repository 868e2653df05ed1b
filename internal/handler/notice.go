package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"haper/internal/backend"
	"haper/internal/poller"
	"haper/internal/report"
	"haper/pkg/circuitbreaker"
	"haper/pkg/logger"
)

const (
	LevelError   = "error"
	LevelWarning = "warning"
)

// Notice is the user-facing message attached to every failed request.
type Notice struct {
	Level      string `json:"level"`
	Message    string `json:"message"`
	Persistent bool   `json:"persistent"`
	AuthFail   bool   `json:"auth_fail"`
}

type noticeBody struct {
	Error Notice `json:"error"`
}

// SessionClearer drops the browser's session cookie. *session.Manager satisfies it.
type SessionClearer interface {
	Clear(c *gin.Context)
}

// NoticeFor maps an error to an HTTP status and a notice.
func NoticeFor(err error) (int, Notice) {
	if errors.Is(err, backend.ErrNoNewMessages) {
		return http.StatusNotFound, Notice{Level: LevelWarning, Message: backend.NoNewMessagesText}
	}
	if apiErr, ok := backend.AsAPIError(err); ok {
		switch {
		case apiErr.Severe():
			return http.StatusBadGateway, Notice{Level: LevelError, Message: apiErr.Message, Persistent: true}
		case apiErr.IsAuthFail():
			return http.StatusUnauthorized, Notice{Level: LevelWarning, Message: apiErr.Message, AuthFail: true}
		case apiErr.HTTPStatus >= 400 && apiErr.HTTPStatus < 500:
			return apiErr.HTTPStatus, Notice{Level: LevelWarning, Message: apiErr.Message}
		default:
			return http.StatusBadGateway, Notice{Level: LevelWarning, Message: apiErr.Message}
		}
	}

	switch {
	case errors.Is(err, backend.ErrEmptyEnvelope):
		return http.StatusBadGateway, Notice{Level: LevelWarning, Message: "The server returned no data, please try again"}
	case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen):
		return http.StatusServiceUnavailable, Notice{Level: LevelWarning, Message: "Service is temporarily unavailable, please try again shortly"}
	case errors.Is(err, report.ErrItemImmutable):
		return http.StatusConflict, Notice{Level: LevelWarning, Message: "This action has already been applied and can no longer be changed"}
	case errors.Is(err, report.ErrItemNotFound):
		return http.StatusNotFound, Notice{Level: LevelWarning, Message: "Message not found in this report"}
	case errors.Is(err, report.ErrInvalidUpdate):
		return http.StatusBadRequest, Notice{Level: LevelWarning, Message: err.Error()}
	case errors.Is(err, poller.ErrPollTimeout):
		return http.StatusGatewayTimeout, Notice{Level: LevelWarning, Message: "The report is still being prepared, please check later"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, Notice{Level: LevelWarning, Message: "The request timed out, please try again"}
	}
	return http.StatusInternalServerError, Notice{Level: LevelError, Message: "Something went wrong, please try again later", Persistent: true}
}

// abortWithError writes the notice for err. An auth failure also clears the session cookie.
func abortWithError(c *gin.Context, sessions SessionClearer, log *zap.Logger, err error) {
	if errors.Is(err, context.Canceled) {
		c.Abort()
		return
	}
	status, n := NoticeFor(err)
	if n.AuthFail && sessions != nil {
		sessions.Clear(c)
	}
	if status >= 500 {
		logger.WithTrace(c.Request.Context(), log).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, noticeBody{Error: n})
}

// abortWithNotice writes a warning notice for a request the gateway rejected itself.
func abortWithNotice(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, noticeBody{Error: Notice{Level: LevelWarning, Message: message}})
}

// AbortUnauthenticated rejects a request without a valid session.
func AbortUnauthenticated(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, noticeBody{Error: Notice{
		Level:    LevelWarning,
		Message:  "Your session has expired, please sign in again",
		AuthFail: true,
	}})
}
