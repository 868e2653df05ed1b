package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"haper/internal/model"
)

// LoginRequest is sent to /user/login and /user/signup after a successful OAuth exchange.
type LoginRequest struct {
	Provider     string    `json:"provider"`
	AccountID    string    `json:"account_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Picture      string    `json:"picture,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// TrackingRequest starts or stops message tracking for one mailbox.
type TrackingRequest struct {
	Provider     string    `json:"provider"`
	Email        string    `json:"email"`
	AccountID    string    `json:"account_id,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

type CheckoutRequest struct {
	PriceID string `json:"price_id,omitempty"`
}

type updateReportRequest struct {
	Items []model.ItemUpdate `json:"items"`
}

type generateReplyRequest struct {
	EmailID string `json:"email_id"`
}

func (c *Client) UserInfo(ctx context.Context, token string) (*model.UserInfo, error) {
	return call[model.UserInfo](ctx, c, request{
		method: http.MethodGet, path: "/user/info", endpoint: "/user/info", token: token,
	})
}

func (c *Client) GetSettings(ctx context.Context, token string) (*model.UserSettings, error) {
	return call[model.UserSettings](ctx, c, request{
		method: http.MethodGet, path: "/user/setting", endpoint: "/user/setting", token: token,
	})
}

func (c *Client) CreateSettings(ctx context.Context, token string, s model.UserSettings) (*model.UserSettings, error) {
	return call[model.UserSettings](ctx, c, request{
		method: http.MethodPost, path: "/user/setting", endpoint: "/user/setting", token: token, body: s,
	})
}

func (c *Client) UpdateSettings(ctx context.Context, token string, s model.UserSettings) (*model.UserSettings, error) {
	return call[model.UserSettings](ctx, c, request{
		method: http.MethodPut, path: "/user/setting", endpoint: "/user/setting", token: token, body: s,
	})
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (*model.AuthResult, error) {
	return call[model.AuthResult](ctx, c, request{
		method: http.MethodPost, path: "/user/login", endpoint: "/user/login", body: req,
	})
}

func (c *Client) Signup(ctx context.Context, req LoginRequest) (*model.AuthResult, error) {
	return call[model.AuthResult](ctx, c, request{
		method: http.MethodPost, path: "/user/signup", endpoint: "/user/signup", body: req,
	})
}

func (c *Client) TrackingStatus(ctx context.Context, token string) ([]model.TrackingStatus, error) {
	out, err := call[[]model.TrackingStatus](ctx, c, request{
		method: http.MethodGet, path: "/message/tracking/status", endpoint: "/message/tracking/status", token: token,
	})
	if err != nil {
		return nil, err
	}
	return *out, nil
}

func (c *Client) StartTracking(ctx context.Context, token string, req TrackingRequest) (*model.TrackingStatus, error) {
	return call[model.TrackingStatus](ctx, c, request{
		method: http.MethodPost, path: "/message/tracking/start", endpoint: "/message/tracking/start", token: token, body: req,
	})
}

func (c *Client) StopTracking(ctx context.Context, token string, req TrackingRequest) (*model.TrackingStatus, error) {
	return call[model.TrackingStatus](ctx, c, request{
		method: http.MethodPost, path: "/message/tracking/stop", endpoint: "/message/tracking/stop", token: token, body: req,
	})
}

func (c *Client) NewestReport(ctx context.Context, token string) (*model.Report, error) {
	return call[model.Report](ctx, c, request{
		method: http.MethodGet, path: "/report/newest", endpoint: "/report/newest", token: token,
	})
}

// GenerateReport asks the backend for a new report.
// A 400 or 404 means there were no new messages and is returned as ErrNoNewMessages,
// unless the envelope reports a severe or auth failure.
func (c *Client) GenerateReport(ctx context.Context, token string) (*model.Report, error) {
	r, err := call[model.Report](ctx, c, request{
		method: http.MethodPost, path: "/report/generate", endpoint: "/report/generate", token: token,
	})
	if apiErr, ok := AsAPIError(err); ok && !apiErr.Severe() && !apiErr.IsAuthFail() &&
		(apiErr.HTTPStatus == http.StatusBadRequest || apiErr.HTTPStatus == http.StatusNotFound) {
		return nil, errors.Join(ErrNoNewMessages, err)
	}
	return r, err
}

func (c *Client) ReportHistory(ctx context.Context, token string, page, pageSize int) (*model.HistoryPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	return call[model.HistoryPage](ctx, c, request{
		method: http.MethodGet, path: "/report/history", endpoint: "/report/history", token: token, query: q,
	})
}

func (c *Client) GetReport(ctx context.Context, token, reportID string) (*model.Report, error) {
	return call[model.Report](ctx, c, request{
		method: http.MethodGet, path: reportPath(reportID, ""), endpoint: "/report/:id", token: token,
	})
}

func (c *Client) UpdateReport(ctx context.Context, token, reportID string, items []model.ItemUpdate) (*model.Report, error) {
	return call[model.Report](ctx, c, request{
		method: http.MethodPut, path: reportPath(reportID, ""), endpoint: "/report/:id", token: token,
		body: updateReportRequest{Items: items},
	})
}

func (c *Client) StartBatchAction(ctx context.Context, token, reportID string) (*model.BatchActionStatus, error) {
	return call[model.BatchActionStatus](ctx, c, request{
		method: http.MethodPost, path: reportPath(reportID, "/batch-action"), endpoint: "/report/:id/batch-action", token: token,
	})
}

func (c *Client) MessageContent(ctx context.Context, token, reportID, emailID string) (*model.MessageContent, error) {
	q := url.Values{}
	q.Set("email_id", emailID)
	return call[model.MessageContent](ctx, c, request{
		method: http.MethodGet, path: reportPath(reportID, "/message-content"), endpoint: "/report/:id/message-content",
		token: token, query: q,
	})
}

func (c *Client) CreateCheckoutSession(ctx context.Context, token string, req CheckoutRequest) (*model.CheckoutSession, error) {
	return call[model.CheckoutSession](ctx, c, request{
		method: http.MethodPost, path: "/checkout/session", endpoint: "/checkout/session", token: token, body: req,
	})
}

func (c *Client) CheckoutSessionStatus(ctx context.Context, token, sessionID string) (*model.CheckoutStatus, error) {
	q := url.Values{}
	q.Set("session_id", sessionID)
	return call[model.CheckoutStatus](ctx, c, request{
		method: http.MethodGet, path: "/checkout/session-status", endpoint: "/checkout/session-status", token: token, query: q,
	})
}

// OpenBatchActionStatus opens the JSON snapshot stream of a running batch action.
func (c *Client) OpenBatchActionStatus(ctx context.Context, token, reportID string) (io.ReadCloser, error) {
	return c.openStream(ctx, request{
		method: http.MethodPost, path: reportPath(reportID, "/batch-action-status"), endpoint: "/report/:id/batch-action-status", token: token,
	})
}

// OpenMessageProcessingStatus opens the remaining-messages counter stream.
func (c *Client) OpenMessageProcessingStatus(ctx context.Context, token, reportID string) (io.ReadCloser, error) {
	return c.openStream(ctx, request{
		method: http.MethodPost, path: reportPath(reportID, "/message-processing-status"), endpoint: "/report/:id/message-processing-status", token: token,
	})
}

// OpenReplyGeneration opens the plain-text reply stream for one email.
func (c *Client) OpenReplyGeneration(ctx context.Context, token, reportID, emailID string) (io.ReadCloser, error) {
	return c.openStream(ctx, request{
		method: http.MethodPost, path: reportPath(reportID, "/generate-reply"), endpoint: "/report/:id/generate-reply", token: token,
		body: generateReplyRequest{EmailID: emailID},
	})
}

func reportPath(reportID, suffix string) string {
	return "/report/" + url.PathEscape(reportID) + suffix
}
