package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"haper/internal/model"
	"haper/pkg/circuitbreaker"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL, Timeout: 2 * time.Second}, zap.NewNop())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestUserInfo_UnwrapsEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/user/info", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{"data": map[string]any{"email": "a@b.com", "name": "Ann"}},
		})
	})

	info, err := c.UserInfo(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", info.Email)
	assert.Equal(t, "Ann", info.Name)
}

func TestCall_EmptyEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{}})
	})

	_, err := c.NewestReport(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrEmptyEnvelope)
}

func TestCall_SevereError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": 9999, "message": "boom"})
	})

	_, err := c.GetSettings(context.Background(), "tok")
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.Severe())
	assert.False(t, apiErr.IsAuthFail())
	assert.Equal(t, "boom", apiErr.Message)
}

func TestCall_AuthFailNestedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"data": map[string]any{"status": 1101, "message": "token expired"},
		})
	})

	_, err := c.TrackingStatus(context.Background(), "tok")
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.IsAuthFail())
	assert.Equal(t, "token expired", apiErr.Message)
}

func TestCall_UnparseableErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})

	_, err := c.UserInfo(context.Background(), "tok")
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 0, apiErr.Status)
	assert.Equal(t, http.StatusText(http.StatusBadGateway), apiErr.Message)
	assert.True(t, apiErr.Retryable())
}

func TestGenerateReport_NoNewMessages(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			writeJSON(w, status, map[string]any{"status": 4001, "message": "nothing new"})
		})

		_, err := c.GenerateReport(context.Background(), "tok")
		assert.ErrorIs(t, err, ErrNoNewMessages)
	}
}

func TestGenerateReport_AuthFailIsNotNoNewMessages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": StatusAuthFail, "message": "token expired"})
	})

	_, err := c.GenerateReport(context.Background(), "tok")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoNewMessages)
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.IsAuthFail())
}

func TestUpdateReport_SendsItems(t *testing.T) {
	reply := "thanks"
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/report/r-1", r.URL.Path)
		var body updateReportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Items, 1)
		assert.Equal(t, "m-1", body.Items[0].EmailID)
		assert.Equal(t, "thanks", *body.Items[0].ReplyMessage)
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{"data": map[string]any{"id": "r-1", "status": "Finalized"}},
		})
	})

	r, err := c.UpdateReport(context.Background(), "tok", "r-1", []model.ItemUpdate{{EmailID: "m-1", ReplyMessage: &reply}})
	require.NoError(t, err)
	assert.True(t, r.Finalized())
}

func TestReportHistory_Query(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("page_size"))
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{"data": map[string]any{"items": []any{}, "total": 41, "page": 2, "page_size": 20}},
		})
	})

	page, err := c.ReportHistory(context.Background(), "tok", 2, 20)
	require.NoError(t, err)
	assert.Equal(t, 41, page.Total)
}

func TestOpenReplyGeneration_ReturnsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/report/r-1/generate-reply", r.URL.Path)
		var body generateReplyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "m-1", body.EmailID)
		_, _ = w.Write([]byte("Hello there"))
	})

	body, err := c.OpenReplyGeneration(context.Background(), "tok", "r-1", "m-1")
	require.NoError(t, err)
	defer body.Close()
	b, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "Hello there", string(b))
}

func TestBreaker_IgnoresClientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path == "/api/v1/user/info" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"status": 4000, "message": "bad"})
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		HalfOpenMaxRequests: 1,
		IsFailure:           countsAsFailure,
	})
	c := NewClient(Options{BaseURL: srv.URL, Breaker: cb}, zap.NewNop())
	ctx := context.Background()

	for range 3 {
		_, err := c.UserInfo(ctx, "tok")
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateClosed, cb.GetState())

	for range 2 {
		_, _ = c.GetSettings(ctx, "tok")
	}
	assert.Equal(t, circuitbreaker.StateOpen, cb.GetState())

	before := calls
	_, err := c.GetSettings(ctx, "tok")
	assert.True(t, errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen))
	assert.Equal(t, before, calls)
}
