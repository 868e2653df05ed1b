package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"haper/pkg/circuitbreaker"
	"haper/pkg/logger"
	"haper/pkg/metrics"
	"haper/pkg/otel"
	"haper/pkg/trace"
)

const apiPrefix = "/api/v1"

type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	cb           *circuitbreaker.CircuitBreaker
	logger       *zap.Logger
}

type Options struct {
	BaseURL string
	// Timeout bounds plain request/response calls.
	Timeout time.Duration
	// StreamTimeout bounds a whole status or reply stream.
	StreamTimeout time.Duration
	Transport     http.RoundTripper
	Breaker       *circuitbreaker.CircuitBreaker
}

func NewClient(opts Options, log *zap.Logger) *Client {
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}

	cb := opts.Breaker
	if cb == nil {
		cfg := circuitbreaker.DefaultConfig()
		cfg.HalfOpenMaxRequests = 2
		cfg.IsFailure = countsAsFailure
		cfg.OnStateChange = func(from, to circuitbreaker.State) {
			log.Warn("Backend circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
		cb = circuitbreaker.NewCircuitBreaker(cfg)
	}

	return &Client{
		baseURL: opts.BaseURL,
		httpClient: &http.Client{
			Transport: opts.Transport,
			Timeout:   opts.Timeout,
		},
		streamClient: &http.Client{
			Transport: opts.Transport,
			Timeout:   opts.StreamTimeout,
		},
		cb:     cb,
		logger: log,
	}
}

// countsAsFailure keeps client errors (4xx envelopes) from tripping the breaker.
func countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrEmptyEnvelope) {
		return false
	}
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.HTTPStatus >= 500
	}
	return true
}

type request struct {
	method   string
	path     string
	endpoint string // metrics label, e.g. "/report/:id"
	token    string
	query    url.Values
	body     any
}

// envelope is the {data: {data: T}} wrapper every backend response uses.
type envelope[T any] struct {
	Data *struct {
		Data    *T     `json:"data"`
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"data"`
}

type errorBody struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"data"`
}

// call performs a JSON request and unwraps the envelope into T.
func call[T any](ctx context.Context, c *Client, r request) (*T, error) {
	var out *T
	err := c.cb.Execute(func() error {
		resp, err := c.send(ctx, c.httpClient, r)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var env envelope[T]
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode %s response: %w", r.endpoint, err)
		}
		if env.Data == nil || env.Data.Data == nil {
			if env.Data != nil && env.Data.Status != 0 {
				return &APIError{HTTPStatus: resp.StatusCode, Status: env.Data.Status, Message: env.Data.Message}
			}
			return ErrEmptyEnvelope
		}
		out = env.Data.Data
		return nil
	})
	if err != nil {
		logger.WithTrace(ctx, c.logger).Warn("Backend call failed",
			zap.String("method", r.method),
			zap.String("endpoint", r.endpoint),
			zap.Error(err),
		)
		return nil, err
	}
	return out, nil
}

// openStream starts a streaming request and hands the body to the caller.
func (c *Client) openStream(ctx context.Context, r request) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := c.cb.Execute(func() error {
		resp, err := c.send(ctx, c.streamClient, r)
		if err != nil {
			return err
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		logger.WithTrace(ctx, c.logger).Warn("Backend stream failed to open",
			zap.String("endpoint", r.endpoint),
			zap.Error(err),
		)
		return nil, err
	}
	return body, nil
}

// send executes the request; non-2xx responses are turned into *APIError and their body closed.
func (c *Client) send(ctx context.Context, hc *http.Client, r request) (*http.Response, error) {
	var reader io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", r.endpoint, err)
		}
		reader = bytes.NewReader(b)
	}

	u := c.baseURL + apiPrefix + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", r.endpoint, err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	// 传播 trace_id
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set(trace.HeaderName, traceID)
	}
	otel.InjectHeaders(req)

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		metrics.RecordBackendCall(r.endpoint, "error", time.Since(start))
		return nil, err
	}
	metrics.RecordBackendCall(r.endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{HTTPStatus: resp.StatusCode}

	var body errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Status, apiErr.Message = body.Status, body.Message
		if apiErr.Status == 0 && body.Data != nil {
			apiErr.Status, apiErr.Message = body.Data.Status, body.Data.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
