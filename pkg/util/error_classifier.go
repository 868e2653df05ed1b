package util

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"

	"haper/pkg/circuitbreaker"
)

// retryable 由业务错误类型自行声明是否可重试（例如后端 5xx）
type retryable interface {
	Retryable() bool
}

// IsRetryableError determines if an error is worth retrying.
// Returns: (isRetryable, errorType)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	// 调用方主动取消 - 不可重试
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}

	// 熔断器打开 - 不重试，快速失败
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return false, "circuit_open"
	}

	// JSON decode errors - 不可重试（数据格式错误）
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return false, "json_decode_error"
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	var r retryable
	if errors.As(err, &r) {
		if r.Retryable() {
			return true, "backend_error"
		}
		return false, "backend_rejected"
	}

	// 流在中途被截断 - 可重试
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true, "stream_truncated"
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true, "network_error"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown_error"
}

// ShouldRetry checks if an error should be retried based on attempt count
func ShouldRetry(attempt int, maxRetries int, isRetryable bool) bool {
	if !isRetryable {
		return false
	}
	return attempt <= maxRetries
}
