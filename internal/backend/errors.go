package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Backend envelope status codes with special meaning.
const (
	StatusAuthFail = 1101
	StatusSevere   = 9999
)

var (
	// ErrEmptyEnvelope means a 2xx response carried no data.data payload.
	ErrEmptyEnvelope = errors.New("backend response has no data")
	// ErrNoNewMessages is returned by GenerateReport when nothing arrived since the last report.
	ErrNoNewMessages = errors.New("no new messages since last report")
)

// NoNewMessagesText is shown to the user for ErrNoNewMessages.
const NoNewMessagesText = "You do not receive any messages since last updates, please check later!"

// APIError is an error envelope returned by the backend.
type APIError struct {
	HTTPStatus int
	Status     int
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend error %d (http %d): %s", e.Status, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("backend error (http %d): %s", e.HTTPStatus, e.Message)
}

// Severe marks unexpected backend failures that deserve a persistent error notice.
func (e *APIError) Severe() bool {
	return e.Status == StatusSevere
}

// IsAuthFail reports whether the user's backend token was rejected.
func (e *APIError) IsAuthFail() bool {
	return e.Status == StatusAuthFail || e.HTTPStatus == http.StatusUnauthorized
}

// Retryable lets pkg/util classify 5xx responses as transient.
func (e *APIError) Retryable() bool {
	return e.HTTPStatus >= 500 && e.Status != StatusSevere
}

// AsAPIError unwraps err into an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
