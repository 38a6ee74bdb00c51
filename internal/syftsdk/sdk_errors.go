package syftsdk

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/imroc/req/v3"
)

var (
	// sdk common
	ErrNoServerURL  = errors.New("sdk: server url missing")
	ErrInvalidEmail = errors.New("sdk: invalid email")
	ErrNoToken      = errors.New("sdk: access token missing")

	// error kinds, match with errors.Is
	ErrTransport     = errors.New("sdk: transport failure")
	ErrServer        = errors.New("sdk: server error")
	ErrNotFound      = errors.New("sdk: not found")
	ErrUnauthorized  = errors.New("sdk: unauthorized")
	ErrHashMismatch  = errors.New("sdk: expected hash mismatch")
	ErrInvalidBundle = errors.New("sdk: invalid bundle")
)

const (
	CodeInvalidRequest    = "E_INVALID_REQUEST"
	CodeInternalError     = "E_INTERNAL_ERROR"
	CodeUnknownError      = "E_UNKNOWN_ERR"
	CodeMalformedResponse = "E_MALFORMED_RESPONSE"
	CodeUnauthorized      = "E_AUTH_INVALID_CREDENTIALS"
	CodeNotFound          = "E_NOT_FOUND"
	CodeHashMismatch      = "E_HASH_MISMATCH"
)

type SDKError interface {
	error
	ErrorCode() string
	ErrorMessage() string
}

// APIError is a non-success answer from the server, or a success answer whose
// body could not be decoded.
type APIError struct {
	Operation  string `json:"-"`
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"error"`
	Detail     string `json:"detail"`
}

func (e *APIError) ErrorCode() string { return e.Code }

func (e *APIError) ErrorMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Detail
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s %d %s - %s", e.Operation, e.StatusCode, e.Code, e.ErrorMessage())
}

// Is maps the error onto exactly one of the error kinds.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.isUnauthorized()
	case ErrNotFound:
		return e.isNotFound()
	case ErrHashMismatch:
		return e.isHashMismatch()
	case ErrServer:
		return !e.isUnauthorized() && !e.isNotFound() && !e.isHashMismatch()
	}
	return false
}

func (e *APIError) isUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.Code == CodeUnauthorized
}

func (e *APIError) isNotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.Code == CodeNotFound
}

func (e *APIError) isHashMismatch() bool {
	if e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusPreconditionFailed || e.Code == CodeHashMismatch {
		return true
	}
	// older servers answer a plain 400 with a detail message
	msg := strings.ToLower(e.ErrorMessage())
	return e.StatusCode == http.StatusBadRequest && (strings.Contains(msg, "expected_hash") || strings.Contains(msg, "hash mismatch"))
}

var _ SDKError = (*APIError)(nil)

// TransportError wraps a failure to talk to the server at all: dns,
// connection, tls or a deadline.
type TransportError struct {
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("http request error: %s: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func (e *TransportError) ErrorCode() string    { return CodeUnknownError }
func (e *TransportError) ErrorMessage() string { return e.Err.Error() }

var _ SDKError = (*TransportError)(nil)

// IsRetryable reports whether repeating the same call may succeed:
// transport failures and lost optimistic-concurrency races.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrHashMismatch)
}

// handleAPIError turns a req round trip into one of the sdk error kinds.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return &TransportError{Operation: operation, Err: requestErr}
	}
	if resp == nil || resp.Response == nil {
		return &TransportError{Operation: operation, Err: errors.New("empty response")}
	}

	if resp.IsSuccessState() {
		return nil
	}

	apiErr := &APIError{}
	if body := resp.Bytes(); len(body) > 0 {
		if err := jsonUnmarshal(body, apiErr); err != nil {
			apiErr.Message = truncate(string(body), 256)
		}
	}
	apiErr.Operation = operation
	apiErr.StatusCode = resp.StatusCode
	if apiErr.Code == "" {
		apiErr.Code = codeForStatus(resp.StatusCode)
	}
	return apiErr
}

func malformed(operation string, statusCode int, err error) *APIError {
	return &APIError{
		Operation:  operation,
		StatusCode: statusCode,
		Code:       CodeMalformedResponse,
		Message:    err.Error(),
	}
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return CodeUnauthorized
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusConflict, status == http.StatusPreconditionFailed:
		return CodeHashMismatch
	case status >= 500:
		return CodeInternalError
	case status >= 400:
		return CodeInvalidRequest
	}
	return CodeUnknownError
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
