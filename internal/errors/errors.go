// Package errors defines the application error kinds and renders them as
// gofulmen error envelopes for the HTTP API.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

// Kind classifies an application error.
type Kind string

const (
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	KindNotFound        Kind = "NOT_FOUND"
	KindExternalService Kind = "EXTERNAL_SERVICE_ERROR"
	KindUnavailable     Kind = "SERVICE_UNAVAILABLE"
	KindInternal        Kind = "INTERNAL_ERROR"
)

var kindStatus = map[Kind]int{
	KindInvalidArgument: http.StatusBadRequest,
	KindNotFound:        http.StatusNotFound,
	KindExternalService: http.StatusBadGateway,
	KindUnavailable:     http.StatusServiceUnavailable,
	KindInternal:        http.StatusInternalServerError,
}

// AppError is an error with a kind, an operator-facing message and
// optional details.
type AppError struct {
	Kind      Kind
	Message   string
	Details   map[string]any
	RequestID string
	Err       error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns e with details attached.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

func NewInvalidArgumentError(message string) *AppError {
	return &AppError{Kind: KindInvalidArgument, Message: message}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{Kind: KindNotFound, Message: message}
}

func NewExternalServiceError(message string) *AppError {
	return &AppError{Kind: KindExternalService, Message: message}
}

func NewUnavailableError(message string) *AppError {
	return &AppError{Kind: KindUnavailable, Message: message}
}

// WrapInternal wraps err as an internal error, carrying the request id of
// ctx when there is one.
func WrapInternal(ctx context.Context, err error, message string) *AppError {
	return &AppError{
		Kind:      KindInternal,
		Message:   message,
		RequestID: RequestIDFromContext(ctx),
		Err:       err,
	}
}

// Envelope renders e as a gofulmen error envelope. The wrapped error of an
// internal error stays out of the envelope.
func (e *AppError) Envelope() *gferrors.ErrorEnvelope {
	message := e.Message
	if e.Kind != KindInternal && e.Err != nil {
		message = e.Error()
	}
	env := gferrors.NewErrorEnvelope(string(e.Kind), message).
		WithCorrelationID(e.RequestID).
		WithDetails(e.Details)
	env, _ = env.WithSeverity(kindSeverity(e.Kind))
	return env
}

func kindSeverity(kind Kind) gferrors.Severity {
	switch kind {
	case KindInternal:
		return gferrors.SeverityHigh
	case KindExternalService, KindUnavailable:
		return gferrors.SeverityMedium
	default:
		return gferrors.SeverityLow
	}
}

// HTTPError is the body of an error response.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// HTTPErrorResponse is the envelope of every API error.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// NewHTTPError flattens env into a response body. Context entries of the
// envelope are merged into Details; the correlation id becomes the request
// id.
func NewHTTPError(env *gferrors.ErrorEnvelope) HTTPError {
	body := HTTPError{
		Code:      env.Code,
		Message:   env.Message,
		RequestID: env.CorrelationID,
		Severity:  string(env.Severity),
		Timestamp: env.Timestamp,
	}
	if len(env.Details)+len(env.Context) > 0 {
		body.Details = make(map[string]any, len(env.Details)+len(env.Context))
		for k, v := range env.Details {
			body.Details[k] = v
		}
		for k, v := range env.Context {
			body.Details[k] = v
		}
	}
	return body
}

// WriteHTTPError writes env as a JSON error response.
func WriteHTTPError(w http.ResponseWriter, status int, env *gferrors.ErrorEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: NewHTTPError(env)})
}

// RespondWithError maps err to a status code and error envelope. Errors
// that are not an *AppError are reported as internal errors without their
// text.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		appErr = WrapInternal(r.Context(), err, "internal error")
	}
	status, ok := kindStatus[appErr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	env := appErr.Envelope()
	if env.CorrelationID == "" {
		env = env.WithCorrelationID(RequestIDFromContext(r.Context()))
	}
	WriteHTTPError(w, status, env)
}

type requestIDKey struct{}

// WithRequestID returns ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id carried by ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
