// Package apierr provides the unified sandbox control plane error type.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind discriminates the category of a SandboxError, independent of its
// human-readable message.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuth          Kind = "auth"
	KindNotFound      Kind = "not_found"
	KindStorage       Kind = "storage"
	KindDocker        Kind = "docker"
	KindCloudProvider Kind = "cloud_provider"
	KindHTTP          Kind = "http"
	KindSidecar       Kind = "sidecar"
)

var httpStatusByKind = map[Kind]int{
	KindValidation:    http.StatusBadRequest,
	KindAuth:          http.StatusUnauthorized,
	KindNotFound:      http.StatusNotFound,
	KindStorage:       http.StatusInternalServerError,
	KindDocker:        http.StatusInternalServerError,
	KindCloudProvider: http.StatusBadGateway,
	KindHTTP:          http.StatusBadGateway,
	KindSidecar:       http.StatusBadGateway,
}

// SandboxError is the error type threaded through every component of the
// control plane. Handlers in the operator API map Kind to an HTTP status;
// internal components otherwise just bubble the error up.
type SandboxError struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *SandboxError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *SandboxError) Unwrap() error {
	return e.Err
}

func (e *SandboxError) WithDetail(key string, value interface{}) *SandboxError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatus returns the status code owner-api handlers should respond with.
func (e *SandboxError) HTTPStatus() int {
	if status, ok := httpStatusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func New(kind Kind, message string) *SandboxError {
	return &SandboxError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *SandboxError {
	return &SandboxError{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *SandboxError { return New(KindValidation, message) }

func InvalidInput(field, reason string) *SandboxError {
	return New(KindValidation, "invalid input").
		WithDetail("field", field).
		WithDetail("reason", reason)
}

func MissingParameter(param string) *SandboxError {
	return New(KindValidation, "missing required parameter").WithDetail("parameter", param)
}

func Unauthorized(message string) *SandboxError { return New(KindAuth, message) }

func InvalidSignature(err error) *SandboxError {
	return Wrap(KindAuth, "invalid signature", err)
}

func TokenExpired() *SandboxError { return New(KindAuth, "session token expired") }

func Forbidden(message string) *SandboxError { return New(KindAuth, message) }

func NotFound(resource, id string) *SandboxError {
	return New(KindNotFound, "resource not found").
		WithDetail("resource", resource).
		WithDetail("id", id)
}

func Storage(operation string, err error) *SandboxError {
	return Wrap(KindStorage, "storage operation failed", err).WithDetail("operation", operation)
}

func Docker(operation string, err error) *SandboxError {
	return Wrap(KindDocker, "docker operation failed", err).WithDetail("operation", operation)
}

func CloudProvider(backend string, err error) *SandboxError {
	return Wrap(KindCloudProvider, "cloud provider operation failed", err).WithDetail("backend", backend)
}

func HTTP(target string, err error) *SandboxError {
	return Wrap(KindHTTP, "upstream http call failed", err).WithDetail("target", target)
}

func Sidecar(status int, body string) *SandboxError {
	return New(KindSidecar, "sidecar returned a non-success response").
		WithDetail("status", status).
		WithDetail("body", body)
}

func RateLimitExceeded(limit int, windowSecs int) *SandboxError {
	return New(KindValidation, "rate limit exceeded").
		WithDetail("limit", limit).
		WithDetail("window_secs", windowSecs)
}

// Is reports whether err is a *SandboxError of the given kind.
func Is(err error, kind Kind) bool {
	var se *SandboxError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// As extracts a *SandboxError from an error chain.
func As(err error) *SandboxError {
	var se *SandboxError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// HTTPStatus returns the appropriate status code for any error, defaulting
// to 500 when it is not a *SandboxError.
func HTTPStatus(err error) int {
	if se := As(err); se != nil {
		return se.HTTPStatus()
	}
	return http.StatusInternalServerError
}
