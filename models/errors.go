package models

import "fmt"

// ErrKind is the closed set of error kinds the engine surfaces. Every layer
// below the engine returns one of these so the API boundary can map kinds to
// HTTP status codes and sanitized messages without string matching.
type ErrKind string

const (
	ErrConfiguration ErrKind = "CONFIGURATION"
	ErrNetwork       ErrKind = "NETWORK"
	ErrExtraction    ErrKind = "EXTRACTION"
	ErrCaptcha       ErrKind = "CAPTCHA"
	ErrLLM           ErrKind = "LLM"
	ErrTimeout       ErrKind = "TIMEOUT"
	ErrInternal      ErrKind = "INTERNAL"
)

// ErrorDetail is the structured error surfaced in API responses. The
// sanitizer at the API boundary never lets secrets, stack traces, or
// internal paths leak into Message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScrapeError is the internal error type carrying a closed-set Kind. It
// implements error and supports wrapping via Unwrap so callers can use
// errors.Is/As against the underlying transport error.
type ScrapeError struct {
	Kind    ErrKind
	Message string
	Err     error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// NewError creates a new ScrapeError of the given kind.
func NewError(kind ErrKind, message string, err error) *ScrapeError {
	return &ScrapeError{Kind: kind, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: string(e.Kind), Message: e.Message}
}

// AsScrapeError unwraps err into a *ScrapeError, synthesizing an INTERNAL
// one if the error did not originate from a layer that tags its kind.
func AsScrapeError(err error) *ScrapeError {
	if err == nil {
		return nil
	}
	if se, ok := err.(*ScrapeError); ok {
		return se
	}
	return NewError(ErrInternal, err.Error(), err)
}
