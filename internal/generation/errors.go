package generation

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrInvalidPreset        = errors.New("invalid preset")
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrSubscriptionRequired = errors.New("subscription required")
	ErrContentPolicy        = errors.New("content policy violation")
	ErrSubmissionFailed     = errors.New("submission to inference provider failed")
	ErrUnauthorizedWebhook  = errors.New("webhook secret mismatch")
	ErrNotFound             = errors.New("generation not found")
	ErrForbidden            = errors.New("access denied")
)

// Machine-readable reason codes returned to clients.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	CodeSubscriptionRequired = "SUBSCRIPTION_REQUIRED"
	CodeContentModeration    = "CONTENT_MODERATION"
	CodeGenerationFailed     = "GENERATION_FAILED"
	CodeNotFound             = "GENERATION_NOT_FOUND"
	CodeForbidden            = "FORBIDDEN"
	CodeUnauthorized         = "UNAUTHORIZED"
)

// RejectError carries a reason code and a human-readable reason next to a sentinel.
type RejectError struct {
	Code   string
	Reason string
	Err    error
}

func (e *RejectError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Reason)
}

func (e *RejectError) Unwrap() error { return e.Err }

func reject(err error, code, reason string) error {
	return &RejectError{Code: code, Reason: reason, Err: err}
}
