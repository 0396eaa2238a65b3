package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrProviderNotFound     = fmt.Errorf("llm provider not found")
	ErrInvalidInput         = fmt.Errorf("invalid input")
	ErrRateLimit            = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid          = fmt.Errorf("authentication failed")
	ErrProviderError        = fmt.Errorf("provider error")
	ErrContextOverflow      = fmt.Errorf("context window exceeded")
	ErrConfigLoad           = fmt.Errorf("failed to load configuration")
	ErrStreamClosed         = fmt.Errorf("stream closed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Store.AppendMessage")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient provider error that may
// succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderError)
}
