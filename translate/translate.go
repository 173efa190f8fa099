package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/deemkeen/translatebot/domain"
)

// Gateway detects the language of a text and translates it.
type Gateway interface {
	DetectLanguage(ctx context.Context, text string) (string, error)
	Translate(ctx context.Context, text, target string) (string, error)
}

// Error is returned by gateway adapters. Permanent errors are not worth
// retrying (bad request, exhausted quota, invalid key).
type Error struct {
	Op         string
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("translate %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("translate %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets callers classify with domain.ErrTransient and domain.ErrPermanent.
func (e *Error) Is(target error) bool {
	switch target {
	case domain.ErrPermanent:
		return e.Permanent
	case domain.ErrTransient:
		return !e.Permanent
	}
	return false
}

// IsRetryable reports whether a gateway call may succeed on another attempt.
// Cancellation is never retryable; unclassified errors are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !errors.Is(err, domain.ErrPermanent)
}

// permanentStatus reports whether an HTTP status from the gateway means the
// same request will keep failing.
func permanentStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return false
	case code >= 500:
		return false
	case code >= 400:
		return true
	}
	return false
}
