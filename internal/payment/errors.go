package payment

import (
	"errors"
	"fmt"
	"strings"
)

// ProviderError is returned when a provider rejects a request or answers
// with something we cannot use.
type ProviderError struct {
	Provider   string
	StatusCode int // HTTP status, 0 when the call did not reach the provider
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (http %d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return ErrProvider }

// isClientError reports whether the provider refused the request itself,
// which says nothing about the provider's health.
func isClientError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.StatusCode >= 400 && pe.StatusCode < 500
}

var friendlyMessages = []struct {
	needle  string
	message string
}{
	{"insufficient", "insufficient funds"},
	{"declined", "payment declined by bank"},
	{"expired", "payment session expired"},
	{"timed out", "payment timed out"},
	{"timeout", "payment timed out"},
	{"cancel", "payment cancelled"},
	{"invalid vpa", "invalid UPI id"},
	{"invalid upi", "invalid UPI id"},
	{"limit", "transaction limit exceeded"},
	{"incorrect pin", "incorrect UPI PIN"},
	{"authentication", "authentication failed"},
}

// FriendlyReason maps a raw provider failure description to a short
// message suitable for students.  Unknown descriptions become
// "payment failed".
func FriendlyReason(raw string) string {
	s := strings.ToLower(raw)
	if s == "" {
		return "payment failed"
	}
	for _, m := range friendlyMessages {
		if strings.Contains(s, m.needle) {
			return m.message
		}
	}
	return "payment failed"
}
