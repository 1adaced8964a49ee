package domain

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned by operations that need an active identity.
var ErrNotAuthenticated = errors.New("no active identity")

// ValidationError reports client-side input that fails the URL or content rules.
// No remote call is attempted when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RemoteError wraps a store or transport failure for the named operation.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// AuthExchangeError reports a failed identity resolution during the OAuth callback.
type AuthExchangeError struct {
	Reason string
	Err    error
}

func (e *AuthExchangeError) Error() string {
	if e.Err == nil {
		return "auth exchange failed: " + e.Reason
	}
	return fmt.Sprintf("auth exchange failed: %s: %v", e.Reason, e.Err)
}

func (e *AuthExchangeError) Unwrap() error { return e.Err }

// SubscriptionTransportError is a change feed transport failure.
// It only ever surfaces as a disconnected status and a log line.
type SubscriptionTransportError struct {
	Channel string
	Err     error
}

func (e *SubscriptionTransportError) Error() string {
	return fmt.Sprintf("subscription %s transport error: %v", e.Channel, e.Err)
}

func (e *SubscriptionTransportError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
