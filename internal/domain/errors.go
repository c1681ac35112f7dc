package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the presence and chat layer. These provide consistent,
// checkable errors; callers wrap them with fmt.Errorf("...: %w") and match
// with errors.Is.
var (
	// ErrAuth means the token was rejected. Fatal to the connection, never retried.
	ErrAuth = errors.New("authentication failed")
	// ErrNetwork is a transient transport failure.
	ErrNetwork = errors.New("network error")
	// ErrConnectionLost is surfaced once reconnection attempts are exhausted.
	ErrConnectionLost = errors.New("connection lost")
	// ErrNotConnected is returned by sends issued without a live session.
	ErrNotConnected = errors.New("not connected")

	ErrInvalidRecipient  = errors.New("invalid recipient")
	ErrUnauthenticated   = errors.New("sender session is not authenticated")
	ErrRecipientOffline  = errors.New("recipient has no live session")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrOrderingViolation = errors.New("message sequence gap or duplicate")

	ErrNotFound = errors.New("requested resource not found")
)

// Wire codes carried in send_result and error frames.
const (
	CodeAuth              = "auth_error"
	CodeNetwork           = "network_error"
	CodeConnectionLost    = "connection_lost"
	CodeNotConnected      = "not_connected"
	CodeInvalidRecipient  = "invalid_recipient"
	CodeUnauthenticated   = "unauthenticated"
	CodeRecipientOffline  = "recipient_offline"
	CodeMalformedPayload  = "malformed_payload"
	CodeRateLimited       = "rate_limited"
	CodeOrderingViolation = "ordering_violation"
	CodeInternal          = "internal_error"
)

var codes = []struct {
	code string
	err  error
}{
	{CodeAuth, ErrAuth},
	{CodeNetwork, ErrNetwork},
	{CodeConnectionLost, ErrConnectionLost},
	{CodeNotConnected, ErrNotConnected},
	{CodeInvalidRecipient, ErrInvalidRecipient},
	{CodeUnauthenticated, ErrUnauthenticated},
	{CodeRecipientOffline, ErrRecipientOffline},
	{CodeMalformedPayload, ErrMalformedPayload},
	{CodeRateLimited, ErrRateLimited},
	{CodeOrderingViolation, ErrOrderingViolation},
}

// ErrorCode maps an error onto its wire code. Unknown errors map to CodeInternal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// ErrorFromCode is the inverse of ErrorCode. The message, when present, is kept
// as context around the sentinel.
func ErrorFromCode(code, message string) error {
	if code == "" {
		return nil
	}
	for _, c := range codes {
		if c.code == code {
			if message == "" || message == c.err.Error() {
				return c.err
			}
			return fmt.Errorf("%w: %s", c.err, message)
		}
	}
	return fmt.Errorf("%s: %s", code, message)
}

// IsApplicationError reports whether err is a deterministic per-message failure
// that must be reported to the sender and never retried.
func IsApplicationError(err error) bool {
	return errors.Is(err, ErrInvalidRecipient) ||
		errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrRecipientOffline) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrRateLimited)
}
