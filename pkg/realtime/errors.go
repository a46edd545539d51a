package realtime

import (
	"errors"
	"fmt"
)

// Sentinel errors for the realtime package.
var (
	// ErrChannelUnavailable indicates a send was attempted with no open data channel.
	ErrChannelUnavailable = errors.New("realtime: channel unavailable")

	// ErrMalformedEvent indicates an inbound message could not be parsed.
	ErrMalformedEvent = errors.New("realtime: malformed event")

	// ErrUnknownTool indicates a tool call named a tool that is not registered.
	ErrUnknownTool = errors.New("realtime: unknown tool")

	// ErrAlreadyActive indicates Start was called on a session that is not idle.
	ErrAlreadyActive = errors.New("realtime: session already active")

	// ErrOpenTimeout indicates the data channel did not open in time.
	ErrOpenTimeout = errors.New("realtime: data channel open timed out")

	// ErrMissingCredentials indicates no credential source was configured.
	ErrMissingCredentials = errors.New("realtime: credentials source is required")

	// ErrMissingTransport indicates no transport was configured.
	ErrMissingTransport = errors.New("realtime: transport is required")

	// ErrClosed indicates the peer connection closed.
	ErrClosed = errors.New("realtime: connection closed")
)

// CredentialError is returned when the ephemeral credential exchange fails.
// The session stays Idle.
type CredentialError struct {
	// StatusCode is the HTTP status from the credential endpoint, if any.
	StatusCode int

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *CredentialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("realtime: credential exchange failed (HTTP %d): %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("realtime: credential exchange failed: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *CredentialError) Unwrap() error {
	return e.Cause
}

// MediaError is returned when microphone capture cannot start.
// The session stays Idle.
type MediaError struct {
	Cause error
}

// Error implements the error interface.
func (e *MediaError) Error() string {
	return fmt.Sprintf("realtime: microphone unavailable: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *MediaError) Unwrap() error {
	return e.Cause
}

// NegotiationError is returned when the offer/answer exchange fails or the
// data channel never opens. The session moves to Failed.
type NegotiationError struct {
	// Stage names the step that failed (e.g. "offer", "signal", "answer", "open").
	Stage string

	// StatusCode is the HTTP status from the signalling endpoint, if any.
	StatusCode int

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *NegotiationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("realtime: negotiation failed at %s (HTTP %d): %v", e.Stage, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("realtime: negotiation failed at %s: %v", e.Stage, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *NegotiationError) Unwrap() error {
	return e.Cause
}

// Error checking helpers.

// IsCredentialError reports whether err is a CredentialError.
func IsCredentialError(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}

// IsMediaError reports whether err is a MediaError.
func IsMediaError(err error) bool {
	var me *MediaError
	return errors.As(err, &me)
}

// IsNegotiationError reports whether err is a NegotiationError.
func IsNegotiationError(err error) bool {
	var ne *NegotiationError
	return errors.As(err, &ne)
}
