package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrPlanLimitExceeded = errors.New("plan limit exceeded")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnavailable       = errors.New("unavailable")
	ErrInternal          = errors.New("internal error")
)

// PlatformErrorKind classifies failures of the messaging platform client.
// Downstream components branch on these kinds and never inspect raw platform
// error strings.
type PlatformErrorKind string

// Platform error kinds.
const (
	// PlatformTransient is a recoverable network or infrastructure fault.
	PlatformTransient PlatformErrorKind = "transient_network"
	// PlatformAuthExpired means the session credentials no longer authenticate.
	PlatformAuthExpired PlatformErrorKind = "auth_expired"
	// PlatformRateLimited carries the platform-suggested wait.
	PlatformRateLimited PlatformErrorKind = "rate_limited"
	// PlatformPeerInvalid means the source or destination reference is unusable.
	PlatformPeerInvalid PlatformErrorKind = "peer_invalid"
	// PlatformContentRejected means the platform refused the message content.
	PlatformContentRejected PlatformErrorKind = "content_rejected"
	// PlatformBanned means the platform signalled a ban indicator.
	PlatformBanned PlatformErrorKind = "banned"
	// PlatformUnknown is everything the adapter could not classify.
	PlatformUnknown PlatformErrorKind = "unknown"
)

// PlatformError is the classified form of a platform client failure.
type PlatformError struct {
	Kind PlatformErrorKind
	// Wait is the platform-suggested backoff; set only for PlatformRateLimited.
	Wait time.Duration
	Err  error
}

// Error implements error.
func (e *PlatformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("platform %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("platform %s", e.Kind)
}

// Unwrap exposes the underlying cause.
func (e *PlatformError) Unwrap() error { return e.Err }

// NewPlatformError constructs a classified platform error.
func NewPlatformError(kind PlatformErrorKind, err error) *PlatformError {
	return &PlatformError{Kind: kind, Err: err}
}

// NewRateLimitError constructs a rate-limit error carrying the suggested wait.
func NewRateLimitError(wait time.Duration, err error) *PlatformError {
	return &PlatformError{Kind: PlatformRateLimited, Wait: wait, Err: err}
}

// AsPlatformError extracts a PlatformError from an error chain. Unclassified
// errors are reported as PlatformUnknown so callers always get a kind.
func AsPlatformError(err error) *PlatformError {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe
	}
	return &PlatformError{Kind: PlatformUnknown, Err: err}
}
