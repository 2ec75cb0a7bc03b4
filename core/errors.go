package core

import "errors"

// Sentinel errors for the failure taxonomy. Callers classify with
// errors.Is; wrapped detail stays internal and is never shown to end users.
var (
	// ErrStoreUnavailable means the vector backend could not be reached.
	// Retryable on ingest; queries degrade to an empty result instead.
	ErrStoreUnavailable = errors.New("memory store unavailable")

	// ErrRateLimited is a transient provider or platform throttle.
	// Retryable with bounded backoff.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelAuth means the model provider rejected our credentials.
	// Fatal for the turn.
	ErrModelAuth = errors.New("model authentication failed")

	// ErrQuotaExceeded means the provider account is out of quota.
	// Fatal for the turn.
	ErrQuotaExceeded = errors.New("model quota exceeded")

	// ErrScopeViolation is a fail-closed assertion: an ingest or query
	// targeted a scope that does not match its record. This indicates a
	// caller bug and is never silently corrected.
	ErrScopeViolation = errors.New("memory scope violation")
)

// Retryable reports whether an error is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrStoreUnavailable)
}

// Fatal reports whether an error terminates the turn without retry.
func Fatal(err error) bool {
	return errors.Is(err, ErrModelAuth) || errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrScopeViolation)
}
