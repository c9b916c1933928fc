package auth

import "fmt"

// AuthReason classifies why an IAM token could not be obtained.
type AuthReason string

const (
	ReasonInvalidKey AuthReason = "invalid_key"
	ReasonNetwork    AuthReason = "network"
	ReasonRejected   AuthReason = "rejected"
)

// AuthError is returned by the signer and the token cache.
type AuthError struct {
	Reason AuthReason
	// Status is the IAM endpoint HTTP status for ReasonRejected, zero otherwise.
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("iam %s (HTTP %d): %v", e.Reason, e.Status, e.Err)
	}
	return fmt.Sprintf("iam %s: %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }
