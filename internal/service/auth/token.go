package auth

import (
	"fmt"
	"time"
)

// Token is a short-lived IAM bearer token.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// ValidAt reports whether the token may still be used at now, keeping margin in reserve.
func (t Token) ValidAt(now time.Time, margin time.Duration) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-margin))
}

// String redacts the token value.
func (t Token) String() string {
	return fmt.Sprintf("Token{expiresAt=%s}", t.ExpiresAt.Format(time.RFC3339))
}
