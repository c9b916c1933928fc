package yandexgpt

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/zhouzirui/yagpt-chat/backend/internal/service/auth"
)

// Reason classifies a failed completion call.
type Reason string

const (
	ReasonAuth          Reason = "auth"
	ReasonQuota         Reason = "quota"
	ReasonBadRequest    Reason = "bad_request"
	ReasonNetwork       Reason = "network"
	ReasonServer        Reason = "server"
	ReasonEmptyResponse Reason = "empty_response"
)

// CompletionError is returned by Client.Complete. Reason auth signals that the IAM
// token may have been revoked; the caller decides whether to invalidate and retry.
type CompletionError struct {
	Reason Reason
	Status int
	Err    error

	// token is the credential the API refused; set only for ReasonAuth.
	token auth.Token
}

func (e *CompletionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("completion %s (HTTP %d): %v", e.Reason, e.Status, e.Err)
	}
	return fmt.Sprintf("completion %s: %v", e.Reason, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// ReasonOf extracts the completion reason from err, defaulting to server.
func ReasonOf(err error) Reason {
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ReasonServer
}

// RejectedToken returns the IAM token an auth failure was sent with, or the zero
// Token when err does not carry one.
func RejectedToken(err error) auth.Token {
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce.token
	}
	return auth.Token{}
}

func reasonForStatus(status int) Reason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusTooManyRequests:
		return ReasonQuota
	case status >= 400 && status < 500:
		return ReasonBadRequest
	default:
		return ReasonServer
	}
}
