package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zhouzirui/yagpt-chat/backend/internal/clock"
)

const (
	// DefaultIAMEndpoint exchanges signed JWTs for IAM tokens. It is also the JWT audience.
	DefaultIAMEndpoint = "https://iam.api.cloud.yandex.net/iam/v1/tokens"

	// assertionTTL bounds the lifetime of the signed JWT; IAM accepts at most one hour.
	assertionTTL = 6 * time.Minute

	// defaultLease applies when the IAM response carries no usable expiresAt.
	defaultLease = time.Hour

	maxErrorBody = 4 << 10
)

var errEmptyToken = errors.New("token exchange returned empty iamToken")

// Signer builds PS256 assertions from the service-account key and exchanges them
// for IAM tokens. It never retries.
type Signer struct {
	cred       Credential
	endpoint   string
	audience   string
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithIAMEndpoint overrides the token exchange URL. The JWT audience stays the
// production endpoint so that proxies and test servers see a realistic assertion.
func WithIAMEndpoint(endpoint string) SignerOption {
	return func(s *Signer) { s.endpoint = endpoint }
}

// WithHTTPClient sets the client used for the exchange request.
func WithHTTPClient(client *http.Client) SignerOption {
	return func(s *Signer) { s.httpClient = client }
}

// WithSignerClock injects the time source used for claims and lease fallback.
func WithSignerClock(c clock.Clock) SignerOption {
	return func(s *Signer) { s.clock = c }
}

// WithSignerLogger sets the logger for exchange outcomes.
func WithSignerLogger(logger *slog.Logger) SignerOption {
	return func(s *Signer) { s.logger = logger }
}

// NewSigner creates a Signer for cred.
func NewSigner(cred Credential, opts ...SignerOption) *Signer {
	s := &Signer{
		cred:       cred,
		endpoint:   DefaultIAMEndpoint,
		audience:   DefaultIAMEndpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		clock:      clock.Real(),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Exchange signs a fresh assertion and trades it for an IAM token.
func (s *Signer) Exchange(ctx context.Context) (Token, error) {
	assertion, err := s.assertion()
	if err != nil {
		return Token{}, &AuthError{Reason: ReasonInvalidKey, Err: err}
	}

	body, err := json.Marshal(map[string]string{"jwt": assertion})
	if err != nil {
		return Token{}, &AuthError{Reason: ReasonInvalidKey, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Token{}, &AuthError{Reason: ReasonNetwork, Err: fmt.Errorf("create exchange request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Token{}, &AuthError{Reason: ReasonNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		detail := strings.TrimSpace(string(raw))
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		s.logger.Error("iam token exchange rejected", "status", resp.StatusCode, "body", detail)
		return Token{}, &AuthError{Reason: ReasonRejected, Status: resp.StatusCode, Err: errors.New(detail)}
	}

	var payload struct {
		IAMToken  string `json:"iamToken"`
		ExpiresAt string `json:"expiresAt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Token{}, &AuthError{Reason: ReasonRejected, Status: resp.StatusCode, Err: fmt.Errorf("decode exchange response: %w", err)}
	}
	if payload.IAMToken == "" {
		return Token{}, &AuthError{Reason: ReasonRejected, Status: resp.StatusCode, Err: errEmptyToken}
	}

	token := Token{
		Value:     payload.IAMToken,
		ExpiresAt: s.parseExpiry(payload.ExpiresAt),
	}
	s.logger.Info("iam token obtained", "expiresAt", token.ExpiresAt)
	return token, nil
}

// assertion returns the signed JWT: iss is the service account, kid names the key.
func (s *Signer) assertion() (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(s.cred.PrivateKeyPEM)
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}

	now := s.clock.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.cred.ServiceAccountID,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodPS256, claims)
	token.Header["kid"] = s.cred.KeyID

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return signed, nil
}

// parseExpiry accepts RFC 3339 timestamps with or without fractional seconds and
// falls back to a fixed lease when the value is absent or already in the past.
func (s *Signer) parseExpiry(raw string) time.Time {
	now := s.clock.Now()
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.Add(defaultLease)
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.logger.Warn("unparseable iam expiresAt, using default lease", "expiresAt", raw, "error", err)
		return now.Add(defaultLease)
	}
	if !expiresAt.After(now) {
		return now.Add(defaultLease)
	}
	return expiresAt.UTC()
}
