package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/yagpt-chat/backend/internal/clock"
)

var testKey, testKeyPEM = generateTestKey()

func generateTestKey() (*rsa.PrivateKey, []byte) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("generating test RSA key: " + err.Error())
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		panic("marshal test RSA key: " + err.Error())
	}
	// Same layout as a `yc iam key create` file: a comment line before the PEM block.
	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return key, append([]byte("PLEASE DO NOT REMOVE THIS LINE! Yandex.Cloud SA Key ID <test>\n"), block...)
}

func testCredential() Credential {
	return Credential{
		ServiceAccountID: "aje-service-account",
		KeyID:            "ajk-key-id",
		FolderID:         "b1g-folder",
		PrivateKeyPEM:    testKeyPEM,
	}
}

var signerNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSigner(t *testing.T, handler http.HandlerFunc) *Signer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSigner(testCredential(),
		WithIAMEndpoint(srv.URL),
		WithHTTPClient(srv.Client()),
		WithSignerClock(clock.Fake(signerNow)),
	)
}

func TestSignerExchangeSendsPS256Assertion(t *testing.T) {
	var assertion string
	signer := newTestSigner(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body struct {
			JWT string `json:"jwt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assertion = body.JWT
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"iamToken":"t1.abc","expiresAt":"2026-03-01T23:59:59.123456789Z"}`))
	})

	tok, err := signer.Exchange(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t1.abc", tok.Value)
	assert.Equal(t, time.Date(2026, 3, 1, 23, 59, 59, 123456789, time.UTC), tok.ExpiresAt)

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(assertion, claims, func(token *jwt.Token) (any, error) {
		return &testKey.PublicKey, nil
	}, jwt.WithValidMethods([]string{"PS256"}), jwt.WithoutClaimsValidation())
	require.NoError(t, err)

	assert.Equal(t, "ajk-key-id", parsed.Header["kid"])
	assert.Equal(t, "aje-service-account", claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{DefaultIAMEndpoint}, claims.Audience)
	assert.Equal(t, signerNow, claims.IssuedAt.Time.UTC())
	assert.Equal(t, signerNow.Add(assertionTTL), claims.ExpiresAt.Time.UTC())
}

func TestSignerExchangeDefaultLease(t *testing.T) {
	cases := map[string]string{
		"missing":     `{"iamToken":"tok"}`,
		"unparseable": `{"iamToken":"tok","expiresAt":"tomorrow"}`,
		"in the past": `{"iamToken":"tok","expiresAt":"2020-01-01T00:00:00Z"}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			signer := newTestSigner(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})

			tok, err := signer.Exchange(context.Background())
			require.NoError(t, err)
			assert.Equal(t, signerNow.Add(defaultLease), tok.ExpiresAt)
		})
	}
}

func TestSignerExchangeRejected(t *testing.T) {
	signer := newTestSigner(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid JWT"}`, http.StatusUnauthorized)
	})

	_, err := signer.Exchange(context.Background())

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, ReasonRejected, authErr.Reason)
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
}

func TestSignerExchangeEmptyTokenRejected(t *testing.T) {
	signer := newTestSigner(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"expiresAt":"2026-03-02T00:00:00Z"}`))
	})

	_, err := signer.Exchange(context.Background())

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, ReasonRejected, authErr.Reason)
	assert.ErrorIs(t, err, errEmptyToken)
}

func TestSignerExchangeNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	signer := NewSigner(testCredential(), WithIAMEndpoint(endpoint), WithSignerClock(clock.Fake(signerNow)))
	_, err := signer.Exchange(context.Background())

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, ReasonNetwork, authErr.Reason)
}

func TestSignerExchangeInvalidKey(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	cred := testCredential()
	cred.PrivateKeyPEM = []byte("not a pem key")
	signer := NewSigner(cred, WithIAMEndpoint(srv.URL))

	_, err := signer.Exchange(context.Background())

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, ReasonInvalidKey, authErr.Reason)
	assert.False(t, called, "no request should be sent with unusable key material")
}

func TestCredentialValidate(t *testing.T) {
	require.NoError(t, testCredential().Validate())

	missing := testCredential()
	missing.KeyID = ""
	assert.Error(t, missing.Validate())

	badKey := testCredential()
	badKey.PrivateKeyPEM = []byte("garbage")
	var authErr *AuthError
	require.True(t, errors.As(badKey.Validate(), &authErr))
	assert.Equal(t, ReasonInvalidKey, authErr.Reason)
}

func TestCredentialStringRedactsKey(t *testing.T) {
	s := testCredential().String()
	assert.NotContains(t, s, "PRIVATE KEY")
	assert.Contains(t, s, "aje-service-account")
}
