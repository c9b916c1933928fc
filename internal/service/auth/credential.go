package auth

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Credential identifies the Yandex Cloud service account used to call the API.
// It is loaded once at startup and never mutated.
type Credential struct {
	ServiceAccountID string
	KeyID            string
	FolderID         string
	PrivateKeyPEM    []byte
}

// LoadCredential reads the PEM private key from keyPath. The file may be a bare PEM
// key or the key file produced by `yc iam key create`, which prefixes the PEM block
// with a comment line.
func LoadCredential(serviceAccountID, keyID, folderID, keyPath string) (Credential, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return Credential{}, fmt.Errorf("read private key %s: %w", keyPath, err)
	}

	return Credential{
		ServiceAccountID: strings.TrimSpace(serviceAccountID),
		KeyID:            strings.TrimSpace(keyID),
		FolderID:         strings.TrimSpace(folderID),
		PrivateKeyPEM:    data,
	}, nil
}

// Validate checks that every field is present and the key material parses.
func (c Credential) Validate() error {
	var missing []string
	if c.ServiceAccountID == "" {
		missing = append(missing, "service account id")
	}
	if c.KeyID == "" {
		missing = append(missing, "key id")
	}
	if c.FolderID == "" {
		missing = append(missing, "folder id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("credential missing %s", strings.Join(missing, ", "))
	}

	if _, err := jwt.ParseRSAPrivateKeyFromPEM(c.PrivateKeyPEM); err != nil {
		return &AuthError{Reason: ReasonInvalidKey, Err: err}
	}
	return nil
}

// String keeps key material out of fmt output.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{sa=%s key=%s folder=%s}", c.ServiceAccountID, c.KeyID, c.FolderID)
}

// LogValue keeps key material out of slog output.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("serviceAccountId", c.ServiceAccountID),
		slog.String("keyId", c.KeyID),
		slog.String("folderId", c.FolderID),
	)
}
