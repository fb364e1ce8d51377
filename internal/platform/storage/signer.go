package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
)

// Signer signs V4 URL payloads on behalf of a service account.
type Signer interface {
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// ServiceAccountSigner signs bill download links with a service account RSA key held in memory.
type ServiceAccountSigner struct {
	email string
	key   *rsa.PrivateKey
}

var _ Signer = (*ServiceAccountSigner)(nil)

// NewServiceAccountSigner accepts the value Storage.SignerKey resolves to: either a PEM private
// key or a full service account JSON key. The JSON key's client_email is used when email is
// blank.
func NewServiceAccountSigner(email, key string) (*ServiceAccountSigner, error) {
	pemKey, embedded, err := unpackSignerKey(key)
	if err != nil {
		return nil, err
	}
	if email = strings.TrimSpace(email); email == "" {
		email = embedded
	}
	if email == "" {
		return nil, errors.New("storage: signer email is required")
	}
	rsaKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("storage: parse signer key: %w", err)
	}
	return &ServiceAccountSigner{email: email, key: rsaKey}, nil
}

// serviceAccountKey holds the fields of a downloaded service account JSON key the signer needs.
type serviceAccountKey struct {
	Type        string `json:"type,omitempty"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// unpackSignerKey returns the PEM block and any embedded client email. Secret Manager values
// pasted from env files often carry literal \n sequences.
func unpackSignerKey(raw string) (pemKey, email string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", errors.New("storage: signer key is empty")
	}
	if strings.HasPrefix(raw, "{") {
		var sa serviceAccountKey
		if err := json.Unmarshal([]byte(raw), &sa); err != nil {
			return "", "", fmt.Errorf("storage: decode service account json: %w", err)
		}
		if sa.Type != "" && sa.Type != "service_account" {
			return "", "", fmt.Errorf("storage: signer key is a %s credential, not a service account", sa.Type)
		}
		raw, email = strings.TrimSpace(sa.PrivateKey), strings.TrimSpace(sa.ClientEmail)
	}
	return strings.ReplaceAll(raw, `\n`, "\n"), email, nil
}

func (s *ServiceAccountSigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

// SignBytes produces the RSA-SHA256 PKCS#1 v1.5 signature GCS expects for V4 URLs.
func (s *ServiceAccountSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("storage: signer not initialised")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign payload: %w", err)
	}
	return sig, nil
}
