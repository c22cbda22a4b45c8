// Package encryption provides reversible symmetric encryption of opaque
// payloads. Every Encrypt call draws a fresh random IV or nonce, so equal
// plaintexts never produce equal ciphertexts.
package encryption

import (
	"crypto/rand"
	"fmt"
	"io"

	apperrors "github.com/rcarvalho-pb/payment_orchestrator-go/internal/errors"
)

type Service interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

type Provider string

const (
	ProviderAES       Provider = "aes"
	ProviderSecretbox Provider = "secretbox"
)

// Config selects and parameterizes a provider. Cipher and Mode only apply
// to the aes provider; empty values pick the defaults.
type Config struct {
	Provider Provider
	Secret   string
	Cipher   string
	Mode     string
}

// New builds the configured provider. Unknown providers, ciphers or modes
// and an empty secret are configuration errors.
func New(cfg Config) (Service, error) {
	if cfg.Secret == "" {
		return nil, apperrors.Configuration("encryption secret must not be empty")
	}
	switch cfg.Provider {
	case ProviderAES, "":
		return NewAESService(cfg.Secret, cfg.Cipher, cfg.Mode)
	case ProviderSecretbox:
		return NewSecretboxService(cfg.Secret)
	}
	return nil, apperrors.Configuration("the encryption provider %q is not supported", cfg.Provider)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return b, nil
}
