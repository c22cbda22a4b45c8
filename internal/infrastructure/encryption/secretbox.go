package encryption

import (
	"crypto/sha256"
	"errors"
	"io"
	"slices"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

var ErrDecryptionFailed = errors.New("decryption failed")

// SecretboxService authenticates as well as encrypts: a ciphertext produced
// under another key fails to open instead of yielding garbage.
type SecretboxService struct {
	key [32]byte
}

func NewSecretboxService(secret string) (*SecretboxService, error) {
	s := &SecretboxService{}
	kdf := hkdf.New(sha256.New, []byte(secret), kdfSalt, []byte("secretbox"))
	if _, err := io.ReadFull(kdf, s.key[:]); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SecretboxService) Key() []byte { return slices.Clone(s.key[:]) }

func (s *SecretboxService) Encrypt(plaintext []byte) ([]byte, error) {
	raw, err := randomBytes(24)
	if err != nil {
		return nil, err
	}
	var nonce [24]byte
	copy(nonce[:], raw)
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

func (s *SecretboxService) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 24+secretbox.Overhead {
		return nil, ErrCiphertextTooShort
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	out, ok := secretbox.Open(nil, ciphertext[24:], &nonce, &s.key)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}
