package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"slices"

	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/rcarvalho-pb/payment_orchestrator-go/internal/errors"
)

const (
	DefaultCipher = "aes-256"
	DefaultMode   = "ctr"

	pbkdf2Iterations = 10000
)

var (
	keySizes = map[string]int{
		"aes-128": 16,
		"aes-192": 24,
		"aes-256": 32,
	}
	modes = []string{"cbc", "ctr", "gcm"}

	// kdfSalt is fixed so that services built from the same secret can read
	// each other's ciphertexts.
	kdfSalt = []byte("payment-orchestrator/extended-data/v1")

	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrInvalidPadding     = errors.New("invalid padding")
)

// SupportedCiphers lists the accepted cipher names.
func SupportedCiphers() []string {
	return []string{"aes-128", "aes-192", "aes-256"}
}

func SupportedModes() []string {
	return slices.Clone(modes)
}

type AESService struct {
	cipherName string
	mode       string
	key        []byte
	block      cipher.Block
}

func NewAESService(secret, cipherName, mode string) (*AESService, error) {
	if cipherName == "" {
		cipherName = DefaultCipher
	}
	if mode == "" {
		mode = DefaultMode
	}

	size, ok := keySizes[cipherName]
	if !ok {
		return nil, apperrors.Configuration("the cipher %q is not supported", cipherName)
	}
	if !slices.Contains(modes, mode) {
		return nil, apperrors.Configuration("the mode %q is not supported", mode)
	}

	key := pbkdf2.Key([]byte(secret), kdfSalt, pbkdf2Iterations, size, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfiguration, err, "init %s", cipherName)
	}

	return &AESService{
		cipherName: cipherName,
		mode:       mode,
		key:        key,
		block:      block,
	}, nil
}

func (s *AESService) Cipher() string { return s.cipherName }

func (s *AESService) Mode() string { return s.mode }

// Key returns a copy of the derived key.
func (s *AESService) Key() []byte { return slices.Clone(s.key) }

func (s *AESService) Encrypt(plaintext []byte) ([]byte, error) {
	switch s.mode {
	case "cbc":
		iv, err := randomBytes(aes.BlockSize)
		if err != nil {
			return nil, err
		}
		padded := pkcs7Pad(plaintext, aes.BlockSize)
		out := make([]byte, len(iv)+len(padded))
		copy(out, iv)
		cipher.NewCBCEncrypter(s.block, iv).CryptBlocks(out[len(iv):], padded)
		return out, nil

	case "ctr":
		iv, err := randomBytes(aes.BlockSize)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(iv)+len(plaintext))
		copy(out, iv)
		cipher.NewCTR(s.block, iv).XORKeyStream(out[len(iv):], plaintext)
		return out, nil

	default:
		gcm, err := cipher.NewGCM(s.block)
		if err != nil {
			return nil, err
		}
		nonce, err := randomBytes(gcm.NonceSize())
		if err != nil {
			return nil, err
		}
		return gcm.Seal(nonce, nonce, plaintext, nil), nil
	}
}

func (s *AESService) Decrypt(ciphertext []byte) ([]byte, error) {
	switch s.mode {
	case "cbc":
		if len(ciphertext) < 2*aes.BlockSize || len(ciphertext)%aes.BlockSize != 0 {
			return nil, ErrCiphertextTooShort
		}
		iv, body := ciphertext[:aes.BlockSize], ciphertext[aes.BlockSize:]
		out := make([]byte, len(body))
		cipher.NewCBCDecrypter(s.block, iv).CryptBlocks(out, body)
		return pkcs7Unpad(out, aes.BlockSize)

	case "ctr":
		if len(ciphertext) < aes.BlockSize {
			return nil, ErrCiphertextTooShort
		}
		iv, body := ciphertext[:aes.BlockSize], ciphertext[aes.BlockSize:]
		out := make([]byte, len(body))
		cipher.NewCTR(s.block, iv).XORKeyStream(out, body)
		return out, nil

	default:
		gcm, err := cipher.NewGCM(s.block)
		if err != nil {
			return nil, err
		}
		if len(ciphertext) < gcm.NonceSize() {
			return nil, ErrCiphertextTooShort
		}
		nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
		out, err := gcm.Open(nil, nonce, body, nil)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = []byte{}
		}
		return out, nil
	}
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(slices.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrInvalidPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, ErrInvalidPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrInvalidPadding
		}
	}
	return b[:len(b)-n], nil
}
