package encryption_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/rcarvalho-pb/payment_orchestrator-go/internal/errors"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infrastructure/encryption"
)

var samples = [][]byte{
	[]byte("this is some test data, very sensitive stuff"),
	[]byte("12345674234"),
	[]byte("123"),
	[]byte("4565-3346-2124-5653"),
	[]byte("HDarfg$§fasHaha&$%§"),
	[]byte("Zürich – 東京 – ☃"),
	{0x00, 0xff, 0x10, 0x80},
}

type factory func(secret string) (encryption.Service, error)

func factories() map[string]factory {
	out := map[string]factory{
		"secretbox": func(secret string) (encryption.Service, error) {
			return encryption.NewSecretboxService(secret)
		},
	}
	for _, c := range encryption.SupportedCiphers() {
		for _, m := range encryption.SupportedModes() {
			c, m := c, m
			out[c+"/"+m] = func(secret string) (encryption.Service, error) {
				return encryption.NewAESService(secret, c, m)
			}
		}
	}
	return out
}

func TestNewAESService_ShouldDefaultToAES256CTR(t *testing.T) {
	s, err := encryption.NewAESService("foo", "", "")
	require.NoError(t, err)

	assert.Equal(t, "aes-256", s.Cipher())
	assert.Equal(t, "ctr", s.Mode())
}

func TestNewAESService_ShouldRejectUnsupportedMode(t *testing.T) {
	_, err := encryption.NewAESService("foo", "aes-256", "foomode")

	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfiguration))
	assert.Contains(t, err.Error(), `the mode "foomode" is not supported`)
}

func TestNewAESService_ShouldRejectUnsupportedCipher(t *testing.T) {
	_, err := encryption.NewAESService("foo", "foocipher", "")

	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfiguration))
	assert.Contains(t, err.Error(), `the cipher "foocipher" is not supported`)
}

func TestNew_ShouldValidateProviderAndSecret(t *testing.T) {
	_, err := encryption.New(encryption.Config{Provider: "rot13", Secret: "foo"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfiguration))

	_, err = encryption.New(encryption.Config{Provider: encryption.ProviderAES})
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfiguration))

	s, err := encryption.New(encryption.Config{Provider: encryption.ProviderSecretbox, Secret: "foo"})
	require.NoError(t, err)
	assert.IsType(t, &encryption.SecretboxService{}, s)
}

func TestKeyDerivation_ShouldSpreadEntropyBeyondASCII(t *testing.T) {
	for _, secret := range []string{"foo", "foo2", "correct horse battery staple", "s3cr3t!"} {
		aesSvc, err := encryption.NewAESService(secret, "aes-256", "ctr")
		require.NoError(t, err)
		box, err := encryption.NewSecretboxService(secret)
		require.NoError(t, err)

		for _, key := range [][]byte{aesSvc.Key(), box.Key()} {
			assert.NotEqual(t, []byte(secret), key)
			assert.True(t, hasNonASCII(key), "key for %q must not be ASCII", secret)
		}
	}
}

func hasNonASCII(b []byte) bool {
	for _, c := range b {
		if c > 0x7F {
			return true
		}
	}
	return false
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	for name, build := range factories() {
		t.Run(name, func(t *testing.T) {
			s, err := build("foo")
			require.NoError(t, err)

			for _, data := range append(samples, []byte{}) {
				ct, err := s.Encrypt(data)
				require.NoError(t, err)
				assert.NotEqual(t, data, ct)

				pt, err := s.Decrypt(ct)
				require.NoError(t, err)
				assert.Equal(t, data, pt)
			}
		})
	}
}

func TestEncrypt_ShouldNotBeDeterministic(t *testing.T) {
	for name, build := range factories() {
		t.Run(name, func(t *testing.T) {
			s, err := build("foo")
			require.NoError(t, err)

			a, err := s.Encrypt(samples[0])
			require.NoError(t, err)
			b, err := s.Encrypt(samples[0])
			require.NoError(t, err)

			assert.NotEqual(t, a, b)
		})
	}
}

func TestEncryptDecrypt_ShouldIsolateKeys(t *testing.T) {
	for name, build := range factories() {
		t.Run(name, func(t *testing.T) {
			s1, err := build("foo")
			require.NoError(t, err)
			s2, err := build("foo2")
			require.NoError(t, err)
			s3, err := build("foo")
			require.NoError(t, err)

			for _, data := range samples {
				ct1, err := s1.Encrypt(data)
				require.NoError(t, err)
				ct2, err := s2.Encrypt(data)
				require.NoError(t, err)

				assert.NotEqual(t, ct1, ct2)

				if pt, err := s2.Decrypt(ct1); err == nil {
					assert.NotEqual(t, data, pt)
				}
				if pt, err := s1.Decrypt(ct2); err == nil {
					assert.NotEqual(t, data, pt)
				}

				pt, err := s3.Decrypt(ct1)
				require.NoError(t, err)
				assert.Equal(t, data, pt)
			}
		})
	}
}

func TestDecrypt_ShouldRejectTruncatedInput(t *testing.T) {
	for name, build := range factories() {
		t.Run(name, func(t *testing.T) {
			s, err := build("foo")
			require.NoError(t, err)

			_, err = s.Decrypt([]byte{1, 2, 3})
			assert.Error(t, err)
		})
	}
}
