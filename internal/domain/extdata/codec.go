package extdata

import (
	"encoding/json"
	"fmt"
)

// Encryptor protects the serialized blob at rest.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Codec turns a Data store into the single blob persisted with its
// instruction. A Codec without an Encryptor writes plain JSON.
type Codec struct {
	encryptor Encryptor
}

func NewCodec(encryptor Encryptor) *Codec {
	return &Codec{encryptor: encryptor}
}

func (c *Codec) Encrypted() bool {
	return c.encryptor != nil
}

func (c *Codec) Encode(d *Data) ([]byte, error) {
	if d == nil {
		d = New()
	}
	blob, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("serialize extended data: %w", err)
	}
	if c.encryptor == nil {
		return blob, nil
	}
	out, err := c.encryptor.Encrypt(blob)
	if err != nil {
		return nil, fmt.Errorf("encrypt extended data: %w", err)
	}
	return out, nil
}

func (c *Codec) Decode(blob []byte) (*Data, error) {
	d := New()
	if len(blob) == 0 {
		return d, nil
	}
	if c.encryptor != nil {
		plain, err := c.encryptor.Decrypt(blob)
		if err != nil {
			return nil, fmt.Errorf("decrypt extended data: %w", err)
		}
		blob = plain
	}
	if err := json.Unmarshal(blob, d); err != nil {
		return nil, err
	}
	return d, nil
}
