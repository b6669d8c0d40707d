// Package wire defines the envelope exchanged by every transport and the
// command/result payloads carried inside it.
package wire

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"weldon/internal/crypto/hybrid"
	"weldon/pkg/errors"
)

// Envelope is the outer message. A nil EncryptionKey means the payload is
// plaintext JSON; otherwise both fields are base64 and the key is RSA wrapped.
type Envelope struct {
	EncryptionKey *string `json:"encryptionKey"`
	Payload       string  `json:"payload"`
}

// Encrypted reports whether the envelope carries a wrapped key.
func (e Envelope) Encrypted() bool {
	return e.EncryptionKey != nil
}

// Seal builds an envelope around payload. A nil recipient produces a
// plaintext envelope.
func Seal(payload []byte, recipient *rsa.PublicKey) (Envelope, error) {
	if recipient == nil {
		return Envelope{Payload: string(payload)}, nil
	}
	body, key, err := hybrid.Seal(recipient, payload)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, errors.EncryptionFailed, "encrypt payload: %v", err)
	}
	encodedKey := base64.StdEncoding.EncodeToString(key)
	return Envelope{
		EncryptionKey: &encodedKey,
		Payload:       base64.StdEncoding.EncodeToString(body),
	}, nil
}

// Open returns the plaintext payload and whether it was encrypted.
// An encrypted envelope requires keys; any decoding failure is a protocol error.
func Open(env Envelope, keys *hybrid.KeyPair) ([]byte, bool, error) {
	if env.EncryptionKey == nil {
		return []byte(env.Payload), false, nil
	}
	if keys == nil {
		return nil, true, errors.ProtocolError(nil, "encrypted payload but no private key available")
	}
	key, err := base64.StdEncoding.DecodeString(*env.EncryptionKey)
	if err != nil {
		return nil, true, errors.ProtocolError(err, "decode encryption key")
	}
	body, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		return nil, true, errors.ProtocolError(err, "decode payload")
	}
	plain, err := keys.Open(body, key)
	if err != nil {
		return nil, true, errors.Wrapf(err, errors.DecryptionFailed, "decrypt payload: %v", err)
	}
	return plain, true, nil
}

// DecodeEnvelope parses one JSON envelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.ProtocolError(err, "decode envelope")
	}
	return env, nil
}

// EncodeEnvelope serialises an envelope without a trailing newline.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}
