// Package hybrid implements RSA-OAEP wrapped AES-GCM envelopes.
// A fresh symmetric key is generated for every message.
package hybrid

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

const (
	// DefaultKeyBits is the RSA modulus size used when none is configured.
	DefaultKeyBits = 2048
	// MinKeyBits rejects keys too small to wrap a 32-byte key with OAEP-SHA256.
	MinKeyBits = 1024

	symmetricKeySize = 32
)

// KeyPair holds an RSA private key and serves its public half.
type KeyPair struct {
	private *rsa.PrivateKey
}

// GenerateKeyPair creates a new RSA key pair.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits == 0 {
		bits = DefaultKeyBits
	}
	if bits < MinKeyBits {
		return nil, fmt.Errorf("rsa key size %d below minimum %d", bits, MinKeyBits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return &KeyPair{private: key}, nil
}

// LoadOrGenerate reads a PKCS#8 PEM private key from path, or generates one
// and writes it there when the file does not exist. An empty path only generates.
func LoadOrGenerate(path string, bits int) (*KeyPair, error) {
	if path == "" {
		return GenerateKeyPair(bits)
	}
	data, err := os.ReadFile(path)
	if err == nil {
		return ParsePrivateKeyPEM(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	kp, err := GenerateKeyPair(bits)
	if err != nil {
		return nil, err
	}
	encoded, err := kp.PrivateKeyPEM()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	return kp, nil
}

// ParsePrivateKeyPEM accepts PKCS#8 or PKCS#1 encoded RSA keys.
func ParsePrivateKeyPEM(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &KeyPair{private: key}, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return &KeyPair{private: key}, nil
}

// PrivateKeyPEM encodes the private key as PKCS#8 PEM.
func (k *KeyPair) PrivateKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.private)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// PublicKey returns the public half of the pair.
func (k *KeyPair) PublicKey() *rsa.PublicKey {
	return &k.private.PublicKey
}

// PublicKeyPEM returns the PKIX PEM encoding of the public key.
func (k *KeyPair) PublicKeyPEM() string {
	encoded, err := EncodePublicKeyPEM(k.PublicKey())
	if err != nil {
		// MarshalPKIXPublicKey only fails on unsupported key types.
		panic(err)
	}
	return encoded
}

// EncodePublicKeyPEM encodes an RSA public key as PKIX PEM.
func EncodePublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePublicKeyPEM decodes a PKIX (or PKCS#1) PEM encoded RSA public key.
func ParsePublicKeyPEM(data string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if pub, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return pub, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return pub, nil
}

// Seal encrypts plaintext for the holder of pub. It returns the AES-GCM body
// (nonce prepended) and the RSA-OAEP wrapped symmetric key.
func Seal(pub *rsa.PublicKey, plaintext []byte) (body, wrappedKey []byte, err error) {
	if pub == nil {
		return nil, nil, fmt.Errorf("nil public key")
	}
	key := make([]byte, symmetricKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, fmt.Errorf("generate symmetric key: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	body = gcm.Seal(nonce, nonce, plaintext, nil)

	wrappedKey, err = rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("wrap symmetric key: %w", err)
	}
	return body, wrappedKey, nil
}

// Open reverses Seal using the private key.
func (k *KeyPair) Open(body, wrappedKey []byte) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), nil, k.private, wrappedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap symmetric key: %w", err)
	}
	if len(key) != symmetricKeySize {
		return nil, fmt.Errorf("unexpected symmetric key size %d", len(key))
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(body) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := body[:gcm.NonceSize()], body[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt body: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}
