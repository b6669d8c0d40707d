package hybrid

import (
	"bytes"
	"path/filepath"
	"testing"
)

func newTestPair(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair(MinKeyBits)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return kp
}

func TestSealOpenRoundTrip(t *testing.T) {
	kp := newTestPair(t)
	payloads := [][]byte{
		[]byte(""),
		[]byte(`["describeApi",["tok"],{}]`),
		bytes.Repeat([]byte("x"), 64*1024),
	}
	for _, p := range payloads {
		body, key, err := Seal(kp.PublicKey(), p)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		got, err := kp.Open(body, key)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if !bytes.Equal(got, p) {
			t.Fatalf("round trip mismatch for %d bytes", len(p))
		}
	}
}

func TestSealUsesFreshKeys(t *testing.T) {
	kp := newTestPair(t)
	b1, k1, _ := Seal(kp.PublicKey(), []byte("same"))
	b2, k2, _ := Seal(kp.PublicKey(), []byte("same"))
	if bytes.Equal(b1, b2) || bytes.Equal(k1, k2) {
		t.Fatalf("expected distinct ciphertexts for repeated plaintext")
	}
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	sender := newTestPair(t)
	other := newTestPair(t)
	body, key, err := Seal(sender.PublicKey(), []byte("secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := other.Open(body, key); err == nil {
		t.Fatalf("expected failure with wrong private key")
	}
}

func TestOpenDetectsTampering(t *testing.T) {
	kp := newTestPair(t)
	body, key, _ := Seal(kp.PublicKey(), []byte("secret"))
	body[len(body)-1] ^= 0xff
	if _, err := kp.Open(body, key); err == nil {
		t.Fatalf("expected failure on tampered body")
	}
	if _, err := kp.Open([]byte("short"), key); err == nil {
		t.Fatalf("expected failure on short body")
	}
}

func TestPublicKeyPEMRoundTrip(t *testing.T) {
	kp := newTestPair(t)
	pub, err := ParsePublicKeyPEM(kp.PublicKeyPEM())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pub.N.Cmp(kp.PublicKey().N) != 0 {
		t.Fatalf("modulus mismatch")
	}
	if _, err := ParsePublicKeyPEM("not a key"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadOrGeneratePersistsKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pem")
	first, err := LoadOrGenerate(path, MinKeyBits)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := LoadOrGenerate(path, MinKeyBits)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if first.PublicKeyPEM() != second.PublicKeyPEM() {
		t.Fatalf("expected the persisted key to be reused")
	}
}

func TestGenerateRejectsSmallKeys(t *testing.T) {
	if _, err := GenerateKeyPair(512); err == nil {
		t.Fatalf("expected error for small key")
	}
}
