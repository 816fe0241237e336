package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeKeypairFile(t *testing.T, key ed25519.PrivateKey) string {
	t.Helper()
	values := make([]int, len(key))
	for i, b := range key {
		values[i] = int(b)
	}
	raw, err := json.Marshal(values)
	if err != nil {
		t.Fatalf("marshal keypair: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keypair.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write keypair: %v", err)
	}
	return path
}

func TestLoadAndSign(t *testing.T) {
	pub, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	signer, err := Load(writeKeypairFile(t, key))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !signer.Available() {
		t.Fatal("signer must be available after load")
	}

	message := []byte("message bytes")
	sig, err := signer.Sign(message)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !ed25519.Verify(pub, message, sig) {
		t.Fatal("signature must verify against the loaded public key")
	}
	if signer.Address() == "" {
		t.Fatal("expected base58 address")
	}
}

func TestLoadRejectsCorruptKeypair(t *testing.T) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	// 篡改公钥部分，加载必须拒绝。
	key[ed25519.SeedSize] ^= 0xFF
	if _, err := Load(writeKeypairFile(t, key)); err == nil {
		t.Fatal("expected mismatched public key rejection")
	}
}

func TestLoadRejectsWrongLength(t *testing.T) {
	raw, _ := json.Marshal([]byte{1, 2, 3})
	path := filepath.Join(t.TempDir(), "short.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected short keypair rejection")
	}
}
