package crypto

import (
	"strings"
	"testing"
)

const testMasterKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestNewEncryptionService(t *testing.T) {
	if _, err := NewEncryptionService(""); err == nil {
		t.Error("expected error for empty master key")
	}
	if _, err := NewEncryptionService("not-hex"); err == nil {
		t.Error("expected error for non-hex master key")
	}
	if _, err := NewEncryptionService("abcd"); err == nil {
		t.Error("expected error for short master key")
	}
	if _, err := NewEncryptionService(testMasterKey); err != nil {
		t.Errorf("valid master key rejected: %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc, err := NewEncryptionService(testMasterKey)
	if err != nil {
		t.Fatalf("NewEncryptionService: %v", err)
	}

	secret := "sk-live-abc123"
	ciphertext, err := svc.EncryptString("user-1", secret)
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if ciphertext == secret {
		t.Fatal("ciphertext equals plaintext")
	}
	if strings.Contains(ciphertext, secret) {
		t.Fatal("ciphertext leaks plaintext")
	}

	plaintext, err := svc.DecryptString("user-1", ciphertext)
	if err != nil {
		t.Fatalf("DecryptString: %v", err)
	}
	if plaintext != secret {
		t.Errorf("round trip = %q, want %q", plaintext, secret)
	}
}

func TestDecryptWithWrongUser(t *testing.T) {
	svc, err := NewEncryptionService(testMasterKey)
	if err != nil {
		t.Fatalf("NewEncryptionService: %v", err)
	}

	ciphertext, err := svc.EncryptString("user-1", "sk-live-abc123")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}

	// A different user derives a different key, so the GCM tag cannot verify.
	if _, err := svc.DecryptString("user-2", ciphertext); err == nil {
		t.Error("expected decryption failure with another user's key")
	}
}

func TestEncryptEmptyInput(t *testing.T) {
	svc, err := NewEncryptionService(testMasterKey)
	if err != nil {
		t.Fatalf("NewEncryptionService: %v", err)
	}

	ciphertext, err := svc.EncryptString("user-1", "")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if ciphertext != "" {
		t.Errorf("empty plaintext should produce empty ciphertext, got %q", ciphertext)
	}

	plaintext, err := svc.DecryptString("user-1", "")
	if err != nil {
		t.Fatalf("DecryptString: %v", err)
	}
	if plaintext != "" {
		t.Errorf("empty ciphertext should produce empty plaintext, got %q", plaintext)
	}
}

func TestEncryptionIsNondeterministic(t *testing.T) {
	svc, err := NewEncryptionService(testMasterKey)
	if err != nil {
		t.Fatalf("NewEncryptionService: %v", err)
	}

	a, _ := svc.EncryptString("user-1", "same secret")
	b, _ := svc.EncryptString("user-1", "same secret")
	if a == b {
		t.Error("two encryptions of the same plaintext should differ (random nonce)")
	}
}

func TestDecryptGarbage(t *testing.T) {
	svc, err := NewEncryptionService(testMasterKey)
	if err != nil {
		t.Fatalf("NewEncryptionService: %v", err)
	}

	if _, err := svc.DecryptString("user-1", "not base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := svc.DecryptString("user-1", "YWJj"); err == nil {
		t.Error("expected error for truncated ciphertext")
	}
}

func TestGenerateMasterKey(t *testing.T) {
	key, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey: %v", err)
	}
	if len(key) != 64 {
		t.Errorf("key length = %d, want 64 hex characters", len(key))
	}
	if _, err := NewEncryptionService(key); err != nil {
		t.Errorf("generated key rejected: %v", err)
	}
}
