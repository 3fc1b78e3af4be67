package database

import (
	"strings"
	"testing"
)

func TestHashSecret(t *testing.T) {
	hash, err := HashSecret("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("HashSecret() error: %v", err)
	}

	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("hash should start with $argon2id$, got %q", hash)
	}

	// Hash should contain 6 dollar-sign-delimited parts.
	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		t.Errorf("hash should have 6 parts, got %d", len(parts))
	}
}

func TestVerifySecretCorrect(t *testing.T) {
	secret := "my-agent-api-secret"
	hash, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret() error: %v", err)
	}

	match, err := VerifySecret(secret, hash)
	if err != nil {
		t.Fatalf("VerifySecret() error: %v", err)
	}
	if !match {
		t.Error("VerifySecret() should return true for the correct secret")
	}
}

func TestVerifySecretWrong(t *testing.T) {
	hash, err := HashSecret("correct-secret")
	if err != nil {
		t.Fatalf("HashSecret() error: %v", err)
	}

	match, err := VerifySecret("wrong-secret", hash)
	if err != nil {
		t.Fatalf("VerifySecret() error: %v", err)
	}
	if match {
		t.Error("VerifySecret() should return false for a wrong secret")
	}
}

func TestHashSecretUniqueSalts(t *testing.T) {
	hash1, err := HashSecret("same-secret")
	if err != nil {
		t.Fatalf("HashSecret() first call error: %v", err)
	}

	hash2, err := HashSecret("same-secret")
	if err != nil {
		t.Fatalf("HashSecret() second call error: %v", err)
	}

	if hash1 == hash2 {
		t.Error("two hashes of the same secret should differ (unique salts)")
	}
}

func TestVerifySecretInvalidFormat(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{"empty string", ""},
		{"no delimiters", "notahash"},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA"},
		{"missing parts", "$argon2id$v=19$m=65536,t=3,p=4"},
		{"bad salt encoding", "$argon2id$v=19$m=65536,t=3,p=4$!!!$aGFzaA"},
		{"bad hash encoding", "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := VerifySecret("secret", tt.encoded); err == nil {
				t.Errorf("VerifySecret(%q) should return an error", tt.encoded)
			}
		})
	}
}
