package crypto

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("HashPassword() unexpected error: %v", err)
	}

	if hash == "" {
		t.Fatal("HashPassword() returned empty string")
	}
	if hash == "correct-horse-battery-staple" {
		t.Fatal("HashPassword() returned the plaintext password")
	}

	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		t.Fatalf("HashPassword() expected 6 parts, got %d: %q", len(parts), hash)
	}
	if parts[1] != "argon2id" {
		t.Errorf("HashPassword() algorithm = %q, want %q", parts[1], "argon2id")
	}
	if parts[2] != "v=19" {
		t.Errorf("HashPassword() version = %q, want %q", parts[2], "v=19")
	}
	if parts[3] != "m=65536,t=3,p=2" {
		t.Errorf("HashPassword() params = %q, want %q", parts[3], "m=65536,t=3,p=2")
	}
}

func TestVerifyPasswordCorrect(t *testing.T) {
	password := "my-secure-password"
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() unexpected error: %v", err)
	}

	match, err := VerifyPassword(password, hash)
	if err != nil {
		t.Fatalf("VerifyPassword() unexpected error: %v", err)
	}
	if !match {
		t.Error("VerifyPassword() returned false for correct password")
	}
}

func TestVerifyPasswordWrong(t *testing.T) {
	hash, err := HashPassword("correct-password")
	if err != nil {
		t.Fatalf("HashPassword() unexpected error: %v", err)
	}

	match, err := VerifyPassword("wrong-password", hash)
	if err != nil {
		t.Fatalf("VerifyPassword() unexpected error: %v", err)
	}
	if match {
		t.Error("VerifyPassword() returned true for wrong password")
	}
}

func TestHashPasswordProducesDifferentHashes(t *testing.T) {
	password := "same-password"

	hash1, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() unexpected error: %v", err)
	}

	hash2, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() unexpected error: %v", err)
	}

	if hash1 == hash2 {
		t.Error("HashPassword() produced identical hashes for same password (salt should differ)")
	}
}

func TestVerifyPasswordInvalidHash(t *testing.T) {
	_, err := VerifyPassword("password", "invalid-hash-format")
	if err == nil {
		t.Error("VerifyPassword() expected error for invalid hash format")
	}
}

func TestVerifyPasswordRejectsBadParams(t *testing.T) {
	const salt = "c29tZXNhbHRzb21lc2FsdA"
	const key = "aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g"

	tests := []struct {
		name string
		hash string
	}{
		{"zero parallelism", "$argon2id$v=19$m=65536,t=3,p=0$" + salt + "$" + key},
		{"zero iterations", "$argon2id$v=19$m=65536,t=0,p=2$" + salt + "$" + key},
		{"zero memory", "$argon2id$v=19$m=0,t=3,p=2$" + salt + "$" + key},
		{"huge memory", "$argon2id$v=19$m=4294967295,t=3,p=2$" + salt + "$" + key},
		{"empty salt", "$argon2id$v=19$m=65536,t=3,p=2$$" + key},
		{"empty key", "$argon2id$v=19$m=65536,t=3,p=2$" + salt + "$"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := VerifyPassword("password", tt.hash)
			if !errors.Is(err, ErrInvalidHashFormat) {
				t.Fatalf("VerifyPassword() error = %v, want ErrInvalidHashFormat", err)
			}
			if match {
				t.Error("VerifyPassword() matched a malformed hash")
			}
		})
	}
}

func TestVerifyPasswordLegacyBcrypt(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("pw1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() unexpected error: %v", err)
	}

	match, err := VerifyPassword("pw1", string(legacy))
	if err != nil {
		t.Fatalf("VerifyPassword() unexpected error: %v", err)
	}
	if !match {
		t.Error("VerifyPassword() returned false for correct legacy password")
	}

	match, err = VerifyPassword("pw2", string(legacy))
	if err != nil {
		t.Fatalf("VerifyPassword() unexpected error: %v", err)
	}
	if match {
		t.Error("VerifyPassword() returned true for wrong legacy password")
	}
}

func TestNeedsRehash(t *testing.T) {
	current, err := HashPassword("pw")
	if err != nil {
		t.Fatalf("HashPassword() unexpected error: %v", err)
	}
	if NeedsRehash(current) {
		t.Error("NeedsRehash() = true for a default-parameter hash")
	}

	weak, err := HashPasswordWithParams("pw", HashParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("HashPasswordWithParams() unexpected error: %v", err)
	}
	if !NeedsRehash(weak) {
		t.Error("NeedsRehash() = false for weaker parameters")
	}

	if !NeedsRehash("$2a$10$abcdefghijklmnopqrstuv") {
		t.Error("NeedsRehash() = false for a bcrypt hash")
	}
}
