package security

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	token, errGen := GenerateToken("secret", 42, "alice", "alice@example.com", time.Hour)
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}

	claims, errParse := ParseToken("secret", token)
	if errParse != nil {
		t.Fatalf("parse: %v", errParse)
	}
	if claims.UserID != 42 || claims.Username != "alice" {
		t.Fatalf("claims = %+v", claims)
	}

	if _, errParse = ParseToken("wrong-secret", token); !errors.Is(errParse, ErrInvalidToken) {
		t.Fatalf("wrong secret error = %v, want ErrInvalidToken", errParse)
	}
}

func TestExpiredToken(t *testing.T) {
	token, errGen := GenerateToken("secret", 1, "bob", "", -time.Minute)
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	if _, errParse := ParseToken("secret", token); !errors.Is(errParse, ErrExpiredToken) {
		t.Fatalf("expired token error = %v, want ErrExpiredToken", errParse)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, errHash := HashPassword("hunter2")
	if errHash != nil {
		t.Fatalf("hash: %v", errHash)
	}
	if !CheckPassword(hash, "hunter2") {
		t.Fatalf("correct password rejected")
	}
	if CheckPassword(hash, "hunter3") {
		t.Fatalf("wrong password accepted")
	}
}
