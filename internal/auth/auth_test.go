package auth

import (
	"testing"
	"time"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := SignJWT("01AGENT000000000000000000000", "Al", "secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := ParseJWT(token, "secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.AgentID != "01AGENT000000000000000000000" || claims.AgentName != "Al" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseJWT_RejectsWrongSecret(t *testing.T) {
	token, err := SignJWT("01AGENT000000000000000000000", "Al", "secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseJWT(token, "other-secret"); err == nil {
		t.Fatalf("token signed with another secret must not verify")
	}
}

func TestParseJWT_RejectsExpired(t *testing.T) {
	token, err := SignJWT("01AGENT000000000000000000000", "Al", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseJWT(token, "secret"); err == nil {
		t.Fatalf("expired token must not verify")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "hunter2hunter2") {
		t.Fatalf("correct password must verify")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatalf("wrong password must not verify")
	}
}
