package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-only-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestParseClaimsWithoutKey(t *testing.T) {
	exp := time.Date(2026, 1, 25, 10, 0, 0, 0, time.UTC)
	token := signToken(t, Claims{
		Email: "student@demo.local",
		Role:  "STUDENT",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	claims, err := ParseClaims(token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != "STUDENT" || claims.Email != "student@demo.local" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.Expiry().Equal(exp) {
		t.Fatalf("expected exp %s, got %s", exp, claims.Expiry())
	}
	if claims.Expired(exp.Add(-time.Second)) {
		t.Fatalf("expected token valid before exp")
	}
	if !claims.Expired(exp) {
		t.Fatalf("expected token expired at exp")
	}
}

func TestParseClaimsNoExpiry(t *testing.T) {
	claims, err := ParseClaims(signToken(t, Claims{UserID: "user-2"}))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.Expired(time.Now().Add(100 * 365 * 24 * time.Hour)) {
		t.Fatalf("expected token without exp to never expire")
	}
}

func TestParseClaimsRejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "not-a-jwt", "a.b"} {
		if _, err := ParseClaims(token); err == nil {
			t.Fatalf("expected error for %q", token)
		}
	}
}
