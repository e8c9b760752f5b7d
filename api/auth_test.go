package api

import (
	"testing"

	"synrelay/app"
	"synrelay/common/config"
)

func newTestServer(jwtSecret string, ttlMinutes int) *Server {
	a := &app.App{
		Cfg: &config.Config{
			Admin: config.AdminAuth{
				Username:       "admin",
				PasswordSHA256: hashPassword("correct horse"),
				JWTSecret:      jwtSecret,
				TokenTTL:       ttlMinutes,
			},
		},
	}
	return New(a)
}

func TestMakeTokenRoundTrips(t *testing.T) {
	s := newTestServer("secret", 60)
	tok, err := s.makeToken("admin")
	if err != nil {
		t.Fatalf("makeToken: %v", err)
	}
	claims, err := s.parseToken(tok)
	if err != nil {
		t.Fatalf("parseToken: %v", err)
	}
	if claims.Username != "admin" {
		t.Fatalf("expected username admin, got %q", claims.Username)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	s1 := newTestServer("secret-a", 60)
	s2 := newTestServer("secret-b", 60)
	tok, err := s1.makeToken("admin")
	if err != nil {
		t.Fatalf("makeToken: %v", err)
	}
	if _, err := s2.parseToken(tok); err == nil {
		t.Fatalf("expected parseToken to reject a token signed with a different secret")
	}
}

func TestHashPasswordIsDeterministicAndDistinct(t *testing.T) {
	if hashPassword("a") != hashPassword("a") {
		t.Fatalf("expected hashPassword to be deterministic")
	}
	if hashPassword("a") == hashPassword("b") {
		t.Fatalf("expected distinct inputs to hash differently")
	}
}
