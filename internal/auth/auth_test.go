package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestLoadCredentials_JWT(t *testing.T) {
	exp := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	token := signedToken(t, jwt.RegisteredClaims{
		Subject:   "patron-42",
		ExpiresAt: jwt.NewNumericDate(exp),
	})

	creds, err := LoadCredentials(token, "")
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}

	if creds.Subject != "patron-42" {
		t.Errorf("Subject = %q, want %q", creds.Subject, "patron-42")
	}
	if !creds.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", creds.ExpiresAt, exp)
	}
	if creds.Expired(exp.Add(-time.Minute)) {
		t.Error("expected token to be valid before expiry")
	}
	if !creds.Expired(exp) {
		t.Error("expected token to be expired at expiry")
	}
}

func TestLoadCredentials_ExpiredTokenStillLoads(t *testing.T) {
	token := signedToken(t, jwt.RegisteredClaims{
		Subject:   "patron-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})

	creds, err := LoadCredentials(token, "")
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}
	if !creds.Expired(time.Now()) {
		t.Error("expected Expired to report true")
	}
}

func TestLoadCredentials_Opaque(t *testing.T) {
	creds, err := LoadCredentials("  opaque-session-token\n", "")
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}

	if creds.AccessToken != "opaque-session-token" {
		t.Errorf("AccessToken = %q, want trimmed token", creds.AccessToken)
	}
	if creds.Subject != "" {
		t.Errorf("Subject = %q, want empty", creds.Subject)
	}
	if creds.Expired(time.Now()) {
		t.Error("opaque token should never report expired")
	}
}

func TestLoadCredentials_FromFile(t *testing.T) {
	token := signedToken(t, jwt.RegisteredClaims{Subject: "patron-7"})
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		t.Fatalf("write token: %v", err)
	}

	creds, err := LoadCredentials("", path)
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}
	if creds.Subject != "patron-7" {
		t.Errorf("Subject = %q, want %q", creds.Subject, "patron-7")
	}
}

func TestLoadCredentials_FileNotFound(t *testing.T) {
	_, err := LoadCredentials("", "/nonexistent/token")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadCredentials_Missing(t *testing.T) {
	_, err := LoadCredentials("", "")
	if !errors.Is(err, ErrNoToken) {
		t.Errorf("error = %v, want ErrNoToken", err)
	}
}

func TestLoadCredentials_MalformedJWT(t *testing.T) {
	_, err := LoadCredentials("not.a.jwt", "")
	if err == nil {
		t.Error("expected error for malformed JWT")
	}
}

func TestCredentials_Header(t *testing.T) {
	creds := &Credentials{AccessToken: "abc"}
	h := creds.Header()

	if got := h.Get("Authorization"); got != "Bearer abc" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer abc")
	}
}
