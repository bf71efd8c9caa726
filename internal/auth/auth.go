// Package auth loads the bearer credentials presented on the chat upgrade request.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when neither an inline token nor a token file is configured.
var ErrNoToken = errors.New("access token is required")

// Credentials holds the access token and what could be read from it.
type Credentials struct {
	AccessToken string
	Subject     string    // JWT "sub" claim, empty for opaque tokens
	ExpiresAt   time.Time // JWT "exp" claim, zero when absent
}

// LoadCredentials loads an access token given inline or from a file. When the
// token is a JWT its registered claims are read without verifying the
// signature; the backend verifies it.
func LoadCredentials(token, tokenPath string) (*Credentials, error) {
	if token == "" && tokenPath != "" {
		data, err := os.ReadFile(tokenPath)
		if err != nil {
			return nil, fmt.Errorf("read token file: %w", err)
		}
		token = string(data)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNoToken
	}

	creds := &Credentials{AccessToken: token}

	// Opaque tokens have no claims to read.
	if strings.Count(token, ".") != 2 {
		return creds, nil
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parse token claims: %w", err)
	}
	creds.Subject = claims.Subject
	if claims.ExpiresAt != nil {
		creds.ExpiresAt = claims.ExpiresAt.Time
	}
	return creds, nil
}

// Expired reports whether the token carries an expiry at or before now.
func (c *Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Header returns the headers to send on the WebSocket upgrade request.
func (c *Credentials) Header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.AccessToken)
	return h
}
