// Package auth resolves the caller identity on billing requests. The
// product's session system lives in the web application; this service only
// consumes identities the fronting app forwards to it.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthenticated is returned when no valid caller identity is present.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the resolved caller.
type Identity struct {
	UserID string
	Email  string
}

// Authenticator resolves the identity behind an HTTP request.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// ProxyAuthenticator trusts identity headers set by the fronting web app,
// gated on a shared internal key so the service cannot be driven directly.
type ProxyAuthenticator struct {
	internalKey string
}

// NewProxyAuthenticator creates a ProxyAuthenticator.
func NewProxyAuthenticator(internalKey string) *ProxyAuthenticator {
	return &ProxyAuthenticator{internalKey: strings.TrimSpace(internalKey)}
}

// Authenticate checks the internal key and reads the forwarded identity.
func (a *ProxyAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	key := strings.TrimSpace(r.Header.Get("X-Internal-Key"))
	if a.internalKey == "" || key == "" ||
		subtle.ConstantTimeCompare([]byte(key), []byte(a.internalKey)) != 1 {
		return Identity{}, ErrUnauthenticated
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{
		UserID: userID,
		Email:  strings.ToLower(strings.TrimSpace(r.Header.Get("X-User-Email"))),
	}, nil
}
