package auth

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrUnauthorized = errors.New("unauthorized")

// AdminAuth guards the administrative endpoints (breaker reset, pricing
// overrides). A single shared key is stored as a bcrypt hash; there are
// no users or roles.
type AdminAuth struct {
	keyHash string
}

// NewAdminAuth takes the bcrypt hash of the admin key. An empty hash
// disables admin access entirely rather than allowing all requests.
func NewAdminAuth(keyHash string) *AdminAuth {
	return &AdminAuth{keyHash: keyHash}
}

func (a *AdminAuth) Verify(key string) error {
	if a.keyHash == "" || key == "" {
		return ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.keyHash), []byte(key)); err != nil {
		return ErrUnauthorized
	}
	return nil
}

// Middleware rejects requests lacking a valid bearer token or
// X-Admin-Key header.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Verify(keyFromRequest(r)); err != nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func keyFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if strings.HasPrefix(header, "Bearer ") {
			return strings.TrimPrefix(header, "Bearer ")
		}
	}
	return r.Header.Get("X-Admin-Key")
}

// HashKey generates a bcrypt hash for storing in configuration.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
