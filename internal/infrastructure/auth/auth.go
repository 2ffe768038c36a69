package auth

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Verifier gates socket upgrades and control-plane requests.
type Verifier interface {
	Verify(token string) bool
}

// Static checks presented tokens against a bcrypt hash of the configured
// secret.
type Static struct {
	hash []byte
}

// NewStatic creates a verifier for the given shared token.
func NewStatic(token string) (*Static, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash access token: %w", err)
	}
	return &Static{hash: hash}, nil
}

// Verify reports whether the presented token matches.
func (s *Static) Verify(token string) bool {
	return bcrypt.CompareHashAndPassword(s.hash, []byte(token)) == nil
}

// AllowAll accepts every request. Used when no token is configured.
type AllowAll struct{}

// Verify always succeeds
func (AllowAll) Verify(string) bool {
	return true
}

// FromToken builds the verifier for the configured token. An empty token
// disables authentication.
func FromToken(token string) (Verifier, error) {
	if token == "" {
		return AllowAll{}, nil
	}
	return NewStatic(token)
}

// TokenFromRequest extracts the presented token: the bearer header
// first, then the token query parameter used by browser WebSocket
// clients, which cannot set headers.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok := strings.TrimPrefix(h, "Bearer "); tok != h {
			return tok
		}
	}
	return r.URL.Query().Get("token")
}
