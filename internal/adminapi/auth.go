package adminapi

import (
	"log/slog"

	"golang.org/x/crypto/bcrypt"
)

// tokenChecker holds the admin bearer token's bcrypt hash so the plaintext
// never lives in memory past startup. Authorization here is a single shared
// secret, not per-user login, so there is no rate limiter or session claims
// to manage — just a constant-time bearer-token compare.
type tokenChecker struct {
	hash []byte
}

func newTokenChecker(token string) *tokenChecker {
	if token == "" {
		return &tokenChecker{}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash admin token", "err", err)
		hash = []byte("$2a$10$INVALIDHASHXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX")
	}
	return &tokenChecker{hash: hash}
}

// check reports whether presented matches the configured admin token. An
// empty configured token means the admin API has no auth requirement
// (callers are expected to bind it to localhost in that case).
func (t *tokenChecker) check(presented string) bool {
	if len(t.hash) == 0 {
		return true
	}
	if presented == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(t.hash, []byte(presented)) == nil
}
