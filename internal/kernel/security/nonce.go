package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NonceMaxAge is how long a nonce issued by NewNonce remains acceptable
// to VerifyNonce before being treated as stale.
const NonceMaxAge = 5 * time.Minute

// NewNonce returns a fresh nonce of the form "<epochMillis>:<random
// hex>", the decimal-timestamp-prefixed format used so a nonce's age
// can be checked without a server-side lookup table.
func NewNonce(now time.Time) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("security: generate nonce: %w", err)
	}
	return fmt.Sprintf("%d:%s", now.UnixMilli(), hex.EncodeToString(buf)), nil
}

// VerifyNonce parses a nonce produced by NewNonce and reports whether it
// is still within NonceMaxAge of now. It does not track nonce reuse —
// callers that must reject replay need a separate seen-set.
func VerifyNonce(nonce string, now time.Time) error {
	parts := strings.SplitN(nonce, ":", 2)
	if len(parts) != 2 {
		return ErrStaleNonce
	}
	millis, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrStaleNonce
	}
	issued := time.UnixMilli(millis)
	age := now.Sub(issued)
	if age < 0 || age > NonceMaxAge {
		return ErrStaleNonce
	}
	return nil
}

// DigestChallenge builds the value of a WWW-Authenticate response header
// for realm, carrying a freshly issued nonce a client can echo back on
// its next request's Authorization: Digest header.
func DigestChallenge(realm string, now time.Time) (string, error) {
	nonce, err := NewNonce(now)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`Digest realm=%q, nonce=%q, qop="auth"`, realm, nonce), nil
}
