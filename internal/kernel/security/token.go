package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CreateAuthToken builds a self-describing bearer token for u, valid
// until expiry: Base64(id ":" expiryMillis ":" H(id ":" expiry ":"
// passwordHash)). The embedded hash binds the token to the user's
// current password hash, so changing the password invalidates every
// token issued under the old one.
func CreateAuthToken(u *User, expiry time.Time) string {
	millis := expiry.UnixMilli()
	raw := fmt.Sprintf("%s:%d:%s", u.ID, millis, authTokenDigest(u.ID, millis, u.PasswordHash))
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeAuthToken splits a bearer token into its three logical parts
// without validating them: a missing part decodes as "", a non-numeric
// expiry decodes as 0. Malformed base64 decodes as all-empty parts.
func DecodeAuthToken(token string) (id string, expiryMillis int64, hash string) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", 0, ""
	}
	parts := strings.SplitN(string(raw), ":", 3)
	if len(parts) > 0 {
		id = parts[0]
	}
	if len(parts) > 1 {
		if n, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			expiryMillis = n
		}
	}
	if len(parts) > 2 {
		hash = parts[2]
	}
	return id, expiryMillis, hash
}

// ValidateAuthToken reports whether token was issued for u and remains
// usable: unexpired, its embedded hash matching u's current password
// hash (constant-time), u enabled, and u.AuthorizedTime no later than
// the token's expiry (so bumping AuthorizedTime — e.g. on password
// change — invalidates every token whose expiry is before the new
// watermark). A mutation of the id or hash fails with ErrTokenInvalid; a
// mutation of the expiry fails with ErrTokenExpired when the altered
// expiry is already past, and with ErrTokenInvalid otherwise.
func ValidateAuthToken(u *User, token string, now time.Time) error {
	id, expiryMillis, hash := DecodeAuthToken(token)
	if expiryMillis == 0 {
		return ErrTokenInvalid
	}
	expiry := time.UnixMilli(expiryMillis)
	if expiry.Before(now) {
		return ErrTokenExpired
	}
	want := authTokenDigest(id, expiryMillis, u.PasswordHash)
	if subtle.ConstantTimeCompare([]byte(want), []byte(hash)) != 1 {
		return ErrTokenInvalid
	}
	if !u.Enabled {
		return ErrTokenInvalid
	}
	if u.AuthorizedTime.After(expiry) {
		return ErrTokenExpired
	}
	return nil
}

func authTokenDigest(id string, expiryMillis int64, passwordHash string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", id, expiryMillis, passwordHash)))
	return hex.EncodeToString(sum[:])
}

// Claims is the JWT payload used for the stateless service-to-service
// variant of authentication (spec.md's alternative to cookie sessions
// for API clients that cannot hold a server-side session).
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// IssueJWT signs a token for subject/role, valid for ttl, using HS256
// with secret.
func IssueJWT(secret []byte, subject, role string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("security: sign jwt: %w", err)
	}
	return signed, nil
}

// VerifyJWT parses and validates a token issued by IssueJWT, returning
// its claims. Expired and malformed tokens return ErrTokenExpired /
// ErrTokenInvalid respectively.
func VerifyJWT(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// VerifyJWTForUser applies the bearer token's expiry/authorizedTime rule
// to the JWT variant: the signature and expiry check from VerifyJWT,
// plus u enabled and u.AuthorizedTime no later than the claims' expiry.
func VerifyJWTForUser(secret []byte, tokenString string, u *User, now time.Time) (*Claims, error) {
	claims, err := VerifyJWT(secret, tokenString)
	if err != nil {
		return nil, err
	}
	if !u.Enabled {
		return nil, ErrTokenInvalid
	}
	if claims.ExpiresAt != nil && u.AuthorizedTime.After(claims.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}
