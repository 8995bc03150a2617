package security

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // legacy hash variant recognized for backward compatibility, see HashPassword
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashPrefix tags a stored password hash with the algorithm used to
// produce it, so older accounts created under the legacy MD5 scheme
// keep authenticating after the default moves to SHA-256.
type HashPrefix string

const (
	PrefixMD5    HashPrefix = "MD5"
	PrefixSHA256 HashPrefix = "SHA256"
)

// HashPassword digests username and password together with the given
// prefix algorithm and returns the stored representation
// "{prefix}hexdigest", matching the dual-recognition scheme described
// for account migration: existing MD5 hashes keep validating while
// newly set passwords are hashed with SHA-256.
func HashPassword(prefix HashPrefix, username, password string) string {
	sum := digest(prefix, username, password)
	return string(prefix) + hex.EncodeToString(sum)
}

func digest(prefix HashPrefix, username, password string) []byte {
	data := []byte(username + ":" + password)
	switch prefix {
	case PrefixMD5:
		sum := md5.Sum(data) //nolint:gosec
		return sum[:]
	default:
		sum := sha256.Sum256(data)
		return sum[:]
	}
}

// VerifyPassword checks password against a stored hash of the form
// "{prefix}hexdigest", recognizing both PrefixMD5 and PrefixSHA256
// regardless of which one is currently the default for new accounts.
// Comparison is constant-time to avoid leaking digest prefixes via
// timing.
func VerifyPassword(stored, username, password string) bool {
	var prefix HashPrefix
	var hexDigest string

	switch {
	case strings.HasPrefix(stored, string(PrefixSHA256)):
		prefix = PrefixSHA256
		hexDigest = strings.TrimPrefix(stored, string(PrefixSHA256))
	case strings.HasPrefix(stored, string(PrefixMD5)):
		prefix = PrefixMD5
		hexDigest = strings.TrimPrefix(stored, string(PrefixMD5))
	default:
		return false
	}

	want, err := hex.DecodeString(hexDigest)
	if err != nil {
		return false
	}
	got := digest(prefix, username, password)
	return hmac.Equal(want, got)
}
