package security

import (
	"encoding/base64"
	"regexp"
	"testing"
	"time"

	"github.com/concordkernel/appserver/internal/kernel/path"
)

func TestHashAndVerifyPasswordSHA256(t *testing.T) {
	hash := HashPassword(PrefixSHA256, "alice", "s3cret")
	if !VerifyPassword(hash, "alice", "s3cret") {
		t.Fatal("expected password to verify")
	}
	if VerifyPassword(hash, "alice", "wrong") {
		t.Fatal("expected wrong password to fail")
	}
}

func TestVerifyPasswordLegacyMD5(t *testing.T) {
	hash := HashPassword(PrefixMD5, "bob", "hunter2")
	if !VerifyPassword(hash, "bob", "hunter2") {
		t.Fatal("expected legacy MD5 hash to still verify")
	}
}

func TestVerifyPasswordUnknownPrefix(t *testing.T) {
	if VerifyPassword("garbage", "bob", "hunter2") {
		t.Fatal("expected unrecognized prefix to fail")
	}
}

func TestNonceFreshAndStale(t *testing.T) {
	now := time.Now()
	nonce, err := NewNonce(now)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyNonce(nonce, now.Add(time.Second)); err != nil {
		t.Fatalf("expected fresh nonce to verify: %v", err)
	}
	if err := VerifyNonce(nonce, now.Add(NonceMaxAge+time.Minute)); err != ErrStaleNonce {
		t.Fatalf("expected stale nonce to be rejected, got %v", err)
	}
}

func TestNonceMalformed(t *testing.T) {
	if err := VerifyNonce("not-a-nonce", time.Now()); err != ErrStaleNonce {
		t.Fatalf("expected malformed nonce to be rejected, got %v", err)
	}
}

func TestJWTRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()
	token, err := IssueJWT(secret, "alice", "admin", time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := VerifyJWT(secret, token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "alice" || claims.Role != "admin" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestJWTExpired(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now().Add(-time.Hour)
	token, err := IssueJWT(secret, "alice", "admin", time.Minute, now)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := VerifyJWT(secret, token); err != ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

// TestAuthTokenRoundtrip exercises the bearer-token lifecycle scenario:
// create, decode into its three parts, validate successfully, then a
// single-bit mutation of the encoded token must fail validation.
func TestAuthTokenRoundtrip(t *testing.T) {
	now := time.Now()
	alice := &User{ID: "alice", PasswordHash: "SHA256deadbeef", Enabled: true, AuthorizedTime: now}

	expiry := now.Add(time.Hour)
	token := CreateAuthToken(alice, expiry)

	id, expiryMillis, hash := DecodeAuthToken(token)
	if id != "alice" {
		t.Fatalf("decoded id = %q, want alice", id)
	}
	if expiryMillis != expiry.UnixMilli() {
		t.Fatalf("decoded expiry = %d, want %d", expiryMillis, expiry.UnixMilli())
	}
	if hash == "" {
		t.Fatal("expected a non-empty decoded hash component")
	}

	if err := ValidateAuthToken(alice, token, now); err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0x01
	mutated := base64.StdEncoding.EncodeToString(raw)
	if err := ValidateAuthToken(alice, mutated, now); err == nil {
		t.Fatal("expected single-bit mutation of the token to fail validation")
	}
}

func TestAuthTokenRejectsExpired(t *testing.T) {
	now := time.Now()
	alice := &User{ID: "alice", PasswordHash: "h", Enabled: true, AuthorizedTime: now.Add(-time.Hour)}
	token := CreateAuthToken(alice, now.Add(-time.Minute))
	if err := ValidateAuthToken(alice, token, now); err != ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestAuthTokenRejectsDisabledUser(t *testing.T) {
	now := time.Now()
	alice := &User{ID: "alice", PasswordHash: "h", Enabled: false, AuthorizedTime: now}
	token := CreateAuthToken(alice, now.Add(time.Hour))
	if err := ValidateAuthToken(alice, token, now); err == nil {
		t.Fatal("expected disabled user's token to fail validation")
	}
}

// TestAuthTokenRejectsStaleAuthorization matches the spec's S4 scenario:
// after bumping a user's AuthorizedTime past a previously-issued token's
// expiry, validation must fail as expired even though the token itself
// has not expired by wall-clock time yet.
func TestAuthTokenRejectsStaleAuthorization(t *testing.T) {
	now := time.Now()
	alice := &User{ID: "alice", PasswordHash: "h", Enabled: true, AuthorizedTime: now}

	expiry := now.Add(time.Hour)
	token := CreateAuthToken(alice, expiry)
	if err := ValidateAuthToken(alice, token, now); err != nil {
		t.Fatalf("expected fresh token to validate, got %v", err)
	}

	alice.AuthorizedTime = now.Add(2 * time.Hour)
	if err := ValidateAuthToken(alice, token, now); err != ErrTokenExpired {
		t.Fatalf("expected stale-authorization token to fail as expired, got %v", err)
	}
}

func TestHasAccessRolePermission(t *testing.T) {
	rs := NewRoleSet([]*Role{
		{ID: "admin", Permissions: []Permission{{Match: path.Parse("/admin/"), Level: PermAll}}},
	})
	if !rs.HasAccess([]string{"admin"}, false, path.Parse("/admin/plugins"), PermRead, "") {
		t.Fatal("expected admin role to grant access under /admin/")
	}
	if rs.HasAccess([]string{"admin"}, false, path.Parse("/other"), PermRead, "") {
		t.Fatal("did not expect access outside granted subtree")
	}
}

func TestHasAccessAutoAuth(t *testing.T) {
	rs := NewRoleSet([]*Role{{ID: AutoAuth}})
	if !rs.HasAccess(nil, false, path.Parse("/anything"), PermRead, "") {
		t.Fatal("expected auto=auth to grant access to any authenticated user")
	}
	if rs.HasAccess(nil, true, path.Parse("/anything"), PermRead, "") {
		t.Fatal("did not expect auto=auth to grant access to anonymous requests")
	}
}

func TestHasAccessViaChaining(t *testing.T) {
	rs := NewRoleSet([]*Role{
		{ID: "restricted", Permissions: []Permission{{Match: path.Parse("/secret"), Via: "frontdoor", Level: PermAll}}},
	})
	if rs.HasAccess([]string{"restricted"}, false, path.Parse("/secret"), PermRead, "") {
		t.Fatal("did not expect direct access without the required via procedure")
	}
	if !rs.HasAccess([]string{"restricted"}, false, path.Parse("/secret"), PermRead, "frontdoor") {
		t.Fatal("expected access when routed via the required procedure")
	}
}

// TestHasAccessDeniesOnFirstNoneMatch covers Testable Property 2: a
// PermNone rule earlier in the list denies even though a later, broader
// rule in the same role would otherwise have covered the request.
func TestHasAccessDeniesOnFirstNoneMatch(t *testing.T) {
	rs := NewRoleSet([]*Role{
		{ID: "editor", Permissions: []Permission{
			{Match: path.Parse("/content/drafts"), Level: PermNone},
			{Match: path.Parse("/content"), Level: PermAll},
		}},
	})
	if rs.HasAccess([]string{"editor"}, false, path.Parse("/content/drafts"), PermRead, "") {
		t.Fatal("expected the earlier PermNone rule to deny despite a later covering rule")
	}
	if !rs.HasAccess([]string{"editor"}, false, path.Parse("/content/published"), PermRead, "") {
		t.Fatal("expected the broader rule to grant access outside the denied subtree")
	}
}

// TestHasAccessRequiresExactLevelOrAll covers the "exact match, or all"
// covering rule: a rule scoped to "write" does not cover a "read"
// request, only an identical level or an "all" rule does.
func TestHasAccessRequiresExactLevelOrAll(t *testing.T) {
	rs := NewRoleSet([]*Role{
		{ID: "writer", Permissions: []Permission{{Match: path.Parse("/docs"), Level: PermWrite}}},
	})
	if rs.HasAccess([]string{"writer"}, false, path.Parse("/docs/a"), PermRead, "") {
		t.Fatal("expected a write-only rule not to cover a read request")
	}
	if !rs.HasAccess([]string{"writer"}, false, path.Parse("/docs/a"), PermWrite, "") {
		t.Fatal("expected a write-only rule to cover a matching write request")
	}
}

func TestHasAccessRegexMatch(t *testing.T) {
	rs := NewRoleSet([]*Role{
		{ID: "reviewer", Permissions: []Permission{{Regex: regexp.MustCompile(`^/items/\d+$`), Level: PermRead}}},
	})
	if !rs.HasAccess([]string{"reviewer"}, false, path.Parse("/items/42"), PermRead, "") {
		t.Fatal("expected regex rule to match /items/42")
	}
	if rs.HasAccess([]string{"reviewer"}, false, path.Parse("/items/abc"), PermRead, "") {
		t.Fatal("did not expect regex rule to match /items/abc")
	}
}
