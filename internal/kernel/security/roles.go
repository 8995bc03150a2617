package security

import (
	"regexp"
	"strings"
	"time"

	"github.com/concordkernel/appserver/internal/kernel/path"
)

// PermissionLevel orders the access grants a Permission rule can carry.
// Levels are not hierarchical for matching purposes (a "write" rule does
// not imply "read"): a rule covers a request only when its level equals
// the requested level exactly, or is PermAll.
type PermissionLevel int

const (
	PermNone PermissionLevel = iota
	PermRead
	PermSearch
	PermWrite
	PermAll
)

// ParsePermissionLevel maps the spec's permission vocabulary
// (none/read/search/write/all) onto a PermissionLevel, defaulting to
// PermRead for an unrecognized or empty string so an omitted "auth"
// field on a matcher still requires baseline authenticated access.
func ParsePermissionLevel(s string) PermissionLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return PermNone
	case "search":
		return PermSearch
	case "write":
		return PermWrite
	case "all":
		return PermAll
	default:
		return PermRead
	}
}

// String renders the level using the spec's vocabulary.
func (l PermissionLevel) String() string {
	switch l {
	case PermNone:
		return "none"
	case PermSearch:
		return "search"
	case PermWrite:
		return "write"
	case PermAll:
		return "all"
	default:
		return "read"
	}
}

// Permission is one path-matching access rule inside a Role: it grants
// (or, at PermNone, explicitly denies) Level access to any path matching
// Match (or Regex, when set — the two are mutually exclusive), optionally
// routed only when reached through a specific procedure (Via), mirroring
// the "via" chaining rule that lets a role grant access to a restricted
// object only when called through an already-authorized front-door
// procedure.
type Permission struct {
	Match path.Path
	Regex *regexp.Regexp
	Via   string
	Level PermissionLevel
}

// matches reports whether p's path/regex and via predicates hold for a
// request at requested, arriving (optionally) via the named procedure.
func (p Permission) matches(requested path.Path, via string) bool {
	if p.Regex != nil {
		if !p.Regex.MatchString(requested.String()) {
			return false
		}
	} else if !p.Match.HasPrefix(requested) {
		return false
	}
	if p.Via == "" {
		return true
	}
	return strings.EqualFold(p.Via, via)
}

// covers reports whether p's level satisfies a request for required
// access: an exact level match, or PermAll.
func (p Permission) covers(required PermissionLevel) bool {
	return p.Level == required || p.Level == PermAll
}

// Role is a named bundle of path permissions. The two reserved classes
// "auto=all" and "auto=auth" are computed once per environment reset
// rather than stored: "auto=all" matches everything including anonymous
// requests, "auto=auth" matches everything for any authenticated user.
type Role struct {
	ID          string
	Permissions []Permission
}

const (
	AutoAll  = "auto=all"
	AutoAuth = "auto=auth"
)

// User is an authenticated principal: a stable id plus the roles it has
// been assigned (by id, resolved against a RoleSet at access-check
// time). AuthorizedTime is a monotonically non-decreasing watermark —
// bumped whenever the user's credentials or grants change — that
// invalidates any bearer/JWT token whose own expiry is before the new
// watermark.
type User struct {
	ID             string
	PasswordHash   string
	Roles          []string
	Enabled        bool
	AuthorizedTime time.Time
}

// RoleSet resolves role ids to Role definitions for access checks.
type RoleSet struct {
	roles map[string]*Role
}

// NewRoleSet builds a RoleSet from a slice of roles.
func NewRoleSet(roles []*Role) *RoleSet {
	rs := &RoleSet{roles: make(map[string]*Role, len(roles))}
	for _, r := range roles {
		rs.roles[r.ID] = r
	}
	return rs
}

// HasAccess reports whether a user holding roleIDs may reach requested
// at the required permission level, optionally while inside a call to
// viaProcedure (empty string if the request is not nested inside a
// procedure call). anonymous is true when there is no authenticated user
// at all.
//
// Each candidate role's access[] is scanned top-to-bottom: the first
// rule matching (path, via) decides that role's verdict — PermNone
// denies outright, any other covering level allows — and scanning stops
// there. auto=all is tried first (it grants to anonymous callers too),
// then auto=auth for authenticated callers, then each of roleIDs in
// order; the first role whose scan reaches a verdict at all wins. A role
// with no matching rule defers to the next role; an empty Permissions
// list always grants (the auto=* classes scoped to the whole tree).
func (rs *RoleSet) HasAccess(roleIDs []string, anonymous bool, requested path.Path, required PermissionLevel, viaProcedure string) bool {
	if role, ok := rs.roles[AutoAll]; ok {
		if allow, matched := roleVerdict(role, requested, required, viaProcedure); matched {
			return allow
		}
	}
	if !anonymous {
		if role, ok := rs.roles[AutoAuth]; ok {
			if allow, matched := roleVerdict(role, requested, required, viaProcedure); matched {
				return allow
			}
		}
	}
	if anonymous {
		return false
	}
	for _, id := range roleIDs {
		role, ok := rs.roles[id]
		if !ok {
			continue
		}
		if allow, matched := roleVerdict(role, requested, required, viaProcedure); matched {
			return allow
		}
	}
	return false
}

// roleVerdict scans role's permissions top-to-bottom for the first rule
// matching (requested, via); matched is false if no rule in role's list
// matches at all (an empty Permissions list counts as an unconditional
// match, granting access).
func roleVerdict(role *Role, requested path.Path, required PermissionLevel, via string) (allow, matched bool) {
	if len(role.Permissions) == 0 {
		return true, true
	}
	for _, perm := range role.Permissions {
		if !perm.matches(requested, via) {
			continue
		}
		if perm.Level == PermNone {
			return false, true
		}
		return perm.covers(required), true
	}
	return false, false
}
