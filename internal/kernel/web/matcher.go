package web

import (
	"sort"
	"strings"
)

// Matcher is one routable endpoint. Method, Protocol, Host, and Port are
// optional predicates ("" / 0 matches any); Path is required. Auth
// carries the permission level (per security.ParsePermissionLevel) the
// caller must hold on Path to reach this route; Prio breaks ties between
// otherwise equally-specific matchers in favor of deployment-declared
// priority rather than registration order alone.
type Matcher struct {
	Method   string
	Protocol string
	Host     string
	Port     int
	Path     string
	Auth     string
	Prio     int

	ProcedureID string
	RateLimit   int // requests per minute per client, 0 = unlimited
	RateBurst   int // token bucket burst capacity, ignored when RateLimit is 0
}

// MatchRequest carries the per-request facts a Matcher's predicates are
// tested against.
type MatchRequest struct {
	Method   string
	Protocol string
	Host     string
	Port     int
	Path     string
}

// score computes m's specificity against req, or 0 if m does not match
// at all:
//
//	score = (method?400:0) + (protocol?300:0) + (host?200:0)
//	      + (port>0?100:0) + 1 + len(path) + prio
//
// The request path must equal Path exactly, or begin with Path+"/", to
// earn the full score; a bare prefix match (Path itself lacking a
// trailing slash) earns score-1. Any predicate mismatch yields 0.
func (m Matcher) score(req MatchRequest) int {
	if m.Method != "" && !strings.EqualFold(m.Method, req.Method) {
		return 0
	}
	if m.Protocol != "" && !strings.EqualFold(m.Protocol, req.Protocol) {
		return 0
	}
	if m.Host != "" && !strings.EqualFold(m.Host, req.Host) {
		return 0
	}
	if m.Port > 0 && m.Port != req.Port {
		return 0
	}

	full := 1 + len(m.Path) + m.Prio
	if m.Method != "" {
		full += 400
	}
	if m.Protocol != "" {
		full += 300
	}
	if m.Host != "" {
		full += 200
	}
	if m.Port > 0 {
		full += 100
	}

	switch {
	case req.Path == m.Path:
		return full
	case strings.HasPrefix(req.Path, strings.TrimSuffix(m.Path, "/")+"/"):
		return full
	case strings.HasPrefix(req.Path, m.Path):
		return full - 1
	default:
		return 0
	}
}

// MatcherTable holds every registered route and resolves a request to
// the highest-scoring Matcher, breaking ties by registration order (the
// first-registered matcher wins, mirroring the plug-in load order
// determinism requirement).
type MatcherTable struct {
	matchers []Matcher
}

// NewMatcherTable returns an empty table.
func NewMatcherTable() *MatcherTable {
	return &MatcherTable{}
}

// Add registers m. Order of registration only matters for score ties.
func (t *MatcherTable) Add(m Matcher) {
	t.matchers = append(t.matchers, m)
}

// Resolve returns the best-scoring, non-zero-scoring Matcher for req. If
// no matcher scores above 0 but at least one matches every predicate
// except method, ok is false and allowed lists every method accepted by
// such a matcher, for a 405 response's Allow header.
func (t *MatcherTable) Resolve(req MatchRequest) (best Matcher, ok bool, allowed []string) {
	bestScore := 0
	methodSeen := make(map[string]bool)
	pathMatchedAnyMethod := false

	for _, m := range t.matchers {
		ignoringMethod := m
		ignoringMethod.Method = ""
		if ignoringMethod.score(req) > 0 {
			pathMatchedAnyMethod = true
			if m.Method != "" {
				methodSeen[strings.ToUpper(m.Method)] = true
			}
		}

		if s := m.score(req); s > bestScore {
			bestScore = s
			best = m
			ok = true
		}
	}

	if ok {
		return best, true, nil
	}
	if pathMatchedAnyMethod {
		for meth := range methodSeen {
			allowed = append(allowed, meth)
		}
		sort.Strings(allowed)
	}
	return Matcher{}, false, allowed
}
