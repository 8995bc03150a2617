// Package web implements the kernel's HTTP dispatch pipeline: a
// MatcherTable picks the procedure behind each request, a thin
// gorilla/mux catch-all owns the outer listener, and the Dispatcher in
// this file resolves authentication, checks path access, invokes the
// procedure, and renders the result.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/concordkernel/appserver/internal/kernel/path"
	"github.com/concordkernel/appserver/internal/kernel/procedure"
	"github.com/concordkernel/appserver/internal/kernel/security"
)

// SessionCookieName is the default cookie carrying the bearer session
// token between requests.
const SessionCookieName = "sid"

// Authenticator resolves a request's caller identity from its session
// cookie or Authorization header.
type Authenticator interface {
	// Authenticate returns the caller's user id, roles, and whether the
	// caller is anonymous, refreshing or issuing a session as needed.
	// It also returns the token that should be set on the response
	// cookie (unchanged if no new session was created).
	Authenticate(ctx context.Context, r *http.Request, now time.Time) (userID string, roles []string, anonymous bool, sessionToken string, err error)
}

// ProcedureInvoker is the narrow slice of procedure.Library the
// dispatcher needs, kept as an interface so this package does not
// import procedure's library implementation details.
type ProcedureInvoker interface {
	Invoke(cc *procedure.CallContext, chain procedure.Interceptor, id string, args map[string]any) (any, error)
}

// Dispatcher wires together matcher resolution, authentication, access
// control, and procedure invocation for every inbound request.
type Dispatcher struct {
	Matchers    *MatcherTable
	Auth        Authenticator
	Roles       *security.RoleSet
	Library     ProcedureInvoker
	Chain       procedure.Interceptor
	Logger      *slog.Logger
	MaxDepth    int
	RateLimiter *RateLimiter

	CookieName   string
	CookiePath   string
	CookieDomain string
	Realm        string
}

// NewDispatcher wires a Dispatcher with sane cookie defaults.
func NewDispatcher(matchers *MatcherTable, auth Authenticator, roles *security.RoleSet, lib ProcedureInvoker, chain procedure.Interceptor, maxDepth int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Matchers: matchers, Auth: auth, Roles: roles, Library: lib, Chain: chain,
		Logger: logger, MaxDepth: maxDepth, CookieName: SessionCookieName, CookiePath: "/",
	}
}

// ServeHTTP implements http.Handler, usable directly as the gorilla/mux
// catch-all.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	if r.Method == http.MethodOptions {
		d.handleOptions(w, r)
		return
	}

	method := r.Method
	if method == http.MethodHead {
		method = http.MethodGet
	}

	mreq := requestMatchInfo(r)
	mreq.Method = method

	matcher, ok, allowed := d.Matchers.Resolve(mreq)
	if !ok {
		if len(allowed) > 0 {
			w.Header().Set("Allow", strings.Join(allowed, ", "))
			writePlainStatus(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writePlainStatus(w, http.StatusNotFound, "no matching route")
		return
	}

	userID, roles, anonymous, token, err := d.Auth.Authenticate(r.Context(), r, now)
	if err != nil {
		if challenge, cErr := security.DigestChallenge(d.realm(), now); cErr == nil {
			w.Header().Set("WWW-Authenticate", challenge)
		}
		writePlainStatus(w, http.StatusUnauthorized, "authentication failed")
		return
	}
	if token != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     d.cookieName(),
			Value:    token,
			Path:     d.cookiePath(),
			Domain:   d.CookieDomain,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	if d.Roles != nil && !d.Roles.HasAccess(roles, anonymous, path.Parse(r.URL.Path), security.ParsePermissionLevel(matcher.Auth), "") {
		writePlainStatus(w, http.StatusForbidden, "access denied")
		return
	}

	if d.RateLimiter != nil && matcher.RateLimit > 0 {
		clientID := userID
		if clientID == "" {
			clientID = clientAddr(r)
		}
		if !d.RateLimiter.Allow(matcher.Path, clientID, matcher.RateLimit, matcher.RateBurst) {
			w.Header().Set("Retry-After", "60")
			writePlainStatus(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	cc := procedure.NewCallContext(r.Context(), userID, roles, anonymous, d.MaxDepth)

	args, err := requestArgs(r)
	if err != nil {
		writePlainStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := d.Library.Invoke(cc, d.Chain, matcher.ProcedureID, args)
	if err != nil {
		d.writeError(w, err)
		return
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		d.Logger.Error("failed encoding response", "error", err)
	}
}

// clientAddr extracts the caller's address for rate-limit keying when no
// authenticated user id is available, preferring a proxy-supplied header
// over the raw socket address.
func clientAddr(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.SplitN(ip, ",", 2)[0]
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

func (d *Dispatcher) cookieName() string {
	if d.CookieName == "" {
		return SessionCookieName
	}
	return d.CookieName
}

func (d *Dispatcher) cookiePath() string {
	if d.CookiePath == "" {
		return "/"
	}
	return d.CookiePath
}

func (d *Dispatcher) realm() string {
	if d.Realm == "" {
		return "kernel"
	}
	return d.Realm
}

func (d *Dispatcher) handleOptions(w http.ResponseWriter, r *http.Request) {
	mreq := requestMatchInfo(r)
	mreq.Method = http.MethodGet
	_, _, allowed := d.Matchers.Resolve(mreq)
	if len(allowed) == 0 {
		allowed = []string{"GET"}
	}
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	w.WriteHeader(http.StatusNoContent)
}

// requestMatchInfo derives the protocol/host/port/path facts a Matcher's
// predicates are tested against from the inbound request. Method is left
// zero; callers set it explicitly since HEAD requests are dispatched as
// GET.
func requestMatchInfo(r *http.Request) MatchRequest {
	protocol := "http"
	if r.TLS != nil {
		protocol = "https"
	}

	host := r.Host
	port := 0
	if h, p, err := net.SplitHostPort(r.Host); err == nil {
		host = h
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}

	return MatchRequest{Protocol: protocol, Host: host, Port: port, Path: r.URL.Path}
}

func (d *Dispatcher) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, procedure.ErrAccessDenied), errors.Is(err, security.ErrAccessDenied):
		writePlainStatus(w, http.StatusForbidden, err.Error())
	case errors.Is(err, procedure.ErrNotFound):
		writePlainStatus(w, http.StatusNotFound, err.Error())
	case errors.Is(err, procedure.ErrRecursionLimit):
		writePlainStatus(w, http.StatusInsufficientStorage, err.Error())
	default:
		d.Logger.Error("procedure invocation failed", "error", err)
		writePlainStatus(w, http.StatusInternalServerError, "internal error")
	}
}

// writePlainStatus renders a 4xx/5xx body as a plain-text status line,
// per the dispatcher's convention of reserving JSON bodies for
// successful procedure results.
func writePlainStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "%d %s: %s", status, http.StatusText(status), message)
}

// requestArgs builds the procedure argument map from the query string
// and, for bodies declaring a JSON content type, the parsed body,
// query parameters taking precedence on key collision.
func requestArgs(r *http.Request) (map[string]any, error) {
	args := make(map[string]any)

	if strings.Contains(r.Header.Get("Content-Type"), "application/json") && r.Body != nil {
		var body map[string]any
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		for k, v := range body {
			args[k] = v
		}
	}

	for k, values := range r.URL.Query() {
		if len(values) == 1 {
			args[k] = values[0]
		} else {
			anyValues := make([]any, len(values))
			for i, v := range values {
				anyValues[i] = v
			}
			args[k] = anyValues
		}
	}
	return args, nil
}
