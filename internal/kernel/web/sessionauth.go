package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/concordkernel/appserver/internal/kernel/security"
)

// SessionStore is the narrow slice of session.Manager the default
// Authenticator drives, kept as an interface so this package does not
// import session directly.
type SessionStore interface {
	Get(ctx context.Context, id string, now time.Time) (SessionPrincipal, error)
	Create(ctx context.Context, id string, now time.Time) (SessionPrincipal, error)
}

// SessionPrincipal exposes the session fields Authenticate needs.
type SessionPrincipal interface {
	PrincipalID() string
	PrincipalRoles() []string
	IsAnonymous() bool
}

// SessionAuthenticator is the kernel's default Authenticator: it resolves
// the caller's session from the request's session cookie, transparently
// issuing a new anonymous session when no valid cookie is present. A
// session only carries roles once some login procedure has bound a user
// to it (outside this package's scope); until then the caller is
// anonymous and access is governed entirely by the RoleSet's "auto=all"
// class.
type SessionAuthenticator struct {
	Sessions   SessionStore
	CookieName string
}

// NewSessionAuthenticator returns a SessionAuthenticator reading/writing
// cookieName (SessionCookieName if empty).
func NewSessionAuthenticator(store SessionStore, cookieName string) *SessionAuthenticator {
	if cookieName == "" {
		cookieName = SessionCookieName
	}
	return &SessionAuthenticator{Sessions: store, CookieName: cookieName}
}

func (a *SessionAuthenticator) Authenticate(ctx context.Context, r *http.Request, now time.Time) (userID string, roles []string, anonymous bool, sessionToken string, err error) {
	if cookie, cErr := r.Cookie(a.CookieName); cErr == nil && cookie.Value != "" {
		if sess, sErr := a.Sessions.Get(ctx, cookie.Value, now); sErr == nil {
			return sess.PrincipalID(), sess.PrincipalRoles(), sess.IsAnonymous(), "", nil
		}
	}

	id := uuid.NewString()
	sess, err := a.Sessions.Create(ctx, id, now)
	if err != nil {
		return "", nil, true, "", errors.New("web: failed issuing session")
	}
	return sess.PrincipalID(), sess.PrincipalRoles(), sess.IsAnonymous(), id, nil
}
