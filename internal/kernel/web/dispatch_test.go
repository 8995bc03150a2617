package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/concordkernel/appserver/internal/kernel/path"
	"github.com/concordkernel/appserver/internal/kernel/procedure"
	"github.com/concordkernel/appserver/internal/kernel/security"
)

type fakeAuth struct {
	userID    string
	roles     []string
	anonymous bool
}

func (f fakeAuth) Authenticate(ctx context.Context, r *http.Request, now time.Time) (string, []string, bool, string, error) {
	return f.userID, f.roles, f.anonymous, "", nil
}

func newTestDispatcher(t *testing.T, auth Authenticator, roles *security.RoleSet) (*Dispatcher, *procedure.Library) {
	t.Helper()
	lib := procedure.NewLibrary()
	lib.Register(&procedure.Procedure{
		ID: "greet",
		Handler: func(cc *procedure.CallContext, args map[string]any) (any, error) {
			return map[string]any{"hello": args["name"]}, nil
		},
	})

	table := NewMatcherTable()
	table.Add(Matcher{Method: "GET", Path: "/greet", ProcedureID: "greet"})

	return NewDispatcher(table, auth, roles, lib, procedure.Chain(), 10, nil), lib
}

func TestDispatchSuccessfulProcedureCall(t *testing.T) {
	rs := security.NewRoleSet([]*security.Role{{ID: security.AutoAll}})
	d, _ := newTestDispatcher(t, fakeAuth{userID: "alice", anonymous: false}, rs)

	req := httptest.NewRequest(http.MethodGet, "/greet?name=world", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestDispatchNoMatchReturns404(t *testing.T) {
	rs := security.NewRoleSet([]*security.Role{{ID: security.AutoAll}})
	d, _ := newTestDispatcher(t, fakeAuth{anonymous: true}, rs)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDispatchMethodNotAllowedSetsAllowHeader(t *testing.T) {
	rs := security.NewRoleSet([]*security.Role{{ID: security.AutoAll}})
	d, _ := newTestDispatcher(t, fakeAuth{anonymous: true}, rs)

	req := httptest.NewRequest(http.MethodPost, "/greet", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Allow") != "GET" {
		t.Fatalf("Allow = %q", rec.Header().Get("Allow"))
	}
}

func TestDispatchDeniesWithoutAccess(t *testing.T) {
	rs := security.NewRoleSet([]*security.Role{
		{ID: "restricted", Permissions: []security.Permission{{Match: path.Parse("/other/")}}},
	})
	d, _ := newTestDispatcher(t, fakeAuth{userID: "bob", roles: []string{"restricted"}}, rs)

	req := httptest.NewRequest(http.MethodGet, "/greet", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestDispatchOptionsReturnsAllow(t *testing.T) {
	rs := security.NewRoleSet([]*security.Role{{ID: security.AutoAll}})
	d, _ := newTestDispatcher(t, fakeAuth{anonymous: true}, rs)

	req := httptest.NewRequest(http.MethodOptions, "/greet", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}
