package procedure

import (
	"context"
	"errors"
	"testing"

	"github.com/concordkernel/appserver/internal/kernel/path"
)

type fakeChecker struct{ allow bool }

func (f fakeChecker) HasAccess(anonymous bool, roles []string, requested path.Path, permission string, viaProcedure string) bool {
	return f.allow
}

func TestLibraryRegisterAndInvoke(t *testing.T) {
	lib := NewLibrary()
	lib.Register(&Procedure{
		ID: "echo",
		Handler: func(cc *CallContext, args map[string]any) (any, error) {
			return args["msg"], nil
		},
	})

	cc := NewCallContext(context.Background(), "alice", nil, false, 10)
	chain := Chain()
	result, err := lib.Invoke(cc, chain, "echo", map[string]any{"msg": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if result.(string) != "hi" {
		t.Fatalf("Invoke = %v", result)
	}
}

func TestLibraryAliasResolution(t *testing.T) {
	lib := NewLibrary()
	lib.Register(&Procedure{ID: "new.proc", Handler: func(cc *CallContext, args map[string]any) (any, error) {
		return "ok", nil
	}})
	lib.Alias("old.proc", "new.proc", true)

	proc, deprecated, err := lib.Lookup("old.proc")
	if err != nil {
		t.Fatal(err)
	}
	if proc.ID != "new.proc" || !deprecated {
		t.Fatalf("Lookup = %+v, deprecated=%v", proc, deprecated)
	}
}

func TestRecursionLimitEnforced(t *testing.T) {
	lib := NewLibrary()
	lib.Register(&Procedure{
		ID: "recurse",
		Handler: func(cc *CallContext, args map[string]any) (any, error) {
			return lib.Invoke(cc, Chain(), "recurse", nil)
		},
	})

	cc := NewCallContext(context.Background(), "alice", nil, false, 3)
	_, err := lib.Invoke(cc, Chain(), "recurse", nil)
	if err == nil {
		t.Fatal("expected recursion limit error")
	}
}

func TestReserveChannelDiscipline(t *testing.T) {
	cc := NewCallContext(context.Background(), "alice", nil, false, 10)
	if !cc.ReserveChannel("postgres") {
		t.Fatal("expected first reservation to succeed")
	}
	if cc.ReserveChannel("postgres") {
		t.Fatal("expected nested reservation of the same channel type to fail")
	}
	cc.ReleaseChannel("postgres")
	if !cc.ReserveChannel("postgres") {
		t.Fatal("expected reservation to succeed again after release")
	}
}

func TestSecurityInterceptorDeniesWithoutRole(t *testing.T) {
	proc := &Procedure{
		ID:           "admin.only",
		RequiresPermission: "write",
		Handler: func(cc *CallContext, args map[string]any) (any, error) {
			return "secret", nil
		},
	}
	chain := Chain(SecurityInterceptor(fakeChecker{allow: false}, proc))
	h := chain(proc.Handler)

	cc := NewCallContext(context.Background(), "bob", nil, false, 10)
	if _, err := h(cc, nil); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestSecurityInterceptorAllowsWithRole(t *testing.T) {
	proc := &Procedure{
		ID:           "admin.only",
		RequiresPermission: "write",
		Handler: func(cc *CallContext, args map[string]any) (any, error) {
			return "secret", nil
		},
	}
	chain := Chain(SecurityInterceptor(fakeChecker{allow: true}, proc))
	h := chain(proc.Handler)

	cc := NewCallContext(context.Background(), "alice", []string{"admin"}, false, 10)
	result, err := h(cc, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.(string) != "secret" {
		t.Fatalf("result = %v", result)
	}
}

func TestTraceRecordsCallOrder(t *testing.T) {
	lib := NewLibrary()
	lib.Register(&Procedure{ID: "inner", Handler: func(cc *CallContext, args map[string]any) (any, error) {
		return "done", nil
	}})
	lib.Register(&Procedure{ID: "outer", Handler: func(cc *CallContext, args map[string]any) (any, error) {
		return lib.Invoke(cc, Chain(), "inner", nil)
	}})

	cc := NewCallContext(context.Background(), "alice", nil, false, 10)
	if _, err := lib.Invoke(cc, Chain(), "outer", nil); err != nil {
		t.Fatal(err)
	}

	trace := cc.Trace()
	if len(trace) != 2 || trace[0] != "outer" || trace[1] != "inner" {
		t.Fatalf("Trace() = %v", trace)
	}
}
