// Package procedure implements the kernel's procedure library and call
// runtime: named, bindable server-side operations invoked by the web
// dispatcher or by other procedures, wrapped in a security → compile →
// execute interceptor chain and run inside a recursion- and
// channel-discipline-checked CallContext.
package procedure

import (
	"context"
	"fmt"
	"sync"

	"github.com/concordkernel/appserver/internal/kernel/path"
	"github.com/concordkernel/appserver/pkg/logger"
)

// Handler is the innermost behavior of a procedure: given the resolved
// argument map, produce a result or an error.
type Handler func(cc *CallContext, args map[string]any) (any, error)

// Interceptor wraps a Handler with cross-cutting behavior (access
// checks, argument compilation, tracing) and must call next exactly
// once to proceed, matching the teacher's middleware-chain shape
// generalized from HTTP to procedure calls.
type Interceptor func(next Handler) Handler

// Procedure is one registered, callable operation.
type Procedure struct {
	ID          string
	Description string
	Bindings    map[string]Binding
	Handler     Handler
	// RequiresPermission is the permission level SecurityInterceptor
	// enforces on "procedure/"+ID; empty means DefaultRequiredPermission.
	RequiresPermission string
}

// BindingKind distinguishes how an argument is supplied to a procedure.
type BindingKind int

const (
	// BindValue is a literal argument value passed at call time.
	BindValue BindingKind = iota
	// BindProcedure resolves to another procedure's result, invoked as
	// part of compiling this call's arguments.
	BindProcedure
	// BindConnection resolves to a pooled channel of the named type,
	// reserved for the duration of the call.
	BindConnection
)

// Binding describes one named argument slot on a Procedure.
type Binding struct {
	Kind     BindingKind
	Target   string // procedure id (BindProcedure) or channel type (BindConnection)
	Required bool
}

// Library is the process-wide table of registered procedures. Aliases
// let a deprecated procedure id keep resolving to its replacement.
type Library struct {
	mu         sync.RWMutex
	procedures map[string]*Procedure
	aliases    map[string]string
	deprecated map[string]bool
}

// NewLibrary returns an empty Library.
func NewLibrary() *Library {
	return &Library{
		procedures: make(map[string]*Procedure),
		aliases:    make(map[string]string),
		deprecated: make(map[string]bool),
	}
}

// Register adds or replaces p.
func (l *Library) Register(p *Procedure) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.procedures[p.ID] = p
}

// Alias makes id resolve to target when id itself has no registration.
// If deprecated is true, Lookup callers are expected to surface a
// deprecation warning (spec.md's alias/deprecated-handling note).
func (l *Library) Alias(id, target string, deprecated bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.aliases[id] = target
	l.deprecated[id] = deprecated
}

// Unregister removes id.
func (l *Library) Unregister(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.procedures, id)
}

// Lookup resolves id to its Procedure and reports whether the id used to
// reach it was a deprecated alias.
func (l *Library) Lookup(id string) (proc *Procedure, isDeprecatedAlias bool, err error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if p, ok := l.procedures[id]; ok {
		return p, false, nil
	}
	if target, ok := l.aliases[id]; ok {
		if p, ok := l.procedures[target]; ok {
			return p, l.deprecated[id], nil
		}
	}
	return nil, false, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// CallContext carries the state that must be threaded through a
// (possibly nested) procedure call tree: the caller's identity for
// access checks, a recursion depth guard, the set of channel types
// already reserved by an enclosing call so a nested call on the same
// channel type reuses rather than double-acquires it, and a trace of
// the ids invoked so far for diagnostics.
type CallContext struct {
	Context      context.Context
	UserID       string
	Roles        []string
	Anonymous    bool
	RequestPath  path.Path

	// RequestID is the inbound request's correlation id, threaded from
	// the HTTP access-log middleware's context so every interceptor and
	// log line in the call tree can be tied back to one request.
	RequestID string

	maxDepth  int
	depth     int
	reserved  map[string]bool
	trace     []string
	stack     []string
}

// NewCallContext starts a fresh call tree rooted at the given caller
// identity, bounding nested procedure-to-procedure calls to maxDepth.
// RequestID is pulled from ctx when logger.WithRequestID put one there.
func NewCallContext(ctx context.Context, userID string, roles []string, anonymous bool, maxDepth int) *CallContext {
	return &CallContext{
		Context:   ctx,
		UserID:    userID,
		Roles:     roles,
		Anonymous: anonymous,
		RequestID: logger.GetRequestID(ctx),
		maxDepth:  maxDepth,
		reserved:  make(map[string]bool),
	}
}

// enter pushes one level of nested call, failing if maxDepth would be
// exceeded, and records id in the trace.
func (cc *CallContext) enter(id string) (func(), error) {
	if cc.depth >= cc.maxDepth {
		return nil, fmt.Errorf("%w: depth %d at %q", ErrRecursionLimit, cc.depth, id)
	}
	cc.depth++
	cc.trace = append(cc.trace, id)
	cc.stack = append(cc.stack, id)
	return func() {
		cc.depth--
		cc.stack = cc.stack[:len(cc.stack)-1]
	}, nil
}

// ReserveChannel marks channelType as in use for the remainder of the
// current call tree, returning false if it was already reserved by an
// enclosing call (the caller should reuse the enclosing channel instead
// of acquiring a second one of the same type, per the reserved-channel
// discipline that prevents a procedure from deadlocking itself against
// a single-connection pool).
func (cc *CallContext) ReserveChannel(channelType string) bool {
	if cc.reserved[channelType] {
		return false
	}
	cc.reserved[channelType] = true
	return true
}

// ReleaseChannel frees channelType for reuse by sibling calls once the
// call that reserved it returns.
func (cc *CallContext) ReleaseChannel(channelType string) {
	delete(cc.reserved, channelType)
}

// Trace returns the ids invoked so far in this call tree, outermost
// first.
func (cc *CallContext) Trace() []string {
	cp := make([]string, len(cc.trace))
	copy(cp, cc.trace)
	return cp
}

// CallerPath returns the id of the procedure enclosing the call
// currently being entered — the frame below the top of the call stack —
// or "" at the root call. SecurityInterceptor passes this as the via-chain
// hop a role's access rule may require.
func (cc *CallContext) CallerPath() string {
	if len(cc.stack) < 2 {
		return ""
	}
	return cc.stack[len(cc.stack)-2]
}

// Chain composes interceptors around base in the given order, so
// Chain(a, b, c)(h) == a(b(c(h))): the first interceptor is outermost
// and runs first on the way in, matching spec.md's fixed
// security → compile → execute ordering.
func Chain(interceptors ...Interceptor) Interceptor {
	return func(final Handler) Handler {
		h := final
		for i := len(interceptors) - 1; i >= 0; i-- {
			h = interceptors[i](h)
		}
		return h
	}
}

// Invoke resolves id in l, enters one call-tree level, and runs it
// through the chain, wrapping the library's own Handler as the
// innermost link.
func (l *Library) Invoke(cc *CallContext, chain Interceptor, id string, args map[string]any) (any, error) {
	proc, _, err := l.Lookup(id)
	if err != nil {
		return nil, err
	}

	leave, err := cc.enter(id)
	if err != nil {
		return nil, err
	}
	defer leave()

	h := chain(proc.Handler)
	return h(cc, args)
}
