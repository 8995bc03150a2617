package procedure

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/concordkernel/appserver/internal/kernel/path"
)

// AccessChecker reports whether a caller may reach the path-addressed
// resource a procedure call exposes, at the given permission level,
// optionally nested inside viaProcedure. Kept as a narrow interface so
// this package does not import security; security.RoleSet.HasAccess
// takes a different parameter list and does not satisfy it directly.
type AccessChecker interface {
	HasAccess(anonymous bool, roles []string, requested path.Path, permission string, viaProcedure string) bool
}

// DefaultRequiredPermission is the permission level enforced on
// "procedure/"+id when a Procedure does not declare RequiresPermission.
const DefaultRequiredPermission = "read"

// SecurityInterceptor rejects the call before any argument is resolved
// unless the caller holds RequiresPermission (DefaultRequiredPermission
// if unset) access to "procedure/"+proc.ID, scanning callerPath — the
// top of the call stack, empty at the root call — against any
// via-scoped rule. Placed first in a Chain, it rejects the call before
// any later interceptor runs. The server's default chain does not
// include it.
func SecurityInterceptor(checker AccessChecker, proc *Procedure) Interceptor {
	required := proc.RequiresPermission
	if required == "" {
		required = DefaultRequiredPermission
	}
	resource := path.Parse("procedure/" + proc.ID)

	return func(next Handler) Handler {
		return func(cc *CallContext, args map[string]any) (any, error) {
			if !checker.HasAccess(cc.Anonymous, cc.Roles, resource, required, cc.CallerPath()) {
				return nil, fmt.Errorf("%w: %s requires %s access", ErrAccessDenied, proc.ID, required)
			}
			return next(cc, args)
		}
	}
}

// CompileInterceptor resolves BindProcedure and BindConnection bindings
// into concrete values before the handler runs, and fails fast on a
// missing required argument.
func CompileInterceptor(l *Library, chain Interceptor, proc *Procedure, reserve func(cc *CallContext, channelType string) (any, func(), error)) Interceptor {
	return func(next Handler) Handler {
		return func(cc *CallContext, args map[string]any) (any, error) {
			resolved := make(map[string]any, len(args))
			var releases []func()
			defer func() {
				for _, r := range releases {
					r()
				}
			}()

			for name, binding := range proc.Bindings {
				v, present := args[name]
				switch binding.Kind {
				case BindValue:
					if !present {
						if binding.Required {
							return nil, fmt.Errorf("procedure %s: missing required argument %q", proc.ID, name)
						}
						continue
					}
					resolved[name] = v

				case BindProcedure:
					callArgs, _ := v.(map[string]any)
					result, err := l.Invoke(cc, chain, binding.Target, callArgs)
					if err != nil {
						return nil, fmt.Errorf("procedure %s: resolving argument %q via %s: %w", proc.ID, name, binding.Target, err)
					}
					resolved[name] = result

				case BindConnection:
					if reserve == nil {
						continue
					}
					ch, release, err := reserve(cc, binding.Target)
					if err != nil {
						return nil, fmt.Errorf("procedure %s: reserving channel %q: %w", proc.ID, binding.Target, err)
					}
					resolved[name] = ch
					releases = append(releases, release)
				}
			}

			return next(cc, resolved)
		}
	}
}

// ExecuteInterceptor is the innermost wrapper: it times the call and
// logs failures, the procedure-call analogue of the teacher's HTTP
// access logging middleware.
func ExecuteInterceptor(logger *slog.Logger) Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return func(cc *CallContext, args map[string]any) (any, error) {
			start := time.Now()
			result, err := next(cc, args)
			elapsed := time.Since(start)
			l := logger
			if cc.RequestID != "" {
				l = l.With("request_id", cc.RequestID)
			}
			if err != nil {
				l.Warn("procedure call failed", "duration", elapsed, "error", err)
			} else {
				l.Debug("procedure call succeeded", "duration", elapsed)
			}
			return result, err
		}
	}
}
