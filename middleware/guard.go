package middleware

import (
	"context"
	"net/http"

	stepup "github.com/BlakeMcBride1625/stepup"
)

// PrincipalFunc resolves the acting principal from an incoming request.
// Returning false rejects the request as unauthorized.
type PrincipalFunc func(r *http.Request) (string, bool)

type grantStatusContextKey struct{}

// GrantStatusFromContext returns the grant status injected by a guard.
func GrantStatusFromContext(ctx context.Context) (stepup.GrantStatus, bool) {
	status, ok := ctx.Value(grantStatusContextKey{}).(stepup.GrantStatus)
	return status, ok
}

// RequireGrant returns middleware that admits the request only when the
// principal holds a live grant for action. The grant is not spent, so the
// same grant can admit any number of requests inside its window.
func RequireGrant(engine *stepup.Engine, action stepup.Action, principalFn PrincipalFunc) func(http.Handler) http.Handler {
	return guard(engine, action, principalFn, func(ctx context.Context, principal string) (stepup.GrantStatus, error) {
		return engine.CheckGrant(ctx, principal, action)
	})
}

// ConsumeGrant returns middleware that spends the principal's grant before
// invoking the handler. When the action's grant is single-use, exactly one
// request is admitted per grant; concurrent requests racing on the same
// grant see 403.
func ConsumeGrant(engine *stepup.Engine, action stepup.Action, principalFn PrincipalFunc) func(http.Handler) http.Handler {
	return guard(engine, action, principalFn, func(ctx context.Context, principal string) (stepup.GrantStatus, error) {
		return engine.ConsumeGrant(ctx, principal, action)
	})
}

func guard(
	engine *stepup.Engine,
	action stepup.Action,
	principalFn PrincipalFunc,
	gate func(ctx context.Context, principal string) (stepup.GrantStatus, error),
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil || principalFn == nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			principal, ok := principalFn(r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			status, err := gate(r.Context(), principal)
			if err != nil || !status.HasGrant {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), grantStatusContextKey{}, status)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
