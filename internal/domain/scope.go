package domain

import "context"

// Scope identifies the isolated resources that tenant-scoped work must use: the tenant's
// own database and its search index prefix. It travels in a context.Context, so it lives
// exactly as long as the request or job that set it.
type Scope struct {
	TenantID     TenantID
	Subdomain    string
	Database     TenantDatabase
	SearchPrefix string
}

type scopeKey struct{}

// WithScope returns a child context bound to scope.
func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFromContext returns the scope bound to ctx. ok is false in the central context.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(scopeKey{}).(Scope)
	return scope, ok
}

// RequireScope is ScopeFromContext for code that must never run in the central context.
func RequireScope(ctx context.Context) (Scope, error) {
	scope, ok := ScopeFromContext(ctx)
	if !ok {
		return Scope{}, ErrScopeMissing
	}
	return scope, nil
}
