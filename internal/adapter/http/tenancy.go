package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/tenantplane/internal/app"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

// ResolveTenant is router middleware that binds every request to the tenant addressed by
// its Host header. Central hosts pass through without a scope. Requests for unknown,
// unready or suspended tenants are rejected before reaching any handler.
func ResolveTenant(resolver *app.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, _, err := resolver.Bind(r.Context(), r.Host)
			if err != nil {
				writeResolveError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeResolveError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	detail := "internal server error"

	var notReady *domain.TenantNotReadyError
	var suspended *domain.TenantSuspendedError
	switch {
	case errors.Is(err, domain.ErrTenantNotFound):
		status, detail = http.StatusNotFound, "tenant not found"
	case errors.As(err, &notReady):
		status, detail = http.StatusServiceUnavailable, notReady.Error()
	case errors.As(err, &suspended):
		status, detail = http.StatusForbidden, suspended.Error()
	default:
		slog.ErrorContext(r.Context(), "resolving tenant", "host", r.Host, "error", err)
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(huma.ErrorModel{
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	})
}

// requireCentral limits an operation to central hosts.
func requireCentral(api huma.API) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if _, ok := domain.ScopeFromContext(ctx.Context()); ok {
			_ = huma.WriteErr(api, ctx, http.StatusNotFound, "not found")
			return
		}
		next(ctx)
	}
}

// requireTenant limits an operation to tenant hosts.
func requireTenant(api huma.API) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if _, ok := domain.ScopeFromContext(ctx.Context()); !ok {
			_ = huma.WriteErr(api, ctx, http.StatusNotFound, "no tenant for this host")
			return
		}
		next(ctx)
	}
}

// TenantContextResponse describes the tenant a request was resolved to.
type TenantContextResponse struct {
	TenantID     string `json:"tenant_id" doc:"Resolved tenant"`
	Subdomain    string `json:"subdomain" doc:"Subdomain label"`
	Database     string `json:"database" doc:"Database serving this tenant"`
	SearchPrefix string `json:"search_prefix" doc:"Prefix of the tenant's search indexes"`
}

type TenantContextOutput struct {
	Body TenantContextResponse
}

// RegisterTenantRoutes adds the routes served on tenant hosts.
func RegisterTenantRoutes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "tenant-context",
		Method:      http.MethodGet,
		Path:        "/tenant/v1/context",
		Summary:     "Describe the tenant bound to this host",
		Tags:        []string{"Tenant"},
		Middlewares: huma.Middlewares{requireTenant(api)},
	}, func(ctx context.Context, _ *struct{}) (*TenantContextOutput, error) {
		scope, err := domain.RequireScope(ctx)
		if err != nil {
			return nil, huma.Error404NotFound("no tenant for this host")
		}
		return &TenantContextOutput{Body: TenantContextResponse{
			TenantID:     scope.TenantID.String(),
			Subdomain:    scope.Subdomain,
			Database:     scope.Database.String(),
			SearchPrefix: scope.SearchPrefix,
		}}, nil
	})
}
