package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/tenantplane/internal/app"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

// TenantResponse is the API representation of a tenant.
type TenantResponse struct {
	ID                string          `json:"id" doc:"Unique identifier (UUID)"`
	Subdomain         string          `json:"subdomain" doc:"Subdomain label"`
	Domain            string          `json:"domain" doc:"Fully qualified tenant hostname"`
	Database          string          `json:"database" doc:"Name of the isolated tenant database"`
	Status            string          `json:"status" doc:"Lifecycle state"`
	Attempt           int             `json:"attempt" doc:"Provisioning attempt number"`
	ProvisioningError string          `json:"provisioning_error,omitempty" doc:"Reason of the last provisioning failure"`
	ProvisionedAt     string          `json:"provisioned_at,omitempty" doc:"Provisioning completion timestamp (ISO 8601)"`
	SuspensionReason  string          `json:"suspension_reason,omitempty" doc:"Why the tenant is suspended"`
	Features          map[string]bool `json:"features" doc:"Feature flags"`
	AllowedActions    []string        `json:"allowed_actions" doc:"Lifecycle triggers valid from the current state"`
	CreatedAt         string          `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	UpdatedAt         string          `json:"updated_at" doc:"Last update timestamp (ISO 8601)"`
}

func toTenantResponse(svc *app.TenantService, t *domain.Tenant) TenantResponse {
	resp := TenantResponse{
		ID:                t.ID.String(),
		Subdomain:         t.Domain.Subdomain(),
		Domain:            t.Domain.Full(),
		Database:          t.Database.String(),
		Status:            string(t.Status),
		Attempt:           t.Attempt,
		ProvisioningError: t.ProvisioningError,
		Features:          t.Features(),
		AllowedActions:    []string{},
		CreatedAt:         t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         t.UpdatedAt.Format(time.RFC3339),
	}
	if t.ProvisionedAt != nil {
		resp.ProvisionedAt = t.ProvisionedAt.Format(time.RFC3339)
	}
	if reason, ok := t.SuspensionReason(); ok {
		resp.SuspensionReason = reason
	}
	for _, trigger := range svc.AllowedActions(t) {
		resp.AllowedActions = append(resp.AllowedActions, string(trigger))
	}
	return resp
}

// --- Create Tenant ---

type CreateTenantInput struct {
	Body struct {
		Subdomain  string   `json:"subdomain" minLength:"3" maxLength:"63" doc:"Subdomain label (lowercase letters, digits, hyphens)"`
		AdminName  string   `json:"admin_name" minLength:"1" maxLength:"255" doc:"Name of the first administrator"`
		AdminEmail string   `json:"admin_email" format:"email" doc:"Email of the first administrator"`
		Features   []string `json:"features,omitempty" doc:"Feature flags to enable"`
	}
}

type TenantOutput struct {
	Body TenantResponse
}

// --- Get / Retry / Reactivate / Decommission ---

type TenantIDInput struct {
	ID string `path:"id" doc:"Tenant ID"`
}

// --- List Tenants ---

type ListTenantsInput struct {
	Status string `query:"status" required:"false" enum:"pending,provisioning,active,failed,suspended" doc:"Filter by status"`
	Limit  int    `query:"limit" required:"false" default:"50" minimum:"1" maximum:"500" doc:"Max results"`
	Offset int    `query:"offset" required:"false" default:"0" minimum:"0" doc:"Pagination offset"`
}

type ListTenantsOutput struct {
	Body []TenantResponse
}

// --- Suspend ---

type SuspendInput struct {
	ID   string `path:"id" doc:"Tenant ID"`
	Body struct {
		Reason string `json:"reason" minLength:"1" maxLength:"500" doc:"Why the tenant is suspended"`
	}
}

// --- Features ---

type SetFeatureInput struct {
	ID   string `path:"id" doc:"Tenant ID"`
	Name string `path:"name" pattern:"^[a-z0-9_]+$" doc:"Feature flag name"`
	Body struct {
		Enabled bool `json:"enabled" doc:"Whether the feature is enabled"`
	}
}

// --- Search indexes ---

type IndexStatsResponse struct {
	Kind      string `json:"kind" doc:"Record kind"`
	Index     string `json:"index" doc:"Full index name"`
	Documents int64  `json:"documents" doc:"Number of indexed documents"`
	Indexing  bool   `json:"indexing" doc:"Whether the engine is still indexing"`
	Error     string `json:"error,omitempty" doc:"Why stats are unavailable"`
}

type IndexStatsOutput struct {
	Body struct {
		TenantID string               `json:"tenant_id"`
		Indexes  []IndexStatsResponse `json:"indexes"`
	}
}

type ReindexOutput struct {
	Body struct {
		TenantID string         `json:"tenant_id"`
		Indexed  map[string]int `json:"indexed" doc:"Documents imported per record kind"`
	}
}

// Register adds the central tenant administration routes to the Huma API. They only
// answer on central hosts.
func Register(api huma.API, svc *app.TenantService) {
	central := huma.Middlewares{requireCentral(api)}

	huma.Register(api, huma.Operation{
		OperationID:   "create-tenant",
		Method:        http.MethodPost,
		Path:          "/api/v1/tenants",
		Summary:       "Register a tenant and schedule its provisioning",
		Tags:          []string{"Tenants"},
		DefaultStatus: http.StatusAccepted,
		Middlewares:   central,
	}, func(ctx context.Context, input *CreateTenantInput) (*TenantOutput, error) {
		tenant, err := svc.Create(ctx, app.CreateInput{
			Subdomain:  input.Body.Subdomain,
			AdminName:  input.Body.AdminName,
			AdminEmail: input.Body.AdminEmail,
			Features:   input.Body.Features,
		})
		if err != nil {
			if tenant != nil {
				// Registered but not queued.
				return nil, huma.Error503ServiceUnavailable("tenant registered but provisioning could not be scheduled")
			}
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(svc, tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tenant",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenants/{id}",
		Summary:     "Get a tenant by ID",
		Tags:        []string{"Tenants"},
		Middlewares: central,
	}, func(ctx context.Context, input *TenantIDInput) (*TenantOutput, error) {
		tenant, err := svc.Get(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(svc, tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tenants",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenants",
		Summary:     "List tenants",
		Tags:        []string{"Tenants"},
		Middlewares: central,
	}, func(ctx context.Context, input *ListTenantsInput) (*ListTenantsOutput, error) {
		filter := domain.ListFilter{
			Limit:  input.Limit,
			Offset: input.Offset,
		}
		if input.Status != "" {
			s := domain.Status(input.Status)
			filter.Status = &s
		}

		tenants, err := svc.List(ctx, filter)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]TenantResponse, len(tenants))
		for i, t := range tenants {
			resp[i] = toTenantResponse(svc, t)
		}
		return &ListTenantsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suspend-tenant",
		Method:      http.MethodPost,
		Path:        "/api/v1/tenants/{id}/suspend",
		Summary:     "Suspend an active tenant",
		Tags:        []string{"Lifecycle"},
		Middlewares: central,
	}, func(ctx context.Context, input *SuspendInput) (*TenantOutput, error) {
		tenant, err := svc.Suspend(ctx, input.ID, input.Body.Reason)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(svc, tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reactivate-tenant",
		Method:      http.MethodPost,
		Path:        "/api/v1/tenants/{id}/reactivate",
		Summary:     "Reactivate a suspended tenant",
		Tags:        []string{"Lifecycle"},
		Middlewares: central,
	}, func(ctx context.Context, input *TenantIDInput) (*TenantOutput, error) {
		tenant, err := svc.Reactivate(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(svc, tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "retry-provisioning",
		Method:        http.MethodPost,
		Path:          "/api/v1/tenants/{id}/retry",
		Summary:       "Start a new provisioning attempt for a failed tenant",
		Tags:          []string{"Lifecycle"},
		DefaultStatus: http.StatusAccepted,
		Middlewares:   central,
	}, func(ctx context.Context, input *TenantIDInput) (*TenantOutput, error) {
		tenant, err := svc.Retry(ctx, input.ID)
		if err != nil {
			if tenant != nil {
				return nil, huma.Error503ServiceUnavailable("attempt recorded but provisioning could not be scheduled")
			}
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(svc, tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-feature",
		Method:      http.MethodPut,
		Path:        "/api/v1/tenants/{id}/features/{name}",
		Summary:     "Enable or disable a feature flag",
		Tags:        []string{"Tenants"},
		Middlewares: central,
	}, func(ctx context.Context, input *SetFeatureInput) (*TenantOutput, error) {
		tenant, err := svc.SetFeature(ctx, input.ID, input.Name, input.Body.Enabled)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(svc, tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "index-stats",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenants/{id}/indexes",
		Summary:     "Report on the tenant's search indexes",
		Tags:        []string{"Search"},
		Middlewares: central,
	}, func(ctx context.Context, input *TenantIDInput) (*IndexStatsOutput, error) {
		tenant, stats, err := svc.IndexStats(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &IndexStatsOutput{}
		out.Body.TenantID = tenant.ID.String()
		out.Body.Indexes = make([]IndexStatsResponse, len(stats))
		for i, s := range stats {
			out.Body.Indexes[i] = IndexStatsResponse(s)
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reindex-tenant",
		Method:      http.MethodPost,
		Path:        "/api/v1/tenants/{id}/indexes/reindex",
		Summary:     "Rebuild the tenant's search indexes from its database",
		Tags:        []string{"Search"},
		Middlewares: central,
	}, func(ctx context.Context, input *TenantIDInput) (*ReindexOutput, error) {
		counts, err := svc.Reindex(ctx, input.ID)
		if err != nil && counts == nil {
			return nil, toHumaError(err)
		}
		if err != nil {
			return nil, huma.Error502BadGateway("reindexing incomplete", err)
		}
		out := &ReindexOutput{}
		out.Body.TenantID = input.ID
		out.Body.Indexed = counts
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "decommission-tenant",
		Method:        http.MethodDelete,
		Path:          "/api/v1/tenants/{id}",
		Summary:       "Tear down a failed or suspended tenant",
		Tags:          []string{"Lifecycle"},
		DefaultStatus: http.StatusNoContent,
		Middlewares:   central,
	}, func(ctx context.Context, input *TenantIDInput) (*struct{}, error) {
		if err := svc.Decommission(ctx, input.ID); err != nil {
			return nil, toHumaError(err)
		}
		return nil, nil
	})
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	if errors.Is(err, domain.ErrTenantNotFound) {
		return huma.Error404NotFound("tenant not found")
	}

	var valErr *domain.InvalidValueError
	if errors.As(err, &valErr) {
		if valErr.Field == "tenant id" {
			return huma.Error404NotFound("tenant not found")
		}
		return huma.Error422UnprocessableEntity(valErr.Error())
	}

	if errors.Is(err, domain.ErrReservedSubdomain) {
		return huma.Error422UnprocessableEntity(err.Error())
	}

	var subErr *domain.SubdomainConflictError
	if errors.As(err, &subErr) {
		return huma.Error409Conflict(subErr.Error())
	}

	if errors.Is(err, domain.ErrCannotDecommission) ||
		errors.Is(err, domain.ErrTenantDecommissioning) ||
		errors.Is(err, domain.ErrStatusConflict) {
		return huma.Error409Conflict(err.Error())
	}

	var trErr *domain.TransitionError
	if errors.As(err, &trErr) {
		return huma.Error409Conflict(trErr.Error())
	}

	var notReady *domain.TenantNotReadyError
	if errors.As(err, &notReady) {
		return huma.Error409Conflict(notReady.Error())
	}

	var suspended *domain.TenantSuspendedError
	if errors.As(err, &suspended) {
		return huma.Error403Forbidden(suspended.Error())
	}

	return huma.Error500InternalServerError("internal server error")
}
