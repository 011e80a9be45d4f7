package typesense

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/typesense/typesense-go/v2/typesense"
	"github.com/typesense/typesense-go/v2/typesense/api"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

const importAction = "upsert"

// Engine implements domain.SearchEngine on a Typesense cluster. Every tenant index is a
// Typesense collection.
type Engine struct {
	client *typesense.Client
}

var _ domain.SearchEngine = (*Engine)(nil)

// Config holds the Typesense connection settings.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// NewEngine creates an engine talking to the Typesense server at cfg.URL.
func NewEngine(cfg Config) *Engine {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Engine{
		client: typesense.NewClient(
			typesense.WithServer(cfg.URL),
			typesense.WithAPIKey(cfg.APIKey),
			typesense.WithConnectionTimeout(cfg.Timeout),
		),
	}
}

// Health reports whether the server answers its health endpoint.
func (e *Engine) Health(ctx context.Context, timeout time.Duration) error {
	ok, err := e.client.Health(ctx, timeout)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("typesense is not healthy")
	}
	return nil
}

func (e *Engine) CreateIndex(ctx context.Context, name string, settings domain.IndexSettings) error {
	if _, err := e.client.Collections().Create(ctx, collectionSchema(name, settings)); err != nil {
		return fmt.Errorf("creating collection %q: %w", name, err)
	}
	return nil
}

// DeleteIndex drops the collection. A collection that does not exist counts as deleted.
func (e *Engine) DeleteIndex(ctx context.Context, name string) error {
	_, err := e.client.Collection(name).Delete(ctx)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting collection %q: %w", name, err)
	}
	return nil
}

// ImportDocuments upserts docs in one batch. Rejected documents fail the call with the
// first rejection reason.
func (e *Engine) ImportDocuments(ctx context.Context, name string, docs []map[string]any) error {
	if len(docs) == 0 {
		return nil
	}

	batch := make([]interface{}, len(docs))
	for i, d := range docs {
		batch[i] = d
	}
	action := importAction
	results, err := e.client.Collection(name).Documents().Import(ctx, batch, &api.ImportDocumentsParams{
		Action: &action,
	})
	if err != nil {
		return fmt.Errorf("importing into %q: %w", name, err)
	}

	var failed int
	var first string
	for _, r := range results {
		if r.Success {
			continue
		}
		if failed == 0 {
			first = r.Error
		}
		failed++
	}
	if failed > 0 {
		return fmt.Errorf("importing into %q: %d of %d documents rejected: %s", name, failed, len(docs), first)
	}
	return nil
}

func (e *Engine) IndexStats(ctx context.Context, name string) (domain.IndexStats, error) {
	collection, err := e.client.Collection(name).Retrieve(ctx)
	if err != nil {
		return domain.IndexStats{}, fmt.Errorf("retrieving collection %q: %w", name, err)
	}
	var stats domain.IndexStats
	if collection.NumDocuments != nil {
		stats.Documents = *collection.NumDocuments
	}
	return stats, nil
}

// collectionSchema maps index settings to Typesense fields. Searchable fields are strings,
// filterable fields are string facets and sortable fields are int64 (amounts in minor
// units, timestamps in unix seconds).
func collectionSchema(name string, settings domain.IndexSettings) *api.CollectionSchema {
	fields := make([]api.Field, 0, len(settings.Searchable)+len(settings.Filterable)+len(settings.Sortable))
	for _, f := range settings.Searchable {
		fields = append(fields, api.Field{Name: f, Type: "string", Optional: pointer(true)})
	}
	for _, f := range settings.Filterable {
		fields = append(fields, api.Field{Name: f, Type: "string", Facet: pointer(true), Optional: pointer(true)})
	}
	for _, f := range settings.Sortable {
		fields = append(fields, api.Field{Name: f, Type: "int64", Sort: pointer(true)})
	}

	schema := &api.CollectionSchema{Name: name, Fields: fields}
	if slices.Contains(settings.Sortable, "created_at") {
		schema.DefaultSortingField = pointer("created_at")
	}
	return schema
}

func isNotFound(err error) bool {
	var httpErr *typesense.HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound
}

func pointer[T any](v T) *T {
	return &v
}
