package tenants

import (
	"context"
)

// Store owns the set of TenantConfig records. Implementations return copies;
// callers must never mutate a returned config and expect the store to notice.
type Store interface {
	// List returns every tenant config. Order is not significant.
	List(ctx context.Context) ([]TenantConfig, error)
	// Get returns the config for the alias (case-insensitive) or NotFound.
	Get(ctx context.Context, alias string) (TenantConfig, error)
	// Set upserts by alias, replacing any existing entry, and persists.
	Set(ctx context.Context, cfg TenantConfig) error
	// Delete removes the entry if present (no error when absent) and persists.
	Delete(ctx context.Context, alias string) error
}
