package tenants

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"docbridge/pkg/problems"
)

// pgStore implements Store backed by PostgreSQL. Selected when DATABASE_URL
// is configured; the file overlay store remains the default.
type pgStore struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// NewPostgresStore constructs a PostgreSQL-backed tenant store.
func NewPostgresStore(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Store {
	return &pgStore{dbPool: dbPool, log: log}
}

// EnsureSchema creates the tenant table if it does not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenant_configs (
  alias text PRIMARY KEY,
  config jsonb NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
`)
	return err
}

func (s *pgStore) List(ctx context.Context) ([]TenantConfig, error) {
	rows, err := s.dbPool.Query(ctx, `SELECT config FROM tenant_configs`)
	if err != nil {
		return nil, problems.TransientIO("list tenants", err)
	}
	defer rows.Close()

	var out []TenantConfig
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, problems.TransientIO("scan tenant", err)
		}
		var t TenantConfig
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, problems.Protocol("stored tenant config is not valid JSON: %v", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *pgStore) Get(ctx context.Context, alias string) (TenantConfig, error) {
	a := NormalizeAlias(alias)
	if a == "" {
		return TenantConfig{}, problems.InvalidArgument("tenant alias must be specified")
	}
	var raw []byte
	err := s.dbPool.QueryRow(ctx, `SELECT config FROM tenant_configs WHERE alias=$1`, a).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return TenantConfig{}, problems.NotFound("no configuration found for tenant %s", a)
	}
	if err != nil {
		return TenantConfig{}, problems.TransientIO("get tenant", err)
	}
	var t TenantConfig
	if err := json.Unmarshal(raw, &t); err != nil {
		return TenantConfig{}, problems.Protocol("stored tenant config is not valid JSON: %v", err)
	}
	return t, nil
}

func (s *pgStore) Set(ctx context.Context, cfg TenantConfig) error {
	a := cfg.Alias()
	if a == "" {
		return problems.InvalidArgument("tenant alias must be specified")
	}
	cfg.Prime.Tenant = a
	raw, err := json.Marshal(cfg)
	if err != nil {
		return problems.TransientIO("encode tenant config", err)
	}
	_, err = s.dbPool.Exec(ctx, `
INSERT INTO tenant_configs (alias, config, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (alias) DO UPDATE SET config=EXCLUDED.config, updated_at=NOW()
`, a, raw)
	if err != nil {
		return problems.TransientIO("upsert tenant", err)
	}
	return nil
}

func (s *pgStore) Delete(ctx context.Context, alias string) error {
	a := NormalizeAlias(alias)
	if a == "" {
		return problems.InvalidArgument("tenant alias must be specified")
	}
	if _, err := s.dbPool.Exec(ctx, `DELETE FROM tenant_configs WHERE alias=$1`, a); err != nil {
		return problems.TransientIO("delete tenant", err)
	}
	return nil
}
