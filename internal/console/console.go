// Package console is the operator-facing administrative API for per-tenant
// credentials.
package console

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"

	"docbridge/internal/prime"
	"docbridge/pkg/config"
	"docbridge/pkg/problems"
	"docbridge/pkg/tenants"
)

// App is the console application container: shared deps and config only.
type App struct {
	log    *zap.SugaredLogger
	store  tenants.Store
	prime  *prime.Manager
	apiKey string

	jwks   jwk.Set
	issuer string
	aud    string
}

func New(log *zap.SugaredLogger, store tenants.Store, pm *prime.Manager, cfg config.Config) *App {
	a := &App{
		log:    log,
		store:  store,
		prime:  pm,
		apiKey: cfg.ConsoleAPIKey,
		issuer: cfg.ConsoleIssuer,
		aud:    cfg.ConsoleAudience,
	}
	if cfg.ConsoleJWKSURL != "" {
		a.jwks = mustJWKS(cfg.ConsoleJWKSURL)
	}
	if a.apiKey == "" && a.jwks == nil {
		log.Warnw("console has neither an API key nor OIDC configured; console endpoints are open")
	}
	return a
}

// Routes mounts the tenant config CRUD under the console auth middleware.
func (a *App) Routes(r chi.Router) {
	r.Use(a.auth)
	r.Get("/tenants", a.listTenants)
	r.Get("/config", a.getConfig)
	r.Put("/config", a.putConfig)
	r.Delete("/config", a.deleteConfig)
	r.Get("/settings", a.getSettings)
	r.Put("/settings", a.putSettings)
}

// listTenants returns every tenant config with secrets masked.
func (a *App) listTenants(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.List(r.Context())
	if err != nil {
		problems.WriteHTTP(w, err)
		return
	}
	out := make([]tenants.TenantConfig, 0, len(list))
	for _, t := range list {
		out = append(out, t.Redacted())
	}
	writeJSON(w, out, http.StatusOK)
}

func (a *App) getConfig(w http.ResponseWriter, r *http.Request) {
	alias := r.URL.Query().Get("tenantAlias")
	cfg, err := a.store.Get(r.Context(), alias)
	if err != nil {
		problems.WriteHTTP(w, err)
		return
	}
	// Redaction happens on the copy the store handed back, never on the
	// authoritative in-memory instance.
	writeJSON(w, cfg.Redacted(), http.StatusOK)
}

func (a *App) putConfig(w http.ResponseWriter, r *http.Request) {
	var cfg tenants.TenantConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		problems.WriteHTTP(w, problems.InvalidArgument("body is not valid JSON: %v", err))
		return
	}
	if err := a.store.Set(r.Context(), cfg); err != nil {
		problems.WriteHTTP(w, err)
		return
	}
	a.log.Infow("tenant config saved", "tenant", cfg.Alias())
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) deleteConfig(w http.ResponseWriter, r *http.Request) {
	alias := r.URL.Query().Get("tenantAlias")
	if err := a.store.Delete(r.Context(), alias); err != nil {
		problems.WriteHTTP(w, err)
		return
	}
	// Best effort: if the tenant had a live session, drop its subscriptions so
	// Prime stops delivering to a decommissioned tenant.
	if ps, err := a.prime.Get(alias); err == nil {
		if err := ps.UnregisterWebhooks(r.Context()); err != nil {
			a.log.Warnw("webhook unregister failed", "tenant", alias, "err", err)
		}
	}
	a.log.Infow("tenant config deleted", "tenant", alias)
	w.WriteHeader(http.StatusNoContent)
}

// getSettings proxies this integration's tenant-level settings blob from
// Prime.
func (a *App) getSettings(w http.ResponseWriter, r *http.Request) {
	ps, err := a.prime.Get(r.URL.Query().Get("tenantAlias"))
	if err != nil {
		problems.WriteHTTP(w, err)
		return
	}
	settings, err := ps.Settings(r.Context())
	if err != nil {
		problems.WriteHTTP(w, err)
		return
	}
	writeJSON(w, settings, http.StatusOK)
}

func (a *App) putSettings(w http.ResponseWriter, r *http.Request) {
	ps, err := a.prime.Get(r.URL.Query().Get("tenantAlias"))
	if err != nil {
		problems.WriteHTTP(w, err)
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(raw) {
		problems.WriteHTTP(w, problems.InvalidArgument("body is not valid JSON"))
		return
	}
	settings, err := ps.PutSettings(r.Context(), raw)
	if err != nil {
		problems.WriteHTTP(w, err)
		return
	}
	writeJSON(w, settings, http.StatusOK)
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func equalKeys(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
