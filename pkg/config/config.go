// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"docbridge/pkg/tenants"
)

// PrimeConfig is the base Prime connection shared by all tenants. Tenant
// overrides live in tenants.PrimeTenantConfig.
type PrimeConfig struct {
	// API endpoint including trailing slash. Any {tenant} tag in the URL is
	// replaced with the tenant alias.
	APIURL string `yaml:"api_url"`
	// OAuth client-credentials token endpoint.
	TokenEndpoint string `yaml:"token_endpoint"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	Scope         string `yaml:"scope"`
	// HMAC key Prime uses to sign webhook deliveries. Empty disables
	// signature validation (insecure, dev only).
	SigningKey string `yaml:"signing_key"`
	// Publicly addressable URL of the webhook receivers, with trailing slash.
	ReceiverURL string `yaml:"receiver_url"`
}

type Config struct {
	Env      string `yaml:"env"`
	HTTPAddr string `yaml:"http_addr"`

	// X-API-KEY required on /console endpoints.
	ConsoleAPIKey string `yaml:"console_api_key"`
	// Optional OIDC bearer validation for /console (preferred over the API
	// key when configured).
	ConsoleIssuer   string `yaml:"console_issuer"`
	ConsoleAudience string `yaml:"console_audience"`
	ConsoleJWKSURL  string `yaml:"console_jwks_url"`

	Prime PrimeConfig `yaml:"prime"`

	// Tenants seeded from the base config file; the persisted overlay wins.
	Tenants []tenants.TenantConfig `yaml:"tenants"`

	// Path of the persisted tenant overlay.
	TenantFile string `yaml:"tenant_file"`

	// Session init retry interval for the startup supervisor.
	InitRetryInterval time.Duration `yaml:"-"`

	// Redis & Postgres (both optional)
	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`
}

// Load builds configuration from an optional YAML base file plus environment
// variables; environment wins over the file.
func Load() Config {
	return LoadFS(afero.NewOsFs())
}

func LoadFS(fs afero.Fs) Config {
	_ = godotenv.Load()

	cfg := Config{
		Env:               "dev",
		HTTPAddr:          ":8080",
		TenantFile:        "appsettings.tenants.json",
		InitRetryInterval: 5 * time.Second,
	}

	path := env("BRIDGE_CONFIG", "config.yaml")
	if raw, err := afero.ReadFile(fs, path); err == nil {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			log.Printf("[WARN] base config %s unreadable: %v", path, err)
		}
	}

	cfg.Env = env("BRIDGE_ENV", cfg.Env)
	cfg.HTTPAddr = env("BRIDGE_HTTP_ADDR", cfg.HTTPAddr)
	cfg.ConsoleAPIKey = env("CONSOLE_API_KEY", cfg.ConsoleAPIKey)
	cfg.ConsoleIssuer = env("CONSOLE_OIDC_ISSUER", cfg.ConsoleIssuer)
	cfg.ConsoleAudience = env("CONSOLE_OIDC_AUDIENCE", cfg.ConsoleAudience)
	cfg.ConsoleJWKSURL = env("CONSOLE_JWKS_URL", cfg.ConsoleJWKSURL)
	cfg.Prime.APIURL = env("PRIME_API_URL", cfg.Prime.APIURL)
	cfg.Prime.TokenEndpoint = env("PRIME_TOKEN_ENDPOINT", cfg.Prime.TokenEndpoint)
	cfg.Prime.ClientID = env("PRIME_CLIENT_ID", cfg.Prime.ClientID)
	cfg.Prime.ClientSecret = env("PRIME_CLIENT_SECRET", cfg.Prime.ClientSecret)
	cfg.Prime.Scope = env("PRIME_SCOPE", cfg.Prime.Scope)
	cfg.Prime.SigningKey = env("PRIME_SIGNING_KEY", cfg.Prime.SigningKey)
	cfg.Prime.ReceiverURL = env("PRIME_RECEIVER_URL", cfg.Prime.ReceiverURL)
	cfg.TenantFile = env("TENANT_CONFIG_FILE", cfg.TenantFile)
	cfg.RedisURL = env("REDIS_URL", cfg.RedisURL)
	cfg.DatabaseURL = env("DATABASE_URL", cfg.DatabaseURL)
	cfg.InitRetryInterval = envDur("INIT_RETRY_SEC", int(cfg.InitRetryInterval/time.Second)) * time.Second

	if cfg.Prime.SigningKey == "" {
		log.Println("[WARN] PRIME_SIGNING_KEY not set, webhook receivers are a public unprotected endpoint")
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		if i > 0 {
			return time.Duration(i)
		}
	}
	return time.Duration(def)
}
