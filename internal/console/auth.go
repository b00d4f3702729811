package console

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// mustJWKS fetches JWKS and panics on failure.
func mustJWKS(url string) jwk.Set {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	set, err := jwk.Fetch(ctx, url)
	if err != nil {
		panic(err)
	}
	return set
}

// auth admits console requests by OIDC bearer when JWKS is configured, else
// by X-API-KEY equality.
func (a *App) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.jwks != nil {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				http.Error(w, "missing bearer", http.StatusUnauthorized)
				return
			}
			tok := strings.TrimSpace(authz[len("Bearer "):])
			if _, err := jwt.Parse([]byte(tok),
				jwt.WithKeySet(a.jwks),
				jwt.WithIssuer(a.issuer),
				jwt.WithAudience(a.aud),
				jwt.WithValidate(true),
			); err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if a.apiKey != "" {
			if !equalKeys(r.Header.Get("X-API-KEY"), a.apiKey) {
				a.log.Warnw("invalid console API key")
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
