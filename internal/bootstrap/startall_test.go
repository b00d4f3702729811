package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"docbridge/internal/netdocs"
	"docbridge/internal/prime"
	"docbridge/pkg/config"
	"docbridge/pkg/health"
	"docbridge/pkg/logger"
	"docbridge/pkg/tenants"
)

func TestStartAllBringsUpEveryTenant(t *testing.T) {
	primeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			fmt.Fprint(w, `{"access_token":"t","expires_in":3600}`)
			return
		}
		fmt.Fprint(w, `{"data":{}}`)
	}))
	defer primeSrv.Close()

	ndGood := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"nd","expires_in":"3600"}`)
	}))
	defer ndGood.Close()

	var faultCleared atomic.Bool
	ndBad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if faultCleared.Load() {
			fmt.Fprint(w, `{"access_token":"nd","expires_in":"3600"}`)
			return
		}
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer ndBad.Close()

	ndCfg := func(tokenURL string) tenants.NetDocsConfig {
		return tenants.NetDocsConfig{
			OAuthTokenURL: tokenURL,
			APIURL:        ndGood.URL + "/",
			ClientID:      "c", ClientSecret: "s", RepositoryID: "r", CabinetID: "cab",
		}
	}
	store, err := tenants.NewFileStore(logger.Nop(), afero.NewMemMapFs(), "tenants.json", []tenants.TenantConfig{
		{Prime: tenants.PrimeTenantConfig{Tenant: "alpha"}, NetDocs: ndCfg(ndGood.URL)},
		{Prime: tenants.PrimeTenantConfig{Tenant: "bravo"}, NetDocs: ndCfg(ndGood.URL)},
		{Prime: tenants.PrimeTenantConfig{Tenant: "broken"}, NetDocs: ndCfg(ndBad.URL)},
	})
	require.NoError(t, err)

	pm := prime.NewManager(logger.Nop(), config.PrimeConfig{
		APIURL:        primeSrv.URL + "/",
		TokenEndpoint: primeSrv.URL + "/oauth/token",
		ReceiverURL:   "https://bridge.example.com/prime/",
	})
	nm := netdocs.NewManager(logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup := NewSupervisor(logger.Nop(), 20*time.Millisecond)
	require.NoError(t, sup.StartAll(ctx, store, pm, nm))

	require.Eventually(t, func() bool {
		nd := nm.Healths()
		pr := pm.Healths()
		return pr["alpha"].State == health.Healthy &&
			pr["bravo"].State == health.Healthy &&
			pr["broken"].State == health.Healthy &&
			nd["alpha"].State == health.Healthy &&
			nd["bravo"].State == health.Healthy &&
			nd["broken"].State == health.Unhealthy
	}, 2*time.Second, 10*time.Millisecond, "healthy tenants must come up while the broken one degrades")

	faultCleared.Store(true)
	require.Eventually(t, func() bool {
		return nm.Healths()["broken"].State == health.Healthy
	}, 2*time.Second, 10*time.Millisecond, "broken tenant recovers once the fault clears")
}
