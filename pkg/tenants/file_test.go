package tenants

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"docbridge/pkg/logger"
	"docbridge/pkg/problems"
)

const overlayPath = "appsettings.tenants.json"

func newTestStore(t *testing.T, fs afero.Fs, seed []TenantConfig) Store {
	t.Helper()
	s, err := NewFileStore(logger.Nop(), fs, overlayPath, seed)
	require.NoError(t, err)
	return s
}

func tenantCfg(alias string) TenantConfig {
	return TenantConfig{
		Prime: PrimeTenantConfig{Tenant: alias},
		NetDocs: NetDocsConfig{
			ClientID:     "nd-client",
			ClientSecret: "nd-secret",
			RepositoryID: "repo",
			CabinetID:    "cab",
		},
	}
}

func readOverlay(t *testing.T, fs afero.Fs) []TenantConfig {
	t.Helper()
	raw, err := afero.ReadFile(fs, overlayPath)
	require.NoError(t, err)
	var ov struct {
		Tenants []TenantConfig `json:"tenants"`
	}
	require.NoError(t, json.Unmarshal(raw, &ov))
	return ov.Tenants
}

func TestSetGetCaseInsensitive(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newTestStore(t, fs, nil)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, tenantCfg("Acme")))

	for _, alias := range []string{"acme", "ACME", "Acme", " acme "} {
		got, err := s.Get(ctx, alias)
		require.NoError(t, err, "alias %q", alias)
		require.Equal(t, "acme", got.Prime.Tenant)
		require.Equal(t, "nd-secret", got.NetDocs.ClientSecret)
	}
}

func TestGetBlankAlias(t *testing.T) {
	s := newTestStore(t, afero.NewMemMapFs(), nil)
	_, err := s.Get(context.Background(), "  ")
	require.True(t, errors.Is(err, problems.InvalidArgument("")))
}

func TestGetUnknownAlias(t *testing.T) {
	s := newTestStore(t, afero.NewMemMapFs(), nil)
	_, err := s.Get(context.Background(), "nope")
	require.True(t, errors.Is(err, problems.NotFound("")))
}

func TestSetReplacesExisting(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newTestStore(t, fs, nil)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, tenantCfg("acme")))
	updated := tenantCfg("ACME")
	updated.NetDocs.CabinetID = "cab2"
	require.NoError(t, s.Set(ctx, updated))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "cab2", list[0].NetDocs.CabinetID)
	require.Len(t, readOverlay(t, fs), 1)
}

func TestDeleteNonexistentIsNoOp(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newTestStore(t, fs, nil)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, tenantCfg("acme")))
	before := readOverlay(t, fs)

	require.NoError(t, s.Delete(ctx, "ghost"))
	require.ElementsMatch(t, before, readOverlay(t, fs))

	require.NoError(t, s.Delete(ctx, "ACME"))
	require.Empty(t, readOverlay(t, fs))
	// and again, still no error
	require.NoError(t, s.Delete(ctx, "acme"))
}

func TestPersistenceIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newTestStore(t, fs, nil)
	ctx := context.Background()

	cfg := tenantCfg("acme")
	require.NoError(t, s.Set(ctx, cfg))
	first := readOverlay(t, fs)
	require.NoError(t, s.Set(ctx, cfg))
	second := readOverlay(t, fs)

	require.ElementsMatch(t, first, second)
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, list, second)
}

// renameFailFs simulates a crash between writing the temp file and the atomic
// replace: the rename never happens.
type renameFailFs struct {
	afero.Fs
}

func (f renameFailFs) Rename(oldname, newname string) error {
	return errors.New("injected crash before replace")
}

func TestCrashMidPersistKeepsPreviousOverlay(t *testing.T) {
	mem := afero.NewMemMapFs()
	s := newTestStore(t, mem, nil)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, tenantCfg("acme")))
	before := readOverlay(t, mem)

	// Reopen the store over a filesystem whose rename always fails.
	s2 := newTestStore(t, renameFailFs{mem}, nil)
	err := s2.Set(ctx, tenantCfg("bravo"))
	require.Error(t, err)
	require.True(t, errors.Is(err, problems.TransientIO("", nil)))

	// The target file still holds the last completed write.
	require.ElementsMatch(t, before, readOverlay(t, mem))
}

func TestOverlayWinsOverSeed(t *testing.T) {
	fs := afero.NewMemMapFs()
	fromOverlay := tenantCfg("acme")
	fromOverlay.NetDocs.CabinetID = "overlay-cab"
	raw, err := json.Marshal(overlay{Tenants: []TenantConfig{fromOverlay}})
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, overlayPath, raw, 0o644))

	seed := []TenantConfig{tenantCfg("ACME"), tenantCfg("other")}
	s := newTestStore(t, fs, seed)

	got, err := s.Get(context.Background(), "acme")
	require.NoError(t, err)
	require.Equal(t, "overlay-cab", got.NetDocs.CabinetID)

	list, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newTestStore(t, fs, nil)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, tenantCfg("acme")))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.Get(ctx, "acme")
			_, _ = s.List(ctx)
		}()
		go func() {
			defer wg.Done()
			_ = s.Set(ctx, tenantCfg("acme"))
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, "acme", got.Prime.Tenant)
}

func TestRedactedLeavesStoreUntouched(t *testing.T) {
	s := newTestStore(t, afero.NewMemMapFs(), nil)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, tenantCfg("acme")))

	got, err := s.Get(ctx, "acme")
	require.NoError(t, err)
	red := got.Redacted()
	require.Equal(t, "<redacted>", red.NetDocs.ClientSecret)

	again, err := s.Get(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, "nd-secret", again.NetDocs.ClientSecret)
}
