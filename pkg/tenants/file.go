package tenants

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"docbridge/pkg/problems"
)

// overlay is the shape of the persisted tenant file. Only the tenant list is
// written; base configuration never round-trips through this file.
type overlay struct {
	Tenants []TenantConfig `json:"tenants"`
}

// fileStore keeps the tenant set in memory behind a RWMutex and mirrors every
// mutation to a JSON overlay file with atomic replace semantics.
type fileStore struct {
	log  *zap.SugaredLogger
	fs   afero.Fs
	path string

	mu      sync.RWMutex
	tenants []TenantConfig
}

// NewFileStore loads the overlay at path (if it exists) and layers it over the
// seed list from base configuration; overlay entries win by alias.
func NewFileStore(log *zap.SugaredLogger, fs afero.Fs, path string, seed []TenantConfig) (Store, error) {
	s := &fileStore{log: log, fs: fs, path: path}

	byAlias := map[string]int{}
	for _, t := range seed {
		if a := t.Alias(); a != "" {
			t.Prime.Tenant = a
			if i, ok := byAlias[a]; ok {
				s.tenants[i] = t
				continue
			}
			byAlias[a] = len(s.tenants)
			s.tenants = append(s.tenants, t)
		}
	}

	raw, err := afero.ReadFile(fs, path)
	switch {
	case err == nil:
		var ov overlay
		if err := json.Unmarshal(raw, &ov); err != nil {
			return nil, problems.Protocol("tenant overlay %s is not valid JSON: %v", path, err)
		}
		for _, t := range ov.Tenants {
			a := t.Alias()
			if a == "" {
				continue
			}
			t.Prime.Tenant = a
			if i, ok := byAlias[a]; ok {
				s.tenants[i] = t
			} else {
				byAlias[a] = len(s.tenants)
				s.tenants = append(s.tenants, t)
			}
		}
		log.Infow("tenant overlay loaded", "path", path, "tenants", len(s.tenants))
	case os.IsNotExist(err):
		log.Infow("no tenant overlay yet", "path", path)
	default:
		return nil, problems.TransientIO("read tenant overlay", err)
	}

	return s, nil
}

func (s *fileStore) List(ctx context.Context) ([]TenantConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TenantConfig, len(s.tenants))
	copy(out, s.tenants)
	return out, nil
}

func (s *fileStore) Get(ctx context.Context, alias string) (TenantConfig, error) {
	a := NormalizeAlias(alias)
	if a == "" {
		return TenantConfig{}, problems.InvalidArgument("tenant alias must be specified")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if t.Alias() == a {
			return t, nil
		}
	}
	return TenantConfig{}, problems.NotFound("no configuration found for tenant %s", a)
}

func (s *fileStore) Set(ctx context.Context, cfg TenantConfig) error {
	a := cfg.Alias()
	if a == "" {
		return problems.InvalidArgument("tenant alias must be specified")
	}
	cfg.Prime.Tenant = a

	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := false
	for i, t := range s.tenants {
		if t.Alias() == a {
			s.tenants[i] = cfg
			replaced = true
			break
		}
	}
	if !replaced {
		s.tenants = append(s.tenants, cfg)
	}
	return s.persistLocked()
}

func (s *fileStore) Delete(ctx context.Context, alias string) error {
	a := NormalizeAlias(alias)
	if a == "" {
		return problems.InvalidArgument("tenant alias must be specified")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tenants {
		if t.Alias() == a {
			s.tenants = append(s.tenants[:i], s.tenants[i+1:]...)
			break
		}
	}
	return s.persistLocked()
}

// persistLocked writes the tenant list to a temp file in the target directory
// and renames it over the overlay, so a crash mid-write never truncates the
// previous file. Must be called with the write lock held so the in-memory and
// on-disk views cannot diverge across writes.
func (s *fileStore) persistLocked() error {
	raw, err := json.MarshalIndent(overlay{Tenants: s.tenants}, "", "  ")
	if err != nil {
		return problems.TransientIO("encode tenant overlay", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := afero.TempFile(s.fs, dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return problems.TransientIO("create temp overlay", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return problems.TransientIO("write temp overlay", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return problems.TransientIO("close temp overlay", err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		_ = s.fs.Remove(tmpName)
		return problems.TransientIO("replace tenant overlay", err)
	}
	return nil
}
