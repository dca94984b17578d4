// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"net/http"
	"path/filepath"

	"github.com/pdiddy/fusion-engine/internal/fault"
	"github.com/pdiddy/fusion-engine/internal/secrets"
	"github.com/pdiddy/fusion-engine/pkg/types"
)

// Build constructs the adapter for cfg. Relative fixture paths resolve
// against baseDir. API keys come from keys, which may be nil.
func Build(cfg types.ProviderConfig, baseDir string, keys *secrets.Store, client *http.Client) (Provider, error) {
	switch cfg.Kind {
	case types.ProviderHTTP, "":
		p, err := NewHTTP(cfg, client, keys.ProviderKey(cfg))
		if err != nil {
			return nil, fault.Configf("%v", err)
		}
		return p, nil
	case types.ProviderFixture:
		path := cfg.FixtureFile
		if path == "" {
			return nil, fault.Configf("provider %s: fixture_file is required", cfg.ID)
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		p, err := LoadFixture(cfg.ID, path)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fault.Configf("provider %s: unknown kind %q", cfg.ID, cfg.Kind)
	}
}

// BuildAll constructs every configured provider.
func BuildAll(cfgs []types.ProviderConfig, baseDir string, keys *secrets.Store, client *http.Client) ([]Provider, error) {
	out := make([]Provider, 0, len(cfgs))
	for _, c := range cfgs {
		p, err := Build(c, baseDir, keys, client)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
