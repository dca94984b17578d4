// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets resolves provider API keys from a directory of plain-text
// files. A file's name is the secret name and its trimmed contents are the
// value. A provider reads the secret named by its api_key_secret setting, or
// <provider-id>-api-key when that is unset.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pdiddy/fusion-engine/pkg/types"
)

// Store holds the secrets read from one directory. A nil Store has no
// secrets.
type Store struct {
	dir    string
	values map[string]string
}

// Load reads every regular, non-hidden file in dir. A missing directory
// yields an empty store. Unreadable or empty files are skipped.
func Load(dir string, logger zerolog.Logger) (*Store, error) {
	s := &Store{dir: dir, values: map[string]string{}}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn().Err(err).Str("secret", name).Msg("could not read secret")
			continue
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			s.values[name] = v
		}
	}
	return s, nil
}

// Names returns the loaded secret names, sorted. Values are never listed.
func (s *Store) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// KeyName returns the secret name holding cfg's API key.
func KeyName(cfg types.ProviderConfig) string {
	if cfg.APIKeySecret != "" {
		return cfg.APIKeySecret
	}
	return cfg.ID + "-api-key"
}

// ProviderKey returns cfg's API key, or "" when none is stored.
func (s *Store) ProviderKey(cfg types.ProviderConfig) string {
	if s == nil {
		return ""
	}
	return s.values[KeyName(cfg)]
}

// Missing lists the http providers that send an API key header but have no
// key on disk, as "<provider-id> (<secret name>)".
func (s *Store) Missing(providers []types.ProviderConfig) []string {
	var out []string
	for _, p := range providers {
		if p.Kind != types.ProviderHTTP || p.APIKeyHeader == "" {
			continue
		}
		if s.ProviderKey(p) == "" {
			out = append(out, fmt.Sprintf("%s (%s)", p.ID, KeyName(p)))
		}
	}
	return out
}
