// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/fusion-engine/pkg/types"
)

func TestLoad_SkipsHiddenEmptyAndDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "finnhub-api-key", "  fh_live \n")
	writeFile(t, dir, "polygon-api-key", "   \n\t")
	writeFile(t, dir, ".gitkeep", "")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "old"), 0o755))

	s, err := Load(dir, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"finnhub-api-key"}, s.Names())
	assert.Equal(t, "fh_live", s.ProviderKey(types.ProviderConfig{ID: "finnhub"}))
}

func TestLoad_MissingDirectoryIsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope"), zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, s.Names())
}

func TestLoad_UnreadableFileIsSkipped(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read any file")
	}
	dir := t.TempDir()
	writeFile(t, dir, "finnhub-api-key", "fh_live")
	bad := filepath.Join(dir, "polygon-api-key")
	require.NoError(t, os.WriteFile(bad, []byte("pg"), 0o000))
	t.Cleanup(func() { os.Chmod(bad, 0o644) })

	s, err := Load(dir, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"finnhub-api-key"}, s.Names())
}

func TestProviderKey_SecretOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "finnhub-api-key", "default")
	writeFile(t, dir, "finnhub-paid", "paid")

	s, err := Load(dir, zerolog.Nop())
	require.NoError(t, err)

	tests := []struct {
		name string
		cfg  types.ProviderConfig
		key  string
		want string
	}{
		{"default name", types.ProviderConfig{ID: "finnhub"}, "finnhub-api-key", "default"},
		{"override", types.ProviderConfig{ID: "finnhub", APIKeySecret: "finnhub-paid"}, "finnhub-paid", "paid"},
		{"absent", types.ProviderConfig{ID: "polygon"}, "polygon-api-key", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, KeyName(tt.cfg))
			assert.Equal(t, tt.want, s.ProviderKey(tt.cfg))
		})
	}

	var none *Store
	assert.Empty(t, none.ProviderKey(types.ProviderConfig{ID: "finnhub"}))
}

func TestMissing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "finnhub-api-key", "fh")
	s, err := Load(dir, zerolog.Nop())
	require.NoError(t, err)

	providers := []types.ProviderConfig{
		{ID: "finnhub", Kind: types.ProviderHTTP, APIKeyHeader: "X-Finnhub-Token"},
		{ID: "polygon", Kind: types.ProviderHTTP, APIKeyHeader: "Authorization", APIKeySecret: "polygon-token"},
		{ID: "public", Kind: types.ProviderHTTP},
		{ID: "alpha", Kind: types.ProviderFixture, APIKeyHeader: "X-Ignored"},
	}
	assert.Equal(t, []string{"polygon (polygon-token)"}, s.Missing(providers))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
