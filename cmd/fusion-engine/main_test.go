// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/fusion-engine/internal/config"
	"github.com/pdiddy/fusion-engine/internal/secrets"
)

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	var unset context.Context
	for _, parent := range []context.Context{unset, context.Background()} {
		buf.Reset()
		ctx := withLogger(parent, log)
		zerolog.Ctx(ctx).Debug().Str("url", "http://vendor/quote").Msg("retrying request")
		assert.Contains(t, buf.String(), "retrying request")
	}
}

const vendorYAML = `
providers:
  - id: vendor
    kind: http
    base_url: http://127.0.0.1:1
    endpoints:
      stock_price: /quote/{symbol}
    api_key_header: X-Api-Key
tools:
  - name: stock_price
    providers: [vendor]
`

func TestNewEngine_WarnsAboutMissingAPIKeys(t *testing.T) {
	cfg, err := config.Parse([]byte(vendorYAML))
	require.NoError(t, err)
	dir := t.TempDir()

	var buf bytes.Buffer
	e, err := newEngine(context.Background(), cfg, dir, nil, zerolog.New(&buf))
	require.NoError(t, err)
	require.NoError(t, e.Close())
	assert.Contains(t, buf.String(), "vendor (vendor-api-key)")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "vendor-api-key"), []byte("k\n"), 0o600))
	keys, err := secrets.Load(dir, zerolog.Nop())
	require.NoError(t, err)

	buf.Reset()
	e, err = newEngine(context.Background(), cfg, dir, keys, zerolog.New(&buf))
	require.NoError(t, err)
	require.NoError(t, e.Close())
	assert.NotContains(t, buf.String(), "API keys not found")
}
