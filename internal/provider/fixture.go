// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/fusion-engine/pkg/types"
)

// FixtureFile is the on-disk format of a fixture provider.
//
//	key_param: symbol
//	delay: 40ms
//	records:
//	  stock_price:
//	    AAPL: {symbol: AAPL, price: 189.5, currency: USD}
type FixtureFile struct {
	// KeyParam names the request param used to look up records (default "symbol").
	KeyParam string `yaml:"key_param"`

	// Delay is added to every call to simulate network latency.
	Delay time.Duration `yaml:"delay"`

	// Error, when set, makes every call fail with this message.
	Error string `yaml:"error"`

	// Down makes health probes fail.
	Down bool `yaml:"down"`

	// Records maps tool to identifier to payload.
	Records map[string]map[string]types.Record `yaml:"records"`
}

// FixtureProvider answers from static records, for demos and offline runs.
type FixtureProvider struct {
	id   string
	data FixtureFile
}

// NewFixture creates a fixture provider from in-memory data.
func NewFixture(id string, data FixtureFile) *FixtureProvider {
	if data.KeyParam == "" {
		data.KeyParam = "symbol"
	}
	return &FixtureProvider{id: id, data: data}
}

// LoadFixture reads a fixture provider from a YAML file.
func LoadFixture(id, path string) (*FixtureProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture %s: %w", path, err)
	}
	var data FixtureFile
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parsing fixture %s: %w", path, err)
	}
	return NewFixture(id, data), nil
}

// Name returns the provider ID.
func (f *FixtureProvider) Name() string { return f.id }

// Execute returns a copy of the record for the request's key param.
func (f *FixtureProvider) Execute(ctx context.Context, tool string, params types.Params) (Response, error) {
	if f.data.Delay > 0 {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(f.data.Delay):
		}
	}
	if f.data.Error != "" {
		return Response{}, errors.New(f.data.Error)
	}

	key := params[f.data.KeyParam]
	rec, ok := f.data.Records[tool][key]
	if !ok {
		return Response{}, fmt.Errorf("no %s record for %q", tool, key)
	}
	return Response{Data: rec.Clone()}, nil
}

// Ping fails when the fixture is marked down.
func (f *FixtureProvider) Ping(ctx context.Context) error {
	if f.data.Down {
		return errors.New("fixture marked down")
	}
	return ctx.Err()
}
