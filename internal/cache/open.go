// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"context"

	"github.com/pdiddy/fusion-engine/internal/fault"
	"github.com/pdiddy/fusion-engine/pkg/types"
)

// OpenShared connects the shared tier selected by cfg. It returns a nil
// Shared for the "none" backend.
func OpenShared(ctx context.Context, cfg types.CacheConfig) (Shared, error) {
	switch cfg.Shared {
	case types.SharedNone, "":
		return nil, nil
	case types.SharedRedis:
		s, err := NewRedisStore(ctx, cfg.RedisURL, cfg.KeyPrefix)
		if err != nil {
			return nil, err
		}
		return s, nil
	case types.SharedSQLite:
		s, err := OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fault.Configf("cache: unknown shared backend %q", cfg.Shared)
	}
}
