package tokenstore

import (
	"context"

	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/pkg/errors"
)

// Open builds a Store from configuration: a memory short-lived tier plus the
// configured long-lived backend, sealed when a key is present.
func Open(ctx context.Context, cfg config.StoreConfig, namespace string) (*Store, error) {
	var long Tier
	switch cfg.GetStoreBackend() {
	case config.StoreBackendBolt:
		bt, err := OpenBoltTier(cfg.GetStorePath(), namespace)
		if err != nil {
			return nil, errors.Wrap(err, "[tokenstore.Open] bolt")
		}
		long = bt
	case config.StoreBackendRedis:
		rt, err := OpenRedisTier(ctx, cfg.GetRedisURL(), namespace)
		if err != nil {
			return nil, errors.Wrap(err, "[tokenstore.Open] redis")
		}
		long = rt
	case config.StoreBackendMemory:
		long = NewMemoryTier()
	default:
		return nil, errors.Errorf("[tokenstore.Open] unknown backend %q", cfg.GetStoreBackend())
	}

	var options []Option
	if key := cfg.GetStoreKey(); key != nil {
		sealer, err := NewSealer(key)
		if err != nil {
			long.Close()
			return nil, errors.Wrap(err, "[tokenstore.Open] sealer")
		}
		options = append(options, WithSealer(sealer))
	}

	return New(NewMemoryTier(), long, options...), nil
}
