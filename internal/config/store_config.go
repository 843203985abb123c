package config

import (
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
)

// StoreBackend selects where the long-lived token tier lives
type StoreBackend string

const (
	StoreBackendBolt   StoreBackend = "bolt"
	StoreBackendRedis  StoreBackend = "redis"
	StoreBackendMemory StoreBackend = "memory"
)

type StoreConfig interface {
	GetStoreBackend() StoreBackend
	GetStorePath() string
	GetRedisURL() string
	GetStoreKey() []byte
}

type Store struct {
	Backend  string `env:"TOKEN_STORE_BACKEND" envDefault:"bolt"`
	Path     string `env:"TOKEN_STORE_PATH" envDefault:"./data/session.db"`
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	Key      string `env:"TOKEN_STORE_KEY"` // base64, 32 bytes; empty disables sealing
}

var _ StoreConfig = Store{}

func (s Store) GetStoreBackend() StoreBackend {
	return StoreBackend(strings.ToLower(s.Backend))
}

func (s Store) GetStorePath() string {
	return s.Path
}

func (s Store) GetRedisURL() string {
	return s.RedisURL
}

// GetStoreKey returns the decoded sealing key, or nil when none is configured
func (s Store) GetStoreKey() []byte {
	if s.Key == "" {
		return nil
	}
	key, err := base64.StdEncoding.DecodeString(s.Key)
	if err != nil {
		return nil
	}
	return key
}

func (s Store) validate() error {
	switch s.GetStoreBackend() {
	case StoreBackendBolt, StoreBackendRedis, StoreBackendMemory:
	default:
		return errors.Errorf("unknown TOKEN_STORE_BACKEND %q", s.Backend)
	}
	if s.Key != "" {
		key, err := base64.StdEncoding.DecodeString(s.Key)
		if err != nil {
			return errors.Wrap(err, "TOKEN_STORE_KEY is not valid base64")
		}
		if len(key) != 32 {
			return errors.Errorf("TOKEN_STORE_KEY must decode to 32 bytes, got %d", len(key))
		}
	}
	return nil
}
