package config

import (
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config interface {
	EnvConfig
	IdentityConfig
	StoreConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	Identity
	Store
}

// New reads the configuration from the environment. A .env file in the
// working directory (or the file named by DOTENV_FILE) is loaded first when
// present; variables already set in the environment take precedence.
func New() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, errors.Wrap(err, "[config.New] loadDotEnv")
	}

	c := mainConfig{}
	if err := env.Parse(&c); err != nil {
		return nil, errors.Wrap(err, "[config.New] parse env")
	}
	if err := c.Identity.validate(); err != nil {
		return nil, errors.Wrap(err, "[config.New] identity")
	}
	if err := c.Store.validate(); err != nil {
		return nil, errors.Wrap(err, "[config.New] token store")
	}
	return c, nil
}

func loadDotEnv() error {
	file := GetEnv("DOTENV_FILE", ".env")
	if _, err := os.Stat(file); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(file)
}
