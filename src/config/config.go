package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is read from the environment (RELDB_* variables), optionally
// seeded from a .env file.
type Config struct {
	PageFilePath  string `envconfig:"PAGE_FILE" default:"reldb.pages"`
	PoolSize      uint64 `envconfig:"POOL_SIZE" default:"64"`
	PoolInstances uint32 `envconfig:"POOL_INSTANCES" default:"1"`
	Debug         bool   `envconfig:"DEBUG" default:"false"`
}

func Load() (Config, error) {
	// Missing .env is fine; the environment still applies.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("reldb", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
