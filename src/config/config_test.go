package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "reldb.pages", cfg.PageFilePath)
	assert.Equal(t, uint64(64), cfg.PoolSize)
	assert.Equal(t, uint32(1), cfg.PoolInstances)
	assert.False(t, cfg.Debug)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("RELDB_POOL_SIZE", "128")
	t.Setenv("RELDB_POOL_INSTANCES", "4")
	t.Setenv("RELDB_PAGE_FILE", "custom.pages")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "custom.pages", cfg.PageFilePath)
	assert.Equal(t, uint64(128), cfg.PoolSize)
	assert.Equal(t, uint32(4), cfg.PoolInstances)
}
