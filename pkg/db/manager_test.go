package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteConfig(t *testing.T, name string) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Driver = DriverSQLite
	cfg.Database = filepath.Join(t.TempDir(), name)
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	cfg.Logging.Level = "silent"
	return cfg
}

func TestNewManagerKeepsConfigsIndependent(t *testing.T) {
	ctx := context.Background()

	first, err := NewManager(sqliteConfig(t, "first.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })

	second, err := NewManager(sqliteConfig(t, "second.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	assert.NotSame(t, first, second)
	assert.NotEqual(t, first.Config().Database, second.Config().Database)
	require.NoError(t, first.Ping(ctx))
	require.NoError(t, second.Ping(ctx))

	require.NoError(t, first.DB().AutoMigrate(&widget{}))
	require.NoError(t, first.DB().Create(&widget{Name: "only in first"}).Error)
	assert.False(t, second.DB().Migrator().HasTable(&widget{}))

	// Closing one pool leaves the other usable
	require.NoError(t, first.Close())
	assert.Error(t, first.Ping(ctx))
	assert.NoError(t, second.Ping(ctx))
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	_, err := NewManager(nil)
	assert.Error(t, err)

	_, err = NewManager(DefaultConfig())
	assert.Error(t, err, "mysql requires a host")
}
