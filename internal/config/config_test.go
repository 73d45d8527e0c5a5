package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	c, err := Parse()
	require.NoError(t, err)
	require.Equal(t, ":8080", c.Addr)
	require.Equal(t, "info", c.LogLevel)
	require.False(t, c.DisableDB)
	require.Equal(t, filepath.Join("./data", "index.db"), c.IndexPath())
	require.NoError(t, c.Validate())
}

func TestParse_Env(t *testing.T) {
	t.Setenv("VM_ADDR", "127.0.0.1:9000")
	t.Setenv("VM_DATA_DIR", "/tmp/vm")
	t.Setenv("VM_DISABLE_DB", "true")
	t.Setenv("VM_SEED", "42")
	t.Setenv("VM_LOG_LEVEL", "debug")
	t.Setenv("VM_ARCHIVE_ENDPOINT", "https://r2.example")
	t.Setenv("VM_ARCHIVE_BUCKET", "trials")

	c, err := Parse()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", c.Addr)
	require.True(t, c.DisableDB)
	require.Equal(t, uint64(42), c.Seed)
	require.Equal(t, "/tmp/vm/index.db", c.IndexPath())
	require.Equal(t, "https://r2.example", c.Archive.Endpoint)
	require.Equal(t, "trials", c.Archive.Bucket)
	require.Equal(t, "auto", c.Archive.Region)

	c.DBPath = "/var/lib/vm.db"
	require.Equal(t, "/var/lib/vm.db", c.IndexPath())
}

func TestParse_BadValue(t *testing.T) {
	t.Setenv("VM_SEED", "not-a-number")
	_, err := Parse()
	require.ErrorContains(t, err, "parse env")
}

func TestValidate(t *testing.T) {
	c, err := Parse()
	require.NoError(t, err)
	c.LogLevel = "loud"
	require.Error(t, c.Validate())
	c.LogLevel = "warn"
	c.Addr = " "
	require.Error(t, c.Validate())
}
