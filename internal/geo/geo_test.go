package geo_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCjw/DoHVerifier/internal/geo"
)

func TestNop(t *testing.T) {
	var lookup geo.Lookup = geo.Nop{}

	code, ok := lookup.Country("8.8.8.8")
	assert.False(t, ok)
	assert.Empty(t, code)
}

func TestOpenErrors(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		_, err := geo.Open(filepath.Join(t.TempDir(), "GeoLite2-Country.mmdb"))
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("not a database", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bogus.mmdb")
		require.NoError(t, os.WriteFile(path, []byte("definitely not a maxmind db"), 0o600))

		_, err := geo.Open(path)
		assert.Error(t, err)
	})
}

// TestOpenDatabase runs against a real database when GEOIP_TEST_DB points
// to one.
func TestOpenDatabase(t *testing.T) {
	path := os.Getenv("GEOIP_TEST_DB")
	if path == "" {
		t.Skip("GEOIP_TEST_DB not set")
	}

	db, err := geo.Open(path)
	require.NoError(t, err)
	defer db.Close()

	t.Logf("database type: %s", db.DatabaseType())

	_, ok := db.Country("not an ip")
	assert.False(t, ok)

	code, ok := db.Country("8.8.8.8")
	assert.True(t, ok)
	assert.Len(t, code, 2)
}
