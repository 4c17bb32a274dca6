package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classroom-sync-api/pkg/config"
)

func TestOpenSQLiteBootstrapsOverlayTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.db")
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", SQLitePath: path})
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM class_overlays`))
	assert.Equal(t, 0, count)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)
}
