package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationFilesEmbedded(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		b, err := migrationFiles.ReadFile("migrations/" + e.Name())
		require.NoError(t, err)
		require.NotEmpty(t, b)
	}
}
