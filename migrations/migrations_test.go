package migrations_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orrerynet/orrery/migrations"
	"github.com/orrerynet/orrery/server"
)

func TestMigrate(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.OrreryDir = t.TempDir()
	cfg.DataDir = t.TempDir()
	cfg.DbDir = t.TempDir()
	require.NoError(t, migrations.Migrate(context.Background(), cfg))
}
