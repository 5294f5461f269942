package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadState(t *testing.T) {
	genesis := time.Now()

	t.Run("initialize fresh data directory", func(t *testing.T) {
		s, err := loadState(context.Background(), t.TempDir(), genesis)
		require.NoError(t, err)
		require.NotEmpty(t, s.Genesis)
	})
	t.Run("accept matching genesis", func(t *testing.T) {
		dir := t.TempDir()
		s, err := loadState(context.Background(), dir, genesis)
		require.NoError(t, err)
		require.NoError(t, saveState(dir, s))

		s2, err := loadState(context.Background(), dir, genesis)
		require.NoError(t, err)
		require.Equal(t, s.Genesis, s2.Genesis)
	})
	t.Run("reject different genesis", func(t *testing.T) {
		dir := t.TempDir()
		s, err := loadState(context.Background(), dir, genesis)
		require.NoError(t, err)
		require.NoError(t, saveState(dir, s))

		_, err = loadState(context.Background(), dir, genesis.Add(time.Hour))
		require.Error(t, err)
		require.ErrorContains(t, err, "initialized with genesis")
	})
	t.Run("reject corrupt state file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, stateFilename), []byte("not xdr"), 0o600))

		_, err := loadState(context.Background(), dir, genesis)
		require.Error(t, err)
	})
}
