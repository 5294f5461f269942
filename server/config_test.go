package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orrerynet/orrery/shared"
)

func TestReadingNonExistingConfigFile(t *testing.T) {
	cfg := Config{
		ConfigFile: "non-existing-file",
	}
	_, err := ReadConfigFile(&cfg)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadConfigFile(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	cfg := &Config{
		ConfigFile: filepath.Join(dir, "config.ini"),
	}
	err := os.WriteFile(cfg.ConfigFile, []byte("datadir = /tmp"), 0o600)
	require.NoError(t, err)

	cfg, err = ReadConfigFile(cfg)
	require.NoError(t, err)
	require.Equal(t, "/tmp", cfg.DataDir)
}

func TestReadConfigFilePathNotSet(t *testing.T) {
	cfg, err := ReadConfigFile(&Config{})
	require.NoError(t, err)
	require.Equal(t, &Config{}, cfg)
}

func TestSetupConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.OrreryDir = filepath.Join(dir, "orrery")

	cfg, err := SetupConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cfg.OrreryDir, defaultDataDirname), cfg.DataDir)
	require.Equal(t, filepath.Join(cfg.OrreryDir, defaultDbDirName), cfg.DbDir)
	require.Equal(t, filepath.Join(cfg.OrreryDir, defaultLogDirname), cfg.LogDir)
	require.DirExists(t, cfg.OrreryDir)
}

func TestCalculatingOpenRoundId(t *testing.T) {
	t.Parallel()
	t.Run("before genesis", func(t *testing.T) {
		now := time.Now()
		cfg := RoundConfig{
			EpochDuration: time.Hour,
			PhaseShift:    time.Minute,
		}
		openRoundId := cfg.OpenRoundId(now.Add(time.Minute), now)
		require.Equal(t, uint(0), openRoundId)
	})
	t.Run("after genesis, but within phase shift", func(t *testing.T) {
		now := time.Now()
		cfg := RoundConfig{
			EpochDuration: time.Hour,
			PhaseShift:    time.Minute * 10,
		}
		openRoundId := cfg.OpenRoundId(now.Add(-time.Minute), now)
		require.Equal(t, uint(0), openRoundId)
	})
	t.Run("in the first round window", func(t *testing.T) {
		now := time.Now()
		cfg := RoundConfig{
			EpochDuration: time.Hour,
			PhaseShift:    time.Minute,
		}
		openRoundId := cfg.OpenRoundId(now.Add(-2*time.Minute), now)
		require.Equal(t, uint(0), openRoundId)
	})
	t.Run("within the cycle gap the next round is open", func(t *testing.T) {
		now := time.Now()
		cfg := RoundConfig{
			EpochDuration: time.Hour,
			CycleGap:      time.Minute * 10,
		}
		openRoundId := cfg.OpenRoundId(now.Add(-time.Minute*55), now)
		require.Equal(t, uint(1), openRoundId)
	})
	t.Run("in a distant epoch", func(t *testing.T) {
		now := time.Now()
		cfg := RoundConfig{
			EpochDuration: time.Hour,
			PhaseShift:    time.Minute,
		}
		openRoundId := cfg.OpenRoundId(now.Add(-time.Hour*100), now)
		require.Equal(t, uint(99), openRoundId)
	})
}

func TestRoundConfigValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, DefaultRoundConfig().Validate())

	invalid := []RoundConfig{
		{EpochDuration: time.Hour},
		{EpochDuration: time.Second, CycleGap: time.Second},
		{EpochDuration: time.Second, CycleGap: time.Minute},
		{},
	}
	for _, cfg := range invalid {
		cfg := cfg
		require.ErrorIs(t, cfg.Validate(), shared.ErrInvalidConfiguration)
	}
}

func TestRoundSchedule(t *testing.T) {
	t.Parallel()
	genesis := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	cfg := RoundConfig{
		EpochDuration: time.Hour,
		PhaseShift:    time.Minute * 10,
		CycleGap:      time.Minute * 5,
	}

	require.Equal(t, genesis.Add(time.Minute*10), cfg.RoundStart(genesis, 0))
	require.Equal(t, genesis.Add(time.Minute*10+time.Hour*3), cfg.RoundStart(genesis, 3))
	require.Equal(t, cfg.RoundStart(genesis, 1).Add(-time.Minute*5), cfg.RoundEnd(genesis, 0))
	require.Equal(t, time.Minute*55, cfg.RoundDuration())
}
