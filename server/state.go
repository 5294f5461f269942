package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	xdr "github.com/nullstyle/go-xdr/xdr3"
	"go.uber.org/zap"

	"github.com/orrerynet/orrery/logging"
)

const stateFilename = "state.bin"

// state pins a data directory to the genesis it was initialized with.
// Round numbering and the recovery scan are relative to genesis, so
// reusing a directory with a different genesis would silently mix
// rounds from two incompatible schedules.
type state struct {
	Genesis string
}

// loadState reads the persisted state, initializing a fresh one when
// the data directory has none yet. A persisted genesis that differs
// from the configured one is an error.
func loadState(ctx context.Context, datadir string, genesis time.Time) (*state, error) {
	filename := filepath.Join(datadir, stateFilename)
	s := &state{}
	if err := load(filename, s); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logging.FromContext(ctx).Info("initializing state", zap.String("datadir", datadir))
			return &state{Genesis: genesis.UTC().Format(time.RFC3339Nano)}, nil
		}
		return nil, err
	}

	persisted, err := time.Parse(time.RFC3339Nano, s.Genesis)
	if err != nil {
		return nil, fmt.Errorf("parsing persisted genesis: %w", err)
	}
	if !persisted.Equal(genesis) {
		return nil, fmt.Errorf(
			"data directory %s was initialized with genesis %s but the configured genesis is %s",
			datadir, persisted.Format(time.RFC3339Nano), genesis.UTC().Format(time.RFC3339Nano),
		)
	}
	return s, nil
}

func saveState(datadir string, s *state) error {
	return persist(filepath.Join(datadir, stateFilename), s)
}

func persist(filename string, v any) error {
	var w bytes.Buffer
	if _, err := xdr.Marshal(&w, v); err != nil {
		return fmt.Errorf("serializing: %w", err)
	}
	if err := atomic.WriteFile(filename, &w); err != nil {
		return fmt.Errorf("writing to disk: %w", err)
	}
	return nil
}

func load(filename string, v any) error {
	data, err := os.ReadFile(filename) //#nosec G304
	if err != nil {
		return fmt.Errorf("loading file: %w", err)
	}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("deserializing: %w", err)
	}
	return nil
}
