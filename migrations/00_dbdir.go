package migrations

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"go.uber.org/zap"

	"github.com/orrerynet/orrery/logging"
	"github.com/orrerynet/orrery/server"
)

// Early orrery versions kept every database under the data directory:
// round submissions in <datadir>/rounds/<epoch>/submissionsDb and the
// results history in <datadir>/results. Databases now live under the
// dedicated db directory.
func migrateDbDir(ctx context.Context, cfg *server.Config) error {
	if err := migrateResultsDb(ctx, cfg); err != nil {
		return fmt.Errorf("migrating results DB: %w", err)
	}
	if err := migrateRoundsDbs(ctx, cfg); err != nil {
		return fmt.Errorf("migrating rounds DBs: %w", err)
	}

	return nil
}

func migrateRoundsDbs(ctx context.Context, cfg *server.Config) error {
	roundsDataDir := filepath.Join(cfg.DataDir, "rounds")
	// check if dir exists
	if _, err := os.Stat(roundsDataDir); os.IsNotExist(err) {
		return nil
	}

	logger := logging.FromContext(ctx)
	logger.Info("migrating rounds DBs", zap.String("datadir", cfg.DataDir))
	entries, err := os.ReadDir(roundsDataDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		if _, err := strconv.ParseUint(entry.Name(), 10, 32); err != nil {
			return fmt.Errorf("entry is not an epoch number %s", entry.Name())
		}

		dbdir := filepath.Join(cfg.DbDir, "rounds", entry.Name())
		oldDbDir := filepath.Join(roundsDataDir, entry.Name(), "submissionsDb")
		if err := copyDb(ctx, dbdir, oldDbDir); err != nil {
			return fmt.Errorf("migrating round DB from %s: %w", oldDbDir, err)
		}
	}
	return nil
}

func migrateResultsDb(ctx context.Context, cfg *server.Config) error {
	resultsDbPath := filepath.Join(cfg.DbDir, "results")
	oldResultsDbPath := filepath.Join(cfg.DataDir, "results")
	if err := copyDb(ctx, resultsDbPath, oldResultsDbPath); err != nil {
		return fmt.Errorf("migrating results DB %s -> %s: %w", oldResultsDbPath, resultsDbPath, err)
	}
	return nil
}

// copyDb copies a database to a new location.
// It opens both DBs, copies the data over in one transaction and
// removes the old DB.
func copyDb(ctx context.Context, targetDbDir, oldDbDir string) error {
	log := logging.FromContext(ctx)
	log.Info(
		"attempting DB location migration",
		zap.String("oldDbDir", oldDbDir),
		zap.String("targetDbDir", targetDbDir),
	)
	if oldDbDir == targetDbDir {
		log.Debug("skipping in-place DB migration")
		return nil
	}

	oldDb, err := leveldb.OpenFile(oldDbDir, &opt.Options{ErrorIfMissing: true})
	switch {
	case os.IsNotExist(err):
		log.Debug("skipping DB migration - old DB doesn't exist")
		return nil
	case err != nil:
		return fmt.Errorf("opening old DB: %w", err)
	}
	defer oldDb.Close()

	targetDb, err := leveldb.OpenFile(targetDbDir, &opt.Options{ErrorIfExist: true})
	if err != nil {
		return fmt.Errorf("opening target DB: %w", err)
	}
	defer targetDb.Close()

	tx, err := targetDb.OpenTransaction()
	if err != nil {
		return fmt.Errorf("opening new DB transaction: %w", err)
	}
	iter := oldDb.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		if err := tx.Put(iter.Key(), iter.Value(), nil); err != nil {
			tx.Discard()
			return fmt.Errorf("migrating key %X: %w", iter.Key(), err)
		}
	}
	iter.Release()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing DB transaction: %w", err)
	}

	// Remove old DB
	log.Info("removing the old DB")
	if err := oldDb.Close(); err != nil {
		return fmt.Errorf("closing old DB: %w", err)
	}
	if err := os.RemoveAll(oldDbDir); err != nil {
		return fmt.Errorf("removing old DB: %w", err)
	}
	log.Info("DB migrated to new location")
	return nil
}
