// Package migrations moves on-disk state left behind by previous
// orrery versions into the current layout. Run it before the server
// opens its databases.
package migrations

import (
	"context"

	"github.com/orrerynet/orrery/logging"
	"github.com/orrerynet/orrery/server"
)

func Migrate(ctx context.Context, cfg *server.Config) error {
	ctx = logging.NewContext(ctx, logging.FromContext(ctx).Named("migrations"))
	if err := migrateDbDir(ctx, cfg); err != nil {
		return err
	}
	return nil
}
