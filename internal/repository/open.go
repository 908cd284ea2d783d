package repository

import (
	"context"
	"fmt"

	"github.com/gitjhb/luna-sub003/internal/config"
	"github.com/gitjhb/luna-sub003/internal/db"
)

// Stores agrupa los repositorios de un driver y su cierre.
type Stores struct {
	Driver   string
	Messages MessageRepository
	Sessions SessionRepository
	Close    func()
}

// Open abre el store local según LOCAL_STORE_DRIVER.
func Open(ctx context.Context, cfg *config.Config) (Stores, error) {
	switch cfg.LocalStoreDriver {
	case config.LocalStoreMemory:
		return Stores{
			Driver:   cfg.LocalStoreDriver,
			Messages: NewMemoryMessageRepository(),
			Sessions: NewMemorySessionRepository(),
			Close:    func() {},
		}, nil
	case config.LocalStoreSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.LocalStorePath)
		if err != nil {
			return Stores{}, fmt.Errorf("open sqlite: %w", err)
		}
		return Stores{
			Driver:   cfg.LocalStoreDriver,
			Messages: NewSQLiteMessageRepository(conn),
			Sessions: NewSQLiteSessionRepository(conn),
			Close:    func() { _ = conn.Close() },
		}, nil
	case config.LocalStorePostgres:
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			return Stores{}, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.Ping(ctx, pool); err != nil {
			pool.Close()
			return Stores{}, fmt.Errorf("ping postgres: %w", err)
		}
		if err := db.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return Stores{}, fmt.Errorf("migrate postgres: %w", err)
		}
		return Stores{
			Driver:   cfg.LocalStoreDriver,
			Messages: NewPgMessageRepository(pool),
			Sessions: NewPgSessionRepository(pool),
			Close:    pool.Close,
		}, nil
	default:
		return Stores{}, fmt.Errorf("unknown local store driver %q", cfg.LocalStoreDriver)
	}
}
