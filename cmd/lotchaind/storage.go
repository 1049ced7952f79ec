package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agrisentinel/lotchain/internal/ledger"
	"github.com/agrisentinel/lotchain/pkg/custody"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// openLedger builds the Ledger named by driver. The returned func releases
// its resources.
func openLedger(ctx context.Context, driver string, tb custody.TieBreak, logger *zap.Logger) (ledger.Ledger, func(), error) {
	switch driver {
	case "memory":
		logger.Warn("using in-memory ledger; custody events will not survive a restart")
		l := ledger.NewMemory()
		l.SetTieBreak(tb)
		return l, func() {}, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, viper.GetString("database.url"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		l := ledger.NewPostgresLedger(pool, logger)
		l.SetTieBreak(tb)
		return l, pool.Close, nil

	case "sqlite":
		path := viper.GetString("sqlite.path")
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		l, err := ledger.OpenSQLite(path, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("opened sqlite ledger", zap.String("path", path))
		l.SetTieBreak(tb)
		return l, func() {
			if err := l.Close(); err != nil {
				logger.Error("close sqlite ledger", zap.Error(err))
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown storage.driver %q (want memory, postgres or sqlite)", driver)
}
