package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sethvargo/go-retry"

	"github.com/qrave1/parley/internal/application/config"
	"github.com/qrave1/parley/internal/application/constant"
)

// NewPostgres подключается к базе, повторяя попытки с экспоненциальной задержкой:
// при старте в compose база обычно поднимается позже приложения.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*sqlx.DB, error) {
	backoff := retry.WithMaxRetries(cfg.ConnectAttempts, retry.NewExponential(cfg.ConnectBackoff))

	var db *sqlx.DB

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		conn, err := sqlx.ConnectContext(dbCtx, "pgx", cfg.DSN())
		if err != nil {
			slog.Warn("connect to postgres, retrying", slog.Any(constant.Error, err))
			return retry.RetryableError(fmt.Errorf("failed to connect to postgres: %w", err))
		}

		if err = conn.PingContext(dbCtx); err != nil {
			_ = conn.Close()
			return retry.RetryableError(fmt.Errorf("failed to ping postgres: %w", err))
		}

		db = conn

		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("connected to postgres")

	return db, nil
}
