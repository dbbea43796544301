package main

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/draftmill/draftmill/config"
	"github.com/draftmill/draftmill/internal/bootstrap"
)

// connectDB opens the database the admin commands operate on. Redis is never
// needed here; every command is a direct read or write against Postgres.
func connectDB(logger *slog.Logger, cfg *config.AppConfig) (*sql.DB, error) {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cfg.Postgres,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return db, nil
}

func closeDB(logger *slog.Logger, db *sql.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		logger.Warn("db close failed", "error", err)
	}
}
