package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"eventpipe/internal/config"
)

// PostgresDB wraps the GORM handle backing the event store, DLQ, and
// credential cache tables.
type PostgresDB struct {
	DB     *gorm.DB
	SqlDB  *sql.DB
	config *config.Config
	logger *slog.Logger
}

// NewPostgresDB opens a pooled connection to Postgres.
func NewPostgresDB(cfg *config.Config, logger *slog.Logger) (*PostgresDB, error) {
	glogger := gormLogger.Default

	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseURL()), &gorm.Config{
		Logger:                 glogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get SQL DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	logger.Info("connected to PostgreSQL")

	return &PostgresDB{
		DB:     db,
		SqlDB:  sqlDB,
		config: cfg,
		logger: logger,
	}, nil
}

// Close releases the underlying connection pool.
func (p *PostgresDB) Close() error {
	p.logger.Info("closing PostgreSQL connection")
	return p.SqlDB.Close()
}

// Health pings the database.
func (p *PostgresDB) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.SqlDB.PingContext(ctx)
}

// GetStats returns connection pool statistics.
func (p *PostgresDB) GetStats() sql.DBStats {
	return p.SqlDB.Stats()
}
