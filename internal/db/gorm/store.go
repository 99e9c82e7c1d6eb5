package gorm

import (
	"database/sql"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store wraps the GORM database connection.
type Store struct {
	DB    *gorm.DB
	sqlDB *sql.DB
}

// Config holds database configuration.
type Config struct {
	DSN      string          // Postgres DSN
	MaxConns int             // Maximum number of open connections (default: 8)
	LogLevel logger.LogLevel // GORM log level (logger.Silent for production)
}

// NewStore opens a Postgres-backed store and runs migrations. The pgvector
// extension must be installable by the configured role.
func NewStore(cfg Config) (*Store, error) {
	return Open(postgres.Open(cfg.DSN), cfg)
}

// Open opens a store on an arbitrary dialector. Production uses Postgres;
// tests open an in-process SQLite database through the same path (vector
// search then falls back to the linear scanner).
func Open(dial gorm.Dialector, cfg Config) (*Store, error) {
	db, err := gorm.Open(dial, &gorm.Config{
		Logger:      logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("raw db handle: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 8
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{DB: db, sqlDB: sqlDB}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping() error {
	return s.sqlDB.Ping()
}

// IsPostgres reports whether the store runs on Postgres. Advisory locks and
// pgvector ANN queries are only available there.
func (s *Store) IsPostgres() bool {
	return s.DB.Dialector.Name() == "postgres"
}

// GetDB returns the GORM DB instance for standard queries.
func (s *Store) GetDB() *gorm.DB {
	return s.DB
}
