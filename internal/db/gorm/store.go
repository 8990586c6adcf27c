// Package gorm provides GORM-based persistence for session metadata, clusters and embeddings.
package gorm

import (
	"database/sql"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3" // SQLite driver used by the sqlite dialector
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialect names.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Store represents the GORM database connection.
type Store struct {
	DB      *gorm.DB
	sqlDB   *sql.DB
	dialect string
}

// Config holds database configuration.
type Config struct {
	Path     string          // Path to SQLite database file (used when DSN is empty)
	DSN      string          // PostgreSQL connection string; selects the postgres dialect
	MaxConns int             // Maximum number of open connections (default: 4)
	LogLevel logger.LogLevel // GORM log level (logger.Silent for production)
}

// NewStore opens the database and runs migrations.
// SQLite databases get WAL mode and a busy timeout; PostgreSQL is used as-is.
func NewStore(cfg Config) (*Store, error) {
	var (
		store *Store
		err   error
	)
	if isPostgresDSN(cfg.DSN) {
		store, err = openPostgres(cfg)
	} else {
		store, err = openSQLite(cfg)
	}
	if err != nil {
		return nil, err
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	store.sqlDB.SetMaxOpenConns(maxConns)
	store.sqlDB.SetMaxIdleConns(maxConns)
	store.sqlDB.SetConnMaxLifetime(0)

	if err := store.sqlDB.Ping(); err != nil {
		_ = store.sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(store.DB); err != nil {
		_ = store.sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if store.dialect == DialectSQLite {
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
			// Retry for 5s when the database is locked instead of failing immediately
			"PRAGMA busy_timeout=5000",
		}
		for _, p := range pragmas {
			if _, err := store.sqlDB.Exec(p); err != nil {
				_ = store.sqlDB.Close()
				return nil, fmt.Errorf("%s: %w", p, err)
			}
		}
	}

	return store, nil
}

func openSQLite(cfg Config) (*Store, error) {
	// Register sqlite-vec before the first connection is opened
	sqlite_vec.Auto()

	sqlDB, err := sql.Open("sqlite3", cfg.Path+"?_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db, err := gorm.Open(sqlite.Dialector{Conn: sqlDB}, gormConfig(cfg))
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	return &Store{DB: db, sqlDB: sqlDB, dialect: DialectSQLite}, nil
}

func openPostgres(cfg Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), gormConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	return &Store{DB: db, sqlDB: sqlDB, dialect: DialectPostgres}, nil
}

func gormConfig(cfg Config) *gorm.Config {
	return &gorm.Config{
		Logger:      logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt: true,
	}
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping() error {
	return s.sqlDB.Ping()
}

// Dialect returns the active SQL dialect.
func (s *Store) Dialect() string {
	return s.dialect
}

// GetRawDB returns the underlying *sql.DB.
func (s *Store) GetRawDB() *sql.DB {
	return s.sqlDB
}

// GetDB returns the GORM DB instance for standard queries.
func (s *Store) GetDB() *gorm.DB {
	return s.DB
}
