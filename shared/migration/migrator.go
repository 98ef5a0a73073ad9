package migration

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

// Migrator runs embedded SQL migrations against a postgres database
type Migrator struct {
	db         *sql.DB
	migrations embed.FS
	dir        string
}

// Config holds migration configuration
type Config struct {
	DB         *sql.DB
	Migrations embed.FS
	Dir        string
}

// NewMigrator creates a new migrator over an existing connection
func NewMigrator(config *Config) (*Migrator, error) {
	if err := config.DB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	dir := config.Dir
	if dir == "" {
		dir = "migrations"
	}

	return &Migrator{
		db:         config.DB,
		migrations: config.Migrations,
		dir:        dir,
	}, nil
}

// Migrate runs all pending migrations
func (m *Migrator) Migrate() error {
	migration, err := m.build()
	if err != nil {
		return err
	}

	if err := migration.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Version returns the current migration version
func (m *Migrator) Version() (uint, bool, error) {
	migration, err := m.build()
	if err != nil {
		return 0, false, err
	}
	return migration.Version()
}

func (m *Migrator) build() (*migrate.Migrate, error) {
	source, err := iofs.New(m.migrations, m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration source: %w", err)
	}

	driver, err := postgres.WithInstance(m.db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	migration, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration: %w", err)
	}
	return migration, nil
}
