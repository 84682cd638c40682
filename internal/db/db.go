package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/reglens/reglens/internal/cache"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

// DB represents a PostgreSQL database connection
type DB struct {
	client *sql.DB
	config *Config
	Cache  *cache.InMemoryCache
}

// GetConfig returns the original DB connection settings
func (d *DB) GetConfig() *Config {
	return d.config
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host         string        // Database host
	Port         string        // Database port
	User         string        // Database user
	Password     string        // Database password
	Database     string        // Database name
	SSLMode      string        // SSL mode (disable, require, verify-ca, verify-full)
	MaxIdleConns int           // Maximum number of idle connections
	MaxOpenConns int           // Maximum number of open connections
	MaxLifetime  time.Duration // Maximum lifetime of a connection
	DatabaseURL  string        // Original DATABASE_URL if used
}

// ConnectionString returns the PostgreSQL connection string
func (c *Config) ConnectionString() string {
	// If we have a DatabaseURL, use it directly
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// New creates a new PostgreSQL database connection
func New(config *Config) (*DB, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("database host is required")
	}
	if config.Port == "" {
		return nil, fmt.Errorf("database port is required")
	}
	if config.User == "" {
		return nil, fmt.Errorf("database user is required")
	}
	if config.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}

	// Set defaults for optional fields
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 10
	}
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 25
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 20 * time.Minute
	}

	client, err := sql.Open("pgx", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	client.SetMaxOpenConns(config.MaxOpenConns)
	client.SetMaxIdleConns(config.MaxIdleConns)
	client.SetConnMaxLifetime(config.MaxLifetime)

	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if err := setupSchema(client); err != nil {
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	return &DB{client: client, config: config, Cache: cache.NewInMemoryCache()}, nil
}

// InitFromEnv creates a PostgreSQL connection using environment variables
func InitFromEnv() (*DB, error) {
	// If DATABASE_URL is provided, use it with default config
	if url := os.Getenv("DATABASE_URL"); url != "" {
		config := &Config{
			DatabaseURL:  url,
			MaxIdleConns: 10,
			MaxOpenConns: 25,
			MaxLifetime:  20 * time.Minute,
		}

		client, err := sql.Open("pgx", url)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL via DATABASE_URL: %w", err)
		}

		client.SetMaxOpenConns(config.MaxOpenConns)
		client.SetMaxIdleConns(config.MaxIdleConns)
		client.SetConnMaxLifetime(config.MaxLifetime)

		if err := client.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping PostgreSQL via DATABASE_URL: %w", err)
		}

		if err := setupSchema(client); err != nil {
			return nil, fmt.Errorf("failed to setup schema: %w", err)
		}

		return &DB{client: client, config: config, Cache: cache.NewInMemoryCache()}, nil
	}

	config := &Config{
		Host:         os.Getenv("POSTGRES_HOST"),
		Port:         os.Getenv("POSTGRES_PORT"),
		User:         os.Getenv("POSTGRES_USER"),
		Password:     os.Getenv("POSTGRES_PASSWORD"),
		Database:     os.Getenv("POSTGRES_DB"),
		SSLMode:      os.Getenv("POSTGRES_SSL_MODE"),
		MaxIdleConns: 10,
		MaxOpenConns: 25,
		MaxLifetime:  20 * time.Minute,
	}

	// Use defaults if not set
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == "" {
		config.Port = "5432"
	}
	if config.User == "" {
		config.User = "postgres"
	}
	if config.Database == "" {
		config.Database = "reglens"
	}

	return New(config)
}

// setupSchema creates the necessary tables in PostgreSQL
func setupSchema(db *sql.DB) error {
	// Sources first (referenced by everything else)
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sources (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			source_type TEXT NOT NULL,
			crawl_config JSONB,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sources table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS crawl_jobs (
			id TEXT PRIMARY KEY,
			source_id UUID NOT NULL REFERENCES sources(id),
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			pages_crawled INTEGER NOT NULL DEFAULT 0,
			pages_new INTEGER NOT NULL DEFAULT 0,
			pages_failed INTEGER NOT NULL DEFAULT 0,
			pages_skipped INTEGER NOT NULL DEFAULT 0,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create crawl_jobs table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			source_id UUID NOT NULL REFERENCES sources(id),
			job_id TEXT REFERENCES crawl_jobs(id),
			url TEXT NOT NULL,
			title TEXT,
			content TEXT,
			content_fingerprint TEXT NOT NULL UNIQUE,
			classification TEXT,
			is_alert BOOLEAN NOT NULL DEFAULT FALSE,
			extracted BOOLEAN NOT NULL DEFAULT FALSE,
			etag TEXT,
			last_modified TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS document_versions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			source_id UUID NOT NULL REFERENCES sources(id),
			url TEXT NOT NULL,
			version_number INTEGER NOT NULL,
			is_current BOOLEAN NOT NULL DEFAULT TRUE,
			content_hash TEXT NOT NULL,
			metadata_hash TEXT NOT NULL,
			title TEXT,
			summary TEXT,
			category TEXT,
			issuing_body TEXT,
			effective_date TEXT,
			published_date TEXT,
			topics TEXT[],
			key_numbers TEXT[],
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (source_id, url, version_number)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create document_versions table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS document_changes (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			source_id UUID NOT NULL REFERENCES sources(id),
			url TEXT NOT NULL,
			old_version_id UUID REFERENCES document_versions(id),
			new_version_id UUID NOT NULL REFERENCES document_versions(id),
			change_type TEXT NOT NULL,
			changes JSONB,
			significance_score REAL NOT NULL DEFAULT 0,
			requires_review BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create document_changes table: %w", err)
	}

	// Indexes
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source_id)`)
	if err != nil {
		return fmt.Errorf("failed to create documents source index: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_crawl_jobs_source_status ON crawl_jobs(source_id, status)`)
	if err != nil {
		return fmt.Errorf("failed to create crawl_jobs source/status index: %w", err)
	}

	// Exactly one current version per (source, url) at any time
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_document_versions_current
		ON document_versions(source_id, url) WHERE is_current
	`)
	if err != nil {
		return fmt.Errorf("failed to create current version index: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_document_changes_review ON document_changes(requires_review) WHERE requires_review`)
	if err != nil {
		return fmt.Errorf("failed to create change review index: %w", err)
	}

	return nil
}

// Execute runs a database operation in a transaction
func (d *DB) Execute(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.client.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.client.Close()
}

// GetDB returns the underlying database connection
func (d *DB) GetDB() *sql.DB {
	return d.client
}

// ResetSchema drops and recreates all tables. Used by integration tests
// against a throwaway database, never in normal operation.
func (d *DB) ResetSchema() error {
	log.Warn().Msg("Resetting PostgreSQL schema")

	// Drop in reverse dependency order
	tables := []string{"document_changes", "document_versions", "documents", "crawl_jobs", "sources"}
	for _, table := range tables {
		if _, err := d.client.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s CASCADE`, table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}

	if err := setupSchema(d.client); err != nil {
		return fmt.Errorf("failed to recreate schema: %w", err)
	}

	log.Info().Msg("Successfully reset database schema")
	return nil
}

// Serialise converts data to JSON string representation.
// It is named with British English spelling for consistency.
func Serialise(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to serialise data")
		return "{}"
	}
	return string(data)
}
