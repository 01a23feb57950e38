// Package warehouse provides access to the Snowflake event store: streaming
// reads of raw message events and merge execution for the aggregate tables.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/snowflakedb/gosnowflake" // Snowflake driver
)

// Config holds Snowflake connection settings. When ConnectionString is set
// it is parsed first and the discrete fields fill in anything it omits.
type Config struct {
	ConnectionString string
	Account          string
	User             string
	Password         string
	Database         string
	Schema           string
	Warehouse        string
}

// Client provides access to the Snowflake database
type Client struct {
	config Config
	db     *sql.DB
}

// NewClient creates a new Snowflake client
func NewClient(cfg Config) (*Client, error) {
	if cfg.ConnectionString != "" {
		parsed := ParseConnectionString(cfg.ConnectionString)
		if cfg.Account == "" {
			cfg.Account = parsed.Account
		}
		if cfg.User == "" {
			cfg.User = parsed.User
		}
		if cfg.Password == "" {
			cfg.Password = parsed.Password
		}
		if cfg.Database == "" {
			cfg.Database = parsed.Database
		}
		if cfg.Schema == "" {
			cfg.Schema = parsed.Schema
		}
		if cfg.Warehouse == "" {
			cfg.Warehouse = parsed.Warehouse
		}
	}

	// Build DSN (Data Source Name)
	// Format: user:password@account/database/schema?warehouse=xxx
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s",
		cfg.User,
		cfg.Password,
		cfg.Account,
		cfg.Database,
		cfg.Schema,
	)

	if cfg.Warehouse != "" {
		dsn += "?warehouse=" + cfg.Warehouse
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open snowflake connection: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Client{
		config: cfg,
		db:     db,
	}, nil
}

// DB exposes the underlying pool for the reader and merger.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close closes the database connection
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping tests the database connection
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
