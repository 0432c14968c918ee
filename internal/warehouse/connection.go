package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/toronto-mobility/ingestor/internal/config"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
	defaultPingTimeout     = 30 * time.Second
)

// PoolConfig holds connection pool settings with production-ready defaults.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadPoolConfig reads pool settings from the environment with fallback to
// defaults.
func LoadPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    config.GetEnvInt("WAREHOUSE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:    config.GetEnvInt("WAREHOUSE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: config.GetEnvDuration("WAREHOUSE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetEnvDuration("WAREHOUSE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
	}
}

// Connection wraps a pooled *sql.DB scoped to the warehouse.
type Connection struct {
	db *sql.DB
}

// Open establishes a pooled, health-checked warehouse connection.
func Open(ctx context.Context, creds Credentials, pool PoolConfig) (*Connection, error) {
	db, err := sql.Open("postgres", creds.DSN())
	if err != nil {
		return nil, fmt.Errorf("open warehouse connection: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping warehouse at %s:%d: %w", creds.Host, creds.Port, err)
	}

	return &Connection{db: db}, nil
}

// DB exposes the underlying pool for transaction control.
func (c *Connection) DB() *sql.DB {
	return c.db
}

// BeginTx starts a transaction on the pool.
func (c *Connection) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	return tx, nil
}

// Close shuts the pool down. Safe to call more than once.
func (c *Connection) Close() error {
	if c == nil || c.db == nil {
		return nil
	}

	err := c.db.Close()
	c.db = nil

	return err
}

// WithConnection opens a scoped connection, runs fn, and closes the
// connection on every path.
func WithConnection(ctx context.Context, creds Credentials, pool PoolConfig, fn func(*Connection) error) error {
	conn, err := Open(ctx, creds, pool)
	if err != nil {
		return err
	}

	defer func() {
		_ = conn.Close()
	}()

	return fn(conn)
}
