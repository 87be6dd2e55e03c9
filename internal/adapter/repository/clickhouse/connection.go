package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/kr1s57/feedvalidator/internal/config"
)

// Connection wraps the ClickHouse connection
type Connection struct {
	conn   driver.Conn
	config *config.ClickHouseConfig
	logger *slog.Logger
}

// NewConnection opens a ClickHouse connection and waits for it to answer a ping,
// retrying with a doubling backoff up to cfg.ConnectRetries times
func NewConnection(ctx context.Context, cfg *config.ClickHouseConfig, logger *slog.Logger) (*Connection, error) {
	maxConns := cfg.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 10
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    maxConns,
		MaxIdleConns:    maxConns / 2,
		ConnMaxLifetime: time.Hour,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	if err := waitReady(ctx, conn, cfg.ConnectRetries, logger); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("[CLICKHOUSE] Connected",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
		"max_conns", maxConns,
	)

	return &Connection{
		conn:   conn,
		config: cfg,
		logger: logger,
	}, nil
}

func waitReady(ctx context.Context, conn driver.Conn, retries int, logger *slog.Logger) error {
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := conn.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt >= retries {
			return fmt.Errorf("failed to ping clickhouse after %d attempts: %w", attempt+1, err)
		}

		logger.Warn("[CLICKHOUSE] Not ready, retrying",
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// Conn returns the underlying connection
func (c *Connection) Conn() driver.Conn {
	return c.conn
}

// Close closes the connection
func (c *Connection) Close() error {
	return c.conn.Close()
}

// Ping tests the connection
func (c *Connection) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Query executes a query and returns rows
func (c *Connection) Query(ctx context.Context, query string, args ...interface{}) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

// QueryRow executes a query and returns a single row
func (c *Connection) QueryRow(ctx context.Context, query string, args ...interface{}) driver.Row {
	return c.conn.QueryRow(ctx, query, args...)
}

// Exec executes a query without returning rows
func (c *Connection) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.conn.Exec(ctx, query, args...)
}

// PrepareBatch prepares a batch insert
func (c *Connection) PrepareBatch(ctx context.Context, query string) (driver.Batch, error) {
	return c.conn.PrepareBatch(ctx, query)
}

// isNoRows reports an empty single-row result
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// version orders ReplacingMergeTree rows written by this process
func version() uint64 {
	return uint64(time.Now().UnixNano())
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
