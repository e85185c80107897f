// Package postgres provides PostgreSQL database connectivity and stores.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"norelock.dev/syncroom/backend/internal/config"
	"norelock.dev/syncroom/backend/internal/utils"
)

// Client wraps a PostgreSQL connection pool with app-specific functionality.
type Client struct {
	pool   *pgxpool.Pool
	logger *utils.Logger
}

// NewClient creates a new PostgreSQL client and verifies connectivity.
func NewClient(cfg *config.Config, logger *utils.Logger) (*Client, error) {
	// If no logger is provided, use the global logger
	if logger == nil {
		logger = utils.GetLogger()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.Postgres.URI)
	if err != nil {
		logger.Error("Failed to parse Postgres URI", err)
		return nil, err
	}
	poolCfg.MaxConns = cfg.Database.Postgres.MaxConns
	poolCfg.MinConns = cfg.Database.Postgres.MinConns
	poolCfg.ConnConfig.ConnectTimeout = cfg.Database.Postgres.ConnectTimeout

	// Create context with timeout for connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.Postgres.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("Failed to create Postgres pool", err)
		return nil, err
	}

	// Ping the database to verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		logger.Error("Failed to ping Postgres", err)
		return nil, err
	}

	logger.Info("Connected to Postgres", "maxConns", poolCfg.MaxConns)

	return &Client{
		pool:   pool,
		logger: logger,
	}, nil
}

// Pool returns the underlying connection pool.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// WithTx executes a function within a transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
func (c *Client) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, c.pool, fn)
}

// Ping verifies the database connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Close closes the connection pool.
func (c *Client) Close() {
	c.pool.Close()
	c.logger.Info("Disconnected from Postgres")
}

// Logger returns the logger used by the client.
func (c *Client) Logger() *utils.Logger {
	return c.logger
}
