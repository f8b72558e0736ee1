package deadletter

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresSink inserts payloads into a jsonb table.
type PostgresSink struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresSink connects, pings and creates the table if needed.
func NewPostgresSink(ctx context.Context, dsn, table string) (*PostgresSink, error) {
	if table == "" {
		table = "dead_letters"
	}
	if !tableNameRE.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresSink{pool: pool, table: table}
	if _, err := pool.Exec(ctx, schemaFor(table)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	slog.Info("connected to PostgreSQL dead-letter table", "component", "deadletter", "table", table)
	return s, nil
}

func schemaFor(table string) string {
	return strings.ReplaceAll(schemaSQL, "{{table}}", table)
}

func (s *PostgresSink) Store(ctx context.Context, payload, partitionKey string, isRetry bool) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (partition_key, payload, is_retry)
		VALUES ($1, $2::jsonb, $3)
	`, s.table)

	if _, err := s.pool.Exec(ctx, query, partitionKey, payload, isRetry); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
