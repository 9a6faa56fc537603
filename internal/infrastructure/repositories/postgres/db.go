package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// querier is the subset of pgxpool.Pool the repositories use.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB opens a pool and pings it.
func NewPostgresDB(ctx context.Context, databaseURL string, maxConns int32, logger *zap.SugaredLogger) (*PostgresDB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Infow("connected to Postgres", "max_conns", cfg.MaxConns)
	return &PostgresDB{pool: pool}, nil
}

// EnsureSchema creates the tables this service reads and writes if missing.
func (db *PostgresDB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func (db *PostgresDB) RoomDirectory() *RoomDirectory {
	return &RoomDirectory{db: db.pool}
}

func (db *PostgresDB) PlanResolver() *PlanResolver {
	return &PlanResolver{db: db.pool}
}

func (db *PostgresDB) BreakoutRepository() *BreakoutRepository {
	return &BreakoutRepository{db: db.pool}
}

func (db *PostgresDB) AccessGrantRepository() *AccessGrantRepository {
	return &AccessGrantRepository{db: db.pool}
}
