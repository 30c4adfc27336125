package pgx

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

//go:embed migrations/*.sql
var migrations embed.FS

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements store.GraphStorage on PostgreSQL. Nodes are
// rows of customers, products and tickets; the RAISED and ABOUT edges are
// rows keyed by ticket id, so a ticket can never have more than one of
// each. Ticket embeddings live in a pgvector column with an HNSW cosine
// index.
type GraphDBStorage struct {
	conn       pgxIConn
	pool       *pgxpool.Pool
	dimensions atomic.Int64
}

// Migrate applies the embedded schema migrations to the database at
// databaseURL. It is idempotent.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("%w: failed to init migrations: %v", common.ErrStoreUnavailable, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w: failed to apply migrations: %v", common.ErrStoreUnavailable, err)
	}
	version, dirty, _ := m.Version()
	logger.Info("[Store] Database schema ready", "version", version, "dirty", dirty)
	return nil
}

// New migrates the database and opens a connection pool with pgvector
// types registered on every connection. maxConns <= 0 keeps the pgx
// default.
func New(ctx context.Context, databaseURL string, maxConns int32) (*GraphDBStorage, error) {
	// the vector extension must exist before pgvector types can be registered
	if err := Migrate(databaseURL); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgxv5.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	s := NewGraphDBStorageWithConnection(pool)
	s.pool = pool
	return s, nil
}

// NewGraphDBStorageWithConnection creates a GraphDBStorage on an existing
// connection or pool. The schema must already be migrated and pgvector
// types registered.
func NewGraphDBStorageWithConnection(conn pgxIConn) *GraphDBStorage {
	return &GraphDBStorage{conn: conn}
}

// Pool returns the underlying pool, or nil when the storage was created on
// a caller owned connection.
func (s *GraphDBStorage) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the pool if the storage owns it.
func (s *GraphDBStorage) Close(ctx context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// mapError sorts database errors into the store error kinds. Data and
// constraint violations (SQLSTATE classes 22 and 23) can never succeed on
// retry; everything else is treated as the store being unavailable.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, common.ErrInvalidRecord) || errors.Is(err, common.ErrStoreUnavailable) ||
		errors.Is(err, common.ErrConfigurationMismatch) || errors.Is(err, common.ErrTicketNotFound) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23":
			return fmt.Errorf("%w: %s (%s)", common.ErrInvalidRecord, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
}
