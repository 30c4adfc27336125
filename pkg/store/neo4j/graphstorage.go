// Package neo4j implements the ticket graph on Neo4j 5, using native
// Customer, Ticket and Product nodes, RAISED and ABOUT relationships and
// a cosine vector index over ticket embeddings.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Config holds the connection settings of a Neo4j database.
type Config struct {
	URI      string
	Username string
	Password string
	// Database selects the database; empty uses the server default.
	Database string
}

type GraphDBStorage struct {
	driver     neo4j.DriverWithContext
	database   string
	dimensions atomic.Int64
}

func New(ctx context.Context, cfg Config) (*GraphDBStorage, error) {
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	logger.Info("[Store] Connected to neo4j", "uri", cfg.URI, "database", cfg.Database)
	return &GraphDBStorage{driver: driver, database: cfg.Database}, nil
}

func (s *GraphDBStorage) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *GraphDBStorage) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

// write runs work in a managed write transaction on a fresh session. The
// driver retries transient failures.
func (s *GraphDBStorage) write(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	res, err := session.ExecuteWrite(ctx, work)
	return res, mapError(err)
}

// read runs one query in a managed read transaction and collects all
// records.
func (s *GraphDBStorage) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	res, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, mapError(err)
	}
	return res.([]*neo4j.Record), nil
}

// exec runs one statement in its own write transaction and discards the
// result. Schema statements cannot share a transaction with data writes.
func (s *GraphDBStorage) exec(ctx context.Context, cypher string, params map[string]any) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	return err
}

// mapError sorts driver errors into the store error kinds. Constraint
// violations and type or argument errors caused by record values are
// invalid records; everything else is the store being unavailable.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, common.ErrInvalidRecord) || errors.Is(err, common.ErrStoreUnavailable) ||
		errors.Is(err, common.ErrConfigurationMismatch) || errors.Is(err, common.ErrTicketNotFound) {
		return err
	}

	var nerr *neo4j.Neo4jError
	if errors.As(err, &nerr) && invalidRecordCode(nerr.Code) {
		return fmt.Errorf("%w: %s (%s)", common.ErrInvalidRecord, nerr.Msg, nerr.Code)
	}
	return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
}

func invalidRecordCode(code string) bool {
	switch {
	case strings.HasPrefix(code, "Neo.ClientError.Schema.ConstraintValidationFailed"):
		return true
	case code == "Neo.ClientError.Statement.TypeError",
		code == "Neo.ClientError.Statement.ArgumentError":
		return true
	}
	return false
}
