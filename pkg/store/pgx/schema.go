package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"

	pgxv5 "github.com/jackc/pgx/v5"
)

// serializes concurrent EnsureSchema calls of several processes
const schemaLockID = 7_301_142

const getMetadataSQL = `
SELECT embedding_model, embedding_dimensions FROM graph_metadata WHERE id = 1
`

const insertMetadataSQL = `
INSERT INTO graph_metadata (id, embedding_model, embedding_dimensions) VALUES (1, $1, $2)
`

func vectorColumnDDL(dimensions int) []string {
	return []string{
		fmt.Sprintf(`ALTER TABLE tickets ADD COLUMN IF NOT EXISTS embedding vector(%d)`, dimensions),
		`CREATE INDEX IF NOT EXISTS tickets_embedding_hnsw ON tickets USING hnsw (embedding vector_cosine_ops)`,
	}
}

// EnsureSchema records spec as the graph's embedding spec on first use and
// creates the embedding column and its HNSW index with the configured
// dimension. A graph recording a different spec is left untouched.
func (s *GraphDBStorage) EnsureSchema(ctx context.Context, spec common.EmbeddingSpec) error {
	if spec.Dimensions <= 0 || spec.Model == "" {
		return fmt.Errorf("%w: embedding model and dimensions are required", common.ErrConfigurationMismatch)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return mapError(err)
	}

	var stored common.EmbeddingSpec
	err = tx.QueryRow(ctx, getMetadataSQL).Scan(&stored.Model, &stored.Dimensions)
	switch {
	case errors.Is(err, pgxv5.ErrNoRows):
		if _, err := tx.Exec(ctx, insertMetadataSQL, spec.Model, spec.Dimensions); err != nil {
			return mapError(err)
		}
		logger.Info("[Store] Recorded embedding spec", "model", spec.Model, "dimensions", spec.Dimensions)
	case err != nil:
		return mapError(err)
	case !stored.Equal(spec):
		return fmt.Errorf("%w: graph holds %s/%d, configured %s/%d", common.ErrConfigurationMismatch,
			stored.Model, stored.Dimensions, spec.Model, spec.Dimensions)
	}

	for _, ddl := range vectorColumnDDL(spec.Dimensions) {
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return mapError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	s.dimensions.Store(int64(spec.Dimensions))
	return nil
}

func (s *GraphDBStorage) EmbeddingSpec(ctx context.Context) (common.EmbeddingSpec, error) {
	var spec common.EmbeddingSpec
	err := s.conn.QueryRow(ctx, getMetadataSQL).Scan(&spec.Model, &spec.Dimensions)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return spec, fmt.Errorf("%w: schema not initialized", common.ErrConfigurationMismatch)
	}
	if err != nil {
		return spec, mapError(err)
	}
	s.dimensions.Store(int64(spec.Dimensions))
	return spec, nil
}

// dims returns the embedding dimension, loading it from the metadata when
// this instance has not seen it yet.
func (s *GraphDBStorage) dims(ctx context.Context) (int, error) {
	if d := s.dimensions.Load(); d > 0 {
		return int(d), nil
	}
	spec, err := s.EmbeddingSpec(ctx)
	if err != nil {
		return 0, err
	}
	return spec.Dimensions, nil
}
