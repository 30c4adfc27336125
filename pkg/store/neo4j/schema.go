package neo4j

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const vectorIndexName = "ticket_vectors"

var constraints = []string{
	`CREATE CONSTRAINT customer_email IF NOT EXISTS FOR (c:Customer) REQUIRE c.email IS UNIQUE`,
	`CREATE CONSTRAINT ticket_id IF NOT EXISTS FOR (t:Ticket) REQUIRE t.id IS UNIQUE`,
	`CREATE CONSTRAINT product_name IF NOT EXISTS FOR (p:Product) REQUIRE p.name IS UNIQUE`,
	`CREATE CONSTRAINT graph_metadata_id IF NOT EXISTS FOR (m:GraphMetadata) REQUIRE m.id IS UNIQUE`,
}

// the metadata node is merged under its unique constraint, so concurrent
// callers agree on one spec
const mergeMetadataCypher = `
MERGE (m:GraphMetadata {id: 1})
ON CREATE SET m.embedding_model = $model,
              m.embedding_dimensions = $dimensions,
              m.created_at = datetime()
RETURN m.embedding_model AS model, m.embedding_dimensions AS dimensions
`

const getMetadataCypher = `
MATCH (m:GraphMetadata {id: 1})
RETURN m.embedding_model AS model, m.embedding_dimensions AS dimensions
`

func vectorIndexCypher(dimensions int) string {
	return fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS
FOR (t:Ticket) ON (t.embedding)
OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}`,
		vectorIndexName, dimensions)
}

func (s *GraphDBStorage) EnsureSchema(ctx context.Context, spec common.EmbeddingSpec) error {
	if spec.Dimensions <= 0 || spec.Model == "" {
		return fmt.Errorf("%w: embedding model and dimensions are required", common.ErrConfigurationMismatch)
	}

	for _, c := range constraints {
		if err := s.exec(ctx, c, nil); err != nil {
			return err
		}
	}

	res, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, mergeMetadataCypher, map[string]any{
			"model":      spec.Model,
			"dimensions": int64(spec.Dimensions),
		})
		if err != nil {
			return nil, err
		}
		rec, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		return specFromRecord(rec), nil
	})
	if err != nil {
		return err
	}
	stored := res.(common.EmbeddingSpec)
	if !stored.Equal(spec) {
		return fmt.Errorf("%w: graph holds %s/%d, configured %s/%d", common.ErrConfigurationMismatch,
			stored.Model, stored.Dimensions, spec.Model, spec.Dimensions)
	}

	if err := s.exec(ctx, vectorIndexCypher(spec.Dimensions), nil); err != nil {
		return err
	}
	if err := s.exec(ctx, `CALL db.awaitIndex($name)`, map[string]any{"name": vectorIndexName}); err != nil {
		return err
	}

	s.dimensions.Store(int64(spec.Dimensions))
	logger.Info("[Store] Neo4j schema ready", "model", spec.Model, "dimensions", spec.Dimensions)
	return nil
}

func (s *GraphDBStorage) EmbeddingSpec(ctx context.Context) (common.EmbeddingSpec, error) {
	recs, err := s.read(ctx, getMetadataCypher, nil)
	if err != nil {
		return common.EmbeddingSpec{}, err
	}
	if len(recs) == 0 {
		return common.EmbeddingSpec{}, fmt.Errorf("%w: schema not initialized", common.ErrConfigurationMismatch)
	}
	spec := specFromRecord(recs[0])
	s.dimensions.Store(int64(spec.Dimensions))
	return spec, nil
}

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

func specFromRecord(rec *neo4j.Record) common.EmbeddingSpec {
	return common.EmbeddingSpec{
		Model:      stringValue(rec, "model"),
		Dimensions: int(intValue(rec, "dimensions")),
	}
}
