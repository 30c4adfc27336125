// Package bootstrap wires the ticket graph components from a Config. The
// server, the worker and the CLI all start from New.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/ticketgraph/internal/queue"
	"github.com/OFFIS-RIT/ticketgraph/internal/storage"
	"github.com/OFFIS-RIT/ticketgraph/pkg/ai"
	"github.com/OFFIS-RIT/ticketgraph/pkg/ai/hash"
	oai "github.com/OFFIS-RIT/ticketgraph/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/ticketgraph/pkg/ai/openai"
	"github.com/OFFIS-RIT/ticketgraph/pkg/analytics"
	"github.com/OFFIS-RIT/ticketgraph/pkg/cache"
	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/extract"
	"github.com/OFFIS-RIT/ticketgraph/pkg/graph"
	"github.com/OFFIS-RIT/ticketgraph/pkg/leaselock"
	s3loader "github.com/OFFIS-RIT/ticketgraph/pkg/loader/s3"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"
	"github.com/OFFIS-RIT/ticketgraph/pkg/query/base"
	"github.com/OFFIS-RIT/ticketgraph/pkg/store"
	"github.com/OFFIS-RIT/ticketgraph/pkg/store/memory"
	neo4jstore "github.com/OFFIS-RIT/ticketgraph/pkg/store/neo4j"
	pgxstore "github.com/OFFIS-RIT/ticketgraph/pkg/store/pgx"

	"github.com/rabbitmq/amqp091-go"
)

const cachePrefix = "ticketgraph:"

// App holds every long lived component. Optional components (Cache,
// Locker, Uploads, S3Loader, AMQP) are nil when not configured.
type App struct {
	Config Config

	Store     store.GraphStorage
	Embedder  ai.Embedder
	AI        ai.GraphAIClient
	Graph     *graph.GraphClient
	Extractor *extract.Extractor
	Query     *base.BaseQueryClient
	Analytics *analytics.Reader

	Cache    *cache.RedisCache
	Locker   *leaselock.Client
	Uploads  *storage.Uploads
	S3Loader *s3loader.S3FileLoader
	AMQP     *amqp091.Connection
}

// Options selects which optional connections New opens. The CLI does not
// need the message queue, for example.
type Options struct {
	Queue bool
}

// New connects to the configured store and services and ensures the graph
// schema for the configured embedder. A graph built with a different
// embedding model yields common.ErrConfigurationMismatch.
func New(ctx context.Context, cfg Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close(context.WithoutCancel(ctx))
		}
	}()

	aiClient, err := newAIClient(cfg.AI)
	if err != nil {
		return nil, err
	}
	app.AI = aiClient

	embedder, err := newEmbedder(cfg.AI, aiClient)
	if err != nil {
		return nil, err
	}
	app.Embedder = embedder

	s, err := newStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	app.Store = s

	spec := common.EmbeddingSpec{Model: embedder.Model(), Dimensions: embedder.Dimensions()}
	if err := s.EnsureSchema(ctx, spec); err != nil {
		return nil, err
	}
	logger.Info("[Bootstrap] Graph schema ready", "store", cfg.Store.Adapter, "model", spec.Model, "dimensions", spec.Dimensions)

	if cfg.RedisURL != "" {
		c, err := cache.NewRedisCache(ctx, cfg.RedisURL, cachePrefix)
		if err != nil {
			return nil, err
		}
		app.Cache = c
	}

	switch {
	case cfg.Store.Adapter == StoreAdapterPgx:
		app.Locker = leaselock.NewPostgres(s.(*pgxstore.GraphDBStorage).Pool())
	case app.Cache != nil:
		app.Locker = leaselock.NewRedis(app.Cache.Client(), cachePrefix)
	default:
		logger.Warn("[Bootstrap] No lock backend configured, background sweeps run unguarded")
	}

	if cfg.S3.Bucket != "" {
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		app.Uploads = storage.NewUploads(client, cfg.S3.Bucket)
		app.S3Loader = s3loader.NewS3FileLoaderWithClient(cfg.S3.Bucket, client)
	}

	if opts.Queue {
		conn, err := queue.Dial(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		app.AMQP = conn
	}

	app.Graph = graph.NewGraphClient(graph.NewGraphClientParams{
		Store:           s,
		Embedder:        embedder,
		ParallelTickets: cfg.ParallelTickets,
		EmbedTimeout:    cfg.AI.Timeout,
		StoreTimeout:    cfg.Store.Timeout,
	})
	app.Extractor = extract.NewExtractor(extract.NewExtractorParams{
		Client:        aiClient,
		RatePerSecond: cfg.AI.ExtractRate,
		Parallel:      cfg.AI.ParallelRequests,
		Timeout:       cfg.AI.Timeout,
	})
	app.Query = base.NewGraphQueryClient(aiClient, embedder, s, []base.QueryOption{
		base.WithTopK(cfg.Retrieval.TopK),
		base.WithTimeout(cfg.Retrieval.Timeout),
		base.WithMaxContextTokens(cfg.Retrieval.MaxContextTokens),
	})

	readerParams := analytics.NewReaderParams{
		Store:   s,
		TTL:     cfg.CacheTTL,
		Timeout: cfg.Store.Timeout,
	}
	if app.Cache != nil {
		readerParams.Cache = app.Cache
	}
	app.Analytics = analytics.NewReader(readerParams)

	ok = true
	return app, nil
}

func newAIClient(cfg AIConfig) (ai.GraphAIClient, error) {
	switch cfg.Adapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:        cfg.EmbedModel,
			ExtractionModel:       cfg.ExtractModel,
			AnswerModel:           cfg.AnswerModel,
			Dimensions:            cfg.EmbedDim,
			BaseURL:               cfg.ChatURL,
			ApiKey:                cfg.ChatKey,
			MaxConcurrentRequests: int64(cfg.ParallelRequests),
			Timeout:               cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create Ollama client: %w", err)
		}
		return client, nil
	default:
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:   cfg.EmbedModel,
			ExtractionModel:  cfg.ExtractModel,
			AnswerModel:      cfg.AnswerModel,
			Dimensions:       cfg.EmbedDim,
			EmbeddingURL:     cfg.EmbedURL,
			EmbeddingKey:     cfg.EmbedKey,
			ChatURL:          cfg.ChatURL,
			ChatKey:          cfg.ChatKey,
			ParallelRequests: cfg.ParallelRequests,
			Timeout:          cfg.Timeout,
		}), nil
	}
}

// newEmbedder reuses the chat client when both run on the same adapter.
func newEmbedder(cfg AIConfig, chat ai.GraphAIClient) (ai.Embedder, error) {
	if cfg.EmbedAdapter == "hash" {
		return hash.New(cfg.EmbedDim), nil
	}
	if cfg.EmbedAdapter == cfg.Adapter {
		if emb, ok := chat.(ai.Embedder); ok {
			return emb, nil
		}
	}

	embedCfg := cfg
	embedCfg.Adapter = cfg.EmbedAdapter
	if cfg.EmbedAdapter == "ollama" {
		embedCfg.ChatURL = cfg.EmbedURL
		embedCfg.ChatKey = cfg.EmbedKey
	}
	client, err := newAIClient(embedCfg)
	if err != nil {
		return nil, err
	}
	emb, ok := client.(ai.Embedder)
	if !ok {
		return nil, fmt.Errorf("adapter %q cannot embed", cfg.EmbedAdapter)
	}
	return emb, nil
}

func newStore(ctx context.Context, cfg StoreConfig) (store.GraphStorage, error) {
	switch cfg.Adapter {
	case StoreAdapterNeo4j:
		return neo4jstore.New(ctx, neo4jstore.Config{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
	case StoreAdapterMemory:
		logger.Warn("[Bootstrap] Using the in-memory store, nothing is persisted")
		return memory.New(), nil
	default:
		return pgxstore.New(ctx, cfg.DatabaseURL, int32(cfg.MaxConns))
	}
}

// Close releases every connection the App opened.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.AMQP != nil {
		errs = append(errs, a.AMQP.Close())
	}
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close(ctx))
	}
	return errors.Join(errs...)
}
