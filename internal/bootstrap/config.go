package bootstrap

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/internal/queue"
	"github.com/OFFIS-RIT/ticketgraph/internal/storage"
	"github.com/OFFIS-RIT/ticketgraph/internal/util"
)

const (
	StoreAdapterPgx    = "pgx"
	StoreAdapterNeo4j  = "neo4j"
	StoreAdapterMemory = "memory"
)

type StoreConfig struct {
	Adapter string
	Timeout time.Duration

	DatabaseURL string
	MaxConns    int

	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string
}

type AIConfig struct {
	Adapter      string
	EmbedAdapter string

	EmbedModel   string
	EmbedDim     int
	EmbedURL     string
	EmbedKey     string
	ChatURL      string
	ChatKey      string
	ExtractModel string
	AnswerModel  string

	ParallelRequests int
	Timeout          time.Duration
	ExtractRate      float64
}

type RetrievalConfig struct {
	TopK             int
	Timeout          time.Duration
	MaxContextTokens int
}

type SweepConfig struct {
	Interval time.Duration
	Batch    int
}

// Config is the complete process configuration, read from the environment
// by LoadConfig.
type Config struct {
	Debug bool
	Port  string
	// APIKey protects the /api routes when set.
	APIKey string

	Store     StoreConfig
	AI        AIConfig
	Retrieval RetrievalConfig
	Sweep     SweepConfig

	ParallelTickets int
	MaskPII         bool

	RedisURL     string
	CacheTTL     time.Duration
	RabbitMQ     queue.Config
	S3           storage.S3Config
	UploadPrefix string
}

func LoadConfig() Config {
	return Config{
		Debug: util.GetEnvBool("DEBUG", false),
		Port:  util.GetEnvString("PORT", "8080"),

		APIKey: util.GetEnv("API_KEY"),

		Store: StoreConfig{
			Adapter:       util.GetEnvString("STORE_ADAPTER", StoreAdapterPgx),
			Timeout:       util.GetEnvSeconds("STORE_TIMEOUT_SEC", 15),
			DatabaseURL:   util.GetEnv("DATABASE_URL"),
			MaxConns:      util.GetEnvInt("DATABASE_MAX_CONNS", 0),
			Neo4jURI:      util.GetEnvString("NEO4J_URI", "neo4j://localhost:7687"),
			Neo4jUser:     util.GetEnv("NEO4J_USER"),
			Neo4jPassword: util.GetEnv("NEO4J_PASSWORD"),
			Neo4jDatabase: util.GetEnv("NEO4J_DATABASE"),
		},

		AI: AIConfig{
			Adapter:          util.GetEnvString("AI_ADAPTER", "openai"),
			EmbedAdapter:     util.GetEnvString("AI_EMBED_ADAPTER", util.GetEnvString("AI_ADAPTER", "openai")),
			EmbedModel:       util.GetEnv("AI_EMBED_MODEL"),
			EmbedDim:         util.GetEnvInt("AI_EMBED_DIM", 384),
			EmbedURL:         util.GetEnv("AI_EMBED_URL"),
			EmbedKey:         util.GetEnv("AI_EMBED_KEY"),
			ChatURL:          util.GetEnv("AI_CHAT_URL"),
			ChatKey:          util.GetEnv("AI_CHAT_KEY"),
			ExtractModel:     util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			AnswerModel:      util.GetEnv("AI_CHAT_ANSWER_MODEL"),
			ParallelRequests: util.GetEnvInt("AI_PARALLEL_REQ", 4),
			Timeout:          util.GetEnvSeconds("AI_TIMEOUT_SEC", 60),
			ExtractRate:      util.GetEnvNumeric("EXTRACT_RATE_PER_SEC", 0),
		},

		Retrieval: RetrievalConfig{
			TopK:             util.GetEnvInt("RETRIEVAL_TOP_K", 5),
			Timeout:          util.GetEnvSeconds("RETRIEVAL_TIMEOUT_SEC", 10),
			MaxContextTokens: util.GetEnvInt("RETRIEVAL_MAX_CONTEXT_TOKENS", 6000),
		},

		Sweep: SweepConfig{
			Interval: util.GetEnvSeconds("REEMBED_INTERVAL_SEC", 300),
			Batch:    util.GetEnvInt("REEMBED_BATCH", 500),
		},

		ParallelTickets: util.GetEnvInt("INGEST_PARALLEL", 4),
		MaskPII:         util.GetEnvBool("MASK_PII", true),

		RedisURL: util.GetEnv("REDIS_URL"),
		CacheTTL: util.GetEnvSeconds("DASHBOARD_CACHE_TTL_SEC", 30),

		RabbitMQ: queue.Config{
			User:     util.GetEnvString("RABBITMQ_USER", "guest"),
			Password: util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
			Host:     util.GetEnv("RABBITMQ_HOST"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
		},

		S3: storage.S3Config{
			Region:    util.GetEnvString("AWS_REGION", "us-east-1"),
			Endpoint:  util.GetEnv("AWS_ENDPOINT"),
			AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey: util.GetEnv("AWS_SECRET_KEY"),
			Bucket:    util.GetEnv("AWS_BUCKET"),
		},
		UploadPrefix: util.GetEnvString("UPLOAD_PREFIX", "uploads"),
	}
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	switch c.Store.Adapter {
	case StoreAdapterPgx:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s store", c.Store.Adapter)
		}
	case StoreAdapterNeo4j:
		if c.Store.Neo4jURI == "" {
			return fmt.Errorf("NEO4J_URI is required for the %s store", c.Store.Adapter)
		}
	case StoreAdapterMemory:
	default:
		return fmt.Errorf("unknown STORE_ADAPTER %q", c.Store.Adapter)
	}

	switch c.AI.EmbedAdapter {
	case "openai", "ollama":
		if c.AI.EmbedModel == "" {
			return fmt.Errorf("AI_EMBED_MODEL is required for the %s embedder", c.AI.EmbedAdapter)
		}
	case "hash":
	default:
		return fmt.Errorf("unknown AI_EMBED_ADAPTER %q", c.AI.EmbedAdapter)
	}
	if c.AI.EmbedDim <= 0 {
		return fmt.Errorf("AI_EMBED_DIM must be positive, got %d", c.AI.EmbedDim)
	}

	switch c.AI.Adapter {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown AI_ADAPTER %q", c.AI.Adapter)
	}
	return nil
}
