// Package config loads service configuration from the environment, the way
// a deployable long-running server in this family of codebases does it
// (as opposed to a constructed-in-code Config literal for an embeddable
// library).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for the service container.
type Config struct {
	MySQL      MySQLConfig
	Vector     VectorConfig
	Lexical    LexicalConfig
	Embedding  ModelConfig
	Rerank     ModelConfig
	Chat       ModelConfig
	StatusSync StatusSyncConfig
	Retrieval  RetrievalConfig
	Chunker    ChunkerConfig
	Ingestion  IngestionConfig
	Server     ServerConfig
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type VectorConfig struct {
	// Backend selects the concrete vector store. Only "qdrant" is wired;
	// MILVUS_ADDR is read as a fallback for QDRANT_ADDR, for deployments
	// that set a Milvus endpoint, and no other MILVUS_* variable is read.
	Backend        string
	Addr           string
	Collection     string
	Dim            int
	DistanceMetric string // "cosine" or "dot"
}

type LexicalConfig struct {
	// IndexPath is the on-disk Bleve index directory. ES_INDEX_PATH is
	// read as a fallback for LEXICAL_INDEX_PATH; no other ES_* variable
	// is read.
	IndexPath string
}

type ModelConfig struct {
	BaseURL         string
	APIKey          string
	Model           string
	RequestsPerSec  float64
	Burst           int
	TokensPerMinute int
	MaxRetries      int
	Timeout         time.Duration
}

type StatusSyncConfig struct {
	Enabled       bool
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	QueueSize     int
	Workers       int
}

type RetrievalConfig struct {
	Alpha       float64
	CandidateK  int
	RerankK     int
	TopK        int
	HistoryMax  int
	ContextMax  int
	QueryMaxLen int
}

type ChunkerConfig struct {
	SoftLimitChars     int
	PageSummaryEnabled bool
}

type IngestionConfig struct {
	ConvertConcurrency   int
	ParseConcurrency     int
	ChunkConcurrency     int
	VectorizeConcurrency int
	StageTimeout         time.Duration
	RestartGracePeriod   time.Duration
	LibreOfficeBinary    string
	ConvertOutputDir     string
	ImagesRoot           string
	LlamaParseAPIKey     string
	LlamaParseBaseURL    string
}

type ServerConfig struct {
	Addr        string
	APIKey      string
	CORSOrigins string
}

// Load builds a Config from environment variables, applying the defaults
// the service ships with out of the box.
func Load() (*Config, error) {
	cfg := &Config{
		MySQL: MySQLConfig{
			DSN:             getEnv("MYSQL_DSN", "kbrag:kbrag@tcp(127.0.0.1:3306)/kbrag?parseTime=true"),
			MaxOpenConns:    getEnvAsInt("MYSQL_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("MYSQL_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Vector: VectorConfig{
			Backend:        getEnv("VECTOR_BACKEND", "qdrant"),
			Addr:           getEnv("QDRANT_ADDR", getEnv("MILVUS_ADDR", "127.0.0.1:6334")),
			Collection:     getEnv("QDRANT_COLLECTION", "kbrag_segments"),
			Dim:            getEnvAsInt("EMBEDDING_DIM", 1536),
			DistanceMetric: getEnv("VECTOR_DISTANCE_METRIC", "cosine"),
		},
		Lexical: LexicalConfig{
			IndexPath: getEnv("LEXICAL_INDEX_PATH", getEnv("ES_INDEX_PATH", "./data/lexical.bleve")),
		},
		Embedding: ModelConfig{
			BaseURL:         getEnv("EMBEDDING_BASE_URL", "http://localhost:11434/v1"),
			APIKey:          getEnv("EMBEDDING_API_KEY", ""),
			Model:           getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
			RequestsPerSec:  getEnvAsFloat("EMBEDDING_RPS", 10),
			Burst:           getEnvAsInt("EMBEDDING_BURST", 10),
			TokensPerMinute: getEnvAsInt("EMBEDDING_TPM", 1_000_000),
			MaxRetries:      getEnvAsInt("EMBEDDING_MAX_RETRIES", 6),
			Timeout:         getEnvAsDuration("EMBEDDING_TIMEOUT", 30*time.Second),
		},
		Rerank: ModelConfig{
			BaseURL:         getEnv("RERANK_BASE_URL", "http://localhost:11434/v1"),
			APIKey:          getEnv("RERANK_API_KEY", ""),
			Model:           getEnv("RERANK_MODEL", "bge-reranker-base"),
			RequestsPerSec:  getEnvAsFloat("RERANK_RPS", 10),
			Burst:           getEnvAsInt("RERANK_BURST", 10),
			TokensPerMinute: getEnvAsInt("RERANK_TPM", 1_000_000),
			MaxRetries:      getEnvAsInt("RERANK_MAX_RETRIES", 6),
			Timeout:         getEnvAsDuration("RERANK_TIMEOUT", 20*time.Second),
		},
		Chat: ModelConfig{
			BaseURL:         getEnv("CHAT_BASE_URL", "http://localhost:11434/v1"),
			APIKey:          getEnv("CHAT_API_KEY", ""),
			Model:           getEnv("CHAT_MODEL", "llama3.1:8b"),
			RequestsPerSec:  getEnvAsFloat("CHAT_RPS", 5),
			Burst:           getEnvAsInt("CHAT_BURST", 5),
			TokensPerMinute: getEnvAsInt("CHAT_TPM", 500_000),
			MaxRetries:      getEnvAsInt("CHAT_MAX_RETRIES", 6),
			Timeout:         getEnvAsDuration("CHAT_TIMEOUT", 60*time.Second),
		},
		StatusSync: StatusSyncConfig{
			Enabled:       getEnvAsBool("STATUS_SYNC_ENABLED", true),
			Timeout:       getEnvAsDuration("STATUS_SYNC_TIMEOUT", 10*time.Second),
			RetryAttempts: getEnvAsInt("STATUS_SYNC_RETRY_ATTEMPTS", 5),
			RetryDelay:    getEnvAsDuration("STATUS_SYNC_RETRY_DELAY", 2*time.Second),
			QueueSize:     getEnvAsInt("STATUS_SYNC_QUEUE_SIZE", 1024),
			Workers:       getEnvAsInt("STATUS_SYNC_WORKERS", 8),
		},
		Retrieval: RetrievalConfig{
			Alpha:       getEnvAsFloat("ALPHA", 0.6),
			CandidateK:  getEnvAsInt("CANDIDATE_K", 50),
			RerankK:     getEnvAsInt("RERANK_K", 20),
			TopK:        getEnvAsInt("TOP_K", 5),
			HistoryMax:  getEnvAsInt("HISTORY_MAX", 4000),
			ContextMax:  getEnvAsInt("CONTEXT_MAX", 8000),
			QueryMaxLen: getEnvAsInt("QUERY_MAX_LEN", 2000),
		},
		Chunker: ChunkerConfig{
			SoftLimitChars:     getEnvAsInt("CHUNKER_SOFT_LIMIT_CHARS", 800),
			PageSummaryEnabled: getEnvAsBool("CHUNKER_PAGE_SUMMARY_ENABLED", false),
		},
		Ingestion: IngestionConfig{
			ConvertConcurrency:   getEnvAsInt("INGEST_CONVERT_CONCURRENCY", 4),
			ParseConcurrency:     getEnvAsInt("INGEST_PARSE_CONCURRENCY", 2),
			ChunkConcurrency:     getEnvAsInt("INGEST_CHUNK_CONCURRENCY", 8),
			VectorizeConcurrency: getEnvAsInt("INGEST_VECTORIZE_CONCURRENCY", 4),
			StageTimeout:         getEnvAsDuration("INGEST_STAGE_TIMEOUT", 5*time.Minute),
			RestartGracePeriod:   getEnvAsDuration("INGEST_RESTART_GRACE_PERIOD", 10*time.Minute),
			LibreOfficeBinary:    getEnv("LIBREOFFICE_BINARY", "libreoffice"),
			ConvertOutputDir:     getEnv("INGEST_CONVERT_OUTPUT_DIR", "./data/converted"),
			ImagesRoot:           getEnv("INGEST_IMAGES_ROOT", "./data/images"),
			LlamaParseAPIKey:     getEnv("LLAMAPARSE_API_KEY", ""),
			LlamaParseBaseURL:    getEnv("LLAMAPARSE_BASE_URL", ""),
		},
		Server: ServerConfig{
			Addr:        getEnv("SERVER_ADDR", ":8080"),
			APIKey:      getEnv("SERVER_API_KEY", ""),
			CORSOrigins: getEnv("SERVER_CORS_ORIGINS", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants the spec requires (e.g.
// candidate_k >= rerank_k >= top_k) before the container starts.
func (c *Config) Validate() error {
	if c.Retrieval.CandidateK < c.Retrieval.RerankK || c.Retrieval.RerankK < c.Retrieval.TopK {
		return fmt.Errorf("config: require candidate_k >= rerank_k >= top_k, got %d >= %d >= %d",
			c.Retrieval.CandidateK, c.Retrieval.RerankK, c.Retrieval.TopK)
	}
	if c.Retrieval.Alpha < 0 || c.Retrieval.Alpha > 1 {
		return fmt.Errorf("config: alpha must be in [0,1], got %f", c.Retrieval.Alpha)
	}
	if c.Vector.Dim <= 0 {
		return fmt.Errorf("config: embedding dim must be positive, got %d", c.Vector.Dim)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvAsSlice(key string, fallback []string, sep string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return strings.Split(v, sep)
	}
	return fallback
}
