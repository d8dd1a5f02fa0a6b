// Package config loads service configuration from defaults, an optional
// .env file, and DOCQA_* environment variables, in that order.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Provider  ProviderConfig
	Session   SessionConfig
	Retrieval RetrievalConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
	// AuthToken guards the HTTP API when set; empty disables auth.
	AuthToken string
}

type ProviderConfig struct {
	// BaseURL of the OpenAI-compatible API. Empty runs fully local:
	// hash embeddings and extractive answers only.
	BaseURL           string
	APIKey            string
	EmbedModel        string
	ChatModel         string
	Dimension         int
	MaxBatchSize      int
	TimeoutSeconds    int
	RequestsPerSecond float64
}

type SessionConfig struct {
	TTLMinutes   int
	MaxDocuments int
	MaxHistory   int
}

type RetrievalConfig struct {
	TopK         int
	ChunkSize    int
	ChunkOverlap int
}

type StorageConfig struct {
	// IndexBackend selects the vector index: "memory" or "sqlite".
	IndexBackend string
	// DataDir holds the sqlite index file; ignored for the memory backend.
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4000,
			MCPPort: 4001,
		},
		Provider: ProviderConfig{
			BaseURL:           "",
			EmbedModel:        "text-embedding-3-small",
			ChatModel:         "gpt-4o-mini",
			Dimension:         256,
			MaxBatchSize:      64,
			TimeoutSeconds:    30,
			RequestsPerSecond: 4,
		},
		Session: SessionConfig{
			TTLMinutes:   45,
			MaxDocuments: 16,
			MaxHistory:   10,
		},
		Retrieval: RetrievalConfig{
			TopK:         5,
			ChunkSize:    1000,
			ChunkOverlap: 180,
		},
		Storage: StorageConfig{
			IndexBackend: "memory",
			DataDir:      defaultDataDir(),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration: defaults, then a .env file in the working
// directory if one exists, then DOCQA_* environment variables. A missing
// .env file is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Provider.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Provider.Dimension)
	}
	if c.Provider.BaseURL != "" && c.Provider.APIKey == "" {
		return fmt.Errorf("provider base URL is set but DOCQA_PROVIDER_API_KEY is empty")
	}
	switch c.Storage.IndexBackend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown index backend %q (want memory or sqlite)", c.Storage.IndexBackend)
	}
	if c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", c.Retrieval.ChunkOverlap, c.Retrieval.ChunkSize)
	}
	return nil
}

// SessionTTL returns the document time-to-live as a duration.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

// ProviderTimeout returns the per-request provider timeout as a duration.
func (c Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}
