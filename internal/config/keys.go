package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "DOCQA_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "DOCQA_SERVER_MCP_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
	},
	{
		env: "DOCQA_SERVER_AUTH_TOKEN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Server.AuthToken = v.(string) },
	},
	{
		env: "DOCQA_PROVIDER_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Provider.BaseURL = v.(string) },
	},
	{
		env: "DOCQA_PROVIDER_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Provider.APIKey = v.(string) },
	},
	{
		env: "DOCQA_PROVIDER_EMBED_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Provider.EmbedModel = v.(string) },
	},
	{
		env: "DOCQA_PROVIDER_CHAT_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Provider.ChatModel = v.(string) },
	},
	{
		env: "DOCQA_PROVIDER_DIMENSION", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Provider.Dimension = v.(int) },
	},
	{
		env: "DOCQA_PROVIDER_MAX_BATCH", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Provider.MaxBatchSize = v.(int) },
	},
	{
		env: "DOCQA_PROVIDER_TIMEOUT_SECONDS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Provider.TimeoutSeconds = v.(int) },
	},
	{
		env: "DOCQA_PROVIDER_RPS", typ: kFloat,
		apply: func(cfg *Config, v any) { cfg.Provider.RequestsPerSecond = v.(float64) },
	},
	{
		env: "DOCQA_SESSION_TTL_MINUTES", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Session.TTLMinutes = v.(int) },
	},
	{
		env: "DOCQA_SESSION_MAX_DOCUMENTS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Session.MaxDocuments = v.(int) },
	},
	{
		env: "DOCQA_SESSION_MAX_HISTORY", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Session.MaxHistory = v.(int) },
	},
	{
		env: "DOCQA_RETRIEVAL_TOP_K", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
	},
	{
		env: "DOCQA_RETRIEVAL_CHUNK_SIZE", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retrieval.ChunkSize = v.(int) },
	},
	{
		env: "DOCQA_RETRIEVAL_CHUNK_OVERLAP", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retrieval.ChunkOverlap = v.(int) },
	},
	{
		env: "DOCQA_STORAGE_INDEX_BACKEND", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.IndexBackend = v.(string) },
	},
	{
		env: "DOCQA_STORAGE_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "DOCQA_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "docqa")
	}
	return ".docqa"
}
