package config

import (
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()
	if cfg.Server.Port != 4000 {
		t.Errorf("default port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Session.TTLMinutes != 45 || cfg.Session.MaxDocuments != 16 {
		t.Errorf("session defaults = %+v", cfg.Session)
	}
	if cfg.Storage.IndexBackend != "memory" {
		t.Errorf("default index backend = %q, want memory", cfg.Storage.IndexBackend)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DOCQA_SERVER_PORT", "8080")
	t.Setenv("DOCQA_PROVIDER_DIMENSION", "1536")
	t.Setenv("DOCQA_PROVIDER_RPS", "2.5")
	t.Setenv("DOCQA_STORAGE_INDEX_BACKEND", "sqlite")

	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Provider.Dimension != 1536 {
		t.Errorf("dimension = %d, want 1536", cfg.Provider.Dimension)
	}
	if cfg.Provider.RequestsPerSecond != 2.5 {
		t.Errorf("rps = %f, want 2.5", cfg.Provider.RequestsPerSecond)
	}
	if cfg.Storage.IndexBackend != "sqlite" {
		t.Errorf("backend = %q, want sqlite", cfg.Storage.IndexBackend)
	}
}

func TestEnvOverrides_BadIntKeepsDefault(t *testing.T) {
	t.Setenv("DOCQA_SERVER_PORT", "not-a-number")
	cfg := defaults()
	applyEnvOverrides(&cfg)
	if cfg.Server.Port != 4000 {
		t.Errorf("port = %d, want default 4000 on parse failure", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "remote provider without key",
			mutate:  func(c *Config) { c.Provider.BaseURL = "https://api.example.com" },
			wantErr: "API_KEY",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Storage.IndexBackend = "redis" },
			wantErr: "index backend",
		},
		{
			name:    "overlap at least chunk size",
			mutate:  func(c *Config) { c.Retrieval.ChunkOverlap = c.Retrieval.ChunkSize },
			wantErr: "overlap",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "port",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.mutate(&cfg)
			err := cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("validate() = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}
