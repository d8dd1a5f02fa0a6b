package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/docqa/internal/api"
	"github.com/kalambet/docqa/internal/chunker"
	"github.com/kalambet/docqa/internal/config"
	"github.com/kalambet/docqa/internal/index"
	"github.com/kalambet/docqa/internal/ingest"
	"github.com/kalambet/docqa/internal/provider"
	"github.com/kalambet/docqa/internal/qa"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the docqa server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show docqa server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "docqa version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Vector index: in-process by default, sqlite when vectors should
	// live off the Go heap.
	var idx index.Index
	switch cfg.Storage.IndexBackend {
	case "sqlite":
		sq, err := index.OpenSQLite(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening index: %w", err)
		}
		defer func() {
			if err := sq.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: closing index: %v\n", err)
			}
		}()
		idx = sq
		slog.Info("using sqlite index", "data_dir", cfg.Storage.DataDir)
	default:
		idx = index.NewMemory()
	}

	metrics := api.NewMetrics()

	// Embedding: remote when a provider is configured, always backed by
	// the local deterministic path.
	var remote *provider.Client
	if cfg.Provider.BaseURL != "" {
		remote = provider.NewClient(provider.Config{
			BaseURL:           cfg.Provider.BaseURL,
			APIKey:            cfg.Provider.APIKey,
			EmbedModel:        cfg.Provider.EmbedModel,
			ChatModel:         cfg.Provider.ChatModel,
			Dimension:         cfg.Provider.Dimension,
			MaxBatchSize:      cfg.Provider.MaxBatchSize,
			Timeout:           cfg.ProviderTimeout(),
			RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		})
		slog.Info("remote provider configured", "base_url", cfg.Provider.BaseURL, "embed_model", cfg.Provider.EmbedModel)
	} else {
		slog.Info("no remote provider configured, running fully local")
	}
	var batchRemote provider.RemoteBatchEmbedder
	var generator provider.Generator
	if remote != nil {
		batchRemote = remote
		generator = remote
	}
	embedder := provider.NewResilientEmbedder(batchRemote, cfg.Provider.Dimension, cfg.Provider.MaxBatchSize)

	// The index holds rows only for live documents: any eviction path
	// clears them.
	st := store.New(
		store.WithTTL(cfg.SessionTTL()),
		store.WithMaxDocuments(cfg.Session.MaxDocuments),
		store.WithMaxHistory(cfg.Session.MaxHistory),
		store.WithEvictionHook(func(id string) {
			metrics.Evictions.Inc()
			if err := idx.Remove(context.Background(), id); err != nil {
				slog.Warn("removing index rows for evicted document", "doc_id", id, "error", err)
			}
		}),
	)
	go st.RunSweeper(ctx, time.Minute)

	pipeline := ingest.New(st, embedder, idx,
		ingest.WithChunkOptions(chunker.Options{
			TargetSize: cfg.Retrieval.ChunkSize,
			Overlap:    cfg.Retrieval.ChunkOverlap,
		}),
		ingest.WithBatchSize(cfg.Provider.MaxBatchSize),
		ingest.WithObserver(metrics.ObserveIngest),
	)
	engine := qa.NewEngine(st, retrieval.NewRetriever(embedder, idx), generator, cfg.Retrieval.TopK)

	handler := api.NewHandler(api.Deps{
		Store:    st,
		Pipeline: pipeline,
		Engine:   engine,
		Metrics:  metrics,
		Token:    cfg.Server.AuthToken,
		BaseCtx:  ctx,
	})

	// MCP over stdio, so an agent host can drive the same pipeline.
	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: st, Engine: engine})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "docqa listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if cfg.Provider.BaseURL != "" {
		printStatus("Provider", "%s (embed %s, chat %s)", cfg.Provider.BaseURL, cfg.Provider.EmbedModel, cfg.Provider.ChatModel)
	} else {
		printStatus("Provider", "local only (hash embeddings, extractive answers)")
	}
	printStatus("Index", "%s", cfg.Storage.IndexBackend)
	printStatus("Session TTL", "%s", cfg.SessionTTL())

	if running {
		api, err := newAPIClient()
		if err == nil {
			resp, err := api.get(context.Background(), "/documents")
			if err == nil {
				var docs []map[string]any
				if decodeJSON(resp, &docs) == nil {
					printStatus("Documents", "%d", len(docs))
				}
			}
		}
	}
	return nil
}
