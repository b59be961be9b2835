// Package main is the Kotaeru CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotaeru/internal/config"
	"github.com/hyperjump/kotaeru/internal/embedding"
	"github.com/hyperjump/kotaeru/internal/indexer"
	"github.com/hyperjump/kotaeru/internal/matcher"
	"github.com/hyperjump/kotaeru/internal/models"
	"github.com/hyperjump/kotaeru/internal/objstore"
	"github.com/hyperjump/kotaeru/internal/server"
	"github.com/hyperjump/kotaeru/internal/storage"
	"github.com/hyperjump/kotaeru/internal/vector"
	"github.com/hyperjump/kotaeru/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kotaeru/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used, so that "kotaeru server" from the project dir uses the
// project's config (including debug).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "build":
		runBuild()
	case "query":
		runQuery()
	case "engines":
		runEngines()
	case "delete":
		runDelete()
	case "version", "--version", "-v":
		fmt.Printf("kotaeru version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	srv := server.NewServer(
		components.Builder,
		components.Matcher,
		components.Storage,
		&cfg.Server,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runBuild() {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = build directly in this process)")
	docURL := fs.String("doc-url", "", "corpus location, e.g. gs://bucket/prefix")
	user := fs.String("user", "", "user id recorded as the engine creator")
	public := fs.Bool("public", false, "expose the index endpoint publicly")
	llmType := fs.String("llm", "", "chat model override for this engine")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 || *docURL == "" {
		fmt.Println("Usage: kotaeru build --doc-url gs://bucket [flags] <engine-name>")
		os.Exit(1)
	}
	req := &models.BuildRequest{
		DocURL:      *docURL,
		QueryEngine: fs.Arg(0),
		UserID:      *user,
		IsPublic:    *public,
		LLMType:     *llmType,
	}

	if *serverURL != "" {
		var result models.BuildResult
		if err := postJSON(*serverURL+"/api/v1/engines", req, &result); err != nil {
			fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
			os.Exit(1)
		}
		printBuildResult(&result)
		return
	}

	components, logger := mustInitialize(*configPath)
	defer components.Close()
	defer logger.Sync()

	result, err := components.Builder.Build(context.Background(), req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
		os.Exit(1)
	}
	printBuildResult(result)
}

func printBuildResult(result *models.BuildResult) {
	fmt.Printf("Engine built: %s\n", result.QueryEngineID)
	fmt.Printf("Documents processed: %d\n", len(result.DocsProcessed))
	if len(result.DocsNotProcessed) > 0 {
		fmt.Printf("Documents not processed: %d\n", len(result.DocsNotProcessed))
		for _, url := range result.DocsNotProcessed {
			fmt.Printf("  %s\n", url)
		}
	}
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = query directly in this process)")
	engine := fs.String("engine", "", "query engine name")
	user := fs.String("user", "", "user id for query history")
	userQueryID := fs.String("history", "", "existing user query id to append to")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 || *engine == "" {
		fmt.Println("Usage: kotaeru query --engine <name> [flags] <prompt>")
		os.Exit(1)
	}
	req := &models.QueryRequest{
		UserID:      *user,
		Prompt:      strings.TrimSpace(strings.Join(fs.Args(), " ")),
		QueryEngine: *engine,
		UserQueryID: *userQueryID,
	}

	var resp *matcher.Response
	if *serverURL != "" {
		resp = &matcher.Response{}
		if err := postJSON(*serverURL+"/api/v1/query", req, resp); err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		components, logger := mustInitialize(*configPath)
		defer components.Close()
		defer logger.Sync()

		var err error
		resp, err = components.Matcher.Query(context.Background(), req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
	}

	if resp.Result.Response != "" {
		fmt.Println(resp.Result.Response)
		fmt.Println()
	}
	fmt.Printf("References (%d):\n", len(resp.References))
	for i, ref := range resp.References {
		fmt.Printf("%d. %s\n   %s\n", i+1, ref.DocumentURL, utils.Truncate(ref.Text, 120))
	}
	if resp.UserQueryID != "" {
		fmt.Printf("\nHistory id: %s\n", resp.UserQueryID)
	}
}

func runEngines() {
	fs := flag.NewFlagSet("engines", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read storage directly)")
	_ = fs.Parse(os.Args[2:])

	var engines []*models.QueryEngine
	if *serverURL != "" {
		resp, err := http.Get(*serverURL + "/api/v1/engines")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		if err := json.NewDecoder(resp.Body).Decode(&engines); err != nil {
			fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		components, logger := mustInitialize(*configPath)
		defer components.Close()
		defer logger.Sync()

		var err error
		engines, err = components.Storage.ListEngines(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
			os.Exit(1)
		}
	}

	for _, e := range engines {
		fmt.Printf("%s\t%s\t%s\n", e.Name, e.DeployStatus, e.CreatedAt.Format(time.RFC3339))
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = delete directly in this process)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kotaeru delete [flags] <engine-name>")
		os.Exit(1)
	}
	name := fs.Arg(0)

	if *serverURL != "" {
		req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/engines/"+name, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Delete failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Printf("Engine deleted: %s\n", name)
		return
	}

	components, logger := mustInitialize(*configPath)
	defer components.Close()
	defer logger.Sync()

	if err := components.Builder.Delete(context.Background(), name); err != nil {
		fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Engine deleted: %s\n", name)
}

func postJSON(url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// mustInitialize loads config and builds components, exiting on failure.
func mustInitialize(configPath string) (*Components, *zap.Logger) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	return components, logger
}

// Components holds initialized services.
type Components struct {
	Storage storage.Storage
	Builder *indexer.Builder
	Matcher *matcher.Matcher
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var objects objstore.Store
	switch cfg.Objects.Backend {
	case "memory":
		objects = objstore.NewMemoryStore()
	default:
		gcs, err := objstore.NewGCSStore(ctx, cfg.Project)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize object storage: %w", err)
		}
		objects = gcs
	}

	apiKey := os.Getenv(cfg.Embedding.APIKeyEnv)
	var enc embedding.Encoder
	var chat matcher.ChatModel
	switch cfg.Embedding.Backend {
	case "mock":
		enc = embedding.NewMockEncoder(cfg.Embedding.Dimensions)
	default:
		gemini, err := embedding.NewGeminiEncoder(ctx, apiKey, cfg.Embedding.Model, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedding encoder: %w", err)
		}
		enc = gemini
		geminiChat, err := embedding.NewGeminiChat(ctx, apiKey, cfg.Query.ChatModel)
		if err != nil {
			logger.Warn("chat model unavailable, queries will return references only", zap.Error(err))
		} else {
			chat = geminiChat
		}
	}
	encoder := embedding.NewBatchEncoder(enc, embedding.BatchConfig{
		BatchSize:      cfg.Embedding.BatchSize,
		CallsPerSecond: cfg.Embedding.CallsPerSecond(),
		Workers:        cfg.Embedding.Workers,
	}, logger)

	vectors := vector.NewMemoryService(objects)

	builder := indexer.NewBuilder(store, objects, encoder, vectors, cfg, logger)
	m := matcher.NewMatcher(store, encoder, vectors, chat, cfg, logger)

	return &Components{
		Storage: store,
		Builder: builder,
		Matcher: m,
	}, nil
}

func printUsage() {
	fmt.Println(`kotaeru - Document query engine service

Usage:
  kotaeru server [flags]                         Start the HTTP server
  kotaeru build [flags] <engine-name>            Build a query engine over a corpus
  kotaeru query [flags] <prompt>                 Query a built engine
  kotaeru engines [flags]                        List query engines
  kotaeru delete [flags] <engine-name>           Delete a query engine
  kotaeru version                                Show version
  kotaeru help                                   Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kotaeru/config.yaml)
  --debug            Enable debug logging

Build Flags:
  --config string    Config file path
  --server string    Server URL (empty = build directly in this process)
  --doc-url string   Corpus location, e.g. gs://bucket/prefix (required)
  --user string      User id recorded as the engine creator
  --public           Expose the index endpoint publicly
  --llm string       Chat model override for this engine

Query Flags:
  --config string    Config file path
  --server string    Server URL (empty = query directly in this process)
  --engine string    Query engine name (required)
  --user string      User id for query history
  --history string   Existing user query id to append to

Examples:
  kotaeru server
  kotaeru build --doc-url gs://my-docs wiki
  kotaeru query --engine wiki "how do I configure the agent?"
  kotaeru engines
  kotaeru delete wiki`)
}
