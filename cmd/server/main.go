package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/vinodismyname/datasavant/config"
	"github.com/vinodismyname/datasavant/internal/agent"
	"github.com/vinodismyname/datasavant/internal/datasets"
	"github.com/vinodismyname/datasavant/internal/ops"
	"github.com/vinodismyname/datasavant/internal/reasoning"
	"github.com/vinodismyname/datasavant/internal/registry"
	"github.com/vinodismyname/datasavant/internal/runtime"
	"github.com/vinodismyname/datasavant/internal/security"
	"github.com/vinodismyname/datasavant/internal/telemetry"
	"github.com/vinodismyname/datasavant/pkg/version"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	envErr := godotenv.Load()

	var (
		useStdio        bool
		shutdownTimeout time.Duration
		model           string
		defaultDataset  string
		maxIterations   int
		maxSessions     int
	)

	flag.BoolVar(&useStdio, "stdio", false, "Run server over stdio transport")
	flag.DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
	flag.StringVar(&model, "model", envOr(config.EnvModel, config.DefaultModel), "Language model used by ask_dataset")
	flag.StringVar(&defaultDataset, "default-dataset", envOr(config.EnvDefaultDataset, config.DefaultDatasetPath), "Dataset opened when open_dataset omits path")
	flag.IntVar(&maxIterations, "max-iterations", config.DefaultMaxIterations, "Reasoning steps allowed per question")
	flag.IntVar(&maxSessions, "max-sessions", config.DefaultMaxConcurrentSessions, "Concurrent ask_dataset sessions")
	flag.Parse()

	// stdout carries the MCP protocol; logs go to stderr.
	logger := zlog.Output(os.Stderr).With().Str("service", "datasavant-server").Logger()
	ctx := logger.WithContext(context.Background())
	if envErr != nil {
		logger.Debug().Msg("no .env file found, using environment variables")
	}

	// Security: validate allow-list directories on startup (fail-safe on error)
	secMgr, err := security.NewManagerFromEnv(defaultDataset)
	if err != nil {
		logger.Error().Err(err).Msg("security: failed to initialize manager from env")
		fmt.Fprintf(os.Stderr, "invalid security configuration; set %s\n", config.EnvAllowedDirs)
		os.Exit(1)
	}
	if err := secMgr.ValidateConfig(); err != nil {
		logger.Error().Err(err).Msg("security: invalid allow-list configuration")
		fmt.Fprintf(os.Stderr, "no allowed directories configured; set %s or provide a default dataset\n", config.EnvAllowedDirs)
		os.Exit(1)
	}
	logger.Info().Strs("allowed_dirs", secMgr.AllowedDirectories()).Msg("security allow-list configured")

	limits := runtime.NewLimits(config.DefaultMaxConcurrentRequests, config.DefaultMaxOpenDatasets, maxSessions)
	limits.MaxIterations = maxIterations
	runtimeController := runtime.NewController(limits)
	// ask_dataset must be able to reach the iteration cap and its summary call.
	runtimeMW := runtime.NewMiddleware(runtimeController, logger).
		WithTimeout(registry.ToolAskDataset, limits.SessionBudget())

	dsManager := datasets.NewManager(config.DefaultDatasetIdleTTL, config.DefaultDatasetCleanupPeriod, runtimeController, time.Now).
		WithValidator(secMgr).
		WithDefaultPath(defaultDataset).
		WithMaxBytes(limits.MaxDatasetBytes)
	dsManager.Start()

	hooks := telemetry.NewHooks(logger)
	loop, err := agent.New(agentConfig(limits),
		reasoning.OpenAIFactory(model, os.Getenv(config.EnvOpenAIBaseURL)),
		agent.WithGate(runtimeController),
		agent.WithObserver(hooks),
	)
	if err != nil {
		logger.Error().Err(err).Msg("agent: invalid configuration")
		os.Exit(1)
	}

	toolRegistry := registry.New().WithModel(model)
	executorFilter := registry.NewExecutorToolFilterFromEnv()

	srv := server.NewMCPServer(
		"Data Savant",
		version.Version(),
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks.Server()),
		server.WithToolHandlerMiddleware(runtimeMW.ToolMiddleware),
		server.WithToolFilter(func(ctx context.Context, tools []mcp.Tool) []mcp.Tool { return executorFilter.FilterTools(ctx, tools) }),
	)

	registry.RegisterDatasetTools(srv, toolRegistry, registry.Deps{
		Limits:         runtimeController.LimitsSnapshot(),
		Datasets:       dsManager,
		Agent:          loop,
		Executor:       ops.NewExecutor(limits.ExecuteTimeout, limits.PreviewRowLimit, limits.MaxObservationBytes),
		Credentials:    envCredentials,
		ExposeExecutor: executorFilter.Exposed(),
	})

	logger.Info().
		Ctx(ctx).
		Str("version", version.Version()).
		Str("model", toolRegistry.Model()).
		Int("model_context_size", toolRegistry.ModelContextSize()).
		Int("max_concurrent_requests", limits.MaxConcurrentRequests).
		Int("max_open_datasets", limits.MaxOpenDatasets).
		Int("max_concurrent_sessions", limits.MaxConcurrentSessions).
		Int("max_iterations", limits.MaxIterations).
		Str("default_dataset", dsManager.DefaultPath()).
		Dur("ask_timeout", limits.SessionBudget()).
		Bool("expose_executor", executorFilter.Exposed()).
		Bool("stdio", useStdio).
		Msg("server bootstrap configured")

	if !useStdio {
		// If no transport flags provided, print usage and exit non-zero
		fmt.Fprintln(os.Stderr, "no transport selected; use --stdio to run over stdio")
		os.Exit(2)
	}

	serveErr := server.ServeStdio(srv)

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := dsManager.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("dataset cache shutdown incomplete")
	}
	c := hooks.Snapshot()
	logger.Info().Int64("sessions", c.Started).Int64("succeeded", c.Succeeded).Int64("failed", c.Failed).Msg("server stopped")

	if serveErr != nil {
		// Use stderr for transport errors so clients don't misinterpret output
		fmt.Fprintf(os.Stderr, "Server error: %v\n", serveErr)
		os.Exit(1)
	}
}

func agentConfig(l runtime.Limits) agent.Config {
	cfg := agent.DefaultConfig()
	cfg.MaxIterations = l.MaxIterations
	cfg.MaxParseRetries = l.MaxParseRetries
	cfg.ReasoningTimeout = l.ReasoningTimeout
	cfg.ExecuteTimeout = l.ExecuteTimeout
	cfg.PreviewRows = l.PreviewRowLimit
	cfg.MaxObservationBytes = l.MaxObservationBytes
	return cfg
}

// envCredentials reads the key per call so it is never held by the server.
func envCredentials() reasoning.Credentials {
	return reasoning.Credentials{APIKey: os.Getenv(config.EnvOpenAIAPIKey)}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
