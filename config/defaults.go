package config

import "time"

// Default runtime limits and guardrails for the dataset question-answering service.
// They are referenced by internal/runtime, internal/agent and internal/ops and can
// be overridden through flags or environment in cmd/.

const (
	// Concurrency
	DefaultMaxConcurrentRequests = 10
	DefaultMaxOpenDatasets       = 4
	DefaultMaxConcurrentSessions = 4

	// Agent loop budget
	DefaultMaxIterations   = 10
	DefaultMaxParseRetries = 3

	// Observation bounds
	DefaultMaxObservationBytes = 4 * 1024
	DefaultPreviewRowLimit     = 10 // First 10 rows by default
	DefaultMaxPreviewRows      = 1000

	// Loading
	DefaultMaxDatasetBytes = 64 * 1024 * 1024
)

const (
	// Timeouts
	DefaultOperationTimeout      = 120 * time.Second
	DefaultAcquireRequestTimeout = 2 * time.Second
	DefaultReasoningTimeout      = 60 * time.Second
	DefaultExecuteTimeout        = 5 * time.Second

	// Dataset handle cache
	DefaultDatasetIdleTTL       = 15 * time.Minute
	DefaultDatasetCleanupPeriod = time.Minute
)

const (
	// Model and dataset defaults
	DefaultModel       = "gpt-4o-mini"
	DefaultDatasetPath = "train.csv"
)

// Environment variables read by cmd/ when building runtime configuration.
const (
	EnvAllowedDirs    = "SAVANT_ALLOWED_DIRS"
	EnvDefaultDataset = "SAVANT_DEFAULT_DATASET"
	EnvModel          = "SAVANT_MODEL"
	EnvOpenAIBaseURL  = "SAVANT_OPENAI_BASE_URL"
	EnvExposeExecutor = "SAVANT_EXPOSE_EXECUTOR"
	EnvOpenAIAPIKey   = "OPENAI_API_KEY"
)
