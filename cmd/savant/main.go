package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/vinodismyname/datasavant/config"
	"github.com/vinodismyname/datasavant/internal/agent"
	"github.com/vinodismyname/datasavant/internal/dataset"
	"github.com/vinodismyname/datasavant/internal/reasoning"
	"github.com/vinodismyname/datasavant/internal/telemetry"
	"github.com/vinodismyname/datasavant/internal/transcript"
)

func main() {
	// A .env next to the binary may carry OPENAI_API_KEY and SAVANT_* settings.
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("savant", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		dataPath      = fs.String("data", envOr(config.EnvDefaultDataset, config.DefaultDatasetPath), "Dataset file (.csv, .tsv, .txt, .xlsx, .xlsm)")
		question      = fs.String("q", "", "Question to answer; remaining arguments are used when empty")
		apiKey        = fs.String("api-key", "", "Model API key (defaults to "+config.EnvOpenAIAPIKey+")")
		model         = fs.String("model", envOr(config.EnvModel, config.DefaultModel), "Language model name")
		maxIterations = fs.Int("max-iterations", config.DefaultMaxIterations, "Reasoning steps allowed")
		verbose       = fs.Bool("v", false, "Print the transcript and debug logs to stderr")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	q := strings.TrimSpace(*question)
	if q == "" {
		q = strings.TrimSpace(strings.Join(fs.Args(), " "))
	}
	if q == "" {
		fmt.Fprintln(stderr, "usage: savant [-data file] -q \"question\"")
		return 2
	}

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr}).Level(level).With().Timestamp().Logger()

	ds, err := dataset.LoadFile(*dataPath, dataset.LoadOptions{})
	if err != nil {
		fmt.Fprintf(stderr, "cannot load dataset: %v\n", err)
		return 1
	}

	creds := reasoning.Credentials{APIKey: *apiKey}
	if creds.Empty() {
		creds.APIKey = os.Getenv(config.EnvOpenAIAPIKey)
	}

	cfg := agent.DefaultConfig()
	cfg.MaxIterations = *maxIterations
	loop, err := agent.New(cfg,
		reasoning.OpenAIFactory(*model, os.Getenv(config.EnvOpenAIBaseURL)),
		agent.WithObserver(telemetry.NewHooks(logger)),
	)
	if err != nil {
		fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(logger.WithContext(context.Background()), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := loop.Ask(ctx, ds, q, creds)
	if *verbose {
		printSteps(stderr, res.Transcript)
	}
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrMissingCredentials):
			fmt.Fprintf(stderr, "no API key; pass -api-key or set %s\n", config.EnvOpenAIAPIKey)
		case res.State == agent.StateCancelled:
			fmt.Fprintln(stderr, "cancelled")
		default:
			fmt.Fprintf(stderr, "could not answer: %v\n", err)
		}
		return 1
	}

	fmt.Fprintln(stdout, res.Answer)
	if res.BestEffort {
		fmt.Fprintf(stderr, "note: best-effort answer after %d steps\n", res.Iterations)
	}
	return 0
}

func printSteps(w io.Writer, steps []transcript.Step) {
	for i, s := range steps {
		switch {
		case s.Kind == transcript.KindFinal:
			fmt.Fprintf(w, "[%d] final: %s\n", i+1, s.Answer)
		case s.Malformed:
			fmt.Fprintf(w, "[%d] unparsable response\n", i+1)
		default:
			fmt.Fprintf(w, "[%d] %s\n", i+1, s.Instruction)
			if s.Observation != nil {
				fmt.Fprintf(w, "    %s\n", strings.ReplaceAll(s.Observation.String(), "\n", "\n    "))
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
