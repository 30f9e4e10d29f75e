package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	flag "github.com/spf13/pflag"

	"github.com/insightlabs/insight/internal/answer"
	"github.com/insightlabs/insight/internal/plan"
	"github.com/insightlabs/insight/internal/reco"
	"github.com/insightlabs/insight/internal/server"
	"github.com/insightlabs/insight/internal/store"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr     = ":8080"
	defaultMongoURI       = "mongodb://localhost:27017"
	defaultDatabase       = "insight"
	defaultModel          = string(anthropic.ModelClaude3_5Haiku20241022)
	defaultMaxTokens      = 4096
	defaultQueryTimeout   = 60 * time.Second
	defaultRecoTTL        = 15 * time.Minute
	defaultRecoSweepEvery = 1 * time.Minute
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	showVersionFlag := flag.Bool("version", false, "show version and exit")
	verboseFlag := flag.Bool("verbose", false, "verbose mode - show debug logs")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "address to listen on")

	// Document store configuration.
	mongoURIFlag := flag.String("mongo-uri", defaultMongoURI, "mongodb connection URI")
	databaseFlag := flag.String("database", defaultDatabase, "database holding the document collections")

	// Model configuration.
	modelFlag := flag.String("model", defaultModel, "anthropic model for plan generation and summaries")
	maxTokensFlag := flag.Int64("max-tokens", defaultMaxTokens, "max tokens per model response")

	// Query configuration.
	queryTimeoutFlag := flag.Duration("query-timeout", defaultQueryTimeout, "per-request timeout")
	forceConvertFlag := flag.StringSlice("force-convert-collections", nil, "collections whose date conversions are always removed regardless of schema inference")

	// Recommendation cache configuration.
	recoTTLFlag := flag.Duration("recommendation-ttl", defaultRecoTTL, "how long visualization recommendations stay selectable")
	recoSweepFlag := flag.Duration("recommendation-sweep-interval", defaultRecoSweepEvery, "how often expired recommendations are evicted")

	flag.Parse()

	if *showVersionFlag {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		os.Exit(0)
	}

	log := newLogger(*verboseFlag)

	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		log.Error("ANTHROPIC_API_KEY is not set")
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.New(ctx, &store.Config{
		Logger:   log,
		URI:      *mongoURIFlag,
		Database: *databaseFlag,
	})
	if err != nil {
		log.Error("failed to connect to document store", "error", err)
		return err
	}
	defer func() {
		if err := db.Close(context.Background()); err != nil {
			log.Error("failed to close document store", "error", err)
		}
	}()

	prompts, err := plan.LoadPrompts()
	if err != nil {
		log.Error("failed to load prompts", "error", err)
		return err
	}

	recommendations, err := reco.New(&reco.Config{
		Logger:        log,
		Clock:         clockwork.NewRealClock(),
		TTL:           *recoTTLFlag,
		SweepInterval: *recoSweepFlag,
	})
	if err != nil {
		log.Error("failed to create recommendation cache", "error", err)
		return err
	}
	go recommendations.Start(ctx)

	svc, err := answer.New(&answer.Config{
		Logger:                  log,
		LLM:                     plan.NewAnthropicLLMClient(log, anthropic.Model(*modelFlag), *maxTokensFlag),
		Store:                   db,
		Prompts:                 prompts,
		Recommendations:         recommendations,
		ForceConvertCollections: *forceConvertFlag,
		QueryTimeout:            *queryTimeoutFlag,
	})
	if err != nil {
		log.Error("failed to create answer service", "error", err)
		return err
	}

	srv, err := server.New(&server.Config{
		Logger:          log,
		Service:         svc,
		Recommendations: recommendations,
		Addr:            *listenAddrFlag,
	})
	if err != nil {
		log.Error("failed to create server", "error", err)
		return err
	}

	if err := srv.Run(ctx); err != nil {
		log.Error("server: error", "error", err)
		return err
	}
	return nil
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevel,
	}))
}
