// Package main provides the threadline daemon: ingest, lifecycle sweep and
// the HTTP API in one process.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/threadline/internal/config"
	db "github.com/thebtf/threadline/internal/db/gorm"
	"github.com/thebtf/threadline/internal/engine"
	"github.com/thebtf/threadline/internal/ingest"
	"github.com/thebtf/threadline/internal/lifecycle"
	"github.com/thebtf/threadline/internal/llm"
	"github.com/thebtf/threadline/internal/vector"
	"github.com/thebtf/threadline/internal/watcher"
	"github.com/thebtf/threadline/internal/worker"
	"github.com/thebtf/threadline/pkg/models"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvConfigPath), "Path to config file")
	importPath := flag.String("import", "", "JSON file of articles to ingest at startup")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	store, err := db.NewStore(db.Config{
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.MaxConns,
		LogLevel: cfg.Database.GormLogLevel(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer store.Close()

	client, err := llm.NewOpenAIClient(cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init LLM client")
	}

	articles := db.NewArticleStore(store)
	threads := db.NewThreadStore(store)

	var searcher vector.Searcher
	if store.IsPostgres() {
		searcher = vector.NewPgSearcher(store, threads)
	} else {
		searcher = vector.NewLinearSearcher(threads)
	}

	eng := engine.New(store, articles, searcher, client, cfg)
	runner := ingest.NewRunner(eng, cfg.Ingest.Workers, cfg.LLM.RetryAttempts, cfg.LLM.RetryBackoff)
	sweeper := lifecycle.NewManager(threads, cfg.Lifecycle)
	svc := worker.New(Version, cfg.Server, store, eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down")
		cancel()
	}()

	// Hot reload of the policy knobs; schema-level settings need a restart.
	if *configPath != "" {
		w, err := watcher.New(*configPath, func(next *config.Config) {
			eng.SetPolicy(engine.Policy{
				TopK:            next.Similarity.TopK,
				CosineThreshold: next.Similarity.CosineThreshold,
				AcceptScore:     next.Similarity.AcceptScore,
				FailOpen:        next.Ingest.FailOpen,
			})
			sweeper.SetConfig(next.Lifecycle)
			runner.SetWorkers(next.Ingest.Workers)
			log.Info().Msg("Config reloaded")
		})
		if err != nil {
			log.Warn().Err(err).Msg("Config watcher unavailable")
		} else if err := w.Start(); err != nil {
			log.Warn().Err(err).Msg("Config watcher failed to start")
		} else {
			defer w.Stop()
		}
	}

	if *importPath != "" {
		if err := importArticles(ctx, runner, *importPath); err != nil {
			log.Fatal().Err(err).Str("file", *importPath).Msg("Import failed")
		}
	}

	go sweeper.Run(ctx)

	if err := svc.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("HTTP server failed")
	}
	log.Info().Msg("Shutdown complete")
}

// importArticles ingests a JSON array of articles through the batch runner.
func importArticles(ctx context.Context, runner *ingest.Runner, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var batch []*models.IncomingArticle
	if err := json.Unmarshal(raw, &batch); err != nil {
		return err
	}

	stats, err := runner.ProcessBatch(ctx, batch)
	if err != nil {
		return err
	}
	log.Info().
		Int64("processed", stats.Processed).
		Int64("duplicates", stats.Duplicates).
		Int64("created", stats.Created).
		Int64("attached", stats.Attached).
		Int64("failed", stats.Failed).
		Msg("Import complete")
	return nil
}
