// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tomtom215/eventfold/internal/api"
	"github.com/tomtom215/eventfold/internal/config"
	"github.com/tomtom215/eventfold/internal/connector"
	"github.com/tomtom215/eventfold/internal/database"
	"github.com/tomtom215/eventfold/internal/enrich"
	"github.com/tomtom215/eventfold/internal/ingest"
	"github.com/tomtom215/eventfold/internal/logging"
	"github.com/tomtom215/eventfold/internal/metrics"
	"github.com/tomtom215/eventfold/internal/models"
	"github.com/tomtom215/eventfold/internal/supervisor"
	"github.com/tomtom215/eventfold/internal/supervisor/services"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type flags struct {
	once   bool
	source string
	sweep  bool
}

func parseFlags() flags {
	var f flags
	flag.BoolVar(&f.once, "once", false, "run every eligible source once and exit")
	flag.StringVar(&f.source, "source", "", "run the named source once and exit")
	flag.BoolVar(&f.sweep, "sweep", false, "finalize stale RUNNING jobs and exit")
	flag.Parse()
	return f
}

func main() {
	os.Exit(run(parseFlags()))
}

//nolint:gocyclo // sequential startup
func run(f flags) int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Warn().Err(err).Msg("Failed to read .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}
	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to initialize database")
		return 1
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	registry, err := connector.Build(cfg.Sources)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to build source connectors")
		return 1
	}
	logging.Info().
		Str("db_path", cfg.Database.Path).
		Strs("sources", registry.Names()).
		Msg("Configuration loaded")

	var opts []ingest.Option
	var enricher *enrich.Service
	if cfg.Enrichment.Enabled {
		enricher, err = enrich.NewService(&cfg.Enrichment, db)
		if err != nil {
			logging.Error().Err(err).Msg("Failed to initialize enrichment")
			return 1
		}
		defer func() {
			if err := enricher.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing enrichment")
			}
		}()
		opts = append(opts, ingest.WithEnricher(enricher))
	}

	orchestrator := ingest.New(cfg, registry, ingest.Stores{Catalog: db, Jobs: db, Health: db}, opts...)
	sweeper := ingest.NewSweeper(db, cfg.Ingest.StaleJobTimeout)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case f.sweep:
		return runSweep(ctx, sweeper)
	case f.source != "":
		return runSource(ctx, orchestrator, f.source)
	case f.once:
		return runAll(ctx, orchestrator)
	}

	return serve(ctx, cfg, db, orchestrator, sweeper, enricher)
}

func runSweep(ctx context.Context, sweeper *ingest.Sweeper) int {
	n, err := sweeper.Sweep(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Stale-job sweep failed")
		return 1
	}
	fmt.Printf("swept %d stale job(s)\n", n)
	return 0
}

func runSource(ctx context.Context, o *ingest.Orchestrator, source string) int {
	res, err := o.RunOne(ctx, source)
	if err != nil {
		logging.Error().Err(err).Str("source", source).Msg("Run did not start")
		return 1
	}
	printResult(res)
	if res.Status == models.JobError {
		return 1
	}
	return 0
}

func runAll(ctx context.Context, o *ingest.Orchestrator) int {
	code := 0
	for _, res := range o.RunAll(ctx) {
		printResult(res)
		if res.Status == models.JobError {
			code = 1
		}
	}
	return code
}

func printResult(res ingest.RunResult) {
	fmt.Printf("%-20s %-8s created=%d updated=%d skipped=%d errors=%d %dms",
		res.Source, res.Status, res.Created, res.Updated, res.Skipped, res.Errors, res.DurationMs)
	if res.Error != "" {
		fmt.Printf(" error=%q", res.Error)
	}
	fmt.Println()
}

func serve(ctx context.Context, cfg *config.Config, db *database.DB, o *ingest.Orchestrator, sweeper *ingest.Sweeper, enricher *enrich.Service) int {
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.Timeout,
	})

	if cfg.Schedule.Enabled {
		scheduler := services.NewSchedulerService(
			services.Job{
				Name:       "ingest",
				Spec:       cfg.Schedule.IngestSpec,
				RunOnStart: cfg.Schedule.RunOnStartup,
				Run:        func(ctx context.Context) { o.RunAll(ctx) },
			},
			services.Job{
				Name: "sweep",
				Spec: cfg.Schedule.SweepSpec,
				Run: func(ctx context.Context) {
					if _, err := sweeper.Sweep(ctx); err != nil {
						logging.Error().Err(err).Msg("Scheduled sweep failed")
					}
				},
			},
		)
		if err := scheduler.Validate(); err != nil {
			logging.Error().Err(err).Msg("Invalid schedule")
			return 1
		}
		tree.AddIngestService(scheduler)
	}

	// A nil *enrich.Service must not become a non-nil interface.
	var deadLetters api.DeadLetters
	if enricher != nil {
		deadLetters = enricher
		if q := enricher.Queue(); q != nil {
			tree.AddEnrichService(services.NewQueueService(q))
		}
	}

	handler := api.NewHandler(cfg, o, sweeper, db, deadLetters)
	mw := api.NewChiMiddleware(api.ChiMiddlewareConfigFrom(&cfg.Server))
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(handler, mw),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.Timeout))

	metrics.AppInfo.WithLabelValues(version, runtime.Version()).Set(1)
	logging.Info().Str("addr", server.Addr).Str("version", version).Msg("Starting Eventfold")
	err := tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree stopped with error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Eventfold stopped")
	return 0
}
