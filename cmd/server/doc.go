// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

/*
Command server runs Eventfold: it pulls event listings from the configured
sources, folds duplicates into one catalog, and serves the operational API.

Startup order:

 1. .env (optional, via godotenv) and configuration (Koanf v2)
 2. Logging (zerolog)
 3. DuckDB catalog, job ledger and source health tables
 4. Source connectors
 5. Enrichment (optional): tagger, dead-letter store and, in queue mode,
    the Watermill consumer
 6. Ingestion orchestrator and stale-job sweeper
 7. Supervisor tree: scheduler, enrichment consumer, HTTP server

One-shot modes run a single operation and exit without starting the tree:

	server -once            # run every eligible source
	server -source tickets  # run one source
	server -sweep           # finalize stale RUNNING jobs

Exit status is 1 when a one-shot run ends with status ERROR.

SIGINT and SIGTERM cancel the tree. In-flight runs observe the cancellation
and still finalize their jobs.
*/
package main
