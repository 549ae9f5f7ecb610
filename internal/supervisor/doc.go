// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

/*
Package supervisor runs the long-lived parts of the server under a suture v4
supervisor tree:

	Root ("eventfold")
	├── ingest-layer
	│   └── SchedulerService (cron: ingestion pass, stale-job sweep)
	├── enrich-layer
	│   └── QueueService (enrichment.mode=queue only)
	└── api-layer
	    └── HTTPServerService

Crashed services restart with suture's backoff. A failing enrichment
consumer never takes the API or the scheduler down with it. Cancelling the
context passed to Serve shuts the tree down, waiting up to ShutdownTimeout
for each service.

Supervisor events (restarts, backoff, timeouts) are logged through
sutureslog into the zerolog-backed slog logger from internal/logging.
*/
package supervisor
