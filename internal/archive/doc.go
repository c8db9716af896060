// Package archive captures accepted live feed events into PostgreSQL for
// debugging and replay.
//
// The writer:
//   - Consumes events from the manager's update channel
//   - Accumulates batches and flushes on size or interval
//   - Inserts with ON CONFLICT DO NOTHING so replays are idempotent
package archive
