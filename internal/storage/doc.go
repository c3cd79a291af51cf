// Package storage implements the time-partitioned telemetry store for
// machine sensor readings.
//
// Write path:
//
//	Append ──▶ WAL ──▶ hour chunk (memory) ──▶ Parquet file (sealed)
//	   │
//	   └──▶ write event ──▶ refresh coordinator ──▶ rollup engine
//	                  └──▶ notification broker ──▶ subscribers
//
// Readings are durably recorded in a write-ahead log, routed into
// in-memory hour chunks, and sealed to one Parquet file per hour once
// the active window passes. Every accepted append emits exactly one
// write event; the refresh coordinator debounces events per (machine,
// bucket) and drives idempotent rollup recomputation on a bounded
// worker pool. The retention enforcer deletes whole chunk files and
// prunes rollup rows on its own schedule.
//
// Queries merge sealed Parquet data (DuckDB read_parquet, pruned to the
// requested hour window) with still-buffered readings, so results are
// read-your-writes fresh.
package storage
