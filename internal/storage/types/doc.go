// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - Reading: A single sensor reading from a machine
//   - RollupRecord: Aggregated statistics for a (machine, bucket) pair
//   - Granularity: Rollup bucket width (hourly, daily)
//   - WriteEvent: Emitted after each successful append
package types
