// Package parquet implements Parquet file reading and writing for sealed
// reading chunks.
//
// The package provides:
//   - ReadingWriter/ReadingReader for raw sensor readings
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Type conversion between storage types and Parquet rows
//
// Custom fields and raw payloads are stored as JSON string columns so the
// query layer can project into them.
package parquet
