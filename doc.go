// Package raggo is an embedded retrieval engine for RAG workloads. It splits
// documents into overlapping chunks, embeds them through a pluggable
// provider, and serves nearest-neighbor retrieval over an exact flat vector
// index joined with a chunk metadata store.
//
// The vector index and the metadata store are kept consistent as a pair: a
// write-ahead log makes ingest crash-safe, and snapshots of both stores are
// written atomically as a unit.
package raggo
