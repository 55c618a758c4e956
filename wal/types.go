package wal

import (
	"github.com/hupe1980/raggo/codec"
)

// OperationType identifies the kind of mutation a log entry records.
type OperationType uint8

const (
	// OpIngest records a full ingest batch: the chunks, their vectors, and
	// the base row offset the batch starts at.
	OpIngest OperationType = iota + 1
	// OpReset records a full wipe of both stores.
	OpReset
)

// Entry is one logged mutation. An ingest entry carries everything needed
// to re-apply the mutation to both stores, so replay never has to consult
// the embedder.
type Entry struct {
	Type     OperationType `json:"type"`
	SeqNum   uint64        `json:"seq_num"`
	BaseRow  uint32        `json:"base_row,omitempty"`
	Filename string        `json:"filename,omitempty"`
	Language string        `json:"language,omitempty"`
	Chunks   []string      `json:"chunks,omitempty"`
	Vectors  [][]float32   `json:"vectors,omitempty"`
}

// Options configures a write-ahead log.
type Options struct {
	// Compress enables zstd compression of entry payloads.
	Compress bool
	// CompressionLevel is the zstd level used when Compress is set.
	CompressionLevel int
	// SyncOnAppend fsyncs the log file after every append. Disabling it
	// trades durability for throughput.
	SyncOnAppend bool
	// Codec serializes entry payloads. Nil selects codec.Default, and
	// stays nil in DefaultOptions so embedding callers can detect that no
	// explicit codec was chosen.
	Codec codec.Codec
}

// DefaultOptions returns the standard WAL configuration: compressed,
// synced appends.
func DefaultOptions() Options {
	return Options{
		Compress:         true,
		CompressionLevel: 3,
		SyncOnAppend:     true,
	}
}
