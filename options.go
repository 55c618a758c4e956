package raggo

import (
	"github.com/hupe1980/raggo/chunker"
	"github.com/hupe1980/raggo/codec"
	"github.com/hupe1980/raggo/wal"
)

// Options configures an Engine.
type Options struct {
	// Logger receives structured log output. Defaults to an info-level
	// text logger on stderr.
	Logger *Logger
	// Metrics receives operational metrics. Defaults to a no-op collector.
	Metrics MetricsCollector
	// Codec serializes metadata and WAL payloads. Defaults to codec.Default.
	Codec codec.Codec
	// Chunk configures how ingested content is split.
	Chunk chunker.Options
	// MinContentLength rejects content shorter than this before chunking.
	MinContentLength int
	// WAL configures the write-ahead log.
	WAL wal.Options
	// WALFileName is the log's file name inside the data directory.
	WALFileName string
}

// DefaultOptions returns the standard engine configuration.
func DefaultOptions() Options {
	return Options{
		Logger:           NewLogger(nil),
		Metrics:          NoopMetricsCollector{},
		Codec:            codec.Default,
		Chunk:            chunker.DefaultOptions,
		MinContentLength: 50,
		WAL:              wal.DefaultOptions(),
		WALFileName:      "ingest.wal",
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *Logger) func(o *Options) {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(metrics MetricsCollector) func(o *Options) {
	return func(o *Options) {
		o.Metrics = metrics
	}
}

// WithCodec sets the codec used for metadata and WAL payloads.
func WithCodec(c codec.Codec) func(o *Options) {
	return func(o *Options) {
		o.Codec = c
	}
}

// WithChunkOptions adjusts the chunking configuration.
func WithChunkOptions(fn func(o *chunker.Options)) func(o *Options) {
	return func(o *Options) {
		fn(&o.Chunk)
	}
}

// WithMinContentLength sets the minimum content length accepted by Ingest.
func WithMinContentLength(n int) func(o *Options) {
	return func(o *Options) {
		o.MinContentLength = n
	}
}

// WithWALOptions adjusts the write-ahead log configuration.
func WithWALOptions(fn func(o *wal.Options)) func(o *Options) {
	return func(o *Options) {
		fn(&o.WAL)
	}
}
