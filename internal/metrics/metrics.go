// Package metrics wires chunkstream's counters and histograms through
// OpenTelemetry's metric API. It only emits instruments, leaving exporter
// wiring (Prometheus, OTLP, stdout) to whatever embeds chunkstream.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Upload holds the instruments recorded by the upload daemon.
type Upload struct {
	chunksPublished metric.Int64Counter
	chunksDropped   metric.Int64Counter
	publishDuration metric.Float64Histogram
}

// NewUpload creates an Upload instrument set from meter.
func NewUpload(meter metric.Meter) (*Upload, error) {
	chunksPublished, err := meter.Int64Counter("chunkstream.chunks_published_total",
		metric.WithDescription("chunks successfully published to the broker"))
	if err != nil {
		return nil, err
	}
	chunksDropped, err := meter.Int64Counter("chunkstream.chunks_dropped_total",
		metric.WithDescription("chunks dropped after exhausting publish retries"))
	if err != nil {
		return nil, err
	}
	publishDuration, err := meter.Float64Histogram("chunkstream.publish_duration_seconds",
		metric.WithDescription("time spent publishing a single chunk, including retries"))
	if err != nil {
		return nil, err
	}
	return &Upload{
		chunksPublished: chunksPublished,
		chunksDropped:   chunksDropped,
		publishDuration: publishDuration,
	}, nil
}

// RecordPublished records one successfully published chunk after durationSeconds.
func (u *Upload) RecordPublished(ctx context.Context, durationSeconds float64) {
	u.chunksPublished.Add(ctx, 1)
	u.publishDuration.Record(ctx, durationSeconds)
}

// RecordDropped records one chunk dropped after retries were exhausted.
func (u *Upload) RecordDropped(ctx context.Context) {
	u.chunksDropped.Add(ctx, 1)
}

// Download holds the instruments recorded by the download daemon.
type Download struct {
	chunksWritten metric.Int64Counter
	hashMismatch  metric.Int64Counter
	writeDuration metric.Float64Histogram
}

// NewDownload creates a Download instrument set from meter.
func NewDownload(meter metric.Meter) (*Download, error) {
	chunksWritten, err := meter.Int64Counter("chunkstream.chunks_written_total",
		metric.WithDescription("chunks successfully written to disk"))
	if err != nil {
		return nil, err
	}
	hashMismatch, err := meter.Int64Counter("chunkstream.hash_mismatch_total",
		metric.WithDescription("files whose final hash did not match after reconstruction"))
	if err != nil {
		return nil, err
	}
	writeDuration, err := meter.Float64Histogram("chunkstream.write_duration_seconds",
		metric.WithDescription("time spent writing a single chunk to disk"))
	if err != nil {
		return nil, err
	}
	return &Download{
		chunksWritten: chunksWritten,
		hashMismatch:  hashMismatch,
		writeDuration: writeDuration,
	}, nil
}

// RecordWritten records one successfully written chunk after durationSeconds.
func (d *Download) RecordWritten(ctx context.Context, durationSeconds float64) {
	d.chunksWritten.Add(ctx, 1)
	d.writeDuration.Record(ctx, durationSeconds)
}

// RecordHashMismatch records one reconstructed file that failed its final
// hash check.
func (d *Download) RecordHashMismatch(ctx context.Context) {
	d.hashMismatch.Add(ctx, 1)
}
