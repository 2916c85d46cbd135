package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

// These tests exercise wiring only: with no MeterProvider configured,
// otel.Meter returns the no-op implementation, so every call below must
// succeed without panicking or erroring, regardless of exporter setup.

func TestNewUploadRecordsWithoutError(t *testing.T) {
	meter := otel.Meter("chunkstream-test")
	u, err := NewUpload(meter)
	if err != nil {
		t.Fatalf("NewUpload: %v", err)
	}
	u.RecordPublished(context.Background(), 0.01)
	u.RecordDropped(context.Background())
}

func TestNewDownloadRecordsWithoutError(t *testing.T) {
	meter := otel.Meter("chunkstream-test")
	d, err := NewDownload(meter)
	if err != nil {
		t.Fatalf("NewDownload: %v", err)
	}
	d.RecordWritten(context.Background(), 0.02)
	d.RecordHashMismatch(context.Background())
}
