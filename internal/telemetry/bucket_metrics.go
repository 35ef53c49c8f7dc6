package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// BucketMetrics holds the instruments recorded by the bucket index manager.
type BucketMetrics struct {
	OpsStartedCounter      metric.Int64Counter
	OpsHandledCounter      metric.Int64Counter
	OpLatencyHistogram     metric.Int64Histogram
	ActiveOpsUpDownCounter metric.Int64UpDownCounter
	// WALBytesCounter counts payload bytes of page update records.
	WALBytesCounter metric.Int64Counter
	// RedoneRecordsCounter counts records applied by recovery.
	RedoneRecordsCounter metric.Int64Counter
}

// NewBucketMetrics creates and registers the bucket metrics on meter.
func NewBucketMetrics(meter metric.Meter) (*BucketMetrics, error) {
	opsStarted, err := meter.Int64Counter(
		"bonsaidb.bucket.ops.started_total",
		metric.WithDescription("Total number of bucket operations started."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	opsHandled, err := meter.Int64Counter(
		"bonsaidb.bucket.ops.handled_total",
		metric.WithDescription("Total number of bucket operations completed."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	opLatency, err := meter.Int64Histogram(
		"bonsaidb.bucket.ops.duration",
		metric.WithDescription("The latency of bucket operations."),
		metric.WithUnit("us"),
	)
	if err != nil {
		return nil, err
	}

	activeOps, err := meter.Int64UpDownCounter(
		"bonsaidb.bucket.ops.active",
		metric.WithDescription("Number of bucket operations in flight."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	walBytes, err := meter.Int64Counter(
		"bonsaidb.wal.page_update_bytes_total",
		metric.WithDescription("Bytes of page change logs written to the WAL."),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	redone, err := meter.Int64Counter(
		"bonsaidb.recovery.redone_records_total",
		metric.WithDescription("Log records re-applied during recovery."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &BucketMetrics{
		OpsStartedCounter:      opsStarted,
		OpsHandledCounter:      opsHandled,
		OpLatencyHistogram:     opLatency,
		ActiveOpsUpDownCounter: activeOps,
		WALBytesCounter:        walBytes,
		RedoneRecordsCounter:   redone,
	}, nil
}
