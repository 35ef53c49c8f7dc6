package indexmanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sushant-115/bonsaidb/config"
	"github.com/sushant-115/bonsaidb/core/indexing/bonsai"
	flushmanager "github.com/sushant-115/bonsaidb/core/write_engine/flush_manager"
	"github.com/sushant-115/bonsaidb/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/bonsaidb/core/write_engine/page_manager"
	"github.com/sushant-115/bonsaidb/core/write_engine/wal"
	internaltelemetry "github.com/sushant-115/bonsaidb/internal/telemetry"
	"github.com/sushant-115/bonsaidb/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrManagerClosed = errors.New("index manager is closed")

// BonsaiIndexManager owns the data file, its buffer pool and the write-ahead
// log, and hands out logged access to pages holding bonsai buckets.
type BonsaiIndexManager struct {
	cfg    config.Config
	dm     *flushmanager.DiskManager
	bpm    *memtable.BufferPoolManager
	lm     *wal.LogManager
	logger *zap.Logger

	// walMu keeps PrevLSN chaining and appends in one order.
	walMu  sync.Mutex
	mu     sync.RWMutex
	closed bool

	tracer      trace.Tracer
	metrics     *internaltelemetry.BucketMetrics
	serviceName string
}

var _ IndexManager = (*BonsaiIndexManager)(nil)

// NewBonsaiIndexManager opens the data file and log named by cfg, creating
// them when missing, and replays the log into the data file.
func NewBonsaiIndexManager(ctx context.Context, cfg config.Config, logger *zap.Logger, tel *telemetry.Telemetry) (*BonsaiIndexManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tel == nil {
		tel = telemetry.NewNoop()
	}
	metrics, err := internaltelemetry.NewBucketMetrics(tel.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket metrics: %w", err)
	}

	dm, err := flushmanager.NewDiskManager(cfg.Storage.DataFile, cfg.Storage.PageSize, logger)
	if err != nil {
		return nil, err
	}
	_, statErr := os.Stat(cfg.Storage.DataFile)
	create := errors.Is(statErr, os.ErrNotExist)
	header, err := dm.OpenOrCreateFile(create, cfg.Storage.BucketSize)
	if err != nil {
		return nil, err
	}
	if !create && int(header.BucketSize) != cfg.Storage.BucketSize {
		_ = dm.Close()
		return nil, fmt.Errorf("%w: data file uses %d byte buckets, configured %d",
			config.ErrInvalidConfig, header.BucketSize, cfg.Storage.BucketSize)
	}

	if err := os.MkdirAll(cfg.WAL.Dir, 0755); err != nil {
		_ = dm.Close()
		return nil, fmt.Errorf("failed to create wal dir %s: %w", cfg.WAL.Dir, err)
	}
	lm, err := wal.NewLogManager(cfg.WAL.Dir, cfg.WAL.SegmentSizeLimit, logger)
	if err != nil {
		_ = dm.Close()
		return nil, err
	}
	if err := lm.AdvancePast(header.CheckpointLSN()); err != nil {
		_ = lm.Close()
		_ = dm.Close()
		return nil, err
	}
	bpm, err := memtable.NewBufferPoolManager(cfg.Storage.BufferPoolSize, dm, lm, logger)
	if err != nil {
		_ = lm.Close()
		_ = dm.Close()
		return nil, err
	}

	m := &BonsaiIndexManager{
		cfg:         cfg,
		dm:          dm,
		bpm:         bpm,
		lm:          lm,
		logger:      logger.Named("bonsai_indexmanager"),
		tracer:      tel.Tracer,
		metrics:     metrics,
		serviceName: "bonsai_indexmanager",
	}
	redone, err := m.Recover(ctx)
	if err != nil {
		_ = lm.Close()
		_ = dm.Close()
		return nil, fmt.Errorf("recovery failed: %w", err)
	}
	m.logger.Info("Index manager opened",
		zap.String("data_file", cfg.Storage.DataFile),
		zap.Bool("created", create),
		zap.Int("redone_records", redone))
	return m, nil
}

func (m *BonsaiIndexManager) Name() string { return "bonsai" }

func (m *BonsaiIndexManager) Config() config.Config { return m.cfg }

// Header returns the data file header.
func (m *BonsaiIndexManager) Header() flushmanager.DBFileHeader { return m.dm.Header() }

// UpdateHeader changes and persists the data file header.
func (m *BonsaiIndexManager) UpdateHeader(fn func(h *flushmanager.DBFileHeader)) error {
	return m.dm.UpdateHeaderField(fn)
}

// LastLSN is the position of the newest log record.
func (m *BonsaiIndexManager) LastLSN() wal.LSN { return m.lm.LastLSN() }

func (m *BonsaiIndexManager) enter() error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	return nil
}

func (m *BonsaiIndexManager) leave() { m.mu.RUnlock() }

func (m *BonsaiIndexManager) enterExclusive() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	return nil
}

// appendRecord chains rec to the newest record and appends it.
func (m *BonsaiIndexManager) appendRecord(build func(prev wal.LSN) wal.Record) (wal.LSN, error) {
	m.walMu.Lock()
	defer m.walMu.Unlock()
	return m.lm.Append(build(m.lm.LastLSN()))
}

func (m *BonsaiIndexManager) Update(ctx context.Context, pageID pagemanager.PageID, fn PageFunc) (lsn wal.LSN, err error) {
	metricCtx, span, startTime := m.StartMetricsAndTrace(ctx, "Update")
	defer func() { m.EndMetricsAndTrace(metricCtx, span, startTime, "Update", err) }()

	if err := m.enter(); err != nil {
		return wal.InvalidLSN, err
	}
	defer m.leave()

	page, err := m.bpm.FetchPage(pageID)
	if err != nil {
		return wal.InvalidLSN, err
	}
	page.Lock()
	dirty := false
	defer func() {
		page.Unlock()
		if unpinErr := m.bpm.UnpinPage(pageID, dirty); unpinErr != nil && err == nil {
			err = unpinErr
		}
	}()

	data := page.GetData()
	changes := wal.NewPageChangeLog()
	if err := fn(wal.NewTrackedBuffer(data, changes)); err != nil {
		if undoErr := changes.Undo(data); undoErr != nil {
			return wal.InvalidLSN, errors.Join(err, fmt.Errorf("undo failed: %w", undoErr))
		}
		return wal.InvalidLSN, err
	}
	if changes.IsEmpty() {
		return page.GetLSN(), nil
	}

	rec := &wal.PageUpdateRecord{PageID: pageID, Changes: changes}
	lsn, err = m.appendRecord(func(prev wal.LSN) wal.Record {
		rec.PrevLSN = prev
		return rec
	})
	if err != nil {
		if undoErr := changes.Undo(data); undoErr != nil {
			m.logger.Error("Failed to undo page after log append failure",
				zap.Uint64("page_id", pageID.GetID()), zap.Error(undoErr))
		}
		return wal.InvalidLSN, err
	}
	page.SetLSN(lsn)
	dirty = true
	m.metrics.WALBytesCounter.Add(metricCtx, int64(rec.SerializedSize()))
	span.SetAttributes(attribute.Int("bonsai.changes", changes.Len()))
	return lsn, nil
}

func (m *BonsaiIndexManager) View(ctx context.Context, pageID pagemanager.PageID, fn PageFunc) (err error) {
	metricCtx, span, startTime := m.StartMetricsAndTrace(ctx, "View")
	defer func() { m.EndMetricsAndTrace(metricCtx, span, startTime, "View", err) }()

	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()

	page, err := m.bpm.FetchPage(pageID)
	if err != nil {
		return err
	}
	page.RLock()
	defer func() {
		page.RUnlock()
		if unpinErr := m.bpm.UnpinPage(pageID, false); unpinErr != nil && err == nil {
			err = unpinErr
		}
	}()
	return fn(pagemanager.ReadOnly{Reader: pagemanager.Bytes(page.GetData())})
}

// AllocatePage adds a zeroed page to the data file and logs the allocation
// as a non-transactional operation.
func (m *BonsaiIndexManager) AllocatePage(ctx context.Context) (pageID pagemanager.PageID, err error) {
	metricCtx, span, startTime := m.StartMetricsAndTrace(ctx, "AllocatePage")
	defer func() { m.EndMetricsAndTrace(metricCtx, span, startTime, "AllocatePage", err) }()

	if err := m.enter(); err != nil {
		return pagemanager.InvalidPageID, err
	}
	defer m.leave()

	page, pageID, err := m.bpm.NewPage()
	if err != nil {
		return pagemanager.InvalidPageID, err
	}
	lsn, err := m.appendRecord(func(prev wal.LSN) wal.Record { return &wal.NonTxOpRecord{PrevLSN: prev} })
	if err != nil {
		_ = m.bpm.UnpinPage(pageID, true)
		return pagemanager.InvalidPageID, err
	}
	page.Lock()
	page.SetLSN(lsn)
	page.Unlock()
	if err := m.bpm.UnpinPage(pageID, true); err != nil {
		return pagemanager.InvalidPageID, err
	}
	span.SetAttributes(attribute.Int64("bonsai.page_id", int64(pageID)))
	return pageID, nil
}

// Recover replays page updates logged after the last checkpoint. A record
// is applied only to a page whose stored LSN is older, so replaying the
// same log twice changes nothing.
func (m *BonsaiIndexManager) Recover(ctx context.Context) (redone int, err error) {
	metricCtx, span, startTime := m.StartMetricsAndTrace(ctx, "Recover")
	defer func() { m.EndMetricsAndTrace(metricCtx, span, startTime, "Recover", err) }()

	if err := m.enter(); err != nil {
		return 0, err
	}
	defer m.leave()

	from := m.dm.Header().CheckpointLSN()
	if !from.IsValid() {
		from = wal.LSN{}
	}
	err = m.lm.Iterate(from, func(lsn wal.LSN, rec wal.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		update, ok := rec.(*wal.PageUpdateRecord)
		if !ok {
			return nil
		}
		applied, err := m.redo(lsn, update)
		if err != nil {
			return fmt.Errorf("redo of record at %d:%d: %w", lsn.Segment, lsn.Position, err)
		}
		if applied {
			redone++
		}
		return nil
	})
	if err != nil {
		return redone, err
	}
	if redone > 0 {
		m.metrics.RedoneRecordsCounter.Add(metricCtx, int64(redone))
		m.logger.Info("Recovery re-applied log records", zap.Int("records", redone))
	}
	span.SetAttributes(attribute.Int("bonsai.redone", redone))
	return redone, nil
}

func (m *BonsaiIndexManager) redo(lsn wal.LSN, rec *wal.PageUpdateRecord) (bool, error) {
	if rec.PageID == pagemanager.InvalidPageID {
		return false, fmt.Errorf("%w: update for header page", flushmanager.ErrInvalidPageID)
	}
	// A crash can lose the file extension of a page that was logged.
	for m.dm.NumPages() <= uint64(rec.PageID) {
		if _, err := m.dm.AllocatePage(); err != nil {
			return false, err
		}
	}
	page, err := m.bpm.FetchPage(rec.PageID)
	if err != nil {
		return false, err
	}
	page.Lock()
	defer page.Unlock()

	if page.GetLSN().Compare(lsn) >= 0 {
		return false, m.bpm.UnpinPage(rec.PageID, false)
	}
	if err := rec.Changes.Redo(page.GetData()); err != nil {
		_ = m.bpm.UnpinPage(rec.PageID, false)
		return false, err
	}
	page.SetLSN(lsn)
	return true, m.bpm.UnpinPage(rec.PageID, true)
}

// Flush writes every dirty page back, after syncing the log, and moves the
// checkpoint to the newest record. Updates wait while it runs.
func (m *BonsaiIndexManager) Flush(ctx context.Context) (err error) {
	metricCtx, span, startTime := m.StartMetricsAndTrace(ctx, "Flush")
	defer func() { m.EndMetricsAndTrace(metricCtx, span, startTime, "Flush", err) }()

	if err := m.enterExclusive(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	return m.flushInternal()
}

// flushInternal must run with m.mu held exclusively: every update is then
// either fully applied and marked dirty or not started, so the captured LSN
// is covered by the pages written.
func (m *BonsaiIndexManager) flushInternal() error {
	checkpoint := m.lm.LastLSN()
	if err := m.bpm.FlushAllPages(); err != nil {
		return err
	}
	if !checkpoint.IsValid() {
		return nil
	}
	return m.dm.UpdateHeaderField(func(h *flushmanager.DBFileHeader) {
		h.SetCheckpointLSN(checkpoint)
	})
}

// Backup flushes and copies the data file to dst, throttled by the
// configured backup rate. It returns the SHA-256 of the copy.
func (m *BonsaiIndexManager) Backup(ctx context.Context, dst string) (digest []byte, err error) {
	metricCtx, span, startTime := m.StartMetricsAndTrace(ctx, "Backup")
	defer func() { m.EndMetricsAndTrace(metricCtx, span, startTime, "Backup", err) }()

	if err := m.enterExclusive(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	if err := m.flushInternal(); err != nil {
		return nil, err
	}
	return m.dm.Backup(metricCtx, dst, m.cfg.Storage.BackupRateBytes)
}

// Close flushes all pages and releases the log and the data file.
func (m *BonsaiIndexManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	flushErr := m.flushInternal()
	logErr := m.lm.Close()
	diskErr := m.dm.Close()
	return errors.Join(flushErr, logErr, diskErr)
}

// BucketPointerFor returns where bucket slot of pageID starts.
func (m *BonsaiIndexManager) BucketPointerFor(pageID pagemanager.PageID, slot int) (bonsai.BucketPointer, error) {
	if slot < 0 || slot >= m.cfg.BucketsPerPage() {
		return bonsai.NullPointer, fmt.Errorf("%w: slot %d of %d", bonsai.ErrIndexOutOfRange, slot, m.cfg.BucketsPerPage())
	}
	return bonsai.BucketPointer{PageIndex: int64(pageID), PageOffset: int32(slot * m.cfg.Storage.BucketSize)}, nil
}

// StartMetricsAndTrace begins the telemetry recording for an operation.
// It returns a new context, the trace span, and the start time.
func (m *BonsaiIndexManager) StartMetricsAndTrace(ctx context.Context, op string) (context.Context, trace.Span, time.Time) {
	startTime := time.Now()
	attrs := metric.WithAttributes(
		attribute.String("bonsai.service", m.serviceName),
		attribute.String("bonsai.op", op),
	)
	m.metrics.ActiveOpsUpDownCounter.Add(ctx, 1, attrs)
	m.metrics.OpsStartedCounter.Add(ctx, 1, attrs)

	ctx, span := m.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("bonsai.service", m.serviceName),
		attribute.String("bonsai.op", op),
	))
	return ctx, span, startTime
}

// EndMetricsAndTrace completes the telemetry recording for an operation.
func (m *BonsaiIndexManager) EndMetricsAndTrace(ctx context.Context, span trace.Span, startTime time.Time, op string, err error) {
	latency := time.Since(startTime).Microseconds()

	statusCode := otelcodes.Ok
	if err != nil {
		statusCode = otelcodes.Error
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	} else {
		span.SetStatus(otelcodes.Ok, "Success")
	}
	span.End()

	m.metrics.ActiveOpsUpDownCounter.Add(ctx, -1, metric.WithAttributes(
		attribute.String("bonsai.service", m.serviceName),
		attribute.String("bonsai.op", op),
	))
	metricAttributes := attribute.NewSet(
		attribute.String("bonsai.service", m.serviceName),
		attribute.String("bonsai.op", op),
		attribute.String("bonsai.code", statusCode.String()),
	)
	m.metrics.OpLatencyHistogram.Record(ctx, latency, metric.WithAttributeSet(metricAttributes))
	m.metrics.OpsHandledCounter.Add(ctx, 1, metric.WithAttributeSet(metricAttributes))
}
