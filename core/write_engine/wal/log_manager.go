package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// frameHeaderSize is the length prefix, the checksum and the record type.
const frameHeaderSize = 4 + 4 + 1

// LogManager appends records to segmented log files and reads them back
// for recovery. A record's LSN is its segment id and the byte offset of its
// frame inside that segment.
type LogManager struct {
	logDir           string
	logger           *zap.Logger
	segmentSizeLimit int64

	mu                       sync.Mutex // Protects everything below
	logFile                  *os.File
	writer                   *bufio.Writer
	currentSegmentID         int64
	currentSegmentFileOffset int64
	lastLSN                  LSN
	closed                   bool
}

type logSegment struct {
	path string
	id   int64
}

// NewLogManager opens the log in logDir, creating the first segment if the
// directory is empty. A torn frame at the end of the newest segment is cut
// off so that appends continue from the last complete record.
func NewLogManager(logDir string, segmentSizeLimit int64, logger *zap.Logger) (*LogManager, error) {
	if segmentSizeLimit <= frameHeaderSize {
		return nil, fmt.Errorf("log segment size limit must be larger than %d bytes", frameHeaderSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	lm := &LogManager{
		logDir:           logDir,
		logger:           logger.Named("wal"),
		segmentSizeLimit: segmentSizeLimit,
		lastLSN:          InvalidLSN,
	}
	if err := lm.findOrCreateLatestLogSegment(); err != nil {
		return nil, fmt.Errorf("failed to initialize log segment: %w", err)
	}

	lm.logger.Info("log manager initialized",
		zap.String("dir", logDir),
		zap.Int64("segment", lm.currentSegmentID),
		zap.Int64("offset", lm.currentSegmentFileOffset),
		zap.Int64("last_lsn_segment", lm.lastLSN.Segment),
		zap.Int64("last_lsn_position", lm.lastLSN.Position))
	return lm, nil
}

func (lm *LogManager) getLogSegmentPath(segmentID int64) string {
	return filepath.Join(lm.logDir, fmt.Sprintf("log_%05d.log", segmentID))
}

func (lm *LogManager) getOrderedLogSegments() ([]logSegment, error) {
	files, err := os.ReadDir(lm.logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", lm.logDir, err)
	}
	var segments []logSegment
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasPrefix(name, "log_") || !strings.HasSuffix(name, ".log") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "log_"), ".log"), 10, 64)
		if err != nil {
			continue
		}
		segments = append(segments, logSegment{path: filepath.Join(lm.logDir, name), id: id})
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].id < segments[j].id })
	return segments, nil
}

// findOrCreateLatestLogSegment must be called before lm is shared.
func (lm *LogManager) findOrCreateLatestLogSegment() error {
	segments, err := lm.getOrderedLogSegments()
	if err != nil {
		return err
	}

	for _, seg := range segments {
		validEnd, err := lm.scanSegment(seg, func(lsn LSN, _ Record) error {
			lm.lastLSN = lsn
			return nil
		})
		if err != nil {
			return err
		}
		lm.currentSegmentID = seg.id
		lm.currentSegmentFileOffset = validEnd
	}

	path := lm.getLogSegmentPath(lm.currentSegmentID)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return fmt.Errorf("failed to open log segment %s: %w", path, err)
	}
	if err := file.Truncate(lm.currentSegmentFileOffset); err != nil {
		file.Close()
		return fmt.Errorf("failed to truncate log segment %s: %w", path, err)
	}
	if _, err := file.Seek(lm.currentSegmentFileOffset, 0); err != nil {
		file.Close()
		return fmt.Errorf("failed to seek log segment %s: %w", path, err)
	}
	lm.logFile = file
	lm.writer = bufio.NewWriter(file)
	return nil
}

// Append frames rec, writes it to the current segment and returns its LSN.
// The record is durable only after Sync.
func (lm *LogManager) Append(rec Record) (LSN, error) {
	payloadSize := rec.SerializedSize()
	frame := make([]byte, frameHeaderSize+payloadSize)
	frame[8] = byte(rec.Type())
	if _, err := rec.MarshalTo(frame[frameHeaderSize:]); err != nil {
		return InvalidLSN, fmt.Errorf("failed to serialize log record: %w", err)
	}
	binary.LittleEndian.PutUint32(frame[0:], uint32(payloadSize))
	binary.LittleEndian.PutUint32(frame[4:], crc32.ChecksumIEEE(frame[8:]))

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.closed {
		return InvalidLSN, ErrLogClosed
	}

	frameSize := int64(len(frame))
	if lm.currentSegmentFileOffset > 0 && lm.currentSegmentFileOffset+frameSize > lm.segmentSizeLimit {
		if err := lm.rollLogSegment(); err != nil {
			return InvalidLSN, fmt.Errorf("failed to roll log segment before append: %w", err)
		}
	}

	lsn := LSN{Segment: lm.currentSegmentID, Position: lm.currentSegmentFileOffset}
	if _, err := lm.writer.Write(frame); err != nil {
		return InvalidLSN, fmt.Errorf("failed to write record to log: %w", err)
	}
	lm.currentSegmentFileOffset += frameSize
	lm.lastLSN = lsn

	lm.logger.Debug("appended log record",
		zap.Stringer("type", rec.Type()),
		zap.Int64("segment", lsn.Segment),
		zap.Int64("position", lsn.Position),
		zap.Int("size", len(frame)))
	return lsn, nil
}

// AdvancePast moves appends to a fresh segment after lsn when the log holds
// nothing that new, so LSNs stay monotonic for a data file whose log was lost
// or replaced.
func (lm *LogManager) AdvancePast(lsn LSN) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.closed {
		return ErrLogClosed
	}
	if !lsn.IsValid() || lm.lastLSN.Compare(lsn) >= 0 || lm.currentSegmentID > lsn.Segment {
		return nil
	}
	lm.currentSegmentID = lsn.Segment
	if err := lm.rollLogSegment(); err != nil {
		return err
	}
	lm.logger.Warn("log restarted past data file checkpoint",
		zap.Int64("checkpoint_segment", lsn.Segment),
		zap.Int64("segment", lm.currentSegmentID))
	return nil
}

// LastLSN returns the LSN of the newest record, or InvalidLSN for an empty log.
func (lm *LogManager) LastLSN() LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.lastLSN
}

// Sync flushes buffered frames and fsyncs the current segment.
func (lm *LogManager) Sync() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.syncInternal()
}

func (lm *LogManager) syncInternal() error {
	if lm.closed {
		return ErrLogClosed
	}
	if err := lm.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush log buffer: %w", err)
	}
	if err := lm.logFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	return nil
}

func (lm *LogManager) rollLogSegment() error {
	if err := lm.syncInternal(); err != nil {
		return err
	}
	if err := lm.logFile.Close(); err != nil {
		return fmt.Errorf("failed to close log file %s: %w", lm.getLogSegmentPath(lm.currentSegmentID), err)
	}

	lm.currentSegmentID++
	path := lm.getLogSegmentPath(lm.currentSegmentID)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("failed to open new log segment %s: %w", path, err)
	}
	lm.logFile = file
	lm.writer.Reset(file)
	lm.currentSegmentFileOffset = 0

	lm.logger.Info("rolled to new log segment", zap.Int64("segment", lm.currentSegmentID), zap.String("path", path))
	return nil
}

// Iterate calls fn for every record at or after from, in log order.
// Returning an error from fn stops the iteration and returns that error.
func (lm *LogManager) Iterate(from LSN, fn func(LSN, Record) error) error {
	lm.mu.Lock()
	if !lm.closed {
		if err := lm.writer.Flush(); err != nil {
			lm.mu.Unlock()
			return fmt.Errorf("failed to flush log buffer: %w", err)
		}
	}
	lm.mu.Unlock()

	segments, err := lm.getOrderedLogSegments()
	if err != nil {
		return err
	}
	for _, seg := range segments {
		if seg.id < from.Segment {
			continue
		}
		_, err := lm.scanSegment(seg, func(lsn LSN, rec Record) error {
			if lsn.Compare(from) < 0 {
				return nil
			}
			return fn(lsn, rec)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// scanSegment decodes every complete frame in seg and returns the offset
// just past the last one. An incomplete or checksum-failing frame ends the
// segment; it is what a crash in the middle of a write leaves behind.
func (lm *LogManager) scanSegment(seg logSegment, fn func(LSN, Record) error) (int64, error) {
	data, err := os.ReadFile(seg.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read log segment %s: %w", seg.path, err)
	}
	pos := 0
	for pos < len(data) {
		rec, n, err := decodeFrame(data[pos:])
		if err != nil {
			if errors.Is(err, ErrCorruptRecord) || errors.Is(err, ErrChecksumMismatch) {
				lm.logger.Warn("discarding torn log tail",
					zap.String("segment", seg.path),
					zap.Int("offset", pos),
					zap.Int("discarded_bytes", len(data)-pos),
					zap.Error(err))
				break
			}
			return 0, fmt.Errorf("segment %s offset %d: %w", seg.path, pos, err)
		}
		if err := fn(LSN{Segment: seg.id, Position: int64(pos)}, rec); err != nil {
			return 0, err
		}
		pos += n
	}
	return int64(pos), nil
}

func decodeFrame(data []byte) (Record, int, error) {
	if len(data) < frameHeaderSize {
		return nil, 0, fmt.Errorf("%w: frame header truncated", ErrCorruptRecord)
	}
	payloadSize := int(binary.LittleEndian.Uint32(data))
	total := frameHeaderSize + payloadSize
	if payloadSize < 0 || len(data) < total {
		return nil, 0, fmt.Errorf("%w: frame body truncated", ErrCorruptRecord)
	}
	if crc32.ChecksumIEEE(data[8:total]) != binary.LittleEndian.Uint32(data[4:]) {
		return nil, 0, ErrChecksumMismatch
	}
	rec, err := DecodeRecord(RecordType(data[8]), data[frameHeaderSize:total])
	if err != nil {
		return nil, 0, err
	}
	return rec, total, nil
}

// Close flushes and syncs the current segment and releases it.
func (lm *LogManager) Close() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.closed {
		return nil
	}
	if err := lm.syncInternal(); err != nil {
		return err
	}
	lm.closed = true
	if err := lm.logFile.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	lm.logger.Info("log manager closed")
	return nil
}
