package indexer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amankumarsingh77/crawlindex/internal/common"
	"go.uber.org/zap"
)

// PostgresMirror copies flushed segments into Postgres in the background.
// Segments that arrive while the queue is full are dropped and counted.
type PostgresMirror struct {
	processor *BatchProcessor
	logger    *zap.Logger
	timeout   time.Duration
	segments  chan *FlushedSegment
	wg        sync.WaitGroup
	closeOnce sync.Once

	mirrored atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

func NewPostgresMirror(store mirrorStore, queue int, logger *zap.Logger) *PostgresMirror {
	if queue < 1 {
		queue = 1
	}
	m := &PostgresMirror{
		processor: NewBatchProcessor(store),
		logger:    common.OrNop(logger).Named("pg-mirror"),
		timeout:   time.Minute,
		segments:  make(chan *FlushedSegment, queue),
	}
	m.wg.Add(1)
	go m.worker()
	return m
}

func (m *PostgresMirror) SegmentFlushed(seg *FlushedSegment) {
	select {
	case m.segments <- seg:
	default:
		m.dropped.Add(1)
		m.logger.Warn("mirror queue full, segment dropped", zap.Uint64("segment", seg.Seq))
	}
}

func (m *PostgresMirror) worker() {
	defer m.wg.Done()
	for seg := range m.segments {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		err := m.processor.ProcessBatch(ctx, seg)
		cancel()
		if err != nil {
			m.failed.Add(1)
			m.logger.Error("failed to mirror segment", zap.Uint64("segment", seg.Seq), zap.Error(err))
			continue
		}
		m.mirrored.Add(1)
		m.logger.Debug("segment mirrored",
			zap.Uint64("segment", seg.Seq),
			zap.Int("docs", len(seg.Documents)),
			zap.Int("terms", len(seg.Postings)))
	}
}

// Counts returns mirrored, dropped and failed segment counts.
func (m *PostgresMirror) Counts() (mirrored, dropped, failed int64) {
	return m.mirrored.Load(), m.dropped.Load(), m.failed.Load()
}

// Close drains the queue and waits for the worker to finish.
func (m *PostgresMirror) Close() {
	m.closeOnce.Do(func() {
		close(m.segments)
		m.wg.Wait()
	})
}
