package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	flushTimeout = 30 * time.Second
	// maxRetainedEntries bounds the buffer while the store keeps failing
	maxRetainedEntries = 10 * MaxBatchSize
)

// MetricsCollector buffers typed datapoints and writes them in batches,
// one write per type, when the buffer reaches the batch size or the flush
// timer fires. Entries of a type whose write fails stay buffered for the
// next flush.
type MetricsCollector struct {
	mu        sync.Mutex
	buffer    map[string]MetricsBufferEntry
	retained  int
	batchSize int
	interval  time.Duration

	writer MetricsWriter
	instr  *Instrumentation
	clock  Clock
	logger *zap.Logger

	flushes     atomic.Int64
	flushErrors atomic.Int64
	dropped     atomic.Int64
	retune      chan time.Duration

	cancel  context.CancelFunc
	loop    sync.WaitGroup
	pending sync.WaitGroup
}

// NewMetricsCollector validates the bounds and creates a collector
func NewMetricsCollector(cfg MetricsConfig, writer MetricsWriter, instr *Instrumentation, clock Clock, logger *zap.Logger) (*MetricsCollector, error) {
	if err := ValidateMetricsConfig(cfg); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricsCollector{
		buffer:    make(map[string]MetricsBufferEntry, cfg.BatchSize),
		batchSize: cfg.BatchSize,
		interval:  cfg.FlushInterval,
		writer:    writer,
		instr:     instr,
		clock:     clock,
		logger:    logger.Named("metrics"),
		retune:    make(chan time.Duration, 1),
	}, nil
}

// Record buffers a datapoint and returns its id. Reaching the batch size
// with new entries hands the whole buffer to a background flush; entries
// kept from a failed flush wait for the timer.
func (m *MetricsCollector) Record(metricType string, payload map[string]interface{}) string {
	entry := MetricsBufferEntry{
		ID:        uuid.NewString(),
		Type:      metricType,
		Timestamp: m.clock.Now(),
		Payload:   payload,
	}

	m.mu.Lock()
	m.buffer[entry.ID] = entry
	var batch map[string]MetricsBufferEntry
	if len(m.buffer)-m.retained >= m.batchSize {
		batch = m.takeLocked()
	}
	m.instr.setMetricsBuffered(len(m.buffer))
	m.mu.Unlock()

	if batch != nil {
		m.pending.Add(1)
		go func() {
			defer m.pending.Done()
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			defer cancel()
			m.write(ctx, batch)
		}()
	}
	return entry.ID
}

// Flush writes everything buffered now. Entries leave the buffer only when
// the write of their type succeeds; a failed type is counted and retried
// by the next flush.
func (m *MetricsCollector) Flush(ctx context.Context) error {
	m.mu.Lock()
	batch := m.takeLocked()
	m.instr.setMetricsBuffered(0)
	m.mu.Unlock()
	return m.write(ctx, batch)
}

// takeLocked moves the buffer out so concurrent flushes never write the
// same entry twice
func (m *MetricsCollector) takeLocked() map[string]MetricsBufferEntry {
	batch := m.buffer
	m.buffer = make(map[string]MetricsBufferEntry, m.batchSize)
	m.retained = 0
	return batch
}

// restore puts the entries of failed writes back, dropping the oldest ones
// beyond maxRetainedEntries
func (m *MetricsCollector) restore(failed []MetricsBufferEntry) {
	if len(failed) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if over := len(m.buffer) + len(failed) - maxRetainedEntries; over > 0 {
		sort.Slice(failed, func(i, j int) bool { return failed[i].Timestamp.Before(failed[j].Timestamp) })
		if over > len(failed) {
			over = len(failed)
		}
		m.dropped.Add(int64(over))
		m.logger.Warn("metrics buffer full, dropping oldest entries", zap.Int("dropped", over))
		failed = failed[over:]
	}
	for _, e := range failed {
		m.buffer[e.ID] = e
	}
	m.retained += len(failed)
	m.instr.setMetricsBuffered(len(m.buffer))
}

// write groups a batch by type and performs one insert per type. Entries
// of types that fail go back to the buffer.
func (m *MetricsCollector) write(ctx context.Context, batch map[string]MetricsBufferEntry) error {
	if len(batch) == 0 {
		return nil
	}
	groups := make(map[string][]MetricsBufferEntry)
	for _, e := range batch {
		groups[e.Type] = append(groups[e.Type], e)
	}
	types := make([]string, 0, len(groups))
	for t := range groups {
		types = append(types, t)
	}
	sort.Strings(types)

	var (
		errs   []error
		failed []MetricsBufferEntry
	)
	for _, t := range types {
		entries := groups[t]
		sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
		if err := m.writer.InsertMetrics(ctx, t, entries); err != nil {
			errs = append(errs, fmt.Errorf("flush %s (%d entries): %w", t, len(entries), err))
			failed = append(failed, entries...)
		}
	}
	m.flushes.Add(1)
	if len(errs) > 0 {
		m.flushErrors.Add(1)
		m.instr.metricsFlushFailed()
		m.restore(failed)
		err := errors.Join(errs...)
		m.logger.Error("metrics flush failed", zap.Int("entries", len(batch)), zap.Int("kept", len(failed)), zap.Error(err))
		return err
	}
	m.logger.Debug("metrics flushed", zap.Int("entries", len(batch)), zap.Int("types", len(types)))
	return nil
}

// Tune changes the batch size and flush interval at runtime
func (m *MetricsCollector) Tune(batchSize int, interval time.Duration) error {
	if err := ValidateMetricsConfig(MetricsConfig{BatchSize: batchSize, FlushInterval: interval}); err != nil {
		return err
	}
	m.mu.Lock()
	changed := m.interval != interval
	m.batchSize = batchSize
	m.interval = interval
	var batch map[string]MetricsBufferEntry
	if len(m.buffer)-m.retained >= batchSize {
		batch = m.takeLocked()
	}
	m.mu.Unlock()

	if changed {
		select {
		case m.retune <- interval:
		default:
			// a retune is already queued; drain and replace it
			select {
			case <-m.retune:
			default:
			}
			m.retune <- interval
		}
	}
	if batch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		return m.write(ctx, batch)
	}
	return nil
}

// Start runs the flush timer
func (m *MetricsCollector) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Lock()
	interval := m.interval
	m.mu.Unlock()

	m.loop.Add(1)
	go func() {
		defer m.loop.Done()
		ticker := m.clock.NewTicker(interval)
		defer func() { ticker.Stop() }()
		for {
			select {
			case <-ctx.Done():
				final, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
				m.Flush(final)
				cancel()
				return
			case d := <-m.retune:
				ticker.Stop()
				ticker = m.clock.NewTicker(d)
			case <-ticker.C():
				m.Flush(ctx)
			}
		}
	}()
}

// Close stops the timer, flushes what is left and waits for background writes
func (m *MetricsCollector) Close() {
	if m.cancel != nil {
		m.cancel()
		m.loop.Wait()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		m.Flush(ctx)
		cancel()
	}
	m.pending.Wait()
}

// Buffered reports how many entries wait for a flush
func (m *MetricsCollector) Buffered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffer)
}

// Dropped reports how many entries were discarded because the buffer was
// full of entries the store kept rejecting
func (m *MetricsCollector) Dropped() int64 {
	return m.dropped.Load()
}

// FlushErrors reports how many flushes failed
func (m *MetricsCollector) FlushErrors() int64 {
	return m.flushErrors.Load()
}

// Flushes reports how many flushes were attempted
func (m *MetricsCollector) Flushes() int64 {
	return m.flushes.Load()
}
