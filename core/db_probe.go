package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	dbAlertSubject = "database"
	// minCacheSamples avoids judging the hit ratio on a handful of reads
	minCacheSamples = 20
)

// DBProbeResult is the outcome of one probe family
type DBProbeResult struct {
	Name      string                 `json:"name"`
	Value     float64                `json:"value"`
	Threshold float64                `json:"threshold"`
	Breached  bool                   `json:"breached"`
	Severity  AlertSeverity          `json:"severity"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// DBProbeReport is the result of one probe pass
type DBProbeReport struct {
	CheckedAt time.Time       `json:"checked_at"`
	Probes    []DBProbeResult `json:"probes"`
	Alerts    int             `json:"alerts"`
}

// DBProbeDeps are the collaborators of a DatabaseMetricsProbe
type DBProbeDeps struct {
	Diagnostics StoreDiagnostics
	Alerts      AlertRaiser
	Bus         *EventBus
	Instr       *Instrumentation
	Clock       Clock
	Logger      *zap.Logger
}

// DatabaseMetricsProbe watches the store's own operational state
type DatabaseMetricsProbe struct {
	config DBProbeConfig
	deps   DBProbeDeps
	logger *zap.Logger

	mu         sync.Mutex
	lastLocks  int64
	lastHits   uint64
	lastMisses uint64
	last       *DBProbeReport

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDatabaseMetricsProbe creates a probe. Counters start from the store's
// current values so the first pass reports only new activity.
func NewDatabaseMetricsProbe(config DBProbeConfig, deps DBProbeDeps) *DatabaseMetricsProbe {
	if deps.Clock == nil {
		deps.Clock = NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	p := &DatabaseMetricsProbe{
		config: config,
		deps:   deps,
		logger: deps.Logger.Named("db_probe"),
	}
	p.lastLocks = deps.Diagnostics.LockEvents()
	p.lastHits, p.lastMisses = deps.Diagnostics.CacheStats()
	return p
}

type probeFunc func(ctx context.Context) DBProbeResult

// RunOnce runs every probe in parallel and raises alerts for breaches.
// A failing probe is reported in its result and never cancels the others.
func (p *DatabaseMetricsProbe) RunOnce(ctx context.Context) DBProbeReport {
	probes := []probeFunc{
		p.probePoolSaturation,
		p.probeQueryLatency,
		p.probeLockContention,
		p.probeCacheHitRatio,
		p.probeDiskUsage,
	}
	results := make([]DBProbeResult, len(probes))

	g, gctx := errgroup.WithContext(ctx)
	for i, probe := range probes {
		i, probe := i, probe
		g.Go(func() error {
			results[i] = probe(gctx)
			return nil
		})
	}
	_ = g.Wait()

	report := DBProbeReport{CheckedAt: p.deps.Clock.Now(), Probes: results}
	for _, r := range results {
		p.deps.Instr.setProbeValue(r.Name, r.Value)
		if r.Error != "" {
			p.logger.Warn("database probe failed", zap.String("probe", r.Name), zap.String("error", r.Error))
			continue
		}
		if !r.Breached || p.deps.Alerts == nil {
			continue
		}
		_, err := p.deps.Alerts.Raise(ctx, AlertRequest{
			Scope:    AlertScopeDatabase,
			Subject:  dbAlertSubject,
			Type:     "db_" + r.Name,
			Severity: r.Severity,
			Message:  fmt.Sprintf("database %s at %.3f breaches threshold %.3f", r.Name, r.Value, r.Threshold),
		})
		if err != nil {
			p.logger.Warn("failed to raise database alert", zap.String("probe", r.Name), zap.Error(err))
		}
		report.Alerts++
	}

	p.mu.Lock()
	p.last = &report
	p.mu.Unlock()

	p.deps.Bus.Publish(Event{
		Type:      EventDBProbeCompleted,
		Source:    ComponentDBProbe,
		Timestamp: report.CheckedAt,
		Data:      report,
	})
	return report
}

func (p *DatabaseMetricsProbe) probePoolSaturation(ctx context.Context) DBProbeResult {
	stats := p.deps.Diagnostics.DBStats()
	r := DBProbeResult{
		Name:      "pool_saturation",
		Threshold: p.config.PoolSaturation,
		Severity:  SeverityHigh,
		Details: map[string]interface{}{
			"in_use":     stats.InUse,
			"idle":       stats.Idle,
			"max_open":   stats.MaxOpenConnections,
			"wait_count": stats.WaitCount,
		},
	}
	// an unbounded pool cannot saturate
	if stats.MaxOpenConnections > 0 {
		r.Value = float64(stats.InUse) / float64(stats.MaxOpenConnections)
		r.Breached = p.config.PoolSaturation > 0 && r.Value >= p.config.PoolSaturation
	}
	return r
}

func (p *DatabaseMetricsProbe) probeQueryLatency(ctx context.Context) DBProbeResult {
	r := DBProbeResult{
		Name:      "slow_query_ratio",
		Threshold: p.config.SlowQueryRatio,
		Severity:  SeverityMedium,
	}
	sample, err := p.deps.Diagnostics.SampleLatency(ctx)
	if err != nil {
		r.Error = err.Error()
		return r
	}

	timings := p.deps.Diagnostics.RecentQueryTimings()
	var total time.Duration
	slow := 0
	for _, d := range timings {
		total += d
		if d > p.config.SlowQuery {
			slow++
		}
	}
	r.Details = map[string]interface{}{
		"sample_ms": float64(sample.Microseconds()) / 1000,
		"window":    len(timings),
		"slow":      slow,
	}
	if len(timings) > 0 {
		r.Details["avg_ms"] = float64(total.Microseconds()) / 1000 / float64(len(timings))
		r.Value = float64(slow) / float64(len(timings))
	}
	r.Breached = p.config.SlowQueryRatio > 0 && r.Value > p.config.SlowQueryRatio
	return r
}

func (p *DatabaseMetricsProbe) probeLockContention(ctx context.Context) DBProbeResult {
	current := p.deps.Diagnostics.LockEvents()

	p.mu.Lock()
	delta := current - p.lastLocks
	p.lastLocks = current
	p.mu.Unlock()

	return DBProbeResult{
		Name:      "lock_contention",
		Value:     float64(delta),
		Threshold: float64(p.config.LockContention),
		Severity:  SeverityHigh,
		Breached:  p.config.LockContention > 0 && delta >= p.config.LockContention,
		Details:   map[string]interface{}{"total": current},
	}
}

func (p *DatabaseMetricsProbe) probeCacheHitRatio(ctx context.Context) DBProbeResult {
	hits, misses := p.deps.Diagnostics.CacheStats()

	p.mu.Lock()
	dh, dm := hits-p.lastHits, misses-p.lastMisses
	p.lastHits, p.lastMisses = hits, misses
	p.mu.Unlock()

	r := DBProbeResult{
		Name:      "cache_hit_ratio",
		Value:     1,
		Threshold: p.config.MinCacheHitRatio,
		Severity:  SeverityLow,
		Details:   map[string]interface{}{"hits": dh, "misses": dm},
	}
	if reads := dh + dm; reads > 0 {
		r.Value = float64(dh) / float64(reads)
		r.Breached = reads >= minCacheSamples && r.Value < p.config.MinCacheHitRatio
	}
	return r
}

func (p *DatabaseMetricsProbe) probeDiskUsage(ctx context.Context) DBProbeResult {
	r := DBProbeResult{
		Name:      "disk_usage",
		Threshold: p.config.DiskUsagePercent,
		Severity:  SeverityCritical,
	}
	files := p.deps.Diagnostics.DataFiles()
	if len(files) == 0 {
		r.Error = "store reports no data files"
		return r
	}

	var size int64
	for _, f := range files {
		if st, err := os.Stat(f); err == nil {
			size += st.Size()
		}
	}
	usage, err := disk.UsageWithContext(ctx, filepath.Dir(files[0]))
	if err != nil {
		r.Error = fmt.Sprintf("failed to read disk usage: %v", err)
		return r
	}
	r.Value = usage.UsedPercent
	r.Breached = p.config.DiskUsagePercent > 0 && usage.UsedPercent >= p.config.DiskUsagePercent
	r.Details = map[string]interface{}{
		"db_bytes":   size,
		"free_bytes": usage.Free,
	}
	return r
}

// LastReport returns the latest report, or nil before the first pass
func (p *DatabaseMetricsProbe) LastReport() *DBProbeReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	r := *p.last
	return &r
}

// Start runs probe passes on the configured interval
func (p *DatabaseMetricsProbe) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	ticker := p.deps.Clock.NewTicker(p.config.Interval)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				p.RunOnce(ctx)
			}
		}
	}()
}

// Stop stops the probe loop
func (p *DatabaseMetricsProbe) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
