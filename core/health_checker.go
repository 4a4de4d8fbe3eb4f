package core

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthVerdict is the overall self-assessment of the engine
type HealthVerdict string

const (
	HealthHealthy  HealthVerdict = "healthy"
	HealthDegraded HealthVerdict = "degraded"
	HealthCritical HealthVerdict = "critical"
)

// TaskHealth classifies one scheduler task
type TaskHealth string

const (
	TaskHealthy    TaskHealth = "healthy"
	TaskStuck      TaskHealth = "stuck"
	TaskStaleError TaskHealth = "stale_error"
)

// errorRatioLimit is the stale-task share above which the task set is reloaded
const errorRatioLimit = 0.5

// TaskStats summarizes task classification
type TaskStats struct {
	Total      int      `json:"total"`
	Healthy    int      `json:"healthy"`
	Stuck      int      `json:"stuck"`
	StaleError int      `json:"stale_error"`
	ErrorRatio float64  `json:"error_ratio"`
	StuckIDs   []string `json:"stuck_ids,omitempty"`
	StaleIDs   []string `json:"stale_ids,omitempty"`
}

// RecoveryAction records one recovery step and its outcome
type RecoveryAction struct {
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
	Error  string `json:"error,omitempty"`
}

// HealthReport is the result of one supervision pass
type HealthReport struct {
	Overall        HealthVerdict    `json:"overall"`
	CheckedAt      time.Time        `json:"checked_at"`
	Duration       time.Duration    `json:"duration"`
	TaskStats      TaskStats        `json:"task_stats"`
	ResourceStats  ResourceStats    `json:"resource_stats"`
	StoreReachable bool             `json:"store_reachable"`
	MemoryPressure bool             `json:"memory_pressure"`
	Recovery       []RecoveryAction `json:"recovery,omitempty"`
	Errors         []string         `json:"errors,omitempty"`
}

// HealthSupervisorDeps are the collaborators of a HealthSupervisor
type HealthSupervisorDeps struct {
	Tasks    TaskSupervisor
	Store    Pinger
	Sampler  ResourceSampler
	Trimmers []HistoryTrimmer
	Bus      *EventBus
	Metrics  MetricsRecorder
	Instr    *Instrumentation
	Clock    Clock
	Logger   *zap.Logger
}

// HealthSupervisor watches the scheduler, process resources and the store,
// and runs recovery when the engine is not healthy.
type HealthSupervisor struct {
	config HealthConfig
	deps   HealthSupervisorDeps
	logger *zap.Logger

	mu      sync.RWMutex
	last    *HealthReport
	history []HealthReport

	// freeMemory is swapped in tests
	freeMemory func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthSupervisor creates a health supervisor
func NewHealthSupervisor(config HealthConfig, deps HealthSupervisorDeps) *HealthSupervisor {
	if deps.Clock == nil {
		deps.Clock = NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 100
	}
	return &HealthSupervisor{
		config: config,
		deps:   deps,
		logger: deps.Logger.Named("health"),
		freeMemory: func() {
			runtime.GC()
			debug.FreeOSMemory()
		},
	}
}

// Start runs supervision passes on the configured interval
func (h *HealthSupervisor) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	ticker := h.deps.Clock.NewTicker(h.config.CheckInterval)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				h.RunOnce(ctx)
			}
		}
	}()
	h.logger.Info("health supervisor started", zap.Duration("interval", h.config.CheckInterval))
}

// Stop stops the supervision loop
func (h *HealthSupervisor) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

// RunOnce performs one classification, verdict and recovery pass
func (h *HealthSupervisor) RunOnce(ctx context.Context) HealthReport {
	started := time.Now()
	now := h.deps.Clock.Now()
	report := HealthReport{CheckedAt: now}

	report.TaskStats = h.classifyTasks(now)

	if h.deps.Sampler != nil {
		stats, err := h.deps.Sampler.Sample(ctx)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
		report.ResourceStats = stats
		report.MemoryPressure = h.memoryPressure(stats)
	}

	report.StoreReachable = true
	if h.deps.Store != nil {
		if err := h.deps.Store.Ping(ctx); err != nil {
			report.StoreReachable = false
			report.Errors = append(report.Errors, fmt.Sprintf("store unreachable: %v", err))
		}
	}

	report.Overall = verdict(report)
	if report.Overall != HealthHealthy {
		report.Recovery = h.recover(ctx, report)
	}
	report.Duration = time.Since(started)

	h.remember(report)
	h.publish(report)

	level := h.logger.Debug
	if report.Overall != HealthHealthy {
		level = h.logger.Warn
	}
	level("health check completed",
		zap.String("overall", string(report.Overall)),
		zap.Int("tasks", report.TaskStats.Total),
		zap.Int("stuck", report.TaskStats.Stuck),
		zap.Int("stale", report.TaskStats.StaleError),
		zap.Bool("memory_pressure", report.MemoryPressure),
		zap.Int("recovery_actions", len(report.Recovery)))
	return report
}

// classifyTasks buckets every task as healthy, stuck or stale
func (h *HealthSupervisor) classifyTasks(now time.Time) TaskStats {
	var stats TaskStats
	if h.deps.Tasks == nil {
		return stats
	}
	for _, t := range h.deps.Tasks.Snapshots() {
		stats.Total++
		switch classifyTask(t, now, h.config.StuckThreshold) {
		case TaskStuck:
			stats.Stuck++
			stats.StuckIDs = append(stats.StuckIDs, t.TargetID)
		case TaskStaleError:
			stats.StaleError++
			stats.StaleIDs = append(stats.StaleIDs, t.TargetID)
		default:
			stats.Healthy++
		}
	}
	if stats.Total > 0 {
		stats.ErrorRatio = float64(stats.StaleError) / float64(stats.Total)
	}
	return stats
}

func classifyTask(t TaskSnapshot, now time.Time, stuckAfter time.Duration) TaskHealth {
	if t.Running {
		if now.Sub(t.StartedAt) > stuckAfter {
			return TaskStuck
		}
		return TaskHealthy
	}
	since := t.LastCompletedAt
	if since.IsZero() {
		since = t.CreatedAt
	}
	if t.Interval > 0 && now.Sub(since) > 2*t.Interval {
		return TaskStaleError
	}
	return TaskHealthy
}

func (h *HealthSupervisor) memoryPressure(stats ResourceStats) bool {
	if h.config.MemoryLimitMB > 0 && stats.ProcessRSSMB >= h.config.MemoryLimitMB {
		return true
	}
	return h.config.SystemMemoryPercent > 0 && stats.SystemMemoryPercent >= h.config.SystemMemoryPercent
}

// verdict applies the priority order: store, then memory/stuck/error ratio
func verdict(r HealthReport) HealthVerdict {
	switch {
	case !r.StoreReachable:
		return HealthCritical
	case r.MemoryPressure, r.TaskStats.Stuck > 0, r.TaskStats.ErrorRatio > errorRatioLimit:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

// recover runs the recovery steps in order. Failures are recorded, never fatal.
func (h *HealthSupervisor) recover(ctx context.Context, r HealthReport) []RecoveryAction {
	var actions []RecoveryAction
	record := func(action, target string, err error) {
		a := RecoveryAction{Action: action, Target: target}
		if err != nil {
			a.Error = err.Error()
			h.logger.Error("recovery step failed", zap.String("action", action), zap.String("target", target), zap.Error(err))
		}
		h.deps.Instr.recovery(action)
		actions = append(actions, a)
	}

	if h.deps.Tasks != nil {
		for _, id := range r.TaskStats.StuckIDs {
			record("recreate_task", id, h.deps.Tasks.RecreateTask(ctx, id))
		}
	}

	if r.MemoryPressure {
		dropped := h.TrimHistory(h.config.HistorySize / 2)
		for _, t := range h.deps.Trimmers {
			dropped += t.TrimHistory(h.config.HistorySize)
		}
		h.freeMemory()
		record("free_memory", "", nil)
		h.logger.Info("memory recovery", zap.Int("history_dropped", dropped))
	}

	if r.TaskStats.ErrorRatio > errorRatioLimit && h.deps.Tasks != nil {
		record("reload_tasks", "", h.deps.Tasks.Reload(ctx))
	}
	return actions
}

func (h *HealthSupervisor) remember(r HealthReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &r
	h.history = append(h.history, r)
	if len(h.history) > h.config.HistorySize {
		h.history = append([]HealthReport(nil), h.history[len(h.history)-h.config.HistorySize:]...)
	}
}

func (h *HealthSupervisor) publish(r HealthReport) {
	h.deps.Instr.setHealthVerdict(r.Overall)
	h.deps.Bus.Publish(Event{
		Type:      EventHealthChecked,
		Source:    ComponentHealthSupervisor,
		Timestamp: r.CheckedAt,
		Data:      r,
	})
	if h.deps.Metrics != nil {
		h.deps.Metrics.Record("process_metrics", map[string]interface{}{
			"overall":          string(r.Overall),
			"rss_mb":           r.ResourceStats.ProcessRSSMB,
			"cpu_percent":      r.ResourceStats.ProcessCPUPercent,
			"heap_alloc_mb":    r.ResourceStats.HeapAllocMB,
			"goroutines":       r.ResourceStats.Goroutines,
			"system_memory":    r.ResourceStats.SystemMemoryPercent,
			"tasks":            r.TaskStats.Total,
			"stuck_tasks":      r.TaskStats.Stuck,
			"stale_tasks":      r.TaskStats.StaleError,
			"recovery_actions": len(r.Recovery),
		})
	}
}

// LastReport returns the latest report, or nil before the first pass
func (h *HealthSupervisor) LastReport() *HealthReport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return nil
	}
	r := *h.last
	return &r
}

// History returns past reports, oldest first
func (h *HealthSupervisor) History() []HealthReport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]HealthReport(nil), h.history...)
}

// TrimHistory keeps the newest keep reports
func (h *HealthSupervisor) TrimHistory(keep int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if keep < 0 {
		keep = 0
	}
	drop := len(h.history) - keep
	if drop <= 0 {
		return 0
	}
	h.history = append([]HealthReport(nil), h.history[drop:]...)
	return drop
}
