package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// AppOptions overrides collaborators of the App. Zero fields get defaults.
type AppOptions struct {
	Clock      Clock
	Logger     *zap.Logger
	Store      Store
	Registry   *prometheus.Registry
	Notifiers  map[string]Notifier
	HTTPClient *http.Client
	Sampler    ResourceSampler
	Executor   Executor
}

// App wires the monitoring engine together and exposes its operations
type App struct {
	Config Config

	clock     Clock
	logger    *zap.Logger
	registry  *prometheus.Registry
	bus       *EventBus
	store     Store
	ownsStore bool

	metrics   *MetricsCollector
	sink      *ResultSink
	alerts    *AlertEngine
	scheduler *Scheduler
	health    *HealthSupervisor
	probe     *DatabaseMetricsProbe

	cancel context.CancelFunc
}

// NewApp creates a new application instance
func NewApp(config Config, opts AppOptions) (*App, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	a := &App{
		Config:   config,
		clock:    opts.Clock,
		logger:   opts.Logger,
		registry: opts.Registry,
		store:    opts.Store,
	}
	if a.clock == nil {
		a.clock = NewRealClock()
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	if a.store == nil {
		a.store = NewSQLiteStore(config.Storage, a.logger)
		a.ownsStore = true
	}
	instr := NewInstrumentation(a.registry)
	a.bus = NewEventBus(a.logger)

	metrics, err := NewMetricsCollector(config.Metrics, a.store, instr, a.clock, a.logger)
	if err != nil {
		return nil, err
	}
	a.metrics = metrics
	a.sink = NewResultSink(a.store, a.bus, a.metrics, instr, a.logger)

	notifiers := opts.Notifiers
	if notifiers == nil {
		notifiers = BuildNotifiers(config.Notifiers, a.logger)
	}
	a.alerts = NewAlertEngine(config.Alerts, AlertEngineDeps{
		Store:     a.store,
		Bus:       a.bus,
		Notifiers: notifiers,
		Metrics:   a.metrics,
		Instr:     instr,
		Clock:     a.clock,
		Logger:    a.logger,
	})

	executor := opts.Executor
	if executor == nil {
		executor = NewHTTPExecutor(config.Executor, ExecutorOptions{
			Client:  opts.HTTPClient,
			Clock:   a.clock,
			Logger:  a.logger,
			Metrics: instr,
		})
	}
	a.scheduler = NewScheduler(config.Scheduler, SchedulerDeps{
		Store:    a.store,
		Executor: executor,
		Results:  a.sink,
		Alerts:   a.alerts,
		Instr:    instr,
		Clock:    a.clock,
		Logger:   a.logger,
	})

	sampler := opts.Sampler
	if sampler == nil {
		if ps, err := NewProcessSampler(); err == nil {
			sampler = ps
		} else {
			a.logger.Warn("resource sampling disabled", zap.Error(err))
		}
	}
	a.health = NewHealthSupervisor(config.Health, HealthSupervisorDeps{
		Tasks:    a.scheduler,
		Store:    a.store,
		Sampler:  sampler,
		Trimmers: []HistoryTrimmer{a.alerts},
		Bus:      a.bus,
		Metrics:  a.metrics,
		Instr:    instr,
		Clock:    a.clock,
		Logger:   a.logger,
	})

	if diag, ok := a.store.(StoreDiagnostics); ok {
		a.probe = NewDatabaseMetricsProbe(config.DBProbe, DBProbeDeps{
			Diagnostics: diag,
			Alerts:      a.alerts,
			Bus:         a.bus,
			Instr:       instr,
			Clock:       a.clock,
			Logger:      a.logger,
		})
	}
	return a, nil
}

// Initialize opens the store when the App created it
func (a *App) Initialize(ctx context.Context) error {
	if !a.ownsStore {
		return nil
	}
	if err := a.store.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	return nil
}

// Start loads state and starts every background loop
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.alerts.Load(ctx); err != nil {
		a.logger.Warn("starting without persisted alerts", zap.Error(err))
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	a.alerts.Start(ctx)
	a.metrics.Start(ctx)
	if a.Config.Health.Enabled {
		a.health.Start(ctx)
	}
	if a.Config.DBProbe.Enabled && a.probe != nil {
		a.probe.Start(ctx)
	}
	a.logger.Info("monitoring engine started", zap.String("config", a.Config.Describe()))
	return nil
}

// Stop stops the loops, flushes buffered metrics and closes the store
func (a *App) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.scheduler.Stop()
	a.health.Stop()
	if a.probe != nil {
		a.probe.Stop()
	}
	a.alerts.Stop()
	a.metrics.Close()

	if a.ownsStore {
		if err := a.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}
	a.logger.Info("monitoring engine stopped")
	return nil
}

// RegisterTarget validates and stores a new target and schedules it
func (a *App) RegisterTarget(ctx context.Context, spec TargetSpec) (string, error) {
	if err := ValidateTargetSpec(spec); err != nil {
		return "", err
	}
	now := a.clock.Now()
	target := MonitorTarget{
		ID:        uuid.NewString(),
		Status:    TargetStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	target.applySpec(spec, a.Config.Scheduler.DefaultFailureThreshold)

	if err := a.store.CreateTarget(ctx, &target); err != nil {
		return "", err
	}
	a.scheduler.AddTask(target)
	a.logger.Info("target registered", zap.String("target_id", target.ID), zap.String("url", target.URL),
		zap.String("kind", string(target.Kind)))
	return target.ID, nil
}

// UpdateTarget replaces the caller-controlled fields of a target and
// rebuilds its task from the stored result.
func (a *App) UpdateTarget(ctx context.Context, id string, spec TargetSpec) error {
	if err := ValidateTargetSpec(spec); err != nil {
		return err
	}
	target, err := a.liveTarget(ctx, id)
	if err != nil {
		return err
	}
	target.applySpec(spec, a.Config.Scheduler.DefaultFailureThreshold)
	target.UpdatedAt = a.clock.Now()
	if err := a.store.UpdateTarget(ctx, target); err != nil {
		return err
	}
	return a.scheduler.RecreateTask(ctx, id)
}

// PauseTarget stops scheduling a target
func (a *App) PauseTarget(ctx context.Context, id string) error {
	if _, err := a.liveTarget(ctx, id); err != nil {
		return err
	}
	if err := a.store.SetTargetStatus(ctx, id, TargetStatusPaused, a.clock.Now()); err != nil {
		return err
	}
	a.scheduler.RemoveTask(id)
	return nil
}

// ResumeTarget schedules a paused target again
func (a *App) ResumeTarget(ctx context.Context, id string) error {
	if _, err := a.liveTarget(ctx, id); err != nil {
		return err
	}
	if err := a.store.SetTargetStatus(ctx, id, TargetStatusActive, a.clock.Now()); err != nil {
		return err
	}
	return a.scheduler.RecreateTask(ctx, id)
}

// RemoveTarget soft-deletes a target; its history stays
func (a *App) RemoveTarget(ctx context.Context, id string) error {
	if _, err := a.liveTarget(ctx, id); err != nil {
		return err
	}
	if err := a.store.SetTargetStatus(ctx, id, TargetStatusDeleted, a.clock.Now()); err != nil {
		return err
	}
	a.scheduler.RemoveTask(id)
	return nil
}

func (a *App) liveTarget(ctx context.Context, id string) (*MonitorTarget, error) {
	target, err := a.store.GetTarget(ctx, id)
	if err != nil {
		return nil, err
	}
	if target.Status == TargetStatusDeleted {
		return nil, ErrTargetNotFound
	}
	return target, nil
}

// RunCheckNow executes a check immediately
func (a *App) RunCheckNow(ctx context.Context, id string) (CheckResult, error) {
	return a.scheduler.RunNow(ctx, id)
}

// GetStatus reports scheduler occupancy
func (a *App) GetStatus() SchedulerStatus {
	return a.scheduler.Status()
}

// GetHealthReport returns the latest health report, running a pass when
// none exists yet.
func (a *App) GetHealthReport(ctx context.Context) HealthReport {
	if r := a.health.LastReport(); r != nil {
		return *r
	}
	return a.health.RunOnce(ctx)
}

// Subscribe registers an event subscriber; no types means all events
func (a *App) Subscribe(buffer int, types ...EventType) *Subscription {
	return a.bus.Subscribe(buffer, types...)
}

// GetTarget returns one target
func (a *App) GetTarget(ctx context.Context, id string) (*MonitorTarget, error) {
	return a.store.GetTarget(ctx, id)
}

// ListTargets lists targets, optionally filtered by status
func (a *App) ListTargets(ctx context.Context, statuses ...TargetStatus) ([]*MonitorTarget, error) {
	return a.store.ListTargets(ctx, statuses...)
}

// ListResults returns the newest results of a target
func (a *App) ListResults(ctx context.Context, id string, limit int) ([]CheckResult, error) {
	return a.store.ListResults(ctx, id, limit)
}

// ResultSummary summarizes a target's results over the trailing window
func (a *App) ResultSummary(ctx context.Context, id string, window time.Duration) (ResultSummary, error) {
	return a.store.ResultSummary(ctx, id, a.clock.Now().Add(-window))
}

// ListAlerts returns unresolved alerts and resolved history
func (a *App) ListAlerts() (active []Alert, history []Alert) {
	return a.alerts.ListActive(), a.alerts.History()
}

// AcknowledgeAlert marks an unresolved alert as acknowledged
func (a *App) AcknowledgeAlert(ctx context.Context, id string) (*Alert, error) {
	return a.alerts.Acknowledge(ctx, id)
}

// RecordMetric buffers an external datapoint
func (a *App) RecordMetric(metricType string, payload map[string]interface{}) string {
	return a.metrics.Record(metricType, payload)
}

// DBProbeReport returns the latest database probe report, if any
func (a *App) DBProbeReport() *DBProbeReport {
	if a.probe == nil {
		return nil
	}
	return a.probe.LastReport()
}

// StorageInfo describes the store
func (a *App) StorageInfo(ctx context.Context) StorageInfo {
	return a.store.GetStorageInfo(ctx)
}

// Registry exposes the Prometheus registry for scraping
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Logger returns the engine logger
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// ReloadTargets rebuilds every task from the store
func (a *App) ReloadTargets(ctx context.Context) error {
	return a.scheduler.Reload(ctx)
}
