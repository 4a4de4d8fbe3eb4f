package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SchedulerDeps are the collaborators of a Scheduler
type SchedulerDeps struct {
	Store    Store
	Executor Executor
	Results  ResultRecorder
	Alerts   AlertEvaluator
	Instr    *Instrumentation
	Clock    Clock
	Logger   *zap.Logger
}

// Scheduler keeps one task per active target and dispatches due checks on
// a master tick, never running more than MaxConcurrentChecks at once.
type Scheduler struct {
	mu          sync.Mutex
	tasks       map[string]*Task
	inFlight    int
	nextGen     uint64
	recreations map[string]int
	// live executions per target, including those of retired tasks
	active map[string]*checkRun

	config   SchedulerConfig
	store    Store
	executor Executor
	results  ResultRecorder
	alerts   AlertEvaluator
	instr    *Instrumentation
	clock    Clock
	logger   *zap.Logger

	cancel context.CancelFunc
	loops  sync.WaitGroup
	runs   sync.WaitGroup
}

// NewScheduler creates a scheduler
func NewScheduler(config SchedulerConfig, deps SchedulerDeps) *Scheduler {
	if deps.Clock == nil {
		deps.Clock = NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Scheduler{
		tasks:       make(map[string]*Task),
		recreations: make(map[string]int),
		active:      make(map[string]*checkRun),
		config:      config,
		store:       deps.Store,
		executor:    deps.Executor,
		results:     deps.Results,
		alerts:      deps.Alerts,
		instr:       deps.Instr,
		clock:       deps.Clock,
		logger:      deps.Logger.Named("scheduler"),
	}
}

// Start loads the active targets and runs the tick and reconcile loops
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	ctx, s.cancel = context.WithCancel(ctx)

	tick := s.clock.NewTicker(s.config.TickInterval)
	reconcile := s.clock.NewTicker(s.config.ReconcileInterval)
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		defer tick.Stop()
		defer reconcile.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C():
				s.Tick(ctx)
			case <-reconcile.C():
				if err := s.Reconcile(ctx); err != nil {
					s.logger.Warn("reconcile failed", zap.Error(err))
				}
			}
		}
	}()

	s.logger.Info("scheduler started",
		zap.Duration("tick", s.config.TickInterval),
		zap.Int("max_concurrent", s.config.MaxConcurrentChecks))
	return nil
}

// Stop stops the loops and waits for in-flight checks to return
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.loops.Wait()
	s.runs.Wait()
	s.logger.Info("scheduler stopped")
}

// Tick dispatches due tasks up to the free capacity and returns how many
// were admitted. Tasks left over wait for a later tick; admission order
// follows map iteration.
func (s *Scheduler) Tick(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	free := s.config.MaxConcurrentChecks - s.inFlight
	admitted := 0
	for _, task := range s.tasks {
		if free <= 0 {
			break
		}
		if !task.due(now) {
			continue
		}
		run := s.beginRunLocked(ctx, task, now)
		grace := s.config.WatchdogGrace
		run.watchdog = s.clock.AfterFunc(task.target.Timeout+grace, func() { s.onWatchdog(run) })

		s.runs.Add(1)
		go func() {
			defer s.runs.Done()
			result := s.executor.Execute(run.ctx, run.target)
			s.onComplete(run, result)
		}()
		free--
		admitted++
	}
	return admitted
}

func (s *Scheduler) beginRunLocked(ctx context.Context, task *Task, now time.Time) *checkRun {
	run := &checkRun{
		ctx:        ctx,
		task:       task,
		target:     task.target,
		generation: task.generation,
		startedAt:  now,
		slotHeld:   true,
	}
	task.running = true
	task.startedAt = now
	task.run = run
	s.active[task.target.ID] = run
	s.inFlight++
	s.instr.setRunning(s.inFlight)
	return run
}

// onComplete handles the real end of an execution. The result is discarded
// if the watchdog already fired, if the task was retired or replaced
// meanwhile, or if the dispatching context was canceled by shutdown.
func (s *Scheduler) onComplete(run *checkRun, result CheckResult) {
	s.mu.Lock()
	if run.watchdog != nil {
		run.watchdog.Stop()
	}
	run.finished = true
	timedOut := run.timedOut
	stale := s.staleLocked(run)
	canceled := run.ctx.Err() != nil
	s.mu.Unlock()

	var (
		update  OutcomeUpdate
		applied bool
	)
	keep := !timedOut && !stale && !canceled
	if keep {
		update, applied = s.route(context.WithoutCancel(run.ctx), result)
	} else {
		s.logger.Debug("discarding result",
			zap.String("target_id", run.target.ID),
			zap.String("status", string(result.Status)),
			zap.Bool("timed_out", timedOut),
			zap.Bool("stale", stale),
			zap.Bool("canceled", canceled))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseSlotLocked(run)
	s.finishRunLocked(run)
	if keep {
		task := run.task
		task.lastCompletedAt = s.clock.Now()
		task.settle(s.config, result, update, applied)
	}
}

// staleLocked reports whether the task that dispatched run is no longer the
// target's current task
func (s *Scheduler) staleLocked(run *checkRun) bool {
	current, ok := s.tasks[run.target.ID]
	return !ok || current.generation != run.generation
}

// finishRunLocked clears the running flag on every task holding run: the
// task that dispatched it and any replacement that inherited it.
func (s *Scheduler) finishRunLocked(run *checkRun) {
	if s.active[run.target.ID] == run {
		delete(s.active, run.target.ID)
	}
	if run.task.run == run {
		run.task.running = false
		run.task.run = nil
	}
	if current, ok := s.tasks[run.target.ID]; ok && current.run == run {
		current.running = false
		current.run = nil
	}
}

// onWatchdog fires when an execution outlives its timeout plus grace. It
// frees the slot and records a synthesized timeout; the task stays marked
// running until the real execution returns.
func (s *Scheduler) onWatchdog(run *checkRun) {
	s.mu.Lock()
	if run.finished || run.timedOut {
		s.mu.Unlock()
		return
	}
	run.timedOut = true
	s.releaseSlotLocked(run)
	now := s.clock.Now()
	task := run.task
	task.lastCompletedAt = now
	stale := s.staleLocked(run)
	canceled := run.ctx.Err() != nil
	s.mu.Unlock()

	s.instr.watchdogFired()
	s.logger.Warn("check exceeded watchdog",
		zap.String("target_id", run.target.ID),
		zap.Duration("timeout", run.target.Timeout),
		zap.Duration("elapsed", now.Sub(run.startedAt)))
	if stale || canceled {
		return
	}

	result := CheckResult{
		TargetID:  run.target.ID,
		Kind:      run.target.Kind,
		Status:    CheckStatusTimeout,
		ErrorKind: ErrKindNetworkTimeout,
		Error:     fmt.Sprintf("check did not finish within %s", run.target.Timeout),
		CheckedAt: now,
	}
	update, applied := s.route(context.WithoutCancel(run.ctx), result)

	s.mu.Lock()
	task.settle(s.config, result, update, applied)
	s.mu.Unlock()
}

func (s *Scheduler) releaseSlotLocked(run *checkRun) {
	if !run.slotHeld {
		return
	}
	run.slotHeld = false
	s.inFlight--
	s.instr.setRunning(s.inFlight)
}

// route sends a result through the sink and, when it failed, the alert engine
func (s *Scheduler) route(ctx context.Context, result CheckResult) (OutcomeUpdate, bool) {
	update, applied := s.results.Record(ctx, result)
	if !applied || !result.Failed() || s.alerts == nil {
		return update, applied
	}
	if err := s.alerts.EvaluateTarget(ctx, result, update); err != nil {
		s.logger.Warn("alert evaluation failed", zap.String("target_id", result.TargetID), zap.Error(err))
	}
	return update, applied
}

// AddTask creates a task for an active target that has none
func (s *Scheduler) AddTask(target MonitorTarget) {
	if target.Status != TargetStatusActive {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[target.ID]; exists {
		return
	}
	s.addTaskLocked(target)
}

// addTaskLocked creates the target's task. A check still alive for the
// target, started by a retired task, keeps the new task busy until it
// returns.
func (s *Scheduler) addTaskLocked(target MonitorTarget) {
	s.nextGen++
	task := newTask(target, s.nextGen, s.clock.Now())
	if run, ok := s.active[target.ID]; ok {
		task.running = true
		task.startedAt = run.startedAt
		task.run = run
	}
	s.tasks[target.ID] = task
}

// RemoveTask retires the task of a target. An in-flight check runs to
// completion but its result is dropped.
func (s *Scheduler) RemoveTask(targetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retireLocked(targetID)
}

func (s *Scheduler) retireLocked(targetID string) bool {
	if _, ok := s.tasks[targetID]; !ok {
		return false
	}
	delete(s.tasks, targetID)
	return true
}

// RecreateTask retires the task of a target and rebuilds it from the store
func (s *Scheduler) RecreateTask(ctx context.Context, targetID string) error {
	target, err := s.store.GetTarget(ctx, targetID)
	if err != nil {
		return fmt.Errorf("failed to reload target %s: %w", targetID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.retireLocked(targetID)
	s.recreations[targetID]++
	if target.Status == TargetStatusActive {
		s.addTaskLocked(*target)
	}
	s.logger.Info("task recreated", zap.String("target_id", targetID), zap.Uint64("generation", s.nextGen))
	return nil
}

// Reload tears down every task and rebuilds the set from the store
func (s *Scheduler) Reload(ctx context.Context) error {
	targets, err := s.store.ListTargets(ctx, TargetStatusActive)
	if err != nil {
		return fmt.Errorf("failed to load active targets: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.tasks {
		s.retireLocked(id)
	}
	for _, t := range targets {
		s.addTaskLocked(*t)
	}
	s.logger.Info("task set reloaded", zap.Int("tasks", len(s.tasks)))
	return nil
}

// Reconcile brings the task set in line with the store: missing tasks are
// created, stale ones retired, and changed targets rebuilt.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	targets, err := s.store.ListTargets(ctx, TargetStatusActive)
	if err != nil {
		return fmt.Errorf("failed to load active targets: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(targets))
	added, changed, retired := 0, 0, 0
	for _, t := range targets {
		seen[t.ID] = true
		task, ok := s.tasks[t.ID]
		switch {
		case !ok:
			s.addTaskLocked(*t)
			added++
		case !task.target.UpdatedAt.Equal(t.UpdatedAt):
			s.retireLocked(t.ID)
			s.addTaskLocked(*t)
			changed++
		}
	}
	for id := range s.tasks {
		if !seen[id] {
			s.retireLocked(id)
			retired++
		}
	}
	if added+changed+retired > 0 {
		s.logger.Info("tasks reconciled", zap.Int("added", added), zap.Int("changed", changed), zap.Int("retired", retired))
	}
	return nil
}

// RunNow executes a check immediately and routes its result. It fails with
// ErrTaskBusy while a check for the target is in flight. Paused targets
// have no task and are executed directly.
func (s *Scheduler) RunNow(ctx context.Context, targetID string) (CheckResult, error) {
	s.mu.Lock()
	task, ok := s.tasks[targetID]
	if !ok {
		_, busy := s.active[targetID]
		s.mu.Unlock()
		if busy {
			return CheckResult{}, ErrTaskBusy
		}
		target, err := s.store.GetTarget(ctx, targetID)
		if err != nil {
			return CheckResult{}, err
		}
		if target.Status == TargetStatusDeleted {
			return CheckResult{}, ErrTargetNotFound
		}
		result := s.executor.Execute(ctx, *target)
		if ctx.Err() == nil {
			s.route(ctx, result)
		}
		return result, nil
	}
	if task.running {
		s.mu.Unlock()
		return CheckResult{}, ErrTaskBusy
	}
	if s.inFlight >= s.config.MaxConcurrentChecks {
		s.mu.Unlock()
		return CheckResult{}, ErrNoCapacity
	}
	run := s.beginRunLocked(ctx, task, s.clock.Now())
	s.mu.Unlock()

	result := s.executor.Execute(ctx, run.target)
	s.onComplete(run, result)
	return result, nil
}

// Status reports how many tasks exist and how many are running
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := SchedulerStatus{ActiveTasks: len(s.tasks)}
	for _, t := range s.tasks {
		if t.running {
			status.RunningTasks++
		}
	}
	return status
}

// InFlight reports how many concurrency slots are held
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Snapshots returns a view of every task
func (s *Scheduler) Snapshots() []TaskSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskSnapshot, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.snapshot())
	}
	return out
}

// Recreations reports how many times a target's task was recreated
func (s *Scheduler) Recreations(targetID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recreations[targetID]
}

// TaskTarget returns the target snapshot a task was built from
func (s *Scheduler) TaskTarget(targetID string) (MonitorTarget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[targetID]
	if !ok {
		return MonitorTarget{}, false
	}
	return t.target, true
}
