package core

import (
	"context"
	"time"
)

// maxBackoffShift caps the exponent so the shift never overflows
const maxBackoffShift = 20

// Task is the scheduler's record of one active target
type Task struct {
	target          MonitorTarget
	generation      uint64
	running         bool
	startedAt       time.Time
	lastCompletedAt time.Time
	createdAt       time.Time
	backoffUntil    time.Time
	run             *checkRun
}

// checkRun is one dispatched execution. The watchdog and the real
// completion race for it; whichever comes first releases the slot. A run
// whose generation no longer matches the target's task is stale.
type checkRun struct {
	ctx        context.Context
	task       *Task
	target     MonitorTarget
	generation uint64
	startedAt  time.Time
	watchdog   Timer
	slotHeld   bool
	timedOut   bool
	finished   bool
}

func newTask(target MonitorTarget, generation uint64, now time.Time) *Task {
	return &Task{
		target:     target,
		generation: generation,
		createdAt:  now,
	}
}

// due reports whether the task should be dispatched at now. New tasks are
// due immediately; a task in failure backoff is due when either its
// interval or its backoff has elapsed.
func (t *Task) due(now time.Time) bool {
	if t.running || t.target.Status != TargetStatusActive {
		return false
	}
	if t.lastCompletedAt.IsZero() {
		return true
	}
	if now.Sub(t.lastCompletedAt) >= t.target.Interval {
		return true
	}
	return !t.backoffUntil.IsZero() && !now.Before(t.backoffUntil)
}

func (t *Task) snapshot() TaskSnapshot {
	return TaskSnapshot{
		TargetID:        t.target.ID,
		Interval:        t.target.Interval,
		Running:         t.running,
		StartedAt:       t.startedAt,
		LastCompletedAt: t.lastCompletedAt,
		CreatedAt:       t.createdAt,
		Generation:      t.generation,
	}
}

// backoffDelay is min(interval, base * 2^(streak-1)) capped at max
func backoffDelay(cfg SchedulerConfig, interval time.Duration, streak int) time.Duration {
	if cfg.BackoffBase <= 0 {
		return 0
	}
	if streak < 1 {
		streak = 1
	}
	shift := streak - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	delay := cfg.BackoffBase << uint(shift)
	if delay > interval {
		delay = interval
	}
	if cfg.BackoffMax > 0 && delay > cfg.BackoffMax {
		delay = cfg.BackoffMax
	}
	return delay
}

// settle records the outcome of a finished run on the task
func (t *Task) settle(cfg SchedulerConfig, result CheckResult, update OutcomeUpdate, applied bool) {
	if !result.Failed() {
		t.backoffUntil = time.Time{}
		return
	}
	streak := 1
	if applied {
		streak = update.Streak
	}
	if delay := backoffDelay(cfg, t.target.Interval, streak); delay > 0 {
		t.backoffUntil = t.lastCompletedAt.Add(delay)
	}
}
