package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedulerFixture struct {
	store *SQLiteStore
	clock *FakeClock
	exec  *stubExecutor
	sched *Scheduler
}

func newSchedulerFixture(t *testing.T, cfg SchedulerConfig, exec func(Clock) *stubExecutor) *schedulerFixture {
	t.Helper()
	f := &schedulerFixture{store: newTestStore(t), clock: NewFakeClock(testEpoch)}
	f.exec = exec(f.clock)
	f.sched = NewScheduler(cfg, SchedulerDeps{
		Store:    f.store,
		Executor: f.exec,
		Results:  NewResultSink(f.store, nil, nil, nil, nil),
		Clock:    f.clock,
	})
	t.Cleanup(func() {
		if f.exec.release != nil {
			select {
			case <-f.exec.release:
			default:
				close(f.exec.release)
			}
		}
		f.sched.Stop()
	})
	return f
}

func blockingUp(c Clock) *stubExecutor { return newStubExecutor(CheckStatusUp, c).blocking() }

func (f *schedulerFixture) add(t *testing.T, id string) MonitorTarget {
	t.Helper()
	target := createTarget(t, f.store, testTarget(id, f.clock.Now()))
	f.sched.AddTask(target)
	return target
}

// settled waits until no check holds a slot or a running flag
func (f *schedulerFixture) settled(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.sched.InFlight() == 0 && f.sched.Status().RunningTasks == 0
	}, 5*time.Second, 5*time.Millisecond)
}

func TestScheduler_OneExecutionPerTargetUnderRapidTicks(t *testing.T) {
	f := newSchedulerFixture(t, testSchedulerConfig(), blockingUp)
	f.add(t, "t1")
	ctx := context.Background()

	assert.Equal(t, 1, f.sched.Tick(ctx))
	waitStarted(t, f.exec, 1)
	for i := 0; i < 10; i++ {
		f.clock.Advance(2 * time.Minute)
		assert.Zero(t, f.sched.Tick(ctx), "tick %d admitted a second execution", i)
	}
	assert.Equal(t, 1, f.exec.callCount("t1"))

	close(f.exec.release)
	f.settled(t)
	assert.False(t, f.exec.overlapped())
}

func TestScheduler_CapacityIsCapped(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.MaxConcurrentChecks = 2
	f := newSchedulerFixture(t, cfg, blockingUp)
	for i := 0; i < 5; i++ {
		f.add(t, fmt.Sprintf("t%d", i))
	}
	ctx := context.Background()

	assert.Equal(t, 2, f.sched.Tick(ctx))
	waitStarted(t, f.exec, 2)
	assert.Equal(t, 2, f.sched.InFlight())
	assert.Zero(t, f.sched.Tick(ctx))

	close(f.exec.release)
	f.settled(t)
	assert.Equal(t, 2, f.sched.Tick(ctx), "deferred targets run on a later tick")
	waitStarted(t, f.exec, 2)
	f.settled(t)
	assert.Equal(t, 5, f.sched.Status().ActiveTasks)
}

func TestScheduler_WatchdogReleasesSlotAndRecordsTimeout(t *testing.T) {
	f := newSchedulerFixture(t, testSchedulerConfig(), blockingUp)
	f.add(t, "t1")
	ctx := context.Background()

	require.Equal(t, 1, f.sched.Tick(ctx))
	waitStarted(t, f.exec, 1)

	// timeout 10s plus 2s grace
	f.clock.Advance(11 * time.Second)
	assert.Equal(t, 1, f.sched.InFlight())
	f.clock.Advance(time.Second)
	assert.Zero(t, f.sched.InFlight(), "watchdog frees the slot")
	assert.Equal(t, 1, f.sched.Status().RunningTasks, "the task stays busy until the execution returns")

	results, err := f.store.ListResults(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, CheckStatusTimeout, results[0].Status)
	assert.Equal(t, ErrKindNetworkTimeout, results[0].ErrorKind)

	f.clock.Advance(2 * time.Minute)
	assert.Zero(t, f.sched.Tick(ctx), "no second execution while the first is still alive")

	close(f.exec.release)
	f.settled(t)
	results, err = f.store.ListResults(ctx, "t1", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1, "the late result is discarded")

	target, err := f.store.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, target.ConsecutiveFailures)
}

func TestScheduler_RecreateUsesStoredTarget(t *testing.T) {
	f := newSchedulerFixture(t, testSchedulerConfig(), func(c Clock) *stubExecutor { return newStubExecutor(CheckStatusUp, c) })
	target := f.add(t, "t1")
	ctx := context.Background()

	target.URL = "https://changed.example.com"
	target.Kind = CheckKindPerformance
	target.Config = PerformanceConfig{BudgetMS: 700}
	target.UpdatedAt = f.clock.Now().Add(time.Second)
	require.NoError(t, f.store.UpdateTarget(ctx, &target))
	require.NoError(t, f.sched.RecreateTask(ctx, "t1"))

	got, ok := f.sched.TaskTarget("t1")
	require.True(t, ok)
	assert.Equal(t, "https://changed.example.com", got.URL)
	assert.Equal(t, 1, f.sched.Recreations("t1"))

	require.Equal(t, 1, f.sched.Tick(ctx))
	waitStarted(t, f.exec, 1)
	f.settled(t)
	observed := f.exec.lastObserved()
	assert.Equal(t, "https://changed.example.com", observed.URL)
	assert.Equal(t, PerformanceConfig{BudgetMS: 700}, observed.Config)
}

func TestScheduler_RemovedTaskDropsInFlightResult(t *testing.T) {
	f := newSchedulerFixture(t, testSchedulerConfig(), blockingUp)
	f.add(t, "t1")
	ctx := context.Background()

	require.Equal(t, 1, f.sched.Tick(ctx))
	waitStarted(t, f.exec, 1)
	f.sched.RemoveTask("t1")
	assert.Zero(t, f.sched.Status().ActiveTasks)

	close(f.exec.release)
	require.Eventually(t, func() bool { return f.sched.InFlight() == 0 }, 5*time.Second, 5*time.Millisecond)
	results, err := f.store.ListResults(ctx, "t1", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestScheduler_FailureBackoffShortensRetry(t *testing.T) {
	f := newSchedulerFixture(t, testSchedulerConfig(), func(c Clock) *stubExecutor { return newStubExecutor(CheckStatusDown, c) })
	f.add(t, "t1")
	ctx := context.Background()

	require.Equal(t, 1, f.sched.Tick(ctx))
	waitStarted(t, f.exec, 1)
	f.settled(t)

	// streak 1: retry after the 15s base instead of the 60s interval
	f.clock.Advance(14 * time.Second)
	assert.Zero(t, f.sched.Tick(ctx))
	f.clock.Advance(time.Second)
	require.Equal(t, 1, f.sched.Tick(ctx))
	waitStarted(t, f.exec, 1)
	f.settled(t)

	// recovery clears the backoff
	f.exec.setStatus(CheckStatusUp)
	f.clock.Advance(30 * time.Second)
	require.Equal(t, 1, f.sched.Tick(ctx))
	waitStarted(t, f.exec, 1)
	f.settled(t)
	f.clock.Advance(30 * time.Second)
	assert.Zero(t, f.sched.Tick(ctx))
	f.clock.Advance(30 * time.Second)
	assert.Equal(t, 1, f.sched.Tick(ctx))
	waitStarted(t, f.exec, 1)
	f.settled(t)
}

func TestBackoffDelay(t *testing.T) {
	cfg := SchedulerConfig{BackoffBase: 15 * time.Second, BackoffMax: 5 * time.Minute}
	assert.Equal(t, 15*time.Second, backoffDelay(cfg, 10*time.Minute, 1))
	assert.Equal(t, 60*time.Second, backoffDelay(cfg, 10*time.Minute, 3))
	assert.Equal(t, 5*time.Minute, backoffDelay(cfg, 10*time.Minute, 10))
	assert.Equal(t, time.Minute, backoffDelay(cfg, time.Minute, 10), "never longer than the interval")
	assert.Equal(t, 5*time.Minute, backoffDelay(cfg, time.Hour, 1000))
}

func TestScheduler_ReconcileFollowsStore(t *testing.T) {
	f := newSchedulerFixture(t, testSchedulerConfig(), func(c Clock) *stubExecutor { return newStubExecutor(CheckStatusUp, c) })
	ctx := context.Background()
	createTarget(t, f.store, testTarget("a", testEpoch))
	createTarget(t, f.store, testTarget("b", testEpoch))

	require.NoError(t, f.sched.Reconcile(ctx))
	assert.Equal(t, 2, f.sched.Status().ActiveTasks)

	require.NoError(t, f.store.SetTargetStatus(ctx, "b", TargetStatusPaused, testEpoch.Add(time.Minute)))
	changed := testTarget("a", testEpoch)
	changed.Name = "renamed"
	changed.UpdatedAt = testEpoch.Add(time.Minute)
	require.NoError(t, f.store.UpdateTarget(ctx, &changed))

	require.NoError(t, f.sched.Reconcile(ctx))
	assert.Equal(t, 1, f.sched.Status().ActiveTasks)
	got, ok := f.sched.TaskTarget("a")
	require.True(t, ok)
	assert.Equal(t, "renamed", got.Name)
}

func TestScheduler_RunNow(t *testing.T) {
	f := newSchedulerFixture(t, testSchedulerConfig(), func(c Clock) *stubExecutor { return newStubExecutor(CheckStatusUp, c) })
	ctx := context.Background()
	f.add(t, "t1")

	result, err := f.sched.RunNow(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, CheckStatusUp, result.Status)
	assert.Zero(t, f.sched.InFlight())

	// paused targets have no task but can still be checked on demand
	paused := createTarget(t, f.store, testTarget("p1", testEpoch))
	require.NoError(t, f.store.SetTargetStatus(ctx, paused.ID, TargetStatusPaused, testEpoch))
	_, err = f.sched.RunNow(ctx, "p1")
	require.NoError(t, err)

	require.NoError(t, f.store.SetTargetStatus(ctx, "p1", TargetStatusDeleted, testEpoch))
	_, err = f.sched.RunNow(ctx, "p1")
	assert.ErrorIs(t, err, ErrTargetNotFound)

	_, err = f.sched.RunNow(ctx, "missing")
	assert.ErrorIs(t, err, ErrTargetNotFound)

	results, err := f.store.ListResults(ctx, "t1", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestScheduler_RunNowWhileBusy(t *testing.T) {
	f := newSchedulerFixture(t, testSchedulerConfig(), blockingUp)
	f.add(t, "t1")
	ctx := context.Background()

	require.Equal(t, 1, f.sched.Tick(ctx))
	waitStarted(t, f.exec, 1)
	_, err := f.sched.RunNow(ctx, "t1")
	assert.ErrorIs(t, err, ErrTaskBusy)
}

func TestScheduler_StartLoadsActiveTargets(t *testing.T) {
	f := newSchedulerFixture(t, testSchedulerConfig(), func(c Clock) *stubExecutor { return newStubExecutor(CheckStatusUp, c) })
	createTarget(t, f.store, testTarget("a", testEpoch))
	paused := testTarget("b", testEpoch)
	paused.Status = TargetStatusPaused
	createTarget(t, f.store, paused)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.sched.Start(ctx))
	assert.Equal(t, 1, f.sched.Status().ActiveTasks)

	require.Eventually(t, func() bool {
		f.clock.Advance(time.Second)
		return f.exec.callCount("a") >= 1
	}, 5*time.Second, 5*time.Millisecond)
}

func TestScheduler_ShutdownDiscardsInFlightResults(t *testing.T) {
	f := newSchedulerFixture(t, testSchedulerConfig(), func(c Clock) *stubExecutor {
		// a canceled request comes back classified as a timeout
		return newStubExecutor(CheckStatusTimeout, c).blocking()
	})
	f.add(t, "t1")
	f.add(t, "t2")
	ctx, cancel := context.WithCancel(context.Background())

	require.Equal(t, 2, f.sched.Tick(ctx))
	waitStarted(t, f.exec, 2)
	cancel()
	close(f.exec.release)
	f.settled(t)

	for _, id := range []string{"t1", "t2"} {
		results, err := f.store.ListResults(context.Background(), id, 10)
		require.NoError(t, err)
		assert.Empty(t, results, "%s: no result stored for a check cut short by shutdown", id)

		target, err := f.store.GetTarget(context.Background(), id)
		require.NoError(t, err)
		assert.Zero(t, target.ConsecutiveFailures, id)
	}
	assert.Zero(t, f.sched.Tick(ctx), "a canceled context admits nothing")
}

func TestScheduler_RecreateWaitsForInFlightCheck(t *testing.T) {
	f := newSchedulerFixture(t, testSchedulerConfig(), blockingUp)
	f.add(t, "t1")
	ctx := context.Background()

	require.Equal(t, 1, f.sched.Tick(ctx))
	waitStarted(t, f.exec, 1)
	require.NoError(t, f.sched.RecreateTask(ctx, "t1"))

	f.clock.Advance(2 * time.Minute)
	assert.Zero(t, f.sched.Tick(ctx), "the replacement waits for the running check")
	assert.Equal(t, 1, f.sched.Status().RunningTasks)
	_, err := f.sched.RunNow(ctx, "t1")
	assert.ErrorIs(t, err, ErrTaskBusy)

	close(f.exec.release)
	f.settled(t)
	require.Equal(t, 1, f.sched.Tick(ctx), "the replacement is due once the old check returns")
	waitStarted(t, f.exec, 1)
	f.settled(t)

	assert.False(t, f.exec.overlapped())
	assert.Equal(t, 2, f.exec.callCount("t1"))
	results, err := f.store.ListResults(ctx, "t1", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1, "only the replacement's result is kept")
}

func TestScheduler_ReconcileChangeWaitsForInFlightCheck(t *testing.T) {
	f := newSchedulerFixture(t, testSchedulerConfig(), blockingUp)
	target := f.add(t, "t1")
	ctx := context.Background()

	require.Equal(t, 1, f.sched.Tick(ctx))
	waitStarted(t, f.exec, 1)
	target.Name = "renamed"
	target.UpdatedAt = f.clock.Now().Add(time.Second)
	require.NoError(t, f.store.UpdateTarget(ctx, &target))
	require.NoError(t, f.sched.Reconcile(ctx))

	assert.Zero(t, f.sched.Tick(ctx))
	close(f.exec.release)
	f.settled(t)
	require.Equal(t, 1, f.sched.Tick(ctx))
	waitStarted(t, f.exec, 1)
	f.settled(t)
	assert.False(t, f.exec.overlapped())
	assert.Equal(t, "renamed", f.exec.lastObserved().Name)
}

func TestScheduler_ResumeWaitsForCheckStartedBeforePause(t *testing.T) {
	f := newSchedulerFixture(t, testSchedulerConfig(), blockingUp)
	target := f.add(t, "t1")
	ctx := context.Background()

	require.Equal(t, 1, f.sched.Tick(ctx))
	waitStarted(t, f.exec, 1)
	f.sched.RemoveTask("t1")
	_, err := f.sched.RunNow(ctx, "t1")
	assert.ErrorIs(t, err, ErrTaskBusy, "on-demand checks of a paused target wait too")

	f.sched.AddTask(target)
	assert.Zero(t, f.sched.Tick(ctx))

	close(f.exec.release)
	f.settled(t)
	require.Equal(t, 1, f.sched.Tick(ctx))
	waitStarted(t, f.exec, 1)
	f.settled(t)
	assert.False(t, f.exec.overlapped())
}
