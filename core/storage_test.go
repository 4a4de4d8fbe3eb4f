package core

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_TargetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	target := testTarget("t1", testEpoch)
	target.Kind = CheckKindSecurity
	target.Config = SecurityConfig{RequiredHeaders: []string{"X-Frame-Options"}}
	createTarget(t, store, target)

	got, err := store.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, target.URL, got.URL)
	assert.Equal(t, time.Minute, got.Interval)
	assert.Equal(t, 10*time.Second, got.Timeout)
	assert.Equal(t, SecurityConfig{RequiredHeaders: []string{"X-Frame-Options"}}, got.Config)
	assert.Equal(t, TargetStatusActive, got.Status)
	assert.Nil(t, got.LastCheckAt)

	_, err = store.GetTarget(ctx, "missing")
	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestSQLiteStore_GetTargetUsesCache(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createTarget(t, store, testTarget("t1", testEpoch))

	for i := 0; i < 3; i++ {
		_, err := store.GetTarget(ctx, "t1")
		require.NoError(t, err)
	}
	hits, misses := store.CacheStats()
	assert.EqualValues(t, 2, hits)
	assert.EqualValues(t, 1, misses)

	// writes invalidate the cached copy
	updated := testTarget("t1", testEpoch)
	updated.Name = "renamed"
	updated.UpdatedAt = testEpoch.Add(time.Minute)
	require.NoError(t, store.UpdateTarget(ctx, &updated))

	got, err := store.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
}

func TestSQLiteStore_ListTargetsByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createTarget(t, store, testTarget("a", testEpoch))
	createTarget(t, store, testTarget("b", testEpoch.Add(time.Second)))
	createTarget(t, store, testTarget("c", testEpoch.Add(2*time.Second)))

	require.NoError(t, store.SetTargetStatus(ctx, "b", TargetStatusPaused, testEpoch))
	require.NoError(t, store.SetTargetStatus(ctx, "c", TargetStatusDeleted, testEpoch))

	active, err := store.ListTargets(ctx, TargetStatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ID)

	all, err := store.ListTargets(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// a deleted target cannot change status again
	assert.ErrorIs(t, store.SetTargetStatus(ctx, "c", TargetStatusActive, testEpoch), ErrTargetNotFound)
}

func TestSQLiteStore_ApplyOutcomeTracksStreak(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createTarget(t, store, testTarget("t1", testEpoch))

	steps := []struct {
		status   CheckStatus
		previous CheckStatus
		streak   int
	}{
		{CheckStatusTimeout, "", 1},
		{CheckStatusDown, CheckStatusTimeout, 2},
		{CheckStatusError, CheckStatusDown, 3},
		{CheckStatusUp, CheckStatusError, 0},
		{CheckStatusTimeout, CheckStatusUp, 1},
	}
	for i, step := range steps {
		update, err := store.ApplyOutcome(ctx, "t1", step.status, testEpoch.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, step.previous, update.PreviousStatus, "step %d", i)
		assert.Equal(t, step.streak, update.Streak, "step %d", i)
		assert.Equal(t, 3, update.Threshold)
	}

	got, err := store.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ConsecutiveFailures)
	assert.Equal(t, CheckStatusTimeout, got.LastStatus)
	require.NotNil(t, got.LastCheckAt)

	_, err = store.ApplyOutcome(ctx, "missing", CheckStatusUp, testEpoch)
	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestSQLiteStore_ResultsAndSummary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createTarget(t, store, testTarget("t1", testEpoch))

	for i, status := range []CheckStatus{CheckStatusUp, CheckStatusUp, CheckStatusDown, CheckStatusUp} {
		rt := int64(100 * (i + 1))
		code := 200
		require.NoError(t, store.InsertResult(ctx, CheckResult{
			TargetID:       "t1",
			Kind:           CheckKindUptime,
			Status:         status,
			ResponseTimeMS: &rt,
			StatusCode:     &code,
			Details:        map[string]interface{}{"final_url": "https://t1.example.com"},
			CheckedAt:      testEpoch.Add(time.Duration(i) * time.Minute),
		}))
	}

	results, err := store.ListResults(ctx, "t1", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(400), *results[0].ResponseTimeMS, "newest first")
	assert.Equal(t, "https://t1.example.com", results[0].Details["final_url"])

	summary, err := store.ResultSummary(ctx, "t1", testEpoch)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 3, summary.Up)
	assert.InDelta(t, 75.0, summary.UptimePercent, 0.001)
	assert.InDelta(t, 250.0, summary.AvgResponseMS, 0.001)
}

func TestSQLiteStore_AlertUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	alert := &Alert{
		ID: "a1", Scope: AlertScopeTarget, TargetID: "t1", Type: AlertTypeTargetDown,
		Severity: SeverityCritical, Status: AlertStatusActive, Message: "down", Count: 3,
		FirstSeen: testEpoch, LastSeen: testEpoch,
	}
	require.NoError(t, store.UpsertAlert(ctx, alert))

	alert.Count = 4
	resolved := testEpoch.Add(time.Hour)
	alert.Status = AlertStatusResolved
	alert.ResolvedAt = &resolved
	require.NoError(t, store.UpsertAlert(ctx, alert))

	open, err := store.ListAlerts(ctx, AlertStatusActive)
	require.NoError(t, err)
	assert.Empty(t, open)

	closed, err := store.ListAlerts(ctx, AlertStatusResolved)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, 4, closed[0].Count)
	require.NotNil(t, closed[0].ResolvedAt)
	assert.True(t, closed[0].ResolvedAt.Equal(resolved))
}

func TestSQLiteStore_InsertMetricsAndInfo(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createTarget(t, store, testTarget("t1", testEpoch))

	entries := []MetricsBufferEntry{
		{ID: "m1", Type: "check_sample", Timestamp: testEpoch, Payload: map[string]interface{}{"status": "up"}},
		{ID: "m2", Type: "check_sample", Timestamp: testEpoch, Payload: map[string]interface{}{"status": "down"}},
	}
	require.NoError(t, store.InsertMetrics(ctx, "check_sample", entries))
	// a duplicate id fails the whole batch
	assert.Error(t, store.InsertMetrics(ctx, "check_sample", entries[:1]))

	info := store.GetStorageInfo(ctx)
	assert.Equal(t, "sqlite", info.Type)
	assert.Equal(t, 1, info.Targets)
	assert.Equal(t, 2, info.Metrics)
	assert.Positive(t, info.TotalSize)

	_, err := os.Stat(info.FilePath)
	assert.NoError(t, err)
}

func TestSQLiteStore_Diagnostics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))
	d, err := store.SampleLatency(ctx)
	require.NoError(t, err)
	assert.Positive(t, int64(d))
	assert.NotEmpty(t, store.RecentQueryTimings())
	assert.Zero(t, store.LockEvents())
	assert.Equal(t, 4, store.DBStats().MaxOpenConnections)
}
