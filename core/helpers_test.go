package core

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testEpoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestStore opens a SQLite store in a temporary directory
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(StorageConfig{
		Path:          filepath.Join(t.TempDir(), "monitor.db"),
		WAL:           true,
		BusyTimeoutMS: 5000,
		MaxOpenConns:  4,
	}, zap.NewNop())
	require.NoError(t, store.Initialize(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

// testTarget returns an active uptime target with sane defaults
func testTarget(id string, now time.Time) MonitorTarget {
	return MonitorTarget{
		ID:               id,
		OwnerID:          "owner-1",
		Name:             "site " + id,
		URL:              "https://" + id + ".example.com",
		Kind:             CheckKindUptime,
		Interval:         60 * time.Second,
		Timeout:          10 * time.Second,
		Config:           UptimeConfig{},
		FailureThreshold: 3,
		Status:           TargetStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func createTarget(t *testing.T, store Store, target MonitorTarget) MonitorTarget {
	t.Helper()
	require.NoError(t, store.CreateTarget(context.Background(), &target))
	return target
}

func testSchedulerConfig() SchedulerConfig {
	cfg := GetDefaultConfig().Scheduler
	cfg.TickInterval = time.Second
	return cfg
}

// stubExecutor returns a fixed status, optionally blocking until released
type stubExecutor struct {
	mu       sync.Mutex
	status   CheckStatus
	calls    map[string]int
	running  map[string]int
	overlap  bool
	release  chan struct{}
	started  chan string
	clock    Clock
	observed []MonitorTarget
}

func newStubExecutor(status CheckStatus, clock Clock) *stubExecutor {
	return &stubExecutor{
		status:  status,
		calls:   make(map[string]int),
		running: make(map[string]int),
		started: make(chan string, 64),
		clock:   clock,
	}
}

// blocking makes every execution wait for release to be closed or fed
func (s *stubExecutor) blocking() *stubExecutor {
	s.release = make(chan struct{})
	return s
}

func (s *stubExecutor) Execute(ctx context.Context, target MonitorTarget) CheckResult {
	s.mu.Lock()
	s.calls[target.ID]++
	s.running[target.ID]++
	if s.running[target.ID] > 1 {
		s.overlap = true
	}
	s.observed = append(s.observed, target)
	status := s.status
	release := s.release
	s.mu.Unlock()

	s.started <- target.ID
	if release != nil {
		<-release
	}

	s.mu.Lock()
	s.running[target.ID]--
	s.mu.Unlock()

	rt := int64(42)
	return CheckResult{
		TargetID:       target.ID,
		Kind:           target.Kind,
		Status:         status,
		ResponseTimeMS: &rt,
		CheckedAt:      s.clock.Now(),
	}
}

func (s *stubExecutor) setStatus(status CheckStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *stubExecutor) callCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func (s *stubExecutor) overlapped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlap
}

func (s *stubExecutor) lastObserved() MonitorTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observed[len(s.observed)-1]
}

// waitStarted waits for n executions to begin
func waitStarted(t *testing.T, exec *stubExecutor, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-exec.started:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d executions started", i, n)
		}
	}
}

// recordingMetrics captures Record calls
type recordingMetrics struct {
	mu      sync.Mutex
	entries []MetricsBufferEntry
}

func (r *recordingMetrics) Record(metricType string, payload map[string]interface{}) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, MetricsBufferEntry{Type: metricType, Payload: payload})
	return metricType
}

func (r *recordingMetrics) ofType(metricType string) []MetricsBufferEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []MetricsBufferEntry
	for _, e := range r.entries {
		if e.Type == metricType {
			out = append(out, e)
		}
	}
	return out
}

// drain collects every event currently buffered on sub
func drain(sub *Subscription) []Event {
	var events []Event
	for {
		select {
		case ev := <-sub.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
