package core

import (
	"context"
)

// Executor runs one check against one target
type Executor interface {
	Execute(ctx context.Context, target MonitorTarget) CheckResult
}

// ResourceSampler reports process and host resource figures
type ResourceSampler interface {
	Sample(ctx context.Context) (ResourceStats, error)
}

// TaskSupervisor is the part of the scheduler the health supervisor drives
type TaskSupervisor interface {
	Snapshots() []TaskSnapshot
	RecreateTask(ctx context.Context, targetID string) error
	Reload(ctx context.Context) error
}

// AlertRaiser raises or coalesces an alert
type AlertRaiser interface {
	Raise(ctx context.Context, req AlertRequest) (*Alert, error)
}

// MetricsRecorder accepts typed datapoints for batched storage
type MetricsRecorder interface {
	Record(metricType string, payload map[string]interface{}) string
}

// HistoryTrimmer drops bounded in-memory history under memory pressure
type HistoryTrimmer interface {
	TrimHistory(keep int) int
}

// Pinger checks reachability of a dependency
type Pinger interface {
	Ping(ctx context.Context) error
}

// ResultRecorder persists a result and applies it to the target's streak
type ResultRecorder interface {
	Record(ctx context.Context, result CheckResult) (OutcomeUpdate, bool)
}

// AlertEvaluator decides whether a failing outcome raises an alert
type AlertEvaluator interface {
	EvaluateTarget(ctx context.Context, result CheckResult, update OutcomeUpdate) error
}

// MetricsWriter stores one batch of same-typed datapoints
type MetricsWriter interface {
	InsertMetrics(ctx context.Context, metricType string, entries []MetricsBufferEntry) error
}
