package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// CheckKind selects the check strategy run against a target
type CheckKind string

const (
	CheckKindUptime      CheckKind = "uptime"
	CheckKindPerformance CheckKind = "performance"
	CheckKindSecurity    CheckKind = "security"
	CheckKindSEO         CheckKind = "seo"
)

// TargetStatus is the lifecycle status of a monitor target
type TargetStatus string

const (
	TargetStatusActive  TargetStatus = "active"
	TargetStatusPaused  TargetStatus = "paused"
	TargetStatusDeleted TargetStatus = "deleted"
)

// CheckStatus is the outcome of one check execution
type CheckStatus string

const (
	CheckStatusUp      CheckStatus = "up"
	CheckStatusDown    CheckStatus = "down"
	CheckStatusTimeout CheckStatus = "timeout"
	CheckStatusError   CheckStatus = "error"
)

// AlertSeverity ranks an alert
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus is the lifecycle status of an alert
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// AlertScope says what an alert is about
type AlertScope string

const (
	AlertScopeTarget   AlertScope = "target"
	AlertScopeDatabase AlertScope = "database"
)

// MonitorTarget is a registered URL under periodic observation
type MonitorTarget struct {
	ID                  string        `json:"id"`
	OwnerID             string        `json:"owner_id"`
	Name                string        `json:"name"`
	URL                 string        `json:"url"`
	Kind                CheckKind     `json:"kind"`
	Interval            time.Duration `json:"interval"`
	Timeout             time.Duration `json:"timeout"`
	Config              CheckConfig   `json:"config"`
	FailureThreshold    int           `json:"failure_threshold"`
	Status              TargetStatus  `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastCheckAt         *time.Time    `json:"last_check_at,omitempty"`
	LastStatus          CheckStatus   `json:"last_status,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// TargetSpec is the caller-supplied part of a target, used by register and update
type TargetSpec struct {
	OwnerID          string
	Name             string
	URL              string
	Kind             CheckKind
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
	Config           CheckConfig
}

// CheckResult is the normalized outcome of one check execution
type CheckResult struct {
	TargetID       string                 `json:"target_id"`
	Kind           CheckKind              `json:"kind"`
	Status         CheckStatus            `json:"status"`
	ResponseTimeMS *int64                 `json:"response_time_ms,omitempty"`
	StatusCode     *int                   `json:"status_code,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
	Error          string                 `json:"error,omitempty"`
	ErrorKind      ErrorKind              `json:"error_kind,omitempty"`
	CheckedAt      time.Time              `json:"checked_at"`
}

// Failed reports whether the result counts toward the failure streak
func (r CheckResult) Failed() bool {
	return r.Status != CheckStatusUp
}

// Alert is a coalesced, threshold-driven alert
type Alert struct {
	ID             string        `json:"id"`
	Scope          AlertScope    `json:"scope"`
	TargetID       string        `json:"target_id"`
	Type           string        `json:"type"`
	Severity       AlertSeverity `json:"severity"`
	Status         AlertStatus   `json:"status"`
	Message        string        `json:"message"`
	Count          int           `json:"count"`
	FirstSeen      time.Time     `json:"first_seen"`
	LastSeen       time.Time     `json:"last_seen"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
}

// Key identifies the coalescing bucket of an alert
func (a *Alert) Key() string {
	return alertKey(a.Scope, a.TargetID, a.Type)
}

func alertKey(scope AlertScope, subject, alertType string) string {
	return string(scope) + "|" + subject + "|" + alertType
}

// MetricsBufferEntry is one typed datapoint waiting for a batch flush
type MetricsBufferEntry struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// OutcomeUpdate is what the store reports after applying a result to a target
type OutcomeUpdate struct {
	PreviousStatus CheckStatus
	Streak         int
	Threshold      int
}

// TaskSnapshot is a read-only view of a scheduler task
type TaskSnapshot struct {
	TargetID        string        `json:"target_id"`
	Interval        time.Duration `json:"interval"`
	Running         bool          `json:"running"`
	StartedAt       time.Time     `json:"started_at"`
	LastCompletedAt time.Time     `json:"last_completed_at"`
	CreatedAt       time.Time     `json:"created_at"`
	Generation      uint64        `json:"generation"`
}

// SchedulerStatus summarizes scheduler occupancy
type SchedulerStatus struct {
	ActiveTasks  int `json:"active_tasks"`
	RunningTasks int `json:"running_tasks"`
}

const (
	minTargetInterval = 10 * time.Second
	maxTargetInterval = 24 * time.Hour
	minTargetTimeout  = time.Second
	maxTargetTimeout  = 2 * time.Minute
	maxThreshold      = 100
)

// ValidateTargetSpec checks a registration or update request. Only configuration
// errors are reported here; reachability is never checked synchronously.
func ValidateTargetSpec(spec TargetSpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return NewConfigError("validate target", "name is required")
	}
	if strings.TrimSpace(spec.OwnerID) == "" {
		return NewConfigError("validate target", "owner_id is required")
	}
	u, err := url.Parse(spec.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return NewConfigError("validate target", "url must be an absolute http(s) URL: %q", spec.URL)
	}
	switch spec.Kind {
	case CheckKindUptime, CheckKindPerformance, CheckKindSecurity, CheckKindSEO:
	default:
		return NewConfigError("validate target", "unknown check kind %q", spec.Kind)
	}
	if spec.Interval < minTargetInterval || spec.Interval > maxTargetInterval {
		return NewConfigError("validate target", "interval %s out of range [%s, %s]", spec.Interval, minTargetInterval, maxTargetInterval)
	}
	if spec.Timeout < minTargetTimeout || spec.Timeout > maxTargetTimeout {
		return NewConfigError("validate target", "timeout %s out of range [%s, %s]", spec.Timeout, minTargetTimeout, maxTargetTimeout)
	}
	if spec.Timeout >= spec.Interval {
		return NewConfigError("validate target", "timeout %s must be shorter than interval %s", spec.Timeout, spec.Interval)
	}
	if spec.FailureThreshold < 0 || spec.FailureThreshold > maxThreshold {
		return NewConfigError("validate target", "failure_threshold must be within [1, %d]", maxThreshold)
	}
	if spec.Config == nil {
		return nil
	}
	if spec.Config.Kind() != spec.Kind {
		return NewConfigError("validate target", "config for %q supplied to a %q target", spec.Config.Kind(), spec.Kind)
	}
	if err := spec.Config.Validate(); err != nil {
		return fmt.Errorf("validate target: %w", err)
	}
	return nil
}

// applySpec copies a validated spec onto a target, replacing every
// caller-controlled field.
func (t *MonitorTarget) applySpec(spec TargetSpec, defaultThreshold int) {
	t.OwnerID = spec.OwnerID
	t.Name = spec.Name
	t.URL = spec.URL
	t.Kind = spec.Kind
	t.Interval = spec.Interval
	t.Timeout = spec.Timeout
	t.FailureThreshold = spec.FailureThreshold
	if t.FailureThreshold == 0 {
		t.FailureThreshold = defaultThreshold
	}
	t.Config = spec.Config
	if t.Config == nil {
		t.Config = DefaultCheckConfig(spec.Kind)
	}
}
