package v1

import (
	"encoding/json"
	"time"

	"github.com/yourusername/site-monitor/core"
)

// APIVersion defines the API version
const APIVersion = "v1"

// ResponseKind defines the kind of response
type ResponseKind string

const (
	KindTargetList    ResponseKind = "TargetList"
	KindTarget        ResponseKind = "Target"
	KindCheckResult   ResponseKind = "CheckResult"
	KindResultList    ResponseKind = "CheckResultList"
	KindResultSummary ResponseKind = "ResultSummary"
	KindAlertList     ResponseKind = "AlertList"
	KindAlert         ResponseKind = "Alert"
	KindStatus        ResponseKind = "Status"
	KindHealth        ResponseKind = "HealthReport"
	KindDBProbe       ResponseKind = "DBProbeReport"
	KindStorage       ResponseKind = "StorageInfo"
	KindError         ResponseKind = "Error"
)

// ResponseMetadata provides pagination and filtering metadata
type ResponseMetadata struct {
	Total       int                    `json:"total,omitempty"`
	Limit       int                    `json:"limit,omitempty"`
	Offset      int                    `json:"offset,omitempty"`
	Filter      []string               `json:"filter,omitempty"`
	GeneratedAt time.Time              `json:"generated_at"`
	RequestID   string                 `json:"request_id,omitempty"`
	Links       map[string]string      `json:"links,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// APIError represents a standardized API error
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// APIResponse represents a standardized API response
type APIResponse struct {
	Kind       ResponseKind      `json:"kind"`
	APIVersion string            `json:"apiVersion"`
	Metadata   *ResponseMetadata `json:"metadata,omitempty"`
	Data       interface{}       `json:"data,omitempty"`
	Errors     []APIError        `json:"errors,omitempty"`
}

// QueryParams represents standardized query parameters
type QueryParams struct {
	Filter []string `form:"filter" binding:"omitempty"`
	Limit  int      `form:"limit" binding:"min=0,max=100"`
	Offset int      `form:"offset" binding:"min=0"`
}

// TargetRequest is the body of target create and replace requests.
// Durations are whole seconds.
type TargetRequest struct {
	OwnerID          string          `json:"owner_id" binding:"required"`
	Name             string          `json:"name" binding:"required"`
	URL              string          `json:"url" binding:"required"`
	Kind             string          `json:"kind" binding:"required"`
	IntervalSeconds  int             `json:"interval_seconds" binding:"required,min=1"`
	TimeoutSeconds   int             `json:"timeout_seconds" binding:"required,min=1"`
	FailureThreshold int             `json:"failure_threshold,omitempty" binding:"min=0"`
	Config           json.RawMessage `json:"config,omitempty"`
}

// toSpec converts the request into an engine target spec
func (r TargetRequest) toSpec() (core.TargetSpec, error) {
	kind := core.CheckKind(r.Kind)
	cfg, err := core.DecodeCheckConfig(kind, r.Config)
	if err != nil {
		return core.TargetSpec{}, err
	}
	return core.TargetSpec{
		OwnerID:          r.OwnerID,
		Name:             r.Name,
		URL:              r.URL,
		Kind:             kind,
		Interval:         time.Duration(r.IntervalSeconds) * time.Second,
		Timeout:          time.Duration(r.TimeoutSeconds) * time.Second,
		FailureThreshold: r.FailureThreshold,
		Config:           cfg,
	}, nil
}

// TargetResponse represents a monitored target
type TargetResponse struct {
	ID                  string           `json:"id"`
	OwnerID             string           `json:"owner_id"`
	Name                string           `json:"name"`
	URL                 string           `json:"url"`
	Kind                string           `json:"kind"`
	IntervalSeconds     int              `json:"interval_seconds"`
	TimeoutSeconds      int              `json:"timeout_seconds"`
	FailureThreshold    int              `json:"failure_threshold"`
	Config              core.CheckConfig `json:"config,omitempty"`
	Status              string           `json:"status"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	LastStatus          string           `json:"last_status,omitempty"`
	LastCheckAt         *time.Time       `json:"last_check_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

func targetToResponse(t *core.MonitorTarget) TargetResponse {
	return TargetResponse{
		ID:                  t.ID,
		OwnerID:             t.OwnerID,
		Name:                t.Name,
		URL:                 t.URL,
		Kind:                string(t.Kind),
		IntervalSeconds:     int(t.Interval / time.Second),
		TimeoutSeconds:      int(t.Timeout / time.Second),
		FailureThreshold:    t.FailureThreshold,
		Config:              t.Config,
		Status:              string(t.Status),
		ConsecutiveFailures: t.ConsecutiveFailures,
		LastStatus:          string(t.LastStatus),
		LastCheckAt:         t.LastCheckAt,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
}

// AlertsResponse groups unresolved alerts and resolved history
type AlertsResponse struct {
	Active  []core.Alert `json:"active"`
	History []core.Alert `json:"history"`
}

// StatusResponse summarizes the engine
type StatusResponse struct {
	Scheduler core.SchedulerStatus `json:"scheduler"`
	Targets   map[string]int       `json:"targets"`
	Alerts    int                  `json:"active_alerts"`
	Uptime    string               `json:"uptime"`
}
