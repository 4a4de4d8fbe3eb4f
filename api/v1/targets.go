package v1

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/site-monitor/core"
)

const defaultSummaryWindow = 24 * time.Hour

// TargetHandler handles target-related API endpoints
type TargetHandler struct {
	app *core.App
}

// NewTargetHandler creates a new target handler
func NewTargetHandler(app *core.App) *TargetHandler {
	return &TargetHandler{app: app}
}

// CreateTarget registers a new target
func (h *TargetHandler) CreateTarget(c *gin.Context) {
	var req TargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendValidationError(c, []string{err.Error()})
		return
	}
	spec, err := req.toSpec()
	if err != nil {
		SendValidationError(c, []string{err.Error()})
		return
	}

	id, err := h.app.RegisterTarget(c.Request.Context(), spec)
	if err != nil {
		SendEngineError(c, "target", "", err)
		return
	}
	target, err := h.app.GetTarget(c.Request.Context(), id)
	if err != nil {
		SendInternalServerError(c, err)
		return
	}
	SendCreated(c, KindTarget, targetToResponse(target))
}

// ListTargets returns targets with filtering and pagination.
// Deleted targets are hidden unless filter=status=deleted asks for them.
func (h *TargetHandler) ListTargets(c *gin.Context) {
	params := c.MustGet("query_params").(QueryParams)

	statuses, err := statusFilter(params.Filter)
	if err != nil {
		SendBadRequest(c, err.Error())
		return
	}
	targets, err := h.app.ListTargets(c.Request.Context(), statuses...)
	if err != nil {
		SendInternalServerError(c, fmt.Errorf("failed to list targets: %w", err))
		return
	}

	responses := make([]TargetResponse, len(targets))
	for i, t := range targets {
		responses[i] = targetToResponse(t)
	}

	total := len(responses)
	start, end := params.Offset, params.Offset+params.Limit
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	SendPaginated(c, KindTargetList, responses[start:end], total, params)
}

// statusFilter reads status=<a>[,<b>] filters
func statusFilter(filters []string) ([]core.TargetStatus, error) {
	var statuses []core.TargetStatus
	for _, f := range filters {
		key, value, ok := strings.Cut(f, "=")
		if !ok || key != "status" {
			return nil, fmt.Errorf("unsupported filter %q", f)
		}
		for _, s := range strings.Split(value, ",") {
			switch st := core.TargetStatus(strings.TrimSpace(s)); st {
			case core.TargetStatusActive, core.TargetStatusPaused, core.TargetStatusDeleted:
				statuses = append(statuses, st)
			default:
				return nil, fmt.Errorf("unknown target status %q", s)
			}
		}
	}
	if len(statuses) == 0 {
		statuses = []core.TargetStatus{core.TargetStatusActive, core.TargetStatusPaused}
	}
	return statuses, nil
}

// GetTarget returns a specific target by ID
func (h *TargetHandler) GetTarget(c *gin.Context) {
	id := c.Param("id")
	target, err := h.app.GetTarget(c.Request.Context(), id)
	if err == nil && target.Status == core.TargetStatusDeleted {
		err = core.ErrTargetNotFound
	}
	if err != nil {
		SendEngineError(c, "target", id, err)
		return
	}
	SendSuccess(c, KindTarget, targetToResponse(target))
}

// ReplaceTarget replaces a target's definition; its task is rebuilt
func (h *TargetHandler) ReplaceTarget(c *gin.Context) {
	id := c.Param("id")
	var req TargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendValidationError(c, []string{err.Error()})
		return
	}
	spec, err := req.toSpec()
	if err != nil {
		SendValidationError(c, []string{err.Error()})
		return
	}
	if err := h.app.UpdateTarget(c.Request.Context(), id, spec); err != nil {
		SendEngineError(c, "target", id, err)
		return
	}
	h.respondWithTarget(c, id)
}

// DeleteTarget soft-deletes a target
func (h *TargetHandler) DeleteTarget(c *gin.Context) {
	id := c.Param("id")
	if err := h.app.RemoveTarget(c.Request.Context(), id); err != nil {
		SendEngineError(c, "target", id, err)
		return
	}
	SendNoContent(c)
}

// PauseTarget stops scheduling a target
func (h *TargetHandler) PauseTarget(c *gin.Context) {
	id := c.Param("id")
	if err := h.app.PauseTarget(c.Request.Context(), id); err != nil {
		SendEngineError(c, "target", id, err)
		return
	}
	h.respondWithTarget(c, id)
}

// ResumeTarget schedules a paused target again
func (h *TargetHandler) ResumeTarget(c *gin.Context) {
	id := c.Param("id")
	if err := h.app.ResumeTarget(c.Request.Context(), id); err != nil {
		SendEngineError(c, "target", id, err)
		return
	}
	h.respondWithTarget(c, id)
}

// RunCheck executes a check immediately and returns its result
func (h *TargetHandler) RunCheck(c *gin.Context) {
	id := c.Param("id")
	result, err := h.app.RunCheckNow(c.Request.Context(), id)
	if err != nil {
		SendEngineError(c, "target", id, err)
		return
	}
	SendSuccess(c, KindCheckResult, result)
}

// ListResults returns the newest results of a target
func (h *TargetHandler) ListResults(c *gin.Context) {
	id := c.Param("id")
	params := c.MustGet("query_params").(QueryParams)
	if _, err := h.app.GetTarget(c.Request.Context(), id); err != nil {
		SendEngineError(c, "target", id, err)
		return
	}
	results, err := h.app.ListResults(c.Request.Context(), id, params.Limit)
	if err != nil {
		SendInternalServerError(c, err)
		return
	}
	if results == nil {
		results = []core.CheckResult{}
	}
	SendPaginated(c, KindResultList, results, len(results), params)
}

// GetSummary aggregates results over ?window= (default 24h)
func (h *TargetHandler) GetSummary(c *gin.Context) {
	id := c.Param("id")
	window := defaultSummaryWindow
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			SendBadRequest(c, "Invalid window: "+raw)
			return
		}
		window = d
	}
	if _, err := h.app.GetTarget(c.Request.Context(), id); err != nil {
		SendEngineError(c, "target", id, err)
		return
	}
	summary, err := h.app.ResultSummary(c.Request.Context(), id, window)
	if err != nil {
		SendInternalServerError(c, err)
		return
	}
	SendSuccess(c, KindResultSummary, summary)
}

func (h *TargetHandler) respondWithTarget(c *gin.Context, id string) {
	target, err := h.app.GetTarget(c.Request.Context(), id)
	if err != nil {
		SendEngineError(c, "target", id, err)
		return
	}
	SendSuccess(c, KindTarget, targetToResponse(target))
}
