package v1

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yourusername/site-monitor/core"
)

// SystemHandler serves engine status, health and metrics
type SystemHandler struct {
	app       *core.App
	startedAt time.Time
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(app *core.App) *SystemHandler {
	return &SystemHandler{app: app, startedAt: time.Now()}
}

// GetStatus reports scheduler occupancy and target counts
func (h *SystemHandler) GetStatus(c *gin.Context) {
	targets, err := h.app.ListTargets(c.Request.Context())
	if err != nil {
		SendInternalServerError(c, fmt.Errorf("failed to count targets: %w", err))
		return
	}
	counts := map[string]int{
		string(core.TargetStatusActive): 0,
		string(core.TargetStatusPaused): 0,
	}
	for _, t := range targets {
		if t.Status != core.TargetStatusDeleted {
			counts[string(t.Status)]++
		}
	}
	active, _ := h.app.ListAlerts()

	SendSuccess(c, KindStatus, StatusResponse{
		Scheduler: h.app.GetStatus(),
		Targets:   counts,
		Alerts:    len(active),
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// GetHealth returns the latest health report
func (h *SystemHandler) GetHealth(c *gin.Context) {
	SendSuccess(c, KindHealth, h.app.GetHealthReport(c.Request.Context()))
}

// GetDBProbe returns the latest database probe report
func (h *SystemHandler) GetDBProbe(c *gin.Context) {
	report := h.app.DBProbeReport()
	if report == nil {
		SendSuccess(c, KindDBProbe, nil)
		return
	}
	SendSuccess(c, KindDBProbe, report)
}

// GetStorage describes the store
func (h *SystemHandler) GetStorage(c *gin.Context) {
	SendSuccess(c, KindStorage, h.app.StorageInfo(c.Request.Context()))
}

// Metrics serves the Prometheus registry
func (h *SystemHandler) Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(h.app.Registry(), promhttp.HandlerOpts{}))
}
