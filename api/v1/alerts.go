package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/yourusername/site-monitor/core"
)

// AlertHandler handles alert endpoints
type AlertHandler struct {
	app *core.App
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(app *core.App) *AlertHandler {
	return &AlertHandler{app: app}
}

// ListAlerts returns unresolved alerts and the resolved history
func (h *AlertHandler) ListAlerts(c *gin.Context) {
	active, history := h.app.ListAlerts()
	if active == nil {
		active = []core.Alert{}
	}
	if history == nil {
		history = []core.Alert{}
	}
	SendSuccess(c, KindAlertList, AlertsResponse{Active: active, History: history})
}

// AcknowledgeAlert marks an alert as seen; it stays unresolved
func (h *AlertHandler) AcknowledgeAlert(c *gin.Context) {
	id := c.Param("id")
	alert, err := h.app.AcknowledgeAlert(c.Request.Context(), id)
	if err != nil {
		SendEngineError(c, "alert", id, err)
		return
	}
	SendSuccess(c, KindAlert, alert)
}
