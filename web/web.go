package web

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/site-monitor/core"
)

// WebHandler handles web interface requests
type WebHandler struct {
	app *core.App
}

// NewWebHandler creates a new web handler
func NewWebHandler(app *core.App) *WebHandler {
	return &WebHandler{app: app}
}

// DashboardData represents dashboard data
type DashboardData struct {
	Title       string       `json:"title"`
	Overall     string       `json:"overall"`
	Stats       Stats        `json:"stats"`
	Targets     []TargetInfo `json:"targets"`
	Alerts      []AlertInfo  `json:"alerts"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Stats summarizes the engine for the dashboard header
type Stats struct {
	Active       int     `json:"active"`
	Paused       int     `json:"paused"`
	Running      int     `json:"running"`
	Down         int     `json:"down"`
	OpenAlerts   int     `json:"open_alerts"`
	ProcessRSSMB float64 `json:"process_rss_mb"`
}

// TargetInfo represents target information for web display
type TargetInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	LastStatus  string `json:"last_status"`
	Failures    int    `json:"failures"`
	Interval    string `json:"interval"`
	LastChecked string `json:"last_checked"`
}

// AlertInfo represents an unresolved alert for web display
type AlertInfo struct {
	ID       string `json:"id"`
	Subject  string `json:"subject"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Status   string `json:"status"`
	Count    int    `json:"count"`
	Since    string `json:"since"`
}

var dashboardTemplate = template.Must(template.New("dashboard.html").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta http-equiv="refresh" content="30">
    <title>{{.Title}}</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        table { border-collapse: collapse; width: 100%; margin-bottom: 30px; }
        th, td { text-align: left; padding: 6px 10px; border-bottom: 1px solid #ddd; }
        .stat { display: inline-block; background: #f5f5f5; padding: 10px 20px; margin: 0 10px 20px 0; border-radius: 5px; }
        .up { color: #2e7d32; } .down, .timeout, .error { color: #c62828; }
        .healthy { background: #e8f5e9; } .degraded { background: #fff8e1; } .critical { background: #ffebee; }
    </style>
</head>
<body>
    <h1>{{.Title}}</h1>
    <div class="stat {{.Overall}}">health: <strong>{{.Overall}}</strong></div>
    <div class="stat">active: <strong>{{.Stats.Active}}</strong></div>
    <div class="stat">paused: <strong>{{.Stats.Paused}}</strong></div>
    <div class="stat">running: <strong>{{.Stats.Running}}</strong></div>
    <div class="stat">failing: <strong>{{.Stats.Down}}</strong></div>
    <div class="stat">open alerts: <strong>{{.Stats.OpenAlerts}}</strong></div>

    <h2>Targets</h2>
    <table>
        <tr><th>Name</th><th>URL</th><th>Kind</th><th>Status</th><th>Last result</th><th>Failures</th><th>Interval</th><th>Last checked</th></tr>
        {{range .Targets}}
        <tr>
            <td>{{.Name}}</td><td>{{.URL}}</td><td>{{.Kind}}</td><td>{{.Status}}</td>
            <td class="{{.LastStatus}}">{{.LastStatus}}</td><td>{{.Failures}}</td><td>{{.Interval}}</td><td>{{.LastChecked}}</td>
        </tr>
        {{else}}
        <tr><td colspan="8">No targets registered</td></tr>
        {{end}}
    </table>

    <h2>Alerts</h2>
    <table>
        <tr><th>Subject</th><th>Type</th><th>Severity</th><th>Status</th><th>Count</th><th>Since</th></tr>
        {{range .Alerts}}
        <tr><td>{{.Subject}}</td><td>{{.Type}}</td><td>{{.Severity}}</td><td>{{.Status}}</td><td>{{.Count}}</td><td>{{.Since}}</td></tr>
        {{else}}
        <tr><td colspan="6">No open alerts</td></tr>
        {{end}}
    </table>
    <p><small>Generated at {{.GeneratedAt.Format "2006-01-02 15:04:05"}}</small></p>
</body>
</html>`))

// SetupWebRoutes configures web interface routes
func SetupWebRoutes(router *gin.Engine, app *core.App) {
	webHandler := NewWebHandler(app)
	router.SetHTMLTemplate(dashboardTemplate)

	router.GET("/dashboard", webHandler.Dashboard)
	router.GET("/api/dashboard", webHandler.GetDashboardData)
}

// Dashboard renders the dashboard page
func (h *WebHandler) Dashboard(c *gin.Context) {
	data, err := h.prepareDashboardData(c.Request.Context())
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to load dashboard: %v", err)
		return
	}
	c.HTML(http.StatusOK, "dashboard.html", data)
}

// GetDashboardData returns the dashboard data as JSON
func (h *WebHandler) GetDashboardData(c *gin.Context) {
	data, err := h.prepareDashboardData(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, data)
}

// prepareDashboardData prepares dashboard data
func (h *WebHandler) prepareDashboardData(ctx context.Context) (DashboardData, error) {
	targets, err := h.app.ListTargets(ctx, core.TargetStatusActive, core.TargetStatusPaused)
	if err != nil {
		return DashboardData{}, err
	}
	now := time.Now()

	var stats Stats
	infos := make([]TargetInfo, 0, len(targets))
	for _, t := range targets {
		switch t.Status {
		case core.TargetStatusActive:
			stats.Active++
		case core.TargetStatusPaused:
			stats.Paused++
		}
		if t.LastStatus != "" && t.LastStatus != core.CheckStatusUp {
			stats.Down++
		}
		checked := "never"
		if t.LastCheckAt != nil {
			checked = formatAge(now.Sub(*t.LastCheckAt)) + " ago"
		}
		infos = append(infos, TargetInfo{
			ID:          t.ID,
			Name:        t.Name,
			URL:         t.URL,
			Kind:        string(t.Kind),
			Status:      string(t.Status),
			LastStatus:  string(t.LastStatus),
			Failures:    t.ConsecutiveFailures,
			Interval:    t.Interval.String(),
			LastChecked: checked,
		})
	}
	// failing targets first, then by name
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].Failures != infos[j].Failures {
			return infos[i].Failures > infos[j].Failures
		}
		return infos[i].Name < infos[j].Name
	})

	active, _ := h.app.ListAlerts()
	alerts := make([]AlertInfo, 0, len(active))
	for _, a := range active {
		alerts = append(alerts, AlertInfo{
			ID:       a.ID,
			Subject:  a.TargetID,
			Type:     a.Type,
			Severity: string(a.Severity),
			Status:   string(a.Status),
			Count:    a.Count,
			Since:    formatAge(now.Sub(a.FirstSeen)),
		})
	}
	stats.OpenAlerts = len(alerts)
	stats.Running = h.app.GetStatus().RunningTasks

	report := h.app.GetHealthReport(ctx)
	stats.ProcessRSSMB = report.ResourceStats.ProcessRSSMB

	return DashboardData{
		Title:       "站点监控 - Site Monitor",
		Overall:     string(report.Overall),
		Stats:       stats,
		Targets:     infos,
		Alerts:      alerts,
		GeneratedAt: now,
	}, nil
}

// formatAge formats duration into human readable string
func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	days := int(d.Hours() / 24)
	hours := d.Hours() - float64(days*24)
	if hours > 0.1 {
		return fmt.Sprintf("%dd%.1fh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}
