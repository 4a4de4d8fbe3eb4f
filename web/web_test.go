package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/site-monitor/core"
)

func newDashboard(t *testing.T) (*gin.Engine, *core.App) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	config := core.GetDefaultConfig()
	config.Storage.Path = filepath.Join(t.TempDir(), "web.db")
	app, err := core.NewApp(config, core.AppOptions{Notifiers: map[string]core.Notifier{}})
	require.NoError(t, err)
	require.NoError(t, app.Initialize(context.Background()))
	t.Cleanup(func() { app.Stop() })

	engine := gin.New()
	SetupWebRoutes(engine, app)
	return engine, app
}

func TestDashboard_RendersTargets(t *testing.T) {
	engine, app := newDashboard(t)
	_, err := app.RegisterTarget(context.Background(), core.TargetSpec{
		OwnerID:  "owner-1",
		Name:     "Storefront",
		URL:      "https://shop.example.com",
		Kind:     core.CheckKindUptime,
		Interval: time.Minute,
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Storefront")
	assert.Contains(t, w.Body.String(), "No open alerts")

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var data DashboardData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &data))
	assert.Equal(t, 1, data.Stats.Active)
	require.Len(t, data.Targets, 1)
	assert.Equal(t, "never", data.Targets[0].LastChecked)
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{-time.Second, "0s"},
		{42 * time.Second, "42s"},
		{5 * time.Minute, "5m"},
		{90 * time.Minute, "1.5h"},
		{48 * time.Hour, "2d"},
		{50 * time.Hour, "2d2.0h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatAge(tt.in))
	}
}
