package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/site-monitor/core"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	app    *core.App
	engine *gin.Engine
	site   *httptest.Server
}

func newAPIFixture(t *testing.T, web core.WebConfig) *apiFixture {
	t.Helper()
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><head><title>ok</title></head></html>"))
	}))
	t.Cleanup(site.Close)

	config := core.GetDefaultConfig()
	config.Storage.Path = filepath.Join(t.TempDir(), "api.db")
	app, err := core.NewApp(config, core.AppOptions{Notifiers: map[string]core.Notifier{}})
	require.NoError(t, err)
	require.NoError(t, app.Initialize(context.Background()))
	t.Cleanup(func() { app.Stop() })

	return &apiFixture{app: app, engine: NewRouter(app, web).GetEngine(), site: site}
}

func unlimited() core.WebConfig { return core.WebConfig{} }

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var resp APIResponse
	if w.Code != http.StatusNoContent && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (f *apiFixture) targetRequest(name string) TargetRequest {
	return TargetRequest{
		OwnerID:         "owner-1",
		Name:            name,
		URL:             f.site.URL,
		Kind:            "uptime",
		IntervalSeconds: 60,
		TimeoutSeconds:  5,
	}
}

// create registers a target and returns its id
func (f *apiFixture) create(t *testing.T, name string) string {
	t.Helper()
	w, resp := f.do(t, http.MethodPost, "/v1/targets", f.targetRequest(name))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := resp.Data.(map[string]interface{})
	return data["id"].(string)
}

func TestTargets_CreateGetList(t *testing.T) {
	f := newAPIFixture(t, unlimited())
	id := f.create(t, "home")

	w, resp := f.do(t, http.MethodGet, "/v1/targets/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, KindTarget, resp.Kind)
	assert.Equal(t, APIVersion, resp.APIVersion)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "home", data["name"])
	assert.Equal(t, "active", data["status"])
	assert.EqualValues(t, 60, data["interval_seconds"])
	assert.EqualValues(t, 3, data["failure_threshold"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	f.create(t, "blog")
	w, resp = f.do(t, http.MethodGet, "/v1/targets?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, KindTargetList, resp.Kind)
	assert.Equal(t, 2, resp.Metadata.Total)
	assert.Len(t, resp.Data, 1)
	assert.Contains(t, resp.Metadata.Links, "next")
}

func TestTargets_CreateValidation(t *testing.T) {
	f := newAPIFixture(t, unlimited())

	tests := []struct {
		name   string
		mutate func(r *TargetRequest)
	}{
		{"missing name", func(r *TargetRequest) { r.Name = "" }},
		{"unknown kind", func(r *TargetRequest) { r.Kind = "ping" }},
		{"timeout not below interval", func(r *TargetRequest) { r.TimeoutSeconds = 60 }},
		{"bad url", func(r *TargetRequest) { r.URL = "mailto:ops@example.com" }},
		{"config for wrong kind", func(r *TargetRequest) { r.Config = json.RawMessage(`{"budget_ms":"fast"}`); r.Kind = "performance" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.targetRequest("x")
			tt.mutate(&req)
			w, resp := f.do(t, http.MethodPost, "/v1/targets", req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, KindError, resp.Kind)
			require.NotEmpty(t, resp.Errors)
			assert.Equal(t, ErrorCodeValidation, resp.Errors[0].Code)
		})
	}
}

func TestTargets_NotFound(t *testing.T) {
	f := newAPIFixture(t, unlimited())

	w, resp := f.do(t, http.MethodGet, "/v1/targets/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrorCodeNotFound, resp.Errors[0].Code)

	w, _ = f.do(t, http.MethodPost, "/v1/targets/missing/check", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTargets_RunCheckAndResults(t *testing.T) {
	f := newAPIFixture(t, unlimited())
	id := f.create(t, "shop")

	w, resp := f.do(t, http.MethodPost, "/v1/targets/"+id+"/check", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, KindCheckResult, resp.Kind)
	assert.Equal(t, "up", resp.Data.(map[string]interface{})["status"])

	w, resp = f.do(t, http.MethodGet, "/v1/targets/"+id+"/results", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data, 1)

	w, resp = f.do(t, http.MethodGet, "/v1/targets/"+id+"/summary?window=1h", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := resp.Data.(map[string]interface{})
	assert.EqualValues(t, 1, summary["total"])
	assert.EqualValues(t, 100, summary["uptime_percent"])

	w, _ = f.do(t, http.MethodGet, "/v1/targets/"+id+"/summary?window=soon", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTargets_Lifecycle(t *testing.T) {
	f := newAPIFixture(t, unlimited())
	id := f.create(t, "docs")

	w, resp := f.do(t, http.MethodPost, "/v1/targets/"+id+"/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "paused", resp.Data.(map[string]interface{})["status"])

	w, resp = f.do(t, http.MethodGet, "/v1/targets?filter=status=paused", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, resp.Metadata.Total)

	w, resp = f.do(t, http.MethodPost, "/v1/targets/"+id+"/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "active", resp.Data.(map[string]interface{})["status"])

	replacement := f.targetRequest("docs")
	replacement.Kind = "performance"
	replacement.Config = json.RawMessage(`{"budget_ms":900}`)
	w, resp = f.do(t, http.MethodPut, "/v1/targets/"+id, replacement)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "performance", data["kind"])
	assert.EqualValues(t, 900, data["config"].(map[string]interface{})["budget_ms"])

	w, _ = f.do(t, http.MethodDelete, "/v1/targets/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w, _ = f.do(t, http.MethodGet, "/v1/targets/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = f.do(t, http.MethodGet, "/v1/targets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, resp.Metadata.Total)

	w, _ = f.do(t, http.MethodGet, "/v1/targets?filter=owner=me", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAlerts_ListAndAck(t *testing.T) {
	f := newAPIFixture(t, unlimited())

	w, resp := f.do(t, http.MethodGet, "/v1/alerts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Empty(t, data["active"])
	assert.Empty(t, data["history"])

	w, _ = f.do(t, http.MethodPost, "/v1/alerts/nope/ack", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSystem_StatusHealthMetrics(t *testing.T) {
	f := newAPIFixture(t, unlimited())
	f.create(t, "status")

	w, resp := f.do(t, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := resp.Data.(map[string]interface{})
	assert.EqualValues(t, 1, status["scheduler"].(map[string]interface{})["active_tasks"])
	assert.EqualValues(t, 1, status["targets"].(map[string]interface{})["active"])

	w, resp = f.do(t, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, KindHealth, resp.Kind)
	assert.Equal(t, true, resp.Data.(map[string]interface{})["store_reachable"])

	w, resp = f.do(t, http.MethodGet, "/v1/storage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sqlite", resp.Data.(map[string]interface{})["type"])

	w, _ = f.do(t, http.MethodGet, "/v1/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "site_monitor_running_checks")
}

func TestMiddleware_RateLimit(t *testing.T) {
	f := newAPIFixture(t, core.WebConfig{RateLimit: 0.001, RateBurst: 2})

	for i := 0; i < 2; i++ {
		w, _ := f.do(t, http.MethodGet, "/v1/alerts", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, resp := f.do(t, http.MethodGet, "/v1/alerts", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, ErrorCodeRateLimited, resp.Errors[0].Code)
}

func TestMiddleware_ContentType(t *testing.T) {
	f := newAPIFixture(t, unlimited())
	req := httptest.NewRequest(http.MethodPost, "/v1/targets", strings.NewReader("name=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvents_StreamDeliversCheckEvents(t *testing.T) {
	f := newAPIFixture(t, unlimited())
	id := f.create(t, "stream")

	srv := httptest.NewServer(f.engine)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events?type=check_completed"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// the subscription is registered after the upgrade; keep triggering
	// checks until one is observed
	received := make(chan core.Event, 1)
	go func() {
		var ev core.Event
		if err := conn.ReadJSON(&ev); err == nil {
			received <- ev
		}
	}()

	deadline := time.After(5 * time.Second)
	for {
		resp, err := http.Post(fmt.Sprintf("%s/v1/targets/%s/check", srv.URL, id), "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()

		select {
		case ev := <-received:
			assert.Equal(t, core.EventCheckCompleted, ev.Type)
			assert.Equal(t, id, ev.TargetID)
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}

func TestEvents_RejectsUnknownType(t *testing.T) {
	f := newAPIFixture(t, unlimited())
	w, _ := f.do(t, http.MethodGet, "/v1/events?type=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvents_OriginCheck(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string // "self" means the server's own origin
		accept  bool
	}{
		{name: "no origin header", origin: "", accept: true},
		{name: "same origin", origin: "self", accept: true},
		{name: "foreign origin rejected", origin: "http://evil.example", accept: false},
		{name: "configured origin", allowed: []string{"https://dash.example.com"}, origin: "https://dash.example.com", accept: true},
		{name: "other origin with list", allowed: []string{"https://dash.example.com"}, origin: "https://other.example.com", accept: false},
		{name: "wildcard", allowed: []string{"*"}, origin: "http://evil.example", accept: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, core.WebConfig{AllowedOrigins: tt.allowed})
			srv := httptest.NewServer(f.engine)
			defer srv.Close()

			header := http.Header{}
			switch tt.origin {
			case "":
			case "self":
				header.Set("Origin", srv.URL)
			default:
				header.Set("Origin", tt.origin)
			}
			wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
			if tt.accept {
				require.NoError(t, err)
				conn.Close()
				return
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestMiddleware_CORSFollowsAllowedOrigins(t *testing.T) {
	f := newAPIFixture(t, core.WebConfig{AllowedOrigins: []string{"https://dash.example.com"}})

	for origin, want := range map[string]string{
		"https://dash.example.com": "https://dash.example.com",
		"https://evil.example":     "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		f.engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, origin)
		assert.Equal(t, want, w.Header().Get("Access-Control-Allow-Origin"), origin)
	}
}
