package core

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor() *HTTPExecutor {
	return NewHTTPExecutor(ExecutorConfig{UserAgent: "site-monitor-test"}, ExecutorOptions{})
}

func targetFor(url string, kind CheckKind, cfg CheckConfig) MonitorTarget {
	target := testTarget("t1", testEpoch)
	target.URL = url
	target.Kind = kind
	target.Config = cfg
	target.Timeout = 5 * time.Second
	return target
}

func TestExecute_UptimeUp(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	result := newTestExecutor().Execute(context.Background(), targetFor(srv.URL, CheckKindUptime, nil))

	assert.Equal(t, CheckStatusUp, result.Status)
	require.NotNil(t, result.StatusCode)
	assert.Equal(t, http.StatusOK, *result.StatusCode)
	require.NotNil(t, result.ResponseTimeMS)
	assert.GreaterOrEqual(t, *result.ResponseTimeMS, int64(0))
	assert.Contains(t, result.Details, "timings")
	assert.Empty(t, result.Error)
	assert.Equal(t, "site-monitor-test", gotUA)
}

func TestExecute_UptimeDownOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	result := newTestExecutor().Execute(context.Background(), targetFor(srv.URL, CheckKindUptime, UptimeConfig{}))

	assert.Equal(t, CheckStatusDown, result.Status)
	assert.Equal(t, ErrKindHTTPStatus, result.ErrorKind)
	assert.Equal(t, http.StatusServiceUnavailable, *result.StatusCode)
}

func TestExecute_ExpectedStatusOverridesRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	result := newTestExecutor().Execute(context.Background(),
		targetFor(srv.URL, CheckKindUptime, UptimeConfig{ExpectedStatus: []int{404}}))
	assert.Equal(t, CheckStatusUp, result.Status)
}

func TestExecute_DisableRedirectsReportsFirstHop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusFound)
			return
		}
		fmt.Fprint(w, "new")
	}))
	defer srv.Close()

	exec := newTestExecutor()
	followed := exec.Execute(context.Background(), targetFor(srv.URL+"/old", CheckKindUptime, UptimeConfig{}))
	assert.Equal(t, http.StatusOK, *followed.StatusCode)
	assert.Equal(t, srv.URL+"/new", followed.Details["final_url"])

	pinned := exec.Execute(context.Background(),
		targetFor(srv.URL+"/old", CheckKindUptime, UptimeConfig{DisableRedirects: true, ExpectedStatus: []int{200}}))
	assert.Equal(t, http.StatusFound, *pinned.StatusCode)
	assert.Equal(t, CheckStatusDown, pinned.Status)
}

func TestExecute_TimeoutBecomesTimeoutStatus(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-done:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(done)

	target := targetFor(srv.URL, CheckKindUptime, nil)
	target.Timeout = 50 * time.Millisecond
	result := newTestExecutor().Execute(context.Background(), target)

	assert.Equal(t, CheckStatusTimeout, result.Status)
	assert.Equal(t, ErrKindNetworkTimeout, result.ErrorKind)
	assert.NotEmpty(t, result.Error)
}

func TestExecute_ConnectionRefusedIsDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	result := newTestExecutor().Execute(context.Background(), targetFor(url, CheckKindUptime, nil))
	assert.Equal(t, CheckStatusDown, result.Status)
	assert.Equal(t, ErrKindConnectionFailure, result.ErrorKind)
	assert.Nil(t, result.StatusCode)
}

type panickingStrategy struct{}

func (panickingStrategy) Kind() CheckKind             { return CheckKindUptime }
func (panickingStrategy) BodyLimit(CheckConfig) int64 { return 0 }
func (panickingStrategy) Evaluate(*ProbeResponse, CheckConfig) (CheckStatus, map[string]interface{}, error) {
	panic("boom")
}

func TestExecute_StrategyPanicIsContained(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	exec := NewHTTPExecutor(ExecutorConfig{}, ExecutorOptions{Strategies: []CheckStrategy{panickingStrategy{}}})
	result := exec.Execute(context.Background(), targetFor(srv.URL, CheckKindUptime, nil))

	assert.Equal(t, CheckStatusError, result.Status)
	assert.Equal(t, ErrKindCheckInternal, result.ErrorKind)
	assert.Contains(t, result.Error, "boom")
}

func TestExecute_UnknownKindIsInternalError(t *testing.T) {
	exec := NewHTTPExecutor(ExecutorConfig{}, ExecutorOptions{Strategies: []CheckStrategy{UptimeStrategy{}}})
	result := exec.Execute(context.Background(), targetFor("http://127.0.0.1:1", CheckKindSEO, nil))
	assert.Equal(t, CheckStatusError, result.Status)
	assert.Equal(t, ErrKindCheckInternal, result.ErrorKind)
}

func TestPerformanceGrade(t *testing.T) {
	tests := []struct {
		ms    int64
		grade string
	}{
		{0, "A"}, {450, "A"}, {500, "A"}, {501, "B"}, {1000, "B"},
		{1500, "C"}, {2000, "C"}, {2500, "D"}, {3000, "D"}, {3001, "F"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.grade, PerformanceGrade(tt.ms), "%dms", tt.ms)
	}
}

func TestPerformanceStrategy_Budget(t *testing.T) {
	probe := &ProbeResponse{StatusCode: 200, Timings: PhaseTimings{Total: 2500}}

	status, details, err := PerformanceStrategy{}.Evaluate(probe, PerformanceConfig{BudgetMS: 1000})
	require.NoError(t, err)
	assert.Equal(t, CheckStatusUp, status)
	assert.Equal(t, "D", details["grade"])
	assert.Equal(t, false, details["within_budget"])

	_, details, _ = PerformanceStrategy{}.Evaluate(&ProbeResponse{StatusCode: 200, Timings: PhaseTimings{Total: 450}}, PerformanceConfig{})
	assert.Equal(t, "A", details["grade"])
	assert.Equal(t, true, details["within_budget"])
}

func TestExecute_PerformanceReportsPhases(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "fast")
	}))
	defer srv.Close()

	result := newTestExecutor().Execute(context.Background(), targetFor(srv.URL, CheckKindPerformance, PerformanceConfig{}))
	require.Equal(t, CheckStatusUp, result.Status)
	timings, ok := result.Details["timings"].(map[string]interface{})
	require.True(t, ok)
	for _, phase := range []string{"dns", "tcp", "tls", "ttfb", "download", "total"} {
		assert.Contains(t, timings, phase)
	}
	assert.Contains(t, []string{"A", "B"}, result.Details["grade"])
}

func TestExecute_SecurityHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
	}))
	defer srv.Close()

	result := newTestExecutor().Execute(context.Background(), targetFor(srv.URL, CheckKindSecurity, SecurityConfig{}))
	require.Equal(t, CheckStatusUp, result.Status)

	headers := result.Details["headers"].(map[string]bool)
	assert.True(t, headers["X-Frame-Options"])
	assert.True(t, headers["X-Xss-Protection"])
	assert.False(t, headers["Strict-Transport-Security"])
	assert.Equal(t, 0.75, result.Details["score"])
	assert.Equal(t, []string{"Strict-Transport-Security"}, result.Details["missing"])
	assert.Equal(t, false, result.Details["https"])
}

func TestSecurityStrategy_RequiredHeadersNarrowScore(t *testing.T) {
	probe := &ProbeResponse{StatusCode: 200, Header: http.Header{"X-Frame-Options": {"SAMEORIGIN"}}}
	_, details, err := SecurityStrategy{}.Evaluate(probe, SecurityConfig{RequiredHeaders: []string{"x-frame-options"}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, details["score"])
	assert.Empty(t, details["missing"])
}

func TestExecute_SEOInspectsMarkup(t *testing.T) {
	page := `<!doctype html><html><head>
		<title> Example Shop </title>
		<meta name="Description" content="Everything you need">
		<meta name="robots" content="index,follow">
		</head><body><h1>Welcome <em>home</em></h1><h1>second</h1></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	result := newTestExecutor().Execute(context.Background(), targetFor(srv.URL, CheckKindSEO, SEOConfig{}))
	require.Equal(t, CheckStatusUp, result.Status)
	assert.Equal(t, "Example Shop", result.Details["title"])
	assert.Equal(t, "Everything you need", result.Details["meta_description"])
	assert.Equal(t, "Welcome home", result.Details["h1"])
	assert.Equal(t, "index,follow", result.Details["robots"])
	assert.Equal(t, true, result.Details["has_h1"])
}

func TestSEOStrategy_TruncatedBody(t *testing.T) {
	body := "<html><head><title>Cut</title></head><body>" + strings.Repeat("x", 4096) + "<h1>late</h1>"
	probe := &ProbeResponse{StatusCode: 200, Body: []byte(body[:60])}

	_, details, err := SEOStrategy{}.Evaluate(probe, SEOConfig{MaxBodyBytes: 60})
	require.NoError(t, err)
	assert.Equal(t, "Cut", details["title"])
	assert.Equal(t, false, details["has_h1"])
	assert.Equal(t, false, details["has_meta_description"])
}
