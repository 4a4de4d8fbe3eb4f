package core

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultMaxRedirects = 10
	// drainLimit bounds how much of a body is read just to time the download
	drainLimit int64 = 4 << 20
)

// ProbeResponse is what the base probe hands to a check strategy
type ProbeResponse struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	TLS        bool
	Timings    PhaseTimings
}

// PhaseTimings is the network-phase breakdown of a probe, in milliseconds
type PhaseTimings struct {
	DNS      int64 `json:"dns_ms"`
	TCP      int64 `json:"tcp_ms"`
	TLS      int64 `json:"tls_ms"`
	TTFB     int64 `json:"ttfb_ms"`
	Download int64 `json:"download_ms"`
	Total    int64 `json:"total_ms"`
}

func (t PhaseTimings) asMap() map[string]interface{} {
	return map[string]interface{}{
		"dns_ms":      t.DNS,
		"tcp_ms":      t.TCP,
		"tls_ms":      t.TLS,
		"ttfb_ms":     t.TTFB,
		"download_ms": t.Download,
		"total_ms":    t.Total,
	}
}

// CheckStrategy inspects a completed probe for one check kind
type CheckStrategy interface {
	Kind() CheckKind
	// BodyLimit is how many body bytes the strategy needs; 0 means none
	BodyLimit(cfg CheckConfig) int64
	Evaluate(probe *ProbeResponse, cfg CheckConfig) (CheckStatus, map[string]interface{}, error)
}

// ExecutorOptions carries the collaborators of an HTTPExecutor
type ExecutorOptions struct {
	Client     *http.Client
	Clock      Clock
	Logger     *zap.Logger
	Metrics    *Instrumentation
	Strategies []CheckStrategy
}

// HTTPExecutor runs checks over HTTP
type HTTPExecutor struct {
	client     *http.Client
	limiter    *rate.Limiter
	strategies map[CheckKind]CheckStrategy
	userAgent  string
	clock      Clock
	logger     *zap.Logger
	metrics    *Instrumentation
}

type noRedirectKey struct{}

// NewHTTPExecutor creates an executor with the four built-in strategies
// unless opts.Strategies overrides them.
func NewHTTPExecutor(cfg ExecutorConfig, opts ExecutorOptions) *HTTPExecutor {
	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = defaultMaxRedirects
	}

	client := &http.Client{}
	if opts.Client != nil {
		copied := *opts.Client
		client = &copied
	}
	client.Timeout = 0 // per-check deadlines come from the context
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if disabled, _ := req.Context().Value(noRedirectKey{}).(bool); disabled {
			return http.ErrUseLastResponse
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}

	strategies := opts.Strategies
	if len(strategies) == 0 {
		strategies = []CheckStrategy{UptimeStrategy{}, PerformanceStrategy{}, SecurityStrategy{}, SEOStrategy{}}
	}

	e := &HTTPExecutor{
		client:     client,
		strategies: make(map[CheckKind]CheckStrategy, len(strategies)),
		userAgent:  cfg.UserAgent,
		clock:      opts.Clock,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
	if e.clock == nil {
		e.clock = NewRealClock()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.Named("executor")
	for _, s := range strategies {
		e.strategies[s.Kind()] = s
	}
	if cfg.MaxRequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), burst)
	}
	return e
}

// Execute runs the check for target. It never returns an error: every
// failure is folded into the result.
func (e *HTTPExecutor) Execute(ctx context.Context, target MonitorTarget) CheckResult {
	started := time.Now()
	result := CheckResult{
		TargetID:  target.ID,
		Kind:      target.Kind,
		CheckedAt: e.clock.Now(),
	}
	defer func() {
		e.metrics.observeCheck(result.Kind, result.Status, time.Since(started))
	}()

	strategy, ok := e.strategies[target.Kind]
	if !ok {
		return failResult(result, CheckStatusError, ErrKindCheckInternal, fmt.Errorf("no strategy for check kind %q", target.Kind))
	}
	cfg := target.Config
	if cfg == nil {
		cfg = DefaultCheckConfig(target.Kind)
	}

	ctx, cancel := context.WithTimeout(ctx, target.Timeout)
	defer cancel()

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return failResult(result, CheckStatusTimeout, ErrKindNetworkTimeout, fmt.Errorf("rate limiter: %w", err))
		}
	}

	if uc, ok := cfg.(UptimeConfig); ok && uc.DisableRedirects {
		ctx = context.WithValue(ctx, noRedirectKey{}, true)
	}

	probe, err := e.probe(ctx, target.URL, strategy.BodyLimit(cfg))
	if probe != nil {
		rt := probe.Timings.Total
		result.ResponseTimeMS = &rt
		result.Details = map[string]interface{}{"timings": probe.Timings.asMap()}
		if probe.StatusCode != 0 {
			code := probe.StatusCode
			result.StatusCode = &code
		}
	}
	if err != nil {
		status, kind := classifyProbeError(err)
		e.logger.Debug("probe failed",
			zap.String("target_id", target.ID), zap.String("url", target.URL), zap.Error(err))
		return failResult(result, status, kind, err)
	}

	status, details, err := e.evaluate(strategy, probe, cfg)
	for k, v := range details {
		result.Details[k] = v
	}
	if err != nil {
		e.logger.Warn("check strategy failed",
			zap.String("target_id", target.ID), zap.String("kind", string(target.Kind)), zap.Error(err))
		return failResult(result, CheckStatusError, ErrKindCheckInternal, err)
	}
	result.Status = status
	if status == CheckStatusDown {
		result.ErrorKind = ErrKindHTTPStatus
		result.Error = fmt.Sprintf("unexpected HTTP status %d", probe.StatusCode)
	}
	return result
}

func (e *HTTPExecutor) evaluate(s CheckStrategy, probe *ProbeResponse, cfg CheckConfig) (status CheckStatus, details map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			status, details = CheckStatusError, nil
			err = fmt.Errorf("strategy %s panicked: %v", s.Kind(), r)
		}
	}()
	return s.Evaluate(probe, cfg)
}

// probe performs the base GET. A non-nil ProbeResponse may accompany an
// error when the failure happened after headers arrived.
func (e *HTTPExecutor) probe(ctx context.Context, url string, bodyLimit int64) (*ProbeResponse, error) {
	var (
		start                                time.Time
		dnsStart, connStart, tlsStart        time.Time
		dnsDone, connDone, tlsDone, firstByte time.Time
	)
	trace := &httptrace.ClientTrace{
		DNSStart:             func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone:              func(httptrace.DNSDoneInfo) { dnsDone = time.Now() },
		ConnectStart:         func(string, string) { connStart = time.Now() },
		ConnectDone:          func(string, string, error) { connDone = time.Now() },
		TLSHandshakeStart:    func() { tlsStart = time.Now() },
		TLSHandshakeDone:     func(tls.ConnectionState, error) { tlsDone = time.Now() },
		GotFirstResponseByte: func() { firstByte = time.Now() },
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	start = time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return &ProbeResponse{URL: url, Timings: PhaseTimings{Total: time.Since(start).Milliseconds()}}, err
	}
	defer resp.Body.Close()

	probe := &ProbeResponse{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		TLS:        resp.TLS != nil,
	}

	headersAt := time.Now()
	if bodyLimit > 0 {
		probe.Body, err = io.ReadAll(io.LimitReader(resp.Body, bodyLimit))
	} else {
		_, err = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	}
	end := time.Now()

	if firstByte.IsZero() {
		firstByte = headersAt
	}
	probe.Timings = PhaseTimings{
		DNS:      span(dnsStart, dnsDone),
		TCP:      span(connStart, connDone),
		TLS:      span(tlsStart, tlsDone),
		TTFB:     span(start, firstByte),
		Download: span(firstByte, end),
		Total:    span(start, end),
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return probe, fmt.Errorf("failed to read body: %w", err)
	}
	return probe, nil
}

func span(from, to time.Time) int64 {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return 0
	}
	return to.Sub(from).Milliseconds()
}

func failResult(r CheckResult, status CheckStatus, kind ErrorKind, err error) CheckResult {
	r.Status = status
	r.ErrorKind = kind
	r.Error = err.Error()
	return r
}

// acceptedStatus reports whether code counts as up
func acceptedStatus(code int, expected []int) bool {
	if len(expected) == 0 {
		return code >= 200 && code < 400
	}
	for _, c := range expected {
		if c == code {
			return true
		}
	}
	return false
}

func httpOutcome(probe *ProbeResponse, expected []int) CheckStatus {
	if acceptedStatus(probe.StatusCode, expected) {
		return CheckStatusUp
	}
	return CheckStatusDown
}

// UptimeStrategy reports the base probe unchanged
type UptimeStrategy struct{}

func (UptimeStrategy) Kind() CheckKind              { return CheckKindUptime }
func (UptimeStrategy) BodyLimit(CheckConfig) int64 { return 0 }

func (UptimeStrategy) Evaluate(probe *ProbeResponse, cfg CheckConfig) (CheckStatus, map[string]interface{}, error) {
	uc, _ := cfg.(UptimeConfig)
	return httpOutcome(probe, uc.ExpectedStatus), map[string]interface{}{"final_url": probe.URL}, nil
}
