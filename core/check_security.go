package core

import (
	"math"
	"net/http"
)

// securityHeaders are the response headers a security check inspects
var securityHeaders = []string{
	"Strict-Transport-Security",
	"Content-Security-Policy",
	"X-Frame-Options",
	"X-Xss-Protection",
}

// SecurityStrategy inspects security-relevant response headers
type SecurityStrategy struct{}

func (SecurityStrategy) Kind() CheckKind              { return CheckKindSecurity }
func (SecurityStrategy) BodyLimit(CheckConfig) int64 { return 0 }

func (SecurityStrategy) Evaluate(probe *ProbeResponse, cfg CheckConfig) (CheckStatus, map[string]interface{}, error) {
	sc, _ := cfg.(SecurityConfig)
	inspected := securityHeaders
	if len(sc.RequiredHeaders) > 0 {
		inspected = sc.RequiredHeaders
	}

	headers := make(map[string]bool, len(inspected))
	missing := []string{}
	present := 0
	for _, name := range inspected {
		name = http.CanonicalHeaderKey(name)
		ok := probe.Header.Get(name) != ""
		headers[name] = ok
		if ok {
			present++
		} else {
			missing = append(missing, name)
		}
	}

	score := 0.0
	if len(inspected) > 0 {
		score = math.Round(float64(present)/float64(len(inspected))*100) / 100
	}
	details := map[string]interface{}{
		"headers": headers,
		"score":   score,
		"missing": missing,
		"https":   probe.TLS,
	}
	return httpOutcome(probe, nil), details, nil
}
