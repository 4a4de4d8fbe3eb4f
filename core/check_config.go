package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// CheckConfig is the kind-specific configuration of a target. Exactly one
// variant exists per CheckKind.
type CheckConfig interface {
	Kind() CheckKind
	Validate() error
}

// UptimeConfig configures an uptime check
type UptimeConfig struct {
	// ExpectedStatus overrides the default 2xx-3xx success range when non-empty
	ExpectedStatus []int `json:"expected_status,omitempty" yaml:"expected_status,omitempty"`
	// DisableRedirects reports the first response instead of following redirects
	DisableRedirects bool `json:"disable_redirects,omitempty" yaml:"disable_redirects,omitempty"`
}

// PerformanceConfig configures a performance check
type PerformanceConfig struct {
	// BudgetMS flags results slower than the budget; 0 disables the budget
	BudgetMS int `json:"budget_ms,omitempty" yaml:"budget_ms,omitempty"`
}

// SecurityConfig configures a security header check
type SecurityConfig struct {
	// RequiredHeaders narrows the inspected headers; empty inspects all of them
	RequiredHeaders []string `json:"required_headers,omitempty" yaml:"required_headers,omitempty"`
}

// SEOConfig configures a markup inspection check
type SEOConfig struct {
	MaxBodyBytes int64 `json:"max_body_bytes,omitempty" yaml:"max_body_bytes,omitempty"`
}

const defaultSEOBodyLimit int64 = 1 << 20

func (UptimeConfig) Kind() CheckKind      { return CheckKindUptime }
func (PerformanceConfig) Kind() CheckKind { return CheckKindPerformance }
func (SecurityConfig) Kind() CheckKind    { return CheckKindSecurity }
func (SEOConfig) Kind() CheckKind         { return CheckKindSEO }

func (c UptimeConfig) Validate() error {
	for _, code := range c.ExpectedStatus {
		if code < 100 || code > 599 {
			return NewConfigError("uptime config", "expected status %d is not an HTTP status", code)
		}
	}
	return nil
}

func (c PerformanceConfig) Validate() error {
	if c.BudgetMS < 0 {
		return NewConfigError("performance config", "budget_ms must not be negative")
	}
	return nil
}

func (c SecurityConfig) Validate() error {
	for _, h := range c.RequiredHeaders {
		if !isInspectedSecurityHeader(h) {
			return NewConfigError("security config", "header %q is not inspected", h)
		}
	}
	return nil
}

func (c SEOConfig) Validate() error {
	if c.MaxBodyBytes < 0 || c.MaxBodyBytes > 16<<20 {
		return NewConfigError("seo config", "max_body_bytes must be within [0, 16MiB]")
	}
	return nil
}

func (c SEOConfig) bodyLimit() int64 {
	if c.MaxBodyBytes == 0 {
		return defaultSEOBodyLimit
	}
	return c.MaxBodyBytes
}

func isInspectedSecurityHeader(name string) bool {
	canonical := http.CanonicalHeaderKey(name)
	for _, h := range securityHeaders {
		if h == canonical {
			return true
		}
	}
	return false
}

// DefaultCheckConfig returns the zero configuration for a kind
func DefaultCheckConfig(kind CheckKind) CheckConfig {
	switch kind {
	case CheckKindPerformance:
		return PerformanceConfig{}
	case CheckKindSecurity:
		return SecurityConfig{}
	case CheckKindSEO:
		return SEOConfig{}
	default:
		return UptimeConfig{}
	}
}

// DecodeCheckConfig decodes a raw JSON document into the variant for kind.
// An empty document yields the default configuration.
func DecodeCheckConfig(kind CheckKind, raw []byte) (CheckConfig, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return DefaultCheckConfig(kind), nil
	}
	var (
		cfg CheckConfig
		err error
	)
	switch kind {
	case CheckKindUptime:
		var c UptimeConfig
		err = strictUnmarshal(raw, &c)
		cfg = c
	case CheckKindPerformance:
		var c PerformanceConfig
		err = strictUnmarshal(raw, &c)
		cfg = c
	case CheckKindSecurity:
		var c SecurityConfig
		err = strictUnmarshal(raw, &c)
		cfg = c
	case CheckKindSEO:
		var c SEOConfig
		err = strictUnmarshal(raw, &c)
		cfg = c
	default:
		return nil, NewConfigError("decode check config", "unknown check kind %q", kind)
	}
	if err != nil {
		return nil, NewConfigError("decode check config", "invalid %s config: %v", kind, err)
	}
	return cfg, cfg.Validate()
}

// encodeCheckConfig is the storage form: a kind discriminator plus the variant
func encodeCheckConfig(cfg CheckConfig) (string, error) {
	data, err := json.Marshal(struct {
		Kind   CheckKind   `json:"kind"`
		Config CheckConfig `json:"config"`
	}{cfg.Kind(), cfg})
	if err != nil {
		return "", fmt.Errorf("failed to encode check config: %w", err)
	}
	return string(data), nil
}

func decodeStoredCheckConfig(data string) (CheckConfig, error) {
	var envelope struct {
		Kind   CheckKind       `json:"kind"`
		Config json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode stored check config: %w", err)
	}
	return DecodeCheckConfig(envelope.Kind, envelope.Config)
}

func strictUnmarshal(raw []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
