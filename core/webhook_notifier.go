package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const defaultNotifyTimeout = 10 * time.Second

// WebhookNotifier sends notifications via generic HTTP webhook
type WebhookNotifier struct {
	URL     string
	Method  string
	Headers map[string]string
	Timeout time.Duration
	client  *http.Client
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(config map[string]interface{}) *WebhookNotifier {
	wn := &WebhookNotifier{
		Method:  http.MethodPost,
		Timeout: defaultNotifyTimeout,
		Headers: make(map[string]string),
	}

	wn.URL = stringOption(config, "url")
	// Support environment variable for URL
	if wn.URL == "" || wn.URL == "${WEBHOOK_URL}" {
		if envURL := os.Getenv("WEBHOOK_URL"); envURL != "" {
			wn.URL = envURL
		}
	}
	if method := stringOption(config, "method"); method != "" {
		wn.Method = method
	}
	if headers, ok := config["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if str, ok := v.(string); ok {
				wn.Headers[k] = str
			}
		}
	}
	if d := durationOption(config, "timeout"); d > 0 {
		wn.Timeout = d
	}
	wn.client = &http.Client{Timeout: wn.Timeout}
	return wn
}

// Send posts the notification as JSON
func (wn *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if wn.URL == "" {
		return fmt.Errorf("webhook URL is empty")
	}

	payload := map[string]interface{}{
		"title":      n.Title,
		"content":    n.Content,
		"severity":   n.Severity,
		"alert_id":   n.AlertID,
		"target_id":  n.TargetID,
		"alert_type": n.AlertType,
		"count":      n.Count,
		"timestamp":  n.Timestamp.Unix(),
		"source":     "site-monitor",
	}
	body, status, err := postJSON(ctx, wn.client, wn.Method, wn.URL, wn.Headers, payload)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("webhook returned status %d: %s", status, truncate(string(body), 200))
	}
	return nil
}

// postJSON sends payload and returns the response body and status code
func postJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, payload interface{}) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// decodeRobotReply checks the {code,msg} style reply chat robots return
func decodeRobotReply(service string, body []byte, status int) error {
	if status < 200 || status >= 300 {
		return fmt.Errorf("%s returned status %d", service, status)
	}
	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
		Code    int    `json:"code"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("%s error: %s (code: %d)", service, result.ErrMsg, result.ErrCode)
	}
	if result.Code != 0 {
		return fmt.Errorf("%s error: %s (code: %d)", service, result.Msg, result.Code)
	}
	return nil
}

func stringOption(config map[string]interface{}, key string) string {
	s, _ := config[key].(string)
	return s
}

func durationOption(config map[string]interface{}, key string) time.Duration {
	switch v := config[key].(type) {
	case string:
		d, _ := time.ParseDuration(v)
		return d
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
