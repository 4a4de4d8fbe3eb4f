package core

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DingTalkNotifier sends notifications to DingTalk robot
type DingTalkNotifier struct {
	WebhookURL string
	Secret     string
	client     *http.Client
}

// NewDingTalkNotifier creates a new DingTalk notifier
func NewDingTalkNotifier(config map[string]interface{}) *DingTalkNotifier {
	return &DingTalkNotifier{
		WebhookURL: stringOption(config, "webhook_url"),
		Secret:     stringOption(config, "secret"),
		client:     &http.Client{Timeout: defaultNotifyTimeout},
	}
}

// Send sends a markdown message to DingTalk
func (dn *DingTalkNotifier) Send(ctx context.Context, n Notification) error {
	if dn.WebhookURL == "" {
		return fmt.Errorf("DingTalk webhook URL is empty")
	}

	// Sign the request if secret is provided
	requestURL := dn.WebhookURL
	if dn.Secret != "" {
		timestamp := time.Now().UnixMilli()
		sep := "&"
		if !strings.Contains(requestURL, "?") {
			sep = "?"
		}
		requestURL = fmt.Sprintf("%s%stimestamp=%d&sign=%s", requestURL, sep, timestamp, url.QueryEscape(dn.generateSign(timestamp)))
	}

	message := fmt.Sprintf("### %s\n\n%s\n\n---\n\n时间: %s",
		n.Title, n.Content, n.Timestamp.Format("2006-01-02 15:04:05"))
	payload := map[string]interface{}{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": n.Title,
			"text":  message,
		},
	}

	body, status, err := postJSON(ctx, dn.client, http.MethodPost, requestURL, nil, payload)
	if err != nil {
		return fmt.Errorf("failed to send DingTalk notification: %w", err)
	}
	return decodeRobotReply("DingTalk", body, status)
}

// generateSign generates signature for DingTalk webhook
func (dn *DingTalkNotifier) generateSign(timestamp int64) string {
	stringToSign := fmt.Sprintf("%d\n%s", timestamp, dn.Secret)
	h := hmac.New(sha256.New, []byte(dn.Secret))
	h.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
