package core

import (
	"context"
	"fmt"
	"net/http"
)

// FeishuNotifier sends notifications to Feishu (Lark) robot
type FeishuNotifier struct {
	WebhookURL string
	client     *http.Client
}

// NewFeishuNotifier creates a new Feishu notifier
func NewFeishuNotifier(config map[string]interface{}) *FeishuNotifier {
	return &FeishuNotifier{
		WebhookURL: stringOption(config, "webhook_url"),
		client:     &http.Client{Timeout: defaultNotifyTimeout},
	}
}

// Send sends a text message to Feishu
func (fn *FeishuNotifier) Send(ctx context.Context, n Notification) error {
	if fn.WebhookURL == "" {
		return fmt.Errorf("Feishu webhook URL is empty")
	}

	message := fmt.Sprintf("**%s**\n\n%s\n\n---\n\n🕐 %s",
		n.Title, n.Content, n.Timestamp.Format("2006-01-02 15:04:05"))
	payload := map[string]interface{}{
		"msg_type": "text",
		"content": map[string]string{
			"text": message,
		},
	}

	body, status, err := postJSON(ctx, fn.client, http.MethodPost, fn.WebhookURL, nil, payload)
	if err != nil {
		return fmt.Errorf("failed to send Feishu notification: %w", err)
	}
	return decodeRobotReply("Feishu", body, status)
}
