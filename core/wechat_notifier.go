package core

import (
	"context"
	"fmt"
	"net/http"
)

// WeChatNotifier sends notifications to WeChat Work robot
type WeChatNotifier struct {
	WebhookURL string
	client     *http.Client
}

// NewWeChatNotifier creates a new WeChat Work notifier
func NewWeChatNotifier(config map[string]interface{}) *WeChatNotifier {
	return &WeChatNotifier{
		WebhookURL: stringOption(config, "webhook_url"),
		client:     &http.Client{Timeout: defaultNotifyTimeout},
	}
}

// Send sends a markdown message to WeChat Work
func (wn *WeChatNotifier) Send(ctx context.Context, n Notification) error {
	if wn.WebhookURL == "" {
		return fmt.Errorf("WeChat webhook URL is empty")
	}

	message := fmt.Sprintf("**%s**\n\n%s\n\n<font color=\"info\">%s</font>",
		n.Title, n.Content, n.Timestamp.Format("2006-01-02 15:04:05"))
	payload := map[string]interface{}{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"content": message,
		},
	}

	body, status, err := postJSON(ctx, wn.client, http.MethodPost, wn.WebhookURL, nil, payload)
	if err != nil {
		return fmt.Errorf("failed to send WeChat notification: %w", err)
	}
	return decodeRobotReply("WeChat", body, status)
}
