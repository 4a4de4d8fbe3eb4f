package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

//go:generate mockgen -destination=mock_notifier_test.go -package=core . Notifier

// Notifier is the interface for all notification methods
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Notification is one alert delivery
type Notification struct {
	Title     string        `json:"title"`
	Content   string        `json:"content"`
	Severity  AlertSeverity `json:"severity"`
	AlertID   string        `json:"alert_id"`
	TargetID  string        `json:"target_id"`
	AlertType string        `json:"alert_type"`
	Count     int           `json:"count"`
	Timestamp time.Time     `json:"timestamp"`
}

var knownNotifiers = []string{"webhook", "dingtalk", "wechat", "feishu", "kafka"}

func isKnownNotifier(name string) bool {
	for _, n := range knownNotifiers {
		if n == name {
			return true
		}
	}
	return false
}

// NewNotifier creates a notifier based on configuration
func NewNotifier(notifierType string, config map[string]interface{}) (Notifier, error) {
	switch notifierType {
	case "webhook":
		return NewWebhookNotifier(config), nil
	case "dingtalk":
		return NewDingTalkNotifier(config), nil
	case "wechat":
		return NewWeChatNotifier(config), nil
	case "feishu":
		return NewFeishuNotifier(config), nil
	case "kafka":
		return NewKafkaNotifier(config)
	default:
		return nil, NewConfigError("new notifier", "unknown notifier type %q", notifierType)
	}
}

// BuildNotifiers creates every configured notifier. A notifier that fails to
// build is logged and skipped.
func BuildNotifiers(cfg NotifiersConfig, logger *zap.Logger) map[string]Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	sort.Strings(names)

	notifiers := make(map[string]Notifier, len(cfg))
	for _, name := range names {
		n, err := NewNotifier(name, cfg[name])
		if err != nil {
			logger.Warn("failed to create notifier", zap.String("notifier", name), zap.Error(err))
			continue
		}
		notifiers[name] = n
	}
	return notifiers
}

// guardedNotifier wraps a notifier in a circuit breaker
type guardedNotifier struct {
	name     string
	notifier Notifier
	breaker  *gobreaker.CircuitBreaker
}

func newGuardedNotifier(name string, n Notifier, logger *zap.Logger) *guardedNotifier {
	settings := gobreaker.Settings{
		Name:        "notifier-" + name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("notifier circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &guardedNotifier{name: name, notifier: n, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (g *guardedNotifier) Send(ctx context.Context, n Notification) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.notifier.Send(ctx, n)
	})
	if err != nil {
		return fmt.Errorf("notifier %s: %w", g.name, err)
	}
	return nil
}
