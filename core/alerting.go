package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Alert types raised for targets
const (
	AlertTypeTargetTimeout = "target_timeout"
	AlertTypeTargetDown    = "target_down"
	AlertTypeTargetError   = "target_error"
)

// AlertRequest asks the engine to raise or coalesce an alert
type AlertRequest struct {
	Scope    AlertScope
	Subject  string
	Type     string
	Severity AlertSeverity
	Message  string
	// Occurrences seeds Count when a new alert is opened
	Occurrences int
}

// AlertEngineDeps are the collaborators of an AlertEngine
type AlertEngineDeps struct {
	Store     Store
	Bus       *EventBus
	Notifiers map[string]Notifier
	Metrics   MetricsRecorder
	Instr     *Instrumentation
	Clock     Clock
	Logger    *zap.Logger
}

// AlertEngine turns failure streaks into coalesced alerts and resolves
// them after a quiet window.
type AlertEngine struct {
	mu      sync.Mutex
	active  map[string]*Alert
	history []*Alert

	config    AlertConfig
	store     Store
	bus       *EventBus
	notifiers map[string]*guardedNotifier
	suppress  *cache.Cache
	metrics   MetricsRecorder
	instr     *Instrumentation
	clock     Clock
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAlertEngine creates an alert engine
func NewAlertEngine(config AlertConfig, deps AlertEngineDeps) *AlertEngine {
	if deps.Clock == nil {
		deps.Clock = NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	suppress := config.SuppressDuration
	if suppress <= 0 {
		suppress = 30 * time.Minute
	}
	config.SuppressDuration = suppress

	ae := &AlertEngine{
		active:    make(map[string]*Alert),
		config:    config,
		store:     deps.Store,
		bus:       deps.Bus,
		notifiers: make(map[string]*guardedNotifier),
		suppress:  cache.New(suppress, suppress),
		metrics:   deps.Metrics,
		instr:     deps.Instr,
		clock:     deps.Clock,
		logger:    deps.Logger.Named("alerts"),
	}
	for name, n := range deps.Notifiers {
		if !ae.channelEnabled(name) {
			continue
		}
		ae.notifiers[name] = newGuardedNotifier(name, n, ae.logger)
	}

	ae.logger.Info("alert engine initialized", zap.Int("notifiers", len(ae.notifiers)),
		zap.Duration("quiet_window", config.QuietWindow))
	return ae
}

func (ae *AlertEngine) channelEnabled(name string) bool {
	if len(ae.config.Channels) == 0 {
		return true
	}
	for _, c := range ae.config.Channels {
		if c == name {
			return true
		}
	}
	return false
}

// Load restores unresolved alerts and recent history from the store
func (ae *AlertEngine) Load(ctx context.Context) error {
	open, err := ae.store.ListAlerts(ctx, AlertStatusActive, AlertStatusAcknowledged)
	if err != nil {
		return fmt.Errorf("failed to load alerts: %w", err)
	}
	resolved, err := ae.store.ListAlerts(ctx, AlertStatusResolved)
	if err != nil {
		return fmt.Errorf("failed to load alert history: %w", err)
	}

	ae.mu.Lock()
	defer ae.mu.Unlock()
	for _, a := range open {
		ae.active[a.Key()] = a
	}
	// resolved comes newest first
	if len(resolved) > ae.config.HistoryRetention {
		resolved = resolved[:ae.config.HistoryRetention]
	}
	ae.history = make([]*Alert, 0, len(resolved))
	for i := len(resolved) - 1; i >= 0; i-- {
		ae.history = append(ae.history, resolved[i])
	}
	ae.instr.setActiveAlerts(len(ae.active))
	return nil
}

// EvaluateTarget is called for failing outcomes. It re-reads the target's
// streak and threshold and raises once the streak reaches the threshold.
func (ae *AlertEngine) EvaluateTarget(ctx context.Context, result CheckResult, update OutcomeUpdate) error {
	if !result.Failed() {
		return nil
	}

	streak, threshold := update.Streak, update.Threshold
	name, url := result.TargetID, ""
	if t, err := ae.store.GetTarget(ctx, result.TargetID); err == nil {
		streak, threshold = t.ConsecutiveFailures, t.FailureThreshold
		name, url = t.Name, t.URL
	} else {
		ae.logger.Debug("falling back to outcome streak", zap.String("target_id", result.TargetID), zap.Error(err))
	}
	if threshold < 1 {
		threshold = 1
	}
	if streak < threshold {
		return nil
	}

	alertType, severity := classifyTargetAlert(result.Status)
	message := fmt.Sprintf("%s (%s) is %s after %d consecutive failures", name, url, result.Status, streak)
	if result.Error != "" {
		message += ": " + result.Error
	}
	_, err := ae.Raise(ctx, AlertRequest{
		Scope:       AlertScopeTarget,
		Subject:     result.TargetID,
		Type:        alertType,
		Severity:    severity,
		Message:     message,
		Occurrences: streak,
	})
	return err
}

func classifyTargetAlert(status CheckStatus) (string, AlertSeverity) {
	switch status {
	case CheckStatusTimeout:
		return AlertTypeTargetTimeout, SeverityHigh
	case CheckStatusDown:
		return AlertTypeTargetDown, SeverityCritical
	default:
		return AlertTypeTargetError, SeverityMedium
	}
}

// Raise opens a new alert or coalesces into the unresolved one with the
// same (scope, subject, type).
func (ae *AlertEngine) Raise(ctx context.Context, req AlertRequest) (*Alert, error) {
	now := ae.clock.Now()
	key := alertKey(req.Scope, req.Subject, req.Type)

	ae.mu.Lock()
	alert, exists := ae.active[key]
	if exists {
		alert.Count++
		alert.LastSeen = now
		alert.Message = req.Message
		alert.Severity = req.Severity
	} else {
		count := req.Occurrences
		if count < 1 {
			count = 1
		}
		alert = &Alert{
			ID:        uuid.NewString(),
			Scope:     req.Scope,
			TargetID:  req.Subject,
			Type:      req.Type,
			Severity:  req.Severity,
			Status:    AlertStatusActive,
			Message:   req.Message,
			Count:     count,
			FirstSeen: now,
			LastSeen:  now,
		}
		ae.active[key] = alert
	}
	snapshot := *alert
	activeCount := len(ae.active)
	ae.mu.Unlock()

	ae.instr.alertRaised(req.Type, activeCount)

	var storeErr error
	if err := ae.store.UpsertAlert(ctx, &snapshot); err != nil {
		storeErr = err
		ae.logger.Error("failed to persist alert", zap.String("alert_id", snapshot.ID), zap.Error(err))
	}

	ae.bus.Publish(Event{
		Type:      EventAlertTriggered,
		Source:    ComponentAlertEngine,
		TargetID:  snapshot.TargetID,
		Timestamp: now,
		Data:      snapshot,
	})
	if ae.metrics != nil {
		ae.metrics.Record("alert_event", map[string]interface{}{
			"alert_id": snapshot.ID,
			"scope":    string(snapshot.Scope),
			"subject":  snapshot.TargetID,
			"type":     snapshot.Type,
			"severity": string(snapshot.Severity),
			"count":    snapshot.Count,
			"new":      !exists,
		})
	}
	ae.logger.Warn("alert raised",
		zap.String("alert_id", snapshot.ID),
		zap.String("type", snapshot.Type),
		zap.String("subject", snapshot.TargetID),
		zap.Int("count", snapshot.Count))

	ae.notify(ctx, key, snapshot)
	return &snapshot, storeErr
}

// notify delivers to every notifier unless the key is inside its
// suppression window.
func (ae *AlertEngine) notify(ctx context.Context, key string, alert Alert) {
	if len(ae.notifiers) == 0 {
		return
	}
	if err := ae.suppress.Add(key, alert.ID, ae.config.SuppressDuration); err != nil {
		ae.logger.Debug("notification suppressed", zap.String("alert_id", alert.ID))
		return
	}

	n := Notification{
		Title: fmt.Sprintf("🚨 告警: %s", alert.Type),
		Content: fmt.Sprintf("**对象**: %s\n**级别**: %s\n**次数**: %d\n**详情**: %s",
			alert.TargetID, alert.Severity, alert.Count, alert.Message),
		Severity:  alert.Severity,
		AlertID:   alert.ID,
		TargetID:  alert.TargetID,
		AlertType: alert.Type,
		Count:     alert.Count,
		Timestamp: alert.LastSeen,
	}
	for name, notifier := range ae.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			ae.instr.notification(name, "failed")
			ae.logger.Warn("failed to send alert", zap.String("notifier", name), zap.Error(err))
			continue
		}
		ae.instr.notification(name, "sent")
	}
}

// Sweep resolves every unresolved alert whose last occurrence is older than
// the quiet window and returns how many were resolved.
func (ae *AlertEngine) Sweep(ctx context.Context) int {
	now := ae.clock.Now()

	ae.mu.Lock()
	var resolved []Alert
	var keys []string
	for key, a := range ae.active {
		if now.Sub(a.LastSeen) < ae.config.QuietWindow {
			continue
		}
		a.Status = AlertStatusResolved
		at := now
		a.ResolvedAt = &at
		delete(ae.active, key)
		ae.history = append(ae.history, a)
		resolved = append(resolved, *a)
		keys = append(keys, key)
	}
	ae.trimHistoryLocked(ae.config.HistoryRetention)
	activeCount := len(ae.active)
	ae.mu.Unlock()

	ae.instr.setActiveAlerts(activeCount)
	for i, a := range resolved {
		a := a
		ae.suppress.Delete(keys[i])
		if err := ae.store.UpsertAlert(ctx, &a); err != nil {
			ae.logger.Error("failed to persist resolved alert", zap.String("alert_id", a.ID), zap.Error(err))
		}
		ae.bus.Publish(Event{
			Type:      EventAlertResolved,
			Source:    ComponentAlertEngine,
			TargetID:  a.TargetID,
			Timestamp: now,
			Data:      a,
		})
		ae.logger.Info("alert resolved", zap.String("alert_id", a.ID), zap.String("type", a.Type))
	}
	return len(resolved)
}

// Acknowledge marks an unresolved alert as seen by an operator
func (ae *AlertEngine) Acknowledge(ctx context.Context, id string) (*Alert, error) {
	now := ae.clock.Now()

	ae.mu.Lock()
	var found *Alert
	for _, a := range ae.active {
		if a.ID == id {
			found = a
			break
		}
	}
	if found == nil {
		ae.mu.Unlock()
		return nil, ErrAlertNotFound
	}
	found.Status = AlertStatusAcknowledged
	at := now
	found.AcknowledgedAt = &at
	snapshot := *found
	ae.mu.Unlock()

	if err := ae.store.UpsertAlert(ctx, &snapshot); err != nil {
		return &snapshot, fmt.Errorf("failed to persist acknowledgement: %w", err)
	}
	return &snapshot, nil
}

// ListActive returns unresolved alerts, most recent first
func (ae *AlertEngine) ListActive() []Alert {
	ae.mu.Lock()
	out := make([]Alert, 0, len(ae.active))
	for _, a := range ae.active {
		out = append(out, *a)
	}
	ae.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out
}

// History returns resolved alerts, oldest first
func (ae *AlertEngine) History() []Alert {
	ae.mu.Lock()
	defer ae.mu.Unlock()
	out := make([]Alert, len(ae.history))
	for i, a := range ae.history {
		out[i] = *a
	}
	return out
}

// TrimHistory keeps at most keep resolved alerts and reports how many were dropped
func (ae *AlertEngine) TrimHistory(keep int) int {
	ae.mu.Lock()
	defer ae.mu.Unlock()
	return ae.trimHistoryLocked(keep)
}

func (ae *AlertEngine) trimHistoryLocked(keep int) int {
	if keep < 0 {
		keep = 0
	}
	drop := len(ae.history) - keep
	if drop <= 0 {
		return 0
	}
	ae.history = append([]*Alert(nil), ae.history[drop:]...)
	return drop
}

// Start runs the periodic sweep
func (ae *AlertEngine) Start(ctx context.Context) {
	ctx, ae.cancel = context.WithCancel(ctx)
	ticker := ae.clock.NewTicker(ae.config.SweepInterval)

	ae.wg.Add(1)
	go func() {
		defer ae.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				ae.Sweep(ctx)
			}
		}
	}()
}

// Stop stops the sweep loop and closes notifiers that hold connections
func (ae *AlertEngine) Stop() {
	if ae.cancel != nil {
		ae.cancel()
	}
	ae.wg.Wait()
	for name, g := range ae.notifiers {
		if closer, ok := g.notifier.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				ae.logger.Warn("failed to close notifier", zap.String("notifier", name), zap.Error(err))
			}
		}
	}
}
