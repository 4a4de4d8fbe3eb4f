package core

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// ResultSink persists check results and maintains the failure streak
type ResultSink struct {
	store         Store
	bus           *EventBus
	metrics       MetricsRecorder
	instr         *Instrumentation
	logger        *zap.Logger
	writeFailures atomic.Int64
}

// NewResultSink creates a result sink. metrics may be nil.
func NewResultSink(store Store, bus *EventBus, metrics MetricsRecorder, instr *Instrumentation, logger *zap.Logger) *ResultSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultSink{
		store:   store,
		bus:     bus,
		metrics: metrics,
		instr:   instr,
		logger:  logger.Named("result_sink"),
	}
}

// Record stores result and applies it to the target's streak. A storage
// failure is logged and counted; the returned bool is false when the
// outcome could not be applied, in which case update is meaningless.
func (s *ResultSink) Record(ctx context.Context, result CheckResult) (OutcomeUpdate, bool) {
	if err := s.store.InsertResult(ctx, result); err != nil {
		s.storageFailed("insert result", result.TargetID, err)
	}

	update, err := s.store.ApplyOutcome(ctx, result.TargetID, result.Status, result.CheckedAt)
	if err != nil {
		s.storageFailed("apply outcome", result.TargetID, err)
		return update, false
	}

	s.publish(EventCheckCompleted, result, result)
	if result.Failed() {
		s.publish(EventCheckFailed, result, result)
	}
	if update.PreviousStatus != result.Status {
		s.publish(EventStatusChanged, result, StatusChange{From: update.PreviousStatus, To: result.Status})
	}

	if s.metrics != nil {
		sample := map[string]interface{}{
			"target_id": result.TargetID,
			"kind":      string(result.Kind),
			"status":    string(result.Status),
			"streak":    update.Streak,
		}
		if result.ResponseTimeMS != nil {
			sample["response_time_ms"] = *result.ResponseTimeMS
		}
		s.metrics.Record("check_sample", sample)
	}
	return update, true
}

// WriteFailures reports how many storage writes have failed
func (s *ResultSink) WriteFailures() int64 {
	return s.writeFailures.Load()
}

func (s *ResultSink) storageFailed(op, targetID string, err error) {
	s.writeFailures.Add(1)
	s.instr.resultWriteFailed()
	s.logger.Error("storage write failed",
		zap.String("op", op),
		zap.String("target_id", targetID),
		zap.String("kind", string(ErrKindStorageWrite)),
		zap.Error(err))
}

func (s *ResultSink) publish(t EventType, result CheckResult, data interface{}) {
	s.bus.Publish(Event{
		Type:      t,
		Source:    ComponentResultSink,
		TargetID:  result.TargetID,
		Timestamp: result.CheckedAt,
		Data:      data,
	})
}
