package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event describes a status transition on a redemption entity
type Event struct {
	Type     string                 `json:"type"`
	EntityID uuid.UUID              `json:"entity_id"`
	Status   string                 `json:"status"`
	Detail   map[string]interface{} `json:"detail,omitempty"`
	At       time.Time              `json:"at"`
}

// Event types emitted by the core
const (
	EventRequestSubmitted   = "redemption.request.submitted"
	EventRequestFinalized   = "redemption.request.finalized"
	EventRequestCancelled   = "redemption.request.cancelled"
	EventDecisionRecorded   = "redemption.decision.recorded"
	EventSettlementUpdated  = "settlement.updated"
	EventSettlementFatal    = "settlement.fatal"
	EventWindowTransitioned = "window.transitioned"
	EventWindowSLABreach    = "window.sla_breach"
)

// Sink receives status-transition events. Delivery is fire-and-forget:
// a failing sink never blocks or fails a core state transition.
type Sink interface {
	Notify(ctx context.Context, event Event)
}

// LogSink writes events to the structured log
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(ctx context.Context, event Event) {
	s.logger.Info("notification",
		zap.String("type", event.Type),
		zap.String("entity_id", event.EntityID.String()),
		zap.String("status", event.Status))
}

// NoopSink discards events
type NoopSink struct{}

func (NoopSink) Notify(ctx context.Context, event Event) {}

// MultiSink fans an event out to several sinks
type MultiSink []Sink

func (m MultiSink) Notify(ctx context.Context, event Event) {
	for _, s := range m {
		s.Notify(ctx, event)
	}
}
