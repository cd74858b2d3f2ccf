// Package events publishes plan lifecycle events. Emitting is fire and
// forget: a sink that cannot deliver logs and drops the event, it never
// fails the operation that produced it.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/shopspring/decimal"
)

// Type names a lifecycle event.
type Type string

const (
	PlanProposed Type = "plan.proposed"
	PlanApplied  Type = "plan.applied"
	PlanCanceled Type = "plan.canceled"
)

// Cancel reasons.
const (
	ReasonUser    = "user"
	ReasonExpired = "expired"
)

// Event is one lifecycle notification.
type Event struct {
	Type      Type              `json:"type"`
	UserID    string            `json:"user_id"`
	PlanID    string            `json:"plan_id"`
	Plan      *domain.Plan      `json:"plan,omitempty"`
	Positions []domain.Position `json:"positions,omitempty"`
	TotalUSD  decimal.Decimal   `json:"total_usd"`
	Reason    string            `json:"reason,omitempty"`
	At        time.Time         `json:"at"`
}

// Proposed returns the event for a new or replaced proposal.
func Proposed(p *domain.Plan) Event {
	return Event{
		Type:     PlanProposed,
		UserID:   p.UserID,
		PlanID:   p.ID,
		Plan:     p,
		TotalUSD: p.CapitalUSD,
		At:       p.CreatedAt,
	}
}

// Applied returns the event for an executed plan.
func Applied(p *domain.Plan, positions []domain.Position) Event {
	total := decimal.Zero
	for _, pos := range positions {
		total = total.Add(pos.AmountUSD)
	}
	return Event{
		Type:      PlanApplied,
		UserID:    p.UserID,
		PlanID:    p.ID,
		Plan:      p,
		Positions: positions,
		TotalUSD:  total,
		At:        p.UpdatedAt,
	}
}

// Canceled returns the event for a declined or expired plan.
func Canceled(p *domain.Plan, reason string) Event {
	return Event{
		Type:     PlanCanceled,
		UserID:   p.UserID,
		PlanID:   p.ID,
		Plan:     p,
		TotalUSD: p.CapitalUSD,
		Reason:   reason,
		At:       p.UpdatedAt,
	}
}

// Sink receives events.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Multi fans an event out to every sink in order.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}

// Discard drops every event.
type Discard struct{}

// Emit implements Sink.
func (Discard) Emit(context.Context, Event) {}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit implements Sink.
func (s *LogSink) Emit(ctx context.Context, e Event) {
	attrs := []any{
		"type", string(e.Type),
		"user_id", e.UserID,
		"plan_id", e.PlanID,
		"total_usd", e.TotalUSD.String(),
	}
	if e.Reason != "" {
		attrs = append(attrs, "reason", e.Reason)
	}
	if len(e.Positions) > 0 {
		attrs = append(attrs, "positions", len(e.Positions))
	}
	s.logger.InfoContext(ctx, "Plan event", attrs...)
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
