package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to the event type to form the subject,
// e.g. capdeploy.plan.applied.
const DefaultSubjectPrefix = "capdeploy"

// Publisher is the part of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("capdeploy"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NATSSink publishes events as JSON on NATS subjects.
type NATSSink struct {
	pub    Publisher
	prefix string
	logger *slog.Logger
}

// NewNATSSink creates a NATSSink. An empty prefix uses DefaultSubjectPrefix.
func NewNATSSink(pub Publisher, prefix string, logger *slog.Logger) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSink{pub: pub, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
}

// Subject returns the subject an event type is published on.
func (s *NATSSink) Subject(t Type) string {
	return s.prefix + "." + string(t)
}

// Emit implements Sink.
func (s *NATSSink) Emit(ctx context.Context, e Event) {
	if err := ctx.Err(); err != nil {
		s.logger.Warn("Dropping event, context done", "type", string(e.Type), "plan_id", e.PlanID, "error", err)
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("Failed to encode event", "type", string(e.Type), "plan_id", e.PlanID, "error", err)
		return
	}
	if err := s.pub.Publish(s.Subject(e.Type), data); err != nil {
		s.logger.Warn("Failed to publish event", "subject", s.Subject(e.Type), "plan_id", e.PlanID, "error", err)
	}
}
