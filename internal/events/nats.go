package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"voxreview.app/relay/common/logger"
	"voxreview.app/relay/internal/model"
)

// NATSSink publishes each event as JSON on <prefix>.<kind>, e.g.
// voxreview.events.attempt.transition.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSSink(url, prefix, clientName string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATSSink{conn: conn, prefix: prefix}, nil
}

func (s *NATSSink) Publish(ctx context.Context, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(s.prefix + "." + string(ev.Kind))
	msg.Data = data
	if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
		msg.Header.Set("Trace-Id", traceID)
	}

	if err := s.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close flushes pending publishes before closing the connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
