package notify

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher is the subset of *nats.Conn used here.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes each event to "<prefix>.<event type>", e.g.
// "pixelgrid.events.zone.sold". The email worker subscribes to these subjects.
type NATSNotifier struct {
	conn   Publisher
	prefix string
}

func NewNATS(conn Publisher, prefix string) *NATSNotifier {
	if prefix == "" {
		prefix = "pixelgrid.events"
	}
	return &NATSNotifier{conn: conn, prefix: prefix}
}

func (n *NATSNotifier) Subject(ev Event) string {
	return n.prefix + "." + string(ev.Type)
}

func (n *NATSNotifier) Notify(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.conn.Publish(n.Subject(ev), data); err != nil {
		return fmt.Errorf("publish to nats: %w", err)
	}
	return nil
}
