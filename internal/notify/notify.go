// Package notify publishes deferred job completion events.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// DefaultSubject is the NATS subject job events are published on.
const DefaultSubject = "sampleflow.jobs.completed"

var errNotConnected = errors.New("nats notifier not connected")

// Notifier delivers job events to subscribers.
type Notifier interface {
	Notify(ctx context.Context, event types.JobEvent) error
	Close()
}

var (
	_ Notifier = Noop{}
	_ Notifier = (*NATS)(nil)
)

// Noop discards every event.
type Noop struct{}

func (Noop) Notify(context.Context, types.JobEvent) error { return nil }
func (Noop) Close()                                       {}

// NATS publishes job events as JSON on a single subject, through JetStream
// when enabled.
type NATS struct {
	conn    *nats.Conn
	subject string
	publish func(ctx context.Context, subject string, data []byte, msgID string) error
	logger  *slog.Logger
}

// NewNATS connects to cfg.NATSURL.
func NewNATS(cfg types.NotifyConfig, opts ...nats.Option) (*NATS, error) {
	n := &NATS{subject: cfg.Subject, logger: slog.Default()}
	if n.subject == "" {
		n.subject = DefaultSubject
	}

	opts = append([]nats.Option{
		nats.Name("sampleflow-notify"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			n.logger.Warn("disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			n.logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	}, opts...)

	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.NATSURL, err)
	}
	n.conn = nc

	if cfg.JetStream {
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("opening JetStream context: %w", err)
		}
		n.publish = func(ctx context.Context, subject string, data []byte, msgID string) error {
			_, err := js.Publish(subject, data, nats.MsgId(msgID), nats.Context(ctx))
			return err
		}
	} else {
		n.publish = func(_ context.Context, subject string, data []byte, _ string) error {
			return nc.Publish(subject, data)
		}
	}
	return n, nil
}

// SetLogger overrides the default logger.
func (n *NATS) SetLogger(l *slog.Logger) {
	if l != nil {
		n.logger = l
	}
}

// Subject returns the subject events are published on.
func (n *NATS) Subject() string { return n.subject }

// Notify publishes event. The job ID doubles as the JetStream message ID so
// redelivered completions are deduplicated.
func (n *NATS) Notify(ctx context.Context, event types.JobEvent) error {
	if n == nil || n.publish == nil {
		return errNotConnected
	}
	data, err := Encode(event)
	if err != nil {
		return err
	}
	if err := n.publish(ctx, n.subject, data, MessageID(event)); err != nil {
		return fmt.Errorf("publishing job %s event: %w", event.JobID, err)
	}
	return nil
}

// Close drains the connection, falling back to a hard close.
func (n *NATS) Close() {
	if n == nil || n.conn == nil {
		return
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}

// Encode renders event as the JSON payload subscribers receive.
func Encode(event types.JobEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encoding job event: %w", err)
	}
	return data, nil
}

// MessageID returns the deduplication ID for event.
func MessageID(event types.JobEvent) string {
	return "job:" + event.JobID + ":" + string(event.Status)
}
