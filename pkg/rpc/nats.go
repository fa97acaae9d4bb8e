package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
)

// Header names carrying Message properties on NATS.
const (
	HeaderCorrelationID = "correlation_id"
	HeaderReplyTo       = "reply_to"
	HeaderContentType   = "content_type"
	HeaderExpiration    = "expiration"
)

// NATSTransport carries messages over core NATS. Subjects are routing keys
// and every queue is a queue group of the same name, so several servers
// share the load of one operation.
type NATSTransport struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// DialNATS connects to url, reconnecting forever on connection loss.
func DialNATS(url, name string) (*NATSTransport, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return NewNATSTransport(nc), nil
}

// NewNATSTransport wraps an established connection
func NewNATSTransport(nc *nats.Conn) *NATSTransport {
	return &NATSTransport{nc: nc, logger: slog.Default()}
}

func (t *NATSTransport) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.nc.IsConnected() {
		return ErrNotConnected
	}
	m := nats.NewMsg(msg.RoutingKey)
	m.Header.Set(HeaderCorrelationID, msg.CorrelationID)
	if msg.ReplyTo != "" {
		m.Header.Set(HeaderReplyTo, msg.ReplyTo)
	}
	m.Header.Set(HeaderContentType, msg.ContentType)
	if msg.Expiration > 0 {
		m.Header.Set(HeaderExpiration, strconv.FormatInt(msg.Expiration.Milliseconds(), 10))
	}
	m.Data = msg.Body
	if err := t.nc.PublishMsg(m); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrConnectionDraining) {
			return ErrNotConnected
		}
		return fmt.Errorf("failed to publish to %s: %w", msg.RoutingKey, err)
	}
	return nil
}

func (t *NATSTransport) Subscribe(ctx context.Context, queue string, fn MessageHandler) (Subscription, error) {
	sub, err := t.nc.QueueSubscribe(queue, queue, func(m *nats.Msg) {
		fn(ctx, fromNATS(m))
	})
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return nil, ErrNotConnected
		}
		return nil, fmt.Errorf("failed to subscribe %s: %w", queue, err)
	}
	// the server must know the subscription before anyone publishes to it
	if err := t.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("failed to flush subscription %s: %w", queue, err)
	}
	return sub, nil
}

// Close drains subscriptions and closes the connection
func (t *NATSTransport) Close() error {
	if err := t.nc.Drain(); err != nil {
		t.logger.Warn("Failed to drain NATS connection", "err", err)
		t.nc.Close()
	}
	return nil
}

func fromNATS(m *nats.Msg) Message {
	msg := Message{
		RoutingKey: m.Subject,
		Body:       m.Data,
	}
	if m.Header != nil {
		msg.CorrelationID = m.Header.Get(HeaderCorrelationID)
		msg.ReplyTo = m.Header.Get(HeaderReplyTo)
		msg.ContentType = m.Header.Get(HeaderContentType)
		if ms, err := strconv.ParseInt(m.Header.Get(HeaderExpiration), 10, 64); err == nil {
			msg.Expiration = time.Duration(ms) * time.Millisecond
		}
	}
	return msg
}
