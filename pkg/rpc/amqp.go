package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPTransport carries messages over an AMQP 0-9-1 broker. Every queue is
// bound to one direct exchange under its own name, so requests and replies
// take the same route. Reply queues are exclusive and auto-deleted.
type AMQPTransport struct {
	conn     *amqp.Connection
	exchange string
	pool     chan *amqp.Channel
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

// DialAMQP connects to url and declares exchange. poolSize bounds the
// number of idle publishing channels kept open.
func DialAMQP(url, exchange string, poolSize int) (*AMQPTransport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	if poolSize <= 0 {
		poolSize = 1
	}
	return &AMQPTransport{
		conn:     conn,
		exchange: exchange,
		pool:     make(chan *amqp.Channel, poolSize),
		logger:   slog.Default(),
	}, nil
}

// acquire takes an idle channel from the pool or opens a new one.
func (t *AMQPTransport) acquire() (*amqp.Channel, error) {
	for {
		select {
		case ch := <-t.pool:
			if ch.IsClosed() {
				continue
			}
			return ch, nil
		default:
			if t.conn.IsClosed() {
				return nil, ErrNotConnected
			}
			ch, err := t.conn.Channel()
			if err != nil {
				if errors.Is(err, amqp.ErrClosed) {
					return nil, ErrNotConnected
				}
				return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
			}
			return ch, nil
		}
	}
}

// release returns ch to the pool, closing it when the pool is full.
func (t *AMQPTransport) release(ch *amqp.Channel) {
	if ch.IsClosed() {
		return
	}
	select {
	case t.pool <- ch:
	default:
		ch.Close()
	}
}

func (t *AMQPTransport) Publish(ctx context.Context, msg Message) error {
	ch, err := t.acquire()
	if err != nil {
		return err
	}
	defer t.release(ch)

	pub := amqp.Publishing{
		ContentType:   msg.ContentType,
		CorrelationId: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		DeliveryMode:  amqp.Transient,
		Timestamp:     time.Now(),
		Body:          msg.Body,
	}
	if msg.Expiration > 0 {
		pub.Expiration = strconv.FormatInt(msg.Expiration.Milliseconds(), 10)
	}
	if err := ch.PublishWithContext(ctx, t.exchange, msg.RoutingKey, false, false, pub); err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			return ErrNotConnected
		}
		return fmt.Errorf("failed to publish to %s: %w", msg.RoutingKey, err)
	}
	return nil
}

func (t *AMQPTransport) Subscribe(ctx context.Context, queue string, fn MessageHandler) (Subscription, error) {
	if t.conn.IsClosed() {
		return nil, ErrNotConnected
	}
	// consumers get their own channel, never a pooled one
	ch, err := t.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	exclusive := IsReplyQueue(queue)
	if _, err := ch.QueueDeclare(queue, !exclusive, exclusive, exclusive, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, queue, t.exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind queue %s: %w", queue, err)
	}
	tag := uuid.NewString()
	deliveries, err := ch.Consume(queue, tag, true, exclusive, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to consume %s: %w", queue, err)
	}

	sub := &amqpSub{ch: ch, tag: tag, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for {
			select {
			case <-ctx.Done():
				_ = sub.Unsubscribe()
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				fn(ctx, fromDelivery(queue, d))
			}
		}
	}()
	return sub, nil
}

// Close closes pooled channels and the connection
func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for {
		select {
		case ch := <-t.pool:
			ch.Close()
		default:
			return t.conn.Close()
		}
	}
}

type amqpSub struct {
	ch   *amqp.Channel
	tag  string
	once sync.Once
	done chan struct{}
}

func (s *amqpSub) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		if cerr := s.ch.Cancel(s.tag, false); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
			err = cerr
		}
		s.ch.Close()
	})
	return err
}

func fromDelivery(queue string, d amqp.Delivery) Message {
	msg := Message{
		RoutingKey:    d.RoutingKey,
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		ContentType:   d.ContentType,
		Body:          d.Body,
	}
	if msg.RoutingKey == "" {
		msg.RoutingKey = queue
	}
	if ms, err := strconv.ParseInt(d.Expiration, 10, 64); err == nil {
		msg.Expiration = time.Duration(ms) * time.Millisecond
	}
	return msg
}
