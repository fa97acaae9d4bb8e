package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tendant/authcore/pkg/config"
)

var (
	// ErrNotConnected is returned by Publish when the broker cannot be reached.
	ErrNotConnected = errors.New("rpc: broker not connected")
	// ErrUnroutable is returned by Publish when no queue takes the message.
	ErrUnroutable = errors.New("rpc: message unroutable")
)

// MessageHandler consumes one delivered message. Transports call it from
// their own goroutines.
type MessageHandler func(ctx context.Context, msg Message)

// Subscription is an active consumer of a queue.
type Subscription interface {
	Unsubscribe() error
}

// Transport moves messages between clients and servers. Queues are named
// by routing key; a message published with routing key k is delivered to
// one consumer of queue k.
type Transport interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, queue string, fn MessageHandler) (Subscription, error)
	Close() error
}

// MemoryBus is an in-process Transport. Each subscriber has its own
// delivery goroutine, so handlers may publish from within a delivery.
type MemoryBus struct {
	mu     sync.RWMutex
	queues map[string][]*memorySub
	closed bool
	next   int
	wg     sync.WaitGroup
}

type memorySub struct {
	bus   *MemoryBus
	queue string
	fn    MessageHandler
	ctx   context.Context

	mu       sync.Mutex
	backlog  []Message
	draining bool
}

// NewMemoryBus creates an empty bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{queues: map[string][]*memorySub{}}
}

// Publish delivers msg to one subscriber of msg.RoutingKey, round robin.
func (b *MemoryBus) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrNotConnected
	}
	subs := b.queues[msg.RoutingKey]
	if len(subs) == 0 {
		b.mu.Unlock()
		return ErrUnroutable
	}
	sub := subs[b.next%len(subs)]
	b.next++
	b.wg.Add(1)
	b.mu.Unlock()

	msg.Body = append([]byte(nil), msg.Body...)
	sub.enqueue(msg)
	return nil
}

// enqueue hands msg to the subscriber's drain goroutine, starting one when
// none runs. Messages reach a subscriber in publish order.
func (s *memorySub) enqueue(msg Message) {
	s.mu.Lock()
	s.backlog = append(s.backlog, msg)
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()
	go s.drain()
}

func (s *memorySub) drain() {
	for {
		s.mu.Lock()
		if len(s.backlog) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		msg := s.backlog[0]
		s.backlog = s.backlog[1:]
		s.mu.Unlock()

		if s.ctx.Err() != nil {
			slog.Debug("Dropping message for cancelled subscriber", "queue", s.queue)
		} else {
			s.fn(s.ctx, msg)
		}
		s.bus.wg.Done()
	}
}

// Subscribe registers fn as a consumer of queue until the subscription or
// ctx ends.
func (b *MemoryBus) Subscribe(ctx context.Context, queue string, fn MessageHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrNotConnected
	}
	sub := &memorySub{bus: b, queue: queue, fn: fn, ctx: ctx}
	b.queues[queue] = append(b.queues[queue], sub)
	return sub, nil
}

// Close refuses further traffic and waits for running deliveries.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.queues = map[string][]*memorySub{}
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

// Subscribers returns the number of consumers of queue
func (b *MemoryBus) Subscribers(queue string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.queues[queue])
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.queues[s.queue]
	for i, other := range subs {
		if other == s {
			s.bus.queues[s.queue] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(s.bus.queues[s.queue]) == 0 {
		delete(s.bus.queues, s.queue)
	}
	return nil
}

// Dial connects the transport named by cfg.Transport. name identifies the
// connection on the broker.
func Dial(cfg config.RPCConfig, name string) (Transport, error) {
	switch cfg.Transport {
	case "nats", "":
		return DialNATS(cfg.URL, name)
	case "amqp":
		return DialAMQP(cfg.URL, cfg.Exchange, cfg.PoolSize)
	default:
		return nil, fmt.Errorf("unsupported rpc transport: %s (supported: nats, amqp)", cfg.Transport)
	}
}
