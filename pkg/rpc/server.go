package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/tendant/authcore/pkg/errors"
)

// HandlerFunc serves one operation. The returned value becomes the reply
// result; a returned error becomes a FAILURE reply carrying its kind.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

// Server consumes the queues of its registered routing keys and answers
// every request on the request's reply_to queue. Requests are served
// concurrently.
type Server struct {
	transport Transport
	replyTTL  time.Duration
	logger    *slog.Logger
	handlers  map[string]HandlerFunc

	mu      sync.Mutex
	stopped bool
	subs    []Subscription
	tomb    tomb.Tomb
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithReplyTTL sets the expiration of reply messages
func WithReplyTTL(d time.Duration) ServerOption {
	return func(s *Server) { s.replyTTL = d }
}

// WithServerLogger sets the logger
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a server on transport. Register handlers with Handle
// before calling Start.
func NewServer(transport Transport, opts ...ServerOption) *Server {
	s := &Server{
		transport: transport,
		replyTTL:  25 * time.Second,
		logger:    slog.Default(),
		handlers:  map[string]HandlerFunc{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers fn for routingKey
func (s *Server) Handle(routingKey string, fn HandlerFunc) {
	s.handlers[routingKey] = fn
}

// RoutingKeys returns the registered routing keys in order
func (s *Server) RoutingKeys() []string {
	keys := make([]string, 0, len(s.handlers))
	for k := range s.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Start subscribes every registered routing key.
func (s *Server) Start(ctx context.Context) error {
	s.tomb.Go(func() error {
		<-s.tomb.Dying()
		return nil
	})
	ctx = s.tomb.Context(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.RoutingKeys() {
		sub, err := s.transport.Subscribe(ctx, key, s.deliver(key, s.handlers[key]))
		if err != nil {
			s.unsubscribeLocked()
			return errors.Wrapf(err, errors.KindRpcUnavailable, "failed to subscribe %s", key)
		}
		s.subs = append(s.subs, sub)
		s.logger.Info("Serving RPC operation", "routing_key", key)
	}
	return nil
}

// Stop unsubscribes and waits for requests being served.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.unsubscribeLocked()
	s.mu.Unlock()
	s.tomb.Kill(nil)
	return s.tomb.Wait()
}

func (s *Server) unsubscribeLocked() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("Failed to unsubscribe", "err", err)
		}
	}
	s.subs = nil
}

func (s *Server) deliver(key string, fn HandlerFunc) MessageHandler {
	return func(ctx context.Context, msg Message) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped {
			return
		}
		s.tomb.Go(func() error {
			s.serve(ctx, key, fn, msg)
			return nil
		})
	}
}

func (s *Server) serve(ctx context.Context, key string, fn HandlerFunc, msg Message) {
	if msg.ReplyTo == "" {
		s.logger.Warn("Dropping request without reply_to", "routing_key", key, "correlation_id", msg.CorrelationID)
		return
	}
	s.reply(ctx, msg, Reply{Status: StatusStarted})

	var req Request
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		s.reply(ctx, msg, failure(errors.Wrap(err, errors.KindDecode, "malformed request body")))
		return
	}
	result, err := fn(ctx, req)
	if err != nil {
		s.logger.Info("RPC operation failed", "routing_key", key, "kind", errors.KindOf(err), "err", err)
		s.reply(ctx, msg, failure(err))
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		s.reply(ctx, msg, failure(errors.Wrap(err, errors.KindInternal, "failed to encode result")))
		return
	}
	s.reply(ctx, msg, Reply{Status: StatusSuccess, Result: raw})
}

func (s *Server) reply(ctx context.Context, req Message, reply Reply) {
	body, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error("Failed to encode reply", "err", err)
		return
	}
	err = s.transport.Publish(ctx, Message{
		RoutingKey:    req.ReplyTo,
		CorrelationID: req.CorrelationID,
		ContentType:   ContentTypeJSON,
		Expiration:    s.replyTTL,
		Body:          body,
	})
	if err != nil {
		s.logger.Warn("Failed to publish reply", "reply_to", req.ReplyTo, "status", reply.Status, "err", err)
	}
}

// failure builds a FAILURE reply. Only the messages of kinded errors
// leave the process.
func failure(err error) Reply {
	detail := "internal error"
	var e *errors.Error
	if errors.As(err, &e) {
		detail = e.Message
	}
	return Reply{
		Status: StatusFailure,
		Error:  &ReplyError{Kind: string(errors.KindOf(err)), Detail: detail},
	}
}
