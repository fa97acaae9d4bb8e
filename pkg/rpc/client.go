package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/tendant/authcore/pkg/config"
	"github.com/tendant/authcore/pkg/errors"
	"github.com/tendant/authcore/pkg/metrics"
)

// Client publishes requests and matches replies arriving on its own reply
// queue by correlation id. Any number of calls may be in flight; replies
// may arrive in any order.
type Client struct {
	transport Transport
	replyTo   string
	sub       Subscription

	numRetry   int
	timeout    time.Duration
	retryDelay time.Duration
	clock      clock.Clock
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingCall
}

type pendingCall struct {
	status Status
	reply  Reply
	done   chan struct{}
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithClientClock sets the clock used for reply timeouts and retry delays
func WithClientClock(clk clock.Clock) ClientOption {
	return func(c *Client) { c.clock = clk }
}

// WithClientLogger sets the logger
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient subscribes a fresh reply queue named after cfg.AppLabel and
// returns a client using it.
func NewClient(ctx context.Context, transport Transport, cfg config.RPCConfig, opts ...ClientOption) (*Client, error) {
	c := &Client{
		transport:  transport,
		replyTo:    ReplyQueue(cfg.AppLabel, uuid.NewString()),
		numRetry:   cfg.NumRetry,
		timeout:    cfg.Timeout,
		retryDelay: cfg.RetryDelay,
		clock:      clock.WallClock,
		logger:     slog.Default(),
		pending:    map[string]*pendingCall{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}
	if c.retryDelay <= 0 {
		c.retryDelay = 100 * time.Millisecond
	}

	sub, err := transport.Subscribe(ctx, c.replyTo, c.onReply)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindRpcUnavailable, "failed to subscribe reply queue")
	}
	c.sub = sub
	c.logger.Info("RPC client ready", "reply_to", c.replyTo)
	return c, nil
}

// ReplyTo returns the name of the client's reply queue
func (c *Client) ReplyTo() string {
	return c.replyTo
}

// Pending returns the number of calls waiting for a reply
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stops consuming replies. Calls still waiting time out.
func (c *Client) Close() error {
	return c.sub.Unsubscribe()
}

// Call sends req to routingKey and returns the result of the first
// successful reply. Publishing errors and attempts without a reply are
// retried with doubling delays up to the configured number of retries;
// exhaustion yields RpcUnavailable, wrapping the last publish error or
// RpcTimeout. A FAILURE reply is returned at once with the remote error
// kind.
func (c *Client) Call(ctx context.Context, routingKey string, req Request) (json.RawMessage, error) {
	start := time.Now()
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to encode request")
	}

	var (
		result     json.RawMessage
		lastErr    error
		lastStatus Status
	)
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			r, status, err := c.attempt(ctx, routingKey, body)
			lastStatus = status
			if err != nil {
				lastErr = err
				return err
			}
			result = r
			return nil
		},
		IsFatalError: func(err error) bool {
			return !errors.IsKind(err, errors.KindRpcUnavailable) && !errors.IsKind(err, errors.KindRpcTimeout)
		},
		NotifyFunc: func(err error, attempt int) {
			c.logger.Debug("RPC attempt failed", "routing_key", routingKey, "attempt", attempt, "err", err)
		},
		Attempts:    c.numRetry + 1,
		Delay:       c.retryDelay,
		MaxDelay:    c.timeout,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.clock,
		Stop:        ctx.Done(),
	})
	metrics.RPCCallDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
	case ctx.Err() != nil:
		lastStatus, err = "CANCELLED", errors.Wrap(ctx.Err(), errors.KindRpcTimeout, "call cancelled")
	case retry.IsAttemptsExceeded(err) && errors.IsKind(lastErr, errors.KindRpcTimeout):
		err = errors.Wrapf(lastErr, errors.KindRpcUnavailable, "no reply from %s after %d attempts", routingKey, c.numRetry+1)
	case lastErr != nil:
		// retry wraps fatal errors without Unwrap; keep the remote kind
		err = lastErr
	}
	metrics.RPCCalls.WithLabelValues(routingKey, string(lastStatus)).Inc()
	if err != nil {
		c.logger.Warn("RPC call failed", "routing_key", routingKey, "status", lastStatus, "err", err)
		return nil, err
	}
	return result, nil
}

func (c *Client) attempt(ctx context.Context, routingKey string, body []byte) (json.RawMessage, Status, error) {
	id := uuid.NewString()
	call := &pendingCall{status: StatusInited, done: make(chan struct{})}
	c.mu.Lock()
	c.pending[id] = call
	c.mu.Unlock()
	defer c.forget(id)

	pubCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := c.transport.Publish(pubCtx, Message{
		RoutingKey:    routingKey,
		CorrelationID: id,
		ReplyTo:       c.replyTo,
		ContentType:   ContentTypeJSON,
		Expiration:    c.timeout,
		Body:          body,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, StatusInited, ctx.Err()
		}
		status := StatusFailPublish
		if errors.Is(err, ErrNotConnected) {
			status = StatusFailConn
		}
		c.advance(id, status)
		return nil, status, errors.Wrapf(err, errors.KindRpcUnavailable, "failed to publish to %s", routingKey)
	}

	select {
	case <-call.done:
	case <-c.clock.After(c.timeout):
		return nil, c.statusOf(call), errors.Newf(errors.KindRpcTimeout, "no reply from %s within %s", routingKey, c.timeout)
	case <-ctx.Done():
		return nil, c.statusOf(call), ctx.Err()
	}

	c.mu.Lock()
	status, reply := call.status, call.reply
	c.mu.Unlock()
	switch status {
	case StatusSuccess:
		return reply.Result, status, nil
	case StatusFailure:
		return nil, status, reply.Err()
	default:
		return nil, status, errors.Newf(errors.KindInternal, "invalid reply sequence from %s", routingKey)
	}
}

func (c *Client) statusOf(call *pendingCall) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return call.status
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// advance records a status the client reached on its own, such as a
// failed publish.
func (c *Client) advance(id string, next Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if call, ok := c.pending[id]; ok {
		c.transition(id, call, next, Reply{Status: next})
	}
}

func (c *Client) onReply(_ context.Context, msg Message) {
	var reply Reply
	if err := json.Unmarshal(msg.Body, &reply); err != nil {
		c.logger.Warn("Dropping undecodable reply", "correlation_id", msg.CorrelationID, "err", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.pending[msg.CorrelationID]
	if !ok {
		c.logger.Debug("Reply for unknown correlation id", "correlation_id", msg.CorrelationID)
		return
	}
	next := reply.inferStatus()
	if reply.Status == "" && call.status == StatusInited {
		call.status = StatusStarted
	}
	c.transition(msg.CorrelationID, call, next, reply)
}

// transition must be called with c.mu held.
func (c *Client) transition(id string, call *pendingCall, next Status, reply Reply) {
	if call.status.Finished() {
		return
	}
	prev := call.status
	call.status = prev.Next(next)
	if call.status == StatusInvalidStatusTransition {
		c.logger.Warn("Invalid reply status transition", "correlation_id", id, "from", prev, "to", next)
	} else {
		call.reply = reply
	}
	if call.status.Finished() {
		delete(c.pending, id)
		close(call.done)
	}
}
