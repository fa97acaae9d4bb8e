package rpc

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tendant/authcore/pkg/errors"
)

const (
	ContentTypeJSON = "application/json"

	// ReplyQueuePrefix starts every client reply queue name.
	ReplyQueuePrefix = "rpc.reply."
)

// RoutingKey returns the routing key of operation op served by service.
func RoutingKey(service, op string) string {
	return fmt.Sprintf("rpc.%s.%s", service, op)
}

// ReplyQueue returns a reply queue name for app ending with id.
func ReplyQueue(app, id string) string {
	return ReplyQueuePrefix + app + "." + id
}

// IsReplyQueue reports whether name is a client reply queue.
func IsReplyQueue(name string) bool {
	return strings.HasPrefix(name, ReplyQueuePrefix)
}

// Message is what travels on the bus: a routing key, the properties of the
// call and a JSON body.
type Message struct {
	RoutingKey    string
	CorrelationID string
	ReplyTo       string
	ContentType   string
	// Expiration is how long the broker may hold the message. Zero means
	// no expiry.
	Expiration time.Duration
	Body       []byte
}

// Request is the body of a call.
type Request struct {
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// NewRequest builds a request with the given keyword arguments and no
// positional ones.
func NewRequest(kwargs map[string]any) Request {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return Request{Args: []any{}, Kwargs: kwargs}
}

// Kwarg decodes the keyword argument name into out.
func (r Request) Kwarg(name string, out any) error {
	v, ok := r.Kwargs[name]
	if !ok {
		return errors.Newf(errors.KindDecode, "missing argument %q", name)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, errors.KindDecode, "invalid argument %q", name)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, errors.KindDecode, "invalid argument %q", name)
	}
	return nil
}

// ReplyError describes a failure reported by the remote side.
type ReplyError struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Reply is the body of a reply. A server sends a STARTED reply when it
// picks a request up, then exactly one SUCCESS or FAILURE reply.
type Reply struct {
	Status Status          `json:"status,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ReplyError     `json:"error,omitempty"`
}

// Err turns a failure reply into an *errors.Error carrying the remote kind.
func (r Reply) Err() error {
	if r.Error == nil {
		return nil
	}
	kind := errors.Kind(r.Error.Kind)
	if kind == "" {
		kind = errors.KindInternal
	}
	return errors.New(kind, r.Error.Detail)
}

// Status is the progress of one call as seen by the client.
type Status string

const (
	StatusInited                  Status = "INITED"
	StatusStarted                 Status = "STARTED"
	StatusSuccess                 Status = "SUCCESS"
	StatusFailure                 Status = "FAILURE"
	StatusFailConn                Status = "FAIL_CONN"
	StatusFailPublish             Status = "FAIL_PUBLISH"
	StatusInvalidStatusTransition Status = "INVALID_STATUS_TRANSITION"
)

var validTransitions = map[Status][]Status{
	StatusInited:  {StatusStarted, StatusFailConn, StatusFailPublish},
	StatusStarted: {StatusSuccess, StatusFailure},
}

// Finished reports whether no further reply is expected.
func (s Status) Finished() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusFailConn, StatusFailPublish, StatusInvalidStatusTransition:
		return true
	}
	return false
}

// Next returns the status after moving to next, which is
// INVALID_STATUS_TRANSITION when the move is not allowed.
func (s Status) Next(next Status) Status {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return next
		}
	}
	return StatusInvalidStatusTransition
}

// inferStatus fills in the status of replies from servers that only send a
// final reply.
func (r Reply) inferStatus() Status {
	switch {
	case r.Status != "":
		return r.Status
	case r.Error != nil:
		return StatusFailure
	default:
		return StatusSuccess
	}
}
