package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/authcore/pkg/config"
	"github.com/tendant/authcore/pkg/errors"
	"github.com/tendant/authcore/pkg/profile"
	"github.com/tendant/authcore/pkg/token"
)

const echoKey = "rpc.test.echo"

func testConfig() config.RPCConfig {
	return config.RPCConfig{
		AppLabel:   "test",
		NumRetry:   2,
		Timeout:    200 * time.Millisecond,
		RetryDelay: 5 * time.Millisecond,
	}
}

func newClient(t *testing.T, bus Transport) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), bus, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func echoServer(t *testing.T, bus Transport, calls *atomic.Int32) *Server {
	t.Helper()
	srv := NewServer(bus)
	srv.Handle(echoKey, func(ctx context.Context, req Request) (any, error) {
		if calls != nil {
			calls.Add(1)
		}
		var n int
		if err := req.Kwarg("n", &n); err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, errors.New(errors.KindPermissionDenied, "negative")
		}
		return map[string]int{"n": n}, nil
	})
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

// rawConsumer collects requests without answering them.
func rawConsumer(t *testing.T, bus Transport, queue string) <-chan Message {
	t.Helper()
	ch := make(chan Message, 16)
	sub, err := bus.Subscribe(context.Background(), queue, func(_ context.Context, msg Message) {
		ch <- msg
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return ch
}

func sendReply(t *testing.T, bus Transport, req Message, reply Reply) {
	t.Helper()
	body, err := json.Marshal(reply)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), Message{
		RoutingKey:    req.ReplyTo,
		CorrelationID: req.CorrelationID,
		ContentType:   ContentTypeJSON,
		Body:          body,
	}))
}

func TestNames(t *testing.T) {
	assert.Equal(t, "rpc.user_management.get_profile", GetProfileKey)
	q := ReplyQueue("store", "abc")
	assert.Equal(t, "rpc.reply.store.abc", q)
	assert.True(t, IsReplyQueue(q))
	assert.False(t, IsReplyQueue(GetProfileKey))
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to, want Status
	}{
		{StatusInited, StatusStarted, StatusStarted},
		{StatusInited, StatusFailConn, StatusFailConn},
		{StatusInited, StatusFailPublish, StatusFailPublish},
		{StatusStarted, StatusSuccess, StatusSuccess},
		{StatusStarted, StatusFailure, StatusFailure},
		{StatusInited, StatusSuccess, StatusInvalidStatusTransition},
		{StatusStarted, StatusStarted, StatusInvalidStatusTransition},
		{StatusSuccess, StatusFailure, StatusInvalidStatusTransition},
		{StatusStarted, StatusFailConn, StatusInvalidStatusTransition},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.Next(tt.to))
		})
	}

	assert.False(t, StatusInited.Finished())
	assert.False(t, StatusStarted.Finished())
	assert.True(t, StatusSuccess.Finished())
	assert.True(t, StatusInvalidStatusTransition.Finished())
}

func TestClientServer(t *testing.T) {
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		bus := NewMemoryBus()
		echoServer(t, bus, nil)
		c := newClient(t, bus)

		raw, err := c.Call(ctx, echoKey, NewRequest(map[string]any{"n": 4}))
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":4}`, string(raw))
		assert.Zero(t, c.Pending())
	})

	t.Run("ConcurrentCalls", func(t *testing.T) {
		bus := NewMemoryBus()
		echoServer(t, bus, nil)
		c := newClient(t, bus)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				raw, err := c.Call(ctx, echoKey, NewRequest(map[string]any{"n": n}))
				if assert.NoError(t, err) {
					assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, n), string(raw))
				}
			}(i)
		}
		wg.Wait()
		assert.Zero(t, c.Pending())
	})

	t.Run("OutOfOrderReplies", func(t *testing.T) {
		bus := NewMemoryBus()
		requests := rawConsumer(t, bus, echoKey)
		c := newClient(t, bus)

		results := make([]json.RawMessage, 2)
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				raw, err := c.Call(ctx, echoKey, NewRequest(map[string]any{"n": i}))
				assert.NoError(t, err)
				results[i] = raw
			}(i)
		}

		first, second := <-requests, <-requests
		for _, req := range []Message{second, first} {
			var r Request
			require.NoError(t, json.Unmarshal(req.Body, &r))
			sendReply(t, bus, req, Reply{Status: StatusStarted})
			sendReply(t, bus, req, Reply{Status: StatusSuccess, Result: json.RawMessage(fmt.Sprintf(`{"n":%v}`, r.Kwargs["n"]))})
		}
		wg.Wait()
		assert.JSONEq(t, `{"n":0}`, string(results[0]))
		assert.JSONEq(t, `{"n":1}`, string(results[1]))
	})

	t.Run("FinalReplyWithoutStatus", func(t *testing.T) {
		bus := NewMemoryBus()
		requests := rawConsumer(t, bus, echoKey)
		c := newClient(t, bus)

		go func() {
			req := <-requests
			sendReply(t, bus, req, Reply{Result: json.RawMessage(`true`)})
		}()
		raw, err := c.Call(ctx, echoKey, NewRequest(nil))
		require.NoError(t, err)
		assert.Equal(t, "true", string(raw))
	})

	t.Run("RemoteFailureIsNotRetried", func(t *testing.T) {
		bus := NewMemoryBus()
		var calls atomic.Int32
		echoServer(t, bus, &calls)
		c := newClient(t, bus)

		_, err := c.Call(ctx, echoKey, NewRequest(map[string]any{"n": -1}))
		require.Error(t, err)
		assert.Equal(t, errors.KindPermissionDenied, errors.KindOf(err))
		assert.Equal(t, http.StatusForbidden, errors.HTTPStatus(errors.KindOf(err)))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("MissingArgument", func(t *testing.T) {
		bus := NewMemoryBus()
		echoServer(t, bus, nil)
		c := newClient(t, bus)

		_, err := c.Call(ctx, echoKey, NewRequest(nil))
		assert.True(t, errors.IsKind(err, errors.KindDecode))
	})

	t.Run("NoReplyRetriesThenUnavailable", func(t *testing.T) {
		bus := NewMemoryBus()
		requests := rawConsumer(t, bus, echoKey)
		c := newClient(t, bus)

		_, err := c.Call(ctx, echoKey, NewRequest(nil))
		require.Error(t, err)
		assert.Equal(t, errors.KindRpcUnavailable, errors.KindOf(err))
		assert.ErrorIs(t, err, errors.New(errors.KindRpcTimeout, ""))
		assert.Len(t, requests, testConfig().NumRetry+1)
		assert.Zero(t, c.Pending())
	})

	t.Run("RetryRecoversAfterLostReply", func(t *testing.T) {
		bus := NewMemoryBus()
		requests := rawConsumer(t, bus, echoKey)
		c := newClient(t, bus)

		go func() {
			<-requests
			req := <-requests
			sendReply(t, bus, req, Reply{Status: StatusStarted})
			sendReply(t, bus, req, Reply{Status: StatusSuccess, Result: json.RawMessage(`1`)})
		}()
		raw, err := c.Call(ctx, echoKey, NewRequest(nil))
		require.NoError(t, err)
		assert.Equal(t, "1", string(raw))
	})

	t.Run("UnroutableRetriesThenUnavailable", func(t *testing.T) {
		bus := NewMemoryBus()
		c := newClient(t, bus)

		_, err := c.Call(ctx, echoKey, NewRequest(nil))
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindRpcUnavailable))
		assert.ErrorIs(t, err, ErrUnroutable)
	})

	t.Run("ClosedBus", func(t *testing.T) {
		bus := NewMemoryBus()
		c := newClient(t, bus)
		require.NoError(t, bus.Close())

		_, err := c.Call(ctx, echoKey, NewRequest(nil))
		assert.True(t, errors.IsKind(err, errors.KindRpcUnavailable))
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("InvalidTransition", func(t *testing.T) {
		bus := NewMemoryBus()
		requests := rawConsumer(t, bus, echoKey)
		c := newClient(t, bus)

		go func() {
			req := <-requests
			sendReply(t, bus, req, Reply{Status: StatusSuccess, Result: json.RawMessage(`1`)})
		}()
		_, err := c.Call(ctx, echoKey, NewRequest(nil))
		require.Error(t, err)
		assert.Equal(t, errors.KindInternal, errors.KindOf(err))
		assert.Len(t, requests, 0)
	})

	t.Run("CancellationRemovesPendingCall", func(t *testing.T) {
		bus := NewMemoryBus()
		requests := rawConsumer(t, bus, echoKey)
		c := newClient(t, bus)

		cctx, cancel := context.WithCancel(ctx)
		go func() {
			<-requests
			cancel()
		}()
		_, err := c.Call(cctx, echoKey, NewRequest(nil))
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, c.Pending())
	})

	t.Run("MalformedRequest", func(t *testing.T) {
		bus := NewMemoryBus()
		echoServer(t, bus, nil)
		replies := rawConsumer(t, bus, "rpc.reply.test.raw")

		require.NoError(t, bus.Publish(ctx, Message{
			RoutingKey:    echoKey,
			CorrelationID: "c1",
			ReplyTo:       "rpc.reply.test.raw",
			Body:          []byte("{"),
		}))

		var got []Reply
		for i := 0; i < 2; i++ {
			select {
			case msg := <-replies:
				assert.Equal(t, "c1", msg.CorrelationID)
				var r Reply
				require.NoError(t, json.Unmarshal(msg.Body, &r))
				got = append(got, r)
			case <-time.After(time.Second):
				t.Fatal("no reply")
			}
		}
		assert.Equal(t, StatusStarted, got[0].Status)
		assert.Equal(t, StatusFailure, got[1].Status)
		assert.Equal(t, string(errors.KindDecode), got[1].Error.Kind)
	})

	t.Run("ServerStop", func(t *testing.T) {
		bus := NewMemoryBus()
		srv := NewServer(bus)
		srv.Handle(echoKey, func(ctx context.Context, req Request) (any, error) { return nil, nil })
		require.NoError(t, srv.Start(ctx))
		assert.Equal(t, 1, bus.Subscribers(echoKey))
		require.NoError(t, srv.Stop())
		assert.Equal(t, 0, bus.Subscribers(echoKey))
	})
}

type grantMap map[int]token.Grant

func (m grantMap) Grant(_ context.Context, id int) (token.Grant, error) {
	g, ok := m[id]
	if !ok {
		return token.Grant{}, errors.Newf(errors.KindPermissionDenied, "profile %d not found", id)
	}
	return g, nil
}

func TestProfileRPC(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	srv := NewServer(bus)
	srv.Handle(GetProfileKey, ProfileHandler(grantMap{
		7: {
			Profile: 7,
			Perms:   []token.Perm{{AppCode: 2, Codename: "view_product"}, {AppCode: 1, Codename: "add_profile"}},
			Quota:   []token.Quota{{AppCode: 1, MatCode: 1, MaxNum: 3}},
		},
		8: {Profile: 8},
	}))
	require.NoError(t, srv.Start(ctx))
	defer srv.Stop()

	pc := NewProfileClient(newClient(t, bus))

	t.Run("FetchProfile", func(t *testing.T) {
		grant, err := pc.FetchProfile(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, 7, grant.Profile)
		assert.Equal(t, []token.Perm{{AppCode: 1, Codename: "add_profile"}, {AppCode: 2, Codename: "view_product"}}, grant.Perms)
		assert.Equal(t, []token.Quota{{AppCode: 1, MatCode: 1, MaxNum: 3}}, grant.Quota)
	})

	t.Run("EmptyListsStayLists", func(t *testing.T) {
		grant, err := pc.FetchProfile(ctx, 8)
		require.NoError(t, err)
		assert.NotNil(t, grant.Perms)
		assert.NotNil(t, grant.Quota)
	})

	t.Run("UnknownProfile", func(t *testing.T) {
		_, err := pc.FetchProfile(ctx, 9)
		assert.True(t, errors.IsKind(err, errors.KindPermissionDenied))
	})

	t.Run("InvalidID", func(t *testing.T) {
		_, err := pc.FetchProfile(ctx, 0)
		assert.True(t, errors.IsKind(err, errors.KindDecode))
	})
}

func TestProfileRPCWithStore(t *testing.T) {
	ctx := context.Background()
	store, err := profile.NewFileStore(filepath.Join(t.TempDir(), "profiles.json"))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, profile.Record{
		ID:     3,
		Active: true,
		Perms:  []profile.PermRecord{{AppCode: 1, Codename: "view_profile"}},
		Quota:  []profile.QuotaRecord{{AppCode: 1, MatCode: 2, MaxNum: 10}},
	}))

	bus := NewMemoryBus()
	srv := NewServer(bus)
	srv.Handle(GetProfileKey, ProfileHandler(profile.NewService(store)))
	require.NoError(t, srv.Start(ctx))
	defer srv.Stop()

	grant, err := NewProfileClient(newClient(t, bus)).FetchProfile(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []token.Quota{{AppCode: 1, MatCode: 2, MaxNum: 10}}, grant.Quota)
}
