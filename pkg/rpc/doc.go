// Package rpc implements request/reply calls between services over a
// message bus.
//
// A call is published under the routing key rpc.<service>.<operation>
// with a fresh correlation id and the caller's reply queue
// (rpc.reply.<app>.<uuid>) as reply_to. The server answers on that queue
// with a STARTED reply and then a SUCCESS or FAILURE reply carrying the
// same correlation id:
//
//	request: {"args": [], "kwargs": {"id": 7}}
//	reply:   {"status": "SUCCESS", "result": {...}}
//	reply:   {"status": "FAILURE", "error": {"kind": "PermissionDenied", "detail": "..."}}
//
// Transport implementations: NATSTransport (core NATS subjects with
// headers for properties), AMQPTransport (direct exchange, exclusive reply
// queues, pooled publishing channels) and MemoryBus for tests.
//
// Claim refresh is one such call:
//
//	client, _ := rpc.NewClient(ctx, transport, settings.RPC)
//	grant, err := rpc.NewProfileClient(client).FetchProfile(ctx, 7)
package rpc
