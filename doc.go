// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package psrpc provides request/reply RPC on top of publish/subscribe
// transports that offer no correlation or response routing of their own.
//
// # Protocol
//
// A call generates a random identifier, subscribes to the response topic
// "<topic>/<base64url(id)>", publishes {id, params} to the request topic
// and waits for the first response or the timeout, whichever comes first.
// A registered handler replies on "<matched topic>/<base64url(id)>" and
// suppresses re-delivered requests with a bounded DedupCache.
//
// # Transport Selection
//
// Transports are selected by URL scheme. The in-process bus is always
// available; the others register themselves when their package is imported:
//
//	import _ "github.com/luxfi/psrpc/transport/redisps" // redis://
//	import _ "github.com/luxfi/psrpc/transport/amqpps"  // amqp://, amqps://
//	import _ "github.com/luxfi/psrpc/transport/grpcps"  // grpc://
//
// # Usage
//
// Handler side:
//
//	conn, err := psrpc.Open(ctx, "redis://localhost:6379/0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	reg, err := psrpc.Register(ctx, conn, "svc/add",
//	    func(ctx context.Context, p AddParams, topic string) (AddResult, error) {
//	        return AddResult{C: p.A + p.B}, nil
//	    })
//	defer reg.Close(ctx)
//
// Caller side:
//
//	res, err := psrpc.Call[AddParams, AddResult](ctx, conn, "svc/add",
//	    AddParams{A: 2, B: 3}, psrpc.WithTimeout(time.Second))
//
// # Architecture
//
//   - client.go: PubSub/Conn/Subscription interfaces, handler types and options
//   - subscription.go: per-handler unsubscribe handles for transports
//   - call.go: the call initiator
//   - register.go: the handler registrar
//   - dedup.go: duplicate-suppression cache
//   - id.go: identifiers, response topics, wildcard matching
//   - envelope.go: request/response envelopes
//   - codec.go: MessagePack, CBOR and JSON codecs
//   - transport.go, dial.go: transport registry and Open
//   - memory.go: in-process transport
//   - json.go: HTTP JSON-RPC bridge
//   - metrics.go: Prometheus instrumentation
//
// Delivery guarantees are always the transport's. The package never retries
// a call; callers own retry policy and the registrar's DedupCache makes
// re-sent identifiers safe within its window.
package psrpc
