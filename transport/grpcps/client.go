// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package grpcps links a process to a remote Gateway over gRPC. Importing it
// registers the "grpc" transport scheme.
package grpcps

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/luxfi/psrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var errMissingAck = errors.New("grpcps: subscription stream did not start with an ack")

func init() {
	// Register gRPC transport when the package is imported
	psrpc.RegisterTransport(psrpc.TransportGRPC, openGRPC)
}

func openGRPC(_ context.Context, u *url.URL) (psrpc.Conn, error) {
	return Dial(u.Host)
}

// Client implements psrpc.Conn against a remote Gateway.
type Client struct {
	conn *grpc.ClientConn
	own  bool

	mu   sync.Mutex
	subs map[string][]*stream
}

// stream is the delivery stream behind one Subscribe call.
type stream struct {
	cancel context.CancelFunc
}

// Dial connects to the gateway at target. Without options the connection
// uses insecure transport credentials.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	c := NewClient(conn)
	c.own = true
	return c, nil
}

// NewClient wraps an existing connection. Close does not close conn.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn, subs: make(map[string][]*stream)}
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	req := &PublishRequest{Topic: topic, Payload: payload}
	return c.conn.Invoke(ctx, publishMethod, req, new(PublishResponse), callContentSubtype)
}

// Subscribe opens a delivery stream and returns once the gateway acked it.
// handler runs on the stream's receive goroutine. The returned handle ends
// this stream only.
func (c *Client) Subscribe(ctx context.Context, topic string, handler psrpc.MessageHandler) (psrpc.Subscription, error) {
	sctx, cancel := context.WithCancel(context.Background())
	cs, err := c.conn.NewStream(sctx, &serviceDesc.Streams[0], subscribeMethod, callContentSubtype)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if err := cs.SendMsg(&SubscribeRequest{Topic: topic}); err != nil {
		cancel()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}
	if err := cs.CloseSend(); err != nil {
		cancel()
		return nil, fmt.Errorf("close send: %w", err)
	}

	acked := make(chan error, 1)
	go func() {
		var d Delivery
		err := cs.RecvMsg(&d)
		if err == nil && !d.Ack {
			err = errMissingAck
		}
		acked <- err
	}()
	select {
	case err := <-acked:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	st := &stream{cancel: cancel}
	c.mu.Lock()
	c.subs[topic] = append(c.subs[topic], st)
	c.mu.Unlock()

	go func() {
		for {
			var d Delivery
			if err := cs.RecvMsg(&d); err != nil {
				return
			}
			handler(sctx, d.Payload, d.Topic)
		}
	}()
	return psrpc.NewSubscription(topic, func(context.Context) error {
		c.remove(topic, st)
		st.cancel()
		return nil
	}), nil
}

func (c *Client) remove(topic string, st *stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	streams := c.subs[topic]
	for i, s := range streams {
		if s == st {
			streams = append(streams[:i:i], streams[i+1:]...)
			break
		}
	}
	if len(streams) == 0 {
		delete(c.subs, topic)
		return
	}
	c.subs[topic] = streams
}

func (c *Client) Unsubscribe(_ context.Context, topic string) error {
	c.mu.Lock()
	streams := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()
	for _, st := range streams {
		st.cancel()
	}
	return nil
}

// Close ends every subscription and, for clients created by Dial, the
// connection.
func (c *Client) Close() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string][]*stream)
	c.mu.Unlock()
	for _, streams := range subs {
		for _, st := range streams {
			st.cancel()
		}
	}
	if c.own {
		return c.conn.Close()
	}
	return nil
}
