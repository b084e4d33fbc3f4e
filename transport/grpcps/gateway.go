// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcps

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/luxfi/psrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	serviceName     = "psrpc.v1.Gateway"
	publishMethod   = "/" + serviceName + "/Publish"
	subscribeMethod = "/" + serviceName + "/Subscribe"

	// deliveryBuffer bounds the frames queued per stream; a slower stream
	// loses messages, as it would on a lossy transport.
	deliveryBuffer = 256
)

type gatewayServer interface {
	publish(ctx context.Context, req *PublishRequest) (*PublishResponse, error)
	subscribe(req *SubscribeRequest, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*gatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "psrpc/gateway",
}

func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PublishRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	g := srv.(gatewayServer)
	if interceptor == nil {
		return g.publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: publishMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return g.publish(ctx, req.(*PublishRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(gatewayServer).subscribe(in, stream)
}

// Gateway exposes a local PubSub to remote Clients over gRPC. Streams
// subscribed to the same topic share one subscription on the local
// transport. Delivery guarantees are the local transport's.
type Gateway struct {
	ps     psrpc.PubSub
	logger *slog.Logger

	mu     sync.Mutex
	topics map[string]*topicStreams
}

// topicStreams is the gateway's local subscription on one topic and the
// remote streams it feeds, keyed by stream id.
type topicStreams struct {
	sub     psrpc.Subscription
	streams map[string]chan *Delivery
}

// NewGateway creates a gateway for ps.
func NewGateway(ps psrpc.PubSub, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		ps:     ps,
		logger: logger,
		topics: make(map[string]*topicStreams),
	}
}

// Register adds the gateway service to s.
func (g *Gateway) Register(s *grpc.Server) {
	s.RegisterService(&serviceDesc, g)
}

func (g *Gateway) publish(ctx context.Context, req *PublishRequest) (*PublishResponse, error) {
	if req.Topic == "" {
		return nil, status.Error(codes.InvalidArgument, "topic is required")
	}
	if err := g.ps.Publish(ctx, req.Topic, req.Payload); err != nil {
		return nil, status.Errorf(codes.Unavailable, "publish %s: %v", req.Topic, err)
	}
	return &PublishResponse{}, nil
}

func (g *Gateway) subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	if req.Topic == "" {
		return status.Error(codes.InvalidArgument, "topic is required")
	}
	ctx := stream.Context()
	id := uuid.NewString()
	frames := make(chan *Delivery, deliveryBuffer)

	if err := g.attach(ctx, req.Topic, id, frames); err != nil {
		return status.Errorf(codes.Unavailable, "subscribe %s: %v", req.Topic, err)
	}
	defer g.detach(req.Topic, id)

	if err := stream.SendMsg(&Delivery{Ack: true}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-frames:
			if err := stream.SendMsg(d); err != nil {
				return err
			}
		}
	}
}

// attach adds a stream to topic, subscribing the local transport for the
// first one. The lock is held across Subscribe so no stream is acked
// before the local subscription is active.
func (g *Gateway) attach(ctx context.Context, topic, id string, frames chan *Delivery) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts, ok := g.topics[topic]
	if !ok {
		sub, err := g.ps.Subscribe(ctx, topic, g.fanout(topic))
		if err != nil {
			return err
		}
		ts = &topicStreams{sub: sub, streams: make(map[string]chan *Delivery)}
		g.topics[topic] = ts
	}
	ts.streams[id] = frames
	return nil
}

// detach removes a stream. The last stream on a topic drops the gateway's
// own local subscription; local handlers on the same topic stay.
func (g *Gateway) detach(topic, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts, ok := g.topics[topic]
	if !ok {
		return
	}
	delete(ts.streams, id)
	if len(ts.streams) > 0 {
		return
	}
	delete(g.topics, topic)
	if err := ts.sub.Unsubscribe(context.Background()); err != nil {
		g.logger.Warn("grpcps: unsubscribe failed", "topic", topic, "error", err)
	}
}

func (g *Gateway) fanout(topic string) psrpc.MessageHandler {
	return func(_ context.Context, payload []byte, matched string) {
		d := &Delivery{Topic: matched, Payload: payload}
		g.mu.Lock()
		defer g.mu.Unlock()
		ts, ok := g.topics[topic]
		if !ok {
			return
		}
		for id, frames := range ts.streams {
			select {
			case frames <- d:
			default:
				g.logger.Warn("grpcps: stream buffer full, dropping message",
					"topic", matched, "stream", id)
			}
		}
	}
}
