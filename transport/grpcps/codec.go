// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcps

import (
	"github.com/luxfi/psrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype of gateway messages.
const codecName = "psrpc-msgpack"

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}

// msgpackCodec carries gateway messages as MessagePack, so the service
// needs no generated protobuf types.
type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return psrpc.MsgpackCodec{}.Encode(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return psrpc.MsgpackCodec{}.Decode(data, v)
}

func (msgpackCodec) Name() string { return codecName }

var callContentSubtype = grpc.CallContentSubtype(codecName)

// PublishRequest publishes Payload on Topic.
type PublishRequest struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

// PublishResponse acknowledges a publish.
type PublishResponse struct{}

// SubscribeRequest opens a delivery stream for Topic, which may be a
// wildcard pattern.
type SubscribeRequest struct {
	Topic string `json:"topic"`
}

// Delivery is one frame of a subscription stream. The first frame of every
// stream has Ack set and carries no message; it is sent once the
// subscription is active.
type Delivery struct {
	Ack     bool   `json:"ack,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}
