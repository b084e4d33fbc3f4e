// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psrpc

import (
	"context"
	"fmt"
	"time"
)

// Call invokes the operation served on topic and waits for its response.
//
// The response topic is subscribed before the request is published. The
// first message on it wins; later messages are ignored. If nothing arrives
// within the timeout, Call fails with a *TimeoutError. A handler failure is
// returned as a *RemoteError. Call never retries.
func Call[P, R any](ctx context.Context, ps PubSub, topic string, params P, opts ...CallOption) (R, error) {
	var zero R
	o := newCallOptions(opts)
	start := time.Now()

	id := NewID(o.IDSize)
	respTopic := ResponseTopic(topic, id)

	respCh := make(chan []byte, 1)
	onResponse := func(_ context.Context, payload []byte, _ string) {
		select {
		case respCh <- payload:
		default:
		}
	}
	sub, err := ps.Subscribe(ctx, respTopic, onResponse)
	if err != nil {
		return zero, fmt.Errorf("subscribe %s: %w", respTopic, err)
	}
	defer unsubscribe(ctx, sub, o)

	payload, err := encodeRequest(o.codec, id, params)
	if err != nil {
		return zero, err
	}
	if err := ps.Publish(ctx, topic, payload); err != nil {
		return zero, fmt.Errorf("publish %s: %w", topic, err)
	}

	timer := time.NewTimer(o.Timeout)
	defer timer.Stop()

	select {
	case msg := <-respCh:
		result, err := decodeResponse[R](o.codec, topic, msg)
		o.metrics.observeCall(topic, err, time.Since(start))
		return result, err
	case <-timer.C:
		err := &TimeoutError{Topic: topic, Params: params, Options: o.CallOptions, ID: id}
		o.metrics.observeCall(topic, err, time.Since(start))
		return zero, err
	case <-ctx.Done():
		o.metrics.observeCall(topic, ctx.Err(), time.Since(start))
		return zero, ctx.Err()
	}
}

// unsubscribe is best-effort cleanup. It runs exactly once per call, after
// the caller's context may already be done.
func unsubscribe(ctx context.Context, sub Subscription, o *callOptions) {
	if err := sub.Unsubscribe(context.WithoutCancel(ctx)); err != nil {
		o.logger.Warn("psrpc: unsubscribe failed", "topic", sub.Topic(), "error", err)
	}
}
