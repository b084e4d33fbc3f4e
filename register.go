// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psrpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Registration is a handler subscribed to a topic pattern.
type Registration struct {
	sub     Subscription
	pattern string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

// Pattern returns the subscribed topic pattern.
func (r *Registration) Pattern() string { return r.pattern }

// Close removes this handler from the transport and cancels the context of
// invocations still running. Other subscribers on the same pattern are
// unaffected. Close does not wait for invocations to return.
func (r *Registration) Close(ctx context.Context) error {
	var err error
	r.once.Do(func() {
		r.cancel()
		err = r.sub.Unsubscribe(ctx)
	})
	return err
}

// Wait blocks until every in-flight handler invocation has finished.
func (r *Registration) Wait() { r.wg.Wait() }

// Register subscribes handler to pattern, which may contain transport
// wildcards.
//
// Each inbound message is decoded and checked against the registration's
// DedupCache before the handler runs, so a re-delivered identifier executes
// at most once. Malformed messages and duplicates are dropped without a
// reply. The handler's result or failure is published on
// "<matched topic>/<base64url(id)>". Handler failures and panics never end
// the subscription.
func Register[P, R any](ctx context.Context, ps PubSub, pattern string, handler Handler[P, R], opts ...RegisterOption) (*Registration, error) {
	o := newRegisterOptions(opts)
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	reg := &Registration{pattern: pattern, cancel: cancel}
	logger := o.logger.With("pattern", pattern)
	d := &dispatcher[P, R]{ctx: hctx, ps: ps, handler: handler, pattern: pattern, o: o, logger: logger}

	onMessage := func(_ context.Context, payload []byte, topic string) {
		req, err := decodeRequest[P](o.codec, payload)
		if err != nil {
			logger.Warn("psrpc: dropping message", "topic", topic, "error", err)
			o.metrics.observeHandled(pattern, outcomeMalformed)
			return
		}
		strID := EncodeID(req.ID)
		if o.dedup.CheckAndPut(strID) {
			logger.Debug("psrpc: duplicate request suppressed", "topic", topic, "id", strID)
			o.metrics.observeHandled(pattern, outcomeDuplicate)
			return
		}

		reg.wg.Add(1)
		go func() {
			defer reg.wg.Done()
			d.serve(req.Params, topic, strID)
		}()
	}

	sub, err := ps.Subscribe(ctx, pattern, onMessage)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	reg.sub = sub
	return reg, nil
}

type dispatcher[P, R any] struct {
	ctx     context.Context
	ps      PubSub
	handler Handler[P, R]
	pattern string
	o       *registerOptions
	logger  *slog.Logger
}

func (d *dispatcher[P, R]) serve(params P, topic, strID string) {
	ctx, o, logger := d.ctx, d.o, d.logger
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			logger.Warn("psrpc: rate limiter aborted request", "topic", topic, "id", strID, "error", err)
			return
		}
	}

	result, herr := invoke(ctx, d.handler, params, topic)
	if herr != nil {
		logger.Debug("psrpc: handler failed", "topic", topic, "id", strID, "error", herr)
		o.metrics.observeHandled(d.pattern, outcomeError)
	} else {
		o.metrics.observeHandled(d.pattern, outcomeOK)
	}

	payload, err := encodeResponse(o.codec, result, herr)
	if err != nil {
		logger.Error("psrpc: cannot encode response", "topic", topic, "id", strID, "error", err)
		return
	}
	if err := d.ps.Publish(ctx, topic+"/"+strID, payload); err != nil {
		logger.Error("psrpc: cannot publish response", "topic", topic, "id", strID, "error", err)
	}
}

// invoke runs handler, converting a panic into a handler failure.
func invoke[P, R any](ctx context.Context, handler Handler[P, R], params P, topic string) (result interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			result, err = nil, fmt.Errorf("handler panic: %v", p)
		}
	}()
	r, err := handler(ctx, params, topic)
	if err != nil {
		return nil, err
	}
	return r, nil
}
