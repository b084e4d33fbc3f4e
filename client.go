// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psrpc

import (
	"context"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// PubSub is the transport capability set the correlation layer consumes.
// Implementations must report the literal topic a message arrived on, which
// may differ from the subscribed pattern when wildcards are in use.
type PubSub interface {
	// Publish sends payload to topic
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe delivers messages matching topic to handler. It returns
	// once the subscription is active.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Unsubscribe removes every handler subscribed to topic
	Unsubscribe(ctx context.Context, topic string) error
}

// Subscription is one active Subscribe call. Its Unsubscribe removes only
// that handler, leaving other subscribers on the same topic in place, and
// is idempotent.
type Subscription interface {
	Topic() string
	Unsubscribe(ctx context.Context) error
}

// Conn is a PubSub backed by a closable connection.
type Conn interface {
	PubSub
	io.Closer
}

// MessageHandler receives a raw payload and the topic it was published on.
type MessageHandler func(ctx context.Context, payload []byte, topic string)

// Handler serves one remote operation. topic is the concrete topic the
// request arrived on.
type Handler[P, R any] func(ctx context.Context, params P, topic string) (R, error)

// Codec encodes/decodes RPC envelopes
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

const (
	DefaultTimeout   = 10 * time.Second
	DefaultIDSize    = 16
	DefaultDedupSize = 100
)

// CallOptions is the effective configuration of a single call.
type CallOptions struct {
	Timeout time.Duration
	IDSize  int
}

// CallOption configures a call. Options only override the fields they set.
type CallOption func(*callOptions)

type callOptions struct {
	CallOptions
	codec   Codec
	logger  *slog.Logger
	metrics *Metrics
}

func newCallOptions(opts []CallOption) *callOptions {
	o := &callOptions{
		CallOptions: CallOptions{
			Timeout: DefaultTimeout,
			IDSize:  DefaultIDSize,
		},
		codec:  defaultCodec,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithTimeout sets how long a call waits for its response.
// Non-positive values keep the default.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithIDSize sets the length in bytes of the call identifier.
// Non-positive values keep the default.
func WithIDSize(n int) CallOption {
	return func(o *callOptions) {
		if n > 0 {
			o.IDSize = n
		}
	}
}

// WithCodec sets a custom codec
func WithCodec(c Codec) CallOption {
	return func(o *callOptions) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithLogger sets the logger used for best-effort cleanup failures
func WithLogger(l *slog.Logger) CallOption {
	return func(o *callOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCallMetrics records call outcomes in m
func WithCallMetrics(m *Metrics) CallOption {
	return func(o *callOptions) { o.metrics = m }
}

// RegisterOption configures a handler registration
type RegisterOption func(*registerOptions)

type registerOptions struct {
	dedup   *DedupCache
	codec   Codec
	logger  *slog.Logger
	limiter *rate.Limiter
	metrics *Metrics
}

func newRegisterOptions(opts []RegisterOption) *registerOptions {
	o := &registerOptions{
		codec:  defaultCodec,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.dedup == nil {
		o.dedup = NewDedupCache(DefaultDedupSize)
	}
	return o
}

// WithDedupCache shares c between registrations. By default every
// registration owns a cache of DefaultDedupSize entries.
func WithDedupCache(c *DedupCache) RegisterOption {
	return func(o *registerOptions) { o.dedup = c }
}

// WithServerCodec sets a custom codec for the registration
func WithServerCodec(c Codec) RegisterOption {
	return func(o *registerOptions) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithServerLogger sets the logger for dropped and failed messages
func WithServerLogger(l *slog.Logger) RegisterOption {
	return func(o *registerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRateLimit makes the registration wait on l before each handler
// invocation.
func WithRateLimit(l *rate.Limiter) RegisterOption {
	return func(o *registerOptions) { o.limiter = l }
}

// WithServerMetrics records handled messages in m
func WithServerMetrics(m *Metrics) RegisterOption {
	return func(o *registerOptions) { o.metrics = m }
}
