// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psrpc

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Call outcomes
const (
	outcomeOK       = "ok"
	outcomeRemote   = "remote_error"
	outcomeTimeout  = "timeout"
	outcomeCanceled = "canceled"
	outcomeFailed   = "failed"
)

// Handled message outcomes
const (
	outcomeError     = "error"
	outcomeDuplicate = "duplicate"
	outcomeMalformed = "malformed"
)

// Metrics instruments calls and handled messages. A nil *Metrics records
// nothing.
type Metrics struct {
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	handled      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "psrpc",
			Name:      "calls_total",
			Help:      "Completed calls by request topic and outcome.",
		}, []string{"topic", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "psrpc",
			Name:      "call_duration_seconds",
			Help:      "Time from publish to response or timeout.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"topic"}),
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "psrpc",
			Name:      "handled_messages_total",
			Help:      "Inbound request messages by registration pattern and outcome.",
		}, []string{"pattern", "outcome"}),
	}
	for _, c := range []prometheus.Collector{m.calls, m.callDuration, m.handled} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeCall(topic string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(topic, callOutcome(err)).Inc()
	m.callDuration.WithLabelValues(topic).Observe(d.Seconds())
}

func (m *Metrics) observeHandled(pattern, outcome string) {
	if m == nil {
		return
	}
	m.handled.WithLabelValues(pattern, outcome).Inc()
}

func callOutcome(err error) string {
	var re *RemoteError
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrTimeout):
		return outcomeTimeout
	case errors.As(err, &re):
		return outcomeRemote
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeCanceled
	default:
		return outcomeFailed
	}
}
