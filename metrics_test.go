// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psrpc

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	bus := newBus(t)
	mustRegister(t, bus, "svc/add", add, WithServerMetrics(m))

	_, err = Call[addParams, addResult](context.Background(), bus, "svc/add", addParams{A: 1}, WithCallMetrics(m))
	require.NoError(t, err)
	_, err = Call[addParams, addResult](context.Background(), bus, "svc/none", addParams{},
		WithCallMetrics(m), WithTimeout(10*time.Millisecond))
	require.ErrorIs(t, err, ErrTimeout)
	require.NoError(t, bus.Publish(context.Background(), "svc/add", []byte{0xc1}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("svc/add", outcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("svc/none", outcomeTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handled.WithLabelValues("svc/add", outcomeOK)))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.handled.WithLabelValues("svc/add", outcomeMalformed)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMetrics_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.observeCall("svc/x", nil, time.Millisecond)
		m.observeHandled("svc/x", outcomeOK)
	})
}

func TestCallOutcome(t *testing.T) {
	assert.Equal(t, outcomeOK, callOutcome(nil))
	assert.Equal(t, outcomeTimeout, callOutcome(&TimeoutError{}))
	assert.Equal(t, outcomeRemote, callOutcome(&RemoteError{Message: "x"}))
	assert.Equal(t, outcomeCanceled, callOutcome(context.Canceled))
	assert.Equal(t, outcomeFailed, callOutcome(ErrBusClosed))
}
