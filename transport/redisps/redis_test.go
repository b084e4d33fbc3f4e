// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package redisps

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/luxfi/psrpc"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type addParams struct {
	A int `json:"a"`
	B int `json:"b"`
}

type addResult struct {
	C int `json:"c"`
}

func newConn(t *testing.T) (*miniredis.Miniredis, *Conn) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	c := New(client)
	t.Cleanup(func() { c.Close() })
	return mr, c
}

func TestConn_Call(t *testing.T) {
	_, c := newConn(t)
	ctx := context.Background()

	reg, err := psrpc.Register(ctx, c, "svc/add", func(_ context.Context, p addParams, _ string) (addResult, error) {
		return addResult{C: p.A + p.B}, nil
	})
	require.NoError(t, err)
	defer reg.Close(ctx)

	res, err := psrpc.Call[addParams, addResult](ctx, c, "svc/add", addParams{A: 4, B: 5},
		psrpc.WithTimeout(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 9, res.C)
}

func TestConn_WildcardRegistration(t *testing.T) {
	_, c := newConn(t)
	ctx := context.Background()

	reg, err := psrpc.Register(ctx, c, "dev/+/ping", func(_ context.Context, _ struct{}, topic string) (string, error) {
		return topic, nil
	})
	require.NoError(t, err)
	defer reg.Close(ctx)

	res, err := psrpc.Call[struct{}, string](ctx, c, "dev/42/ping", struct{}{},
		psrpc.WithTimeout(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "dev/42/ping", res)
}

func TestConn_PatternFiltersWiderGlobMatches(t *testing.T) {
	_, c := newConn(t)
	ctx := context.Background()

	got := make(chan string, 4)
	_, err := c.Subscribe(ctx, "a/+", func(_ context.Context, _ []byte, topic string) {
		got <- topic
	})
	require.NoError(t, err)

	// "a/*" in Redis also matches "a/b/c".
	require.NoError(t, c.Publish(ctx, "a/b/c", []byte("deep")))
	require.NoError(t, c.Publish(ctx, "a/b", []byte("flat")))

	select {
	case topic := <-got:
		assert.Equal(t, "a/b", topic)
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}
	select {
	case topic := <-got:
		t.Fatalf("unexpected delivery on %s", topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConn_Unsubscribe(t *testing.T) {
	mr, c := newConn(t)
	ctx := context.Background()

	_, err := c.Subscribe(ctx, "a/b", func(context.Context, []byte, string) {})
	require.NoError(t, err)
	assert.Equal(t, 1, mr.PubSubNumSub("a/b")["a/b"])

	require.NoError(t, c.Unsubscribe(ctx, "a/b"))
	assert.Eventually(t, func() bool {
		return mr.PubSubNumSub("a/b")["a/b"] == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	conn, err := psrpc.Open(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer conn.Close()

	mr.Close()
	_, err = psrpc.Open(context.Background(), "redis://"+mr.Addr())
	assert.Error(t, err)
}

func TestGlob(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"a/b", "a/b"},
		{"a/+/c", "a/*/c"},
		{"a/#", "a/*"},
		{"+", "*"},
		{"a*/b?", `a\*/b\?`},
		{"x[1]", `x\[1\]`},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, Glob(tt.pattern))
		})
	}
}

func TestConn_SubscriptionIsPerHandler(t *testing.T) {
	mr, c := newConn(t)
	ctx := context.Background()

	got := make(chan string, 4)
	first, err := c.Subscribe(ctx, "a/b", func(context.Context, []byte, string) { got <- "first" })
	require.NoError(t, err)
	_, err = c.Subscribe(ctx, "a/b", func(context.Context, []byte, string) { got <- "second" })
	require.NoError(t, err)
	assert.Equal(t, 2, mr.PubSubNumSub("a/b")["a/b"])

	require.NoError(t, first.Unsubscribe(ctx))
	require.NoError(t, first.Unsubscribe(ctx), "unsubscribe is idempotent")
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub("a/b")["a/b"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Publish(ctx, "a/b", []byte("x")))
	select {
	case who := <-got:
		assert.Equal(t, "second", who)
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}
}
