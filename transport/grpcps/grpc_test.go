// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcps

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/luxfi/psrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type addParams struct {
	A int `json:"a"`
	B int `json:"b"`
}

type addResult struct {
	C int `json:"c"`
}

func add(_ context.Context, p addParams, _ string) (addResult, error) {
	return addResult{C: p.A + p.B}, nil
}

// setup serves a Gateway for a fresh memory bus over an in-memory listener.
func setup(t *testing.T) (*psrpc.MemoryBus, *Gateway, *Client) {
	t.Helper()
	bus := psrpc.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	gw := NewGateway(bus, nil)
	gw.Register(srv)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	client, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return bus, gw, client
}

func (g *Gateway) streamCount(topic string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts, ok := g.topics[topic]
	if !ok {
		return 0
	}
	return len(ts.streams)
}

func TestGateway_CallThroughGateway(t *testing.T) {
	bus, _, client := setup(t)
	ctx := context.Background()

	reg, err := psrpc.Register(ctx, bus, "svc/add", add)
	require.NoError(t, err)
	defer reg.Close(ctx)

	res, err := psrpc.Call[addParams, addResult](ctx, client, "svc/add", addParams{A: 20, B: 22},
		psrpc.WithTimeout(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 42, res.C)
}

func TestGateway_RemoteHandler(t *testing.T) {
	bus, _, client := setup(t)
	ctx := context.Background()

	reg, err := psrpc.Register(ctx, client, "svc/add", add)
	require.NoError(t, err)
	defer reg.Close(ctx)

	res, err := psrpc.Call[addParams, addResult](ctx, bus, "svc/add", addParams{A: 1, B: 1},
		psrpc.WithTimeout(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, res.C)
}

func TestGateway_WildcardDeliveryCarriesTopic(t *testing.T) {
	bus, _, client := setup(t)
	ctx := context.Background()

	got := make(chan string, 1)
	_, err := client.Subscribe(ctx, "dev/+/status", func(_ context.Context, p []byte, topic string) {
		got <- topic + "=" + string(p)
	})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "dev/7/status", []byte("up")))

	select {
	case v := <-got:
		assert.Equal(t, "dev/7/status=up", v)
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}
}

func TestGateway_StreamsShareLocalSubscription(t *testing.T) {
	bus, gw, client := setup(t)
	ctx := context.Background()
	noop := func(context.Context, []byte, string) {}

	_, err := client.Subscribe(ctx, "a/b", noop)
	require.NoError(t, err)
	_, err = client.Subscribe(ctx, "a/b", noop)
	require.NoError(t, err)
	assert.Equal(t, 2, gw.streamCount("a/b"))
	assert.Equal(t, 1, bus.Subscriptions())

	require.NoError(t, client.Unsubscribe(ctx, "a/b"))
	assert.Eventually(t, func() bool {
		return bus.Subscriptions() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_EmptyTopic(t *testing.T) {
	_, _, client := setup(t)
	err := client.Publish(context.Background(), "", []byte("x"))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestClient_CloseKeepsBorrowedConn(t *testing.T) {
	_, _, dialed := setup(t)
	borrowed := NewClient(dialed.conn)
	require.NoError(t, borrowed.Close())

	assert.NoError(t, dialed.Publish(context.Background(), "still/open", nil))
}

func TestGateway_RemoteLeaveKeepsLocalHandler(t *testing.T) {
	bus, gw, client := setup(t)
	ctx := context.Background()

	reg, err := psrpc.Register(ctx, bus, "svc/add", add)
	require.NoError(t, err)
	defer reg.Close(ctx)

	_, err = client.Subscribe(ctx, "svc/add", func(context.Context, []byte, string) {})
	require.NoError(t, err)
	require.NoError(t, client.Unsubscribe(ctx, "svc/add"))
	require.Eventually(t, func() bool {
		return gw.streamCount("svc/add") == 0
	}, 2*time.Second, 10*time.Millisecond)

	res, err := psrpc.Call[addParams, addResult](ctx, bus, "svc/add", addParams{A: 5, B: 6},
		psrpc.WithTimeout(time.Second))
	require.NoError(t, err, "a remote subscriber leaving must not remove the local handler")
	assert.Equal(t, 11, res.C)
}

func TestClient_SubscriptionEndsOneStream(t *testing.T) {
	bus, gw, client := setup(t)
	ctx := context.Background()

	got := make(chan string, 4)
	first, err := client.Subscribe(ctx, "a/b", func(context.Context, []byte, string) { got <- "first" })
	require.NoError(t, err)
	_, err = client.Subscribe(ctx, "a/b", func(context.Context, []byte, string) { got <- "second" })
	require.NoError(t, err)

	require.NoError(t, first.Unsubscribe(ctx))
	require.Eventually(t, func() bool {
		return gw.streamCount("a/b") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, "a/b", []byte("x")))
	select {
	case who := <-got:
		assert.Equal(t, "second", who)
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}
}
