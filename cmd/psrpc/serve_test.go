// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/psrpc"
	"github.com/luxfi/psrpc/internal/config"
)

// startServe runs serve on a named memory bus until the test ends and
// returns a connection to the same bus once the builtin handlers answer.
func startServe(t *testing.T, url string) psrpc.Conn {
	t.Helper()
	cfg := config.Default()
	cfg.Transport.URL = url
	cfg.Handler.Prefix = "calc"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("serve did not stop")
		}
	})

	conn, err := psrpc.Open(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		_, err := psrpc.Call[addParams, addResult](context.Background(), conn, "calc/add",
			addParams{}, psrpc.WithTimeout(100*time.Millisecond))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	return conn
}

func TestServe_BuiltinHandlers(t *testing.T) {
	conn := startServe(t, "mem://serve-test")

	sum, err := psrpc.Call[addParams, addResult](context.Background(), conn, "calc/add",
		addParams{A: 1.5, B: 2}, psrpc.WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 3.5, sum.C)

	echo, err := psrpc.Call[map[string]interface{}, map[string]interface{}](context.Background(), conn, "calc/echo",
		map[string]interface{}{"hello": "world"}, psrpc.WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "world", echo["hello"])
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{Level: "warn", Format: "json"})
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"), "json output expected, got %q", out)
	assert.Contains(t, out, `"k":"v"`)
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)

	assert.Contains(t, buf.String(), "psrpc dev")
	for _, scheme := range []string{"amqp", "grpc", "mem", "redis"} {
		assert.Contains(t, buf.String(), scheme)
	}
}
