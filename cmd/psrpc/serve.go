// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"

	"github.com/luxfi/psrpc"
	"github.com/luxfi/psrpc/internal/config"
	"github.com/luxfi/psrpc/transport/grpcps"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the builtin handlers and optional HTTP, gRPC and metrics endpoints",
	Long: `Serve registers the builtin "<prefix>/echo" and "<prefix>/add" handlers on
the configured transport. When http.addr, grpc.addr or metrics.addr are set,
the JSON-RPC bridge, the gRPC gateway and the Prometheus endpoint are served
as well.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, newLogger(os.Stderr, cfg.Logging))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type addParams struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

type addResult struct {
	C float64 `json:"c"`
}

func echoHandler(_ context.Context, params map[string]interface{}, _ string) (map[string]interface{}, error) {
	return params, nil
}

func addHandler(_ context.Context, p addParams, _ string) (addResult, error) {
	return addResult{C: p.A + p.B}, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	conn, err := psrpc.Open(ctx, cfg.Transport.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	registry := prometheus.NewRegistry()
	metrics, err := psrpc.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	opts := []psrpc.RegisterOption{
		psrpc.WithDedupCache(psrpc.NewDedupCache(cfg.Handler.DedupCapacity)),
		psrpc.WithServerLogger(logger),
		psrpc.WithServerMetrics(metrics),
	}
	if cfg.Handler.RateLimit > 0 {
		burst := cfg.Handler.Burst
		if burst <= 0 {
			burst = 1
		}
		opts = append(opts, psrpc.WithRateLimit(rate.NewLimiter(rate.Limit(cfg.Handler.RateLimit), burst)))
	}

	echo, err := psrpc.Register(ctx, conn, cfg.Handler.Prefix+"/echo", echoHandler, opts...)
	if err != nil {
		return err
	}
	defer echo.Close(context.Background())
	add, err := psrpc.Register(ctx, conn, cfg.Handler.Prefix+"/add", addHandler, opts...)
	if err != nil {
		return err
	}
	defer add.Close(context.Background())
	logger.Info("handlers registered", "transport", cfg.Transport.URL,
		"topics", []string{echo.Pattern(), add.Pattern()})

	g, gctx := errgroup.WithContext(ctx)

	if cfg.HTTP.Addr != "" {
		bridge, err := psrpc.NewHTTPBridge(conn,
			psrpc.WithTimeout(cfg.Call.Timeout),
			psrpc.WithIDSize(cfg.Call.IDSize),
			psrpc.WithLogger(logger),
			psrpc.WithCallMetrics(metrics))
		if err != nil {
			return err
		}
		srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: bridge, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error { return serveHTTP(gctx, srv, logger, "json-rpc bridge") })
	}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error { return serveHTTP(gctx, srv, logger, "metrics") })
	}

	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		gs := grpc.NewServer()
		grpcps.NewGateway(conn, logger).Register(gs)
		g.Go(func() error {
			logger.Info("serving grpc gateway", "addr", lis.Addr().String())
			return gs.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}

func serveHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger, name string) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving "+name, "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s: %w", name, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
