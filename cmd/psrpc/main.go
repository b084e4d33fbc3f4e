// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command psrpc serves and calls request/reply operations over a pub/sub
// transport.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/luxfi/psrpc/internal/config"

	_ "github.com/luxfi/psrpc/transport/amqpps"
	_ "github.com/luxfi/psrpc/transport/grpcps"
	_ "github.com/luxfi/psrpc/transport/redisps"
)

var (
	flagConfig string
	flagURL    string
)

var rootCmd = &cobra.Command{
	Use:           "psrpc",
	Short:         "Request/reply RPC over publish/subscribe",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", os.Getenv("PSRPC_CONFIG"), "Path to YAML config file")
	rootCmd.PersistentFlags().StringVarP(&flagURL, "url", "u", "", "Transport URL, overrides transport.url")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorColor.Sprint("error: "), err)
		os.Exit(1)
	}
}

// loadConfig applies the config file and flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if flagConfig != "" {
		var err error
		if cfg, err = config.Load(flagConfig); err != nil {
			return nil, err
		}
	}
	if flagURL != "" {
		cfg.Transport.URL = flagURL
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
