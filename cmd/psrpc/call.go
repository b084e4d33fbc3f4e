// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/luxfi/psrpc"
)

var (
	flagTimeout time.Duration
	flagIDSize  int

	resultColor = color.New(color.FgGreen)
	errorColor  = color.New(color.FgRed, color.Bold)
)

var callCmd = &cobra.Command{
	Use:   "call [topic] ([params-json])",
	Short: "Call a remote operation and print its result",
	Example: `  psrpc call svc/add '{"a": 2, "b": 3}'
  psrpc call --url grpc://localhost:7070 --timeout 2s svc/echo '{"hello": "world"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("timeout") {
			cfg.Call.Timeout = flagTimeout
		}
		if cmd.Flags().Changed("id-size") {
			cfg.Call.IDSize = flagIDSize
		}

		params := map[string]interface{}{}
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
				return fmt.Errorf("params must be a JSON object: %w", err)
			}
		}

		ctx := cmd.Context()
		logger := newLogger(os.Stderr, cfg.Logging)
		conn, err := psrpc.Open(ctx, cfg.Transport.URL)
		if err != nil {
			return err
		}
		defer conn.Close()

		result, err := psrpc.Call[map[string]interface{}, interface{}](ctx, conn, args[0], params,
			psrpc.WithTimeout(cfg.Call.Timeout),
			psrpc.WithIDSize(cfg.Call.IDSize),
			psrpc.WithLogger(logger))
		if err != nil {
			var re *psrpc.RemoteError
			if errors.As(err, &re) && re.Data != nil {
				data, _ := json.MarshalIndent(re.Data, "", "  ")
				fmt.Fprintln(os.Stderr, errorColor.Sprint("remote error data: ")+string(data))
			}
			return err
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("format result: %w", err)
		}
		resultColor.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	callCmd.Flags().DurationVarP(&flagTimeout, "timeout", "t", psrpc.DefaultTimeout, "How long to wait for the response")
	callCmd.Flags().IntVar(&flagIDSize, "id-size", psrpc.DefaultIDSize, "Call identifier size in bytes")
	rootCmd.AddCommand(callCmd)
}
