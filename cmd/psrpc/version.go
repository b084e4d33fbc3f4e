// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/luxfi/psrpc"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and available transports",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "psrpc %s (transports: %s)\n",
			version, strings.Join(psrpc.AvailableTransports(), ", "))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
