// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "swarmpbft",
	Short: "A Byzantine fault-tolerant state-machine replication engine",
	Long: `swarmpbft runs a single replica of a PBFT swarm: a cluster that keeps
agreeing on a total order of client operations as long as fewer than a third
of the configured peers misbehave.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
