// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/spf13/cobra"
)

var statusURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Fetch and print a replica's status snapshot",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusURL, "url", "http://127.0.0.1:8080/status", "status endpoint to query")
}

func runStatus(cmd *cobra.Command, args []string) {
	resp, err := http.Get(statusURL)
	if err != nil {
		log.Fatalf("swarmpbft: fetch status: %v", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("swarmpbft: read status response: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		log.Fatalf("swarmpbft: decode status response: %v", err)
	}
	pretty, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(pretty))
}
