// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"log"
	"os"

	"github.com/spf13/cobra"

	pbft "github.com/saySnake/swarmDB"
)

var genkeysOut string
var genkeysN int

type keyPair struct {
	PK []byte `json:"pk"`
	SK []byte `json:"sk"`
}

var genkeysCmd = &cobra.Command{
	Use:   "genkeys",
	Short: "Pre-generate Ed25519 key pairs for replicas and clients",
	Run:   runGenkeys,
}

func init() {
	rootCmd.AddCommand(genkeysCmd)
	genkeysCmd.Flags().StringVarP(&genkeysOut, "out", "o", "keys.json", "output file for the generated key pairs")
	genkeysCmd.Flags().IntVarP(&genkeysN, "n", "n", 4, "number of key pairs to generate")
}

func runGenkeys(cmd *cobra.Command, args []string) {
	if genkeysN < 1 {
		log.Fatal("swarmpbft: --n must be >= 1")
	}

	kps := make([]keyPair, genkeysN)
	for i := range kps {
		pkObj, skObj, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			log.Fatalf("swarmpbft: generate key pair %d: %v", i, err)
		}
		kps[i] = keyPair{PK: pbft.SerPK(pkObj), SK: pbft.SerSK(skObj)}
	}

	b, err := json.MarshalIndent(kps, "", "  ")
	if err != nil {
		log.Fatalf("swarmpbft: marshal key pairs: %v", err)
	}
	if err := os.WriteFile(genkeysOut, b, 0600); err != nil {
		log.Fatalf("swarmpbft: write %s: %v", genkeysOut, err)
	}
	log.Printf("swarmpbft: wrote %d key pairs to %s", genkeysN, genkeysOut)
}
