// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	pbft "github.com/saySnake/swarmDB"
	"github.com/saySnake/swarmDB/adapter"
)

var (
	startN                  int
	startCheckpointInterval uint64
	startHighWaterMult      uint64
	startStatusAddr         string
	startHeartbeat          time.Duration
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run a local swarm of N replicas in this process",
	Long: `Start spins up an entire local swarm (N = 3f+1 replicas for a chosen f)
wired together with the in-process reference transport and an in-memory
key-value service, for local experimentation and demos. A production
deployment would instead construct one Replica per process against a real
network transport and storage back-end.`,
	Run: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().IntVarP(&startN, "n", "n", 4, "number of replicas (must be 3f+1 for some f >= 1)")
	startCmd.Flags().Uint64Var(&startCheckpointInterval, "checkpoint-interval", pbft.DefaultCheckpointInterval, "operations between checkpoints")
	startCmd.Flags().Uint64Var(&startHighWaterMult, "high-water-mult", pbft.DefaultHighWaterIntervalInCheckpoints, "high water mark, in checkpoint intervals")
	startCmd.Flags().StringVar(&startStatusAddr, "status-addr", "127.0.0.1:8080", "bind address for the status HTTP endpoint of replica 0")
	startCmd.Flags().DurationVar(&startHeartbeat, "heartbeat", 3*time.Second, "primary heartbeat timeout before a backup starts a view change")
}

func runStart(cmd *cobra.Command, args []string) {
	if startN < 4 || startN%3 != 1 {
		log.Fatalf("swarmpbft: --n must be of the form 3f+1 for f >= 1, got %d", startN)
	}

	bus := adapter.NewChannelBus()
	peers := make([]pbft.PeerAddress, startN)
	for i := 0; i < startN; i++ {
		id := fmt.Sprintf("replica-%d", i)
		peers[i] = pbft.PeerAddress{
			Host:            "local",
			ReplicationPort: 10000 + i,
			StatusPort:      11000 + i,
			Name:            id,
			UniqueID:        id,
		}
	}
	config, err := pbft.NewConfigurationWithPeers(peers)
	if err != nil {
		log.Fatalf("swarmpbft: build initial configuration: %v", err)
	}

	crypto := pbft.NewDefaultCrypto()
	skByID := make(map[string][]byte, startN)
	pkByID := make(map[string][]byte, startN)

	replicas := make([]*pbft.Replica, startN)
	for i := 0; i < startN; i++ {
		pk, sk, err := newSigningKey()
		if err != nil {
			log.Fatalf("swarmpbft: generate signing key for replica %d: %v", i, err)
		}
		skByID[peers[i].UniqueID] = sk
		pkByID[peers[i].UniqueID] = pk
	}

	pkGetter := staticPKGetter(pkByID)

	for i := 0; i < startN; i++ {
		id := peers[i].UniqueID
		comm := adapter.NewTransport(bus, id)
		sm := adapter.NewKVStateMachine()
		fd := adapter.NewHeartbeatDetector(startHeartbeat)

		storage, err := adapter.OpenSQLiteStorage(":memory:")
		if err != nil {
			log.Fatalf("swarmpbft: open storage for replica %d: %v", i, err)
		}

		replicas[i] = pbft.NewReplica(pbft.ReplicaConfig{
			Self:               peers[i],
			SK:                 skByID[id],
			Crypto:             crypto,
			Comm:               comm,
			Storage:            storage,
			Serde:              gobSerde{},
			SM:                 sm,
			PKGet:              pkGetter,
			Clock:              systemClock{},
			FD:                 fd,
			Initial:            config,
			CheckpointInterval: startCheckpointInterval,
			HighWaterMult:      startHighWaterMult,
		})
	}

	recvChans := make([]<-chan *pbft.Envelope, startN)
	for i := 0; i < startN; i++ {
		recvChans[i] = bus.Register(peers[i].UniqueID, 256)
	}

	done := make(chan struct{})
	for i := 0; i < startN; i++ {
		i := i
		go func() {
			for {
				select {
				case env := <-recvChans[i]:
					if err := replicas[i].Handle(cmdContext(), env); err != nil {
						log.Printf("swarmpbft: replica %d: %v", i, err)
					}
				case <-done:
					return
				}
			}
		}()
		replicas[i].Start()
	}

	mux := http.NewServeMux()
	mux.Handle("/status", replicas[0].StatusHandler())
	server := &http.Server{Addr: startStatusAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("swarmpbft: status server: %v", err)
		}
	}()
	log.Printf("swarmpbft: %d replicas running, status at http://%s/status", startN, startStatusAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Print("swarmpbft: shutting down...")
	close(done)
	for _, r := range replicas {
		r.Stop()
	}
	_ = server.Close()
}
