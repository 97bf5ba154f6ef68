// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// Package adapter holds reference implementations of the replica's external
// collaborator ports, for local runs and tests. None of this is mandated by
// the protocol; swap any of it out for a real network, a real database, or
// a real failure detector without touching the core.
package adapter

import (
	"context"
	"fmt"
	"sync"

	pbft "github.com/saySnake/swarmDB"
)

// ChannelBus is an in-process transport connecting every node registered on
// it by buffered Go channels, grounded in myl7-pbft/node_test.go's
// chanNodeCommunicator harness pattern.
type ChannelBus struct {
	mu      sync.Mutex
	nodes   map[string]chan *pbft.Envelope
	replyCh map[string]chan *pbft.Envelope
}

// NewChannelBus returns an empty bus.
func NewChannelBus() *ChannelBus {
	return &ChannelBus{
		nodes:   make(map[string]chan *pbft.Envelope),
		replyCh: make(map[string]chan *pbft.Envelope),
	}
}

// Register gives id a receive channel with the given buffer depth and
// returns it for the owning goroutine to range/select over.
func (b *ChannelBus) Register(id string, buf int) <-chan *pbft.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *pbft.Envelope, buf)
	b.nodes[id] = ch
	return ch
}

// RegisterClient gives a client id a reply channel.
func (b *ChannelBus) RegisterClient(id string, buf int) <-chan *pbft.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *pbft.Envelope, buf)
	b.replyCh[id] = ch
	return ch
}

// NodeIDs returns every registered node id, for Broadcast fan-out.
func (b *ChannelBus) NodeIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.nodes))
	for id := range b.nodes {
		ids = append(ids, id)
	}
	return ids
}

// Transport is the ChannelBus-backed NodeCommunicator.
type Transport struct {
	bus  *ChannelBus
	self string
}

// NewTransport returns the NodeCommunicator for self over bus.
func NewTransport(bus *ChannelBus, self string) *Transport {
	return &Transport{bus: bus, self: self}
}

func (t *Transport) Unicast(ctx context.Context, toPeer string, env *pbft.Envelope) error {
	b := t.bus
	b.mu.Lock()
	ch, ok := b.nodes[toPeer]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("adapter: unknown peer %q", toPeer)
	}
	select {
	case ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) Broadcast(ctx context.Context, env *pbft.Envelope) error {
	for _, id := range t.bus.NodeIDs() {
		if id == t.self {
			continue
		}
		if err := t.Unicast(ctx, id, env); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) Reply(ctx context.Context, toClient string, env *pbft.Envelope) error {
	b := t.bus
	b.mu.Lock()
	ch, ok := b.replyCh[toClient]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("adapter: unknown client %q", toClient)
	}
	select {
	case ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
