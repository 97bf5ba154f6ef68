// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pbft

import (
	"encoding/hex"
	"sort"
	"sync/atomic"
)

// configIndexSeq is the process-monotone counter pbft_configuration::next_index
// played in the original; every fork/NewConfiguration call draws the next value.
var configIndexSeq uint64

func nextConfigIndex() uint64 {
	return atomic.AddUint64(&configIndexSeq, 1)
}

// Configuration is an immutable-once-hashed, content-addressed peer set.
// Index is assigned at construction; Hash is deterministic over the sorted
// peer list so it agrees across replicas regardless of join order.
type Configuration struct {
	index       uint64
	peers       map[string]PeerAddress // by UniqueID
	sortedCache []PeerAddress
	sortedDirty bool
}

// NewConfiguration returns an empty configuration with a fresh index.
func NewConfiguration() *Configuration {
	return &Configuration{
		index: nextConfigIndex(),
		peers: make(map[string]PeerAddress),
	}
}

// NewConfigurationWithPeers builds a configuration seeded with peers,
// rejecting the whole batch if any peer is invalid or collides.
func NewConfigurationWithPeers(peers []PeerAddress) (*Configuration, error) {
	c := NewConfiguration()
	for _, p := range peers {
		if !c.AddPeer(p) {
			return nil, ErrInvalidPeer
		}
	}
	return c, nil
}

// Index returns the process-monotone construction index.
func (c *Configuration) Index() uint64 { return c.index }

// AddPeer rejects duplicates (by unique-id, name, or host+port / host+status-port
// collision) and invalid entries (any empty field).
func (c *Configuration) AddPeer(p PeerAddress) bool {
	if p.Empty() {
		return false
	}
	if _, ok := c.peers[p.UniqueID]; ok {
		return false
	}
	for _, existing := range c.peers {
		if existing.Name == p.Name {
			return false
		}
		if existing.hostPort() == p.hostPort() {
			return false
		}
		if existing.hostStatusPort() == p.hostStatusPort() {
			return false
		}
	}
	c.peers[p.UniqueID] = p
	c.sortedDirty = true
	return true
}

// RemovePeer removes a peer by UniqueID, reporting whether it was present.
func (c *Configuration) RemovePeer(p PeerAddress) bool {
	if _, ok := c.peers[p.UniqueID]; !ok {
		return false
	}
	delete(c.peers, p.UniqueID)
	c.sortedDirty = true
	return true
}

// Peers returns the peer set sorted by UniqueID. The slice is cached and
// must not be mutated by callers; operations hold onto this exact slice as
// their immutable quorum snapshot.
func (c *Configuration) Peers() []PeerAddress {
	c.cacheSortedPeers()
	return c.sortedCache
}

func (c *Configuration) cacheSortedPeers() {
	if !c.sortedDirty && c.sortedCache != nil {
		return
	}
	out := make([]PeerAddress, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return peerLess(out[i], out[j]) })
	c.sortedCache = out
	c.sortedDirty = false
}

// N is the configuration's peer count.
func (c *Configuration) N() int { return len(c.peers) }

// MaxFaulty is f = floor(n/3).
func (c *Configuration) MaxFaulty() int { return c.N() / 3 }

// QuorumSize is 2f+1.
func (c *Configuration) QuorumSize() int { return 2*c.MaxFaulty() + 1 }

// Hash is a deterministic content hash over the sorted peer list, used as
// the cross-replica identity for agreeing on "which configuration".
func (c *Configuration) Hash(crypto CryptoProvider) string {
	peers := c.Peers()
	type peerRec struct {
		Host, Name, UniqueID string
		ReplicationPort      int
		StatusPort           int
	}
	recs := make([]peerRec, len(peers))
	for i, p := range peers {
		recs[i] = peerRec{p.Host, p.Name, p.UniqueID, p.ReplicationPort, p.StatusPort}
	}
	return hex.EncodeToString(crypto.Hash(recs))
}

// Fork returns a new configuration with a fresh index and identical peers,
// the building block for proposing the next configuration on JOIN/LEAVE.
func (c *Configuration) Fork() *Configuration {
	out := &Configuration{
		index: nextConfigIndex(),
		peers: make(map[string]PeerAddress, len(c.peers)),
	}
	for id, p := range c.peers {
		out.peers[id] = p
	}
	return out
}
