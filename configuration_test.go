// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pbft

import "testing"

func mkPeer(id string, port int) PeerAddress {
	return PeerAddress{
		Host:            "127.0.0.1",
		ReplicationPort: port,
		StatusPort:      port + 1000,
		Name:            id,
		UniqueID:        id,
	}
}

func TestConfigurationAddPeerRejectsCollisions(t *testing.T) {
	c := NewConfiguration()
	if !c.AddPeer(mkPeer("a", 1)) {
		t.Fatal("expected first AddPeer to succeed")
	}
	if c.AddPeer(mkPeer("a", 2)) {
		t.Fatal("expected duplicate UniqueID to be rejected")
	}
	if c.AddPeer(mkPeer("b", 1)) {
		t.Fatal("expected colliding replication port to be rejected")
	}
	if c.AddPeer(PeerAddress{}) {
		t.Fatal("expected empty peer to be rejected")
	}
}

func TestConfigurationHashAgreesAcrossInsertOrder(t *testing.T) {
	crypto := NewDefaultCrypto()

	c1 := NewConfiguration()
	c1.AddPeer(mkPeer("a", 1))
	c1.AddPeer(mkPeer("b", 2))
	c1.AddPeer(mkPeer("c", 3))

	c2 := NewConfiguration()
	c2.AddPeer(mkPeer("c", 3))
	c2.AddPeer(mkPeer("a", 1))
	c2.AddPeer(mkPeer("b", 2))

	if c1.Hash(crypto) != c2.Hash(crypto) {
		t.Fatal("expected hash to be independent of peer insertion order")
	}
}

func TestConfigurationQuorumMath(t *testing.T) {
	c := NewConfiguration()
	for i := 0; i < 4; i++ {
		c.AddPeer(mkPeer(string(rune('a'+i)), i+1))
	}
	if c.MaxFaulty() != 1 {
		t.Fatalf("expected f=1 for n=4, got %d", c.MaxFaulty())
	}
	if c.QuorumSize() != 3 {
		t.Fatalf("expected quorum=3 for n=4, got %d", c.QuorumSize())
	}
}

func TestConfigurationForkPreservesPeersFreshIndex(t *testing.T) {
	c := NewConfiguration()
	c.AddPeer(mkPeer("a", 1))
	forked := c.Fork()
	if forked.Index() == c.Index() {
		t.Fatal("expected Fork to assign a fresh index")
	}
	if forked.N() != c.N() {
		t.Fatalf("expected fork to preserve peer count, got %d want %d", forked.N(), c.N())
	}
}
