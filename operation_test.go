// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pbft

import "testing"

func fourPeers() []PeerAddress {
	return []PeerAddress{mkPeer("a", 1), mkPeer("b", 2), mkPeer("c", 3), mkPeer("d", 4)}
}

func TestOperationPreparedAndCommittedThresholds(t *testing.T) {
	op := NewOperation(OperationKey{View: 0, Seq: 1, Digest: "d"}, fourPeers())
	op.RecordRequest(&Request{})
	op.RecordPrePrepare()

	op.RecordPrepare(Prepare{Replica: "a"})
	op.RecordPrepare(Prepare{Replica: "b"})
	if op.IsPrepared() {
		t.Fatal("expected 2 prepares (not > 2f=2) to be insufficient for f=1, n=4")
	}

	op.RecordPrepare(Prepare{Replica: "c"})
	if !op.IsPrepared() {
		t.Fatal("expected 3 prepares to satisfy > 2f for f=1")
	}
	if got := len(op.Prepares()); got != 3 {
		t.Fatalf("expected Prepares() to report the 3 recorded messages, got %d", got)
	}

	op.BeginCommitPhase()
	op.RecordCommit("a")
	op.RecordCommit("b")
	if op.IsCommitted() {
		t.Fatal("expected 2 commits to be insufficient")
	}
	op.RecordCommit("c")
	if !op.IsCommitted() {
		t.Fatal("expected 3 commits to satisfy > 2f")
	}
	op.EndCommitPhase()
	if op.State() != OpStateCommitted {
		t.Fatalf("expected state COMMITTED, got %v", op.State())
	}
}

func TestOperationBeginCommitPhasePanicsWhenNotPrepared(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected BeginCommitPhase to panic when not prepared")
		}
	}()
	op := NewOperation(OperationKey{View: 0, Seq: 1, Digest: "d"}, fourPeers())
	op.BeginCommitPhase()
}

func TestOperationMaxFaultyUsesPinnedSnapshot(t *testing.T) {
	op := NewOperation(OperationKey{View: 0, Seq: 1, Digest: "d"}, fourPeers())
	if op.MaxFaulty() != 1 {
		t.Fatalf("expected f=1 over a 4-peer snapshot, got %d", op.MaxFaulty())
	}
}
