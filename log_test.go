// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pbft

import "testing"

func TestLogAcceptPrePrepareRejectsEquivocation(t *testing.T) {
	l := NewLog()
	key1 := OperationKey{View: 1, Seq: 5, Digest: "d1"}
	key2 := OperationKey{View: 1, Seq: 5, Digest: "d2"}

	if !l.AcceptPrePrepare(key1) {
		t.Fatal("expected first pre-prepare at (1,5) to be accepted")
	}
	if !l.AcceptPrePrepare(key1) {
		t.Fatal("expected a retransmit of the same pre-prepare to be accepted")
	}
	if l.AcceptPrePrepare(key2) {
		t.Fatal("expected a conflicting digest at (1,5) to be rejected")
	}
}

func TestLogFindOrCreateIsIdempotent(t *testing.T) {
	l := NewLog()
	key := OperationKey{View: 0, Seq: 1, Digest: "d"}
	op1 := l.FindOrCreate(key, fourPeers())
	op2 := l.FindOrCreate(key, fourPeers())
	if op1 != op2 {
		t.Fatal("expected FindOrCreate to return the same operation for the same key")
	}
}

func TestLogPreparedSinceCheckpointFiltersBySeqAndState(t *testing.T) {
	l := NewLog()

	low := l.FindOrCreate(OperationKey{View: 0, Seq: 1, Digest: "d1"}, fourPeers())
	low.RecordRequest(&Request{})
	low.RecordPrePrepare()
	for _, id := range []string{"a", "b", "c"} {
		low.RecordPrepare(Prepare{Replica: id})
	}

	high := l.FindOrCreate(OperationKey{View: 0, Seq: 10, Digest: "d2"}, fourPeers())
	high.RecordRequest(&Request{})
	high.RecordPrePrepare()
	for _, id := range []string{"a", "b", "c"} {
		high.RecordPrepare(Prepare{Replica: id})
	}

	out := l.PreparedSinceCheckpoint(5)
	if len(out) != 1 || out[0].Seq != 10 {
		t.Fatalf("expected only the seq=10 operation past the checkpoint, got %v", out)
	}
}

func TestLogDeleteUpToTrimsBothTables(t *testing.T) {
	l := NewLog()
	key := OperationKey{View: 0, Seq: 5, Digest: "d"}
	l.AcceptPrePrepare(key)
	l.FindOrCreate(key, fourPeers())

	l.DeleteUpTo(5)
	if l.Find(key) != nil {
		t.Fatal("expected operation at seq<=5 to be deleted")
	}
	if _, ok := l.AcceptedPrePrepare(0, 5); ok {
		t.Fatal("expected accepted-pre-prepare at seq<=5 to be deleted")
	}
}
