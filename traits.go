// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pbft

import "context"

// MsgKind tags the inner payload carried by an Envelope, mirroring the wire
// envelope's tagged outer container from spec.md section 6.
type MsgKind int

const (
	MsgKindRequest MsgKind = iota
	MsgKindPrePrepare
	MsgKindPrepare
	MsgKindCommit
	MsgKindCheckpoint
	MsgKindViewChange
	MsgKindNewView
	MsgKindJoin
	MsgKindLeave
	MsgKindGetState
	MsgKindSetState
	MsgKindReply
	MsgKindAudit
)

// NodeCommunicator is the external message bus. It needs to handle stable
// transmission (retrying / timeouts) itself; this core only calls it.
// Broadcast must not resend to the sender's own ID; self-delivery for
// quorum purposes is always done locally by the core before it broadcasts.
type NodeCommunicator interface {
	Unicast(ctx context.Context, toPeer string, env *Envelope) error
	Broadcast(ctx context.Context, env *Envelope) error
	Reply(ctx context.Context, toClient string, env *Envelope) error
}

// NodeStorage is the external key-value persistence the core's own
// bookkeeping is persisted through. The core stores only the stable
// checkpoint (sequence and hash); its proof set and the current
// configuration hash are not persisted. Get returns nil if not found.
type NodeStorage interface {
	Put(key string, val []byte) error
	Get(key string) (val []byte, err error)
}

// nodeStorageSerde (de)serializes values for NodeStorage.
type nodeStorageSerde interface {
	// Ser should not panic with rational input, otherwise may panic.
	Ser(obj any) []byte
	// De should not panic with Ser output, otherwise may panic.
	De(b []byte, obj any)
}

// NodeStateMachine is the external application state machine ("service").
// Apply is invoked in increasing sequence order for DATABASE requests only:
// sequences taken by NULL or NEW-CONFIG requests are not passed to Apply, so
// the sequence numbers it sees can skip.
type NodeStateMachine interface {
	// Apply is called with the replica's lock held, so a slow
	// implementation blocks all agreement progress on this replica.
	Apply(seq uint64, op []byte) (result []byte, err error)
	// StateHash returns the checkpoint digest of the state as of sequence seq.
	StateHash(seq uint64) []byte
	// Snapshot and Restore implement state transfer's GET-STATE / SET-STATE.
	Snapshot(seq uint64) ([]byte, error)
	Restore(seq uint64, snapshot []byte) error
	// Consolidate tells the service it may drop history at or below seq.
	Consolidate(seq uint64)
}

// NodeUserPKGetter resolves a client ID to its current public key.
type NodeUserPKGetter interface {
	Get(user string) (pk []byte, err error)
}

// NodeFailureDetector is the external timer module. The core hands it a
// failure callback through Start and nothing else; detector-internal
// timeouts are its own.
type NodeFailureDetector interface {
	Start(onFailure func())
	Stop()
}

// NodeHeartbeatSink is an optional extension a NodeFailureDetector may also
// implement: the core calls Reset every time it accepts a PRE-PREPARE from
// the current primary, so a heartbeat-style detector never fires while the
// primary is visibly live.
type NodeHeartbeatSink interface {
	Reset()
}

// NodeClock abstracts wall-clock access so admission-window logic is testable.
type NodeClock interface {
	Now() int64 // unix nanoseconds
}

// NodeSession is a non-owning observer of a client connection. A reply
// delivered after the session has closed is a logged warning, never an error.
type NodeSession interface {
	ClientID() string
	Alive() bool
}
