// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pbft

// OperationState is the per-slot three-phase state machine. Transitions
// only ever move forward.
type OperationState int

const (
	OpStatePrepare OperationState = iota
	OpStateCommit
	OpStateCommitted
)

// OperationKey uniquely identifies an agreement instance.
type OperationKey struct {
	View   uint64
	Seq    uint64
	Digest string
}

// LogKey is the (view, seq) pair accepted-pre-prepares are keyed by, used
// to enforce the PBFT non-equivocation rule.
type LogKey struct {
	View uint64
	Seq  uint64
}

// Operation is the per-(view, sequence, request-hash) record accumulating
// the three-phase evidence. Peers is an immutable snapshot captured at
// creation: an operation's quorum math must never see a later configuration.
type Operation struct {
	View   uint64
	Seq    uint64
	Digest string
	Peers  []PeerAddress

	state          OperationState
	preprepareSeen bool
	prepares       map[string]Prepare
	commitSenders  map[string]bool

	request *Request
	session NodeSession // weak: observer only, may vanish before commit
}

// NewOperation constructs an operation pinned to the given peer snapshot.
func NewOperation(key OperationKey, peers []PeerAddress) *Operation {
	return &Operation{
		View:          key.View,
		Seq:           key.Seq,
		Digest:        key.Digest,
		Peers:         peers,
		state:         OpStatePrepare,
		prepares:      make(map[string]Prepare),
		commitSenders: make(map[string]bool),
	}
}

// Key returns this operation's identifying tuple.
func (op *Operation) Key() OperationKey {
	return OperationKey{View: op.View, Seq: op.Seq, Digest: op.Digest}
}

// State returns the current three-phase state.
func (op *Operation) State() OperationState { return op.state }

// MaxFaulty is f computed over the operation's own pinned peer snapshot,
// never the replica's current configuration.
func (op *Operation) MaxFaulty() int { return len(op.Peers) / 3 }

// RecordPrePrepare is idempotent: recording it twice has no further effect.
func (op *Operation) RecordPrePrepare() {
	op.preprepareSeen = true
}

// HasPrePrepare reports whether a PRE-PREPARE was recorded for this operation.
func (op *Operation) HasPrePrepare() bool { return op.preprepareSeen }

// RecordPrepare is idempotent by sender and retains the signed PREPARE
// itself, not just the sender's identity: a VIEW-CHANGE's P-set entries must
// later cite these messages as evidence of a prepared-but-uncommitted op.
func (op *Operation) RecordPrepare(p Prepare) {
	op.prepares[p.Replica] = p
}

// RecordCommit is idempotent by sender.
func (op *Operation) RecordCommit(sender string) {
	op.commitSenders[sender] = true
}

// RecordRequest attaches a request body that was missing. Callers must
// validate it against Digest before calling this (HandlePrePrepare does so
// with digestRequest).
func (op *Operation) RecordRequest(r *Request) {
	if op.request == nil {
		op.request = r
	}
}

// HasRequest reports whether a request body has been attached.
func (op *Operation) HasRequest() bool { return op.request != nil }

// Request returns the attached request body, or nil.
func (op *Operation) Request() *Request { return op.request }

// SetSession registers the client session this operation should eventually
// reply to. It is a non-owning observer; the session may already be gone
// by the time the operation commits.
func (op *Operation) SetSession(s NodeSession) { op.session = s }

// Session returns the registered session observer, or nil.
func (op *Operation) Session() NodeSession { return op.session }

// IsPrepared ⇔ preprepare-seen ∧ request-present ∧ |prepare-senders| > 2f.
func (op *Operation) IsPrepared() bool {
	return op.preprepareSeen && op.HasRequest() && len(op.prepares) > 2*op.MaxFaulty()
}

// IsCommitted ⇔ is_prepared ∧ |commit-senders| > 2f.
func (op *Operation) IsCommitted() bool {
	return op.IsPrepared() && len(op.commitSenders) > 2*op.MaxFaulty()
}

// BeginCommitPhase transitions PREPARE -> COMMIT. It is a fatal invariant
// violation (not a recoverable error) to call this when not prepared.
func (op *Operation) BeginCommitPhase() {
	if op.state != OpStatePrepare {
		panic("pbft: begin_commit_phase called outside PREPARE state")
	}
	if !op.IsPrepared() {
		panic("pbft: begin_commit_phase called on an operation that is not prepared")
	}
	op.state = OpStateCommit
}

// EndCommitPhase transitions COMMIT -> COMMITTED. Same fatal-on-violation contract.
func (op *Operation) EndCommitPhase() {
	if op.state != OpStateCommit {
		panic("pbft: end_commit_phase called outside COMMIT state")
	}
	if !op.IsCommitted() {
		panic("pbft: end_commit_phase called on an operation that is not committed")
	}
	op.state = OpStateCommitted
}

// PrepareSenderCount reports how many distinct senders have sent PREPARE.
func (op *Operation) PrepareSenderCount() int { return len(op.prepares) }

// Prepares returns the distinct, recorded PREPARE messages backing this
// operation's prepared state, for citing as a VIEW-CHANGE's P-set evidence.
func (op *Operation) Prepares() []Prepare {
	out := make([]Prepare, 0, len(op.prepares))
	for _, p := range op.prepares {
		out = append(out, p)
	}
	return out
}

// CommitSenderCount reports how many distinct senders have sent COMMIT.
func (op *Operation) CommitSenderCount() int { return len(op.commitSenders) }
