// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pbft

// RequestType distinguishes an ordered client request from an internally
// generated reconfiguration or filler request.
type RequestType int

const (
	RequestDatabase RequestType = iota
	RequestNewConfig
	RequestNull
)

// Request is <REQUEST,o,t,c>_sig: an opaque client payload plus metadata.
type Request struct {
	Op        []byte
	Timestamp int64
	ClientID  string
	Type      RequestType
	Sig       []byte
}

// PrePrepare is <PRE-PREPARE,v,n,d>_sig.
type PrePrepare struct {
	View   uint64
	Seq    uint64
	Digest string
	Sig    []byte
}

// PrePrepareMsg is <<PRE-PREPARE,v,n,d>_sig,m>: the pre-prepare plus the
// request it carries (present on first broadcast; may be omitted on a
// retransmit once the receiver already has the request cached).
type PrePrepareMsg struct {
	PrePrepare PrePrepare
	Req        *Request
}

// Prepare is <PREPARE,v,n,d,i>_sig.
type Prepare struct {
	View    uint64
	Seq     uint64
	Digest  string
	Replica string
	Sig     []byte
}

// Commit is <COMMIT,v,n,d,i>_sig.
type Commit struct {
	View    uint64
	Seq     uint64
	Digest  string
	Replica string
	Sig     []byte
}

// CheckpointMsg is the CHECKPOINT inner message: (sequence, state-hash).
type CheckpointMsg struct {
	Seq       uint64
	StateHash string
	Replica   string
	Sig       []byte
}

// PreparedProof bundles the pre-prepare and ≥2f+1 prepares a VIEW-CHANGE
// cites as evidence that an operation was prepared-but-not-committed.
type PreparedProof struct {
	PrePrepare PrePrepareMsg
	Prepares   []Prepare
}

// ViewChangeMsg is VIEW-CHANGE(v+1, n, C, P).
type ViewChangeMsg struct {
	NewView        uint64
	StableSeq      uint64
	CheckpointMsgs []CheckpointMsg
	Prepared       []PreparedProof
	Replica        string
	Sig            []byte
}

// NewViewMsg is NEW-VIEW(v+1, V, O).
type NewViewMsg struct {
	NewView     uint64
	ViewChanges []ViewChangeMsg
	PrePrepares []PrePrepareMsg
	Replica     string
	Sig         []byte
}

// Reply is <REPLY,v,t,c,i,r>_sig.
type Reply struct {
	View      uint64
	Timestamp int64
	ClientID  string
	Replica   string
	Result    []byte
	Err       string
	Sig       []byte
}

// JoinMsg / LeaveMsg carry the peer proposing to join/leave; the primary
// converts either into an internally generated NEW-CONFIG request.
type JoinMsg struct {
	Peer PeerAddress
}

type LeaveMsg struct {
	Peer PeerAddress
}

// GetStateMsg / SetStateMsg implement state transfer.
type GetStateMsg struct {
	Seq       uint64
	StateHash string
	Requester string
}

type SetStateMsg struct {
	Seq       uint64
	StateHash string
	Snapshot  []byte
}

// Envelope is the tagged outer container carrying the sender's unique ID
// and exactly one inner message, selected by Kind.
type Envelope struct {
	SenderID string
	Kind     MsgKind

	Request    *Request
	PrePrepare *PrePrepareMsg
	Prepare    *Prepare
	Commit     *Commit
	Checkpoint *CheckpointMsg
	ViewChange *ViewChangeMsg
	NewView    *NewViewMsg
	Join       *JoinMsg
	Leave      *LeaveMsg
	GetState   *GetStateMsg
	SetState   *SetStateMsg
	Reply      *Reply
}
