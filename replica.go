// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pbft

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// recentRequest is one executed request remembered per client, so that admit
// can reject duplicates. The reply is stored alongside it but not replayed.
type recentRequest struct {
	Timestamp int64
	Digest    string
	Reply     *Reply
}

// maxRequestAge is MAX_REQUEST_AGE: the window, on both sides of "now", a
// request's timestamp must fall within to be admitted, and the age past
// which a recent-requests entry is erased once a checkpoint stabilizes.
const maxRequestAge = int64(5 * time.Minute)

// Replica is the PBFT agreement core. It owns no network or storage I/O of
// its own; all of that is reached through the Node* collaborator interfaces
// so the core stays unit-testable without sockets or disks.
type Replica struct {
	mu sync.Mutex

	self PeerAddress
	sk   []byte // this replica's private signing key

	crypto  CryptoProvider
	comm    NodeCommunicator
	storage NodeStorage
	serde   nodeStorageSerde
	sm      NodeStateMachine
	pkGet   NodeUserPKGetter
	clock   NodeClock
	fd      NodeFailureDetector

	configs *ConfigurationStore
	log     *Log
	cp      *CheckpointManager

	view       uint64
	nextSeq    uint64 // next sequence this replica will propose as primary
	lastExec   uint64 // highest sequence applied to the state machine
	viewActive bool   // false while a view-change is in flight for this replica

	// recent is a time-ordered multimap of (client, timestamp) -> request
	// digest, ascending by timestamp per client, mirroring the original's
	// std::multimap keyed by client-timestamp.
	recent map[string][]recentRequest

	requestTimeout time.Duration
	vc             *viewChangeState
}

// ReplicaConfig bundles the construction-time collaborators and tunables.
type ReplicaConfig struct {
	Self    PeerAddress
	SK      []byte
	Crypto  CryptoProvider
	Comm    NodeCommunicator
	Storage NodeStorage
	Serde   nodeStorageSerde
	SM      NodeStateMachine
	PKGet   NodeUserPKGetter
	Clock   NodeClock
	FD      NodeFailureDetector

	Initial            *Configuration
	CheckpointInterval uint64
	HighWaterMult      uint64
	RequestTimeout     time.Duration
}

// NewReplica wires the collaborators into a fresh core seeded at view 0 with
// the initial configuration already current and enabled.
func NewReplica(cfg ReplicaConfig) *Replica {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	configs := NewConfigurationStore(cfg.Crypto)
	configs.Add(cfg.Initial)
	h := cfg.Initial.Hash(cfg.Crypto)
	configs.Enable(h, true)
	configs.SetCurrent(h)

	r := &Replica{
		self:           cfg.Self,
		sk:             cfg.SK,
		crypto:         cfg.Crypto,
		comm:           cfg.Comm,
		storage:        cfg.Storage,
		serde:          cfg.Serde,
		sm:             cfg.SM,
		pkGet:          cfg.PKGet,
		clock:          cfg.Clock,
		fd:             cfg.FD,
		configs:        configs,
		log:            NewLog(),
		cp:             NewCheckpointManager(cfg.CheckpointInterval, cfg.HighWaterMult),
		view:           0,
		nextSeq:        1,
		lastExec:       0,
		viewActive:     true,
		recent:         make(map[string][]recentRequest),
		requestTimeout: cfg.RequestTimeout,
	}
	r.vc = newViewChangeState()
	r.restorePersistedCheckpoint()
	return r
}

// persistedCheckpoint is what's durably stored under storageKeyStableCheckpoint,
// so a restarted replica resumes from its last stable checkpoint instead of
// replaying the whole log.
type persistedCheckpoint struct {
	Seq  uint64
	Hash string
}

const storageKeyStableCheckpoint = "pbft/stable_checkpoint"

// restorePersistedCheckpoint reinstates a stable checkpoint found in
// storage from a previous run, if any. Absence of storage or of a prior
// record is not an error: the replica simply starts from genesis.
func (r *Replica) restorePersistedCheckpoint() {
	if r.storage == nil || r.serde == nil {
		return
	}
	b, err := r.storage.Get(storageKeyStableCheckpoint)
	if err != nil || b == nil {
		return
	}
	var pc persistedCheckpoint
	r.serde.De(b, &pc)
	r.cp.CheckpointReachedLocally(pc.Seq, pc.Hash)
	r.cp.Stabilize(Checkpoint{Seq: pc.Seq, Hash: pc.Hash})
	r.lastExec = pc.Seq
	r.nextSeq = pc.Seq + 1
}

// persistStableCheckpointLocked durably records the current stable
// checkpoint, if a storage collaborator is configured. Caller must hold r.mu.
func (r *Replica) persistStableCheckpointLocked() {
	if r.storage == nil || r.serde == nil {
		return
	}
	stable := r.cp.StableCheckpoint()
	b := r.serde.Ser(persistedCheckpoint{Seq: stable.Seq, Hash: stable.Hash})
	if err := r.storage.Put(storageKeyStableCheckpoint, b); err != nil {
		log.Printf("pbft: persist stable checkpoint: %v", err)
	}
}

// Start arms the failure detector. A replica with no detector (tests, mostly)
// simply never times out on its own.
func (r *Replica) Start() {
	if r.fd != nil {
		r.fd.Start(r.onSuspectedPrimaryFailure)
	}
}

// Stop disarms the failure detector.
func (r *Replica) Stop() {
	if r.fd != nil {
		r.fd.Stop()
	}
}

// config returns the current configuration. Caller must hold r.mu.
func (r *Replica) config() *Configuration { return r.configs.Current() }

// primaryFor returns the peer that is primary in the given view, over the
// current configuration's sorted peer list, per spec.md's deterministic
// primary := view mod n rule.
func (r *Replica) primaryFor(view uint64) PeerAddress {
	peers := r.config().Peers()
	return peers[view%uint64(len(peers))]
}

// isPrimary reports whether this replica is primary in its current view.
func (r *Replica) isPrimary() bool {
	return r.primaryFor(r.view).UniqueID == r.self.UniqueID
}

// Handle dispatches one received envelope to the matching handler. It is the
// single entry point external transports call into.
func (r *Replica) Handle(ctx context.Context, env *Envelope) error {
	switch env.Kind {
	case MsgKindRequest:
		return r.HandleRequest(ctx, env.Request)
	case MsgKindPrePrepare:
		return r.HandlePrePrepare(ctx, env.SenderID, env.PrePrepare)
	case MsgKindPrepare:
		return r.HandlePrepare(ctx, env.SenderID, env.Prepare)
	case MsgKindCommit:
		return r.HandleCommit(ctx, env.SenderID, env.Commit)
	case MsgKindCheckpoint:
		return r.HandleCheckpoint(ctx, env.SenderID, env.Checkpoint)
	case MsgKindViewChange:
		return r.HandleViewChange(ctx, env.SenderID, env.ViewChange)
	case MsgKindNewView:
		return r.HandleNewView(ctx, env.SenderID, env.NewView)
	case MsgKindJoin:
		return r.HandleJoin(ctx, env.SenderID, env.Join)
	case MsgKindLeave:
		return r.HandleLeave(ctx, env.SenderID, env.Leave)
	case MsgKindGetState:
		return r.HandleGetState(ctx, env.SenderID, env.GetState)
	case MsgKindSetState:
		return r.HandleSetState(ctx, env.SenderID, env.SetState)
	default:
		return fmt.Errorf("pbft: unhandled message kind %d", env.Kind)
	}
}

// digestRequest computes the content digest PRE-PREPARE/PREPARE/COMMIT all
// key off of.
func (r *Replica) digestRequest(req *Request) string {
	return hex.EncodeToString(r.crypto.Hash(req))
}

// HandleRequest admits a client request. Non-primaries forward it to the
// primary and return; the primary assigns it the next sequence number and
// broadcasts a PRE-PREPARE.
func (r *Replica) HandleRequest(ctx context.Context, req *Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.admit(req); err != nil {
		return err
	}

	if !r.isPrimary() {
		primary := r.primaryFor(r.view)
		return r.comm.Unicast(ctx, primary.UniqueID, &Envelope{
			SenderID: r.self.UniqueID,
			Kind:     MsgKindRequest,
			Request:  req,
		})
	}
	return r.proposeLocked(ctx, req)
}

// admit validates timestamp freshness, the age window, and the client
// signature, and rejects a duplicate (client, timestamp, digest) with
// ErrDuplicateRequest. Caller must hold r.mu.
func (r *Replica) admit(req *Request) error {
	if pk, err := r.pkGet.Get(req.ClientID); err == nil {
		digest := r.crypto.Hash(struct {
			Op        []byte
			Timestamp int64
			ClientID  string
			Type      RequestType
		}{req.Op, req.Timestamp, req.ClientID, req.Type})
		if !r.crypto.Verify(digest, req.Sig, pk) {
			return ErrInvalidSig
		}
	}

	now := r.clock.Now()
	if req.Timestamp < now-maxRequestAge || req.Timestamp > now+maxRequestAge {
		return ErrRequestTooOld
	}

	digest := r.digestRequest(req)
	entries := r.recent[req.ClientID]
	for _, e := range entries {
		if e.Timestamp == req.Timestamp && e.Digest == digest {
			return ErrDuplicateRequest
		}
	}
	if len(entries) > 0 && req.Timestamp < entries[len(entries)-1].Timestamp {
		return ErrTimestampNotNew
	}
	return nil
}

// proposeLocked assigns req the next sequence number and broadcasts
// PRE-PREPARE. Caller must hold r.mu and be primary.
func (r *Replica) proposeLocked(ctx context.Context, req *Request) error {
	seq := r.nextSeq
	r.nextSeq++
	digest := r.digestRequest(req)

	pp := PrePrepare{View: r.view, Seq: seq, Digest: digest}
	pp.Sig = r.crypto.Sign(r.crypto.Hash(pp), r.sk)

	key := OperationKey{View: r.view, Seq: seq, Digest: digest}
	r.log.AcceptPrePrepare(key)
	op := r.log.FindOrCreate(key, r.config().Peers())
	op.RecordPrePrepare()
	op.RecordRequest(req)

	own := Prepare{View: r.view, Seq: seq, Digest: digest, Replica: r.self.UniqueID}
	own.Sig = r.crypto.Sign(r.crypto.Hash(own), r.sk)
	op.RecordPrepare(own)

	return r.comm.Broadcast(ctx, &Envelope{
		SenderID:   r.self.UniqueID,
		Kind:       MsgKindPrePrepare,
		PrePrepare: &PrePrepareMsg{PrePrepare: pp, Req: req},
	})
}

// HandlePrePrepare validates and accepts a primary's proposal, then
// broadcasts this replica's own PREPARE.
func (r *Replica) HandlePrePrepare(ctx context.Context, sender string, msg *PrePrepareMsg) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pp := msg.PrePrepare
	if err := r.checkNormalCaseViewLocked(pp.View); err != nil {
		return err
	}
	if sender != r.primaryFor(pp.View).UniqueID {
		return ErrNotPrimary
	}
	if !r.cp.InWindow(pp.Seq) {
		return ErrSeqOutOfWindow
	}

	pk := r.peerPubkey(sender)
	if pk != nil {
		unsigned := pp
		unsigned.Sig = nil
		if !r.crypto.Verify(r.crypto.Hash(unsigned), pp.Sig, pk) {
			return ErrInvalidSig
		}
	}

	if sink, ok := r.fd.(NodeHeartbeatSink); ok {
		sink.Reset()
	}

	var req *Request
	if msg.Req != nil {
		if r.digestRequest(msg.Req) != pp.Digest {
			return ErrUnmatchedDigest
		}
		req = msg.Req
	}

	key := OperationKey{View: pp.View, Seq: pp.Seq, Digest: pp.Digest}
	if !r.log.AcceptPrePrepare(key) {
		return ErrUnmatchedPP
	}

	op := r.log.FindOrCreate(key, r.config().Peers())
	op.RecordPrePrepare()
	if req != nil {
		op.RecordRequest(req)
	}

	prep := Prepare{View: pp.View, Seq: pp.Seq, Digest: pp.Digest, Replica: r.self.UniqueID}
	prep.Sig = r.crypto.Sign(r.crypto.Hash(prep), r.sk)
	op.RecordPrepare(prep)

	if err := r.comm.Broadcast(ctx, &Envelope{
		SenderID: r.self.UniqueID,
		Kind:     MsgKindPrepare,
		Prepare:  &prep,
	}); err != nil {
		return err
	}
	return r.maybeAdvanceLocked(ctx, op)
}

// HandlePrepare records a PREPARE vote and advances the operation's state if
// it is now prepared.
func (r *Replica) HandlePrepare(ctx context.Context, sender string, p *Prepare) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkNormalCaseViewLocked(p.View); err != nil {
		return err
	}
	if !r.cp.InWindow(p.Seq) {
		return ErrSeqOutOfWindow
	}
	pk := r.peerPubkey(sender)
	if pk != nil {
		unsigned := *p
		unsigned.Sig = nil
		if !r.crypto.Verify(r.crypto.Hash(unsigned), p.Sig, pk) {
			return ErrInvalidSig
		}
	}

	key := OperationKey{View: p.View, Seq: p.Seq, Digest: p.Digest}
	op := r.log.FindOrCreate(key, r.config().Peers())
	op.RecordPrepare(*p)
	return r.maybeAdvanceLocked(ctx, op)
}

// HandleCommit records a COMMIT vote and advances the operation's state if
// it is now committed, applying it to the state machine in sequence order.
func (r *Replica) HandleCommit(ctx context.Context, sender string, c *Commit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkNormalCaseViewLocked(c.View); err != nil {
		return err
	}
	if !r.cp.InWindow(c.Seq) {
		return ErrSeqOutOfWindow
	}
	pk := r.peerPubkey(sender)
	if pk != nil {
		unsigned := *c
		unsigned.Sig = nil
		if !r.crypto.Verify(r.crypto.Hash(unsigned), c.Sig, pk) {
			return ErrInvalidSig
		}
	}

	key := OperationKey{View: c.View, Seq: c.Seq, Digest: c.Digest}
	op := r.log.FindOrCreate(key, r.config().Peers())
	op.RecordCommit(sender)
	return r.maybeAdvanceLocked(ctx, op)
}

// checkNormalCaseViewLocked is the preliminary_filter_msg gate for the
// normal-case messages (PRE-PREPARE/PREPARE/COMMIT): they are dropped both
// when they name a different view and while this replica has a view-change
// in flight for its current view, since it may no longer be primary by the
// time that change completes. CHECKPOINT/VIEW-CHANGE/NEW-VIEW are exempt and
// never call this. Caller must hold r.mu.
func (r *Replica) checkNormalCaseViewLocked(view uint64) error {
	if view != r.view {
		return ErrUnmatchedView
	}
	if !r.viewActive {
		return ErrViewInvalid
	}
	return nil
}

// maybeAdvanceLocked drives an operation through PREPARE -> COMMIT and, once
// committed, executes every contiguous committed operation starting at
// lastExec+1. Caller must hold r.mu.
func (r *Replica) maybeAdvanceLocked(ctx context.Context, op *Operation) error {
	if op.State() == OpStatePrepare && op.IsPrepared() {
		if req := op.Request(); req != nil && req.Type == RequestNewConfig {
			r.enablePendingConfigLocked(req)
		}
		op.BeginCommitPhase()
		op.RecordCommit(r.self.UniqueID)

		c := Commit{View: op.View, Seq: op.Seq, Digest: op.Digest, Replica: r.self.UniqueID}
		c.Sig = r.crypto.Sign(r.crypto.Hash(c), r.sk)
		if err := r.comm.Broadcast(ctx, &Envelope{
			SenderID: r.self.UniqueID,
			Kind:     MsgKindCommit,
			Commit:   &c,
		}); err != nil {
			return err
		}
	}

	if op.State() == OpStateCommit && op.IsCommitted() {
		op.EndCommitPhase()
	}

	return r.drainExecutableLocked(ctx)
}

// drainExecutableLocked applies every committed operation at lastExec+1,
// lastExec+2, ... and stops at the first sequence with no committed
// operation. It synthesizes nothing itself: NULL filler requests come only
// from a NEW-VIEW's O-set (sendNewViewLocked).
func (r *Replica) drainExecutableLocked(ctx context.Context) error {
	for {
		next := r.lastExec + 1
		op := r.findCommittedAtSeqLocked(next)
		if op == nil {
			return nil
		}
		if err := r.executeLocked(ctx, op); err != nil {
			return err
		}
	}
}

func (r *Replica) findCommittedAtSeqLocked(seq uint64) *Operation {
	return r.log.FindCommittedAtSeq(seq)
}

// executeLocked applies op's request to the state machine, replies to the
// client, advances lastExec, and triggers a checkpoint on interval boundaries.
func (r *Replica) executeLocked(ctx context.Context, op *Operation) error {
	req := op.Request()
	if req == nil {
		return ErrNoRequestAfterCommittedLocal
	}

	var result []byte
	var appErr error
	switch req.Type {
	case RequestNull:
		// no-op filler from a NEW-VIEW O-set gap
	case RequestNewConfig:
		appErr = r.commitReconfigurationLocked(req)
	default:
		result, appErr = r.sm.Apply(op.Seq, req.Op)
	}
	r.lastExec = op.Seq

	reply := &Reply{
		View:      r.view,
		Timestamp: req.Timestamp,
		ClientID:  req.ClientID,
		Replica:   r.self.UniqueID,
		Result:    result,
	}
	if appErr != nil {
		reply.Err = clientErrorToken(appErr)
	}
	reply.Sig = r.crypto.Sign(r.crypto.Hash(*reply), r.sk)

	r.recent[req.ClientID] = append(r.recent[req.ClientID], recentRequest{Timestamp: req.Timestamp, Digest: op.Digest, Reply: reply})

	if err := r.comm.Reply(ctx, req.ClientID, &Envelope{
		SenderID: r.self.UniqueID,
		Kind:     MsgKindReply,
		Reply:    reply,
	}); err != nil {
		log.Printf("pbft: reply delivery to %s failed: %v", req.ClientID, err)
	}

	if r.cp.ShouldCheckpoint(op.Seq) {
		return r.emitCheckpointLocked(ctx, op.Seq)
	}
	return nil
}

// clientErrorTokens is the fixed set of wire-level error tokens a
// NodeStateMachine is expected to return from Apply for an application-level
// rejection, per the client-facing result codes in errors.go.
var clientErrorTokens = []error{
	ErrRecordExists, ErrRecordNotFound, ErrDatabaseNotFound,
	ErrValueSizeTooLarge, ErrKeySizeTooLarge, ErrInvalidCrud,
	ErrElectionInProgress, ErrInvalidArguments,
}

// clientErrorToken maps appErr onto one of clientErrorTokens via errors.Is,
// so a state machine that wraps a token with extra context
// (fmt.Errorf("...: %w", ErrRecordExists)) still surfaces the bare token to
// the client. Any other error is passed through as-is: the core does not
// invent tokens for failures outside this fixed set.
func clientErrorToken(appErr error) string {
	for _, tok := range clientErrorTokens {
		if errors.Is(appErr, tok) {
			return tok.Error()
		}
	}
	return appErr.Error()
}

// emitCheckpointLocked computes and records our own checkpoint at seq, then
// broadcasts a CHECKPOINT message vouching for it.
func (r *Replica) emitCheckpointLocked(ctx context.Context, seq uint64) error {
	h := hex.EncodeToString(r.sm.StateHash(seq))
	r.cp.CheckpointReachedLocally(seq, h)
	r.cp.RecordProof(r.self.UniqueID, seq, h)

	msg := CheckpointMsg{Seq: seq, StateHash: h, Replica: r.self.UniqueID}
	msg.Sig = r.crypto.Sign(r.crypto.Hash(msg), r.sk)
	return r.comm.Broadcast(ctx, &Envelope{
		SenderID:   r.self.UniqueID,
		Kind:       MsgKindCheckpoint,
		Checkpoint: &msg,
	})
}

// pruneRecentLocked erases every recent-requests entry older than
// maxRequestAge, the step a checkpoint stabilization must perform so a
// replayed request from long before the window can no longer be recognized
// as a duplicate (it will instead fail the admission-age check). Caller
// must hold r.mu.
func (r *Replica) pruneRecentLocked() {
	cutoff := r.clock.Now() - maxRequestAge
	for client, entries := range r.recent {
		kept := entries[:0]
		for _, e := range entries {
			if e.Timestamp >= cutoff {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(r.recent, client)
		} else {
			r.recent[client] = kept
		}
	}
}

// HandleCheckpoint records a peer's checkpoint vouching and stabilizes the
// checkpoint once 2f+1 matching proofs (including our own) are held.
func (r *Replica) HandleCheckpoint(ctx context.Context, sender string, msg *CheckpointMsg) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pk := r.peerPubkey(sender)
	if pk != nil {
		unsigned := *msg
		unsigned.Sig = nil
		if !r.crypto.Verify(r.crypto.Hash(unsigned), msg.Sig, pk) {
			return ErrInvalidSig
		}
	}

	r.cp.RecordProof(sender, msg.Seq, msg.StateHash)

	cp := Checkpoint{Seq: msg.Seq, Hash: msg.StateHash}
	if r.cp.ProofCount(cp) >= r.config().QuorumSize() && r.cp.HaveLocal(cp) {
		r.cp.Stabilize(cp)
		r.log.DeleteUpTo(cp.Seq)
		r.sm.Consolidate(cp.Seq)
		r.pruneRecentLocked()
		r.persistStableCheckpointLocked()
		return nil
	}

	if !r.cp.HaveLocal(cp) && r.cp.ProofCount(cp) >= r.config().QuorumSize() {
		return r.startStateTransferLocked(ctx, cp)
	}
	return nil
}

// startStateTransferLocked issues a GET-STATE to a peer holding a proof of
// cp, chosen uniformly at random among those peers.
func (r *Replica) startStateTransferLocked(ctx context.Context, cp Checkpoint) error {
	peer, ok := r.cp.SelectPeerForCheckpoint(cp)
	if !ok {
		return nil
	}
	req := GetStateMsg{Seq: cp.Seq, StateHash: cp.Hash, Requester: r.self.UniqueID}
	return r.comm.Unicast(ctx, peer, &Envelope{
		SenderID: r.self.UniqueID,
		Kind:     MsgKindGetState,
		GetState: &req,
	})
}

// HandleGetState serves a state-transfer request with a snapshot, if we
// ourselves hold a checkpoint matching the requested (seq, hash).
func (r *Replica) HandleGetState(ctx context.Context, sender string, msg *GetStateMsg) error {
	r.mu.Lock()
	cp := Checkpoint{Seq: msg.Seq, Hash: msg.StateHash}
	have := r.cp.HaveLocal(cp) || r.cp.StableCheckpoint() == cp
	r.mu.Unlock()
	if !have {
		return nil
	}

	snap, err := r.sm.Snapshot(msg.Seq)
	if err != nil {
		return err
	}
	return r.comm.Unicast(ctx, sender, &Envelope{
		SenderID: r.self.UniqueID,
		Kind:     MsgKindSetState,
		SetState: &SetStateMsg{Seq: msg.Seq, StateHash: msg.StateHash, Snapshot: snap},
	})
}

// HandleSetState restores the state machine from a peer's snapshot, catching
// this replica's execution cursor up to the transferred checkpoint.
func (r *Replica) HandleSetState(ctx context.Context, sender string, msg *SetStateMsg) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.sm.Restore(msg.Seq, msg.Snapshot); err != nil {
		return err
	}
	cp := Checkpoint{Seq: msg.Seq, Hash: msg.StateHash}
	r.cp.CheckpointReachedLocally(msg.Seq, msg.StateHash)
	r.cp.Stabilize(cp)
	r.pruneRecentLocked()
	r.persistStableCheckpointLocked()
	r.log.DeleteUpTo(msg.Seq)
	if msg.Seq > r.lastExec {
		r.lastExec = msg.Seq
	}
	if msg.Seq+1 > r.nextSeq {
		r.nextSeq = msg.Seq + 1
	}
	return nil
}

// peerPubkey resolves a replica's verification key through the user-pubkey
// port, keyed by its unique ID, returning nil (skip verification) if unknown.
// Production deployments should provision this for every configured peer;
// tests frequently don't and accept that sigs go unchecked.
func (r *Replica) peerPubkey(uniqueID string) []byte {
	pk, err := r.pkGet.Get(uniqueID)
	if err != nil {
		return nil
	}
	return pk
}

// onSuspectedPrimaryFailure is the failure detector's callback: it starts a
// view change to view+1.
func (r *Replica) onSuspectedPrimaryFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.startViewChangeLocked(context.Background(), r.view+1)
}

// StatusSnapshot is the read-only diagnostic view exposed by the status
// endpoint and by tests.
type StatusSnapshot struct {
	SelfID     string
	View       uint64
	IsPrimary  bool
	LastExec   uint64
	NextSeq    uint64
	StableSeq  uint64
	StableHash string
	N          int
	F          int
}

// Status returns a point-in-time snapshot of this replica's state.
func (r *Replica) Status() StatusSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	stable := r.cp.StableCheckpoint()
	return StatusSnapshot{
		SelfID:     r.self.UniqueID,
		View:       r.view,
		IsPrimary:  r.isPrimary(),
		LastExec:   r.lastExec,
		NextSeq:    r.nextSeq,
		StableSeq:  stable.Seq,
		StableHash: stable.Hash,
		N:          r.config().N(),
		F:          r.config().MaxFaulty(),
	}
}
