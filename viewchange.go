// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pbft

import (
	"context"
)

// viewChangeState accumulates VIEW-CHANGE messages per target view across
// the lifetime of a replica, plus the "I've already moved" latch spec.md's
// catch-up rule needs: once we have sent our own VIEW-CHANGE for a view we
// must not un-send it, but a later, higher view-change target always wins.
type viewChangeState struct {
	// received[target][senderID] = the VIEW-CHANGE message
	received map[uint64]map[string]*ViewChangeMsg
	// sent is the set of target views we have broadcast a VIEW-CHANGE for.
	sent map[uint64]bool
	// newViewSeen[target] guards against processing more than one NEW-VIEW
	// per target view as a backup.
	newViewSeen map[uint64]bool
}

func newViewChangeState() *viewChangeState {
	return &viewChangeState{
		received:    make(map[uint64]map[string]*ViewChangeMsg),
		sent:        make(map[uint64]bool),
		newViewSeen: make(map[uint64]bool),
	}
}

func (s *viewChangeState) record(target uint64, sender string, msg *ViewChangeMsg) int {
	set, ok := s.received[target]
	if !ok {
		set = make(map[string]*ViewChangeMsg)
		s.received[target] = set
	}
	set[sender] = msg
	return len(set)
}

func (s *viewChangeState) count(target uint64) int {
	return len(s.received[target])
}

func (s *viewChangeState) forget(target uint64) {
	delete(s.received, target)
	delete(s.sent, target)
	delete(s.newViewSeen, target)
}

// startViewChangeLocked builds and broadcasts a VIEW-CHANGE to target,
// carrying the stable checkpoint proof and every operation prepared (but
// not yet committed) since it. It is idempotent per target view: calling it
// again for a view already sent is a no-op. Caller must hold r.mu.
func (r *Replica) startViewChangeLocked(ctx context.Context, target uint64) error {
	if target <= r.view {
		return nil
	}
	if r.vc.sent[target] {
		return nil
	}
	r.viewActive = false
	r.vc.sent[target] = true

	stable := r.cp.StableCheckpoint()
	checkpointMsgs := make([]CheckpointMsg, 0, len(r.cp.StableProof()))
	for peer, h := range r.cp.StableProof() {
		checkpointMsgs = append(checkpointMsgs, CheckpointMsg{Seq: stable.Seq, StateHash: h, Replica: peer})
	}

	prepared := r.log.PreparedSinceCheckpoint(stable.Seq)
	proofs := make([]PreparedProof, 0, len(prepared))
	for _, op := range prepared {
		pp := PrePrepare{View: op.View, Seq: op.Seq, Digest: op.Digest}
		proofs = append(proofs, PreparedProof{
			PrePrepare: PrePrepareMsg{PrePrepare: pp, Req: op.Request()},
			Prepares:   op.Prepares(),
		})
	}

	vcm := ViewChangeMsg{
		NewView:        target,
		StableSeq:      stable.Seq,
		CheckpointMsgs: checkpointMsgs,
		Prepared:       proofs,
		Replica:        r.self.UniqueID,
	}
	vcm.Sig = r.crypto.Sign(r.crypto.Hash(vcm), r.sk)

	own := vcm
	r.vc.record(target, r.self.UniqueID, &own)

	return r.comm.Broadcast(ctx, &Envelope{
		SenderID:   r.self.UniqueID,
		Kind:       MsgKindViewChange,
		ViewChange: &vcm,
	})
}

// HandleViewChange records a peer's VIEW-CHANGE. Per the catch-up rule, once
// f+1 total VIEW-CHANGEs (ours or others') target the same view, we join in
// even if we had not independently suspected the primary. Once 2f are
// collected and we are the new primary, we construct and broadcast NEW-VIEW.
func (r *Replica) HandleViewChange(ctx context.Context, sender string, msg *ViewChangeMsg) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.NewView <= r.view {
		return nil
	}
	pk := r.peerPubkey(sender)
	if pk != nil {
		unsigned := *msg
		unsigned.Sig = nil
		if !r.crypto.Verify(r.crypto.Hash(unsigned), msg.Sig, pk) {
			return ErrInvalidSig
		}
	}

	n := r.vc.record(msg.NewView, sender, msg)
	f := r.config().MaxFaulty()

	if n >= f+1 && !r.vc.sent[msg.NewView] {
		if err := r.startViewChangeLocked(ctx, msg.NewView); err != nil {
			return err
		}
		n = r.vc.count(msg.NewView)
	}

	if n < 2*f {
		return nil
	}
	if r.primaryFor(msg.NewView).UniqueID != r.self.UniqueID {
		return nil
	}
	return r.sendNewViewLocked(ctx, msg.NewView)
}

// sendNewViewLocked constructs NEW-VIEW(v, V, O) from the 2f collected
// VIEW-CHANGEs: O reconstructs, for every sequence between the lowest and
// highest stable/prepared bound across V, either the pre-prepare for the
// highest-view prepared proof at that sequence, or a NULL pre-prepare where
// no V entry prepared anything there. Caller must hold r.mu.
func (r *Replica) sendNewViewLocked(ctx context.Context, target uint64) error {
	set := r.vc.received[target]
	vSet := make([]ViewChangeMsg, 0, len(set))
	minStable, maxSeq := ^uint64(0), uint64(0)
	bySeq := make(map[uint64]PreparedProof)

	for _, vcm := range set {
		vSet = append(vSet, *vcm)
		if vcm.StableSeq < minStable {
			minStable = vcm.StableSeq
		}
		for _, pr := range vcm.Prepared {
			seq := pr.PrePrepare.PrePrepare.Seq
			if seq > maxSeq {
				maxSeq = seq
			}
			if existing, ok := bySeq[seq]; !ok || pr.PrePrepare.PrePrepare.View > existing.PrePrepare.PrePrepare.View {
				bySeq[seq] = pr
			}
		}
	}
	if minStable == ^uint64(0) {
		minStable = 0
	}

	oSet := make([]PrePrepareMsg, 0, maxSeq-minStable)
	for seq := minStable + 1; seq <= maxSeq; seq++ {
		if pr, ok := bySeq[seq]; ok {
			ppm := pr.PrePrepare
			ppm.PrePrepare.View = target
			ppm.PrePrepare.Sig = r.crypto.Sign(r.crypto.Hash(ppm.PrePrepare), r.sk)
			oSet = append(oSet, ppm)
		} else {
			pp := PrePrepare{View: target, Seq: seq, Digest: nullDigest}
			pp.Sig = r.crypto.Sign(r.crypto.Hash(pp), r.sk)
			oSet = append(oSet, PrePrepareMsg{PrePrepare: pp, Req: nullRequest(seq)})
		}
	}

	nvm := NewViewMsg{NewView: target, ViewChanges: vSet, PrePrepares: oSet, Replica: r.self.UniqueID}
	nvm.Sig = r.crypto.Sign(r.crypto.Hash(nvm), r.sk)

	if err := r.applyNewViewLocked(ctx, &nvm); err != nil {
		return err
	}
	return r.comm.Broadcast(ctx, &Envelope{
		SenderID: r.self.UniqueID,
		Kind:     MsgKindNewView,
		NewView:  &nvm,
	})
}

// HandleNewView accepts a NEW-VIEW from the replica that would be primary
// for its target view, provided: the target is exactly local-view+1 (no
// skipping ahead), it carries 2f well-formed VIEW-CHANGEs each genuinely
// targeting v', and its implied current configuration is one we mark enabled.
func (r *Replica) HandleNewView(ctx context.Context, sender string, msg *NewViewMsg) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.NewView != r.view+1 {
		return nil
	}
	if r.vc.newViewSeen[msg.NewView] {
		return nil
	}
	if r.primaryFor(msg.NewView).UniqueID != sender {
		return ErrNotPrimary
	}
	if len(msg.ViewChanges) < 2*r.config().MaxFaulty() {
		return ErrViewInvalid
	}
	for _, vcm := range msg.ViewChanges {
		if vcm.NewView != msg.NewView {
			return ErrViewInvalid
		}
		pk := r.peerPubkey(vcm.Replica)
		if pk != nil {
			unsigned := vcm
			unsigned.Sig = nil
			if !r.crypto.Verify(r.crypto.Hash(unsigned), vcm.Sig, pk) {
				return ErrInvalidSig
			}
		}
	}
	if hash, ok := impliedConfigHash(r.crypto, msg); ok && !r.configs.IsEnabled(hash) {
		return ErrConfigurationNotEnabled
	}

	r.vc.newViewSeen[msg.NewView] = true
	return r.applyNewViewLocked(ctx, msg)
}

// impliedConfigHash scans a NEW-VIEW's O-set for the highest-sequence
// NEW-CONFIG request, if any, and returns the content hash of the
// configuration it proposes: the configuration this NEW-VIEW implies is
// current once its O-set has been replayed.
func impliedConfigHash(crypto CryptoProvider, msg *NewViewMsg) (string, bool) {
	var best *Request
	var bestSeq uint64
	for _, ppm := range msg.PrePrepares {
		if ppm.Req == nil || ppm.Req.Type != RequestNewConfig {
			continue
		}
		if best == nil || ppm.PrePrepare.Seq > bestSeq {
			best = ppm.Req
			bestSeq = ppm.PrePrepare.Seq
		}
	}
	if best == nil {
		return "", false
	}
	_, hash := decodeConfigPayload(crypto, best.Op)
	return hash, true
}

// applyNewViewLocked installs target as the current view, re-proposes every
// O-set entry as if it were a freshly received PRE-PREPARE, and resumes
// normal-case processing. Caller must hold r.mu.
func (r *Replica) applyNewViewLocked(ctx context.Context, msg *NewViewMsg) error {
	r.view = msg.NewView
	r.viewActive = true
	r.vc.forget(msg.NewView)

	for _, ppm := range msg.PrePrepares {
		pp := ppm.PrePrepare
		key := OperationKey{View: pp.View, Seq: pp.Seq, Digest: pp.Digest}
		r.log.AcceptPrePrepare(key)
		op := r.log.FindOrCreate(key, r.config().Peers())
		op.RecordPrePrepare()
		if ppm.Req != nil {
			op.RecordRequest(ppm.Req)
		}
		if pp.Seq >= r.nextSeq {
			r.nextSeq = pp.Seq + 1
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
	}
	return nil
}

// nullDigest identifies the synthesized NULL request filled into an O-set
// gap: no client ever signs one, so it can never collide with a real digest.
const nullDigest = "<null-op>"

// nullRequest is the no-op request body executed for a NEW-VIEW's filler
// sequence numbers, advancing lastExec without touching the state machine.
func nullRequest(seq uint64) *Request {
	return &Request{
		Op:       nil,
		ClientID: "",
		Type:     RequestNull,
	}
}
