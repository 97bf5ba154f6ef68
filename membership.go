// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pbft

import (
	"context"
)

// newConfigPayload is the gob-encoded body of a NEW-CONFIG request's Op
// field: the proposed configuration's peer list, carried by value since
// Configuration itself holds unexported fields.
type newConfigPayload struct {
	Peers []PeerAddress
	Index uint64
}

// HandleJoin converts a JOIN proposal into a NEW-CONFIG request, admitted
// through the ordinary three-phase path like any client request. Only the
// primary proposes; a non-primary forwards like any other request.
func (r *Replica) HandleJoin(ctx context.Context, sender string, msg *JoinMsg) error {
	return r.proposeReconfigurationLocked(ctx, func(next *Configuration) error {
		if !next.AddPeer(msg.Peer) {
			return ErrInvalidPeer
		}
		return nil
	})
}

// HandleLeave converts a LEAVE proposal into a NEW-CONFIG request the same way.
func (r *Replica) HandleLeave(ctx context.Context, sender string, msg *LeaveMsg) error {
	return r.proposeReconfigurationLocked(ctx, func(next *Configuration) error {
		if !next.RemovePeer(msg.Peer) {
			return ErrInvalidPeer
		}
		return nil
	})
}

// proposeReconfigurationLocked forks the current configuration, applies
// mutate, checks the 3f+1 bound, registers the candidate configuration, and
// — if we are primary — proposes it as a NEW-CONFIG request. Non-primaries
// validate and register it, then forward the NEW-CONFIG request to the
// primary; they pick it up again once it actually commits via
// commitReconfigurationLocked.
func (r *Replica) proposeReconfigurationLocked(ctx context.Context, mutate func(*Configuration) error) error {
	r.mu.Lock()
	current := r.config()
	next := current.Fork()
	if err := mutate(next); err != nil {
		r.mu.Unlock()
		return err
	}
	if !proposedConfigIsAcceptable(current, next) {
		r.mu.Unlock()
		return ErrConfigurationTooSmall
	}
	r.configs.Add(next)
	isPrimary := r.isPrimary()
	r.mu.Unlock()

	if !isPrimary {
		primary := r.primaryFor(r.view)
		req := r.newConfigRequest(next)
		return r.comm.Unicast(ctx, primary.UniqueID, &Envelope{
			SenderID: r.self.UniqueID,
			Kind:     MsgKindRequest,
			Request:  req,
		})
	}

	req := r.newConfigRequest(next)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proposeLocked(ctx, req)
}

// newConfigRequest wraps a candidate configuration as a NEW-CONFIG client
// request, signed by this replica standing in for the proposer.
func (r *Replica) newConfigRequest(next *Configuration) *Request {
	payload := newConfigPayload{Peers: next.Peers(), Index: next.Index()}
	encoded := encodeGob(payload)

	req := &Request{
		Op:        encoded,
		Timestamp: r.clock.Now(),
		ClientID:  r.self.UniqueID,
		Type:      RequestNewConfig,
	}
	req.Sig = r.crypto.Sign(r.crypto.Hash(struct {
		Op        []byte
		Timestamp int64
		ClientID  string
		Type      RequestType
	}{req.Op, req.Timestamp, req.ClientID, req.Type}), r.sk)
	return req
}

// proposedConfigIsAcceptable enforces that a reconfiguration never leaves
// fewer than 3f+1 peers for its own new f, i.e. the configuration remains
// internally able to tolerate its own floor(n/3) Byzantine faults, and that
// it differs from the configuration it supersedes by exactly one peer: JOIN
// and LEAVE each propose a single change, never a batch of several.
func proposedConfigIsAcceptable(current, next *Configuration) bool {
	n := next.N()
	f := next.MaxFaulty()
	if n < 3*f+1 || n == 0 {
		return false
	}
	return peerSetDiff(current.Peers(), next.Peers()) == 1
}

// peerSetDiff counts the symmetric difference, by UniqueID, between two peer
// sets: how many peers appear in exactly one of the two.
func peerSetDiff(a, b []PeerAddress) int {
	inA := make(map[string]bool, len(a))
	for _, p := range a {
		inA[p.UniqueID] = true
	}
	inB := make(map[string]bool, len(b))
	for _, p := range b {
		inB[p.UniqueID] = true
	}
	diff := 0
	for id := range inA {
		if !inB[id] {
			diff++
		}
	}
	for id := range inB {
		if !inA[id] {
			diff++
		}
	}
	return diff
}

// enablePendingConfigLocked marks req's candidate configuration enabled as
// soon as the NEW-CONFIG request carrying it is prepared, per the normal
// case's PREPARE -> COMMIT transition: an enabled configuration is eligible
// to be named by a NEW-VIEW even before it has actually committed. Caller
// must hold r.mu.
func (r *Replica) enablePendingConfigLocked(req *Request) {
	next, h := decodeConfigPayload(r.crypto, req.Op)
	if r.configs.Get(h) == nil {
		r.configs.Add(next)
	}
	r.configs.Enable(h, true)
}

// commitReconfigurationLocked is invoked from executeLocked when a
// committed operation's request is a NEW-CONFIG: it decodes the candidate
// configuration, enables it, switches it in as current, and purges every
// configuration superseded by it. Caller must hold r.mu.
func (r *Replica) commitReconfigurationLocked(req *Request) error {
	next, h := decodeConfigPayload(r.crypto, req.Op)

	current := r.configs.Get(h)
	if current == nil {
		r.configs.Add(next)
		current = next
	}
	if err := boolToErr(r.configs.Enable(h, true)); err != nil {
		return err
	}
	if err := boolToErr(r.configs.SetCurrent(h)); err != nil {
		return err
	}
	r.configs.RemovePriorTo(current.Index())
	return nil
}

// decodeConfigPayload decodes a NEW-CONFIG request's Op into the candidate
// Configuration it proposes, plus that configuration's content hash.
func decodeConfigPayload(crypto CryptoProvider, op []byte) (*Configuration, string) {
	var payload newConfigPayload
	decodeGob(op, &payload)

	next := NewConfiguration()
	for _, p := range payload.Peers {
		next.AddPeer(p)
	}
	return next, next.Hash(crypto)
}

func boolToErr(ok bool) error {
	if !ok {
		return ErrNoSuchConfiguration
	}
	return nil
}
