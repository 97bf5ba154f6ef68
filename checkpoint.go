// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pbft

import (
	"math/rand/v2"
)

// initialCheckpointHash seeds the stable checkpoint before any real
// checkpoint has stabilized, so latest_stable_checkpoint() is always defined.
const initialCheckpointHash = "<null db state>"

// DefaultCheckpointInterval is CHECKPOINT_INTERVAL, in committed operations.
const DefaultCheckpointInterval = 100

// DefaultHighWaterIntervalInCheckpoints is HIGH_WATER_INTERVAL_IN_CHECKPOINTS.
const DefaultHighWaterIntervalInCheckpoints = 2

// Checkpoint is (sequence, state-hash).
type Checkpoint struct {
	Seq  uint64
	Hash string
}

// CheckpointManager tracks local unstable checkpoints, unstable checkpoint
// proofs from peers, the stable checkpoint, and the log window's water marks.
type CheckpointManager struct {
	interval      uint64
	highWaterMult uint64

	stable      Checkpoint
	stableProof map[string]string // peer -> state hash, for the stable checkpoint's own sequence

	localUnstable map[uint64]string                // seq -> hash, checkpoints we've reached ourselves
	proofs        map[Checkpoint]map[string]string // checkpoint -> peer -> (redundant) hash, i.e. the proof set

	low  uint64
	high uint64
}

// NewCheckpointManager returns a manager seeded at the null initial state.
func NewCheckpointManager(interval, highWaterMult uint64) *CheckpointManager {
	if interval == 0 {
		interval = DefaultCheckpointInterval
	}
	if highWaterMult == 0 {
		highWaterMult = DefaultHighWaterIntervalInCheckpoints
	}
	return &CheckpointManager{
		interval:      interval,
		highWaterMult: highWaterMult,
		stable:        Checkpoint{Seq: 0, Hash: initialCheckpointHash},
		stableProof:   make(map[string]string),
		localUnstable: make(map[uint64]string),
		proofs:        make(map[Checkpoint]map[string]string),
		low:           0,
		high:          highWaterMult * interval,
	}
}

// Interval is CHECKPOINT_INTERVAL.
func (m *CheckpointManager) Interval() uint64 { return m.interval }

// ShouldCheckpoint reports whether seq lands on a checkpoint boundary.
func (m *CheckpointManager) ShouldCheckpoint(seq uint64) bool {
	return seq%m.interval == 0
}

// LowWaterMark / HighWaterMark bound the accepted sequence window (low, high].
func (m *CheckpointManager) LowWaterMark() uint64  { return m.low }
func (m *CheckpointManager) HighWaterMark() uint64 { return m.high }

// InWindow reports whether seq is in the accepted window (low, high].
func (m *CheckpointManager) InWindow(seq uint64) bool {
	return seq > m.low && seq <= m.high
}

// StableCheckpoint returns the latest stable checkpoint.
func (m *CheckpointManager) StableCheckpoint() Checkpoint { return m.stable }

// UnstableCheckpointsCount is part of the status surface.
func (m *CheckpointManager) UnstableCheckpointsCount() int { return len(m.localUnstable) }

// LatestCheckpoint returns the highest-sequence local unstable checkpoint,
// or the stable one if there is no unstable checkpoint beyond it.
func (m *CheckpointManager) LatestCheckpoint() Checkpoint {
	best := m.stable
	for seq, hash := range m.localUnstable {
		if seq > best.Seq {
			best = Checkpoint{Seq: seq, Hash: hash}
		}
	}
	return best
}

// CheckpointReachedLocally records that we have ourselves executed up to
// seq and computed hash for it.
func (m *CheckpointManager) CheckpointReachedLocally(seq uint64, hash string) {
	m.localUnstable[seq] = hash
}

// RecordProof records peer's CHECKPOINT(seq, hash) vouching for a checkpoint.
// It is a no-op for checkpoints at or before the already-stable sequence.
func (m *CheckpointManager) RecordProof(peer string, seq uint64, hash string) {
	if seq <= m.stable.Seq {
		return
	}
	cp := Checkpoint{Seq: seq, Hash: hash}
	set, ok := m.proofs[cp]
	if !ok {
		set = make(map[string]string)
		m.proofs[cp] = set
	}
	set[peer] = hash
}

// ProofCount returns how many distinct peers have vouched for cp.
func (m *CheckpointManager) ProofCount(cp Checkpoint) int {
	return len(m.proofs[cp])
}

// HaveLocal reports whether we've reached cp ourselves.
func (m *CheckpointManager) HaveLocal(cp Checkpoint) bool {
	h, ok := m.localUnstable[cp.Seq]
	return ok && h == cp.Hash
}

// PeersWithProof returns the peers that have vouched for exactly cp — never
// peers that attested a different hash at that sequence.
func (m *CheckpointManager) PeersWithProof(cp Checkpoint) []string {
	set := m.proofs[cp]
	out := make([]string, 0, len(set))
	for peer := range set {
		out = append(out, peer)
	}
	return out
}

// SelectPeerForCheckpoint draws uniformly at random from the peers whose
// proof we hold for cp, for a GET-STATE request.
func (m *CheckpointManager) SelectPeerForCheckpoint(cp Checkpoint) (string, bool) {
	candidates := m.PeersWithProof(cp)
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[rand.IntN(len(candidates))], true
}

// Stabilize installs cp as the new stable checkpoint: it erases unstable
// local checkpoints and proof sets at or below cp.Seq and advances the water
// marks. It returns nothing; trimming the log (Log.DeleteUpTo) and pruning
// recent requests up to cp.Seq are left to the caller.
func (m *CheckpointManager) Stabilize(cp Checkpoint) {
	m.stable = cp
	m.stableProof = m.proofs[cp]

	for seq := range m.localUnstable {
		if seq <= cp.Seq {
			delete(m.localUnstable, seq)
		}
	}
	for existing := range m.proofs {
		if existing.Seq <= cp.Seq {
			delete(m.proofs, existing)
		}
	}

	if cp.Seq > m.low {
		m.low = cp.Seq
	}
	newHigh := cp.Seq + m.highWaterMult*m.interval
	if newHigh > m.high {
		m.high = newHigh
	}
}

// StableProof returns the proof set backing the current stable checkpoint.
func (m *CheckpointManager) StableProof() map[string]string { return m.stableProof }
