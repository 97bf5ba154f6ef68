// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/google/btree"
	"golang.org/x/crypto/sha3"
)

// kvItem is the btree.Item backing KVStateMachine's ordered key index,
// grounded in gyuho-db/mvcc/01_tree_index.go's btree.BTree-over-sync.RWMutex
// shape.
type kvItem struct {
	key string
}

func (a kvItem) Less(than btree.Item) bool {
	return a.key < than.(kvItem).key
}

// KVOp is the gob-encoded body of a client Request.Op this state machine
// understands: a single put or delete of one key in one flat key space.
type KVOp struct {
	Delete bool
	Key    string
	Value  []byte
}

// KVStateMachine is a reference NodeStateMachine: an in-memory key-value
// store with a btree index for ordered scans, snapshotted wholesale for
// state transfer. It is demo/test plumbing, not a mandated storage format —
// the actual service lives outside this module per the core's non-goals.
type KVStateMachine struct {
	mu     sync.RWMutex
	values map[string][]byte
	index  *btree.BTree
	seq    uint64
}

// NewKVStateMachine returns an empty store.
func NewKVStateMachine() *KVStateMachine {
	return &KVStateMachine{
		values: make(map[string][]byte),
		index:  btree.New(32),
	}
}

// Apply decodes op as a KVOp and applies it, returning the prior value (or
// nil) as the client-visible result.
func (m *KVStateMachine) Apply(seq uint64, op []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kv KVOp
	if err := gob.NewDecoder(bytes.NewReader(op)).Decode(&kv); err != nil {
		return nil, fmt.Errorf("adapter: decode op at seq %d: %w", seq, err)
	}

	prior := m.values[kv.Key]
	if kv.Delete {
		delete(m.values, kv.Key)
		m.index.Delete(kvItem{key: kv.Key})
	} else {
		if _, existed := m.values[kv.Key]; !existed {
			m.index.ReplaceOrInsert(kvItem{key: kv.Key})
		}
		m.values[kv.Key] = kv.Value
	}
	m.seq = seq
	return prior, nil
}

// Scan returns every value for keys in [start, end) in ascending order, the
// ordered-scan capability the btree index exists to provide.
func (m *KVStateMachine) Scan(start, end string) map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte)
	m.index.AscendRange(kvItem{key: start}, kvItem{key: end}, func(it btree.Item) bool {
		k := it.(kvItem).key
		out[k] = m.values[k]
		return true
	})
	return out
}

// StateHash hashes the full key set deterministically (sorted ascending by
// the btree's own iteration order) with SHAKE256.
func (m *KVStateMachine) StateHash(seq uint64) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var buf bytes.Buffer
	m.index.Ascend(func(it btree.Item) bool {
		k := it.(kvItem).key
		buf.WriteString(k)
		buf.Write(m.values[k])
		return true
	})
	h := make([]byte, 64)
	sha3.ShakeSum256(h, buf.Bytes())
	return h
}

// snapshot is the gob-serialized form transferred by Snapshot/Restore.
type snapshot struct {
	Seq    uint64
	Values map[string][]byte
}

// Snapshot serializes the entire store for state transfer.
func (m *KVStateMachine) Snapshot(seq uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp := make(map[string][]byte, len(m.values))
	for k, v := range m.values {
		cp[k] = v
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot{Seq: seq, Values: cp}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Restore replaces the store wholesale with a transferred snapshot.
func (m *KVStateMachine) Restore(seq uint64, data []byte) error {
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = snap.Values
	m.index = btree.New(32)
	for k := range m.values {
		m.index.ReplaceOrInsert(kvItem{key: k})
	}
	m.seq = seq
	return nil
}

// Consolidate is a no-op here: this reference adapter keeps no history
// beyond current values, so there is nothing to drop below seq.
func (m *KVStateMachine) Consolidate(seq uint64) {}
