// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pbft

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/gob"
	"sync"
	"testing"
	"time"
)

// chanBus is a minimal in-process transport connecting every registered
// node by buffered channels, grounded in myl7-pbft/node_test.go's
// chanNodeCommunicator harness.
type chanBus struct {
	mu         sync.Mutex
	nodes      map[string]chan *Envelope
	clients    map[string]chan *Envelope
	broadcasts map[MsgKind]int
}

func newChanBus() *chanBus {
	return &chanBus{
		nodes:      make(map[string]chan *Envelope),
		clients:    make(map[string]chan *Envelope),
		broadcasts: make(map[MsgKind]int),
	}
}

// broadcastCount reports how many Broadcast calls of the given kind this bus
// has relayed, for assertions on how many replicas emitted a given message.
func (b *chanBus) broadcastCount(kind MsgKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broadcasts[kind]
}

func (b *chanBus) register(id string) chan *Envelope {
	ch := make(chan *Envelope, 256)
	b.mu.Lock()
	b.nodes[id] = ch
	b.mu.Unlock()
	return ch
}

func (b *chanBus) registerClient(id string) chan *Envelope {
	ch := make(chan *Envelope, 256)
	b.mu.Lock()
	b.clients[id] = ch
	b.mu.Unlock()
	return ch
}

type chanComm struct {
	bus  *chanBus
	self string
}

func (c chanComm) Unicast(ctx context.Context, toPeer string, env *Envelope) error {
	c.bus.mu.Lock()
	ch := c.bus.nodes[toPeer]
	c.bus.mu.Unlock()
	if ch == nil {
		return nil
	}
	ch <- env
	return nil
}

func (c chanComm) Broadcast(ctx context.Context, env *Envelope) error {
	c.bus.mu.Lock()
	ids := make([]string, 0, len(c.bus.nodes))
	for id := range c.bus.nodes {
		ids = append(ids, id)
	}
	c.bus.broadcasts[env.Kind]++
	c.bus.mu.Unlock()
	for _, id := range ids {
		if id == c.self {
			continue
		}
		if err := c.Unicast(ctx, id, env); err != nil {
			return err
		}
	}
	return nil
}

func (c chanComm) Reply(ctx context.Context, toClient string, env *Envelope) error {
	c.bus.mu.Lock()
	ch := c.bus.clients[toClient]
	c.bus.mu.Unlock()
	if ch == nil {
		return nil
	}
	ch <- env
	return nil
}

// counterSM is a trivial NodeStateMachine: the state is a running sum, and
// Apply(op) adds the gob-encoded int op to it and returns the new total.
type counterSM struct {
	mu    sync.Mutex
	total int
}

func (s *counterSM) Apply(seq uint64, op []byte) ([]byte, error) {
	var delta int
	decodeGob(op, &delta)
	s.mu.Lock()
	s.total += delta
	total := s.total
	s.mu.Unlock()
	return encodeGob(total), nil
}

func (s *counterSM) StateHash(seq uint64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hash(encodeGob(s.total))
}

func (s *counterSM) Snapshot(seq uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return encodeGob(s.total), nil
}

func (s *counterSM) Restore(seq uint64, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	decodeGob(b, &s.total)
	return nil
}

func (s *counterSM) Consolidate(seq uint64) {}

type mapPKGetter map[string][]byte

func (m mapPKGetter) Get(user string) ([]byte, error) {
	pk, ok := m[user]
	if !ok {
		return nil, ErrUnknownNodeID
	}
	return pk, nil
}

type fixedClock struct{ t int64 }

func (c *fixedClock) Now() int64 {
	c.t++
	return c.t
}

type memStorage struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemStorage() *memStorage { return &memStorage{m: make(map[string][]byte)} }

func (s *memStorage) Put(key string, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = val
	return nil
}

func (s *memStorage) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key], nil
}

type gobSerdeForTest struct{}

func (gobSerdeForTest) Ser(obj any) []byte {
	var buf bytes.Buffer
	gob.NewEncoder(&buf).Encode(obj)
	return buf.Bytes()
}

func (gobSerdeForTest) De(b []byte, obj any) {
	gob.NewDecoder(bytes.NewReader(b)).Decode(obj)
}

// buildCluster wires up n replicas connected by an in-process bus,
// each pumping its channel through Replica.Handle on its own goroutine.
func buildCluster(t *testing.T, n int) (replicas []*Replica, bus *chanBus, pks mapPKGetter, sks map[string][]byte, stop func()) {
	t.Helper()
	return buildClusterWithCheckpoints(t, n, 0, 0)
}

// buildClusterWithCheckpoints is buildCluster with an explicit checkpoint
// interval and high-water multiplier, for tests exercising the log window.
func buildClusterWithCheckpoints(t *testing.T, n int, interval, highWaterMult uint64) (replicas []*Replica, bus *chanBus, pks mapPKGetter, sks map[string][]byte, stop func()) {
	t.Helper()
	crypto := NewDefaultCrypto()
	bus = newChanBus()
	pks = make(mapPKGetter)
	sks = make(map[string][]byte)

	peers := make([]PeerAddress, n)
	for i := 0; i < n; i++ {
		peers[i] = mkPeer(string(rune('A'+i)), 1000+i)
	}
	config, err := NewConfigurationWithPeers(peers)
	if err != nil {
		t.Fatalf("build configuration: %v", err)
	}

	replicas = make([]*Replica, n)
	chans := make([]chan *Envelope, n)
	for i := 0; i < n; i++ {
		pk, sk, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		id := peers[i].UniqueID
		pks[id] = SerPK(pk)
		sks[id] = SerSK(sk)
		chans[i] = bus.register(id)
	}

	for i := 0; i < n; i++ {
		id := peers[i].UniqueID
		replicas[i] = NewReplica(ReplicaConfig{
			Self:               peers[i],
			SK:                 sks[id],
			Crypto:             crypto,
			Comm:               chanComm{bus: bus, self: id},
			Storage:            newMemStorage(),
			Serde:              gobSerdeForTest{},
			SM:                 &counterSM{},
			PKGet:              pks,
			Clock:              &fixedClock{},
			Initial:            config,
			CheckpointInterval: interval,
			HighWaterMult:      highWaterMult,
		})
	}

	done := make(chan struct{})
	for i := 0; i < n; i++ {
		i := i
		go func() {
			for {
				select {
				case env := <-chans[i]:
					replicas[i].Handle(context.Background(), env)
				case <-done:
					return
				}
			}
		}()
	}
	return replicas, bus, pks, sks, func() { close(done) }
}

func clientKey(t *testing.T) (pk, sk []byte) {
	t.Helper()
	pkObj, skObj, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	return SerPK(pkObj), SerSK(skObj)
}

func signedRequest(crypto CryptoProvider, clientID string, sk []byte, delta int, ts int64) *Request {
	req := &Request{
		Op:        encodeGob(delta),
		Timestamp: ts,
		ClientID:  clientID,
		Type:      RequestDatabase,
	}
	digest := crypto.Hash(struct {
		Op        []byte
		Timestamp int64
		ClientID  string
		Type      RequestType
	}{req.Op, req.Timestamp, req.ClientID, req.Type})
	req.Sig = crypto.Sign(digest, sk)
	return req
}

func TestReplicaClusterAgreesAndExecutes(t *testing.T) {
	const n = 4
	replicas, bus, pks, _, stop := buildCluster(t, n)
	defer stop()

	crypto := NewDefaultCrypto()
	clientPK, clientSK := clientKey(t)
	pks["client-0"] = clientPK
	replyCh := bus.registerClient("client-0")

	req := signedRequest(crypto, "client-0", clientSK, 7, 1)
	if err := replicas[0].HandleRequest(context.Background(), req); err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}

	select {
	case env := <-replyCh:
		if env.Reply == nil {
			t.Fatal("expected a REPLY envelope")
		}
		var total int
		decodeGob(env.Reply.Result, &total)
		if total != 7 {
			t.Fatalf("expected result 7, got %d", total)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestReplicaNonPrimaryForwardsToPrimary(t *testing.T) {
	const n = 4
	replicas, bus, pks, _, stop := buildCluster(t, n)
	defer stop()

	crypto := NewDefaultCrypto()
	clientPK, clientSK := clientKey(t)
	pks["client-1"] = clientPK
	replyCh := bus.registerClient("client-1")

	req := signedRequest(crypto, "client-1", clientSK, 3, 1)
	// Replica 1 is not primary in view 0 (replica 0 is); it should forward.
	if err := replicas[1].HandleRequest(context.Background(), req); err != nil {
		t.Fatalf("HandleRequest on non-primary: %v", err)
	}

	select {
	case env := <-replyCh:
		var total int
		decodeGob(env.Reply.Result, &total)
		if total != 3 {
			t.Fatalf("expected result 3, got %d", total)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply routed through the primary")
	}

	if got := bus.broadcastCount(MsgKindPrePrepare); got != 1 {
		t.Fatalf("expected exactly 1 PRE-PREPARE broadcast (from the primary only), got %d", got)
	}
}

// TestReplicaPrimaryOrdersOneRequest checks the broadcast shape of a single
// request agreed by a healthy 3f+1 cluster: exactly one PRE-PREPARE (the
// primary), exactly n-1 PREPAREs (every non-primary reacting to it), and
// exactly n COMMITs (every replica, once its own copy of the operation
// becomes prepared).
func TestReplicaPrimaryOrdersOneRequest(t *testing.T) {
	const n = 4
	replicas, bus, pks, _, stop := buildCluster(t, n)
	defer stop()

	crypto := NewDefaultCrypto()
	clientPK, clientSK := clientKey(t)
	pks["client-primary"] = clientPK
	replyCh := bus.registerClient("client-primary")

	req := signedRequest(crypto, "client-primary", clientSK, 5, 1)
	if err := replicas[0].HandleRequest(context.Background(), req); err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}

	// Every replica replies once it executes, and it broadcasts its COMMIT
	// before executing, so the counts below are read only after all n replies.
	for i := 0; i < n; i++ {
		select {
		case env := <-replyCh:
			var total int
			decodeGob(env.Reply.Result, &total)
			if total != 5 {
				t.Fatalf("expected result 5, got %d", total)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for reply")
		}
	}

	if got := bus.broadcastCount(MsgKindPrePrepare); got != 1 {
		t.Fatalf("expected 1 PRE-PREPARE broadcast, got %d", got)
	}
	if got := bus.broadcastCount(MsgKindPrepare); got != n-1 {
		t.Fatalf("expected %d PREPARE broadcasts, got %d", n-1, got)
	}
	if got := bus.broadcastCount(MsgKindCommit); got != n {
		t.Fatalf("expected %d COMMIT broadcasts, got %d", n, got)
	}
}

// preprepareEnvelope builds a signed PrePrepareMsg carrying req, as if sent
// by the primary holding sk.
func preprepareEnvelope(crypto CryptoProvider, sk []byte, view, seq uint64, req *Request, digest string) *PrePrepareMsg {
	pp := PrePrepare{View: view, Seq: seq, Digest: digest}
	pp.Sig = crypto.Sign(crypto.Hash(pp), sk)
	return &PrePrepareMsg{PrePrepare: pp, Req: req}
}

// TestReplicaRejectsConflictingPrePrepare exercises the log's non-equivocation
// rule at the replica level: a second PRE-PREPARE for the same (view, seq)
// but a different digest must be rejected once the first has been accepted.
func TestReplicaRejectsConflictingPrePrepare(t *testing.T) {
	const n = 4
	replicas, _, _, sks, stop := buildCluster(t, n)
	defer stop()

	crypto := NewDefaultCrypto()
	primaryID := replicas[0].self.UniqueID
	primarySK := sks[primaryID]
	backup := replicas[1]
	_, clientSK := clientKey(t)

	reqA := signedRequest(crypto, "client-a", clientSK, 1, 1)
	digestA := backup.digestRequest(reqA)
	msgA := preprepareEnvelope(crypto, primarySK, 0, 1, reqA, digestA)
	if err := backup.HandlePrePrepare(context.Background(), primaryID, msgA); err != nil {
		t.Fatalf("first PRE-PREPARE should be accepted: %v", err)
	}

	reqB := signedRequest(crypto, "client-a", clientSK, 2, 2)
	digestB := backup.digestRequest(reqB)
	msgB := preprepareEnvelope(crypto, primarySK, 0, 1, reqB, digestB)
	if err := backup.HandlePrePrepare(context.Background(), primaryID, msgB); err != ErrUnmatchedPP {
		t.Fatalf("expected ErrUnmatchedPP for a conflicting PRE-PREPARE, got %v", err)
	}
}

// TestReplicaViewChangeCatchUp drives the f+1 catch-up rule end to end: once
// two replicas independently decide to move to view 1 (as if each had
// suspected the view-0 primary), every other replica joins in on seeing
// f+1 VIEW-CHANGEs, 2f of them reach the new primary, and its NEW-VIEW
// brings the whole cluster to view 1, still able to agree on new requests.
func TestReplicaViewChangeCatchUp(t *testing.T) {
	const n = 4
	replicas, bus, pks, _, stop := buildCluster(t, n)
	defer stop()

	ctx := context.Background()
	for _, i := range []int{1, 2} {
		r := replicas[i]
		r.mu.Lock()
		if err := r.startViewChangeLocked(ctx, 1); err != nil {
			r.mu.Unlock()
			t.Fatalf("startViewChangeLocked on replica %d: %v", i, err)
		}
		r.mu.Unlock()
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		allAtView1 := true
		for _, r := range replicas {
			r.mu.Lock()
			v, active := r.view, r.viewActive
			r.mu.Unlock()
			if v != 1 || !active {
				allAtView1 = false
				break
			}
		}
		if allAtView1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for every replica to reach view 1")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// View 1's primary is replica 1 (view % n). A request through it should
	// still be agreed by the reconfigured cluster.
	crypto := NewDefaultCrypto()
	clientPK, clientSK := clientKey(t)
	pks["client-catchup"] = clientPK
	replyCh := bus.registerClient("client-catchup")

	req := signedRequest(crypto, "client-catchup", clientSK, 9, 1)
	if err := replicas[1].HandleRequest(ctx, req); err != nil {
		t.Fatalf("HandleRequest after view change: %v", err)
	}

	select {
	case env := <-replyCh:
		var total int
		decodeGob(env.Reply.Result, &total)
		if total != 9 {
			t.Fatalf("expected result 9, got %d", total)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply after view change")
	}
}

// TestReplicaJoinCommitsNewConfiguration drives a JOIN proposal through the
// primary end to end: NEW-CONFIG is admitted like any client request, every
// replica enables the candidate configuration once it prepares, and once it
// commits every replica switches to it as current and drops the superseded
// one.
func TestReplicaJoinCommitsNewConfiguration(t *testing.T) {
	const n = 4
	replicas, _, _, _, stop := buildCluster(t, n)
	defer stop()

	crypto := NewDefaultCrypto()
	replicas[0].mu.Lock()
	oldHash := replicas[0].config().Hash(crypto)
	replicas[0].mu.Unlock()
	newPeer := mkPeer("E", 2000)

	ctx := context.Background()
	if err := replicas[0].HandleJoin(ctx, replicas[0].self.UniqueID, &JoinMsg{Peer: newPeer}); err != nil {
		t.Fatalf("HandleJoin on primary: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		allJoined := true
		for _, r := range replicas {
			r.mu.Lock()
			cfg := r.config()
			r.mu.Unlock()
			if cfg.N() != n+1 {
				allJoined = false
				break
			}
		}
		if allJoined {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for every replica to commit the new configuration")
		}
		time.Sleep(10 * time.Millisecond)
	}

	for i, r := range replicas {
		r.mu.Lock()
		cfg := r.config()
		found := false
		for _, p := range cfg.Peers() {
			if p.UniqueID == newPeer.UniqueID {
				found = true
			}
		}
		stillHasOld := r.configs.Get(oldHash) != nil
		r.mu.Unlock()
		if !found {
			t.Fatalf("replica %d: expected the new peer in the committed configuration", i)
		}
		if stillHasOld {
			t.Fatalf("replica %d: expected the superseded configuration to be garbage collected", i)
		}
	}
}

// TestReplicaLeaveCommitsNewConfiguration drives a LEAVE proposal through a
// non-primary, which must forward the NEW-CONFIG request to the primary
// rather than proposing it directly.
func TestReplicaLeaveCommitsNewConfiguration(t *testing.T) {
	const n = 5
	replicas, _, _, _, stop := buildCluster(t, n)
	defer stop()

	leaving := replicas[n-1].self

	ctx := context.Background()
	if err := replicas[1].HandleLeave(ctx, replicas[1].self.UniqueID, &LeaveMsg{Peer: leaving}); err != nil {
		t.Fatalf("HandleLeave on non-primary: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		allLeft := true
		for _, r := range replicas {
			r.mu.Lock()
			cfg := r.config()
			r.mu.Unlock()
			if cfg.N() != n-1 {
				allLeft = false
				break
			}
		}
		if allLeft {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for every replica to commit the shrunk configuration")
		}
		time.Sleep(10 * time.Millisecond)
	}

	for i, r := range replicas {
		r.mu.Lock()
		cfg := r.config()
		r.mu.Unlock()
		for _, p := range cfg.Peers() {
			if p.UniqueID == leaving.UniqueID {
				t.Fatalf("replica %d: expected the leaving peer to be absent from the committed configuration", i)
			}
		}
	}
}

// TestReplicaPrePrepareOutsideWindowRejected exercises the log window at the
// replica level: a PRE-PREPARE beyond the high water mark is dropped, one at
// or below it is accepted.
func TestReplicaPrePrepareOutsideWindowRejected(t *testing.T) {
	const n = 4
	replicas, _, _, sks, stop := buildClusterWithCheckpoints(t, n, 2, 1) // high water mark = 2
	defer stop()

	crypto := NewDefaultCrypto()
	primaryID := replicas[0].self.UniqueID
	primarySK := sks[primaryID]
	backup := replicas[1]
	_, clientSK := clientKey(t)

	tooFar := signedRequest(crypto, "client-window", clientSK, 1, 1)
	digestFar := backup.digestRequest(tooFar)
	msgFar := preprepareEnvelope(crypto, primarySK, 0, 3, tooFar, digestFar)
	if err := backup.HandlePrePrepare(context.Background(), primaryID, msgFar); err != ErrSeqOutOfWindow {
		t.Fatalf("expected ErrSeqOutOfWindow for seq beyond the high water mark, got %v", err)
	}

	inWindow := signedRequest(crypto, "client-window", clientSK, 2, 2)
	digestIn := backup.digestRequest(inWindow)
	msgIn := preprepareEnvelope(crypto, primarySK, 0, 2, inWindow, digestIn)
	if err := backup.HandlePrePrepare(context.Background(), primaryID, msgIn); err != nil {
		t.Fatalf("expected a PRE-PREPARE at the high water mark to be accepted, got %v", err)
	}
}

// TestReplicaCheckpointStabilizesAcrossCluster drives enough requests through
// a full cluster to cross a checkpoint boundary and waits for every replica
// to independently stabilize it from peers' CHECKPOINT broadcasts, advancing
// its low water mark and garbage-collecting the log beneath it.
func TestReplicaCheckpointStabilizesAcrossCluster(t *testing.T) {
	const n = 4
	replicas, bus, pks, _, stop := buildClusterWithCheckpoints(t, n, 2, 2) // checkpoint every 2 ops
	defer stop()

	crypto := NewDefaultCrypto()
	clientPK, clientSK := clientKey(t)
	pks["client-checkpoint"] = clientPK
	replyCh := bus.registerClient("client-checkpoint")

	for i, delta := range []int{1, 2} {
		req := signedRequest(crypto, "client-checkpoint", clientSK, delta, int64(i+1))
		if err := replicas[0].HandleRequest(context.Background(), req); err != nil {
			t.Fatalf("HandleRequest %d: %v", i, err)
		}
		select {
		case <-replyCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for reply %d", i)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		allStable := true
		for _, r := range replicas {
			st := r.Status()
			if st.StableSeq != 2 {
				allStable = false
				break
			}
		}
		if allStable {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for every replica to stabilize the checkpoint at seq 2")
		}
		time.Sleep(10 * time.Millisecond)
	}

	for i, r := range replicas {
		r.mu.Lock()
		low := r.cp.LowWaterMark()
		r.mu.Unlock()
		if low != 2 {
			t.Fatalf("replica %d: expected low water mark 2 after stabilization, got %d", i, low)
		}
	}
}

func TestReplicaStatusReflectsConfiguration(t *testing.T) {
	const n = 4
	replicas, _, _, _, stop := buildCluster(t, n)
	defer stop()

	st := replicas[0].Status()
	if st.N != n {
		t.Fatalf("expected N=%d, got %d", n, st.N)
	}
	if st.F != 1 {
		t.Fatalf("expected F=1, got %d", st.F)
	}
	if !st.IsPrimary {
		t.Fatal("expected replica 0 to be primary in view 0")
	}
}
