package rcl

import (
	"testing"
	"time"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
	"github.com/LeJamon/goXRPLd/internal/core/shamap"
)

// acceptingTxEngine applies every transaction unconditionally.
type acceptingTxEngine struct{}

func (acceptingTxEngine) Apply(*Ledger, []byte) (bool, bool, error) { return true, false, nil }

type noopTxIndex struct{}

func (noopTxIndex) RecordTransaction(consensus.TxID, uint32) {}

// mockClock lets a test advance Environment.now() deterministically
// instead of racing the wall clock.
type mockClock struct {
	t time.Time
}

func (c *mockClock) now() time.Time { return c.t }
func (c *mockClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func testGenesisLedger(t *testing.T) *Ledger {
	t.Helper()
	txMap, err := shamap.New(shamap.TypeTransaction)
	if err != nil {
		t.Fatalf("shamap.New tx: %v", err)
	}
	stateMap, err := shamap.New(shamap.TypeState)
	if err != nil {
		t.Fatalf("shamap.New state: %v", err)
	}
	l := &Ledger{
		Header: Header{
			Seq:             10,
			CloseTime:       time.Unix(1000, 0),
			ParentCloseTime: time.Unix(990, 0),
			CloseResolution: 10,
		},
		TxMap:    txMap,
		StateMap: stateMap,
	}
	l.Accept()
	l.MarkValidated()
	return l
}

// TestRoundUnanimousTrivialClose drives a full round to PhaseAccepted
// with three agreeing peers and a single pending transaction, exercising
// the open -> establish -> finished -> accepted pipeline end to end.
func TestRoundUnanimousTrivialClose(t *testing.T) {
	clock := &mockClock{t: time.Unix(2000, 0)}
	prevLedger := testGenesisLedger(t)

	nodes := newFakeNodeStore()
	ledgers := newFakeLedgerStore()
	peers := &fakePeerDirectory{}
	signer, err := NewSigner([]byte("round test validator seed value"), NewStaticPubKeyDirectory(nil))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	env := &Environment{
		Peers:       peers,
		Nodes:       nodes,
		Ledgers:     ledgers,
		Validations: NewValidationCollection(),
		TxEngine:    acceptingTxEngine{},
		TxIndex:     noopTxIndex{},
		Signer:      signer,
		Now:         clock.now,
	}

	openSet, err := shamap.New(shamap.TypeTransaction)
	if err != nil {
		t.Fatalf("shamap.New open: %v", err)
	}
	txKey := [32]byte{0x42}
	txData := []byte("a pending transaction")
	if err := openSet.Put(txKey, txData); err != nil {
		t.Fatalf("Put: %v", err)
	}

	lam := NewLedgerAcquireMaster(env)
	tam := NewTransactionAcquireMaster(env)
	r := NewRound(env, lam, tam, prevLedger.Hash(), openSet, prevLedger)
	if !r.haveCorrectLCL {
		t.Fatal("expected NewRound to recognize the matching prevLedger immediately")
	}

	done := make(chan *Ledger, 1)
	r.SetOnRoundEnd(func(l *Ledger) { done <- l })

	// Advance past the open phase. The open set already holds a pending
	// transaction, so shouldClose's idle-interval branch doesn't apply;
	// with no prior round to compare against it returns sinceClose itself,
	// so the gate opens as soon as sinceClose stops advancing past it.
	clock.advance(2 * time.Second)
	r.TimerEntry()
	if r.Phase() != consensus.PhaseEstablish {
		t.Fatalf("phase = %v, want PhaseEstablish", r.Phase())
	}

	ourTxSet := r.ourPosition.TxSet
	ourCloseTime := r.ourPosition.CloseTime

	for i := byte(1); i <= 3; i++ {
		r.PeerPosition(&consensus.Proposal{
			NodeID:    nodeID(i),
			Position:  0,
			TxSet:     ourTxSet,
			CloseTime: ourCloseTime,
		})
	}

	// Past LedgerMinConsensus so checkEstablishLocked actually evaluates.
	clock.advance(LedgerMinConsensus + time.Second)
	r.TimerEntry()

	var newLedger *Ledger
	select {
	case newLedger = <-done:
		if newLedger.Seq() != prevLedger.Seq()+1 {
			t.Errorf("new ledger seq = %d, want %d", newLedger.Seq(), prevLedger.Seq()+1)
		}
		if has, _ := newLedger.TxMap.Has(txKey); !has {
			t.Error("expected the pending transaction to be included in the closed ledger")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("round never reached PhaseAccepted")
	}

	if r.Phase() != consensus.PhaseAccepted {
		t.Errorf("phase = %v, want PhaseAccepted", r.Phase())
	}
	if len(ledgers.stored) != 1 {
		t.Errorf("expected the new ledger to be persisted, got %d stores", len(ledgers.stored))
	}
	if got := env.Validations.GetCurrentValidations(); got[newLedger.Hash()] != 1 {
		t.Errorf("expected exactly one validation recorded for the new ledger, got %d", got[newLedger.Hash()])
	}
}

func TestRoundPeerPositionBuffersBeforeLCL(t *testing.T) {
	clock := &mockClock{t: time.Unix(3000, 0)}
	prevLedger := testGenesisLedger(t)
	mismatchedHash := ledgerID(0x77)

	env := &Environment{
		Peers:       &fakePeerDirectory{},
		Nodes:       newFakeNodeStore(),
		Ledgers:     newFakeLedgerStore(),
		Validations: NewValidationCollection(),
		Now:         clock.now,
	}
	lam := NewLedgerAcquireMaster(env)
	tam := NewTransactionAcquireMaster(env)

	openSet, _ := shamap.New(shamap.TypeTransaction)
	r := NewRound(env, lam, tam, mismatchedHash, openSet, prevLedger)
	if r.haveCorrectLCL {
		t.Fatal("expected a mismatched prevLedger hash to leave haveCorrectLCL false")
	}

	p := &consensus.Proposal{NodeID: nodeID(1), Position: 0}
	r.PeerPosition(p)
	if len(r.peerPositions) != 0 {
		t.Error("expected the proposal to be buffered, not applied, before the LCL is resolved")
	}
	if len(r.bufferedProposals) != 1 {
		t.Errorf("bufferedProposals has %d entries, want 1", len(r.bufferedProposals))
	}
}

// TestRoundBufferedProposalsReplayOnLCLResolution covers the mid-round
// LCL switch: a round started against a prevLedger hash we don't hold
// locally buffers incoming proposals until LedgerAcquireMaster resolves
// it, then replays them in arrival order.
func TestRoundBufferedProposalsReplayOnLCLResolution(t *testing.T) {
	clock := &mockClock{t: time.Unix(7000, 0)}
	staleLCL := testGenesisLedger(t)

	env, _, _, _ := testEnv()
	env.Now = clock.now

	target := emptyHeader(staleLCL.Seq() + 1)
	targetHash := target.Hash()

	lam := NewLedgerAcquireMaster(env)
	tam := NewTransactionAcquireMaster(env)
	openSet, _ := shamap.New(shamap.TypeTransaction)
	r := NewRound(env, lam, tam, targetHash, openSet, staleLCL)
	if r.haveCorrectLCL {
		t.Fatal("expected the round to start unresolved against a prevLedger we don't hold")
	}

	r.PeerPosition(&consensus.Proposal{NodeID: nodeID(1), Position: 0})
	r.PeerPosition(&consensus.Proposal{NodeID: nodeID(2), Position: 0})
	if len(r.peerPositions) != 0 {
		t.Fatal("expected both proposals to be buffered while the LCL is unresolved")
	}

	job, ok := lam.Find(targetHash)
	if !ok {
		t.Fatal("expected NewRound to have registered a LedgerAcquire job for the requested prev hash")
	}
	job.GotNodeData(requestBase, targetHash, target.Encode())

	if !r.haveCorrectLCL {
		t.Fatal("expected the acquire's completion to resolve the round's LCL")
	}
	if r.PrevLedger() == nil || r.PrevLedger().Hash() != targetHash {
		t.Fatal("expected the round to adopt the acquired ledger as its prevLedger")
	}
	if len(r.bufferedProposals) != 0 {
		t.Error("expected bufferedProposals to be drained once the LCL resolved")
	}
	if len(r.peerPositions) != 2 {
		t.Fatalf("peerPositions has %d entries after replay, want 2", len(r.peerPositions))
	}
	if r.peerPositions[nodeID(1)].Position != 0 || r.peerPositions[nodeID(2)].Position != 0 {
		t.Error("expected both buffered proposals to be replayed with their original content")
	}
}

// TestRoundDuplicateAndStaleProposalsIgnored covers scenario 6: of four
// calls with Position 0,1,1,0, only the first two are strictly
// increasing and get applied; the duplicate and the stale one are
// dropped without double-voting any open dispute.
func TestRoundDuplicateAndStaleProposalsIgnored(t *testing.T) {
	clock := &mockClock{t: time.Unix(8000, 0)}
	prevLedger := testGenesisLedger(t)

	env, _, _, _ := testEnv()
	env.Now = clock.now
	env.Validations = NewValidationCollection()

	openSet, _ := shamap.New(shamap.TypeTransaction)
	lam := NewLedgerAcquireMaster(env)
	tam := NewTransactionAcquireMaster(env)
	r := NewRound(env, lam, tam, prevLedger.Hash(), openSet, prevLedger)

	clock.advance(LedgerIdleInterval)
	r.TimerEntry()
	if r.Phase() != consensus.PhaseEstablish {
		t.Fatalf("phase = %v, want PhaseEstablish", r.Phase())
	}

	xID := consensusTxID(0x58)
	theirSet, _ := shamap.New(shamap.TypeTransaction)
	if err := theirSet.Put([32]byte(xID), []byte("transaction X")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	theirHash, _ := theirSet.Hash()
	r.knownSets[consensus.TxSetID(theirHash)] = theirSet
	r.disputes[xID] = NewDispute(xID, nil, false)

	peer := nodeID(9)
	proposal := func(pos uint32) *consensus.Proposal {
		return &consensus.Proposal{NodeID: peer, Position: pos, TxSet: consensus.TxSetID(theirHash), CloseTime: clock.now()}
	}
	r.PeerPosition(proposal(0))
	r.PeerPosition(proposal(1))
	r.PeerPosition(proposal(1)) // duplicate, must be ignored
	r.PeerPosition(proposal(0)) // stale, must be ignored

	if got := r.peerPositions[peer].Position; got != 1 {
		t.Errorf("peerPositions[peer].Position = %d, want 1 (the last strictly-increasing proposal)", got)
	}
	d := r.disputes[xID]
	if d.Yays() != 1 || d.Nays() != 0 {
		t.Errorf("dispute yays=%d nays=%d, want yays=1 nays=0 (SetVote must stay idempotent across the repeated accepted vote)", d.Yays(), d.Nays())
	}
}

func TestRoundRemovePeerClearsState(t *testing.T) {
	clock := &mockClock{t: time.Unix(4000, 0)}
	prevLedger := testGenesisLedger(t)

	env := &Environment{
		Peers:       &fakePeerDirectory{},
		Nodes:       newFakeNodeStore(),
		Ledgers:     newFakeLedgerStore(),
		Validations: NewValidationCollection(),
		Now:         clock.now,
	}
	lam := NewLedgerAcquireMaster(env)
	tam := NewTransactionAcquireMaster(env)
	openSet, _ := shamap.New(shamap.TypeTransaction)
	r := NewRound(env, lam, tam, prevLedger.Hash(), openSet, prevLedger)

	peer := nodeID(5)
	r.corePeerPositionLocked(&consensus.Proposal{NodeID: peer, Position: 0, TxSet: consensus.TxSetID{}})
	r.disputes[consensusTxID(1)] = NewDispute(consensusTxID(1), nil, true)
	r.disputes[consensusTxID(1)].SetVote(peer, true)

	r.RemovePeer(peer)
	if _, ok := r.peerPositions[peer]; ok {
		t.Error("expected RemovePeer to delete the peer's position")
	}
	if _, ok := r.closeTimes[peer]; ok {
		t.Error("expected RemovePeer to delete the peer's close-time estimate")
	}
	if r.disputes[consensusTxID(1)].Yays() != 0 {
		t.Error("expected RemovePeer to retract the peer's dispute vote")
	}
}
