package rcl

import (
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
	"github.com/LeJamon/goXRPLd/internal/core/shamap"
)

// Round drives a single instance of the consensus protocol to a close
// (§4.9 LedgerConsensus). Every entrypoint below runs under r.mu, the
// "consensus lock" per §5 — at most one goroutine ever touches a
// Round's internal state at a time, except the accept routine, which
// runs on its own goroutine and only briefly reacquires the lock to
// install its results.
type Round struct {
	mu sync.Mutex

	env           *Environment
	ledgerAcquire *LedgerAcquireMaster
	txAcquire     *TransactionAcquireMaster

	phase consensus.Phase
	mode  consensus.Mode

	requestedPrevHash consensus.LedgerID
	haveCorrectLCL    bool
	prevLedger        *Ledger
	bufferedProposals []*consensus.Proposal

	closeResolution time.Duration
	startTime       time.Time
	closeTime       time.Time

	establishStartTime time.Time
	prevConvergeTime   time.Duration
	prevProposers      int

	ourPosition *consensus.Proposal
	ourTxSet    *shamap.SHAMap

	disputes      map[consensus.TxID]*Dispute
	peerPositions map[consensus.NodeID]*consensus.Proposal
	closeTimes    map[consensus.NodeID]time.Time
	knownSets     map[consensus.TxSetID]*shamap.SHAMap

	openLedgerTxSet *shamap.SHAMap

	onRoundEnd func(*Ledger)
}

// NewRound begins a new round against requestedPrevHash. If currentLCL
// already matches, the round starts with a correct LCL immediately;
// otherwise it suppresses proposing and buffers incoming proposals
// until LedgerAcquireMaster resolves the mismatch (spec §4.9 Init).
func NewRound(env *Environment, lam *LedgerAcquireMaster, tam *TransactionAcquireMaster, requestedPrevHash consensus.LedgerID, openLedgerTxSet *shamap.SHAMap, currentLCL *Ledger) *Round {
	r := &Round{
		env:               env,
		ledgerAcquire:     lam,
		txAcquire:         tam,
		phase:             consensus.PhaseOpen,
		requestedPrevHash: requestedPrevHash,
		disputes:          make(map[consensus.TxID]*Dispute),
		peerPositions:     make(map[consensus.NodeID]*consensus.Proposal),
		closeTimes:        make(map[consensus.NodeID]time.Time),
		knownSets:         make(map[consensus.TxSetID]*shamap.SHAMap),
		openLedgerTxSet:   openLedgerTxSet,
		startTime:         env.now(),
	}

	if currentLCL != nil && currentLCL.Hash() == requestedPrevHash {
		r.prevLedger = currentLCL
		r.haveCorrectLCL = true
		r.closeResolution = getNextLedgerTimeResolution(defaultCloseResolution(currentLCL), currentLCL.Header.CloseFlags == 0, currentLCL.Header.Seq+1)
		return r
	}

	job := lam.FindCreate(requestedPrevHash)
	job.OnComplete(func(l *Ledger) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.adoptAcquiredLCLLocked(l)
	})
	return r
}

func defaultCloseResolution(l *Ledger) time.Duration {
	if l == nil {
		return LedgerGranularity
	}
	return time.Duration(l.Header.CloseResolution) * time.Second
}

// SetOnRoundEnd registers fn to run (outside the round's lock) once
// the round reaches PhaseAccepted, so NetworkOPs can learn the round
// is over without polling.
func (r *Round) SetOnRoundEnd(fn func(*Ledger)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRoundEnd = fn
}

// Phase reports the round's current phase.
func (r *Round) Phase() consensus.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// PrevLedger returns the ledger this round is building on, or nil if
// the correct LCL has not yet been acquired.
func (r *Round) PrevLedger() *Ledger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prevLedger
}

func (r *Round) adoptAcquiredLCLLocked(l *Ledger) {
	if l == nil || r.haveCorrectLCL {
		return
	}
	r.prevLedger = l
	r.haveCorrectLCL = true
	r.closeResolution = getNextLedgerTimeResolution(defaultCloseResolution(l), l.Header.CloseFlags == 0, l.Header.Seq+1)

	buffered := r.bufferedProposals
	r.bufferedProposals = nil
	for _, p := range buffered {
		r.corePeerPositionLocked(p)
	}
}

// TimerEntry is the periodic heartbeat driving the round's phase
// transitions (spec §4.9, "periodic tick").
func (r *Round) TimerEntry() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.haveCorrectLCL {
		r.reevaluateLCLLocked()
		if !r.haveCorrectLCL {
			return
		}
	}

	percentTime := r.percentTimeLocked()

	switch r.phase {
	case consensus.PhaseOpen:
		r.checkPreCloseLocked()
	case consensus.PhaseEstablish:
		r.checkEstablishLocked(percentTime)
	default:
	}
}

func (r *Round) reevaluateLCLLocked() {
	job, ok := r.ledgerAcquire.Find(r.requestedPrevHash)
	if !ok || !job.IsComplete() {
		return
	}
	r.adoptAcquiredLCLLocked(job.result)
}

func (r *Round) percentTimeLocked() int {
	if r.establishStartTime.IsZero() || r.prevConvergeTime <= 0 {
		return 0
	}
	elapsed := r.env.now().Sub(r.establishStartTime)
	return int(100 * elapsed / r.prevConvergeTime)
}

func (r *Round) checkPreCloseLocked() {
	sinceClose := int(r.env.now().Sub(r.startTime) / time.Second)
	anyTx := r.openLedgerTxSetNonEmptyLocked()
	proposers := len(r.peerPositions)
	if sinceClose < shouldClose(anyTx, r.prevProposers, proposers, int(r.prevConvergeTime/time.Second), sinceClose) {
		return
	}
	r.enterEstablishLocked()
}

// openLedgerTxSetNonEmptyLocked reports whether the open ledger's
// transaction set actually holds anything, per the original's
// getHash().isNonZero() check: a freshly constructed empty set is a
// non-nil *shamap.SHAMap whose root hash is the zero value.
func (r *Round) openLedgerTxSetNonEmptyLocked() bool {
	if r.openLedgerTxSet == nil {
		return false
	}
	hash, err := r.openLedgerTxSet.Hash()
	if err != nil {
		return false
	}
	return hash != ([32]byte{})
}

func (r *Round) enterEstablishLocked() {
	r.phase = consensus.PhaseEstablish
	r.establishStartTime = r.env.now()
	r.closeTime = r.env.now()

	ourSet, _ := r.openLedgerTxSet.Snapshot(true)
	r.ourTxSet = ourSet

	hash, _ := ourSet.Hash()
	snap, _ := ourSet.Snapshot(false)
	r.knownSets[consensus.TxSetID(hash)] = snap

	nodeID := consensus.NodeID{}
	if r.env.Signer != nil {
		nodeID = r.env.Signer.NodeID()
	}
	r.ourPosition = &consensus.Proposal{
		PreviousLedger: r.requestedPrevHash,
		TxSet:          consensus.TxSetID(hash),
		Position:       0,
		CloseTime:      r.closeTime,
		NodeID:         nodeID,
	}

	for _, pos := range r.peerPositions {
		if pos.TxSet == r.ourPosition.TxSet {
			continue
		}
		if theirSet, ok := r.knownSets[pos.TxSet]; ok {
			r.createDisputesLocked(ourSet, theirSet)
		}
	}

	r.signAndBroadcastPositionLocked()
}

func (r *Round) createDisputesLocked(ourSet, theirSet *shamap.SHAMap) {
	visit := func(ownPosition bool) func(shamap.Node) bool {
		return func(n shamap.Node) bool {
			leaf, ok := n.(shamap.LeafNode)
			if !ok {
				return true
			}
			item := leaf.Item()
			txID := consensus.TxID(item.Key())
			if _, exists := r.disputes[txID]; exists {
				return true
			}
			r.disputes[txID] = NewDispute(txID, item.Data(), ownPosition)
			return true
		}
	}
	ourSet.VisitDifferences(theirSet, visit(true))
	theirSet.VisitDifferences(ourSet, visit(false))
}

func (r *Round) applyDisputeVotesLocked(peer consensus.NodeID, set *shamap.SHAMap) {
	for txID, d := range r.disputes {
		has, _ := set.Has([32]byte(txID))
		d.SetVote(peer, has)
	}
}

// maybeAcquireTxSetLocked kicks off (or joins) a TransactionAcquire
// job for setHash when we don't already hold it. It briefly drops
// r.mu around the acquire-registry call since TransactionAcquire.
// OnComplete invokes its callback inline when the job is already
// complete, and that callback re-locks r.mu itself.
func (r *Round) maybeAcquireTxSetLocked(setHash consensus.TxSetID, peer consensus.NodeID) {
	if _, ok := r.knownSets[setHash]; ok || r.txAcquire == nil {
		return
	}
	r.mu.Unlock()
	job := r.txAcquire.FindCreate(setHash)
	job.AddPeer(peer)
	job.OnComplete(func(m *shamap.SHAMap) {
		r.onTxSetComplete(setHash, m)
	})
	r.mu.Lock()
}

func (r *Round) onTxSetComplete(setHash consensus.TxSetID, m *shamap.SHAMap) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.knownSets[setHash] = m
	if r.ourTxSet != nil {
		ourHash, _ := r.ourTxSet.Hash()
		if ourSet, ok := r.knownSets[consensus.TxSetID(ourHash)]; ok {
			r.createDisputesLocked(ourSet, m)
		}
	}
	for peer, p := range r.peerPositions {
		if p.TxSet == setHash {
			r.applyDisputeVotesLocked(peer, m)
		}
	}
}

func (r *Round) corePeerPositionLocked(p *consensus.Proposal) {
	current, ok := r.peerPositions[p.NodeID]
	if ok && p.Position <= current.Position {
		return
	}
	if p.Position == 0 {
		r.closeTimes[p.NodeID] = p.CloseTime
	}
	r.peerPositions[p.NodeID] = p

	if set, ok := r.knownSets[p.TxSet]; ok {
		if r.phase == consensus.PhaseEstablish {
			r.applyDisputeVotesLocked(p.NodeID, set)
		}
		return
	}
	if r.phase == consensus.PhaseEstablish {
		r.maybeAcquireTxSetLocked(p.TxSet, p.NodeID)
	}
}

// PeerPosition records a proposed position from peer (spec §4.9
// peer-input: peerPosition).
func (r *Round) PeerPosition(p *consensus.Proposal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.haveCorrectLCL {
		r.bufferedProposals = append(r.bufferedProposals, p)
		return
	}
	r.corePeerPositionLocked(p)
}

// PeerHasSet records that peer can serve nodes for setHash.
func (r *Round) PeerHasSet(peer consensus.NodeID, setHash consensus.TxSetID) {
	if job, ok := r.txAcquire.Find(setHash); ok {
		job.AddPeer(peer)
	}
}

// PeerGaveNodes applies a single node-data reply for setHash.
func (r *Round) PeerGaveNodes(peer consensus.NodeID, setHash consensus.TxSetID, nodeHash consensus.TxSetID, data []byte) {
	r.txAcquire.GotTxSetData(setHash, peer, nodeHash, data)
}

// RemovePeer drops peer's recorded position and vote from every open
// dispute (spec §4.9 peer-input: removePeer).
func (r *Round) RemovePeer(peer consensus.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.peerPositions, peer)
	delete(r.closeTimes, peer)
	for _, d := range r.disputes {
		d.UnVote(peer)
	}
}

func (r *Round) checkEstablishLocked(percentTime int) {
	elapsed := r.env.now().Sub(r.establishStartTime)
	if elapsed < LedgerMinConsensus {
		return
	}

	proposing := r.env.Signer != nil
	changed := r.updateOurPositionsLocked(percentTime, proposing)
	if changed {
		r.signAndBroadcastPositionLocked()
	}

	currentAgree := r.countAgreeingLocked()
	if !haveConsensus(r.prevProposers, len(r.peerPositions), currentAgree, 0, r.prevConvergeTime, elapsed) {
		return
	}
	if !r.haveCloseTimeConsensusLocked(percentTime, proposing) {
		return
	}
	r.enterFinishedLocked()
}

func (r *Round) countAgreeingLocked() int {
	count := 0
	for _, p := range r.peerPositions {
		if p.TxSet == r.ourPosition.TxSet {
			count++
		}
	}
	return count
}

// updateOurPositionsLocked re-evaluates every open dispute and our
// close-time estimate, applying any flips to r.ourTxSet. Returns true
// if our proposed position changed and needs rebroadcasting.
func (r *Round) updateOurPositionsLocked(percentTime int, proposing bool) bool {
	changedSet := false
	for txID, d := range r.disputes {
		if !d.UpdatePosition(percentTime, proposing) {
			continue
		}
		changedSet = true
		if d.OurPosition {
			r.ourTxSet.Put([32]byte(txID), d.TxBody)
		} else {
			r.ourTxSet.Delete([32]byte(txID))
		}
	}

	changedCloseTime := r.updateCloseTimeLocked()

	if !changedSet && !changedCloseTime {
		return false
	}

	if changedSet {
		newHash, _ := r.ourTxSet.Hash()
		snap, _ := r.ourTxSet.Snapshot(false)
		r.knownSets[consensus.TxSetID(newHash)] = snap
		r.ourPosition.TxSet = consensus.TxSetID(newHash)
	}
	r.ourPosition.Position++
	return true
}

// updateCloseTimeLocked adopts the most commonly reported close-time
// bucket among peers as our own estimate, if it differs from what we
// currently propose.
func (r *Round) updateCloseTimeLocked() bool {
	if len(r.closeTimes) == 0 {
		return false
	}

	buckets := make(map[time.Time]int)
	for _, t := range r.closeTimes {
		buckets[closeTimeBucket(t, r.closeResolution)]++
	}

	var best time.Time
	bestCount := -1
	for b, c := range buckets {
		if c > bestCount || (c == bestCount && b.After(best)) {
			best, bestCount = b, c
		}
	}

	if best.Equal(r.ourPosition.CloseTime) {
		return false
	}
	r.ourPosition.CloseTime = best
	r.closeTime = best
	return true
}

func (r *Round) haveCloseTimeConsensusLocked(percentTime int, proposing bool) bool {
	// With no peer close times, our own bucket stands.
	if len(r.closeTimes) == 0 {
		return true
	}

	total := 0
	buckets := make(map[time.Time]int)
	for _, t := range r.closeTimes {
		buckets[closeTimeBucket(t, r.closeResolution)]++
		total++
	}
	if proposing {
		buckets[closeTimeBucket(r.ourPosition.CloseTime, r.closeResolution)]++
		total++
	}

	threshold := (neededCloseTimeWeight(percentTime)*total + 99) / 100
	for _, c := range buckets {
		if c > threshold {
			return true
		}
	}
	return false
}

func (r *Round) signAndBroadcastPositionLocked() {
	if r.env.Signer == nil {
		return
	}
	if err := r.env.Signer.SignProposal(r.ourPosition); err != nil {
		return
	}
	if r.env.Peers != nil {
		r.env.Peers.BroadcastProposal(r.ourPosition)
	}
}

func (r *Round) enterFinishedLocked() {
	r.phase = consensus.PhaseFinished
	go r.runAcceptRoutine()
}

// runAcceptRoutine builds, closes, and installs the new ledger (spec
// §4.9 "accept routine"). It briefly locks the round twice — once to
// snapshot the inputs it needs, once more at the end to install the
// result — and otherwise runs unlocked so the round's timer and
// peer-input entrypoints never block on it.
func (r *Round) runAcceptRoutine() {
	r.mu.Lock()
	setHash := r.ourPosition.TxSet
	txSet := r.knownSets[setHash]
	prevLedger := r.prevLedger
	closeResolution := r.closeResolution
	ourCloseTime := r.ourPosition.CloseTime
	closeTimeAgree := true
	for _, p := range r.peerPositions {
		if !p.CloseTime.Equal(ourCloseTime) {
			closeTimeAgree = false
			break
		}
	}
	disputes := r.disputes
	r.mu.Unlock()

	if txSet == nil {
		return
	}

	newLedger, err := r.applyTxSetWithRetry(prevLedger, txSet)
	if err != nil {
		return
	}

	closeTime := closeTimeBucket(ourCloseTime, closeResolution)
	agree := closeTimeAgree
	if !closeTime.After(prevLedger.Header.CloseTime) {
		agree = false
		closeTime = prevLedger.Header.CloseTime.Add(time.Second)
	}
	if err := newLedger.Close(closeTime, uint8(closeResolution/time.Second), agree); err != nil {
		return
	}

	if r.env.Signer != nil {
		v := &consensus.Validation{
			LedgerID:  newLedger.Hash(),
			LedgerSeq: newLedger.Header.Seq,
			SignTime:  r.env.now(),
			Full:      true,
		}
		if err := r.env.Signer.SignValidation(v); err == nil {
			if r.env.Validations != nil {
				r.env.Validations.Add(v)
			}
			if r.env.Peers != nil {
				r.env.Peers.BroadcastValidation(v)
			}
		}
	}

	var g errgroup.Group
	if r.env.Ledgers != nil {
		g.Go(func() error {
			return r.env.Ledgers.StoreLedger(newLedger)
		})
	}
	if r.env.Peers != nil {
		g.Go(func() error {
			r.env.Peers.BroadcastStatusChange(newLedger.Header.Seq, newLedger.Hash())
			return nil
		})
	}
	g.Wait()

	r.mu.Lock()
	newLedger.Accept()
	r.rebuildOpenLedgerLocked(newLedger, disputes)
	r.prevLedger = newLedger
	r.prevConvergeTime = r.env.now().Sub(r.establishStartTime)
	r.prevProposers = len(r.peerPositions)
	r.phase = consensus.PhaseAccepted
	cb := r.onRoundEnd
	r.mu.Unlock()

	if cb != nil {
		cb(newLedger)
	}
}

// rebuildOpenLedgerLocked seeds the next open ledger's transaction set
// with the transactions left over from this round: ones we originally
// proposed whose dispute ultimately lost (Originally && !OurPosition)
// and anything still sitting in the open ledger that this round's
// closed set never absorbed.
func (r *Round) rebuildOpenLedgerLocked(newLedger *Ledger, disputes map[consensus.TxID]*Dispute) {
	next, err := shamap.New(shamap.TypeTransaction)
	if err != nil {
		return
	}
	for txID, d := range disputes {
		if d.Originally && !d.OurPosition {
			next.Put([32]byte(txID), d.TxBody)
		}
	}
	if r.openLedgerTxSet != nil {
		r.openLedgerTxSet.ForEach(func(item *shamap.Item) bool {
			if _, found, _ := newLedger.TxMap.Get(item.Key()); !found {
				next.Put(item.Key(), item.Data())
			}
			return true
		})
	}
	r.openLedgerTxSet = next
}

// applyTxSetWithRetry builds a fresh open ledger on top of prevLedger
// and applies txSet's transactions in a fixed-point retry loop: a
// transaction that reports retryable failure stays in play for the
// next pass until either it succeeds or a full pass makes no further
// progress. This has to run sequentially — every application mutates
// shared ledger state the next one reads — so it is deliberately not
// parallelized.
func (r *Round) applyTxSetWithRetry(prevLedger *Ledger, txSet *shamap.SHAMap) (*Ledger, error) {
	newLedger, err := NewOpenLedger(prevLedger)
	if err != nil {
		return nil, err
	}

	var pending []*shamap.Item
	txSet.ForEach(func(item *shamap.Item) bool {
		pending = append(pending, item)
		return true
	})

	for len(pending) > 0 {
		var retry []*shamap.Item
		progressed := false
		for _, item := range pending {
			applied, shouldRetry, err := r.env.TxEngine.Apply(newLedger, item.Data())
			if err != nil {
				continue
			}
			if applied {
				newLedger.TxMap.PutItem(item)
				if r.env.TxIndex != nil {
					r.env.TxIndex.RecordTransaction(consensus.TxID(item.Key()), newLedger.Header.Seq)
				}
				progressed = true
				continue
			}
			if shouldRetry {
				retry = append(retry, item)
			}
		}
		if !progressed || len(retry) == 0 {
			break
		}
		pending = retry
	}

	return newLedger, nil
}
