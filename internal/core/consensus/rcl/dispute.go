package rcl

import "github.com/LeJamon/goXRPLd/internal/core/consensus"

// Dispute tracks per-peer votes on a single contested transaction within
// one round. It is destroyed with the round; never shared across rounds.
type Dispute struct {
	TxID        consensus.TxID
	TxBody      []byte
	OurPosition bool
	// Originally records the stance the dispute was created with (whether
	// the transaction was part of our own initial proposed set), so the
	// accept routine can tell a transaction that lost its dispute from
	// one we never had in the first place when rebuilding the open ledger.
	Originally bool
	votes      map[consensus.NodeID]bool
	yays       int
	nays       int
}

// NewDispute creates a dispute seeded with our initial position.
func NewDispute(txID consensus.TxID, txBody []byte, ourPosition bool) *Dispute {
	return &Dispute{
		TxID:        txID,
		TxBody:      txBody,
		OurPosition: ourPosition,
		Originally:  ourPosition,
		votes:       make(map[consensus.NodeID]bool),
	}
}

// SetVote records or updates peer's vote, maintaining yays/nays counts.
func (d *Dispute) SetVote(peer consensus.NodeID, yes bool) {
	if existing, ok := d.votes[peer]; ok {
		if existing == yes {
			return
		}
		d.adjustCount(existing, -1)
	}
	d.votes[peer] = yes
	d.adjustCount(yes, 1)
}

// UnVote removes peer's recorded vote, if any.
func (d *Dispute) UnVote(peer consensus.NodeID) {
	existing, ok := d.votes[peer]
	if !ok {
		return
	}
	d.adjustCount(existing, -1)
	delete(d.votes, peer)
}

func (d *Dispute) adjustCount(yes bool, delta int) {
	if yes {
		d.yays += delta
	} else {
		d.nays += delta
	}
}

// Yays returns the current yes-vote count.
func (d *Dispute) Yays() int { return d.yays }

// Nays returns the current no-vote count.
func (d *Dispute) Nays() int { return d.nays }

// UpdatePosition re-evaluates our position against the current vote
// tally and the round's elapsed-time percentage, returning true iff our
// position flipped. See spec §4.5 for the avalanche schedule.
func (d *Dispute) UpdatePosition(percentTime int, proposing bool) bool {
	if len(d.votes) == 0 {
		return false
	}

	var newPosition bool
	if proposing {
		yesCount := d.yays
		if d.OurPosition {
			yesCount++
		}
		weight := (100 * yesCount) / (d.yays + d.nays + 1)
		// The rising avalanche bar only ever forces a flip to yes; once
		// we've flipped, a later drop in weight does not flip us back.
		newPosition = d.OurPosition || weight > avalancheThreshold(percentTime)
	} else {
		newPosition = d.yays > d.nays
	}

	if newPosition == d.OurPosition {
		return false
	}
	d.OurPosition = newPosition
	return true
}
