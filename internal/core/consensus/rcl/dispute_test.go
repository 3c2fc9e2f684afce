package rcl

import "testing"

func TestDisputeVoteCounting(t *testing.T) {
	d := NewDispute(consensusTxID(1), []byte("tx"), true)
	if d.Yays() != 0 || d.Nays() != 0 {
		t.Fatal("expected a freshly created dispute to have no votes")
	}

	d.SetVote(nodeID(1), true)
	d.SetVote(nodeID(2), false)
	if d.Yays() != 1 || d.Nays() != 1 {
		t.Fatalf("Yays=%d Nays=%d, want 1/1", d.Yays(), d.Nays())
	}

	// Changing an existing vote moves the count, it doesn't double-count.
	d.SetVote(nodeID(2), true)
	if d.Yays() != 2 || d.Nays() != 0 {
		t.Fatalf("after flipping peer 2's vote: Yays=%d Nays=%d, want 2/0", d.Yays(), d.Nays())
	}

	d.UnVote(nodeID(1))
	if d.Yays() != 1 || d.Nays() != 0 {
		t.Fatalf("after UnVote: Yays=%d Nays=%d, want 1/0", d.Yays(), d.Nays())
	}

	// UnVote on a peer with no recorded vote is a no-op.
	d.UnVote(nodeID(99))
	if d.Yays() != 1 || d.Nays() != 0 {
		t.Error("UnVote of an unknown peer should not change the tally")
	}
}

func TestDisputeUpdatePositionNoVotesNeverFlips(t *testing.T) {
	d := NewDispute(consensusTxID(1), nil, false)
	if d.UpdatePosition(100, true) {
		t.Error("a dispute with no votes should never flip")
	}
}

func TestDisputeUpdatePositionProposingFlipsOnWeight(t *testing.T) {
	// Our position is "no" (not in our set). Three yes votes against our
	// own no gives a weight of 3/4 = 75%, comfortably above the 65% bar
	// for mid-round (50 <= percentTime < 85).
	d := NewDispute(consensusTxID(1), []byte("tx"), false)
	d.SetVote(nodeID(1), true)
	d.SetVote(nodeID(2), true)
	d.SetVote(nodeID(3), true)

	flipped := d.UpdatePosition(60, true)
	if !flipped {
		t.Fatal("expected the dispute to flip to yes under 75% agreement at percentTime=60")
	}
	if !d.OurPosition {
		t.Error("expected OurPosition to become true after flipping")
	}

	// Once flipped to yes, a later drop in weight must not flip back.
	d.SetVote(nodeID(1), false)
	d.SetVote(nodeID(2), false)
	flipped = d.UpdatePosition(60, true)
	if flipped {
		t.Error("a proposing dispute must never flip back from yes to no")
	}
	if !d.OurPosition {
		t.Error("OurPosition should remain true once flipped")
	}
}

func TestDisputeUpdatePositionNonProposingFollowsMajority(t *testing.T) {
	d := NewDispute(consensusTxID(1), []byte("tx"), false)
	d.SetVote(nodeID(1), true)
	d.SetVote(nodeID(2), true)
	d.SetVote(nodeID(3), false)

	if !d.UpdatePosition(0, false) {
		t.Fatal("expected a non-proposing node to follow the yes majority")
	}
	if !d.OurPosition {
		t.Error("expected OurPosition to track the majority for a non-proposing node")
	}

	// A non-proposing node can flip back if the majority reverses.
	d.SetVote(nodeID(1), false)
	d.SetVote(nodeID(2), false)
	if !d.UpdatePosition(0, false) {
		t.Fatal("expected a non-proposing node to flip back when the majority reverses")
	}
	if d.OurPosition {
		t.Error("expected OurPosition to flip back to false")
	}
}

func TestDisputeOriginallyTracksInitialStance(t *testing.T) {
	d := NewDispute(consensusTxID(1), []byte("tx"), true)
	if !d.Originally {
		t.Fatal("expected Originally to capture the initial position")
	}
	d.SetVote(nodeID(1), false)
	d.SetVote(nodeID(2), false)
	d.SetVote(nodeID(3), false)
	d.UpdatePosition(90, true)
	if !d.Originally {
		t.Error("Originally must not change as the dispute's live position evolves")
	}
}

func consensusTxID(b byte) (id [32]byte) {
	id[0] = b
	return id
}
