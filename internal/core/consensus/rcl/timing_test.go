package rcl

import (
	"testing"
	"time"
)

func TestAvalancheThreshold(t *testing.T) {
	cases := []struct {
		percentTime int
		want        int
	}{
		{0, 50},
		{49, 50},
		{50, 65},
		{84, 65},
		{85, 70},
		{100, 70},
	}
	for _, c := range cases {
		if got := avalancheThreshold(c.percentTime); got != c.want {
			t.Errorf("avalancheThreshold(%d) = %d, want %d", c.percentTime, got, c.want)
		}
	}
	if neededCloseTimeWeight(90) != avalancheThreshold(90) {
		t.Error("neededCloseTimeWeight should mirror avalancheThreshold")
	}
}

func TestShouldCloseIdle(t *testing.T) {
	idle := int(LedgerIdleInterval / time.Second)
	got := shouldClose(false, 10, 2, idle, 1)
	if got != idle {
		t.Errorf("shouldClose idle case = %d, want %d", got, idle)
	}
}

func TestShouldCloseActiveRounding(t *testing.T) {
	if got := shouldClose(true, 10, 10, 9, 13); got != 12 {
		t.Errorf("shouldClose(>8s) = %d, want 12 (round down to mult of 4)", got)
	}
	if got := shouldClose(true, 10, 10, 5, 7); got != 6 {
		t.Errorf("shouldClose(>4s) = %d, want 6 (round down to mult of 2)", got)
	}
	if got := shouldClose(true, 10, 10, 2, 3); got != 3 {
		t.Errorf("shouldClose(<=4s) = %d, want unrounded 3", got)
	}
}

func TestHaveConsensusUnanimous(t *testing.T) {
	past := LedgerMinConsensus + time.Second
	if !haveConsensus(5, 5, 5, 0, past, past) {
		t.Error("expected unanimous agreement to reach consensus")
	}
}

func TestHaveConsensusTooEarly(t *testing.T) {
	if haveConsensus(5, 5, 5, 0, 0, LedgerMinConsensus) {
		t.Error("expected no consensus before LedgerMinConsensus elapses")
	}
}

func TestHaveConsensusProposerDropTooFast(t *testing.T) {
	past := LedgerMinConsensus + time.Second
	// curProposers is well under 3/4 of prevProposers, and not enough
	// time has passed since the previous round's convergence to trust
	// the drop.
	if haveConsensus(10, 5, 5, 0, past, past+time.Second) {
		t.Error("expected consensus to be withheld on an untrusted proposer drop")
	}
}

func TestHaveConsensusClosedFallback(t *testing.T) {
	past := LedgerMinConsensus + time.Second
	// Not enough direct agreement, but enough peers have reported closed
	// to cross the 50% fallback bar.
	if !haveConsensus(5, 5, 0, 10, past, past) {
		t.Error("expected the closed-fallback bar to produce consensus")
	}
}

func TestGetNextLedgerTimeResolutionStepsUp(t *testing.T) {
	res := 10 * time.Second
	for seq := uint32(1); seq < resIncreaseCount; seq++ {
		res = getNextLedgerTimeResolution(res, true, seq)
		if res != 10*time.Second {
			t.Fatalf("resolution should hold at floor until the %dth agreeing ledger, got %v at seq %d", resIncreaseCount, res, seq)
		}
	}
	res = getNextLedgerTimeResolution(res, true, resIncreaseCount)
	if res != 20*time.Second {
		t.Errorf("expected resolution to step up to 20s at seq %d, got %v", resIncreaseCount, res)
	}
	// The ladder's floor repeats 10s twice; confirm the climb doesn't
	// get stuck re-entering the first 10s rung from the second.
	res = getNextLedgerTimeResolution(20*time.Second, false, 1)
	if res != 10*time.Second {
		t.Fatalf("expected one step down from 20s to land back on 10s, got %v", res)
	}
	for seq := uint32(1); seq < resIncreaseCount; seq++ {
		res = getNextLedgerTimeResolution(res, true, seq)
	}
	res = getNextLedgerTimeResolution(res, true, resIncreaseCount)
	if res != 20*time.Second {
		t.Errorf("expected a second climb from the floor to reach 20s again, got %v", res)
	}
}

func TestGetNextLedgerTimeResolutionStepsDownOnDisagreement(t *testing.T) {
	res := getNextLedgerTimeResolution(20*time.Second, false, 1)
	if res != 10*time.Second {
		t.Errorf("expected resolution to step down to 10s, got %v", res)
	}
	// Already at the floor: disagreement does not go negative.
	res = getNextLedgerTimeResolution(res, false, 2)
	if res != 10*time.Second {
		t.Errorf("expected resolution to clamp at the floor, got %v", res)
	}
}

func TestGetNextLedgerTimeResolutionClampsAtCeiling(t *testing.T) {
	res := 120 * time.Second
	for seq := uint32(1); seq <= resIncreaseCount; seq++ {
		res = getNextLedgerTimeResolution(res, true, seq)
	}
	if res != 120*time.Second {
		t.Errorf("expected resolution to clamp at the ceiling, got %v", res)
	}
}

func TestCloseTimeBucket(t *testing.T) {
	base := time.Unix(1000, 0)
	got := closeTimeBucket(base.Add(7*time.Second), 10*time.Second)
	want := time.Unix(1000, 0)
	if !got.Equal(want) {
		t.Errorf("closeTimeBucket = %v, want %v", got, want)
	}

	// Zero resolution is a no-op, not a divide-by-zero.
	t1 := base.Add(3 * time.Second)
	if got := closeTimeBucket(t1, 0); !got.Equal(t1) {
		t.Errorf("closeTimeBucket with zero resolution should return input unchanged, got %v", got)
	}
}

func TestLadderIndexSnapsToClosest(t *testing.T) {
	if idx := ladderIndex(15 * time.Second); idx != 0 {
		t.Errorf("ladderIndex(15s) = %d, want 0 (closest to 10s)", idx)
	}
	if idx := ladderIndex(25 * time.Second); idx != 2 {
		t.Errorf("ladderIndex(25s) = %d, want 2 (closest to 20s)", idx)
	}
}
