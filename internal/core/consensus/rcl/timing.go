package rcl

import "time"

// Timing constants, defaults per spec. They are compile-time constants;
// Environment.Options does not override them.
const (
	// LedgerIdleInterval is the gap between ledgers when the network is idle.
	LedgerIdleInterval = 15 * time.Second

	// LedgerMinConsensus is the minimum time the establish phase must run.
	LedgerMinConsensus = 2000 * time.Millisecond

	// LedgerGranularity is the periodic tick interval driving the round.
	LedgerGranularity = 1000 * time.Millisecond
)

// resolutionLadder is the close-time resolution ladder in seconds, walked
// up on sustained agreement and down on disagreement.
var resolutionLadder = []int{10, 10, 20, 30, 60, 90, 120, 120}

// resIncreaseCount sets the step-up cadence: the resolution steps up the
// ladder on an agreeing ledger whose sequence is a multiple of it.
const resIncreaseCount = 8

// avalancheThreshold returns the weight-percentage bar a position must
// clear to flip, given how far through the round we are. Shared by
// dispute voting (§4.5) and close-time-consensus (§4.9).
func avalancheThreshold(percentTime int) int {
	switch {
	case percentTime < 50:
		return 50
	case percentTime < 85:
		return 65
	default:
		return 70
	}
}

// shouldClose decides, in seconds, how long the open ledger should stay
// open given current network conditions.
func shouldClose(anyTx bool, prevProposers, closedProposers int, prevSeconds, curSeconds int) int {
	idle := int(LedgerIdleInterval / time.Second)

	if !anyTx && closedProposers <= prevProposers/4 && prevSeconds <= idle+2 {
		return idle
	}

	if prevSeconds > 8 {
		return curSeconds - (curSeconds % 4)
	}
	if prevSeconds > 4 {
		return curSeconds - (curSeconds % 2)
	}
	return curSeconds
}

// haveConsensus decides whether the establish phase has converged enough
// to move to Finished, per the avalanche schedule in spec §4.9.
func haveConsensus(prevProposers, curProposers, currentAgree, currentClosed int, prevAgreeTime, curAgreeTime time.Duration) bool {
	if curAgreeTime <= LedgerMinConsensus {
		return false
	}

	if curProposers < (3*prevProposers)/4 && curAgreeTime < prevAgreeTime+2*time.Second {
		return false
	}

	if (currentAgree*100+100)/(curProposers+1) > 80 {
		return true
	}
	if (currentClosed*100-100)/(curProposers+1) > 50 {
		return true
	}
	return false
}

// getNextLedgerTimeResolution walks the resolution ladder up on agreement
// when ledgerSeq is a multiple of resIncreaseCount, and down on any
// disagreement, clamping to the ladder's endpoints.
func getNextLedgerTimeResolution(prevRes time.Duration, prevAgree bool, ledgerSeq uint32) time.Duration {
	idx := ladderIndex(prevRes)

	if prevAgree {
		if idx < len(resolutionLadder)-1 && ledgerSeq%resIncreaseCount == 0 {
			idx++
		}
	} else {
		if idx > 0 {
			idx--
		}
	}

	return time.Duration(resolutionLadder[idx]) * time.Second
}

// ladderIndex finds prevRes's position on the ladder, snapping to the
// closest rung if it doesn't land exactly (e.g. an externally configured
// resolution that predates this ladder).
func ladderIndex(res time.Duration) int {
	seconds := int(res / time.Second)
	best := 0
	bestDiff := -1
	for i, r := range resolutionLadder {
		diff := r - seconds
		if diff < 0 {
			diff = -diff
		}
		// An exact match always takes the latest rung: the ladder
		// repeats its floor and ceiling values (10s twice, 120s
		// twice) so escalation/de-escalation past those repeats has
		// somewhere to go even though the stored state is only a
		// duration, not the rung index itself.
		if bestDiff == -1 || diff < bestDiff || (diff == 0 && bestDiff == 0) {
			best = i
			bestDiff = diff
		}
	}
	return best
}

// closeTimeBucket floors t to the nearest multiple of resolution, the
// bucketing step used for close-time-consensus reconciliation.
func closeTimeBucket(t time.Time, resolution time.Duration) time.Time {
	if resolution <= 0 {
		return t
	}
	unix := t.Unix()
	res := int64(resolution / time.Second)
	floored := unix - (unix % res)
	return time.Unix(floored, 0)
}

// neededCloseTimeWeight mirrors avalancheThreshold, named separately
// because spec §4.9 calls it out as its own schedule reference even
// though the numbers are identical to the dispute thresholds.
func neededCloseTimeWeight(percentTime int) int {
	return avalancheThreshold(percentTime)
}
