package engine

import (
	"github.com/holiman/uint256"

	"railscan/ledger"
)

// planRateSegment decides, for a rate change at currentBlock, whether a new
// rate-change segment must be appended to the rail's queue. It may snap the
// rail's settledUpto forward but performs no persistence; the caller saves
// the returned segment and the rail.
//
// The queue tracks rate regimes that ended before they were fully settled:
//   - empty queue, zero old rate: the prior segment accrued nothing, so the
//     rail just snaps settledUpto to the current block;
//   - empty queue, nonzero old rate: the just-ended segment starts at the
//     rail's settledUpto;
//   - non-empty queue: a new segment is appended only when the last one does
//     not already end at the current block.
//
// Segments are append-only and never consumed; they exist as an audit trail
// for settlement reconciliation across rate regimes.
func planRateSegment(rail *ledger.Rail, oldRate, newRate *uint256.Int, currentBlock uint64) *ledger.RateChangeSegment {
	if rail.QueueSegments == 0 {
		if oldRate.IsZero() {
			rail.SettledUpto = currentBlock
			return nil
		}
		return &ledger.RateChangeSegment{
			RailID:     rail.ID,
			StartEpoch: rail.SettledUpto,
			UntilEpoch: currentBlock,
			Rate:       ledger.CloneAmount(newRate),
		}
	}
	if rail.QueueLastUntil != currentBlock {
		return &ledger.RateChangeSegment{
			RailID:     rail.ID,
			StartEpoch: rail.QueueLastUntil,
			UntilEpoch: currentBlock,
			Rate:       ledger.CloneAmount(newRate),
		}
	}
	return nil
}

// appendRateSegment persists a planned segment and advances the queue head
// tracked on the rail.
func appendRateSegment(tx *ledger.Tx, rail *ledger.Rail, seg *ledger.RateChangeSegment) error {
	if seg == nil {
		return nil
	}
	if err := tx.SaveRateChangeSegment(seg); err != nil {
		return err
	}
	rail.QueueSegments++
	rail.QueueLastUntil = seg.UntilEpoch
	return nil
}
