package engine

import (
	"github.com/holiman/uint256"

	"railscan/ledger"
)

// The allowance tracker maintains two parallel ledgers: the per-client
// OperatorApproval and the per-operator OperatorToken aggregate. Every
// committed rate or lockup change on a rail updates both together, with
// subtraction clamped at zero.

func applyRateUsageDelta(approval *ledger.OperatorApproval, aggregate *ledger.OperatorToken, oldRate, newRate *uint256.Int) {
	approval.RateUsage = ledger.AddClamped(approval.RateUsage, oldRate, newRate)
	aggregate.RateUsage = ledger.AddClamped(aggregate.RateUsage, oldRate, newRate)
}

func applyLockupUsageDelta(approval *ledger.OperatorApproval, aggregate *ledger.OperatorToken, oldLockup, newLockup *uint256.Int) {
	approval.LockupUsage = ledger.AddClamped(approval.LockupUsage, oldLockup, newLockup)
	aggregate.LockupUsage = ledger.AddClamped(aggregate.LockupUsage, oldLockup, newLockup)
}

// releaseLockupUsage returns a rail's remaining lockup commitment to both
// ledgers when the rail is finalized.
func releaseLockupUsage(approval *ledger.OperatorApproval, aggregate *ledger.OperatorToken, amount *uint256.Int) {
	approval.LockupUsage = ledger.SubClamped(approval.LockupUsage, amount)
	aggregate.LockupUsage = ledger.SubClamped(aggregate.LockupUsage, amount)
}

// drawdownLockup reflects a one-time payment, which draws on the fixed
// lockup: both the allowance ceiling and its usage shrink by the full
// payment amount on both ledgers.
func drawdownLockup(approval *ledger.OperatorApproval, aggregate *ledger.OperatorToken, amount *uint256.Int) {
	approval.LockupAllowance = ledger.SubClamped(approval.LockupAllowance, amount)
	approval.LockupUsage = ledger.SubClamped(approval.LockupUsage, amount)
	aggregate.LockupAllowance = ledger.SubClamped(aggregate.LockupAllowance, amount)
	aggregate.LockupUsage = ledger.SubClamped(aggregate.LockupUsage, amount)
}
