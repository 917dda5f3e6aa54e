package ledger

import "github.com/holiman/uint256"

// SettleAccountLockup advances the streaming lockup accrual on a user token
// position to targetEpoch:
//
//	lockupCurrent += lockupRate * (targetEpoch - lockupLastSettledAt)
//	lockupLastSettledAt = targetEpoch
//
// It must run before any mutation of LockupRate or LockupCurrent, and before
// a snapshot event overwrites the fields. Target epochs at or before the
// last settled epoch are a no-op, which makes snapshot replays idempotent.
func SettleAccountLockup(ut *UserToken, targetEpoch uint64) {
	if ut == nil || targetEpoch <= ut.LockupLastSettledAt {
		return
	}
	elapsed := uint256.NewInt(targetEpoch - ut.LockupLastSettledAt)
	accrued := new(uint256.Int).Mul(orZero(ut.LockupRate), elapsed)
	ut.LockupCurrent = new(uint256.Int).Add(orZero(ut.LockupCurrent), accrued)
	ut.LockupLastSettledAt = targetEpoch
}

// RailLockup returns the rail's full lockup commitment:
// lockupFixed + paymentRate * lockupPeriod.
func RailLockup(r *Rail) *uint256.Int {
	streamed := new(uint256.Int).Mul(orZero(r.PaymentRate), orZero(r.LockupPeriod))
	return streamed.Add(streamed, orZero(r.LockupFixed))
}

// EffectiveLockupPeriod returns the number of epochs of streaming lockup a
// rail still commits to at currentEpoch. For terminated rails this is the
// remaining run-up to endEpoch; otherwise it is the configured lockup period
// minus the epochs elapsed since the rail last settled. The second result is
// false when no streaming commitment remains.
func EffectiveLockupPeriod(r *Rail, currentEpoch uint64) (*uint256.Int, bool) {
	if r.State == RailTerminated {
		if r.EndEpoch <= currentEpoch {
			return uint256.NewInt(0), false
		}
		return uint256.NewInt(r.EndEpoch - currentEpoch), true
	}
	var elapsed uint64
	if currentEpoch > r.SettledUpto {
		elapsed = currentEpoch - r.SettledUpto
	}
	period := orZero(r.LockupPeriod)
	elapsedWord := uint256.NewInt(elapsed)
	if period.Cmp(elapsedWord) <= 0 {
		return uint256.NewInt(0), false
	}
	return new(uint256.Int).Sub(period, elapsedWord), true
}

// AddClamped returns usage - sub + add, clamping the subtraction at zero.
// Usage ledgers may drift below the contract's view when a stream is
// replayed from a partial checkpoint; the clamp absorbs that skew.
func AddClamped(usage, sub, add *uint256.Int) *uint256.Int {
	total := new(uint256.Int).Add(orZero(usage), orZero(add))
	if total.Cmp(orZero(sub)) <= 0 {
		return uint256.NewInt(0)
	}
	return total.Sub(total, orZero(sub))
}

// SubClamped returns v - sub, clamping at zero.
func SubClamped(v, sub *uint256.Int) *uint256.Int {
	if orZero(v).Cmp(orZero(sub)) <= 0 {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Sub(v, sub)
}
