package engine

import (
	"context"

	"github.com/holiman/uint256"

	"railscan/events"
	"railscan/ledger"
)

func (e *Engine) handleRailCreated(ctx context.Context, tx *ledger.Tx, ev *events.RailCreated) (bool, error) {
	if _, exists, err := tx.Rail(ev.RailID); err != nil {
		return false, err
	} else if exists {
		e.skip(ev.Raw, ev.EventType(), "duplicate_rail")
		return false, nil
	}
	token, newToken, err := e.fetchToken(ctx, tx, ev.Token)
	if err != nil {
		return false, err
	}
	payer, newPayer, err := tx.AccountOrNew(ev.Payer)
	if err != nil {
		return false, err
	}
	payee, newPayee, err := tx.AccountOrNew(ev.Payee)
	if err != nil {
		return false, err
	}
	operator, newOperator, err := tx.OperatorOrNew(ev.Operator)
	if err != nil {
		return false, err
	}

	rail := &ledger.Rail{
		ID:                  ledger.CloneAmount(ev.RailID),
		Payer:               ev.Payer,
		Payee:               ev.Payee,
		Operator:            ev.Operator,
		Token:               ev.Token,
		Arbiter:             ev.Validator,
		ServiceFeeRecipient: ev.ServiceFeeRecipient,
		CommissionRateBps:   ev.CommissionRateBps,
		State:               ledger.RailZeroRate,
		SettledUpto:         ev.BlockNumber,
		CreatedAt:           ev.BlockNumber,
	}
	payer.TotalRails++
	payee.TotalRails++
	operator.TotalRails++

	if err := tx.SaveToken(token); err != nil {
		return false, err
	}
	if err := tx.SaveRail(rail); err != nil {
		return false, err
	}
	if err := tx.SaveAccount(payer); err != nil {
		return false, err
	}
	if err := tx.SaveAccount(payee); err != nil {
		return false, err
	}
	if err := tx.SaveOperator(operator); err != nil {
		return false, err
	}
	newAccounts := 0
	if newPayer {
		newAccounts++
	}
	if newPayee && ev.Payee != ev.Payer {
		newAccounts++
	}
	return true, e.recordRailCreated(tx, ev.Raw, rail, newAccounts, newOperator, newToken)
}

func (e *Engine) handleRailRateModified(tx *ledger.Tx, ev *events.RailRateModified) (bool, error) {
	rail, ok, err := tx.Rail(ev.RailID)
	if err != nil {
		return false, err
	}
	if !ok {
		e.skip(ev.Raw, ev.EventType(), "missing_rail")
		return false, nil
	}
	if rail.State == ledger.RailFinalized {
		e.skip(ev.Raw, ev.EventType(), "finalized_rail")
		return false, nil
	}

	oldRate := ledger.CloneAmount(ev.OldRate)
	newRate := ledger.CloneAmount(ev.NewRate)
	currentEpoch := ev.BlockNumber

	// The queue manager may snap settledUpto forward; the allowance math
	// below deliberately sees the post-snap value.
	seg := planRateSegment(rail, oldRate, newRate, currentEpoch)

	terminated := rail.State == ledger.RailTerminated
	effPeriod, hasPeriod := ledger.EffectiveLockupPeriod(rail, currentEpoch)
	needApproval := !terminated || hasPeriod

	var approval *ledger.OperatorApproval
	if needApproval {
		approval, ok, err = tx.OperatorApproval(rail.Payer, rail.Operator, rail.Token)
		if err != nil {
			return false, err
		}
		if !ok {
			e.skip(ev.Raw, ev.EventType(), "missing_operator_approval")
			return false, nil
		}
	}

	if err := appendRateSegment(tx, rail, seg); err != nil {
		return false, err
	}
	rail.PaymentRate = newRate
	rail.TotalRateChanges++

	previousState := rail.State
	if rail.State == ledger.RailZeroRate && oldRate.IsZero() && !newRate.IsZero() {
		rail.State = ledger.RailActive
	} else if rail.State == ledger.RailActive && newRate.IsZero() {
		rail.State = ledger.RailZeroRate
	}

	if approval != nil {
		aggregate, _, err := tx.OperatorTokenOrNew(rail.Operator, rail.Token)
		if err != nil {
			return false, err
		}
		if !terminated {
			applyRateUsageDelta(approval, aggregate, oldRate, newRate)
		}
		if hasPeriod {
			oldLockup := new(uint256.Int).Mul(oldRate, effPeriod)
			newLockup := new(uint256.Int).Mul(newRate, effPeriod)
			applyLockupUsageDelta(approval, aggregate, oldLockup, newLockup)
		}
		if err := tx.SaveOperatorApproval(approval); err != nil {
			return false, err
		}
		if err := tx.SaveOperatorToken(aggregate); err != nil {
			return false, err
		}
	}
	if err := tx.SaveRail(rail); err != nil {
		return false, err
	}
	return true, e.recordRateModified(tx, ev.Raw, previousState, rail.State)
}

func (e *Engine) handleRailLockupModified(tx *ledger.Tx, ev *events.RailLockupModified) (bool, error) {
	rail, ok, err := tx.Rail(ev.RailID)
	if err != nil {
		return false, err
	}
	if !ok {
		e.skip(ev.Raw, ev.EventType(), "missing_rail")
		return false, nil
	}
	if rail.State == ledger.RailFinalized {
		e.skip(ev.Raw, ev.EventType(), "finalized_rail")
		return false, nil
	}
	approval, ok, err := tx.OperatorApproval(rail.Payer, rail.Operator, rail.Token)
	if err != nil {
		return false, err
	}
	if !ok {
		e.skip(ev.Raw, ev.EventType(), "missing_operator_approval")
		return false, nil
	}
	aggregate, _, err := tx.OperatorTokenOrNew(rail.Operator, rail.Token)
	if err != nil {
		return false, err
	}

	var oldLockup, newLockup *uint256.Int
	if rail.State == ledger.RailTerminated {
		// A terminated rail streams no further lockup; only the fixed
		// component still moves.
		oldLockup = ledger.CloneAmount(ev.OldLockupFixed)
		newLockup = ledger.CloneAmount(ev.NewLockupFixed)
		rail.LockupFixed = ledger.CloneAmount(ev.NewLockupFixed)
	} else {
		oldLockup = new(uint256.Int).Mul(rail.PaymentRate, ledger.CloneAmount(ev.OldLockupPeriod))
		oldLockup.Add(oldLockup, ledger.CloneAmount(ev.OldLockupFixed))
		newLockup = new(uint256.Int).Mul(rail.PaymentRate, ledger.CloneAmount(ev.NewLockupPeriod))
		newLockup.Add(newLockup, ledger.CloneAmount(ev.NewLockupFixed))
		rail.LockupFixed = ledger.CloneAmount(ev.NewLockupFixed)
		rail.LockupPeriod = ledger.CloneAmount(ev.NewLockupPeriod)
	}
	applyLockupUsageDelta(approval, aggregate, oldLockup, newLockup)

	if err := tx.SaveRail(rail); err != nil {
		return false, err
	}
	if err := tx.SaveOperatorApproval(approval); err != nil {
		return false, err
	}
	return true, tx.SaveOperatorToken(aggregate)
}

func (e *Engine) handleRailTerminated(tx *ledger.Tx, ev *events.RailTerminated) (bool, error) {
	rail, ok, err := tx.Rail(ev.RailID)
	if err != nil {
		return false, err
	}
	if !ok {
		e.skip(ev.Raw, ev.EventType(), "missing_rail")
		return false, nil
	}
	if rail.Terminal() {
		e.skip(ev.Raw, ev.EventType(), "already_terminal")
		return false, nil
	}
	position, ok, err := tx.UserToken(rail.Payer, rail.Token)
	if err != nil {
		return false, err
	}
	if !ok {
		e.skip(ev.Raw, ev.EventType(), "missing_user_token")
		return false, nil
	}

	previousState := rail.State
	rail.State = ledger.RailTerminated
	rail.EndEpoch = ev.EndEpoch

	// The rail's streaming contribution leaves the payer's account-level
	// lockup rate; accrue up to the termination block first.
	ledger.SettleAccountLockup(position, ev.BlockNumber)
	position.LockupRate = ledger.SubClamped(position.LockupRate, rail.PaymentRate)

	if err := tx.SaveRail(rail); err != nil {
		return false, err
	}
	if err := tx.SaveUserToken(position); err != nil {
		return false, err
	}
	return true, e.recordTerminated(tx, ev.Raw, previousState)
}

func (e *Engine) handleRailSettled(ctx context.Context, tx *ledger.Tx, ev *events.RailSettled) (bool, error) {
	if _, exists, err := tx.Settlement(ev.TxHash, ev.LogIndex); err != nil {
		return false, err
	} else if exists {
		e.skip(ev.Raw, ev.EventType(), "duplicate_settlement")
		return false, nil
	}
	rail, ok, err := tx.Rail(ev.RailID)
	if err != nil {
		return false, err
	}
	if !ok {
		e.skip(ev.Raw, ev.EventType(), "missing_rail")
		return false, nil
	}
	token, ok, err := tx.Token(rail.Token)
	if err != nil {
		return false, err
	}
	if !ok {
		e.skip(ev.Raw, ev.EventType(), "missing_token")
		return false, nil
	}
	payerPosition, ok, err := tx.UserToken(rail.Payer, rail.Token)
	if err != nil {
		return false, err
	}
	if !ok {
		e.skip(ev.Raw, ev.EventType(), "missing_user_token")
		return false, nil
	}
	payeePosition, _, err := tx.UserTokenOrNew(rail.Payee, rail.Token)
	if err != nil {
		return false, err
	}

	settled := ledger.CloneAmount(ev.TotalSettledAmount)
	netPayee := ledger.CloneAmount(ev.TotalNetPayeeAmount)
	commission := ledger.CloneAmount(ev.OperatorCommission)
	filBurned := e.networkFee(ctx)

	rail.TotalSettledAmount = new(uint256.Int).Add(rail.TotalSettledAmount, settled)
	rail.TotalNetPayeeAmount = new(uint256.Int).Add(rail.TotalNetPayeeAmount, netPayee)
	rail.TotalCommission = new(uint256.Int).Add(rail.TotalCommission, commission)
	rail.TotalSettlements++
	rail.SettledUpto = ev.SettledUpto

	payerPosition.Funds = ledger.SubClamped(payerPosition.Funds, settled)
	payeePosition.Funds = new(uint256.Int).Add(payeePosition.Funds, netPayee)
	payeePosition.Payout = new(uint256.Int).Add(payeePosition.Payout, netPayee)

	// The payer-to-payee transfer nets out inside userFunds; only the
	// commission leaves user custody at the token level.
	token.UserFunds = ledger.SubClamped(token.UserFunds, commission)
	token.TotalSettledAmount = new(uint256.Int).Add(token.TotalSettledAmount, settled)

	aggregate, _, err := tx.OperatorTokenOrNew(rail.Operator, rail.Token)
	if err != nil {
		return false, err
	}
	aggregate.SettledAmount = new(uint256.Int).Add(aggregate.SettledAmount, settled)
	aggregate.CommissionEarned = new(uint256.Int).Add(aggregate.CommissionEarned, commission)

	settlement := &ledger.Settlement{
		TxHash:              ev.TxHash,
		LogIndex:            ev.LogIndex,
		RailID:              ledger.CloneAmount(ev.RailID),
		TotalSettledAmount:  settled,
		TotalNetPayeeAmount: netPayee,
		OperatorCommission:  commission,
		FilBurned:           filBurned,
		SettledUpto:         ev.SettledUpto,
	}

	if err := tx.SaveRail(rail); err != nil {
		return false, err
	}
	if err := tx.SaveToken(token); err != nil {
		return false, err
	}
	if err := tx.SaveUserToken(payerPosition); err != nil {
		return false, err
	}
	if err := tx.SaveUserToken(payeePosition); err != nil {
		return false, err
	}
	if err := tx.SaveOperatorToken(aggregate); err != nil {
		return false, err
	}
	if err := tx.SaveSettlement(settlement); err != nil {
		return false, err
	}
	return true, e.recordSettled(tx, ev.Raw, rail, settled, commission, filBurned)
}

func (e *Engine) handleOneTimePayment(tx *ledger.Tx, ev *events.RailOneTimePaymentProcessed) (bool, error) {
	if _, exists, err := tx.OneTimePayment(ev.TxHash, ev.LogIndex); err != nil {
		return false, err
	} else if exists {
		e.skip(ev.Raw, ev.EventType(), "duplicate_one_time_payment")
		return false, nil
	}
	rail, ok, err := tx.Rail(ev.RailID)
	if err != nil {
		return false, err
	}
	if !ok {
		e.skip(ev.Raw, ev.EventType(), "missing_rail")
		return false, nil
	}
	token, ok, err := tx.Token(rail.Token)
	if err != nil {
		return false, err
	}
	if !ok {
		e.skip(ev.Raw, ev.EventType(), "missing_token")
		return false, nil
	}
	payerPosition, ok, err := tx.UserToken(rail.Payer, rail.Token)
	if err != nil {
		return false, err
	}
	if !ok {
		e.skip(ev.Raw, ev.EventType(), "missing_user_token")
		return false, nil
	}
	approval, ok, err := tx.OperatorApproval(rail.Payer, rail.Operator, rail.Token)
	if err != nil {
		return false, err
	}
	if !ok {
		e.skip(ev.Raw, ev.EventType(), "missing_operator_approval")
		return false, nil
	}
	payeePosition, _, err := tx.UserTokenOrNew(rail.Payee, rail.Token)
	if err != nil {
		return false, err
	}

	netPayee := ledger.CloneAmount(ev.NetPayeeAmount)
	commission := ledger.CloneAmount(ev.OperatorCommission)
	networkFee := ledger.CloneAmount(ev.NetworkFee)
	total := new(uint256.Int).Add(netPayee, commission)
	total.Add(total, networkFee)

	rail.LockupFixed = ledger.SubClamped(rail.LockupFixed, netPayee)

	payerPosition.Funds = ledger.SubClamped(payerPosition.Funds, total)
	payeePosition.Funds = new(uint256.Int).Add(payeePosition.Funds, netPayee)
	payeePosition.FundsCollected = new(uint256.Int).Add(payeePosition.FundsCollected, netPayee)
	token.UserFunds = ledger.SubClamped(token.UserFunds, commission)

	// The service fee recipient collects the network fee portion. When the
	// payee doubles as the recipient, keep the mutation on one struct.
	var feePosition *ledger.UserToken
	if !networkFee.IsZero() {
		if rail.ServiceFeeRecipient == rail.Payee {
			payeePosition.Funds = new(uint256.Int).Add(payeePosition.Funds, networkFee)
		} else {
			feePosition, _, err = tx.UserTokenOrNew(rail.ServiceFeeRecipient, rail.Token)
			if err != nil {
				return false, err
			}
			feePosition.Funds = new(uint256.Int).Add(feePosition.Funds, networkFee)
		}
	}

	aggregate, _, err := tx.OperatorTokenOrNew(rail.Operator, rail.Token)
	if err != nil {
		return false, err
	}
	drawdownLockup(approval, aggregate, total)
	aggregate.CommissionEarned = new(uint256.Int).Add(aggregate.CommissionEarned, commission)
	aggregate.Volume = new(uint256.Int).Add(aggregate.Volume, total)

	payment := &ledger.OneTimePayment{
		TxHash:             ev.TxHash,
		LogIndex:           ev.LogIndex,
		RailID:             ledger.CloneAmount(ev.RailID),
		TotalAmount:        total,
		NetPayeeAmount:     netPayee,
		OperatorCommission: commission,
		NetworkFee:         networkFee,
	}

	if err := tx.SaveRail(rail); err != nil {
		return false, err
	}
	if err := tx.SaveToken(token); err != nil {
		return false, err
	}
	if err := tx.SaveUserToken(payerPosition); err != nil {
		return false, err
	}
	if err := tx.SaveUserToken(payeePosition); err != nil {
		return false, err
	}
	if feePosition != nil {
		if err := tx.SaveUserToken(feePosition); err != nil {
			return false, err
		}
	}
	if err := tx.SaveOperatorApproval(approval); err != nil {
		return false, err
	}
	if err := tx.SaveOperatorToken(aggregate); err != nil {
		return false, err
	}
	if err := tx.SaveOneTimePayment(payment); err != nil {
		return false, err
	}
	return true, e.recordOneTimePayment(tx, ev.Raw, rail)
}

func (e *Engine) handleRailFinalized(tx *ledger.Tx, ev *events.RailFinalized) (bool, error) {
	rail, ok, err := tx.Rail(ev.RailID)
	if err != nil {
		return false, err
	}
	if !ok {
		e.skip(ev.Raw, ev.EventType(), "missing_rail")
		return false, nil
	}
	if rail.State != ledger.RailTerminated {
		e.skip(ev.Raw, ev.EventType(), "not_terminated")
		return false, nil
	}
	approval, ok, err := tx.OperatorApproval(rail.Payer, rail.Operator, rail.Token)
	if err != nil {
		return false, err
	}
	if !ok {
		e.skip(ev.Raw, ev.EventType(), "missing_operator_approval")
		return false, nil
	}
	aggregate, _, err := tx.OperatorTokenOrNew(rail.Operator, rail.Token)
	if err != nil {
		return false, err
	}

	releaseLockupUsage(approval, aggregate, ledger.RailLockup(rail))
	rail.State = ledger.RailFinalized

	if err := tx.SaveRail(rail); err != nil {
		return false, err
	}
	if err := tx.SaveOperatorApproval(approval); err != nil {
		return false, err
	}
	if err := tx.SaveOperatorToken(aggregate); err != nil {
		return false, err
	}
	return true, e.recordFinalized(tx, ev.Raw)
}
