package engine

import (
	"context"

	"github.com/holiman/uint256"

	"railscan/events"
	"railscan/ledger"
)

func (e *Engine) handleDeposit(ctx context.Context, tx *ledger.Tx, ev *events.DepositRecorded) (bool, error) {
	token, newToken, err := e.fetchToken(ctx, tx, ev.Token)
	if err != nil {
		return false, err
	}
	account, newAccount, err := tx.AccountOrNew(ev.To)
	if err != nil {
		return false, err
	}
	position, newPosition, err := tx.UserTokenOrNew(ev.To, ev.Token)
	if err != nil {
		return false, err
	}

	amount := ledger.CloneAmount(ev.Amount)
	position.Funds = new(uint256.Int).Add(position.Funds, amount)
	token.UserFunds = new(uint256.Int).Add(token.UserFunds, amount)
	token.TotalDeposits = new(uint256.Int).Add(token.TotalDeposits, amount)
	token.Volume = new(uint256.Int).Add(token.Volume, amount)
	if newPosition {
		token.TotalUsers++
		account.TotalTokens++
	}

	if err := tx.SaveAccount(account); err != nil {
		return false, err
	}
	if err := tx.SaveToken(token); err != nil {
		return false, err
	}
	if err := tx.SaveUserToken(position); err != nil {
		return false, err
	}
	return true, e.recordDeposit(tx, ev.Raw, ev.Token, amount, newAccount, newToken)
}

func (e *Engine) handleWithdraw(tx *ledger.Tx, ev *events.WithdrawRecorded) (bool, error) {
	token, ok, err := tx.Token(ev.Token)
	if err != nil {
		return false, err
	}
	if !ok {
		e.skip(ev.Raw, ev.EventType(), "missing_token")
		return false, nil
	}
	position, ok, err := tx.UserToken(ev.From, ev.Token)
	if err != nil {
		return false, err
	}
	if !ok {
		e.skip(ev.Raw, ev.EventType(), "missing_user_token")
		return false, nil
	}

	amount := ledger.CloneAmount(ev.Amount)
	position.Funds = ledger.SubClamped(position.Funds, amount)
	token.UserFunds = ledger.SubClamped(token.UserFunds, amount)
	token.TotalWithdrawals = new(uint256.Int).Add(token.TotalWithdrawals, amount)
	token.Volume = new(uint256.Int).Add(token.Volume, amount)

	if err := tx.SaveToken(token); err != nil {
		return false, err
	}
	if err := tx.SaveUserToken(position); err != nil {
		return false, err
	}
	return true, e.recordWithdraw(tx, ev.Raw, ev.Token, amount)
}

func (e *Engine) handleOperatorApprovalUpdated(ctx context.Context, tx *ledger.Tx, ev *events.OperatorApprovalUpdated) (bool, error) {
	token, newToken, err := e.fetchToken(ctx, tx, ev.Token)
	if err != nil {
		return false, err
	}
	approval, newApproval, err := tx.OperatorApprovalOrNew(ev.Client, ev.Operator, ev.Token)
	if err != nil {
		return false, err
	}
	operatorToken, newOperatorToken, err := tx.OperatorTokenOrNew(ev.Operator, ev.Token)
	if err != nil {
		return false, err
	}
	operator, newOperator, err := tx.OperatorOrNew(ev.Operator)
	if err != nil {
		return false, err
	}
	client, newClient, err := tx.AccountOrNew(ev.Client)
	if err != nil {
		return false, err
	}

	oldRateAllowance := ledger.CloneAmount(approval.RateAllowance)
	oldLockupAllowance := ledger.CloneAmount(approval.LockupAllowance)

	// Allowances are absolute values in the event, not deltas.
	approval.Approved = ev.Approved
	approval.RateAllowance = ledger.CloneAmount(ev.RateAllowance)
	approval.LockupAllowance = ledger.CloneAmount(ev.LockupAllowance)
	approval.MaxLockupPeriod = ledger.CloneAmount(ev.MaxLockupPeriod)

	operatorToken.RateAllowance = ledger.AddClamped(operatorToken.RateAllowance, oldRateAllowance, approval.RateAllowance)
	operatorToken.LockupAllowance = ledger.AddClamped(operatorToken.LockupAllowance, oldLockupAllowance, approval.LockupAllowance)
	operatorToken.Volume = new(uint256.Int).Add(operatorToken.Volume, allowanceChurn(oldLockupAllowance, approval.LockupAllowance))

	if newApproval {
		client.TotalApprovals++
		operator.TotalApprovals++
	}
	if newOperatorToken {
		operator.TotalTokens++
	}

	if err := tx.SaveToken(token); err != nil {
		return false, err
	}
	if err := tx.SaveOperatorApproval(approval); err != nil {
		return false, err
	}
	if err := tx.SaveOperatorToken(operatorToken); err != nil {
		return false, err
	}
	if err := tx.SaveOperator(operator); err != nil {
		return false, err
	}
	if err := tx.SaveAccount(client); err != nil {
		return false, err
	}
	return true, e.recordApproval(tx, newApproval, newClient, newOperator, newToken)
}

func (e *Engine) handleAccountLockupSettled(ctx context.Context, tx *ledger.Tx, ev *events.AccountLockupSettled) (bool, error) {
	token, newToken, err := e.fetchToken(ctx, tx, ev.Token)
	if err != nil {
		return false, err
	}
	account, newAccount, err := tx.AccountOrNew(ev.Owner)
	if err != nil {
		return false, err
	}
	position, newPosition, err := tx.UserTokenOrNew(ev.Owner, ev.Token)
	if err != nil {
		return false, err
	}

	// Advance the accrual to the snapshot epoch before the snapshot
	// overwrites the fields; replaying the same snapshot is then a no-op.
	ledger.SettleAccountLockup(position, ev.LockupLastSettledAt)
	position.LockupCurrent = ledger.CloneAmount(ev.LockupCurrent)
	position.LockupRate = ledger.CloneAmount(ev.LockupRate)
	position.LockupLastSettledAt = ev.LockupLastSettledAt

	if newPosition {
		token.TotalUsers++
		account.TotalTokens++
	}

	if err := tx.SaveToken(token); err != nil {
		return false, err
	}
	if err := tx.SaveAccount(account); err != nil {
		return false, err
	}
	if err := tx.SaveUserToken(position); err != nil {
		return false, err
	}
	return true, e.recordAccountLockupSettled(tx, newAccount, newToken)
}

// allowanceChurn returns |updated - previous|, the magnitude of an
// allowance move in either direction.
func allowanceChurn(previous, updated *uint256.Int) *uint256.Int {
	if updated.Cmp(previous) >= 0 {
		return new(uint256.Int).Sub(updated, previous)
	}
	return new(uint256.Int).Sub(previous, updated)
}
