package engine

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"railscan/events"
	"railscan/ledger"
)

// The metrics collector observes every successful handler outcome and folds
// it into the global PaymentsMetric singleton plus the day/week buckets
// keyed by the event's block timestamp. Buckets are created lazily and only
// ever added to; the singleton's rail-state counts move both ways as rails
// transition.

func dayOf(raw events.Raw) string {
	return time.Unix(int64(raw.BlockTimestamp), 0).UTC().Format("2006-01-02")
}

func weekOf(raw events.Raw) uint64 {
	return raw.BlockTimestamp/ledger.SecondsPerWeek + 1
}

func dec(v *uint64) {
	if *v > 0 {
		*v--
	}
}

func (e *Engine) recordDeposit(tx *ledger.Tx, raw events.Raw, token common.Address, amount *uint256.Int, newAccount, newToken bool) error {
	global, err := tx.PaymentsMetricOrNew()
	if err != nil {
		return err
	}
	global.TotalDeposits++
	global.DepositVolume = new(uint256.Int).Add(global.DepositVolume, amount)
	if newAccount {
		global.TotalAccounts++
	}
	if newToken {
		global.TotalTokens++
	}
	if err := tx.SavePaymentsMetric(global); err != nil {
		return err
	}

	daily, err := tx.DailyMetricOrNew(dayOf(raw))
	if err != nil {
		return err
	}
	daily.Deposits++
	daily.DepositVolume = new(uint256.Int).Add(daily.DepositVolume, amount)
	if err := tx.SaveDailyMetric(daily); err != nil {
		return err
	}

	weekly, err := tx.WeeklyMetricOrNew(weekOf(raw))
	if err != nil {
		return err
	}
	weekly.Deposits++
	weekly.DepositVolume = new(uint256.Int).Add(weekly.DepositVolume, amount)
	if err := tx.SaveWeeklyMetric(weekly); err != nil {
		return err
	}

	tokenDaily, err := tx.DailyTokenMetricOrNew(dayOf(raw), token)
	if err != nil {
		return err
	}
	tokenDaily.Deposits++
	tokenDaily.DepositVolume = new(uint256.Int).Add(tokenDaily.DepositVolume, amount)
	return tx.SaveDailyTokenMetric(tokenDaily)
}

func (e *Engine) recordWithdraw(tx *ledger.Tx, raw events.Raw, token common.Address, amount *uint256.Int) error {
	global, err := tx.PaymentsMetricOrNew()
	if err != nil {
		return err
	}
	global.TotalWithdrawals++
	global.WithdrawalVolume = new(uint256.Int).Add(global.WithdrawalVolume, amount)
	if err := tx.SavePaymentsMetric(global); err != nil {
		return err
	}

	daily, err := tx.DailyMetricOrNew(dayOf(raw))
	if err != nil {
		return err
	}
	daily.Withdrawals++
	daily.WithdrawalVolume = new(uint256.Int).Add(daily.WithdrawalVolume, amount)
	if err := tx.SaveDailyMetric(daily); err != nil {
		return err
	}

	weekly, err := tx.WeeklyMetricOrNew(weekOf(raw))
	if err != nil {
		return err
	}
	weekly.Withdrawals++
	weekly.WithdrawalVolume = new(uint256.Int).Add(weekly.WithdrawalVolume, amount)
	if err := tx.SaveWeeklyMetric(weekly); err != nil {
		return err
	}

	tokenDaily, err := tx.DailyTokenMetricOrNew(dayOf(raw), token)
	if err != nil {
		return err
	}
	tokenDaily.Withdrawals++
	tokenDaily.WithdrawalVolume = new(uint256.Int).Add(tokenDaily.WithdrawalVolume, amount)
	return tx.SaveDailyTokenMetric(tokenDaily)
}

func (e *Engine) recordApproval(tx *ledger.Tx, newApproval, newClient, newOperator, newToken bool) error {
	global, err := tx.PaymentsMetricOrNew()
	if err != nil {
		return err
	}
	if newApproval {
		global.TotalApprovals++
	}
	if newClient {
		global.TotalAccounts++
	}
	if newOperator {
		global.TotalOperators++
	}
	if newToken {
		global.TotalTokens++
	}
	return tx.SavePaymentsMetric(global)
}

func (e *Engine) recordAccountLockupSettled(tx *ledger.Tx, newAccount, newToken bool) error {
	global, err := tx.PaymentsMetricOrNew()
	if err != nil {
		return err
	}
	if newAccount {
		global.TotalAccounts++
	}
	if newToken {
		global.TotalTokens++
	}
	return tx.SavePaymentsMetric(global)
}

func (e *Engine) recordRailCreated(tx *ledger.Tx, raw events.Raw, rail *ledger.Rail, newAccounts int, newOperator, newToken bool) error {
	global, err := tx.PaymentsMetricOrNew()
	if err != nil {
		return err
	}
	global.TotalRails++
	global.ZeroRateRails++
	global.TotalAccounts += uint64(newAccounts)
	if newOperator {
		global.TotalOperators++
	}
	if newToken {
		global.TotalTokens++
	}
	seen, err := tx.PayerSeen(rail.Payer)
	if err != nil {
		return err
	}
	if !seen {
		if err := tx.MarkPayerSeen(rail.Payer); err != nil {
			return err
		}
		global.UniquePayers++
	}
	seen, err = tx.PayeeSeen(rail.Payee)
	if err != nil {
		return err
	}
	if !seen {
		if err := tx.MarkPayeeSeen(rail.Payee); err != nil {
			return err
		}
		global.UniquePayees++
	}
	if err := tx.SavePaymentsMetric(global); err != nil {
		return err
	}

	daily, err := tx.DailyMetricOrNew(dayOf(raw))
	if err != nil {
		return err
	}
	daily.RailsCreated++
	if err := tx.SaveDailyMetric(daily); err != nil {
		return err
	}

	weekly, err := tx.WeeklyMetricOrNew(weekOf(raw))
	if err != nil {
		return err
	}
	weekly.RailsCreated++
	if err := tx.SaveWeeklyMetric(weekly); err != nil {
		return err
	}

	operatorDaily, err := tx.DailyOperatorMetricOrNew(dayOf(raw), rail.Operator)
	if err != nil {
		return err
	}
	operatorDaily.RailsCreated++
	return tx.SaveDailyOperatorMetric(operatorDaily)
}

func (e *Engine) recordRateModified(tx *ledger.Tx, raw events.Raw, previous, current ledger.RailState) error {
	global, err := tx.PaymentsMetricOrNew()
	if err != nil {
		return err
	}
	if previous == ledger.RailZeroRate && current == ledger.RailActive {
		global.ActiveRails++
		dec(&global.ZeroRateRails)
	} else if previous == ledger.RailActive && current == ledger.RailZeroRate {
		global.ZeroRateRails++
		dec(&global.ActiveRails)
	}
	if err := tx.SavePaymentsMetric(global); err != nil {
		return err
	}

	daily, err := tx.DailyMetricOrNew(dayOf(raw))
	if err != nil {
		return err
	}
	daily.RateChanges++
	if err := tx.SaveDailyMetric(daily); err != nil {
		return err
	}

	weekly, err := tx.WeeklyMetricOrNew(weekOf(raw))
	if err != nil {
		return err
	}
	weekly.RateChanges++
	return tx.SaveWeeklyMetric(weekly)
}

func (e *Engine) recordTerminated(tx *ledger.Tx, raw events.Raw, previous ledger.RailState) error {
	global, err := tx.PaymentsMetricOrNew()
	if err != nil {
		return err
	}
	global.TerminatedRails++
	switch previous {
	case ledger.RailActive:
		dec(&global.ActiveRails)
	case ledger.RailZeroRate:
		dec(&global.ZeroRateRails)
	}
	if err := tx.SavePaymentsMetric(global); err != nil {
		return err
	}

	daily, err := tx.DailyMetricOrNew(dayOf(raw))
	if err != nil {
		return err
	}
	daily.Terminations++
	if err := tx.SaveDailyMetric(daily); err != nil {
		return err
	}

	weekly, err := tx.WeeklyMetricOrNew(weekOf(raw))
	if err != nil {
		return err
	}
	weekly.Terminations++
	return tx.SaveWeeklyMetric(weekly)
}

func (e *Engine) recordSettled(tx *ledger.Tx, raw events.Raw, rail *ledger.Rail, settled, commission, filBurned *uint256.Int) error {
	global, err := tx.PaymentsMetricOrNew()
	if err != nil {
		return err
	}
	global.TotalSettlements++
	global.SettledVolume = new(uint256.Int).Add(global.SettledVolume, settled)
	global.FeesBurned = new(uint256.Int).Add(global.FeesBurned, filBurned)
	if err := tx.SavePaymentsMetric(global); err != nil {
		return err
	}

	daily, err := tx.DailyMetricOrNew(dayOf(raw))
	if err != nil {
		return err
	}
	daily.Settlements++
	daily.SettledVolume = new(uint256.Int).Add(daily.SettledVolume, settled)
	daily.FeesBurned = new(uint256.Int).Add(daily.FeesBurned, filBurned)
	if err := tx.SaveDailyMetric(daily); err != nil {
		return err
	}

	weekly, err := tx.WeeklyMetricOrNew(weekOf(raw))
	if err != nil {
		return err
	}
	weekly.Settlements++
	weekly.SettledVolume = new(uint256.Int).Add(weekly.SettledVolume, settled)
	weekly.FeesBurned = new(uint256.Int).Add(weekly.FeesBurned, filBurned)
	if err := tx.SaveWeeklyMetric(weekly); err != nil {
		return err
	}

	tokenDaily, err := tx.DailyTokenMetricOrNew(dayOf(raw), rail.Token)
	if err != nil {
		return err
	}
	tokenDaily.Settlements++
	tokenDaily.SettledVolume = new(uint256.Int).Add(tokenDaily.SettledVolume, settled)
	if err := tx.SaveDailyTokenMetric(tokenDaily); err != nil {
		return err
	}

	operatorDaily, err := tx.DailyOperatorMetricOrNew(dayOf(raw), rail.Operator)
	if err != nil {
		return err
	}
	operatorDaily.Settlements++
	operatorDaily.SettledVolume = new(uint256.Int).Add(operatorDaily.SettledVolume, settled)
	operatorDaily.CommissionEarned = new(uint256.Int).Add(operatorDaily.CommissionEarned, commission)
	return tx.SaveDailyOperatorMetric(operatorDaily)
}

func (e *Engine) recordOneTimePayment(tx *ledger.Tx, raw events.Raw, rail *ledger.Rail) error {
	global, err := tx.PaymentsMetricOrNew()
	if err != nil {
		return err
	}
	global.TotalOneTimePayments++
	if err := tx.SavePaymentsMetric(global); err != nil {
		return err
	}

	daily, err := tx.DailyMetricOrNew(dayOf(raw))
	if err != nil {
		return err
	}
	daily.OneTimePayments++
	if err := tx.SaveDailyMetric(daily); err != nil {
		return err
	}

	weekly, err := tx.WeeklyMetricOrNew(weekOf(raw))
	if err != nil {
		return err
	}
	weekly.OneTimePayments++
	if err := tx.SaveWeeklyMetric(weekly); err != nil {
		return err
	}

	operatorDaily, err := tx.DailyOperatorMetricOrNew(dayOf(raw), rail.Operator)
	if err != nil {
		return err
	}
	operatorDaily.OneTimePayments++
	return tx.SaveDailyOperatorMetric(operatorDaily)
}

func (e *Engine) recordFinalized(tx *ledger.Tx, raw events.Raw) error {
	global, err := tx.PaymentsMetricOrNew()
	if err != nil {
		return err
	}
	global.FinalizedRails++
	dec(&global.TerminatedRails)
	if err := tx.SavePaymentsMetric(global); err != nil {
		return err
	}

	daily, err := tx.DailyMetricOrNew(dayOf(raw))
	if err != nil {
		return err
	}
	daily.Finalizations++
	if err := tx.SaveDailyMetric(daily); err != nil {
		return err
	}

	weekly, err := tx.WeeklyMetricOrNew(weekOf(raw))
	if err != nil {
		return err
	}
	weekly.Finalizations++
	return tx.SaveWeeklyMetric(weekly)
}
