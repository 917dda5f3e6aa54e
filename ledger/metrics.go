package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SecondsPerWeek converts block timestamps into weekly bucket indices.
const SecondsPerWeek = 7 * 24 * 60 * 60

// PaymentsMetric is the single global counter set. It is created lazily on
// first use with the fixed singleton key and only ever incremented.
type PaymentsMetric struct {
	TotalRails           uint64       `json:"totalRails"`
	ActiveRails          uint64       `json:"activeRails"`
	TerminatedRails      uint64       `json:"terminatedRails"`
	FinalizedRails       uint64       `json:"finalizedRails"`
	ZeroRateRails        uint64       `json:"zeroRateRails"`
	TotalAccounts        uint64       `json:"totalAccounts"`
	TotalOperators       uint64       `json:"totalOperators"`
	TotalTokens          uint64       `json:"totalTokens"`
	TotalApprovals       uint64       `json:"totalApprovals"`
	UniquePayers         uint64       `json:"uniquePayers"`
	UniquePayees         uint64       `json:"uniquePayees"`
	TotalDeposits        uint64       `json:"totalDeposits"`
	TotalWithdrawals     uint64       `json:"totalWithdrawals"`
	TotalSettlements     uint64       `json:"totalSettlements"`
	TotalOneTimePayments uint64       `json:"totalOneTimePayments"`
	DepositVolume        *uint256.Int `json:"depositVolume"`
	WithdrawalVolume     *uint256.Int `json:"withdrawalVolume"`
	SettledVolume        *uint256.Int `json:"settledVolume"`
	FeesBurned           *uint256.Int `json:"feesBurned"`
}

func (m *PaymentsMetric) sanitize() *PaymentsMetric {
	m.DepositVolume = orZero(m.DepositVolume)
	m.WithdrawalVolume = orZero(m.WithdrawalVolume)
	m.SettledVolume = orZero(m.SettledVolume)
	m.FeesBurned = orZero(m.FeesBurned)
	return m
}

// DailyMetric buckets activity by UTC date string (YYYY-MM-DD).
type DailyMetric struct {
	Day              string       `json:"day"`
	RailsCreated     uint64       `json:"railsCreated"`
	RateChanges      uint64       `json:"rateChanges"`
	Terminations     uint64       `json:"terminations"`
	Finalizations    uint64       `json:"finalizations"`
	Deposits         uint64       `json:"deposits"`
	Withdrawals      uint64       `json:"withdrawals"`
	Settlements      uint64       `json:"settlements"`
	OneTimePayments  uint64       `json:"oneTimePayments"`
	DepositVolume    *uint256.Int `json:"depositVolume"`
	WithdrawalVolume *uint256.Int `json:"withdrawalVolume"`
	SettledVolume    *uint256.Int `json:"settledVolume"`
	FeesBurned       *uint256.Int `json:"feesBurned"`
}

func (m *DailyMetric) sanitize() *DailyMetric {
	m.DepositVolume = orZero(m.DepositVolume)
	m.WithdrawalVolume = orZero(m.WithdrawalVolume)
	m.SettledVolume = orZero(m.SettledVolume)
	m.FeesBurned = orZero(m.FeesBurned)
	return m
}

// WeeklyMetric buckets the same counters by week index
// (timestamp / SecondsPerWeek + 1).
type WeeklyMetric struct {
	Week             uint64       `json:"week"`
	RailsCreated     uint64       `json:"railsCreated"`
	RateChanges      uint64       `json:"rateChanges"`
	Terminations     uint64       `json:"terminations"`
	Finalizations    uint64       `json:"finalizations"`
	Deposits         uint64       `json:"deposits"`
	Withdrawals      uint64       `json:"withdrawals"`
	Settlements      uint64       `json:"settlements"`
	OneTimePayments  uint64       `json:"oneTimePayments"`
	DepositVolume    *uint256.Int `json:"depositVolume"`
	WithdrawalVolume *uint256.Int `json:"withdrawalVolume"`
	SettledVolume    *uint256.Int `json:"settledVolume"`
	FeesBurned       *uint256.Int `json:"feesBurned"`
}

func (m *WeeklyMetric) sanitize() *WeeklyMetric {
	m.DepositVolume = orZero(m.DepositVolume)
	m.WithdrawalVolume = orZero(m.WithdrawalVolume)
	m.SettledVolume = orZero(m.SettledVolume)
	m.FeesBurned = orZero(m.FeesBurned)
	return m
}

// DailyTokenMetric buckets token-scoped activity by UTC day.
type DailyTokenMetric struct {
	Day              string         `json:"day"`
	Token            common.Address `json:"token"`
	Deposits         uint64         `json:"deposits"`
	Withdrawals      uint64         `json:"withdrawals"`
	Settlements      uint64         `json:"settlements"`
	DepositVolume    *uint256.Int   `json:"depositVolume"`
	WithdrawalVolume *uint256.Int   `json:"withdrawalVolume"`
	SettledVolume    *uint256.Int   `json:"settledVolume"`
}

func (m *DailyTokenMetric) sanitize() *DailyTokenMetric {
	m.DepositVolume = orZero(m.DepositVolume)
	m.WithdrawalVolume = orZero(m.WithdrawalVolume)
	m.SettledVolume = orZero(m.SettledVolume)
	return m
}

// DailyOperatorMetric buckets operator-scoped activity by UTC day.
type DailyOperatorMetric struct {
	Day              string         `json:"day"`
	Operator         common.Address `json:"operator"`
	RailsCreated     uint64         `json:"railsCreated"`
	Settlements      uint64         `json:"settlements"`
	OneTimePayments  uint64         `json:"oneTimePayments"`
	SettledVolume    *uint256.Int   `json:"settledVolume"`
	CommissionEarned *uint256.Int   `json:"commissionEarned"`
}

func (m *DailyOperatorMetric) sanitize() *DailyOperatorMetric {
	m.SettledVolume = orZero(m.SettledVolume)
	m.CommissionEarned = orZero(m.CommissionEarned)
	return m
}
