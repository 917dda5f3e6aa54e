package readmodel

import (
	"time"

	"gorm.io/gorm"
)

// Rows are denormalized mirrors of the ledger entities, refreshed after
// every committed block. Monetary values are stored as decimal strings so
// 256-bit amounts survive any SQL backend.

// AccountRow mirrors ledger.Account.
type AccountRow struct {
	Address        string `gorm:"primaryKey;size:42"`
	TotalRails     uint64
	TotalApprovals uint64
	TotalTokens    uint64
	UpdatedAt      time.Time
}

// TokenRow mirrors ledger.Token.
type TokenRow struct {
	Address            string `gorm:"primaryKey;size:42"`
	Name               string `gorm:"size:128"`
	Symbol             string `gorm:"size:32"`
	Decimals           uint8
	TotalDeposits      string `gorm:"size:80"`
	TotalWithdrawals   string `gorm:"size:80"`
	TotalSettledAmount string `gorm:"size:80"`
	UserFunds          string `gorm:"size:80"`
	Volume             string `gorm:"size:80"`
	TotalUsers         uint64
	UpdatedAt          time.Time
}

// UserTokenRow mirrors ledger.UserToken.
type UserTokenRow struct {
	Account             string `gorm:"primaryKey;size:42"`
	Token               string `gorm:"primaryKey;size:42"`
	Funds               string `gorm:"size:80"`
	LockupCurrent       string `gorm:"size:80"`
	LockupRate          string `gorm:"size:80"`
	LockupLastSettledAt uint64
	Payout              string `gorm:"size:80"`
	FundsCollected      string `gorm:"size:80"`
	UpdatedAt           time.Time
}

// OperatorRow mirrors ledger.Operator.
type OperatorRow struct {
	Address        string `gorm:"primaryKey;size:42"`
	TotalRails     uint64
	TotalApprovals uint64
	TotalTokens    uint64
	UpdatedAt      time.Time
}

// OperatorApprovalRow mirrors ledger.OperatorApproval.
type OperatorApprovalRow struct {
	Client          string `gorm:"primaryKey;size:42"`
	Operator        string `gorm:"primaryKey;size:42"`
	Token           string `gorm:"primaryKey;size:42"`
	Approved        bool
	RateAllowance   string `gorm:"size:80"`
	LockupAllowance string `gorm:"size:80"`
	MaxLockupPeriod string `gorm:"size:80"`
	RateUsage       string `gorm:"size:80"`
	LockupUsage     string `gorm:"size:80"`
	UpdatedAt       time.Time
}

// OperatorTokenRow mirrors ledger.OperatorToken.
type OperatorTokenRow struct {
	Operator         string `gorm:"primaryKey;size:42"`
	Token            string `gorm:"primaryKey;size:42"`
	RateAllowance    string `gorm:"size:80"`
	LockupAllowance  string `gorm:"size:80"`
	RateUsage        string `gorm:"size:80"`
	LockupUsage      string `gorm:"size:80"`
	Volume           string `gorm:"size:80"`
	SettledAmount    string `gorm:"size:80"`
	CommissionEarned string `gorm:"size:80"`
	UpdatedAt        time.Time
}

// RailRow mirrors ledger.Rail.
type RailRow struct {
	RailID              string `gorm:"primaryKey;size:80"`
	Payer               string `gorm:"size:42;index"`
	Payee               string `gorm:"size:42;index"`
	Operator            string `gorm:"size:42;index"`
	Token               string `gorm:"size:42;index"`
	Arbiter             string `gorm:"size:42"`
	ServiceFeeRecipient string `gorm:"size:42"`
	CommissionRateBps   uint64
	PaymentRate         string `gorm:"size:80"`
	LockupFixed         string `gorm:"size:80"`
	LockupPeriod        string `gorm:"size:80"`
	SettledUpto         uint64
	State               string `gorm:"size:16;index"`
	EndEpoch            uint64
	TotalSettledAmount  string `gorm:"size:80"`
	TotalNetPayeeAmount string `gorm:"size:80"`
	TotalCommission     string `gorm:"size:80"`
	TotalSettlements    uint64
	TotalRateChanges    uint64
	CreatedAt           uint64
	UpdatedAt           time.Time
}

// RateChangeRow mirrors ledger.RateChangeSegment.
type RateChangeRow struct {
	RailID     string `gorm:"primaryKey;size:80"`
	StartEpoch uint64 `gorm:"primaryKey"`
	UntilEpoch uint64
	Rate       string `gorm:"size:80"`
	UpdatedAt  time.Time
}

// SettlementRow mirrors ledger.Settlement.
type SettlementRow struct {
	TxHash              string `gorm:"primaryKey;size:66"`
	LogIndex            uint   `gorm:"primaryKey"`
	RailID              string `gorm:"size:80;index"`
	TotalSettledAmount  string `gorm:"size:80"`
	TotalNetPayeeAmount string `gorm:"size:80"`
	OperatorCommission  string `gorm:"size:80"`
	FilBurned           string `gorm:"size:80"`
	SettledUpto         uint64
	CreatedAt           time.Time
}

// OneTimePaymentRow mirrors ledger.OneTimePayment.
type OneTimePaymentRow struct {
	TxHash             string `gorm:"primaryKey;size:66"`
	LogIndex           uint   `gorm:"primaryKey"`
	RailID             string `gorm:"size:80;index"`
	TotalAmount        string `gorm:"size:80"`
	NetPayeeAmount     string `gorm:"size:80"`
	OperatorCommission string `gorm:"size:80"`
	NetworkFee         string `gorm:"size:80"`
	CreatedAt          time.Time
}

// PaymentsMetricRow mirrors ledger.PaymentsMetric, one global row.
type PaymentsMetricRow struct {
	ID                   uint `gorm:"primaryKey"`
	TotalRails           uint64
	ActiveRails          uint64
	TerminatedRails      uint64
	FinalizedRails       uint64
	ZeroRateRails        uint64
	TotalAccounts        uint64
	TotalOperators       uint64
	TotalTokens          uint64
	TotalApprovals       uint64
	UniquePayers         uint64
	UniquePayees         uint64
	TotalDeposits        uint64
	TotalWithdrawals     uint64
	TotalSettlements     uint64
	TotalOneTimePayments uint64
	DepositVolume        string `gorm:"size:80"`
	WithdrawalVolume     string `gorm:"size:80"`
	SettledVolume        string `gorm:"size:80"`
	FeesBurned           string `gorm:"size:80"`
	UpdatedAt            time.Time
}

// DailyMetricRow mirrors ledger.DailyMetric.
type DailyMetricRow struct {
	Day              string `gorm:"primaryKey;size:10"`
	RailsCreated     uint64
	RateChanges      uint64
	Terminations     uint64
	Finalizations    uint64
	Deposits         uint64
	Withdrawals      uint64
	Settlements      uint64
	OneTimePayments  uint64
	DepositVolume    string `gorm:"size:80"`
	WithdrawalVolume string `gorm:"size:80"`
	SettledVolume    string `gorm:"size:80"`
	FeesBurned       string `gorm:"size:80"`
	UpdatedAt        time.Time
}

// WeeklyMetricRow mirrors ledger.WeeklyMetric.
type WeeklyMetricRow struct {
	Week             uint64 `gorm:"primaryKey"`
	RailsCreated     uint64
	RateChanges      uint64
	Terminations     uint64
	Finalizations    uint64
	Deposits         uint64
	Withdrawals      uint64
	Settlements      uint64
	OneTimePayments  uint64
	DepositVolume    string `gorm:"size:80"`
	WithdrawalVolume string `gorm:"size:80"`
	SettledVolume    string `gorm:"size:80"`
	FeesBurned       string `gorm:"size:80"`
	UpdatedAt        time.Time
}

// DailyTokenMetricRow mirrors ledger.DailyTokenMetric.
type DailyTokenMetricRow struct {
	Day              string `gorm:"primaryKey;size:10"`
	Token            string `gorm:"primaryKey;size:42"`
	Deposits         uint64
	Withdrawals      uint64
	Settlements      uint64
	DepositVolume    string `gorm:"size:80"`
	WithdrawalVolume string `gorm:"size:80"`
	SettledVolume    string `gorm:"size:80"`
	UpdatedAt        time.Time
}

// DailyOperatorMetricRow mirrors ledger.DailyOperatorMetric.
type DailyOperatorMetricRow struct {
	Day              string `gorm:"primaryKey;size:10"`
	Operator         string `gorm:"primaryKey;size:42"`
	RailsCreated     uint64
	Settlements      uint64
	OneTimePayments  uint64
	SettledVolume    string `gorm:"size:80"`
	CommissionEarned string `gorm:"size:80"`
	UpdatedAt        time.Time
}

// AutoMigrate performs schema migrations for all mirrored tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountRow{},
		&TokenRow{},
		&UserTokenRow{},
		&OperatorRow{},
		&OperatorApprovalRow{},
		&OperatorTokenRow{},
		&RailRow{},
		&RateChangeRow{},
		&SettlementRow{},
		&OneTimePaymentRow{},
		&PaymentsMetricRow{},
		&DailyMetricRow{},
		&WeeklyMetricRow{},
		&DailyTokenMetricRow{},
		&DailyOperatorMetricRow{},
	)
}
