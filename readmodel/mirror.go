package readmodel

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"railscan/ledger"
)

// Mirror maintains a queryable SQL projection of the ledger. It consumes
// the entities touched by a committed block and upserts one row per
// entity. The mirror is a derived view: dropping the database and
// replaying the chain rebuilds it.
type Mirror struct {
	db *gorm.DB
}

// New migrates the mirrored schema and returns a mirror bound to db.
func New(db *gorm.DB) (*Mirror, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("readmodel: migrate: %w", err)
	}
	return &Mirror{db: db}, nil
}

// BlockCommitted implements the engine's post-commit observer.
func (m *Mirror) BlockCommitted(_ uint64, touched []any) error {
	return m.Apply(touched)
}

// Apply upserts rows for every entity touched by one committed block. The
// write runs in a single SQL transaction so readers never observe a
// half-applied block.
func (m *Mirror) Apply(touched []any) error {
	if len(touched) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return m.db.Transaction(func(tx *gorm.DB) error {
		for _, entity := range touched {
			row := rowFor(entity, now)
			if row == nil {
				continue
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
				return fmt.Errorf("readmodel: upsert %T: %w", entity, err)
			}
		}
		return nil
	})
}

func rowFor(entity any, now time.Time) any {
	switch e := entity.(type) {
	case *ledger.Account:
		return &AccountRow{
			Address:        e.Address.Hex(),
			TotalRails:     e.TotalRails,
			TotalApprovals: e.TotalApprovals,
			TotalTokens:    e.TotalTokens,
			UpdatedAt:      now,
		}
	case *ledger.Token:
		return &TokenRow{
			Address:            e.Address.Hex(),
			Name:               e.Name,
			Symbol:             e.Symbol,
			Decimals:           e.Decimals,
			TotalDeposits:      amount(e.TotalDeposits),
			TotalWithdrawals:   amount(e.TotalWithdrawals),
			TotalSettledAmount: amount(e.TotalSettledAmount),
			UserFunds:          amount(e.UserFunds),
			Volume:             amount(e.Volume),
			TotalUsers:         e.TotalUsers,
			UpdatedAt:          now,
		}
	case *ledger.UserToken:
		return &UserTokenRow{
			Account:             e.Account.Hex(),
			Token:               e.Token.Hex(),
			Funds:               amount(e.Funds),
			LockupCurrent:       amount(e.LockupCurrent),
			LockupRate:          amount(e.LockupRate),
			LockupLastSettledAt: e.LockupLastSettledAt,
			Payout:              amount(e.Payout),
			FundsCollected:      amount(e.FundsCollected),
			UpdatedAt:           now,
		}
	case *ledger.Operator:
		return &OperatorRow{
			Address:        e.Address.Hex(),
			TotalRails:     e.TotalRails,
			TotalApprovals: e.TotalApprovals,
			TotalTokens:    e.TotalTokens,
			UpdatedAt:      now,
		}
	case *ledger.OperatorApproval:
		return &OperatorApprovalRow{
			Client:          e.Client.Hex(),
			Operator:        e.Operator.Hex(),
			Token:           e.Token.Hex(),
			Approved:        e.Approved,
			RateAllowance:   amount(e.RateAllowance),
			LockupAllowance: amount(e.LockupAllowance),
			MaxLockupPeriod: amount(e.MaxLockupPeriod),
			RateUsage:       amount(e.RateUsage),
			LockupUsage:     amount(e.LockupUsage),
			UpdatedAt:       now,
		}
	case *ledger.OperatorToken:
		return &OperatorTokenRow{
			Operator:         e.Operator.Hex(),
			Token:            e.Token.Hex(),
			RateAllowance:    amount(e.RateAllowance),
			LockupAllowance:  amount(e.LockupAllowance),
			RateUsage:        amount(e.RateUsage),
			LockupUsage:      amount(e.LockupUsage),
			Volume:           amount(e.Volume),
			SettledAmount:    amount(e.SettledAmount),
			CommissionEarned: amount(e.CommissionEarned),
			UpdatedAt:        now,
		}
	case *ledger.Rail:
		return &RailRow{
			RailID:              amount(e.ID),
			Payer:               e.Payer.Hex(),
			Payee:               e.Payee.Hex(),
			Operator:            e.Operator.Hex(),
			Token:               e.Token.Hex(),
			Arbiter:             e.Arbiter.Hex(),
			ServiceFeeRecipient: e.ServiceFeeRecipient.Hex(),
			CommissionRateBps:   e.CommissionRateBps,
			PaymentRate:         amount(e.PaymentRate),
			LockupFixed:         amount(e.LockupFixed),
			LockupPeriod:        amount(e.LockupPeriod),
			SettledUpto:         e.SettledUpto,
			State:               e.State.String(),
			EndEpoch:            e.EndEpoch,
			TotalSettledAmount:  amount(e.TotalSettledAmount),
			TotalNetPayeeAmount: amount(e.TotalNetPayeeAmount),
			TotalCommission:     amount(e.TotalCommission),
			TotalSettlements:    e.TotalSettlements,
			TotalRateChanges:    e.TotalRateChanges,
			CreatedAt:           e.CreatedAt,
			UpdatedAt:           now,
		}
	case *ledger.RateChangeSegment:
		return &RateChangeRow{
			RailID:     amount(e.RailID),
			StartEpoch: e.StartEpoch,
			UntilEpoch: e.UntilEpoch,
			Rate:       amount(e.Rate),
			UpdatedAt:  now,
		}
	case *ledger.Settlement:
		return &SettlementRow{
			TxHash:              e.TxHash.Hex(),
			LogIndex:            e.LogIndex,
			RailID:              amount(e.RailID),
			TotalSettledAmount:  amount(e.TotalSettledAmount),
			TotalNetPayeeAmount: amount(e.TotalNetPayeeAmount),
			OperatorCommission:  amount(e.OperatorCommission),
			FilBurned:           amount(e.FilBurned),
			SettledUpto:         e.SettledUpto,
			CreatedAt:           now,
		}
	case *ledger.OneTimePayment:
		return &OneTimePaymentRow{
			TxHash:             e.TxHash.Hex(),
			LogIndex:           e.LogIndex,
			RailID:             amount(e.RailID),
			TotalAmount:        amount(e.TotalAmount),
			NetPayeeAmount:     amount(e.NetPayeeAmount),
			OperatorCommission: amount(e.OperatorCommission),
			NetworkFee:         amount(e.NetworkFee),
			CreatedAt:          now,
		}
	case *ledger.PaymentsMetric:
		return &PaymentsMetricRow{
			ID:                   1,
			TotalRails:           e.TotalRails,
			ActiveRails:          e.ActiveRails,
			TerminatedRails:      e.TerminatedRails,
			FinalizedRails:       e.FinalizedRails,
			ZeroRateRails:        e.ZeroRateRails,
			TotalAccounts:        e.TotalAccounts,
			TotalOperators:       e.TotalOperators,
			TotalTokens:          e.TotalTokens,
			TotalApprovals:       e.TotalApprovals,
			UniquePayers:         e.UniquePayers,
			UniquePayees:         e.UniquePayees,
			TotalDeposits:        e.TotalDeposits,
			TotalWithdrawals:     e.TotalWithdrawals,
			TotalSettlements:     e.TotalSettlements,
			TotalOneTimePayments: e.TotalOneTimePayments,
			DepositVolume:        amount(e.DepositVolume),
			WithdrawalVolume:     amount(e.WithdrawalVolume),
			SettledVolume:        amount(e.SettledVolume),
			FeesBurned:           amount(e.FeesBurned),
			UpdatedAt:            now,
		}
	case *ledger.DailyMetric:
		return &DailyMetricRow{
			Day:              e.Day,
			RailsCreated:     e.RailsCreated,
			RateChanges:      e.RateChanges,
			Terminations:     e.Terminations,
			Finalizations:    e.Finalizations,
			Deposits:         e.Deposits,
			Withdrawals:      e.Withdrawals,
			Settlements:      e.Settlements,
			OneTimePayments:  e.OneTimePayments,
			DepositVolume:    amount(e.DepositVolume),
			WithdrawalVolume: amount(e.WithdrawalVolume),
			SettledVolume:    amount(e.SettledVolume),
			FeesBurned:       amount(e.FeesBurned),
			UpdatedAt:        now,
		}
	case *ledger.WeeklyMetric:
		return &WeeklyMetricRow{
			Week:             e.Week,
			RailsCreated:     e.RailsCreated,
			RateChanges:      e.RateChanges,
			Terminations:     e.Terminations,
			Finalizations:    e.Finalizations,
			Deposits:         e.Deposits,
			Withdrawals:      e.Withdrawals,
			Settlements:      e.Settlements,
			OneTimePayments:  e.OneTimePayments,
			DepositVolume:    amount(e.DepositVolume),
			WithdrawalVolume: amount(e.WithdrawalVolume),
			SettledVolume:    amount(e.SettledVolume),
			FeesBurned:       amount(e.FeesBurned),
			UpdatedAt:        now,
		}
	case *ledger.DailyTokenMetric:
		return &DailyTokenMetricRow{
			Day:              e.Day,
			Token:            e.Token.Hex(),
			Deposits:         e.Deposits,
			Withdrawals:      e.Withdrawals,
			Settlements:      e.Settlements,
			DepositVolume:    amount(e.DepositVolume),
			WithdrawalVolume: amount(e.WithdrawalVolume),
			SettledVolume:    amount(e.SettledVolume),
			UpdatedAt:        now,
		}
	case *ledger.DailyOperatorMetric:
		return &DailyOperatorMetricRow{
			Day:              e.Day,
			Operator:         e.Operator.Hex(),
			RailsCreated:     e.RailsCreated,
			Settlements:      e.Settlements,
			OneTimePayments:  e.OneTimePayments,
			SettledVolume:    amount(e.SettledVolume),
			CommissionEarned: amount(e.CommissionEarned),
			UpdatedAt:        now,
		}
	default:
		return nil
	}
}

func amount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
