package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RailState captures the lifecycle states of a payment rail. ZeroRate and
// Active are reversible through rate transitions; Terminated and Finalized
// are terminal.
type RailState uint8

const (
	RailZeroRate RailState = iota
	RailActive
	RailTerminated
	RailFinalized
)

// Valid reports whether the state value is within the supported range.
func (s RailState) Valid() bool {
	switch s {
	case RailZeroRate, RailActive, RailTerminated, RailFinalized:
		return true
	default:
		return false
	}
}

func (s RailState) String() string {
	switch s {
	case RailZeroRate:
		return "ZERORATE"
	case RailActive:
		return "ACTIVE"
	case RailTerminated:
		return "TERMINATED"
	case RailFinalized:
		return "FINALIZED"
	default:
		return "UNKNOWN"
	}
}

// Account is created lazily on first reference from any event touching the
// address, on either side of a rail or approval.
type Account struct {
	Address        common.Address `json:"address"`
	TotalRails     uint64         `json:"totalRails"`
	TotalApprovals uint64         `json:"totalApprovals"`
	TotalTokens    uint64         `json:"totalTokens"`
}

// Token mirrors an ERC-20 contract tracked by the payments protocol.
// UserFunds is the running sum of all UserToken.Funds held in this token and
// is reconciled incrementally by every handler that moves funds.
type Token struct {
	Address            common.Address `json:"address"`
	Name               string         `json:"name"`
	Symbol             string         `json:"symbol"`
	Decimals           uint8          `json:"decimals"`
	TotalDeposits      *uint256.Int   `json:"totalDeposits"`
	TotalWithdrawals   *uint256.Int   `json:"totalWithdrawals"`
	TotalSettledAmount *uint256.Int   `json:"totalSettledAmount"`
	UserFunds          *uint256.Int   `json:"userFunds"`
	Volume             *uint256.Int   `json:"volume"`
	TotalUsers         uint64         `json:"totalUsers"`
}

func (t *Token) sanitize() *Token {
	t.TotalDeposits = orZero(t.TotalDeposits)
	t.TotalWithdrawals = orZero(t.TotalWithdrawals)
	t.TotalSettledAmount = orZero(t.TotalSettledAmount)
	t.UserFunds = orZero(t.UserFunds)
	t.Volume = orZero(t.Volume)
	return t
}

// UserToken holds one account's position in one token. LockupCurrent,
// LockupRate and LockupLastSettledAt follow the streaming accrual model and
// must only be mutated through SettleAccountLockup.
type UserToken struct {
	Account             common.Address `json:"account"`
	Token               common.Address `json:"token"`
	Funds               *uint256.Int   `json:"funds"`
	LockupCurrent       *uint256.Int   `json:"lockupCurrent"`
	LockupRate          *uint256.Int   `json:"lockupRate"`
	LockupLastSettledAt uint64         `json:"lockupLastSettledAt"`
	Payout              *uint256.Int   `json:"payout"`
	FundsCollected      *uint256.Int   `json:"fundsCollected"`
}

func (ut *UserToken) sanitize() *UserToken {
	ut.Funds = orZero(ut.Funds)
	ut.LockupCurrent = orZero(ut.LockupCurrent)
	ut.LockupRate = orZero(ut.LockupRate)
	ut.Payout = orZero(ut.Payout)
	ut.FundsCollected = orZero(ut.FundsCollected)
	return ut
}

// Operator aggregates per-operator counters across all clients.
type Operator struct {
	Address        common.Address `json:"address"`
	TotalRails     uint64         `json:"totalRails"`
	TotalApprovals uint64         `json:"totalApprovals"`
	TotalTokens    uint64         `json:"totalTokens"`
}

// OperatorApproval is the per-(client, operator, token) allowance ledger.
// RateUsage and LockupUsage are clamped at zero; they can drift slightly
// below the contract's view when replaying partial streams.
type OperatorApproval struct {
	Client          common.Address `json:"client"`
	Operator        common.Address `json:"operator"`
	Token           common.Address `json:"token"`
	Approved        bool           `json:"isApproved"`
	RateAllowance   *uint256.Int   `json:"rateAllowance"`
	LockupAllowance *uint256.Int   `json:"lockupAllowance"`
	MaxLockupPeriod *uint256.Int   `json:"maxLockupPeriod"`
	RateUsage       *uint256.Int   `json:"rateUsage"`
	LockupUsage     *uint256.Int   `json:"lockupUsage"`
}

func (oa *OperatorApproval) sanitize() *OperatorApproval {
	oa.RateAllowance = orZero(oa.RateAllowance)
	oa.LockupAllowance = orZero(oa.LockupAllowance)
	oa.MaxLockupPeriod = orZero(oa.MaxLockupPeriod)
	oa.RateUsage = orZero(oa.RateUsage)
	oa.LockupUsage = orZero(oa.LockupUsage)
	return oa
}

// OperatorToken mirrors OperatorApproval usage summed across clients, plus
// settlement and commission aggregates for the operator in one token.
type OperatorToken struct {
	Operator         common.Address `json:"operator"`
	Token            common.Address `json:"token"`
	RateAllowance    *uint256.Int   `json:"rateAllowance"`
	LockupAllowance  *uint256.Int   `json:"lockupAllowance"`
	RateUsage        *uint256.Int   `json:"rateUsage"`
	LockupUsage      *uint256.Int   `json:"lockupUsage"`
	Volume           *uint256.Int   `json:"volume"`
	SettledAmount    *uint256.Int   `json:"settledAmount"`
	CommissionEarned *uint256.Int   `json:"commissionEarned"`
}

func (ot *OperatorToken) sanitize() *OperatorToken {
	ot.RateAllowance = orZero(ot.RateAllowance)
	ot.LockupAllowance = orZero(ot.LockupAllowance)
	ot.RateUsage = orZero(ot.RateUsage)
	ot.LockupUsage = orZero(ot.LockupUsage)
	ot.Volume = orZero(ot.Volume)
	ot.SettledAmount = orZero(ot.SettledAmount)
	ot.CommissionEarned = orZero(ot.CommissionEarned)
	return ot
}

// Rail is created once on RailCreated and never deleted. QueueSegments and
// QueueLastUntil track the head of the rail's rate-change queue so the queue
// manager can decide whether to append without scanning segment keys.
type Rail struct {
	ID                  *uint256.Int   `json:"id"`
	Payer               common.Address `json:"payer"`
	Payee               common.Address `json:"payee"`
	Operator            common.Address `json:"operator"`
	Token               common.Address `json:"token"`
	Arbiter             common.Address `json:"arbiter"`
	ServiceFeeRecipient common.Address `json:"serviceFeeRecipient"`
	CommissionRateBps   uint64         `json:"commissionRateBps"`
	PaymentRate         *uint256.Int   `json:"paymentRate"`
	LockupFixed         *uint256.Int   `json:"lockupFixed"`
	LockupPeriod        *uint256.Int   `json:"lockupPeriod"`
	SettledUpto         uint64         `json:"settledUpto"`
	State               RailState      `json:"state"`
	EndEpoch            uint64         `json:"endEpoch"`
	TotalSettledAmount  *uint256.Int   `json:"totalSettledAmount"`
	TotalNetPayeeAmount *uint256.Int   `json:"totalNetPayeeAmount"`
	TotalCommission     *uint256.Int   `json:"totalCommission"`
	TotalSettlements    uint64         `json:"totalSettlements"`
	TotalRateChanges    uint64         `json:"totalRateChanges"`
	CreatedAt           uint64         `json:"createdAt"`
	QueueSegments       uint64         `json:"queueSegments"`
	QueueLastUntil      uint64         `json:"queueLastUntil"`
}

func (r *Rail) sanitize() *Rail {
	r.ID = orZero(r.ID)
	r.PaymentRate = orZero(r.PaymentRate)
	r.LockupFixed = orZero(r.LockupFixed)
	r.LockupPeriod = orZero(r.LockupPeriod)
	r.TotalSettledAmount = orZero(r.TotalSettledAmount)
	r.TotalNetPayeeAmount = orZero(r.TotalNetPayeeAmount)
	r.TotalCommission = orZero(r.TotalCommission)
	return r
}

// Terminal reports whether the rail can no longer change rate or lockup
// commitments.
func (r *Rail) Terminal() bool {
	return r.State == RailTerminated || r.State == RailFinalized
}

// RateChangeSegment records one historical rate regime of a rail, appended
// when a rate change lands on a segment that has not been fully settled.
// Segments are strictly ordered by StartEpoch and never overlap.
type RateChangeSegment struct {
	RailID     *uint256.Int `json:"railId"`
	StartEpoch uint64       `json:"startEpoch"`
	UntilEpoch uint64       `json:"untilEpoch"`
	Rate       *uint256.Int `json:"rate"`
}

// Settlement is an immutable record of one RailSettled event.
type Settlement struct {
	TxHash              common.Hash  `json:"txHash"`
	LogIndex            uint         `json:"logIndex"`
	RailID              *uint256.Int `json:"railId"`
	TotalSettledAmount  *uint256.Int `json:"totalSettledAmount"`
	TotalNetPayeeAmount *uint256.Int `json:"totalNetPayeeAmount"`
	OperatorCommission  *uint256.Int `json:"operatorCommission"`
	FilBurned           *uint256.Int `json:"filBurned"`
	SettledUpto         uint64       `json:"settledUpto"`
}

// OneTimePayment is an immutable record of one RailOneTimePaymentProcessed
// event. TotalAmount is the full drawdown: net payee amount plus operator
// commission plus network fee.
type OneTimePayment struct {
	TxHash             common.Hash  `json:"txHash"`
	LogIndex           uint         `json:"logIndex"`
	RailID             *uint256.Int `json:"railId"`
	TotalAmount        *uint256.Int `json:"totalAmount"`
	NetPayeeAmount     *uint256.Int `json:"netPayeeAmount"`
	OperatorCommission *uint256.Int `json:"operatorCommission"`
	NetworkFee         *uint256.Int `json:"networkFee"`
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v
}

// CloneAmount returns a defensive copy of v, treating nil as zero.
func CloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(v)
}
