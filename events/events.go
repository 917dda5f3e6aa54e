package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Canonical event names, matching the payments contract ABI.
const (
	TypeDepositRecorded             = "DepositRecorded"
	TypeWithdrawRecorded            = "WithdrawRecorded"
	TypeOperatorApprovalUpdated     = "OperatorApprovalUpdated"
	TypeAccountLockupSettled        = "AccountLockupSettled"
	TypeRailCreated                 = "RailCreated"
	TypeRailRateModified            = "RailRateModified"
	TypeRailLockupModified          = "RailLockupModified"
	TypeRailTerminated              = "RailTerminated"
	TypeRailSettled                 = "RailSettled"
	TypeRailOneTimePaymentProcessed = "RailOneTimePaymentProcessed"
	TypeRailFinalized               = "RailFinalized"
)

// Raw carries the log coordinates shared by every decoded event. Streams are
// applied strictly in (BlockNumber, LogIndex) order.
type Raw struct {
	Emitter        common.Address
	BlockNumber    uint64
	BlockTimestamp uint64
	TxHash         common.Hash
	LogIndex       uint
}

// Event is one decoded contract log.
type Event interface {
	EventType() string
	Coords() Raw
}

func (r Raw) Coords() Raw { return r }

// DepositRecorded credits funds into an account's token position.
type DepositRecorded struct {
	Raw
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

func (DepositRecorded) EventType() string { return TypeDepositRecorded }

// WithdrawRecorded debits funds from an account's token position.
type WithdrawRecorded struct {
	Raw
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

func (WithdrawRecorded) EventType() string { return TypeWithdrawRecorded }

// OperatorApprovalUpdated carries absolute allowance ceilings, not deltas.
type OperatorApprovalUpdated struct {
	Raw
	Token           common.Address
	Client          common.Address
	Operator        common.Address
	Approved        bool
	RateAllowance   *uint256.Int
	LockupAllowance *uint256.Int
	MaxLockupPeriod *uint256.Int
}

func (OperatorApprovalUpdated) EventType() string { return TypeOperatorApprovalUpdated }

// AccountLockupSettled is a contract-side snapshot of an account's token
// lockup fields.
type AccountLockupSettled struct {
	Raw
	Token               common.Address
	Owner               common.Address
	LockupCurrent       *uint256.Int
	LockupRate          *uint256.Int
	LockupLastSettledAt uint64
}

func (AccountLockupSettled) EventType() string { return TypeAccountLockupSettled }

// RailCreated announces a new payment rail.
type RailCreated struct {
	Raw
	RailID              *uint256.Int
	Payer               common.Address
	Payee               common.Address
	Token               common.Address
	Operator            common.Address
	Validator           common.Address
	ServiceFeeRecipient common.Address
	CommissionRateBps   uint64
}

func (RailCreated) EventType() string { return TypeRailCreated }

// RailRateModified changes a rail's per-epoch payment rate.
type RailRateModified struct {
	Raw
	RailID  *uint256.Int
	OldRate *uint256.Int
	NewRate *uint256.Int
}

func (RailRateModified) EventType() string { return TypeRailRateModified }

// RailLockupModified changes a rail's fixed lockup and lockup period.
type RailLockupModified struct {
	Raw
	RailID          *uint256.Int
	OldLockupPeriod *uint256.Int
	NewLockupPeriod *uint256.Int
	OldLockupFixed  *uint256.Int
	NewLockupFixed  *uint256.Int
}

func (RailLockupModified) EventType() string { return TypeRailLockupModified }

// RailTerminated moves a rail into its terminal wind-down.
type RailTerminated struct {
	Raw
	RailID   *uint256.Int
	By       common.Address
	EndEpoch uint64
}

func (RailTerminated) EventType() string { return TypeRailTerminated }

// RailSettled finalizes accrued payments on a rail up to SettledUpto.
type RailSettled struct {
	Raw
	RailID              *uint256.Int
	TotalSettledAmount  *uint256.Int
	TotalNetPayeeAmount *uint256.Int
	OperatorCommission  *uint256.Int
	NetworkFee          *uint256.Int
	SettledUpto         uint64
}

func (RailSettled) EventType() string { return TypeRailSettled }

// RailOneTimePaymentProcessed draws a single payment down from the rail's
// fixed lockup.
type RailOneTimePaymentProcessed struct {
	Raw
	RailID             *uint256.Int
	NetPayeeAmount     *uint256.Int
	OperatorCommission *uint256.Int
	NetworkFee         *uint256.Int
}

func (RailOneTimePaymentProcessed) EventType() string { return TypeRailOneTimePaymentProcessed }

// RailFinalized releases the rail's remaining lockup commitment.
type RailFinalized struct {
	Raw
	RailID *uint256.Int
}

func (RailFinalized) EventType() string { return TypeRailFinalized }
