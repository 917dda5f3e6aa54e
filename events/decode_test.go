package events

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func mustPack(t *testing.T, name string, args ...interface{}) []byte {
	t.Helper()
	data, err := ABI().Events[name].Inputs.NonIndexed().Pack(args...)
	if err != nil {
		t.Fatalf("pack %s: %v", name, err)
	}
	return data
}

func addrTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func u256Topic(v *big.Int) common.Hash {
	return common.BigToHash(v)
}

func TestDecodeDepositRecorded(t *testing.T) {
	token := common.HexToAddress("0x0000000000000000000000000000000000000001")
	from := common.HexToAddress("0x0000000000000000000000000000000000000002")
	to := common.HexToAddress("0x0000000000000000000000000000000000000003")

	log := types.Log{
		Address: common.HexToAddress("0x00000000000000000000000000000000000000FF"),
		Topics: []common.Hash{
			ABI().Events["DepositRecorded"].ID,
			addrTopic(token),
			addrTopic(from),
			addrTopic(to),
		},
		Data:        mustPack(t, "DepositRecorded", big.NewInt(12345)),
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xaa"),
		Index:       7,
	}

	ev, err := Decode(log, 1_700_000_000)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	dep, ok := ev.(*DepositRecorded)
	if !ok {
		t.Fatalf("decoded %T, want *DepositRecorded", ev)
	}
	if dep.Token != token || dep.From != from || dep.To != to {
		t.Fatalf("addresses wrong: %+v", dep)
	}
	if dep.Amount.Uint64() != 12345 {
		t.Fatalf("amount = %s, want 12345", dep.Amount)
	}
	coords := dep.Coords()
	if coords.BlockNumber != 100 || coords.LogIndex != 7 || coords.BlockTimestamp != 1_700_000_000 {
		t.Fatalf("coords wrong: %+v", coords)
	}
}

func TestDecodeRailCreated(t *testing.T) {
	railID := big.NewInt(42)
	payer := common.HexToAddress("0x0000000000000000000000000000000000000002")
	payee := common.HexToAddress("0x0000000000000000000000000000000000000003")
	token := common.HexToAddress("0x0000000000000000000000000000000000000001")
	operator := common.HexToAddress("0x0000000000000000000000000000000000000004")
	validator := common.HexToAddress("0x0000000000000000000000000000000000000005")
	feeRecipient := common.HexToAddress("0x0000000000000000000000000000000000000006")

	log := types.Log{
		Topics: []common.Hash{
			ABI().Events["RailCreated"].ID,
			u256Topic(railID),
			addrTopic(payer),
			addrTopic(payee),
		},
		Data: mustPack(t, "RailCreated",
			token, operator, validator, feeRecipient, big.NewInt(250)),
		BlockNumber: 200,
	}

	ev, err := Decode(log, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	created, ok := ev.(*RailCreated)
	if !ok {
		t.Fatalf("decoded %T, want *RailCreated", ev)
	}
	if created.RailID.Uint64() != 42 {
		t.Fatalf("railId = %s, want 42", created.RailID)
	}
	if created.Payer != payer || created.Payee != payee {
		t.Fatalf("parties wrong: %+v", created)
	}
	if created.Token != token || created.Operator != operator {
		t.Fatalf("data addresses wrong: %+v", created)
	}
	if created.Validator != validator || created.ServiceFeeRecipient != feeRecipient {
		t.Fatalf("validator/fee recipient wrong: %+v", created)
	}
	if created.CommissionRateBps != 250 {
		t.Fatalf("commissionRateBps = %d, want 250", created.CommissionRateBps)
	}
}

func TestDecodeRailSettled(t *testing.T) {
	log := types.Log{
		Topics: []common.Hash{
			ABI().Events["RailSettled"].ID,
			u256Topic(big.NewInt(9)),
		},
		Data: mustPack(t, "RailSettled",
			big.NewInt(700), big.NewInt(630), big.NewInt(70), big.NewInt(2), big.NewInt(110)),
	}

	ev, err := Decode(log, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	settled, ok := ev.(*RailSettled)
	if !ok {
		t.Fatalf("decoded %T, want *RailSettled", ev)
	}
	if settled.TotalSettledAmount.Uint64() != 700 ||
		settled.TotalNetPayeeAmount.Uint64() != 630 ||
		settled.OperatorCommission.Uint64() != 70 {
		t.Fatalf("amounts wrong: %+v", settled)
	}
	if settled.NetworkFee.Uint64() != 2 || settled.SettledUpto != 110 {
		t.Fatalf("fee/settledUpto wrong: %+v", settled)
	}
}

func TestDecodeOperatorApprovalUpdated(t *testing.T) {
	log := types.Log{
		Topics: []common.Hash{
			ABI().Events["OperatorApprovalUpdated"].ID,
			addrTopic(common.HexToAddress("0x01")),
			addrTopic(common.HexToAddress("0x02")),
			addrTopic(common.HexToAddress("0x03")),
		},
		Data: mustPack(t, "OperatorApprovalUpdated",
			true, big.NewInt(50), big.NewInt(1000), big.NewInt(10)),
	}

	ev, err := Decode(log, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	approval, ok := ev.(*OperatorApprovalUpdated)
	if !ok {
		t.Fatalf("decoded %T, want *OperatorApprovalUpdated", ev)
	}
	if !approval.Approved {
		t.Fatalf("approved flag lost")
	}
	if approval.RateAllowance.Uint64() != 50 || approval.LockupAllowance.Uint64() != 1000 {
		t.Fatalf("allowances wrong: %+v", approval)
	}
}

func TestDecodeUnknownTopic(t *testing.T) {
	log := types.Log{Topics: []common.Hash{common.HexToHash("0xdeadbeef")}}
	if _, err := Decode(log, 0); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	if _, err := Decode(types.Log{}, 0); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent for empty topics, got %v", err)
	}
}

func TestEventTypeNamesMatchABI(t *testing.T) {
	names := []string{
		TypeDepositRecorded, TypeWithdrawRecorded, TypeOperatorApprovalUpdated,
		TypeAccountLockupSettled, TypeRailCreated, TypeRailRateModified,
		TypeRailLockupModified, TypeRailTerminated, TypeRailSettled,
		TypeRailOneTimePaymentProcessed, TypeRailFinalized,
	}
	for _, name := range names {
		if _, ok := ABI().Events[name]; !ok {
			t.Fatalf("event %s missing from ABI", name)
		}
	}
}
