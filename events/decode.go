package events

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// ErrUnknownEvent marks logs whose topic is not part of the payments ABI.
// Callers skip these without stopping the stream.
var ErrUnknownEvent = errors.New("events: unknown event topic")

const paymentsABIJSON = `[
  {"type":"event","name":"DepositRecorded","inputs":[
    {"name":"token","type":"address","indexed":true},
    {"name":"from","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"WithdrawRecorded","inputs":[
    {"name":"token","type":"address","indexed":true},
    {"name":"from","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"OperatorApprovalUpdated","inputs":[
    {"name":"token","type":"address","indexed":true},
    {"name":"client","type":"address","indexed":true},
    {"name":"operator","type":"address","indexed":true},
    {"name":"approved","type":"bool","indexed":false},
    {"name":"rateAllowance","type":"uint256","indexed":false},
    {"name":"lockupAllowance","type":"uint256","indexed":false},
    {"name":"maxLockupPeriod","type":"uint256","indexed":false}]},
  {"type":"event","name":"AccountLockupSettled","inputs":[
    {"name":"token","type":"address","indexed":true},
    {"name":"owner","type":"address","indexed":true},
    {"name":"lockupCurrent","type":"uint256","indexed":false},
    {"name":"lockupRate","type":"uint256","indexed":false},
    {"name":"lockupLastSettledAt","type":"uint256","indexed":false}]},
  {"type":"event","name":"RailCreated","inputs":[
    {"name":"railId","type":"uint256","indexed":true},
    {"name":"payer","type":"address","indexed":true},
    {"name":"payee","type":"address","indexed":true},
    {"name":"token","type":"address","indexed":false},
    {"name":"operator","type":"address","indexed":false},
    {"name":"validator","type":"address","indexed":false},
    {"name":"serviceFeeRecipient","type":"address","indexed":false},
    {"name":"commissionRateBps","type":"uint256","indexed":false}]},
  {"type":"event","name":"RailRateModified","inputs":[
    {"name":"railId","type":"uint256","indexed":true},
    {"name":"oldRate","type":"uint256","indexed":false},
    {"name":"newRate","type":"uint256","indexed":false}]},
  {"type":"event","name":"RailLockupModified","inputs":[
    {"name":"railId","type":"uint256","indexed":true},
    {"name":"oldLockupPeriod","type":"uint256","indexed":false},
    {"name":"newLockupPeriod","type":"uint256","indexed":false},
    {"name":"oldLockupFixed","type":"uint256","indexed":false},
    {"name":"newLockupFixed","type":"uint256","indexed":false}]},
  {"type":"event","name":"RailTerminated","inputs":[
    {"name":"railId","type":"uint256","indexed":true},
    {"name":"by","type":"address","indexed":true},
    {"name":"endEpoch","type":"uint256","indexed":false}]},
  {"type":"event","name":"RailSettled","inputs":[
    {"name":"railId","type":"uint256","indexed":true},
    {"name":"totalSettledAmount","type":"uint256","indexed":false},
    {"name":"totalNetPayeeAmount","type":"uint256","indexed":false},
    {"name":"operatorCommission","type":"uint256","indexed":false},
    {"name":"networkFee","type":"uint256","indexed":false},
    {"name":"settledUpto","type":"uint256","indexed":false}]},
  {"type":"event","name":"RailOneTimePaymentProcessed","inputs":[
    {"name":"railId","type":"uint256","indexed":true},
    {"name":"netPayeeAmount","type":"uint256","indexed":false},
    {"name":"operatorCommission","type":"uint256","indexed":false},
    {"name":"networkFee","type":"uint256","indexed":false}]},
  {"type":"event","name":"RailFinalized","inputs":[
    {"name":"railId","type":"uint256","indexed":true}]}
]`

var (
	paymentsABI  abi.ABI
	topicToEvent map[common.Hash]string
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(paymentsABIJSON))
	if err != nil {
		panic(fmt.Sprintf("events: parse payments ABI: %v", err))
	}
	paymentsABI = parsed
	topicToEvent = make(map[common.Hash]string, len(paymentsABI.Events))
	for name, ev := range paymentsABI.Events {
		topicToEvent[ev.ID] = name
	}
}

// ABI exposes the parsed payments contract ABI, e.g. for tests that need to
// construct raw logs.
func ABI() abi.ABI { return paymentsABI }

// Decode converts a raw contract log into a typed event. It is a pure
// function of the log plus the block timestamp the log source resolved for
// the log's block. Logs with unknown topics return ErrUnknownEvent.
func Decode(log types.Log, blockTimestamp uint64) (Event, error) {
	if len(log.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	name, ok := topicToEvent[log.Topics[0]]
	if !ok {
		return nil, ErrUnknownEvent
	}
	data, err := unpackData(name, log.Data)
	if err != nil {
		return nil, err
	}
	raw := Raw{
		Emitter:        log.Address,
		BlockNumber:    log.BlockNumber,
		BlockTimestamp: blockTimestamp,
		TxHash:         log.TxHash,
		LogIndex:       log.Index,
	}

	switch name {
	case TypeDepositRecorded:
		return &DepositRecorded{
			Raw:    raw,
			Token:  topicAddr(log, 1),
			From:   topicAddr(log, 2),
			To:     topicAddr(log, 3),
			Amount: data.amount("amount"),
		}, nil
	case TypeWithdrawRecorded:
		return &WithdrawRecorded{
			Raw:    raw,
			Token:  topicAddr(log, 1),
			From:   topicAddr(log, 2),
			To:     topicAddr(log, 3),
			Amount: data.amount("amount"),
		}, nil
	case TypeOperatorApprovalUpdated:
		return &OperatorApprovalUpdated{
			Raw:             raw,
			Token:           topicAddr(log, 1),
			Client:          topicAddr(log, 2),
			Operator:        topicAddr(log, 3),
			Approved:        data.boolean("approved"),
			RateAllowance:   data.amount("rateAllowance"),
			LockupAllowance: data.amount("lockupAllowance"),
			MaxLockupPeriod: data.amount("maxLockupPeriod"),
		}, nil
	case TypeAccountLockupSettled:
		return &AccountLockupSettled{
			Raw:                 raw,
			Token:               topicAddr(log, 1),
			Owner:               topicAddr(log, 2),
			LockupCurrent:       data.amount("lockupCurrent"),
			LockupRate:          data.amount("lockupRate"),
			LockupLastSettledAt: data.epoch("lockupLastSettledAt"),
		}, nil
	case TypeRailCreated:
		return &RailCreated{
			Raw:                 raw,
			RailID:              topicU256(log, 1),
			Payer:               topicAddr(log, 2),
			Payee:               topicAddr(log, 3),
			Token:               data.address("token"),
			Operator:            data.address("operator"),
			Validator:           data.address("validator"),
			ServiceFeeRecipient: data.address("serviceFeeRecipient"),
			CommissionRateBps:   data.epoch("commissionRateBps"),
		}, nil
	case TypeRailRateModified:
		return &RailRateModified{
			Raw:     raw,
			RailID:  topicU256(log, 1),
			OldRate: data.amount("oldRate"),
			NewRate: data.amount("newRate"),
		}, nil
	case TypeRailLockupModified:
		return &RailLockupModified{
			Raw:             raw,
			RailID:          topicU256(log, 1),
			OldLockupPeriod: data.amount("oldLockupPeriod"),
			NewLockupPeriod: data.amount("newLockupPeriod"),
			OldLockupFixed:  data.amount("oldLockupFixed"),
			NewLockupFixed:  data.amount("newLockupFixed"),
		}, nil
	case TypeRailTerminated:
		return &RailTerminated{
			Raw:      raw,
			RailID:   topicU256(log, 1),
			By:       topicAddr(log, 2),
			EndEpoch: data.epoch("endEpoch"),
		}, nil
	case TypeRailSettled:
		return &RailSettled{
			Raw:                 raw,
			RailID:              topicU256(log, 1),
			TotalSettledAmount:  data.amount("totalSettledAmount"),
			TotalNetPayeeAmount: data.amount("totalNetPayeeAmount"),
			OperatorCommission:  data.amount("operatorCommission"),
			NetworkFee:          data.amount("networkFee"),
			SettledUpto:         data.epoch("settledUpto"),
		}, nil
	case TypeRailOneTimePaymentProcessed:
		return &RailOneTimePaymentProcessed{
			Raw:                raw,
			RailID:             topicU256(log, 1),
			NetPayeeAmount:     data.amount("netPayeeAmount"),
			OperatorCommission: data.amount("operatorCommission"),
			NetworkFee:         data.amount("networkFee"),
		}, nil
	case TypeRailFinalized:
		return &RailFinalized{
			Raw:    raw,
			RailID: topicU256(log, 1),
		}, nil
	}
	return nil, ErrUnknownEvent
}

type decoded map[string]interface{}

func unpackData(name string, data []byte) (decoded, error) {
	ev, ok := paymentsABI.Events[name]
	if !ok {
		return nil, ErrUnknownEvent
	}
	out := make(map[string]interface{})
	if err := ev.Inputs.NonIndexed().UnpackIntoMap(out, data); err != nil {
		return nil, fmt.Errorf("events: unpack %s: %w", name, err)
	}
	return out, nil
}

func (d decoded) amount(key string) *uint256.Int {
	v, ok := d[key].(*big.Int)
	if !ok || v == nil {
		return uint256.NewInt(0)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return uint256.NewInt(0)
	}
	return out
}

func (d decoded) epoch(key string) uint64 {
	v, ok := d[key].(*big.Int)
	if !ok || v == nil || !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}

func (d decoded) boolean(key string) bool {
	v, _ := d[key].(bool)
	return v
}

func (d decoded) address(key string) common.Address {
	v, _ := d[key].(common.Address)
	return v
}

func topicAddr(log types.Log, i int) common.Address {
	if i >= len(log.Topics) {
		return common.Address{}
	}
	return common.BytesToAddress(log.Topics[i].Bytes())
}

func topicU256(log types.Log, i int) *uint256.Int {
	if i >= len(log.Topics) {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).SetBytes(log.Topics[i].Bytes())
}
