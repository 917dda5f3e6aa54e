package ledger

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Entity keys are deterministic byte concatenations of the natural keys so
// re-deriving state from the same event stream is idempotent. The first byte
// namespaces the entity kind.
const (
	prefixAccount byte = iota + 1
	prefixToken
	prefixUserToken
	prefixOperator
	prefixOperatorApproval
	prefixOperatorToken
	prefixRail
	prefixRateChange
	prefixSettlement
	prefixOneTimePayment
	prefixPaymentsMetric
	prefixDailyMetric
	prefixWeeklyMetric
	prefixDailyTokenMetric
	prefixDailyOperatorMetric
	prefixPayerSeen
	prefixPayeeSeen
	prefixCheckpoint
)

func key(prefix byte, parts ...[]byte) []byte {
	size := 1
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 1, size)
	out[0] = prefix
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func epochBytes(epoch uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], epoch)
	return buf[:]
}

func railIDBytes(id *uint256.Int) []byte {
	b := orZero(id).Bytes32()
	return b[:]
}

func AccountKey(addr common.Address) []byte { return key(prefixAccount, addr.Bytes()) }

func TokenKey(addr common.Address) []byte { return key(prefixToken, addr.Bytes()) }

func UserTokenKey(account, token common.Address) []byte {
	return key(prefixUserToken, account.Bytes(), token.Bytes())
}

func OperatorKey(addr common.Address) []byte { return key(prefixOperator, addr.Bytes()) }

func OperatorApprovalKey(client, operator, token common.Address) []byte {
	return key(prefixOperatorApproval, client.Bytes(), operator.Bytes(), token.Bytes())
}

func OperatorTokenKey(operator, token common.Address) []byte {
	return key(prefixOperatorToken, operator.Bytes(), token.Bytes())
}

func RailKey(id *uint256.Int) []byte { return key(prefixRail, railIDBytes(id)) }

// RateChangeKey orders segments by start epoch via big-endian encoding.
func RateChangeKey(railID *uint256.Int, startEpoch uint64) []byte {
	return key(prefixRateChange, railIDBytes(railID), epochBytes(startEpoch))
}

func SettlementKey(txHash common.Hash, logIndex uint) []byte {
	return key(prefixSettlement, txHash.Bytes(), epochBytes(uint64(logIndex)))
}

func OneTimePaymentKey(txHash common.Hash, logIndex uint) []byte {
	return key(prefixOneTimePayment, txHash.Bytes(), epochBytes(uint64(logIndex)))
}

func PaymentsMetricKey() []byte { return key(prefixPaymentsMetric) }

func DailyMetricKey(day string) []byte { return key(prefixDailyMetric, []byte(day)) }

func WeeklyMetricKey(week uint64) []byte { return key(prefixWeeklyMetric, epochBytes(week)) }

func DailyTokenMetricKey(day string, token common.Address) []byte {
	return key(prefixDailyTokenMetric, []byte(day), token.Bytes())
}

func DailyOperatorMetricKey(day string, operator common.Address) []byte {
	return key(prefixDailyOperatorMetric, []byte(day), operator.Bytes())
}

func PayerSeenKey(addr common.Address) []byte { return key(prefixPayerSeen, addr.Bytes()) }

func PayeeSeenKey(addr common.Address) []byte { return key(prefixPayeeSeen, addr.Bytes()) }

// CheckpointKey stores the last fully processed block number.
func CheckpointKey() []byte { return key(prefixCheckpoint) }
