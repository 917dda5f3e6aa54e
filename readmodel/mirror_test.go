package readmodel

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"gorm.io/gorm"

	"railscan/ledger"
)

func newTestMirror(t *testing.T) *Mirror {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})
	mirror, err := New(db)
	if err != nil {
		t.Fatalf("new mirror: %v", err)
	}
	return mirror
}

func testAddr(fill byte) common.Address {
	var addr common.Address
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestApplyInsertsTouchedEntities(t *testing.T) {
	mirror := newTestMirror(t)

	account := &ledger.Account{Address: testAddr(0x01), TotalRails: 2, TotalTokens: 1}
	token := &ledger.Token{
		Address:       testAddr(0x02),
		Name:          "USD Coin",
		Symbol:        "USDC",
		Decimals:      6,
		TotalDeposits: uint256.NewInt(1000),
		UserFunds:     uint256.NewInt(400),
		TotalUsers:    3,
	}
	if err := mirror.Apply([]any{account, token}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	var accountRow AccountRow
	if err := mirror.db.First(&accountRow, "address = ?", account.Address.Hex()).Error; err != nil {
		t.Fatalf("load account row: %v", err)
	}
	if accountRow.TotalRails != 2 || accountRow.TotalTokens != 1 {
		t.Fatalf("account row = %+v", accountRow)
	}

	var tokenRow TokenRow
	if err := mirror.db.First(&tokenRow, "address = ?", token.Address.Hex()).Error; err != nil {
		t.Fatalf("load token row: %v", err)
	}
	if tokenRow.Symbol != "USDC" || tokenRow.Decimals != 6 {
		t.Fatalf("token row = %+v", tokenRow)
	}
	if tokenRow.TotalDeposits != "1000" || tokenRow.UserFunds != "400" {
		t.Fatalf("token amounts = %q / %q", tokenRow.TotalDeposits, tokenRow.UserFunds)
	}
}

func TestApplyUpsertsOnConflict(t *testing.T) {
	mirror := newTestMirror(t)

	rail := &ledger.Rail{
		ID:          uint256.NewInt(7),
		Payer:       testAddr(0x01),
		Payee:       testAddr(0x02),
		Operator:    testAddr(0x03),
		Token:       testAddr(0x04),
		PaymentRate: uint256.NewInt(10),
		State:       ledger.RailActive,
		CreatedAt:   100,
	}
	if err := mirror.Apply([]any{rail}); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	rail.State = ledger.RailTerminated
	rail.EndEpoch = 150
	rail.TotalSettlements = 3
	if err := mirror.Apply([]any{rail}); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	var count int64
	if err := mirror.db.Model(&RailRow{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("rail rows = %d, want 1", count)
	}

	var row RailRow
	if err := mirror.db.First(&row, "rail_id = ?", "7").Error; err != nil {
		t.Fatalf("load rail row: %v", err)
	}
	if row.State != ledger.RailTerminated.String() || row.EndEpoch != 150 || row.TotalSettlements != 3 {
		t.Fatalf("rail row = %+v", row)
	}
}

func TestApplyCompositeKeyRows(t *testing.T) {
	mirror := newTestMirror(t)

	position := &ledger.UserToken{
		Account: testAddr(0x01),
		Token:   testAddr(0x02),
		Funds:   uint256.NewInt(50),
	}
	sibling := &ledger.UserToken{
		Account: testAddr(0x01),
		Token:   testAddr(0x03),
		Funds:   uint256.NewInt(60),
	}
	if err := mirror.Apply([]any{position, sibling}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	position.Funds = uint256.NewInt(75)
	if err := mirror.Apply([]any{position}); err != nil {
		t.Fatalf("reapply: %v", err)
	}

	var count int64
	if err := mirror.db.Model(&UserTokenRow{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("user token rows = %d, want 2", count)
	}
	var row UserTokenRow
	err := mirror.db.First(&row, "account = ? AND token = ?",
		position.Account.Hex(), position.Token.Hex()).Error
	if err != nil {
		t.Fatalf("load row: %v", err)
	}
	if row.Funds != "75" {
		t.Fatalf("funds = %q, want 75", row.Funds)
	}
}

func TestApplySettlementAndMetrics(t *testing.T) {
	mirror := newTestMirror(t)

	settlement := &ledger.Settlement{
		TxHash:              common.HexToHash("0xaa"),
		LogIndex:            3,
		RailID:              uint256.NewInt(7),
		TotalSettledAmount:  uint256.NewInt(700),
		TotalNetPayeeAmount: uint256.NewInt(630),
		OperatorCommission:  uint256.NewInt(70),
		FilBurned:           uint256.NewInt(2),
		SettledUpto:         110,
	}
	metric := &ledger.PaymentsMetric{
		TotalRails:       1,
		TotalSettlements: 1,
		SettledVolume:    uint256.NewInt(700),
	}
	daily := &ledger.DailyMetric{Day: "2024-05-01", Settlements: 1, SettledVolume: uint256.NewInt(700)}
	if err := mirror.Apply([]any{settlement, metric, daily}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	var settlementRow SettlementRow
	err := mirror.db.First(&settlementRow, "tx_hash = ? AND log_index = ?",
		settlement.TxHash.Hex(), settlement.LogIndex).Error
	if err != nil {
		t.Fatalf("load settlement: %v", err)
	}
	if settlementRow.TotalSettledAmount != "700" || settlementRow.SettledUpto != 110 {
		t.Fatalf("settlement row = %+v", settlementRow)
	}

	// The global metric is a singleton; reapplying must overwrite row 1.
	metric.TotalSettlements = 2
	if err := mirror.Apply([]any{metric}); err != nil {
		t.Fatalf("reapply metric: %v", err)
	}
	var metricRow PaymentsMetricRow
	if err := mirror.db.First(&metricRow, "id = 1").Error; err != nil {
		t.Fatalf("load metric: %v", err)
	}
	if metricRow.TotalSettlements != 2 {
		t.Fatalf("metric settlements = %d, want 2", metricRow.TotalSettlements)
	}

	var dailyRow DailyMetricRow
	if err := mirror.db.First(&dailyRow, "day = ?", "2024-05-01").Error; err != nil {
		t.Fatalf("load daily: %v", err)
	}
	if dailyRow.SettledVolume != "700" {
		t.Fatalf("daily volume = %q", dailyRow.SettledVolume)
	}
}

func TestBlockCommittedIgnoresEmptyBlocks(t *testing.T) {
	mirror := newTestMirror(t)
	if err := mirror.BlockCommitted(42, nil); err != nil {
		t.Fatalf("empty block: %v", err)
	}
	var count int64
	if err := mirror.db.Model(&AccountRow{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("rows = %d, want 0", count)
	}
}
