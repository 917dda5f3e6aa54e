package ingest

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"railscan/engine"
	"railscan/events"
	"railscan/ledger"
	"railscan/storage"
)

type fakeSource struct {
	head       uint64
	logs       []gethtypes.Log
	timestamps map[uint64]uint64
	ranges     [][2]uint64
}

func (f *fakeSource) HeadBlock(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeSource) FilterLogs(_ context.Context, from, to uint64) ([]gethtypes.Log, error) {
	f.ranges = append(f.ranges, [2]uint64{from, to})
	var out []gethtypes.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *fakeSource) BlockTimestamp(_ context.Context, block uint64) (uint64, error) {
	if ts, ok := f.timestamps[block]; ok {
		return ts, nil
	}
	return 1_700_000_000 + block, nil
}

func depositLog(t *testing.T, block uint64, index uint, to common.Address, amount int64) gethtypes.Log {
	t.Helper()
	data, err := events.ABI().Events["DepositRecorded"].Inputs.NonIndexed().Pack(big.NewInt(amount))
	if err != nil {
		t.Fatalf("pack deposit: %v", err)
	}
	token := common.HexToAddress("0x0000000000000000000000000000000000000001")
	return gethtypes.Log{
		Topics: []common.Hash{
			events.ABI().Events["DepositRecorded"].ID,
			common.BytesToHash(token.Bytes()),
			common.BytesToHash(to.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BytesToHash([]byte{byte(block), byte(index)}),
		Index:       index,
	}
}

func newRunnerEnv(source *fakeSource, opts Options) (*Runner, *ledger.Store) {
	store := ledger.NewStore(storage.NewMemDB())
	eng := engine.New(store, nil, nil)
	return NewRunner(source, eng, store, nil, opts), store
}

func TestSyncAppliesConfirmedLogs(t *testing.T) {
	owner := common.HexToAddress("0x0000000000000000000000000000000000000002")
	source := &fakeSource{
		head: 120,
		logs: []gethtypes.Log{
			depositLog(t, 100, 0, owner, 40),
			depositLog(t, 105, 0, owner, 60),
		},
	}
	runner, store := newRunnerEnv(source, Options{StartBlock: 100, Confirmations: 10})

	if err := runner.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	block, ok, err := store.Checkpoint()
	if err != nil || !ok {
		t.Fatalf("checkpoint: ok=%v err=%v", ok, err)
	}
	if block != 110 {
		t.Fatalf("checkpoint = %d, want head-confirmations = 110", block)
	}

	token := common.HexToAddress("0x0000000000000000000000000000000000000001")
	position, ok, err := store.Begin().UserToken(owner, token)
	if err != nil || !ok {
		t.Fatalf("position: ok=%v err=%v", ok, err)
	}
	if position.Funds.Uint64() != 100 {
		t.Fatalf("funds = %s, want 100", position.Funds)
	}
}

func TestSyncStaysBehindConfirmationWindow(t *testing.T) {
	owner := common.HexToAddress("0x0000000000000000000000000000000000000002")
	source := &fakeSource{
		head: 120,
		logs: []gethtypes.Log{
			depositLog(t, 115, 0, owner, 999),
		},
	}
	runner, store := newRunnerEnv(source, Options{StartBlock: 100, Confirmations: 10})

	if err := runner.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	token := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if _, ok, _ := store.Begin().UserToken(owner, token); ok {
		t.Fatalf("log inside confirmation window must not be applied yet")
	}

	// Once the head advances past the window the log lands.
	source.head = 130
	if err := runner.Sync(context.Background()); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	position, ok, err := store.Begin().UserToken(owner, token)
	if err != nil || !ok {
		t.Fatalf("position after window: ok=%v err=%v", ok, err)
	}
	if position.Funds.Uint64() != 999 {
		t.Fatalf("funds = %s, want 999", position.Funds)
	}
}

func TestSyncAppliesLogsInOrderWithinBlock(t *testing.T) {
	owner := common.HexToAddress("0x0000000000000000000000000000000000000002")
	first := depositLog(t, 100, 0, owner, 10)
	second := depositLog(t, 100, 1, owner, 20)
	source := &fakeSource{
		head: 112,
		// Delivered out of order; the runner must sort by log index.
		logs: []gethtypes.Log{second, first},
	}
	runner, store := newRunnerEnv(source, Options{StartBlock: 100, Confirmations: 12})

	if err := runner.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	token := common.HexToAddress("0x0000000000000000000000000000000000000001")
	position, ok, err := store.Begin().UserToken(owner, token)
	if err != nil || !ok {
		t.Fatalf("position: ok=%v err=%v", ok, err)
	}
	if position.Funds.Cmp(uint256.NewInt(30)) != 0 {
		t.Fatalf("funds = %s, want 30", position.Funds)
	}
}

func TestSyncResumesFromCheckpoint(t *testing.T) {
	owner := common.HexToAddress("0x0000000000000000000000000000000000000002")
	source := &fakeSource{
		head: 220,
		logs: []gethtypes.Log{depositLog(t, 150, 0, owner, 5)},
	}
	runner, _ := newRunnerEnv(source, Options{StartBlock: 100, Confirmations: 20, BatchBlocks: 50})

	if err := runner.Sync(context.Background()); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if len(source.ranges) == 0 || source.ranges[0][0] != 100 {
		t.Fatalf("first scan should start at StartBlock, got %v", source.ranges)
	}

	source.ranges = nil
	if err := runner.Sync(context.Background()); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if len(source.ranges) != 0 {
		t.Fatalf("caught-up sync should not rescan, got %v", source.ranges)
	}

	source.head = 260
	source.ranges = nil
	if err := runner.Sync(context.Background()); err != nil {
		t.Fatalf("third sync: %v", err)
	}
	if len(source.ranges) == 0 || source.ranges[0][0] != 201 {
		t.Fatalf("resume should continue after checkpoint, got %v", source.ranges)
	}
}

func TestSyncHonoursBatchSize(t *testing.T) {
	source := &fakeSource{head: 300}
	runner, _ := newRunnerEnv(source, Options{StartBlock: 0, Confirmations: 100, BatchBlocks: 50})

	if err := runner.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	want := [][2]uint64{{0, 49}, {50, 99}, {100, 149}, {150, 199}, {200, 200}}
	if len(source.ranges) != len(want) {
		t.Fatalf("ranges = %v, want %v", source.ranges, want)
	}
	for i, r := range want {
		if source.ranges[i] != r {
			t.Fatalf("range[%d] = %v, want %v", i, source.ranges[i], r)
		}
	}
}

func TestSyncSkipsRemovedAndUnknownLogs(t *testing.T) {
	owner := common.HexToAddress("0x0000000000000000000000000000000000000002")
	removed := depositLog(t, 100, 0, owner, 77)
	removed.Removed = true
	unknown := gethtypes.Log{
		Topics:      []common.Hash{common.HexToHash("0xdeadbeef")},
		BlockNumber: 101,
	}
	source := &fakeSource{head: 150, logs: []gethtypes.Log{removed, unknown}}
	runner, store := newRunnerEnv(source, Options{StartBlock: 100, Confirmations: 10})

	if err := runner.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	token := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if _, ok, _ := store.Begin().UserToken(owner, token); ok {
		t.Fatalf("removed log must not be applied")
	}
	block, _, err := store.Checkpoint()
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if block != 140 {
		t.Fatalf("checkpoint = %d, want 140", block)
	}
}
