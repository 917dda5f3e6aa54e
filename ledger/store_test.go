package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"railscan/storage"
)

func testAddress(fill byte) common.Address {
	var addr common.Address
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	token := testAddress(0x01)
	owner := testAddress(0x02)

	tx := store.Begin()
	position, isNew, err := tx.UserTokenOrNew(owner, token)
	if err != nil {
		t.Fatalf("user token or new: %v", err)
	}
	if !isNew {
		t.Fatalf("expected new position")
	}
	position.Funds = uint256.NewInt(500)
	position.LockupRate = uint256.NewInt(3)
	if err := tx.SaveUserToken(position); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	reread := store.Begin()
	got, ok, err := reread.UserToken(owner, token)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatalf("position missing after commit")
	}
	if got.Funds.Uint64() != 500 || got.LockupRate.Uint64() != 3 {
		t.Fatalf("unexpected position %+v", got)
	}
	if got.Account != owner || got.Token != token {
		t.Fatalf("identity fields lost: %+v", got)
	}
}

func TestTxReadsOwnWrites(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	addr := testAddress(0x0A)

	tx := store.Begin()
	account, _, err := tx.AccountOrNew(addr)
	if err != nil {
		t.Fatalf("account or new: %v", err)
	}
	account.TotalRails = 7
	if err := tx.SaveAccount(account); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, isNew, err := tx.AccountOrNew(addr)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if isNew {
		t.Fatalf("expected overlay hit, got new entity")
	}
	if got.TotalRails != 7 {
		t.Fatalf("overlay read lost mutation: %+v", got)
	}

	// Nothing visible outside the transaction before commit.
	outside := store.Begin()
	if _, ok, err := outside.Account(addr); err != nil || ok {
		t.Fatalf("uncommitted write leaked: ok=%v err=%v", ok, err)
	}
}

func TestCheckpointCommitsWithEntities(t *testing.T) {
	store := NewStore(storage.NewMemDB())

	if _, ok, err := store.Checkpoint(); err != nil || ok {
		t.Fatalf("expected no checkpoint on fresh store: ok=%v err=%v", ok, err)
	}

	tx := store.Begin()
	account, _, err := tx.AccountOrNew(testAddress(0x01))
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if err := tx.SaveAccount(account); err != nil {
		t.Fatalf("save: %v", err)
	}
	tx.SetCheckpoint(42)
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	block, ok, err := store.Checkpoint()
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if !ok || block != 42 {
		t.Fatalf("checkpoint = (%d, %v), want (42, true)", block, ok)
	}
}

func TestRailRoundTripPreservesState(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	id := uint256.NewInt(9)

	tx := store.Begin()
	rail := &Rail{
		ID:          id,
		Payer:       testAddress(0x01),
		Payee:       testAddress(0x02),
		Token:       testAddress(0x03),
		Operator:    testAddress(0x04),
		State:       RailTerminated,
		PaymentRate: uint256.NewInt(11),
		EndEpoch:    77,
	}
	if err := tx.SaveRail(rail); err != nil {
		t.Fatalf("save rail: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, ok, err := store.Begin().Rail(id)
	if err != nil || !ok {
		t.Fatalf("load rail: ok=%v err=%v", ok, err)
	}
	if got.State != RailTerminated || got.EndEpoch != 77 {
		t.Fatalf("rail state lost: %+v", got)
	}
	if !got.Terminal() {
		t.Fatalf("terminated rail should be terminal")
	}
}

func TestSeenMarkersPersist(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	payer := testAddress(0x05)

	tx := store.Begin()
	seen, err := tx.PayerSeen(payer)
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	if seen {
		t.Fatalf("payer should be unseen")
	}
	if err := tx.MarkPayerSeen(payer); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if seen, err = tx.PayerSeen(payer); err != nil || !seen {
		t.Fatalf("marker not visible in overlay: seen=%v err=%v", seen, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if seen, err = store.Begin().PayerSeen(payer); err != nil || !seen {
		t.Fatalf("marker not persisted: seen=%v err=%v", seen, err)
	}
}

func TestTouchedRecordsSaveOrder(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	tx := store.Begin()

	account, _, err := tx.AccountOrNew(testAddress(0x01))
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if err := tx.SaveAccount(account); err != nil {
		t.Fatalf("save account: %v", err)
	}
	token := &Token{Address: testAddress(0x02), Decimals: 18}
	if err := tx.SaveToken(token); err != nil {
		t.Fatalf("save token: %v", err)
	}

	touched := tx.Touched()
	if len(touched) != 2 {
		t.Fatalf("touched = %d entities, want 2", len(touched))
	}
	if _, ok := touched[0].(*Account); !ok {
		t.Fatalf("first touched entity is %T, want *Account", touched[0])
	}
	if _, ok := touched[1].(*Token); !ok {
		t.Fatalf("second touched entity is %T, want *Token", touched[1])
	}
}
