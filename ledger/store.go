package ledger

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"railscan/storage"
)

// Store provides typed entity persistence over a key-value database. All
// mutations go through a Tx so a block of events is committed atomically;
// handlers never issue deletes.
type Store struct {
	db storage.Database
}

func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Begin opens a buffered transaction. Reads see the overlay first, then the
// underlying database; nothing is persisted until Commit.
func (s *Store) Begin() *Tx {
	return &Tx{
		db:      s.db,
		overlay: make(map[string][]byte),
	}
}

// Checkpoint returns the last fully processed block number, if any.
func (s *Store) Checkpoint() (uint64, bool, error) {
	raw, err := s.db.Get(CheckpointKey())
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("ledger: malformed checkpoint value")
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

// Tx buffers entity writes for one unit of work. Commit applies them as a
// single atomic batch.
type Tx struct {
	db      storage.Database
	overlay map[string][]byte
	order   []string
	touched []any
}

func (tx *Tx) load(k []byte, v any) (bool, error) {
	raw, ok := tx.overlay[string(k)]
	if !ok {
		var err error
		raw, err = tx.db.Get(k)
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("ledger: decode entity: %w", err)
	}
	return true, nil
}

func (tx *Tx) save(k []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ledger: encode entity: %w", err)
	}
	sk := string(k)
	if _, exists := tx.overlay[sk]; !exists {
		tx.order = append(tx.order, sk)
	}
	tx.overlay[sk] = raw
	tx.touched = append(tx.touched, v)
	return nil
}

func (tx *Tx) has(k []byte) (bool, error) {
	if _, ok := tx.overlay[string(k)]; ok {
		return true, nil
	}
	return tx.db.Has(k)
}

// SetCheckpoint records the last fully processed block inside the same
// atomic batch as the entity mutations it covers.
func (tx *Tx) SetCheckpoint(block uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], block)
	sk := string(CheckpointKey())
	if _, exists := tx.overlay[sk]; !exists {
		tx.order = append(tx.order, sk)
	}
	tx.overlay[sk] = buf[:]
}

// Commit writes the buffered mutations in insertion order as one batch.
func (tx *Tx) Commit() error {
	if len(tx.order) == 0 {
		return nil
	}
	writes := make([]storage.BatchWrite, 0, len(tx.order))
	for _, sk := range tx.order {
		writes = append(writes, storage.BatchWrite{Key: []byte(sk), Value: tx.overlay[sk]})
	}
	return tx.db.WriteBatch(writes)
}

// Touched returns every entity saved in this transaction, in save order with
// duplicates, for downstream mirrors.
func (tx *Tx) Touched() []any {
	return tx.touched
}

// --- accounts ---

func (tx *Tx) Account(addr common.Address) (*Account, bool, error) {
	var a Account
	ok, err := tx.load(AccountKey(addr), &a)
	if err != nil || !ok {
		return nil, false, err
	}
	return &a, true, nil
}

// AccountOrNew loads the account or returns a fresh one. The second result
// reports whether the account is new; the caller still has to save it.
func (tx *Tx) AccountOrNew(addr common.Address) (*Account, bool, error) {
	a, ok, err := tx.Account(addr)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return a, false, nil
	}
	return &Account{Address: addr}, true, nil
}

func (tx *Tx) SaveAccount(a *Account) error {
	return tx.save(AccountKey(a.Address), a)
}

// --- tokens ---

func (tx *Tx) Token(addr common.Address) (*Token, bool, error) {
	var t Token
	ok, err := tx.load(TokenKey(addr), &t)
	if err != nil || !ok {
		return nil, false, err
	}
	return t.sanitize(), true, nil
}

func (tx *Tx) SaveToken(t *Token) error {
	return tx.save(TokenKey(t.Address), t.sanitize())
}

// --- user tokens ---

func (tx *Tx) UserToken(account, token common.Address) (*UserToken, bool, error) {
	var ut UserToken
	ok, err := tx.load(UserTokenKey(account, token), &ut)
	if err != nil || !ok {
		return nil, false, err
	}
	return ut.sanitize(), true, nil
}

func (tx *Tx) UserTokenOrNew(account, token common.Address) (*UserToken, bool, error) {
	ut, ok, err := tx.UserToken(account, token)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return ut, false, nil
	}
	fresh := &UserToken{Account: account, Token: token}
	return fresh.sanitize(), true, nil
}

func (tx *Tx) SaveUserToken(ut *UserToken) error {
	return tx.save(UserTokenKey(ut.Account, ut.Token), ut.sanitize())
}

// --- operators ---

func (tx *Tx) Operator(addr common.Address) (*Operator, bool, error) {
	var o Operator
	ok, err := tx.load(OperatorKey(addr), &o)
	if err != nil || !ok {
		return nil, false, err
	}
	return &o, true, nil
}

func (tx *Tx) OperatorOrNew(addr common.Address) (*Operator, bool, error) {
	o, ok, err := tx.Operator(addr)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return o, false, nil
	}
	return &Operator{Address: addr}, true, nil
}

func (tx *Tx) SaveOperator(o *Operator) error {
	return tx.save(OperatorKey(o.Address), o)
}

// --- operator approvals ---

func (tx *Tx) OperatorApproval(client, operator, token common.Address) (*OperatorApproval, bool, error) {
	var oa OperatorApproval
	ok, err := tx.load(OperatorApprovalKey(client, operator, token), &oa)
	if err != nil || !ok {
		return nil, false, err
	}
	return oa.sanitize(), true, nil
}

func (tx *Tx) OperatorApprovalOrNew(client, operator, token common.Address) (*OperatorApproval, bool, error) {
	oa, ok, err := tx.OperatorApproval(client, operator, token)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return oa, false, nil
	}
	fresh := &OperatorApproval{Client: client, Operator: operator, Token: token}
	return fresh.sanitize(), true, nil
}

func (tx *Tx) SaveOperatorApproval(oa *OperatorApproval) error {
	return tx.save(OperatorApprovalKey(oa.Client, oa.Operator, oa.Token), oa.sanitize())
}

// --- operator tokens ---

func (tx *Tx) OperatorToken(operator, token common.Address) (*OperatorToken, bool, error) {
	var ot OperatorToken
	ok, err := tx.load(OperatorTokenKey(operator, token), &ot)
	if err != nil || !ok {
		return nil, false, err
	}
	return ot.sanitize(), true, nil
}

func (tx *Tx) OperatorTokenOrNew(operator, token common.Address) (*OperatorToken, bool, error) {
	ot, ok, err := tx.OperatorToken(operator, token)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return ot, false, nil
	}
	fresh := &OperatorToken{Operator: operator, Token: token}
	return fresh.sanitize(), true, nil
}

func (tx *Tx) SaveOperatorToken(ot *OperatorToken) error {
	return tx.save(OperatorTokenKey(ot.Operator, ot.Token), ot.sanitize())
}

// --- rails ---

func (tx *Tx) Rail(id *uint256.Int) (*Rail, bool, error) {
	var r Rail
	ok, err := tx.load(RailKey(id), &r)
	if err != nil || !ok {
		return nil, false, err
	}
	return r.sanitize(), true, nil
}

func (tx *Tx) SaveRail(r *Rail) error {
	return tx.save(RailKey(r.ID), r.sanitize())
}

// --- rate change queue ---

func (tx *Tx) RateChangeSegment(railID *uint256.Int, startEpoch uint64) (*RateChangeSegment, bool, error) {
	var seg RateChangeSegment
	ok, err := tx.load(RateChangeKey(railID, startEpoch), &seg)
	if err != nil || !ok {
		return nil, false, err
	}
	return &seg, true, nil
}

func (tx *Tx) SaveRateChangeSegment(seg *RateChangeSegment) error {
	return tx.save(RateChangeKey(seg.RailID, seg.StartEpoch), seg)
}

// --- settlements / one-time payments ---

func (tx *Tx) Settlement(txHash common.Hash, logIndex uint) (*Settlement, bool, error) {
	var s Settlement
	ok, err := tx.load(SettlementKey(txHash, logIndex), &s)
	if err != nil || !ok {
		return nil, false, err
	}
	return &s, true, nil
}

func (tx *Tx) SaveSettlement(s *Settlement) error {
	return tx.save(SettlementKey(s.TxHash, s.LogIndex), s)
}

func (tx *Tx) OneTimePayment(txHash common.Hash, logIndex uint) (*OneTimePayment, bool, error) {
	var p OneTimePayment
	ok, err := tx.load(OneTimePaymentKey(txHash, logIndex), &p)
	if err != nil || !ok {
		return nil, false, err
	}
	return &p, true, nil
}

func (tx *Tx) SaveOneTimePayment(p *OneTimePayment) error {
	return tx.save(OneTimePaymentKey(p.TxHash, p.LogIndex), p)
}

// --- metric buckets ---

func (tx *Tx) PaymentsMetricOrNew() (*PaymentsMetric, error) {
	var m PaymentsMetric
	ok, err := tx.load(PaymentsMetricKey(), &m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return (&PaymentsMetric{}).sanitize(), nil
	}
	return m.sanitize(), nil
}

func (tx *Tx) SavePaymentsMetric(m *PaymentsMetric) error {
	return tx.save(PaymentsMetricKey(), m.sanitize())
}

func (tx *Tx) DailyMetricOrNew(day string) (*DailyMetric, error) {
	var m DailyMetric
	ok, err := tx.load(DailyMetricKey(day), &m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return (&DailyMetric{Day: day}).sanitize(), nil
	}
	return m.sanitize(), nil
}

func (tx *Tx) SaveDailyMetric(m *DailyMetric) error {
	return tx.save(DailyMetricKey(m.Day), m.sanitize())
}

func (tx *Tx) WeeklyMetricOrNew(week uint64) (*WeeklyMetric, error) {
	var m WeeklyMetric
	ok, err := tx.load(WeeklyMetricKey(week), &m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return (&WeeklyMetric{Week: week}).sanitize(), nil
	}
	return m.sanitize(), nil
}

func (tx *Tx) SaveWeeklyMetric(m *WeeklyMetric) error {
	return tx.save(WeeklyMetricKey(m.Week), m.sanitize())
}

func (tx *Tx) DailyTokenMetricOrNew(day string, token common.Address) (*DailyTokenMetric, error) {
	var m DailyTokenMetric
	ok, err := tx.load(DailyTokenMetricKey(day, token), &m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return (&DailyTokenMetric{Day: day, Token: token}).sanitize(), nil
	}
	return m.sanitize(), nil
}

func (tx *Tx) SaveDailyTokenMetric(m *DailyTokenMetric) error {
	return tx.save(DailyTokenMetricKey(m.Day, m.Token), m.sanitize())
}

func (tx *Tx) DailyOperatorMetricOrNew(day string, operator common.Address) (*DailyOperatorMetric, error) {
	var m DailyOperatorMetric
	ok, err := tx.load(DailyOperatorMetricKey(day, operator), &m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return (&DailyOperatorMetric{Day: day, Operator: operator}).sanitize(), nil
	}
	return m.sanitize(), nil
}

func (tx *Tx) SaveDailyOperatorMetric(m *DailyOperatorMetric) error {
	return tx.save(DailyOperatorMetricKey(m.Day, m.Operator), m.sanitize())
}

// --- unique role markers ---

func (tx *Tx) PayerSeen(addr common.Address) (bool, error) { return tx.has(PayerSeenKey(addr)) }

func (tx *Tx) MarkPayerSeen(addr common.Address) error {
	return tx.save(PayerSeenKey(addr), struct{}{})
}

func (tx *Tx) PayeeSeen(addr common.Address) (bool, error) { return tx.has(PayeeSeenKey(addr)) }

func (tx *Tx) MarkPayeeSeen(addr common.Address) error {
	return tx.save(PayeeSeenKey(addr), struct{}{})
}
