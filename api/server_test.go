package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"railscan/ledger"
	"railscan/storage"
)

func testAddress(fill byte) common.Address {
	var addr common.Address
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func newTestServer(t *testing.T) (*Server, *ledger.Store) {
	t.Helper()
	store := ledger.NewStore(storage.NewMemDB())
	return New(store, nil, nil, nil), store
}

func seedLedger(t *testing.T, store *ledger.Store) {
	t.Helper()
	tx := store.Begin()

	account, _, err := tx.AccountOrNew(testAddress(0x01))
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	account.TotalRails = 2
	if err := tx.SaveAccount(account); err != nil {
		t.Fatalf("save account: %v", err)
	}

	token := &ledger.Token{
		Address:   testAddress(0x02),
		Name:      "USD Coin",
		Symbol:    "USDC",
		Decimals:  6,
		UserFunds: uint256.NewInt(500),
	}
	if err := tx.SaveToken(token); err != nil {
		t.Fatalf("save token: %v", err)
	}

	position, _, err := tx.UserTokenOrNew(testAddress(0x01), testAddress(0x02))
	if err != nil {
		t.Fatalf("user token: %v", err)
	}
	position.Funds = uint256.NewInt(500)
	if err := tx.SaveUserToken(position); err != nil {
		t.Fatalf("save user token: %v", err)
	}

	rail := &ledger.Rail{
		ID:          uint256.NewInt(7),
		Payer:       testAddress(0x01),
		Payee:       testAddress(0x03),
		Operator:    testAddress(0x04),
		Token:       testAddress(0x02),
		PaymentRate: uint256.NewInt(10),
		State:       ledger.RailActive,
		CreatedAt:   100,
	}
	if err := tx.SaveRail(rail); err != nil {
		t.Fatalf("save rail: %v", err)
	}

	metric, err := tx.PaymentsMetricOrNew()
	if err != nil {
		t.Fatalf("metric: %v", err)
	}
	metric.TotalRails = 1
	if err := tx.SavePaymentsMetric(metric); err != nil {
		t.Fatalf("save metric: %v", err)
	}

	tx.SetCheckpoint(110)
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func TestHealthAndStatus(t *testing.T) {
	server, store := newTestServer(t)
	seedLedger(t, store)

	rec := get(t, server.Handler(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}

	rec = get(t, server.Handler(), "/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var status struct {
		CheckpointBlock uint64 `json:"checkpointBlock"`
		Synced          bool   `json:"synced"`
	}
	decodeBody(t, rec, &status)
	if status.CheckpointBlock != 110 || !status.Synced {
		t.Fatalf("status = %+v", status)
	}
}

func TestGetRail(t *testing.T) {
	server, store := newTestServer(t)
	seedLedger(t, store)

	rec := get(t, server.Handler(), "/v1/rails/7")
	if rec.Code != http.StatusOK {
		t.Fatalf("rail status = %d body=%s", rec.Code, rec.Body)
	}
	var rail struct {
		Payer string `json:"payer"`
	}
	decodeBody(t, rec, &rail)
	if rail.Payer != testAddress(0x01).Hex() {
		t.Fatalf("rail payer = %q", rail.Payer)
	}

	if rec := get(t, server.Handler(), "/v1/rails/999"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing rail status = %d", rec.Code)
	}
	if rec := get(t, server.Handler(), "/v1/rails/not-a-number"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad rail id status = %d", rec.Code)
	}
}

func TestGetAccountAndPosition(t *testing.T) {
	server, store := newTestServer(t)
	seedLedger(t, store)

	owner := testAddress(0x01).Hex()
	token := testAddress(0x02).Hex()

	rec := get(t, server.Handler(), "/v1/accounts/"+owner)
	if rec.Code != http.StatusOK {
		t.Fatalf("account status = %d", rec.Code)
	}
	var account struct {
		TotalRails uint64 `json:"totalRails"`
	}
	decodeBody(t, rec, &account)
	if account.TotalRails != 2 {
		t.Fatalf("account = %+v", account)
	}

	rec = get(t, server.Handler(), "/v1/accounts/"+owner+"/tokens/"+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("position status = %d", rec.Code)
	}
	var position struct {
		Funds string `json:"funds"`
	}
	decodeBody(t, rec, &position)
	if position.Funds == "" {
		t.Fatalf("position body = %s", rec.Body)
	}

	if rec := get(t, server.Handler(), "/v1/accounts/nope"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad address status = %d", rec.Code)
	}
	missing := testAddress(0xEE).Hex()
	if rec := get(t, server.Handler(), "/v1/accounts/"+missing); rec.Code != http.StatusNotFound {
		t.Fatalf("missing account status = %d", rec.Code)
	}
}

func TestGetToken(t *testing.T) {
	server, store := newTestServer(t)
	seedLedger(t, store)

	rec := get(t, server.Handler(), "/v1/tokens/"+testAddress(0x02).Hex())
	if rec.Code != http.StatusOK {
		t.Fatalf("token status = %d", rec.Code)
	}
	var token struct {
		Symbol   string `json:"symbol"`
		Decimals uint8  `json:"decimals"`
	}
	decodeBody(t, rec, &token)
	if token.Symbol != "USDC" || token.Decimals != 6 {
		t.Fatalf("token = %+v", token)
	}
}

func TestGetPaymentsMetric(t *testing.T) {
	server, store := newTestServer(t)
	seedLedger(t, store)

	rec := get(t, server.Handler(), "/v1/metrics/payments")
	if rec.Code != http.StatusOK {
		t.Fatalf("metric status = %d", rec.Code)
	}
	var metric struct {
		TotalRails uint64 `json:"totalRails"`
	}
	decodeBody(t, rec, &metric)
	if metric.TotalRails != 1 {
		t.Fatalf("metric = %+v", metric)
	}

	// An empty store still serves the metric with zero counters.
	empty, _ := newTestServer(t)
	rec = get(t, empty.Handler(), "/v1/metrics/payments")
	if rec.Code != http.StatusOK {
		t.Fatalf("empty metric status = %d", rec.Code)
	}
}

func TestRunExportDisabled(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/exports", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("exports status = %d, want 503", rec.Code)
	}
}
