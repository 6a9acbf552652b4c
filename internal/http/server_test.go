package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"contas/internal/auth"
	"contas/internal/ledger"
	"contas/internal/services"
	"contas/internal/storage/memory"
)

type testAPI struct {
	srv   *Server
	token string
	user  int64
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := memory.NewRepository()
	engine := ledger.NewEngine(store, ledger.NewLockTable(time.Second), nil)
	ledgerSvc := services.NewLedgerService(engine, nil, nil)
	issuer := auth.NewTokenIssuer("test-secret", time.Hour)

	srv := NewServer(":0", store, ledgerSvc, issuer)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	api := &testAPI{srv: srv}

	// Register and log in
	rec := api.do(t, http.MethodPost, "/api/users", `{"username":"alice","email":"alice@example.com","password":"hunter2secret"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var user struct {
		ID int64 `json:"id"`
	}
	decode(t, rec, &user)
	api.user = user.ID

	req := httptest.NewRequest(http.MethodPost, "/api/tokens", nil)
	req.SetBasicAuth("alice", "hunter2secret")
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var tok struct {
		Token string `json:"token"`
	}
	decode(t, rec, &tok)
	api.token = tok.Token

	return api
}

func (a *testAPI) do(t *testing.T, method, path, body string, headers ...[2]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	for _, h := range headers {
		req.Header.Set(h[0], h[1])
	}
	rec := httptest.NewRecorder()
	a.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	decode(t, rec, &body)
	return body.Error.Kind
}

func (a *testAPI) createAccount(t *testing.T, name, balance string) accountDTO {
	t.Helper()
	rec := a.do(t, http.MethodPost, fmt.Sprintf("/api/users/%d/accounts", a.user),
		fmt.Sprintf(`{"name":%q,"accountType":1,"balance":%q}`, name, balance))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create account expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var acc accountDTO
	decode(t, rec, &acc)
	return acc
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	api := newTestAPI(t)
	saved := api.token
	api.token = ""
	rec := api.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d/accounts", api.user), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	api.token = saved
}

func TestDuplicateUsername(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodPost, "/api/users", `{"username":"alice","email":"a2@example.com","password":"hunter2secret"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "duplicate_account" {
		t.Fatalf("expected duplicate_account, got %q", kind)
	}
}

func TestAccountLifecycle(t *testing.T) {
	api := newTestAPI(t)

	acc := api.createAccount(t, "Checking", "100.00")
	if acc.BalanceCents != 10000 {
		t.Fatalf("opening balance expected 10000, got %d", acc.BalanceCents)
	}

	// Same (name, type) again is a duplicate
	rec := api.do(t, http.MethodPost, fmt.Sprintf("/api/users/%d/accounts", api.user),
		`{"name":"Checking","accountType":1}`)
	if rec.Code != http.StatusBadRequest || errorKind(t, rec) != "duplicate_account" {
		t.Fatalf("duplicate account expected 400 duplicate_account, got %d %s", rec.Code, rec.Body.String())
	}

	// Balance is not patchable
	rec = api.do(t, http.MethodPut, fmt.Sprintf("/api/accounts/%d", acc.ID), `{"balance":"999.00"}`)
	if rec.Code != http.StatusBadRequest || errorKind(t, rec) != "validation_error" {
		t.Fatalf("balance patch expected 400 validation_error, got %d %s", rec.Code, rec.Body.String())
	}

	// Rename works
	rec = api.do(t, http.MethodPut, fmt.Sprintf("/api/accounts/%d", acc.ID), `{"name":"Main"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("rename expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var renamed accountDTO
	decode(t, rec, &renamed)
	if renamed.Name != "Main" || renamed.BalanceCents != 10000 {
		t.Fatalf("rename changed wrong fields: %+v", renamed)
	}
}

func TestTransactionFlow(t *testing.T) {
	api := newTestAPI(t)
	acc := api.createAccount(t, "Checking", "100.00")

	rec := api.do(t, http.MethodPost, fmt.Sprintf("/api/users/%d/expenses", api.user),
		fmt.Sprintf(`{"accountId":%d,"value":"30.00","paid":true,"description":"groceries"}`, acc.ID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create expense expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var tx transactionDTO
	decode(t, rec, &tx)
	if tx.Kind != "expense" || tx.AmountCents != 3000 {
		t.Fatalf("expense wrong: %+v", tx)
	}

	rec = api.do(t, http.MethodGet, fmt.Sprintf("/api/accounts/%d", acc.ID), "")
	var after accountDTO
	decode(t, rec, &after)
	if after.BalanceCents != 7000 {
		t.Fatalf("balance after expense expected 7000, got %d", after.BalanceCents)
	}

	// Edit the amount; reversal uses the stored 30.00
	rec = api.do(t, http.MethodPut, fmt.Sprintf("/api/transactions/%d", tx.ID), `{"value":"10.00"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = api.do(t, http.MethodGet, fmt.Sprintf("/api/accounts/%d", acc.ID), "")
	decode(t, rec, &after)
	if after.BalanceCents != 9000 {
		t.Fatalf("balance after edit expected 9000, got %d", after.BalanceCents)
	}

	// Paid transactions cannot be deleted
	rec = api.do(t, http.MethodDelete, fmt.Sprintf("/api/transactions/%d", tx.ID), "")
	if rec.Code != http.StatusBadRequest || errorKind(t, rec) != "unsupported" {
		t.Fatalf("paid delete expected 400 unsupported, got %d %s", rec.Code, rec.Body.String())
	}

	// Income via the incomes route
	rec = api.do(t, http.MethodPost, fmt.Sprintf("/api/users/%d/incomes", api.user),
		fmt.Sprintf(`{"accountId":%d,"value":"5.50","paid":true,"description":"refund"}`, acc.ID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create income expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// Filtered listings
	rec = api.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d/expenses", api.user), "")
	var listing struct {
		Items []transactionDTO `json:"items"`
		Meta  pageMeta         `json:"_meta"`
	}
	decode(t, rec, &listing)
	if listing.Meta.TotalItems != 1 || listing.Items[0].Kind != "expense" {
		t.Fatalf("expense listing wrong: %+v", listing)
	}
}

func TestTransferFlow(t *testing.T) {
	api := newTestAPI(t)
	a := api.createAccount(t, "A", "100.00")
	b := api.createAccount(t, "B", "0")

	body := fmt.Sprintf(`{"fromAccountId":%d,"toAccountId":%d,"value":"30.00"}`, a.ID, b.ID)
	rec := api.do(t, http.MethodPost, fmt.Sprintf("/api/users/%d/transfers", api.user), body,
		[2]string{"Idempotency-Key", "k-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("transfer expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var tr transferDTO
	decode(t, rec, &tr)

	// Replay with the same key returns 200 and moves nothing
	rec = api.do(t, http.MethodPost, fmt.Sprintf("/api/users/%d/transfers", api.user), body,
		[2]string{"Idempotency-Key", "k-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("replay expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var replayed transferDTO
	decode(t, rec, &replayed)
	if replayed.ID != tr.ID {
		t.Fatalf("replay returned different transfer")
	}

	rec = api.do(t, http.MethodGet, fmt.Sprintf("/api/accounts/%d", a.ID), "")
	var accA accountDTO
	decode(t, rec, &accA)
	if accA.BalanceCents != 7000 {
		t.Fatalf("source expected 7000, got %d", accA.BalanceCents)
	}

	// Transfers are immutable
	rec = api.do(t, http.MethodPut, fmt.Sprintf("/api/transfers/%d", tr.ID), `{"value":"1.00"}`)
	if rec.Code != http.StatusBadRequest || errorKind(t, rec) != "unsupported" {
		t.Fatalf("transfer edit expected 400 unsupported, got %d %s", rec.Code, rec.Body.String())
	}
	rec = api.do(t, http.MethodDelete, fmt.Sprintf("/api/transfers/%d", tr.ID), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("transfer delete expected 400, got %d", rec.Code)
	}
}

func TestAccountAuditEndpoint(t *testing.T) {
	api := newTestAPI(t)
	a := api.createAccount(t, "A", "50.00")
	b := api.createAccount(t, "B", "0")

	rec := api.do(t, http.MethodPost, fmt.Sprintf("/api/users/%d/transfers", api.user),
		fmt.Sprintf(`{"fromAccountId":%d,"toAccountId":%d,"value":"20.00"}`, a.ID, b.ID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("transfer expected 201, got %d", rec.Code)
	}

	rec = api.do(t, http.MethodGet, fmt.Sprintf("/api/accounts/%d/audit", a.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("audit expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var audit struct {
		BalanceCents         int64      `json:"balanceCents"`
		ReplayedBalanceCents int64      `json:"replayedBalanceCents"`
		Consistent           bool       `json:"consistent"`
		Entries              []auditDTO `json:"entries"`
	}
	decode(t, rec, &audit)
	if !audit.Consistent || audit.BalanceCents != audit.ReplayedBalanceCents {
		t.Fatalf("audit inconsistent: %+v", audit)
	}
	if audit.BalanceCents != 3000 {
		t.Fatalf("expected 3000, got %d", audit.BalanceCents)
	}
	// Opening entry + transfer out
	if len(audit.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(audit.Entries))
	}
}

func TestForeignResourcesReadAsAbsent(t *testing.T) {
	api := newTestAPI(t)
	acc := api.createAccount(t, "Private", "10.00")

	// Second user
	rec := api.do(t, http.MethodPost, "/api/users", `{"username":"bob","email":"bob@example.com","password":"hunter2secret"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register bob: %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/tokens", nil)
	req.SetBasicAuth("bob", "hunter2secret")
	loginRec := httptest.NewRecorder()
	api.srv.Handler.ServeHTTP(loginRec, req)
	var tok struct {
		Token string `json:"token"`
	}
	decode(t, loginRec, &tok)

	bob := &testAPI{srv: api.srv, token: tok.Token}
	rec = bob.do(t, http.MethodGet, fmt.Sprintf("/api/accounts/%d", acc.ID), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign account expected 404, got %d", rec.Code)
	}
	rec = bob.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d/accounts", api.user), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign listing expected 404, got %d", rec.Code)
	}
}

func TestValidationErrors(t *testing.T) {
	api := newTestAPI(t)
	acc := api.createAccount(t, "Checking", "0")

	cases := []struct {
		name string
		path string
		body string
		kind string
	}{
		{"bad amount", fmt.Sprintf("/api/users/%d/expenses", api.user),
			fmt.Sprintf(`{"accountId":%d,"value":"1.234","paid":true,"description":"x"}`, acc.ID),
			"validation_error"},
		{"no description", fmt.Sprintf("/api/users/%d/expenses", api.user),
			fmt.Sprintf(`{"accountId":%d,"value":"1.00","paid":true}`, acc.ID),
			"validation_error"},
		{"same account transfer", fmt.Sprintf("/api/users/%d/transfers", api.user),
			fmt.Sprintf(`{"fromAccountId":%d,"toAccountId":%d,"value":"1.00"}`, acc.ID, acc.ID),
			"validation_error"},
		{"malformed json", fmt.Sprintf("/api/users/%d/expenses", api.user),
			`{"accountId":`, "validation_error"},
	}
	for _, tc := range cases {
		rec := api.do(t, http.MethodPost, tc.path, tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d: %s", tc.name, rec.Code, rec.Body.String())
		}
		if kind := errorKind(t, rec); kind != tc.kind {
			t.Fatalf("%s: expected kind %q, got %q", tc.name, tc.kind, kind)
		}
	}
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := api.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s expected 200, got %d", path, rec.Code)
		}
	}
}
