package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/dukerupert/cohabit/internal/ledger"
	"github.com/dukerupert/cohabit/internal/model"
	"github.com/shopspring/decimal"
)

func setupExpenses(t *testing.T, viewer model.User, txs ...model.Transaction) (http.Handler, *fakeLedger) {
	t.Helper()
	backend := &fakeLedger{txs: txs}
	svc := ledger.NewService(backend, admin.Email, testLogger())
	h := NewExpenseHandler(svc, time.UTC, testLogger())
	h.Now = func() time.Time { return time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/transactions", h.List)
	mux.HandleFunc("POST /api/transactions", h.Create)
	mux.HandleFunc("PUT /api/transactions/{id}", h.Update)
	mux.HandleFunc("DELETE /api/transactions/{id}", h.Delete)
	return asViewer(viewer, mux), backend
}

func tx(id int64, c model.Category, amount string, date time.Time) model.Transaction {
	return model.Transaction{ID: id, Type: c, Amount: decimal.RequireFromString(amount), Date: date}
}

func sampleLedger() []model.Transaction {
	return []model.Transaction{
		tx(1, model.CategoryDeposit, "1000", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)),
		tx(2, model.CategoryRent, "600", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
		tx(3, model.CategoryUtility, "45.50", time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)),
	}
}

func TestExpenseListAsAdmin(t *testing.T) {
	h, _ := setupExpenses(t, admin, sampleLedger()...)

	rec := do(t, h, "GET", "/api/transactions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ledgerResponse
	decode(t, rec, &resp)
	if len(resp.Transactions) != 3 {
		t.Errorf("transactions = %d, want 3", len(resp.Transactions))
	}
	if resp.Transactions[0].ID != 3 {
		t.Errorf("first id = %d, want 3 (newest first)", resp.Transactions[0].ID)
	}
	if resp.Category != ledger.FilterAll {
		t.Errorf("category = %q, want %q", resp.Category, ledger.FilterAll)
	}
	if !resp.Balance.Equal(decimal.RequireFromString("354.50")) {
		t.Errorf("balance = %s, want 354.50", resp.Balance)
	}
	if !resp.CanEdit || resp.Banner != "" {
		t.Errorf("can_edit = %v banner = %q, want editable", resp.CanEdit, resp.Banner)
	}
	if resp.Month.Year != 2026 || resp.Month.Month != 2 || resp.Month.Count != 2 {
		t.Errorf("month = %+v, want Feb 2026 with 2 entries", resp.Month)
	}
}

func TestExpenseListFilterAndReadOnly(t *testing.T) {
	h, _ := setupExpenses(t, member, sampleLedger()...)

	rec := do(t, h, "GET", "/api/transactions?category=rent", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ledgerResponse
	decode(t, rec, &resp)
	if resp.Category != "RENT" {
		t.Errorf("category = %q, want RENT", resp.Category)
	}
	if len(resp.Transactions) != 1 || resp.Transactions[0].Type != model.CategoryRent {
		t.Errorf("transactions = %+v, want the rent entry", resp.Transactions)
	}
	if resp.CanEdit {
		t.Error("member can edit")
	}
	if resp.Banner != ledger.ReadOnlyBanner {
		t.Errorf("banner = %q", resp.Banner)
	}
}

func TestExpenseCreate(t *testing.T) {
	h, backend := setupExpenses(t, admin)

	rec := do(t, h, "POST", "/api/transactions", `{"type":"utility","amount":"80.25","date":"2026-02-12","description":" water "}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if len(backend.txs) != 1 {
		t.Fatalf("backend txs = %d, want 1", len(backend.txs))
	}
	got := backend.txs[0]
	if got.Type != model.CategoryUtility {
		t.Errorf("type = %q, want UTILITY", got.Type)
	}
	if !got.Date.Equal(time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %v", got.Date)
	}
	var resp ledgerResponse
	decode(t, rec, &resp)
	if len(resp.Transactions) != 1 {
		t.Errorf("response transactions = %d, want 1 (refetched)", len(resp.Transactions))
	}
}

func TestExpenseCreateValidation(t *testing.T) {
	h, backend := setupExpenses(t, admin)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", "{"},
		{"bad date", `{"type":"RENT","amount":"10","date":"Feb 12"}`},
		{"unknown category", `{"type":"FOOD","amount":"10","date":"2026-02-12"}`},
		{"zero amount", `{"type":"RENT","amount":"0","date":"2026-02-12"}`},
		{"missing date", `{"type":"RENT","amount":"10"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, "POST", "/api/transactions", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
	if len(backend.txs) != 0 {
		t.Errorf("backend txs = %d, want 0", len(backend.txs))
	}
}

func TestExpenseMutationsReadOnly(t *testing.T) {
	h, backend := setupExpenses(t, member, sampleLedger()...)
	body := `{"type":"RENT","amount":"10","date":"2026-02-12"}`

	for _, c := range []struct{ method, target, body string }{
		{"POST", "/api/transactions", body},
		{"PUT", "/api/transactions/2", body},
		{"DELETE", "/api/transactions/2", ""},
	} {
		rec := do(t, h, c.method, c.target, c.body)
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s %s: status = %d, want 403", c.method, c.target, rec.Code)
		}
	}
	if len(backend.txs) != 3 {
		t.Errorf("backend txs = %d, want 3", len(backend.txs))
	}
}

func TestExpenseUpdateDelete(t *testing.T) {
	h, _ := setupExpenses(t, admin, sampleLedger()...)

	rec := do(t, h, "PUT", "/api/transactions/2", `{"type":"RENT","amount":"650","date":"2026-02-01T00:00:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("update: status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, "DELETE", "/api/transactions/2", ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d, want 204", rec.Code)
	}
	if rec := do(t, h, "DELETE", "/api/transactions/abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rec.Code)
	}
}

func TestExpenseListBackendDown(t *testing.T) {
	h, backend := setupExpenses(t, admin)
	backend.err = errTransport

	if rec := do(t, h, "GET", "/api/transactions", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}
