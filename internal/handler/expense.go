package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/cohabit/internal/api"
	"github.com/dukerupert/cohabit/internal/auth"
	"github.com/dukerupert/cohabit/internal/ledger"
	"github.com/dukerupert/cohabit/internal/model"
	"github.com/shopspring/decimal"
)

type ExpenseHandler struct {
	svc    *ledger.Service
	loc    *time.Location
	logger *slog.Logger

	Now func() time.Time
}

func NewExpenseHandler(svc *ledger.Service, loc *time.Location, logger *slog.Logger) *ExpenseHandler {
	return &ExpenseHandler{
		svc:    svc,
		loc:    loc,
		logger: logger.With("component", "expense_handler"),
		Now:    time.Now,
	}
}

type summaryResponse struct {
	Year       int                        `json:"year"`
	Month      int                        `json:"month"`
	Total      decimal.Decimal            `json:"total"`
	ByCategory map[string]decimal.Decimal `json:"by_category"`
	Count      int                        `json:"count"`
}

func newSummaryResponse(s ledger.Summary) summaryResponse {
	by := make(map[string]decimal.Decimal, len(s.ByCategory))
	for c, v := range s.ByCategory {
		by[string(c)] = v
	}
	return summaryResponse{Year: s.Year, Month: int(s.Month), Total: s.Total, ByCategory: by, Count: s.Count}
}

type ledgerResponse struct {
	Transactions []model.Transaction `json:"transactions"`
	Category     string              `json:"category"`
	Balance      decimal.Decimal     `json:"balance"`
	Month        summaryResponse     `json:"month"`
	CanEdit      bool                `json:"can_edit"`
	Banner       string              `json:"banner,omitempty"`
}

// ledgerView is what both the page and the API show for a category tab.
func (h *ExpenseHandler) ledgerView(txs []model.Transaction, category string, viewer model.User) ledgerResponse {
	category = strings.ToUpper(strings.TrimSpace(category))
	if category == "" {
		category = ledger.FilterAll
	}
	resp := ledgerResponse{
		Transactions: ledger.Filter(txs, category),
		Category:     category,
		Balance:      ledger.Balance(txs),
		Month:        newSummaryResponse(ledger.MonthlySummary(txs, h.Now().In(h.loc))),
		CanEdit:      h.svc.CanEdit(viewer),
	}
	if resp.Transactions == nil {
		resp.Transactions = []model.Transaction{}
	}
	if !resp.CanEdit {
		resp.Banner = ledger.ReadOnlyBanner
	}
	return resp
}

// List handles GET /api/transactions?category=RENT
func (h *ExpenseHandler) List(w http.ResponseWriter, r *http.Request) {
	txs, err := h.svc.Refresh(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ledgerView(txs, r.URL.Query().Get("category"), auth.User(r.Context())))
}

type transactionRequest struct {
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
}

// input accepts the date as YYYY-MM-DD (midnight in loc) or RFC3339.
func (req transactionRequest) input(loc *time.Location) (api.TransactionInput, bool) {
	in := api.TransactionInput{
		Type:        model.Category(strings.ToUpper(strings.TrimSpace(req.Type))),
		Amount:      req.Amount,
		Description: strings.TrimSpace(req.Description),
	}
	if req.Date == "" {
		return in, true
	}
	if d, err := time.ParseInLocation("2006-01-02", req.Date, loc); err == nil {
		in.Date = d
		return in, true
	}
	d, err := time.Parse(time.RFC3339, req.Date)
	if err != nil {
		return in, false
	}
	in.Date = d
	return in, true
}

func (h *ExpenseHandler) decode(w http.ResponseWriter, r *http.Request) (api.TransactionInput, bool) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return api.TransactionInput{}, false
	}
	in, ok := req.input(h.loc)
	if !ok {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD or RFC3339")
		return in, false
	}
	return in, true
}

// Create handles POST /api/transactions
func (h *ExpenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	viewer := auth.User(r.Context())
	if err := h.svc.Create(r.Context(), viewer, in); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.ledgerView(h.svc.Transactions(), ledger.FilterAll, viewer))
}

// Update handles PUT /api/transactions/{id}
func (h *ExpenseHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	viewer := auth.User(r.Context())
	if err := h.svc.Update(r.Context(), viewer, id, in); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ledgerView(h.svc.Transactions(), ledger.FilterAll, viewer))
}

// Delete handles DELETE /api/transactions/{id}
func (h *ExpenseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.svc.Delete(r.Context(), auth.User(r.Context()), id); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
