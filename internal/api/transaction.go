package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/cohabit/internal/model"
	"github.com/shopspring/decimal"
)

// TransactionInput is the body of a create or update request.
type TransactionInput struct {
	Type        model.Category
	Amount      decimal.Decimal
	Date        time.Time
	Description string
}

type transactionRequest struct {
	Type        model.Category `json:"type"`
	Amount      json.Number    `json:"amount"`
	Date        string         `json:"date"`
	Description string         `json:"description"`
}

func (in TransactionInput) request() transactionRequest {
	return transactionRequest{
		Type:        in.Type,
		Amount:      json.Number(in.Amount.String()),
		Date:        in.Date.UTC().Format(time.RFC3339),
		Description: in.Description,
	}
}

type wireTransaction struct {
	ID          flexID          `json:"id"`
	Type        model.Category  `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Date        flexTime        `json:"date"`
	Description string          `json:"description"`
}

func (w wireTransaction) transaction() model.Transaction {
	return model.Transaction{
		ID:          int64(w.ID),
		Type:        w.Type,
		Amount:      w.Amount,
		Date:        w.Date.Time,
		Description: w.Description,
	}
}

func (c *Client) ListTransactions(ctx context.Context) ([]model.Transaction, error) {
	var list []wireTransaction
	if err := c.do(ctx, http.MethodGet, "/transactions", "transactions_list", nil, &list); err != nil {
		return nil, err
	}
	txs := make([]model.Transaction, 0, len(list))
	for _, w := range list {
		txs = append(txs, w.transaction())
	}
	return txs, nil
}

func (c *Client) CreateTransaction(ctx context.Context, in TransactionInput) error {
	return c.do(ctx, http.MethodPost, "/transactions", "transactions_create", in.request(), nil)
}

func (c *Client) UpdateTransaction(ctx context.Context, id int64, in TransactionInput) error {
	path := "/transactions/" + strconv.FormatInt(id, 10)
	return c.do(ctx, http.MethodPut, path, "transactions_update", in.request(), nil)
}

func (c *Client) DeleteTransaction(ctx context.Context, id int64) error {
	path := "/transactions/" + strconv.FormatInt(id, 10)
	return c.do(ctx, http.MethodDelete, path, "transactions_delete", nil, nil)
}
