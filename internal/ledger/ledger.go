// Package ledger aggregates the shared household transactions.
package ledger

import (
	"time"

	"github.com/dukerupert/cohabit/internal/model"
	"github.com/shopspring/decimal"
)

// FilterAll is the tab that shows every category.
const FilterAll = "ALL"

// Signed returns the amount as it affects the balance: deposits add, every
// other category subtracts.
func Signed(t model.Transaction) decimal.Decimal {
	if t.Type == model.CategoryDeposit {
		return t.Amount
	}
	return t.Amount.Neg()
}

// Balance is the all-time signed total.
func Balance(txs []model.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txs {
		total = total.Add(Signed(t))
	}
	return total
}

// Summary is the current month's aggregation.
type Summary struct {
	Year  int
	Month time.Month
	// Total is the signed sum of the month's transactions.
	Total decimal.Decimal
	// ByCategory holds the unsigned sum per category.
	ByCategory map[model.Category]decimal.Decimal
	Count      int
}

// MonthlySummary aggregates the transactions dated in now's month, in now's
// location.
func MonthlySummary(txs []model.Transaction, now time.Time) Summary {
	s := Summary{
		Year:       now.Year(),
		Month:      now.Month(),
		Total:      decimal.Zero,
		ByCategory: make(map[model.Category]decimal.Decimal, len(model.Categories)),
	}
	for _, c := range model.Categories {
		s.ByCategory[c] = decimal.Zero
	}

	loc := now.Location()
	for _, t := range txs {
		d := t.Date.In(loc)
		if d.Year() != s.Year || d.Month() != s.Month {
			continue
		}
		s.Count++
		s.Total = s.Total.Add(Signed(t))
		s.ByCategory[t.Type] = s.ByCategory[t.Type].Add(t.Amount)
	}
	return s
}

// Filter returns the transactions in category, or all of them for FilterAll
// or an empty category.
func Filter(txs []model.Transaction, category string) []model.Transaction {
	if category == "" || category == FilterAll {
		return txs
	}
	out := make([]model.Transaction, 0, len(txs))
	for _, t := range txs {
		if string(t.Type) == category {
			out = append(out, t)
		}
	}
	return out
}
