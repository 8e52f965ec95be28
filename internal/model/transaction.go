package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryRent        Category = "RENT"
	CategoryUtility     Category = "UTILITY"
	CategoryMaintenance Category = "MAINTENANCE"
	CategoryDeposit     Category = "DEPOSIT"
	CategoryWithdrawal  Category = "WITHDRAWAL"
)

// Categories lists every category in tab order.
var Categories = []Category{
	CategoryRent,
	CategoryUtility,
	CategoryMaintenance,
	CategoryDeposit,
	CategoryWithdrawal,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

type Transaction struct {
	ID          int64           `json:"id"`
	Type        Category        `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
}
