package entity

import (
	"time"

	"github.com/roach88/tandem/internal/ir"
)

// Transaction types.
const (
	TypeIncome  = "income"
	TypeExpense = "expense"
)

// Transaction is a shared income or expense entry. Amount is in minor units.
type Transaction struct {
	ID              string    `json:"id"`
	PairingID       string    `json:"couple_id"`
	UserID          string    `json:"user_id"`
	Type            string    `json:"type"`
	Amount          int64     `json:"amount"`
	Category        string    `json:"category"`
	Description     string    `json:"description,omitempty"`
	TransactionDate string    `json:"transaction_date"`
	CreatedAt       time.Time `json:"created_at"`
}

// Transactions orders by transaction date, newest first.
var Transactions = ir.Kind[Transaction]{
	Name:  KindTransactions,
	Key:   func(t Transaction) string { return t.ID },
	Scope: func(t Transaction) string { return t.PairingID },
	Less: func(a, b Transaction) bool {
		return newestFirst(a.TransactionDate, b.TransactionDate, a.CreatedAt, b.CreatedAt)
	},
	Content: func(t Transaction) map[string]any {
		return map[string]any{
			"user_id":          t.UserID,
			"type":             t.Type,
			"amount":           t.Amount,
			"category":         t.Category,
			"description":      t.Description,
			"transaction_date": t.TransactionDate,
		}
	},
	Stamp: func(t Transaction, key, scope string, at time.Time) Transaction {
		t.ID, t.PairingID, t.CreatedAt = key, scope, at
		if t.TransactionDate == "" {
			t.TransactionDate = Day(at)
		}
		return t
	},
}

// Summary totals a set of transactions in minor units.
type Summary struct {
	Income  int64 `json:"income"`
	Expense int64 `json:"expense"`
	Balance int64 `json:"balance"`
}

// Totals sums income and expenses. Unknown types are ignored.
func Totals(records []Transaction) Summary {
	var s Summary
	for _, t := range records {
		switch t.Type {
		case TypeIncome:
			s.Income += t.Amount
		case TypeExpense:
			s.Expense += t.Amount
		}
	}
	s.Balance = s.Income - s.Expense
	return s
}
