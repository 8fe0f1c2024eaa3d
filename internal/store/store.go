// Package store is the durable ledger: accounts, transactions, categories
// and the audit trail, backed by Postgres through sqlx.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a row does not exist or is not visible to the
// requesting owner.
var ErrNotFound = errors.New("record not found")

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

type Selecter interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

type DB interface {
	Execer
	Getter
	Selecter
}

// Tx is the slice of sqlx.Tx the stores need inside an atomic unit.
type Tx interface {
	Execer
	Getter
	Selecter
}

// Domain enums. The database enforces the same sets via CHECK constraints.
const (
	AccountKindWallet     = "wallet"
	AccountKindChecking   = "checking"
	AccountKindSavings    = "savings"
	AccountKindInvestment = "investment"

	KindIncome  = "income"
	KindExpense = "expense"

	StatusPending   = "pending"
	StatusSettled   = "settled"
	StatusCancelled = "cancelled"

	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
	FrequencyYearly  = "yearly"
)

func notFoundOr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func itoa(value int) string {
	return fmt.Sprintf("%d", value)
}
