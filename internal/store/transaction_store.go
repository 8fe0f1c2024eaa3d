package store

import (
	"context"
	"strings"
	"time"
)

type TransactionStore struct {
	db DB
}

type Transaction struct {
	ID               string    `db:"id"`
	UserID           string    `db:"user_id"`
	AccountID        string    `db:"account_id"`
	CategoryID       string    `db:"category_id"`
	Kind             string    `db:"kind"`
	AmountMinor      int64     `db:"amount_minor"`
	Description      string    `db:"description"`
	OccurredAt       time.Time `db:"occurred_at"`
	Status           string    `db:"status"`
	Installment      bool      `db:"installment"`
	InstallmentCount *int      `db:"installment_count"`
	InstallmentIndex *int      `db:"installment_index"`
	Recurring        bool      `db:"recurring"`
	Frequency        *string   `db:"frequency"`
	ReceiptURL       *string   `db:"receipt_url"`
	Notes            *string   `db:"notes"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

type TransactionInput struct {
	ID               string
	UserID           string
	AccountID        string
	CategoryID       string
	Kind             string
	AmountMinor      int64
	Description      string
	OccurredAt       time.Time
	Status           string
	Installment      bool
	InstallmentCount *int
	InstallmentIndex *int
	Recurring        bool
	Frequency        *string
	ReceiptURL       *string
	Notes            *string
}

// TransactionPatch is an explicit optional-field update: a nil pointer means
// the field was absent from the request and stays untouched.
type TransactionPatch struct {
	AccountID        *string
	CategoryID       *string
	Kind             *string
	AmountMinor      *int64
	Description      *string
	OccurredAt       *time.Time
	Status           *string
	Installment      *bool
	InstallmentCount *int
	InstallmentIndex *int
	Recurring        *bool
	Frequency        *string
	ReceiptURL       *string
	Notes            *string
}

// IsEmpty reports whether the patch changes nothing.
func (p TransactionPatch) IsEmpty() bool {
	return p.AccountID == nil && p.CategoryID == nil && p.Kind == nil &&
		p.AmountMinor == nil && p.Description == nil && p.OccurredAt == nil &&
		p.Status == nil && p.Installment == nil && p.InstallmentCount == nil &&
		p.InstallmentIndex == nil && p.Recurring == nil && p.Frequency == nil &&
		p.ReceiptURL == nil && p.Notes == nil
}

// SettledAmount is the minimal projection the recomputation engine needs.
type SettledAmount struct {
	Kind        string `db:"kind"`
	AmountMinor int64  `db:"amount_minor"`
}

// TransactionFilter narrows ListByUser. Zero values mean "no filter".
type TransactionFilter struct {
	Kind       string
	AccountID  string
	CategoryID string
	Status     string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

const transactionColumns = `id, user_id, account_id, category_id, kind, amount_minor, description, occurred_at, status, installment, installment_count, installment_index, recurring, frequency, receipt_url, notes, created_at, updated_at`

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

func (s *TransactionStore) Create(ctx context.Context, tx Execer, input TransactionInput) error {
	query := `
		INSERT INTO transactions (id, user_id, account_id, category_id, kind, amount_minor, description, occurred_at, status, installment, installment_count, installment_index, recurring, frequency, receipt_url, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := tx.ExecContext(ctx, query,
		input.ID, input.UserID, input.AccountID, input.CategoryID, input.Kind,
		input.AmountMinor, input.Description, input.OccurredAt, input.Status,
		input.Installment, input.InstallmentCount, input.InstallmentIndex,
		input.Recurring, input.Frequency, input.ReceiptURL, input.Notes,
	)
	return err
}

func (s *TransactionStore) Get(ctx context.Context, transactionID, userID string) (Transaction, error) {
	return getTransaction(ctx, s.db, transactionID, userID)
}

// GetInTx loads the row through an open transaction so the coordinator sees
// a consistent snapshot while it recomputes balances.
func (s *TransactionStore) GetInTx(ctx context.Context, tx Getter, transactionID, userID string) (Transaction, error) {
	return getTransaction(ctx, tx, transactionID, userID)
}

func getTransaction(ctx context.Context, q Getter, transactionID, userID string) (Transaction, error) {
	var row Transaction
	err := q.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1 AND user_id = $2
	`, transactionID, userID)
	if err != nil {
		return Transaction{}, notFoundOr(err)
	}
	return row, nil
}

func (s *TransactionStore) Update(ctx context.Context, tx Execer, transactionID string, patch TransactionPatch) error {
	sets := []string{}
	args := []any{}
	param := 1
	appendSet := func(column string, value any) {
		sets = append(sets, column+" = $"+itoa(param))
		args = append(args, value)
		param++
	}
	if patch.AccountID != nil {
		appendSet("account_id", *patch.AccountID)
	}
	if patch.CategoryID != nil {
		appendSet("category_id", *patch.CategoryID)
	}
	if patch.Kind != nil {
		appendSet("kind", *patch.Kind)
	}
	if patch.AmountMinor != nil {
		appendSet("amount_minor", *patch.AmountMinor)
	}
	if patch.Description != nil {
		appendSet("description", *patch.Description)
	}
	if patch.OccurredAt != nil {
		appendSet("occurred_at", *patch.OccurredAt)
	}
	if patch.Status != nil {
		appendSet("status", *patch.Status)
	}
	if patch.Installment != nil {
		appendSet("installment", *patch.Installment)
	}
	if patch.Installment != nil && !*patch.Installment {
		// dropping the flag drops the schedule columns with it
		sets = append(sets, "installment_count = NULL", "installment_index = NULL")
	} else {
		if patch.InstallmentCount != nil {
			appendSet("installment_count", *patch.InstallmentCount)
		}
		if patch.InstallmentIndex != nil {
			appendSet("installment_index", *patch.InstallmentIndex)
		}
	}
	if patch.Recurring != nil {
		appendSet("recurring", *patch.Recurring)
	}
	if patch.Recurring != nil && !*patch.Recurring {
		sets = append(sets, "frequency = NULL")
	} else if patch.Frequency != nil {
		appendSet("frequency", *patch.Frequency)
	}
	if patch.ReceiptURL != nil {
		appendSet("receipt_url", *patch.ReceiptURL)
	}
	if patch.Notes != nil {
		appendSet("notes", *patch.Notes)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = NOW()")
	query := "UPDATE transactions SET " + strings.Join(sets, ", ") + " WHERE id = $" + itoa(param)
	args = append(args, transactionID)
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (s *TransactionStore) Delete(ctx context.Context, tx Execer, transactionID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, transactionID)
	return err
}

// ListSettledByAccount feeds the balance recomputation: kind and amount of
// every settled transaction on the account, read inside the caller's
// transaction.
func (s *TransactionStore) ListSettledByAccount(ctx context.Context, q Selecter, accountID string) ([]SettledAmount, error) {
	var rows []SettledAmount
	err := q.SelectContext(ctx, &rows, `
		SELECT kind, amount_minor
		FROM transactions
		WHERE account_id = $1 AND status = 'settled'
	`, accountID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *TransactionStore) CountByAccount(ctx context.Context, q Getter, accountID string) (int64, error) {
	var count int64
	err := q.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM transactions WHERE account_id = $1
	`, accountID)
	return count, err
}

func (s *TransactionStore) CountByCategory(ctx context.Context, q Getter, categoryID string) (int64, error) {
	var count int64
	err := q.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM transactions WHERE category_id = $1
	`, categoryID)
	return count, err
}

func (s *TransactionStore) ListByUser(ctx context.Context, userID string, filter TransactionFilter) ([]Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
	`
	args := []any{userID}
	param := 2
	appendCond := func(cond string, value any) {
		query += " AND " + cond + " $" + itoa(param)
		args = append(args, value)
		param++
	}
	if filter.Kind != "" {
		appendCond("kind =", filter.Kind)
	}
	if filter.AccountID != "" {
		appendCond("account_id =", filter.AccountID)
	}
	if filter.CategoryID != "" {
		appendCond("category_id =", filter.CategoryID)
	}
	if filter.Status != "" {
		appendCond("status =", filter.Status)
	}
	if filter.From != nil {
		appendCond("occurred_at >=", *filter.From)
	}
	if filter.To != nil {
		appendCond("occurred_at <=", *filter.To)
	}
	query += " ORDER BY occurred_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT $" + itoa(param) + " OFFSET $" + itoa(param+1)
	args = append(args, limit, filter.Offset)

	var rows []Transaction
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *TransactionStore) ListRecurring(ctx context.Context, userID string) ([]Transaction, error) {
	var rows []Transaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1 AND recurring = TRUE
		ORDER BY occurred_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// SumSettledByPeriod returns settled income and expense totals for the user
// in the half-open interval [from, until).
func (s *TransactionStore) SumSettledByPeriod(ctx context.Context, userID string, from, until time.Time) (int64, int64, error) {
	var row struct {
		IncomeMinor  int64 `db:"income_minor"`
		ExpenseMinor int64 `db:"expense_minor"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT COALESCE(SUM(amount_minor) FILTER (WHERE kind = 'income'), 0) AS income_minor,
		       COALESCE(SUM(amount_minor) FILTER (WHERE kind = 'expense'), 0) AS expense_minor
		FROM transactions
		WHERE user_id = $1 AND status = 'settled' AND occurred_at >= $2 AND occurred_at < $3
	`, userID, from, until)
	if err != nil {
		return 0, 0, err
	}
	return row.IncomeMinor, row.ExpenseMinor, nil
}
