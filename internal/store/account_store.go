package store

import (
	"context"
	"strings"
	"time"
)

type AccountStore struct {
	db DB
}

type Account struct {
	ID                  string     `db:"id"`
	UserID              string     `db:"user_id"`
	Name                string     `db:"name"`
	Kind                string     `db:"kind"`
	InitialBalanceMinor int64      `db:"initial_balance_minor"`
	CurrentBalanceMinor int64      `db:"current_balance_minor"`
	Color               string     `db:"color"`
	Icon                string     `db:"icon"`
	Active              bool       `db:"active"`
	DeletedAt           *time.Time `db:"deleted_at"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

type AccountInput struct {
	ID                  string
	UserID              string
	Name                string
	Kind                string
	InitialBalanceMinor int64
	Color               string
	Icon                string
}

// AccountProfilePatch carries the mutable display fields. A nil field means
// "leave unchanged"; balance fields have their own dedicated writes.
type AccountProfilePatch struct {
	Name  *string
	Kind  *string
	Color *string
	Icon  *string
}

// BalanceDrift is one row of the stored-versus-recomputed comparison used by
// the reconciliation sweep.
type BalanceDrift struct {
	AccountID       string `db:"account_id"`
	UserID          string `db:"user_id"`
	StoredMinor     int64  `db:"stored_minor"`
	CalculatedMinor int64  `db:"calculated_minor"`
	DifferenceMinor int64  `db:"difference_minor"`
}

const accountColumns = `id, user_id, name, kind, initial_balance_minor, current_balance_minor, color, icon, active, deleted_at, created_at, updated_at`

func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) Create(ctx context.Context, tx Execer, input AccountInput) error {
	query := `
		INSERT INTO accounts (id, user_id, name, kind, initial_balance_minor, current_balance_minor, color, icon)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $7)
	`
	_, err := tx.ExecContext(ctx, query,
		input.ID, input.UserID, input.Name, input.Kind, input.InitialBalanceMinor, input.Color, input.Icon,
	)
	return err
}

// Get returns the account regardless of archive state; visibility rules live
// in the service layer.
func (s *AccountStore) Get(ctx context.Context, accountID, userID string) (Account, error) {
	var row Account
	err := s.db.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1 AND user_id = $2
	`, accountID, userID)
	if err != nil {
		return Account{}, notFoundOr(err)
	}
	return row, nil
}

// GetForUpdate locks the account row for the remainder of the transaction so
// concurrent balance recomputations on the same account serialize.
func (s *AccountStore) GetForUpdate(ctx context.Context, tx Getter, accountID, userID string) (Account, error) {
	var row Account
	err := tx.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, accountID, userID)
	if err != nil {
		return Account{}, notFoundOr(err)
	}
	return row, nil
}

func (s *AccountStore) ListByUser(ctx context.Context, userID string, includeArchived bool) ([]Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE user_id = $1
	`
	if !includeArchived {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`
	var rows []Account
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *AccountStore) UpdateProfile(ctx context.Context, tx Execer, accountID string, patch AccountProfilePatch) error {
	sets := []string{}
	args := []any{}
	param := 1
	appendSet := func(column string, value any) {
		sets = append(sets, column+" = $"+itoa(param))
		args = append(args, value)
		param++
	}
	if patch.Name != nil {
		appendSet("name", *patch.Name)
	}
	if patch.Kind != nil {
		appendSet("kind", *patch.Kind)
	}
	if patch.Color != nil {
		appendSet("color", *patch.Color)
	}
	if patch.Icon != nil {
		appendSet("icon", *patch.Icon)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = NOW()")
	query := "UPDATE accounts SET " + strings.Join(sets, ", ") + " WHERE id = $" + itoa(param)
	args = append(args, accountID)
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpdateCurrentBalance persists a freshly recomputed balance.
func (s *AccountStore) UpdateCurrentBalance(ctx context.Context, tx Execer, accountID string, currentMinor int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET current_balance_minor = $1, updated_at = NOW()
		WHERE id = $2
	`, currentMinor, accountID)
	return err
}

// SetBalances writes both balance fields together, used when the initial
// balance is edited and the current balance is recomputed from it.
func (s *AccountStore) SetBalances(ctx context.Context, tx Execer, accountID string, initialMinor, currentMinor int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET initial_balance_minor = $1, current_balance_minor = $2, updated_at = NOW()
		WHERE id = $3
	`, initialMinor, currentMinor, accountID)
	return err
}

// SetArchived flips the soft-delete marker.
func (s *AccountStore) SetArchived(ctx context.Context, tx Execer, accountID string, archived bool) error {
	var err error
	if archived {
		_, err = tx.ExecContext(ctx, `
			UPDATE accounts
			SET active = FALSE, deleted_at = NOW(), updated_at = NOW()
			WHERE id = $1
		`, accountID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE accounts
			SET active = TRUE, deleted_at = NULL, updated_at = NOW()
			WHERE id = $1
		`, accountID)
	}
	return err
}

// Delete permanently removes the account row. The caller must have verified
// that no transactions reference it.
func (s *AccountStore) Delete(ctx context.Context, tx Execer, accountID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, accountID)
	return err
}

// SummaryByUser totals current balances across active accounts.
func (s *AccountStore) SummaryByUser(ctx context.Context, userID string) (int, int64, error) {
	var row struct {
		Count      int   `db:"count"`
		TotalMinor int64 `db:"total_minor"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT COUNT(*) AS count,
		       COALESCE(SUM(current_balance_minor), 0) AS total_minor
		FROM accounts
		WHERE user_id = $1 AND active = TRUE AND deleted_at IS NULL
	`, userID)
	if err != nil {
		return 0, 0, err
	}
	return row.Count, row.TotalMinor, nil
}

// ListBalanceDrift compares each stored balance against the signed sum of
// settled transactions plus the initial balance and returns only the rows
// that disagree.
func (s *AccountStore) ListBalanceDrift(ctx context.Context) ([]BalanceDrift, error) {
	var rows []BalanceDrift
	err := s.db.SelectContext(ctx, &rows, `
		SELECT a.id AS account_id,
		       a.user_id,
		       a.current_balance_minor AS stored_minor,
		       a.initial_balance_minor + COALESCE(SUM(
		           CASE WHEN t.kind = 'income' THEN t.amount_minor ELSE -t.amount_minor END
		       ), 0) AS calculated_minor,
		       a.current_balance_minor - (a.initial_balance_minor + COALESCE(SUM(
		           CASE WHEN t.kind = 'income' THEN t.amount_minor ELSE -t.amount_minor END
		       ), 0)) AS difference_minor
		FROM accounts a
		LEFT JOIN transactions t ON t.account_id = a.id AND t.status = 'settled'
		GROUP BY a.id, a.user_id, a.current_balance_minor, a.initial_balance_minor
		HAVING a.current_balance_minor <> a.initial_balance_minor + COALESCE(SUM(
		           CASE WHEN t.kind = 'income' THEN t.amount_minor ELSE -t.amount_minor END
		       ), 0)
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
