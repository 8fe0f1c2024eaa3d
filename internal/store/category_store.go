package store

import (
	"context"
	"strings"
	"time"
)

type CategoryStore struct {
	db DB
}

type Category struct {
	ID        string    `db:"id"`
	UserID    *string   `db:"user_id"`
	Name      string    `db:"name"`
	Kind      string    `db:"kind"`
	Color     string    `db:"color"`
	Icon      string    `db:"icon"`
	IsDefault bool      `db:"is_default"`
	CreatedAt time.Time `db:"created_at"`
}

type CategoryInput struct {
	ID     string
	UserID string
	Name   string
	Kind   string
	Color  string
	Icon   string
}

type CategoryPatch struct {
	Name  *string
	Color *string
	Icon  *string
}

const categoryColumns = `id, user_id, name, kind, color, icon, is_default, created_at`

func NewCategoryStore(db DB) *CategoryStore {
	return &CategoryStore{db: db}
}

func (s *CategoryStore) Create(ctx context.Context, tx Execer, input CategoryInput) error {
	query := `
		INSERT INTO categories (id, user_id, name, kind, color, icon, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
	`
	_, err := tx.ExecContext(ctx, query, input.ID, input.UserID, input.Name, input.Kind, input.Color, input.Icon)
	return err
}

// Get returns a category visible to the user: their own or a system default.
func (s *CategoryStore) Get(ctx context.Context, categoryID, userID string) (Category, error) {
	return getCategory(ctx, s.db, categoryID, userID)
}

// GetInTx resolves visibility through an open transaction so the check and
// the write it guards share one snapshot.
func (s *CategoryStore) GetInTx(ctx context.Context, tx Getter, categoryID, userID string) (Category, error) {
	return getCategory(ctx, tx, categoryID, userID)
}

func getCategory(ctx context.Context, q Getter, categoryID, userID string) (Category, error) {
	var row Category
	err := q.GetContext(ctx, &row, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE id = $1 AND (user_id = $2 OR is_default)
	`, categoryID, userID)
	if err != nil {
		return Category{}, notFoundOr(err)
	}
	return row, nil
}

// GetOwned returns the category only when the user owns it and it is not a
// system default; edits and deletes go through this.
func (s *CategoryStore) GetOwned(ctx context.Context, categoryID, userID string) (Category, error) {
	return getOwnedCategory(ctx, s.db, categoryID, userID)
}

// GetOwnedInTx is the ownership check run inside the mutation's transaction.
func (s *CategoryStore) GetOwnedInTx(ctx context.Context, tx Getter, categoryID, userID string) (Category, error) {
	return getOwnedCategory(ctx, tx, categoryID, userID)
}

func getOwnedCategory(ctx context.Context, q Getter, categoryID, userID string) (Category, error) {
	var row Category
	err := q.GetContext(ctx, &row, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE id = $1 AND user_id = $2 AND NOT is_default
	`, categoryID, userID)
	if err != nil {
		return Category{}, notFoundOr(err)
	}
	return row, nil
}

// List returns defaults first, then the user's own categories, each group
// alphabetical.
func (s *CategoryStore) List(ctx context.Context, userID, kind string) ([]Category, error) {
	query := `
		SELECT ` + categoryColumns + `
		FROM categories
		WHERE (user_id = $1 OR is_default)
	`
	args := []any{userID}
	if kind != "" {
		query += ` AND kind = $2`
		args = append(args, kind)
	}
	query += ` ORDER BY is_default DESC, name ASC`
	var rows []Category
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *CategoryStore) Update(ctx context.Context, tx Execer, categoryID string, patch CategoryPatch) error {
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
	if patch.Color != nil {
		appendSet("color", *patch.Color)
	}
	if patch.Icon != nil {
		appendSet("icon", *patch.Icon)
	}
	if len(sets) == 0 {
		return nil
	}
	query := "UPDATE categories SET " + strings.Join(sets, ", ") + " WHERE id = $" + itoa(param)
	args = append(args, categoryID)
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (s *CategoryStore) Delete(ctx context.Context, tx Execer, categoryID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, categoryID)
	return err
}

// ExistsByName reports a case-insensitive per-user name collision within a
// kind. The partial unique index enforces the same rule at commit time.
func (s *CategoryStore) ExistsByName(ctx context.Context, userID, kind, name string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM categories
			WHERE user_id = $1 AND kind = $2 AND lower(name) = lower($3) AND NOT is_default
		)
	`, userID, kind, name)
	return exists, err
}
