package services

import (
	"context"
	"encoding/json"
	"fmt"

	"fintrack/internal/db"
	"fintrack/internal/store"
	"fintrack/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CategoryService manages user categories next to the read-only system
// defaults.
type CategoryService struct {
	txRunner     db.TxRunner
	categories   CategoryStore
	transactions TransactionStore
	audit        AuditStore
}

func NewCategoryService(txRunner db.TxRunner, categories CategoryStore, transactions TransactionStore, audit AuditStore) *CategoryService {
	return &CategoryService{
		txRunner:     txRunner,
		categories:   categories,
		transactions: transactions,
		audit:        audit,
	}
}

type CreateCategoryRequest struct {
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

func (s *CategoryService) CreateCategory(ctx context.Context, req CreateCategoryRequest) (store.Category, error) {
	if err := validator.ValidateName(req.Name); err != nil {
		return store.Category{}, validationf("%v", err)
	}
	if err := validator.ValidateTransactionKind(req.Kind); err != nil {
		return store.Category{}, validationf("%v", err)
	}
	if req.Color == "" {
		req.Color = "#6b7280"
	} else if err := validator.ValidateColor(req.Color); err != nil {
		return store.Category{}, validationf("%v", err)
	}
	if req.Icon == "" {
		req.Icon = "tag"
	}
	exists, err := s.categories.ExistsByName(ctx, req.UserID, req.Kind, req.Name)
	if err != nil {
		return store.Category{}, mapStoreErr(err)
	}
	if exists {
		return store.Category{}, fmt.Errorf("%w: category %q already exists", ErrConflict, req.Name)
	}

	categoryID := uuid.NewString()
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		input := store.CategoryInput{
			ID:     categoryID,
			UserID: req.UserID,
			Name:   req.Name,
			Kind:   req.Kind,
			Color:  req.Color,
			Icon:   req.Icon,
		}
		// The partial unique index turns a concurrent duplicate into a
		// unique violation, surfaced as Conflict.
		if err := s.categories.Create(ctx, tx, input); err != nil {
			return mapStoreErr(err)
		}
		data, _ := json.Marshal(map[string]string{"kind": req.Kind})
		return mapStoreErr(s.audit.Log(ctx, tx, req.UserID, "category.create", "category", categoryID, string(data)))
	})
	if err != nil {
		return store.Category{}, err
	}
	category, err := s.categories.Get(ctx, categoryID, req.UserID)
	if err != nil {
		return store.Category{}, mapStoreErr(err)
	}
	return category, nil
}

func (s *CategoryService) ListCategories(ctx context.Context, userID, kind string) ([]store.Category, error) {
	if kind != "" {
		if err := validator.ValidateTransactionKind(kind); err != nil {
			return nil, validationf("%v", err)
		}
	}
	rows, err := s.categories.List(ctx, userID, kind)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return rows, nil
}

// UpdateCategory edits a user-owned category. System defaults are invisible
// to this path and surface as NotFound.
func (s *CategoryService) UpdateCategory(ctx context.Context, userID, categoryID string, patch CategoryPatch) (store.Category, error) {
	if patch.Name != nil {
		if err := validator.ValidateName(*patch.Name); err != nil {
			return store.Category{}, validationf("%v", err)
		}
	}
	if patch.Color != nil {
		if err := validator.ValidateColor(*patch.Color); err != nil {
			return store.Category{}, validationf("%v", err)
		}
	}
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.categories.GetOwnedInTx(ctx, tx, categoryID, userID); err != nil {
			return mapStoreErr(err)
		}
		storePatch := store.CategoryPatch{Name: patch.Name, Color: patch.Color, Icon: patch.Icon}
		if err := s.categories.Update(ctx, tx, categoryID, storePatch); err != nil {
			return mapStoreErr(err)
		}
		return mapStoreErr(s.audit.Log(ctx, tx, userID, "category.update", "category", categoryID, "{}"))
	})
	if err != nil {
		return store.Category{}, err
	}
	category, err := s.categories.Get(ctx, categoryID, userID)
	if err != nil {
		return store.Category{}, mapStoreErr(err)
	}
	return category, nil
}

// DeleteCategory removes a user-owned category unless transactions still
// reference it.
func (s *CategoryService) DeleteCategory(ctx context.Context, userID, categoryID string) error {
	return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.categories.GetOwnedInTx(ctx, tx, categoryID, userID); err != nil {
			return mapStoreErr(err)
		}
		count, err := s.transactions.CountByCategory(ctx, tx, categoryID)
		if err != nil {
			return mapStoreErr(err)
		}
		if count > 0 {
			return fmt.Errorf("%w: category has %d transactions", ErrConflict, count)
		}
		if err := s.categories.Delete(ctx, tx, categoryID); err != nil {
			return mapStoreErr(err)
		}
		return mapStoreErr(s.audit.Log(ctx, tx, userID, "category.delete", "category", categoryID, "{}"))
	})
}
