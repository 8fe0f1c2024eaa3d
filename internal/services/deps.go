package services

import (
	"context"
	"time"

	"fintrack/internal/store"
)

// Store dependencies are consumed through narrow interfaces so tests can
// substitute in-memory fakes.

type AccountStore interface {
	Create(ctx context.Context, tx store.Execer, input store.AccountInput) error
	Get(ctx context.Context, accountID, userID string) (store.Account, error)
	GetForUpdate(ctx context.Context, tx store.Getter, accountID, userID string) (store.Account, error)
	ListByUser(ctx context.Context, userID string, includeArchived bool) ([]store.Account, error)
	UpdateProfile(ctx context.Context, tx store.Execer, accountID string, patch store.AccountProfilePatch) error
	UpdateCurrentBalance(ctx context.Context, tx store.Execer, accountID string, currentMinor int64) error
	SetBalances(ctx context.Context, tx store.Execer, accountID string, initialMinor, currentMinor int64) error
	SetArchived(ctx context.Context, tx store.Execer, accountID string, archived bool) error
	Delete(ctx context.Context, tx store.Execer, accountID string) error
	SummaryByUser(ctx context.Context, userID string) (int, int64, error)
	ListBalanceDrift(ctx context.Context) ([]store.BalanceDrift, error)
}

type TransactionStore interface {
	Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error
	Get(ctx context.Context, transactionID, userID string) (store.Transaction, error)
	GetInTx(ctx context.Context, tx store.Getter, transactionID, userID string) (store.Transaction, error)
	Update(ctx context.Context, tx store.Execer, transactionID string, patch store.TransactionPatch) error
	Delete(ctx context.Context, tx store.Execer, transactionID string) error
	ListSettledByAccount(ctx context.Context, q store.Selecter, accountID string) ([]store.SettledAmount, error)
	CountByAccount(ctx context.Context, q store.Getter, accountID string) (int64, error)
	CountByCategory(ctx context.Context, q store.Getter, categoryID string) (int64, error)
	ListByUser(ctx context.Context, userID string, filter store.TransactionFilter) ([]store.Transaction, error)
	ListRecurring(ctx context.Context, userID string) ([]store.Transaction, error)
	SumSettledByPeriod(ctx context.Context, userID string, from, until time.Time) (int64, int64, error)
}

type CategoryStore interface {
	Create(ctx context.Context, tx store.Execer, input store.CategoryInput) error
	Get(ctx context.Context, categoryID, userID string) (store.Category, error)
	GetInTx(ctx context.Context, tx store.Getter, categoryID, userID string) (store.Category, error)
	GetOwnedInTx(ctx context.Context, tx store.Getter, categoryID, userID string) (store.Category, error)
	List(ctx context.Context, userID, kind string) ([]store.Category, error)
	Update(ctx context.Context, tx store.Execer, categoryID string, patch store.CategoryPatch) error
	Delete(ctx context.Context, tx store.Execer, categoryID string) error
	ExistsByName(ctx context.Context, userID, kind, name string) (bool, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}
