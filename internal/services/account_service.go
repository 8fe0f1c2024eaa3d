package services

import (
	"context"
	"encoding/json"
	"fmt"

	"fintrack/internal/db"
	"fintrack/internal/events"
	"fintrack/internal/log"
	"fintrack/internal/money"
	"fintrack/internal/store"
	"fintrack/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AccountService owns account CRUD and the archive/restore/purge lifecycle.
// Initial-balance edits run through the same recompute-and-persist path as
// the coordinator so the balance invariant survives them.
type AccountService struct {
	txRunner     db.TxRunner
	accounts     AccountStore
	transactions TransactionStore
	audit        AuditStore
	events       events.Publisher
	logger       *log.Logger
}

func NewAccountService(txRunner db.TxRunner, accounts AccountStore, transactions TransactionStore, audit AuditStore, publisher events.Publisher, logger *log.Logger) *AccountService {
	return &AccountService{
		txRunner:     txRunner,
		accounts:     accounts,
		transactions: transactions,
		audit:        audit,
		events:       publisher,
		logger:       logger,
	}
}

type CreateAccountRequest struct {
	UserID         string
	Name           string
	Kind           string
	InitialBalance string
	Color          string
	Icon           string
}

// AccountPatch updates display fields and, when present, the initial
// balance. A nil field was absent from the request.
type AccountPatch struct {
	Name           *string
	Kind           *string
	Color          *string
	Icon           *string
	InitialBalance *string
}

type AccountsSummary struct {
	TotalAccounts int
	TotalBalance  string
}

func (s *AccountService) CreateAccount(ctx context.Context, req CreateAccountRequest) (store.Account, error) {
	if err := validator.ValidateName(req.Name); err != nil {
		return store.Account{}, validationf("%v", err)
	}
	if err := validator.ValidateAccountKind(req.Kind); err != nil {
		return store.Account{}, validationf("%v", err)
	}
	initialMinor := int64(0)
	if req.InitialBalance != "" {
		parsed, err := money.ParseMinor(req.InitialBalance)
		if err != nil {
			return store.Account{}, validationf("initial balance %q: %v", req.InitialBalance, err)
		}
		initialMinor = parsed
	}
	if req.Color == "" {
		req.Color = "#6b7280"
	} else if err := validator.ValidateColor(req.Color); err != nil {
		return store.Account{}, validationf("%v", err)
	}
	if req.Icon == "" {
		req.Icon = "wallet"
	}

	accountID := uuid.NewString()
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		input := store.AccountInput{
			ID:                  accountID,
			UserID:              req.UserID,
			Name:                req.Name,
			Kind:                req.Kind,
			InitialBalanceMinor: initialMinor,
			Color:               req.Color,
			Icon:                req.Icon,
		}
		if err := s.accounts.Create(ctx, tx, input); err != nil {
			return mapStoreErr(err)
		}
		data, _ := json.Marshal(map[string]string{"kind": req.Kind})
		return mapStoreErr(s.audit.Log(ctx, tx, req.UserID, "account.create", "account", accountID, string(data)))
	})
	if err != nil {
		return store.Account{}, err
	}
	account, err := s.accounts.Get(ctx, accountID, req.UserID)
	if err != nil {
		return store.Account{}, mapStoreErr(err)
	}
	return account, nil
}

func (s *AccountService) GetAccount(ctx context.Context, userID, accountID string, includeArchived bool) (store.Account, error) {
	account, err := s.accounts.Get(ctx, accountID, userID)
	if err != nil {
		return store.Account{}, mapStoreErr(err)
	}
	if !includeArchived && account.DeletedAt != nil {
		return store.Account{}, ErrNotFound
	}
	return account, nil
}

func (s *AccountService) ListAccounts(ctx context.Context, userID string, includeArchived bool) ([]store.Account, error) {
	rows, err := s.accounts.ListByUser(ctx, userID, includeArchived)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return rows, nil
}

func (s *AccountService) UpdateAccount(ctx context.Context, userID, accountID string, patch AccountPatch) (store.Account, error) {
	profilePatch, newInitial, err := validateAccountPatch(patch)
	if err != nil {
		return store.Account{}, err
	}

	balanceChanged := false
	var balanceAfter int64
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		account, err := s.accounts.GetForUpdate(ctx, tx, accountID, userID)
		if err != nil {
			return mapStoreErr(err)
		}
		if err := s.accounts.UpdateProfile(ctx, tx, accountID, profilePatch); err != nil {
			return mapStoreErr(err)
		}
		// The current balance is rebuilt from the new initial balance and a
		// full rescan, never by applying a delta to the stored value.
		if newInitial != nil && *newInitial != account.InitialBalanceMinor {
			settled, err := s.transactions.ListSettledByAccount(ctx, tx, accountID)
			if err != nil {
				return mapStoreErr(err)
			}
			current := RecomputeBalance(*newInitial, settled)
			if err := s.accounts.SetBalances(ctx, tx, accountID, *newInitial, current); err != nil {
				return mapStoreErr(err)
			}
			balanceChanged = true
			balanceAfter = current
		}
		data, _ := json.Marshal(map[string]bool{"balance_recomputed": balanceChanged})
		return mapStoreErr(s.audit.Log(ctx, tx, userID, "account.update", "account", accountID, string(data)))
	})
	if err != nil {
		return store.Account{}, err
	}
	if balanceChanged {
		publishBalance(ctx, s.events, s.logger, userID, accountID, balanceAfter)
	}
	account, err := s.accounts.Get(ctx, accountID, userID)
	if err != nil {
		return store.Account{}, mapStoreErr(err)
	}
	return account, nil
}

// ArchiveAccount soft-deletes. Dependent transactions do not block it; they
// keep pointing at the archived account.
func (s *AccountService) ArchiveAccount(ctx context.Context, userID, accountID string) (store.Account, error) {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		account, err := s.accounts.GetForUpdate(ctx, tx, accountID, userID)
		if err != nil {
			return mapStoreErr(err)
		}
		if account.DeletedAt != nil {
			return fmt.Errorf("%w: account is already archived", ErrConflict)
		}
		count, err := s.transactions.CountByAccount(ctx, tx, accountID)
		if err != nil {
			return mapStoreErr(err)
		}
		if count > 0 {
			s.logger.Warn("archiving account with transactions", "account_id", accountID, "transactions", count)
		}
		if err := s.accounts.SetArchived(ctx, tx, accountID, true); err != nil {
			return mapStoreErr(err)
		}
		data, _ := json.Marshal(map[string]int64{"transactions": count})
		return mapStoreErr(s.audit.Log(ctx, tx, userID, "account.archive", "account", accountID, string(data)))
	})
	if err != nil {
		return store.Account{}, err
	}
	account, err := s.accounts.Get(ctx, accountID, userID)
	if err != nil {
		return store.Account{}, mapStoreErr(err)
	}
	return account, nil
}

// RestoreAccount reverses an archive; it refuses accounts that are not
// archived.
func (s *AccountService) RestoreAccount(ctx context.Context, userID, accountID string) (store.Account, error) {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		account, err := s.accounts.GetForUpdate(ctx, tx, accountID, userID)
		if err != nil {
			return mapStoreErr(err)
		}
		if account.DeletedAt == nil {
			return fmt.Errorf("%w: account is not archived", ErrConflict)
		}
		if err := s.accounts.SetArchived(ctx, tx, accountID, false); err != nil {
			return mapStoreErr(err)
		}
		return mapStoreErr(s.audit.Log(ctx, tx, userID, "account.restore", "account", accountID, "{}"))
	})
	if err != nil {
		return store.Account{}, err
	}
	account, err := s.accounts.Get(ctx, accountID, userID)
	if err != nil {
		return store.Account{}, mapStoreErr(err)
	}
	return account, nil
}

// PurgeAccount permanently removes an account; it is refused while any
// transaction, whatever its status, still references it.
func (s *AccountService) PurgeAccount(ctx context.Context, userID, accountID string) error {
	return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.accounts.GetForUpdate(ctx, tx, accountID, userID); err != nil {
			return mapStoreErr(err)
		}
		count, err := s.transactions.CountByAccount(ctx, tx, accountID)
		if err != nil {
			return mapStoreErr(err)
		}
		if count > 0 {
			return fmt.Errorf("%w: account has %d transactions", ErrConflict, count)
		}
		if err := s.accounts.Delete(ctx, tx, accountID); err != nil {
			return mapStoreErr(err)
		}
		return mapStoreErr(s.audit.Log(ctx, tx, userID, "account.purge", "account", accountID, "{}"))
	})
}

func (s *AccountService) Summary(ctx context.Context, userID string) (AccountsSummary, error) {
	count, totalMinor, err := s.accounts.SummaryByUser(ctx, userID)
	if err != nil {
		return AccountsSummary{}, mapStoreErr(err)
	}
	return AccountsSummary{
		TotalAccounts: count,
		TotalBalance:  money.FormatMinor(totalMinor),
	}, nil
}

func validateAccountPatch(patch AccountPatch) (store.AccountProfilePatch, *int64, error) {
	profile := store.AccountProfilePatch{
		Name:  patch.Name,
		Kind:  patch.Kind,
		Color: patch.Color,
		Icon:  patch.Icon,
	}
	if patch.Name != nil {
		if err := validator.ValidateName(*patch.Name); err != nil {
			return store.AccountProfilePatch{}, nil, validationf("%v", err)
		}
	}
	if patch.Kind != nil {
		if err := validator.ValidateAccountKind(*patch.Kind); err != nil {
			return store.AccountProfilePatch{}, nil, validationf("%v", err)
		}
	}
	if patch.Color != nil {
		if err := validator.ValidateColor(*patch.Color); err != nil {
			return store.AccountProfilePatch{}, nil, validationf("%v", err)
		}
	}
	var newInitial *int64
	if patch.InitialBalance != nil {
		parsed, err := money.ParseMinor(*patch.InitialBalance)
		if err != nil {
			return store.AccountProfilePatch{}, nil, validationf("initial balance %q: %v", *patch.InitialBalance, err)
		}
		newInitial = &parsed
	}
	return profile, newInitial, nil
}
