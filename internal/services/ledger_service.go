package services

import (
	"context"
	"encoding/json"
	"time"

	"fintrack/internal/db"
	"fintrack/internal/events"
	"fintrack/internal/log"
	"fintrack/internal/money"
	"fintrack/internal/store"
	"fintrack/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// LedgerService is the consistency coordinator: every mutation that can move
// an account balance runs here, inside one atomic transaction that locks the
// affected account rows, rewrites the transaction data and persists the
// recomputed balance together.
type LedgerService struct {
	txRunner     db.TxRunner
	accounts     AccountStore
	transactions TransactionStore
	categories   CategoryStore
	audit        AuditStore
	events       events.Publisher
	logger       *log.Logger
}

func NewLedgerService(txRunner db.TxRunner, accounts AccountStore, transactions TransactionStore, categories CategoryStore, audit AuditStore, publisher events.Publisher, logger *log.Logger) *LedgerService {
	return &LedgerService{
		txRunner:     txRunner,
		accounts:     accounts,
		transactions: transactions,
		categories:   categories,
		audit:        audit,
		events:       publisher,
		logger:       logger,
	}
}

type CreateTransactionRequest struct {
	UserID           string
	AccountID        string
	CategoryID       string
	Kind             string
	Amount           string
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

// TransactionPatch mirrors store.TransactionPatch at the caller boundary,
// with the amount still a decimal string. A nil field was absent from the
// request.
type TransactionPatch struct {
	AccountID        *string
	CategoryID       *string
	Kind             *string
	Amount           *string
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

func (s *LedgerService) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (store.Transaction, error) {
	amountMinor, err := validateCreateTransaction(&req)
	if err != nil {
		return store.Transaction{}, err
	}

	transactionID := uuid.NewString()
	var balanceAfter int64
	settled := req.Status == store.StatusSettled
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		account, err := s.accounts.GetForUpdate(ctx, tx, req.AccountID, req.UserID)
		if err != nil {
			return mapStoreErr(err)
		}
		if _, err := s.categories.GetInTx(ctx, tx, req.CategoryID, req.UserID); err != nil {
			return mapStoreErr(err)
		}
		input := store.TransactionInput{
			ID:               transactionID,
			UserID:           req.UserID,
			AccountID:        req.AccountID,
			CategoryID:       req.CategoryID,
			Kind:             req.Kind,
			AmountMinor:      amountMinor,
			Description:      req.Description,
			OccurredAt:       req.OccurredAt,
			Status:           req.Status,
			Installment:      req.Installment,
			InstallmentCount: req.InstallmentCount,
			InstallmentIndex: req.InstallmentIndex,
			Recurring:        req.Recurring,
			Frequency:        req.Frequency,
			ReceiptURL:       req.ReceiptURL,
			Notes:            req.Notes,
		}
		if err := s.transactions.Create(ctx, tx, input); err != nil {
			return mapStoreErr(err)
		}
		if settled {
			balanceAfter, err = s.recomputeAccount(ctx, tx, account)
			if err != nil {
				return err
			}
		}
		data, _ := json.Marshal(map[string]string{"account_id": req.AccountID, "kind": req.Kind})
		return mapStoreErr(s.audit.Log(ctx, tx, req.UserID, "transaction.create", "transaction", transactionID, string(data)))
	})
	if err != nil {
		return store.Transaction{}, err
	}
	if settled {
		s.publishBalance(ctx, req.UserID, req.AccountID, balanceAfter)
	}
	created, err := s.transactions.Get(ctx, transactionID, req.UserID)
	if err != nil {
		return store.Transaction{}, mapStoreErr(err)
	}
	return created, nil
}

func (s *LedgerService) UpdateTransaction(ctx context.Context, userID, transactionID string, patch TransactionPatch) (store.Transaction, error) {
	storePatch, err := validateTransactionPatch(patch)
	if err != nil {
		return store.Transaction{}, err
	}
	if storePatch.IsEmpty() {
		existing, err := s.transactions.Get(ctx, transactionID, userID)
		if err != nil {
			return store.Transaction{}, mapStoreErr(err)
		}
		return existing, nil
	}

	var targetAccountID, originalAccountID string
	var targetBalance, originalBalance int64
	moved := false
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := s.transactions.GetInTx(ctx, tx, transactionID, userID)
		if err != nil {
			return mapStoreErr(err)
		}
		if err := validatePatchedSchedule(existing, storePatch); err != nil {
			return err
		}
		targetAccountID = existing.AccountID
		if storePatch.AccountID != nil {
			targetAccountID = *storePatch.AccountID
		}
		originalAccountID = existing.AccountID
		moved = targetAccountID != existing.AccountID

		var target, original store.Account
		if moved {
			target, original, err = s.lockTwoAccounts(ctx, tx, targetAccountID, existing.AccountID, userID)
		} else {
			target, err = s.accounts.GetForUpdate(ctx, tx, targetAccountID, userID)
		}
		if err != nil {
			return mapStoreErr(err)
		}
		if storePatch.CategoryID != nil {
			if _, err := s.categories.GetInTx(ctx, tx, *storePatch.CategoryID, userID); err != nil {
				return mapStoreErr(err)
			}
		}
		if err := s.transactions.Update(ctx, tx, transactionID, storePatch); err != nil {
			return mapStoreErr(err)
		}
		if targetBalance, err = s.recomputeAccount(ctx, tx, target); err != nil {
			return err
		}
		if moved {
			if originalBalance, err = s.recomputeAccount(ctx, tx, original); err != nil {
				return err
			}
		}
		data, _ := json.Marshal(map[string]string{"account_id": targetAccountID})
		return mapStoreErr(s.audit.Log(ctx, tx, userID, "transaction.update", "transaction", transactionID, string(data)))
	})
	if err != nil {
		return store.Transaction{}, err
	}
	s.publishBalance(ctx, userID, targetAccountID, targetBalance)
	if moved {
		s.publishBalance(ctx, userID, originalAccountID, originalBalance)
	}
	updated, err := s.transactions.Get(ctx, transactionID, userID)
	if err != nil {
		return store.Transaction{}, mapStoreErr(err)
	}
	return updated, nil
}

func (s *LedgerService) DeleteTransaction(ctx context.Context, userID, transactionID string) error {
	var accountID string
	var balanceAfter int64
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := s.transactions.GetInTx(ctx, tx, transactionID, userID)
		if err != nil {
			return mapStoreErr(err)
		}
		accountID = existing.AccountID
		account, err := s.accounts.GetForUpdate(ctx, tx, existing.AccountID, userID)
		if err != nil {
			return mapStoreErr(err)
		}
		if err := s.transactions.Delete(ctx, tx, transactionID); err != nil {
			return mapStoreErr(err)
		}
		if balanceAfter, err = s.recomputeAccount(ctx, tx, account); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]string{"account_id": existing.AccountID})
		return mapStoreErr(s.audit.Log(ctx, tx, userID, "transaction.delete", "transaction", transactionID, string(data)))
	})
	if err != nil {
		return err
	}
	s.publishBalance(ctx, userID, accountID, balanceAfter)
	return nil
}

func (s *LedgerService) GetTransaction(ctx context.Context, userID, transactionID string) (store.Transaction, error) {
	row, err := s.transactions.Get(ctx, transactionID, userID)
	if err != nil {
		return store.Transaction{}, mapStoreErr(err)
	}
	return row, nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, userID string, filter store.TransactionFilter) ([]store.Transaction, error) {
	if filter.Kind != "" {
		if err := validator.ValidateTransactionKind(filter.Kind); err != nil {
			return nil, validationf("%v", err)
		}
	}
	if filter.Status != "" {
		if err := validator.ValidateTransactionStatus(filter.Status); err != nil {
			return nil, validationf("%v", err)
		}
	}
	rows, err := s.transactions.ListByUser(ctx, userID, filter)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return rows, nil
}

func (s *LedgerService) ListRecurringTransactions(ctx context.Context, userID string) ([]store.Transaction, error) {
	rows, err := s.transactions.ListRecurring(ctx, userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return rows, nil
}

// recomputeAccount rescans the account's settled transactions and persists
// the derived balance. The caller must already hold the account's row lock.
func (s *LedgerService) recomputeAccount(ctx context.Context, tx *sqlx.Tx, account store.Account) (int64, error) {
	settled, err := s.transactions.ListSettledByAccount(ctx, tx, account.ID)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	current := RecomputeBalance(account.InitialBalanceMinor, settled)
	if err := s.accounts.UpdateCurrentBalance(ctx, tx, account.ID, current); err != nil {
		return 0, mapStoreErr(err)
	}
	return current, nil
}

// lockTwoAccounts acquires both row locks in id order so two concurrent
// moves between the same pair of accounts cannot deadlock.
func (s *LedgerService) lockTwoAccounts(ctx context.Context, tx store.Getter, firstID, secondID, userID string) (store.Account, store.Account, error) {
	leftID, rightID := orderedIDs(firstID, secondID)
	left, err := s.accounts.GetForUpdate(ctx, tx, leftID, userID)
	if err != nil {
		return store.Account{}, store.Account{}, err
	}
	right, err := s.accounts.GetForUpdate(ctx, tx, rightID, userID)
	if err != nil {
		return store.Account{}, store.Account{}, err
	}
	if firstID == leftID {
		return left, right, nil
	}
	return right, left, nil
}

func orderedIDs(firstID, secondID string) (string, string) {
	if firstID <= secondID {
		return firstID, secondID
	}
	return secondID, firstID
}

func (s *LedgerService) publishBalance(ctx context.Context, userID, accountID string, balanceMinor int64) {
	publishBalance(ctx, s.events, s.logger, userID, accountID, balanceMinor)
}

// publishBalance announces a committed balance. Delivery failures are logged
// and never unwind the committed mutation.
func publishBalance(ctx context.Context, publisher events.Publisher, logger *log.Logger, userID, accountID string, balanceMinor int64) {
	update := events.BalanceUpdate{
		UserID:    userID,
		AccountID: accountID,
		Balance:   money.FormatMinor(balanceMinor),
	}
	if err := publisher.PublishBalanceUpdate(ctx, update); err != nil {
		logger.Warn("balance update publish failed", "account_id", accountID, "error", err)
	}
}

func validateCreateTransaction(req *CreateTransactionRequest) (int64, error) {
	if err := validator.ValidateTransactionKind(req.Kind); err != nil {
		return 0, validationf("%v", err)
	}
	if req.Status == "" {
		req.Status = store.StatusSettled
	}
	if err := validator.ValidateTransactionStatus(req.Status); err != nil {
		return 0, validationf("%v", err)
	}
	amountMinor, err := money.ParseMinor(req.Amount)
	if err != nil {
		return 0, validationf("amount %q: %v", req.Amount, err)
	}
	if amountMinor <= 0 {
		return 0, validationf("amount must be positive")
	}
	if req.Description == "" {
		return 0, validationf("description is required")
	}
	if req.OccurredAt.IsZero() {
		return 0, validationf("occurrence date is required")
	}
	if err := validateInstallment(req.Installment, req.InstallmentCount, req.InstallmentIndex); err != nil {
		return 0, err
	}
	if err := validateRecurrence(req.Recurring, req.Frequency); err != nil {
		return 0, err
	}
	return amountMinor, nil
}

func validateTransactionPatch(patch TransactionPatch) (store.TransactionPatch, error) {
	out := store.TransactionPatch{
		AccountID:        patch.AccountID,
		CategoryID:       patch.CategoryID,
		Kind:             patch.Kind,
		Description:      patch.Description,
		OccurredAt:       patch.OccurredAt,
		Status:           patch.Status,
		Installment:      patch.Installment,
		InstallmentCount: patch.InstallmentCount,
		InstallmentIndex: patch.InstallmentIndex,
		Recurring:        patch.Recurring,
		Frequency:        patch.Frequency,
		ReceiptURL:       patch.ReceiptURL,
		Notes:            patch.Notes,
	}
	if patch.Kind != nil {
		if err := validator.ValidateTransactionKind(*patch.Kind); err != nil {
			return store.TransactionPatch{}, validationf("%v", err)
		}
	}
	if patch.Status != nil {
		if err := validator.ValidateTransactionStatus(*patch.Status); err != nil {
			return store.TransactionPatch{}, validationf("%v", err)
		}
	}
	if patch.Amount != nil {
		amountMinor, err := money.ParseMinor(*patch.Amount)
		if err != nil {
			return store.TransactionPatch{}, validationf("amount %q: %v", *patch.Amount, err)
		}
		if amountMinor <= 0 {
			return store.TransactionPatch{}, validationf("amount must be positive")
		}
		out.AmountMinor = &amountMinor
	}
	if patch.Description != nil && *patch.Description == "" {
		return store.TransactionPatch{}, validationf("description cannot be empty")
	}
	if patch.AccountID != nil && *patch.AccountID == "" {
		return store.TransactionPatch{}, validationf("account id cannot be empty")
	}
	if patch.CategoryID != nil && *patch.CategoryID == "" {
		return store.TransactionPatch{}, validationf("category id cannot be empty")
	}
	if patch.Frequency != nil {
		if err := validator.ValidateFrequency(*patch.Frequency); err != nil {
			return store.TransactionPatch{}, validationf("%v", err)
		}
	}
	return out, nil
}

// validatePatchedSchedule runs the installment and recurrence checks on the
// row as it will look after the patch, so an update cannot reach a state the
// create path rejects. Flipping a flag off drops its metadata, mirroring the
// store.
func validatePatchedSchedule(existing store.Transaction, patch store.TransactionPatch) error {
	installment := existing.Installment
	if patch.Installment != nil {
		installment = *patch.Installment
	}
	count, index := existing.InstallmentCount, existing.InstallmentIndex
	if patch.Installment != nil && !*patch.Installment {
		count, index = nil, nil
	}
	if patch.InstallmentCount != nil {
		count = patch.InstallmentCount
	}
	if patch.InstallmentIndex != nil {
		index = patch.InstallmentIndex
	}
	if err := validateInstallment(installment, count, index); err != nil {
		return err
	}
	recurring := existing.Recurring
	if patch.Recurring != nil {
		recurring = *patch.Recurring
	}
	frequency := existing.Frequency
	if patch.Recurring != nil && !*patch.Recurring {
		frequency = nil
	}
	if patch.Frequency != nil {
		frequency = patch.Frequency
	}
	return validateRecurrence(recurring, frequency)
}

func validateInstallment(installment bool, count, index *int) error {
	if !installment {
		if count != nil || index != nil {
			return validationf("installment metadata requires the installment flag")
		}
		return nil
	}
	if count == nil || index == nil {
		return validationf("installment transactions need a count and an index")
	}
	if *count < 1 || *index < 1 || *index > *count {
		return validationf("installment index %d out of range for count %d", *index, *count)
	}
	return nil
}

func validateRecurrence(recurring bool, frequency *string) error {
	if !recurring {
		if frequency != nil {
			return validationf("frequency requires the recurring flag")
		}
		return nil
	}
	if frequency == nil {
		return validationf("recurring transactions need a frequency")
	}
	if err := validator.ValidateFrequency(*frequency); err != nil {
		return validationf("%v", err)
	}
	return nil
}
