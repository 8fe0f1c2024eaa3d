package services

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fintrack/internal/events"
	"fintrack/internal/log"
	"fintrack/internal/store"

	"github.com/jmoiron/sqlx"
)

// memState is a map-backed stand-in for Postgres. memTxRunner serializes
// whole atomic units the way SERIALIZABLE isolation would, so the
// concurrency tests exercise the same interleavings the real coordinator
// sees.
type memState struct {
	txMu sync.Mutex
	mu   sync.Mutex

	accounts     map[string]store.Account
	transactions map[string]store.Transaction
	categories   map[string]store.Category
	auditActions []string
}

func newMemState() *memState {
	return &memState{
		accounts:     map[string]store.Account{},
		transactions: map[string]store.Transaction{},
		categories:   map[string]store.Category{},
	}
}

type memTxRunner struct {
	state *memState
}

func (r memTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	r.state.txMu.Lock()
	defer r.state.txMu.Unlock()
	return fn(nil)
}

// trackedTxRunner marks while an atomic unit is executing, so store fakes
// wrapped around it can verify a lookup ran inside the transaction.
type trackedTxRunner struct {
	state *memState
	inTx  bool
}

func (r *trackedTxRunner) WithTx(_ context.Context, fn func(*sqlx.Tx) error) error {
	r.state.txMu.Lock()
	defer r.state.txMu.Unlock()
	r.inTx = true
	defer func() { r.inTx = false }()
	return fn(nil)
}

type memAccounts struct {
	state *memState
}

func (m memAccounts) Create(_ context.Context, _ store.Execer, input store.AccountInput) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	m.state.accounts[input.ID] = store.Account{
		ID:                  input.ID,
		UserID:              input.UserID,
		Name:                input.Name,
		Kind:                input.Kind,
		InitialBalanceMinor: input.InitialBalanceMinor,
		CurrentBalanceMinor: input.InitialBalanceMinor,
		Color:               input.Color,
		Icon:                input.Icon,
		Active:              true,
	}
	return nil
}

func (m memAccounts) Get(_ context.Context, accountID, userID string) (store.Account, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	account, ok := m.state.accounts[accountID]
	if !ok || account.UserID != userID {
		return store.Account{}, store.ErrNotFound
	}
	return account, nil
}

func (m memAccounts) GetForUpdate(ctx context.Context, _ store.Getter, accountID, userID string) (store.Account, error) {
	return m.Get(ctx, accountID, userID)
}

func (m memAccounts) ListByUser(_ context.Context, userID string, includeArchived bool) ([]store.Account, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	var rows []store.Account
	for _, account := range m.state.accounts {
		if account.UserID != userID {
			continue
		}
		if !includeArchived && account.DeletedAt != nil {
			continue
		}
		rows = append(rows, account)
	}
	return rows, nil
}

func (m memAccounts) UpdateProfile(_ context.Context, _ store.Execer, accountID string, patch store.AccountProfilePatch) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	account := m.state.accounts[accountID]
	if patch.Name != nil {
		account.Name = *patch.Name
	}
	if patch.Kind != nil {
		account.Kind = *patch.Kind
	}
	if patch.Color != nil {
		account.Color = *patch.Color
	}
	if patch.Icon != nil {
		account.Icon = *patch.Icon
	}
	m.state.accounts[accountID] = account
	return nil
}

func (m memAccounts) UpdateCurrentBalance(_ context.Context, _ store.Execer, accountID string, currentMinor int64) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	account := m.state.accounts[accountID]
	account.CurrentBalanceMinor = currentMinor
	m.state.accounts[accountID] = account
	return nil
}

func (m memAccounts) SetBalances(_ context.Context, _ store.Execer, accountID string, initialMinor, currentMinor int64) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	account := m.state.accounts[accountID]
	account.InitialBalanceMinor = initialMinor
	account.CurrentBalanceMinor = currentMinor
	m.state.accounts[accountID] = account
	return nil
}

func (m memAccounts) SetArchived(_ context.Context, _ store.Execer, accountID string, archived bool) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	account := m.state.accounts[accountID]
	if archived {
		now := time.Now()
		account.Active = false
		account.DeletedAt = &now
	} else {
		account.Active = true
		account.DeletedAt = nil
	}
	m.state.accounts[accountID] = account
	return nil
}

func (m memAccounts) Delete(_ context.Context, _ store.Execer, accountID string) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	delete(m.state.accounts, accountID)
	return nil
}

func (m memAccounts) SummaryByUser(_ context.Context, userID string) (int, int64, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	count := 0
	var total int64
	for _, account := range m.state.accounts {
		if account.UserID != userID || !account.Active || account.DeletedAt != nil {
			continue
		}
		count++
		total += account.CurrentBalanceMinor
	}
	return count, total, nil
}

func (m memAccounts) ListBalanceDrift(_ context.Context) ([]store.BalanceDrift, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	var rows []store.BalanceDrift
	for _, account := range m.state.accounts {
		calculated := account.InitialBalanceMinor
		for _, txn := range m.state.transactions {
			if txn.AccountID != account.ID || txn.Status != store.StatusSettled {
				continue
			}
			if txn.Kind == store.KindIncome {
				calculated += txn.AmountMinor
			} else {
				calculated -= txn.AmountMinor
			}
		}
		if calculated != account.CurrentBalanceMinor {
			rows = append(rows, store.BalanceDrift{
				AccountID:       account.ID,
				UserID:          account.UserID,
				StoredMinor:     account.CurrentBalanceMinor,
				CalculatedMinor: calculated,
				DifferenceMinor: account.CurrentBalanceMinor - calculated,
			})
		}
	}
	return rows, nil
}

type memTransactions struct {
	state *memState
}

func (m memTransactions) Create(_ context.Context, _ store.Execer, input store.TransactionInput) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	m.state.transactions[input.ID] = store.Transaction{
		ID:               input.ID,
		UserID:           input.UserID,
		AccountID:        input.AccountID,
		CategoryID:       input.CategoryID,
		Kind:             input.Kind,
		AmountMinor:      input.AmountMinor,
		Description:      input.Description,
		OccurredAt:       input.OccurredAt,
		Status:           input.Status,
		Installment:      input.Installment,
		InstallmentCount: input.InstallmentCount,
		InstallmentIndex: input.InstallmentIndex,
		Recurring:        input.Recurring,
		Frequency:        input.Frequency,
		ReceiptURL:       input.ReceiptURL,
		Notes:            input.Notes,
	}
	return nil
}

func (m memTransactions) Get(_ context.Context, transactionID, userID string) (store.Transaction, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	txn, ok := m.state.transactions[transactionID]
	if !ok || txn.UserID != userID {
		return store.Transaction{}, store.ErrNotFound
	}
	return txn, nil
}

func (m memTransactions) GetInTx(ctx context.Context, _ store.Getter, transactionID, userID string) (store.Transaction, error) {
	return m.Get(ctx, transactionID, userID)
}

func (m memTransactions) Update(_ context.Context, _ store.Execer, transactionID string, patch store.TransactionPatch) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	txn := m.state.transactions[transactionID]
	if patch.AccountID != nil {
		txn.AccountID = *patch.AccountID
	}
	if patch.CategoryID != nil {
		txn.CategoryID = *patch.CategoryID
	}
	if patch.Kind != nil {
		txn.Kind = *patch.Kind
	}
	if patch.AmountMinor != nil {
		txn.AmountMinor = *patch.AmountMinor
	}
	if patch.Description != nil {
		txn.Description = *patch.Description
	}
	if patch.OccurredAt != nil {
		txn.OccurredAt = *patch.OccurredAt
	}
	if patch.Status != nil {
		txn.Status = *patch.Status
	}
	if patch.Installment != nil {
		txn.Installment = *patch.Installment
		if !txn.Installment {
			txn.InstallmentCount, txn.InstallmentIndex = nil, nil
		}
	}
	if patch.InstallmentCount != nil {
		txn.InstallmentCount = patch.InstallmentCount
	}
	if patch.InstallmentIndex != nil {
		txn.InstallmentIndex = patch.InstallmentIndex
	}
	if patch.Recurring != nil {
		txn.Recurring = *patch.Recurring
		if !txn.Recurring {
			txn.Frequency = nil
		}
	}
	if patch.Frequency != nil {
		txn.Frequency = patch.Frequency
	}
	if patch.ReceiptURL != nil {
		txn.ReceiptURL = patch.ReceiptURL
	}
	if patch.Notes != nil {
		txn.Notes = patch.Notes
	}
	m.state.transactions[transactionID] = txn
	return nil
}

func (m memTransactions) Delete(_ context.Context, _ store.Execer, transactionID string) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	delete(m.state.transactions, transactionID)
	return nil
}

func (m memTransactions) ListSettledByAccount(_ context.Context, _ store.Selecter, accountID string) ([]store.SettledAmount, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	var rows []store.SettledAmount
	for _, txn := range m.state.transactions {
		if txn.AccountID != accountID || txn.Status != store.StatusSettled {
			continue
		}
		rows = append(rows, store.SettledAmount{Kind: txn.Kind, AmountMinor: txn.AmountMinor})
	}
	return rows, nil
}

func (m memTransactions) CountByAccount(_ context.Context, _ store.Getter, accountID string) (int64, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	var count int64
	for _, txn := range m.state.transactions {
		if txn.AccountID == accountID {
			count++
		}
	}
	return count, nil
}

func (m memTransactions) CountByCategory(_ context.Context, _ store.Getter, categoryID string) (int64, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	var count int64
	for _, txn := range m.state.transactions {
		if txn.CategoryID == categoryID {
			count++
		}
	}
	return count, nil
}

func (m memTransactions) ListByUser(_ context.Context, userID string, filter store.TransactionFilter) ([]store.Transaction, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	var rows []store.Transaction
	for _, txn := range m.state.transactions {
		if txn.UserID != userID {
			continue
		}
		if filter.Kind != "" && txn.Kind != filter.Kind {
			continue
		}
		if filter.AccountID != "" && txn.AccountID != filter.AccountID {
			continue
		}
		if filter.CategoryID != "" && txn.CategoryID != filter.CategoryID {
			continue
		}
		if filter.Status != "" && txn.Status != filter.Status {
			continue
		}
		rows = append(rows, txn)
	}
	return rows, nil
}

func (m memTransactions) ListRecurring(_ context.Context, userID string) ([]store.Transaction, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	var rows []store.Transaction
	for _, txn := range m.state.transactions {
		if txn.UserID == userID && txn.Recurring {
			rows = append(rows, txn)
		}
	}
	return rows, nil
}

func (m memTransactions) SumSettledByPeriod(_ context.Context, userID string, from, until time.Time) (int64, int64, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	var income, expense int64
	for _, txn := range m.state.transactions {
		if txn.UserID != userID || txn.Status != store.StatusSettled {
			continue
		}
		if txn.OccurredAt.Before(from) || !txn.OccurredAt.Before(until) {
			continue
		}
		if txn.Kind == store.KindIncome {
			income += txn.AmountMinor
		} else {
			expense += txn.AmountMinor
		}
	}
	return income, expense, nil
}

type memCategories struct {
	state *memState
}

func (m memCategories) Create(_ context.Context, _ store.Execer, input store.CategoryInput) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	userID := input.UserID
	m.state.categories[input.ID] = store.Category{
		ID:     input.ID,
		UserID: &userID,
		Name:   input.Name,
		Kind:   input.Kind,
		Color:  input.Color,
		Icon:   input.Icon,
	}
	return nil
}

func (m memCategories) Get(_ context.Context, categoryID, userID string) (store.Category, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	category, ok := m.state.categories[categoryID]
	if !ok {
		return store.Category{}, store.ErrNotFound
	}
	if !category.IsDefault && (category.UserID == nil || *category.UserID != userID) {
		return store.Category{}, store.ErrNotFound
	}
	return category, nil
}

func (m memCategories) GetInTx(ctx context.Context, _ store.Getter, categoryID, userID string) (store.Category, error) {
	return m.Get(ctx, categoryID, userID)
}

func (m memCategories) GetOwnedInTx(_ context.Context, _ store.Getter, categoryID, userID string) (store.Category, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	category, ok := m.state.categories[categoryID]
	if !ok || category.IsDefault || category.UserID == nil || *category.UserID != userID {
		return store.Category{}, store.ErrNotFound
	}
	return category, nil
}

func (m memCategories) List(_ context.Context, userID, kind string) ([]store.Category, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	var rows []store.Category
	for _, category := range m.state.categories {
		if !category.IsDefault && (category.UserID == nil || *category.UserID != userID) {
			continue
		}
		if kind != "" && category.Kind != kind {
			continue
		}
		rows = append(rows, category)
	}
	return rows, nil
}

func (m memCategories) Update(_ context.Context, _ store.Execer, categoryID string, patch store.CategoryPatch) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	category := m.state.categories[categoryID]
	if patch.Name != nil {
		category.Name = *patch.Name
	}
	if patch.Color != nil {
		category.Color = *patch.Color
	}
	if patch.Icon != nil {
		category.Icon = *patch.Icon
	}
	m.state.categories[categoryID] = category
	return nil
}

func (m memCategories) Delete(_ context.Context, _ store.Execer, categoryID string) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	delete(m.state.categories, categoryID)
	return nil
}

func (m memCategories) ExistsByName(_ context.Context, userID, kind, name string) (bool, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	for _, category := range m.state.categories {
		if category.IsDefault || category.UserID == nil || *category.UserID != userID {
			continue
		}
		if category.Kind == kind && strings.EqualFold(category.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

type memAudit struct {
	state *memState
}

func (m memAudit) Log(_ context.Context, _ store.Execer, _, action, _, _, _ string) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	m.state.auditActions = append(m.state.auditActions, action)
	return nil
}

type capturePublisher struct {
	mu      sync.Mutex
	updates []events.BalanceUpdate
}

func (p *capturePublisher) PublishBalanceUpdate(_ context.Context, update events.BalanceUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, update)
	return nil
}

func (p *capturePublisher) Close() error {
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}

func (p *capturePublisher) last() events.BalanceUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updates[len(p.updates)-1]
}

func testLogger() *log.Logger {
	return &log.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// fixture wires every service against one shared in-memory state.
type fixture struct {
	state      *memState
	publisher  *capturePublisher
	ledger     *LedgerService
	accounts   *AccountService
	categories *CategoryService
	dashboard  *DashboardService
	reconciler *ReconcileService
}

func newFixture() *fixture {
	state := newMemState()
	runner := memTxRunner{state: state}
	accounts := memAccounts{state: state}
	transactions := memTransactions{state: state}
	categories := memCategories{state: state}
	audit := memAudit{state: state}
	publisher := &capturePublisher{}
	logger := testLogger()
	return &fixture{
		state:      state,
		publisher:  publisher,
		ledger:     NewLedgerService(runner, accounts, transactions, categories, audit, publisher, logger),
		accounts:   NewAccountService(runner, accounts, transactions, audit, publisher, logger),
		categories: NewCategoryService(runner, categories, transactions, audit),
		dashboard:  NewDashboardService(accounts, transactions),
		reconciler: NewReconcileService(runner, accounts, transactions, audit, publisher, logger),
	}
}

func (f *fixture) seedAccount(accountID, userID string, initialMinor int64) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.accounts[accountID] = store.Account{
		ID:                  accountID,
		UserID:              userID,
		Name:                "Account " + accountID,
		Kind:                store.AccountKindWallet,
		InitialBalanceMinor: initialMinor,
		CurrentBalanceMinor: initialMinor,
		Color:               "#6b7280",
		Icon:                "wallet",
		Active:              true,
	}
}

func (f *fixture) seedCategory(categoryID, userID, kind string, isDefault bool) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	category := store.Category{ID: categoryID, Name: "Category " + categoryID, Kind: kind, IsDefault: isDefault}
	if !isDefault {
		category.UserID = &userID
	}
	f.state.categories[categoryID] = category
}

func (f *fixture) balance(accountID string) int64 {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	return f.state.accounts[accountID].CurrentBalanceMinor
}

func (f *fixture) auditActions() []string {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	out := make([]string, len(f.state.auditActions))
	copy(out, f.state.auditActions)
	return out
}

func strPtr(value string) *string {
	return &value
}

func boolPtr(value bool) *bool {
	return &value
}

func intPtr(value int) *int {
	return &value
}
