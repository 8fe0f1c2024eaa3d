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

	"github.com/jmoiron/sqlx"
)

// ReconcileService is the safety net behind the coordinator: it periodically
// compares every stored balance against a fresh recomputation and repairs
// accounts that drifted. With the coordinator working correctly the sweep
// finds nothing; a repair is always logged at warning level.
type ReconcileService struct {
	txRunner     db.TxRunner
	accounts     AccountStore
	transactions TransactionStore
	audit        AuditStore
	events       events.Publisher
	logger       *log.Logger
}

func NewReconcileService(txRunner db.TxRunner, accounts AccountStore, transactions TransactionStore, audit AuditStore, publisher events.Publisher, logger *log.Logger) *ReconcileService {
	return &ReconcileService{
		txRunner:     txRunner,
		accounts:     accounts,
		transactions: transactions,
		audit:        audit,
		events:       publisher,
		logger:       logger,
	}
}

// Run sweeps on the given interval until the context is cancelled.
func (s *ReconcileService) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("reconcile sweep failed", "error", err)
			}
		}
	}
}

// Sweep finds drifted accounts and repairs each inside its own atomic unit.
// A failure on one account does not stop the rest of the sweep.
func (s *ReconcileService) Sweep(ctx context.Context) error {
	drifted, err := s.accounts.ListBalanceDrift(ctx)
	if err != nil {
		return mapStoreErr(err)
	}
	for _, row := range drifted {
		if err := s.repair(ctx, row); err != nil {
			s.logger.Error("balance repair failed", "account_id", row.AccountID, "error", err)
		}
	}
	return nil
}

func (s *ReconcileService) repair(ctx context.Context, drift store.BalanceDrift) error {
	repaired := false
	var storedMinor, balanceAfter int64
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		account, err := s.accounts.GetForUpdate(ctx, tx, drift.AccountID, drift.UserID)
		if err != nil {
			return mapStoreErr(err)
		}
		settled, err := s.transactions.ListSettledByAccount(ctx, tx, account.ID)
		if err != nil {
			return mapStoreErr(err)
		}
		current := RecomputeBalance(account.InitialBalanceMinor, settled)
		if current == account.CurrentBalanceMinor {
			// A concurrent mutation already converged the balance.
			return nil
		}
		if err := s.accounts.UpdateCurrentBalance(ctx, tx, account.ID, current); err != nil {
			return mapStoreErr(err)
		}
		repaired = true
		storedMinor = account.CurrentBalanceMinor
		balanceAfter = current
		data, _ := json.Marshal(map[string]string{
			"stored":     money.FormatMinor(account.CurrentBalanceMinor),
			"recomputed": money.FormatMinor(current),
		})
		return mapStoreErr(s.audit.Log(ctx, tx, drift.UserID, "account.reconcile", "account", account.ID, string(data)))
	})
	if err != nil {
		return err
	}
	if repaired {
		s.logger.Warn("repaired drifted balance",
			"account_id", drift.AccountID,
			"stored", money.FormatMinor(storedMinor),
			"recomputed", money.FormatMinor(balanceAfter),
		)
		publishBalance(ctx, s.events, s.logger, drift.UserID, drift.AccountID, balanceAfter)
	}
	return nil
}
