package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"fintrack/internal/store"
)

func corruptBalance(f *fixture, accountID string, balanceMinor int64) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	account := f.state.accounts[accountID]
	account.CurrentBalanceMinor = balanceMinor
	f.state.accounts[accountID] = account
}

func TestSweepRepairsDrift(t *testing.T) {
	f := newFixture()
	f.seedAccount("acc-1", "user-1", 10000)
	f.seedCategory("cat-1", "user-1", store.KindExpense, false)
	ctx := context.Background()

	if _, err := f.ledger.CreateTransaction(ctx, CreateTransactionRequest{
		UserID: "user-1", AccountID: "acc-1", CategoryID: "cat-1",
		Kind: store.KindExpense, Amount: "25.00", Description: "Taxi", OccurredAt: occurredAt,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	corruptBalance(f, "acc-1", 99999)
	before := f.publisher.count()

	if err := f.reconciler.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := f.balance("acc-1"); got != 7500 {
		t.Fatalf("expected repaired balance 7500, got %d", got)
	}
	if f.publisher.count() != before+1 {
		t.Fatalf("expected one repair event, got %d", f.publisher.count()-before)
	}
	actions := f.auditActions()
	if actions[len(actions)-1] != "account.reconcile" {
		t.Fatalf("expected reconcile audit entry, got %v", actions)
	}
}

func TestSweepCleanStateIsQuiet(t *testing.T) {
	f := newFixture()
	f.seedAccount("acc-1", "user-1", 10000)
	if err := f.reconciler.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if f.publisher.count() != 0 {
		t.Fatalf("clean sweep should publish nothing, got %d events", f.publisher.count())
	}
	if len(f.auditActions()) != 0 {
		t.Fatalf("clean sweep should not write audit entries: %v", f.auditActions())
	}
}

func TestRepairSkipsConvergedAccount(t *testing.T) {
	f := newFixture()
	f.seedAccount("acc-1", "user-1", 10000)
	// Drift snapshot from an earlier read; the account has since converged.
	drift := store.BalanceDrift{AccountID: "acc-1", UserID: "user-1", StoredMinor: 99999, CalculatedMinor: 10000}
	if err := f.reconciler.repair(context.Background(), drift); err != nil {
		t.Fatalf("repair: %v", err)
	}
	if f.publisher.count() != 0 {
		t.Fatalf("converged account should not publish, got %d events", f.publisher.count())
	}
	if got := f.balance("acc-1"); got != 10000 {
		t.Fatalf("repair moved a converged balance: %d", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.reconciler.Run(ctx, time.Millisecond)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
