// Package events publishes post-commit balance notifications. Publishing is
// best effort and never participates in the store transaction that produced
// the new balance.
package events

import "context"

// BalanceUpdate announces an account's recomputed balance.
type BalanceUpdate struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
}

type Publisher interface {
	PublishBalanceUpdate(ctx context.Context, update BalanceUpdate) error
	Close() error
}

// NopPublisher drops every event; used in tests and when no broker is
// configured.
type NopPublisher struct{}

func (NopPublisher) PublishBalanceUpdate(context.Context, BalanceUpdate) error { return nil }

func (NopPublisher) Close() error { return nil }
