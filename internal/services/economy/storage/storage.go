// Package storage defines persistence contracts for economy service state.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// Transaction kinds recorded in the coin journal.
const (
	TransactionDeposit     = "deposit"
	TransactionWithdrawal  = "withdrawal"
	TransactionTransferIn  = "transfer_in"
	TransactionTransferOut = "transfer_out"
	TransactionReward      = "reward"
	TransactionPurchase    = "purchase"
)

// Transaction is one journaled balance mutation.
type Transaction struct {
	ID           int64
	CommunityID  string
	MemberID     string
	Kind         string
	Amount       int64
	BalanceAfter int64
	Reference    string
	CreatedAt    time.Time
}

// BalanceStore persists per-community member coin balances.
//
// Credit and Debit are atomic: the balance change and its guard execute as a
// single conditional statement against the store, never as an application
// level read-modify-write. Creation races on first credit resolve inside the
// store via its insert-conflict clause.
type BalanceStore interface {
	// CreditBalance adds amount to the member's balance, creating the record
	// when absent, and journals the mutation. Returns the new balance.
	CreditBalance(ctx context.Context, communityID, memberID string, amount int64, kind, reference string) (int64, error)
	// DebitBalance subtracts amount only when the current balance covers it,
	// journaling on success. Returns false without error when funds are
	// insufficient.
	DebitBalance(ctx context.Context, communityID, memberID string, amount int64, kind, reference string) (bool, int64, error)
	// GetBalance returns the member's balance, zero for unknown members.
	// No record is created as a side effect.
	GetBalance(ctx context.Context, communityID, memberID string) (int64, error)
	// ListTransactions returns the most recent journal entries, newest first.
	ListTransactions(ctx context.Context, communityID, memberID string, limit int) ([]Transaction, error)
}

// ShopItem is one purchasable catalog entry scoped to a community.
type ShopItem struct {
	CommunityID string
	ItemID      int
	Name        string
	Kind        string
	Price       int64
	Stock       int
	RoleID      string
	Color       string
	Description string
	CreatedAt   time.Time
}

// Shop item kinds.
const (
	ShopItemRoleColor  = "role_color"
	ShopItemRoleCustom = "role_custom"
)

// InventoryItem is one purchased item held by a member.
type InventoryItem struct {
	ID           int64
	CommunityID  string
	MemberID     string
	ItemID       int
	CustomRoleID string
	PurchasedAt  time.Time
}

// ShopStore persists the per-community shop catalog and member inventories.
type ShopStore interface {
	// PutShopItems inserts catalog items, ignoring ones that already exist.
	PutShopItems(ctx context.Context, items []ShopItem) error
	ListShopItems(ctx context.Context, communityID string) ([]ShopItem, error)
	GetShopItem(ctx context.Context, communityID string, itemID int) (ShopItem, error)
	AddInventoryItem(ctx context.Context, item InventoryItem) (int64, error)
	ListInventory(ctx context.Context, communityID, memberID string) ([]InventoryItem, error)
}
