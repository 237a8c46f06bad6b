package economy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/concordbot/concord/internal/services/economy/storage"
)

// ErrNonPositiveAmount indicates a mutation was requested with a zero or
// negative amount.
var ErrNonPositiveAmount = errors.New("amount must be greater than zero")

// Ledger mutates per-community member coin balances.
type Ledger struct {
	store storage.BalanceStore
}

// NewLedger creates a ledger over the given balance store.
func NewLedger(store storage.BalanceStore) *Ledger {
	return &Ledger{store: store}
}

// Credit adds amount to the member's balance, creating the record when
// absent. Credits cannot fail for business reasons; only storage errors
// propagate. Returns the new balance.
func (l *Ledger) Credit(ctx context.Context, communityID, memberID string, amount int64) (int64, error) {
	if err := l.checkMutation(communityID, memberID, amount); err != nil {
		return 0, err
	}
	return l.store.CreditBalance(ctx, communityID, memberID, amount, storage.TransactionDeposit, "")
}

// PayReward credits a level-up reward, journaled under its own kind so
// reward payouts stay distinguishable from administrative grants.
func (l *Ledger) PayReward(ctx context.Context, communityID, memberID string, amount int64, reference string) (int64, error) {
	if err := l.checkMutation(communityID, memberID, amount); err != nil {
		return 0, err
	}
	return l.store.CreditBalance(ctx, communityID, memberID, amount, storage.TransactionReward, reference)
}

// Debit subtracts amount from the member's balance when funds cover it.
// Returns false when funds are insufficient; that is an expected outcome,
// not an error.
func (l *Ledger) Debit(ctx context.Context, communityID, memberID string, amount int64) (bool, error) {
	if err := l.checkMutation(communityID, memberID, amount); err != nil {
		return false, err
	}
	ok, _, err := l.store.DebitBalance(ctx, communityID, memberID, amount, storage.TransactionWithdrawal, "")
	return ok, err
}

// Spend debits a purchase price, journaled under the purchase kind with a
// reference to the bought item. Returns the guard outcome and the balance
// after the debit.
func (l *Ledger) Spend(ctx context.Context, communityID, memberID string, amount int64, reference string) (bool, int64, error) {
	if err := l.checkMutation(communityID, memberID, amount); err != nil {
		return false, 0, err
	}
	return l.store.DebitBalance(ctx, communityID, memberID, amount, storage.TransactionPurchase, reference)
}

// Transfer moves amount between two members of the same community. The
// debit and the credit are two separate atomic writes: when the process
// dies between them the coins are withdrawn but not delivered, an accepted
// inconsistency window mirroring the level-up reward cascade.
func (l *Ledger) Transfer(ctx context.Context, communityID, fromMemberID, toMemberID string, amount int64) (bool, error) {
	if err := l.checkMutation(communityID, fromMemberID, amount); err != nil {
		return false, err
	}
	toMemberID = strings.TrimSpace(toMemberID)
	if toMemberID == "" {
		return false, fmt.Errorf("recipient member id is required")
	}
	if strings.TrimSpace(fromMemberID) == toMemberID {
		return false, fmt.Errorf("cannot transfer to the same member")
	}

	ok, _, err := l.store.DebitBalance(ctx, communityID, fromMemberID, amount, storage.TransactionTransferOut, toMemberID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if _, err := l.store.CreditBalance(ctx, communityID, toMemberID, amount, storage.TransactionTransferIn, fromMemberID); err != nil {
		return false, fmt.Errorf("credit transfer recipient: %w", err)
	}
	return true, nil
}

// Balance returns the member's balance, zero for unknown members.
func (l *Ledger) Balance(ctx context.Context, communityID, memberID string) (int64, error) {
	communityID = strings.TrimSpace(communityID)
	memberID = strings.TrimSpace(memberID)
	if communityID == "" {
		return 0, fmt.Errorf("community id is required")
	}
	if memberID == "" {
		return 0, fmt.Errorf("member id is required")
	}
	return l.store.GetBalance(ctx, communityID, memberID)
}

// RecentTransactions returns the newest journal entries for one member.
func (l *Ledger) RecentTransactions(ctx context.Context, communityID, memberID string, limit int) ([]storage.Transaction, error) {
	communityID = strings.TrimSpace(communityID)
	memberID = strings.TrimSpace(memberID)
	if communityID == "" {
		return nil, fmt.Errorf("community id is required")
	}
	if memberID == "" {
		return nil, fmt.Errorf("member id is required")
	}
	return l.store.ListTransactions(ctx, communityID, memberID, limit)
}

func (l *Ledger) checkMutation(communityID, memberID string, amount int64) error {
	if strings.TrimSpace(communityID) == "" {
		return fmt.Errorf("community id is required")
	}
	if strings.TrimSpace(memberID) == "" {
		return fmt.Errorf("member id is required")
	}
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	return nil
}
