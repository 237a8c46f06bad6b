// Package sqlite provides a SQLite-backed economy storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/concordbot/concord/internal/platform/storage/sqlitemigrate"
	"github.com/concordbot/concord/internal/services/economy/storage"
	"github.com/concordbot/concord/internal/services/economy/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists economy state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite economy store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreditBalance adds amount to one member balance, creating the record when
// absent, and journals the mutation in the same transaction.
//
// The increment is a single INSERT ... ON CONFLICT DO UPDATE statement, so
// two concurrent first-time credits cannot produce duplicate records or lose
// an increment: whichever insert loses the race degrades into the increment.
func (s *Store) CreditBalance(ctx context.Context, communityID, memberID string, amount int64, kind, reference string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	communityID = strings.TrimSpace(communityID)
	memberID = strings.TrimSpace(memberID)
	if communityID == "" {
		return 0, fmt.Errorf("community id is required")
	}
	if memberID == "" {
		return 0, fmt.Errorf("member id is required")
	}
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be greater than zero")
	}

	now := time.Now().UTC()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin credit transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO member_balances (community_id, member_id, balance, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(community_id, member_id) DO UPDATE SET
  balance = balance + excluded.balance,
  updated_at = excluded.updated_at
`,
		communityID,
		memberID,
		amount,
		toMillis(now),
		toMillis(now),
	); err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}

	balance, err := s.balanceInTx(ctx, tx, communityID, memberID)
	if err != nil {
		return 0, fmt.Errorf("read credited balance: %w", err)
	}

	if err := appendTransaction(ctx, tx, storage.Transaction{
		CommunityID:  communityID,
		MemberID:     memberID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: balance,
		Reference:    reference,
		CreatedAt:    now,
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit credit transaction: %w", err)
	}
	return balance, nil
}

// DebitBalance subtracts amount from one member balance only when the current
// balance covers it. The guard and the decrement are one conditional UPDATE;
// an unmatched update means insufficient funds and is not an error.
func (s *Store) DebitBalance(ctx context.Context, communityID, memberID string, amount int64, kind, reference string) (bool, int64, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	if s == nil || s.sqlDB == nil {
		return false, 0, fmt.Errorf("storage is not configured")
	}
	communityID = strings.TrimSpace(communityID)
	memberID = strings.TrimSpace(memberID)
	if communityID == "" {
		return false, 0, fmt.Errorf("community id is required")
	}
	if memberID == "" {
		return false, 0, fmt.Errorf("member id is required")
	}
	if amount <= 0 {
		return false, 0, fmt.Errorf("debit amount must be greater than zero")
	}

	now := time.Now().UTC()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("begin debit transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
UPDATE member_balances
SET balance = balance - ?, updated_at = ?
WHERE community_id = ? AND member_id = ? AND balance >= ?
`,
		amount,
		toMillis(now),
		communityID,
		memberID,
		amount,
	)
	if err != nil {
		return false, 0, fmt.Errorf("debit balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("debit rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return false, 0, nil
	}

	balance, err := s.balanceInTx(ctx, tx, communityID, memberID)
	if err != nil {
		return false, 0, fmt.Errorf("read debited balance: %w", err)
	}

	if err := appendTransaction(ctx, tx, storage.Transaction{
		CommunityID:  communityID,
		MemberID:     memberID,
		Kind:         kind,
		Amount:       -amount,
		BalanceAfter: balance,
		Reference:    reference,
		CreatedAt:    now,
	}); err != nil {
		return false, 0, err
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("commit debit transaction: %w", err)
	}
	return true, balance, nil
}

// GetBalance returns one member balance, zero when the record is absent.
func (s *Store) GetBalance(ctx context.Context, communityID, memberID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	communityID = strings.TrimSpace(communityID)
	memberID = strings.TrimSpace(memberID)
	if communityID == "" {
		return 0, fmt.Errorf("community id is required")
	}
	if memberID == "" {
		return 0, fmt.Errorf("member id is required")
	}

	var balance int64
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT balance FROM member_balances WHERE community_id = ? AND member_id = ?
`, communityID, memberID)
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// ListTransactions returns the most recent journal entries, newest first.
func (s *Store) ListTransactions(ctx context.Context, communityID, memberID string, limit int) ([]storage.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	communityID = strings.TrimSpace(communityID)
	memberID = strings.TrimSpace(memberID)
	if communityID == "" {
		return nil, fmt.Errorf("community id is required")
	}
	if memberID == "" {
		return nil, fmt.Errorf("member id is required")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, community_id, member_id, kind, amount, balance_after, reference, created_at
FROM coin_transactions
WHERE community_id = ? AND member_id = ?
ORDER BY id DESC
LIMIT ?
`, communityID, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []storage.Transaction
	for rows.Next() {
		var record storage.Transaction
		var createdAt int64
		if err := rows.Scan(
			&record.ID,
			&record.CommunityID,
			&record.MemberID,
			&record.Kind,
			&record.Amount,
			&record.BalanceAfter,
			&record.Reference,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		transactions = append(transactions, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return transactions, nil
}

func (s *Store) balanceInTx(ctx context.Context, tx *sql.Tx, communityID, memberID string) (int64, error) {
	var balance int64
	row := tx.QueryRowContext(ctx, `
SELECT balance FROM member_balances WHERE community_id = ? AND member_id = ?
`, communityID, memberID)
	if err := row.Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

var _ storage.BalanceStore = (*Store)(nil)
var _ storage.ShopStore = (*Store)(nil)

func appendTransaction(ctx context.Context, tx *sql.Tx, record storage.Transaction) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO coin_transactions (community_id, member_id, kind, amount, balance_after, reference, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		record.CommunityID,
		record.MemberID,
		record.Kind,
		record.Amount,
		record.BalanceAfter,
		record.Reference,
		toMillis(record.CreatedAt),
	); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}
