package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/concordbot/concord/internal/services/economy/storage"
)

// PutShopItems inserts catalog items, ignoring ones that already exist so
// repeated seeding stays idempotent.
func (s *Store) PutShopItems(ctx context.Context, items []storage.ShopItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if len(items) == 0 {
		return nil
	}

	now := time.Now().UTC()
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin shop items transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, item := range items {
		communityID := strings.TrimSpace(item.CommunityID)
		if communityID == "" {
			return fmt.Errorf("community id is required")
		}
		if item.ItemID <= 0 {
			return fmt.Errorf("item id must be greater than zero")
		}
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("item name is required")
		}
		createdAt := item.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO shop_items (community_id, item_id, name, kind, price, stock, role_id, color, description, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
			communityID,
			item.ItemID,
			item.Name,
			item.Kind,
			item.Price,
			item.Stock,
			item.RoleID,
			item.Color,
			item.Description,
			toMillis(createdAt),
		); err != nil {
			return fmt.Errorf("put shop item %d: %w", item.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit shop items transaction: %w", err)
	}
	return nil
}

// ListShopItems returns the community catalog ordered by item id.
func (s *Store) ListShopItems(ctx context.Context, communityID string) ([]storage.ShopItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return nil, fmt.Errorf("community id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT community_id, item_id, name, kind, price, stock, role_id, color, description, created_at
FROM shop_items
WHERE community_id = ?
ORDER BY item_id ASC
`, communityID)
	if err != nil {
		return nil, fmt.Errorf("list shop items: %w", err)
	}
	defer rows.Close()

	var items []storage.ShopItem
	for rows.Next() {
		item, err := scanShopItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan shop item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shop items: %w", err)
	}
	return items, nil
}

// GetShopItem returns one catalog item by id.
func (s *Store) GetShopItem(ctx context.Context, communityID string, itemID int) (storage.ShopItem, error) {
	if err := ctx.Err(); err != nil {
		return storage.ShopItem{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ShopItem{}, fmt.Errorf("storage is not configured")
	}
	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return storage.ShopItem{}, fmt.Errorf("community id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT community_id, item_id, name, kind, price, stock, role_id, color, description, created_at
FROM shop_items
WHERE community_id = ? AND item_id = ?
`, communityID, itemID)
	item, err := scanShopItem(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ShopItem{}, storage.ErrNotFound
		}
		return storage.ShopItem{}, fmt.Errorf("get shop item: %w", err)
	}
	return item, nil
}

// AddInventoryItem records one purchased item for a member.
func (s *Store) AddInventoryItem(ctx context.Context, item storage.InventoryItem) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	communityID := strings.TrimSpace(item.CommunityID)
	memberID := strings.TrimSpace(item.MemberID)
	if communityID == "" {
		return 0, fmt.Errorf("community id is required")
	}
	if memberID == "" {
		return 0, fmt.Errorf("member id is required")
	}
	if item.ItemID <= 0 {
		return 0, fmt.Errorf("item id must be greater than zero")
	}
	purchasedAt := item.PurchasedAt
	if purchasedAt.IsZero() {
		purchasedAt = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO inventory_items (community_id, member_id, item_id, custom_role_id, purchased_at)
VALUES (?, ?, ?, ?, ?)
`,
		communityID,
		memberID,
		item.ItemID,
		item.CustomRoleID,
		toMillis(purchasedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("add inventory item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("inventory item id: %w", err)
	}
	return id, nil
}

// ListInventory returns a member's purchases, newest first.
func (s *Store) ListInventory(ctx context.Context, communityID, memberID string) ([]storage.InventoryItem, error) {
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

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, community_id, member_id, item_id, custom_role_id, purchased_at
FROM inventory_items
WHERE community_id = ? AND member_id = ?
ORDER BY id DESC
`, communityID, memberID)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	defer rows.Close()

	var items []storage.InventoryItem
	for rows.Next() {
		var item storage.InventoryItem
		var purchasedAt int64
		if err := rows.Scan(
			&item.ID,
			&item.CommunityID,
			&item.MemberID,
			&item.ItemID,
			&item.CustomRoleID,
			&purchasedAt,
		); err != nil {
			return nil, fmt.Errorf("scan inventory item: %w", err)
		}
		item.PurchasedAt = fromMillis(purchasedAt)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory: %w", err)
	}
	return items, nil
}

type shopItemScanner func(dest ...any) error

func scanShopItem(scan shopItemScanner) (storage.ShopItem, error) {
	var item storage.ShopItem
	var createdAt int64
	if err := scan(
		&item.CommunityID,
		&item.ItemID,
		&item.Name,
		&item.Kind,
		&item.Price,
		&item.Stock,
		&item.RoleID,
		&item.Color,
		&item.Description,
		&createdAt,
	); err != nil {
		return storage.ShopItem{}, err
	}
	item.CreatedAt = fromMillis(createdAt)
	return item, nil
}
