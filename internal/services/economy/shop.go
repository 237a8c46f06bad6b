package economy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/concordbot/concord/internal/services/economy/storage"
)

// ErrUnknownItem indicates a purchase referenced an item missing from the
// community catalog.
var ErrUnknownItem = errors.New("unknown shop item")

// Shop exposes the per-community purchasable catalog.
type Shop struct {
	store  storage.ShopStore
	ledger *Ledger
}

// NewShop creates a shop over the catalog store and the ledger used to
// charge purchases.
func NewShop(store storage.ShopStore, ledger *Ledger) *Shop {
	return &Shop{store: store, ledger: ledger}
}

// PurchaseResult reports the outcome of a purchase attempt.
type PurchaseResult struct {
	// OK is false when the member's balance did not cover the price.
	OK         bool
	Item       storage.ShopItem
	NewBalance int64
}

// SeedDefaultItems installs the default catalog for a community. Seeding is
// idempotent: items already present are left untouched.
func (s *Shop) SeedDefaultItems(ctx context.Context, communityID string) error {
	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return fmt.Errorf("community id is required")
	}
	return s.store.PutShopItems(ctx, defaultItems(communityID))
}

// ListItems returns the community catalog, seeding the defaults first when
// the catalog is empty.
func (s *Shop) ListItems(ctx context.Context, communityID string) ([]storage.ShopItem, error) {
	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return nil, fmt.Errorf("community id is required")
	}
	items, err := s.store.ListShopItems(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		return items, nil
	}
	if err := s.SeedDefaultItems(ctx, communityID); err != nil {
		return nil, err
	}
	return s.store.ListShopItems(ctx, communityID)
}

// GetItem returns a single catalog item. Unknown item ids return
// ErrUnknownItem.
func (s *Shop) GetItem(ctx context.Context, communityID string, itemID int) (storage.ShopItem, error) {
	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return storage.ShopItem{}, fmt.Errorf("community id is required")
	}
	item, err := s.store.GetShopItem(ctx, communityID, itemID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ShopItem{}, ErrUnknownItem
		}
		return storage.ShopItem{}, err
	}
	return item, nil
}

// Purchase charges the item price against the member's balance and records
// the item in their inventory. An uncovered price returns OK=false without
// error; the balance is untouched.
func (s *Shop) Purchase(ctx context.Context, communityID, memberID string, itemID int) (PurchaseResult, error) {
	communityID = strings.TrimSpace(communityID)
	memberID = strings.TrimSpace(memberID)
	if communityID == "" {
		return PurchaseResult{}, fmt.Errorf("community id is required")
	}
	if memberID == "" {
		return PurchaseResult{}, fmt.Errorf("member id is required")
	}

	item, err := s.store.GetShopItem(ctx, communityID, itemID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return PurchaseResult{}, ErrUnknownItem
		}
		return PurchaseResult{}, err
	}

	ok, balance, err := s.ledger.Spend(ctx, communityID, memberID, item.Price, "item:"+strconv.Itoa(item.ItemID))
	if err != nil {
		return PurchaseResult{}, err
	}
	if !ok {
		return PurchaseResult{OK: false, Item: item}, nil
	}

	if _, err := s.store.AddInventoryItem(ctx, storage.InventoryItem{
		CommunityID: communityID,
		MemberID:    memberID,
		ItemID:      item.ItemID,
	}); err != nil {
		return PurchaseResult{}, fmt.Errorf("record purchased item: %w", err)
	}

	return PurchaseResult{OK: true, Item: item, NewBalance: balance}, nil
}

// Inventory returns a member's purchases, newest first.
func (s *Shop) Inventory(ctx context.Context, communityID, memberID string) ([]storage.InventoryItem, error) {
	communityID = strings.TrimSpace(communityID)
	memberID = strings.TrimSpace(memberID)
	if communityID == "" {
		return nil, fmt.Errorf("community id is required")
	}
	if memberID == "" {
		return nil, fmt.Errorf("member id is required")
	}
	return s.store.ListInventory(ctx, communityID, memberID)
}

func defaultItems(communityID string) []storage.ShopItem {
	colors := []struct {
		id    int
		name  string
		color string
	}{
		{1, "Yellow", "#FFFF00"},
		{2, "Red", "#FF0000"},
		{3, "Green", "#00FF00"},
		{4, "Cyan", "#00FFFF"},
		{5, "Black", "#000000"},
		{6, "White", "#FFFFFF"},
		{7, "Orange", "#FFA500"},
		{8, "Blue", "#0000FF"},
		{9, "Pink", "#FFC0CB"},
		{10, "Purple", "#800080"},
	}

	items := make([]storage.ShopItem, 0, len(colors)+3)
	for _, c := range colors {
		items = append(items, storage.ShopItem{
			CommunityID: communityID,
			ItemID:      c.id,
			Name:        c.name,
			Kind:        storage.ShopItemRoleColor,
			Price:       1000,
			Stock:       -1,
			Color:       c.color,
			Description: "Display name in " + strings.ToLower(c.name),
		})
	}
	items = append(items,
		storage.ShopItem{
			CommunityID: communityID,
			ItemID:      11,
			Name:        "Custom Role (Simple)",
			Kind:        storage.ShopItemRoleCustom,
			Price:       10000,
			Stock:       -1,
			Description: "Role name of your choice, default color",
		},
		storage.ShopItem{
			CommunityID: communityID,
			ItemID:      12,
			Name:        "Custom Role (Gold)",
			Kind:        storage.ShopItemRoleCustom,
			Price:       15000,
			Stock:       -1,
			Description: "Role name of your choice, single color",
		},
		storage.ShopItem{
			CommunityID: communityID,
			ItemID:      13,
			Name:        "Custom Role (Diamond)",
			Kind:        storage.ShopItemRoleCustom,
			Price:       30000,
			Stock:       -1,
			Description: "Role name of your choice, premium color",
		},
	)
	return items
}
