package progression

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/concordbot/concord/internal/services/economy"
	economystorage "github.com/concordbot/concord/internal/services/economy/storage"
	economysqlite "github.com/concordbot/concord/internal/services/economy/storage/sqlite"
	progressionsqlite "github.com/concordbot/concord/internal/services/progression/storage/sqlite"
)

func openTempProgressionStore(t *testing.T) *progressionsqlite.Store {
	t.Helper()
	store, err := progressionsqlite.Open(filepath.Join(t.TempDir(), "progression.db"))
	if err != nil {
		t.Fatalf("open progression store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func openTempLedger(t *testing.T) *economy.Ledger {
	t.Helper()
	store, err := economysqlite.Open(filepath.Join(t.TempDir(), "economy.db"))
	if err != nil {
		t.Fatalf("open economy store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return economy.NewLedger(store)
}

func TestAddExperienceLevelUpPaysReward(t *testing.T) {
	ledger := openTempLedger(t)
	engine := NewEngine(openTempProgressionStore(t), ledger)
	ctx := context.Background()

	result, err := engine.AddExperience(ctx, "community-1", "member-1", 21875, ActivityDelta{Messages: 1})
	if err != nil {
		t.Fatalf("add experience: %v", err)
	}
	if result.OldLevel != 0 {
		t.Errorf("old level = %d, want 0", result.OldLevel)
	}
	if result.NewLevel != 25 {
		t.Errorf("new level = %d, want 25", result.NewLevel)
	}
	if !result.LeveledUp {
		t.Error("leveled up = false, want true")
	}
	if result.RewardPaid != 250 {
		t.Errorf("reward paid = %d, want 250", result.RewardPaid)
	}

	balance, err := ledger.Balance(ctx, "community-1", "member-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 250 {
		t.Errorf("balance = %d, want 250", balance)
	}

	transactions, err := ledger.RecentTransactions(ctx, "community-1", "member-1", 1)
	if err != nil {
		t.Fatalf("recent transactions: %v", err)
	}
	if len(transactions) != 1 {
		t.Fatalf("transactions len = %d, want 1", len(transactions))
	}
	if transactions[0].Kind != economystorage.TransactionReward {
		t.Errorf("kind = %q, want %q", transactions[0].Kind, economystorage.TransactionReward)
	}
	if transactions[0].Reference != "level:25" {
		t.Errorf("reference = %q, want level:25", transactions[0].Reference)
	}
}

func TestAddExperienceWithinLevelPaysNothing(t *testing.T) {
	ledger := openTempLedger(t)
	engine := NewEngine(openTempProgressionStore(t), ledger)
	ctx := context.Background()

	if _, err := engine.AddExperience(ctx, "community-1", "member-1", 21875, ActivityDelta{}); err != nil {
		t.Fatalf("first grant: %v", err)
	}

	result, err := engine.AddExperience(ctx, "community-1", "member-1", 1, ActivityDelta{Messages: 1})
	if err != nil {
		t.Fatalf("second grant: %v", err)
	}
	if result.OldLevel != 25 || result.NewLevel != 25 {
		t.Errorf("levels = %d→%d, want 25→25", result.OldLevel, result.NewLevel)
	}
	if result.LeveledUp {
		t.Error("leveled up = true, want false")
	}
	if result.RewardPaid != 0 {
		t.Errorf("reward paid = %d, want 0", result.RewardPaid)
	}

	balance, err := ledger.Balance(ctx, "community-1", "member-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 250 {
		t.Errorf("balance = %d, want 250 (only the first level-up paid)", balance)
	}
}

func TestAddExperienceRejectsNegative(t *testing.T) {
	engine := NewEngine(openTempProgressionStore(t), nil)

	if _, err := engine.AddExperience(context.Background(), "community-1", "member-1", -1, ActivityDelta{}); !errors.Is(err, ErrNegativeXP) {
		t.Fatalf("err = %v, want ErrNegativeXP", err)
	}
	if _, err := engine.AddExperience(context.Background(), "community-1", "member-1", 1, ActivityDelta{Messages: -1}); err == nil {
		t.Fatal("expected error for negative activity delta")
	}
}

func TestAddExperienceNilRewardsSkipsPayout(t *testing.T) {
	engine := NewEngine(openTempProgressionStore(t), nil)

	result, err := engine.AddExperience(context.Background(), "community-1", "member-1", 35, ActivityDelta{})
	if err != nil {
		t.Fatalf("add experience: %v", err)
	}
	if !result.LeveledUp || result.NewLevel != 1 {
		t.Fatalf("result = %+v, want level-up to 1", result)
	}
	if result.RewardPaid != 0 {
		t.Errorf("reward paid = %d, want 0 with nil payer", result.RewardPaid)
	}
}

func TestSetExperienceRecomputesLevel(t *testing.T) {
	engine := NewEngine(openTempProgressionStore(t), nil)
	ctx := context.Background()

	if err := engine.SetExperience(ctx, "community-1", "member-1", 26975); err != nil {
		t.Fatalf("set experience: %v", err)
	}
	record, err := engine.Progression(ctx, "community-1", "member-1")
	if err != nil {
		t.Fatalf("get progression: %v", err)
	}
	if record.Experience != 26975 {
		t.Errorf("experience = %d, want 26975", record.Experience)
	}
	if record.Level != 26 {
		t.Errorf("level = %d, want 26", record.Level)
	}

	if err := engine.SetExperience(ctx, "community-1", "member-1", -1); !errors.Is(err, ErrNegativeXP) {
		t.Fatalf("err = %v, want ErrNegativeXP", err)
	}
}

func TestSetLevelRecomputesExperience(t *testing.T) {
	engine := NewEngine(openTempProgressionStore(t), nil)
	ctx := context.Background()

	if err := engine.SetLevel(ctx, "community-1", "member-1", 25); err != nil {
		t.Fatalf("set level: %v", err)
	}
	record, err := engine.Progression(ctx, "community-1", "member-1")
	if err != nil {
		t.Fatalf("get progression: %v", err)
	}
	if record.Level != 25 {
		t.Errorf("level = %d, want 25", record.Level)
	}
	if record.Experience != 21875 {
		t.Errorf("experience = %d, want 21875", record.Experience)
	}

	if err := engine.SetLevel(ctx, "community-1", "member-1", -1); err == nil {
		t.Fatal("expected error for negative level")
	}
}
