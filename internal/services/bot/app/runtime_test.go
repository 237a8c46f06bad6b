package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	activitystorage "github.com/concordbot/concord/internal/services/activity/storage"
	activitysqlite "github.com/concordbot/concord/internal/services/activity/storage/sqlite"
	economysqlite "github.com/concordbot/concord/internal/services/economy/storage/sqlite"
	progstorage "github.com/concordbot/concord/internal/services/progression/storage"
	progressionsqlite "github.com/concordbot/concord/internal/services/progression/storage/sqlite"
)

func openTempStores(t *testing.T) (*economysqlite.Store, *progressionsqlite.Store, *activitysqlite.Store) {
	t.Helper()
	dir := t.TempDir()

	economyStore, err := economysqlite.Open(filepath.Join(dir, "economy.db"))
	if err != nil {
		t.Fatalf("open economy store: %v", err)
	}
	t.Cleanup(func() {
		_ = economyStore.Close()
	})

	progressionStore, err := progressionsqlite.Open(filepath.Join(dir, "progression.db"))
	if err != nil {
		t.Fatalf("open progression store: %v", err)
	}
	t.Cleanup(func() {
		_ = progressionStore.Close()
	})

	activityStore, err := activitysqlite.Open(filepath.Join(dir, "activity.db"))
	if err != nil {
		t.Fatalf("open activity store: %v", err)
	}
	t.Cleanup(func() {
		_ = activityStore.Close()
	})

	return economyStore, progressionStore, activityStore
}

func TestBuildServicesDispatchesMessageEvent(t *testing.T) {
	economyStore, progressionStore, activityStore := openTempStores(t)
	ctx := context.Background()

	services := buildServices(economyStore, progressionStore, activityStore, RuntimeConfig{Consumer: "bot-test"})

	if err := services.Settings.Put(ctx, progstorage.Settings{
		CommunityID:      "community-1",
		Enabled:          true,
		XPPerMessage:     15,
		XPPerVoiceMinute: 10,
	}); err != nil {
		t.Fatalf("put settings: %v", err)
	}

	now := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	if err := activityStore.AppendEvent(ctx, activitystorage.Event{
		ID:            "evt-1",
		CommunityID:   "community-1",
		MemberID:      "member-1",
		Kind:          activitystorage.EventKindMessage,
		DedupeKey:     "message:chan-1:msg-1",
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	processed, err := services.Dispatcher.ProcessOnce(ctx, now)
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	record, err := services.Engine.Progression(ctx, "community-1", "member-1")
	if err != nil {
		t.Fatalf("get progression: %v", err)
	}
	if record.Experience != 15 {
		t.Errorf("experience = %d, want 15", record.Experience)
	}
	if record.MessageCount != 1 {
		t.Errorf("message count = %d, want 1", record.MessageCount)
	}

	event, err := activityStore.GetEvent(ctx, "evt-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if event.Status != activitystorage.EventStatusSucceeded {
		t.Errorf("event status = %q, want %q", event.Status, activitystorage.EventStatusSucceeded)
	}
}

func TestBuildServicesAdminGrantCreditsLedger(t *testing.T) {
	economyStore, progressionStore, activityStore := openTempStores(t)
	ctx := context.Background()

	services := buildServices(economyStore, progressionStore, activityStore, RuntimeConfig{Consumer: "bot-test"})

	now := time.Date(2026, 8, 15, 10, 5, 0, 0, time.UTC)
	if err := activityStore.AppendEvent(ctx, activitystorage.Event{
		ID:            "evt-1",
		CommunityID:   "community-1",
		MemberID:      "member-1",
		Kind:          activitystorage.EventKindAdminGrant,
		PayloadJSON:   `{"amount":500}`,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	if _, err := services.Dispatcher.ProcessOnce(ctx, now); err != nil {
		t.Fatalf("process once: %v", err)
	}

	balance, err := services.Ledger.Balance(ctx, "community-1", "member-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 500 {
		t.Errorf("balance = %d, want 500", balance)
	}
}
