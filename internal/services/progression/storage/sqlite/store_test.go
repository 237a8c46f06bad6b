package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/concordbot/concord/internal/services/progression/storage"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "progression.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestOpenAppliesConnectionPragmas(t *testing.T) {
	store := openTempStore(t)

	var journalMode string
	if err := store.sqlDB.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", journalMode)
	}

	var busyTimeout int
	if err := store.sqlDB.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", busyTimeout)
	}
}

func TestAddExperienceCreatesRecord(t *testing.T) {
	store := openTempStore(t)

	oldLevel, after, err := store.AddExperience(context.Background(), "community-1", "member-1", 140, 1, 0, 2)
	if err != nil {
		t.Fatalf("add experience: %v", err)
	}
	if oldLevel != 0 {
		t.Errorf("old level = %d, want 0 for fresh record", oldLevel)
	}
	if after.Experience != 140 {
		t.Errorf("experience = %d, want 140", after.Experience)
	}
	if after.Level != 2 {
		t.Errorf("level = %d, want 2 (initial level on insert)", after.Level)
	}
	if after.MessageCount != 1 {
		t.Errorf("message count = %d, want 1", after.MessageCount)
	}
}

func TestAddExperienceAccumulates(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if _, _, err := store.AddExperience(ctx, "community-1", "member-1", 100, 1, 0, 1); err != nil {
		t.Fatalf("first add: %v", err)
	}
	oldLevel, after, err := store.AddExperience(ctx, "community-1", "member-1", 50, 1, 3, 1)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if oldLevel != 1 {
		t.Errorf("old level = %d, want 1", oldLevel)
	}
	if after.Experience != 150 {
		t.Errorf("experience = %d, want 150", after.Experience)
	}
	if after.MessageCount != 2 {
		t.Errorf("message count = %d, want 2", after.MessageCount)
	}
	if after.VoiceMinutes != 3 {
		t.Errorf("voice minutes = %d, want 3", after.VoiceMinutes)
	}
	if after.Level != 1 {
		t.Errorf("level = %d, want 1 (not rewritten on increment)", after.Level)
	}
}

func TestConcurrentAddExperienceLosesNoIncrements(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := store.AddExperience(ctx, "community-1", "member-1", 100, 1, 0, 1); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent add experience: %v", err)
	}

	record, err := store.GetProgression(ctx, "community-1", "member-1")
	if err != nil {
		t.Fatalf("get progression: %v", err)
	}
	if record.Experience != workers*100 {
		t.Fatalf("experience = %d, want %d", record.Experience, workers*100)
	}
	if record.MessageCount != workers {
		t.Fatalf("message count = %d, want %d", record.MessageCount, workers)
	}
}

func TestRaiseLevelOnlyRaises(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if _, _, err := store.AddExperience(ctx, "community-1", "member-1", 1000, 0, 0, 5); err != nil {
		t.Fatalf("add experience: %v", err)
	}

	if err := store.RaiseLevel(ctx, "community-1", "member-1", 6); err != nil {
		t.Fatalf("raise level: %v", err)
	}
	record, err := store.GetProgression(ctx, "community-1", "member-1")
	if err != nil {
		t.Fatalf("get progression: %v", err)
	}
	if record.Level != 6 {
		t.Fatalf("level = %d, want 6", record.Level)
	}

	// Lowering is a no-op, not an error.
	if err := store.RaiseLevel(ctx, "community-1", "member-1", 3); err != nil {
		t.Fatalf("raise level below current: %v", err)
	}
	record, err = store.GetProgression(ctx, "community-1", "member-1")
	if err != nil {
		t.Fatalf("get progression: %v", err)
	}
	if record.Level != 6 {
		t.Fatalf("level = %d, want 6 (unchanged)", record.Level)
	}
}

func TestPutProgressionPreservesCounters(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if _, _, err := store.AddExperience(ctx, "community-1", "member-1", 100, 4, 7, 1); err != nil {
		t.Fatalf("add experience: %v", err)
	}

	if err := store.PutProgression(ctx, "community-1", "member-1", 21875, 25); err != nil {
		t.Fatalf("put progression: %v", err)
	}

	record, err := store.GetProgression(ctx, "community-1", "member-1")
	if err != nil {
		t.Fatalf("get progression: %v", err)
	}
	if record.Experience != 21875 {
		t.Errorf("experience = %d, want 21875", record.Experience)
	}
	if record.Level != 25 {
		t.Errorf("level = %d, want 25", record.Level)
	}
	if record.MessageCount != 4 {
		t.Errorf("message count = %d, want 4 (preserved)", record.MessageCount)
	}
	if record.VoiceMinutes != 7 {
		t.Errorf("voice minutes = %d, want 7 (preserved)", record.VoiceMinutes)
	}
}

func TestGetProgressionNotFound(t *testing.T) {
	store := openTempStore(t)

	_, err := store.GetProgression(context.Background(), "community-1", "ghost")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListByExperienceOrdersWithStableTies(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	seed := []struct {
		memberID string
		xp       int64
	}{
		{"member-c", 300},
		{"member-a", 100},
		{"member-b", 300},
		{"member-d", 200},
	}
	for _, s := range seed {
		if _, _, err := store.AddExperience(ctx, "community-1", s.memberID, s.xp, 0, 0, 0); err != nil {
			t.Fatalf("seed %s: %v", s.memberID, err)
		}
	}

	members, err := store.ListByExperience(ctx, "community-1")
	if err != nil {
		t.Fatalf("list by experience: %v", err)
	}
	want := []string{"member-b", "member-c", "member-d", "member-a"}
	if len(members) != len(want) {
		t.Fatalf("members len = %d, want %d", len(members), len(want))
	}
	for i, memberID := range want {
		if members[i].MemberID != memberID {
			t.Errorf("members[%d] = %q, want %q", i, members[i].MemberID, memberID)
		}
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.GetSettings(ctx, "community-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing settings err = %v, want ErrNotFound", err)
	}

	if err := store.PutSettings(ctx, storage.Settings{
		CommunityID:      "community-1",
		Enabled:          true,
		XPPerMessage:     20,
		XPPerVoiceMinute: 12,
		LevelUpChannelID: "chan-1",
		LevelUpMessage:   "gg {member}, level {level}!",
	}); err != nil {
		t.Fatalf("put settings: %v", err)
	}

	settings, err := store.GetSettings(ctx, "community-1")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if !settings.Enabled {
		t.Error("enabled = false, want true")
	}
	if settings.XPPerMessage != 20 {
		t.Errorf("xp per message = %d, want 20", settings.XPPerMessage)
	}
	if settings.LevelUpChannelID != "chan-1" {
		t.Errorf("level up channel = %q, want chan-1", settings.LevelUpChannelID)
	}

	// Upsert overwrites.
	if err := store.PutSettings(ctx, storage.Settings{CommunityID: "community-1", Enabled: false, XPPerMessage: 5, XPPerVoiceMinute: 1}); err != nil {
		t.Fatalf("second put: %v", err)
	}
	settings, err = store.GetSettings(ctx, "community-1")
	if err != nil {
		t.Fatalf("get settings after upsert: %v", err)
	}
	if settings.Enabled || settings.XPPerMessage != 5 {
		t.Errorf("settings after upsert = %+v, want disabled/5", settings)
	}
}
