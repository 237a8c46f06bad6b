package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/concordbot/concord/internal/services/progression/storage"
)

// GetSettings returns one community's leveling settings.
func (s *Store) GetSettings(ctx context.Context, communityID string) (storage.Settings, error) {
	if err := ctx.Err(); err != nil {
		return storage.Settings{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Settings{}, fmt.Errorf("storage is not configured")
	}
	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return storage.Settings{}, fmt.Errorf("community id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT community_id, leveling_enabled, xp_per_message, xp_per_voice_minute, level_up_channel_id, level_up_message, created_at, updated_at
FROM community_settings
WHERE community_id = ?
`, communityID)

	var settings storage.Settings
	var enabled int
	var createdAt, updatedAt int64
	if err := row.Scan(
		&settings.CommunityID,
		&enabled,
		&settings.XPPerMessage,
		&settings.XPPerVoiceMinute,
		&settings.LevelUpChannelID,
		&settings.LevelUpMessage,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Settings{}, storage.ErrNotFound
		}
		return storage.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	settings.Enabled = enabled != 0
	settings.CreatedAt = fromMillis(createdAt)
	settings.UpdatedAt = fromMillis(updatedAt)
	return settings, nil
}

// PutSettings upserts one community's leveling settings.
func (s *Store) PutSettings(ctx context.Context, settings storage.Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	communityID := strings.TrimSpace(settings.CommunityID)
	if communityID == "" {
		return fmt.Errorf("community id is required")
	}
	if settings.XPPerMessage < 0 || settings.XPPerVoiceMinute < 0 {
		return fmt.Errorf("xp rates must not be negative")
	}

	enabled := 0
	if settings.Enabled {
		enabled = 1
	}
	now := time.Now().UTC()
	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO community_settings (community_id, leveling_enabled, xp_per_message, xp_per_voice_minute, level_up_channel_id, level_up_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(community_id) DO UPDATE SET
  leveling_enabled = excluded.leveling_enabled,
  xp_per_message = excluded.xp_per_message,
  xp_per_voice_minute = excluded.xp_per_voice_minute,
  level_up_channel_id = excluded.level_up_channel_id,
  level_up_message = excluded.level_up_message,
  updated_at = excluded.updated_at
`,
		communityID,
		enabled,
		settings.XPPerMessage,
		settings.XPPerVoiceMinute,
		settings.LevelUpChannelID,
		settings.LevelUpMessage,
		toMillis(now),
		toMillis(now),
	); err != nil {
		return fmt.Errorf("put settings: %w", err)
	}
	return nil
}
