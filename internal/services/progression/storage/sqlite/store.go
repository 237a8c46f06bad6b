// Package sqlite provides a SQLite-backed progression storage implementation.
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
	"github.com/concordbot/concord/internal/services/progression/storage"
	"github.com/concordbot/concord/internal/services/progression/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists progression state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite progression store and applies embedded migrations.
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

// AddExperience increments one member's counters, creating the record with
// initialLevel when absent.
//
// The increment is a single INSERT ... ON CONFLICT DO UPDATE statement;
// increments commute, so unordered concurrent deliveries still sum to the
// same final counters. The pre-read inside the transaction only captures the
// previously stored level for the caller; it plays no part in the guard.
func (s *Store) AddExperience(ctx context.Context, communityID, memberID string, xp, messages, voiceMinutes int64, initialLevel int) (int, storage.MemberProgression, error) {
	if err := ctx.Err(); err != nil {
		return 0, storage.MemberProgression{}, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, storage.MemberProgression{}, fmt.Errorf("storage is not configured")
	}
	communityID = strings.TrimSpace(communityID)
	memberID = strings.TrimSpace(memberID)
	if communityID == "" {
		return 0, storage.MemberProgression{}, fmt.Errorf("community id is required")
	}
	if memberID == "" {
		return 0, storage.MemberProgression{}, fmt.Errorf("member id is required")
	}
	if xp < 0 || messages < 0 || voiceMinutes < 0 {
		return 0, storage.MemberProgression{}, fmt.Errorf("deltas must not be negative")
	}

	now := time.Now().UTC()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, storage.MemberProgression{}, fmt.Errorf("begin add experience transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	oldLevel := 0
	row := tx.QueryRowContext(ctx, `
SELECT level FROM member_progression WHERE community_id = ? AND member_id = ?
`, communityID, memberID)
	if err := row.Scan(&oldLevel); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, storage.MemberProgression{}, fmt.Errorf("read previous level: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO member_progression (community_id, member_id, experience, level, message_count, voice_minutes, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(community_id, member_id) DO UPDATE SET
  experience = experience + excluded.experience,
  message_count = message_count + excluded.message_count,
  voice_minutes = voice_minutes + excluded.voice_minutes,
  updated_at = excluded.updated_at
`,
		communityID,
		memberID,
		xp,
		initialLevel,
		messages,
		voiceMinutes,
		toMillis(now),
		toMillis(now),
	); err != nil {
		return 0, storage.MemberProgression{}, fmt.Errorf("add experience: %w", err)
	}

	after, err := getProgressionTx(ctx, tx, communityID, memberID)
	if err != nil {
		return 0, storage.MemberProgression{}, fmt.Errorf("read progression after increment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storage.MemberProgression{}, fmt.Errorf("commit add experience transaction: %w", err)
	}
	return oldLevel, after, nil
}

// RaiseLevel persists level only when it exceeds the stored value. A no-match
// update is not an error: replaying the same derived level is idempotent.
func (s *Store) RaiseLevel(ctx context.Context, communityID, memberID string, level int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	communityID = strings.TrimSpace(communityID)
	memberID = strings.TrimSpace(memberID)
	if communityID == "" {
		return fmt.Errorf("community id is required")
	}
	if memberID == "" {
		return fmt.Errorf("member id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
UPDATE member_progression
SET level = ?, updated_at = ?
WHERE community_id = ? AND member_id = ? AND level < ?
`,
		level,
		toMillis(time.Now().UTC()),
		communityID,
		memberID,
		level,
	); err != nil {
		return fmt.Errorf("raise level: %w", err)
	}
	return nil
}

// PutProgression overwrites experience and level together, creating the
// record when absent. Message and voice counters are preserved.
func (s *Store) PutProgression(ctx context.Context, communityID, memberID string, experience int64, level int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	communityID = strings.TrimSpace(communityID)
	memberID = strings.TrimSpace(memberID)
	if communityID == "" {
		return fmt.Errorf("community id is required")
	}
	if memberID == "" {
		return fmt.Errorf("member id is required")
	}
	if experience < 0 {
		return fmt.Errorf("experience must not be negative")
	}

	now := time.Now().UTC()
	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO member_progression (community_id, member_id, experience, level, message_count, voice_minutes, created_at, updated_at)
VALUES (?, ?, ?, ?, 0, 0, ?, ?)
ON CONFLICT(community_id, member_id) DO UPDATE SET
  experience = excluded.experience,
  level = excluded.level,
  updated_at = excluded.updated_at
`,
		communityID,
		memberID,
		experience,
		level,
		toMillis(now),
		toMillis(now),
	); err != nil {
		return fmt.Errorf("put progression: %w", err)
	}
	return nil
}

// GetProgression returns one member progression record.
func (s *Store) GetProgression(ctx context.Context, communityID, memberID string) (storage.MemberProgression, error) {
	if err := ctx.Err(); err != nil {
		return storage.MemberProgression{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.MemberProgression{}, fmt.Errorf("storage is not configured")
	}
	communityID = strings.TrimSpace(communityID)
	memberID = strings.TrimSpace(memberID)
	if communityID == "" {
		return storage.MemberProgression{}, fmt.Errorf("community id is required")
	}
	if memberID == "" {
		return storage.MemberProgression{}, fmt.Errorf("member id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT community_id, member_id, experience, level, message_count, voice_minutes, created_at, updated_at
FROM member_progression
WHERE community_id = ? AND member_id = ?
`, communityID, memberID)
	record, err := scanProgression(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MemberProgression{}, storage.ErrNotFound
		}
		return storage.MemberProgression{}, fmt.Errorf("get progression: %w", err)
	}
	return record, nil
}

// ListByExperience returns all members of a community ordered by experience
// descending, ties broken by member id. The full scan is acceptable for the
// bounded community sizes this serves.
func (s *Store) ListByExperience(ctx context.Context, communityID string) ([]storage.MemberProgression, error) {
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
SELECT community_id, member_id, experience, level, message_count, voice_minutes, created_at, updated_at
FROM member_progression
WHERE community_id = ?
ORDER BY experience DESC, member_id ASC
`, communityID)
	if err != nil {
		return nil, fmt.Errorf("list progression: %w", err)
	}
	defer rows.Close()

	var records []storage.MemberProgression
	for rows.Next() {
		record, err := scanProgression(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan progression: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progression: %w", err)
	}
	return records, nil
}

func getProgressionTx(ctx context.Context, tx *sql.Tx, communityID, memberID string) (storage.MemberProgression, error) {
	row := tx.QueryRowContext(ctx, `
SELECT community_id, member_id, experience, level, message_count, voice_minutes, created_at, updated_at
FROM member_progression
WHERE community_id = ? AND member_id = ?
`, communityID, memberID)
	return scanProgression(row.Scan)
}

type progressionScanner func(dest ...any) error

func scanProgression(scan progressionScanner) (storage.MemberProgression, error) {
	var record storage.MemberProgression
	var createdAt, updatedAt int64
	if err := scan(
		&record.CommunityID,
		&record.MemberID,
		&record.Experience,
		&record.Level,
		&record.MessageCount,
		&record.VoiceMinutes,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.MemberProgression{}, err
	}
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

var _ storage.ProgressionStore = (*Store)(nil)
var _ storage.SettingsStore = (*Store)(nil)
