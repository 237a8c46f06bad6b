// Package storage defines persistence contracts for progression service state.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// MemberProgression is one member's activity record within a community.
// Level is a cached projection of Experience through the level curve and is
// recomputed on every write rather than on read.
type MemberProgression struct {
	CommunityID  string
	MemberID     string
	Experience   int64
	Level        int
	MessageCount int64
	VoiceMinutes int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Settings holds per-community leveling configuration.
type Settings struct {
	CommunityID      string
	Enabled          bool
	XPPerMessage     int64
	XPPerVoiceMinute int64
	LevelUpChannelID string
	LevelUpMessage   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProgressionStore persists member progression records.
//
// Experience and activity counters commute, so AddExperience is one atomic
// upsert-increment: concurrent writes for the same member serialize at the
// store and the final counters equal the sum of all deltas in any order.
type ProgressionStore interface {
	// AddExperience increments experience, message_count and voice_minutes,
	// creating the record with initialLevel when absent. It returns the level
	// stored before the write (zero when the record was created) and the
	// record after it.
	AddExperience(ctx context.Context, communityID, memberID string, xp, messages, voiceMinutes int64, initialLevel int) (int, MemberProgression, error)
	// RaiseLevel persists level only when it exceeds the stored value, so
	// replays and races can never lower a member's level.
	RaiseLevel(ctx context.Context, communityID, memberID string, level int) error
	// PutProgression overwrites experience and level together. Administrative
	// override path; activity counters are preserved when the record exists.
	PutProgression(ctx context.Context, communityID, memberID string, experience int64, level int) error
	GetProgression(ctx context.Context, communityID, memberID string) (MemberProgression, error)
	// ListByExperience returns all members of a community ordered by
	// experience descending, ties broken by member id for stable ranks.
	ListByExperience(ctx context.Context, communityID string) ([]MemberProgression, error)
}

// SettingsStore persists per-community leveling settings.
type SettingsStore interface {
	GetSettings(ctx context.Context, communityID string) (Settings, error)
	PutSettings(ctx context.Context, settings Settings) error
}
