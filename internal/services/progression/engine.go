package progression

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/concordbot/concord/internal/core/curve"
	"github.com/concordbot/concord/internal/services/progression/storage"
)

// ErrNegativeXP indicates an experience mutation was requested with a
// negative amount.
var ErrNegativeXP = errors.New("experience amount must not be negative")

// rewardPerLevel is the coin payout multiplier for reaching a new level.
const rewardPerLevel = 10

// RewardPayer credits level-up rewards. Satisfied by economy.Ledger.
type RewardPayer interface {
	PayReward(ctx context.Context, communityID, memberID string, amount int64, reference string) (int64, error)
}

// ActivityDelta carries the activity counters accompanying an experience
// grant.
type ActivityDelta struct {
	Messages     int64
	VoiceMinutes int64
}

// Result reports the outcome of one experience grant.
type Result struct {
	OldLevel   int
	NewLevel   int
	LeveledUp  bool
	RewardPaid int64
}

// Engine accumulates experience and pays level-up rewards.
type Engine struct {
	store   storage.ProgressionStore
	rewards RewardPayer
}

// NewEngine creates a progression engine. rewards may be nil, in which case
// level-ups are detected and persisted but no coins are paid.
func NewEngine(store storage.ProgressionStore, rewards RewardPayer) *Engine {
	return &Engine{store: store, rewards: rewards}
}

// AddExperience grants experience and activity counters to one member and
// pays the level-up reward when a level boundary is crossed.
//
// The counter increment is one atomic store write. The level write and the
// reward credit that follow are separate writes: recomputing the level is
// idempotent, and a crash between the level write and the credit loses the
// reward. That window is accepted; no compensation runs.
func (e *Engine) AddExperience(ctx context.Context, communityID, memberID string, xp int64, delta ActivityDelta) (Result, error) {
	communityID = strings.TrimSpace(communityID)
	memberID = strings.TrimSpace(memberID)
	if communityID == "" {
		return Result{}, fmt.Errorf("community id is required")
	}
	if memberID == "" {
		return Result{}, fmt.Errorf("member id is required")
	}
	if xp < 0 {
		return Result{}, ErrNegativeXP
	}
	if delta.Messages < 0 || delta.VoiceMinutes < 0 {
		return Result{}, fmt.Errorf("activity deltas must not be negative")
	}

	initialLevel := curve.LevelForXP(xp)
	oldLevel, after, err := e.store.AddExperience(ctx, communityID, memberID, xp, delta.Messages, delta.VoiceMinutes, initialLevel)
	if err != nil {
		return Result{}, err
	}

	newLevel := curve.LevelForXP(after.Experience)
	result := Result{OldLevel: oldLevel, NewLevel: newLevel}
	if newLevel <= oldLevel {
		return result, nil
	}
	result.LeveledUp = true

	if err := e.store.RaiseLevel(ctx, communityID, memberID, newLevel); err != nil {
		return result, fmt.Errorf("persist level %d: %w", newLevel, err)
	}

	if e.rewards == nil {
		return result, nil
	}
	reward := int64(newLevel) * rewardPerLevel
	if _, err := e.rewards.PayReward(ctx, communityID, memberID, reward, "level:"+strconv.Itoa(newLevel)); err != nil {
		return result, fmt.Errorf("pay level-up reward: %w", err)
	}
	result.RewardPaid = reward
	return result, nil
}

// SetExperience overwrites a member's experience, recomputing the cached
// level from the curve so both fields stay consistent.
func (e *Engine) SetExperience(ctx context.Context, communityID, memberID string, xp int64) error {
	if xp < 0 {
		return ErrNegativeXP
	}
	return e.store.PutProgression(ctx, communityID, memberID, xp, curve.LevelForXP(xp))
}

// SetLevel overwrites a member's level, recomputing experience as the
// curve's base value for that level.
func (e *Engine) SetLevel(ctx context.Context, communityID, memberID string, level int) error {
	if level < 0 {
		return fmt.Errorf("level must not be negative")
	}
	return e.store.PutProgression(ctx, communityID, memberID, curve.XPForLevel(level), level)
}

// Progression returns one member's record. storage.ErrNotFound propagates
// for unknown members.
func (e *Engine) Progression(ctx context.Context, communityID, memberID string) (storage.MemberProgression, error) {
	return e.store.GetProgression(ctx, communityID, memberID)
}
