package progression

import (
	"context"
	"fmt"
	"strings"

	"github.com/concordbot/concord/internal/services/progression/storage"
)

// Ranks is a read-only leaderboard projection over the progression table.
//
// Rank and Leaderboard scan the whole community on every call. Community
// sizes are bounded in practice; replacing the scan with a maintained order
// statistic would change tie behavior and update cost, so it stays a scan.
type Ranks struct {
	store storage.ProgressionStore
}

// NewRanks creates a rank query over the given store.
func NewRanks(store storage.ProgressionStore) *Ranks {
	return &Ranks{store: store}
}

// CommunityTotals aggregates activity across a whole community.
type CommunityTotals struct {
	Experience   int64
	Messages     int64
	VoiceMinutes int64
	Members      int
}

// Leaderboard is the top slice of a community by experience plus the
// community-wide totals.
type Leaderboard struct {
	Entries []storage.MemberProgression
	Totals  CommunityTotals
}

// Rank returns the member's 1-based position by descending experience, or 0
// when the member has no progression record.
func (r *Ranks) Rank(ctx context.Context, communityID, memberID string) (int, error) {
	communityID = strings.TrimSpace(communityID)
	memberID = strings.TrimSpace(memberID)
	if communityID == "" {
		return 0, fmt.Errorf("community id is required")
	}
	if memberID == "" {
		return 0, fmt.Errorf("member id is required")
	}

	members, err := r.store.ListByExperience(ctx, communityID)
	if err != nil {
		return 0, err
	}
	for i, member := range members {
		if member.MemberID == memberID {
			return i + 1, nil
		}
	}
	return 0, nil
}

// Leaderboard returns the top limit members by experience and the totals
// across the whole community. A non-positive limit returns every member.
func (r *Ranks) Leaderboard(ctx context.Context, communityID string, limit int) (Leaderboard, error) {
	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return Leaderboard{}, fmt.Errorf("community id is required")
	}

	members, err := r.store.ListByExperience(ctx, communityID)
	if err != nil {
		return Leaderboard{}, err
	}

	board := Leaderboard{Totals: CommunityTotals{Members: len(members)}}
	for _, member := range members {
		board.Totals.Experience += member.Experience
		board.Totals.Messages += member.MessageCount
		board.Totals.VoiceMinutes += member.VoiceMinutes
	}
	if limit > 0 && len(members) > limit {
		members = members[:limit]
	}
	board.Entries = members
	return board, nil
}
