package activity

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/concordbot/concord/internal/platform/id"
	"github.com/concordbot/concord/internal/services/activity/storage"
)

// Recorder is the gateway-facing intake for activity events. It assigns
// event ids and dedupe keys so redelivered gateway payloads collapse into a
// single queued event.
type Recorder struct {
	store storage.EventStore
}

// NewRecorder creates an event recorder over the given store.
func NewRecorder(store storage.EventStore) *Recorder {
	return &Recorder{store: store}
}

// RecordMessage enqueues a message event, deduplicated on the message id.
func (r *Recorder) RecordMessage(ctx context.Context, communityID, memberID, channelID, messageID string) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return fmt.Errorf("message id is required")
	}
	return r.append(ctx, storage.Event{
		CommunityID: communityID,
		MemberID:    memberID,
		Kind:        storage.EventKindMessage,
		PayloadJSON: fmt.Sprintf(`{"channel_id":%q}`, strings.TrimSpace(channelID)),
		DedupeKey:   "message:" + messageID,
	})
}

// RecordVoiceTick enqueues a voice activity tick. tickID identifies the
// sampling window so a redelivered tick is not counted twice.
func (r *Recorder) RecordVoiceTick(ctx context.Context, communityID, memberID, tickID string, minutes int64) error {
	tickID = strings.TrimSpace(tickID)
	if tickID == "" {
		return fmt.Errorf("tick id is required")
	}
	if minutes <= 0 {
		return fmt.Errorf("minutes must be greater than zero")
	}
	return r.append(ctx, storage.Event{
		CommunityID: communityID,
		MemberID:    memberID,
		Kind:        storage.EventKindVoiceTick,
		PayloadJSON: `{"minutes":` + strconv.FormatInt(minutes, 10) + `}`,
		DedupeKey:   "voice_tick:" + tickID,
	})
}

// RecordAdminGrant enqueues a coin grant issued by an administrator.
// grantID comes from the issuing command interaction so a retried command
// pays out once.
func (r *Recorder) RecordAdminGrant(ctx context.Context, communityID, memberID, grantID string, amount int64) error {
	grantID = strings.TrimSpace(grantID)
	if grantID == "" {
		return fmt.Errorf("grant id is required")
	}
	if amount <= 0 {
		return fmt.Errorf("amount must be greater than zero")
	}
	return r.append(ctx, storage.Event{
		CommunityID: communityID,
		MemberID:    memberID,
		Kind:        storage.EventKindAdminGrant,
		PayloadJSON: `{"amount":` + strconv.FormatInt(amount, 10) + `}`,
		DedupeKey:   "admin_grant:" + grantID,
	})
}

func (r *Recorder) append(ctx context.Context, event storage.Event) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("recorder is not configured")
	}
	eventID, err := id.NewID()
	if err != nil {
		return fmt.Errorf("generate event id: %w", err)
	}
	event.ID = eventID
	if err := r.store.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("append %s event: %w", event.Kind, err)
	}
	return nil
}
