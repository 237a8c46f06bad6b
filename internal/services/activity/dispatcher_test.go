package activity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/concordbot/concord/internal/services/activity/storage"
	"github.com/concordbot/concord/internal/services/progression"
	progstorage "github.com/concordbot/concord/internal/services/progression/storage"
)

type fakeEventStore struct {
	leased    []storage.Event
	succeeded []string
	retried   []retryCall
	dead      []string
}

type retryCall struct {
	id            string
	nextAttemptAt time.Time
	lastError     string
}

func (f *fakeEventStore) AppendEvent(ctx context.Context, event storage.Event) error {
	return nil
}

func (f *fakeEventStore) GetEvent(ctx context.Context, id string) (storage.Event, error) {
	return storage.Event{}, storage.ErrNotFound
}

func (f *fakeEventStore) LeaseEvents(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]storage.Event, error) {
	leased := f.leased
	f.leased = nil
	return leased, nil
}

func (f *fakeEventStore) MarkSucceeded(ctx context.Context, id, consumer string, processedAt time.Time) error {
	f.succeeded = append(f.succeeded, id)
	return nil
}

func (f *fakeEventStore) MarkRetry(ctx context.Context, id, consumer string, nextAttemptAt time.Time, lastError string) error {
	f.retried = append(f.retried, retryCall{id: id, nextAttemptAt: nextAttemptAt, lastError: lastError})
	return nil
}

func (f *fakeEventStore) MarkDead(ctx context.Context, id, consumer string, lastError string, processedAt time.Time) error {
	f.dead = append(f.dead, id)
	return nil
}

type grantCall struct {
	communityID string
	memberID    string
	xp          int64
	delta       progression.ActivityDelta
}

type fakeGranter struct {
	calls []grantCall
	err   error
}

func (f *fakeGranter) AddExperience(ctx context.Context, communityID, memberID string, xp int64, delta progression.ActivityDelta) (progression.Result, error) {
	if f.err != nil {
		return progression.Result{}, f.err
	}
	f.calls = append(f.calls, grantCall{communityID: communityID, memberID: memberID, xp: xp, delta: delta})
	return progression.Result{}, nil
}

type creditCall struct {
	communityID string
	memberID    string
	amount      int64
}

type fakeCrediter struct {
	calls []creditCall
}

func (f *fakeCrediter) Credit(ctx context.Context, communityID, memberID string, amount int64) (int64, error) {
	f.calls = append(f.calls, creditCall{communityID: communityID, memberID: memberID, amount: amount})
	return amount, nil
}

type fakeSettings struct {
	settings progstorage.Settings
}

func (f *fakeSettings) Get(ctx context.Context, communityID string) (progstorage.Settings, error) {
	return f.settings, nil
}

func newTestDispatcher(store *fakeEventStore, granter *fakeGranter, crediter *fakeCrediter, settings *fakeSettings) *Dispatcher {
	return NewDispatcher(store, granter, crediter, settings, Config{
		Consumer:      "worker-test",
		MaxAttempts:   3,
		RetryBackoff:  5 * time.Second,
		RetryMaxDelay: time.Minute,
	}, func(string, ...any) {})
}

func TestDispatcherHandlesMessageEvent(t *testing.T) {
	store := &fakeEventStore{leased: []storage.Event{{
		ID:          "evt-1",
		CommunityID: "community-1",
		MemberID:    "member-1",
		Kind:        storage.EventKindMessage,
		PayloadJSON: "{}",
	}}}
	granter := &fakeGranter{}
	settings := &fakeSettings{settings: progstorage.Settings{Enabled: true, XPPerMessage: 15, XPPerVoiceMinute: 10}}

	d := newTestDispatcher(store, granter, &fakeCrediter{}, settings)
	processed, err := d.ProcessOnce(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}
	if len(granter.calls) != 1 {
		t.Fatalf("granter calls = %d, want 1", len(granter.calls))
	}
	call := granter.calls[0]
	if call.xp != 15 {
		t.Errorf("xp = %d, want 15", call.xp)
	}
	if call.delta.Messages != 1 {
		t.Errorf("messages delta = %d, want 1", call.delta.Messages)
	}
	if len(store.succeeded) != 1 || store.succeeded[0] != "evt-1" {
		t.Errorf("succeeded = %v, want [evt-1]", store.succeeded)
	}
}

func TestDispatcherSkipsDisabledCommunity(t *testing.T) {
	store := &fakeEventStore{leased: []storage.Event{{
		ID:          "evt-1",
		CommunityID: "community-1",
		MemberID:    "member-1",
		Kind:        storage.EventKindMessage,
		PayloadJSON: "{}",
	}}}
	granter := &fakeGranter{}
	settings := &fakeSettings{settings: progstorage.Settings{Enabled: false, XPPerMessage: 15}}

	d := newTestDispatcher(store, granter, &fakeCrediter{}, settings)
	if _, err := d.ProcessOnce(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(granter.calls) != 0 {
		t.Errorf("granter calls = %d, want 0", len(granter.calls))
	}
	if len(store.succeeded) != 1 {
		t.Errorf("succeeded = %v, want one ack", store.succeeded)
	}
}

func TestDispatcherHandlesVoiceTick(t *testing.T) {
	store := &fakeEventStore{leased: []storage.Event{{
		ID:          "evt-1",
		CommunityID: "community-1",
		MemberID:    "member-1",
		Kind:        storage.EventKindVoiceTick,
		PayloadJSON: `{"minutes":3}`,
	}}}
	granter := &fakeGranter{}
	settings := &fakeSettings{settings: progstorage.Settings{Enabled: true, XPPerVoiceMinute: 10}}

	d := newTestDispatcher(store, granter, &fakeCrediter{}, settings)
	if _, err := d.ProcessOnce(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(granter.calls) != 1 {
		t.Fatalf("granter calls = %d, want 1", len(granter.calls))
	}
	call := granter.calls[0]
	if call.xp != 30 {
		t.Errorf("xp = %d, want 30", call.xp)
	}
	if call.delta.VoiceMinutes != 3 {
		t.Errorf("voice minutes delta = %d, want 3", call.delta.VoiceMinutes)
	}
}

func TestDispatcherHandlesAdminGrant(t *testing.T) {
	store := &fakeEventStore{leased: []storage.Event{{
		ID:          "evt-1",
		CommunityID: "community-1",
		MemberID:    "member-1",
		Kind:        storage.EventKindAdminGrant,
		PayloadJSON: `{"amount":500}`,
	}}}
	crediter := &fakeCrediter{}

	d := newTestDispatcher(store, &fakeGranter{}, crediter, &fakeSettings{})
	if _, err := d.ProcessOnce(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(crediter.calls) != 1 {
		t.Fatalf("crediter calls = %d, want 1", len(crediter.calls))
	}
	if crediter.calls[0].amount != 500 {
		t.Errorf("amount = %d, want 500", crediter.calls[0].amount)
	}
	if len(store.succeeded) != 1 {
		t.Errorf("succeeded = %v, want one ack", store.succeeded)
	}
}

func TestDispatcherRetriesFailedEvent(t *testing.T) {
	now := time.Date(2026, 8, 14, 22, 0, 0, 0, time.UTC)
	store := &fakeEventStore{leased: []storage.Event{{
		ID:           "evt-1",
		CommunityID:  "community-1",
		MemberID:     "member-1",
		Kind:         storage.EventKindMessage,
		PayloadJSON:  "{}",
		AttemptCount: 0,
	}}}
	granter := &fakeGranter{err: fmt.Errorf("store unavailable")}
	settings := &fakeSettings{settings: progstorage.Settings{Enabled: true, XPPerMessage: 15}}

	d := newTestDispatcher(store, granter, &fakeCrediter{}, settings)
	if _, err := d.ProcessOnce(context.Background(), now); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(store.retried) != 1 {
		t.Fatalf("retried = %d, want 1", len(store.retried))
	}
	wantAt := now.Add(5 * time.Second)
	if !store.retried[0].nextAttemptAt.Equal(wantAt) {
		t.Errorf("next attempt at = %v, want %v", store.retried[0].nextAttemptAt, wantAt)
	}
	if store.retried[0].lastError == "" {
		t.Error("expected last error to be recorded")
	}
}

func TestDispatcherDeadLettersAtMaxAttempts(t *testing.T) {
	store := &fakeEventStore{leased: []storage.Event{{
		ID:           "evt-1",
		CommunityID:  "community-1",
		MemberID:     "member-1",
		Kind:         storage.EventKindMessage,
		PayloadJSON:  "{}",
		AttemptCount: 2,
	}}}
	granter := &fakeGranter{err: fmt.Errorf("store unavailable")}
	settings := &fakeSettings{settings: progstorage.Settings{Enabled: true, XPPerMessage: 15}}

	d := newTestDispatcher(store, granter, &fakeCrediter{}, settings)
	if _, err := d.ProcessOnce(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(store.dead) != 1 || store.dead[0] != "evt-1" {
		t.Errorf("dead = %v, want [evt-1]", store.dead)
	}
	if len(store.retried) != 0 {
		t.Errorf("retried = %d, want 0", len(store.retried))
	}
}

func TestDispatcherUnknownKindGoesToRetry(t *testing.T) {
	store := &fakeEventStore{leased: []storage.Event{{
		ID:          "evt-1",
		CommunityID: "community-1",
		MemberID:    "member-1",
		Kind:        "bogus",
		PayloadJSON: "{}",
	}}}

	d := newTestDispatcher(store, &fakeGranter{}, &fakeCrediter{}, &fakeSettings{})
	if _, err := d.ProcessOnce(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(store.retried) != 1 {
		t.Errorf("retried = %d, want 1", len(store.retried))
	}
}

func TestRetryDelayDoublesUpToCeiling(t *testing.T) {
	d := newTestDispatcher(&fakeEventStore{}, &fakeGranter{}, &fakeCrediter{}, &fakeSettings{})

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, time.Minute},
		{10, time.Minute},
	}
	for _, tc := range cases {
		if got := d.retryDelay(tc.attempts); got != tc.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}
