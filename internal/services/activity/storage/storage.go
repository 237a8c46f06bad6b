// Package storage defines the activity event storage contract.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested record does not exist, or that a
// guarded status transition matched no row.
var ErrNotFound = errors.New("not found")

// Event statuses.
const (
	EventStatusPending   = "pending"
	EventStatusLeased    = "leased"
	EventStatusSucceeded = "succeeded"
	EventStatusDead      = "dead"
)

// Event kinds produced by the gateway layer.
const (
	EventKindMessage    = "message"
	EventKindVoiceTick  = "voice_tick"
	EventKindAdminGrant = "admin_grant"
)

// Event is one queued activity event awaiting dispatch.
type Event struct {
	ID             string
	CommunityID    string
	MemberID       string
	Kind           string
	PayloadJSON    string
	DedupeKey      string
	Status         string
	AttemptCount   int
	NextAttemptAt  time.Time
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	LastError      string
	ProcessedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EventStore persists the activity event queue.
type EventStore interface {
	// AppendEvent enqueues one event. Events carrying a non-empty dedupe
	// key are dropped silently when that key was already enqueued.
	AppendEvent(ctx context.Context, event Event) error
	// GetEvent returns one event by ID.
	GetEvent(ctx context.Context, id string) (Event, error)
	// LeaseEvents claims due events for one consumer, including leased
	// events whose lease has expired.
	LeaseEvents(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]Event, error)
	// MarkSucceeded finalizes one leased event held by consumer.
	MarkSucceeded(ctx context.Context, id, consumer string, processedAt time.Time) error
	// MarkRetry returns one leased event to pending with an incremented
	// attempt count and a future next attempt time.
	MarkRetry(ctx context.Context, id, consumer string, nextAttemptAt time.Time, lastError string) error
	// MarkDead parks one leased event permanently.
	MarkDead(ctx context.Context, id, consumer string, lastError string, processedAt time.Time) error
}
