// Package activity dispatches queued gateway events to the progression and
// economy services.
//
// The gateway layer appends events to a durable queue instead of mutating
// balances inline; the dispatcher drains that queue with a lease, retry, and
// dead-letter protocol so a crashed worker never loses or double-applies an
// event.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/concordbot/concord/internal/services/activity/storage"
	"github.com/concordbot/concord/internal/services/progression"
	progstorage "github.com/concordbot/concord/internal/services/progression/storage"
)

const (
	defaultConsumer      = "bot-dispatcher"
	defaultPollInterval  = 2 * time.Second
	defaultBatchSize     = 16
	defaultLeaseTTL      = 30 * time.Second
	defaultMaxAttempts   = 8
	defaultRetryBackoff  = 5 * time.Second
	defaultRetryMaxDelay = 5 * time.Minute
)

// Config controls the dispatch loop.
type Config struct {
	Consumer      string
	PollInterval  time.Duration
	BatchSize     int
	LeaseTTL      time.Duration
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) normalized() Config {
	c.Consumer = strings.TrimSpace(c.Consumer)
	if c.Consumer == "" {
		c.Consumer = defaultConsumer
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultLeaseTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	return c
}

// ExperienceGranter applies accumulated activity to one member. Satisfied by
// progression.Engine.
type ExperienceGranter interface {
	AddExperience(ctx context.Context, communityID, memberID string, xp int64, delta progression.ActivityDelta) (progression.Result, error)
}

// CoinCrediter credits coins to one member. Satisfied by economy.Ledger.
type CoinCrediter interface {
	Credit(ctx context.Context, communityID, memberID string, amount int64) (int64, error)
}

// SettingsSource returns per-community progression settings. Satisfied by
// progression.SettingsManager.
type SettingsSource interface {
	Get(ctx context.Context, communityID string) (progstorage.Settings, error)
}

// Dispatcher drains the activity event queue.
type Dispatcher struct {
	store    storage.EventStore
	engine   ExperienceGranter
	ledger   CoinCrediter
	settings SettingsSource
	cfg      Config
	logf     func(format string, args ...any)
}

// NewDispatcher creates an activity dispatcher. logf may be nil, defaulting
// to log.Printf.
func NewDispatcher(store storage.EventStore, engine ExperienceGranter, ledger CoinCrediter, settings SettingsSource, cfg Config, logf func(format string, args ...any)) *Dispatcher {
	if logf == nil {
		logf = log.Printf
	}
	return &Dispatcher{
		store:    store,
		engine:   engine,
		ledger:   ledger,
		settings: settings,
		cfg:      cfg.normalized(),
		logf:     logf,
	}
}

// Run polls for due events until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d == nil || d.store == nil {
		return fmt.Errorf("dispatcher is not configured")
	}

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if processed, err := d.ProcessOnce(ctx, time.Now().UTC()); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			d.logf("process activity events: %v", err)
		} else if processed > 0 {
			// Drain the backlog before sleeping again.
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessOnce leases and handles one batch of due events, reporting how many
// were leased.
func (d *Dispatcher) ProcessOnce(ctx context.Context, now time.Time) (int, error) {
	if d == nil || d.store == nil {
		return 0, fmt.Errorf("dispatcher is not configured")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	leased, err := d.store.LeaseEvents(ctx, d.cfg.Consumer, d.cfg.BatchSize, now, d.cfg.LeaseTTL)
	if err != nil {
		return 0, fmt.Errorf("lease activity events: %w", err)
	}

	for _, event := range leased {
		if err := ctx.Err(); err != nil {
			return len(leased), err
		}
		d.dispatch(ctx, event, now)
	}
	return len(leased), nil
}

func (d *Dispatcher) dispatch(ctx context.Context, event storage.Event, now time.Time) {
	handleErr := d.handle(ctx, event)
	if handleErr == nil {
		if err := d.store.MarkSucceeded(ctx, event.ID, d.cfg.Consumer, now); err != nil {
			d.logf("ack activity event %s: %v", event.ID, err)
		}
		return
	}

	// MarkRetry increments the stored attempt count, so the attempt that
	// just failed is AttemptCount+1.
	attempts := event.AttemptCount + 1
	if attempts >= d.cfg.MaxAttempts {
		d.logf("activity event %s dead after %d attempts: %v", event.ID, attempts, handleErr)
		if err := d.store.MarkDead(ctx, event.ID, d.cfg.Consumer, handleErr.Error(), now); err != nil {
			d.logf("mark activity event %s dead: %v", event.ID, err)
		}
		return
	}

	nextAttemptAt := now.Add(d.retryDelay(attempts))
	d.logf("activity event %s attempt %d failed, retrying at %s: %v", event.ID, attempts, nextAttemptAt.Format(time.RFC3339), handleErr)
	if err := d.store.MarkRetry(ctx, event.ID, d.cfg.Consumer, nextAttemptAt, handleErr.Error()); err != nil {
		d.logf("mark activity event %s retry: %v", event.ID, err)
	}
}

// retryDelay doubles the backoff per attempt up to the configured ceiling.
func (d *Dispatcher) retryDelay(attempts int) time.Duration {
	delay := d.cfg.RetryBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.cfg.RetryMaxDelay {
			return d.cfg.RetryMaxDelay
		}
	}
	if delay > d.cfg.RetryMaxDelay {
		return d.cfg.RetryMaxDelay
	}
	return delay
}

type voiceTickPayload struct {
	Minutes int64 `json:"minutes"`
}

type adminGrantPayload struct {
	Amount int64 `json:"amount"`
}

func (d *Dispatcher) handle(ctx context.Context, event storage.Event) error {
	switch event.Kind {
	case storage.EventKindMessage:
		return d.handleMessage(ctx, event)
	case storage.EventKindVoiceTick:
		return d.handleVoiceTick(ctx, event)
	case storage.EventKindAdminGrant:
		return d.handleAdminGrant(ctx, event)
	default:
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, event storage.Event) error {
	if d.engine == nil || d.settings == nil {
		return fmt.Errorf("progression dependencies are not configured")
	}
	settings, err := d.settings.Get(ctx, event.CommunityID)
	if err != nil {
		return fmt.Errorf("get settings for %s: %w", event.CommunityID, err)
	}
	if !settings.Enabled {
		return nil
	}
	if _, err := d.engine.AddExperience(ctx, event.CommunityID, event.MemberID, settings.XPPerMessage, progression.ActivityDelta{Messages: 1}); err != nil {
		return fmt.Errorf("grant message experience: %w", err)
	}
	return nil
}

func (d *Dispatcher) handleVoiceTick(ctx context.Context, event storage.Event) error {
	if d.engine == nil || d.settings == nil {
		return fmt.Errorf("progression dependencies are not configured")
	}
	var payload voiceTickPayload
	if err := json.Unmarshal([]byte(event.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("decode voice tick payload: %w", err)
	}
	if payload.Minutes <= 0 {
		return fmt.Errorf("voice tick minutes must be greater than zero")
	}
	settings, err := d.settings.Get(ctx, event.CommunityID)
	if err != nil {
		return fmt.Errorf("get settings for %s: %w", event.CommunityID, err)
	}
	if !settings.Enabled {
		return nil
	}
	xp := settings.XPPerVoiceMinute * payload.Minutes
	if _, err := d.engine.AddExperience(ctx, event.CommunityID, event.MemberID, xp, progression.ActivityDelta{VoiceMinutes: payload.Minutes}); err != nil {
		return fmt.Errorf("grant voice experience: %w", err)
	}
	return nil
}

func (d *Dispatcher) handleAdminGrant(ctx context.Context, event storage.Event) error {
	if d.ledger == nil {
		return fmt.Errorf("ledger dependency is not configured")
	}
	var payload adminGrantPayload
	if err := json.Unmarshal([]byte(event.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("decode admin grant payload: %w", err)
	}
	if payload.Amount <= 0 {
		return fmt.Errorf("admin grant amount must be greater than zero")
	}
	if _, err := d.ledger.Credit(ctx, event.CommunityID, event.MemberID, payload.Amount); err != nil {
		return fmt.Errorf("credit admin grant: %w", err)
	}
	return nil
}
