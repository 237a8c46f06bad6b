// Package tickets tracks ephemeral workflow metadata for support-ticket
// channels.
//
// The registry is deliberately process-local and never persisted: it is
// written while a ticket channel lives, read once by the log-emission layer
// when the channel is deleted, and removed right after that read. Metadata
// for open tickets is lost on restart, an accepted limitation.
package tickets

import (
	"sort"
	"strings"
	"sync"
)

// CloseArtifacts records what the transcript pass produced for a closing
// ticket.
type CloseArtifacts struct {
	TranscriptName string
	MessageCount   int
}

// Meta is the workflow metadata for one ticket channel.
type Meta struct {
	OpenerID       string
	CategoryKey    string
	ClaimedByID    string
	ExtraMemberIDs []string
	ClosedBy       string
	OnClose        CloseArtifacts
}

// Patch carries a partial metadata update. Empty fields are left untouched;
// ExtraMemberIDs are unioned into the existing set.
type Patch struct {
	OpenerID       string
	CategoryKey    string
	ClaimedByID    string
	ExtraMemberIDs []string
}

// Registry is a concurrency-safe in-process store of ticket metadata keyed
// by channel id. Construct one per process; it is not a package singleton so
// tests can instantiate isolated instances.
type Registry struct {
	mu      sync.Mutex
	tickets map[string]*entry
}

type entry struct {
	meta    Meta
	members map[string]struct{}
}

// NewRegistry creates an empty ticket registry.
func NewRegistry() *Registry {
	return &Registry{tickets: make(map[string]*entry)}
}

// SetMeta merge-patches the metadata for one channel, creating the entry
// when absent.
func (r *Registry) SetMeta(channelID string, patch Patch) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.ensure(channelID)
	if patch.OpenerID != "" {
		e.meta.OpenerID = patch.OpenerID
	}
	if patch.CategoryKey != "" {
		e.meta.CategoryKey = patch.CategoryKey
	}
	if patch.ClaimedByID != "" {
		e.meta.ClaimedByID = patch.ClaimedByID
	}
	for _, memberID := range patch.ExtraMemberIDs {
		memberID = strings.TrimSpace(memberID)
		if memberID == "" {
			continue
		}
		e.members[memberID] = struct{}{}
	}
}

// MarkClosed records who closed the ticket.
func (r *Registry) MarkClosed(channelID, actorID string) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.ensure(channelID)
	e.meta.ClosedBy = strings.TrimSpace(actorID)
}

// RecordCloseArtifacts stores the transcript details produced while closing.
func (r *Registry) RecordCloseArtifacts(channelID string, artifacts CloseArtifacts) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.ensure(channelID)
	if artifacts.TranscriptName != "" {
		e.meta.OnClose.TranscriptName = artifacts.TranscriptName
	}
	if artifacts.MessageCount != 0 {
		e.meta.OnClose.MessageCount = artifacts.MessageCount
	}
}

// Get returns a copy of the metadata for one channel.
func (r *Registry) Get(channelID string) (Meta, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tickets[strings.TrimSpace(channelID)]
	if !ok {
		return Meta{}, false
	}
	return e.snapshot(), true
}

// Remove deletes the metadata for one channel.
func (r *Registry) Remove(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tickets, strings.TrimSpace(channelID))
}

// Len reports how many tickets are currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tickets)
}

func (r *Registry) ensure(channelID string) *entry {
	e, ok := r.tickets[channelID]
	if !ok {
		e = &entry{members: make(map[string]struct{})}
		r.tickets[channelID] = e
	}
	return e
}

func (e *entry) snapshot() Meta {
	meta := e.meta
	if len(e.members) > 0 {
		meta.ExtraMemberIDs = make([]string, 0, len(e.members))
		for memberID := range e.members {
			meta.ExtraMemberIDs = append(meta.ExtraMemberIDs, memberID)
		}
		sort.Strings(meta.ExtraMemberIDs)
	}
	return meta
}
