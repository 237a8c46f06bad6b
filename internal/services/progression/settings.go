package progression

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/concordbot/concord/internal/services/progression/storage"
)

// Default per-activity experience rates, applied when a community has no
// stored settings.
const (
	DefaultXPPerMessage     = 15
	DefaultXPPerVoiceMinute = 10
)

// SettingsManager reads and writes per-community leveling settings,
// applying defaults for communities that never configured leveling.
type SettingsManager struct {
	store storage.SettingsStore
}

// NewSettingsManager creates a settings manager over the given store.
func NewSettingsManager(store storage.SettingsStore) *SettingsManager {
	return &SettingsManager{store: store}
}

// DefaultSettings returns the settings used for an unconfigured community:
// leveling disabled with the default experience rates.
func DefaultSettings(communityID string) storage.Settings {
	return storage.Settings{
		CommunityID:      communityID,
		Enabled:          false,
		XPPerMessage:     DefaultXPPerMessage,
		XPPerVoiceMinute: DefaultXPPerVoiceMinute,
	}
}

// Get returns the community's settings, falling back to the defaults when
// none are stored.
func (m *SettingsManager) Get(ctx context.Context, communityID string) (storage.Settings, error) {
	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return storage.Settings{}, fmt.Errorf("community id is required")
	}
	settings, err := m.store.GetSettings(ctx, communityID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return DefaultSettings(communityID), nil
		}
		return storage.Settings{}, err
	}
	return settings, nil
}

// Put validates and stores the community's settings.
func (m *SettingsManager) Put(ctx context.Context, settings storage.Settings) error {
	if strings.TrimSpace(settings.CommunityID) == "" {
		return fmt.Errorf("community id is required")
	}
	if settings.XPPerMessage < 0 || settings.XPPerVoiceMinute < 0 {
		return fmt.Errorf("xp rates must not be negative")
	}
	return m.store.PutSettings(ctx, settings)
}
