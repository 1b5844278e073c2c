package share

import (
	"encoding/json"
	"errors"
	"kniffel/internal/kv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	SettingsKey     = "share-settings"
	DefaultGameName = "Kniffel Extreme (Sniper)"
)

var ErrBlankName = errors.New("game name must not be blank")

type Settings struct {
	GameName string `json:"gameName"`
}

func DefaultSettings() Settings {
	return Settings{GameName: DefaultGameName}
}

// SettingsStore keeps the export settings in the key-value store. Saved values
// are merged over the defaults so fields added later get sensible values.
type SettingsStore struct {
	mu       sync.Mutex
	kv       kv.Store
	log      zerolog.Logger
	settings Settings
}

func NewSettingsStore(store kv.Store, log zerolog.Logger) *SettingsStore {
	s := &SettingsStore{
		kv:  store,
		log: log.With().Str("component", "share").Logger(),
	}
	s.settings = s.load()
	return s
}

func (s *SettingsStore) load() Settings {
	settings := DefaultSettings()
	data, err := s.kv.Get(SettingsKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.log.Warn().Err(err).Msg("cannot read share settings")
		}
		return settings
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		s.log.Warn().Err(err).Msg("share settings are corrupt, using defaults")
		return DefaultSettings()
	}
	if strings.TrimSpace(settings.GameName) == "" {
		settings.GameName = DefaultGameName
	}
	return settings
}

func (s *SettingsStore) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetGameName trims name and saves it.
func (s *SettingsStore) SetGameName(name string) (Settings, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Settings{}, ErrBlankName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.GameName = name
	s.persistLocked()
	return s.settings, nil
}

// Reset restores the defaults.
func (s *SettingsStore) Reset() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = DefaultSettings()
	s.persistLocked()
	return s.settings
}

func (s *SettingsStore) persistLocked() {
	data, err := json.Marshal(s.settings)
	if err != nil {
		s.log.Error().Err(err).Msg("cannot encode share settings")
		return
	}
	if err := s.kv.Set(SettingsKey, data); err != nil {
		s.log.Warn().Err(err).Msg("cannot persist share settings")
	}
}
