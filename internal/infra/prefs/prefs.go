// Package prefs provides read access to the persisted call preferences.
package prefs

import (
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/ini.v1"
)

const section = "callkeep"

// Keys in the [callkeep] section.
const (
	KeyLaunchBackgroundEvenIfAppIsOpen = "launch_background_even_if_app_open"
	KeySignalingServiceEnabled         = "signaling_service_enabled"
	KeySMSPrefix                       = "sms_prefix"
	KeySMSRegex                        = "sms_regex"
	KeyRingtonePath                    = "ringtone_path"
)

// Store exposes the persisted preferences. Getters never fail; missing or
// malformed keys read as zero values.
type Store struct {
	mu   sync.RWMutex
	path string
	file *ini.File
}

// Load reads the preference file. A missing file yields an empty store.
func Load(path string) (*Store, error) {
	file, err := ini.LooseLoad(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load preferences from %s", path)
	}
	return &Store{path: path, file: file}, nil
}

// FromBytes builds a store from in-memory ini content.
func FromBytes(data []byte) (*Store, error) {
	file, err := ini.Load(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse preferences")
	}
	return &Store{file: file}, nil
}

// Reload re-reads the backing file. Stores built from bytes are left unchanged.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	file, err := ini.LooseLoad(s.path)
	if err != nil {
		return errors.Wrapf(err, "failed to reload preferences from %s", s.path)
	}

	s.mu.Lock()
	s.file = file
	s.mu.Unlock()

	zlog.Info().Msgf("preferences reloaded: path=%s", s.path)
	return nil
}

// LaunchBackgroundEvenIfAppIsOpen reports whether the background context is
// launched for every inbound event.
func (s *Store) LaunchBackgroundEvenIfAppIsOpen() bool {
	return s.key(KeyLaunchBackgroundEvenIfAppIsOpen).MustBool(false)
}

// SignalingServiceEnabled reports whether the signaling service starts at boot.
func (s *Store) SignalingServiceEnabled() bool {
	return s.key(KeySignalingServiceEnabled).MustBool(false)
}

// SMSPrefix returns the prefix an inbound SMS must start with.
func (s *Store) SMSPrefix() string {
	return s.key(KeySMSPrefix).String()
}

// SMSRegex returns the pattern an inbound SMS must match.
func (s *Store) SMSRegex() string {
	return s.key(KeySMSRegex).String()
}

// RingtonePath returns the configured ringtone path.
func (s *Store) RingtonePath() string {
	return s.key(KeyRingtonePath).String()
}

func (s *Store) key(name string) *ini.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.Section(section).Key(name)
}
