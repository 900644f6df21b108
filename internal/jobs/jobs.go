// Package jobs serves the read-only job profiles interviews are run against.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/WFHTask/AI-interview/internal/interview"
)

var (
	ErrNotFound = errors.New("job profile not found")
	ErrInactive = errors.New("job profile is not active")
	ErrExpired  = errors.New("job profile has expired")
)

// Store holds job profiles keyed by id.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]*interview.JobProfile
	now      func() time.Time
}

// New validates profiles and indexes them by id.
func New(profiles []*interview.JobProfile) (*Store, error) {
	s := &Store{now: time.Now}
	if err := s.Replace(profiles); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFile reads profiles from the "jobs" list of a YAML, JSON or TOML file.
func LoadFile(path string) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading jobs file: %w", err)
	}

	profiles, err := Decode(v.Get("jobs"))
	if err != nil {
		return nil, fmt.Errorf("decoding jobs file %s: %w", path, err)
	}
	return New(profiles)
}

// Decode converts a generic config value (a list of maps) into profiles.
// expires-at accepts RFC 3339 strings.
func Decode(raw any) ([]*interview.JobProfile, error) {
	if raw == nil {
		return nil, nil
	}

	var profiles []*interview.JobProfile
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.StringToTimeHookFunc(time.RFC3339),
		ErrorUnused: true,
		Result:      &profiles,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, err
	}
	return profiles, nil
}

// Replace swaps the whole profile set atomically.
func (s *Store) Replace(profiles []*interview.JobProfile) error {
	next := make(map[string]*interview.JobProfile, len(profiles))
	for i, p := range profiles {
		if p == nil {
			return fmt.Errorf("job %d is empty", i)
		}
		cp := *p
		cp.ID = strings.TrimSpace(cp.ID)
		if cp.ID == "" {
			return fmt.Errorf("job %d: id is required", i)
		}
		if strings.TrimSpace(cp.Title) == "" {
			return fmt.Errorf("job %s: title is required", cp.ID)
		}
		if _, dup := next[cp.ID]; dup {
			return fmt.Errorf("job %s: duplicate id", cp.ID)
		}
		next[cp.ID] = &cp
	}

	s.mu.Lock()
	s.profiles = next
	s.mu.Unlock()
	return nil
}

// GetJobProfile returns an active, unexpired profile.
func (s *Store) GetJobProfile(ctx context.Context, id string) (*interview.JobProfile, error) {
	p, err := s.Profile(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, fmt.Errorf("%w: %s", ErrInactive, id)
	}
	if p.ExpiresAt != nil && !s.now().Before(*p.ExpiresAt) {
		return nil, fmt.Errorf("%w: %s", ErrExpired, id)
	}
	return p, nil
}

// Profile returns a profile regardless of its active window. Sessions that
// already started keep using their job after it closes.
func (s *Store) Profile(_ context.Context, id string) (*interview.JobProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

// IDs lists the known profile ids in order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
