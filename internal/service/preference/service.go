// Package preference fronts the preference store with lazy defaults and a
// short TTL cache: the dispatcher consults preferences on every record it
// processes, and a user's settings change rarely.
package preference

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/taskfleet/notifier/internal/model"
	"github.com/taskfleet/notifier/internal/repository"
)

type Service struct {
	repo  repository.PreferenceRepository
	cache *cache.Cache
}

func NewService(repo repository.PreferenceRepository) *Service {
	return &Service{
		repo:  repo,
		cache: cache.New(time.Minute, 5*time.Minute),
	}
}

// Get returns the user's preferences, creating the default row on first
// access.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*model.Preference, error) {
	if cached, found := s.cache.Get(userID.String()); found {
		return cached.(*model.Preference), nil
	}

	pref, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	if pref == nil {
		pref = model.DefaultPreference(userID)
		if err := s.repo.Upsert(ctx, pref); err != nil {
			return nil, fmt.Errorf("failed to persist default preferences: %w", err)
		}
	}

	s.cache.Set(userID.String(), pref, cache.DefaultExpiration)
	return pref, nil
}

// Update applies a partial patch on top of the current (or default)
// preferences and upserts the result.
func (s *Service) Update(ctx context.Context, userID uuid.UUID, patch *model.PreferencePatch) error {
	if patch == nil {
		return fmt.Errorf("patch cannot be nil")
	}

	pref, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}

	updated := *pref
	updated.Apply(patch)
	if err := s.repo.Upsert(ctx, &updated); err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}

	s.cache.Delete(userID.String())
	return nil
}

// ListUsersWithDigest passes through to the store; digest fan-out is not on
// the per-record hot path, so it is not cached.
func (s *Service) ListUsersWithDigest(ctx context.Context, freq model.DigestFrequency) ([]uuid.UUID, error) {
	return s.repo.ListUsersWithDigest(ctx, freq)
}
