package service

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"neuralcraft/internal/domain"
)

const maxUsernameRunes = 32

// Inventory lists the user's elements, granting the starter set first when
// the inventory is empty.
func (s *CraftService) Inventory(ctx context.Context, userID string) ([]domain.Element, error) {
	if userID == "" {
		return nil, domain.InvalidInput("Invalid user id")
	}
	items, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, domain.StorageFailure("list inventory", err)
	}
	if len(items) > 0 {
		return items, nil
	}
	for _, name := range s.starter {
		el, err := s.store.ElementByName(ctx, name)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				err = fmt.Errorf("starter element %q is not seeded: %w", name, err)
			}
			return nil, domain.StorageFailure("provision starter set", err)
		}
		if _, err := s.store.Grant(ctx, userID, el.ID); err != nil {
			return nil, domain.StorageFailure("provision starter set", err)
		}
	}
	s.log.Info("starter set granted", zap.String("user", userID), zap.Strings("elements", s.starter))
	items, err = s.store.List(ctx, userID)
	if err != nil {
		return nil, domain.StorageFailure("list inventory", err)
	}
	return items, nil
}

// SeedStarterSet makes sure every starter element exists in the catalog.
// Elements that already exist are not re-embedded.
func (s *CraftService) SeedStarterSet(ctx context.Context) ([]domain.Element, error) {
	out := make([]domain.Element, 0, len(s.starter))
	for _, name := range s.starter {
		el, err := s.store.ElementByName(ctx, name)
		if err == nil {
			out = append(out, el)
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, domain.StorageFailure("load starter element", err)
		}
		vec, err := s.embedder.Embed(ctx, domain.LowerName(name))
		if err != nil || len(vec) == 0 {
			return nil, fmt.Errorf("%w: starter element %q: %v", domain.ErrEmbeddingUnavailable, name, err)
		}
		el, created, err := s.store.EnsureElement(ctx, domain.NewElement{
			Name:      domain.DisplayName(name),
			Embedding: vec,
			IsBase:    true,
		})
		if err != nil {
			return nil, domain.StorageFailure("seed starter element", err)
		}
		if created {
			s.log.Info("seeded starter element", zap.Int64("element_id", el.ID), zap.String("element", el.Name))
			if s.index != nil {
				if err := s.index.Index(ctx, el); err != nil {
					s.log.Warn("secondary index update failed", zap.Int64("element_id", el.ID), zap.Error(err))
				}
			}
		}
		out = append(out, el)
	}
	return out, nil
}

// Reindex copies every catalog embedding into the secondary index and
// returns how many elements were indexed.
func (s *CraftService) Reindex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	n := 0
	err := s.store.EachElement(ctx, func(el domain.Element) error {
		if err := s.index.Index(ctx, el); err != nil {
			return fmt.Errorf("index element %d: %w", el.ID, err)
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	s.log.Info("secondary index rebuilt", zap.Int("elements", n))
	return n, nil
}

// Leaderboard returns the top discoverers.
func (s *CraftService) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	entries, err := s.store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, domain.StorageFailure("leaderboard", err)
	}
	return entries, nil
}

// SetUsername records the name shown on the leaderboard.
func (s *CraftService) SetUsername(ctx context.Context, userID, username string) error {
	name := domain.CleanName(username)
	if userID == "" || name == "" || utf8.RuneCountInString(name) > maxUsernameRunes {
		return domain.InvalidInput("Invalid username")
	}
	if err := s.store.SetUsername(ctx, userID, name); err != nil {
		return domain.StorageFailure("set username", err)
	}
	return nil
}
