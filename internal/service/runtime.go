package service

import (
	"context"
	"time"

	"triptrack/internal/apperr"
	"triptrack/internal/cache"
	"triptrack/internal/model"
	"triptrack/internal/repository"
)

// Runtime bundles the per-trip runtime caches
type Runtime struct {
	Participants cache.ParticipantCache
	Leaderboard  cache.LeaderboardCache
	Experiences  cache.ExperienceCache
}

// NewRuntime builds the runtime caches over one store
func NewRuntime(store cache.Store, ttl time.Duration) Runtime {
	leaderboard := cache.NewLeaderboardCache(store, ttl)
	return Runtime{
		Participants: cache.NewParticipantCache(store, leaderboard, ttl),
		Leaderboard:  leaderboard,
		Experiences:  cache.NewExperienceCache(store, ttl),
	}
}

// Purge drops every runtime key of a trip. It is safe to call repeatedly.
func (r Runtime) Purge(ctx context.Context, tripID string) error {
	if _, err := r.Participants.Purge(ctx, tripID); err != nil {
		return err
	}
	if err := r.Leaderboard.Delete(ctx, tripID); err != nil {
		return err
	}
	return r.Experiences.Delete(ctx, tripID)
}

// loadTrip reads a trip through the trip cache
func loadTrip(ctx context.Context, trips repository.TripRepo, tripCache cache.TripCache, tripID string) (*model.TripDetails, error) {
	if _, err := repository.ObjectID(tripID); err != nil {
		return nil, err
	}
	return tripCache.GetOrLoad(ctx, tripID, func(ctx context.Context) (*model.TripDetails, error) {
		trip, err := trips.GetDetails(ctx, tripID)
		if err != nil {
			return nil, err
		}
		if trip == nil {
			return nil, apperr.NotFound(apperr.CodeTripNotFound, "trip %s not found", tripID)
		}
		return trip, nil
	})
}

func requireUser(caller model.Identity) error {
	if caller.Role != model.RoleUser || caller.ID == "" {
		return apperr.Unauthorized(apperr.CodeNotCreator, "only registered users can manage trips")
	}
	return nil
}
