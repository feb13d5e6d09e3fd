package cache

import (
	"context"
	"errors"
	"time"

	"triptrack/internal/apperr"
	"triptrack/internal/model"
)

var errNoRecord = errors.New("participant record missing")

// ParticipantCache is the trip runtime state store. Every write to a record
// is followed by a leaderboard write for the same participant. The two keys
// are not updated atomically; both writes are overwrites, so re-applying a
// mutation after a partial failure converges to the same state.
type ParticipantCache interface {
	// Add creates (or overwrites) the record and seeds the leaderboard
	Add(ctx context.Context, tripID string, p *model.Participant) error
	Get(ctx context.Context, tripID, userID string) (*model.Participant, error)
	// Update merges a partial patch; a score patch is pushed to the leaderboard
	Update(ctx context.Context, tripID, userID string, patch model.ParticipantPatch) (*model.Participant, error)
	// Apply runs fn against the stored record under an optimistic lock and
	// pushes the recomputed total to the leaderboard
	Apply(ctx context.Context, tripID, userID string, fn func(p *model.Participant) error) (*model.Participant, error)
	// Remove deletes the record and the leaderboard entry; a missing half is
	// reported as an inconsistency
	Remove(ctx context.Context, tripID, userID string) error
	// Purge drops every record of the trip
	Purge(ctx context.Context, tripID string) (int64, error)
}

type participantCache struct {
	store       Store
	leaderboard LeaderboardCache
	ttl         time.Duration
}

// NewParticipantCache creates a new participant cache
func NewParticipantCache(store Store, leaderboard LeaderboardCache, ttl time.Duration) ParticipantCache {
	return &participantCache{
		store:       store,
		leaderboard: leaderboard,
		ttl:         ttl,
	}
}

func (c *participantCache) Add(ctx context.Context, tripID string, p *model.Participant) error {
	if err := c.store.Set(ctx, ParticipantKey(tripID, p.UserID), p, c.ttl); err != nil {
		return err
	}
	return c.leaderboard.Upsert(ctx, tripID, p.UserID, p.Total())
}

func (c *participantCache) Get(ctx context.Context, tripID, userID string) (*model.Participant, error) {
	var p model.Participant
	found, err := c.store.Get(ctx, ParticipantKey(tripID, userID), &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, c.notFound(ctx, tripID, userID)
	}
	return &p, nil
}

func (c *participantCache) Update(ctx context.Context, tripID, userID string, patch model.ParticipantPatch) (*model.Participant, error) {
	return c.mutate(ctx, tripID, userID, func(p *model.Participant) (bool, error) {
		return patch.Apply(p), nil
	})
}

func (c *participantCache) Apply(ctx context.Context, tripID, userID string, fn func(p *model.Participant) error) (*model.Participant, error) {
	return c.mutate(ctx, tripID, userID, func(p *model.Participant) (bool, error) {
		return true, fn(p)
	})
}

func (c *participantCache) mutate(ctx context.Context, tripID, userID string, fn func(p *model.Participant) (bool, error)) (*model.Participant, error) {
	var (
		p            model.Participant
		scoreChanged bool
	)
	err := c.store.Mutate(ctx, ParticipantKey(tripID, userID), &p, c.ttl, func(exists bool) (bool, error) {
		if !exists {
			return false, errNoRecord
		}
		changed, err := fn(&p)
		if err != nil {
			return false, err
		}
		scoreChanged = changed
		return true, nil
	})
	if errors.Is(err, errNoRecord) {
		return nil, c.notFound(ctx, tripID, userID)
	}
	if err != nil {
		return nil, err
	}

	if scoreChanged {
		if err := c.leaderboard.Upsert(ctx, tripID, userID, p.Total()); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func (c *participantCache) Remove(ctx context.Context, tripID, userID string) error {
	deleted, err := c.store.Delete(ctx, ParticipantKey(tripID, userID))
	if err != nil {
		return err
	}
	removed, err := c.leaderboard.Remove(ctx, tripID, userID)
	if err != nil {
		return err
	}

	switch {
	case deleted == 0 && !removed:
		return c.notFound(ctx, tripID, userID)
	case deleted == 0 || !removed:
		return &apperr.Error{
			Kind:      apperr.KindInternal,
			Code:      apperr.CodeRuntimeInconsistent,
			Message:   "participant record and leaderboard entry were out of sync",
			Subsystem: apperr.SubsystemRedis,
		}
	}
	return nil
}

func (c *participantCache) Purge(ctx context.Context, tripID string) (int64, error) {
	return c.store.DeletePattern(ctx, participantPattern(tripID))
}

// notFound tells a trip without runtime state apart from a user who never joined
func (c *participantCache) notFound(ctx context.Context, tripID, userID string) error {
	started, err := c.store.Exists(ctx, ExperiencesKey(tripID))
	if err != nil {
		return err
	}
	if !started {
		return notStarted(tripID)
	}
	return apperr.NotFound(apperr.CodeParticipantNotFound, "user %s has not joined trip %s", userID, tripID)
}
