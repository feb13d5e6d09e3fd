package cache

import (
	"context"
	"errors"
	"time"

	"triptrack/internal/apperr"
	"triptrack/internal/model"
)

var errNoSlots = errors.New("experience slots missing")

// ExperienceCache tracks the podium of every experience of a started trip.
// The slot array exists exactly while the trip is started.
type ExperienceCache interface {
	// Initialize creates count empty slots. Slots that already exist are
	// returned untouched, so a repeated start never clears a podium.
	Initialize(ctx context.Context, tripID string, count int) ([]model.ExperienceSlot, error)
	GetAll(ctx context.Context, tripID string) ([]model.ExperienceSlot, error)
	GetOne(ctx context.Context, tripID string, index int) (*model.ExperienceSlot, error)
	// Update replaces the slot at index with the result of fn under the
	// same optimistic lock RecordFinish uses
	Update(ctx context.Context, tripID string, index int, fn func(slot *model.ExperienceSlot)) (*model.ExperienceSlot, error)
	// RecordFinish adds userID to the podium of the experience at index and
	// returns the place it took, 0 when no place was free
	RecordFinish(ctx context.Context, tripID string, index int, userID string) (int, error)
	Started(ctx context.Context, tripID string) (bool, error)
	Delete(ctx context.Context, tripID string) error
}

type experienceCache struct {
	store Store
	ttl   time.Duration
}

// NewExperienceCache creates a new experience cache
func NewExperienceCache(store Store, ttl time.Duration) ExperienceCache {
	return &experienceCache{
		store: store,
		ttl:   ttl,
	}
}

func (c *experienceCache) Initialize(ctx context.Context, tripID string, count int) ([]model.ExperienceSlot, error) {
	var slots []model.ExperienceSlot
	err := c.store.Mutate(ctx, ExperiencesKey(tripID), &slots, c.ttl, func(exists bool) (bool, error) {
		if exists {
			return false, nil
		}
		slots = model.NewExperienceSlots(count)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return slots, nil
}

func (c *experienceCache) GetAll(ctx context.Context, tripID string) ([]model.ExperienceSlot, error) {
	var slots []model.ExperienceSlot
	found, err := c.store.Get(ctx, ExperiencesKey(tripID), &slots)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notStarted(tripID)
	}
	return slots, nil
}

func (c *experienceCache) GetOne(ctx context.Context, tripID string, index int) (*model.ExperienceSlot, error) {
	slots, err := c.GetAll(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(slots) {
		return nil, indexOutOfRange(index, len(slots))
	}
	return &slots[index], nil
}

func (c *experienceCache) Update(ctx context.Context, tripID string, index int, fn func(slot *model.ExperienceSlot)) (*model.ExperienceSlot, error) {
	var updated model.ExperienceSlot
	err := c.mutate(ctx, tripID, func(slots []model.ExperienceSlot) error {
		if index < 0 || index >= len(slots) {
			return indexOutOfRange(index, len(slots))
		}
		fn(&slots[index])
		updated = slots[index]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *experienceCache) RecordFinish(ctx context.Context, tripID string, index int, userID string) (int, error) {
	var place int
	err := c.mutate(ctx, tripID, func(slots []model.ExperienceSlot) error {
		if index < 0 || index >= len(slots) {
			return indexOutOfRange(index, len(slots))
		}
		place = slots[index].AddWinner(userID)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return place, nil
}

func (c *experienceCache) Started(ctx context.Context, tripID string) (bool, error) {
	return c.store.Exists(ctx, ExperiencesKey(tripID))
}

func (c *experienceCache) Delete(ctx context.Context, tripID string) error {
	_, err := c.store.Delete(ctx, ExperiencesKey(tripID))
	return err
}

func (c *experienceCache) mutate(ctx context.Context, tripID string, fn func(slots []model.ExperienceSlot) error) error {
	var slots []model.ExperienceSlot
	err := c.store.Mutate(ctx, ExperiencesKey(tripID), &slots, c.ttl, func(exists bool) (bool, error) {
		if !exists {
			return false, errNoSlots
		}
		if err := fn(slots); err != nil {
			return false, err
		}
		return true, nil
	})
	if errors.Is(err, errNoSlots) {
		return notStarted(tripID)
	}
	return err
}

func notStarted(tripID string) error {
	return apperr.NotFound(apperr.CodeTripNotStarted, "trip %s has no runtime state", tripID)
}

func indexOutOfRange(index, count int) error {
	return apperr.BadRequest(apperr.CodeExperienceIndex, "experience index %d out of range [0,%d)", index, count)
}
