package cache

import (
	"context"
	"time"

	"triptrack/internal/model"
)

// TripCache is a read-through cache of durable trip documents and of the
// per-user trip list pages
type TripCache interface {
	GetOrLoad(ctx context.Context, tripID string, load func(ctx context.Context) (*model.TripDetails, error)) (*model.TripDetails, error)
	Invalidate(ctx context.Context, tripID string) error
	ListOrLoad(ctx context.Context, userID string, page, limit int, load func(ctx context.Context) ([]model.TripDetails, error)) ([]model.TripDetails, error)
	InvalidateLists(ctx context.Context, userIDs ...string) error
}

// CreatedTripTTL bounds how long a trip in the created status stays cached
const CreatedTripTTL = 5 * time.Second

type tripCache struct {
	store Store
	ttl   time.Duration
}

// NewTripCache creates a new trip cache
func NewTripCache(store Store, ttl time.Duration) TripCache {
	return &tripCache{
		store: store,
		ttl:   ttl,
	}
}

func (c *tripCache) GetOrLoad(ctx context.Context, tripID string, load func(ctx context.Context) (*model.TripDetails, error)) (*model.TripDetails, error) {
	var trip model.TripDetails
	found, err := c.store.Get(ctx, TripKey(tripID), &trip)
	if err != nil {
		return nil, err
	}
	if found {
		return &trip, nil
	}

	loaded, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, TripKey(tripID), loaded, c.ttlFor(loaded.Status)); err != nil {
		return nil, err
	}
	return loaded, nil
}

// ttlFor keeps trips that are about to start only briefly. A load racing
// with the start transition can otherwise pin the created status.
func (c *tripCache) ttlFor(status model.TripStatus) time.Duration {
	if status == model.TripCreated && c.ttl > CreatedTripTTL {
		return CreatedTripTTL
	}
	return c.ttl
}

func (c *tripCache) Invalidate(ctx context.Context, tripID string) error {
	_, err := c.store.Delete(ctx, TripKey(tripID))
	return err
}

func (c *tripCache) ListOrLoad(ctx context.Context, userID string, page, limit int, load func(ctx context.Context) ([]model.TripDetails, error)) ([]model.TripDetails, error) {
	trips := []model.TripDetails{}
	err := c.store.GetOrSet(ctx, TripsListKey(userID, page, limit), &trips, c.ttl, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		return nil, err
	}
	return trips, nil
}

func (c *tripCache) InvalidateLists(ctx context.Context, userIDs ...string) error {
	for _, id := range userIDs {
		if _, err := c.store.DeletePattern(ctx, tripsListPattern(id)); err != nil {
			return err
		}
	}
	return nil
}
