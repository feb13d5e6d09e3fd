package cache

import (
	"context"
	"time"

	"triptrack/internal/model"
)

// LeaderboardCache is the per-trip ranked set of cumulative scores
type LeaderboardCache interface {
	// Upsert overwrites the member's score, it never increments
	Upsert(ctx context.Context, tripID, userID string, score int) error
	Remove(ctx context.Context, tripID, userID string) (bool, error)
	// RangeAll returns every entry, highest score first. Equal scores keep
	// the order of the underlying sorted set.
	RangeAll(ctx context.Context, tripID string) ([]model.LeaderboardEntry, error)
	Rank(ctx context.Context, tripID, userID string) (int64, error)
	Delete(ctx context.Context, tripID string) error
}

type leaderboardCache struct {
	store Store
	ttl   time.Duration
}

// NewLeaderboardCache creates a new leaderboard cache
func NewLeaderboardCache(store Store, ttl time.Duration) LeaderboardCache {
	return &leaderboardCache{
		store: store,
		ttl:   ttl,
	}
}

func (c *leaderboardCache) Upsert(ctx context.Context, tripID, userID string, score int) error {
	key := LeaderboardKey(tripID)
	if err := c.store.ZAdd(ctx, key, userID, float64(score)); err != nil {
		return err
	}
	return c.store.Expire(ctx, key, c.ttl)
}

func (c *leaderboardCache) Remove(ctx context.Context, tripID, userID string) (bool, error) {
	n, err := c.store.ZRem(ctx, LeaderboardKey(tripID), userID)
	return n > 0, err
}

func (c *leaderboardCache) RangeAll(ctx context.Context, tripID string) ([]model.LeaderboardEntry, error) {
	members, err := c.store.ZRevRangeAll(ctx, LeaderboardKey(tripID))
	if err != nil {
		return nil, err
	}

	entries := make([]model.LeaderboardEntry, len(members))
	for i, m := range members {
		entries[i] = model.LeaderboardEntry{
			UserID: m.Member,
			Score:  int(m.Score),
			Rank:   i + 1,
		}
	}
	return entries, nil
}

// Rank is 1-indexed, 0 when the user is not on the board
func (c *leaderboardCache) Rank(ctx context.Context, tripID, userID string) (int64, error) {
	rank, err := c.store.ZRevRank(ctx, LeaderboardKey(tripID), userID)
	if err != nil {
		return 0, err
	}
	return rank + 1, nil
}

func (c *leaderboardCache) Delete(ctx context.Context, tripID string) error {
	_, err := c.store.Delete(ctx, LeaderboardKey(tripID))
	return err
}
