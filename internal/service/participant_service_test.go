package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"triptrack/internal/apperr"
	"triptrack/internal/cache"
	"triptrack/internal/model"
)

func TestJoinThenGetRoundTrip(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	tripID := f.startedTrip(t)

	guest := model.GuestIdentity("g1", "Dana")
	joined, err := f.participants.Join(ctx, guest, tripID, model.JoinRequest{Name: "Dana K", ImageURL: "https://img.example.com/d.png"})
	require.NoError(t, err)

	got, err := f.participants.Get(ctx, tripID, "g1")
	require.NoError(t, err)
	assert.Equal(t, joined.Name, got.Name)
	assert.Equal(t, "https://img.example.com/d.png", got.ImageURL)
	assert.Empty(t, got.Score)
	assert.Empty(t, got.FinishedExperiences)
	assert.Equal(t, model.RoleGuest, got.Role)

	assert.Contains(t, f.broadcaster.names(), EventParticipantJoined)
}

func TestJoinRequiresStartedTrip(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	trip, err := f.tripSvc.Create(ctx, f.creator, threeStopTrip(), nil)
	require.NoError(t, err)

	_, err = f.participants.Join(ctx, model.GuestIdentity("g1", "G"), trip.ID.Hex(), model.JoinRequest{})
	assert.Equal(t, apperr.CodeTripNotStarted, apperr.CodeOf(err))
}

func TestUserJoinIsRecordedDurably(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	tripID := f.startedTrip(t)

	user := model.UserIdentity(f.users.add("walker"))
	_, err := f.participants.Join(ctx, user, tripID, model.JoinRequest{})
	require.NoError(t, err)
	_, err = f.participants.Join(ctx, user, tripID, model.JoinRequest{})
	require.NoError(t, err)

	trips, err := f.tripSvc.ListParticipated(ctx, user, model.Page{})
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Len(t, trips[0].Participants, 1)
}

func TestRejoinPolicy(t *testing.T) {
	for _, resets := range []bool{true, false} {
		f := newFixture(t, resets)
		ctx := context.Background()
		tripID := f.startedTrip(t)
		guest := model.GuestIdentity("g1", "G")

		_, err := f.participants.Join(ctx, guest, tripID, model.JoinRequest{})
		require.NoError(t, err)
		_, err = f.participants.FinishExperience(ctx, tripID, "g1", 0, 10)
		require.NoError(t, err)

		again, err := f.participants.Join(ctx, guest, tripID, model.JoinRequest{})
		require.NoError(t, err)

		board, err := f.participants.Leaderboard(ctx, tripID)
		require.NoError(t, err)
		require.Len(t, board, 1)
		if resets {
			assert.Empty(t, again.Score)
			assert.Equal(t, 0, board[0].Score)
		} else {
			assert.Equal(t, []int{10}, again.Score)
			assert.Equal(t, 10, board[0].Score)
		}
	}
}

func TestFinishExperienceScenario(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	tripID := f.startedTrip(t)

	users := []string{"user1", "user2", "user3"}
	scores := []int{10, 5, 8}
	for i, id := range users {
		_, err := f.participants.Join(ctx, model.GuestIdentity(id, id), tripID, model.JoinRequest{})
		require.NoError(t, err)
		res, err := f.participants.FinishExperience(ctx, tripID, id, 0, scores[i])
		require.NoError(t, err)
		assert.Equal(t, i+1, res.WinnerPlace)
	}

	slot, err := f.runtime.Experiences.GetOne(ctx, tripID, 0)
	require.NoError(t, err)
	assert.Equal(t, users, slot.WinnerIDs(), "arrival order")

	board, err := f.participants.Leaderboard(ctx, tripID)
	require.NoError(t, err)
	ranked := make([]string, len(board))
	for i, e := range board {
		ranked[i] = e.UserID
	}
	assert.Equal(t, []string{"user1", "user3", "user2"}, ranked, "score order")
}

func TestFinishExperienceTwiceIsRejected(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	tripID := f.startedTrip(t)

	_, err := f.participants.Join(ctx, model.GuestIdentity("u1", "U"), tripID, model.JoinRequest{})
	require.NoError(t, err)

	_, err = f.participants.FinishExperience(ctx, tripID, "u1", 1, 25)
	require.NoError(t, err)
	_, err = f.participants.FinishExperience(ctx, tripID, "u1", 1, 25)
	assert.Equal(t, apperr.CodeAlreadyFinished, apperr.CodeOf(err))

	p, err := f.participants.Get(ctx, tripID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 25, p.Total())

	slot, err := f.runtime.Experiences.GetOne(ctx, tripID, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, slot.WinnerIDs())
}

var errTimeout = errors.New("redis: i/o timeout")

// flakyExperiences fails the next RecordFinish or Initialize calls
type flakyExperiences struct {
	cache.ExperienceCache
	failures     int
	initFailures int
}

func (c *flakyExperiences) Initialize(ctx context.Context, tripID string, count int) ([]model.ExperienceSlot, error) {
	if c.initFailures > 0 {
		c.initFailures--
		return nil, errTimeout
	}
	return c.ExperienceCache.Initialize(ctx, tripID, count)
}

func (c *flakyExperiences) RecordFinish(ctx context.Context, tripID string, index int, userID string) (int, error) {
	if c.failures > 0 {
		c.failures--
		return 0, errTimeout
	}
	return c.ExperienceCache.RecordFinish(ctx, tripID, index, userID)
}

// flakyParticipants fails the next Apply calls
type flakyParticipants struct {
	cache.ParticipantCache
	failures int
}

func (c *flakyParticipants) Apply(ctx context.Context, tripID, userID string, fn func(p *model.Participant) error) (*model.Participant, error) {
	if c.failures > 0 {
		c.failures--
		return nil, errTimeout
	}
	return c.ParticipantCache.Apply(ctx, tripID, userID, fn)
}

func TestFinishExperienceRetryAfterPodiumFailure(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	tripID := f.startedTrip(t)

	experiences := &flakyExperiences{ExperienceCache: f.runtime.Experiences, failures: 1}
	runtime := f.runtime
	runtime.Experiences = experiences
	svc := NewParticipantService(f.trips, cache.NewTripCache(f.store, time.Hour), runtime, true, nil, zap.NewNop())

	_, err := svc.Join(ctx, model.GuestIdentity("u1", "U"), tripID, model.JoinRequest{})
	require.NoError(t, err)

	_, err = svc.FinishExperience(ctx, tripID, "u1", 0, 10)
	require.ErrorIs(t, err, errTimeout)

	res, err := svc.FinishExperience(ctx, tripID, "u1", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.WinnerPlace)
	assert.Equal(t, 10, res.Participant.Total())
	assert.Equal(t, 1, res.Rank)
}

func TestFinishExperienceRetryAfterScoreFailure(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	tripID := f.startedTrip(t)

	participants := &flakyParticipants{ParticipantCache: f.runtime.Participants}
	runtime := f.runtime
	runtime.Participants = participants
	svc := NewParticipantService(f.trips, cache.NewTripCache(f.store, time.Hour), runtime, true, nil, zap.NewNop())

	_, err := svc.Join(ctx, model.GuestIdentity("u1", "U"), tripID, model.JoinRequest{})
	require.NoError(t, err)

	participants.failures = 1
	_, err = svc.FinishExperience(ctx, tripID, "u1", 0, 10)
	require.ErrorIs(t, err, errTimeout)

	res, err := svc.FinishExperience(ctx, tripID, "u1", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.WinnerPlace, "place earned by the failed call is kept")
	assert.Equal(t, 10, res.Participant.Total())

	slot, err := f.runtime.Experiences.GetOne(ctx, tripID, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, slot.WinnerIDs())

	board, err := svc.Leaderboard(ctx, tripID)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, 10, board[0].Score)

	_, err = svc.FinishExperience(ctx, tripID, "u1", 0, 10)
	assert.Equal(t, apperr.CodeAlreadyFinished, apperr.CodeOf(err))
}

func TestFullPodiumStillCreditsScore(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	tripID := f.startedTrip(t)

	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := f.participants.Join(ctx, model.GuestIdentity(id, id), tripID, model.JoinRequest{})
		require.NoError(t, err)
		_, err = f.participants.FinishExperience(ctx, tripID, id, 0, 10)
		require.NoError(t, err)
	}

	p, err := f.participants.Get(ctx, tripID, "d")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Total())

	slot, err := f.runtime.Experiences.GetOne(ctx, tripID, 0)
	require.NoError(t, err)
	assert.Len(t, slot.WinnerIDs(), model.MaxWinners)
	assert.NotContains(t, slot.WinnerIDs(), "d")
}

func TestLeaderboardMatchesScoreSum(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	tripID := f.startedTrip(t)

	_, err := f.participants.Join(ctx, model.GuestIdentity("u1", "U"), tripID, model.JoinRequest{})
	require.NoError(t, err)
	_, err = f.participants.FinishExperience(ctx, tripID, "u1", 1, 30)
	require.NoError(t, err)
	_, err = f.participants.FinishExperience(ctx, tripID, "u1", 0, 7)
	require.NoError(t, err)

	p, err := f.participants.Get(ctx, tripID, "u1")
	require.NoError(t, err)
	board, err := f.participants.Leaderboard(ctx, tripID)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, p.Total(), board[0].Score)
	assert.Equal(t, 37, board[0].Score)
}

func TestFinishExperienceRejectsBadInput(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	tripID := f.startedTrip(t)

	_, err := f.participants.FinishExperience(ctx, tripID, "nobody", 0, 5)
	assert.Equal(t, apperr.CodeParticipantNotFound, apperr.CodeOf(err))

	_, err = f.participants.Join(ctx, model.GuestIdentity("u1", "U"), tripID, model.JoinRequest{})
	require.NoError(t, err)

	_, err = f.participants.FinishExperience(ctx, tripID, "u1", 2, 5)
	assert.Equal(t, apperr.CodeExperienceIndex, apperr.CodeOf(err))
	_, err = f.participants.FinishExperience(ctx, tripID, "u1", 0, 11)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

func TestLeaveThenGetIsNotFound(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	tripID := f.startedTrip(t)
	guest := model.GuestIdentity("g1", "G")

	_, err := f.participants.Join(ctx, guest, tripID, model.JoinRequest{})
	require.NoError(t, err)
	require.NoError(t, f.participants.Leave(ctx, guest, tripID))

	_, err = f.participants.Get(ctx, tripID, "g1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	list, err := f.participants.List(ctx, tripID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRenameAndList(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	tripID := f.startedTrip(t)

	for _, id := range []string{"a", "b"} {
		_, err := f.participants.Join(ctx, model.GuestIdentity(id, id), tripID, model.JoinRequest{})
		require.NoError(t, err)
	}
	_, err := f.participants.FinishExperience(ctx, tripID, "b", 0, 3)
	require.NoError(t, err)

	renamed, err := f.participants.Rename(ctx, model.GuestIdentity("a", "a"), tripID, "Avery")
	require.NoError(t, err)
	assert.Equal(t, "Avery", renamed.Name)

	list, err := f.participants.List(ctx, tripID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].UserID)
	assert.Equal(t, "Avery", list[1].Name)
}
