package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"triptrack/internal/cache"
	"triptrack/internal/model"
	"triptrack/internal/queue"
	"triptrack/internal/repository"
)

type fakeTripRepo struct {
	mu    sync.Mutex
	trips map[string]*model.Trip
}

func newFakeTripRepo() *fakeTripRepo {
	return &fakeTripRepo{trips: map[string]*model.Trip{}}
}

func clone(t *model.Trip) *model.Trip {
	c := *t
	c.Stops = append([]model.Stop(nil), t.Stops...)
	c.Guides = append([]primitive.ObjectID(nil), t.Guides...)
	c.Participants = append([]model.TripParticipant(nil), t.Participants...)
	if t.Reward != nil {
		r := *t.Reward
		c.Reward = &r
	}
	return &c
}

func (r *fakeTripRepo) Create(_ context.Context, trip *model.Trip) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	trip.ID = primitive.NewObjectID()
	trip.Status = model.TripCreated
	trip.CreatedAt = time.Now()
	if trip.Participants == nil {
		trip.Participants = []model.TripParticipant{}
	}
	r.trips[trip.ID.Hex()] = clone(trip)
	return nil
}

func (r *fakeTripRepo) GetByID(_ context.Context, id string) (*model.Trip, error) {
	if _, err := repository.ObjectID(id); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trips[id]
	if !ok {
		return nil, nil
	}
	return clone(t), nil
}

func (r *fakeTripRepo) GetDetails(ctx context.Context, id string) (*model.TripDetails, error) {
	t, err := r.GetByID(ctx, id)
	if t == nil || err != nil {
		return nil, err
	}
	return &model.TripDetails{Trip: *t}, nil
}

func (r *fakeTripRepo) ListByCreator(_ context.Context, creatorID string, _ model.Page) ([]model.TripDetails, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.TripDetails{}
	for _, t := range r.trips {
		if t.Creator.Hex() == creatorID {
			out = append(out, model.TripDetails{Trip: *clone(t)})
		}
	}
	return out, nil
}

func (r *fakeTripRepo) ListByParticipant(_ context.Context, userID string, _ model.Page) ([]model.TripDetails, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.TripDetails{}
	for _, t := range r.trips {
		for _, p := range t.Participants {
			if p.UserID == userID {
				out = append(out, model.TripDetails{Trip: *clone(t)})
				break
			}
		}
	}
	return out, nil
}

// update applies fn to an owned trip matching cond and returns the trip
// before or after the change
func (r *fakeTripRepo) update(id, creatorID string, cond func(*model.Trip) bool, fn func(*model.Trip), before bool) (*model.Trip, error) {
	if _, err := repository.ObjectID(id); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trips[id]
	if !ok || t.Creator.Hex() != creatorID || !cond(t) {
		return nil, nil
	}
	prev := clone(t)
	fn(t)
	if before {
		return prev, nil
	}
	return clone(t), nil
}

func (r *fakeTripRepo) UpdateIfCreated(_ context.Context, id, creatorID string, u model.TripUpdate) (*model.Trip, error) {
	return r.update(id, creatorID, func(t *model.Trip) bool { return t.Status == model.TripCreated }, func(t *model.Trip) {
		if u.Name != nil {
			t.Name = *u.Name
		}
		if u.Description != nil {
			t.Description = *u.Description
		}
		if u.Stops != nil {
			t.Stops = u.Stops
		}
	}, false)
}

func (r *fakeTripRepo) UpdateReward(_ context.Context, id, creatorID string, reward model.Reward) (*model.Trip, error) {
	return r.update(id, creatorID, func(t *model.Trip) bool { return t.Status != model.TripCompleted }, func(t *model.Trip) {
		if t.Reward == nil {
			t.Reward = &model.Reward{}
		}
		t.Reward.Title = reward.Title
		if reward.Image != "" {
			t.Reward.Image = reward.Image
		}
	}, true)
}

func (r *fakeTripRepo) UpdateGuides(_ context.Context, id, creatorID string, guides []primitive.ObjectID) (*model.Trip, error) {
	return r.update(id, creatorID, func(t *model.Trip) bool { return t.Status != model.TripCompleted }, func(t *model.Trip) {
		t.Guides = guides
	}, false)
}

func (r *fakeTripRepo) TransitionStatus(_ context.Context, id, creatorID string, from, to model.TripStatus) (*model.Trip, error) {
	return r.update(id, creatorID, func(t *model.Trip) bool { return t.Status == from }, func(t *model.Trip) {
		t.Status = to
	}, false)
}

func (r *fakeTripRepo) Complete(_ context.Context, id, creatorID string, participants []model.TripParticipant) (*model.Trip, error) {
	return r.update(id, creatorID, func(t *model.Trip) bool { return t.Status == model.TripStarted }, func(t *model.Trip) {
		t.Status = model.TripCompleted
		t.Participants = participants
	}, false)
}

func (r *fakeTripRepo) DeleteIfCreated(_ context.Context, id, creatorID string) (*model.Trip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trips[id]
	if !ok || t.Creator.Hex() != creatorID || t.Status != model.TripCreated {
		return nil, nil
	}
	delete(r.trips, id)
	return t, nil
}

func (r *fakeTripRepo) AddParticipant(_ context.Context, id, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trips[id]
	if !ok {
		return false, nil
	}
	for _, p := range t.Participants {
		if p.UserID == userID {
			return false, nil
		}
	}
	t.Participants = append(t.Participants, model.TripParticipant{UserID: userID})
	return true, nil
}

// setStatus forces a status, bypassing the lifecycle
func (r *fakeTripRepo) setStatus(id string, status model.TripStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trips[id].Status = status
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]*model.User{}}
}

func (r *fakeUserRepo) add(name string) *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := &model.User{ID: primitive.NewObjectID(), Email: name + "@example.com", Name: name}
	r.users[u.ID.Hex()] = u
	return u
}

func (r *fakeUserRepo) GetOrCreateByEmail(_ context.Context, email, name string) (*model.User, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, false, nil
		}
	}
	u := &model.User{ID: primitive.NewObjectID(), Email: email, Name: name}
	r.users[u.ID.Hex()] = u
	return u, true, nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id], nil
}

func (r *fakeUserRepo) UpdateProfile(_ context.Context, id string, name, imageURL *string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	if name != nil {
		u.Name = *name
	}
	if imageURL != nil {
		u.ImageURL = *imageURL
	}
	return u, nil
}

func (r *fakeUserRepo) CountByIDs(_ context.Context, ids []primitive.ObjectID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := r.users[id.Hex()]; ok {
			n++
		}
	}
	return n, nil
}

type fakeImages struct {
	mu      sync.Mutex
	uploads int
	deleted []string
}

func (f *fakeImages) Upload(_ context.Context, _ string, _ int64, body io.Reader) (string, error) {
	_, _ = io.Copy(io.Discard, body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	return "https://bucket.example.com/rewards/" + primitive.NewObjectID().Hex() + ".png", nil
}

func (f *fakeImages) Delete(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, url)
	return nil
}

type recordedEvent struct {
	TripID  string
	Event   string
	Payload interface{}
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
	closed []string
}

func (b *recordingBroadcaster) BroadcastToTrip(tripID, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{TripID: tripID, Event: event, Payload: payload})
}

func (b *recordingBroadcaster) CloseTrip(tripID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, tripID)
}

func (b *recordingBroadcaster) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.Event
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.TripEvent
	codes  []queue.LoginCode
}

func (p *recordingPublisher) Publish(_ context.Context, e queue.TripEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) PublishLoginCode(_ context.Context, msg queue.LoginCode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes = append(p.codes, msg)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// fixture wires both services over miniredis and the fakes
type fixture struct {
	mr           *miniredis.Miniredis
	store        cache.Store
	trips        *fakeTripRepo
	users        *fakeUserRepo
	images       *fakeImages
	events       *recordingPublisher
	broadcaster  *recordingBroadcaster
	runtime      Runtime
	tripSvc      *TripService
	participants *ParticipantService
	creator      model.Identity
}

func newFixture(t *testing.T, rejoinResets bool) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := cache.NewStore(client)
	f := &fixture{
		mr:          mr,
		store:       store,
		trips:       newFakeTripRepo(),
		users:       newFakeUserRepo(),
		images:      &fakeImages{},
		events:      &recordingPublisher{},
		broadcaster: &recordingBroadcaster{},
		runtime:     NewRuntime(store, 24*time.Hour),
	}
	tripCache := cache.NewTripCache(store, time.Hour)
	log := zap.NewNop()

	f.tripSvc = NewTripService(f.trips, f.users, tripCache, f.runtime, f.images, f.events, nil, log)
	f.tripSvc.SetBroadcaster(f.broadcaster)
	f.participants = NewParticipantService(f.trips, tripCache, f.runtime, rejoinResets, nil, log)
	f.participants.SetBroadcaster(f.broadcaster)

	f.creator = model.UserIdentity(f.users.add("creator"))
	return f
}

// threeStopTrip has experiences on the first and last stop
func threeStopTrip() model.TripInput {
	return model.TripInput{
		Name: "Old town walk",
		Stops: []model.Stop{
			{Location: model.Location{Lon: 34.78, Lat: 32.08}, Experience: &model.Experience{Type: model.ExperienceTrivia, Score: 10}},
			{Location: model.Location{Lon: 34.79, Lat: 32.09}},
			{Location: model.Location{Lon: 34.80, Lat: 32.10}, Experience: &model.Experience{Type: model.ExperienceTreasureFind, Score: 30}},
		},
	}
}

func (f *fixture) startedTrip(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	trip, err := f.tripSvc.Create(ctx, f.creator, threeStopTrip(), nil)
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	if _, err := f.tripSvc.Start(ctx, f.creator, trip.ID.Hex()); err != nil {
		t.Fatalf("start trip: %v", err)
	}
	return trip.ID.Hex()
}
