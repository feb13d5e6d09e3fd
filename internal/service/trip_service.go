package service

import (
	"context"
	"io"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"triptrack/internal/apperr"
	"triptrack/internal/cache"
	"triptrack/internal/metrics"
	"triptrack/internal/model"
	"triptrack/internal/queue"
	"triptrack/internal/repository"
	"triptrack/internal/storage"
	"triptrack/internal/tracing"
)

// ImageUpload is a reward image received with a request
type ImageUpload struct {
	ContentType string
	Size        int64
	Body        io.Reader
}

// TripService coordinates the trip lifecycle: durable writes in MongoDB,
// runtime state in Redis and the caches in front of both
type TripService struct {
	trips       repository.TripRepo
	users       repository.UserRepo
	tripCache   cache.TripCache
	runtime     Runtime
	images      storage.ImageStore
	events      queue.Publisher
	metrics     *metrics.Metrics
	log         *zap.Logger
	broadcaster Broadcaster
}

// NewTripService creates a new trip service. images may be nil when no
// bucket is configured.
func NewTripService(
	trips repository.TripRepo,
	users repository.UserRepo,
	tripCache cache.TripCache,
	runtime Runtime,
	images storage.ImageStore,
	events queue.Publisher,
	m *metrics.Metrics,
	log *zap.Logger,
) *TripService {
	if events == nil {
		events = queue.NopPublisher{}
	}
	return &TripService{
		trips:     trips,
		users:     users,
		tripCache: tripCache,
		runtime:   runtime,
		images:    images,
		events:    events,
		metrics:   m,
		log:       log,
	}
}

// SetBroadcaster sets the broadcaster for socket events
func (s *TripService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// Create stores a new trip owned by the caller
func (s *TripService) Create(ctx context.Context, caller model.Identity, input model.TripInput, image *ImageUpload) (*model.Trip, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	creator, err := repository.ObjectID(caller.ID)
	if err != nil {
		return nil, err
	}
	guides, err := s.parseGuides(ctx, input.Guides)
	if err != nil {
		return nil, err
	}

	trip := &model.Trip{
		Creator:     creator,
		Guides:      guides,
		Name:        input.Name,
		Description: input.Description,
		Stops:       input.Stops,
	}
	if input.Reward != nil {
		trip.Reward = &model.Reward{Title: input.Reward.Title}
	}

	if image != nil {
		url, err := s.upload(ctx, image)
		if err != nil {
			return nil, err
		}
		if trip.Reward == nil {
			trip.Reward = &model.Reward{}
		}
		trip.Reward.Image = url
	}

	if err := s.trips.Create(ctx, trip); err != nil {
		if image != nil {
			s.deleteImage(ctx, trip.Reward.Image)
		}
		return nil, err
	}

	s.invalidateLists(ctx, caller.ID)
	s.log.Info("trip created", zap.String("trip_id", trip.ID.Hex()), zap.String("creator", caller.ID))
	return trip, nil
}

// ListMine returns the caller's trips, newest first
func (s *TripService) ListMine(ctx context.Context, caller model.Identity, page model.Page) ([]model.TripDetails, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	page = page.Normalize()
	return s.tripCache.ListOrLoad(ctx, caller.ID, page.Page, page.Limit, func(ctx context.Context) ([]model.TripDetails, error) {
		return s.trips.ListByCreator(ctx, caller.ID, page)
	})
}

// ListParticipated returns the trips the caller joined as a registered user
func (s *TripService) ListParticipated(ctx context.Context, caller model.Identity, page model.Page) ([]model.TripDetails, error) {
	if caller.IsGuest() {
		return []model.TripDetails{}, nil
	}
	return s.trips.ListByParticipant(ctx, caller.ID, page)
}

// Get returns a trip; once started the view also carries experience
// progress and the leaderboard
func (s *TripService) Get(ctx context.Context, tripID string) (*model.TripView, error) {
	trip, err := loadTrip(ctx, s.trips, s.tripCache, tripID)
	if err != nil {
		return nil, err
	}

	view := &model.TripView{TripDetails: trip}
	if trip.Status != model.TripStarted {
		return view, nil
	}

	view.Experiences, err = s.runtime.Experiences.GetAll(ctx, tripID)
	if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
		return nil, err
	}
	view.Leaderboard, err = s.runtime.Leaderboard.RangeAll(ctx, tripID)
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Update edits name, description or stops of a trip that has not started
func (s *TripService) Update(ctx context.Context, caller model.Identity, tripID string, update model.TripUpdate) (*model.Trip, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	if update.Empty() {
		return nil, apperr.BadRequest(apperr.CodeInvalidInput, "nothing to update")
	}

	trip, err := s.trips.UpdateIfCreated(ctx, tripID, caller.ID, update)
	if err != nil {
		return nil, err
	}
	if trip == nil {
		return nil, s.classify(ctx, tripID, caller.ID, lockedUnless(model.TripCreated))
	}

	s.invalidate(ctx, tripID, caller.ID)
	return trip, nil
}

// UpdateReward replaces the reward title and, when image is given, the
// reward image. The previous image is removed from the bucket.
func (s *TripService) UpdateReward(ctx context.Context, caller model.Identity, tripID, title string, image *ImageUpload) (*model.TripView, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}

	reward := model.Reward{Title: title}
	if image != nil {
		url, err := s.upload(ctx, image)
		if err != nil {
			return nil, err
		}
		reward.Image = url
	}

	before, err := s.trips.UpdateReward(ctx, tripID, caller.ID, reward)
	if err == nil && before == nil {
		err = s.classify(ctx, tripID, caller.ID, lockedIf(model.TripCompleted))
	}
	if err != nil {
		if reward.Image != "" {
			s.deleteImage(ctx, reward.Image)
		}
		return nil, err
	}

	if reward.Image != "" && before.Reward != nil && before.Reward.Image != "" {
		s.deleteImage(ctx, before.Reward.Image)
	}
	s.invalidate(ctx, tripID, caller.ID)
	return s.Get(ctx, tripID)
}

// UpdateGuides replaces the guide list of a trip that has not completed
func (s *TripService) UpdateGuides(ctx context.Context, caller model.Identity, tripID string, guideIDs []string) (*model.Trip, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	guides, err := s.parseGuides(ctx, guideIDs)
	if err != nil {
		return nil, err
	}

	trip, err := s.trips.UpdateGuides(ctx, tripID, caller.ID, guides)
	if err != nil {
		return nil, err
	}
	if trip == nil {
		return nil, s.classify(ctx, tripID, caller.ID, lockedIf(model.TripCompleted))
	}

	s.invalidate(ctx, tripID, caller.ID)
	return trip, nil
}

// Start moves a created trip to started and creates one experience slot per
// experience-bearing stop. A trip left started without slots by an earlier
// failed call is completed by the next call.
func (s *TripService) Start(ctx context.Context, caller model.Identity, tripID string) (trip *model.Trip, err error) {
	ctx, span := tracing.Start(ctx, "trip.start", attribute.String("trip.id", tripID))
	defer func() {
		tracing.End(span, err)
		s.metrics.IncTripTransition("start", outcome(err))
	}()

	if err := requireUser(caller); err != nil {
		return nil, err
	}

	trip, err = s.trips.TransitionStatus(ctx, tripID, caller.ID, model.TripCreated, model.TripStarted)
	if err != nil {
		return nil, err
	}
	if trip == nil {
		if trip, err = s.unfinishedStart(ctx, tripID, caller.ID); err != nil {
			return nil, err
		}
		s.log.Warn("resuming trip start without experience slots", zap.String("trip_id", tripID))
	}

	s.invalidate(ctx, tripID, caller.ID)
	if _, err := s.runtime.Experiences.Initialize(ctx, tripID, trip.ExperienceCount()); err != nil {
		s.log.Error("initialize experience slots", zap.String("trip_id", tripID), zap.Error(err))
		return nil, err
	}

	s.publish(ctx, queue.NewTripEvent(queue.EventTripStarted, trip))
	if s.broadcaster != nil {
		s.broadcaster.BroadcastToTrip(tripID, EventTripStarted, map[string]interface{}{
			"tripId":      tripID,
			"experiences": trip.ExperienceCount(),
		})
	}
	// A read that raced the status write may have refilled the cache.
	s.invalidate(ctx, tripID, caller.ID)

	s.log.Info("trip started", zap.String("trip_id", tripID), zap.Int("experiences", trip.ExperienceCount()))
	return trip, nil
}

// unfinishedStart classifies a failed start transition. A started trip
// whose experience slots are missing is returned so the start can finish.
func (s *TripService) unfinishedStart(ctx context.Context, tripID, callerID string) (*model.Trip, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	guardErr := checkOwned(trip, tripID, callerID, transitionGuard(model.TripCreated, model.TripStarted))
	if guardErr == nil {
		return nil, apperr.BadRequest(apperr.CodeWrongStatus, "trip %s changed concurrently, retry", tripID)
	}
	if apperr.KindOf(guardErr) != apperr.KindAlreadyInStatus || trip.Status != model.TripStarted {
		return nil, guardErr
	}

	initialized, err := s.runtime.Experiences.Started(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if initialized {
		return nil, guardErr
	}
	return trip, nil
}

// SetExperienceActive opens or closes the experience at index of a started
// trip. Only the creator can do this.
func (s *TripService) SetExperienceActive(ctx context.Context, caller model.Identity, tripID string, index int, active bool) (*model.ExperienceSlot, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	trip, err := loadTrip(ctx, s.trips, s.tripCache, tripID)
	if err != nil {
		return nil, err
	}
	if !trip.IsCreator(caller.ID) {
		return nil, apperr.Unauthorized(apperr.CodeNotCreator, "only the creator can change trip %s", tripID)
	}
	if trip.Status != model.TripStarted {
		return nil, apperr.BadRequest(apperr.CodeTripNotStarted, "trip %s is %s", tripID, trip.Status)
	}

	slot, err := s.runtime.Experiences.Update(ctx, tripID, index, func(slot *model.ExperienceSlot) {
		slot.Active = active
	})
	if err != nil {
		return nil, err
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastToTrip(tripID, EventExperienceUpdated, map[string]interface{}{
			"tripId":          tripID,
			"experienceIndex": index,
			"experience":      slot,
		})
	}
	return slot, nil
}

// End copies the leaderboard into the durable participants list, marks the
// trip completed and purges its runtime state
func (s *TripService) End(ctx context.Context, caller model.Identity, tripID string) (trip *model.Trip, err error) {
	ctx, span := tracing.Start(ctx, "trip.end", attribute.String("trip.id", tripID))
	defer func() {
		tracing.End(span, err)
		s.metrics.IncTripTransition("end", outcome(err))
	}()

	if err := requireUser(caller); err != nil {
		return nil, err
	}

	// Guard before reading the leaderboard so a wrong caller or status
	// never touches runtime state.
	current, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if err := checkOwned(current, tripID, caller.ID, transitionGuard(model.TripStarted, model.TripCompleted)); err != nil {
		return nil, err
	}

	board, err := s.runtime.Leaderboard.RangeAll(ctx, tripID)
	if err != nil {
		return nil, err
	}
	results := make([]model.TripParticipant, len(board))
	for i, entry := range board {
		results[i] = model.TripParticipant{UserID: entry.UserID, Score: entry.Score}
	}

	trip, err = s.trips.Complete(ctx, tripID, caller.ID, results)
	if err != nil {
		return nil, err
	}
	if trip == nil {
		return nil, s.classify(ctx, tripID, caller.ID, transitionGuard(model.TripStarted, model.TripCompleted))
	}

	// The trip is completed durably at this point; leftover keys expire
	// with their TTL.
	if err := s.runtime.Purge(ctx, tripID); err != nil {
		s.log.Error("purge trip runtime", zap.String("trip_id", tripID), zap.Error(err))
	}

	s.invalidate(ctx, tripID, caller.ID)
	s.publish(ctx, queue.NewTripEvent(queue.EventTripCompleted, trip))
	if s.broadcaster != nil {
		s.broadcaster.BroadcastToTrip(tripID, EventTripEnded, map[string]interface{}{
			"tripId":       tripID,
			"participants": results,
		})
		s.broadcaster.CloseTrip(tripID)
	}
	s.invalidate(ctx, tripID, caller.ID)

	s.log.Info("trip completed", zap.String("trip_id", tripID), zap.Int("participants", len(results)))
	return trip, nil
}

// Delete removes a trip that never started, its runtime keys and its reward
// image
func (s *TripService) Delete(ctx context.Context, caller model.Identity, tripID string) (err error) {
	defer func() { s.metrics.IncTripTransition("delete", outcome(err)) }()

	if err := requireUser(caller); err != nil {
		return err
	}

	trip, err := s.trips.DeleteIfCreated(ctx, tripID, caller.ID)
	if err != nil {
		return err
	}
	if trip == nil {
		return s.classify(ctx, tripID, caller.ID, lockedUnless(model.TripCreated))
	}

	if err := s.runtime.Purge(ctx, tripID); err != nil {
		s.log.Warn("purge deleted trip runtime", zap.String("trip_id", tripID), zap.Error(err))
	}
	if trip.Reward != nil && trip.Reward.Image != "" {
		s.deleteImage(ctx, trip.Reward.Image)
	}

	s.invalidate(ctx, tripID, caller.ID)
	s.publish(ctx, queue.NewTripEvent(queue.EventTripDeleted, trip))
	if s.broadcaster != nil {
		s.broadcaster.BroadcastToTrip(tripID, EventTripDeleted, map[string]string{"tripId": tripID})
		s.broadcaster.CloseTrip(tripID)
	}

	s.log.Info("trip deleted", zap.String("trip_id", tripID))
	return nil
}

// classify re-reads a trip after a conditional write matched nothing and
// reports the precondition that failed
func (s *TripService) classify(ctx context.Context, tripID, callerID string, guard func(*model.Trip) error) error {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return err
	}
	if err := checkOwned(trip, tripID, callerID, guard); err != nil {
		return err
	}
	return apperr.BadRequest(apperr.CodeWrongStatus, "trip %s changed concurrently, retry", tripID)
}

func checkOwned(trip *model.Trip, tripID, callerID string, guard func(*model.Trip) error) error {
	if trip == nil {
		return apperr.NotFound(apperr.CodeTripNotFound, "trip %s not found", tripID)
	}
	if !trip.IsCreator(callerID) {
		return apperr.Unauthorized(apperr.CodeNotCreator, "only the creator can change trip %s", tripID)
	}
	return guard(trip)
}

// transitionGuard accepts a trip in from; a trip at or past to is already
// there, anything earlier than from is in the wrong status
func transitionGuard(from, to model.TripStatus) func(*model.Trip) error {
	return func(t *model.Trip) error {
		switch {
		case t.Status.Rank() >= to.Rank():
			return apperr.AlreadyInStatus("trip %s is already %s", t.ID.Hex(), t.Status)
		case t.Status != from:
			return apperr.BadRequest(apperr.CodeWrongStatus, "trip %s is %s, expected %s", t.ID.Hex(), t.Status, from)
		}
		return nil
	}
}

// lockedUnless forbids writes to a trip not in status
func lockedUnless(status model.TripStatus) func(*model.Trip) error {
	return func(t *model.Trip) error {
		if t.Status != status {
			return apperr.Forbidden(apperr.CodeTripLocked, "trip %s is %s and can no longer be changed", t.ID.Hex(), t.Status)
		}
		return nil
	}
}

// lockedIf forbids writes to a trip in status
func lockedIf(status model.TripStatus) func(*model.Trip) error {
	return func(t *model.Trip) error {
		if t.Status == status {
			return apperr.Forbidden(apperr.CodeTripLocked, "trip %s is %s and can no longer be changed", t.ID.Hex(), t.Status)
		}
		return nil
	}
}

func (s *TripService) parseGuides(ctx context.Context, ids []string) ([]primitive.ObjectID, error) {
	guides := make([]primitive.ObjectID, 0, len(ids))
	seen := make(map[primitive.ObjectID]bool, len(ids))
	for _, id := range ids {
		oid, err := repository.ObjectID(id)
		if err != nil {
			return nil, err
		}
		if !seen[oid] {
			seen[oid] = true
			guides = append(guides, oid)
		}
	}
	if len(guides) == 0 {
		return guides, nil
	}

	n, err := s.users.CountByIDs(ctx, guides)
	if err != nil {
		return nil, err
	}
	if n != int64(len(guides)) {
		return nil, apperr.BadRequest(apperr.CodeUserNotFound, "some guides are not registered users")
	}
	return guides, nil
}

func (s *TripService) upload(ctx context.Context, image *ImageUpload) (string, error) {
	if s.images == nil {
		return "", apperr.BadRequest(apperr.CodeInvalidInput, "image uploads are not enabled")
	}
	return s.images.Upload(ctx, image.ContentType, image.Size, image.Body)
}

func (s *TripService) deleteImage(ctx context.Context, url string) {
	if s.images == nil {
		return
	}
	if err := s.images.Delete(ctx, url); err != nil {
		s.log.Warn("delete reward image", zap.String("url", url), zap.Error(err))
	}
}

func (s *TripService) invalidate(ctx context.Context, tripID, creatorID string) {
	if err := s.tripCache.Invalidate(ctx, tripID); err != nil {
		s.log.Warn("invalidate trip cache", zap.String("trip_id", tripID), zap.Error(err))
	}
	s.invalidateLists(ctx, creatorID)
}

func (s *TripService) invalidateLists(ctx context.Context, userID string) {
	if err := s.tripCache.InvalidateLists(ctx, userID); err != nil {
		s.log.Warn("invalidate trip lists", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *TripService) publish(ctx context.Context, event queue.TripEvent) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn("publish trip event", zap.String("event", event.Type), zap.String("trip_id", event.TripID), zap.Error(err))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case apperr.KindOf(err) == apperr.KindInternal:
		return metrics.OutcomeFailed
	default:
		return metrics.OutcomeRejected
	}
}
