package service

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"triptrack/internal/apperr"
	"triptrack/internal/cache"
	"triptrack/internal/metrics"
	"triptrack/internal/model"
	"triptrack/internal/repository"
	"triptrack/internal/tracing"
)

// FinishResult is the outcome of a finished experience
type FinishResult struct {
	UserID      string             `json:"userId"`
	Index       int                `json:"experienceIndex"`
	Participant *model.Participant `json:"userData"`
	// WinnerPlace is the 1-based podium place, 0 when none was free
	WinnerPlace int `json:"winnerPlace"`
	// Rank is the 1-based leaderboard position after the finish
	Rank int `json:"rank"`
}

// ParticipantService runs everything that happens inside a started trip:
// joining, leaving, progress and the leaderboard
type ParticipantService struct {
	trips        repository.TripRepo
	tripCache    cache.TripCache
	runtime      Runtime
	rejoinResets bool
	metrics      *metrics.Metrics
	log          *zap.Logger
	broadcaster  Broadcaster
}

// NewParticipantService creates a new participant service. With
// rejoinResets a second join overwrites the existing record; otherwise the
// existing record is returned unchanged.
func NewParticipantService(
	trips repository.TripRepo,
	tripCache cache.TripCache,
	runtime Runtime,
	rejoinResets bool,
	m *metrics.Metrics,
	log *zap.Logger,
) *ParticipantService {
	return &ParticipantService{
		trips:        trips,
		tripCache:    tripCache,
		runtime:      runtime,
		rejoinResets: rejoinResets,
		metrics:      m,
		log:          log,
	}
}

// SetBroadcaster sets the broadcaster for socket events
func (s *ParticipantService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// Join adds the caller to a started trip
func (s *ParticipantService) Join(ctx context.Context, caller model.Identity, tripID string, req model.JoinRequest) (*model.Participant, error) {
	if _, err := s.startedTrip(ctx, tripID); err != nil {
		return nil, err
	}

	if !s.rejoinResets {
		existing, err := s.runtime.Participants.Get(ctx, tripID, caller.ID)
		if err == nil {
			return existing, nil
		}
		if apperr.KindOf(err) != apperr.KindNotFound {
			return nil, err
		}
	}

	participant := model.NewParticipant(caller, req.Name, req.ImageURL)
	if err := s.runtime.Participants.Add(ctx, tripID, participant); err != nil {
		return nil, err
	}

	switch caller.Role {
	case model.RoleUser:
		added, err := s.trips.AddParticipant(ctx, tripID, caller.ID)
		if err != nil {
			return nil, err
		}
		if added {
			if err := s.tripCache.Invalidate(ctx, tripID); err != nil {
				s.log.Warn("invalidate trip cache", zap.String("trip_id", tripID), zap.Error(err))
			}
		}
	case model.RoleGuest:
		// guests only exist in runtime state
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastToTrip(tripID, EventParticipantJoined, participant)
	}
	s.log.Info("participant joined",
		zap.String("trip_id", tripID),
		zap.String("user_id", caller.ID),
		zap.String("role", string(caller.Role)))
	return participant, nil
}

// Leave removes the caller's record and leaderboard entry
func (s *ParticipantService) Leave(ctx context.Context, caller model.Identity, tripID string) error {
	if err := s.runtime.Participants.Remove(ctx, tripID, caller.ID); err != nil {
		return err
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastToTrip(tripID, EventParticipantLeft, map[string]string{"userId": caller.ID})
	}
	return nil
}

func (s *ParticipantService) Get(ctx context.Context, tripID, userID string) (*model.Participant, error) {
	return s.runtime.Participants.Get(ctx, tripID, userID)
}

// List returns every participant record in leaderboard order
func (s *ParticipantService) List(ctx context.Context, tripID string) ([]model.Participant, error) {
	board, err := s.runtime.Leaderboard.RangeAll(ctx, tripID)
	if err != nil {
		return nil, err
	}

	participants := make([]model.Participant, 0, len(board))
	for _, entry := range board {
		p, err := s.runtime.Participants.Get(ctx, tripID, entry.UserID)
		if apperr.KindOf(err) == apperr.KindNotFound {
			s.log.Warn("leaderboard entry without record", zap.String("trip_id", tripID), zap.String("user_id", entry.UserID))
			continue
		}
		if err != nil {
			return nil, err
		}
		participants = append(participants, *p)
	}
	return participants, nil
}

func (s *ParticipantService) Leaderboard(ctx context.Context, tripID string) ([]model.LeaderboardEntry, error) {
	return s.runtime.Leaderboard.RangeAll(ctx, tripID)
}

// Rename changes the display name of the caller inside a trip
func (s *ParticipantService) Rename(ctx context.Context, caller model.Identity, tripID, name string) (*model.Participant, error) {
	return s.runtime.Participants.Update(ctx, tripID, caller.ID, model.ParticipantPatch{Name: &name})
}

// FinishExperience puts the user on the podium of the experience at index
// and then credits the score. The podium write is idempotent per user, so a
// call that failed after it can be repeated and keeps the earned place.
func (s *ParticipantService) FinishExperience(ctx context.Context, tripID, userID string, index, score int) (result *FinishResult, err error) {
	ctx, span := tracing.Start(ctx, "trip.finishExperience",
		attribute.String("trip.id", tripID),
		attribute.Int("experience.index", index))
	defer func() { tracing.End(span, err) }()

	trip, err := s.startedTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	stop, ok := trip.ExperienceStop(index)
	if !ok {
		return nil, apperr.BadRequest(apperr.CodeExperienceIndex, "trip %s has no experience %d", tripID, index)
	}
	if score < 0 || (stop.Experience.Score > 0 && score > stop.Experience.Score) {
		return nil, apperr.BadRequest(apperr.CodeInvalidInput, "score %d outside [0,%d]", score, stop.Experience.Score)
	}

	current, err := s.runtime.Participants.Get(ctx, tripID, userID)
	if err != nil {
		return nil, err
	}
	if current.HasFinished(index) {
		return nil, alreadyFinished(index)
	}

	place, err := s.runtime.Experiences.RecordFinish(ctx, tripID, index, userID)
	if err != nil {
		return nil, err
	}

	participant, err := s.runtime.Participants.Apply(ctx, tripID, userID, func(p *model.Participant) error {
		if p.HasFinished(index) {
			return alreadyFinished(index)
		}
		p.Finish(index, score)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncExperienceFinish(strconv.Itoa(place))

	rank, err := s.runtime.Leaderboard.Rank(ctx, tripID, userID)
	if err != nil {
		s.log.Warn("leaderboard rank", zap.String("trip_id", tripID), zap.String("user_id", userID), zap.Error(err))
		rank = 0
	}

	return &FinishResult{
		UserID:      userID,
		Index:       index,
		Participant: participant,
		WinnerPlace: place,
		Rank:        int(rank),
	}, nil
}

func alreadyFinished(index int) error {
	return apperr.BadRequest(apperr.CodeAlreadyFinished, "experience %d already finished", index)
}

func (s *ParticipantService) startedTrip(ctx context.Context, tripID string) (*model.TripDetails, error) {
	trip, err := loadTrip(ctx, s.trips, s.tripCache, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status != model.TripStarted {
		return nil, apperr.BadRequest(apperr.CodeTripNotStarted, "trip %s is %s", tripID, trip.Status)
	}
	return trip, nil
}
