package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"triptrack/internal/model"
)

func TestNewPublisherWithoutURLIsNop(t *testing.T) {
	p, err := NewPublisher("", "trip.events", zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, NopPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), TripEvent{Type: EventTripStarted}))
	assert.NoError(t, p.PublishLoginCode(context.Background(), LoginCode{Email: "a@b.co", Code: "123456"}))
	assert.NoError(t, p.Close())
}

func TestNewTripEvent(t *testing.T) {
	trip := &model.Trip{
		ID:           primitive.NewObjectID(),
		Creator:      primitive.NewObjectID(),
		Status:       model.TripCompleted,
		Participants: []model.TripParticipant{{UserID: "a", Score: 30}},
	}
	ev := NewTripEvent(EventTripCompleted, trip)
	assert.Equal(t, "trip.completed", ev.Type)
	assert.Equal(t, trip.ID.Hex(), ev.TripID)
	assert.Equal(t, trip.Creator.Hex(), ev.CreatorID)
	assert.Len(t, ev.Participants, 1)
	assert.False(t, ev.OccurredAt.IsZero())
}
