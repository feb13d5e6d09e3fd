package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"triptrack/internal/apperr"
	"triptrack/internal/model"
	"triptrack/internal/service"
	"triptrack/internal/validate"
)

const testTripID = "65f1c0ffee0000000000abcd"

type frame struct {
	To      *Connection
	TripID  string
	Except  *Connection
	Event   string
	Payload interface{}
}

type recordingEmitter struct {
	mu     sync.Mutex
	joined map[*Connection][]string
	frames []frame
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{joined: make(map[*Connection][]string)}
}

func (e *recordingEmitter) JoinRoom(conn *Connection, tripID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.joined[conn] = append(e.joined[conn], tripID)
}

func (e *recordingEmitter) Emit(conn *Connection, event string, payload interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames = append(e.frames, frame{To: conn, Event: event, Payload: payload})
}

func (e *recordingEmitter) ToRoom(tripID string, except *Connection, event string, payload interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames = append(e.frames, frame{TripID: tripID, Except: except, Event: event, Payload: payload})
}

type fakeFinisher struct {
	calls  int
	userID string
	err    error
}

func (f *fakeFinisher) FinishExperience(ctx context.Context, tripID, userID string, index, score int) (*service.FinishResult, error) {
	f.calls++
	f.userID = userID
	if f.err != nil {
		return nil, f.err
	}
	p := &model.Participant{UserID: userID, Score: []int{score}, FinishedExperiences: []bool{true}}
	return &service.FinishResult{UserID: userID, Index: index, Participant: p, WinnerPlace: 1}, nil
}

func newTestGateway(finisher ExperienceFinisher) (*Gateway, *recordingEmitter) {
	emitter := newRecordingEmitter()
	g := NewGateway(emitter, finisher, validate.New(), nil, zap.NewNop(), GatewayConfig{MessageMaxLen: 10})
	return g, emitter
}

func testConn() *Connection {
	return NewConnection(model.GuestIdentity("guest-1", "Ana"))
}

func dispatch(t *testing.T, g *Gateway, conn *Connection, event string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(Message{Event: event, Payload: raw})
	require.NoError(t, err)
	g.Dispatch(context.Background(), conn, data)
}

func TestDispatch_UnknownEventErrorsSenderOnly(t *testing.T) {
	g, emitter := newTestGateway(&fakeFinisher{})
	conn := testConn()

	dispatch(t, g, conn, "dropTables", map[string]string{"tripId": testTripID})

	require.Len(t, emitter.frames, 1)
	f := emitter.frames[0]
	assert.Equal(t, conn, f.To)
	assert.Equal(t, EventError, f.Event)
	assert.Equal(t, "Invalid event: dropTables received.", f.Payload)
	assert.Empty(t, emitter.joined)
}

func TestDispatch_MalformedFrame(t *testing.T) {
	g, emitter := newTestGateway(&fakeFinisher{})
	conn := testConn()

	g.Dispatch(context.Background(), conn, []byte("{not json"))

	require.Len(t, emitter.frames, 1)
	assert.Equal(t, EventError, emitter.frames[0].Event)
	assert.Equal(t, conn, emitter.frames[0].To)
}

func TestJoinTrip(t *testing.T) {
	g, emitter := newTestGateway(&fakeFinisher{})
	conn := testConn()

	dispatch(t, g, conn, EventJoinTrip, JoinTripPayload{TripID: testTripID})

	assert.Equal(t, []string{testTripID}, emitter.joined[conn])
	require.Len(t, emitter.frames, 1)
	f := emitter.frames[0]
	assert.Equal(t, EventTripJoined, f.Event)
	assert.Equal(t, testTripID, f.TripID)
	assert.Equal(t, conn, f.Except)
	assert.Equal(t, TripJoined{SocketID: conn.ID, UserID: "guest-1"}, f.Payload)
}

func TestJoinTrip_InvalidIDCarriesDetails(t *testing.T) {
	g, emitter := newTestGateway(&fakeFinisher{})
	conn := testConn()

	dispatch(t, g, conn, EventJoinTrip, JoinTripPayload{TripID: "nope"})

	assert.Empty(t, emitter.joined)
	require.Len(t, emitter.frames, 1)
	payload, ok := emitter.frames[0].Payload.(ErrorPayload)
	require.True(t, ok)
	assert.Contains(t, payload.ErrorDetails, "tripId")
}

func TestUpdateLocation(t *testing.T) {
	g, emitter := newTestGateway(&fakeFinisher{})
	conn := testConn()

	dispatch(t, g, conn, EventUpdateLocation, map[string]interface{}{
		"tripId":   testTripID,
		"location": map[string]float64{"lon": 13.4, "lat": 52.5},
	})

	require.Len(t, emitter.frames, 1)
	f := emitter.frames[0]
	assert.Equal(t, EventLocationUpdated, f.Event)
	assert.Equal(t, conn, f.Except)
	update := f.Payload.(LocationUpdated)
	assert.Equal(t, conn.ID, update.SocketID)
	assert.InDelta(t, 13.4, *update.Location.Lon, 1e-9)
	assert.InDelta(t, 52.5, *update.Location.Lat, 1e-9)
}

func TestUpdateLocation_RejectsNonNumeric(t *testing.T) {
	g, emitter := newTestGateway(&fakeFinisher{})
	conn := testConn()

	dispatch(t, g, conn, EventUpdateLocation, map[string]interface{}{
		"tripId":   testTripID,
		"location": map[string]interface{}{"lon": "east", "lat": 52.5},
	})

	require.Len(t, emitter.frames, 1)
	assert.Equal(t, EventError, emitter.frames[0].Event)
	assert.Equal(t, conn, emitter.frames[0].To)
}

func TestUpdateLocation_MissingCoordinate(t *testing.T) {
	g, emitter := newTestGateway(&fakeFinisher{})
	conn := testConn()

	dispatch(t, g, conn, EventUpdateLocation, map[string]interface{}{
		"tripId":   testTripID,
		"location": map[string]float64{"lon": 13.4},
	})

	require.Len(t, emitter.frames, 1)
	payload := emitter.frames[0].Payload.(ErrorPayload)
	assert.Contains(t, payload.ErrorDetails, "location.lat")
}

func TestFinishExperience_BroadcastsToWholeRoom(t *testing.T) {
	finisher := &fakeFinisher{}
	g, emitter := newTestGateway(finisher)
	conn := testConn()

	dispatch(t, g, conn, EventFinishExperience, map[string]interface{}{
		"tripId": testTripID, "experienceIndex": 0, "score": 7,
	})

	assert.Equal(t, 1, finisher.calls)
	assert.Equal(t, "guest-1", finisher.userID)
	require.Len(t, emitter.frames, 1)
	f := emitter.frames[0]
	assert.Equal(t, EventExperienceFinished, f.Event)
	assert.Nil(t, f.Except)
	result := f.Payload.(*service.FinishResult)
	assert.Equal(t, []int{7}, result.Participant.Score)
}

func TestFinishExperience_ForeignUserRejected(t *testing.T) {
	finisher := &fakeFinisher{}
	g, emitter := newTestGateway(finisher)
	conn := testConn()

	dispatch(t, g, conn, EventFinishExperience, map[string]interface{}{
		"tripId": testTripID, "userId": "someone-else", "experienceIndex": 0, "score": 7,
	})

	assert.Zero(t, finisher.calls)
	require.Len(t, emitter.frames, 1)
	assert.Equal(t, EventError, emitter.frames[0].Event)
}

func TestFinishExperience_MissingIndex(t *testing.T) {
	finisher := &fakeFinisher{}
	g, emitter := newTestGateway(finisher)

	dispatch(t, g, testConn(), EventFinishExperience, map[string]interface{}{
		"tripId": testTripID, "score": 7,
	})

	assert.Zero(t, finisher.calls)
	payload := emitter.frames[0].Payload.(ErrorPayload)
	assert.Contains(t, payload.ErrorDetails, "experienceIndex")
}

func TestFinishExperience_DomainErrorIsPlainString(t *testing.T) {
	finisher := &fakeFinisher{err: apperr.BadRequest(apperr.CodeAlreadyFinished, "experience 0 already finished")}
	g, emitter := newTestGateway(finisher)
	conn := testConn()

	dispatch(t, g, conn, EventFinishExperience, map[string]interface{}{
		"tripId": testTripID, "experienceIndex": 0, "score": 7,
	})

	require.Len(t, emitter.frames, 1)
	assert.Equal(t, conn, emitter.frames[0].To)
	assert.Equal(t, "experience 0 already finished", emitter.frames[0].Payload)
}

func TestFinishExperience_InternalErrorHidden(t *testing.T) {
	finisher := &fakeFinisher{err: apperr.Internal(apperr.SubsystemRedis, "connection refused")}
	g, emitter := newTestGateway(finisher)

	dispatch(t, g, testConn(), EventFinishExperience, map[string]interface{}{
		"tripId": testTripID, "experienceIndex": 0, "score": 7,
	})

	assert.Equal(t, "Something went wrong", emitter.frames[0].Payload)
}

type panickingFinisher struct{}

func (panickingFinisher) FinishExperience(ctx context.Context, tripID, userID string, index, score int) (*service.FinishResult, error) {
	var winners map[int]string
	winners[index] = userID
	return nil, nil
}

func TestFinishExperience_PanicBecomesErrorFrame(t *testing.T) {
	g, emitter := newTestGateway(panickingFinisher{})
	conn := testConn()

	require.NotPanics(t, func() {
		dispatch(t, g, conn, EventFinishExperience, map[string]interface{}{
			"tripId": testTripID, "experienceIndex": 0, "score": 7,
		})
	})

	require.Len(t, emitter.frames, 1)
	assert.Equal(t, conn, emitter.frames[0].To)
	assert.Equal(t, EventError, emitter.frames[0].Event)
	assert.Equal(t, "Something went wrong", emitter.frames[0].Payload)

	// the connection keeps working afterwards
	dispatch(t, g, conn, EventJoinTrip, JoinTripPayload{TripID: testTripID})
	assert.Equal(t, []string{testTripID}, emitter.joined[conn])
}

func TestSendMessage(t *testing.T) {
	g, emitter := newTestGateway(&fakeFinisher{})
	conn := testConn()

	dispatch(t, g, conn, EventSendMessage, SendMessagePayload{TripID: testTripID, Message: "hi all"})

	require.Len(t, emitter.frames, 1)
	f := emitter.frames[0]
	assert.Equal(t, EventMessageSent, f.Event)
	assert.Equal(t, conn, f.Except)
	assert.Equal(t, MessageSent{SocketID: conn.ID, UserID: "guest-1", Message: "hi all"}, f.Payload)
}

func TestSendMessage_Length(t *testing.T) {
	g, emitter := newTestGateway(&fakeFinisher{})
	conn := testConn()

	dispatch(t, g, conn, EventSendMessage, SendMessagePayload{TripID: testTripID, Message: ""})
	dispatch(t, g, conn, EventSendMessage, SendMessagePayload{TripID: testTripID, Message: "way too long for ten"})

	require.Len(t, emitter.frames, 2)
	for _, f := range emitter.frames {
		assert.Equal(t, EventError, f.Event)
		payload := f.Payload.(ErrorPayload)
		assert.Contains(t, payload.ErrorDetails, "message")
	}
}
