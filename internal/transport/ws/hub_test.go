package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"triptrack/internal/apperr"
	"triptrack/internal/model"
	"triptrack/internal/validate"
)

func receive(t *testing.T, conn *Connection) Message {
	t.Helper()
	select {
	case data := <-conn.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return Message{}
	}
}

func assertSilent(t *testing.T, conn *Connection) {
	t.Helper()
	select {
	case data := <-conn.Send:
		t.Fatalf("unexpected frame %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_RoomFanout(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	defer hub.Stop()

	a := NewConnection(model.GuestIdentity("a", "A"))
	b := NewConnection(model.GuestIdentity("b", "B"))
	outsider := NewConnection(model.GuestIdentity("c", "C"))
	for _, c := range []*Connection{a, b, outsider} {
		hub.Register(c)
	}
	hub.JoinRoom(a, testTripID)
	hub.JoinRoom(b, testTripID)

	hub.ToRoom(testTripID, a, EventMessageSent, MessageSent{Message: "hey"})
	msg := receive(t, b)
	assert.Equal(t, EventMessageSent, msg.Event)
	assertSilent(t, a)
	assertSilent(t, outsider)

	hub.BroadcastToTrip(testTripID, "tripEnded", map[string]string{"tripId": testTripID})
	assert.Equal(t, "tripEnded", receive(t, a).Event)
	assert.Equal(t, "tripEnded", receive(t, b).Event)

	hub.CloseTrip(testTripID)
	hub.BroadcastToTrip(testTripID, "late", nil)
	assertSilent(t, a)
	assertSilent(t, b)
}

func TestHub_UnregisterLeavesRooms(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	defer hub.Stop()

	a := NewConnection(model.GuestIdentity("a", "A"))
	b := NewConnection(model.GuestIdentity("b", "B"))
	hub.Register(a)
	hub.Register(b)
	hub.JoinRoom(a, testTripID)
	hub.JoinRoom(b, testTripID)

	hub.Unregister(a)
	_, open := <-a.Send
	assert.False(t, open)

	hub.BroadcastToTrip(testTripID, "ping", nil)
	assert.Equal(t, "ping", receive(t, b).Event)
}

func TestHub_EmitTargetsOneConnection(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	defer hub.Stop()

	a := NewConnection(model.GuestIdentity("a", "A"))
	b := NewConnection(model.GuestIdentity("b", "B"))
	hub.Register(a)
	hub.Register(b)
	hub.JoinRoom(a, testTripID)
	hub.JoinRoom(b, testTripID)

	hub.Emit(a, EventError, "nope")
	msg := receive(t, a)
	assert.Equal(t, EventError, msg.Event)
	assert.JSONEq(t, `"nope"`, string(msg.Payload))
	assertSilent(t, b)
}

type staticTokens map[string]model.Identity

func (s staticTokens) ValidateToken(token string) (model.Identity, error) {
	id, ok := s[token]
	if !ok {
		return model.Identity{}, apperr.Unauthorized(apperr.CodeInvalidToken, "invalid token")
	}
	return id, nil
}

func TestHandler_EndToEnd(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	defer hub.Stop()
	gateway := NewGateway(hub, &fakeFinisher{}, validate.New(), nil, zap.NewNop(), GatewayConfig{})
	tokens := staticTokens{
		"tok-a": model.GuestIdentity("a", "A"),
		"tok-b": model.GuestIdentity("b", "B"),
	}
	srv := httptest.NewServer(NewHandler(hub, gateway, tokens, nil, zap.NewNop()))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=bad", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	a, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=tok-a", nil)
	require.NoError(t, err)
	defer a.Close()
	b, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=tok-b", nil)
	require.NoError(t, err)
	defer b.Close()

	join := `{"event":"joinTrip","payload":{"tripId":"` + testTripID + `"}}`
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(join)))

	// events on one socket are handled in order, so the error reply proves
	// the join went through
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"event":"bogus"}`)))
	var errFrame Message
	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, a.ReadJSON(&errFrame))
	assert.Equal(t, EventError, errFrame.Event)
	assert.JSONEq(t, `"Invalid event: bogus received."`, string(errFrame.Payload))

	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte(join)))
	var joined Message
	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, a.ReadJSON(&joined))
	assert.Equal(t, EventTripJoined, joined.Event)
	assert.Contains(t, string(joined.Payload), `"userId":"b"`)
}
