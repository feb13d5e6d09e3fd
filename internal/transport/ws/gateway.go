package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"triptrack/internal/apperr"
	"triptrack/internal/metrics"
	"triptrack/internal/service"
	"triptrack/internal/validate"
)

// Inbound events
const (
	EventJoinTrip         = "joinTrip"
	EventUpdateLocation   = "updateLocation"
	EventFinishExperience = "finishExperience"
	EventSendMessage      = "sendMessage"
	EventDisconnect       = "disconnect"
)

// Outbound events
const (
	EventTripJoined         = "tripJoined"
	EventLocationUpdated    = "locationUpdated"
	EventExperienceFinished = "experienceFinished"
	EventMessageSent        = "messageSent"
	EventError              = "error"
)

const defaultEventTimeout = 10 * time.Second

// Emitter routes frames to connections and rooms
type Emitter interface {
	JoinRoom(conn *Connection, tripID string)
	Emit(conn *Connection, event string, payload interface{})
	ToRoom(tripID string, except *Connection, event string, payload interface{})
}

// ExperienceFinisher credits a finished experience
type ExperienceFinisher interface {
	FinishExperience(ctx context.Context, tripID, userID string, index, score int) (*service.FinishResult, error)
}

type JoinTripPayload struct {
	TripID string `json:"tripId" validate:"required,mongodb"`
}

type Location struct {
	Lon *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
}

type UpdateLocationPayload struct {
	TripID   string    `json:"tripId" validate:"required,mongodb"`
	Location *Location `json:"location" validate:"required"`
}

type FinishExperiencePayload struct {
	TripID          string `json:"tripId" validate:"required,mongodb"`
	UserID          string `json:"userId"`
	ExperienceIndex *int   `json:"experienceIndex" validate:"required,gte=0"`
	Score           *int   `json:"score" validate:"required,gte=0"`
}

type SendMessagePayload struct {
	TripID  string `json:"tripId" validate:"required,mongodb"`
	Message string `json:"message" validate:"required"`
	UserID  string `json:"userId"`
}

// Outbound payloads

type TripJoined struct {
	SocketID string `json:"socketId"`
	UserID   string `json:"userId"`
}

type LocationUpdated struct {
	SocketID string   `json:"socketId"`
	UserID   string   `json:"userId"`
	Location Location `json:"location"`
}

type MessageSent struct {
	SocketID string `json:"socketId"`
	UserID   string `json:"userId"`
	Message  string `json:"message"`
}

// ErrorPayload is sent for validation failures; other errors are a plain string
type ErrorPayload struct {
	Message      string            `json:"message"`
	ErrorDetails map[string]string `json:"errorDetails"`
}

type eventHandler func(ctx context.Context, conn *Connection, payload json.RawMessage) error

// Gateway validates inbound socket events and routes them to their handler
type Gateway struct {
	emitter       Emitter
	participants  ExperienceFinisher
	validator     *validate.Validator
	metrics       *metrics.Metrics
	log           *zap.Logger
	messageMaxLen int
	timeout       time.Duration
	development   bool
	handlers      map[string]eventHandler
}

// GatewayConfig holds the gateway settings taken from config
type GatewayConfig struct {
	MessageMaxLen int
	EventTimeout  time.Duration
	Development   bool
}

// NewGateway creates a new gateway
func NewGateway(emitter Emitter, participants ExperienceFinisher, v *validate.Validator, m *metrics.Metrics, log *zap.Logger, cfg GatewayConfig) *Gateway {
	if cfg.MessageMaxLen <= 0 {
		cfg.MessageMaxLen = 300
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = defaultEventTimeout
	}
	g := &Gateway{
		emitter:       emitter,
		participants:  participants,
		validator:     v,
		metrics:       m,
		log:           log,
		messageMaxLen: cfg.MessageMaxLen,
		timeout:       cfg.EventTimeout,
		development:   cfg.Development,
	}
	g.handlers = map[string]eventHandler{
		EventJoinTrip:         g.joinTrip,
		EventUpdateLocation:   g.updateLocation,
		EventFinishExperience: g.finishExperience,
		EventSendMessage:      g.sendMessage,
	}
	return g
}

// Dispatch handles one raw inbound frame. Errors go back to the sender only
// and never end the connection.
func (g *Gateway) Dispatch(ctx context.Context, conn *Connection, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		g.fail(conn, "malformed", "", apperr.BadRequest(apperr.CodeInvalidInput, "malformed message"))
		return
	}

	handler, ok := g.handlers[msg.Event]
	if !ok {
		err := &apperr.Error{
			Kind:      apperr.KindBadRequest,
			Code:      apperr.CodeInvalidEvent,
			Message:   fmt.Sprintf("Invalid event: %s received.", msg.Event),
			Subsystem: apperr.SubsystemSocket,
		}
		g.fail(conn, "unknown", "", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			g.fail(conn, msg.Event, tripIDOf(msg.Payload), apperr.Internal(apperr.SubsystemSocket, "panic in %s handler: %v", msg.Event, r))
		}
	}()

	start := time.Now()
	if err := handler(ctx, conn, msg.Payload); err != nil {
		g.fail(conn, msg.Event, tripIDOf(msg.Payload), err)
		return
	}
	g.metrics.IncSocketEvent(msg.Event, metrics.OutcomeOK)
	g.log.Info("socket event",
		zap.String("event", msg.Event),
		zap.String("socket_id", conn.ID),
		zap.String("trip_id", tripIDOf(msg.Payload)),
		zap.Duration("duration", time.Since(start)))
}

// Disconnected records the end of a connection. Leaving a trip is an
// explicit REST call, so nothing else happens here.
func (g *Gateway) Disconnected(conn *Connection) {
	g.metrics.IncSocketEvent(EventDisconnect, metrics.OutcomeOK)
	g.log.Info("socket event", zap.String("event", EventDisconnect), zap.String("socket_id", conn.ID))
}

func (g *Gateway) joinTrip(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	var p JoinTripPayload
	if err := g.bind(raw, &p); err != nil {
		return err
	}
	g.emitter.JoinRoom(conn, p.TripID)
	g.emitter.ToRoom(p.TripID, conn, EventTripJoined, TripJoined{SocketID: conn.ID, UserID: conn.Identity.ID})
	return nil
}

func (g *Gateway) updateLocation(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	var p UpdateLocationPayload
	if err := g.bind(raw, &p); err != nil {
		return err
	}
	g.emitter.ToRoom(p.TripID, conn, EventLocationUpdated, LocationUpdated{
		SocketID: conn.ID,
		UserID:   conn.Identity.ID,
		Location: *p.Location,
	})
	return nil
}

func (g *Gateway) finishExperience(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	var p FinishExperiencePayload
	if err := g.bind(raw, &p); err != nil {
		return err
	}
	userID, err := g.actingUser(conn, p.UserID)
	if err != nil {
		return err
	}
	result, err := g.participants.FinishExperience(ctx, p.TripID, userID, *p.ExperienceIndex, *p.Score)
	if err != nil {
		return err
	}
	g.emitter.ToRoom(p.TripID, nil, EventExperienceFinished, result)
	return nil
}

func (g *Gateway) sendMessage(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	var p SendMessagePayload
	if err := g.bind(raw, &p); err != nil {
		return err
	}
	if utf8.RuneCountInString(p.Message) > g.messageMaxLen {
		return apperr.Validation("validation failed", map[string]string{
			"message": fmt.Sprintf("must be at most %d characters", g.messageMaxLen),
		})
	}
	userID, err := g.actingUser(conn, p.UserID)
	if err != nil {
		return err
	}
	g.emitter.ToRoom(p.TripID, conn, EventMessageSent, MessageSent{
		SocketID: conn.ID,
		UserID:   userID,
		Message:  p.Message,
	})
	return nil
}

// actingUser prefers the authenticated identity; a claimed id must agree
func (g *Gateway) actingUser(conn *Connection, claimed string) (string, error) {
	if conn.Identity.ID == "" {
		if claimed == "" {
			return "", apperr.Unauthorized(apperr.CodeInvalidToken, "socket is not authenticated")
		}
		return claimed, nil
	}
	if claimed != "" && claimed != conn.Identity.ID {
		return "", apperr.Unauthorized(apperr.CodeInvalidToken, "userId does not match the authenticated user")
	}
	return conn.Identity.ID, nil
}

func (g *Gateway) bind(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Validation("validation failed", map[string]string{"payload": "must be a JSON object of the expected shape"})
	}
	return g.validator.Struct(dst)
}

func (g *Gateway) fail(conn *Connection, event, tripID string, err error) {
	outcome := metrics.OutcomeRejected
	if apperr.KindOf(err) == apperr.KindInternal {
		outcome = metrics.OutcomeFailed
		g.log.Error("socket event failed",
			zap.String("event", event),
			zap.String("socket_id", conn.ID),
			zap.String("trip_id", tripID),
			zap.Error(err))
	} else {
		g.log.Warn("socket event rejected",
			zap.String("event", event),
			zap.String("socket_id", conn.ID),
			zap.String("trip_id", tripID),
			zap.Error(err))
	}
	g.metrics.IncSocketEvent(event, outcome)
	g.emitter.Emit(conn, EventError, g.errorPayload(err))
}

func (g *Gateway) errorPayload(err error) interface{} {
	ae, ok := apperr.As(err)
	if !ok || ae.Kind == apperr.KindInternal {
		if g.development {
			return err.Error()
		}
		return "Something went wrong"
	}
	if ae.Kind == apperr.KindValidation {
		return ErrorPayload{Message: ae.Message, ErrorDetails: ae.Details}
	}
	return ae.Message
}

func tripIDOf(raw json.RawMessage) string {
	var p struct {
		TripID string `json:"tripId"`
	}
	_ = json.Unmarshal(raw, &p)
	return p.TripID
}
