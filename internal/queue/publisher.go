// Package queue publishes trip lifecycle events to a RabbitMQ topic exchange.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"triptrack/internal/apperr"
	"triptrack/internal/model"
)

// Routing keys
const (
	EventTripStarted   = "trip.started"
	EventTripCompleted = "trip.completed"
	EventTripDeleted   = "trip.deleted"
	EventLoginCode     = "auth.login_code"
)

// TripEvent is the message body of every lifecycle event
type TripEvent struct {
	Type         string                  `json:"type"`
	TripID       string                  `json:"tripId"`
	CreatorID    string                  `json:"creatorId"`
	Status       model.TripStatus        `json:"status,omitempty"`
	Participants []model.TripParticipant `json:"participants,omitempty"`
	OccurredAt   time.Time               `json:"occurredAt"`
}

// NewTripEvent stamps an event for trip
func NewTripEvent(eventType string, trip *model.Trip) TripEvent {
	return TripEvent{
		Type:         eventType,
		TripID:       trip.ID.Hex(),
		CreatorID:    trip.Creator.Hex(),
		Status:       trip.Status,
		Participants: trip.Participants,
		OccurredAt:   time.Now().UTC(),
	}
}

// LoginCode asks the mail worker to deliver a one-time login code
type LoginCode struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Publisher interface {
	Publish(ctx context.Context, event TripEvent) error
	PublishLoginCode(ctx context.Context, msg LoginCode) error
	Close() error
}

// NopPublisher drops every event; used when no broker is configured
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, TripEvent) error          { return nil }
func (NopPublisher) PublishLoginCode(context.Context, LoginCode) error { return nil }
func (NopPublisher) Close() error                                     { return nil }

type amqpPublisher struct {
	conn     *amqp.Connection
	exchange string
	log      *zap.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

// NewPublisher dials the broker and declares the exchange. An empty url
// yields a NopPublisher.
func NewPublisher(url, exchange string, log *zap.Logger) (Publisher, error) {
	if url == "" {
		log.Info("amqp url not set, trip events are not published")
		return NopPublisher{}, nil
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, apperr.Wrap(apperr.SubsystemAMQP, err, "dial broker")
	}

	p := &amqpPublisher{conn: conn, exchange: exchange, log: log}
	ch, err := p.channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, apperr.Wrap(apperr.SubsystemAMQP, err, "declare exchange")
	}
	return p, nil
}

// channel returns the open publish channel, reopening it after the broker
// closed it
func (p *amqpPublisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, apperr.Wrap(apperr.SubsystemAMQP, err, "open channel")
	}
	p.ch = ch

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err := <-closed; err != nil {
			p.log.Warn("amqp publish channel closed, reopening on next publish", zap.Error(err))
		}
	}()
	return ch, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, event TripEvent) error {
	return p.publish(ctx, event.Type, event, event.OccurredAt)
}

func (p *amqpPublisher) PublishLoginCode(ctx context.Context, msg LoginCode) error {
	return p.publish(ctx, EventLoginCode, msg, time.Now().UTC())
}

func (p *amqpPublisher) publish(ctx context.Context, routingKey string, v any, at time.Time) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}

	body, err := json.Marshal(v)
	if err != nil {
		return apperr.Wrap(apperr.SubsystemAMQP, err, "encode "+routingKey)
	}

	err = ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    at,
	})
	return apperr.Wrap(apperr.SubsystemAMQP, err, "publish "+routingKey)
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	return p.conn.Close()
}
