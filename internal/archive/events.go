package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/agazso/runtracker/internal/tracking"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
)

const (
	EventPathSealed = "path.sealed"

	exchangeName = "runtracker.events"
	queueName    = "runtracker.sealed_paths"
)

type eventLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Event announces a sealed path to downstream consumers.
type Event struct {
	Type       string         `json:"type"`
	PathID     string         `json:"path_id"`
	DeviceID   string         `json:"device_id"`
	DistanceKm float64        `json:"distance_km"`
	FixCount   int            `json:"fix_count"`
	Start      *eventLocation `json:"start,omitempty"`
	End        *eventLocation `json:"end,omitempty"`
	SealedAt   int64          `json:"sealed_at"`
}

func NewEvent(path tracking.SealedPath) Event {
	ev := Event{
		Type:       EventPathSealed,
		PathID:     path.ID,
		DeviceID:   path.DeviceID,
		DistanceKm: path.DistanceKm,
		FixCount:   len(path.Fixes),
		SealedAt:   path.SealedAt.Unix(),
	}
	if n := len(path.Fixes); n > 0 {
		ev.Start = &eventLocation{Latitude: path.Fixes[0].Lat, Longitude: path.Fixes[0].Lng}
		ev.End = &eventLocation{Latitude: path.Fixes[n-1].Lat, Longitude: path.Fixes[n-1].Lng}
	}
	return ev
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// EventSink publishes every sealed path. Failures are logged only.
type EventSink struct {
	pub Publisher
}

func NewEventSink(pub Publisher) *EventSink {
	return &EventSink{pub: pub}
}

func (s *EventSink) PathSealed(ctx context.Context, path tracking.SealedPath) {
	if err := s.pub.Publish(ctx, NewEvent(path)); err != nil {
		log.Printf("[ERROR] publish %s for %s: %v", EventPathSealed, path.ID, err)
	}
}

// amqpChannel is the subset of *amqp.Channel used for publishing.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type RabbitPublisher struct {
	ch amqpChannel
}

// NewRabbitPublisher declares a durable fanout exchange and a queue bound to it.
func NewRabbitPublisher(conn *amqp.Connection) (*RabbitPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchangeName, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(queueName, "", exchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	return &RabbitPublisher{ch: ch}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return p.ch.PublishWithContext(ctx, exchangeName, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         ev.Type,
		MessageId:    ev.PathID,
		Timestamp:    time.Unix(ev.SealedAt, 0),
		Body:         body,
	})
}

func (p *RabbitPublisher) Close() error {
	return p.ch.Close()
}

// KafkaWriter is the subset of *kafka.Writer used for publishing.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	w KafkaWriter
}

func NewKafkaPublisher(w KafkaWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

// Publish keys messages by device so one device's paths stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.DeviceID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
