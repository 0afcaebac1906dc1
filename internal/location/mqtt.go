package location

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/agazso/runtracker/internal/tracking"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-playground/validator/v10"
)

const (
	topicRoot = "runtracker"
	qos       = 1

	TopicConfig          = "config"
	TopicCommand         = "command"
	TopicLocation        = "location"
	TopicStationary      = "stationary"
	TopicError           = "error"
	TopicPosition        = "position"
	TopicPositionRequest = "position/request"

	CommandStart = "start"
	CommandStop  = "stop"
)

// Topic returns the MQTT topic for a device, e.g. runtracker/<device>/location.
func Topic(deviceID, leaf string) string {
	return topicRoot + "/" + deviceID + "/" + leaf
}

// Message is a single fix as published by the device.
type Message struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Altitude  float64 `json:"altitude,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
	Bearing   float64 `json:"bearing,omitempty"`
	Time      int64   `json:"time,omitempty"` // unix milliseconds
	Provider  string  `json:"provider,omitempty"`
	RequestID string  `json:"request_id,omitempty"`
}

func (m Message) Fix() tracking.Fix {
	fix := tracking.Fix{
		Lat:       m.Latitude,
		Lng:       m.Longitude,
		Accuracy:  m.Accuracy,
		AltitudeM: m.Altitude,
		SpeedMps:  m.Speed,
		Bearing:   m.Bearing,
		Provider:  m.Provider,
	}
	if m.Time > 0 {
		fix.RecordedAt = time.UnixMilli(m.Time)
	}
	return fix
}

// ProviderError is an error event reported by the device.
type ProviderError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// MQTTProvider drives a device's background location service over MQTT.
type MQTTProvider struct {
	client   mqtt.Client
	deviceID string
	cfg      ProviderConfig

	mu       sync.RWMutex
	handlers tracking.Handlers
}

func NewMQTTProvider(client mqtt.Client, deviceID string, cfg ProviderConfig) *MQTTProvider {
	return &MQTTProvider{client: client, deviceID: deviceID, cfg: cfg}
}

// Configure publishes the configuration record as a retained message so the
// device picks it up whenever it connects.
func (p *MQTTProvider) Configure(ctx context.Context) error {
	payload, err := json.Marshal(p.cfg)
	if err != nil {
		return fmt.Errorf("marshal provider config: %w", err)
	}
	return wait(ctx, p.client.Publish(Topic(p.deviceID, TopicConfig), qos, true, payload))
}

func (p *MQTTProvider) Subscribe(h tracking.Handlers) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = h
}

func (p *MQTTProvider) Start(ctx context.Context) error {
	filters := map[string]byte{
		Topic(p.deviceID, TopicLocation):   qos,
		Topic(p.deviceID, TopicStationary): qos,
		Topic(p.deviceID, TopicError):      qos,
	}
	if err := wait(ctx, p.client.SubscribeMultiple(filters, p.handleMessage)); err != nil {
		return fmt.Errorf("subscribe location topics: %w", err)
	}
	return p.command(ctx, CommandStart)
}

func (p *MQTTProvider) Stop(ctx context.Context) error {
	if err := p.command(ctx, CommandStop); err != nil {
		return err
	}
	token := p.client.Unsubscribe(
		Topic(p.deviceID, TopicLocation),
		Topic(p.deviceID, TopicStationary),
		Topic(p.deviceID, TopicError),
	)
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("unsubscribe location topics: %w", err)
	}
	return nil
}

func (p *MQTTProvider) command(ctx context.Context, cmd string) error {
	if err := wait(ctx, p.client.Publish(Topic(p.deviceID, TopicCommand), qos, false, []byte(cmd))); err != nil {
		return fmt.Errorf("publish %s command: %w", cmd, err)
	}
	return nil
}

func (p *MQTTProvider) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	p.mu.RLock()
	h := p.handlers
	p.mu.RUnlock()

	switch leaf := msg.Topic()[strings.LastIndex(msg.Topic(), "/")+1:]; leaf {
	case TopicLocation, TopicStationary:
		m, err := decodeMessage(msg.Payload())
		if err != nil {
			emitError(h, fmt.Errorf("invalid %s message: %w", leaf, err))
			return
		}
		if leaf == TopicLocation && h.Location != nil {
			h.Location(m.Fix())
		}
		if leaf == TopicStationary && h.Stationary != nil {
			h.Stationary(m.Fix())
		}
	case TopicError:
		var perr ProviderError
		if err := json.Unmarshal(msg.Payload(), &perr); err != nil {
			perr = ProviderError{Message: string(msg.Payload())}
		}
		emitError(h, &perr)
	default:
		log.Printf("unexpected mqtt topic %s", msg.Topic())
	}
}

func emitError(h tracking.Handlers, err error) {
	if h.Error != nil {
		h.Error(err)
		return
	}
	log.Printf("[ERROR] location provider error: %v", err)
}

// coordinates is decoded next to Message so a missing latitude or longitude
// is told apart from a zero one.
type coordinates struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	Time      int64    `json:"time" validate:"gte=0"`
}

var validate = validator.New()

func decodeMessage(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, err
	}
	var c coordinates
	if err := json.Unmarshal(payload, &c); err != nil {
		return Message{}, err
	}
	if err := validate.Struct(c); err != nil {
		return Message{}, err
	}
	return m, nil
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
