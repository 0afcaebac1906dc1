package location

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/agazso/runtracker/internal/tracking"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTGeolocator asks the device for a single position fix. Concurrent
// requests share one subscription to the position topic; replies are routed
// by request id.
type MQTTGeolocator struct {
	client   mqtt.Client
	deviceID string
	timeout  time.Duration

	subMu sync.Mutex
	refs  int

	mu      sync.Mutex
	pending map[string]chan Message
}

func NewMQTTGeolocator(client mqtt.Client, deviceID string, timeout time.Duration) *MQTTGeolocator {
	return &MQTTGeolocator{
		client:   client,
		deviceID: deviceID,
		timeout:  timeout,
		pending:  map[string]chan Message{},
	}
}

// CurrentPosition publishes a request and waits for the matching reply on the
// position topic. A reply without a request id answers every pending request.
func (g *MQTTGeolocator) CurrentPosition(ctx context.Context) (tracking.Fix, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := g.acquire(ctx); err != nil {
		return tracking.Fix{}, err
	}
	defer g.release()

	requestID := uuid.NewString()
	reply := make(chan Message, 1)
	g.mu.Lock()
	g.pending[requestID] = reply
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, requestID)
		g.mu.Unlock()
	}()

	payload, _ := json.Marshal(map[string]string{"request_id": requestID})
	if err := wait(ctx, g.client.Publish(Topic(g.deviceID, TopicPositionRequest), qos, false, payload)); err != nil {
		return tracking.Fix{}, fmt.Errorf("request position: %w", err)
	}

	select {
	case m := <-reply:
		return m.Fix(), nil
	case <-ctx.Done():
		return tracking.Fix{}, fmt.Errorf("wait for position: %w", ctx.Err())
	}
}

// acquire subscribes to the position topic for the first pending request.
func (g *MQTTGeolocator) acquire(ctx context.Context) error {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	if g.refs == 0 {
		if err := wait(ctx, g.client.Subscribe(Topic(g.deviceID, TopicPosition), qos, g.handleReply)); err != nil {
			return fmt.Errorf("subscribe position: %w", err)
		}
	}
	g.refs++
	return nil
}

// release unsubscribes once the last pending request is done.
func (g *MQTTGeolocator) release() {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	g.refs--
	if g.refs == 0 {
		g.client.Unsubscribe(Topic(g.deviceID, TopicPosition))
	}
}

func (g *MQTTGeolocator) handleReply(_ mqtt.Client, msg mqtt.Message) {
	m, err := decodeMessage(msg.Payload())
	if err != nil {
		log.Printf("[ERROR] invalid position reply: %v", err)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for id, ch := range g.pending {
		if m.RequestID != "" && m.RequestID != id {
			continue
		}
		select {
		case ch <- m:
		default:
		}
	}
}
