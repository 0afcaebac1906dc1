package stream

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/agazso/runtracker/internal/tracking"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix = "runtracker:"
	channelSuffix = ":view"
)

// Hub fans rendered views out to the WebSocket clients watching a device.
// With Redis configured every view goes through a pub/sub channel so clients
// connected to other replicas receive it too.
type Hub struct {
	redis   *redis.Client
	clients map[string]map[*Client]struct{}
	last    map[string][]byte
	mu      sync.RWMutex
}

type Client struct {
	DeviceID string
	Send     chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		clients: map[string]map[*Client]struct{}{},
		last:    map[string][]byte{},
	}

	if redisClient != nil {
		ready := make(chan struct{})
		go h.subscribeRedis(ready)
		<-ready
	}
	return h
}

// Register adds a client for deviceID. The latest view, if any, is queued
// right away so a new map starts from the current state.
func (h *Hub) Register(deviceID string) *Client {
	client := &Client{
		DeviceID: deviceID,
		Send:     make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[deviceID] == nil {
		h.clients[deviceID] = map[*Client]struct{}{}
	}
	h.clients[deviceID][client] = struct{}{}
	if payload, ok := h.last[deviceID]; ok {
		client.Send <- payload
	}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if deviceClients, ok := h.clients[client.DeviceID]; ok {
		delete(deviceClients, client)
		if len(deviceClients) == 0 {
			delete(h.clients, client.DeviceID)
		}
	}
	close(client.Send)
}

// Render implements tracking.Renderer.
func (h *Hub) Render(view tracking.View) {
	payload, err := json.Marshal(view)
	if err != nil {
		log.Printf("marshal view: %v", err)
		return
	}
	h.Broadcast(view.DeviceID, payload)
}

func (h *Hub) Broadcast(deviceID string, payload []byte) {
	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(deviceID), payload).Err()
		if err == nil {
			return
		}
		log.Printf("redis publish error: %v", err)
	}
	h.deliver(deviceID, payload)
}

func (h *Hub) deliver(deviceID string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last[deviceID] = payload
	for client := range h.clients[deviceID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis(ready chan<- struct{}) {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, channelPrefix+"*"+channelSuffix)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		log.Printf("redis subscribe error: %v", err)
	}
	close(ready)

	for msg := range pubsub.Channel() {
		deviceID := deviceIDFromChannel(msg.Channel)
		if deviceID == "" {
			continue
		}
		h.deliver(deviceID, []byte(msg.Payload))
	}
}

func redisChannel(deviceID string) string {
	return channelPrefix + deviceID + channelSuffix
}

func deviceIDFromChannel(ch string) string {
	// runtracker:{device}:view
	if len(ch) <= len(channelPrefix)+len(channelSuffix) ||
		!strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
