package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/tenantauth/pkg/logger"
)

// Message is the JSON frame written to subscribers.
type Message struct {
	Stream string         `json:"stream"`
	Event  string         `json:"event"`
	Data   any            `json:"data,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Relay fans published messages out to every process sharing the channel.
// The Redis cache client satisfies it.
type Relay interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

type relayEnvelope struct {
	Version int     `json:"v"`
	Stream  string  `json:"stream"`
	UserID  string  `json:"user_id"`
	Message Message `json:"message"`
}

// route addresses the clients of one user on one stream.
type route struct {
	stream string
	userID string
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithRelay routes published messages through relay so that clients connected
// to other instances receive them too. Run must be started to consume the relay.
func WithRelay(relay Relay, channel string) HubOption {
	return func(h *Hub) {
		h.relay = relay
		if channel = strings.TrimSpace(channel); channel != "" {
			h.channel = channel
		}
	}
}

// WithAllowedOrigins accepts websocket handshakes from the listed origins in
// addition to same-host and loopback origins.
func WithAllowedOrigins(origins ...string) HubOption {
	return func(h *Hub) {
		h.origins = newOriginPolicy(origins)
	}
}

// Hub keeps the account event subscriptions of connected clients.
type Hub struct {
	mu      sync.RWMutex
	routes  map[route]map[*client]struct{}
	relay   Relay
	channel string
	origins originPolicy
	log     *zap.Logger
}

// NewHub constructs a realtime hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		routes:  make(map[route]map[*client]struct{}),
		channel: defaultRelayChannel,
		origins: newOriginPolicy(nil),
		log:     logger.WithModule("realtime"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Run consumes the relay channel and delivers its messages to local
// subscribers until ctx is cancelled. Without a relay it returns immediately.
func (h *Hub) Run(ctx context.Context) error {
	if h.relay == nil {
		return nil
	}

	payloads, err := h.relay.Subscribe(ctx, h.channel)
	if err != nil {
		return err
	}

	go func() {
		for payload := range payloads {
			var envelope relayEnvelope
			if err := json.Unmarshal(payload, &envelope); err != nil {
				h.log.Warn("discarding malformed relay payload", zap.Error(err))
				continue
			}
			if envelope.Version != relayEnvelopeSchemaVersion {
				h.log.Debug("skipping relay payload", zap.Int("version", envelope.Version))
				continue
			}
			h.BroadcastToUser(envelope.Stream, envelope.UserID, envelope.Message)
		}
	}()
	return nil
}

// Publish delivers message to userID's subscribers on stream, through the
// relay when one is configured. A failed relay publish falls back to local delivery.
func (h *Hub) Publish(ctx context.Context, stream, userID string, message Message) {
	if h.relay == nil {
		h.BroadcastToUser(stream, userID, message)
		return
	}

	payload, err := json.Marshal(relayEnvelope{
		Version: relayEnvelopeSchemaVersion,
		Stream:  normalizeStream(stream),
		UserID:  userID,
		Message: message,
	})
	if err == nil {
		err = h.relay.Publish(ctx, h.channel, payload)
	}
	if err != nil {
		h.log.Warn("relay publish failed; delivering locally", zap.Error(err))
		h.BroadcastToUser(stream, userID, message)
	}
}

// Serve upgrades the request to a websocket owned by userID and subscribes it
// to streams. A non-empty subprotocol is echoed back during the handshake,
// which browsers require when they offered one.
func (h *Hub) Serve(userID string, streams []string, subprotocol string, w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.origins.allows,
	}
	if subprotocol != "" {
		upgrader.Subprotocols = []string{subprotocol}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(h, conn, userID)
	h.subscribe(c, streams)

	go c.writePump()
	c.readPump()
}

// BroadcastToUser delivers message to the local clients of userID on stream.
func (h *Hub) BroadcastToUser(stream, userID string, message Message) {
	key := route{stream: normalizeStream(stream), userID: userID}
	if key.stream == "" || key.userID == "" {
		return
	}
	message.Stream = key.stream

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.routes[key] {
		if !c.offer(message) {
			h.log.Warn("dropping slow realtime client", zap.String("user_id", c.userID))
			go c.close()
		}
	}
}

// Subscribers reports how many local connections listen on stream for userID.
func (h *Hub) Subscribers(stream, userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.routes[route{stream: normalizeStream(stream), userID: userID}])
}

func (h *Hub) subscribe(c *client, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range uniqueStreams(streams) {
		key := route{stream: stream, userID: c.userID}
		set, ok := h.routes[key]
		if !ok {
			set = make(map[*client]struct{})
			h.routes[key] = set
		}
		set[c] = struct{}{}
		c.streams[stream] = struct{}{}
	}
}

func (h *Hub) unsubscribe(c *client, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range uniqueStreams(streams) {
		h.dropLocked(c, stream)
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for stream := range c.streams {
		h.dropLocked(c, stream)
	}
}

func (h *Hub) dropLocked(c *client, stream string) {
	key := route{stream: stream, userID: c.userID}
	if set, ok := h.routes[key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.routes, key)
		}
	}
	delete(c.streams, stream)
}

func normalizeStream(stream string) string {
	return strings.ToLower(strings.TrimSpace(stream))
}

func uniqueStreams(streams []string) []string {
	seen := make(map[string]bool, len(streams))
	result := make([]string, 0, len(streams))
	for _, stream := range streams {
		stream = normalizeStream(stream)
		if stream == "" || seen[stream] {
			continue
		}
		seen[stream] = true
		result = append(result, stream)
	}
	return result
}
