// Package hub pushes chat events to connected websocket clients. With a relay
// configured every event travels through it, so all instances deliver the
// same stream; without one delivery stays in-process.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/deskchat/internal/metrics"
	"github.com/eldtechnologies/deskchat/internal/models"
)

// Event names pushed to clients.
const (
	EventNewMessage       = "new_message"
	EventNewChat          = "new_chat"
	EventUserConnected    = "user_connected"
	EventUserDisconnected = "user_disconnected"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
	presenceWait   = 5 * time.Second
)

// Event is the frame written to a websocket.
type Event struct {
	Type     string `json:"type"`
	Data     any    `json:"data,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	ChatID   string `json:"chatId,omitempty"`
}

// Audience selects the connected users an event is delivered to.
type Audience struct {
	All        bool          `json:"all,omitempty"`
	Users      []string      `json:"users,omitempty"`
	Roles      []models.Role `json:"roles,omitempty"`
	ExceptUser string        `json:"exceptUser,omitempty"`
}

func (a Audience) includes(userID string, role models.Role) bool {
	if userID == a.ExceptUser {
		return false
	}
	return a.All || slices.Contains(a.Users, userID) || slices.Contains(a.Roles, role)
}

// ChatAudience returns the users who follow chat: its participants and every
// super-agent, plus all agents while nobody is assigned.
func ChatAudience(chat *models.Chat) Audience {
	aud := Audience{
		Users: chat.Participants(),
		Roles: []models.Role{models.RoleSuperAgent},
	}
	if chat.AgentID == nil {
		aud.Roles = append(aud.Roles, models.RoleAgent)
	}
	return aud
}

// Relay carries encoded events between instances. *store.RedisStore
// satisfies it.
type Relay interface {
	PublishEvent(ctx context.Context, payload []byte) error
	SubscribeEvents(ctx context.Context) (<-chan []byte, error)
}

// relayed is the relay wire format.
type relayed struct {
	Type     string          `json:"type"`
	Audience Audience        `json:"audience"`
	Frame    json.RawMessage `json:"frame"`
}

// PresenceFunc records a user's first connection or last disconnection.
type PresenceFunc func(ctx context.Context, userID string, online bool) error

// Options configures a Hub.
type Options struct {
	Relay       Relay
	OnPresence  PresenceFunc
	CheckOrigin func(r *http.Request) bool
}

// Hub tracks websocket clients by user and delivers events to them.
type Hub struct {
	relay      Relay
	onPresence PresenceFunc
	upgrader   websocket.Upgrader
	logger     zerolog.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

// New creates a hub.
func New(logger zerolog.Logger, opts Options) *Hub {
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		relay:      opts.Relay,
		onPresence: opts.OnPresence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger:  logger.With().Str("component", "hub").Logger(),
		clients: make(map[string]map[*Client]struct{}),
	}
}

// Start subscribes to the relay and delivers relayed events until ctx is
// done. It returns once the subscription is live. Without a relay it does
// nothing.
func (h *Hub) Start(ctx context.Context) error {
	if h.relay == nil {
		return nil
	}
	frames, err := h.relay.SubscribeEvents(ctx)
	if err != nil {
		return err
	}
	go func() {
		for payload := range frames {
			var msg relayed
			if err := json.Unmarshal(payload, &msg); err != nil {
				h.logger.Warn().Err(err).Msg("dropping malformed relayed event")
				continue
			}
			h.deliver(msg.Type, msg.Audience, msg.Frame)
		}
		h.logger.Info().Msg("relay subscription closed")
	}()
	return nil
}

// Publish delivers ev to aud on every instance.
func (h *Hub) Publish(ctx context.Context, aud Audience, ev Event) error {
	frame, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if h.relay == nil {
		h.deliver(ev.Type, aud, frame)
		return nil
	}
	payload, err := json.Marshal(relayed{Type: ev.Type, Audience: aud, Frame: frame})
	if err != nil {
		return err
	}
	return h.relay.PublishEvent(ctx, payload)
}

// deliver queues frame on every matching local client. Clients whose queue
// is full are disconnected; they resynchronize when they reconnect.
func (h *Hub) deliver(eventType string, aud Audience, frame []byte) {
	var slow []*Client

	h.mu.RLock()
	for userID, set := range h.clients {
		for c := range set {
			if !aud.includes(userID, c.role) {
				continue
			}
			select {
			case c.send <- frame:
				metrics.EventsDelivered.WithLabelValues(eventType).Inc()
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn().Str("user_id", c.userID).Str("event", eventType).Msg("client too slow, disconnecting")
		h.unregister(c)
	}
}

// Connected reports whether userID has an open socket on this instance.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// ClientCount returns the number of open sockets on this instance.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// ServeWS upgrades the request and attaches the socket to user.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, user *models.User) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &Client{
		hub:      h,
		conn:     conn,
		userID:   user.ID,
		username: user.Username,
		role:     user.Role,
		send:     make(chan []byte, sendBuffer),
	}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	first := len(set) == 1
	h.mu.Unlock()

	metrics.WebSocketConnections.Inc()
	h.logger.Debug().Str("user_id", c.userID).Msg("client connected")

	if first {
		h.presence(c, true)
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := set[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, c)
	last := len(set) == 0
	if last {
		delete(h.clients, c.userID)
	}
	close(c.send)
	h.mu.Unlock()

	metrics.WebSocketConnections.Dec()
	h.logger.Debug().Str("user_id", c.userID).Msg("client disconnected")

	if last {
		h.presence(c, false)
	}
}

// presence records the change and tells everyone else about it.
func (h *Hub) presence(c *Client, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceWait)
	defer cancel()

	if h.onPresence != nil {
		if err := h.onPresence(ctx, c.userID, online); err != nil {
			h.logger.Warn().Err(err).Str("user_id", c.userID).Bool("online", online).Msg("failed to record presence")
		}
	}

	evType := EventUserDisconnected
	if online {
		evType = EventUserConnected
	}
	ev := Event{
		Type:     evType,
		Data:     map[string]any{"userId": c.userID, "isOnline": online},
		UserID:   c.userID,
		Username: c.username,
	}
	if err := h.Publish(ctx, Audience{All: true, ExceptUser: c.userID}, ev); err != nil {
		h.logger.Warn().Err(err).Str("event", evType).Msg("failed to publish presence")
	}
}

// Client is one websocket connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	userID   string
	username string
	role     models.Role
	send     chan []byte
}

// readPump drains inbound frames so control messages are processed. Clients
// act through the REST API; anything they write here is ignored.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug().Err(err).Str("user_id", c.userID).Msg("websocket read error")
			}
			return
		}
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
