package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/observability"
)

// Membership answers whether a user may join a conversation's room.
type Membership interface {
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
}

// Presence records online state and returns the peers to notify.
type Presence interface {
	SetPresence(ctx context.Context, userID string, online bool) (self model.Profile, peers []string, err error)
}

// Publisher accepts envelopes for fan-out; the Outbox is the production one.
type Publisher interface {
	Publish(env Envelope)
}

const presenceQueueSize = 1024

// connChange is a registration (up) or unregistration of one client. Both
// travel on a single channel so they are applied in the order they were sent.
type connChange struct {
	client *Client
	up     bool
}

type presenceChange struct {
	userID string
	online bool
}

type frameHandler func(ctx context.Context, c *Client, msg IncomingMessage)

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	rooms    map[string]map[*Client]struct{}
	total    int
	maxConns int

	members   Membership
	presence  Presence
	publisher Publisher
	frames    map[EventType]frameHandler

	conns     chan connChange
	presenceQ chan presenceChange
	stopping  chan struct{}
	done      chan struct{}
}

func NewHub(members Membership, presence Presence, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	h := &Hub{
		clients:   make(map[string]map[*Client]struct{}),
		rooms:     make(map[string]map[*Client]struct{}),
		maxConns:  maxConns,
		members:   members,
		presence:  presence,
		conns:     make(chan connChange, 64),
		presenceQ: make(chan presenceChange, presenceQueueSize),
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	h.frames = map[EventType]frameHandler{
		FrameJoin:   h.handleJoin,
		FrameLeave:  h.handleLeave,
		EventTyping: h.handleTyping,
	}
	return h
}

// SetPublisher routes hub-originated events (typing, presence) through p so
// they reach clients on other nodes too. Without one they are delivered locally.
func (h *Hub) SetPublisher(p Publisher) {
	h.publisher = p
}

// Connect serves conn as a connection of userID. The client is queued for
// registration before its loops start, so its unregistration can never be
// applied first.
func (h *Hub) Connect(conn *websocket.Conn, userID string) *Client {
	c := newClient(h, conn, userID)
	h.Register(c)
	c.start()
	return c
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	var presenceWG sync.WaitGroup
	presenceWG.Add(1)
	go func() {
		defer presenceWG.Done()
		for p := range h.presenceQ {
			h.setPresence(p.userID, p.online)
		}
	}()
	defer func() {
		close(h.presenceQ)
		presenceWG.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case ch := <-h.conns:
			if ch.up {
				h.addClient(ch.client)
			} else {
				h.removeClient(ch.client)
			}
		}
	}
}

func (h *Hub) shutdown() {
	close(h.stopping)

	h.mu.Lock()
	all := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	observability.WSConnections().Sub(float64(h.total))
	h.total = 0
	h.mu.Unlock()

	// No I/O under the lock.
	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
	for {
		select {
		case ch := <-h.conns:
			ch.client.Close()
		default:
			return
		}
	}
}

func (h *Hub) addClient(c *Client) {
	if c.closed() {
		return
	}
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	first := len(set) == 1
	h.total++
	h.mu.Unlock()
	observability.WSConnections().Inc()

	if first {
		h.presenceQ <- presenceChange{userID: c.userID, online: true}
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := set[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(set, c)
	h.total--
	last := len(set) == 0
	if last {
		delete(h.clients, c.userID)
	}
	for chatID := range c.rooms {
		h.leaveLocked(c, chatID)
	}
	h.mu.Unlock()
	observability.WSConnections().Dec()

	c.Close()

	if last {
		h.presenceQ <- presenceChange{userID: c.userID, online: false}
	}
}

// setPresence persists the transition and tells the user's conversation peers.
// It runs on the presence worker, one transition at a time.
func (h *Hub) setPresence(userID string, online bool) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	self, peers, err := h.presence.SetPresence(ctx, userID, online)
	if err != nil {
		logger.Errorf("ws set presence user=%s online=%v: %v", userID, online, err)
		return
	}
	payload := PresencePayload{ActorID: userID, Online: online, LastSeenAt: self.LastSeenAt}
	for _, peer := range peers {
		h.emit(ToUser(peer, EventPresence, payload))
	}
}

// route dispatches one client frame to its handler.
func (h *Hub) route(ctx context.Context, c *Client, msg IncomingMessage) {
	handle, ok := h.frames[msg.Type]
	if !ok {
		h.sendToClient(c, errorFrame("unknown event type", msg.ChatID))
		return
	}
	handle(ctx, c, msg)
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, msg IncomingMessage) {
	if !h.authorize(ctx, c, msg.ChatID) {
		return
	}
	h.mu.Lock()
	room, ok := h.rooms[msg.ChatID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[msg.ChatID] = room
	}
	room[c] = struct{}{}
	c.rooms[msg.ChatID] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) handleLeave(_ context.Context, c *Client, msg IncomingMessage) {
	h.mu.Lock()
	h.leaveLocked(c, msg.ChatID)
	h.mu.Unlock()
}

func (h *Hub) leaveLocked(c *Client, chatID string) {
	delete(c.rooms, chatID)
	room, ok := h.rooms[chatID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, chatID)
	}
}

// handleTyping relays an ephemeral indicator to the room, excluding the typist.
func (h *Hub) handleTyping(ctx context.Context, c *Client, msg IncomingMessage) {
	h.mu.RLock()
	_, joined := c.rooms[msg.ChatID]
	h.mu.RUnlock()
	if !joined && !h.authorize(ctx, c, msg.ChatID) {
		return
	}
	env := ToRoom(msg.ChatID, EventTyping, TypingPayload{ChatID: msg.ChatID, ActorID: c.userID, Typing: msg.Typing})
	env.Except = c.userID
	h.emit(env)
}

func (h *Hub) authorize(ctx context.Context, c *Client, chatID string) bool {
	if chatID == "" {
		h.sendToClient(c, errorFrame("chat_id required", ""))
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ok, err := h.members.IsParticipant(ctx, chatID, c.userID)
	if err != nil {
		logger.Errorf("ws check membership chat=%s user=%s: %v", chatID, c.userID, err)
		h.sendToClient(c, errorFrame("internal error", chatID))
		return false
	}
	if !ok {
		h.sendToClient(c, errorFrame("access denied", chatID))
		return false
	}
	return true
}

func (h *Hub) emit(env Envelope) {
	if h.publisher != nil {
		h.publisher.Publish(env)
		return
	}
	h.Deliver(env)
}

// Deliver routes an envelope to the matching local connections.
func (h *Hub) Deliver(env Envelope) {
	h.mu.RLock()
	var set map[*Client]struct{}
	switch env.Audience {
	case AudienceRoom:
		set = h.rooms[env.Target]
	case AudienceUser:
		set = h.clients[env.Target]
	}
	targets := make([]*Client, 0, len(set))
	for c := range set {
		if env.Except != "" && c.userID == env.Except {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, env.Message)
	}
	if len(targets) > 0 {
		observability.EventsDelivered().WithLabelValues(string(env.Audience)).Add(float64(len(targets)))
	}
}

// IsOnline reports whether the user has a connection on this node.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Send buffer full: drop the slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		observability.EventsDropped().WithLabelValues("slow_client").Inc()
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case <-h.stopping:
		c.Close()
		return
	default:
	}
	select {
	case h.conns <- connChange{client: c, up: true}:
	case <-h.stopping:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.conns <- connChange{client: c}:
	case <-h.stopping:
	}
}
