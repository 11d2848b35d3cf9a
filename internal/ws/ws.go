package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zentrochat/zentro/internal/auth"
	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/internal/realtime"
	"github.com/zentrochat/zentro/pkg/apperr"
	"github.com/zentrochat/zentro/pkg/i18n"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

type ChatLists interface {
	Subscribe(ctx context.Context, userID string) (*realtime.Stream[models.ChatSummary], error)
}

type RoomFeeds interface {
	Subscribe(ctx context.Context, roomID, viewerID string) (*realtime.Stream[models.Message], error)
}

type Messenger interface {
	SendMessage(ctx context.Context, roomID, senderID string, body models.Body, replyToID string) (*models.Message, error)
	UpdateStatus(ctx context.Context, messageID, userID string, status models.Status) (models.Status, error)
}

type RoomReader interface {
	GetRoom(ctx context.Context, id string) (*models.Room, error)
}

type Presence interface {
	SetOnline(ctx context.Context, userID string, online bool) error
	Touch(ctx context.Context, userID string) error
}

type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Deps wires the hub to the services it serves. Presence may be nil.
type Deps struct {
	Auth     TokenValidator
	Chats    ChatLists
	Rooms    RoomFeeds
	Messages Messenger
	RoomInfo RoomReader
	Presence Presence
}

// Hub tracks one connection per user; a newer connection replaces the
// older one.
type Hub struct {
	deps       Deps
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	mu         sync.RWMutex
}

type Client struct {
	userID string
	conn   *websocket.Conn
	hub    *Hub
	send   chan any

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	chats *realtime.Stream[models.ChatSummary]
	rooms map[string]*realtime.Stream[models.Message]
}

// Event is both the inbound and the outbound frame; Type selects which
// fields are meaningful.
type Event struct {
	Type            string            `json:"type"`
	RoomID          string            `json:"room_id,omitempty"`
	MessageID       string            `json:"message_id,omitempty"`
	ClientMessageID string            `json:"client_message_id,omitempty"`
	ReplyToID       string            `json:"reply_to_id,omitempty"`
	UserID          string            `json:"user_id,omitempty"`
	Body            *models.BodyInput `json:"body,omitempty"`
	Status          models.Status     `json:"status,omitempty"`
	Stream          string            `json:"stream,omitempty"`
	Error           string            `json:"error,omitempty"`
	Items           any               `json:"items,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS layer in front of the router.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewHub(deps Deps) *Hub {
	return &Hub{
		deps:       deps,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
	}
}

// IsUserOnline checks if a user is currently connected
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Done is closed once Run has returned and every client was marked offline.
func (h *Hub) Done() <-chan struct{} {
	return h.quit
}

// Run serves registrations until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.quit)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			previous := h.clients[client.userID]
			h.clients[client.userID] = client
			total := len(h.clients)
			h.mu.Unlock()
			if previous != nil {
				previous.close()
			} else {
				h.setOnline(client.userID, true)
			}
			log.Printf("ws: user connected user_id=%s total=%d", client.userID, total)

		case client := <-h.unregister:
			h.mu.Lock()
			current := h.clients[client.userID] == client
			if current {
				delete(h.clients, client.userID)
			}
			total := len(h.clients)
			h.mu.Unlock()
			client.close()
			if current {
				h.setOnline(client.userID, false)
				log.Printf("ws: user disconnected user_id=%s total=%d", client.userID, total)
			}

		case <-ctx.Done():
			h.mu.Lock()
			clients := h.clients
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			for _, client := range clients {
				client.close()
				h.setOnline(client.userID, false)
			}
			return
		}
	}
}

func (h *Hub) setOnline(userID string, online bool) {
	if h.deps.Presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.deps.Presence.SetOnline(ctx, userID, online); err != nil {
		log.Printf("ws: failed to update presence user_id=%s online=%t err=%v", userID, online, err)
	}
}

// touch refreshes the user's last activity after a pong.
func (h *Hub) touch(userID string) {
	if h.deps.Presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.deps.Presence.Touch(ctx, userID); err != nil {
		log.Printf("ws: failed to record heartbeat user_id=%s err=%v", userID, err)
	}
}

// sendTo delivers ev to userID if connected.
func (h *Hub) sendTo(userID string, ev *Event) {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()
	if ok {
		client.enqueue(ev)
	}
}

func (h *Hub) HandleWebSocket(c *gin.Context) {
	lang := i18n.Negotiate(c.GetHeader("Accept-Language"))

	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": i18n.Translate(lang, "missing authorization token")})
		return
	}
	claims, err := h.deps.Auth.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": i18n.Translate(lang, "invalid token")})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade error: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		userID: claims.UserID,
		conn:   conn,
		hub:    h,
		send:   make(chan any, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		rooms:  make(map[string]*realtime.Stream[models.Message]),
	}

	select {
	case h.register <- client:
	case <-h.quit:
		conn.Close()
		cancel()
		return
	}

	go client.writePump()
	go client.readPump()
}

// close stops the client's streams and its write pump. Safe to call more
// than once.
func (c *Client) close() {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
	})
}

func (c *Client) enqueue(v any) {
	select {
	case c.send <- v:
	case <-c.done:
	default:
		log.Printf("ws: send buffer full user_id=%s", c.userID)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.closeStreams()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
			c.close()
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		go c.hub.touch(c.userID)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws: read error user_id=%s err=%v", c.userID, err)
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.enqueue(&Event{Type: "error", Error: "invalid request"})
			continue
		}
		c.handle(&ev)
	}
}

func (c *Client) handle(ev *Event) {
	switch ev.Type {
	case "subscribe_chats":
		c.subscribeChats()
	case "subscribe_room":
		c.subscribeRoom(ev.RoomID)
	case "unsubscribe_room":
		c.unsubscribeRoom(ev.RoomID)
	case "message":
		c.handleMessage(ev)
	case "mark_delivered":
		c.handleStatus(ev.MessageID, models.StatusDelivered)
	case "mark_read":
		c.handleStatus(ev.MessageID, models.StatusRead)
	case "typing":
		c.handleTyping(ev.RoomID)
	default:
		c.enqueue(&Event{Type: "error", Error: "unknown event type"})
	}
}

func (c *Client) fail(err error) {
	c.enqueue(&Event{Type: "error", Error: apperr.Message(err)})
}

func (c *Client) subscribeChats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chats != nil {
		return
	}
	stream, err := c.hub.deps.Chats.Subscribe(c.ctx, c.userID)
	if err != nil {
		c.fail(err)
		return
	}
	c.chats = stream
	go forward(c, stream, "chats", func(items []models.ChatSummary) *Event {
		return &Event{Type: "chats", Items: items}
	})
}

func (c *Client) subscribeRoom(roomID string) {
	if roomID == "" {
		c.enqueue(&Event{Type: "error", Error: "room_id is required"})
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[roomID]; ok {
		return
	}
	stream, err := c.hub.deps.Rooms.Subscribe(c.ctx, roomID, c.userID)
	if err != nil {
		c.fail(err)
		return
	}
	c.rooms[roomID] = stream
	go forward(c, stream, "messages", func(items []models.Message) *Event {
		return &Event{Type: "messages", RoomID: roomID, Items: items}
	})
}

func (c *Client) unsubscribeRoom(roomID string) {
	c.mu.Lock()
	stream, ok := c.rooms[roomID]
	delete(c.rooms, roomID)
	c.mu.Unlock()
	if ok {
		stream.Close()
	}
}

func (c *Client) closeStreams() {
	c.mu.Lock()
	chats := c.chats
	rooms := c.rooms
	c.chats = nil
	c.rooms = make(map[string]*realtime.Stream[models.Message])
	c.mu.Unlock()

	if chats != nil {
		chats.Close()
	}
	for _, stream := range rooms {
		stream.Close()
	}
}

// forward pumps snapshots from a stream to the client and reports a
// terminal failure as stream_error.
func forward[T any](c *Client, stream *realtime.Stream[T], kind string, wrap func([]T) *Event) {
	for items := range stream.Updates() {
		if items == nil {
			items = []T{}
		}
		c.enqueue(wrap(items))
	}
	if err := stream.Err(); err != nil {
		log.Printf("ws: stream ended user_id=%s stream=%s err=%v", c.userID, kind, err)
		c.enqueue(&Event{Type: "stream_error", Stream: kind, Error: apperr.Message(err)})
	}
}

func (c *Client) handleMessage(ev *Event) {
	if ev.RoomID == "" || ev.Body == nil {
		c.enqueue(&Event{Type: "error", Error: "room_id and body are required"})
		return
	}
	body, err := ev.Body.Decode()
	if err != nil {
		c.fail(err)
		return
	}
	m, err := c.hub.deps.Messages.SendMessage(c.ctx, ev.RoomID, c.userID, body, ev.ReplyToID)
	if err != nil {
		c.fail(err)
		return
	}
	c.enqueue(&Event{Type: "ack", ClientMessageID: ev.ClientMessageID, MessageID: m.ID, RoomID: m.RoomID})
}

func (c *Client) handleStatus(messageID string, status models.Status) {
	if messageID == "" {
		c.enqueue(&Event{Type: "error", Error: "message_id is required"})
		return
	}
	if _, err := c.hub.deps.Messages.UpdateStatus(c.ctx, messageID, c.userID, status); err != nil {
		c.fail(err)
	}
}

// handleTyping relays a typing hint to the other connected participants.
// It is not stored.
func (c *Client) handleTyping(roomID string) {
	if roomID == "" || c.hub.deps.RoomInfo == nil {
		return
	}
	room, err := c.hub.deps.RoomInfo.GetRoom(c.ctx, roomID)
	if err != nil {
		c.fail(err)
		return
	}
	if !room.HasParticipant(c.userID) {
		return
	}
	for _, p := range room.Participants {
		if p != c.userID {
			c.hub.sendTo(p, &Event{Type: "typing", RoomID: roomID, UserID: c.userID})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			data, _ := json.Marshal(message)
			w.Write(data)

			if err := w.Close(); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
