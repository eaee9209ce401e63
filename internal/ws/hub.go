package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"horse-wager/internal/logging"
	"horse-wager/internal/model"
)

const (
	TopicBigWins  = "big_wins"
	accountPrefix = "account:"
)

func AccountTopic(accountID string) string { return accountPrefix + accountID }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Msg is a message sent to clients.
type Msg struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
	Data  any    `json:"data,omitempty"`
}

// Hub manages per-topic WebSocket subscriptions.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*conn]bool // topic -> set of conns
	allConn map[*conn]bool
	log     zerolog.Logger
}

type conn struct {
	ws      *websocket.Conn
	send    chan []byte
	hub     *Hub
	account string
	topics  map[string]bool
}

func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[*conn]bool),
		allConn: make(map[*conn]bool),
		log:     logging.Component("ws"),
	}
}

// Publish sends a message to all subscribers of a topic.
func (h *Hub) Publish(topic, msgType string, data any) {
	b, err := json.Marshal(Msg{Type: msgType, Topic: topic, Data: data})
	if err != nil {
		h.log.Error().Err(err).Str("topic", topic).Msg("marshal")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[topic] {
		select {
		case c.send <- b:
		default:
			// slow client, drop
		}
	}
}

func (h *Hub) PublishBigWin(_ context.Context, ev model.BigWinEvent) error {
	h.Publish(TopicBigWins, "big_win", ev)
	return nil
}

func (h *Hub) PublishSettlement(_ context.Context, accountID string, res model.SettlementResult) error {
	h.Publish(AccountTopic(accountID), "settlement", res)
	return nil
}

// Handler upgrades the request. identify returns the caller's account id, or
// "" for anonymous clients, who may only follow public topics.
func (h *Hub) Handler(identify func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := ""
		if identify != nil {
			account = identify(r)
		}
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn().Err(err).Msg("upgrade")
			return
		}
		c := &conn{
			ws:      wsConn,
			send:    make(chan []byte, 64),
			hub:     h,
			account: account,
			topics:  make(map[string]bool),
		}
		h.mu.Lock()
		h.allConn[c] = true
		h.mu.Unlock()

		go c.writePump()
		go c.readPump()
	}
}

func (c *conn) readPump() {
	defer func() {
		c.hub.removeConn(c)
		c.ws.Close()
	}()
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		// {"action":"subscribe","topic":"big_wins"}
		var sub struct {
			Action string `json:"action"`
			Topic  string `json:"topic"`
		}
		if err := json.Unmarshal(msg, &sub); err != nil {
			continue
		}
		switch sub.Action {
		case "subscribe":
			if !c.allowed(sub.Topic) {
				c.reply("error", sub.Topic)
				continue
			}
			c.hub.subscribe(c, sub.Topic)
			c.reply("subscribed", sub.Topic)
		case "unsubscribe":
			c.hub.unsubscribe(c, sub.Topic)
			c.reply("unsubscribed", sub.Topic)
		}
	}
}

func (c *conn) allowed(topic string) bool {
	if topic == TopicBigWins {
		return true
	}
	if id, ok := strings.CutPrefix(topic, accountPrefix); ok {
		return id != "" && id == c.account
	}
	return false
}

func (c *conn) reply(msgType, topic string) {
	b, err := json.Marshal(Msg{Type: msgType, Topic: topic})
	if err != nil {
		c.hub.log.Error().Err(err).Str("topic", topic).Msg("marshal")
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.allConn[c] {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
}

func (h *Hub) subscribe(c *conn, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[topic]
	if !ok {
		room = make(map[*conn]bool)
		h.rooms[topic] = room
	}
	room[c] = true
	c.topics[topic] = true
}

func (h *Hub) unsubscribe(c *conn, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(c, topic)
}

// leave requires h.mu held.
func (h *Hub) leave(c *conn, topic string) {
	if room, ok := h.rooms[topic]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, topic)
		}
	}
	delete(c.topics, topic)
}

func (h *Hub) removeConn(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.allConn, c)
	for topic := range c.topics {
		h.leave(c, topic)
	}
	close(c.send)
}

// Subscribers reports how many connections follow topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[topic])
}
