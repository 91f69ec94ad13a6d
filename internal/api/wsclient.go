package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-nvr/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
)

// Push channel message types.
const (
	WSTypeWelcome     = "welcome"
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypeGet         = "get"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound queue length.
	wsSendBufferSize = 256
)

// WSMessage is a server-to-client message.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	// Missed counts the events this client lost to a full queue right
	// before this one.
	Missed uint64 `json:"missed,omitempty"`

	Payload any `json:"payload,omitempty"`
}

// wsRequest is a client-to-server message.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload selects channels, and for protect.mutation optionally
// narrows by model and entity id. No channels means all of them.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Models   []string `json:"models,omitempty"`
	IDs      []string `json:"ids,omitempty"`
}

// WSGetPayload asks for current entities: the listed ids, or every entity
// of Model (all entities when both are empty).
type WSGetPayload struct {
	IDs   []string `json:"ids,omitempty"`
	Model string   `json:"model,omitempty"`
}

// WSWelcome is sent once per connection.
type WSWelcome struct {
	Health   cache.Health    `json:"health"`
	Revision entity.Revision `json:"revision"`
	Entities int             `json:"entities"`
	Channels []string        `json:"channels"`
}

// WSEntities answers a get request.
type WSEntities struct {
	Revision entity.Revision  `json:"revision"`
	Entities []*entity.Entity `json:"entities"`
	Missing  []string         `json:"missing,omitempty"`
}

var allChannels = []string{ChannelMutation, ChannelReset, ChannelState}

// upgrader configures the WebSocket upgrader. Origins are checked by the
// CORS middleware.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WSClient is one push channel connection.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string

	send   chan []byte
	missed atomic.Uint64

	mu     sync.Mutex
	filter filter
	closed bool
}

// handleWebSocket upgrades the request and starts the client's pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &WSClient{
		hub:    s.hub,
		conn:   conn,
		remote: r.RemoteAddr,
		send:   make(chan []byte, wsSendBufferSize),
		filter: newFilter(),
	}
	s.hub.add(c)

	view := s.hub.view
	c.reply("", WSTypeWelcome, WSWelcome{
		Health:   view.Health(),
		Revision: view.Revision(),
		Entities: view.Len(),
		Channels: allChannels,
	})

	go c.writePump(s.wsCfg)
	go c.readPump(s.wsCfg)
}

func (c *WSClient) wants(channel string, n *cache.Notification) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.filter.matches(channel, n)
}

// enqueue queues data without blocking. It reports false when the queue is
// full or the client is gone.
func (c *WSClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// stop closes the send queue; the write pump then closes the connection.
func (c *WSClient) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(wait)) }

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "remote", c.remote, "error", err)
			}
			return
		}
		// Clients that never answer protocol pings stay alive by talking.
		_ = extend()
		c.handle(data)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.fail("", "invalid JSON message")
		return
	}

	var err error
	switch req.Type {
	case WSTypeSubscribe:
		err = c.subscribe(req)
	case WSTypeUnsubscribe:
		err = c.unsubscribe(req)
	case WSTypeGet:
		err = c.get(req)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		err = fmt.Errorf("unknown message type %q", req.Type)
	}
	if err != nil {
		c.fail(req.ID, err.Error())
	}
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.New("invalid payload")
	}
	return nil
}

func (c *WSClient) subscribe(req wsRequest) error {
	var p WSSubscribePayload
	if err := decodePayload(req.Payload, &p); err != nil {
		return err
	}
	if len(p.Channels) == 0 {
		p.Channels = allChannels
	}
	for _, ch := range p.Channels {
		if !knownChannel(ch) {
			return fmt.Errorf("unknown channel %q", ch)
		}
	}
	models := make([]entity.ModelType, 0, len(p.Models))
	for _, m := range p.Models {
		mt, err := entity.ParseModelType(m)
		if err != nil {
			return err
		}
		models = append(models, mt)
	}

	c.mu.Lock()
	for _, ch := range p.Channels {
		c.filter.channels[ch] = true
	}
	for _, m := range models {
		c.filter.models[m] = true
	}
	for _, id := range p.IDs {
		c.filter.ids[id] = true
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "remote", c.remote, "channels", p.Channels, "models", p.Models, "ids", len(p.IDs))
	c.reply(req.ID, WSTypeResponse, map[string]any{"subscribed": p.Channels})
	return nil
}

func (c *WSClient) unsubscribe(req wsRequest) error {
	var p WSSubscribePayload
	if err := decodePayload(req.Payload, &p); err != nil {
		return err
	}

	c.mu.Lock()
	for _, ch := range p.Channels {
		delete(c.filter.channels, ch)
	}
	for _, m := range p.Models {
		delete(c.filter.models, entity.ModelType(m))
	}
	for _, id := range p.IDs {
		delete(c.filter.ids, id)
	}
	c.mu.Unlock()

	c.reply(req.ID, WSTypeResponse, map[string]any{"unsubscribed": p.Channels})
	return nil
}

// get answers with current entities so a client can refill after a reset.
func (c *WSClient) get(req wsRequest) error {
	var p WSGetPayload
	if err := decodePayload(req.Payload, &p); err != nil {
		return err
	}

	view := c.hub.view
	resp := WSEntities{Revision: view.Revision()}
	if len(p.IDs) > 0 {
		resp.Entities = make([]*entity.Entity, 0, len(p.IDs))
		for _, id := range p.IDs {
			e, err := view.Get(id)
			if err != nil {
				resp.Missing = append(resp.Missing, id)
				continue
			}
			resp.Entities = append(resp.Entities, e)
		}
	} else {
		var model entity.ModelType
		if p.Model != "" {
			mt, err := entity.ParseModelType(p.Model)
			if err != nil {
				return err
			}
			model = mt
		}
		resp.Entities = view.List(model)
	}

	c.reply(req.ID, WSTypeResponse, resp)
	return nil
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		c.hub.logger.Error("websocket reply encoding failed", "type", msgType, "error", err)
		return
	}
	if !c.enqueue(data) {
		c.missed.Add(1)
	}
}

func (c *WSClient) fail(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
