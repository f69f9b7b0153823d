package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"llm-trading-arena/internal/events"
	"llm-trading-arena/internal/exchange"
	"llm-trading-arena/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Same trust model as the REST CORS list; the browser dashboard is
		// the only expected client.
		return true
	},
}

// wsClient is one connected dashboard.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// clientCommand is an inbound control message: kline stream subscription
// management.
type clientCommand struct {
	Type     string `json:"type"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

// outbound ties a marshaled event to the topic it came from so the hub loop
// can route it to the right clients.
type outbound struct {
	topic   string
	global  bool
	payload []byte
}

// subChange moves a client on or off a kline topic.
type subChange struct {
	client *wsClient
	topic  string
	add    bool
}

// klineStamp identifies the last broadcast bar per topic for coalescing.
type klineStamp struct {
	openTime int64
	close    float64
}

// Hub fans bus events out to WebSocket clients. Market-wide topics go to
// everyone; kline topics only to clients that subscribed to that
// (symbol, interval) stream. All state is owned by the run loop.
type Hub struct {
	bus *events.Bus
	log zerolog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	changes    chan subChange
	out        chan outbound
	count      chan chan int
	stopChan   chan struct{}

	bridgedMu sync.Mutex
	bridged   map[string]bool
}

func NewHub(bus *events.Bus) *Hub {
	return &Hub{
		bus:        bus,
		log:        logging.Component("ws"),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		changes:    make(chan subChange),
		out:        make(chan outbound, 4096),
		count:      make(chan chan int),
		stopChan:   make(chan struct{}),
		bridged:    make(map[string]bool),
	}
}

// Run starts the hub loop and bridges the market-wide bus topics.
func (h *Hub) Run() {
	go h.loop()
	if h.bus == nil {
		return
	}
	for _, topic := range []string{
		events.TopicPricesUpdate,
		events.TopicLeaderboardUpdate,
		events.TopicLeaderboardError,
	} {
		h.bridge(topic, true)
	}
}

// Stop shuts the loop down. Connected clients are closed by their pumps when
// their send channels drain.
func (h *Hub) Stop() {
	close(h.stopChan)
}

// ClientCount reports connected clients, 0 once the hub has stopped.
func (h *Hub) ClientCount() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.stopChan:
		return 0
	}
}

// bridge subscribes a bus topic and forwards its events into the hub loop.
func (h *Hub) bridge(topic string, global bool) {
	h.bus.SubscribeFunc(topic, 256, func(ev events.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			h.log.Warn().Err(err).Str("topic", topic).Msg("event marshal failed")
			return
		}
		select {
		case h.out <- outbound{topic: topic, global: global, payload: payload}:
		case <-h.stopChan:
		}
	})
}

// ensureBridge lazily subscribes the bus topic backing a kline stream. The
// bridge stays up after the last client leaves; topic events without
// subscribers are dropped by the loop.
func (h *Hub) ensureBridge(topic string) {
	if h.bus == nil {
		return
	}
	h.bridgedMu.Lock()
	defer h.bridgedMu.Unlock()
	if h.bridged[topic] {
		return
	}
	h.bridged[topic] = true
	h.bridge(topic, false)
}

func (h *Hub) loop() {
	clients := make(map[*wsClient]bool)
	topicSubs := make(map[string]map[*wsClient]bool)
	lastBar := make(map[string]klineStamp)

	drop := func(c *wsClient) {
		if !clients[c] {
			return
		}
		delete(clients, c)
		for topic, subs := range topicSubs {
			delete(subs, c)
			if len(subs) == 0 {
				delete(topicSubs, topic)
				delete(lastBar, topic)
			}
		}
		close(c.send)
	}

	deliver := func(c *wsClient, payload []byte) {
		select {
		case c.send <- payload:
		default:
			// Slow consumer; cut it loose rather than stall the loop.
			drop(c)
		}
	}

	for {
		select {
		case c := <-h.register:
			clients[c] = true

		case c := <-h.unregister:
			drop(c)

		case ch := <-h.changes:
			if !clients[ch.client] {
				continue
			}
			if ch.add {
				if topicSubs[ch.topic] == nil {
					topicSubs[ch.topic] = make(map[*wsClient]bool)
				}
				topicSubs[ch.topic][ch.client] = true
			} else if subs := topicSubs[ch.topic]; subs != nil {
				delete(subs, ch.client)
				if len(subs) == 0 {
					delete(topicSubs, ch.topic)
					delete(lastBar, ch.topic)
				}
			}

		case msg := <-h.out:
			if msg.global {
				for c := range clients {
					deliver(c, msg.payload)
				}
				continue
			}
			subs := topicSubs[msg.topic]
			if len(subs) == 0 {
				continue
			}
			stamp, dup := coalesce(lastBar, msg)
			if dup {
				continue
			}
			lastBar[msg.topic] = stamp
			for c := range subs {
				deliver(c, msg.payload)
			}

		case reply := <-h.count:
			reply <- len(clients)

		case <-h.stopChan:
			for c := range clients {
				drop(c)
			}
			return
		}
	}
}

// coalesce suppresses a kline event that repeats the last broadcast bar
// unchanged. Open bars tick every refresh; only actual movement is worth a
// frame.
func coalesce(lastBar map[string]klineStamp, msg outbound) (klineStamp, bool) {
	var ev struct {
		Data exchange.KlineBar `json:"data"`
	}
	if err := json.Unmarshal(msg.payload, &ev); err != nil {
		return klineStamp{}, false
	}
	stamp := klineStamp{openTime: ev.Data.OpenTimeMs, close: ev.Data.Close}
	prev, seen := lastBar[msg.topic]
	return stamp, seen && prev == stamp
}

// handleWebSocket upgrades the connection and starts the pumps.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	select {
	case s.hub.register <- client:
	case <-s.hub.stopChan:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopChan:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			continue
		}
		if cmd.Symbol == "" || cmd.Interval == "" {
			continue
		}
		topic := events.KlineTopic(cmd.Symbol, cmd.Interval)
		// "subscribe_klines" is the command name older dashboard builds send.
		switch cmd.Type {
		case "klines:subscribe", "subscribe_klines":
			c.hub.subscribeKlines(c, topic, true)
		case "klines:unsubscribe", "unsubscribe_klines":
			c.hub.subscribeKlines(c, topic, false)
		}
	}
}

// subscribeKlines routes a subscription change through the hub loop and
// ensures the bus bridge for that topic exists.
func (h *Hub) subscribeKlines(c *wsClient, topic string, add bool) {
	if add {
		h.ensureBridge(topic)
	}
	select {
	case h.changes <- subChange{client: c, topic: topic, add: add}:
	case <-h.stopChan:
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
