package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aispark/pdmcore/internal/logging"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize limits inbound messages; clients only listen.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Envelope is the JSON frame sent to WebSocket clients.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Hub bridges the broker to connected WebSocket clients.
type Hub struct {
	broker *Broker

	mu      sync.Mutex
	clients map[*wsClient]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a WebSocket hub fed by the broker.
func NewHub(broker *Broker) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		broker:  broker,
		clients: make(map[*wsClient]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ServeWS upgrades an HTTP request to a WebSocket connection. The
// optional "machine_id" query parameter filters the stream.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	log := logging.Component("notify")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}

	machineID := r.URL.Query().Get("machine_id")
	sub := h.broker.Subscribe(machineID, 0)

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	log.Debug("websocket client connected",
		"remote", conn.RemoteAddr().String(),
		"machine_id", machineID)

	h.wg.Add(3)
	go h.forward(client, sub)
	go h.writePump(client)
	go h.readPump(client, sub)
}

// forward turns broker events into JSON envelopes for one client.
func (h *Hub) forward(client *wsClient, sub *Subscription) {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}

			data, err := json.Marshal(Envelope{Type: "reading", Payload: event})
			if err != nil {
				continue
			}

			select {
			case client.send <- data:
			default:
				// Slow client, skip this frame
			}
		}
	}
}

func (h *Hub) writePump(client *wsClient) {
	defer h.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case <-h.ctx.Done():
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			client.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so pongs and close frames are
// processed. Clients are not expected to send anything else.
func (h *Hub) readPump(client *wsClient, sub *Subscription) {
	defer h.wg.Done()
	defer func() {
		sub.Close()
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		// send stays open; forward may still hold a frame. Closing the
		// connection unblocks writePump instead.
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients and stops the hub.
func (h *Hub) Close() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		client.conn.Close()
	}
	h.mu.Unlock()

	h.wg.Wait()
}
