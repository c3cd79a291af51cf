package client

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WriteEvent is one write notification from the stream.
type WriteEvent struct {
	MachineID   string `json:"machine_id"`
	ClientID    string `json:"client_id"`
	SensorType  string `json:"sensor_type"`
	TimestampMs int64  `json:"timestamp_ms"`
	HourStart   int64  `json:"hour_start_ms"`
}

type streamEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Stream is a WebSocket subscription to write notifications. It
// reconnects with backoff until closed.
type Stream struct {
	url     string
	onEvent func(WriteEvent)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

const (
	streamInitialBackoff = time.Second
	streamMaxBackoff     = 30 * time.Second
)

// Stream opens a write-notification stream. machineID filters to one
// machine when non-empty. onEvent is called from the stream goroutine.
func (c *Client) Stream(machineID string, onEvent func(WriteEvent)) *Stream {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/v1/stream"
	if machineID != "" {
		wsURL += "?machine_id=" + url.QueryEscape(machineID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		url:     wsURL,
		onEvent: onEvent,
		ctx:     ctx,
		cancel:  cancel,
	}

	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Stream) run() {
	defer s.wg.Done()

	backoff := streamInitialBackoff
	for {
		if s.ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(s.ctx, s.url, nil)
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > streamMaxBackoff {
				backoff = streamMaxBackoff
			}
			continue
		}
		backoff = streamInitialBackoff

		s.mu.Lock()
		s.conn = conn
		s.connected = true
		s.mu.Unlock()

		s.readLoop(conn)

		s.mu.Lock()
		s.conn = nil
		s.connected = false
		s.mu.Unlock()
		conn.Close()
	}
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env streamEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type != "reading" {
			continue
		}

		var event WriteEvent
		if err := json.Unmarshal(env.Payload, &event); err != nil {
			continue
		}
		s.onEvent(event)
	}
}

// IsConnected reports whether the stream currently has a live
// connection.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Close terminates the stream and waits for its goroutine.
func (s *Stream) Close() {
	s.cancel()

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}
