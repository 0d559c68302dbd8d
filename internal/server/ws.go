// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/momanyid/ids-v1/internal/events"
	"github.com/momanyid/ids-v1/pkg/telemetry"
)

const (
	hubConsumerName = "websocket"
	// clientSendBuffer bounds per-client queues; a client that cannot keep up
	// is dropped rather than allowed to stall the bus.
	clientSendBuffer = 32
	writeTimeout     = 10 * time.Second
)

// wireEvent is the JSON shape pushed to websocket clients.
type wireEvent struct {
	Timestamp time.Time        `json:"timestamp"`
	Kind      string           `json:"kind"`
	Context   string           `json:"context,omitempty"`
	Taken     *time.Time       `json:"snapshot_taken,omitempty"`
	Alert     *telemetry.Alert `json:"alert,omitempty"`
}

// Hub streams bus events to connected websocket clients. It is an event
// consumer: HandleEvent serializes once and fans the frame out without
// blocking on any individual connection.
type Hub struct {
	logger   logr.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}

	healthy     atomic.Bool
	eventsCount atomic.Uint64
	errorsCount atomic.Uint64
	lastError   atomic.Pointer[error]
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger logr.Logger) *Hub {
	h := &Hub{
		logger: logger.WithName("ws-hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard is served from arbitrary origins in lab setups.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
	}
	h.healthy.Store(true)
	return h
}

func (h *Hub) Name() string {
	return hubConsumerName
}

func (h *Hub) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		h.closeAll()
	}()
	return nil
}

// HandleEvent broadcasts the event to every connected client. Slow clients
// get disconnected instead of back-pressuring the caller.
func (h *Hub) HandleEvent(event events.Event) error {
	frame := wireEvent{
		Timestamp: event.Timestamp,
		Kind:      string(event.Kind),
		Context:   event.Context,
		Alert:     event.Alert,
	}
	if event.Snapshot != nil {
		taken := event.Snapshot.Taken
		frame.Taken = &taken
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		h.errorsCount.Add(1)
		h.lastError.Store(&err)
		return err
	}
	h.eventsCount.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			h.dropLocked(client)
		}
	}
	return nil
}

func (h *Hub) Health() events.ConsumerHealth {
	var lastErr error
	if errPtr := h.lastError.Load(); errPtr != nil {
		lastErr = *errPtr
	}
	return events.ConsumerHealth{
		Healthy:     h.healthy.Load(),
		LastError:   lastErr,
		EventsCount: h.eventsCount.Load(),
		ErrorsCount: h.errorsCount.Load(),
	}
}

// Serve upgrades the request and pumps frames until the client goes away.
func (h *Hub) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.V(1).Info("websocket upgrade failed", "error", err.Error())
		return
	}

	client := &hubClient{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("websocket client connected", "clients", count)

	go h.writePump(client)
	h.readPump(client)
}

// readPump discards inbound frames; the stream is one-way. It exists to
// detect disconnects promptly.
func (h *Hub) readPump(client *hubClient) {
	defer h.drop(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(client *hubClient) {
	for payload := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.drop(client)
			return
		}
	}
	_ = client.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) drop(client *hubClient) {
	h.mu.Lock()
	h.dropLocked(client)
	h.mu.Unlock()
}

func (h *Hub) dropLocked(client *hubClient) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	_ = client.conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.dropLocked(client)
	}
}

var _ events.Consumer = (*Hub)(nil)
