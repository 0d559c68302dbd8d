// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr/testr"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momanyid/ids-v1/internal/events"
	"github.com/momanyid/ids-v1/pkg/telemetry"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(testr.New(t))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.GET("/api/ws", hub.Serve)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
}

func dialHub(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func clientCount(h *Hub) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return clientCount(h) == n },
		2*time.Second, 10*time.Millisecond)
}

func TestHubBroadcastsEvents(t *testing.T) {
	hub, url := startHub(t)
	a := dialHub(t, url)
	b := dialHub(t, url)
	waitForClients(t, hub, 2)

	event := events.Event{
		Timestamp: time.Now(),
		Kind:      events.KindAlertRaised,
		Context:   "logs",
		Source:    "analyzer",
		Alert: &telemetry.Alert{
			Type:     "Brute Force Attempt",
			Severity: telemetry.SeverityHigh,
		},
	}
	require.NoError(t, hub.HandleEvent(event))

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)

		var frame map[string]any
		require.NoError(t, json.Unmarshal(payload, &frame))
		assert.Equal(t, string(events.KindAlertRaised), frame["kind"])
		assert.Equal(t, "logs", frame["context"])
		alert, ok := frame["alert"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "Brute Force Attempt", alert["type"])
		assert.Equal(t, "high", alert["severity"])
	}

	health := hub.Health()
	assert.True(t, health.Healthy)
	assert.EqualValues(t, 1, health.EventsCount)
	assert.Zero(t, health.ErrorsCount)
}

func TestHubDropsStalledClient(t *testing.T) {
	hub, url := startHub(t)
	dialHub(t, url) // connects but never reads
	waitForClients(t, hub, 1)

	// Frames bigger than the socket can buffer stall the write pump; once
	// the send queue overflows on top of that, the hub disconnects the
	// client instead of blocking the bus.
	event := events.Event{
		Timestamp: time.Now(),
		Kind:      events.KindAlertRaised,
		Alert:     &telemetry.Alert{Description: strings.Repeat("x", 1<<18)},
	}
	for i := 0; i < 200 && clientCount(hub) > 0; i++ {
		require.NoError(t, hub.HandleEvent(event))
	}

	assert.Zero(t, clientCount(hub), "stalled client must be dropped")
	assert.True(t, hub.Health().Healthy, "dropping a client is not a hub failure")
}

func TestHubRemovesClientOnDisconnect(t *testing.T) {
	hub, url := startHub(t)
	conn := dialHub(t, url)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, hub, 0)

	// Publishing to an empty hub still succeeds.
	require.NoError(t, hub.HandleEvent(events.Event{Kind: events.KindSnapshotUpdated}))
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	hub, url := startHub(t)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, hub.Start(ctx))

	conn := dialHub(t, url)
	waitForClients(t, hub, 1)

	cancel()
	waitForClients(t, hub, 0)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server side closed the connection")
}
