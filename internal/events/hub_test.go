package events

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/agora/internal/audit"
	"github.com/fentz26/agora/internal/models"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Clients() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHubBroadcastsEntries(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv, "")
	defer conn.Close()
	waitForClients(t, hub, 1)

	id, err := hub.RecordEvent(context.Background(), audit.Event{Type: audit.EventTaskAssigned, TaskID: "t1", Payload: map[string]string{"mode": "team"}})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var entry models.AuditEntry
	require.NoError(t, json.Unmarshal(msg, &entry))
	assert.Equal(t, id, entry.ID)
	assert.Equal(t, audit.EventTaskAssigned, entry.EventType)
	assert.JSONEq(t, `{"mode":"team"}`, entry.Payload)
}

func TestHubFiltersByTask(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv, "?task_id=t2")
	defer conn.Close()
	waitForClients(t, hub, 1)

	ctx := context.Background()
	hub.RecordEvent(ctx, audit.Event{Type: audit.EventTaskCreated, TaskID: "t1"})
	hub.RecordEvent(ctx, audit.Event{Type: audit.EventTaskCreated, TaskID: "t2"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var entry models.AuditEntry
	require.NoError(t, json.Unmarshal(msg, &entry))
	assert.Equal(t, "t2", entry.TaskID)
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "")
	waitForClients(t, hub, 1)
	conn.Close()
	waitForClients(t, hub, 0)

	_, err := hub.RecordEvent(context.Background(), audit.Event{Type: audit.EventTaskCreated})
	assert.NoError(t, err)
}
