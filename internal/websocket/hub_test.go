package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolbus-backend/internal/middleware"
)

const testSecret = "ws-secret"

func dial(t *testing.T, server *httptest.Server, claims middleware.UserClaims) *websocket.Conn {
	t.Helper()
	token, err := middleware.IssueToken(testSecret, claims, time.Hour)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitConnected(t *testing.T, hub *Hub, userID string) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.IsUserConnected(userID) }, 2*time.Second, 10*time.Millisecond)
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_DeliversToUser(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	server := httptest.NewServer(HandleWebSocket(hub, testSecret))
	defer server.Close()

	conn := dial(t, server, middleware.UserClaims{UserID: "p1", Role: "parent"})
	waitConnected(t, hub, "p1")

	hub.BroadcastToUser("p1", map[string]string{"type": "passenger_status", "status": "boarded"})
	msg := readJSON(t, conn)
	assert.Equal(t, "passenger_status", msg["type"])
	assert.Equal(t, "boarded", msg["status"])
}

func TestHub_RejectsBadToken(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	server := httptest.NewServer(HandleWebSocket(hub, testSecret))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestHub_RelaysDriverLocationToAdmins(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	server := httptest.NewServer(HandleWebSocket(hub, testSecret))
	defer server.Close()

	admin := dial(t, server, middleware.UserClaims{UserID: "a1", Role: "admin"})
	driver := dial(t, server, middleware.UserClaims{UserID: "d1", Role: "driver"})
	waitConnected(t, hub, "a1")
	waitConnected(t, hub, "d1")

	err := driver.WriteJSON(map[string]interface{}{
		"type": "location_update",
		"data": map[string]interface{}{"latitude": 40.1, "longitude": -74.2, "timestamp": 1000},
	})
	require.NoError(t, err)

	msg := readJSON(t, admin)
	assert.Equal(t, "bus_location_update", msg["type"])
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, "d1", data["driver_id"])
	assert.Equal(t, 40.1, data["latitude"])
}
