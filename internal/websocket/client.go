package websocket

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"schoolbus-backend/internal/geo"
	"schoolbus-backend/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 2048
)

// Client represents a WebSocket client connection
type Client struct {
	UserID   string
	UserRole string
	conn     *websocket.Conn
	hub      *Hub
	send     chan []byte
}

// IncomingMessage represents a message from the client
type IncomingMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewClient creates a new WebSocket client
func NewClient(userID, userRole string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		UserID:   userID,
		UserRole: userRole,
		conn:     conn,
		hub:      hub,
		send:     make(chan []byte, 256),
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg IncomingMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Invalid message format: %v", err)
			continue
		}

		switch msg.Type {
		case "ping":
			c.hub.BroadcastToUser(c.UserID, map[string]interface{}{
				"type":      "pong",
				"timestamp": time.Now().Format(time.RFC3339),
			})

		case "location_update":
			if c.UserRole == models.RoleDriver {
				c.handleLocationUpdate(msg.Data)
			}
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// BusLocationMessage is relayed to admins when a driver reports a position
func BusLocationMessage(driverID string, pos models.DriverPosition) map[string]interface{} {
	return map[string]interface{}{
		"type": "bus_location_update",
		"data": map[string]interface{}{
			"driver_id": driverID,
			"latitude":  pos.Latitude,
			"longitude": pos.Longitude,
			"heading":   pos.Heading,
			"accuracy":  pos.Accuracy,
			"timestamp": pos.Timestamp,
		},
	}
}

// handleLocationUpdate relays a driver position to admins. Positions are
// not persisted on the server.
func (c *Client) handleLocationUpdate(raw json.RawMessage) {
	var pos models.DriverPosition
	if err := json.Unmarshal(raw, &pos); err != nil {
		log.Printf("❌ Invalid location update from %s: %v", c.UserID, err)
		return
	}
	if !geo.ValidCoordinate(pos.Latitude, pos.Longitude) {
		log.Printf("❌ Out of range location update from %s", c.UserID)
		return
	}

	c.hub.BroadcastToRole(models.RoleAdmin, BusLocationMessage(c.UserID, pos))
}
