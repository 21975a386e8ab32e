package realtime

import (
	"encoding/json"

	"github.com/gorilla/websocket"
)

// Client is one authenticated WebSocket connection. A user on several
// devices has several clients, each independently joined to the same rooms.
type Client struct {
	ID       string
	UserID   uint
	Username string

	conn *websocket.Conn
	Send chan []byte

	rooms map[string]bool // guarded by the hub mutex
}

func newClient(id string, userID uint, username string, conn *websocket.Conn) *Client {
	return &Client{
		ID:       id,
		UserID:   userID,
		Username: username,
		conn:     conn,
		Send:     make(chan []byte, 64),
		rooms:    map[string]bool{},
	}
}

// readPump decodes incoming frames and hands them to the gateway until the
// connection errors out, which covers both client close and network loss.
func (c *Client) readPump(g *Gateway) {
	defer g.disconnect(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var envelope Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}
		g.dispatch(c, &envelope)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for data := range c.Send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	// hub closed the send channel: say goodbye properly
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
