package eventsub

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one established duplex connection. The manager only reads; the
// outbound path goes over HTTP, not the socket.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens connections to the event streaming service. Swapped for a
// fake in state machine tests.
type Dialer interface {
	DialContext(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials real websocket connections via gorilla/websocket.
type WSDialer struct {
	// HandshakeTimeout bounds the connection-open handshake. Defaults to 10s.
	HandshakeTimeout time.Duration
}

func (d *WSDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	c, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	return wsConn{c}, nil
}

type wsConn struct {
	*websocket.Conn
}

func (c wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.Conn.ReadMessage()
	return data, err
}

func (c wsConn) Close() error {
	// Best effort normal closure so the server can distinguish a local
	// disconnect from a dropped connection.
	deadline := time.Now().Add(time.Second)
	_ = c.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.Conn.Close()
}
