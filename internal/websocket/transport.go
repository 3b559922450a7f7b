package websocket

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Message types, identical to gorilla/websocket's
const (
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
)

// Conn is one established connection. ReadMessage is only called from the
// read goroutine and WriteMessage is serialized by the client.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// gorillaDialer dials with gorilla/websocket
type gorillaDialer struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
}

// NewDialer returns a Dialer backed by gorilla/websocket. Every write gets
// writeTimeout as deadline.
func NewDialer(handshakeTimeout, writeTimeout time.Duration) Dialer {
	return &gorillaDialer{
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		writeTimeout: writeTimeout,
	}
}

func (d *gorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &gorillaConn{conn: conn, writeTimeout: d.writeTimeout}, nil
}

type gorillaConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *gorillaConn) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

func (c *gorillaConn) WriteMessage(messageType int, data []byte) error {
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(messageType, data)
}

// Close sends a normal closure before closing the socket
func (c *gorillaConn) Close() error {
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	deadline := time.Now().Add(time.Second)
	c.conn.WriteControl(websocket.CloseMessage, message, deadline)
	return c.conn.Close()
}
