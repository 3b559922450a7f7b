// Package wstest provides an in-process WebSocket server speaking the
// client's wire protocol, for end-to-end tests.
package wstest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luciancaetano/wsclient"
	"github.com/luciancaetano/wsclient/internal/protocol"
)

// Message is one message received from a client.
type Message struct {
	PeerID string
	Type   int
	Raw    []byte
	// Frame is set when the server decodes frames and Raw was a valid one
	Frame *protocol.Frame
	// Text is the frame payload, or Raw as text
	Text string
}

// Command returns the frame command, or 0 for unframed messages.
func (m Message) Command() uint16 {
	if m.Frame == nil {
		return 0
	}
	return m.Frame.Command
}

// Request decodes Text as an outbound client envelope.
func (m Message) Request() (wsclient.Request, error) {
	var req wsclient.Request
	err := json.Unmarshal([]byte(m.Text), &req)
	return req, err
}

// HandlerFn answers a message. It runs on the peer's read goroutine.
type HandlerFn = func(peer *Peer, msg Message)

// Config configures a Server.
type Config struct {
	// Framed decodes binary messages with Codec
	Framed bool
	Codec  protocol.Codec
	// AutoPong answers the "ping" text with "pong"
	AutoPong bool
	// OnConnect is called after the handshake, before reading starts
	OnConnect func(peer *Peer)
}

// Server is an httptest server accepting WebSocket connections on /ws.
type Server struct {
	cfg      Config
	srv      *httptest.Server
	upgrader websocket.Upgrader
	peers    sync.Map // map[string]*Peer
	handlers sync.Map // map[uint16]HandlerFn
	textFn   atomic.Pointer[HandlerFn]
	accepted atomic.Int32
	received chan Message
}

// NewServer starts a server. Call Close when done.
func NewServer(cfg Config) *Server {
	s := &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		received: make(chan Message, 1024),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.srv = httptest.NewServer(mux)
	return s
}

// URL returns the ws:// address of the endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

// Close drops every peer and stops the server.
func (s *Server) Close() {
	s.DropAll()
	s.srv.Close()
}

// Handle registers fn for frames carrying command.
func (s *Server) Handle(command uint16, fn HandlerFn) {
	s.handlers.Store(command, fn)
}

// HandleText registers fn for every unframed message.
func (s *Server) HandleText(fn HandlerFn) {
	s.textFn.Store(&fn)
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// Peers returns the currently connected peers.
func (s *Server) Peers() []*Peer {
	var peers []*Peer
	s.peers.Range(func(_, value any) bool {
		peers = append(peers, value.(*Peer))
		return true
	})
	return peers
}

// Broadcast sends text to every connected peer.
func (s *Server) Broadcast(text string) {
	for _, p := range s.Peers() {
		p.SendText(text)
	}
}

// DropAll closes every peer connection without a close handshake.
func (s *Server) DropAll() {
	for _, p := range s.Peers() {
		p.Drop()
	}
}

// Next waits up to timeout for the next received message.
func (s *Server) Next(timeout time.Duration) (Message, bool) {
	select {
	case msg := <-s.received:
		return msg, true
	case <-time.After(timeout):
		return Message{}, false
	}
}

// handleWebSocket handles incoming WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "Failed to upgrade connection", http.StatusBadRequest)
		return
	}

	peer := &Peer{id: uuid.New().String(), conn: conn}
	s.peers.Store(peer.id, peer)
	s.accepted.Add(1)

	go s.handlePeer(peer)
}

// handlePeer reads messages from one peer until it disconnects
func (s *Server) handlePeer(peer *Peer) {
	defer func() {
		s.peers.Delete(peer.id)
		peer.conn.Close()
	}()

	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(peer)
	}

	for {
		messageType, data, err := peer.conn.ReadMessage()
		if err != nil {
			return
		}

		msg := Message{PeerID: peer.id, Type: messageType, Raw: data, Text: protocol.Text(data)}
		if s.cfg.Framed && messageType == websocket.BinaryMessage {
			if frame, err := s.cfg.Codec.Decode(data); err == nil {
				msg.Frame = &frame
				msg.Text = frame.Payload
			}
		}

		select {
		case s.received <- msg:
		default:
		}

		if s.cfg.AutoPong && msg.Text == wsclient.PingText {
			peer.SendText(wsclient.PongText)
			continue
		}

		if msg.Frame != nil {
			if fn, ok := s.handlers.Load(msg.Frame.Command); ok {
				fn.(HandlerFn)(peer, msg)
			}
			continue
		}
		if fn := s.textFn.Load(); fn != nil {
			(*fn)(peer, msg)
		}
	}
}

// Peer is one accepted connection.
type Peer struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// ID returns the peer identifier.
func (p *Peer) ID() string {
	return p.id
}

// SendText writes a text message.
func (p *Peer) SendText(text string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return p.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// SendBinary writes a binary message.
func (p *Peer) SendBinary(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return p.conn.WriteMessage(websocket.BinaryMessage, data)
}

// SendJSON writes v as a JSON text message.
func (p *Peer) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.SendText(string(data))
}

// CloseWithCode performs a close handshake with code and reason.
func (p *Peer) CloseWithCode(code int, reason string) error {
	message := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(time.Second)
	p.conn.WriteControl(websocket.CloseMessage, message, deadline)
	return p.conn.Close()
}

// Drop closes the socket abruptly.
func (p *Peer) Drop() error {
	return p.conn.Close()
}
