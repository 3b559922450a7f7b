package wsclient

import "context"

// State is the lifecycle state of a client connection.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	// StateClosing only exists while transport handlers are torn down
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// Callback wraps a message handler. Subscriptions are identified by the
// *Callback pointer, so keep the value returned by NewCallback to
// unsubscribe later.
type Callback struct {
	fn func(msg *Envelope)
}

// NewCallback creates a Callback for fn.
//
// Example:
//
//	onLogin := wsclient.NewCallback(func(msg *wsclient.Envelope) {
//	    log.Printf("login answered with code %d", msg.Code)
//	})
//	client.Subscribe("a1001", onLogin, false)
func NewCallback(fn func(msg *Envelope)) *Callback {
	return &Callback{fn: fn}
}

// Invoke calls the wrapped handler. A nil Callback or handler does nothing.
func (c *Callback) Invoke(msg *Envelope) {
	if c == nil || c.fn == nil {
		return
	}
	c.fn(msg)
}

// Client maintains one logical connection to a server, reconnecting after
// failures and routing inbound envelopes to subscribed callbacks.
//
// Messages sent while the connection is not open are buffered and flushed in
// order once it opens. Transport failures are never returned to callers;
// they trigger a timed reconnect instead, unless the last response code from
// the server is configured to suppress reconnection.
//
// Example usage:
//
//	import "github.com/luciancaetano/wsclient/ws"
//
//	cfg := ws.DefaultConfig()
//	cfg.Framing = true
//	cfg.SkipReconnectCodes = []int{19014}
//	client := ws.New(cfg)
//
//	client.Subscribe("a1001", wsclient.NewCallback(onLogin), false)
//	client.Open("ws://127.0.0.1:8036/ws/index", map[string]string{
//	    "username": "00000420",
//	    "password": "000420",
//	})
//	defer client.Close()
type Client interface {
	// ID returns a unique identifier of this client instance.
	ID() string

	// Open starts connecting to url and logs in with credentials once the
	// connection is established.
	//
	// Calling Open while a connection attempt is in progress does nothing.
	// Calling it while connected closes the current connection and connects
	// again with the new url and credentials.
	Open(url string, credentials any)

	// Reconnect closes the current connection and opens a new one with the
	// last url and credentials.
	Reconnect()

	// Close tears the connection down and cancels any scheduled reconnect.
	// Closing a closed client is a no-op.
	//
	// Returns an error only if the pending buffer could not be cleared.
	Close() error

	// State returns the current lifecycle state.
	State() State

	// URL returns the url passed to the last Open call.
	URL() string

	// Subscribe registers cb on channel. Call-once registrations are removed
	// after their first invocation; durable ones stay until unsubscribed.
	//
	// Returns false if cb is already registered on channel, or if a durable
	// registration was rejected because the channel already has one and
	// durable uniqueness is enabled.
	Subscribe(channel string, cb *Callback, once bool) bool

	// Unsubscribe removes cb from channel.
	Unsubscribe(channel string, cb *Callback) bool

	// CleanSubscriptions drops every registration, or every call-once
	// registration when keepDurable is true.
	CleanSubscriptions(keepDurable bool)

	// Login sends the login envelope carrying credentials.
	Login(ctx context.Context, credentials any) error

	// Logout sends the logout envelope.
	Logout(ctx context.Context) error

	// Send encodes message and writes it with the given command code.
	// Strings and byte slices are sent as-is, anything else is JSON encoded.
	//
	// If the connection is not open the message is buffered. Returns an
	// error only if the message cannot be encoded or buffered.
	Send(ctx context.Context, command uint16, message any) error

	// SendWithCallback subscribes cb on channel as call-once, unless it is
	// already registered there, and sends message with the business command.
	SendWithCallback(ctx context.Context, message any, channel string, cb *Callback) error

	// Request sends a business envelope with a generated request id and
	// routes the response to cb. It returns the request id.
	Request(ctx context.Context, bizCode string, data any, cb *Callback) (string, error)

	// Ping sends the "ping" heartbeat text. The server answers "pong".
	Ping(ctx context.Context) error

	// LastResponseCode returns the code of the last envelope received.
	LastResponseCode() int

	// PendingLen returns the number of buffered outbound messages.
	PendingLen(ctx context.Context) (int, error)
}
