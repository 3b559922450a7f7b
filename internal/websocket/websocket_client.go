package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wsclient"
	"github.com/luciancaetano/wsclient/internal/pending"
	"github.com/luciancaetano/wsclient/internal/protocol"
	"github.com/luciancaetano/wsclient/internal/registry"
)

var _ wsclient.Client = (*Client)(nil)

// Client implements the wsclient.Client interface
type Client struct {
	id       string
	cfg      Config
	codec    protocol.Codec
	registry *registry.Registry
	pending  pending.Queue
	limiter  *rate.Limiter // paces the pending flush, nil when disabled
	metrics  *metrics
	tracer   trace.Tracer
	log      logger.ILogger
	skip     map[int]struct{}

	mu          sync.RWMutex
	state       wsclient.State
	conn        Conn
	url         string
	credentials any
	// epoch changes on every open and close. Goroutines and timers started
	// for an older epoch do nothing.
	epoch     uint64
	// clears counts pending.Clear calls. A flush whose tail was cleared
	// meanwhile does not requeue it.
	clears    uint64
	seq       uint32
	lastCode  int
	heartbeat chan struct{}
	reconnect *time.Timer

	// writeMu serializes writes to conn. Lock order is writeMu, then mu.
	writeMu sync.Mutex
}

// NewClient creates a closed client. Call Open to connect.
func NewClient(cfg *Config) *Client {
	c := &Client{
		id:    uuid.New().String(),
		state: wsclient.StateClosed,
	}
	c.cfg = normalize(cfg, c.id)

	c.codec = protocol.Codec{
		ClientCode:     c.cfg.ClientCodeHeader,
		Flag:           c.cfg.Flag,
		Checksum:       c.cfg.Checksum,
		VerifyChecksum: c.cfg.VerifyChecksum,
	}
	c.log = c.cfg.Logger
	c.pending = c.cfg.Pending
	c.metrics = newMetrics(c.cfg.Metrics)
	c.tracer = otel.Tracer(c.cfg.TracerName)
	c.registry = registry.New(registry.Config{
		UniqueDurable: c.cfg.UniqueDurable,
		OnPanic: func(channel string, recovered any) {
			c.metrics.callbackPanics.Inc()
		},
	})

	if c.cfg.FlushRateLimit.Enabled {
		c.limiter = rate.NewLimiter(c.cfg.FlushRateLimit.MessagesPerSecond, c.cfg.FlushRateLimit.Burst)
	}

	c.skip = make(map[int]struct{}, len(c.cfg.SkipReconnectCodes))
	for _, code := range c.cfg.SkipReconnectCodes {
		c.skip[code] = struct{}{}
	}

	c.metrics.setState(wsclient.StateClosed)
	return c
}

// ID returns a unique identifier of this client instance
func (c *Client) ID() string {
	return c.id
}

// State returns the current lifecycle state
func (c *Client) State() wsclient.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// URL returns the url of the last Open call
func (c *Client) URL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

// LastResponseCode returns the code of the last envelope received
func (c *Client) LastResponseCode() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastCode
}

// PendingLen returns the number of buffered outbound messages
func (c *Client) PendingLen(ctx context.Context) (int, error) {
	return c.pending.Len(ctx)
}

// Open starts connecting to url
func (c *Client) Open(url string, credentials any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case wsclient.StateConnecting:
		c.log.Debugf("open %s ignored, already connecting to %s", url, c.url)
		return
	case wsclient.StateOpen, wsclient.StateClosing:
		c.url, c.credentials = url, credentials
		if err := c.closeLocked(); err != nil {
			c.log.Warningf("%s: %v", wsclient.ErrFailedToClear, err)
		}
	default:
		c.url, c.credentials = url, credentials
	}
	c.openLocked()
}

// Reconnect closes the current connection and opens a new one with the last
// url and credentials
func (c *Client) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.closeLocked(); err != nil {
		c.log.Warningf("%s: %v", wsclient.ErrFailedToClear, err)
	}
	if c.url == "" {
		return
	}
	c.metrics.reconnectsTotal.WithLabelValues(reasonManual).Inc()
	c.openLocked()
}

// Close tears the connection down and cancels any scheduled reconnect
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.closeLocked(); err != nil {
		return fmt.Errorf("%s: %w", wsclient.ErrFailedToClear, err)
	}
	return nil
}

// openLocked starts a connection attempt for a new epoch
func (c *Client) openLocked() {
	c.epoch++
	epoch := c.epoch
	c.stopReconnectLocked()
	c.setStateLocked(wsclient.StateConnecting)

	if c.cfg.CleanSubscriptionsOnOpen {
		c.registry.CleanAll(c.cfg.KeepDurableOnClean)
	}
	if c.cfg.ClearPendingOnOpen {
		c.clears++
		if err := c.pending.Clear(context.Background()); err != nil {
			c.log.Warningf("%s: %v", wsclient.ErrFailedToClear, err)
		}
	}

	c.log.Infof("connecting to %s", c.url)
	go c.connect(epoch, c.url)
}

// closeLocked detaches the current connection. It is safe to call when
// already closed.
func (c *Client) closeLocked() error {
	c.epoch++
	c.stopReconnectLocked()
	c.stopHeartbeatLocked()

	var err error
	if c.cfg.ClearPendingOnClose {
		c.clears++
		err = c.pending.Clear(context.Background())
	}
	if c.cfg.CleanSubscriptionsOnClose {
		c.registry.CleanAll(c.cfg.KeepDurableOnClean)
	}

	if c.conn != nil {
		c.setStateLocked(wsclient.StateClosing)
		conn := c.conn
		c.conn = nil
		conn.Close()
		c.log.Infof("connection to %s closed", c.url)
	}
	c.setStateLocked(wsclient.StateClosed)
	return err
}

func (c *Client) setStateLocked(s wsclient.State) {
	c.state = s
	c.metrics.setState(s)
}

func (c *Client) stopReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Client) stopHeartbeatLocked() {
	if c.heartbeat != nil {
		close(c.heartbeat)
		c.heartbeat = nil
	}
}

// isCurrent reports whether epoch is still the live, open connection
func (c *Client) isCurrent(epoch uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch == epoch && c.state == wsclient.StateOpen
}

// connect dials url and runs the connection until it fails
func (c *Client) connect(epoch uint64, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	conn, err := c.cfg.Dialer.Dial(ctx, url)
	cancel()
	if err != nil {
		c.log.Errorf("dial %s failed: %v", url, err)
		c.mu.Lock()
		if c.epoch == epoch {
			c.scheduleReconnectLocked(epoch, reasonDialError)
		}
		c.mu.Unlock()
		return
	}

	// Hold writeMu until login and flush are written so that sends observing
	// the open state queue up behind them.
	c.writeMu.Lock()
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.writeMu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.seq = 0
	c.setStateLocked(wsclient.StateOpen)
	login, err := c.loginLocked(c.credentials)
	stop := make(chan struct{})
	c.heartbeat = stop
	c.mu.Unlock()

	c.log.Infof("connected to %s", url)
	go c.heartbeatLoop(epoch, stop)

	ok := true
	if err != nil {
		c.log.Errorf("%s: login: %v", wsclient.ErrFailedToEncode, err)
	} else {
		// a login that fails to write is not buffered, the next connection
		// logs in again
		ok = c.writeLocked(conn, login) == nil
	}
	if ok {
		c.flushLocked(context.Background(), epoch, conn)
	}
	c.writeMu.Unlock()

	c.readLoop(epoch, conn)
}

// loginLocked encodes the login envelope
func (c *Client) loginLocked(credentials any) ([]byte, error) {
	payload, err := json.Marshal(wsclient.Request{
		RequestID: wsclient.LoginRequestID,
		UserAgent: c.cfg.AgentText,
		BizCode:   c.cfg.LoginBizCode,
		Data:      credentials,
	})
	if err != nil {
		return nil, err
	}
	return c.encodeLocked(c.cfg.Commands.Login, payload)
}

// flushLocked writes every buffered message in order. writeMu must be held.
func (c *Client) flushLocked(ctx context.Context, epoch uint64, conn Conn) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	bufs, err := c.pending.Flush(ctx)
	clears := c.clears
	c.mu.Unlock()
	if err != nil {
		c.log.Errorf("flush pending messages: %v", err)
		return
	}
	if len(bufs) > 0 {
		c.log.Debugf("flushing %d pending messages", len(bufs))
	}

	for i, buf := range bufs {
		if c.limiter != nil {
			c.limiter.Wait(ctx)
		}
		if !c.isCurrent(epoch) || c.writeLocked(conn, buf) != nil {
			c.requeue(ctx, clears, bufs[i:])
			return
		}
	}
}

// requeue puts the unsent tail of a flush back at the head of the pending
// queue. The tail is dropped when the queue was cleared after the flush
// started.
func (c *Client) requeue(ctx context.Context, clears uint64, bufs [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.clears != clears {
		c.log.Debugf("pending messages cleared, dropping %d unsent", len(bufs))
		return
	}
	if err := c.pending.Requeue(ctx, bufs); err != nil {
		c.log.Errorf("%s: %v", wsclient.ErrFailedToBuffer, err)
	}
}

// writeLocked writes buf to conn. On failure conn is closed so the read loop
// reports the close. writeMu must be held.
func (c *Client) writeLocked(conn Conn, buf []byte) error {
	if err := conn.WriteMessage(c.messageType(), buf); err != nil {
		c.log.Warningf("write failed: %v", err)
		conn.Close()
		return err
	}
	c.metrics.messagesSent.WithLabelValues(c.mode()).Inc()
	return nil
}

func (c *Client) messageType() int {
	if c.cfg.Framing {
		return BinaryMessage
	}
	return TextMessage
}

func (c *Client) mode() string {
	if c.cfg.Framing {
		return "framed"
	}
	return "raw"
}

// heartbeatLoop pings the server until stop is closed
func (c *Client) heartbeatLoop(epoch uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.sendHeartbeat(epoch) {
				return
			}
		}
	}
}

// sendHeartbeat writes a ping on the connection of epoch. Pings are never
// buffered. It returns false once that connection is gone.
func (c *Client) sendHeartbeat(epoch uint64) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.epoch != epoch || c.state != wsclient.StateOpen {
		c.mu.Unlock()
		return false
	}
	buf, err := c.encodeLocked(c.cfg.Commands.Ping, []byte(wsclient.PingText))
	conn := c.conn
	c.mu.Unlock()

	if err != nil {
		c.log.Warningf("heartbeat: %s: %v", wsclient.ErrFailedToEncode, err)
		return true
	}
	if c.writeLocked(conn, buf) != nil {
		return false
	}
	c.metrics.heartbeatsTotal.Inc()
	return true
}

// scheduleReconnectLocked opens a new connection after the reconnect delay
// unless the epoch changes first
func (c *Client) scheduleReconnectLocked(epoch uint64, reason string) {
	c.stopReconnectLocked()
	c.log.Infof("reconnecting to %s in %s", c.url, c.cfg.ReconnectDelay)

	c.reconnect = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.epoch != epoch {
			return
		}
		c.reconnect = nil
		c.metrics.reconnectsTotal.WithLabelValues(reason).Inc()
		if err := c.closeLocked(); err != nil {
			c.log.Warningf("%s: %v", wsclient.ErrFailedToClear, err)
		}
		c.openLocked()
	})
}

// readLoop handles inbound messages one at a time until the connection fails
func (c *Client) readLoop(epoch uint64, conn Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(epoch, conn, err)
			return
		}
		c.handleMessage(epoch, messageType, data)
	}
}

// handleClosed tears the connection down after a read failure and decides
// whether to reconnect
func (c *Client) handleClosed(epoch uint64, conn Conn, cause error) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}

	c.setStateLocked(wsclient.StateClosing)
	c.stopHeartbeatLocked()
	c.conn = nil
	c.setStateLocked(wsclient.StateClosed)

	code := c.lastCode
	_, suppress := c.skip[code]
	if !suppress {
		c.scheduleReconnectLocked(epoch, reasonClosed)
	}
	onDisconnect := c.cfg.OnDisconnect
	c.mu.Unlock()

	conn.Close()
	c.log.Warningf("connection closed: %v", cause)

	if suppress {
		c.log.Infof("last response code %d, skip reconnecting", code)
		c.metrics.suppressedTotal.Inc()
		if onDisconnect != nil {
			onDisconnect(code)
		}
	}
}

// handleMessage parses one inbound message and dispatches it
func (c *Client) handleMessage(epoch uint64, messageType int, data []byte) {
	var text string
	if messageType == BinaryMessage && c.cfg.DecodeInboundFrames {
		frame, err := c.codec.Decode(data)
		if err != nil {
			c.log.Warningf("%s: %v", wsclient.ErrInvalidMessageFormat, err)
			c.metrics.messagesReceived.WithLabelValues("invalid_frame").Inc()
			return
		}
		text = frame.Payload
	} else {
		text = protocol.Text(data)
	}

	if text == wsclient.PongText {
		c.metrics.messagesReceived.WithLabelValues("pong").Inc()
		return
	}

	env, err := wsclient.ParseEnvelope(text, c.cfg.DispatchKey)
	if err != nil {
		var perr *wsclient.ParseError
		if errors.As(err, &perr) && perr.Kind == wsclient.ParseMissingCode {
			c.log.Debugf("dropping message without code: %s", text)
			c.metrics.messagesReceived.WithLabelValues("no_code").Inc()
		} else {
			c.log.Warningf("dropping message: %v", err)
			c.metrics.messagesReceived.WithLabelValues("invalid").Inc()
		}
		return
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.lastCode = env.Code
	c.mu.Unlock()

	if !env.OK() {
		c.log.Warningf("server answered code %d: %s", env.Code, env.Message)
	}
	if env.Channel == "" {
		c.metrics.messagesReceived.WithLabelValues("unrouted").Inc()
		return
	}
	c.metrics.messagesReceived.WithLabelValues("envelope").Inc()
	c.dispatch(env)
}

func (c *Client) dispatch(env *wsclient.Envelope) {
	_, span := c.tracer.Start(context.Background(), "wsclient.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("wsclient.channel", env.Channel),
			attribute.Int("wsclient.code", env.Code),
		),
	)
	defer span.End()

	n := c.registry.Dispatch(env.Channel, env)
	c.metrics.dispatched.Add(float64(n))
	span.SetAttributes(attribute.Int("wsclient.callbacks", n))
	if env.OK() {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, env.Message)
	}
}

// Subscribe registers cb on channel
func (c *Client) Subscribe(channel string, cb *wsclient.Callback, once bool) bool {
	return c.registry.Subscribe(channel, cb, once)
}

// Unsubscribe removes cb from channel
func (c *Client) Unsubscribe(channel string, cb *wsclient.Callback) bool {
	return c.registry.Unsubscribe(channel, cb)
}

// CleanSubscriptions drops registrations
func (c *Client) CleanSubscriptions(keepDurable bool) {
	c.registry.CleanAll(keepDurable)
}

// Login sends the login envelope carrying credentials
func (c *Client) Login(ctx context.Context, credentials any) error {
	return c.Send(ctx, c.cfg.Commands.Login, wsclient.Request{
		RequestID: wsclient.LoginRequestID,
		UserAgent: c.cfg.AgentText,
		BizCode:   c.cfg.LoginBizCode,
		Data:      credentials,
	})
}

// Logout sends the logout envelope
func (c *Client) Logout(ctx context.Context) error {
	return c.Send(ctx, c.cfg.Commands.Logout, wsclient.Request{
		RequestID: wsclient.LogoutRequestID,
		UserAgent: c.cfg.AgentText,
		BizCode:   c.cfg.LogoutBizCode,
	})
}

// Ping sends the heartbeat text
func (c *Client) Ping(ctx context.Context) error {
	return c.Send(ctx, c.cfg.Commands.Ping, wsclient.PingText)
}

// Send encodes message and writes it, or buffers it while not connected
func (c *Client) Send(ctx context.Context, command uint16, message any) error {
	payload, err := marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", wsclient.ErrFailedToEncode, err)
	}

	c.mu.Lock()
	buf, err := c.encodeLocked(command, payload)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", wsclient.ErrFailedToEncode, err)
	}
	if c.state != wsclient.StateOpen {
		// buffered under mu so a concurrent open cannot flush before the push
		err = c.buffer(ctx, buf)
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// the connection may have changed while waiting. A new one cannot turn
	// open while writeMu is held.
	c.mu.RLock()
	conn, open := c.conn, c.state == wsclient.StateOpen
	c.mu.RUnlock()
	if !open || c.writeLocked(conn, buf) != nil {
		return c.buffer(ctx, buf)
	}
	return nil
}

func (c *Client) buffer(ctx context.Context, buf []byte) error {
	if err := c.pending.Push(ctx, buf); err != nil {
		return fmt.Errorf("%s: %w", wsclient.ErrFailedToBuffer, err)
	}
	c.metrics.messagesBuffered.Inc()
	c.log.Debugf("connection not open, message buffered")
	return nil
}

// encodeLocked wraps payload in a frame when framing is enabled. c.mu must
// be held because the sequence number advances.
func (c *Client) encodeLocked(command uint16, payload []byte) ([]byte, error) {
	if !c.cfg.Framing {
		return payload, nil
	}
	c.seq++
	return c.codec.Encode(protocol.Frame{
		Command:    command,
		Agent:      c.cfg.AgentType,
		Sequence:   c.seq,
		ClientCode: c.cfg.ClientCode,
		Payload:    string(payload),
	})
}

// marshal returns strings and byte slices unchanged and JSON encodes
// everything else
func marshal(message any) ([]byte, error) {
	switch v := message.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// SendWithCallback subscribes cb call-once on channel unless it is already
// registered there, then sends message with the business command
func (c *Client) SendWithCallback(ctx context.Context, message any, channel string, cb *wsclient.Callback) error {
	if cb == nil {
		return errors.New(wsclient.ErrNilCallback)
	}
	if !c.registry.Has(channel, cb) {
		c.registry.Subscribe(channel, cb, true)
	}
	return c.Send(ctx, c.cfg.Commands.Business, message)
}

// Request sends a business envelope with a generated request id and routes
// the response to cb
func (c *Client) Request(ctx context.Context, bizCode string, data any, cb *wsclient.Callback) (string, error) {
	req := wsclient.Request{
		RequestID: uuid.NewString(),
		UserAgent: c.cfg.AgentText,
		BizCode:   bizCode,
		Data:      data,
	}
	channel, ok := req.Field(c.cfg.DispatchKey)
	if !ok {
		return "", fmt.Errorf("%s: %s", wsclient.ErrUnknownDispatch, c.cfg.DispatchKey)
	}
	if err := c.SendWithCallback(ctx, req, channel, cb); err != nil {
		return "", err
	}
	return req.RequestID, nil
}
