package websocket

import (
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wsclient"
	"github.com/luciancaetano/wsclient/internal/pending"
)

const (
	// MinHeartbeatInterval is the shortest allowed heartbeat period
	MinHeartbeatInterval = time.Second

	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReconnectDelay    = time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second

	DefaultAgentText  = "web"
	DefaultTracerName = "wsclient"
)

// Commands holds the frame command codes used for each message kind.
type Commands struct {
	Ping       uint16
	ServerTime uint16
	Login      uint16
	Logout     uint16
	Business   uint16
}

// DefaultCommands returns the reserved command codes.
func DefaultCommands() Commands {
	return Commands{
		Ping:       wsclient.CmdPing,
		ServerTime: wsclient.CmdServerTime,
		Login:      wsclient.CmdLogin,
		Logout:     wsclient.CmdLogout,
		Business:   wsclient.CmdBusiness,
	}
}

// withDefaults replaces each zero code with its reserved default
func (c Commands) withDefaults() Commands {
	d := DefaultCommands()
	if c.Ping == 0 {
		c.Ping = d.Ping
	}
	if c.ServerTime == 0 {
		c.ServerTime = d.ServerTime
	}
	if c.Login == 0 {
		c.Login = d.Login
	}
	if c.Logout == 0 {
		c.Logout = d.Logout
	}
	if c.Business == 0 {
		c.Business = d.Business
	}
	return c
}

// RateLimitConfig paces how fast buffered messages are written when a
// connection opens
type RateLimitConfig struct {
	// MessagesPerSecond defines how many buffered messages are written per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if pacing is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default flush pacing
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with pacing disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// MetricsConfig configures the Prometheus collectors of a client.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "wsclient").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry receives the collectors. When nil the collectors are created
	// but not registered anywhere, so several clients can coexist.
	Registry prometheus.Registerer
}

// Config configures a Client. Zero fields are replaced by defaults in New.
type Config struct {
	// AgentType is written into every frame header
	AgentType uint8
	// AgentText is sent as userAgent in login, logout and request envelopes
	AgentText string

	// Framing wraps every outbound message in a binary frame. When false the
	// encoded payload is sent as a text message.
	Framing bool
	// ClientCodeHeader selects the 20 byte header carrying ClientCode
	ClientCodeHeader bool
	ClientCode       uint32
	// Flag is written into every frame header
	Flag uint8
	// Checksum fills the CRC32 header field. When false it is zero.
	Checksum bool
	// DecodeInboundFrames decodes binary inbound messages as frames
	DecodeInboundFrames bool
	// VerifyChecksum rejects inbound frames whose non-zero checksum is wrong
	VerifyChecksum bool

	Commands      Commands
	LoginBizCode  string
	LogoutBizCode string

	// HeartbeatInterval is clamped to MinHeartbeatInterval
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration

	// DispatchKey names the inbound field whose value selects the channel.
	// Only "bizCode" and "requestId" are supported by Request.
	DispatchKey string

	// SkipReconnectCodes suppress reconnection when the last response code
	// received before a close is one of them
	SkipReconnectCodes []int
	// OnDisconnect is called with the last response code when reconnection
	// is suppressed
	OnDisconnect func(code int)

	CleanSubscriptionsOnOpen  bool
	CleanSubscriptionsOnClose bool
	// KeepDurableOnClean keeps durable subscriptions when cleaning
	KeepDurableOnClean  bool
	ClearPendingOnOpen  bool
	ClearPendingOnClose bool
	UniqueDurable       bool

	// Debug logs at DEBUG level. Without a Logger the client gets its own
	// "wsclient/<id>" logger so other clients keep their level.
	Debug bool
	// Logger defaults to the "wsclient" logger
	Logger logger.ILogger

	// Dialer defaults to a gorilla/websocket dialer
	Dialer Dialer
	// Pending defaults to an in-memory queue
	Pending pending.Queue
	// FlushRateLimit defaults to NoRateLimit()
	FlushRateLimit *RateLimitConfig
	// Metrics defaults to unregistered collectors in the "wsclient" namespace
	Metrics *MetricsConfig
	// TracerName names the OpenTelemetry tracer (default: "wsclient")
	TracerName string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// DefaultConfig returns a configuration matching the reserved protocol
// constants: web agent, raw mode, 30s heartbeat, 1s reconnect delay,
// dispatch on bizCode.
func DefaultConfig() *Config {
	return &Config{
		AgentType:         wsclient.AgentTypeWeb,
		AgentText:         DefaultAgentText,
		Checksum:          true,
		Commands:          DefaultCommands(),
		LoginBizCode:      wsclient.DefaultLoginBizCode,
		LogoutBizCode:     wsclient.DefaultLogoutBizCode,
		HeartbeatInterval: DefaultHeartbeatInterval,
		ReconnectDelay:    DefaultReconnectDelay,
		DispatchKey:       wsclient.DefaultDispatchKey,
		FlushRateLimit:    NoRateLimit(),
		TracerName:        DefaultTracerName,
		HandshakeTimeout:  DefaultHandshakeTimeout,
		WriteTimeout:      DefaultWriteTimeout,
	}
}

// normalize returns a copy of cfg with defaults applied. id names the debug
// logger of the client.
func normalize(cfg *Config, id string) Config {
	var c Config
	if cfg != nil {
		c = *cfg
	} else {
		c = *DefaultConfig()
	}

	if c.AgentText == "" {
		c.AgentText = DefaultAgentText
	}
	c.Commands = c.Commands.withDefaults()
	if c.LoginBizCode == "" {
		c.LoginBizCode = wsclient.DefaultLoginBizCode
	}
	if c.LogoutBizCode == "" {
		c.LogoutBizCode = wsclient.DefaultLogoutBizCode
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatInterval < MinHeartbeatInterval {
		c.HeartbeatInterval = MinHeartbeatInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.DispatchKey == "" {
		c.DispatchKey = wsclient.DefaultDispatchKey
	}
	if c.Logger == nil {
		c.Logger = logger.GetLogger(loggerName(c.Debug, id))
	}
	if c.Debug {
		c.Logger.SetLevel(logger.DEBUG)
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Dialer == nil {
		c.Dialer = NewDialer(c.HandshakeTimeout, c.WriteTimeout)
	}
	if c.Pending == nil {
		c.Pending = pending.NewMemory()
	}
	if c.FlushRateLimit == nil {
		c.FlushRateLimit = NoRateLimit()
	}
	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	if c.Metrics.Namespace == "" {
		m := *c.Metrics
		m.Namespace = "wsclient"
		c.Metrics = &m
	}
	if c.TracerName == "" {
		c.TracerName = DefaultTracerName
	}
	c.SkipReconnectCodes = append([]int(nil), c.SkipReconnectCodes...)
	return c
}

// loggerName returns the shared "wsclient" logger name, or a per client
// name in debug mode
func loggerName(debug bool, id string) string {
	if !debug || id == "" {
		return "wsclient"
	}
	if len(id) > 8 {
		id = id[:8]
	}
	return "wsclient/" + id
}
