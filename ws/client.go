package ws

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luciancaetano/wsclient"
	"github.com/luciancaetano/wsclient/internal/pending"
	"github.com/luciancaetano/wsclient/internal/websocket"
)

type Config = websocket.Config
type Commands = websocket.Commands
type RateLimitConfig = websocket.RateLimitConfig
type MetricsConfig = websocket.MetricsConfig
type Dialer = websocket.Dialer
type Conn = websocket.Conn
type PendingQueue = pending.Queue

// New creates a closed client. A nil cfg uses DefaultConfig().
//
// Example:
//
//	cfg := ws.DefaultConfig()
//	cfg.Framing = true
//	cfg.SkipReconnectCodes = []int{19014}
//	cfg.OnDisconnect = func(code int) {
//	    log.Printf("session ended by server, code %d", code)
//	}
//
//	client := ws.New(cfg)
//	client.Open("ws://127.0.0.1:8036/ws/index", credentials)
//	defer client.Close()
func New(cfg *Config) wsclient.Client {
	return websocket.NewClient(cfg)
}

// DefaultConfig returns the default client configuration
func DefaultConfig() *Config {
	return websocket.DefaultConfig()
}

// DefaultCommands returns the reserved command codes
func DefaultCommands() Commands {
	return websocket.DefaultCommands()
}

// DefaultRateLimitConfig returns the default flush pacing configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with flush pacing disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}

// NewDialer returns the gorilla/websocket backed Dialer
func NewDialer(handshakeTimeout, writeTimeout time.Duration) Dialer {
	return websocket.NewDialer(handshakeTimeout, writeTimeout)
}

// NewMemoryPending returns an in-process pending queue
func NewMemoryPending() PendingQueue {
	return pending.NewMemory()
}

// NewRedisPending returns a pending queue stored in the Redis list key.
// An empty key uses "wsclient:pending".
func NewRedisPending(client redis.Cmdable, key string) PendingQueue {
	return pending.NewRedis(client, key)
}
