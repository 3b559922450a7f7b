package websocket

import (
	"testing"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wsclient"
)

// TestDefaultRateLimitConfig tests the default flush pacing configuration
func TestDefaultRateLimitConfig(t *testing.T) {
	t.Parallel()

	config := DefaultRateLimitConfig()

	if config == nil {
		t.Fatal("DefaultRateLimitConfig() returned nil")
	}

	if !config.Enabled {
		t.Error("Expected rate limiting to be enabled by default")
	}

	if config.MessagesPerSecond != 100 {
		t.Errorf("MessagesPerSecond = %v, want 100", config.MessagesPerSecond)
	}

	if config.Burst != 200 {
		t.Errorf("Burst = %v, want 200", config.Burst)
	}
}

// TestNoRateLimit tests the disabled pacing configuration
func TestNoRateLimit(t *testing.T) {
	t.Parallel()

	config := NoRateLimit()

	if config == nil {
		t.Fatal("NoRateLimit() returned nil")
	}

	if config.Enabled {
		t.Error("Expected rate limiting to be disabled")
	}
}

// TestFlushLimiterCreation tests that a limiter only exists when pacing is enabled
func TestFlushLimiterCreation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		config      *RateLimitConfig
		wantLimiter bool
		wantLimit   rate.Limit
	}{
		{"default config", DefaultRateLimitConfig(), true, 100},
		{"no rate limit", NoRateLimit(), false, 0},
		{"nil config", nil, false, 0},
		{"custom config", &RateLimitConfig{MessagesPerSecond: 5, Burst: 1, Enabled: true}, true, 5},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewClient(&Config{FlushRateLimit: tt.config, Dialer: newFakeDialer()})
			if (c.limiter != nil) != tt.wantLimiter {
				t.Fatalf("limiter present = %v, want %v", c.limiter != nil, tt.wantLimiter)
			}
			if c.limiter != nil && c.limiter.Limit() != tt.wantLimit {
				t.Errorf("Limit() = %v, want %v", c.limiter.Limit(), tt.wantLimit)
			}
		})
	}
}

// TestNormalize tests that zero fields get defaults
func TestNormalize(t *testing.T) {
	t.Parallel()

	c := normalize(&Config{}, "")

	if c.Commands != DefaultCommands() {
		t.Errorf("Commands = %+v, want %+v", c.Commands, DefaultCommands())
	}
	if c.AgentText != DefaultAgentText {
		t.Errorf("AgentText = %q, want %q", c.AgentText, DefaultAgentText)
	}
	if c.LoginBizCode != wsclient.DefaultLoginBizCode || c.LogoutBizCode != wsclient.DefaultLogoutBizCode {
		t.Errorf("biz codes = %q/%q", c.LoginBizCode, c.LogoutBizCode)
	}
	if c.DispatchKey != wsclient.DefaultDispatchKey {
		t.Errorf("DispatchKey = %q, want %q", c.DispatchKey, wsclient.DefaultDispatchKey)
	}
	if c.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("HeartbeatInterval = %v, want %v", c.HeartbeatInterval, DefaultHeartbeatInterval)
	}
	if c.ReconnectDelay != DefaultReconnectDelay {
		t.Errorf("ReconnectDelay = %v, want %v", c.ReconnectDelay, DefaultReconnectDelay)
	}
	if c.Logger == nil || c.Dialer == nil || c.Pending == nil || c.FlushRateLimit == nil || c.Metrics == nil {
		t.Error("ambient defaults not filled in")
	}
	if c.Metrics.Namespace != "wsclient" {
		t.Errorf("Metrics.Namespace = %q, want wsclient", c.Metrics.Namespace)
	}
	if c.TracerName != DefaultTracerName {
		t.Errorf("TracerName = %q, want %q", c.TracerName, DefaultTracerName)
	}
}

// TestNormalizeHeartbeatMinimum tests the heartbeat interval clamp
func TestNormalizeHeartbeatMinimum(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"zero uses default", 0, DefaultHeartbeatInterval},
		{"below minimum", 10 * time.Millisecond, MinHeartbeatInterval},
		{"negative", -time.Second, MinHeartbeatInterval},
		{"above minimum", 5 * time.Second, 5 * time.Second},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := normalize(&Config{HeartbeatInterval: tt.in}, "")
			if c.HeartbeatInterval != tt.want {
				t.Errorf("HeartbeatInterval = %v, want %v", c.HeartbeatInterval, tt.want)
			}
		})
	}
}

// TestNormalizeCommands tests that each zero command code gets its default
func TestNormalizeCommands(t *testing.T) {
	t.Parallel()

	c := normalize(&Config{Commands: Commands{Login: 900, Business: 901}}, "")
	want := Commands{
		Ping:       wsclient.CmdPing,
		ServerTime: wsclient.CmdServerTime,
		Login:      900,
		Logout:     wsclient.CmdLogout,
		Business:   901,
	}
	if c.Commands != want {
		t.Errorf("Commands = %+v, want %+v", c.Commands, want)
	}
}

// TestNormalizeDebugLogger tests that debug mode uses a logger of its own
func TestNormalizeDebugLogger(t *testing.T) {
	t.Parallel()

	id := "0f8e6c2a-5b1d-4e3f-9a7c-2d4b6e8f0a1c"
	tests := []struct {
		name  string
		debug bool
		want  string
	}{
		{"shared logger", false, "wsclient"},
		{"debug logger", true, "wsclient/0f8e6c2a"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := loggerName(tt.debug, id); got != tt.want {
				t.Errorf("loggerName() = %q, want %q", got, tt.want)
			}
			c := normalize(&Config{Debug: tt.debug}, id)
			if c.Logger != logger.GetLogger(tt.want) {
				t.Errorf("Logger is not the %q logger", tt.want)
			}
		})
	}
}

// TestNormalizeDoesNotAlias tests that the caller's config is not modified
func TestNormalizeDoesNotAlias(t *testing.T) {
	t.Parallel()

	codes := []int{19014}
	metricsCfg := &MetricsConfig{}
	cfg := &Config{SkipReconnectCodes: codes, Metrics: metricsCfg}

	c := normalize(cfg, "")
	c.SkipReconnectCodes[0] = 1

	if codes[0] != 19014 {
		t.Error("normalize shares SkipReconnectCodes with the caller")
	}
	if metricsCfg.Namespace != "" {
		t.Error("normalize modified the caller's MetricsConfig")
	}
	if cfg.Dialer != nil {
		t.Error("normalize modified the caller's Config")
	}
}

// TestDefaultConfig tests the documented defaults
func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Framing {
		t.Error("Framing enabled by default")
	}
	if !cfg.Checksum {
		t.Error("Checksum disabled by default")
	}
	if cfg.AgentType != wsclient.AgentTypeWeb {
		t.Errorf("AgentType = %d, want %d", cfg.AgentType, wsclient.AgentTypeWeb)
	}
	if cfg.FlushRateLimit == nil || cfg.FlushRateLimit.Enabled {
		t.Error("flush pacing enabled by default")
	}
}
