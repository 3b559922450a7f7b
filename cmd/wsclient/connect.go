package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wsclient"
	"github.com/luciancaetano/wsclient/ws"
)

var log = logger.GetLogger("wsclient/cli")

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Open a session and exchange messages over stdin/stdout",
	Long: `Open a session to --url and log in with --username/--password.

Every stdin line is sent as a business message. Lines starting with ':'
are commands:

  :ping                     send a heartbeat
  :request <bizCode> [json] send a request and print its answer
  :logout                   send the logout envelope
  :reconnect                drop and re-open the connection
  :state                    print state, last code and pending count`,
	RunE: runConnect,
}

func init() {
	f := connectCmd.Flags()
	f.String("url", "", "websocket url of the server")
	f.String("username", "", "login username")
	f.String("password", "", "login password")
	f.String("agent", "web", "agent type (web, app, native-web)")
	f.Bool("framing", false, "wrap outbound messages in binary frames")
	f.Bool("client-code-header", false, "use the 20 byte frame header")
	f.Uint32("client-code", 0, "client code written into the 20 byte header")
	f.Bool("checksum", true, "fill the CRC32 frame field")
	f.Bool("decode-frames", false, "decode binary inbound messages as frames")
	f.Bool("verify-checksum", false, "drop inbound frames with a wrong checksum")
	f.Duration("heartbeat", 30*time.Second, "heartbeat interval (minimum 1s)")
	f.Duration("reconnect-delay", time.Second, "delay before reconnecting")
	f.String("dispatch-key", wsclient.DefaultDispatchKey, "inbound field selecting the channel")
	f.String("login-biz-code", wsclient.DefaultLoginBizCode, "bizCode of the login envelope")
	f.String("logout-biz-code", wsclient.DefaultLogoutBizCode, "bizCode of the logout envelope")
	f.String("skip-codes", "", "comma separated response codes that stop reconnecting")
	f.String("channels", "", "comma separated channels whose messages are printed")
	f.String("redis-addr", "", "buffer pending messages in this Redis server")
	f.String("redis-key", "", "Redis list holding pending messages")
	f.Float64("flush-rate", 0, "pending messages written per second after connecting (0 = unlimited)")
	f.Int("flush-burst", 1, "burst size of the pending flush")
	f.String("status-addr", "", "serve /healthz, /status and /metrics on this address")
	f.Bool("debug", false, "log protocol details")
}

// clientConfig builds the client configuration from flags and environment
func clientConfig(v *viper.Viper) (*ws.Config, error) {
	cfg := ws.DefaultConfig()

	agentType, err := parseAgent(v.GetString("agent"))
	if err != nil {
		return nil, err
	}
	cfg.AgentType = agentType
	cfg.AgentText = v.GetString("agent")

	cfg.Framing = v.GetBool("framing")
	cfg.ClientCodeHeader = v.GetBool("client-code-header")
	cfg.ClientCode = v.GetUint32("client-code")
	cfg.Checksum = v.GetBool("checksum")
	cfg.DecodeInboundFrames = v.GetBool("decode-frames")
	cfg.VerifyChecksum = v.GetBool("verify-checksum")
	cfg.HeartbeatInterval = v.GetDuration("heartbeat")
	cfg.ReconnectDelay = v.GetDuration("reconnect-delay")
	cfg.DispatchKey = v.GetString("dispatch-key")
	cfg.LoginBizCode = v.GetString("login-biz-code")
	cfg.LogoutBizCode = v.GetString("logout-biz-code")
	cfg.Debug = v.GetBool("debug")

	if cfg.SkipReconnectCodes, err = parseCodes(v.GetString("skip-codes")); err != nil {
		return nil, err
	}

	if r := v.GetFloat64("flush-rate"); r > 0 {
		cfg.FlushRateLimit = &ws.RateLimitConfig{
			MessagesPerSecond: rate.Limit(r),
			Burst:             max(v.GetInt("flush-burst"), 1),
			Enabled:           true,
		}
	}
	return cfg, nil
}

func parseAgent(name string) (uint8, error) {
	switch name {
	case "web", "":
		return wsclient.AgentTypeWeb, nil
	case "app":
		return wsclient.AgentTypeApp, nil
	case "native-web":
		return wsclient.AgentTypeNativeWeb, nil
	default:
		return 0, fmt.Errorf("invalid agent %s. must be one of web, app, native-web", name)
	}
}

func parseCodes(s string) ([]int, error) {
	var codes []int
	for _, field := range splitList(s) {
		code, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid response code %q: %w", field, err)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

func splitList(s string) []string {
	var out []string
	for _, field := range strings.Split(s, ",") {
		if field = strings.TrimSpace(field); field != "" {
			out = append(out, field)
		}
	}
	return out
}

func runConnect(cmd *cobra.Command, _ []string) error {
	v := viper.GetViper()
	url := v.GetString("url")
	if url == "" {
		return errors.New("--url is required")
	}

	cfg, err := clientConfig(v)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cfg.Metrics = &ws.MetricsConfig{Registry: registry}

	cfg.OnDisconnect = func(code int) {
		log.Warningf("server ended the session with code %d", code)
		stop()
	}

	if addr := v.GetString("redis-addr"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", addr, err)
		}
		cfg.Pending = ws.NewRedisPending(rdb, v.GetString("redis-key"))
	}

	client := ws.New(cfg)
	defer client.Close()

	out := cmd.OutOrStdout()
	printer := wsclient.NewCallback(func(msg *wsclient.Envelope) {
		fmt.Fprintf(out, "%s %s\n", msg.Channel, msg.Raw)
	})
	for _, channel := range splitList(v.GetString("channels")) {
		client.Subscribe(channel, printer, false)
	}

	if addr := v.GetString("status-addr"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: newStatusRouter(client, registry)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("status server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		log.Infof("status server listening on %s", addr)
	}

	var credentials any
	if user := v.GetString("username"); user != "" {
		credentials = map[string]string{"username": user, "password": v.GetString("password")}
	}
	client.Open(url, credentials)

	lines := make(chan string)
	go readLines(cmd.InOrStdin(), lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleLine(ctx, client, line, printer, out); err != nil {
				log.Errorf("%v", err)
			}
		}
	}
}

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

// handleLine sends one stdin line or runs a ':' command
func handleLine(ctx context.Context, client wsclient.Client, line string, printer *wsclient.Callback, out io.Writer) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, ":") {
		return client.Send(ctx, wsclient.CmdBusiness, line)
	}

	fields := strings.SplitN(line, " ", 3)
	switch fields[0] {
	case ":ping":
		return client.Ping(ctx)
	case ":logout":
		return client.Logout(ctx)
	case ":reconnect":
		client.Reconnect()
		return nil
	case ":state":
		n, err := client.PendingLen(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "state=%s last_code=%d pending=%d\n", client.State(), client.LastResponseCode(), n)
		return nil
	case ":request":
		if len(fields) < 2 {
			return errors.New("usage: :request <bizCode> [json]")
		}
		var data any
		if len(fields) == 3 {
			data = jsonText(fields[2])
		}
		id, err := client.Request(ctx, fields[1], data, printer)
		if err != nil {
			return err
		}
		log.Debugf("request %s sent", id)
		return nil
	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
}

// jsonText keeps valid JSON as is and sends anything else as a string
func jsonText(s string) any {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return s
}
