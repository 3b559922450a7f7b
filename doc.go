// Package wsclient provides a persistent WebSocket client that keeps one
// logical connection to a server alive across failures.
//
// The client reconnects transparently after transport errors, sends a login
// envelope and a periodic heartbeat on every new connection, buffers messages
// sent while disconnected and routes inbound envelopes to channel-keyed
// callbacks.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/wsclient"
//	    "github.com/luciancaetano/wsclient/ws"
//	)
//
//	cfg := ws.DefaultConfig()
//	cfg.AgentType = wsclient.AgentTypeWeb
//	cfg.AgentText = "web"
//	cfg.Framing = true
//	cfg.SkipReconnectCodes = []int{19014}
//	cfg.OnDisconnect = func(code int) {
//	    log.Printf("server closed the session with code %d", code)
//	}
//
//	client := ws.New(cfg)
//	client.Subscribe("a1001", wsclient.NewCallback(func(msg *wsclient.Envelope) {
//	    log.Printf("login response: %d %s", msg.Code, msg.Message)
//	}), false)
//	client.Open("ws://127.0.0.1:8036/ws/index", credentials)
//
// # Protocol Format
//
// With framing enabled every outbound message carries a big-endian header:
//
//	[4 bytes: total length][2 bytes: command][1 byte: agent type][1 byte: flag]
//	[4 bytes: sequence][4 bytes: CRC32 of payload][4 bytes: client code, optional]
//	[N bytes: UTF-8 JSON payload]
//
// The header is 16 bytes, or 20 bytes when the client code variant is
// configured. Without framing the JSON text is sent as-is.
//
// The literal texts "ping" and "pong" are heartbeat sentinels and bypass JSON.
//
// # Dispatch
//
// Inbound JSON objects with a numeric "code" field are parsed into Envelopes.
// The value of a configurable field (bizCode by default, requestId in some
// deployments) selects the channel. Call-once callbacks are removed after
// their first invocation; durable callbacks stay registered. A callback that
// panics does not prevent the other callbacks of the same dispatch from
// running.
//
// # Reconnection
//
// A failed dial or a dropped connection schedules one reconnect after a fixed
// delay. If the last response code received from the server is in the
// suppression set, a dropped connection is final and OnDisconnect is called
// with that code. Close cancels any scheduled reconnect.
//
// # Important
//
//   - Subscriptions are identified by *Callback pointer, not by function value
//   - Callbacks run on the connection's read goroutine; do not block in them
//   - Messages buffered while disconnected carry the sequence number they
//     were encoded with
package wsclient
