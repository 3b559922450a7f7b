package websocket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const waitTimeout = 2 * time.Second

var errFakeClosed = errors.New("fake connection closed")

type fakeMsg struct {
	typ  int
	data []byte
}

// fakeConn is an in-memory Conn. Messages pushed by the test are returned
// by ReadMessage, writes are recorded.
type fakeConn struct {
	in        chan fakeMsg
	written   chan fakeMsg
	closed    chan struct{}
	closeOnce sync.Once
	failWrite atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan fakeMsg, 64),
		written: make(chan fakeMsg, 256),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-f.closed:
		return 0, nil, errFakeClosed
	default:
	}
	select {
	case m := <-f.in:
		return m.typ, m.data, nil
	case <-f.closed:
		return 0, nil, errFakeClosed
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errFakeClosed
	default:
	}
	if f.failWrite.Load() {
		return errors.New("write failed")
	}
	f.written <- fakeMsg{typ: messageType, data: append([]byte(nil), data...)}
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// pushText delivers a text message to the client
func (f *fakeConn) pushText(text string) {
	f.in <- fakeMsg{typ: TextMessage, data: []byte(text)}
}

// nextWrite waits for the next message written by the client
func (f *fakeConn) nextWrite(t *testing.T) fakeMsg {
	t.Helper()
	select {
	case m := <-f.written:
		return m
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a write")
		return fakeMsg{}
	}
}

// noWrite asserts nothing is written within d
func (f *fakeConn) noWrite(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case m := <-f.written:
		t.Fatalf("unexpected write %q", m.data)
	case <-time.After(d):
	}
}

// fakeDialer hands out fakeConns and can fail or block dials
type fakeDialer struct {
	mu    sync.Mutex
	fail  int
	gate  chan struct{}
	dials atomic.Int32
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.dials.Add(1)

	d.mu.Lock()
	gate := d.gate
	failing := d.fail > 0
	if failing {
		d.fail--
	}
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if failing {
		return nil, errors.New("connection refused")
	}

	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

// next waits for the next established connection
func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a dial")
		return nil
	}
}

// newTestClient builds a client on a fake dialer with short timers and a
// private metrics registry
func newTestClient(t *testing.T, mutate func(cfg *Config)) (*Client, *fakeDialer) {
	t.Helper()

	dialer := newFakeDialer()
	cfg := DefaultConfig()
	cfg.Dialer = dialer
	cfg.ReconnectDelay = 50 * time.Millisecond
	cfg.HeartbeatInterval = time.Hour
	cfg.Metrics = &MetricsConfig{Registry: prometheus.NewRegistry()}
	if mutate != nil {
		mutate(cfg)
	}

	c := NewClient(cfg)
	t.Cleanup(func() { c.Close() })
	return c, dialer
}

// eventually polls cond until it holds or the wait times out
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
