// Package pending buffers encoded outbound messages while the client has no
// open connection.
package pending

import (
	"context"
	"sync"
)

// Queue is a FIFO of encoded messages.
type Queue interface {
	// Push appends buf to the end of the queue
	Push(ctx context.Context, buf []byte) error
	// Flush returns every buffered message in insertion order and empties
	// the queue
	Flush(ctx context.Context) ([][]byte, error)
	// Requeue puts bufs back at the head of the queue in order, ahead of
	// anything pushed after they were flushed
	Requeue(ctx context.Context, bufs [][]byte) error
	// Clear discards every buffered message
	Clear(ctx context.Context) error
	// Len returns the number of buffered messages
	Len(ctx context.Context) (int, error)
}

// Memory is an in-process Queue. The zero value is ready to use.
type Memory struct {
	mu   sync.Mutex
	bufs [][]byte
}

// NewMemory creates an empty in-process queue.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Push(ctx context.Context, buf []byte) error {
	m.mu.Lock()
	m.bufs = append(m.bufs, buf)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Flush(ctx context.Context) ([][]byte, error) {
	m.mu.Lock()
	bufs := m.bufs
	m.bufs = nil
	m.mu.Unlock()
	return bufs, nil
}

func (m *Memory) Requeue(ctx context.Context, bufs [][]byte) error {
	if len(bufs) == 0 {
		return nil
	}
	m.mu.Lock()
	m.bufs = append(append(make([][]byte, 0, len(bufs)+len(m.bufs)), bufs...), m.bufs...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.bufs = nil
	m.mu.Unlock()
	return nil
}

func (m *Memory) Len(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bufs), nil
}
