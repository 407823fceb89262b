package queue

import (
	"context"
	"sync"
)

// Memory is a process-local queue. It suits tests, the convert command and
// single-process development where no broker is available.
type Memory struct {
	mu       sync.Mutex
	messages [][]byte
	notify   chan struct{}
	closed   bool
}

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{notify: make(chan struct{}, 1)}
}

func (m *Memory) Publish(_ context.Context, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.messages = append(m.messages, append([]byte(nil), body...))
	m.signal()
	return nil
}

func (m *Memory) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Memory) pop() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return nil, false
	}
	body := m.messages[0]
	m.messages = m.messages[1:]
	return body, true
}

// Consume delivers messages in publish order. Messages whose handler asks
// for a retry are appended to the back of the queue.
func (m *Memory) Consume(ctx context.Context, handle Handler) error {
	for {
		for {
			body, ok := m.pop()
			if !ok {
				break
			}
			if err := handle(ctx, body); ShouldRetry(err) {
				if perr := m.Publish(ctx, body); perr != nil {
					return perr
				}
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.notify:
		}
	}
}

// Messages returns a copy of the pending message bodies.
func (m *Memory) Messages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
