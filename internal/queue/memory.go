package queue

import (
	"context"
	"sync"
)

// Memory is an in-process Client. Nacked messages with requeue set are put
// back on the queue flagged as redelivered.
type Memory struct {
	ch chan memMsg

	mu      sync.Mutex
	acked   [][]byte
	dropped [][]byte
	closed  bool
}

type memMsg struct {
	body        []byte
	redelivered bool
}

func NewMemory(size int) *Memory {
	return &Memory{ch: make(chan memMsg, size)}
}

func (m *Memory) Publish(ctx context.Context, body []byte) error {
	return m.push(ctx, memMsg{body: body})
}

func (m *Memory) push(ctx context.Context, msg memMsg) error {
	select {
	case m.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Consume(ctx context.Context) (<-chan *Delivery, error) {
	out := make(chan *Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-m.ch:
				if !ok {
					return
				}
				d := NewDelivery(msg.body, msg.redelivered,
					func() error { m.record(&m.acked, msg.body); return nil },
					func(requeue bool) error {
						if requeue {
							return m.push(context.Background(), memMsg{body: msg.body, redelivered: true})
						}
						m.record(&m.dropped, msg.body)
						return nil
					},
				)
				select {
				case out <- d:
				case <-ctx.Done():
					// never handed out, so it goes back like an unacked broker message
					_ = m.push(context.Background(), msg)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *Memory) record(dst *[][]byte, body []byte) {
	m.mu.Lock()
	*dst = append(*dst, body)
	m.mu.Unlock()
}

// Acked returns the bodies acknowledged so far.
func (m *Memory) Acked() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.acked...)
}

// Dropped returns the bodies rejected without requeue.
func (m *Memory) Dropped() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.dropped...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
	return nil
}
