package broker

import (
	"context"
	"sync"
)

// MemBroker is an in-process Broker used in tests: publishes fan out to
// every open Consume channel, mirroring the fanout-exchange semantics of
// AMQPBroker without a running broker.
type MemBroker struct {
	mu        sync.Mutex
	consumers []chan Delivery
	queue     []Delivery
	closed    bool
}

// NewMemBroker returns an empty in-memory broker.
func NewMemBroker() *MemBroker {
	return &MemBroker{}
}

func (m *MemBroker) Publish(_ context.Context, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	d := Delivery{
		Body: body,
		Ack:  func() error { return nil },
		Nack: func(bool) error { return nil },
	}
	if len(m.consumers) == 0 {
		m.queue = append(m.queue, d)
		return nil
	}
	for _, c := range m.consumers {
		c <- d
	}
	return nil
}

func (m *MemBroker) Consume(ctx context.Context, _ int) (<-chan Delivery, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	ch := make(chan Delivery, 64)
	m.consumers = append(m.consumers, ch)
	backlog := m.queue
	m.queue = nil
	m.mu.Unlock()

	go func() {
		for _, d := range backlog {
			ch <- d
		}
	}()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, c := range m.consumers {
			if c == ch {
				m.consumers = append(m.consumers[:i], m.consumers[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

func (m *MemBroker) QueueDepth(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue), nil
}

func (m *MemBroker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, c := range m.consumers {
		close(c)
	}
	m.consumers = nil
	return nil
}
