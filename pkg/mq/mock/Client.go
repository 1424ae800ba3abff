// Package mock provides a recording mq.ClientInterface for tests.
package mock

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/irrigation-dashboard/pkg/mq"
)

// MockClient records calls and returns configured results.
type MockClient struct {
	mu sync.Mutex

	// PushFunc overrides Push; when nil Push returns PushError.
	PushFunc  func(ctx context.Context, data []byte) error
	PushError error
	pushed    [][]byte

	// UnsafePushError is returned by UnsafePush.
	UnsafePushError error
	unsafePushed    [][]byte

	// Deliveries is returned by Consume together with ConsumeError.
	Deliveries   chan amqp.Delivery
	ConsumeError error
	consumeCalls int

	CloseError error
	closeCalls int
}

// NewMockClient creates a MockClient that accepts every message.
func NewMockClient() *MockClient {
	return &MockClient{Deliveries: make(chan amqp.Delivery, 16)}
}

// Push implements mq.ClientInterface.
func (m *MockClient) Push(ctx context.Context, data []byte) error {
	m.mu.Lock()
	m.pushed = append(m.pushed, append([]byte(nil), data...))
	fn, err := m.PushFunc, m.PushError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, data)
	}
	return err
}

// UnsafePush implements mq.ClientInterface.
func (m *MockClient) UnsafePush(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsafePushed = append(m.unsafePushed, append([]byte(nil), data...))
	return m.UnsafePushError
}

// Consume implements mq.ClientInterface.
func (m *MockClient) Consume() (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumeCalls++
	if m.ConsumeError != nil {
		return nil, m.ConsumeError
	}
	return m.Deliveries, nil
}

// Close implements mq.ClientInterface.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return m.CloseError
}

// Pushed returns copies of every message passed to Push.
func (m *MockClient) Pushed() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.pushed...)
}

// UnsafePushed returns copies of every message passed to UnsafePush.
func (m *MockClient) UnsafePushed() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.unsafePushed...)
}

// ConsumeCalls returns how often Consume was called.
func (m *MockClient) ConsumeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumeCalls
}

// CloseCalls returns how often Close was called.
func (m *MockClient) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

// Reset forgets recorded calls.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushed = nil
	m.unsafePushed = nil
	m.consumeCalls = 0
	m.closeCalls = 0
}

var _ mq.ClientInterface = (*MockClient)(nil)
