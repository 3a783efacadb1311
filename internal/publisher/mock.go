package publisher

import (
	"context"
	"sync"
)

// MockPublisher records published messages in memory. It is safe for concurrent use.
type MockPublisher struct {
	mu        sync.Mutex
	published []PublishedMessage
	err       error
	topicID   string
	closed    bool
}

// PublishedMessage is one message captured by MockPublisher
type PublishedMessage struct {
	Data       interface{}
	Attributes map[string]string
}

// NewMockPublisher creates a new MockPublisher
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		published: make([]PublishedMessage, 0),
		topicID:   "mock-topic",
	}
}

func (m *MockPublisher) TopicID() string {
	return m.topicID
}

// Publish records the message and returns a mock message ID
func (m *MockPublisher) Publish(ctx context.Context, data interface{}, attributes map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return "", m.err
	}

	m.published = append(m.published, PublishedMessage{
		Data:       data,
		Attributes: attributes,
	})

	return "mock-message-id", nil
}

// Close implements the Publisher interface
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called
func (m *MockPublisher) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GetPublished returns a copy of all published messages
func (m *MockPublisher) GetPublished() []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PublishedMessage, len(m.published))
	copy(out, m.published)
	return out
}

// LastPublished returns the last published message or nil if none exists
func (m *MockPublisher) LastPublished() *PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.published) == 0 {
		return nil
	}
	msg := m.published[len(m.published)-1]
	return &msg
}

// Reset clears all published messages and errors
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = m.published[:0]
	m.err = nil
}

// SetError sets an error to be returned by subsequent Publish calls
func (m *MockPublisher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
